package sat

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Persona moral: 3 letras + fecha (6) + homoclave (3). Persona física: 4 letras + fecha + homoclave.
var rfcPattern = regexp.MustCompile(`^[A-ZÑ&]{3,4}[0-9]{6}[A-Z0-9]{3}$`)

var (
	postalCodePattern = regexp.MustCompile(`^[0-9]{5}$`)
	productPattern    = regexp.MustCompile(`^[0-9]{8}$`)
	unitPattern       = regexp.MustCompile(`^[A-Z0-9]{1,3}$`)
	uuidPattern       = regexp.MustCompile(`^[0-9A-Fa-f]{8}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{4}-[0-9A-Fa-f]{12}$`)
)

// NormalizeRFC elimina espacios/guiones y pasa a mayúsculas.
func NormalizeRFC(rfc string) string {
	return strings.ToUpper(strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(rfc)))
}

// ValidateRFC valida la estructura del RFC (no consulta la lista de contribuyentes del SAT).
func ValidateRFC(rfc string) error {
	n := NormalizeRFC(rfc)
	if !rfcPattern.MatchString(n) {
		return fmt.Errorf("sat: RFC %q con estructura inválida", rfc)
	}
	return nil
}

// IsGenericRFC indica si el RFC es uno de los dos receptores genéricos.
func IsGenericRFC(rfc string) bool {
	n := NormalizeRFC(rfc)
	return n == RFCGenericPublic || n == RFCGenericForeign
}

// IsPostalCode valida un código postal de 5 dígitos.
func IsPostalCode(s string) bool { return postalCodePattern.MatchString(strings.TrimSpace(s)) }

// IsProductCode valida una ClaveProdServ de 8 dígitos.
func IsProductCode(s string) bool { return productPattern.MatchString(strings.TrimSpace(s)) }

// IsUnitCode valida una ClaveUnidad (alfanumérica corta, ej. H87, E48, KGM).
func IsUnitCode(s string) bool { return unitPattern.MatchString(strings.TrimSpace(s)) }

// IsUUID valida el formato de un folio fiscal.
func IsUUID(s string) bool { return uuidPattern.MatchString(strings.TrimSpace(s)) }

// NormalizeName deja la razón social como la espera el SAT en CFDI 4.0:
// mayúsculas, espacios colapsados. Los acentos se conservan (la constancia los trae).
func NormalizeName(name string) string {
	upper := cases.Upper(language.Spanish).String(strings.TrimSpace(name))
	return strings.Join(strings.Fields(upper), " ")
}

// FoldName compara nombres sin acentos ni mayúsculas (para detectar "Público en General").
func FoldName(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, NormalizeName(name))
	if err != nil {
		return NormalizeName(name)
	}
	return out
}
