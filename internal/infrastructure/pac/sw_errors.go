package pac

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
)

// SW no expone un código estructurado para estos casos: se reconocen por texto.
// Si el PAC cambia la redacción, la clasificación cae en ReasonGeneric.
var (
	skewSignatures = []string{
		"vigencia del certificado",
		"cfdi40103",
		"cfdi33113",
		"fecha de emisión no está dentro de la vigencia",
		"fecha de emision no esta dentro de la vigencia",
	}
	stampSignatures = []string{"timbres", "saldo", "stamps", "créditos", "creditos"}
	validationHints = []string{
		"cfdi40", "cfdi33", "xml mal formado", "esquema", "schema", "atributo",
		"requerido", "no es válido", "inválido", "invalid", "sello",
	}
	codePattern = regexp.MustCompile(`\bCFDI\d{5}\b`)
)

// swEnvelope forma común de las respuestas de SW.
type swEnvelope struct {
	Status        string          `json:"status"`
	Message       string          `json:"message"`
	MessageDetail string          `json:"messageDetail"`
	Data          json.RawMessage `json:"data"`
}

// providerMessage texto del PAC: message + messageDetail si es JSON, si no el cuerpo recortado.
func providerMessage(body []byte) string {
	var env swEnvelope
	if err := json.Unmarshal(body, &env); err == nil {
		var alt struct {
			Message string `json:"Message"`
		}
		_ = json.Unmarshal(body, &alt)
		msg := firstNonEmpty(env.Message, alt.Message)
		if env.MessageDetail != "" && env.MessageDetail != msg {
			if msg != "" {
				msg += ": "
			}
			msg += env.MessageDetail
		}
		if msg != "" {
			return msg
		}
	}
	return truncate(strings.TrimSpace(string(body)), 500)
}

func containsAny(s string, needles []string) bool {
	s = strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// isTimeSkew reconoce el rechazo por fecha de emisión fuera de la vigencia del CSD.
func isTimeSkew(msg string) bool { return containsAny(msg, skewSignatures) }

// classify convierte una respuesta ≥400 en el error tipado correspondiente.
func classify(status int, body []byte) error {
	msg := providerMessage(body)
	if isTimeSkew(msg) {
		return &cfdi.TimeSkewError{Message: msg}
	}
	rej := &cfdi.ProviderRejection{
		Reason:  cfdi.ReasonGeneric,
		Status:  status,
		Code:    codePattern.FindString(msg),
		Message: msg,
	}
	switch {
	case status == 401 && containsAny(msg, stampSignatures):
		rej.Reason = cfdi.ReasonInsufficientStamps
	case status == 401:
		rej.Reason = cfdi.ReasonInvalidCredential
	case status == 400 && containsAny(msg, validationHints):
		rej.Reason = cfdi.ReasonValidation
	}
	return rej
}
