package cfdi

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDocument agrupa los errores de validación del comprobante.
var ErrInvalidDocument = errors.New("comprobante inválido")

// ValidationError campo obligatorio ausente o mal formado. Se detecta antes de
// cualquier llamada de red y nunca se reintenta.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cfdi: %s: %s", ErrInvalidDocument, strings.Join(e.Problems, "; "))
}

// Unwrap permite errors.Is(err, ErrInvalidDocument).
func (e *ValidationError) Unwrap() error { return ErrInvalidDocument }

// problems acumula violaciones; nil si no hubo ninguna.
type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) err() error {
	if len(p) == 0 {
		return nil
	}
	return &ValidationError{Problems: p}
}

// TransportError fallo de conexión o timeout de red al probar un endpoint. Se
// prueba el siguiente candidato; agotada la lista, es terminal.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("pac: transporte %s: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectionReason clasifica el rechazo del PAC.
type RejectionReason string

const (
	ReasonInsufficientStamps RejectionReason = "insufficient_stamps"
	ReasonInvalidCredential  RejectionReason = "invalid_credential"
	ReasonValidation         RejectionReason = "validation"
	ReasonGeneric            RejectionReason = "generic"
)

// ProviderRejection respuesta 4xx/5xx del PAC. Message conserva el texto original.
type ProviderRejection struct {
	Reason  RejectionReason
	Status  int
	Code    string
	Message string
}

func (e *ProviderRejection) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pac: rechazo %s (HTTP %d)", e.Reason, e.Status)
	if e.Code != "" {
		b.WriteString(" [" + e.Code + "]")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// TimeSkewError la fecha de emisión quedó fuera de la vigencia del certificado
// según el PAC. Dispara exactamente un reintento con la fecha recalculada.
type TimeSkewError struct {
	Message string
}

func (e *TimeSkewError) Error() string {
	return "pac: fecha de emisión fuera de vigencia del certificado: " + e.Message
}

// NotYetAvailableError la consulta no devolvió el XML dentro del presupuesto de sondeo.
type NotYetAvailableError struct {
	UUID     string
	Attempts int
	Waited   time.Duration
}

func (e *NotYetAvailableError) Error() string {
	return fmt.Sprintf("pac: CFDI %s aún no disponible tras %d intentos (%s)", e.UUID, e.Attempts, e.Waited.Round(time.Millisecond))
}

// TimeoutError el plazo del llamador venció; distinto de un rechazo del PAC.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("cfdi: plazo agotado en %s: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// IsTimeSkew indica si err (o alguno envuelto) es un TimeSkewError.
func IsTimeSkew(err error) bool {
	var ts *TimeSkewError
	return errors.As(err, &ts)
}

// IsNotYetAvailable indica si err es un NotYetAvailableError.
func IsNotYetAvailable(err error) bool {
	var ny *NotYetAvailableError
	return errors.As(err, &ny)
}
