package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Estados del ciclo de vida de un comprobante en el registro.
const (
	DocumentStateToStamp  = "to_stamp"  // Creado antes del envío al PAC
	DocumentStateStamped  = "stamped"   // UUID obtenido; XML timbrado durable
	DocumentStateToCancel = "to_cancel" // Cancelación en curso
	DocumentStateCanceled = "canceled"  // Cancelado (aunque el PAC haya degradado)
)

// Document entrada del registro de comprobantes: relaciona el registro de origen
// del colaborador con el folio fiscal y el XML timbrado.
type Document struct {
	ID           string
	IssuerID     string
	OriginModel  string // ej. "sale.invoice", "credit.payment"
	OriginID     string
	Kind         string // I, E, P
	UUID         string // vacío hasta el timbrado
	State        string
	XML          []byte // XML timbrado; nil hasta el timbrado
	Digest       string // SHA-256 de la forma canónica del XML enviado
	RelatedUUIDs []string
	Series       string
	Folio        string
	Total        decimal.Decimal
	IssuedAt     time.Time
	StampedAt    *time.Time
	CanceledAt   *time.Time
	CancelReason string
	Replacement  string
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsStamped indica si el comprobante ya tiene folio fiscal.
func (d *Document) IsStamped() bool {
	return d.UUID != "" && d.State == DocumentStateStamped
}

// References indica si el comprobante referencia el UUID dado.
func (d *Document) References(uuid string) bool {
	for _, u := range d.RelatedUUIDs {
		if u == uuid {
			return true
		}
	}
	return false
}

// DocumentFilter filtros del listado del registro.
type DocumentFilter struct {
	IssuerID    string
	State       string
	Kind        string
	OriginModel string
	OriginID    string
	UUID        string
	From        *time.Time
	To          *time.Time
	Limit       uint64
	Offset      uint64
}
