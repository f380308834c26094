// Package cfdi contiene el modelo del Comprobante Fiscal Digital por Internet 4.0,
// el cálculo de impuestos y las reglas de armado previas al timbrado.
// No depende de infraestructura: la serialización XML vive en infrastructure/cfdi.
package cfdi

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind tipo de comprobante (c_TipoDeComprobante).
type Kind string

const (
	KindIncome  Kind = "I"
	KindEgress  Kind = "E"
	KindPayment Kind = "P"
)

// Valid indica si el tipo es uno de los soportados por el motor.
func (k Kind) Valid() bool {
	return k == KindIncome || k == KindEgress || k == KindPayment
}

// Factor tipo de factor de un impuesto.
type Factor string

const (
	FactorRate   Factor = "Tasa"
	FactorExempt Factor = "Exento"
)

// TaxRate tasa simple de un concepto (ratio 0..1).
type TaxRate struct {
	Code        string // 001 ISR, 002 IVA, 003 IEPS
	Exempt      bool
	Rate        decimal.Decimal
	Withholding bool
}

// LineTax impuesto explícito de un concepto. Base vacía = importe del concepto menos descuento.
type LineTax struct {
	Code        string
	Factor      Factor
	Rate        decimal.Decimal
	Base        *decimal.Decimal
	Withholding bool
}

// LineItem concepto del comprobante tal como lo entrega el colaborador.
type LineItem struct {
	ProductCode    string // ClaveProdServ (8 dígitos)
	UnitCode       string // ClaveUnidad
	Unit           string // Unidad (texto libre, opcional)
	Identification string // NoIdentificacion
	Description    string
	Quantity       decimal.Decimal
	UnitValue      *decimal.Decimal // nil = ausente (error de validación)
	Discount       decimal.Decimal
	Taxes          []LineTax // lista estructurada; tiene prioridad sobre Rates
	Rates          []TaxRate
	Taxable        bool   // marca explícita de objeto de impuesto
	TaxObject      string // 01/02/03; vacío = derivado
}

// Amount importe del concepto: cantidad × valor unitario a 2 decimales.
func (l LineItem) Amount() decimal.Decimal {
	if l.UnitValue == nil {
		return decimal.Zero
	}
	return l.Quantity.Mul(*l.UnitValue).Round(2)
}

// TaxBase importe menos descuento.
func (l LineItem) TaxBase() decimal.Decimal {
	return l.Amount().Sub(l.Discount.Round(2))
}

// ResolvedTaxObject ObjetoImp efectivo: el explícito, o 02 si alguna tasa es
// distinta de cero o la línea está marcada como gravable, o 01.
func (l LineItem) ResolvedTaxObject() string {
	if l.TaxObject != "" {
		return l.TaxObject
	}
	if l.Taxable || len(l.Taxes) > 0 {
		return "02"
	}
	for _, r := range l.Rates {
		if r.Exempt || !r.Rate.IsZero() {
			return "02"
		}
	}
	return "01"
}

// Party emisor o receptor.
type Party struct {
	RFC        string
	Name       string
	Regime     string
	PostalCode string
}

// Receiver receptor con su uso de CFDI.
type Receiver struct {
	Party
	Usage string
}

// Relation nodo CfdiRelacionados.
type Relation struct {
	Type  string // c_TipoRelacion
	UUIDs []string
}

// GlobalInformation nodo InformacionGlobal (factura a público en general).
type GlobalInformation struct {
	Periodicity string
	Month       string
	Year        int
}

// PaidDocument DoctoRelacionado de un pago.
type PaidDocument struct {
	UUID            string
	Series          string
	Folio           string
	Currency        string
	Equivalence     decimal.Decimal // EquivalenciaDR; cero = 1
	Installment     int
	PreviousBalance decimal.Decimal
	Paid            decimal.Decimal
	Remaining       decimal.Decimal
	TaxObject       string
	TransferRates   []TaxRate // tasas trasladadas del documento pagado (ImpuestosDR)
	Transferred     []TaxEntry
}

// Payment nodo pago20:Pago.
type Payment struct {
	Date         time.Time
	Form         string
	Currency     string
	ExchangeRate decimal.Decimal // cero = 1 para MXN
	Amount       decimal.Decimal
	Operation    string // NumOperacion
	Documents    []PaidDocument
	Transferred  []TaxAggregate // ImpuestosP, en la moneda del pago
}

// PaymentTotals nodo pago20:Totales.
type PaymentTotals struct {
	TransferBaseIVA16 decimal.Decimal
	TransferTaxIVA16  decimal.Decimal
	TransferBaseIVA0  decimal.Decimal
	TransferExemptIVA decimal.Decimal
	HasIVA16          bool
	HasIVA0           bool
	HasExempt         bool
	TotalAmount       decimal.Decimal // MontoTotalPagos
}

// Line concepto ya resuelto con su desglose.
type Line struct {
	Item        LineItem
	Amount      decimal.Decimal
	Base        decimal.Decimal
	TaxObject   string
	Transferred []TaxEntry
	Withheld    []TaxEntry

	ExemptFallback bool
}

// Document comprobante armado y validado, listo para serializar.
type Document struct {
	Kind            Kind
	Series          string
	Folio           string
	IssuedAt        time.Time
	ExpeditionPlace string
	Currency        string
	ExchangeRate    decimal.Decimal
	PaymentMethod   string
	PaymentForm     string
	PaymentTerms    string
	Export          string

	Issuer   Party
	Receiver Receiver

	Relations []Relation
	Global    *GlobalInformation

	Lines []Line

	SubTotal         decimal.Decimal
	Discount         decimal.Decimal
	Total            decimal.Decimal
	Transferred      []TaxAggregate
	Withheld         []TaxAggregate
	TotalTransferred decimal.Decimal
	TotalWithheld    decimal.Decimal

	Payments      []Payment
	PaymentTotals *PaymentTotals
}

// RelatedUUIDs folios fiscales referenciados por el comprobante (CfdiRelacionados y pagos).
func (d *Document) RelatedUUIDs() []string {
	seen := map[string]bool{}
	var out []string
	add := func(u string) {
		if u != "" && !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	for _, r := range d.Relations {
		for _, u := range r.UUIDs {
			add(u)
		}
	}
	for _, p := range d.Payments {
		for _, doc := range p.Documents {
			add(doc.UUID)
		}
	}
	return out
}

// BuildInput datos normalizados que entrega el colaborador.
type BuildInput struct {
	Kind            Kind
	Series          string
	Folio           string
	IssuedAt        time.Time
	ExpeditionPlace string // vacío = código postal del emisor
	Currency        string // vacío = moneda por defecto del emisor
	DefaultCurrency string // moneda local del emisor (MXN si vacío)
	ExchangeRate    decimal.Decimal
	PaymentMethod   string
	PaymentForm     string
	PaymentTerms    string

	Issuer   Party
	Receiver Receiver

	Relations []Relation
	Global    *GlobalInformation
	Lines     []LineItem
	Payments  []Payment
}

// CertificationResult respuesta del PAC.
type CertificationResult struct {
	UUID      string
	XML       []byte
	Ack       []byte
	StampedAt time.Time
}

// ExemptFallbackLines índices de conceptos declarados Exento por falta de tasas.
func (d *Document) ExemptFallbackLines() []int {
	var out []int
	for i, l := range d.Lines {
		if l.ExemptFallback {
			out = append(out, i)
		}
	}
	return out
}
