package dto

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
)

// StampRequest body para POST /api/cfdi/stamp. El emisor sale del token; los
// datos del emisor se completan con el registro si Issuer va vacío.
type StampRequest struct {
	OriginModel     string            `json:"origin_model"`
	OriginID        string            `json:"origin_id"`
	Kind            string            `json:"kind"` // I, E, P
	Series          string            `json:"series,omitempty"`
	Folio           string            `json:"folio,omitempty"`
	IssuedAt        *time.Time        `json:"issued_at,omitempty"`
	ExpeditionPlace string            `json:"expedition_place,omitempty"`
	Currency        string            `json:"currency,omitempty"`
	ExchangeRate    decimal.Decimal   `json:"exchange_rate,omitempty"`
	PaymentMethod   string            `json:"payment_method,omitempty"`
	PaymentForm     string            `json:"payment_form,omitempty"`
	PaymentTerms    string            `json:"payment_terms,omitempty"`
	Issuer          *PartyRequest     `json:"issuer,omitempty"`
	Receiver        ReceiverRequest   `json:"receiver"`
	Relations       []RelationRequest `json:"relations,omitempty"`
	Global          *GlobalRequest    `json:"global,omitempty"`
	Lines           []LineRequest     `json:"lines,omitempty"`
	Payments        []PaymentRequest  `json:"payments,omitempty"`
}

// PartyRequest emisor o receptor.
type PartyRequest struct {
	RFC        string `json:"rfc"`
	Name       string `json:"name"`
	Regime     string `json:"regime"`
	PostalCode string `json:"postal_code"`
}

// ReceiverRequest receptor con UsoCFDI.
type ReceiverRequest struct {
	PartyRequest
	Usage string `json:"usage"`
}

// RelationRequest CfdiRelacionados.
type RelationRequest struct {
	Type  string   `json:"type"`
	UUIDs []string `json:"uuids"`
}

// GlobalRequest InformacionGlobal.
type GlobalRequest struct {
	Periodicity string `json:"periodicity"`
	Month       string `json:"month"`
	Year        int    `json:"year"`
}

// TaxRequest impuesto de un concepto. Factor vacío = Tasa.
type TaxRequest struct {
	Code        string           `json:"code"`
	Factor      string           `json:"factor,omitempty"`
	Rate        decimal.Decimal  `json:"rate"`
	Base        *decimal.Decimal `json:"base,omitempty"`
	Withholding bool             `json:"withholding,omitempty"`
}

// LineRequest concepto.
type LineRequest struct {
	ProductCode    string           `json:"product_code"`
	UnitCode       string           `json:"unit_code"`
	Unit           string           `json:"unit,omitempty"`
	Identification string           `json:"identification,omitempty"`
	Description    string           `json:"description"`
	Quantity       decimal.Decimal  `json:"quantity"`
	UnitValue      *decimal.Decimal `json:"unit_value"`
	Discount       decimal.Decimal  `json:"discount,omitempty"`
	Taxes          []TaxRequest     `json:"taxes,omitempty"`
	Taxable        bool             `json:"taxable,omitempty"`
	TaxObject      string           `json:"tax_object,omitempty"`
}

// PaidDocumentRequest documento pagado (DoctoRelacionado).
type PaidDocumentRequest struct {
	UUID            string          `json:"uuid"`
	Series          string          `json:"series,omitempty"`
	Folio           string          `json:"folio,omitempty"`
	Currency        string          `json:"currency,omitempty"`
	Equivalence     decimal.Decimal `json:"equivalence,omitempty"`
	Installment     int             `json:"installment"`
	PreviousBalance decimal.Decimal `json:"previous_balance"`
	Paid            decimal.Decimal `json:"paid"`
	TaxObject       string          `json:"tax_object,omitempty"`
	TransferRates   []TaxRequest    `json:"transfer_rates,omitempty"`
}

// PaymentRequest pago del complemento Pagos 2.0.
type PaymentRequest struct {
	Date         time.Time             `json:"date"`
	Form         string                `json:"form"`
	Currency     string                `json:"currency,omitempty"`
	ExchangeRate decimal.Decimal       `json:"exchange_rate,omitempty"`
	Amount       decimal.Decimal       `json:"amount"`
	Operation    string                `json:"operation,omitempty"`
	Documents    []PaidDocumentRequest `json:"documents"`
}

// BuildInput convierte el body al input del armado.
func (r StampRequest) BuildInput() cfdi.BuildInput {
	in := cfdi.BuildInput{
		Kind:            cfdi.Kind(strings.ToUpper(strings.TrimSpace(r.Kind))),
		Series:          r.Series,
		Folio:           r.Folio,
		ExpeditionPlace: r.ExpeditionPlace,
		Currency:        r.Currency,
		ExchangeRate:    r.ExchangeRate,
		PaymentMethod:   r.PaymentMethod,
		PaymentForm:     r.PaymentForm,
		PaymentTerms:    r.PaymentTerms,
		Receiver: cfdi.Receiver{
			Party: r.Receiver.PartyRequest.party(),
			Usage: r.Receiver.Usage,
		},
	}
	if r.IssuedAt != nil {
		in.IssuedAt = *r.IssuedAt
	}
	if r.Issuer != nil {
		in.Issuer = r.Issuer.party()
	}
	for _, rel := range r.Relations {
		in.Relations = append(in.Relations, cfdi.Relation{Type: rel.Type, UUIDs: rel.UUIDs})
	}
	if r.Global != nil {
		in.Global = &cfdi.GlobalInformation{Periodicity: r.Global.Periodicity, Month: r.Global.Month, Year: r.Global.Year}
	}
	for _, l := range r.Lines {
		in.Lines = append(in.Lines, l.item())
	}
	for _, p := range r.Payments {
		in.Payments = append(in.Payments, p.payment())
	}
	return in
}

func (p PartyRequest) party() cfdi.Party {
	return cfdi.Party{RFC: p.RFC, Name: p.Name, Regime: p.Regime, PostalCode: p.PostalCode}
}

func (l LineRequest) item() cfdi.LineItem {
	item := cfdi.LineItem{
		ProductCode:    l.ProductCode,
		UnitCode:       l.UnitCode,
		Unit:           l.Unit,
		Identification: l.Identification,
		Description:    l.Description,
		Quantity:       l.Quantity,
		UnitValue:      l.UnitValue,
		Discount:       l.Discount,
		Taxable:        l.Taxable,
		TaxObject:      l.TaxObject,
	}
	for _, t := range l.Taxes {
		factor := cfdi.FactorRate
		if strings.EqualFold(t.Factor, string(cfdi.FactorExempt)) {
			factor = cfdi.FactorExempt
		}
		item.Taxes = append(item.Taxes, cfdi.LineTax{
			Code: t.Code, Factor: factor, Rate: t.Rate, Base: t.Base, Withholding: t.Withholding,
		})
	}
	return item
}

func (p PaymentRequest) payment() cfdi.Payment {
	out := cfdi.Payment{
		Date:         p.Date,
		Form:         p.Form,
		Currency:     p.Currency,
		ExchangeRate: p.ExchangeRate,
		Amount:       p.Amount,
		Operation:    p.Operation,
	}
	for _, d := range p.Documents {
		doc := cfdi.PaidDocument{
			UUID:            strings.ToUpper(d.UUID),
			Series:          d.Series,
			Folio:           d.Folio,
			Currency:        d.Currency,
			Equivalence:     d.Equivalence,
			Installment:     d.Installment,
			PreviousBalance: d.PreviousBalance,
			Paid:            d.Paid,
			TaxObject:       d.TaxObject,
		}
		for _, t := range d.TransferRates {
			doc.TransferRates = append(doc.TransferRates, cfdi.TaxRate{
				Code: t.Code, Rate: t.Rate, Exempt: strings.EqualFold(t.Factor, string(cfdi.FactorExempt)),
			})
		}
		out.Documents = append(out.Documents, doc)
	}
	return out
}

// StampResponse respuesta del timbrado.
type StampResponse struct {
	UUID       string `json:"uuid"`
	DocumentID string `json:"document_id"`
	Reused     bool   `json:"reused"`
}

// DocumentResponse entrada del registro.
type DocumentResponse struct {
	ID           string          `json:"id"`
	IssuerID     string          `json:"issuer_id"`
	OriginModel  string          `json:"origin_model"`
	OriginID     string          `json:"origin_id"`
	Kind         string          `json:"kind"`
	UUID         string          `json:"uuid,omitempty"`
	State        string          `json:"state"`
	Series       string          `json:"series,omitempty"`
	Folio        string          `json:"folio,omitempty"`
	Total        decimal.Decimal `json:"total"`
	RelatedUUIDs []string        `json:"related_uuids,omitempty"`
	IssuedAt     time.Time       `json:"issued_at"`
	StampedAt    *time.Time      `json:"stamped_at,omitempty"`
	CanceledAt   *time.Time      `json:"canceled_at,omitempty"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	Replacement  string          `json:"replacement,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
}

// NewDocumentResponse convierte la entrada del registro (sin el XML).
func NewDocumentResponse(d *entity.Document) DocumentResponse {
	return DocumentResponse{
		ID:           d.ID,
		IssuerID:     d.IssuerID,
		OriginModel:  d.OriginModel,
		OriginID:     d.OriginID,
		Kind:         d.Kind,
		UUID:         d.UUID,
		State:        d.State,
		Series:       d.Series,
		Folio:        d.Folio,
		Total:        d.Total,
		RelatedUUIDs: d.RelatedUUIDs,
		IssuedAt:     d.IssuedAt,
		StampedAt:    d.StampedAt,
		CanceledAt:   d.CanceledAt,
		CancelReason: d.CancelReason,
		Replacement:  d.Replacement,
		LastError:    d.LastError,
	}
}

// DocumentListQuery filtros de GET /api/cfdi.
type DocumentListQuery struct {
	State       string `query:"state"`
	Kind        string `query:"kind"`
	OriginModel string `query:"origin_model"`
	OriginID    string `query:"origin_id"`
	UUID        string `query:"uuid"`
	From        string `query:"from"` // YYYY-MM-DD
	To          string `query:"to"`
	PageRequest
}

// CancelRequest body para POST /api/cfdi/:id/cancel.
type CancelRequest struct {
	Reason      string `json:"reason,omitempty"`
	Replacement string `json:"replacement,omitempty"`
}

// RecomputeHintResponse origen a recalcular tras la cancelación.
type RecomputeHintResponse struct {
	UUID        string `json:"uuid"`
	Kind        string `json:"kind,omitempty"`
	OriginModel string `json:"origin_model,omitempty"`
	OriginID    string `json:"origin_id,omitempty"`
}

// CancelResponse resultado de la cancelación.
type CancelResponse struct {
	DocumentID    string                  `json:"document_id"`
	UUID          string                  `json:"uuid"`
	State         string                  `json:"state"`
	Status        string                  `json:"status,omitempty"`
	ProviderError string                  `json:"provider_error,omitempty"`
	Recompute     []RecomputeHintResponse `json:"recompute,omitempty"`
}

// CertificateStatusResponse estado del CSD en el PAC.
type CertificateStatusResponse struct {
	RFC        string `json:"rfc"`
	Registered bool   `json:"registered"`
}

// DocumentListResponse página del registro.
type DocumentListResponse struct {
	Items []DocumentResponse `json:"items"`
	Page  PageResponse       `json:"page"`
}
