package cfdi

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/cfdi-engine/pkg/sat"
)

// Concepto único del comprobante de pago (Guía de llenado Pagos 2.0).
const (
	paymentProductCode = "84111506"
	paymentUnitCode    = "ACT"
	paymentDescription = "Pago"
)

// Builder arma y valida un Document. No hace llamadas de red.
type Builder struct {
	// GenericZipFromExpedition usa el LugarExpedicion como DomicilioFiscalReceptor
	// para XAXX010101000 en lugar del literal 99999.
	GenericZipFromExpedition bool
	Now                      func() time.Time
}

// NewBuilder crea el builder.
func NewBuilder(genericZipFromExpedition bool) *Builder {
	return &Builder{GenericZipFromExpedition: genericZipFromExpedition, Now: time.Now}
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// Build valida el input completo y devuelve el comprobante con totales calculados.
// Todas las violaciones se reportan juntas en un *ValidationError.
func (b *Builder) Build(in BuildInput) (*Document, error) {
	var p problems
	if !in.Kind.Valid() {
		p.addf("TipoDeComprobante %q no soportado (I, E o P)", in.Kind)
		return nil, p.err()
	}

	issuer := Party{
		RFC:        sat.NormalizeRFC(in.Issuer.RFC),
		Name:       sat.NormalizeName(in.Issuer.Name),
		Regime:     strings.TrimSpace(in.Issuer.Regime),
		PostalCode: strings.TrimSpace(in.Issuer.PostalCode),
	}
	validateIssuer(issuer, &p)

	expedition := strings.TrimSpace(in.ExpeditionPlace)
	if expedition == "" {
		expedition = issuer.PostalCode
	} else if !sat.IsPostalCode(expedition) {
		p.addf("LugarExpedicion %q inválido (5 dígitos)", expedition)
	}

	issuedAt := in.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = b.now()
	}
	issuedAt = issuedAt.Truncate(time.Second)

	doc := &Document{
		Kind:            in.Kind,
		Series:          strings.TrimSpace(in.Series),
		Folio:           strings.TrimSpace(in.Folio),
		IssuedAt:        issuedAt,
		ExpeditionPlace: expedition,
		Export:          sat.ExportNotApplies,
		Issuer:          issuer,
		Relations:       in.Relations,
	}

	doc.Receiver = b.resolveReceiver(in, expedition, &p)
	validateUsage(in.Kind, strings.TrimSpace(in.Receiver.Usage), &p)
	validatePaymentTerms(in, &p)
	validateRelations(in.Relations, &p)

	local := in.DefaultCurrency
	if local == "" {
		local = sat.CurrencyMXN
	}

	if in.Kind == KindPayment {
		b.buildPayment(doc, in, local, &p)
		if err := p.err(); err != nil {
			return nil, err
		}
		return doc, nil
	}

	doc.PaymentMethod = in.PaymentMethod
	doc.PaymentForm = in.PaymentForm
	doc.PaymentTerms = strings.TrimSpace(in.PaymentTerms)
	doc.Currency = in.Currency
	if doc.Currency == "" {
		doc.Currency = local
	}
	if doc.Currency == sat.CurrencyNotApplies {
		p.addf("Moneda %s solo aplica a comprobantes de pago", sat.CurrencyNotApplies)
	}
	if doc.Currency != local {
		if !in.ExchangeRate.IsPositive() {
			p.addf("TipoCambio requerido para moneda %s (moneda local %s)", doc.Currency, local)
		}
		doc.ExchangeRate = in.ExchangeRate
	}

	doc.Global = in.Global
	if doc.Global == nil && in.Kind == KindIncome && doc.Receiver.RFC == sat.RFCGenericPublic {
		doc.Global = &GlobalInformation{
			Periodicity: sat.PeriodicityDaily,
			Month:       fmt.Sprintf("%02d", int(issuedAt.Month())),
			Year:        issuedAt.Year(),
		}
	}
	if doc.Global != nil && (doc.Global.Periodicity == "" || doc.Global.Month == "" || doc.Global.Year == 0) {
		p.addf("InformacionGlobal incompleta (Periodicidad, Meses y Año)")
	}

	validateLines(in.Lines, &p)
	if err := p.err(); err != nil {
		return nil, err
	}

	summary, err := AggregateTaxes(in.Lines)
	if err != nil {
		return nil, err
	}
	b.applyTotals(doc, in.Lines, summary)
	return doc, nil
}

// resolveReceiver aplica la rama de receptores genéricos o valida el receptor.
func (b *Builder) resolveReceiver(in BuildInput, expedition string, p *problems) Receiver {
	rfc := sat.NormalizeRFC(in.Receiver.RFC)
	r := Receiver{
		Party: Party{
			RFC:        rfc,
			Name:       sat.NormalizeName(in.Receiver.Name),
			Regime:     strings.TrimSpace(in.Receiver.Regime),
			PostalCode: strings.TrimSpace(in.Receiver.PostalCode),
		},
		Usage: strings.TrimSpace(in.Receiver.Usage),
	}
	if in.Kind == KindPayment && r.Usage == "" {
		r.Usage = sat.UsagePayments
	}

	switch rfc {
	case sat.RFCGenericPublic:
		r.Name = sat.GenericName
		r.Regime = sat.RegimeNoObligations
		r.PostalCode = sat.GenericPostalCode
		if b.GenericZipFromExpedition {
			r.PostalCode = expedition
		}
	case sat.RFCGenericForeign:
		r.Name = sat.GenericName
		r.Regime = sat.RegimeNoObligations
		if !sat.IsPostalCode(r.PostalCode) {
			r.PostalCode = expedition
		}
	default:
		validateReceiver(r, p)
	}
	return r
}

// applyTotals copia el desglose al documento y calcula SubTotal, Descuento y Total.
func (b *Builder) applyTotals(doc *Document, items []LineItem, s TaxSummary) {
	subTotal, discount := decimal.Zero, decimal.Zero
	doc.Lines = make([]Line, 0, len(items))
	for i, item := range items {
		lt := s.Lines[i]
		amount := item.Amount()
		subTotal = subTotal.Add(amount)
		discount = discount.Add(item.Discount.Round(2))
		doc.Lines = append(doc.Lines, Line{
			Item:        item,
			Amount:      amount,
			Base:        lt.Base,
			TaxObject:   lt.TaxObject,
			Transferred: lt.Transferred,
			Withheld:    lt.Withheld,

			ExemptFallback: lt.ExemptFallback,
		})
	}
	doc.SubTotal = subTotal
	doc.Discount = discount
	doc.Transferred = s.Transferred
	doc.Withheld = s.Withheld
	doc.TotalTransferred = s.TotalTransferred()
	doc.TotalWithheld = s.TotalWithheld()
	doc.Total = subTotal.Sub(discount).Add(doc.TotalTransferred).Sub(doc.TotalWithheld)
}

// buildPayment fija los valores del comprobante de pago y calcula el complemento.
func (b *Builder) buildPayment(doc *Document, in BuildInput, local string, p *problems) {
	doc.Currency = sat.CurrencyNotApplies
	doc.SubTotal = decimal.Zero
	doc.Total = decimal.Zero
	doc.Discount = decimal.Zero
	doc.Receiver.Usage = sat.UsagePayments

	zero := decimal.Zero
	doc.Lines = []Line{{
		Item: LineItem{
			ProductCode: paymentProductCode,
			UnitCode:    paymentUnitCode,
			Description: paymentDescription,
			Quantity:    one,
			UnitValue:   &zero,
			TaxObject:   sat.TaxObjectNo,
		},
		Amount:    decimal.Zero,
		Base:      decimal.Zero,
		TaxObject: sat.TaxObjectNo,
	}}

	validatePayments(in.Payments, local, p)
	if len(*p) > 0 {
		return
	}

	totals := &PaymentTotals{
		TransferBaseIVA16: decimal.Zero, TransferTaxIVA16: decimal.Zero,
		TransferBaseIVA0: decimal.Zero, TransferExemptIVA: decimal.Zero,
		TotalAmount: decimal.Zero,
	}
	iva16 := decimal.NewFromFloat(0.16).StringFixed(6)
	iva0 := decimal.Zero.StringFixed(6)

	doc.Payments = make([]Payment, 0, len(in.Payments))
	for _, pay := range in.Payments {
		if !pay.ExchangeRate.IsPositive() {
			pay.ExchangeRate = one
		}
		pay.Documents = append([]PaidDocument(nil), pay.Documents...)
		byKey := map[TaxKey]*TaxAggregate{}
		for j := range pay.Documents {
			d := &pay.Documents[j]
			if d.Currency == "" {
				d.Currency = pay.Currency
			}
			if !d.Equivalence.IsPositive() {
				d.Equivalence = one
			}
			if d.TaxObject == "" {
				d.TaxObject = sat.TaxObjectNo
				if len(d.TransferRates) > 0 {
					d.TaxObject = sat.TaxObjectYes
				}
			}
			if d.TaxObject != sat.TaxObjectYes {
				continue
			}
			d.Transferred = paidDocumentTaxes(*d)
			for _, e := range d.Transferred {
				// ImpuestosP se expresa en la moneda del pago.
				converted := TaxEntry{
					Code: e.Code, Factor: e.Factor, Rate: e.Rate,
					Base:   e.Base.Div(d.Equivalence).Round(2),
					Amount: e.Amount.Div(d.Equivalence).Round(2),
				}
				accumulate(byKey, e.Key(), converted)
			}
		}
		pay.Transferred = sortedAggregates(byKey)

		for _, agg := range pay.Transferred {
			if agg.Code != sat.TaxIVA {
				continue
			}
			base := agg.Base.Mul(pay.ExchangeRate).Round(2)
			switch {
			case agg.Factor == FactorExempt:
				totals.HasExempt = true
				totals.TransferExemptIVA = totals.TransferExemptIVA.Add(base)
			case agg.Rate == iva16:
				totals.HasIVA16 = true
				totals.TransferBaseIVA16 = totals.TransferBaseIVA16.Add(base)
				totals.TransferTaxIVA16 = totals.TransferTaxIVA16.Add(agg.Amount.Mul(pay.ExchangeRate).Round(2))
			case agg.Rate == iva0:
				totals.HasIVA0 = true
				totals.TransferBaseIVA0 = totals.TransferBaseIVA0.Add(base)
			}
		}
		totals.TotalAmount = totals.TotalAmount.Add(pay.Amount.Mul(pay.ExchangeRate).Round(2))
		doc.Payments = append(doc.Payments, pay)
	}
	doc.PaymentTotals = totals
}

// paidDocumentTaxes desglosa el ImpPagado en base e impuesto por cada tasa trasladada.
func paidDocumentTaxes(d PaidDocument) []TaxEntry {
	sum := one
	for _, r := range d.TransferRates {
		if !r.Exempt && !r.Withholding {
			sum = sum.Add(r.Rate)
		}
	}
	base := d.Paid.Div(sum).Round(2)
	out := make([]TaxEntry, 0, len(d.TransferRates))
	for _, r := range d.TransferRates {
		if r.Withholding {
			continue
		}
		e := TaxEntry{Code: r.Code, Factor: FactorRate, Rate: r.Rate, Base: base, Amount: base.Mul(r.Rate).Round(2)}
		if r.Exempt {
			e.Factor = FactorExempt
			e.Rate = decimal.Zero
			e.Amount = decimal.Zero
		}
		out = append(out, e)
	}
	return out
}
