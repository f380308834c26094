package cfdi

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/cfdi-engine/pkg/sat"
)

// validateIssuer emisor: RFC, nombre, régimen y código postal.
func validateIssuer(e Party, p *problems) {
	if err := sat.ValidateRFC(e.RFC); err != nil {
		p.addf("emisor: RFC %q inválido", e.RFC)
	}
	if strings.TrimSpace(e.Name) == "" {
		p.addf("emisor: nombre requerido")
	}
	if !sat.ValidRegimes[e.Regime] {
		p.addf("emisor: régimen fiscal %q no reconocido", e.Regime)
	}
	if !sat.IsPostalCode(e.PostalCode) {
		p.addf("emisor: código postal %q inválido (5 dígitos)", e.PostalCode)
	}
}

// validateReceiver receptor no genérico: nombre, régimen y código postal obligatorios.
func validateReceiver(r Receiver, p *problems) {
	if err := sat.ValidateRFC(r.RFC); err != nil {
		p.addf("receptor: RFC %q inválido", r.RFC)
	}
	if strings.TrimSpace(r.Name) == "" {
		p.addf("receptor: nombre requerido")
	}
	if strings.TrimSpace(r.Regime) == "" {
		p.addf("receptor: régimen fiscal requerido")
	} else if !sat.ValidRegimes[r.Regime] {
		p.addf("receptor: régimen fiscal %q no reconocido", r.Regime)
	}
	if !sat.IsPostalCode(r.PostalCode) {
		p.addf("receptor: código postal requerido (5 dígitos)")
	}
}

// validateUsage UsoCFDI: obligatorio en I/E; en P solo se acepta CP01.
func validateUsage(kind Kind, usage string, p *problems) {
	if kind == KindPayment {
		if usage != "" && usage != sat.UsagePayments {
			p.addf("receptor: UsoCFDI %q no permitido en comprobante de pago (solo %s)", usage, sat.UsagePayments)
		}
		return
	}
	if usage == "" {
		p.addf("receptor: UsoCFDI requerido")
		return
	}
	if !sat.ValidUsages[usage] || usage == sat.UsagePayments {
		p.addf("receptor: UsoCFDI %q no válido para tipo %s", usage, kind)
	}
}

// validatePaymentTerms MetodoPago/FormaPago en I/E.
func validatePaymentTerms(in BuildInput, p *problems) {
	if in.Kind == KindPayment {
		if in.PaymentMethod != "" || in.PaymentForm != "" {
			p.addf("comprobante de pago: MetodoPago y FormaPago no aplican en el nodo raíz")
		}
		return
	}
	switch in.PaymentMethod {
	case sat.MethodDeferred:
		if in.PaymentForm != sat.FormToBeDefined {
			p.addf("MetodoPago PPD requiere FormaPago %s (por definir), se recibió %q", sat.FormToBeDefined, in.PaymentForm)
		}
	case sat.MethodSingle:
		if in.PaymentForm == "" || in.PaymentForm == sat.FormToBeDefined {
			p.addf("MetodoPago PUE requiere una FormaPago concreta distinta de %s", sat.FormToBeDefined)
		} else if !sat.ValidPaymentForms[in.PaymentForm] {
			p.addf("FormaPago %q no reconocida", in.PaymentForm)
		}
	default:
		p.addf("MetodoPago %q no reconocido (PUE o PPD)", in.PaymentMethod)
	}
}

// validateRelations CfdiRelacionados.
func validateRelations(rels []Relation, p *problems) {
	for i, r := range rels {
		if !sat.ValidRelationTypes[r.Type] {
			p.addf("relación %d: TipoRelacion %q no reconocido", i+1, r.Type)
		}
		if len(r.UUIDs) == 0 {
			p.addf("relación %d: requiere al menos un UUID", i+1)
		}
		for _, u := range r.UUIDs {
			if !sat.IsUUID(u) {
				p.addf("relación %d: UUID %q inválido", i+1, u)
			}
		}
	}
}

// validateLines reglas por concepto; el mensaje nombra el índice (base 1).
func validateLines(lines []LineItem, p *problems) {
	if len(lines) == 0 {
		p.addf("el comprobante requiere al menos un concepto")
		return
	}
	for i, l := range lines {
		n := i + 1
		if !sat.IsProductCode(l.ProductCode) {
			p.addf("concepto %d: ClaveProdServ requerida (8 dígitos)", n)
		}
		if !sat.IsUnitCode(l.UnitCode) {
			p.addf("concepto %d: ClaveUnidad requerida (alfanumérica, máx. 3)", n)
		}
		if strings.TrimSpace(l.Description) == "" {
			p.addf("concepto %d: Descripcion requerida", n)
		}
		if l.UnitValue == nil {
			p.addf("concepto %d: ValorUnitario requerido", n)
		} else if l.UnitValue.IsNegative() {
			p.addf("concepto %d: ValorUnitario no puede ser negativo", n)
		}
		if !l.Quantity.IsPositive() {
			p.addf("concepto %d: Cantidad debe ser mayor a cero", n)
		}
		if l.Discount.IsNegative() {
			p.addf("concepto %d: Descuento no puede ser negativo", n)
		} else if l.UnitValue != nil && l.Discount.GreaterThan(l.Amount()) {
			p.addf("concepto %d: Descuento mayor al importe", n)
		}
		switch l.TaxObject {
		case "", sat.TaxObjectNo, sat.TaxObjectYes, sat.TaxObjectYesNoDesg:
		default:
			p.addf("concepto %d: ObjetoImp %q no reconocido", n, l.TaxObject)
		}
		for _, r := range l.Rates {
			if r.Rate.IsNegative() || r.Rate.GreaterThan(one) {
				p.addf("concepto %d: tasa %s fuera de rango [0,1]", n, r.Rate.String())
			}
		}
	}
}

// validatePayments complemento de pagos 2.0.
func validatePayments(payments []Payment, localCurrency string, p *problems) {
	if len(payments) == 0 {
		p.addf("comprobante de pago: requiere al menos un pago")
		return
	}
	for i, pay := range payments {
		n := i + 1
		if pay.Date.IsZero() {
			p.addf("pago %d: FechaPago requerida", n)
		}
		if !sat.ValidPaymentForms[pay.Form] || pay.Form == sat.FormToBeDefined {
			p.addf("pago %d: FormaDePagoP %q inválida", n, pay.Form)
		}
		if pay.Currency == "" || pay.Currency == sat.CurrencyNotApplies {
			p.addf("pago %d: MonedaP requerida", n)
		} else if pay.Currency != localCurrency && !pay.ExchangeRate.IsPositive() {
			p.addf("pago %d: TipoCambioP requerido para moneda %s", n, pay.Currency)
		}
		if !pay.Amount.IsPositive() {
			p.addf("pago %d: Monto debe ser mayor a cero", n)
		}
		if len(pay.Documents) == 0 {
			p.addf("pago %d: requiere al menos un documento relacionado", n)
		}
		applied := decimal.Zero
		for j, d := range pay.Documents {
			m := j + 1
			if !sat.IsUUID(d.UUID) {
				p.addf("pago %d, documento %d: IdDocumento %q inválido", n, m, d.UUID)
			}
			if d.Installment < 1 {
				p.addf("pago %d, documento %d: NumParcialidad debe ser >= 1", n, m)
			}
			if !d.Paid.IsPositive() {
				p.addf("pago %d, documento %d: ImpPagado debe ser mayor a cero", n, m)
			}
			if !d.PreviousBalance.Sub(d.Paid).Round(2).Equal(d.Remaining.Round(2)) {
				p.addf("pago %d, documento %d: ImpSaldoInsoluto debe ser ImpSaldoAnt − ImpPagado", n, m)
			}
			if d.Remaining.IsNegative() {
				p.addf("pago %d, documento %d: ImpSaldoInsoluto negativo", n, m)
			}
			currency := d.Currency
			if currency == "" {
				currency = pay.Currency
			}
			if currency != pay.Currency && !d.Equivalence.IsPositive() {
				p.addf("pago %d, documento %d: EquivalenciaDR requerida (moneda %s ≠ %s)", n, m, currency, pay.Currency)
			}
			eq := d.Equivalence
			if !eq.IsPositive() {
				eq = one
			}
			applied = applied.Add(d.Paid.Div(eq))
		}
		if applied.Round(2).GreaterThan(pay.Amount.Round(2)) {
			p.addf("pago %d: la suma de ImpPagado/EquivalenciaDR (%s) excede el Monto (%s)", n,
				applied.StringFixed(2), pay.Amount.StringFixed(2))
		}
	}
}
