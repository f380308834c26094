package cfdi

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/cfdi-engine/pkg/sat"
)

// TaxEntry impuesto resuelto de un concepto.
type TaxEntry struct {
	Code   string
	Factor Factor
	Rate   decimal.Decimal
	Base   decimal.Decimal
	Amount decimal.Decimal // cero para Exento
}

// Key clave de agregación del impuesto.
func (e TaxEntry) Key() TaxKey {
	if e.Factor == FactorExempt {
		return TaxKey{Code: e.Code, Factor: FactorExempt}
	}
	return TaxKey{Code: e.Code, Factor: e.Factor, Rate: e.Rate.StringFixed(6)}
}

// TaxKey (impuesto, tipo de factor, tasa a 6 decimales). Rate vacío para Exento.
type TaxKey struct {
	Code   string
	Factor Factor
	Rate   string
}

// TaxAggregate acumulado a nivel comprobante para una clave.
type TaxAggregate struct {
	TaxKey
	Base   decimal.Decimal
	Amount decimal.Decimal
}

// LineTaxes desglose de un concepto.
type LineTaxes struct {
	TaxObject   string
	Base        decimal.Decimal
	Transferred []TaxEntry
	Withheld    []TaxEntry

	// ExemptFallback la línea era objeto de impuesto sin tasas y se declaró Exento.
	// Puede ocultar una tasa sin configurar.
	ExemptFallback bool
}

// TaxSummary resultado de AggregateTaxes.
type TaxSummary struct {
	Lines       []LineTaxes
	Transferred []TaxAggregate
	Withheld    []TaxAggregate // agrupadas por impuesto (Factor y Rate vacíos)
}

// TotalTransferred suma de traslados (los exentos no suman).
func (s TaxSummary) TotalTransferred() decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.Transferred {
		total = total.Add(a.Amount)
	}
	return total
}

// TotalWithheld suma de retenciones.
func (s TaxSummary) TotalWithheld() decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.Withheld {
		total = total.Add(a.Amount)
	}
	return total
}

var one = decimal.NewFromInt(1)

// AggregateTaxes resuelve el desglose por concepto y acumula los totales por clave.
// Cada importe de línea se redondea una sola vez a 2 decimales; el agregado es la
// suma exacta de esos importes.
func AggregateTaxes(lines []LineItem) (TaxSummary, error) {
	var p problems
	summary := TaxSummary{Lines: make([]LineTaxes, 0, len(lines))}
	transferred := map[TaxKey]*TaxAggregate{}
	withheld := map[TaxKey]*TaxAggregate{}

	for i, line := range lines {
		lt := resolveLine(i+1, line, &p)
		summary.Lines = append(summary.Lines, lt)
		for _, e := range lt.Transferred {
			accumulate(transferred, e.Key(), e)
		}
		for _, e := range lt.Withheld {
			accumulate(withheld, TaxKey{Code: e.Code}, e)
		}
	}
	if err := p.err(); err != nil {
		return TaxSummary{}, err
	}
	summary.Transferred = sortedAggregates(transferred)
	summary.Withheld = sortedAggregates(withheld)
	return summary, nil
}

func accumulate(m map[TaxKey]*TaxAggregate, key TaxKey, e TaxEntry) {
	agg, ok := m[key]
	if !ok {
		agg = &TaxAggregate{TaxKey: key, Base: decimal.Zero, Amount: decimal.Zero}
		m[key] = agg
	}
	agg.Base = agg.Base.Add(e.Base)
	agg.Amount = agg.Amount.Add(e.Amount)
}

func sortedAggregates(m map[TaxKey]*TaxAggregate) []TaxAggregate {
	out := make([]TaxAggregate, 0, len(m))
	for _, a := range m {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].TaxKey, out[j].TaxKey
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		if a.Factor != b.Factor {
			return a.Factor > b.Factor // Tasa antes que Exento
		}
		return a.Rate < b.Rate
	})
	return out
}

// resolveLine aplica la precedencia: lista explícita, tasas simples, y para una
// línea objeto de impuesto sin tasas un traslado Exento de IVA.
func resolveLine(idx int, line LineItem, p *problems) LineTaxes {
	lt := LineTaxes{TaxObject: line.ResolvedTaxObject(), Base: line.TaxBase()}
	if lt.TaxObject != sat.TaxObjectYes {
		return lt
	}

	var taxes []LineTax
	switch {
	case len(line.Taxes) > 0:
		taxes = line.Taxes
	case len(line.Rates) > 0:
		for _, r := range line.Rates {
			f := FactorRate
			if r.Exempt {
				f = FactorExempt
			}
			taxes = append(taxes, LineTax{Code: r.Code, Factor: f, Rate: r.Rate, Withholding: r.Withholding})
		}
	default:
		taxes = []LineTax{{Code: sat.TaxIVA, Factor: FactorExempt}}
		lt.ExemptFallback = true
	}

	for _, t := range taxes {
		if !sat.ValidTaxCodes[t.Code] {
			p.addf("concepto %d: impuesto %q no reconocido", idx, t.Code)
			continue
		}
		if t.Rate.IsNegative() || t.Rate.GreaterThan(one) {
			p.addf("concepto %d: tasa %s fuera de rango [0,1]", idx, t.Rate.String())
			continue
		}
		factor := t.Factor
		if factor == "" {
			factor = FactorRate
		}
		base := lt.Base
		if t.Base != nil {
			base = t.Base.Round(2)
		}
		entry := TaxEntry{Code: t.Code, Factor: factor, Rate: t.Rate, Base: base, Amount: decimal.Zero}
		if factor == FactorRate {
			entry.Amount = base.Mul(t.Rate).Round(2)
		}
		if t.Withholding {
			if factor == FactorExempt {
				p.addf("concepto %d: una retención no puede ser Exento", idx)
				continue
			}
			lt.Withheld = append(lt.Withheld, entry)
			continue
		}
		lt.Transferred = append(lt.Transferred, entry)
	}
	return lt
}
