package cfdi_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	"github.com/jhoicas/cfdi-engine/pkg/sat"
)

const (
	testIssuerRFC   = "EKU9003173C9"
	testReceiverRFC = "CACX7605101P8"
	testPaidUUID    = "6F2C1E3A-5B4D-4C2E-9F1A-0B1C2D3E4F50"
)

var testIssuedAt = time.Date(2026, 3, 15, 10, 30, 0, 0, time.UTC)

func incomeInput() cfdi.BuildInput {
	return cfdi.BuildInput{
		Kind:          cfdi.KindIncome,
		Series:        "A",
		Folio:         "100",
		IssuedAt:      testIssuedAt,
		PaymentMethod: sat.MethodSingle,
		PaymentForm:   sat.FormTransfer,
		Issuer: cfdi.Party{
			RFC: testIssuerRFC, Name: "Escuela Kemper Urgate", Regime: sat.RegimeGeneral, PostalCode: "42501",
		},
		Receiver: cfdi.Receiver{
			Party: cfdi.Party{RFC: testReceiverRFC, Name: "Xochilt Casas Chavez", Regime: sat.RegimeBusiness, PostalCode: "36257"},
			Usage: sat.UsageExpenses,
		},
		Lines: []cfdi.LineItem{
			line("3", "33.33", iva16),
			line("1", "10.01", iva16),
		},
	}
}

func validationProblems(t *testing.T, err error) []string {
	t.Helper()
	var ve *cfdi.ValidationError
	require.True(t, errors.As(err, &ve), "se esperaba *cfdi.ValidationError, se obtuvo %v", err)
	return ve.Problems
}

// ──────────────────────────────────────────────────────────────────────────────
// Totales: Σ traslados − Σ retenciones == Total − (SubTotal − Descuento)
// ──────────────────────────────────────────────────────────────────────────────

func TestBuild_TotalesCuadran(t *testing.T) {
	in := incomeInput()
	in.Lines[0].Discount = dec("9.99")
	in.Lines = append(in.Lines, line("1", "1000", iva16,
		cfdi.TaxRate{Code: sat.TaxISR, Rate: dec("0.10"), Withholding: true}))

	doc, err := cfdi.NewBuilder(false).Build(in)
	require.NoError(t, err)

	assert.Equal(t, "1110.00", doc.SubTotal.StringFixed(2))
	assert.Equal(t, "9.99", doc.Discount.StringFixed(2))
	net := doc.Total.Sub(doc.SubTotal.Sub(doc.Discount))
	assert.True(t, net.Equal(doc.TotalTransferred.Sub(doc.TotalWithheld)),
		"impuestos netos (%s) deben igualar Total − (SubTotal − Descuento) (%s)",
		doc.TotalTransferred.Sub(doc.TotalWithheld), net)
	assert.Equal(t, "ESCUELA KEMPER URGATE", doc.Issuer.Name, "nombre normalizado a mayúsculas")
	assert.Equal(t, "42501", doc.ExpeditionPlace, "LugarExpedicion por defecto = CP del emisor")
	assert.Equal(t, sat.CurrencyMXN, doc.Currency)
	assert.Equal(t, sat.ExportNotApplies, doc.Export)
}

func TestBuild_ReceptorGenerico_SinUso(t *testing.T) {
	in := incomeInput()
	in.Receiver = cfdi.Receiver{Party: cfdi.Party{RFC: sat.RFCGenericPublic}}

	_, err := cfdi.NewBuilder(false).Build(in)
	require.Error(t, err)
	assert.Contains(t, validationProblems(t, err), "receptor: UsoCFDI requerido",
		"la rama genérica sigue exigiendo UsoCFDI")
}

func TestBuild_ReceptorGenerico_S01(t *testing.T) {
	in := incomeInput()
	in.Receiver = cfdi.Receiver{Party: cfdi.Party{RFC: "xaxx010101000", Name: "Juan"}, Usage: sat.UsageNoEffects}

	doc, err := cfdi.NewBuilder(false).Build(in)
	require.NoError(t, err)
	assert.Equal(t, sat.GenericName, doc.Receiver.Name)
	assert.Equal(t, sat.RegimeNoObligations, doc.Receiver.Regime)
	assert.Equal(t, sat.GenericPostalCode, doc.Receiver.PostalCode)
	require.NotNil(t, doc.Global, "factura a público en general lleva InformacionGlobal")
	assert.Equal(t, "03", doc.Global.Month)
	assert.Equal(t, 2026, doc.Global.Year)

	doc, err = cfdi.NewBuilder(true).Build(in)
	require.NoError(t, err)
	assert.Equal(t, "42501", doc.Receiver.PostalCode, "con el interruptor activo se usa el LugarExpedicion")
}

func TestBuild_ReceptorExtranjero(t *testing.T) {
	in := incomeInput()
	in.Receiver = cfdi.Receiver{Party: cfdi.Party{RFC: sat.RFCGenericForeign}, Usage: sat.UsageNoEffects}

	doc, err := cfdi.NewBuilder(false).Build(in)
	require.NoError(t, err)
	assert.Equal(t, "42501", doc.Receiver.PostalCode, "sin CP del receptor se usa el LugarExpedicion")
	assert.Nil(t, doc.Global)
}

func TestBuild_ReceptorIncompleto(t *testing.T) {
	in := incomeInput()
	in.Receiver.Name = ""
	in.Receiver.Regime = ""
	in.Receiver.PostalCode = "123"

	_, err := cfdi.NewBuilder(false).Build(in)
	probs := validationProblems(t, err)
	assert.Contains(t, probs, "receptor: nombre requerido")
	assert.Contains(t, probs, "receptor: régimen fiscal requerido")
	assert.Contains(t, probs, "receptor: código postal requerido (5 dígitos)")
}

func TestBuild_PPDConFormaConcreta(t *testing.T) {
	in := incomeInput()
	in.PaymentMethod = sat.MethodDeferred
	in.PaymentForm = sat.FormCash

	_, err := cfdi.NewBuilder(false).Build(in)
	require.Error(t, err)
	assert.ErrorIs(t, err, cfdi.ErrInvalidDocument)
	assert.Contains(t, err.Error(), "MetodoPago PPD requiere FormaPago 99")
}

func TestBuild_PUEConPorDefinir(t *testing.T) {
	in := incomeInput()
	in.PaymentForm = sat.FormToBeDefined

	_, err := cfdi.NewBuilder(false).Build(in)
	assert.Contains(t, err.Error(), "MetodoPago PUE requiere una FormaPago concreta")
}

func TestBuild_ConceptosInvalidos_NombranIndice(t *testing.T) {
	in := incomeInput()
	in.Lines[1].ProductCode = "123"
	in.Lines[1].UnitCode = ""
	in.Lines[1].Description = " "
	in.Lines[1].UnitValue = nil

	_, err := cfdi.NewBuilder(false).Build(in)
	probs := validationProblems(t, err)
	assert.Contains(t, probs, "concepto 2: ClaveProdServ requerida (8 dígitos)")
	assert.Contains(t, probs, "concepto 2: ClaveUnidad requerida (alfanumérica, máx. 3)")
	assert.Contains(t, probs, "concepto 2: Descripcion requerida")
	assert.Contains(t, probs, "concepto 2: ValorUnitario requerido")
}

func TestBuild_MonedaExtranjeraRequiereTipoCambio(t *testing.T) {
	in := incomeInput()
	in.Currency = sat.CurrencyUSD

	_, err := cfdi.NewBuilder(false).Build(in)
	assert.Contains(t, err.Error(), "TipoCambio requerido para moneda USD")

	in.ExchangeRate = dec("17.25")
	doc, err := cfdi.NewBuilder(false).Build(in)
	require.NoError(t, err)
	assert.Equal(t, "17.25", doc.ExchangeRate.String())
}

func TestBuild_RelacionesInvalidas(t *testing.T) {
	in := incomeInput()
	in.Kind = cfdi.KindEgress
	in.Relations = []cfdi.Relation{{Type: "99", UUIDs: []string{"no-es-uuid"}}}

	_, err := cfdi.NewBuilder(false).Build(in)
	probs := validationProblems(t, err)
	assert.Contains(t, probs, `relación 1: TipoRelacion "99" no reconocido`)
	assert.Contains(t, probs, `relación 1: UUID "no-es-uuid" inválido`)
}

// ──────────────────────────────────────────────────────────────────────────────
// Comprobante de pago: SubTotal/Total en cero, Moneda XXX, UsoCFDI CP01 y el
// concepto único 84111506 / ACT / "Pago".
// ──────────────────────────────────────────────────────────────────────────────

func paymentInput() cfdi.BuildInput {
	in := incomeInput()
	in.Kind = cfdi.KindPayment
	in.PaymentMethod = ""
	in.PaymentForm = ""
	in.Receiver.Usage = ""
	in.Lines = nil
	in.Payments = []cfdi.Payment{{
		Date:     testIssuedAt,
		Form:     sat.FormTransfer,
		Currency: sat.CurrencyMXN,
		Amount:   dec("1160"),
		Documents: []cfdi.PaidDocument{{
			UUID:            testPaidUUID,
			Installment:     1,
			PreviousBalance: dec("2320"),
			Paid:            dec("1160"),
			Remaining:       dec("1160"),
			TransferRates:   []cfdi.TaxRate{iva16},
		}},
	}}
	return in
}

func TestBuild_Pago_ValoresFijos(t *testing.T) {
	doc, err := cfdi.NewBuilder(false).Build(paymentInput())
	require.NoError(t, err)

	assert.True(t, doc.SubTotal.IsZero())
	assert.True(t, doc.Total.IsZero())
	assert.Equal(t, sat.CurrencyNotApplies, doc.Currency)
	assert.Equal(t, sat.UsagePayments, doc.Receiver.Usage)
	require.Len(t, doc.Lines, 1)
	assert.Equal(t, "84111506", doc.Lines[0].Item.ProductCode)
	assert.Equal(t, "ACT", doc.Lines[0].Item.UnitCode)
	assert.Equal(t, "Pago", doc.Lines[0].Item.Description)
	assert.Equal(t, sat.TaxObjectNo, doc.Lines[0].TaxObject)

	require.NotNil(t, doc.PaymentTotals)
	assert.Equal(t, "1160.00", doc.PaymentTotals.TotalAmount.StringFixed(2))
	assert.True(t, doc.PaymentTotals.HasIVA16)
	assert.Equal(t, "1000.00", doc.PaymentTotals.TransferBaseIVA16.StringFixed(2))
	assert.Equal(t, "160.00", doc.PaymentTotals.TransferTaxIVA16.StringFixed(2))

	pd := doc.Payments[0].Documents[0]
	assert.Equal(t, sat.TaxObjectYes, pd.TaxObject)
	assert.Equal(t, "1", pd.Equivalence.String(), "EquivalenciaDR = 1 en la misma moneda")
	assert.Equal(t, "1", doc.Payments[0].ExchangeRate.String())
	assert.Equal(t, []string{testPaidUUID}, doc.RelatedUUIDs())
}

func TestBuild_Pago_UsoDistintoDeCP01(t *testing.T) {
	in := paymentInput()
	in.Receiver.Usage = sat.UsageExpenses

	_, err := cfdi.NewBuilder(false).Build(in)
	assert.Contains(t, err.Error(), "no permitido en comprobante de pago")
}

func TestBuild_Pago_SaldosInconsistentes(t *testing.T) {
	in := paymentInput()
	in.Payments[0].Documents[0].Remaining = dec("1000")
	in.PaymentMethod = sat.MethodDeferred

	_, err := cfdi.NewBuilder(false).Build(in)
	probs := validationProblems(t, err)
	assert.Contains(t, probs, "comprobante de pago: MetodoPago y FormaPago no aplican en el nodo raíz")
	assert.Contains(t, probs, "pago 1, documento 1: ImpSaldoInsoluto debe ser ImpSaldoAnt − ImpPagado")
}

func TestBuild_TipoNoSoportado(t *testing.T) {
	in := incomeInput()
	in.Kind = "T"
	_, err := cfdi.NewBuilder(false).Build(in)
	assert.ErrorIs(t, err, cfdi.ErrInvalidDocument)
}
