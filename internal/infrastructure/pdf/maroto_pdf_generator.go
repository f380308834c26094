// Package pdf implementa la representación impresa de un CFDI 4.0 timbrado.
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Nombre + RFC emisor  │  Tipo + Serie/Folio + Fecha  │
//	│  ─────────────────────────────────────────────────────────  │
//	│  EMISOR: Régimen / Lugar de expedición                       │
//	│  RECEPTOR: Nombre + RFC + Uso CFDI                           │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TABLA: Cant | Clave | Unidad | Descripción | V.Unit | Imp.  │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TOTALES: Subtotal / Descuento / Traslados / Retenciones     │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TIMBRE: UUID + QR + sellos + certificado SAT                │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"fmt"
	"strings"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/cfdi-engine/internal/application/billing"
)

var _ billing.PDFRenderer = (*MarotoPDFGenerator)(nil)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 122, Green: 20, Blue: 40}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorWhite   = &props.Color{Red: 255, Green: 255, Blue: 255}
)

var kindLabels = map[string]string{
	"I": "INGRESO",
	"E": "EGRESO",
	"T": "TRASLADO",
	"P": "PAGO",
}

// ── Generator ─────────────────────────────────────────────────────────────────

// MarotoPDFGenerator implementa billing.PDFRenderer usando Maroto v2.
type MarotoPDFGenerator struct{}

// NewMarotoPDFGenerator construye el generador.
func NewMarotoPDFGenerator() *MarotoPDFGenerator { return &MarotoPDFGenerator{} }

// Render genera el PDF a partir del XML timbrado. Un XML sin timbre devuelve error.
func (g *MarotoPDFGenerator) Render(xml []byte) ([]byte, error) {
	p, err := readPrintable(xml)
	if err != nil {
		return nil, fmt.Errorf("pdf: %w", err)
	}

	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("CFDI "+p.stamp.UUID, true).
		WithAuthor(p.stamp.IssuerName, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(p))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(emisorRow(p))
	m.AddRows(receptorRow(p))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	m.AddRows(tableDetailRows(p.Concepts)...)

	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalsRow(p))
	if len(p.Related) > 0 {
		m.AddRows(relatedRows(p.Related)...)
	}

	m.AddRows(line.NewRow(3))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	m.AddRows(stampFooterRows(p)...)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return doc.GetBytes(), nil
}

// ── Secciones ─────────────────────────────────────────────────────────────────

func headerRow(p *printable) core.Row {
	s := p.stamp
	number := strings.TrimSpace(s.Series + " " + s.Folio)
	return row.New(18).Add(
		col.New(7).Add(
			text.New(nonEmpty(s.IssuerName, s.IssuerRFC), props.Text{
				Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1,
			}),
			text.New("RFC: "+s.IssuerRFC, props.Text{
				Size: 9, Top: 9, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New("CFDI DE "+nonEmpty(kindLabels[s.Kind], s.Kind), props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Right,
				Color: colorPrimary, Top: 1,
			}),
			text.New(nonEmpty(number, "Sin folio"), props.Text{
				Style: fontstyle.Bold, Size: 12, Align: align.Right, Top: 7,
			}),
			text.New("Fecha: "+s.IssuedAt.Format("02/01/2006 15:04:05"), props.Text{
				Size: 8, Align: align.Right, Top: 14, Color: colorGray,
			}),
		),
	)
}

func emisorRow(p *printable) core.Row {
	return row.New(12).Add(
		col.New(12).Add(
			text.New("EMISOR", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(fmt.Sprintf("Régimen fiscal: %s   |   Lugar de expedición: %s   |   Certificado: %s",
				nonEmpty(p.IssuerRegime, "-"),
				nonEmpty(p.ExpeditionPlace, "-"),
				nonEmpty(p.stamp.IssuerCertNumber, "-"),
			), props.Text{Size: 8, Top: 7, Color: colorGray}),
		),
	)
}

func receptorRow(p *printable) core.Row {
	s := p.stamp
	return row.New(14).Add(
		col.New(12).Add(
			text.New("RECEPTOR", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(nonEmpty(s.ReceiverName, s.ReceiverRFC), props.Text{
				Style: fontstyle.Bold, Size: 10, Top: 6,
			}),
			text.New(fmt.Sprintf("RFC: %s   |   Uso CFDI: %s   |   Régimen: %s   |   C.P.: %s",
				s.ReceiverRFC,
				nonEmpty(p.Usage, "-"),
				nonEmpty(p.ReceiverRegime, "-"),
				nonEmpty(p.ReceiverZip, "-"),
			), props.Text{Size: 8, Top: 12, Color: colorGray}),
		),
	)
}

func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a,
			Color: colorWhite, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).Add(
		h("Cant.", 1, align.Center),
		h("Clave", 2, align.Left),
		h("Unidad", 1, align.Center),
		h("Descripción", 4, align.Left),
		h("Valor unit.", 2, align.Right),
		h("Importe", 2, align.Right),
	).WithStyle(&props.Cell{BackgroundColor: colorPrimary})
}

func tableDetailRows(concepts []printableConcept) []core.Row {
	result := make([]core.Row, 0, len(concepts))
	for _, c := range concepts {
		result = append(result, row.New(7).Add(
			col.New(1).Add(text.New(
				c.Quantity.String(),
				props.Text{Size: 8, Align: align.Center, Top: 1},
			)),
			col.New(2).Add(text.New(
				c.ProductCode,
				props.Text{Size: 8, Align: align.Left, Top: 1, Left: 1},
			)),
			col.New(1).Add(text.New(
				c.UnitCode,
				props.Text{Size: 8, Align: align.Center, Top: 1},
			)),
			col.New(4).Add(text.New(
				c.Description,
				props.Text{Size: 8, Align: align.Left, Top: 1, Left: 1},
			)),
			col.New(2).Add(text.New(
				formatMoney(c.UnitValue),
				props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1},
			)),
			col.New(2).Add(text.New(
				formatMoney(c.Amount),
				props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1},
			)),
		))
	}
	return result
}

func totalsRow(p *printable) core.Row {
	labels := col.New(3)
	values := col.New(3)
	top := 0.0
	add := func(l string, v decimal.Decimal, grand bool) {
		lp := props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right, Right: 2, Top: top}
		vp := props.Text{Size: 9, Align: align.Right, Right: 1, Top: top}
		if grand {
			lp.Size, lp.Color = 10, colorPrimary
			vp.Size, vp.Color, vp.Style = 10, colorPrimary, fontstyle.Bold
		}
		labels.Add(text.New(l, lp))
		values.Add(text.New(formatMoney(v)+" "+p.stamp.Currency, vp))
		top += 5
	}

	add("Subtotal:", p.SubTotal, false)
	if p.Discount.IsPositive() {
		add("Descuento:", p.Discount, false)
	}
	if p.Transferred.IsPositive() {
		add("Impuestos trasladados:", p.Transferred, false)
	}
	if p.Withheld.IsPositive() {
		add("Impuestos retenidos:", p.Withheld, false)
	}
	add("TOTAL:", p.stamp.Total, true)

	payment := col.New(6).Add(
		text.New("Método de pago: "+nonEmpty(p.PaymentMethod, "-"), props.Text{
			Size: 8, Color: colorGray, Left: 1,
		}),
		text.New("Forma de pago: "+nonEmpty(p.PaymentForm, "-"), props.Text{
			Size: 8, Color: colorGray, Left: 1, Top: 5,
		}),
		text.New("Exportación: "+nonEmpty(p.Exportation, "-"), props.Text{
			Size: 8, Color: colorGray, Left: 1, Top: 10,
		}),
	)
	return row.New(top+6).Add(payment, labels, values)
}

func relatedRows(related []string) []core.Row {
	rows := []core.Row{
		row.New(6).Add(col.New(12).Add(
			text.New("CFDI RELACIONADOS", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
		)),
	}
	for _, u := range related {
		rows = append(rows, row.New(4).Add(col.New(12).Add(
			text.New(u, props.Text{Size: 7, Color: colorGray, Left: 2}),
		)))
	}
	return rows
}

// stampFooterRows: UUID, QR de verificación y sellos partidos en renglones.
func stampFooterRows(p *printable) []core.Row {
	s := p.stamp
	rows := []core.Row{
		row.New(6).Add(col.New(12).Add(
			text.New("TIMBRE FISCAL DIGITAL", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
		)),
		row.New(40).Add(
			col.New(3).Add(code.NewQr(s.VerificationURL(), props.Rect{
				Percent: 95,
				Center:  true,
			})),
			col.New(9).Add(
				text.New("Folio fiscal: "+s.UUID, props.Text{
					Style: fontstyle.Bold, Size: 9, Top: 2, Left: 3,
				}),
				text.New("Fecha de certificación: "+s.StampedAt.Format("2006-01-02T15:04:05"), props.Text{
					Size: 8, Top: 9, Left: 3, Color: colorGray,
				}),
				text.New("No. de certificado SAT: "+s.SatCertificate, props.Text{
					Size: 8, Top: 15, Left: 3, Color: colorGray,
				}),
				text.New("RFC del proveedor de certificación: "+s.ProviderRFC, props.Text{
					Size: 8, Top: 21, Left: 3, Color: colorGray,
				}),
			),
		),
	}

	rows = append(rows, sealRows("Sello digital del CFDI:", s.CFDSeal)...)
	rows = append(rows, sealRows("Sello digital del SAT:", s.SATSeal)...)

	rows = append(rows, row.New(8).Add(col.New(12).Add(
		text.New("Este documento es una representación impresa de un CFDI.", props.Text{
			Size: 7, Color: colorGray, Top: 2, Align: align.Center,
		}),
	)))
	return rows
}

func sealRows(title, seal string) []core.Row {
	if seal == "" {
		return nil
	}
	rows := []core.Row{row.New(5).Add(col.New(12).Add(
		text.New(title, props.Text{Style: fontstyle.Bold, Size: 7, Top: 1}),
	))}
	for _, chunk := range splitEvery(seal, 110) {
		rows = append(rows, row.New(4).Add(col.New(12).Add(
			text.New(chunk, props.Text{Size: 6, Color: colorGray, Top: 0.5, Left: 2}),
		)))
	}
	return rows
}

// ── helpers ───────────────────────────────────────────────────────────────────

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

// formatMoney "$" + importe a 2 decimales con comas de miles.
// Ej: 1234567.5 → "$1,234,567.50"
func formatMoney(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	n := len(intPart)
	buf := make([]byte, 0, n+n/3)
	for i, c := range []byte(intPart) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, c)
	}
	return sign + "$" + string(buf) + "." + frac
}

// splitEvery divide s en trozos de max n caracteres.
func splitEvery(s string, n int) []string {
	var parts []string
	for len(s) > n {
		parts = append(parts, s[:n])
		s = s[n:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
