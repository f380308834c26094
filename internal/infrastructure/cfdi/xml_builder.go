// Package cfdi serializa el Comprobante 4.0 (y el complemento Pagos 2.0), lee el
// XML timbrado y maneja el material CSD del emisor.
package cfdi

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	"github.com/jhoicas/cfdi-engine/pkg/sat"
)

const dateLayout = "2006-01-02T15:04:05"

// XMLBuilderService serializa un cfdi.Document al XML del Anexo 20.
// La salida es determinista: el mismo documento produce los mismos bytes.
type XMLBuilderService struct{}

// NewXMLBuilderService crea el servicio.
func NewXMLBuilderService() *XMLBuilderService {
	return &XMLBuilderService{}
}

// Build genera el []byte del comprobante (sin Sello; el PAC sella con el CSD registrado).
func (s *XMLBuilderService) Build(doc *cfdi.Document) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("cfdi: documento requerido")
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	w := &writer{enc: enc}

	payment := doc.Kind == cfdi.KindPayment
	schema := sat.SchemaLocation
	attrs := []xml.Attr{
		attr("xmlns:cfdi", sat.NsCFDI),
		attr("xmlns:xsi", sat.NsXSI),
	}
	if payment {
		attrs = append(attrs, attr("xmlns:pago20", sat.NsPagos))
		schema += " " + sat.SchemaPagos
	}
	attrs = append(attrs,
		attr("xsi:schemaLocation", schema),
		attr("Version", sat.CFDIVersion),
	)
	attrs = optAttr(attrs, "Serie", doc.Series)
	attrs = optAttr(attrs, "Folio", doc.Folio)
	attrs = append(attrs, attr("Fecha", doc.IssuedAt.Format(dateLayout)))
	attrs = optAttr(attrs, "FormaPago", doc.PaymentForm)
	// Emisión timbrado: el PAC sella con el CSD registrado del emisor.
	attrs = append(attrs, attr("Sello", ""), attr("NoCertificado", ""), attr("Certificado", ""))
	attrs = optAttr(attrs, "CondicionesDePago", doc.PaymentTerms)
	if payment {
		// Guía de llenado Pagos 2.0: SubTotal y Total se registran como 0.
		attrs = append(attrs, attr("SubTotal", "0"), attr("Moneda", sat.CurrencyNotApplies), attr("Total", "0"))
	} else {
		attrs = append(attrs, attr("SubTotal", money(doc.SubTotal)))
		if doc.Discount.IsPositive() {
			attrs = append(attrs, attr("Descuento", money(doc.Discount)))
		}
		attrs = append(attrs, attr("Moneda", doc.Currency))
		if doc.ExchangeRate.IsPositive() {
			attrs = append(attrs, attr("TipoCambio", exchange(doc.ExchangeRate)))
		}
		attrs = append(attrs, attr("Total", money(doc.Total)))
	}
	attrs = append(attrs,
		attr("TipoDeComprobante", string(doc.Kind)),
		attr("Exportacion", nonEmpty(doc.Export, sat.ExportNotApplies)),
	)
	attrs = optAttr(attrs, "MetodoPago", doc.PaymentMethod)
	attrs = append(attrs, attr("LugarExpedicion", doc.ExpeditionPlace))

	w.start("cfdi:Comprobante", attrs...)

	if g := doc.Global; g != nil {
		w.empty("cfdi:InformacionGlobal",
			attr("Periodicidad", g.Periodicity),
			attr("Meses", g.Month),
			attr("Año", strconv.Itoa(g.Year)))
	}
	for _, rel := range doc.Relations {
		w.start("cfdi:CfdiRelacionados", attr("TipoRelacion", rel.Type))
		for _, u := range rel.UUIDs {
			w.empty("cfdi:CfdiRelacionado", attr("UUID", u))
		}
		w.end("cfdi:CfdiRelacionados")
	}

	w.empty("cfdi:Emisor",
		attr("Rfc", doc.Issuer.RFC),
		attr("Nombre", doc.Issuer.Name),
		attr("RegimenFiscal", doc.Issuer.Regime))
	w.empty("cfdi:Receptor",
		attr("Rfc", doc.Receiver.RFC),
		attr("Nombre", doc.Receiver.Name),
		attr("DomicilioFiscalReceptor", doc.Receiver.PostalCode),
		attr("RegimenFiscalReceptor", doc.Receiver.Regime),
		attr("UsoCFDI", doc.Receiver.Usage))

	w.start("cfdi:Conceptos")
	for _, l := range doc.Lines {
		s.writeConcept(w, l, payment)
	}
	w.end("cfdi:Conceptos")

	if !payment {
		s.writeTaxes(w, doc)
	} else {
		w.start("cfdi:Complemento")
		s.writePayments(w, doc)
		w.end("cfdi:Complemento")
	}

	w.end("cfdi:Comprobante")
	if err := w.flush(); err != nil {
		return nil, fmt.Errorf("cfdi: serializar comprobante: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *XMLBuilderService) writeConcept(w *writer, l cfdi.Line, payment bool) {
	item := l.Item
	attrs := []xml.Attr{attr("ClaveProdServ", item.ProductCode)}
	attrs = optAttr(attrs, "NoIdentificacion", item.Identification)
	if payment {
		// Concepto fijo de Pagos 2.0: la guía de llenado pide "1" y "0" literales,
		// fuera del formato de 6 decimales del resto de los conceptos.
		attrs = append(attrs,
			attr("Cantidad", "1"),
			attr("ClaveUnidad", item.UnitCode),
			attr("Descripcion", item.Description),
			attr("ValorUnitario", "0"),
			attr("Importe", "0"),
			attr("ObjetoImp", sat.TaxObjectNo))
		w.empty("cfdi:Concepto", attrs...)
		return
	}

	unitValue := decimal.Zero
	if item.UnitValue != nil {
		unitValue = *item.UnitValue
	}
	attrs = append(attrs,
		attr("Cantidad", six(item.Quantity)),
		attr("ClaveUnidad", item.UnitCode))
	attrs = optAttr(attrs, "Unidad", item.Unit)
	attrs = append(attrs,
		attr("Descripcion", item.Description),
		attr("ValorUnitario", six(unitValue)),
		attr("Importe", money(l.Amount)))
	if item.Discount.IsPositive() {
		attrs = append(attrs, attr("Descuento", money(item.Discount)))
	}
	attrs = append(attrs, attr("ObjetoImp", l.TaxObject))

	if len(l.Transferred) == 0 && len(l.Withheld) == 0 {
		w.empty("cfdi:Concepto", attrs...)
		return
	}
	w.start("cfdi:Concepto", attrs...)
	w.start("cfdi:Impuestos")
	if len(l.Transferred) > 0 {
		w.start("cfdi:Traslados")
		for _, t := range l.Transferred {
			w.empty("cfdi:Traslado", taxAttrs(t)...)
		}
		w.end("cfdi:Traslados")
	}
	if len(l.Withheld) > 0 {
		w.start("cfdi:Retenciones")
		for _, t := range l.Withheld {
			w.empty("cfdi:Retencion", taxAttrs(t)...)
		}
		w.end("cfdi:Retenciones")
	}
	w.end("cfdi:Impuestos")
	w.end("cfdi:Concepto")
}

func taxAttrs(t cfdi.TaxEntry) []xml.Attr {
	attrs := []xml.Attr{
		attr("Base", money(t.Base)),
		attr("Impuesto", t.Code),
		attr("TipoFactor", string(t.Factor)),
	}
	if t.Factor != cfdi.FactorExempt {
		attrs = append(attrs, attr("TasaOCuota", six(t.Rate)), attr("Importe", money(t.Amount)))
	}
	return attrs
}

// writeTaxes nodo Impuestos del comprobante: retenciones por impuesto, traslados por clave.
func (s *XMLBuilderService) writeTaxes(w *writer, doc *cfdi.Document) {
	if len(doc.Transferred) == 0 && len(doc.Withheld) == 0 {
		return
	}
	var attrs []xml.Attr
	if len(doc.Withheld) > 0 {
		attrs = append(attrs, attr("TotalImpuestosRetenidos", money(doc.TotalWithheld)))
	}
	if hasRateTransfers(doc.Transferred) {
		attrs = append(attrs, attr("TotalImpuestosTrasladados", money(doc.TotalTransferred)))
	}
	w.start("cfdi:Impuestos", attrs...)
	if len(doc.Withheld) > 0 {
		w.start("cfdi:Retenciones")
		for _, a := range doc.Withheld {
			w.empty("cfdi:Retencion", attr("Impuesto", a.Code), attr("Importe", money(a.Amount)))
		}
		w.end("cfdi:Retenciones")
	}
	if len(doc.Transferred) > 0 {
		w.start("cfdi:Traslados")
		for _, a := range doc.Transferred {
			w.empty("cfdi:Traslado", aggregateAttrs(a, "")...)
		}
		w.end("cfdi:Traslados")
	}
	w.end("cfdi:Impuestos")
}

func hasRateTransfers(aggs []cfdi.TaxAggregate) bool {
	for _, a := range aggs {
		if a.Factor != cfdi.FactorExempt {
			return true
		}
	}
	return false
}

// aggregateAttrs atributos de un traslado agregado; suffix "P" o "DR" en el complemento.
func aggregateAttrs(a cfdi.TaxAggregate, suffix string) []xml.Attr {
	attrs := []xml.Attr{
		attr("Base"+suffix, money(a.Base)),
		attr("Impuesto"+suffix, a.Code),
		attr("TipoFactor"+suffix, string(a.Factor)),
	}
	if a.Factor != cfdi.FactorExempt {
		attrs = append(attrs, attr("TasaOCuota"+suffix, a.Rate), attr("Importe"+suffix, money(a.Amount)))
	}
	return attrs
}

// writePayments complemento Pagos 2.0. El orden es obligatorio: Totales, y luego
// cada Pago con sus DoctoRelacionado.
func (s *XMLBuilderService) writePayments(w *writer, doc *cfdi.Document) {
	w.start("pago20:Pagos", attr("Version", sat.PagosVersion))

	if t := doc.PaymentTotals; t != nil {
		var attrs []xml.Attr
		if t.HasIVA16 {
			attrs = append(attrs,
				attr("TotalTrasladosBaseIVA16", money(t.TransferBaseIVA16)),
				attr("TotalTrasladosImpuestoIVA16", money(t.TransferTaxIVA16)))
		}
		if t.HasIVA0 {
			attrs = append(attrs,
				attr("TotalTrasladosBaseIVA0", money(t.TransferBaseIVA0)),
				attr("TotalTrasladosImpuestoIVA0", money(decimal.Zero)))
		}
		if t.HasExempt {
			attrs = append(attrs, attr("TotalTrasladosBaseIVAExento", money(t.TransferExemptIVA)))
		}
		attrs = append(attrs, attr("MontoTotalPagos", money(t.TotalAmount)))
		w.empty("pago20:Totales", attrs...)
	}

	for _, p := range doc.Payments {
		attrs := []xml.Attr{
			attr("FechaPago", p.Date.Format(dateLayout)),
			attr("FormaDePagoP", p.Form),
			attr("MonedaP", p.Currency),
			attr("TipoCambioP", exchange(p.ExchangeRate)),
			attr("Monto", money(p.Amount)),
		}
		attrs = optAttr(attrs, "NumOperacion", p.Operation)
		w.start("pago20:Pago", attrs...)

		for _, d := range p.Documents {
			da := []xml.Attr{attr("IdDocumento", d.UUID)}
			da = optAttr(da, "Serie", d.Series)
			da = optAttr(da, "Folio", d.Folio)
			da = append(da,
				attr("MonedaDR", d.Currency),
				attr("EquivalenciaDR", exchange(d.Equivalence)),
				attr("NumParcialidad", strconv.Itoa(d.Installment)),
				attr("ImpSaldoAnt", money(d.PreviousBalance)),
				attr("ImpPagado", money(d.Paid)),
				attr("ImpSaldoInsoluto", money(d.Remaining)),
				attr("ObjetoImpDR", d.TaxObject))
			if len(d.Transferred) == 0 {
				w.empty("pago20:DoctoRelacionado", da...)
				continue
			}
			w.start("pago20:DoctoRelacionado", da...)
			w.start("pago20:ImpuestosDR")
			w.start("pago20:TrasladosDR")
			for _, e := range d.Transferred {
				w.empty("pago20:TrasladoDR", aggregateAttrs(cfdi.TaxAggregate{TaxKey: e.Key(), Base: e.Base, Amount: e.Amount}, "DR")...)
			}
			w.end("pago20:TrasladosDR")
			w.end("pago20:ImpuestosDR")
			w.end("pago20:DoctoRelacionado")
		}

		if len(p.Transferred) > 0 {
			w.start("pago20:ImpuestosP")
			w.start("pago20:TrasladosP")
			for _, a := range p.Transferred {
				w.empty("pago20:TrasladoP", aggregateAttrs(a, "P")...)
			}
			w.end("pago20:TrasladosP")
			w.end("pago20:ImpuestosP")
		}
		w.end("pago20:Pago")
	}
	w.end("pago20:Pagos")
}

// writer conserva el primer error del encoder; las llamadas posteriores no hacen nada.
type writer struct {
	enc *xml.Encoder
	err error
}

func (w *writer) token(t xml.Token) {
	if w.err == nil {
		w.err = w.enc.EncodeToken(t)
	}
}

func (w *writer) start(name string, attrs ...xml.Attr) {
	w.token(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (w *writer) end(name string) {
	w.token(xml.EndElement{Name: xml.Name{Local: name}})
}

func (w *writer) empty(name string, attrs ...xml.Attr) {
	w.start(name, attrs...)
	w.end(name)
}

func (w *writer) flush() error {
	if w.err != nil {
		return w.err
	}
	return w.enc.Flush()
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func optAttr(attrs []xml.Attr, name, value string) []xml.Attr {
	if value == "" {
		return attrs
	}
	return append(attrs, attr(name, value))
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// money importes: exactamente 2 decimales.
func money(d decimal.Decimal) string { return d.Round(2).StringFixed(2) }

// six cantidades, valores unitarios y tasas: exactamente 6 decimales.
func six(d decimal.Decimal) string { return d.StringFixed(6) }

// exchange TipoCambio/EquivalenciaDR: "1" para la misma moneda, 6 decimales en otro caso.
func exchange(d decimal.Decimal) string {
	if !d.IsPositive() || d.Equal(decimal.NewFromInt(1)) {
		return "1"
	}
	return d.StringFixed(6)
}
