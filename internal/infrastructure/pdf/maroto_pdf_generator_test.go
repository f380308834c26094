package pdf_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/cfdi-engine/internal/infrastructure/pdf"
)

const stampedInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Version="4.0" Serie="A" Folio="7" Fecha="2026-03-15T10:30:00" FormaPago="03" NoCertificado="30001000000500003416" SubTotal="1200.00" Descuento="200.00" Moneda="MXN" Total="1160.00" TipoDeComprobante="I" Exportacion="01" MetodoPago="PUE" LugarExpedicion="42501">
  <cfdi:CfdiRelacionados TipoRelacion="04">
    <cfdi:CfdiRelacionado UUID="11111111-2222-3333-4444-555555555555"/>
  </cfdi:CfdiRelacionados>
  <cfdi:Emisor Rfc="EKU9003173C9" Nombre="ESCUELA KEMPER URGATE" RegimenFiscal="601"/>
  <cfdi:Receptor Rfc="CACX7605101P8" Nombre="XOCHILT CASAS CHAVEZ" DomicilioFiscalReceptor="36257" RegimenFiscalReceptor="612" UsoCFDI="G03"/>
  <cfdi:Conceptos>
    <cfdi:Concepto ClaveProdServ="43232408" Cantidad="2" ClaveUnidad="E48" Descripcion="Licencia anual" ValorUnitario="600.000000" Importe="1200.000000" Descuento="200.00" ObjetoImp="02"/>
  </cfdi:Conceptos>
  <cfdi:Impuestos TotalImpuestosTrasladados="160.00">
    <cfdi:Traslados>
      <cfdi:Traslado Base="1000.00" Impuesto="002" TipoFactor="Tasa" TasaOCuota="0.160000" Importe="160.00"/>
    </cfdi:Traslados>
  </cfdi:Impuestos>
  <cfdi:Complemento>
    <tfd:TimbreFiscalDigital xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital" Version="1.1" UUID="6f2c1e3a-5b4d-4c2e-9f1a-0b1c2d3e4f50" FechaTimbrado="2026-03-15T10:31:02" RfcProvCertif="SPR190613I52" SelloCFD="AAAAmvnq0py8ZpQ==" NoCertificadoSAT="30001000000500003456" SelloSAT="BBBB"/>
  </cfdi:Complemento>
</cfdi:Comprobante>`

// ─── Render ───────────────────────────────────────────────────────────────────

func TestRender_CFDITimbrado(t *testing.T) {
	g := pdf.NewMarotoPDFGenerator()

	out, err := g.Render([]byte(stampedInvoice))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")), "la salida debe ser un PDF")
	assert.Greater(t, len(out), 1000)
}

func TestRender_SinTimbre(t *testing.T) {
	g := pdf.NewMarotoPDFGenerator()

	_, err := g.Render([]byte(`<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Total="1.00"/>`))
	require.Error(t, err, "sin TimbreFiscalDigital no hay representación impresa")

	_, err = g.Render([]byte("no es xml"))
	assert.Error(t, err)
}
