package cfdi_test

import (
	"archive/zip"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/cfdi-engine/internal/infrastructure/cfdi"
)

const stampedXML = `<?xml version="1.0" encoding="UTF-8"?>
<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4" Version="4.0" Serie="A" Folio="7" Fecha="2026-03-15T10:30:00" NoCertificado="30001000000500003416" SubTotal="200.00" Moneda="MXN" Total="198.40" TipoDeComprobante="I" Exportacion="01" LugarExpedicion="42501">
  <cfdi:Emisor Rfc="EKU9003173C9" Nombre="ESCUELA KEMPER URGATE" RegimenFiscal="601"/>
  <cfdi:Receptor Rfc="CACX7605101P8" Nombre="XOCHILT CASAS CHAVEZ" DomicilioFiscalReceptor="36257" RegimenFiscalReceptor="612" UsoCFDI="G03"/>
  <cfdi:Complemento>
    <tfd:TimbreFiscalDigital xmlns:tfd="http://www.sat.gob.mx/TimbreFiscalDigital" Version="1.1" UUID="6f2c1e3a-5b4d-4c2e-9f1a-0b1c2d3e4f50" FechaTimbrado="2026-03-15T10:31:02" RfcProvCertif="SPR190613I52" SelloCFD="AAAAmvnq0py8ZpQ==" NoCertificadoSAT="30001000000500003456" SelloSAT="BBBB"/>
  </cfdi:Complemento>
</cfdi:Comprobante>`

func TestReadStamp(t *testing.T) {
	info, err := cfdi.ReadStamp([]byte(stampedXML))
	require.NoError(t, err)

	assert.Equal(t, "6F2C1E3A-5B4D-4C2E-9F1A-0B1C2D3E4F50", info.UUID, "UUID normalizado a mayúsculas")
	assert.Equal(t, "SPR190613I52", info.ProviderRFC)
	assert.Equal(t, "30001000000500003456", info.SatCertificate)
	assert.Equal(t, "EKU9003173C9", info.IssuerRFC)
	assert.Equal(t, "CACX7605101P8", info.ReceiverRFC)
	assert.Equal(t, "198.40", info.Total.StringFixed(2))
	assert.Equal(t, 2026, info.StampedAt.Year())
	assert.Equal(t, "I", info.Kind)

	url := info.VerificationURL()
	assert.Contains(t, url, "id=6F2C1E3A-5B4D-4C2E-9F1A-0B1C2D3E4F50")
	assert.Contains(t, url, "tt=198.400000")
	assert.Contains(t, url, "fe=py8ZpQ==", "fe = últimos 8 caracteres del SelloCFD")
}

func TestReadStamp_SinTimbre(t *testing.T) {
	_, err := cfdi.ReadStamp([]byte(`<cfdi:Comprobante xmlns:cfdi="http://www.sat.gob.mx/cfd/4"/>`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TimbreFiscalDigital")

	_, err = cfdi.ReadStamp([]byte("no es xml"))
	assert.Error(t, err)
}

func TestReadCancellationAck(t *testing.T) {
	ack := `<Acuse Fecha="2026-03-16T09:00:00.123" RfcEmisor="EKU9003173C9"><Folios><UUID>6f2c1e3a-5b4d-4c2e-9f1a-0b1c2d3e4f50</UUID><EstatusUUID>201</EstatusUUID></Folios></Acuse>`
	info, err := cfdi.ReadCancellationAck([]byte(ack))
	require.NoError(t, err)
	assert.Equal(t, "201", info.Status)
	assert.Equal(t, "6F2C1E3A-5B4D-4C2E-9F1A-0B1C2D3E4F50", info.UUID)
	assert.Equal(t, 16, info.Date.Day())
}

func TestFingerprint_FormaCanonica(t *testing.T) {
	a, err := cfdi.Fingerprint([]byte(`<a x="1" y="2"></a>`))
	require.NoError(t, err)
	b, err := cfdi.Fingerprint([]byte(`<a x='1' y='2'/>`))
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	c, err := cfdi.Fingerprint([]byte(`<a x="1" y="3"/>`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestBuildBundle(t *testing.T) {
	out, err := cfdi.BuildBundle(
		cfdi.BundleFile{Name: "factura.xml", Content: []byte(stampedXML)},
		cfdi.BundleFile{Name: "factura.pdf", Content: nil},
		cfdi.BundleFile{Name: "acuse.xml", Content: []byte("<Acuse/>")},
	)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(out), int64(len(out)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2, "los archivos vacíos se omiten")
	assert.Equal(t, "factura.xml", zr.File[0].Name)

	rc, err := zr.File[0].Open()
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, stampedXML, string(body))

	_, err = cfdi.BuildBundle()
	assert.Error(t, err)
}
