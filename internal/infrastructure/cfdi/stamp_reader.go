package cfdi

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

// StampInfo datos del TimbreFiscalDigital y del comprobante necesarios para la
// representación impresa y el registro.
type StampInfo struct {
	UUID             string
	StampedAt        time.Time
	SatCertificate   string // NoCertificadoSAT
	CFDSeal          string // SelloCFD
	SATSeal          string // SelloSAT
	ProviderRFC      string // RfcProvCertif
	IssuerRFC        string
	IssuerName       string
	ReceiverRFC      string
	ReceiverName     string
	Total            decimal.Decimal
	Kind             string
	Series           string
	Folio            string
	IssuedAt         time.Time
	Currency         string
	IssuerCertNumber string
}

// ReadStamp extrae el TimbreFiscalDigital de un CFDI timbrado.
// Un XML sin complemento de timbre devuelve error.
func ReadStamp(xmlBytes []byte) (*StampInfo, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, fmt.Errorf("cfdi: parsear XML timbrado: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "Comprobante" {
		return nil, fmt.Errorf("cfdi: el XML no contiene cfdi:Comprobante")
	}

	info := &StampInfo{
		Kind:             root.SelectAttrValue("TipoDeComprobante", ""),
		Series:           root.SelectAttrValue("Serie", ""),
		Folio:            root.SelectAttrValue("Folio", ""),
		Currency:         root.SelectAttrValue("Moneda", ""),
		IssuerCertNumber: root.SelectAttrValue("NoCertificado", ""),
	}
	if t, err := decimal.NewFromString(root.SelectAttrValue("Total", "0")); err == nil {
		info.Total = t
	}
	if f := root.SelectAttrValue("Fecha", ""); f != "" {
		info.IssuedAt, _ = time.Parse(dateLayout, f)
	}
	if e := root.SelectElement("Emisor"); e != nil {
		info.IssuerRFC = e.SelectAttrValue("Rfc", "")
		info.IssuerName = e.SelectAttrValue("Nombre", "")
	}
	if r := root.SelectElement("Receptor"); r != nil {
		info.ReceiverRFC = r.SelectAttrValue("Rfc", "")
		info.ReceiverName = r.SelectAttrValue("Nombre", "")
	}

	tfd := root.FindElement("./Complemento/TimbreFiscalDigital")
	if tfd == nil {
		return nil, fmt.Errorf("cfdi: el XML no contiene tfd:TimbreFiscalDigital")
	}
	info.UUID = strings.ToUpper(tfd.SelectAttrValue("UUID", ""))
	if info.UUID == "" {
		return nil, fmt.Errorf("cfdi: TimbreFiscalDigital sin UUID")
	}
	info.SatCertificate = tfd.SelectAttrValue("NoCertificadoSAT", "")
	info.CFDSeal = tfd.SelectAttrValue("SelloCFD", "")
	info.SATSeal = tfd.SelectAttrValue("SelloSAT", "")
	info.ProviderRFC = tfd.SelectAttrValue("RfcProvCertif", "")
	if f := tfd.SelectAttrValue("FechaTimbrado", ""); f != "" {
		info.StampedAt, _ = time.Parse(dateLayout, f)
	}
	return info, nil
}

// VerificationURL URL de verificación del SAT que va en el código QR.
// fe = últimos 8 caracteres del SelloCFD.
func (s *StampInfo) VerificationURL() string {
	fe := s.CFDSeal
	if len(fe) > 8 {
		fe = fe[len(fe)-8:]
	}
	return fmt.Sprintf("https://verificacfdi.facturaelectronica.sat.gob.mx/default.aspx?id=%s&re=%s&rr=%s&tt=%s&fe=%s",
		s.UUID, s.IssuerRFC, s.ReceiverRFC, s.Total.StringFixed(6), fe)
}

// AckInfo acuse de cancelación.
type AckInfo struct {
	UUID   string
	Status string // EstatusUUID
	Date   time.Time
}

// ReadCancellationAck lee el acuse devuelto por el servicio de cancelación.
// El acuse de SW viene como <Acuse Fecha=... RfcEmisor=...><Folios><UUID/><EstatusUUID/></Folios></Acuse>.
func ReadCancellationAck(data []byte) (*AckInfo, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("cfdi: parsear acuse: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("cfdi: acuse vacío")
	}
	ack := &AckInfo{}
	if f := root.SelectAttrValue("Fecha", ""); f != "" {
		if t, err := time.Parse(dateLayout, trimFraction(f)); err == nil {
			ack.Date = t
		}
	}
	if el := root.FindElement(".//UUID"); el != nil {
		ack.UUID = strings.ToUpper(strings.TrimSpace(el.Text()))
	}
	if el := root.FindElement(".//EstatusUUID"); el != nil {
		ack.Status = strings.TrimSpace(el.Text())
	}
	return ack, nil
}

func trimFraction(f string) string {
	if i := strings.IndexByte(f, '.'); i > 0 {
		return f[:i]
	}
	return f
}
