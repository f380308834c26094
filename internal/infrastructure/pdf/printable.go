package pdf

import (
	"fmt"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	cfdixml "github.com/jhoicas/cfdi-engine/internal/infrastructure/cfdi"
)

// printable datos del comprobante que aparecen en la representación impresa.
type printable struct {
	stamp *cfdixml.StampInfo

	IssuerRegime    string
	ReceiverRegime  string
	ReceiverZip     string
	Usage           string
	ExpeditionPlace string
	PaymentMethod   string
	PaymentForm     string
	Exportation     string
	SubTotal        decimal.Decimal
	Discount        decimal.Decimal
	Transferred     decimal.Decimal
	Withheld        decimal.Decimal
	Concepts        []printableConcept
	Related         []string
}

type printableConcept struct {
	ProductCode string
	Quantity    decimal.Decimal
	UnitCode    string
	Description string
	UnitValue   decimal.Decimal
	Amount      decimal.Decimal
	Discount    decimal.Decimal
}

func readPrintable(xml []byte) (*printable, error) {
	stamp, err := cfdixml.ReadStamp(xml)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xml); err != nil {
		return nil, fmt.Errorf("pdf: parsear XML: %w", err)
	}
	root := doc.Root()

	p := &printable{
		stamp:           stamp,
		ExpeditionPlace: root.SelectAttrValue("LugarExpedicion", ""),
		PaymentMethod:   root.SelectAttrValue("MetodoPago", ""),
		PaymentForm:     root.SelectAttrValue("FormaPago", ""),
		Exportation:     root.SelectAttrValue("Exportacion", ""),
		SubTotal:        attrDecimal(root, "SubTotal"),
		Discount:        attrDecimal(root, "Descuento"),
	}
	if e := root.SelectElement("Emisor"); e != nil {
		p.IssuerRegime = e.SelectAttrValue("RegimenFiscal", "")
	}
	if r := root.SelectElement("Receptor"); r != nil {
		p.ReceiverRegime = r.SelectAttrValue("RegimenFiscalReceptor", "")
		p.ReceiverZip = r.SelectAttrValue("DomicilioFiscalReceptor", "")
		p.Usage = r.SelectAttrValue("UsoCFDI", "")
	}
	if imp := root.SelectElement("Impuestos"); imp != nil {
		p.Transferred = attrDecimal(imp, "TotalImpuestosTrasladados")
		p.Withheld = attrDecimal(imp, "TotalImpuestosRetenidos")
	}
	for _, rel := range root.FindElements("./CfdiRelacionados/CfdiRelacionado") {
		if u := rel.SelectAttrValue("UUID", ""); u != "" {
			p.Related = append(p.Related, u)
		}
	}
	if cs := root.SelectElement("Conceptos"); cs != nil {
		for _, c := range cs.SelectElements("Concepto") {
			p.Concepts = append(p.Concepts, printableConcept{
				ProductCode: c.SelectAttrValue("ClaveProdServ", ""),
				Quantity:    attrDecimal(c, "Cantidad"),
				UnitCode:    c.SelectAttrValue("ClaveUnidad", ""),
				Description: c.SelectAttrValue("Descripcion", ""),
				UnitValue:   attrDecimal(c, "ValorUnitario"),
				Amount:      attrDecimal(c, "Importe"),
				Discount:    attrDecimal(c, "Descuento"),
			})
		}
	}
	return p, nil
}

func attrDecimal(el *etree.Element, name string) decimal.Decimal {
	d, err := decimal.NewFromString(el.SelectAttrValue(name, "0"))
	if err != nil {
		return decimal.Zero
	}
	return d
}
