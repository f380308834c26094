// Package sat contiene catálogos y validaciones alineados al Anexo 20 del SAT
// (CFDI 4.0) y al complemento de recepción de pagos 2.0.
package sat

// Versiones y espacios de nombres del comprobante.
const (
	CFDIVersion    = "4.0"
	PagosVersion   = "2.0"
	TimbreVersion  = "1.1"
	NsCFDI         = "http://www.sat.gob.mx/cfd/4"
	NsPagos        = "http://www.sat.gob.mx/Pagos20"
	NsTimbre       = "http://www.sat.gob.mx/TimbreFiscalDigital"
	NsXSI          = "http://www.w3.org/2001/XMLSchema-instance"
	SchemaLocation = "http://www.sat.gob.mx/cfd/4 http://www.sat.gob.mx/sitio_internet/cfd/4/cfdv40.xsd"
	SchemaPagos    = "http://www.sat.gob.mx/Pagos20 http://www.sat.gob.mx/sitio_internet/cfd/Pagos/Pagos20.xsd"
)

// =============================================================================
// c_TipoDeComprobante
// =============================================================================

const (
	KindIncome  = "I" // Ingreso
	KindEgress  = "E" // Egreso (nota de crédito)
	KindPayment = "P" // Pago (complemento de recepción de pagos)
)

// =============================================================================
// c_Impuesto y c_TipoFactor
// =============================================================================

const (
	TaxISR  = "001"
	TaxIVA  = "002"
	TaxIEPS = "003"

	FactorRate   = "Tasa"
	FactorQuota  = "Cuota"
	FactorExempt = "Exento"
)

// ValidTaxCodes impuestos aceptados en traslados y retenciones.
var ValidTaxCodes = map[string]bool{TaxISR: true, TaxIVA: true, TaxIEPS: true}

// =============================================================================
// c_ObjetoImp
// =============================================================================

const (
	TaxObjectNo        = "01" // No objeto de impuesto
	TaxObjectYes       = "02" // Sí objeto de impuesto
	TaxObjectYesNoDesg = "03" // Sí objeto, no obligado al desglose
)

// =============================================================================
// c_MetodoPago y c_FormaPago
// =============================================================================

const (
	MethodSingle   = "PUE" // Pago en una sola exhibición
	MethodDeferred = "PPD" // Pago en parcialidades o diferido

	FormCash            = "01" // Efectivo
	FormCheck           = "02" // Cheque nominativo
	FormTransfer        = "03" // Transferencia electrónica de fondos
	FormCreditCard      = "04" // Tarjeta de crédito
	FormElectronicPurse = "05" // Monedero electrónico
	FormDebitCard       = "28" // Tarjeta de débito
	FormServiceCard     = "29" // Tarjeta de servicios
	FormToBeDefined     = "99" // Por definir
)

// ValidPaymentForms formas de pago del catálogo c_FormaPago.
var ValidPaymentForms = map[string]bool{
	"01": true, "02": true, "03": true, "04": true, "05": true, "06": true, "08": true,
	"12": true, "13": true, "14": true, "15": true, "17": true, "23": true, "24": true,
	"25": true, "26": true, "27": true, "28": true, "29": true, "30": true, "31": true,
	"99": true,
}

// =============================================================================
// c_UsoCFDI
// =============================================================================

const (
	UsageGoods     = "G01"  // Adquisición de mercancías
	UsageReturns   = "G02"  // Devoluciones, descuentos o bonificaciones
	UsageExpenses  = "G03"  // Gastos en general
	UsageNoEffects = "S01"  // Sin efectos fiscales
	UsagePayments  = "CP01" // Pagos
)

// ValidUsages usos del catálogo c_UsoCFDI aceptados por el motor.
var ValidUsages = map[string]bool{
	"G01": true, "G02": true, "G03": true,
	"I01": true, "I02": true, "I03": true, "I04": true, "I05": true, "I06": true, "I07": true, "I08": true,
	"D01": true, "D02": true, "D03": true, "D04": true, "D05": true, "D06": true, "D07": true,
	"D08": true, "D09": true, "D10": true,
	"S01": true, "CP01": true, "CN01": true,
}

// =============================================================================
// c_RegimenFiscal (subconjunto de uso común)
// =============================================================================

const (
	RegimeGeneral       = "601" // General de Ley Personas Morales
	RegimeSalaried      = "605" // Sueldos y Salarios
	RegimeLeasing       = "606" // Arrendamiento
	RegimeNoObligations = "616" // Sin obligaciones fiscales
	RegimeBusiness      = "612" // Personas Físicas con Actividades Empresariales
	RegimeRESICO        = "626" // Régimen Simplificado de Confianza
)

// ValidRegimes regímenes fiscales del catálogo c_RegimenFiscal.
var ValidRegimes = map[string]bool{
	"601": true, "603": true, "605": true, "606": true, "607": true, "608": true, "610": true,
	"611": true, "612": true, "614": true, "615": true, "616": true, "620": true, "621": true,
	"622": true, "623": true, "624": true, "625": true, "626": true,
}

// =============================================================================
// c_Moneda (subconjunto) y exportación
// =============================================================================

const (
	CurrencyMXN        = "MXN"
	CurrencyUSD        = "USD"
	CurrencyNotApplies = "XXX" // Sin moneda (comprobantes de pago)

	ExportNotApplies = "01"
)

// =============================================================================
// c_TipoRelacion
// =============================================================================

const (
	RelationCreditNote   = "01" // Nota de crédito de los documentos relacionados
	RelationDebitNote    = "02" // Nota de débito
	RelationReturn       = "03" // Devolución de mercancía
	RelationSubstitution = "04" // Sustitución de los CFDI previos
	RelationPrepayment   = "07" // CFDI por aplicación de anticipo
)

// ValidRelationTypes tipos de relación del catálogo c_TipoRelacion.
var ValidRelationTypes = map[string]bool{
	"01": true, "02": true, "03": true, "04": true, "05": true, "06": true, "07": true,
}

// =============================================================================
// Motivos de cancelación (c_MotivoCancelacion)
// =============================================================================

const (
	CancelWithErrorsRelated   = "01" // Comprobante emitido con errores con relación (requiere folio sustitución)
	CancelWithErrorsUnrelated = "02" // Comprobante emitido con errores sin relación
	CancelNotCarried          = "03" // No se llevó a cabo la operación
	CancelGlobalNominative    = "04" // Operación nominativa relacionada en una factura global
)

// ValidCancelReasons motivos aceptados por el servicio de cancelación.
var ValidCancelReasons = map[string]bool{
	CancelWithErrorsRelated: true, CancelWithErrorsUnrelated: true,
	CancelNotCarried: true, CancelGlobalNominative: true,
}

// =============================================================================
// Receptores genéricos
// =============================================================================

const (
	RFCGenericPublic  = "XAXX010101000" // Público en general
	RFCGenericForeign = "XEXX010101000" // Residente en el extranjero

	GenericName       = "PUBLICO EN GENERAL"
	GenericPostalCode = "99999"

	// Periodicidad de InformacionGlobal
	PeriodicityDaily   = "01"
	PeriodicityWeekly  = "02"
	PeriodicityMonthly = "04"
)
