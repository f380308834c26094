package billing

import (
	"context"
	"time"

	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	"github.com/jhoicas/cfdi-engine/internal/domain/repository"
)

// CertificationProvider contrato con el PAC. Una implementación por proveedor,
// elegida por configuración (ver pac.Factory).
type CertificationProvider interface {
	// Certify envía el comprobante sin timbrar. El resultado puede traer UUID sin XML;
	// en ese caso el XML se recupera con DownloadByIdentifier.
	Certify(ctx context.Context, xml []byte) (*cfdi.CertificationResult, error)
	// DownloadByIdentifier devuelve *cfdi.NotYetAvailableError mientras el PAC no publique el XML.
	DownloadByIdentifier(ctx context.Context, uuid string) (xml, ack []byte, err error)
	Cancel(ctx context.Context, req CancelRequest) (*CancellationResult, error)
	HasCertificate(ctx context.Context, rfc string) (bool, error)
	UploadCertificate(ctx context.Context) (bool, error)
	Ping(ctx context.Context) error
}

// CancelRequest solicitud de cancelación ante el PAC.
type CancelRequest struct {
	UUID        string
	Reason      string // motivo SAT 01..04
	Replacement string // folio sustitución, obligatorio con motivo 01
}

// CancellationResult respuesta del PAC a una cancelación.
type CancellationResult struct {
	Status string // código de estatus (201, 202, ...)
	Ack    []byte // acuse XML, puede venir vacío
}

// ProviderFactory construye el proveedor con la configuración explícita del emisor.
type ProviderFactory interface {
	ForIssuer(issuer *entity.Issuer) (CertificationProvider, error)
}

// Locker serializa el timbrado por emisor entre procesos.
type Locker interface {
	// Acquire bloquea hasta obtener el candado o hasta que ctx expire. La función
	// devuelta lo libera y es segura de llamar más de una vez.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// RegistryTxRunner ejecuta fn con repos del registro atados a una misma transacción.
type RegistryTxRunner interface {
	RunRegistry(ctx context.Context, fn func(
		docs repository.DocumentRepository,
		atts repository.AttachmentRepository,
	) error) error
}

// PDFRenderer genera la representación impresa de un comprobante timbrado.
type PDFRenderer interface {
	Render(xml []byte) ([]byte, error)
}
