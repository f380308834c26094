package pac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
)

var _ billing.CertificationProvider = (*TestProvider)(nil)

// TestProvider proveedor sin red: siempre timbra y cancela. Devuelve el mismo XML
// recibido como "timbrado" y un UUID aleatorio.
type TestProvider struct {
	now func() time.Time
}

func NewTestProvider() *TestProvider {
	return &TestProvider{now: time.Now}
}

func (p *TestProvider) Certify(ctx context.Context, xml []byte) (*cfdi.CertificationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &cfdi.TimeoutError{Op: "certify", Err: err}
	}
	out := make([]byte, len(xml))
	copy(out, xml)
	return &cfdi.CertificationResult{
		UUID:      strings.ToUpper(uuid.New().String()),
		XML:       out,
		StampedAt: p.now(),
	}, nil
}

// DownloadByIdentifier el proveedor de pruebas no guarda nada; siempre "aún no disponible".
func (p *TestProvider) DownloadByIdentifier(_ context.Context, id string) ([]byte, []byte, error) {
	return nil, nil, &cfdi.NotYetAvailableError{UUID: id, Attempts: 1}
}

func (p *TestProvider) Cancel(ctx context.Context, req billing.CancelRequest) (*billing.CancellationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, &cfdi.TimeoutError{Op: "cancel", Err: err}
	}
	ack := fmt.Sprintf(`<Acuse Fecha="%s"><Folios><UUID>%s</UUID><EstatusUUID>201</EstatusUUID></Folios></Acuse>`,
		p.now().Format("2006-01-02T15:04:05"), strings.ToUpper(req.UUID))
	return &billing.CancellationResult{Status: "201", Ack: []byte(ack)}, nil
}

func (p *TestProvider) HasCertificate(context.Context, string) (bool, error) { return true, nil }

func (p *TestProvider) UploadCertificate(context.Context) (bool, error) { return true, nil }

func (p *TestProvider) Ping(context.Context) error { return nil }
