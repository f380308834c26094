package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/cfdi-engine/internal/application/dto"
)

// CertificateManager lo implementa *billing.CertificateUseCase.
type CertificateManager interface {
	Ping(ctx context.Context, issuerID string) error
	Check(ctx context.Context, issuerID string) (bool, error)
	Upload(ctx context.Context, issuerID string) (bool, error)
}

// PACHandler conectividad y CSD del emisor en el PAC.
type PACHandler struct {
	certificates CertificateManager
}

// NewPACHandler construye el handler.
func NewPACHandler(certificates CertificateManager) *PACHandler {
	return &PACHandler{certificates: certificates}
}

// Ping valida credenciales y disponibilidad del PAC.
// GET /api/pac/ping
func (h *PACHandler) Ping(c *fiber.Ctx) error {
	if err := h.certificates.Ping(c.UserContext(), GetIssuerID(c)); err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// Certificate indica si el CSD del emisor está dado de alta en el PAC.
// GET /api/pac/certificate
func (h *PACHandler) Certificate(c *fiber.Ctx) error {
	ok, err := h.certificates.Check(c.UserContext(), GetIssuerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.CertificateStatusResponse{RFC: issuerRFC(c), Registered: ok})
}

// UploadCertificate envía el CSD guardado del emisor al PAC.
// POST /api/pac/certificate
func (h *PACHandler) UploadCertificate(c *fiber.Ctx) error {
	ok, err := h.certificates.Upload(c.UserContext(), GetIssuerID(c))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.CertificateStatusResponse{RFC: issuerRFC(c), Registered: ok})
}

func issuerRFC(c *fiber.Ctx) string {
	if issuer := GetIssuer(c); issuer != nil {
		return issuer.RFC
	}
	return ""
}
