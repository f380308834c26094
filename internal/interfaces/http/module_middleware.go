package http

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/cfdi-engine/internal/application/dto"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
)

// LocalIssuer key del emisor cargado por RequireIssuer.
const LocalIssuer = "issuer"

// issuerLookup es el contrato mínimo que necesita el middleware para cargar el emisor.
// Lo implementa repository.IssuerRepository.
type issuerLookup interface {
	GetByID(ctx context.Context, id string) (*entity.Issuer, error)
}

// RequireIssuer verifica que el emisor del token exista en el registro y lo deja
// en c.Locals(LocalIssuer). Debe usarse DESPUÉS de AuthMiddleware.
//
// Comportamiento:
//   - 401 Unauthorized        → el token no trae issuer_id.
//   - 403 Forbidden           → el emisor no está registrado.
//   - 503 Service Unavailable → fallo de infraestructura al consultar la DB.
func RequireIssuer(issuers issuerLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		issuerID := GetIssuerID(c)
		if issuerID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{
				Code:    "UNAUTHORIZED",
				Message: "issuer_id no encontrado en el token",
			})
		}

		issuer, err := issuers.GetByID(c.UserContext(), issuerID)
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{
				Code:    "ISSUER_CHECK_FAILED",
				Message: "no se pudo verificar el emisor, intente más tarde",
			})
		}
		if issuer == nil {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{
				Code:    "ISSUER_NOT_REGISTERED",
				Message: "el emisor '" + issuerID + "' no está registrado",
			})
		}

		c.Locals(LocalIssuer, issuer)
		return c.Next()
	}
}

// GetIssuer emisor cargado por RequireIssuer; nil si la ruta no lo usa.
func GetIssuer(c *fiber.Ctx) *entity.Issuer {
	issuer, _ := c.Locals(LocalIssuer).(*entity.Issuer)
	return issuer
}
