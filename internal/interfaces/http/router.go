package http

import (
	"github.com/gofiber/fiber/v2"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Stamping     Stamper
	Cancel       Canceler
	Documents    DocumentReader
	Certificates CertificateManager
	Issuers      issuerLookup
	JWTSecret    string
}

// Router registra las rutas de la API. Todo /api va detrás del Bearer Token y
// de un emisor registrado; cancelar y subir el CSD son sólo de admin.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api", AuthMiddleware(deps.JWTSecret), RequireIssuer(deps.Issuers))
	anyRole := RequireRole(RoleAdmin, RoleFacturista)
	adminOnly := RequireRole(RoleAdmin)

	// Comprobantes
	cfdiGroup := api.Group("/cfdi", anyRole)
	cfdiHandler := NewCFDIHandler(deps.Stamping, deps.Cancel, deps.Documents)
	cfdiGroup.Post("/stamp", cfdiHandler.Stamp)
	cfdiGroup.Get("/", cfdiHandler.List)
	cfdiGroup.Get("/:id", cfdiHandler.Get)
	cfdiGroup.Get("/:id/xml", cfdiHandler.XML)
	cfdiGroup.Get("/:id/pdf", cfdiHandler.PDF)
	cfdiGroup.Get("/:id/bundle", cfdiHandler.Bundle)
	cfdiGroup.Post("/:id/cancel", adminOnly, cfdiHandler.Cancel)

	// PAC
	pac := api.Group("/pac", anyRole)
	pacHandler := NewPACHandler(deps.Certificates)
	pac.Get("/ping", pacHandler.Ping)
	pac.Get("/certificate", pacHandler.Certificate)
	pac.Post("/certificate", adminOnly, pacHandler.UploadCertificate)
}
