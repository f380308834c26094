package http

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/application/dto"
	"github.com/jhoicas/cfdi-engine/internal/domain"
	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
)

// Stamper lo implementa *billing.StampingOrchestrator.
type Stamper interface {
	Stamp(ctx context.Context, cmd billing.StampCommand) (*billing.StampResult, error)
}

// Canceler lo implementa *billing.CancelUseCase.
type Canceler interface {
	Cancel(ctx context.Context, cmd billing.CancelCommand) (*billing.CancelResult, error)
}

// DocumentReader lo implementa *billing.DocumentUseCase.
type DocumentReader interface {
	Get(ctx context.Context, issuerID, id string) (*entity.Document, error)
	List(ctx context.Context, issuerID string, filter entity.DocumentFilter) ([]*entity.Document, error)
	XML(ctx context.Context, issuerID, id string) (*billing.File, error)
	PDF(ctx context.Context, issuerID, id string) (*billing.File, error)
	Bundle(ctx context.Context, issuerID, id string) (*billing.File, error)
}

// CFDIHandler timbrado, consulta, descarga y cancelación (protegido).
type CFDIHandler struct {
	stamper   Stamper
	canceler  Canceler
	documents DocumentReader
}

// NewCFDIHandler construye el handler.
func NewCFDIHandler(stamper Stamper, canceler Canceler, documents DocumentReader) *CFDIHandler {
	return &CFDIHandler{stamper: stamper, canceler: canceler, documents: documents}
}

// Stamp timbra el registro de origen del body.
// POST /api/cfdi/stamp
func (h *CFDIHandler) Stamp(c *fiber.Ctx) error {
	issuerID := GetIssuerID(c)
	if issuerID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: "token inválido"})
	}
	var in dto.StampRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if strings.TrimSpace(in.OriginModel) == "" || strings.TrimSpace(in.OriginID) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "origin_model y origin_id requeridos"})
	}
	res, err := h.stamper.Stamp(c.UserContext(), billing.StampCommand{
		IssuerID:    issuerID,
		OriginModel: in.OriginModel,
		OriginID:    in.OriginID,
		Input:       in.BuildInput(),
	})
	if err != nil {
		return writeError(c, err)
	}
	status := fiber.StatusCreated
	if res.Reused {
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(dto.StampResponse{UUID: res.UUID, DocumentID: res.DocumentID, Reused: res.Reused})
}

// Get entrada del registro.
// GET /api/cfdi/:id
func (h *CFDIHandler) Get(c *fiber.Ctx) error {
	doc, err := h.documents.Get(c.UserContext(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.NewDocumentResponse(doc))
}

// List listado del registro del emisor.
// GET /api/cfdi?state=&kind=&origin_model=&origin_id=&uuid=&from=&to=&limit=&offset=
func (h *CFDIHandler) List(c *fiber.Ctx) error {
	var q dto.DocumentListQuery
	if err := c.QueryParser(&q); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_QUERY", Message: "parámetros inválidos"})
	}
	q.DefaultPage()
	filter := entity.DocumentFilter{
		State:       q.State,
		Kind:        strings.ToUpper(q.Kind),
		OriginModel: q.OriginModel,
		OriginID:    q.OriginID,
		UUID:        strings.ToUpper(q.UUID),
		Limit:       uint64(q.Limit),
		Offset:      uint64(q.Offset),
	}
	var err error
	if filter.From, err = parseDay(q.From, false); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_QUERY", Message: "from: formato YYYY-MM-DD"})
	}
	if filter.To, err = parseDay(q.To, true); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_QUERY", Message: "to: formato YYYY-MM-DD"})
	}
	docs, err := h.documents.List(c.UserContext(), GetIssuerID(c), filter)
	if err != nil {
		return writeError(c, err)
	}
	items := make([]dto.DocumentResponse, 0, len(docs))
	for _, d := range docs {
		items = append(items, dto.NewDocumentResponse(d))
	}
	return c.JSON(dto.DocumentListResponse{
		Items: items,
		Page:  dto.PageResponse{Limit: q.Limit, Offset: q.Offset},
	})
}

// parseDay fecha YYYY-MM-DD; endOfDay mueve al último instante del día.
func parseDay(s string, endOfDay bool) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// XML descarga el XML timbrado.
// GET /api/cfdi/:id/xml
func (h *CFDIHandler) XML(c *fiber.Ctx) error {
	return h.download(c, h.documents.XML)
}

// PDF descarga la representación impresa.
// GET /api/cfdi/:id/pdf
func (h *CFDIHandler) PDF(c *fiber.Ctx) error {
	return h.download(c, h.documents.PDF)
}

// Bundle descarga XML + PDF (+ acuse) en un zip.
// GET /api/cfdi/:id/bundle
func (h *CFDIHandler) Bundle(c *fiber.Ctx) error {
	return h.download(c, h.documents.Bundle)
}

func (h *CFDIHandler) download(c *fiber.Ctx, get func(ctx context.Context, issuerID, id string) (*billing.File, error)) error {
	f, err := get(c.UserContext(), GetIssuerID(c), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, f.MimeType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+f.Name+`"`)
	return c.Send(f.Content)
}

// Cancel cancela el comprobante ante el PAC.
// POST /api/cfdi/:id/cancel
func (h *CFDIHandler) Cancel(c *fiber.Ctx) error {
	var in dto.CancelRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
		}
	}
	res, err := h.canceler.Cancel(c.UserContext(), billing.CancelCommand{
		IssuerID:    GetIssuerID(c),
		DocumentID:  c.Params("id"),
		Reason:      in.Reason,
		Replacement: strings.ToUpper(strings.TrimSpace(in.Replacement)),
	})
	if err != nil {
		return writeError(c, err)
	}
	out := dto.CancelResponse{
		DocumentID:    res.DocumentID,
		UUID:          res.UUID,
		State:         res.State,
		Status:        res.Status,
		ProviderError: res.ProviderError,
	}
	for _, r := range res.Recompute {
		out.Recompute = append(out.Recompute, dto.RecomputeHintResponse{
			UUID: r.UUID, Kind: r.Kind, OriginModel: r.OriginModel, OriginID: r.OriginID,
		})
	}
	return c.JSON(out)
}

// writeError traduce la taxonomía de errores a HTTP. El mensaje del PAC se
// conserva tal cual.
func writeError(c *fiber.Ctx, err error) error {
	var (
		ve  *cfdi.ValidationError
		pr  *cfdi.ProviderRejection
		te  *cfdi.TransportError
		to  *cfdi.TimeoutError
		nya *cfdi.NotYetAvailableError
		ts  *cfdi.TimeSkewError
		pe  *billing.PersistError
	)
	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: ve.Error()})
	case errors.As(err, &nya):
		return c.Status(fiber.StatusAccepted).JSON(dto.ErrorResponse{Code: "NOT_YET_AVAILABLE", Message: nya.Error()})
	case errors.As(err, &pe):
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "PERSIST_FAILED", Message: pe.Error()})
	case errors.As(err, &ts):
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Code: "PAC_TIME_SKEW", Message: ts.Error()})
	case errors.As(err, &pr):
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Code: "PAC_REJECTED", Message: pr.Error()})
	case errors.As(err, &te):
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Code: "PAC_UNAVAILABLE", Message: te.Error()})
	case errors.As(err, &to):
		return c.Status(fiber.StatusGatewayTimeout).JSON(dto.ErrorResponse{Code: "TIMEOUT", Message: to.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: err.Error()})
	case errors.Is(err, domain.ErrForbidden):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Code: "FORBIDDEN", Message: "acceso denegado"})
	case errors.Is(err, domain.ErrHasDependents):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "HAS_DEPENDENTS", Message: err.Error()})
	case errors.Is(err, domain.ErrCancelWindowExpired):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CANCEL_WINDOW_EXPIRED", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidState):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "INVALID_STATE", Message: err.Error()})
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrDuplicate):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "CONFLICT", Message: err.Error()})
	case errors.Is(err, domain.ErrMissingCredentials):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "MISSING_CREDENTIALS", Message: err.Error()})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_INPUT", Message: err.Error()})
	case errors.Is(err, domain.ErrUnauthorized):
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Code: "UNAUTHORIZED", Message: err.Error()})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}
