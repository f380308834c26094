package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
)

var errNoRenderer = errors.New("representación impresa no configurada")

// PDFName nombre del adjunto con la representación impresa.
func PDFName(uuid string) string { return uuid + ".pdf" }

// PDF representación impresa del comprobante timbrado. La primera generación se
// guarda como adjunto; las siguientes se sirven desde el registro.
//
// Retorna:
//   - domain.ErrNotFound      si el comprobante no existe.
//   - domain.ErrForbidden     si pertenece a otro emisor.
//   - domain.ErrInvalidState  si aún no tiene folio fiscal.
func (uc *DocumentUseCase) PDF(ctx context.Context, issuerID, id string) (*File, error) {
	doc, err := uc.Get(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	xml, err := uc.stampedXML(ctx, doc)
	if err != nil {
		return nil, err
	}
	pdf, err := uc.pdf(ctx, doc, xml)
	if err != nil {
		return nil, err
	}
	return &File{Name: PDFName(doc.UUID), MimeType: entity.MimePDF, Content: pdf}, nil
}

func (uc *DocumentUseCase) pdf(ctx context.Context, doc *entity.Document, xml []byte) ([]byte, error) {
	cached, err := uc.attachments.GetByName(ctx, doc.ID, PDFName(doc.UUID))
	if err != nil {
		return nil, fmt.Errorf("pdf: obtener adjunto: %w", err)
	}
	if cached != nil {
		return cached.Content, nil
	}
	if uc.renderer == nil {
		return nil, errNoRenderer
	}

	pdf, err := uc.renderer.Render(xml)
	if err != nil {
		return nil, fmt.Errorf("pdf: generación fallida: %w", err)
	}
	att := &entity.Attachment{
		DocumentID: doc.ID,
		Name:       PDFName(doc.UUID),
		MimeType:   entity.MimePDF,
		Content:    pdf,
	}
	if err := uc.attachments.Save(context.WithoutCancel(ctx), att); err != nil {
		uc.log.Warn().Err(err).Str("uuid", doc.UUID).Msg("no se pudo guardar el PDF como adjunto")
	}
	return pdf, nil
}
