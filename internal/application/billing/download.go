package billing

import (
	"context"
	"fmt"

	"github.com/jhoicas/cfdi-engine/internal/domain"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	"github.com/jhoicas/cfdi-engine/internal/domain/repository"
	cfdixml "github.com/jhoicas/cfdi-engine/internal/infrastructure/cfdi"
	"github.com/jhoicas/cfdi-engine/pkg/logger"
)

// File archivo descargable con su nombre sugerido.
type File struct {
	Name     string
	MimeType string
	Content  []byte
}

// DocumentUseCase consulta del registro y descarga de XML, PDF y paquete ZIP.
type DocumentUseCase struct {
	documents   repository.DocumentRepository
	attachments repository.AttachmentRepository
	renderer    PDFRenderer
	log         *logger.Logger
}

// NewDocumentUseCase renderer puede ser nil; entonces PDF y paquete sin PDF no están disponibles.
func NewDocumentUseCase(
	documents repository.DocumentRepository,
	attachments repository.AttachmentRepository,
	renderer PDFRenderer,
	log *logger.Logger,
) *DocumentUseCase {
	if log == nil {
		log = logger.Nop()
	}
	return &DocumentUseCase{
		documents:   documents,
		attachments: attachments,
		renderer:    renderer,
		log:         log.Component("documents"),
	}
}

// Get entrada del registro. Una entrada de otro emisor devuelve domain.ErrForbidden.
func (uc *DocumentUseCase) Get(ctx context.Context, issuerID, id string) (*entity.Document, error) {
	doc, err := uc.documents.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("documento: obtener: %w", err)
	}
	if doc == nil {
		return nil, domain.ErrNotFound
	}
	if issuerID != "" && doc.IssuerID != issuerID {
		return nil, domain.ErrForbidden
	}
	return doc, nil
}

// List listado filtrado; el emisor del token siempre restringe el filtro.
func (uc *DocumentUseCase) List(ctx context.Context, issuerID string, filter entity.DocumentFilter) ([]*entity.Document, error) {
	if issuerID != "" {
		filter.IssuerID = issuerID
	}
	docs, err := uc.documents.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("documento: listar: %w", err)
	}
	return docs, nil
}

// Attachments adjuntos registrados del comprobante.
func (uc *DocumentUseCase) Attachments(ctx context.Context, issuerID, id string) ([]*entity.Attachment, error) {
	if _, err := uc.Get(ctx, issuerID, id); err != nil {
		return nil, err
	}
	atts, err := uc.attachments.ListByDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("documento: listar adjuntos: %w", err)
	}
	return atts, nil
}

// XML XML timbrado. Sin UUID (aún en to_stamp) devuelve domain.ErrInvalidState.
func (uc *DocumentUseCase) XML(ctx context.Context, issuerID, id string) (*File, error) {
	doc, err := uc.Get(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	xml, err := uc.stampedXML(ctx, doc)
	if err != nil {
		return nil, err
	}
	return &File{
		Name:     entity.StampedXMLName(doc.UUID, doc.OriginModel, doc.OriginID),
		MimeType: entity.MimeXML,
		Content:  xml,
	}, nil
}

// Bundle ZIP con XML timbrado, PDF y acuse de cancelación si existe.
func (uc *DocumentUseCase) Bundle(ctx context.Context, issuerID, id string) (*File, error) {
	doc, err := uc.Get(ctx, issuerID, id)
	if err != nil {
		return nil, err
	}
	xml, err := uc.stampedXML(ctx, doc)
	if err != nil {
		return nil, err
	}

	files := []cfdixml.BundleFile{{Name: doc.UUID + ".xml", Content: xml}}
	if pdf, err := uc.pdf(ctx, doc, xml); err != nil {
		uc.log.Warn().Err(err).Str("uuid", doc.UUID).Msg("paquete sin representación impresa")
	} else {
		files = append(files, cfdixml.BundleFile{Name: doc.UUID + ".pdf", Content: pdf})
	}
	ack, err := uc.attachments.GetByName(ctx, doc.ID, entity.CancellationAckName(doc.UUID))
	if err != nil {
		return nil, fmt.Errorf("documento: obtener acuse: %w", err)
	}
	if ack != nil {
		files = append(files, cfdixml.BundleFile{Name: ack.Name, Content: ack.Content})
	}

	zip, err := cfdixml.BuildBundle(files...)
	if err != nil {
		return nil, fmt.Errorf("documento: %w", err)
	}
	return &File{Name: doc.UUID + ".zip", MimeType: entity.MimeZIP, Content: zip}, nil
}

// stampedXML XML del registro o, si la columna está vacía, del adjunto.
func (uc *DocumentUseCase) stampedXML(ctx context.Context, doc *entity.Document) ([]byte, error) {
	if doc.UUID == "" {
		return nil, fmt.Errorf("%w: el comprobante %s está en %s y aún no tiene folio fiscal",
			domain.ErrInvalidState, doc.ID, doc.State)
	}
	if len(doc.XML) > 0 {
		return doc.XML, nil
	}
	att, err := uc.attachments.GetByName(ctx, doc.ID, entity.StampedXMLName(doc.UUID, doc.OriginModel, doc.OriginID))
	if err != nil {
		return nil, fmt.Errorf("documento: obtener XML: %w", err)
	}
	if att == nil {
		return nil, fmt.Errorf("%w: XML timbrado de %s", domain.ErrNotFound, doc.UUID)
	}
	return att.Content, nil
}
