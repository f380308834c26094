package repository

import (
	"context"

	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
)

// DocumentRepository puerto del registro de comprobantes. Es la fuente de verdad
// para la idempotencia del timbrado y para la cancelación.
type DocumentRepository interface {
	// Create inserta la entrada en to_stamp. Si ya existe una para el mismo
	// (emisor, modelo, id de origen, tipo) devuelve domain.ErrDuplicate.
	Create(ctx context.Context, doc *entity.Document) error
	GetByID(ctx context.Context, id string) (*entity.Document, error)
	GetByOrigin(ctx context.Context, issuerID, originModel, originID, kind string) (*entity.Document, error)
	GetByUUID(ctx context.Context, issuerID, uuid string) (*entity.Document, error)

	// Refresh actualiza digest, relacionados y fecha de una entrada aún sin timbrar.
	Refresh(ctx context.Context, doc *entity.Document) error
	// MarkStamped persiste UUID + XML y pasa la entrada a stamped.
	MarkStamped(ctx context.Context, id, uuid string, xml []byte) error
	// RecordUUID guarda el UUID sin XML (el PAC timbró pero la descarga no terminó).
	RecordUUID(ctx context.Context, id, uuid string) error
	MarkError(ctx context.Context, id, message string) error
	// UpdateState cambia el estado; para canceled registra motivo y sustituto.
	UpdateState(ctx context.Context, doc *entity.Document) error

	// ListDependents comprobantes E/P no cancelados que referencian el UUID.
	ListDependents(ctx context.Context, issuerID, uuid string) ([]*entity.Document, error)
	List(ctx context.Context, filter entity.DocumentFilter) ([]*entity.Document, error)
}

// AttachmentRepository puerto de adjuntos de comprobantes.
type AttachmentRepository interface {
	// Save inserta o reemplaza el adjunto con el mismo (documento, nombre).
	Save(ctx context.Context, att *entity.Attachment) error
	GetByName(ctx context.Context, documentID, name string) (*entity.Attachment, error)
	ListByDocument(ctx context.Context, documentID string) ([]*entity.Attachment, error)
}
