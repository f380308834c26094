package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	"github.com/jhoicas/cfdi-engine/internal/domain/repository"
)

var _ repository.AttachmentRepository = (*AttachmentRepo)(nil)

// Los XML timbrados rara vez pasan de 16KB; los acuses y complementos grandes sí.
const attachmentCompressThreshold = 16 * 1024

type attachmentRow struct {
	ID          string    `db:"id"`
	DocumentID  string    `db:"document_id"`
	Name        string    `db:"name"`
	MimeType    string    `db:"mime_type"`
	Content     []byte    `db:"content"`
	Compression string    `db:"compression"`
	Size        int       `db:"size"`
	CreatedAt   time.Time `db:"created_at"`
}

// AttachmentRepo guarda adjuntos en cfdi_attachments, comprimiendo con zstd los grandes.
type AttachmentRepo struct {
	db        Querier
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
	threshold int
}

func NewAttachmentRepository(db Querier) (*AttachmentRepo, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &AttachmentRepo{
		db:        db,
		encoder:   encoder,
		decoder:   decoder,
		threshold: attachmentCompressThreshold,
	}, nil
}

// WithQuerier copia del repositorio sobre otra conexión (p. ej. una tx) con los mismos codecs.
func (r *AttachmentRepo) WithQuerier(db Querier) *AttachmentRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *AttachmentRepo) Save(ctx context.Context, att *entity.Attachment) error {
	if att.ID == "" {
		att.ID = uuid.New().String()
	}
	att.Size = len(att.Content)
	stored := att.Content
	att.Compression = entity.CompressionNone
	if len(att.Content) > r.threshold {
		stored = r.encoder.EncodeAll(att.Content, nil)
		att.Compression = entity.CompressionZstd
	}

	const q = `
		INSERT INTO cfdi_attachments (id, document_id, name, mime_type, content, compression, size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (document_id, name) DO UPDATE
		SET mime_type = EXCLUDED.mime_type, content = EXCLUDED.content,
		    compression = EXCLUDED.compression, size = EXCLUDED.size
		RETURNING id, created_at`
	err := r.db.QueryRow(ctx, q,
		att.ID, att.DocumentID, att.Name, att.MimeType, stored, att.Compression, att.Size,
	).Scan(&att.ID, &att.CreatedAt)
	if err != nil {
		return fmt.Errorf("save cfdi_attachment %s: %w", att.Name, err)
	}
	return nil
}

func (r *AttachmentRepo) GetByName(ctx context.Context, documentID, name string) (*entity.Attachment, error) {
	const q = `
		SELECT id, document_id, name, mime_type, content, compression, size, created_at
		FROM cfdi_attachments WHERE document_id = $1 AND name = $2`
	var row attachmentRow
	if err := pgxscan.Get(ctx, r.db, &row, q, documentID, name); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cfdi_attachment: %w", err)
	}
	return r.toEntity(row)
}

func (r *AttachmentRepo) ListByDocument(ctx context.Context, documentID string) ([]*entity.Attachment, error) {
	const q = `
		SELECT id, document_id, name, mime_type, content, compression, size, created_at
		FROM cfdi_attachments WHERE document_id = $1 ORDER BY created_at, name`
	var rows []attachmentRow
	if err := pgxscan.Select(ctx, r.db, &rows, q, documentID); err != nil {
		return nil, fmt.Errorf("list cfdi_attachments: %w", err)
	}
	out := make([]*entity.Attachment, 0, len(rows))
	for _, row := range rows {
		att, err := r.toEntity(row)
		if err != nil {
			return nil, err
		}
		out = append(out, att)
	}
	return out, nil
}

func (r *AttachmentRepo) toEntity(row attachmentRow) (*entity.Attachment, error) {
	content := row.Content
	if row.Compression == entity.CompressionZstd {
		decoded, err := r.decoder.DecodeAll(row.Content, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress cfdi_attachment %s: %w", row.Name, err)
		}
		content = decoded
	}
	return &entity.Attachment{
		ID:          row.ID,
		DocumentID:  row.DocumentID,
		Name:        row.Name,
		MimeType:    row.MimeType,
		Content:     content,
		Compression: row.Compression,
		Size:        row.Size,
		CreatedAt:   row.CreatedAt,
	}, nil
}
