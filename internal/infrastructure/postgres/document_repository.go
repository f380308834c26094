package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/cfdi-engine/internal/domain"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	"github.com/jhoicas/cfdi-engine/internal/domain/repository"
)

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

const documentColumns = `id, issuer_id, origin_model, origin_id, kind, uuid, state, xml, digest,
	related_uuids, series, folio, total, issued_at, stamped_at, canceled_at,
	cancel_reason, replacement, last_error, created_at, updated_at`

// documentRow fila de cfdi_documents tal como la escanea pgxscan.
type documentRow struct {
	ID           string              `db:"id"`
	IssuerID     string              `db:"issuer_id"`
	OriginModel  string              `db:"origin_model"`
	OriginID     string              `db:"origin_id"`
	Kind         string              `db:"kind"`
	UUID         *string             `db:"uuid"`
	State        string              `db:"state"`
	XML          []byte              `db:"xml"`
	Digest       *string             `db:"digest"`
	RelatedUUIDs []string            `db:"related_uuids"`
	Series       *string             `db:"series"`
	Folio        *string             `db:"folio"`
	Total        decimal.NullDecimal `db:"total"`
	IssuedAt     time.Time           `db:"issued_at"`
	StampedAt    *time.Time          `db:"stamped_at"`
	CanceledAt   *time.Time          `db:"canceled_at"`
	CancelReason *string             `db:"cancel_reason"`
	Replacement  *string             `db:"replacement"`
	LastError    *string             `db:"last_error"`
	CreatedAt    time.Time           `db:"created_at"`
	UpdatedAt    time.Time           `db:"updated_at"`
}

func (r documentRow) toEntity() *entity.Document {
	return &entity.Document{
		ID:           r.ID,
		IssuerID:     r.IssuerID,
		OriginModel:  r.OriginModel,
		OriginID:     r.OriginID,
		Kind:         r.Kind,
		UUID:         deref(r.UUID),
		State:        r.State,
		XML:          r.XML,
		Digest:       deref(r.Digest),
		RelatedUUIDs: r.RelatedUUIDs,
		Series:       deref(r.Series),
		Folio:        deref(r.Folio),
		Total:        r.Total.Decimal,
		IssuedAt:     r.IssuedAt,
		StampedAt:    r.StampedAt,
		CanceledAt:   r.CanceledAt,
		CancelReason: deref(r.CancelReason),
		Replacement:  deref(r.Replacement),
		LastError:    deref(r.LastError),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

// DocumentRepo implementa DocumentRepository sobre PostgreSQL.
type DocumentRepo struct {
	db      Querier
	builder squirrel.StatementBuilderType
}

// NewDocumentRepository construye el repositorio. db puede ser el pool o una tx.
func NewDocumentRepository(db Querier) *DocumentRepo {
	return &DocumentRepo{
		db:      db,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (r *DocumentRepo) Create(ctx context.Context, doc *entity.Document) error {
	const q = `
		INSERT INTO cfdi_documents
			(id, issuer_id, origin_model, origin_id, kind, state, digest, related_uuids,
			 series, folio, total, issued_at, created_at, updated_at)
		VALUES
			($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())`
	related := doc.RelatedUUIDs
	if related == nil {
		related = []string{}
	}
	_, err := r.db.Exec(ctx, q,
		doc.ID, doc.IssuerID, doc.OriginModel, doc.OriginID, doc.Kind, doc.State,
		nullIfEmpty(doc.Digest), related, nullIfEmpty(doc.Series), nullIfEmpty(doc.Folio),
		doc.Total, doc.IssuedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert cfdi_document: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("insert cfdi_document: %w", err)
	}
	return nil
}

func (r *DocumentRepo) getOne(ctx context.Context, where string, args ...any) (*entity.Document, error) {
	var row documentRow
	q := `SELECT ` + documentColumns + ` FROM cfdi_documents WHERE ` + where
	if err := pgxscan.Get(ctx, r.db, &row, q, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return row.toEntity(), nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*entity.Document, error) {
	doc, err := r.getOne(ctx, `id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get cfdi_document by id: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepo) GetByOrigin(ctx context.Context, issuerID, originModel, originID, kind string) (*entity.Document, error) {
	doc, err := r.getOne(ctx,
		`issuer_id = $1 AND origin_model = $2 AND origin_id = $3 AND kind = $4`,
		issuerID, originModel, originID, kind)
	if err != nil {
		return nil, fmt.Errorf("get cfdi_document by origin: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepo) GetByUUID(ctx context.Context, issuerID, uuid string) (*entity.Document, error) {
	doc, err := r.getOne(ctx, `issuer_id = $1 AND uuid = $2`, issuerID, uuid)
	if err != nil {
		return nil, fmt.Errorf("get cfdi_document by uuid: %w", err)
	}
	return doc, nil
}

func (r *DocumentRepo) Refresh(ctx context.Context, doc *entity.Document) error {
	const q = `
		UPDATE cfdi_documents
		SET digest = $2, related_uuids = $3, series = $4, folio = $5, total = $6,
		    issued_at = $7, state = 'to_stamp', last_error = NULL, updated_at = now()
		WHERE id = $1 AND state = 'to_stamp'`
	related := doc.RelatedUUIDs
	if related == nil {
		related = []string{}
	}
	return r.execOne(ctx, "refresh cfdi_document", q,
		doc.ID, nullIfEmpty(doc.Digest), related, nullIfEmpty(doc.Series), nullIfEmpty(doc.Folio),
		doc.Total, doc.IssuedAt)
}

func (r *DocumentRepo) MarkStamped(ctx context.Context, id, uuid string, xml []byte) error {
	const q = `
		UPDATE cfdi_documents
		SET uuid = $2, xml = $3, state = 'stamped', stamped_at = now(), last_error = NULL, updated_at = now()
		WHERE id = $1`
	return r.execOne(ctx, "mark cfdi_document stamped", q, id, uuid, xml)
}

func (r *DocumentRepo) RecordUUID(ctx context.Context, id, uuid string) error {
	const q = `UPDATE cfdi_documents SET uuid = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, "record cfdi_document uuid", q, id, uuid)
}

func (r *DocumentRepo) MarkError(ctx context.Context, id, message string) error {
	const q = `UPDATE cfdi_documents SET last_error = $2, updated_at = now() WHERE id = $1`
	return r.execOne(ctx, "mark cfdi_document error", q, id, message)
}

func (r *DocumentRepo) UpdateState(ctx context.Context, doc *entity.Document) error {
	const q = `
		UPDATE cfdi_documents
		SET state = $2, canceled_at = $3, cancel_reason = $4, replacement = $5,
		    last_error = $6, updated_at = now()
		WHERE id = $1`
	return r.execOne(ctx, "update cfdi_document state", q,
		doc.ID, doc.State, doc.CanceledAt, nullIfEmpty(doc.CancelReason),
		nullIfEmpty(doc.Replacement), nullIfEmpty(doc.LastError))
}

func (r *DocumentRepo) execOne(ctx context.Context, op, q string, args ...any) error {
	tag, err := r.db.Exec(ctx, q, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, domain.ErrDuplicate)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return nil
}

func (r *DocumentRepo) baseSelect() squirrel.SelectBuilder {
	return r.builder.Select(documentColumns).From("cfdi_documents")
}

func (r *DocumentRepo) ListDependents(ctx context.Context, issuerID, uuid string) ([]*entity.Document, error) {
	q := r.baseSelect().
		Where(squirrel.Eq{"issuer_id": issuerID}).
		Where(squirrel.Expr("? = ANY(related_uuids)", uuid)).
		Where(squirrel.NotEq{"state": entity.DocumentStateCanceled}).
		Where(squirrel.Eq{"kind": []string{"E", "P"}}).
		OrderBy("issued_at")
	return r.selectMany(ctx, "list cfdi_document dependents", q)
}

func (r *DocumentRepo) List(ctx context.Context, filter entity.DocumentFilter) ([]*entity.Document, error) {
	q := r.baseSelect()
	if filter.IssuerID != "" {
		q = q.Where(squirrel.Eq{"issuer_id": filter.IssuerID})
	}
	if filter.State != "" {
		q = q.Where(squirrel.Eq{"state": filter.State})
	}
	if filter.Kind != "" {
		q = q.Where(squirrel.Eq{"kind": filter.Kind})
	}
	if filter.OriginModel != "" {
		q = q.Where(squirrel.Eq{"origin_model": filter.OriginModel})
	}
	if filter.OriginID != "" {
		q = q.Where(squirrel.Eq{"origin_id": filter.OriginID})
	}
	if filter.UUID != "" {
		q = q.Where(squirrel.Eq{"uuid": filter.UUID})
	}
	if filter.From != nil {
		q = q.Where(squirrel.GtOrEq{"issued_at": *filter.From})
	}
	if filter.To != nil {
		q = q.Where(squirrel.LtOrEq{"issued_at": *filter.To})
	}
	limit := filter.Limit
	switch {
	case limit == 0:
		limit = 50
	case limit > 500:
		limit = 500
	}
	q = q.OrderBy("issued_at DESC", "id").Limit(limit)
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	return r.selectMany(ctx, "list cfdi_documents", q)
}

func (r *DocumentRepo) selectMany(ctx context.Context, op string, q squirrel.SelectBuilder) ([]*entity.Document, error) {
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%s: build query: %w", op, err)
	}
	var rows []documentRow
	if err := pgxscan.Select(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]*entity.Document, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}
