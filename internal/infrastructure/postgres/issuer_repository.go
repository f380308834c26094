package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"

	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	"github.com/jhoicas/cfdi-engine/internal/domain/repository"
)

var _ repository.IssuerRepository = (*IssuerRepo)(nil)

const issuerColumns = `id, rfc, name, regime, postal_code, default_currency, series,
	certificate_der, key_der, key_password, certificate_number, certificate_expiry,
	created_at, updated_at`

type issuerRow struct {
	ID                string     `db:"id"`
	RFC               string     `db:"rfc"`
	Name              string     `db:"name"`
	Regime            string     `db:"regime"`
	PostalCode        string     `db:"postal_code"`
	DefaultCurrency   string     `db:"default_currency"`
	Series            *string    `db:"series"`
	CertificateDER    []byte     `db:"certificate_der"`
	KeyDER            []byte     `db:"key_der"`
	KeyPassword       *string    `db:"key_password"`
	CertificateNumber *string    `db:"certificate_number"`
	CertificateExpiry *time.Time `db:"certificate_expiry"`
	CreatedAt         time.Time  `db:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at"`
}

// IssuerRepo emisores en cfdi_issuers.
type IssuerRepo struct {
	db Querier
}

func NewIssuerRepository(db Querier) *IssuerRepo {
	return &IssuerRepo{db: db}
}

func (r *IssuerRepo) get(ctx context.Context, where string, arg any) (*entity.Issuer, error) {
	var row issuerRow
	q := `SELECT ` + issuerColumns + ` FROM cfdi_issuers WHERE ` + where
	if err := pgxscan.Get(ctx, r.db, &row, q, arg); err != nil {
		if pgxscan.NotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cfdi_issuer: %w", err)
	}
	return &entity.Issuer{
		ID:                row.ID,
		RFC:               row.RFC,
		Name:              row.Name,
		Regime:            row.Regime,
		PostalCode:        row.PostalCode,
		DefaultCurrency:   row.DefaultCurrency,
		Series:            deref(row.Series),
		CertificateDER:    row.CertificateDER,
		KeyDER:            row.KeyDER,
		KeyPassword:       deref(row.KeyPassword),
		CertificateNumber: deref(row.CertificateNumber),
		CertificateExpiry: row.CertificateExpiry,
		CreatedAt:         row.CreatedAt,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}

func (r *IssuerRepo) GetByID(ctx context.Context, id string) (*entity.Issuer, error) {
	return r.get(ctx, `id = $1`, id)
}

func (r *IssuerRepo) GetByRFC(ctx context.Context, rfc string) (*entity.Issuer, error) {
	return r.get(ctx, `rfc = $1`, strings.ToUpper(strings.TrimSpace(rfc)))
}

// Upsert inserta o actualiza por RFC. Un material CSD vacío no borra el existente.
func (r *IssuerRepo) Upsert(ctx context.Context, issuer *entity.Issuer) error {
	if issuer.ID == "" {
		issuer.ID = uuid.New().String()
	}
	if issuer.DefaultCurrency == "" {
		issuer.DefaultCurrency = "MXN"
	}
	const q = `
		INSERT INTO cfdi_issuers
			(id, rfc, name, regime, postal_code, default_currency, series,
			 certificate_der, key_der, key_password, certificate_number, certificate_expiry,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		ON CONFLICT (rfc) DO UPDATE SET
			name = EXCLUDED.name,
			regime = EXCLUDED.regime,
			postal_code = EXCLUDED.postal_code,
			default_currency = EXCLUDED.default_currency,
			series = EXCLUDED.series,
			certificate_der = COALESCE(EXCLUDED.certificate_der, cfdi_issuers.certificate_der),
			key_der = COALESCE(EXCLUDED.key_der, cfdi_issuers.key_der),
			key_password = COALESCE(EXCLUDED.key_password, cfdi_issuers.key_password),
			certificate_number = COALESCE(EXCLUDED.certificate_number, cfdi_issuers.certificate_number),
			certificate_expiry = COALESCE(EXCLUDED.certificate_expiry, cfdi_issuers.certificate_expiry),
			updated_at = now()
		RETURNING id, created_at, updated_at`
	var cert, key []byte
	if len(issuer.CertificateDER) > 0 {
		cert = issuer.CertificateDER
	}
	if len(issuer.KeyDER) > 0 {
		key = issuer.KeyDER
	}
	err := r.db.QueryRow(ctx, q,
		issuer.ID, strings.ToUpper(issuer.RFC), issuer.Name, issuer.Regime, issuer.PostalCode,
		issuer.DefaultCurrency, nullIfEmpty(issuer.Series), cert, key,
		nullIfEmpty(issuer.KeyPassword), nullIfEmpty(issuer.CertificateNumber), issuer.CertificateExpiry,
	).Scan(&issuer.ID, &issuer.CreatedAt, &issuer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert cfdi_issuer %s: %w", issuer.RFC, err)
	}
	return nil
}
