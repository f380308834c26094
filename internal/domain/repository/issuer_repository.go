package repository

import (
	"context"

	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
)

// IssuerRepository puerto de persistencia de emisores y su CSD.
type IssuerRepository interface {
	GetByID(ctx context.Context, id string) (*entity.Issuer, error)
	GetByRFC(ctx context.Context, rfc string) (*entity.Issuer, error)
	Upsert(ctx context.Context, issuer *entity.Issuer) error
}
