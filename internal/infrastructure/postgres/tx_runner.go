package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/domain/repository"
)

var _ billing.RegistryTxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL.
type TxRunner struct {
	pool        *pgxpool.Pool
	attachments *AttachmentRepo
}

// NewTxRunner construye el runner. attachments aporta los codecs zstd compartidos.
func NewTxRunner(pool *pgxpool.Pool, attachments *AttachmentRepo) *TxRunner {
	return &TxRunner{pool: pool, attachments: attachments}
}

// RunRegistry inicia una transacción, ejecuta fn con repos atados a la tx y hace Commit o Rollback.
func (r *TxRunner) RunRegistry(ctx context.Context, fn func(
	docs repository.DocumentRepository,
	atts repository.AttachmentRepository,
) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(NewDocumentRepository(tx), r.attachments.WithQuerier(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
