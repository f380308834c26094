// Package app arma los casos de uso con su infraestructura. Lo comparten el
// servidor HTTP y cfdictl.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	cfdixml "github.com/jhoicas/cfdi-engine/internal/infrastructure/cfdi"
	"github.com/jhoicas/cfdi-engine/internal/infrastructure/lock"
	"github.com/jhoicas/cfdi-engine/internal/infrastructure/pac"
	infrapdf "github.com/jhoicas/cfdi-engine/internal/infrastructure/pdf"
	"github.com/jhoicas/cfdi-engine/internal/infrastructure/postgres"
	"github.com/jhoicas/cfdi-engine/pkg/config"
	"github.com/jhoicas/cfdi-engine/pkg/logger"
)

// Container casos de uso listos para usar.
type Container struct {
	Issuers      *postgres.IssuerRepo
	Stamping     *billing.StampingOrchestrator
	Cancel       *billing.CancelUseCase
	Documents    *billing.DocumentUseCase
	Certificates *billing.CertificateUseCase

	pool  *pgxpool.Pool
	redis *redis.Client
}

// Build abre PostgreSQL (y Redis si REDIS_ADDR está configurado) y arma los casos de uso.
func Build(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Container, error) {
	pool, err := postgres.NewPool(ctx, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("conexión a PostgreSQL: %w", err)
	}
	c := &Container{pool: pool}

	issuerRepo := postgres.NewIssuerRepository(pool)
	documentRepo := postgres.NewDocumentRepository(pool)
	attachmentRepo, err := postgres.NewAttachmentRepository(pool)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("repositorio de adjuntos: %w", err)
	}
	txRunner := postgres.NewTxRunner(pool, attachmentRepo)

	// Candado por emisor: Redis entre réplicas, en memoria con un solo proceso.
	var locker billing.Locker = lock.NewLocalLocker()
	if cfg.Redis.Enabled() {
		client, err := lock.ConnectRedis(ctx, cfg.Redis)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.redis = client
		locker = lock.NewRedisLocker(client, log)
	}

	providers := pac.NewFactory(cfg.PAC, log)
	c.Issuers = issuerRepo
	c.Stamping = billing.NewStampingOrchestrator(
		issuerRepo, documentRepo, attachmentRepo, providers, locker,
		cfdi.NewBuilder(cfg.CFDI.GenericZipFromExpedition),
		cfdixml.NewXMLBuilderService(),
		billing.StampingConfig{LockTTL: cfg.CFDI.LockTTL, Timeout: cfg.CFDI.StampTimeout},
		log,
	).WithRegistryTx(txRunner)
	c.Cancel = billing.NewCancelUseCase(issuerRepo, documentRepo, attachmentRepo, providers, cfg.CFDI.CancelWindow, log)
	c.Documents = billing.NewDocumentUseCase(documentRepo, attachmentRepo, infrapdf.NewMarotoPDFGenerator(), log)
	c.Certificates = billing.NewCertificateUseCase(issuerRepo, providers, log)

	log.Info().
		Str("pac", cfg.PAC.Provider).
		Bool("sandbox", cfg.PAC.Sandbox).
		Bool("redis_lock", cfg.Redis.Enabled()).
		Msg("motor CFDI listo")
	return c, nil
}

// Close libera conexiones.
func (c *Container) Close() {
	if c.redis != nil {
		_ = c.redis.Close()
	}
	if c.pool != nil {
		c.pool.Close()
	}
}
