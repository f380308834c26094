package pac

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	"github.com/jhoicas/cfdi-engine/pkg/config"
	"github.com/jhoicas/cfdi-engine/pkg/logger"
)

var _ billing.ProviderFactory = (*Factory)(nil)

// Factory arma el proveedor configurado (PAC_PROVIDER) con el CSD de cada emisor.
// Los clientes SW se reutilizan por emisor para conservar el token y la
// verificación del CSD entre timbrados.
type Factory struct {
	cfg config.PACConfig
	log *logger.Logger

	mu sync.Mutex
	sw map[string]*SWProvider
}

func NewFactory(cfg config.PACConfig, log *logger.Logger) *Factory {
	return &Factory{cfg: cfg, log: log, sw: map[string]*SWProvider{}}
}

// ConfigFor combina la sección PAC con el material CSD del emisor.
func (f *Factory) ConfigFor(issuer *entity.Issuer) Config {
	c := Config{
		Sandbox:       f.cfg.Sandbox,
		BaseURL:       f.cfg.BaseURL,
		LookupURL:     f.cfg.LookupURL,
		Token:         f.cfg.Token,
		User:          f.cfg.User,
		Password:      f.cfg.Password,
		Timeout:       f.cfg.Timeout,
		LookupTimeout: f.cfg.LookupTimeout,
		PollAttempts:  f.cfg.PollAttempts,
		PollDelay:     f.cfg.PollDelay,
		Debug:         f.cfg.Debug,
		ExtraPaths:    f.cfg.ExtraPaths,
	}
	if issuer != nil {
		c.RFC = issuer.RFC
		c.Certificate = issuer.CertificateDER
		c.Key = issuer.KeyDER
		c.KeyPassword = issuer.KeyPassword
	}
	return c
}

func (f *Factory) ForIssuer(issuer *entity.Issuer) (billing.CertificationProvider, error) {
	switch f.cfg.Provider {
	case ProviderTest, "":
		return NewTestProvider(), nil
	case ProviderSW:
		return f.swFor(issuer), nil
	default:
		return nil, fmt.Errorf("pac: proveedor %q no soportado (usar %q o %q)", f.cfg.Provider, ProviderTest, ProviderSW)
	}
}

// swFor devuelve el cliente del emisor; se reemplaza si cambió su CSD.
func (f *Factory) swFor(issuer *entity.Issuer) *SWProvider {
	cfg := f.ConfigFor(issuer).withDefaults()
	key := cfg.RFC
	if issuer != nil && issuer.ID != "" {
		key = issuer.ID
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.sw[key]; ok && sameCSD(p.cfg, cfg) {
		return p
	}
	p := NewSWProvider(cfg, f.log)
	f.sw[key] = p
	return p
}

func sameCSD(a, b Config) bool {
	return a.RFC == b.RFC &&
		a.KeyPassword == b.KeyPassword &&
		bytes.Equal(a.Certificate, b.Certificate) &&
		bytes.Equal(a.Key, b.Key)
}
