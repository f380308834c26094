package billing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jhoicas/cfdi-engine/internal/domain"
	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	"github.com/jhoicas/cfdi-engine/internal/domain/repository"
	cfdixml "github.com/jhoicas/cfdi-engine/internal/infrastructure/cfdi"
	"github.com/jhoicas/cfdi-engine/pkg/logger"
	"github.com/jhoicas/cfdi-engine/pkg/sat"
)

// CertificateInfo datos del CSD visibles para el operador.
type CertificateInfo struct {
	Number    string    `json:"number"`
	RFC       string    `json:"rfc"`
	Name      string    `json:"name"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	Valid     bool      `json:"valid"`
	Problem   string    `json:"problem,omitempty"`
}

// RegisterIssuerCommand alta o actualización de un emisor con su CSD. Se acepta el
// par .cer/.key o un .pfx (PFX + KeyPassword).
type RegisterIssuerCommand struct {
	RFC             string
	Name            string
	Regime          string
	PostalCode      string
	DefaultCurrency string
	Series          string
	Certificate     []byte
	Key             []byte
	PFX             []byte
	KeyPassword     string
}

// CertificateUseCase conectividad con el PAC y administración del CSD del emisor.
type CertificateUseCase struct {
	issuers   repository.IssuerRepository
	providers ProviderFactory
	log       *logger.Logger
	now       func() time.Time
}

func NewCertificateUseCase(issuers repository.IssuerRepository, providers ProviderFactory, log *logger.Logger) *CertificateUseCase {
	if log == nil {
		log = logger.Nop()
	}
	return &CertificateUseCase{
		issuers:   issuers,
		providers: providers,
		log:       log.Component("certificates"),
		now:       time.Now,
	}
}

// WithClock reemplaza el reloj (tests).
func (uc *CertificateUseCase) WithClock(now func() time.Time) *CertificateUseCase {
	uc.now = now
	return uc
}

// Ping verifica que el PAC del emisor responde.
func (uc *CertificateUseCase) Ping(ctx context.Context, issuerID string) error {
	provider, _, err := uc.provider(ctx, issuerID)
	if err != nil {
		return err
	}
	if err := provider.Ping(ctx); err != nil {
		return asTimeout("ping", err)
	}
	return nil
}

// Check indica si el PAC ya tiene registrado el CSD del emisor.
func (uc *CertificateUseCase) Check(ctx context.Context, issuerID string) (bool, error) {
	provider, issuer, err := uc.provider(ctx, issuerID)
	if err != nil {
		return false, err
	}
	ok, err := provider.HasCertificate(ctx, issuer.RFC)
	if err != nil {
		return false, asTimeout("certificate check", err)
	}
	return ok, nil
}

// Upload registra el CSD del emisor en el PAC. Devuelve false si el PAC no lo aceptó.
func (uc *CertificateUseCase) Upload(ctx context.Context, issuerID string) (bool, error) {
	provider, issuer, err := uc.provider(ctx, issuerID)
	if err != nil {
		return false, err
	}
	if !issuer.HasCredentials() {
		return false, fmt.Errorf("emisor %s: %w", issuer.RFC, domain.ErrMissingCredentials)
	}
	ok, err := provider.UploadCertificate(ctx)
	if err != nil {
		return false, asTimeout("certificate upload", err)
	}
	uc.log.Info().Str("issuer", issuer.ID).Bool("accepted", ok).Msg("CSD enviado al PAC")
	return ok, nil
}

// Inspect lee un .cer (o un .pfx si password no está vacío) y reporta su vigencia.
func (uc *CertificateUseCase) Inspect(data []byte, pfxPassword string) (*CertificateInfo, error) {
	var (
		cert *cfdixml.Certificate
		err  error
	)
	if pfxPassword != "" {
		cert, _, err = cfdixml.LoadPFX(data, pfxPassword)
	} else {
		cert, err = cfdixml.ParseCertificate(data)
	}
	if err != nil {
		return nil, &cfdi.ValidationError{Problems: []string{err.Error()}}
	}
	return uc.describe(cert), nil
}

// RegisterIssuer valida el CSD contra el RFC del emisor y lo guarda.
func (uc *CertificateUseCase) RegisterIssuer(ctx context.Context, cmd RegisterIssuerCommand) (*entity.Issuer, error) {
	issuer := &entity.Issuer{
		RFC:             sat.NormalizeRFC(cmd.RFC),
		Name:            sat.NormalizeName(cmd.Name),
		Regime:          strings.TrimSpace(cmd.Regime),
		PostalCode:      strings.TrimSpace(cmd.PostalCode),
		DefaultCurrency: strings.ToUpper(strings.TrimSpace(cmd.DefaultCurrency)),
		Series:          strings.TrimSpace(cmd.Series),
		KeyPassword:     cmd.KeyPassword,
	}

	var errs []string
	if err := sat.ValidateRFC(issuer.RFC); err != nil {
		errs = append(errs, err.Error())
	}
	if issuer.Name == "" {
		errs = append(errs, "emisor: nombre obligatorio")
	}
	if issuer.Regime == "" {
		errs = append(errs, "emisor: régimen fiscal obligatorio")
	}
	if !sat.IsPostalCode(issuer.PostalCode) {
		errs = append(errs, fmt.Sprintf("emisor: código postal inválido %q", issuer.PostalCode))
	}

	cert, err := uc.loadCredentials(cmd, issuer)
	if err != nil {
		errs = append(errs, err.Error())
	}
	if cert != nil {
		if cert.RFC != "" && cert.RFC != issuer.RFC {
			errs = append(errs, fmt.Sprintf("CSD emitido para %s, no para %s", cert.RFC, issuer.RFC))
		}
		if err := cert.ValidAt(uc.now()); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return nil, &cfdi.ValidationError{Problems: errs}
	}

	if err := uc.issuers.Upsert(ctx, issuer); err != nil {
		return nil, fmt.Errorf("emisor: guardar: %w", err)
	}
	uc.log.Info().Str("issuer", issuer.ID).Str("rfc", issuer.RFC).Str("certificate", issuer.CertificateNumber).Msg("emisor registrado")
	return issuer, nil
}

// loadCredentials llena el material CSD del emisor. Sin .cer ni .pfx el emisor
// queda sin credenciales y el upsert conserva las que ya tuviera.
func (uc *CertificateUseCase) loadCredentials(cmd RegisterIssuerCommand, issuer *entity.Issuer) (*cfdixml.Certificate, error) {
	switch {
	case len(cmd.PFX) > 0:
		cert, key, err := cfdixml.LoadPFX(cmd.PFX, cmd.KeyPassword)
		if err != nil {
			return nil, err
		}
		der, err := cfdixml.MarshalKey(key)
		if err != nil {
			return nil, err
		}
		issuer.CertificateDER = cert.DER
		issuer.KeyDER = der
		setCertificate(issuer, cert)
		return cert, nil
	case len(cmd.Certificate) > 0:
		if len(cmd.Key) == 0 {
			return nil, fmt.Errorf("CSD: falta la llave privada (.key)")
		}
		cert, err := cfdixml.ParseCertificate(cmd.Certificate)
		if err != nil {
			return nil, err
		}
		issuer.CertificateDER = cert.DER
		issuer.KeyDER = cmd.Key
		setCertificate(issuer, cert)
		return cert, nil
	}
	return nil, nil
}

func setCertificate(issuer *entity.Issuer, cert *cfdixml.Certificate) {
	expiry := cert.NotAfter
	issuer.CertificateNumber = cert.Number
	issuer.CertificateExpiry = &expiry
}

func (uc *CertificateUseCase) describe(cert *cfdixml.Certificate) *CertificateInfo {
	info := &CertificateInfo{
		Number:    cert.Number,
		RFC:       cert.RFC,
		Name:      cert.Name,
		NotBefore: cert.NotBefore,
		NotAfter:  cert.NotAfter,
		Valid:     true,
	}
	if err := cert.ValidAt(uc.now()); err != nil {
		info.Valid = false
		info.Problem = err.Error()
	}
	return info
}

func (uc *CertificateUseCase) provider(ctx context.Context, issuerID string) (CertificationProvider, *entity.Issuer, error) {
	issuer, err := uc.issuers.GetByID(ctx, issuerID)
	if err != nil {
		return nil, nil, fmt.Errorf("emisor: obtener: %w", err)
	}
	if issuer == nil {
		return nil, nil, fmt.Errorf("emisor %s: %w", issuerID, domain.ErrNotFound)
	}
	provider, err := uc.providers.ForIssuer(issuer)
	if err != nil {
		return nil, nil, fmt.Errorf("emisor %s: %w", issuer.RFC, err)
	}
	return provider, issuer, nil
}
