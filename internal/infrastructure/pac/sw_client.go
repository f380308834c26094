package pac

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	"github.com/jhoicas/cfdi-engine/pkg/logger"
)

var _ billing.CertificationProvider = (*SWProvider)(nil)

// SWProvider cliente REST de SW Sapien.
//
// Los plazos se aplican por llamada con context.WithTimeout (PAC_TIMEOUT para
// timbrado, PAC_LOOKUP_TIMEOUT para consultas); así un plazo vencido del llamador
// se distingue de un timeout de red de un candidato.
type SWProvider struct {
	cfg  Config
	http *http.Client
	log  *logger.Logger

	mu          sync.Mutex
	token       string // obtenido con usuario/contraseña
	certChecked bool

	sleep func(ctx context.Context, d time.Duration) error
}

// NewSWProvider construye el cliente. log puede ser nil.
func NewSWProvider(cfg Config, log *logger.Logger) *SWProvider {
	if log == nil {
		log = logger.Nop()
	}
	return &SWProvider{
		cfg:   cfg.withDefaults(),
		http:  &http.Client{},
		log:   log.Component("pac.sw"),
		sleep: sleepCtx,
	}
}

// WithHTTPClient reemplaza el cliente HTTP (tests con httptest).
func (p *SWProvider) WithHTTPClient(c *http.Client) *SWProvider {
	p.http = c
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// request describe una llamada HTTP al PAC.
type request struct {
	op          string
	method      string
	url         string
	body        []byte
	contentType string
	headers     map[string]string
	auth        bool
	timeout     time.Duration
}

// response estatus y cuerpo (ya limitado a maxBody).
type response struct {
	status int
	body   []byte
}

// do ejecuta la llamada. Errores de red → *cfdi.TransportError; plazo del
// llamador vencido → *cfdi.TimeoutError. Los estatus HTTP no son error aquí.
func (p *SWProvider) do(ctx context.Context, r request) (*response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &cfdi.TimeoutError{Op: r.op, Err: err}
	}
	timeout := r.timeout
	if timeout <= 0 {
		timeout = p.cfg.LookupTimeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(cctx, r.method, r.url, body)
	if err != nil {
		return nil, fmt.Errorf("pac: crear request %s: %w", r.op, err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if r.auth {
		token, err := p.bearer(ctx)
		if err != nil {
			return nil, err
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := p.http.Do(req)
	if err != nil {
		return nil, p.networkError(ctx, r, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, p.networkError(ctx, r, err)
	}
	if p.cfg.Debug {
		p.log.Debug().
			Str("op", r.op).
			Str("method", r.method).
			Str("url", r.url).
			Int("status", resp.StatusCode).
			Int("bytes", len(raw)).
			Dur("elapsed", time.Since(start)).
			Str("body", truncate(string(raw), 300)).
			Msg("pac: respuesta")
	}
	return &response{status: resp.StatusCode, body: raw}, nil
}

func (p *SWProvider) networkError(ctx context.Context, r request, err error) error {
	if ctx.Err() != nil {
		return &cfdi.TimeoutError{Op: r.op, Err: ctx.Err()}
	}
	return &cfdi.TransportError{Endpoint: r.url, Err: err}
}

// bearer token estático (PAC_TOKEN) o el obtenido en /security/authenticate.
func (p *SWProvider) bearer(ctx context.Context) (string, error) {
	if p.cfg.Token != "" {
		return p.cfg.Token, nil
	}
	if p.cfg.User == "" {
		return "", nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" {
		return p.token, nil
	}

	resp, err := p.do(ctx, request{
		op:     "authenticate",
		method: http.MethodPost,
		url:    p.cfg.BaseURL + "/security/authenticate",
		headers: map[string]string{
			"user":     p.cfg.User,
			"password": p.cfg.Password,
		},
	})
	if err != nil {
		return "", err
	}
	if resp.status >= 400 {
		rej := classify(resp.status, resp.body)
		if pr, ok := rej.(*cfdi.ProviderRejection); ok && pr.Reason == cfdi.ReasonGeneric {
			pr.Reason = cfdi.ReasonInvalidCredential
		}
		return "", rej
	}
	var out struct {
		Data struct {
			Token string `json:"token"`
		} `json:"data"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(resp.body, &out); err != nil {
		return "", fmt.Errorf("pac: respuesta de autenticación inválida: %w", err)
	}
	token := firstNonEmpty(out.Data.Token, out.Token)
	if token == "" {
		return "", &cfdi.ProviderRejection{Reason: cfdi.ReasonInvalidCredential, Status: resp.status, Message: "autenticación sin token"}
	}
	p.token = token
	return token, nil
}

// Ping verifica que el host responda. No hay /ping público: cualquier estatus < 500 cuenta.
func (p *SWProvider) Ping(ctx context.Context) error {
	headers := map[string]string{}
	if p.cfg.Token != "" {
		headers["Authorization"] = "Bearer " + p.cfg.Token
	}
	resp, err := p.do(ctx, request{
		op:      "ping",
		method:  http.MethodGet,
		url:     p.cfg.BaseURL + "/",
		headers: headers,
	})
	if err != nil {
		return err
	}
	if resp.status >= 500 {
		return &cfdi.ProviderRejection{
			Reason:  cfdi.ReasonGeneric,
			Status:  resp.status,
			Message: truncate(strings.TrimSpace(string(resp.body)), 200),
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
