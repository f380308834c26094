package pac

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jhoicas/cfdi-engine/internal/domain"
)

// ensureCertificate verifica que el CSD del emisor esté registrado; si no, lo sube.
// El resultado positivo se recuerda durante la vida del proveedor.
func (p *SWProvider) ensureCertificate(ctx context.Context) error {
	p.mu.Lock()
	checked := p.certChecked
	p.mu.Unlock()
	if checked || p.cfg.RFC == "" {
		return nil
	}

	ok, err := p.HasCertificate(ctx, p.cfg.RFC)
	if err != nil {
		p.log.Warn().Err(err).Str("rfc", p.cfg.RFC).Msg("pac: no se pudo consultar certificados, se intenta registrar")
	}
	if !ok {
		if _, err := p.UploadCertificate(ctx); err != nil {
			return err
		}
	}

	p.mu.Lock()
	p.certChecked = true
	p.mu.Unlock()
	return nil
}

// HasCertificate consulta GET /certificates y busca el RFC (sin distinguir mayúsculas).
func (p *SWProvider) HasCertificate(ctx context.Context, rfc string) (bool, error) {
	resp, err := p.do(ctx, request{
		op:     "certificates",
		method: http.MethodGet,
		url:    p.cfg.BaseURL + "/certificates",
		auth:   true,
	})
	if err != nil {
		return false, err
	}
	if resp.status >= 400 {
		return false, classify(resp.status, resp.body)
	}
	if rfc == "" {
		rfc = p.cfg.RFC
	}
	rfc = strings.ToUpper(strings.TrimSpace(rfc))
	for _, item := range certificateList(resp.body) {
		if itemRFC(item) == rfc {
			return true, nil
		}
	}
	return false, nil
}

// certificateList normaliza las formas que devuelve SW: lista directa, data,
// data.items, data.certificates, items o certificates.
func certificateList(body []byte) []map[string]any {
	var root any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil
	}
	if s, ok := root.(string); ok {
		if err := json.Unmarshal([]byte(s), &root); err != nil {
			return nil
		}
	}
	return findList(root, 0)
}

func findList(v any, depth int) []map[string]any {
	switch t := v.(type) {
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, e := range t {
			if m, ok := e.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	case map[string]any:
		if depth > 1 {
			return []map[string]any{t}
		}
		for _, k := range []string{"data", "Data", "items", "certificates", "Certificates", "result", "results"} {
			if inner, ok := t[k]; ok && inner != nil {
				if list := findList(inner, depth+1); list != nil {
					return list
				}
			}
		}
		return []map[string]any{t}
	}
	return nil
}

func itemRFC(m map[string]any) string {
	for _, k := range []string{"issuer_rfc", "issuerRfc", "rfc", "RFC"} {
		if s, ok := m[k].(string); ok && s != "" {
			return strings.ToUpper(strings.TrimSpace(s))
		}
	}
	return ""
}

// UploadCertificate registra el CSD del emisor con POST /certificates/save.
func (p *SWProvider) UploadCertificate(ctx context.Context) (bool, error) {
	if !p.cfg.hasCSD() {
		return false, fmt.Errorf("pac: %w", domain.ErrMissingCredentials)
	}
	payload, err := json.Marshal(map[string]string{
		"type":     "stamp",
		"b64Cer":   base64.StdEncoding.EncodeToString(p.cfg.Certificate),
		"b64Key":   base64.StdEncoding.EncodeToString(p.cfg.Key),
		"password": p.cfg.KeyPassword,
	})
	if err != nil {
		return false, fmt.Errorf("pac: serializar certificado: %w", err)
	}
	resp, err := p.do(ctx, request{
		op:          "certificates.save",
		method:      http.MethodPost,
		url:         p.cfg.BaseURL + "/certificates/save",
		body:        payload,
		contentType: "application/json",
		auth:        true,
		timeout:     p.cfg.Timeout,
	})
	if err != nil {
		return false, err
	}
	if resp.status >= 400 {
		return false, classify(resp.status, resp.body)
	}
	p.log.Info().Str("rfc", p.cfg.RFC).Msg("pac: CSD registrado")
	return true, nil
}
