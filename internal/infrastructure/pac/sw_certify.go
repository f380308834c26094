package pac

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	cfdixml "github.com/jhoicas/cfdi-engine/internal/infrastructure/cfdi"
)

var issueVersions = []string{"cfdi40", "cfdi33"}

// issuePaths rutas candidatas de timbrado, en orden: overrides de PAC_EXTRA_PATHS y
// luego las conocidas por versión.
func (p *SWProvider) issuePaths() []string {
	seen := map[string]bool{}
	var out []string
	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		if !seen[path] {
			seen[path] = true
			out = append(out, path)
		}
	}
	for _, path := range p.cfg.ExtraPaths {
		add(path)
	}
	for _, v := range issueVersions {
		add("/" + v + "/issue/v4")
		add("/v4/" + v + "/issue/v4")
	}
	return out
}

// Certify registra el CSD si hace falta y envía el XML al primer candidato que
// responda. 404/405 y errores de red pasan al siguiente; cualquier otro rechazo es terminal.
func (p *SWProvider) Certify(ctx context.Context, xml []byte) (*cfdi.CertificationResult, error) {
	if err := p.ensureCertificate(ctx); err != nil {
		return nil, err
	}

	body, contentType, err := multipartXML(xml)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, path := range p.issuePaths() {
		url := p.cfg.BaseURL + path
		resp, err := p.do(ctx, request{
			op:          "certify",
			method:      http.MethodPost,
			url:         url,
			body:        body,
			contentType: contentType,
			auth:        true,
			timeout:     p.cfg.Timeout,
		})
		if err != nil {
			var te *cfdi.TransportError
			if errors.As(err, &te) {
				p.log.Warn().Err(err).Str("url", url).Msg("pac: candidato sin respuesta, probando siguiente")
				lastErr = err
				continue
			}
			return nil, err
		}
		if resp.status == http.StatusNotFound || resp.status == http.StatusMethodNotAllowed {
			lastErr = &cfdi.TransportError{Endpoint: url, Err: fmt.Errorf("HTTP %d", resp.status)}
			continue
		}
		if resp.status >= 400 {
			return nil, classify(resp.status, resp.body)
		}
		return parseIssueResponse(resp.body)
	}
	if lastErr == nil {
		lastErr = &cfdi.TransportError{Endpoint: p.cfg.BaseURL, Err: errors.New("sin rutas de timbrado")}
	}
	return nil, lastErr
}

func multipartXML(xml []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("xml", "cfdi.xml")
	if err != nil {
		return nil, "", fmt.Errorf("pac: armar multipart: %w", err)
	}
	if _, err := fw.Write(xml); err != nil {
		return nil, "", fmt.Errorf("pac: armar multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("pac: armar multipart: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

// issueFields encoding/json empata las llaves sin distinguir mayúsculas (uuid|Uuid, cfdi|Cfdi).
type issueFields struct {
	UUID     string `json:"uuid"`
	CFDI     string `json:"cfdi"`
	XML      string `json:"xml"`
	Timbrado string `json:"fechaTimbrado"`
}

// parseIssueResponse acepta data.uuid|uuid|Uuid y data.cfdi|cfdi|xml (base64 o XML plano).
func parseIssueResponse(body []byte) (*cfdi.CertificationResult, error) {
	var top struct {
		issueFields
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, fmt.Errorf("pac: respuesta de timbrado inválida: %w", err)
	}
	var data issueFields
	if len(top.Data) > 0 && top.Data[0] == '{' {
		_ = json.Unmarshal(top.Data, &data)
	}

	res := &cfdi.CertificationResult{
		UUID: strings.ToUpper(firstNonEmpty(data.UUID, top.UUID)),
	}
	if raw := firstNonEmpty(data.CFDI, data.XML, top.CFDI, top.XML); raw != "" {
		xml, err := decodeMaybeBase64(raw)
		if err != nil {
			return nil, fmt.Errorf("pac: cfdi timbrado ilegible: %w", err)
		}
		res.XML = xml
	}
	if ts := firstNonEmpty(data.Timbrado, top.Timbrado); ts != "" {
		if t, err := time.Parse("2006-01-02T15:04:05", ts); err == nil {
			res.StampedAt = t
		}
	}
	if len(res.XML) > 0 {
		if info, err := cfdixml.ReadStamp(res.XML); err == nil {
			if res.UUID == "" {
				res.UUID = info.UUID
			}
			if res.StampedAt.IsZero() {
				res.StampedAt = info.StampedAt
			}
		}
	}
	if res.UUID == "" {
		return nil, &cfdi.ProviderRejection{Reason: cfdi.ReasonGeneric, Status: http.StatusOK, Message: "respuesta de timbrado sin UUID: " + providerMessage(body)}
	}
	return res, nil
}

// decodeMaybeBase64 el PAC devuelve el XML en base64 o en texto plano según la versión.
func decodeMaybeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		return []byte(s), nil
	}
	return base64.StdEncoding.DecodeString(s)
}
