package pac

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/domain"
	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	cfdixml "github.com/jhoicas/cfdi-engine/internal/infrastructure/cfdi"
)

const defaultCancelReason = "02"

type cancelPayload struct {
	RFC         string `json:"rfc"`
	B64Cer      string `json:"b64Cer"`
	B64Key      string `json:"b64Key"`
	Password    string `json:"password"`
	UUID        string `json:"uuid"`
	Motivo      string `json:"motivo"`
	Replacement string `json:"folioSustitucion"`
}

// Cancel solicita la cancelación con CSD (POST /cfdi33/cancel/csd).
func (p *SWProvider) Cancel(ctx context.Context, req billing.CancelRequest) (*billing.CancellationResult, error) {
	reason := req.Reason
	if reason == "" {
		reason = defaultCancelReason
	}
	if reason == "01" && strings.TrimSpace(req.Replacement) == "" {
		return nil, &cfdi.ValidationError{Problems: []string{"motivo 01 requiere el UUID del comprobante que sustituye"}}
	}
	if !p.cfg.hasCSD() {
		return nil, fmt.Errorf("pac: %w", domain.ErrMissingCredentials)
	}

	payload, err := json.Marshal(cancelPayload{
		RFC:         p.cfg.RFC,
		B64Cer:      base64.StdEncoding.EncodeToString(p.cfg.Certificate),
		B64Key:      base64.StdEncoding.EncodeToString(p.cfg.Key),
		Password:    p.cfg.KeyPassword,
		UUID:        strings.ToUpper(req.UUID),
		Motivo:      reason,
		Replacement: strings.ToUpper(req.Replacement),
	})
	if err != nil {
		return nil, fmt.Errorf("pac: serializar cancelación: %w", err)
	}

	resp, err := p.do(ctx, request{
		op:          "cancel",
		method:      http.MethodPost,
		url:         p.cfg.BaseURL + "/cfdi33/cancel/csd",
		body:        payload,
		contentType: "application/json",
		auth:        true,
		timeout:     p.cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if resp.status >= 400 {
		return nil, classify(resp.status, resp.body)
	}
	return parseCancelResponse(resp.body, req.UUID)
}

// parseCancelResponse extrae acuse (base64 o XML) y el estatus del UUID.
// Formas vistas: {"data":{"acuse":"...","uuid":{"<UUID>":"201"}},"status":"success"}.
func parseCancelResponse(body []byte, id string) (*billing.CancellationResult, error) {
	var out struct {
		Status string `json:"status"`
		Acuse  string `json:"acuse"`
		Data   struct {
			Acuse string            `json:"acuse"`
			UUID  map[string]string `json:"uuid"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("pac: respuesta de cancelación inválida: %w", err)
	}

	res := &billing.CancellationResult{}
	if raw := firstNonEmpty(out.Data.Acuse, out.Acuse); raw != "" {
		ack, err := decodeMaybeBase64(raw)
		if err != nil {
			return nil, fmt.Errorf("pac: acuse ilegible: %w", err)
		}
		res.Ack = ack
	}
	for k, v := range out.Data.UUID {
		if strings.EqualFold(k, id) {
			res.Status = v
			break
		}
		if res.Status == "" {
			res.Status = v
		}
	}
	if res.Status == "" && len(res.Ack) > 0 {
		if info, err := cfdixml.ReadCancellationAck(res.Ack); err == nil {
			res.Status = info.Status
		}
	}
	if res.Status == "" && !strings.EqualFold(out.Status, "success") {
		res.Status = out.Status
	}
	return res, nil
}
