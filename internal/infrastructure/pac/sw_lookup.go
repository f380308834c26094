package pac

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
)

type lookupRecord struct {
	URLXML             string `json:"urlXml"`
	URLAckCFDI         string `json:"urlAckCfdi"`
	URLAckCancellation string `json:"urlAckCancellation"`
}

// DownloadByIdentifier consulta el datawarehouse hasta PollAttempts veces con
// PollDelay entre intentos. Agotado el presupuesto devuelve *cfdi.NotYetAvailableError.
func (p *SWProvider) DownloadByIdentifier(ctx context.Context, id string) ([]byte, []byte, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	start := time.Now()
	attempts := p.cfg.PollAttempts

	for i := 1; i <= attempts; i++ {
		xml, ack, err := p.lookupOnce(ctx, id)
		switch {
		case err == nil && len(xml) > 0:
			return xml, ack, nil
		case err != nil:
			var te *cfdi.TransportError
			if !errors.As(err, &te) {
				return nil, nil, err
			}
			p.log.Warn().Err(err).Str("uuid", id).Int("attempt", i).Msg("pac: consulta fallida")
		default:
			p.log.Debug().Str("uuid", id).Int("attempt", i).Msg("pac: CFDI aún no publicado")
		}
		if i == attempts {
			break
		}
		if err := p.sleep(ctx, p.cfg.PollDelay); err != nil {
			return nil, nil, &cfdi.TimeoutError{Op: "download", Err: err}
		}
	}
	return nil, nil, &cfdi.NotYetAvailableError{UUID: id, Attempts: attempts, Waited: time.Since(start)}
}

// lookupOnce devuelve (nil, nil, nil) si el registro aún no existe.
func (p *SWProvider) lookupOnce(ctx context.Context, id string) ([]byte, []byte, error) {
	resp, err := p.do(ctx, request{
		op:     "lookup",
		method: http.MethodGet,
		url:    p.cfg.LookupURL + "/datawarehouse/v1/live/" + id,
		auth:   true,
	})
	if err != nil {
		return nil, nil, err
	}
	if resp.status == http.StatusNotFound {
		return nil, nil, nil
	}
	if resp.status >= 400 {
		return nil, nil, classify(resp.status, resp.body)
	}

	rec := parseLookupRecord(resp.body)
	if rec == nil || rec.URLXML == "" {
		return nil, nil, nil
	}
	xml, err := p.fetch(ctx, rec.URLXML)
	if err != nil || len(xml) == 0 {
		return nil, nil, err
	}
	var ack []byte
	if u := firstNonEmpty(rec.URLAckCFDI, rec.URLAckCancellation); u != "" {
		if a, err := p.fetch(ctx, u); err == nil {
			ack = a
		} else {
			p.log.Warn().Err(err).Str("uuid", id).Msg("pac: no se pudo descargar el acuse")
		}
	}
	return xml, ack, nil
}

// parseLookupRecord acepta data.records[0], data como objeto o la raíz.
func parseLookupRecord(body []byte) *lookupRecord {
	var out struct {
		lookupRecord
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil
	}
	if out.URLXML != "" {
		return &out.lookupRecord
	}
	if len(out.Data) == 0 {
		return nil
	}
	var data struct {
		lookupRecord
		Records []lookupRecord `json:"records"`
	}
	if err := json.Unmarshal(out.Data, &data); err != nil {
		var list []lookupRecord
		if json.Unmarshal(out.Data, &list) == nil && len(list) > 0 {
			return &list[0]
		}
		return nil
	}
	if len(data.Records) > 0 {
		return &data.Records[0]
	}
	if data.URLXML != "" {
		return &data.lookupRecord
	}
	return nil
}

// fetch descarga un archivo publicado por el datawarehouse (URL firmada, sin bearer).
func (p *SWProvider) fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := p.do(ctx, request{op: "lookup.file", method: http.MethodGet, url: url})
	if err != nil {
		return nil, err
	}
	if resp.status == http.StatusNotFound {
		return nil, nil
	}
	if resp.status >= 400 {
		return nil, classify(resp.status, resp.body)
	}
	return resp.body, nil
}
