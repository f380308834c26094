package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/application/dto"
	"github.com/jhoicas/cfdi-engine/internal/domain"
	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	apphttp "github.com/jhoicas/cfdi-engine/internal/interfaces/http"
	pkgjwt "github.com/jhoicas/cfdi-engine/pkg/jwt"
)

// ──────────────────────────────────────────────────────────────────────────────
// Fakes de los casos de uso
// ──────────────────────────────────────────────────────────────────────────────

type fakeIssuerLookup struct {
	issuers map[string]*entity.Issuer
	err     error
}

func (f fakeIssuerLookup) GetByID(_ context.Context, id string) (*entity.Issuer, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.issuers[id], nil
}

type fakeStamper struct {
	got billing.StampCommand
	res *billing.StampResult
	err error
}

func (f *fakeStamper) Stamp(_ context.Context, cmd billing.StampCommand) (*billing.StampResult, error) {
	f.got = cmd
	return f.res, f.err
}

type fakeCanceler struct {
	got   billing.CancelCommand
	calls int
	res   *billing.CancelResult
	err   error
}

func (f *fakeCanceler) Cancel(_ context.Context, cmd billing.CancelCommand) (*billing.CancelResult, error) {
	f.calls++
	f.got = cmd
	return f.res, f.err
}

type fakeReader struct {
	doc    *entity.Document
	filter entity.DocumentFilter
	file   *billing.File
	err    error
}

func (f *fakeReader) Get(_ context.Context, _, _ string) (*entity.Document, error) { return f.doc, f.err }
func (f *fakeReader) List(_ context.Context, _ string, filter entity.DocumentFilter) ([]*entity.Document, error) {
	f.filter = filter
	if f.doc == nil {
		return nil, f.err
	}
	return []*entity.Document{f.doc}, f.err
}
func (f *fakeReader) XML(_ context.Context, _, _ string) (*billing.File, error)    { return f.file, f.err }
func (f *fakeReader) PDF(_ context.Context, _, _ string) (*billing.File, error)    { return f.file, f.err }
func (f *fakeReader) Bundle(_ context.Context, _, _ string) (*billing.File, error) { return f.file, f.err }

type fakeCertificates struct {
	registered bool
	uploads    int
	err        error
}

func (f *fakeCertificates) Ping(context.Context, string) error { return f.err }
func (f *fakeCertificates) Check(context.Context, string) (bool, error) {
	return f.registered, f.err
}
func (f *fakeCertificates) Upload(context.Context, string) (bool, error) {
	f.uploads++
	return true, f.err
}

type apiEnv struct {
	app          *fiber.App
	stamper      *fakeStamper
	canceler     *fakeCanceler
	reader       *fakeReader
	certificates *fakeCertificates
}

func newAPIEnv() *apiEnv {
	env := &apiEnv{
		stamper:      &fakeStamper{},
		canceler:     &fakeCanceler{},
		reader:       &fakeReader{},
		certificates: &fakeCertificates{},
	}
	env.app = fiber.New()
	apphttp.Router(env.app, apphttp.RouterDeps{
		Stamping:     env.stamper,
		Cancel:       env.canceler,
		Documents:    env.reader,
		Certificates: env.certificates,
		Issuers: fakeIssuerLookup{issuers: map[string]*entity.Issuer{
			testIssuerID: {ID: testIssuerID, RFC: "EKU9003173C9", Name: "ESCUELA KEMPER URGATE"},
		}},
		JWTSecret: testJWTSecret,
	})
	return env
}

func (e *apiEnv) call(t *testing.T, method, path, auth string, body any) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func errorCode(t *testing.T, body []byte) dto.ErrorResponse {
	t.Helper()
	var e dto.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e), "cuerpo de error: %s", body)
	return e
}

// pkgjwtToken token para un emisor distinto al de prueba.
func pkgjwtToken(issuerID, role string) (string, error) {
	tok, err := pkgjwt.Generate(testJWTSecret, testUserID, issuerID, role, testTokenIssuer, testExpMin)
	return "Bearer " + tok, err
}

const testOriginUUID = "8A3F8D2B-6C21-4E7A-9B1D-0C5E3F2A1B44"

// ──────────────────────────────────────────────────────────────────────────────
// Timbrado
// ──────────────────────────────────────────────────────────────────────────────

func TestStamp_Creado(t *testing.T) {
	env := newAPIEnv()
	env.stamper.res = &billing.StampResult{UUID: testOriginUUID, DocumentID: "doc-1"}

	resp, body := env.call(t, http.MethodPost, "/api/cfdi/stamp", tokenForRole(t, apphttp.RoleFacturista), map[string]any{
		"origin_model": "account.move",
		"origin_id":    "42",
		"kind":         "i",
		"receiver":     map[string]any{"rfc": "XAXX010101000", "name": "Público en general", "usage": "S01"},
		"lines": []map[string]any{{
			"product_code": "01010101", "unit_code": "H87", "description": "Servicio",
			"quantity": "1", "unit_value": "100.00",
			"taxes": []map[string]any{{"code": "002", "rate": "0.16"}},
		}},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out dto.StampResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, testOriginUUID, out.UUID)
	assert.False(t, out.Reused)

	got := env.stamper.got
	assert.Equal(t, testIssuerID, got.IssuerID, "el emisor sale del token")
	assert.Equal(t, "account.move", got.OriginModel)
	assert.Equal(t, cfdi.KindIncome, got.Input.Kind, "el tipo se normaliza a mayúsculas")
	require.Len(t, got.Input.Lines, 1)
	require.Len(t, got.Input.Lines[0].Taxes, 1)
	assert.Equal(t, cfdi.FactorRate, got.Input.Lines[0].Taxes[0].Factor, "sin factor se asume Tasa")
	assert.Equal(t, "100", got.Input.Lines[0].UnitValue.String())
}

func TestStamp_ReutilizadoResponde200(t *testing.T) {
	env := newAPIEnv()
	env.stamper.res = &billing.StampResult{UUID: testOriginUUID, DocumentID: "doc-1", Reused: true}

	resp, _ := env.call(t, http.MethodPost, "/api/cfdi/stamp", tokenForRole(t, apphttp.RoleAdmin),
		map[string]any{"origin_model": "account.move", "origin_id": "42", "kind": "I"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStamp_SinOrigen(t *testing.T) {
	env := newAPIEnv()
	resp, body := env.call(t, http.MethodPost, "/api/cfdi/stamp", tokenForRole(t, apphttp.RoleAdmin),
		map[string]any{"kind": "I"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "VALIDATION", errorCode(t, body).Code)
}

func TestStamp_MapeoDeErrores(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validacion", &cfdi.ValidationError{Problems: []string{"receptor: RFC requerido"}}, http.StatusUnprocessableEntity, "VALIDATION"},
		{"rechazo", &cfdi.ProviderRejection{Reason: cfdi.ReasonInsufficientStamps, Status: 400, Message: "No cuenta con timbres"}, http.StatusBadGateway, "PAC_REJECTED"},
		{"transporte", &cfdi.TransportError{Endpoint: "https://pac", Err: fmt.Errorf("connection refused")}, http.StatusBadGateway, "PAC_UNAVAILABLE"},
		{"desfase", &cfdi.TimeSkewError{Message: "CFDI40101"}, http.StatusBadGateway, "PAC_TIME_SKEW"},
		{"plazo", &cfdi.TimeoutError{Op: "certify", Err: context.DeadlineExceeded}, http.StatusGatewayTimeout, "TIMEOUT"},
		{"pendiente", &cfdi.NotYetAvailableError{UUID: testOriginUUID, Attempts: 3}, http.StatusAccepted, "NOT_YET_AVAILABLE"},
		{"persistencia", &billing.PersistError{UUID: testOriginUUID, DocumentID: "doc-1", Err: fmt.Errorf("db caída")}, http.StatusInternalServerError, "PERSIST_FAILED"},
		{"origen cancelado", fmt.Errorf("origen: %w", domain.ErrConflict), http.StatusConflict, "CONFLICT"},
		{"sin csd", domain.ErrMissingCredentials, http.StatusConflict, "MISSING_CREDENTIALS"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newAPIEnv()
			env.stamper.err = tc.err

			resp, body := env.call(t, http.MethodPost, "/api/cfdi/stamp", tokenForRole(t, apphttp.RoleAdmin),
				map[string]any{"origin_model": "account.move", "origin_id": "42", "kind": "I"})
			assert.Equal(t, tc.status, resp.StatusCode)
			e := errorCode(t, body)
			assert.Equal(t, tc.code, e.Code)
			assert.Equal(t, tc.err.Error(), e.Message, "el mensaje original se conserva")
		})
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Emisor y permisos
// ──────────────────────────────────────────────────────────────────────────────

func TestRouter_EmisorNoRegistrado(t *testing.T) {
	env := newAPIEnv()
	tok, err := pkgjwtToken("otro-emisor", apphttp.RoleAdmin)
	require.NoError(t, err)

	resp, body := env.call(t, http.MethodGet, "/api/cfdi/doc-1", tok, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "ISSUER_NOT_REGISTERED", errorCode(t, body).Code)
}

func TestRouter_EmisorNoVerificable(t *testing.T) {
	app := fiber.New()
	apphttp.Router(app, apphttp.RouterDeps{
		Stamping: &fakeStamper{}, Cancel: &fakeCanceler{}, Documents: &fakeReader{}, Certificates: &fakeCertificates{},
		Issuers:   fakeIssuerLookup{err: fmt.Errorf("db caída")},
		JWTSecret: testJWTSecret,
	})
	req := httptest.NewRequest(http.MethodGet, "/api/cfdi/doc-1", nil)
	req.Header.Set("Authorization", tokenForRole(t, apphttp.RoleAdmin))
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCancel_SoloAdmin(t *testing.T) {
	env := newAPIEnv()
	resp, _ := env.call(t, http.MethodPost, "/api/cfdi/doc-1/cancel", tokenForRole(t, apphttp.RoleFacturista),
		dto.CancelRequest{Reason: "02"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Zero(t, env.canceler.calls, "facturista no llega al caso de uso")
}

func TestCancel_ConDependientes(t *testing.T) {
	env := newAPIEnv()
	env.canceler.err = fmt.Errorf("%w: %s", domain.ErrHasDependents, testOriginUUID)

	resp, body := env.call(t, http.MethodPost, "/api/cfdi/doc-1/cancel", tokenForRole(t, apphttp.RoleAdmin),
		dto.CancelRequest{Reason: "02"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "HAS_DEPENDENTS", errorCode(t, body).Code)
}

func TestCancel_Resultado(t *testing.T) {
	env := newAPIEnv()
	env.canceler.res = &billing.CancelResult{
		DocumentID: "doc-1", UUID: testOriginUUID, State: entity.DocumentStateCanceled, Status: "201",
		Recompute: []billing.RecomputeHint{{UUID: "11111111-2222-3333-4444-555555555555", Kind: "I", OriginModel: "account.move", OriginID: "7"}},
	}

	resp, body := env.call(t, http.MethodPost, "/api/cfdi/doc-1/cancel", tokenForRole(t, apphttp.RoleAdmin),
		dto.CancelRequest{Reason: "01", Replacement: " 11111111-2222-3333-4444-55555555555a "})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	assert.Equal(t, "doc-1", env.canceler.got.DocumentID)
	assert.Equal(t, testIssuerID, env.canceler.got.IssuerID)
	assert.Equal(t, "11111111-2222-3333-4444-55555555555A", env.canceler.got.Replacement)

	var out dto.CancelResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "canceled", out.State)
	require.Len(t, out.Recompute, 1)
	assert.Equal(t, "7", out.Recompute[0].OriginID)
}

// ──────────────────────────────────────────────────────────────────────────────
// Consulta y descarga
// ──────────────────────────────────────────────────────────────────────────────

func TestDownload_XML(t *testing.T) {
	env := newAPIEnv()
	env.reader.file = &billing.File{Name: testOriginUUID + ".xml", MimeType: entity.MimeXML, Content: []byte("<cfdi:Comprobante/>")}

	resp, body := env.call(t, http.MethodGet, "/api/cfdi/doc-1/xml", tokenForRole(t, apphttp.RoleFacturista), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, entity.MimeXML, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), testOriginUUID+".xml")
	assert.Equal(t, "<cfdi:Comprobante/>", string(body))
}

func TestDownload_OtroEmisor(t *testing.T) {
	env := newAPIEnv()
	env.reader.err = domain.ErrForbidden

	resp, _ := env.call(t, http.MethodGet, "/api/cfdi/doc-1/pdf", tokenForRole(t, apphttp.RoleFacturista), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestList_Filtros(t *testing.T) {
	env := newAPIEnv()
	stamped := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	env.reader.doc = &entity.Document{ID: "doc-1", IssuerID: testIssuerID, UUID: testOriginUUID, Kind: "I",
		State: entity.DocumentStateStamped, StampedAt: &stamped, XML: []byte("<x/>")}

	resp, body := env.call(t, http.MethodGet, "/api/cfdi?state=stamped&kind=p&from=2026-03-01&to=2026-03-31&limit=10",
		tokenForRole(t, apphttp.RoleFacturista), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	f := env.reader.filter
	assert.Equal(t, "stamped", f.State)
	assert.Equal(t, "P", f.Kind)
	assert.Equal(t, uint64(10), f.Limit)
	require.NotNil(t, f.From)
	require.NotNil(t, f.To)
	assert.Equal(t, 31, f.To.Day())
	assert.Equal(t, 23, f.To.Hour(), "to incluye el día completo")

	var out dto.DocumentListResponse
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Items, 1)
	assert.Equal(t, testOriginUUID, out.Items[0].UUID)
	assert.NotContains(t, string(body), "<x/>", "el listado no expone el XML")
}

func TestList_FechaInvalida(t *testing.T) {
	env := newAPIEnv()
	resp, _ := env.call(t, http.MethodGet, "/api/cfdi?from=15/03/2026", tokenForRole(t, apphttp.RoleFacturista), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// ──────────────────────────────────────────────────────────────────────────────
// PAC
// ──────────────────────────────────────────────────────────────────────────────

func TestPAC_Certificado(t *testing.T) {
	env := newAPIEnv()
	env.certificates.registered = true

	resp, body := env.call(t, http.MethodGet, "/api/pac/certificate", tokenForRole(t, apphttp.RoleFacturista), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out dto.CertificateStatusResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "EKU9003173C9", out.RFC)
	assert.True(t, out.Registered)

	resp, _ = env.call(t, http.MethodPost, "/api/pac/certificate", tokenForRole(t, apphttp.RoleFacturista), nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "subir el CSD es sólo de admin")

	resp, _ = env.call(t, http.MethodPost, "/api/pac/certificate", tokenForRole(t, apphttp.RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, env.certificates.uploads)
}

func TestPAC_PingFalla(t *testing.T) {
	env := newAPIEnv()
	env.certificates.err = &cfdi.ProviderRejection{Reason: cfdi.ReasonInvalidCredential, Status: 401, Message: "token inválido"}

	resp, body := env.call(t, http.MethodGet, "/api/pac/ping", tokenForRole(t, apphttp.RoleAdmin), nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, errorCode(t, body).Message, "token inválido")
}
