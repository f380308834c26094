package pac_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	"github.com/jhoicas/cfdi-engine/internal/infrastructure/pac"
	"github.com/jhoicas/cfdi-engine/pkg/config"
)

func TestFactory_PorConfiguracion(t *testing.T) {
	issuer := &entity.Issuer{RFC: "eku9003173c9", CertificateDER: []byte("cer"), KeyDER: []byte("key"), KeyPassword: "pw"}

	p, err := pac.NewFactory(config.PACConfig{Provider: pac.ProviderTest}, nil).ForIssuer(issuer)
	require.NoError(t, err)
	assert.IsType(t, &pac.TestProvider{}, p)

	f := pac.NewFactory(config.PACConfig{Provider: pac.ProviderSW, Token: "tk", Sandbox: true}, nil)
	p, err = f.ForIssuer(issuer)
	require.NoError(t, err)
	assert.IsType(t, &pac.SWProvider{}, p)

	cfg := f.ConfigFor(issuer)
	assert.Equal(t, "tk", cfg.Token)
	assert.Equal(t, []byte("cer"), cfg.Certificate, "el CSD viene del emisor, no de una configuración global")
	assert.Equal(t, "pw", cfg.KeyPassword)

	_, err = pac.NewFactory(config.PACConfig{Provider: "otro"}, nil).ForIssuer(issuer)
	assert.Error(t, err)
}

func TestFactory_ReutilizaClientePorEmisor(t *testing.T) {
	fake, srv := newFakeSW(t, map[string]http.HandlerFunc{
		"GET /certificates":     registered,
		"POST /cfdi40/issue/v4": jsonReply(200, map[string]any{"data": map[string]string{"uuid": testUUID, "cfdi": unsigned}}),
	})
	f := pac.NewFactory(config.PACConfig{Provider: pac.ProviderSW, Token: "T0K3N", BaseURL: srv.URL, LookupURL: srv.URL}, nil)
	issuer := &entity.Issuer{ID: "issuer-1", RFC: testRFC, CertificateDER: []byte("cer"), KeyDER: []byte("key"), KeyPassword: "12345678a"}

	first, err := f.ForIssuer(issuer)
	require.NoError(t, err)
	second, err := f.ForIssuer(issuer)
	require.NoError(t, err)
	assert.Same(t, first, second, "mismo emisor y mismo CSD: mismo cliente")

	for _, p := range []billing.CertificationProvider{first, second} {
		_, err := p.Certify(context.Background(), []byte(unsigned))
		require.NoError(t, err)
	}
	n := 0
	for _, c := range fake.called() {
		if c == "GET /certificates" {
			n++
		}
	}
	assert.Equal(t, 1, n, "la verificación del CSD sobrevive entre timbrados")

	other, err := f.ForIssuer(&entity.Issuer{ID: "issuer-2", RFC: "CACX7605101P8", CertificateDER: []byte("cer2"), KeyDER: []byte("key2"), KeyPassword: "x"})
	require.NoError(t, err)
	assert.NotSame(t, first, other)

	renewed := *issuer
	renewed.CertificateDER = []byte("cer-nuevo")
	third, err := f.ForIssuer(&renewed)
	require.NoError(t, err)
	assert.NotSame(t, first, third, "un CSD nuevo descarta el cliente anterior")
}

func TestTestProvider(t *testing.T) {
	p := pac.NewTestProvider()
	ctx := context.Background()

	res, err := p.Certify(ctx, []byte(unsigned))
	require.NoError(t, err)
	assert.Len(t, res.UUID, 36)
	assert.Regexp(t, `^[0-9A-F-]+$`, res.UUID, "UUID en mayúsculas")
	assert.Equal(t, unsigned, string(res.XML), "devuelve los mismos bytes")

	c, err := p.Cancel(ctx, billing.CancelRequest{UUID: res.UUID})
	require.NoError(t, err)
	assert.Equal(t, "201", c.Status)
	assert.Contains(t, string(c.Ack), res.UUID)

	ok, err := p.HasCertificate(ctx, "EKU9003173C9")
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = p.DownloadByIdentifier(ctx, res.UUID)
	assert.True(t, cfdi.IsNotYetAvailable(err))

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = p.Certify(cctx, []byte(unsigned))
	assert.Error(t, err)
}
