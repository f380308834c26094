package billing_test

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/domain"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	"github.com/jhoicas/cfdi-engine/pkg/logger"
)

type countingRenderer struct{ calls int }

func (r *countingRenderer) Render(xml []byte) ([]byte, error) {
	r.calls++
	return append([]byte("%PDF-1.3 "), xml...), nil
}

func newDocumentEnv(docs ...*entity.Document) (*billing.DocumentUseCase, *fakeAttachments, *countingRenderer) {
	atts := newFakeAttachments()
	renderer := &countingRenderer{}
	uc := billing.NewDocumentUseCase(newFakeDocuments(docs...), atts, renderer, logger.Nop())
	return uc, atts, renderer
}

func TestDocument_GetYPermisos(t *testing.T) {
	uc, _, _ := newDocumentEnv(stampedDoc("inv", "I", invoiceUUID))
	ctx := context.Background()

	doc, err := uc.Get(ctx, testIssuerID, "inv")
	require.NoError(t, err)
	assert.Equal(t, invoiceUUID, doc.UUID)

	_, err = uc.Get(ctx, "issuer-2", "inv")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = uc.Get(ctx, testIssuerID, "nada")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	docs, err := uc.List(ctx, "issuer-2", entity.DocumentFilter{IssuerID: testIssuerID})
	require.NoError(t, err)
	assert.Empty(t, docs, "el emisor del token siempre restringe el listado")
}

func TestDocument_XML(t *testing.T) {
	withXML := stampedDoc("inv", "I", invoiceUUID)
	withXML.XML = []byte("<cfdi:Comprobante/>")
	pending := stampedDoc("pend", "I", "")
	pending.State = entity.DocumentStateToStamp
	uc, _, _ := newDocumentEnv(withXML, pending)

	f, err := uc.XML(context.Background(), testIssuerID, "inv")
	require.NoError(t, err)
	assert.Equal(t, entity.MimeXML, f.MimeType)
	assert.Equal(t, invoiceUUID+"-account_move-origin-inv.xml", f.Name)
	assert.Equal(t, withXML.XML, f.Content)

	_, err = uc.XML(context.Background(), testIssuerID, "pend")
	assert.ErrorIs(t, err, domain.ErrInvalidState, "sin folio fiscal no hay XML")
}

func TestDocument_XMLDesdeAdjunto(t *testing.T) {
	doc := stampedDoc("inv", "I", invoiceUUID)
	uc, atts, _ := newDocumentEnv(doc)
	require.NoError(t, atts.Save(context.Background(), &entity.Attachment{
		DocumentID: "inv",
		Name:       entity.StampedXMLName(invoiceUUID, doc.OriginModel, doc.OriginID),
		Content:    []byte("<adjunto/>"),
	}))

	f, err := uc.XML(context.Background(), testIssuerID, "inv")
	require.NoError(t, err)
	assert.Equal(t, "<adjunto/>", string(f.Content))
}

func TestDocument_PDFSeGuardaUnaVez(t *testing.T) {
	doc := stampedDoc("inv", "I", invoiceUUID)
	doc.XML = []byte("<cfdi:Comprobante/>")
	uc, atts, renderer := newDocumentEnv(doc)
	ctx := context.Background()

	f, err := uc.PDF(ctx, testIssuerID, "inv")
	require.NoError(t, err)
	assert.Equal(t, entity.MimePDF, f.MimeType)
	assert.True(t, bytes.HasPrefix(f.Content, []byte("%PDF")))

	_, err = uc.PDF(ctx, testIssuerID, "inv")
	require.NoError(t, err)
	assert.Equal(t, 1, renderer.calls, "la segunda descarga sale del adjunto")

	cached, _ := atts.GetByName(ctx, "inv", billing.PDFName(invoiceUUID))
	assert.NotNil(t, cached)
}

func TestDocument_Paquete(t *testing.T) {
	doc := stampedDoc("inv", "I", invoiceUUID)
	doc.XML = []byte("<cfdi:Comprobante/>")
	uc, atts, _ := newDocumentEnv(doc)
	ctx := context.Background()
	require.NoError(t, atts.Save(ctx, &entity.Attachment{
		DocumentID: "inv", Name: entity.CancellationAckName(invoiceUUID), Content: []byte("<Acuse/>"),
	}))

	f, err := uc.Bundle(ctx, testIssuerID, "inv")
	require.NoError(t, err)
	assert.Equal(t, entity.MimeZIP, f.MimeType)

	zr, err := zip.NewReader(bytes.NewReader(f.Content), int64(len(f.Content)))
	require.NoError(t, err)
	var names []string
	for _, zf := range zr.File {
		names = append(names, zf.Name)
	}
	assert.Equal(t, []string{
		invoiceUUID + ".xml",
		invoiceUUID + ".pdf",
		entity.CancellationAckName(invoiceUUID),
	}, names)
}
