package billing_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jhoicas/cfdi-engine/internal/application/billing"
	"github.com/jhoicas/cfdi-engine/internal/domain"
	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	"github.com/jhoicas/cfdi-engine/internal/domain/repository"
	"github.com/jhoicas/cfdi-engine/internal/infrastructure/lock"
)

// ─── Emisores ─────────────────────────────────────────────────────────────────

type fakeIssuers struct {
	mu   sync.Mutex
	byID map[string]*entity.Issuer
}

func newFakeIssuers(issuers ...*entity.Issuer) *fakeIssuers {
	f := &fakeIssuers{byID: map[string]*entity.Issuer{}}
	for _, i := range issuers {
		f.byID[i.ID] = i
	}
	return f
}

func (f *fakeIssuers) GetByID(_ context.Context, id string) (*entity.Issuer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id], nil
}

func (f *fakeIssuers) GetByRFC(_ context.Context, rfc string) (*entity.Issuer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, i := range f.byID {
		if i.RFC == rfc {
			return i, nil
		}
	}
	return nil, nil
}

func (f *fakeIssuers) Upsert(_ context.Context, issuer *entity.Issuer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if issuer.ID == "" {
		issuer.ID = "issuer-" + issuer.RFC
	}
	f.byID[issuer.ID] = issuer
	return nil
}

// ─── Registro ─────────────────────────────────────────────────────────────────

type fakeDocuments struct {
	mu              sync.Mutex
	byID            map[string]*entity.Document
	markStampedErr  error
	recordedUUIDs   []string
	stateTransition []string
}

func newFakeDocuments(docs ...*entity.Document) *fakeDocuments {
	f := &fakeDocuments{byID: map[string]*entity.Document{}}
	for _, d := range docs {
		f.byID[d.ID] = d
	}
	return f
}

func (f *fakeDocuments) copyOf(d *entity.Document) *entity.Document {
	if d == nil {
		return nil
	}
	c := *d
	c.RelatedUUIDs = append([]string(nil), d.RelatedUUIDs...)
	return &c
}

func (f *fakeDocuments) Create(_ context.Context, doc *entity.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.byID {
		if d.IssuerID == doc.IssuerID && d.OriginModel == doc.OriginModel && d.OriginID == doc.OriginID && d.Kind == doc.Kind {
			return domain.ErrDuplicate
		}
	}
	f.byID[doc.ID] = f.copyOf(doc)
	return nil
}

func (f *fakeDocuments) GetByID(_ context.Context, id string) (*entity.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copyOf(f.byID[id]), nil
}

func (f *fakeDocuments) GetByOrigin(_ context.Context, issuerID, model, originID, kind string) (*entity.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.byID {
		if d.IssuerID == issuerID && d.OriginModel == model && d.OriginID == originID && d.Kind == kind {
			return f.copyOf(d), nil
		}
	}
	return nil, nil
}

func (f *fakeDocuments) GetByUUID(_ context.Context, issuerID, uuid string) (*entity.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range f.byID {
		if d.IssuerID == issuerID && d.UUID == uuid {
			return f.copyOf(d), nil
		}
	}
	return nil, nil
}

func (f *fakeDocuments) Refresh(_ context.Context, doc *entity.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.byID[doc.ID]
	if !ok || cur.State != entity.DocumentStateToStamp {
		return domain.ErrNotFound
	}
	cur.Digest = doc.Digest
	cur.RelatedUUIDs = doc.RelatedUUIDs
	cur.IssuedAt = doc.IssuedAt
	cur.Total = doc.Total
	cur.LastError = ""
	return nil
}

func (f *fakeDocuments) MarkStamped(_ context.Context, id, uuid string, xml []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markStampedErr != nil {
		return f.markStampedErr
	}
	cur, ok := f.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	cur.UUID, cur.XML, cur.State, cur.StampedAt, cur.LastError = uuid, xml, entity.DocumentStateStamped, &now, ""
	return nil
}

func (f *fakeDocuments) RecordUUID(_ context.Context, id, uuid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	cur.UUID = uuid
	f.recordedUUIDs = append(f.recordedUUIDs, uuid)
	return nil
}

func (f *fakeDocuments) MarkError(_ context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	cur.LastError = message
	return nil
}

func (f *fakeDocuments) UpdateState(_ context.Context, doc *entity.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.byID[doc.ID]
	if !ok {
		return domain.ErrNotFound
	}
	cur.State, cur.CanceledAt, cur.CancelReason, cur.Replacement, cur.LastError =
		doc.State, doc.CanceledAt, doc.CancelReason, doc.Replacement, doc.LastError
	f.stateTransition = append(f.stateTransition, doc.State)
	return nil
}

func (f *fakeDocuments) ListDependents(_ context.Context, issuerID, uuid string) ([]*entity.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Document
	for _, d := range f.byID {
		if d.IssuerID == issuerID && d.References(uuid) && d.State != entity.DocumentStateCanceled {
			out = append(out, f.copyOf(d))
		}
	}
	return out, nil
}

func (f *fakeDocuments) List(_ context.Context, filter entity.DocumentFilter) ([]*entity.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Document
	for _, d := range f.byID {
		if filter.IssuerID != "" && d.IssuerID != filter.IssuerID {
			continue
		}
		if filter.State != "" && d.State != filter.State {
			continue
		}
		out = append(out, f.copyOf(d))
	}
	return out, nil
}

func (f *fakeDocuments) get(id string) *entity.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.copyOf(f.byID[id])
}

// ─── Adjuntos ─────────────────────────────────────────────────────────────────

type fakeAttachments struct {
	mu    sync.Mutex
	items map[string]*entity.Attachment
	err   error
}

func newFakeAttachments() *fakeAttachments {
	return &fakeAttachments{items: map[string]*entity.Attachment{}}
}

func (f *fakeAttachments) Save(_ context.Context, att *entity.Attachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	c := *att
	c.Size = len(att.Content)
	f.items[att.DocumentID+"/"+att.Name] = &c
	return nil
}

func (f *fakeAttachments) GetByName(_ context.Context, documentID, name string) (*entity.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[documentID+"/"+name], nil
}

func (f *fakeAttachments) ListByDocument(_ context.Context, documentID string) ([]*entity.Attachment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*entity.Attachment
	for _, a := range f.items {
		if a.DocumentID == documentID {
			out = append(out, a)
		}
	}
	return out, nil
}

// ─── PAC ──────────────────────────────────────────────────────────────────────

type certifyFunc func(xml []byte) (*cfdi.CertificationResult, error)

type fakeProvider struct {
	mu        sync.Mutex
	certify   []certifyFunc // una por llamada; la última se repite
	download  func(uuid string) ([]byte, error)
	cancel    func(req billing.CancelRequest) (*billing.CancellationResult, error)
	certified [][]byte
	downloads int
	cancels   []billing.CancelRequest
	hasCert   bool
	uploaded  int
	pingErr   error
}

func (p *fakeProvider) Certify(_ context.Context, xml []byte) (*cfdi.CertificationResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.certified)
	p.certified = append(p.certified, xml)
	if len(p.certify) == 0 {
		return nil, errors.New("sin respuesta configurada")
	}
	if n >= len(p.certify) {
		n = len(p.certify) - 1
	}
	return p.certify[n](xml)
}

func (p *fakeProvider) DownloadByIdentifier(_ context.Context, uuid string) ([]byte, []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.downloads++
	if p.download == nil {
		return nil, nil, &cfdi.NotYetAvailableError{UUID: uuid, Attempts: 1}
	}
	xml, err := p.download(uuid)
	return xml, nil, err
}

func (p *fakeProvider) Cancel(_ context.Context, req billing.CancelRequest) (*billing.CancellationResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels = append(p.cancels, req)
	if p.cancel == nil {
		return &billing.CancellationResult{Status: "201", Ack: []byte("<Acuse/>")}, nil
	}
	return p.cancel(req)
}

func (p *fakeProvider) HasCertificate(_ context.Context, _ string) (bool, error) {
	return p.hasCert, nil
}

func (p *fakeProvider) UploadCertificate(_ context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploaded++
	p.hasCert = true
	return true, nil
}

func (p *fakeProvider) Ping(_ context.Context) error { return p.pingErr }

func (p *fakeProvider) certifyCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.certified)
}

func (p *fakeProvider) cancelCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cancels)
}

type fakeFactory struct {
	provider *fakeProvider
}

func (f fakeFactory) ForIssuer(*entity.Issuer) (billing.CertificationProvider, error) {
	return f.provider, nil
}

// providerFactory entrega siempre el mismo proveedor, p. ej. el cliente SW contra httptest.
type providerFactory struct {
	provider billing.CertificationProvider
}

func (f providerFactory) ForIssuer(*entity.Issuer) (billing.CertificationProvider, error) {
	return f.provider, nil
}

// stampedOK respuesta de timbrado con XML.
func stampedOK(uuid string) certifyFunc {
	return func(xml []byte) (*cfdi.CertificationResult, error) {
		return &cfdi.CertificationResult{UUID: uuid, XML: append([]byte("<!--timbrado-->"), xml...)}, nil
	}
}

// stampedWithoutXML el PAC devuelve UUID pero no el XML.
func stampedWithoutXML(uuid string) certifyFunc {
	return func([]byte) (*cfdi.CertificationResult, error) {
		return &cfdi.CertificationResult{UUID: uuid}, nil
	}
}

func failWith(err error) certifyFunc {
	return func([]byte) (*cfdi.CertificationResult, error) { return nil, err }
}

// fakeTx ejecuta fn sobre los mismos fakes; err simula un fallo al abrir la transacción.
type fakeTx struct {
	docs *fakeDocuments
	atts *fakeAttachments
	runs int
	err  error
}

func (f *fakeTx) RunRegistry(_ context.Context, fn func(repository.DocumentRepository, repository.AttachmentRepository) error) error {
	f.runs++
	if f.err != nil {
		return f.err
	}
	return fn(f.docs, f.atts)
}

// ─── Candado ──────────────────────────────────────────────────────────────────

// trackingLocker envuelve el candado en memoria y cuenta adquisiciones,
// liberaciones y el máximo de poseedores simultáneos de una misma llave.
type trackingLocker struct {
	inner    billing.Locker
	mu       sync.Mutex
	acquired int
	released int
	held     map[string]int
	maxHeld  int
}

func newTrackingLocker() *trackingLocker {
	return &trackingLocker{inner: lock.NewLocalLocker(), held: map[string]int{}}
}

func (l *trackingLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	release, err := l.inner.Acquire(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.acquired++
	l.held[key]++
	if l.held[key] > l.maxHeld {
		l.maxHeld = l.held[key]
	}
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.released++
			l.held[key]--
			l.mu.Unlock()
			release()
		})
	}, nil
}

func (l *trackingLocker) holders(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[key]
}

func (l *trackingLocker) counts() (acquired, released, maxHeld int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired, l.released, l.maxHeld
}
