package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jhoicas/cfdi-engine/internal/domain"
	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	"github.com/jhoicas/cfdi-engine/internal/domain/repository"
	cfdixml "github.com/jhoicas/cfdi-engine/internal/infrastructure/cfdi"
	"github.com/jhoicas/cfdi-engine/pkg/logger"
)

var tracer = otel.Tracer("cfdi-engine/billing")

// skewBackoff margen que se resta a la fecha de emisión al reintentar por desfase de hora.
const skewBackoff = 2 * time.Minute

// StampCommand solicitud de timbrado de un registro de origen.
type StampCommand struct {
	IssuerID    string
	OriginModel string // p. ej. "account.move"
	OriginID    string
	Input       cfdi.BuildInput
}

// StampResult resultado del timbrado. Reused indica que ya estaba timbrado.
// Built es el comprobante armado en esta llamada; nil si se reutilizó o se
// recuperó por UUID.
type StampResult struct {
	UUID       string
	XML        []byte
	DocumentID string
	Reused     bool
	Built      *BuiltDocument
}

// BuiltDocument comprobante listo para enviar al PAC: XML sin sellar y emisor y
// receptor tal como quedaron resueltos (receptores genéricos incluidos).
type BuiltDocument struct {
	XML      []byte
	Issuer   cfdi.Party
	Receiver cfdi.Receiver
	Document *cfdi.Document
}

// StampingConfig plazos del orquestador.
type StampingConfig struct {
	LockTTL time.Duration
	Timeout time.Duration // 0 = el plazo del llamador
}

// StampingOrchestrator coordina el ciclo completo del timbrado:
//
//	idempotencia → candado del emisor → Builder → XML → registro to_stamp →
//	Certify (un reintento por desfase) → descarga por UUID → stamped → adjunto
//
// El candado cubre build + certify: el CSD del emisor no admite timbrados
// concurrentes en el PAC.
type StampingOrchestrator struct {
	issuers     repository.IssuerRepository
	documents   repository.DocumentRepository
	attachments repository.AttachmentRepository
	providers   ProviderFactory
	locker      Locker
	tx          RegistryTxRunner
	builder     *cfdi.Builder
	serializer  *cfdixml.XMLBuilderService
	cfg         StampingConfig
	log         *logger.Logger
	now         func() time.Time
}

// NewStampingOrchestrator construye el orquestador con todas sus dependencias.
func NewStampingOrchestrator(
	issuers repository.IssuerRepository,
	documents repository.DocumentRepository,
	attachments repository.AttachmentRepository,
	providers ProviderFactory,
	locker Locker,
	builder *cfdi.Builder,
	serializer *cfdixml.XMLBuilderService,
	cfg StampingConfig,
	log *logger.Logger,
) *StampingOrchestrator {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	return &StampingOrchestrator{
		issuers:     issuers,
		documents:   documents,
		attachments: attachments,
		providers:   providers,
		locker:      locker,
		builder:     builder,
		serializer:  serializer,
		cfg:         cfg,
		log:         log.Component("stamping"),
		now:         time.Now,
	}
}

// WithClock reemplaza el reloj (tests).
func (o *StampingOrchestrator) WithClock(now func() time.Time) *StampingOrchestrator {
	o.now = now
	return o
}

// WithRegistryTx registra UUID, XML y adjunto en una sola transacción.
func (o *StampingOrchestrator) WithRegistryTx(tx RegistryTxRunner) *StampingOrchestrator {
	o.tx = tx
	return o
}

// Stamp timbra el registro de origen. Si ya existe un comprobante timbrado para
// (emisor, modelo, id, tipo) lo devuelve sin llamar al PAC.
func (o *StampingOrchestrator) Stamp(ctx context.Context, cmd StampCommand) (*StampResult, error) {
	ctx, span := tracer.Start(ctx, "cfdi.stamp", trace.WithAttributes(
		attribute.String("cfdi.issuer", cmd.IssuerID),
		attribute.String("cfdi.origin", cmd.OriginModel+"/"+cmd.OriginID),
		attribute.String("cfdi.kind", string(cmd.Input.Kind)),
	))
	defer span.End()

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}

	res, err := o.stamp(ctx, cmd)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.String("cfdi.uuid", res.UUID), attribute.Bool("cfdi.reused", res.Reused))
	return res, nil
}

func (o *StampingOrchestrator) stamp(ctx context.Context, cmd StampCommand) (*StampResult, error) {
	log := o.log.WithIssuer(cmd.IssuerID)
	kind := string(cmd.Input.Kind)
	if cmd.IssuerID == "" || cmd.OriginModel == "" || cmd.OriginID == "" {
		return nil, fmt.Errorf("%w: emisor y registro de origen requeridos", domain.ErrInvalidInput)
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 0. Idempotencia: el registro de origen ya tiene CFDI timbrado
	// ═══════════════════════════════════════════════════════════════════════════
	if res, _, err := o.reuse(ctx, cmd, kind); res != nil || err != nil {
		return res, err
	}

	issuer, err := o.issuers.GetByID(ctx, cmd.IssuerID)
	if err != nil {
		return nil, asTimeout("issuer", fmt.Errorf("buscar emisor: %w", err))
	}
	if issuer == nil {
		return nil, fmt.Errorf("emisor %s: %w", cmd.IssuerID, domain.ErrNotFound)
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 1. Candado por emisor (liberado en todas las salidas)
	// ═══════════════════════════════════════════════════════════════════════════
	release, err := o.locker.Acquire(ctx, "issuer:"+issuer.ID, o.cfg.LockTTL)
	if err != nil {
		return nil, asTimeout("lock", err)
	}
	defer release()

	// otro proceso pudo timbrar mientras esperábamos el candado
	res, existing, err := o.reuse(ctx, cmd, kind)
	if res != nil || err != nil {
		return res, err
	}
	if existing != nil && existing.UUID != "" && existing.State == entity.DocumentStateToStamp {
		// timbrado previo sin XML: se recupera por UUID, nunca se vuelve a certificar
		provider, err := o.providers.ForIssuer(issuer)
		if err != nil {
			return nil, err
		}
		log.Info().Str("step", "recover").Str("uuid", existing.UUID).Str("origin", cmd.OriginID).Msg("recuperando CFDI timbrado por UUID")
		stamped, err := o.download(ctx, provider, existing.UUID)
		if err != nil {
			o.markError(ctx, existing.ID, err)
			return nil, asTimeout("download", err)
		}
		return o.persist(ctx, cmd, existing.ID, existing.UUID, stamped)
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 2. Construir comprobante y XML
	// ═══════════════════════════════════════════════════════════════════════════
	in := o.prepareInput(issuer, cmd.Input)
	built, err := o.build(ctx, issuer, in)
	if err != nil {
		log.Warn().Err(err).Str("step", "build").Str("origin", cmd.OriginID).Msg("comprobante rechazado antes del PAC")
		return nil, err
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 3. Registro en to_stamp (con huella y UUIDs relacionados)
	// ═══════════════════════════════════════════════════════════════════════════
	entry, err := o.register(ctx, issuer, cmd, built.Document, built.XML)
	if err != nil {
		return nil, asTimeout("register", err)
	}

	provider, err := o.providers.ForIssuer(issuer)
	if err != nil {
		o.markError(ctx, entry.ID, err)
		return nil, err
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 4. Certify; un único reintento si el PAC rechaza la fecha por desfase
	// ═══════════════════════════════════════════════════════════════════════════
	result, err := o.certify(ctx, provider, built.XML)
	if cfdi.IsTimeSkew(err) {
		log.Warn().Err(err).Str("step", "certify").Str("origin", cmd.OriginID).Msg("desfase de hora con el PAC, reintentando con fecha ajustada")
		in.IssuedAt = o.now().Add(-skewBackoff)
		built, err = o.build(ctx, issuer, in)
		if err != nil {
			o.markError(ctx, entry.ID, err)
			return nil, err
		}
		o.applyDocument(entry, built.Document, built.XML)
		if err := o.documents.Refresh(ctx, entry); err != nil {
			return nil, asTimeout("register", fmt.Errorf("actualizar registro: %w", err))
		}
		result, err = o.certify(ctx, provider, built.XML)
	}
	if err != nil {
		o.markError(ctx, entry.ID, err)
		log.Error().Err(err).Str("step", "certify").Str("origin", cmd.OriginID).Msg("timbrado fallido")
		return nil, asTimeout("certify", err)
	}
	log.Info().Str("step", "certify").Str("uuid", result.UUID).Str("origin", cmd.OriginID).Msg("CFDI timbrado")

	// ═══════════════════════════════════════════════════════════════════════════
	// 5. Sin XML en la respuesta: descargar por UUID (sondeo acotado)
	// ═══════════════════════════════════════════════════════════════════════════
	stamped := result.XML
	if len(stamped) == 0 {
		if err := o.documents.RecordUUID(context.WithoutCancel(ctx), entry.ID, result.UUID); err != nil {
			log.Error().Err(err).Str("uuid", result.UUID).Msg("no se pudo registrar el UUID antes de la descarga")
		}
		stamped, err = o.download(ctx, provider, result.UUID)
		if err != nil {
			o.markError(ctx, entry.ID, err)
			log.Error().Err(err).Str("step", "download").Str("uuid", result.UUID).Msg("XML timbrado no disponible")
			return nil, asTimeout("download", err)
		}
	}

	// ═══════════════════════════════════════════════════════════════════════════
	// 6. Persistir: primero UUID + XML en el registro, después el adjunto
	// ═══════════════════════════════════════════════════════════════════════════
	if len(result.XML) > 0 {
		// el UUID queda registrado aunque falle MarkStamped
		if err := o.documents.RecordUUID(context.WithoutCancel(ctx), entry.ID, result.UUID); err != nil {
			log.Error().Err(err).Str("uuid", result.UUID).Msg("no se pudo registrar el UUID")
		}
	}
	res, err = o.persist(ctx, cmd, entry.ID, result.UUID, stamped)
	if res != nil {
		res.Built = built
	}
	return res, err
}

// Build arma y serializa el comprobante sin registrarlo ni enviarlo al PAC.
func (o *StampingOrchestrator) Build(ctx context.Context, cmd StampCommand) (*BuiltDocument, error) {
	issuer, err := o.issuers.GetByID(ctx, cmd.IssuerID)
	if err != nil {
		return nil, asTimeout("issuer", fmt.Errorf("buscar emisor: %w", err))
	}
	if issuer == nil {
		return nil, fmt.Errorf("emisor %s: %w", cmd.IssuerID, domain.ErrNotFound)
	}
	return o.build(ctx, issuer, o.prepareInput(issuer, cmd.Input))
}

func (o *StampingOrchestrator) persist(ctx context.Context, cmd StampCommand, documentID, id string, stamped []byte) (*StampResult, error) {
	out := &StampResult{UUID: id, XML: stamped, DocumentID: documentID}
	persistCtx := context.WithoutCancel(ctx)
	att := &entity.Attachment{
		DocumentID: documentID,
		Name:       entity.StampedXMLName(id, cmd.OriginModel, cmd.OriginID),
		MimeType:   entity.MimeXML,
		Content:    stamped,
	}
	if o.tx != nil {
		err := o.tx.RunRegistry(persistCtx, func(docs repository.DocumentRepository, atts repository.AttachmentRepository) error {
			if err := docs.MarkStamped(persistCtx, documentID, id, stamped); err != nil {
				return err
			}
			return atts.Save(persistCtx, att)
		})
		if err == nil {
			return out, nil
		}
		// Sin la transacción, al menos el UUID y el XML deben quedar registrados.
		o.log.Warn().Err(err).Str("step", "persist").Str("uuid", id).Msg("transacción del registro fallida, se registra sólo el UUID")
	}
	if err := o.documents.MarkStamped(persistCtx, documentID, id, stamped); err != nil {
		o.log.Error().Err(err).Str("step", "persist").Str("uuid", id).Msg("CFDI timbrado sin registrar")
		return out, &PersistError{UUID: id, DocumentID: documentID, Err: err}
	}
	if err := o.attachments.Save(persistCtx, att); err != nil {
		o.log.Error().Err(err).Str("step", "attachment").Str("uuid", id).Msg("no se pudo guardar el adjunto")
		return out, &PersistError{UUID: id, DocumentID: documentID, Err: err}
	}
	return out, nil
}

// reuse devuelve el resultado existente si el origen ya está timbrado, y la
// entrada del registro (si hay) en cualquier caso.
func (o *StampingOrchestrator) reuse(ctx context.Context, cmd StampCommand, kind string) (*StampResult, *entity.Document, error) {
	existing, err := o.documents.GetByOrigin(ctx, cmd.IssuerID, cmd.OriginModel, cmd.OriginID, kind)
	if err != nil {
		return nil, nil, asTimeout("registry", fmt.Errorf("buscar registro: %w", err))
	}
	if existing == nil || !existing.IsStamped() {
		return nil, existing, nil
	}
	o.log.Info().Str("issuer", cmd.IssuerID).Str("uuid", existing.UUID).Str("origin", cmd.OriginID).Msg("ya timbrado, se reutiliza")
	return &StampResult{UUID: existing.UUID, XML: existing.XML, DocumentID: existing.ID, Reused: true}, existing, nil
}

// prepareInput completa el input con los datos del emisor registrado.
func (o *StampingOrchestrator) prepareInput(issuer *entity.Issuer, in cfdi.BuildInput) cfdi.BuildInput {
	if in.Issuer.RFC == "" {
		in.Issuer = cfdi.Party{RFC: issuer.RFC, Name: issuer.Name, Regime: issuer.Regime, PostalCode: issuer.PostalCode}
	}
	if in.DefaultCurrency == "" {
		in.DefaultCurrency = issuer.DefaultCurrency
	}
	if in.Series == "" {
		in.Series = issuer.Series
	}
	return in
}

func (o *StampingOrchestrator) build(ctx context.Context, issuer *entity.Issuer, in cfdi.BuildInput) (*BuiltDocument, error) {
	_, span := tracer.Start(ctx, "cfdi.build")
	defer span.End()

	doc, err := o.builder.Build(in)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if idx := doc.ExemptFallbackLines(); len(idx) > 0 {
		span.SetAttributes(attribute.IntSlice("cfdi.exempt_fallback_lines", idx))
		o.log.Warn().Ints("lines", idx).Str("step", "build").Msg("conceptos gravables sin tasas declarados Exento")
	}
	if len(issuer.CertificateDER) > 0 {
		// sólo se verifica la vigencia; el sello lo pone el PAC
		cert, err := cfdixml.ParseCertificate(issuer.CertificateDER)
		if err != nil {
			return nil, err
		}
		if err := cert.ValidAt(doc.IssuedAt); err != nil {
			return nil, &cfdi.ValidationError{Problems: []string{"emisor: " + err.Error()}}
		}
	}
	xml, err := o.serializer.Build(doc)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("serializar CFDI: %w", err)
	}
	return &BuiltDocument{XML: xml, Issuer: doc.Issuer, Receiver: doc.Receiver, Document: doc}, nil
}

// register crea o refresca la entrada to_stamp del origen.
func (o *StampingOrchestrator) register(ctx context.Context, issuer *entity.Issuer, cmd StampCommand, doc *cfdi.Document, xml []byte) (*entity.Document, error) {
	entry, err := o.documents.GetByOrigin(ctx, issuer.ID, cmd.OriginModel, cmd.OriginID, string(doc.Kind))
	if err != nil {
		return nil, fmt.Errorf("buscar registro: %w", err)
	}
	if entry != nil {
		if entry.State != entity.DocumentStateToStamp {
			return nil, fmt.Errorf("registro %s en estado %s: %w", entry.ID, entry.State, domain.ErrInvalidState)
		}
		o.applyDocument(entry, doc, xml)
		if err := o.documents.Refresh(ctx, entry); err != nil {
			return nil, fmt.Errorf("actualizar registro: %w", err)
		}
		return entry, nil
	}

	entry = &entity.Document{
		ID:          uuid.New().String(),
		IssuerID:    issuer.ID,
		OriginModel: cmd.OriginModel,
		OriginID:    cmd.OriginID,
		Kind:        string(doc.Kind),
		State:       entity.DocumentStateToStamp,
	}
	o.applyDocument(entry, doc, xml)
	if err := o.documents.Create(ctx, entry); err != nil {
		return nil, fmt.Errorf("crear registro: %w", err)
	}
	return entry, nil
}

func (o *StampingOrchestrator) applyDocument(entry *entity.Document, doc *cfdi.Document, xml []byte) {
	if digest, err := cfdixml.Fingerprint(xml); err == nil {
		entry.Digest = digest
	} else {
		o.log.Warn().Err(err).Msg("no se pudo calcular la huella del XML")
	}
	entry.RelatedUUIDs = doc.RelatedUUIDs()
	entry.Series = doc.Series
	entry.Folio = doc.Folio
	entry.Total = doc.Total
	entry.IssuedAt = doc.IssuedAt
}

func (o *StampingOrchestrator) certify(ctx context.Context, provider CertificationProvider, xml []byte) (*cfdi.CertificationResult, error) {
	ctx, span := tracer.Start(ctx, "cfdi.certify")
	defer span.End()
	res, err := provider.Certify(ctx, xml)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if res == nil || res.UUID == "" {
		return nil, errors.New("el PAC respondió sin UUID")
	}
	return res, nil
}

func (o *StampingOrchestrator) download(ctx context.Context, provider CertificationProvider, id string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "cfdi.download", trace.WithAttributes(attribute.String("cfdi.uuid", id)))
	defer span.End()
	xml, _, err := provider.DownloadByIdentifier(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return xml, nil
}

// markError deja el último error en el registro; el plazo del llamador puede haber vencido.
func (o *StampingOrchestrator) markError(ctx context.Context, id string, cause error) {
	if err := o.documents.MarkError(context.WithoutCancel(ctx), id, cause.Error()); err != nil {
		o.log.Error().Err(err).Str("document", id).Msg("no se pudo registrar el error")
	}
}
