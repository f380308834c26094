package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jhoicas/cfdi-engine/internal/domain"
	"github.com/jhoicas/cfdi-engine/internal/domain/cfdi"
	"github.com/jhoicas/cfdi-engine/internal/domain/entity"
	"github.com/jhoicas/cfdi-engine/internal/domain/repository"
	"github.com/jhoicas/cfdi-engine/pkg/logger"
	"github.com/jhoicas/cfdi-engine/pkg/sat"
)

// CancelCommand solicitud de cancelación. Se identifica por DocumentID o por UUID.
type CancelCommand struct {
	IssuerID    string
	DocumentID  string
	UUID        string
	Reason      string // c_MotivoCancelacion; vacío = 02
	Replacement string // obligatorio con motivo 01
}

// RecomputeHint registro de origen cuyo saldo debe recalcular el colaborador tras
// la cancelación (pago → facturas pagadas, nota de crédito → factura original).
type RecomputeHint struct {
	UUID        string
	Kind        string
	OriginModel string // vacío si el UUID no está en el registro
	OriginID    string
}

// CancelResult resultado de la cancelación local y remota.
type CancelResult struct {
	DocumentID    string
	UUID          string
	State         string
	Status        string // estatus devuelto por el PAC
	ProviderError string // el PAC falló pero el registro quedó cancelado
	Recompute     []RecomputeHint
}

// CancelUseCase cancela comprobantes timbrados.
type CancelUseCase struct {
	issuers     repository.IssuerRepository
	documents   repository.DocumentRepository
	attachments repository.AttachmentRepository
	providers   ProviderFactory
	window      time.Duration
	log         *logger.Logger
	now         func() time.Time
}

// NewCancelUseCase window = 0 desactiva el plazo de cancelación.
func NewCancelUseCase(
	issuers repository.IssuerRepository,
	documents repository.DocumentRepository,
	attachments repository.AttachmentRepository,
	providers ProviderFactory,
	window time.Duration,
	log *logger.Logger,
) *CancelUseCase {
	if log == nil {
		log = logger.Nop()
	}
	return &CancelUseCase{
		issuers:     issuers,
		documents:   documents,
		attachments: attachments,
		providers:   providers,
		window:      window,
		log:         log.Component("cancel"),
		now:         time.Now,
	}
}

// WithClock reemplaza el reloj (tests).
func (uc *CancelUseCase) WithClock(now func() time.Time) *CancelUseCase {
	uc.now = now
	return uc
}

// Cancel valida plazo y dependientes antes de llamar al PAC. Un fallo del PAC se
// registra pero no impide la transición local a canceled: del lado del SAT la
// cancelación pudo haber avanzado.
func (uc *CancelUseCase) Cancel(ctx context.Context, cmd CancelCommand) (*CancelResult, error) {
	entry, err := uc.find(ctx, cmd)
	if err != nil {
		return nil, err
	}
	if entry.State != entity.DocumentStateStamped && entry.State != entity.DocumentStateToCancel {
		return nil, fmt.Errorf("cancelar %s en estado %s: %w", entry.ID, entry.State, domain.ErrInvalidState)
	}

	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		reason = sat.CancelWithErrorsUnrelated
	}
	replacement := strings.ToUpper(strings.TrimSpace(cmd.Replacement))
	var p []string
	if !sat.ValidCancelReasons[reason] {
		p = append(p, fmt.Sprintf("motivo de cancelación %q no reconocido", reason))
	}
	if reason == sat.CancelWithErrorsRelated && replacement == "" {
		p = append(p, "motivo 01 requiere el UUID del comprobante que sustituye")
	}
	if replacement != "" && !sat.IsUUID(replacement) {
		p = append(p, fmt.Sprintf("folio de sustitución %q inválido", replacement))
	}
	if len(p) > 0 {
		return nil, &cfdi.ValidationError{Problems: p}
	}

	now := uc.now()
	if uc.window > 0 && now.Sub(entry.IssuedAt) > uc.window {
		return nil, fmt.Errorf("%s emitido el %s: %w", entry.UUID, entry.IssuedAt.Format(time.RFC3339), domain.ErrCancelWindowExpired)
	}

	dependents, err := uc.documents.ListDependents(ctx, entry.IssuerID, entry.UUID)
	if err != nil {
		return nil, fmt.Errorf("buscar dependientes: %w", err)
	}
	if blocking := blockingDependents(dependents, entry.ID); len(blocking) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrHasDependents, strings.Join(blocking, ", "))
	}

	issuer, err := uc.issuers.GetByID(ctx, entry.IssuerID)
	if err != nil {
		return nil, fmt.Errorf("buscar emisor: %w", err)
	}
	if issuer == nil {
		return nil, fmt.Errorf("emisor %s: %w", entry.IssuerID, domain.ErrNotFound)
	}
	provider, err := uc.providers.ForIssuer(issuer)
	if err != nil {
		return nil, err
	}

	log := uc.log.WithIssuer(entry.IssuerID)
	before := *entry
	entry.State = entity.DocumentStateToCancel
	entry.CancelReason = reason
	entry.Replacement = replacement
	if err := uc.documents.UpdateState(ctx, entry); err != nil {
		return nil, fmt.Errorf("marcar to_cancel: %w", err)
	}

	res := &CancelResult{DocumentID: entry.ID, UUID: entry.UUID}
	persistCtx := context.WithoutCancel(ctx)
	remote, err := provider.Cancel(ctx, CancelRequest{UUID: entry.UUID, Reason: reason, Replacement: replacement})
	switch {
	case err == nil:
		res.Status = remote.Status
		log.Info().Str("uuid", entry.UUID).Str("status", remote.Status).Str("motivo", reason).Msg("cancelación aceptada por el PAC")
	case remoteDegraded(err):
		res.ProviderError = err.Error()
		log.Error().Err(err).Str("uuid", entry.UUID).Str("motivo", reason).Msg("cancelación en el PAC fallida; se cancela localmente")
	default:
		// El PAC no recibió la solicitud o la rechazó: el comprobante sigue vigente.
		before.LastError = err.Error()
		if uerr := uc.documents.UpdateState(persistCtx, &before); uerr != nil {
			log.Error().Err(uerr).Str("uuid", entry.UUID).Msg("no se pudo restaurar el estado tras la cancelación fallida")
		}
		log.Warn().Err(err).Str("uuid", entry.UUID).Str("motivo", reason).Msg("cancelación no aplicada")
		return nil, fmt.Errorf("cancelar %s: %w", entry.UUID, asTimeout("cancel", err))
	}

	canceledAt := now
	entry.State = entity.DocumentStateCanceled
	entry.CanceledAt = &canceledAt
	entry.LastError = res.ProviderError
	if err := uc.documents.UpdateState(persistCtx, entry); err != nil {
		return nil, fmt.Errorf("marcar canceled: %w", err)
	}
	res.State = entry.State

	if remote != nil && len(remote.Ack) > 0 {
		att := &entity.Attachment{
			DocumentID: entry.ID,
			Name:       entity.CancellationAckName(entry.UUID),
			MimeType:   entity.MimeXML,
			Content:    remote.Ack,
		}
		if err := uc.attachments.Save(persistCtx, att); err != nil {
			log.Error().Err(err).Str("uuid", entry.UUID).Msg("no se pudo guardar el acuse de cancelación")
		}
	}

	res.Recompute = uc.recomputeHints(persistCtx, entry)
	return res, nil
}

func (uc *CancelUseCase) find(ctx context.Context, cmd CancelCommand) (*entity.Document, error) {
	var (
		entry *entity.Document
		err   error
	)
	switch {
	case cmd.DocumentID != "":
		entry, err = uc.documents.GetByID(ctx, cmd.DocumentID)
	case cmd.UUID != "":
		entry, err = uc.documents.GetByUUID(ctx, cmd.IssuerID, strings.ToUpper(strings.TrimSpace(cmd.UUID)))
	default:
		return nil, fmt.Errorf("%w: documento o UUID requerido", domain.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("comprobante: %w", domain.ErrNotFound)
	}
	if cmd.IssuerID != "" && entry.IssuerID != cmd.IssuerID {
		return nil, fmt.Errorf("comprobante de otro emisor: %w", domain.ErrForbidden)
	}
	return entry, nil
}

// blockingDependents E/P vigentes que referencian el comprobante.
func blockingDependents(docs []*entity.Document, self string) []string {
	var out []string
	for _, d := range docs {
		if d.ID == self || d.State == entity.DocumentStateCanceled {
			continue
		}
		if d.Kind != string(cfdi.KindEgress) && d.Kind != string(cfdi.KindPayment) {
			continue
		}
		label := d.UUID
		if label == "" {
			label = d.OriginModel + "/" + d.OriginID
		}
		out = append(out, fmt.Sprintf("%s %s", d.Kind, label))
	}
	return out
}

// recomputeHints orígenes referenciados por el comprobante cancelado.
func (uc *CancelUseCase) recomputeHints(ctx context.Context, entry *entity.Document) []RecomputeHint {
	hints := make([]RecomputeHint, 0, len(entry.RelatedUUIDs))
	for _, id := range entry.RelatedUUIDs {
		hint := RecomputeHint{UUID: id}
		if ref, err := uc.documents.GetByUUID(ctx, entry.IssuerID, id); err == nil && ref != nil {
			hint.Kind = ref.Kind
			hint.OriginModel = ref.OriginModel
			hint.OriginID = ref.OriginID
		}
		hints = append(hints, hint)
	}
	return hints
}

// remoteDegraded la solicitud pudo llegar al PAC (falla de red o 5xx). Los errores
// locales, los rechazos 4xx y el plazo vencido no cancelan el comprobante.
func remoteDegraded(err error) bool {
	var te *cfdi.TransportError
	if errors.As(err, &te) {
		return true
	}
	var pr *cfdi.ProviderRejection
	return errors.As(err, &pr) && pr.Status >= 500
}
