package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/begoneskadedjur/kundportal-sub013/model"
	"github.com/begoneskadedjur/kundportal-sub013/pkg/logger"
)

var (
	// ErrMalformedPayload means the delivery body could not be understood
	ErrMalformedPayload = errors.New("malformed webhook payload")
	// ErrInvalidSignature means the delivery signature did not match
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// UpstreamError wraps a failed document fetch for a delivery
type UpstreamError struct {
	ContractID string
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("failed to fetch document %s: %v", e.ContractID, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Provider event types
const (
	EventPublish             = "contract:publish"
	EventSign                = "contract:sign"
	EventDecline             = "contract:decline"
	EventLifecycleStart      = "contract:lifecycle_state:start"
	EventLifecycleEnd        = "contract:lifecycle_state:end"
	EventLifecycleTerminate  = "contract:lifecycle_state:terminate"
	EventTerminate           = "contract:terminate"
	EventCancel              = "contract:cancel"
	EventSigningPeriodExpire = "contract:signing_period_expire"
	EventSigningPeriodRevive = "contract:signing_period_revive"
	EventSignatureReset      = "contract:signature_reset"
	EventContentUpdate       = "contract:content_update"
	EventDataFieldUpdate     = "data_field:update"
	EventParticipantSign     = "participant:sign"
	EventParticipantDecline  = "participant:decline"
	EventCommentCreate       = "comment:create"
	contractEventPrefix      = "contract:"
	participantEventPrefix   = "participant:"
	productEventPrefix       = "product:"
	partyEventPrefix         = "party:"
	providerStateDraft       = "draft"
)

// statusEvents are patched without refetching business fields
var statusEvents = map[string]string{
	EventDecline:             model.StatusDeclined,
	EventLifecycleStart:      model.StatusActive,
	EventLifecycleEnd:        model.StatusEnded,
	EventLifecycleTerminate:  model.StatusEnded,
	EventTerminate:           model.StatusEnded,
	EventCancel:              model.StatusEnded,
	EventSigningPeriodExpire: model.StatusOverdue,
	EventSigningPeriodRevive: model.StatusPending,
	EventSignatureReset:      model.StatusPending,
}

// Event actions recorded per event
const (
	ActionFullUpsert    = "full_upsert"
	ActionStatusPatch   = "status_patch"
	ActionInformational = "informational"
	ActionIgnored       = "ignored"
	ActionFailed        = "failed"
)

// WebhookEvent is one event in a delivery
type WebhookEvent struct {
	Type        string `json:"type"`
	CreatedTime string `json:"created_time,omitempty"`
}

// WebhookPayload is the body of a delivery. Events are kept raw so a single
// broken event does not reject the whole delivery.
type WebhookPayload struct {
	Contract struct {
		ID FlexString `json:"id"`
	} `json:"contract"`
	CallbackID string            `json:"callback_id"`
	Events     []json.RawMessage `json:"events"`
	Signature  string            `json:"signature"`
}

// ParseWebhookPayload decodes a delivery body
func ParseWebhookPayload(raw []byte) (*WebhookPayload, error) {
	var payload WebhookPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if strings.TrimSpace(payload.Contract.ID.String()) == "" {
		return nil, fmt.Errorf("%w: missing contract id", ErrMalformedPayload)
	}
	if len(payload.Events) == 0 {
		return nil, fmt.Errorf("%w: no events", ErrMalformedPayload)
	}
	return &payload, nil
}

// EventTypes returns the type of each event, "" for undecodable ones
func (p *WebhookPayload) EventTypes() []string {
	types := make([]string, len(p.Events))
	for i, raw := range p.Events {
		var ev WebhookEvent
		if json.Unmarshal(raw, &ev) == nil {
			types[i] = ev.Type
		}
	}
	return types
}

// EventOutcome is what happened to one event
type EventOutcome struct {
	Index   int    `json:"index"`
	Type    string `json:"type"`
	Action  string `json:"action"`
	Status  string `json:"status,omitempty"`
	Created bool   `json:"created,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ProcessResult summarizes one delivery
type ProcessResult struct {
	ContractID      string           `json:"contract_id"`
	Skipped         bool             `json:"skipped,omitempty"`
	SkipReason      string           `json:"skip_reason,omitempty"`
	EventsProcessed int              `json:"events_processed"`
	EventsFailed    int              `json:"events_failed"`
	DocumentType    string           `json:"document_type,omitempty"`
	ResolvedBy      string           `json:"resolved_by,omitempty"`
	Events          []EventOutcome   `json:"events"`
	Provisioning    *ProvisionResult `json:"provisioning,omitempty"`
	ArchiveKey      string           `json:"archive_key,omitempty"`
}

// DetailFetcher fetches one document's current detail
type DetailFetcher interface {
	GetDocumentDetail(ctx context.Context, id string) (*DocumentDetail, error)
}

// CustomerProvisioner is invoked after a contract is signed
type CustomerProvisioner interface {
	ProvisionFromSignedContract(ctx context.Context, externalID string) ProvisionResult
}

// ProcessorDeps are the collaborators of a Processor. Archive is optional.
type ProcessorDeps struct {
	Client      DetailFetcher
	Registry    *TemplateRegistry
	Gateway     *Gateway
	Provisioner CustomerProvisioner
	SyncLog     SyncLogRepository
	Archive     PayloadArchiver
	SignKey     string
}

// Processor applies webhook deliveries to the contract table
type Processor struct {
	client      DetailFetcher
	registry    *TemplateRegistry
	resolver    *TypeResolver
	mapper      *FieldMapper
	gateway     *Gateway
	provisioner CustomerProvisioner
	syncLog     SyncLogRepository
	archive     PayloadArchiver
	signKey     string
	now         func() time.Time
}

func NewProcessor(deps ProcessorDeps) *Processor {
	return &Processor{
		client:      deps.Client,
		registry:    deps.Registry,
		resolver:    NewTypeResolver(deps.Registry),
		mapper:      NewFieldMapper(),
		gateway:     deps.Gateway,
		provisioner: deps.Provisioner,
		syncLog:     deps.SyncLog,
		archive:     deps.Archive,
		signKey:     deps.SignKey,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// preparedDocument is the mapped form of a detail, computed at most once per delivery
type preparedDocument struct {
	docType    model.DocumentType
	resolvedBy string
	fields     map[string]string
	total      decimal.Decimal
}

// Process handles one delivery. Event failures are recorded in the result and
// never returned; errors mean the delivery as a whole was rejected.
func (p *Processor) Process(ctx context.Context, raw []byte) (*ProcessResult, error) {
	payload, err := ParseWebhookPayload(raw)
	if err != nil {
		logger.Warn(ctx, "rejected malformed webhook", "error", err)
		p.RecordRejected(ctx, raw, err)
		return nil, err
	}

	contractID := payload.Contract.ID.String()
	ctx = logger.WithContract(ctx, contractID)
	ctx = logger.WithCallback(ctx, payload.CallbackID)
	eventTypes := payload.EventTypes()

	if !VerifySignature(ctx, payload.CallbackID, payload.Signature, p.signKey) {
		logger.Warn(ctx, "rejected webhook with invalid signature")
		p.writeSyncLog(ctx, contractID, eventTypes, model.SyncError, nil, ErrInvalidSignature)
		return nil, ErrInvalidSignature
	}

	result := &ProcessResult{ContractID: contractID, Events: []EventOutcome{}}
	result.ArchiveKey = p.archivePayload(ctx, contractID, raw)

	detail, err := p.client.GetDocumentDetail(ctx, contractID)
	if err == nil && detail == nil {
		err = errors.New("empty document detail")
	}
	if err != nil {
		upstream := &UpstreamError{ContractID: contractID, Err: err}
		logger.Error(ctx, "failed to fetch document detail for webhook", "error", err)
		p.writeSyncLog(ctx, contractID, eventTypes, model.SyncError, result, upstream)
		return nil, upstream
	}

	if reason := gateReason(p.registry, &detail.Document); reason != "" {
		logger.Info(ctx, "webhook delivery skipped", "reason", reason, "events", len(payload.Events))
		result.Skipped = true
		result.SkipReason = reason
		p.writeSyncLog(ctx, contractID, eventTypes, model.SyncReceived, result, nil)
		return result, nil
	}

	var prepared *preparedDocument
	prepare := func() *preparedDocument {
		if prepared == nil {
			prepared = p.prepare(ctx, detail)
			result.DocumentType = string(prepared.docType)
			result.ResolvedBy = prepared.resolvedBy
		}
		return prepared
	}

	wrote := false
	for i, rawEvent := range payload.Events {
		outcome := p.dispatch(ctx, i, rawEvent, contractID, detail, prepare, result)
		result.Events = append(result.Events, outcome)
		if outcome.Action == ActionFailed {
			result.EventsFailed++
			continue
		}
		result.EventsProcessed++
		if outcome.Action == ActionFullUpsert || outcome.Action == ActionStatusPatch {
			wrote = true
		}
	}

	switch {
	case result.EventsFailed > 0:
		p.writeSyncLog(ctx, contractID, eventTypes, model.SyncError, result,
			fmt.Errorf("%d of %d events failed", result.EventsFailed, len(payload.Events)))
	case wrote:
		p.writeSyncLog(ctx, contractID, eventTypes, model.SyncProcessed, result, nil)
	default:
		p.writeSyncLog(ctx, contractID, eventTypes, model.SyncVerified, result, nil)
	}

	logger.Info(ctx, "webhook delivery processed",
		"events_processed", result.EventsProcessed,
		"events_failed", result.EventsFailed,
	)
	return result, nil
}

// gateReason returns why a document must not be stored, or ""
func gateReason(registry *TemplateRegistry, doc *Document) string {
	if strings.EqualFold(doc.State, providerStateDraft) {
		return "document is a draft"
	}
	templateID := doc.Template.ID.String()
	if !registry.IsAllowed(templateID) {
		return fmt.Sprintf("template %q is not allowed", templateID)
	}
	return ""
}

func (p *Processor) prepare(ctx context.Context, detail *DocumentDetail) *preparedDocument {
	docType, step := p.resolver.Resolve(ctx, &detail.Document)
	mapped := p.mapper.Map(detail.Fields, docType)
	p.mapper.EnrichFromParties(mapped.Mapped, detail.Parties)
	if len(mapped.Unmatched) > 0 {
		logger.Debug(ctx, "unmatched data fields", "fields", mapped.Unmatched)
	}
	return &preparedDocument{
		docType:    docType,
		resolvedBy: step,
		fields:     mapped.Mapped,
		total:      TotalValue(ctx, detail.Products),
	}
}

func (p *Processor) dispatch(
	ctx context.Context,
	index int,
	rawEvent json.RawMessage,
	contractID string,
	detail *DocumentDetail,
	prepare func() *preparedDocument,
	result *ProcessResult,
) EventOutcome {
	outcome := EventOutcome{Index: index}

	var ev WebhookEvent
	if err := json.Unmarshal(rawEvent, &ev); err != nil {
		return failEvent(ctx, outcome, fmt.Errorf("malformed event: %w", err))
	}
	outcome.Type = strings.TrimSpace(ev.Type)
	if outcome.Type == "" {
		return failEvent(ctx, outcome, errors.New("malformed event: missing type"))
	}

	switch t := outcome.Type; {
	case t == EventPublish:
		return p.fullUpsert(ctx, outcome, contractID, detail, prepare(), model.StatusPending)

	case t == EventSign:
		outcome = p.fullUpsert(ctx, outcome, contractID, detail, prepare(), model.StatusSigned)
		if outcome.Action == ActionFailed {
			return outcome
		}
		if prepare().docType != model.TypeContract {
			logger.Info(ctx, "signed document is not a contract, no customer provisioning", "document_type", prepare().docType)
			return outcome
		}
		provisioning := p.provisioner.ProvisionFromSignedContract(ctx, contractID)
		result.Provisioning = &provisioning
		return outcome

	case statusEvents[t] != "":
		return p.patchStatus(ctx, outcome, contractID, detail, prepare, statusEvents[t])

	case t == EventContentUpdate, t == EventDataFieldUpdate,
		t == EventParticipantSign, t == EventParticipantDecline,
		strings.HasPrefix(t, productEventPrefix), strings.HasPrefix(t, partyEventPrefix):
		return p.fullUpsert(ctx, outcome, contractID, detail, prepare(), "")

	case strings.HasPrefix(t, participantEventPrefix), t == EventCommentCreate:
		outcome.Action = ActionInformational
		logger.Debug(ctx, "informational event acknowledged", "event", t)
		return outcome

	case strings.HasPrefix(t, contractEventPrefix):
		logger.Warn(ctx, "unknown contract event, applying full upsert", "event", t)
		return p.fullUpsert(ctx, outcome, contractID, detail, prepare(), "")

	default:
		outcome.Action = ActionIgnored
		logger.Info(ctx, "unknown event ignored", "event", t)
		return outcome
	}
}

func failEvent(ctx context.Context, outcome EventOutcome, err error) EventOutcome {
	logger.Error(ctx, "webhook event failed", "index", outcome.Index, "event", outcome.Type, "error", err)
	outcome.Action = ActionFailed
	outcome.Error = err.Error()
	return outcome
}

// fullUpsert writes the mapped document. An empty status keeps the stored one;
// new rows then take the provider state.
func (p *Processor) fullUpsert(
	ctx context.Context,
	outcome EventOutcome,
	contractID string,
	detail *DocumentDetail,
	doc *preparedDocument,
	status string,
) EventOutcome {
	total := doc.total
	c, created, err := p.gateway.UpsertContract(ctx, ContractUpsert{
		ExternalID:    contractID,
		DocumentType:  doc.docType,
		Status:        status,
		InitialStatus: StatusFromState(detail.Document.State),
		TemplateID:    detail.Document.Template.ID.String(),
		Name:          detail.Document.Name,
		Fields:        doc.fields,
		TotalValue:    &total,
		Products:      detail.RawProducts,
	})
	if err != nil {
		return failEvent(ctx, outcome, err)
	}
	outcome.Action = ActionFullUpsert
	outcome.Status = c.Status
	outcome.Created = created
	logger.Info(ctx, "contract upserted", "event", outcome.Type, "status", c.Status, "created", created)
	return outcome
}

// patchStatus falls back to a full upsert when the row does not exist yet
func (p *Processor) patchStatus(
	ctx context.Context,
	outcome EventOutcome,
	contractID string,
	detail *DocumentDetail,
	prepare func() *preparedDocument,
	status string,
) EventOutcome {
	err := p.gateway.PatchStatus(ctx, contractID, status)
	if errors.Is(err, ErrNotFound) {
		logger.Info(ctx, "contract missing for status event, creating it", "event", outcome.Type, "status", status)
		return p.fullUpsert(ctx, outcome, contractID, detail, prepare(), status)
	}
	if err != nil {
		return failEvent(ctx, outcome, err)
	}
	outcome.Action = ActionStatusPatch
	outcome.Status = status
	logger.Info(ctx, "contract status patched", "event", outcome.Type, "status", status)
	return outcome
}

// StatusFromState maps a provider document state to a lifecycle status.
// Unknown states become pending.
func StatusFromState(state string) string {
	s := strings.ToLower(strings.TrimSpace(state))
	if model.ValidStatus(s) {
		return s
	}
	return model.StatusPending
}

func (p *Processor) archivePayload(ctx context.Context, contractID string, raw []byte) string {
	if p.archive == nil {
		return ""
	}
	key, err := p.archive.Archive(ctx, contractID, raw)
	if err != nil {
		logger.Warn(ctx, "failed to archive webhook payload", "error", err)
		return ""
	}
	return key
}

// RecordRejected writes the sync log entry for a delivery that was turned
// away before processing
func (p *Processor) RecordRejected(ctx context.Context, raw []byte, reason error) {
	var contractID string
	var eventTypes []string
	var partial WebhookPayload
	if json.Unmarshal(raw, &partial) == nil {
		contractID = partial.Contract.ID.String()
		eventTypes = partial.EventTypes()
	}
	p.writeSyncLog(ctx, contractID, eventTypes, model.SyncError, nil, reason)
}

// writeSyncLog is best-effort: failures are logged and dropped
func (p *Processor) writeSyncLog(ctx context.Context, contractID string, eventTypes []string, status string, result *ProcessResult, failure error) {
	if p.syncLog == nil {
		return
	}
	if eventTypes == nil {
		eventTypes = []string{}
	}

	entry := &model.SyncLogEntry{
		ID:         uuid.New().String(),
		EventTypes: eventTypes,
		ContractID: contractID,
		Status:     status,
		CreatedAt:  p.now(),
	}
	if result != nil {
		details, err := json.Marshal(result)
		if err != nil {
			logger.Warn(ctx, "failed to encode sync log details", "error", err)
		} else {
			entry.Details = details
		}
	}
	if failure != nil {
		msg := failure.Error()
		entry.ErrorMessage = &msg
	}

	if err := p.syncLog.AppendSyncLog(ctx, entry); err != nil {
		logger.Warn(ctx, "failed to write sync log", "status", status, "error", err)
	}
}
