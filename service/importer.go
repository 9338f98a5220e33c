package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/begoneskadedjur/kundportal-sub013/model"
	"github.com/begoneskadedjur/kundportal-sub013/pkg/logger"
)

// ErrProviderUnavailable marks import failures caused by the provider API
// rather than the local store
var ErrProviderUnavailable = errors.New("provider request failed")

// DocumentSource is the provider API as the importer sees it
type DocumentSource interface {
	DetailFetcher
	ListDocuments(ctx context.Context, page, pageSize int) (*DocumentPage, error)
}

// ImportCandidate is a remote document that can be imported
type ImportCandidate struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	State         string             `json:"state"`
	TemplateID    string             `json:"template_id"`
	TemplateLabel string             `json:"template_label"`
	DocumentType  model.DocumentType `json:"document_type"`
}

// ImportListResult is one page of importable documents
type ImportListResult struct {
	Contracts        []ImportCandidate `json:"contracts"`
	Page             int               `json:"page"`
	Limit            int               `json:"limit"`
	TotalCount       int               `json:"total_count"`
	HasMore          bool              `json:"has_more"`
	FilteredGate     int               `json:"filtered_gate"`
	FilteredExisting int               `json:"filtered_existing"`
}

// ImportResult is the outcome for one requested id
type ImportResult struct {
	ID           string             `json:"id"`
	Success      bool               `json:"success"`
	DocumentType model.DocumentType `json:"document_type,omitempty"`
	Status       string             `json:"status,omitempty"`
	Created      bool               `json:"created,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// ImportSummary aggregates one import batch
type ImportSummary struct {
	Results    []ImportResult `json:"results"`
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Contracts  int            `json:"contracts"`
	Offers     int            `json:"offers"`
}

// Importer lists and imports provider documents on operator request
type Importer struct {
	source      DocumentSource
	registry    *TemplateRegistry
	resolver    *TypeResolver
	mapper      *FieldMapper
	gateway     *Gateway
	concurrency int
}

func NewImporter(source DocumentSource, registry *TemplateRegistry, gateway *Gateway, concurrency int) *Importer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Importer{
		source:      source,
		registry:    registry,
		resolver:    NewTypeResolver(registry),
		mapper:      NewFieldMapper(),
		gateway:     gateway,
		concurrency: concurrency,
	}
}

// List returns the documents on one provider page that are allowed and not yet imported
func (im *Importer) List(ctx context.Context, page, pageSize int) (*ImportListResult, error) {
	remote, err := im.source.ListDocuments(ctx, page, pageSize)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list documents: %w", ErrProviderUnavailable, err)
	}

	existing, err := im.gateway.ExistingExternalIDs(ctx)
	if err != nil {
		return nil, err
	}

	result := &ImportListResult{
		Contracts:  []ImportCandidate{},
		Page:       page,
		Limit:      pageSize,
		TotalCount: remote.TotalCount,
		HasMore:    remote.HasMore,
	}

	for i := range remote.Documents {
		doc := &remote.Documents[i]
		templateID := doc.Template.ID.String()

		if gateReason(im.registry, doc) != "" {
			result.FilteredGate++
			continue
		}
		if _, ok := existing[doc.ID.String()]; ok {
			result.FilteredExisting++
			continue
		}

		docType, _ := im.registry.DocumentTypeOf(templateID)
		result.Contracts = append(result.Contracts, ImportCandidate{
			ID:            doc.ID.String(),
			Name:          doc.Name,
			State:         doc.State,
			TemplateID:    templateID,
			TemplateLabel: im.registry.Label(templateID),
			DocumentType:  docType,
		})
	}

	logger.Info(ctx, "import list built",
		"page", page,
		"candidates", len(result.Contracts),
		"filtered_gate", result.FilteredGate,
		"filtered_existing", result.FilteredExisting,
	)
	return result, nil
}

// Import fetches, maps and stores each id. One id failing never stops the others,
// and results come back in request order with duplicates removed.
func (im *Importer) Import(ctx context.Context, ids []string) *ImportSummary {
	ids = dedupeIDs(ids)
	results := make([]ImportResult, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			results[i] = im.importOne(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	summary := &ImportSummary{Results: results}
	for _, r := range results {
		if !r.Success {
			summary.Failed++
			continue
		}
		summary.Successful++
		switch r.DocumentType {
		case model.TypeOffer:
			summary.Offers++
		default:
			summary.Contracts++
		}
	}

	logger.Info(ctx, "import finished",
		"requested", len(ids),
		"successful", summary.Successful,
		"failed", summary.Failed,
	)
	return summary
}

func (im *Importer) importOne(ctx context.Context, id string) ImportResult {
	ctx = logger.WithContract(ctx, id)
	result := ImportResult{ID: id}

	detail, err := im.source.GetDocumentDetail(ctx, id)
	if err == nil && detail == nil {
		err = errors.New("empty document detail")
	}
	if err != nil {
		logger.Warn(ctx, "import failed to fetch document", "error", err)
		result.Error = fmt.Sprintf("failed to fetch document: %v", err)
		return result
	}

	if reason := gateReason(im.registry, &detail.Document); reason != "" {
		logger.Info(ctx, "import skipped document", "reason", reason)
		result.Error = reason
		return result
	}

	docType, _ := im.resolver.Resolve(ctx, &detail.Document)
	mapped := im.mapper.Map(detail.Fields, docType)
	im.mapper.EnrichFromParties(mapped.Mapped, detail.Parties)
	total := TotalValue(ctx, detail.Products)

	c, created, err := im.gateway.UpsertContract(ctx, ContractUpsert{
		ExternalID:   id,
		DocumentType: docType,
		Status:       StatusFromState(detail.Document.State),
		TemplateID:   detail.Document.Template.ID.String(),
		Name:         detail.Document.Name,
		Fields:       mapped.Mapped,
		TotalValue:   &total,
		Products:     detail.RawProducts,
	})
	if err != nil {
		logger.Error(ctx, "import failed to store contract", "error", err)
		result.Error = err.Error()
		return result
	}

	result.Success = true
	result.DocumentType = c.DocumentType
	result.Status = c.Status
	result.Created = created
	return result
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
