package service

import (
	"context"
	"strings"

	"github.com/begoneskadedjur/kundportal-sub013/model"
	"github.com/begoneskadedjur/kundportal-sub013/pkg/logger"
)

// Resolution steps, in the order they are tried
const (
	ResolvedByRegistry = "registry"
	ResolvedByName     = "name"
	ResolvedByFields   = "fields"
	ResolvedByDefault  = "default"
)

// offerNameMarker is matched case-insensitively against document and template names
const offerNameMarker = "offert"

// TypeResolver decides whether a document is a contract or an offer
type TypeResolver struct {
	registry *TemplateRegistry
}

func NewTypeResolver(registry *TemplateRegistry) *TypeResolver {
	return &TypeResolver{registry: registry}
}

// ResolveByRegistry uses the template allow-list
func (r *TypeResolver) ResolveByRegistry(templateID string) (model.DocumentType, bool) {
	if r.registry == nil || strings.TrimSpace(templateID) == "" {
		return "", false
	}
	return r.registry.DocumentTypeOf(templateID)
}

// ResolveByName only ever detects offers; a name without the marker is inconclusive
func (r *TypeResolver) ResolveByName(documentName, templateName string) (model.DocumentType, bool) {
	for _, name := range []string{documentName, templateName} {
		if strings.Contains(strings.ToLower(name), offerNameMarker) {
			return model.TypeOffer, true
		}
	}
	return "", false
}

// ResolveByFields counts raw keys that only one of the field tables knows
func (r *TypeResolver) ResolveByFields(raw map[string]string) (model.DocumentType, bool) {
	offerHits, contractHits := 0, 0
	for key, val := range raw {
		if strings.TrimSpace(val) == "" {
			continue
		}
		_, inOffer := OfferFieldTable[key]
		_, inContract := ContractFieldTable[key]
		if key == paragraphOneKey || key == paragraphTwoKey {
			inContract = true
		}
		switch {
		case inOffer && !inContract:
			offerHits++
		case inContract && !inOffer:
			contractHits++
		}
	}
	switch {
	case offerHits > contractHits:
		return model.TypeOffer, true
	case contractHits > offerHits:
		return model.TypeContract, true
	default:
		return "", false
	}
}

// Resolve runs the pipeline and reports which step decided
func (r *TypeResolver) Resolve(ctx context.Context, doc *Document) (model.DocumentType, string) {
	templateID := doc.Template.ID.String()
	if t, ok := r.ResolveByRegistry(templateID); ok {
		logger.Debug(ctx, "document type resolved", "type", t, "step", ResolvedByRegistry, "template_id", templateID)
		return t, ResolvedByRegistry
	}
	if templateID == "" {
		logger.Warn(ctx, "document has no template id", "document_id", doc.ID.String())
	}

	if t, ok := r.ResolveByName(doc.Name, doc.Template.Name); ok {
		logger.Info(ctx, "document type resolved", "type", t, "step", ResolvedByName, "name", doc.Name)
		return t, ResolvedByName
	}

	if t, ok := r.ResolveByFields(doc.RawFields()); ok {
		logger.Info(ctx, "document type resolved", "type", t, "step", ResolvedByFields)
		return t, ResolvedByFields
	}

	logger.Warn(ctx, "document type undetermined, defaulting to contract",
		"document_id", doc.ID.String(),
		"template_id", templateID,
	)
	return model.TypeContract, ResolvedByDefault
}
