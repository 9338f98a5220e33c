package service

import (
	"sort"
	"strings"

	"github.com/begoneskadedjur/kundportal-sub013/model"
)

// Template is one allow-listed provider template
type Template struct {
	ID           string             `json:"id"`
	DocumentType model.DocumentType `json:"document_type"`
	Label        string             `json:"label"`
}

// defaultTemplates is the production allow-list. Documents built from any
// other template are never synced.
var defaultTemplates = []Template{
	{ID: "8486368", DocumentType: model.TypeContract, Label: "Skadedjursavtal"},
	{ID: "9324573", DocumentType: model.TypeContract, Label: "Avtal Betesstationer"},
	{ID: "8465556", DocumentType: model.TypeContract, Label: "Avtal Betongstationer"},
	{ID: "8462854", DocumentType: model.TypeContract, Label: "Avtal Mekaniska fällor"},
	{ID: "8732196", DocumentType: model.TypeContract, Label: "Avtal Indikationsfällor"},
	{ID: "10102378", DocumentType: model.TypeContract, Label: "Avtal Fågelavvisning"},
	{ID: "8598798", DocumentType: model.TypeOffer, Label: "Offertförslag – Exkl Moms (Företag)"},
	{ID: "8919037", DocumentType: model.TypeOffer, Label: "Offertförslag – Inkl moms (Privatperson)"},
	{ID: "8919012", DocumentType: model.TypeOffer, Label: "Offertförslag – Sanering (Företag)"},
	{ID: "8919059", DocumentType: model.TypeOffer, Label: "Offertförslag – Sanering (Privatperson)"},
}

// DefaultTemplates returns a copy of the production allow-list
func DefaultTemplates() []Template {
	out := make([]Template, len(defaultTemplates))
	copy(out, defaultTemplates)
	return out
}

// TemplateRegistry is a read-only lookup over allow-listed templates
type TemplateRegistry struct {
	byID map[string]Template
}

// NewTemplateRegistry builds a registry from templates. Later duplicates win.
func NewTemplateRegistry(templates []Template) *TemplateRegistry {
	r := &TemplateRegistry{byID: make(map[string]Template, len(templates))}
	for _, t := range templates {
		id := strings.TrimSpace(t.ID)
		if id == "" || !t.DocumentType.Valid() {
			continue
		}
		t.ID = id
		r.byID[id] = t
	}
	return r
}

// NewDefaultTemplateRegistry returns the registry over DefaultTemplates
func NewDefaultTemplateRegistry() *TemplateRegistry {
	return NewTemplateRegistry(defaultTemplates)
}

func (r *TemplateRegistry) IsAllowed(templateID string) bool {
	_, ok := r.byID[strings.TrimSpace(templateID)]
	return ok
}

// DocumentTypeOf returns the document type for an allow-listed template
func (r *TemplateRegistry) DocumentTypeOf(templateID string) (model.DocumentType, bool) {
	t, ok := r.byID[strings.TrimSpace(templateID)]
	if !ok {
		return "", false
	}
	return t.DocumentType, true
}

func (r *TemplateRegistry) Label(templateID string) string {
	return r.byID[strings.TrimSpace(templateID)].Label
}

// Templates lists the registry sorted by id
func (r *TemplateRegistry) Templates() []Template {
	out := make([]Template, 0, len(r.byID))
	for _, t := range r.byID {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
