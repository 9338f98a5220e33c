package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/begoneskadedjur/kundportal-sub013/model"
)

const (
	testContractTemplate = "8486368"
	testOfferTemplate    = "8598798"
	testSignKey          = "test-sign-key"
)

// fakeSource serves canned document details and list pages
type fakeSource struct {
	mu        sync.Mutex
	details   map[string]*DocumentDetail
	errs      map[string]error
	page      *DocumentPage
	listErr   error
	calls     map[string]int
	listCalls int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		details: make(map[string]*DocumentDetail),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeSource) GetDocumentDetail(ctx context.Context, id string) (*DocumentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if err, ok := f.errs[id]; ok {
		return nil, err
	}
	d, ok := f.details[id]
	if !ok {
		return nil, &ProviderError{StatusCode: 404, Body: `{"message":"not found"}`}
	}
	return d, nil
}

func (f *fakeSource) ListDocuments(ctx context.Context, page, pageSize int) (*DocumentPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.page, nil
}

func (f *fakeSource) detailCalls(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

type detailOption func(*DocumentDetail)

func withState(state string) detailOption {
	return func(d *DocumentDetail) { d.Document.State = state }
}

func withTemplate(id string) detailOption {
	return func(d *DocumentDetail) { d.Document.Template.ID = FlexString(id) }
}

func withFields(fields map[string]string) detailOption {
	return func(d *DocumentDetail) {
		d.Document.DataFields = nil
		for k, v := range fields {
			d.Document.DataFields = append(d.Document.DataFields, DataField{CustomID: k, Value: FlexString(v)})
		}
		d.Fields = d.Document.RawFields()
	}
}

func withProducts(products ...Product) detailOption {
	return func(d *DocumentDetail) {
		d.Products = products
		raw, _ := json.Marshal(products)
		d.RawProducts = raw
	}
}

func product(price, qty string) Product {
	p := Product{Name: "Bete", UnitPrice: &Amount{Amount: FlexString(price)}}
	if qty != "" {
		p.Quantity = &Amount{Amount: FlexString(qty)}
	}
	return p
}

// newDetail builds a pending contract-template document with contact fields
func newDetail(id string, opts ...detailOption) *DocumentDetail {
	d := &DocumentDetail{
		Document: Document{
			ID:       FlexString(id),
			Name:     "Skadedjursavtal Acme AB",
			State:    "pending",
			Template: DocumentTemplate{ID: testContractTemplate, Name: "Skadedjursavtal"},
		},
		Parties:     []Party{},
		Products:    []Product{},
		RawProducts: json.RawMessage("[]"),
	}
	withFields(map[string]string{
		"foretag":              "Acme AB",
		"org-nr":               "556-001",
		"Kontaktperson":        "Anna Andersson",
		"e-post-kontaktperson": "anna@acme.se",
	})(d)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// failingRepo wraps a MemoryStore and fails selected operations
type failingRepo struct {
	*MemoryStore
	insertErr error
	updateErr error
	createErr error
	syncErr   error
	listErr   error
}

func (r *failingRepo) ListExternalIDs(ctx context.Context) ([]string, error) {
	if r.listErr != nil {
		return nil, r.listErr
	}
	return r.MemoryStore.ListExternalIDs(ctx)
}

func (r *failingRepo) InsertContract(ctx context.Context, c *model.Contract) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	return r.MemoryStore.InsertContract(ctx, c)
}

func (r *failingRepo) UpdateContract(ctx context.Context, c *model.Contract) error {
	if r.updateErr != nil {
		return r.updateErr
	}
	return r.MemoryStore.UpdateContract(ctx, c)
}

func (r *failingRepo) CreateCustomer(ctx context.Context, c *model.Customer) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.MemoryStore.CreateCustomer(ctx, c)
}

func (r *failingRepo) AppendSyncLog(ctx context.Context, e *model.SyncLogEntry) error {
	if r.syncErr != nil {
		return r.syncErr
	}
	return r.MemoryStore.AppendSyncLog(ctx, e)
}

var errBoom = errors.New("boom")

// recordingProvisioner counts calls and delegates when next is set
type recordingProvisioner struct {
	mu    sync.Mutex
	calls []string
	next  CustomerProvisioner
}

func (r *recordingProvisioner) ProvisionFromSignedContract(ctx context.Context, externalID string) ProvisionResult {
	r.mu.Lock()
	r.calls = append(r.calls, externalID)
	r.mu.Unlock()
	if r.next != nil {
		return r.next.ProvisionFromSignedContract(ctx, externalID)
	}
	return ProvisionResult{Outcome: ProvisionSkipped, Reason: "recording only"}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	return b
}
