// Package storagetest holds the behaviour every Repository backend must share.
package storagetest

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/begoneskadedjur/kundportal-sub013/model"
	"github.com/begoneskadedjur/kundportal-sub013/service"
)

// Repo is a Repository that can also read back the sync log
type Repo interface {
	service.Repository
	SyncLogFor(ctx context.Context, contractID string) ([]*model.SyncLogEntry, error)
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Run runs the suite; open must return an empty, migrated repository
func Run(t *testing.T, open func(t *testing.T) Repo) {
	tests := []struct {
		name string
		fn   func(t *testing.T, r Repo)
	}{
		{"ContractRoundTrip", testContractRoundTrip},
		{"GetMissingContract", testGetMissingContract},
		{"InsertConflictMerges", testInsertConflictMerges},
		{"UpdateContract", testUpdateContract},
		{"UpdateStatusAndLink", testUpdateStatusAndLink},
		{"ListExternalIDs", testListExternalIDs},
		{"CustomerLookup", testCustomerLookup},
		{"SyncLog", testSyncLog},
		{"GatewayUpsert", testGatewayUpsert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, open(t))
		})
	}
}

func sameJSON(t *testing.T, got, want json.RawMessage) bool {
	t.Helper()
	if len(got) == 0 || len(want) == 0 {
		return len(got) == len(want)
	}
	var g, w any
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("Invalid JSON %s: %v", got, err)
	}
	if err := json.Unmarshal(want, &w); err != nil {
		t.Fatalf("Invalid JSON %s: %v", want, err)
	}
	return reflect.DeepEqual(g, w)
}

func sampleContract(id string) *model.Contract {
	return &model.Contract{
		ExternalID:   id,
		DocumentType: model.TypeContract,
		Status:       model.StatusPending,
		TemplateID:   "8486368",
		Name:         "Avtal " + id,
		Fields: map[string]string{
			model.FieldCompanyName:   "Acme AB",
			model.FieldContactEmail:  "anna@acme.se",
			model.FieldAgreementText: "Rad ett\n\nRad två",
		},
		TotalValue: decimal.RequireFromString("1234.50"),
		Products:   json.RawMessage(`[{"id":1,"name":"Fälla"}]`),
		CreatedAt:  base,
		UpdatedAt:  base,
	}
}

func testContractRoundTrip(t *testing.T, r Repo) {
	ctx := context.Background()
	want := sampleContract("1001")
	if err := r.InsertContract(ctx, want); err != nil {
		t.Fatalf("InsertContract failed: %v", err)
	}

	got, err := r.GetContract(ctx, "1001")
	if err != nil {
		t.Fatalf("GetContract failed: %v", err)
	}
	if got.DocumentType != want.DocumentType || got.Status != want.Status || got.TemplateID != want.TemplateID || got.Name != want.Name {
		t.Errorf("Expected %+v, got %+v", want, got)
	}
	if !reflect.DeepEqual(got.Fields, want.Fields) {
		t.Errorf("Expected fields %v, got %v", want.Fields, got.Fields)
	}
	if !got.TotalValue.Equal(want.TotalValue) {
		t.Errorf("Expected total %s, got %s", want.TotalValue, got.TotalValue)
	}
	if !sameJSON(t, got.Products, want.Products) {
		t.Errorf("Expected products %s, got %s", want.Products, got.Products)
	}
	if got.HasCustomer() {
		t.Errorf("Expected no customer, got %v", *got.CustomerID)
	}
	if !got.CreatedAt.Equal(base) || !got.UpdatedAt.Equal(base) {
		t.Errorf("Expected timestamps %v, got %v/%v", base, got.CreatedAt, got.UpdatedAt)
	}
}

func testGetMissingContract(t *testing.T, r Repo) {
	if _, err := r.GetContract(context.Background(), "nope"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func testInsertConflictMerges(t *testing.T, r Repo) {
	ctx := context.Background()
	if err := r.InsertContract(ctx, sampleContract("1")); err != nil {
		t.Fatalf("InsertContract failed: %v", err)
	}
	if err := r.CreateCustomer(ctx, &model.Customer{ID: "cust-1", CompanyName: "Acme AB", CreatedAt: base}); err != nil {
		t.Fatalf("CreateCustomer failed: %v", err)
	}
	if err := r.LinkCustomer(ctx, "1", "cust-1", base); err != nil {
		t.Fatalf("LinkCustomer failed: %v", err)
	}

	later := base.Add(time.Hour)
	second := &model.Contract{
		ExternalID:   "1",
		DocumentType: model.TypeContract,
		Status:       model.StatusSigned,
		Fields:       map[string]string{model.FieldContactEmail: "ny@acme.se"},
		TotalValue:   decimal.NewFromInt(10),
		CreatedAt:    later,
		UpdatedAt:    later,
	}
	if err := r.InsertContract(ctx, second); err != nil {
		t.Fatalf("Conflicting InsertContract failed: %v", err)
	}

	got, err := r.GetContract(ctx, "1")
	if err != nil {
		t.Fatalf("GetContract failed: %v", err)
	}
	if got.Status != model.StatusSigned || !got.TotalValue.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected incoming values to win, got %+v", got)
	}
	if got.Field(model.FieldCompanyName) != "Acme AB" || got.Field(model.FieldContactEmail) != "ny@acme.se" {
		t.Errorf("Expected fields merged, got %v", got.Fields)
	}
	if len(got.Products) == 0 {
		t.Error("Expected products kept when none supplied")
	}
	if !got.HasCustomer() || *got.CustomerID != "cust-1" {
		t.Errorf("Expected customer link kept, got %v", got.CustomerID)
	}
	if !got.CreatedAt.Equal(base) || !got.UpdatedAt.Equal(later) {
		t.Errorf("Expected created_at kept and updated_at moved, got %v/%v", got.CreatedAt, got.UpdatedAt)
	}
}

func testUpdateContract(t *testing.T, r Repo) {
	ctx := context.Background()
	c := sampleContract("2")
	if err := r.InsertContract(ctx, c); err != nil {
		t.Fatalf("InsertContract failed: %v", err)
	}

	c.DocumentType = model.TypeOffer
	c.Fields = map[string]string{model.FieldOfferValidUntil: "2024-12-31"}
	c.Products = nil
	c.UpdatedAt = base.Add(time.Minute)
	if err := r.UpdateContract(ctx, c); err != nil {
		t.Fatalf("UpdateContract failed: %v", err)
	}

	got, _ := r.GetContract(ctx, "2")
	if got.DocumentType != model.TypeOffer || len(got.Fields) != 1 || got.Products != nil {
		t.Errorf("Expected row replaced, got %+v", got)
	}

	if err := r.UpdateContract(ctx, sampleContract("missing")); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for missing row, got %v", err)
	}
}

func testUpdateStatusAndLink(t *testing.T, r Repo) {
	ctx := context.Background()
	if err := r.InsertContract(ctx, sampleContract("3")); err != nil {
		t.Fatalf("InsertContract failed: %v", err)
	}
	at := base.Add(2 * time.Hour)
	if err := r.UpdateStatus(ctx, "3", model.StatusActive, at); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	got, _ := r.GetContract(ctx, "3")
	if got.Status != model.StatusActive || !got.UpdatedAt.Equal(at) || got.Field(model.FieldCompanyName) != "Acme AB" {
		t.Errorf("Expected only status and updated_at changed, got %+v", got)
	}

	if err := r.UpdateStatus(ctx, "missing", model.StatusActive, at); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("Expected ErrNotFound from UpdateStatus, got %v", err)
	}
	if err := r.LinkCustomer(ctx, "missing", "x", at); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("Expected ErrNotFound from LinkCustomer, got %v", err)
	}
}

func testListExternalIDs(t *testing.T, r Repo) {
	ctx := context.Background()
	for _, id := range []string{"b", "c", "a"} {
		if err := r.InsertContract(ctx, sampleContract(id)); err != nil {
			t.Fatalf("InsertContract failed: %v", err)
		}
	}
	ids, err := r.ListExternalIDs(ctx)
	if err != nil {
		t.Fatalf("ListExternalIDs failed: %v", err)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b", "c"}) {
		t.Errorf("Expected sorted ids, got %v", ids)
	}
}

func testCustomerLookup(t *testing.T, r Repo) {
	ctx := context.Background()
	customers := []*model.Customer{
		{ID: "newer", OrganizationNumber: "556-001", ContactEmail: "a@acme.se", CreatedAt: base.Add(time.Hour)},
		{ID: "older", OrganizationNumber: "556-001", ContactEmail: "b@acme.se", CreatedAt: base},
		{ID: "other", OrganizationNumber: "556-999", ContactEmail: "a@acme.se", CreatedAt: base.Add(-time.Hour)},
	}
	for _, c := range customers {
		if err := r.CreateCustomer(ctx, c); err != nil {
			t.Fatalf("CreateCustomer failed: %v", err)
		}
	}

	got, err := r.FindCustomerByOrganizationNumber(ctx, "556-001")
	if err != nil || got.ID != "older" {
		t.Errorf("Expected oldest org number match, got %v %v", got, err)
	}
	got, err = r.FindCustomerByEmail(ctx, "a@acme.se")
	if err != nil || got.ID != "other" {
		t.Errorf("Expected oldest email match, got %v %v", got, err)
	}
	if _, err := r.FindCustomerByOrganizationNumber(ctx, "000"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if _, err := r.FindCustomerByEmail(ctx, "none@acme.se"); !errors.Is(err, service.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func testSyncLog(t *testing.T, r Repo) {
	ctx := context.Background()
	msg := "signature mismatch"
	entries := []*model.SyncLogEntry{
		{ID: "log-1", EventTypes: []string{"contract:publish"}, ContractID: "7", Status: model.SyncProcessed, Details: json.RawMessage(`{"events":1}`), CreatedAt: base},
		{ID: "log-2", EventTypes: []string{"contract:sign", "contract:lifecycle_state:start"}, ContractID: "7", Status: model.SyncError, ErrorMessage: &msg, CreatedAt: base.Add(time.Second)},
		{ID: "log-3", ContractID: "8", Status: model.SyncVerified, CreatedAt: base},
	}
	for _, e := range entries {
		if err := r.AppendSyncLog(ctx, e); err != nil {
			t.Fatalf("AppendSyncLog failed: %v", err)
		}
	}

	got, err := r.SyncLogFor(ctx, "7")
	if err != nil {
		t.Fatalf("SyncLogFor failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != "log-1" || got[1].ID != "log-2" {
		t.Fatalf("Expected log-1 then log-2, got %+v", got)
	}
	if !sameJSON(t, got[0].Details, entries[0].Details) || got[0].ErrorMessage != nil {
		t.Errorf("Unexpected first entry %+v", got[0])
	}
	if !reflect.DeepEqual(got[1].EventTypes, entries[1].EventTypes) || got[1].ErrorMessage == nil || *got[1].ErrorMessage != msg {
		t.Errorf("Unexpected second entry %+v", got[1])
	}

	other, _ := r.SyncLogFor(ctx, "8")
	if len(other) != 1 || len(other[0].EventTypes) != 0 {
		t.Errorf("Expected one entry without event types, got %+v", other)
	}
}

func testGatewayUpsert(t *testing.T, r Repo) {
	ctx := context.Background()
	g := service.NewGateway(r)

	total := decimal.RequireFromString("99.90")
	_, created, err := g.UpsertContract(ctx, service.ContractUpsert{
		ExternalID: "g1",
		Status:     model.StatusPending,
		Fields:     map[string]string{model.FieldCompanyName: "Acme AB"},
		TotalValue: &total,
	})
	if err != nil || !created {
		t.Fatalf("Expected insert, got created=%v err=%v", created, err)
	}

	updated, created, err := g.UpsertContract(ctx, service.ContractUpsert{
		ExternalID: "g1",
		Status:     model.StatusSigned,
		Fields:     map[string]string{model.FieldContactPerson: "Anna"},
	})
	if err != nil || created {
		t.Fatalf("Expected update, got created=%v err=%v", created, err)
	}
	if updated.Status != model.StatusSigned || updated.Field(model.FieldCompanyName) != "Acme AB" || !updated.TotalValue.Equal(total) {
		t.Errorf("Unexpected row after update %+v", updated)
	}

	stored, err := r.GetContract(ctx, "g1")
	if err != nil {
		t.Fatalf("GetContract failed: %v", err)
	}
	if stored.Field(model.FieldContactPerson) != "Anna" || stored.Status != model.StatusSigned {
		t.Errorf("Expected update persisted, got %+v", stored)
	}
}
