package service

import (
	"context"
	"testing"
	"time"

	"github.com/begoneskadedjur/kundportal-sub013/model"
)

type provisionFixture struct {
	store       *MemoryStore
	gateway     *Gateway
	provisioner *Provisioner
}

func newProvisionFixture(repo Repository, store *MemoryStore) *provisionFixture {
	g := newTestGateway(repo)
	p := NewProvisioner(g, repo)
	n := 0
	p.newID = func() string {
		n++
		return "new-customer-" + string(rune('0'+n))
	}
	p.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return &provisionFixture{store: store, gateway: g, provisioner: p}
}

func (f *provisionFixture) seedContract(t *testing.T, id string, docType model.DocumentType, fields map[string]string) {
	t.Helper()
	_, _, err := f.gateway.UpsertContract(context.Background(), ContractUpsert{
		ExternalID:   id,
		DocumentType: docType,
		Status:       model.StatusSigned,
		Fields:       fields,
	})
	if err != nil {
		t.Fatalf("Failed to seed contract: %v", err)
	}
}

func TestProvisionOrgNumberWins(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	f := newProvisionFixture(store, store)

	store.CreateCustomer(ctx, &model.Customer{ID: "by-org", OrganizationNumber: "556-001", ContactEmail: "old@acme.se"})
	store.CreateCustomer(ctx, &model.Customer{ID: "by-email", ContactEmail: "new@acme.se"})
	f.seedContract(t, "c1", model.TypeContract, map[string]string{
		model.FieldOrganizationNumber: "556-001",
		model.FieldContactEmail:       "new@acme.se",
		model.FieldContactPerson:      "Anna",
	})

	result := f.provisioner.ProvisionFromSignedContract(ctx, "c1")

	if result.Outcome != ProvisionLinked || result.CustomerID != "by-org" {
		t.Errorf("Expected link to org number match, got %+v", result)
	}
	if len(store.Customers()) != 2 {
		t.Errorf("Expected no new customer, got %d", len(store.Customers()))
	}
	c, _ := store.GetContract(ctx, "c1")
	if !c.HasCustomer() || *c.CustomerID != "by-org" {
		t.Errorf("Expected contract linked to by-org, got %v", c.CustomerID)
	}
}

func TestProvisionEmailFallback(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	f := newProvisionFixture(store, store)

	store.CreateCustomer(ctx, &model.Customer{ID: "by-email", OrganizationNumber: "556-777", ContactEmail: "anna@acme.se"})
	f.seedContract(t, "c1", model.TypeContract, map[string]string{
		model.FieldOrganizationNumber: "556-001",
		model.FieldContactEmail:       "anna@acme.se",
	})

	result := f.provisioner.ProvisionFromSignedContract(ctx, "c1")
	if result.Outcome != ProvisionLinked || result.CustomerID != "by-email" {
		t.Errorf("Expected link by email, got %+v", result)
	}
	if len(store.Customers()) != 1 {
		t.Errorf("Expected no new customer, got %d", len(store.Customers()))
	}
}

func TestProvisionCreatesCustomer(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	f := newProvisionFixture(store, store)

	f.seedContract(t, "c1", model.TypeContract, map[string]string{
		model.FieldContactPerson:  "Anna Andersson",
		model.FieldContactEmail:   "anna@example.se",
		model.FieldContactPhone:   "070-123",
		model.FieldContactAddress: "Gatan 1",
	})

	result := f.provisioner.ProvisionFromSignedContract(ctx, "c1")
	if result.Outcome != ProvisionCreated || result.CustomerID != "new-customer-1" {
		t.Fatalf("Expected created customer, got %+v", result)
	}

	customers := store.Customers()
	if len(customers) != 1 {
		t.Fatalf("Expected one customer, got %d", len(customers))
	}
	got := customers[0]
	if got.CompanyName != "Anna Andersson" {
		t.Errorf("Expected company name to fall back to contact person, got %q", got.CompanyName)
	}
	if got.SourceContractID != "c1" || got.ContactPhone != "070-123" || got.ContactAddress != "Gatan 1" {
		t.Errorf("Unexpected customer %+v", got)
	}

	c, _ := store.GetContract(ctx, "c1")
	if *c.CustomerID != "new-customer-1" {
		t.Errorf("Expected contract linked to new customer, got %v", *c.CustomerID)
	}
}

func TestProvisionSkips(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(t *testing.T, f *provisionFixture)
	}{
		{"contract not found", func(t *testing.T, f *provisionFixture) {}},
		{"offer", func(t *testing.T, f *provisionFixture) {
			f.seedContract(t, "c1", model.TypeOffer, map[string]string{model.FieldContactEmail: "a@x.se"})
		}},
		{"already linked", func(t *testing.T, f *provisionFixture) {
			f.seedContract(t, "c1", model.TypeContract, map[string]string{model.FieldContactEmail: "a@x.se"})
			f.gateway.LinkCustomer(ctx, "c1", "existing")
		}},
		{"no contact details", func(t *testing.T, f *provisionFixture) {
			f.seedContract(t, "c1", model.TypeContract, map[string]string{model.FieldCompanyName: "Acme"})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryStore(0)
			f := newProvisionFixture(store, store)
			tt.setup(t, f)

			result := f.provisioner.ProvisionFromSignedContract(ctx, "c1")
			if result.Outcome != ProvisionSkipped || result.Reason == "" {
				t.Errorf("Expected skipped with reason, got %+v", result)
			}
			if len(store.Customers()) != 0 {
				t.Errorf("Expected no customers created, got %d", len(store.Customers()))
			}
		})
	}
}

func TestProvisionFailureIsReturnedNotRaised(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	repo := &failingRepo{MemoryStore: store, createErr: errBoom}
	f := newProvisionFixture(repo, store)

	f.seedContract(t, "c1", model.TypeContract, map[string]string{model.FieldContactEmail: "a@x.se"})

	result := f.provisioner.ProvisionFromSignedContract(ctx, "c1")
	if result.Outcome != ProvisionFailed || result.Err == nil || result.ErrorMessage == "" {
		t.Errorf("Expected failed outcome with error, got %+v", result)
	}
	c, _ := store.GetContract(ctx, "c1")
	if c.HasCustomer() {
		t.Error("Expected contract to stay unlinked")
	}
}
