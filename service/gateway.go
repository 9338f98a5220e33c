package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/begoneskadedjur/kundportal-sub013/model"
)

// ErrNotFound is returned by repositories when a row does not exist
var ErrNotFound = errors.New("not found")

// ContractRepository persists contract rows keyed by external id.
// InsertContract must behave as an upsert on external_id: a concurrent insert
// of the same id merges fields into the existing row instead of failing.
type ContractRepository interface {
	GetContract(ctx context.Context, externalID string) (*model.Contract, error)
	InsertContract(ctx context.Context, c *model.Contract) error
	UpdateContract(ctx context.Context, c *model.Contract) error
	UpdateStatus(ctx context.Context, externalID, status string, at time.Time) error
	LinkCustomer(ctx context.Context, externalID, customerID string, at time.Time) error
	ListExternalIDs(ctx context.Context) ([]string, error)
}

// CustomerRepository is what provisioning needs from the customers table
type CustomerRepository interface {
	FindCustomerByOrganizationNumber(ctx context.Context, orgNumber string) (*model.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*model.Customer, error)
	CreateCustomer(ctx context.Context, c *model.Customer) error
}

// SyncLogRepository appends webhook audit entries
type SyncLogRepository interface {
	AppendSyncLog(ctx context.Context, e *model.SyncLogEntry) error
}

// Repository is implemented by every storage backend
type Repository interface {
	ContractRepository
	CustomerRepository
	SyncLogRepository
}

// ContractUpsert carries the values to write for one document. Zero values
// mean "keep what is stored"; Fields are merged key by key. InitialStatus is
// used for new rows when Status is empty.
type ContractUpsert struct {
	ExternalID    string
	DocumentType  model.DocumentType
	Status        string
	InitialStatus string
	TemplateID    string
	Name          string
	Fields        map[string]string
	TotalValue    *decimal.Decimal
	Products      json.RawMessage
}

// Gateway is the only write path into the contract table
type Gateway struct {
	contracts ContractRepository
	now       func() time.Time
}

func NewGateway(contracts ContractRepository) *Gateway {
	return &Gateway{
		contracts: contracts,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetContract reads one contract; missing rows return ErrNotFound
func (g *Gateway) GetContract(ctx context.Context, externalID string) (*model.Contract, error) {
	return g.contracts.GetContract(ctx, externalID)
}

// UpsertContract patches the existing row for u.ExternalID or inserts a new one
func (g *Gateway) UpsertContract(ctx context.Context, u ContractUpsert) (*model.Contract, bool, error) {
	id := strings.TrimSpace(u.ExternalID)
	if id == "" {
		return nil, false, errors.New("upsert contract: external id is required")
	}
	if u.Status != "" && !model.ValidStatus(u.Status) {
		return nil, false, fmt.Errorf("upsert contract %s: invalid status %q", id, u.Status)
	}
	if u.DocumentType != "" && !u.DocumentType.Valid() {
		return nil, false, fmt.Errorf("upsert contract %s: invalid document type %q", id, u.DocumentType)
	}

	now := g.now()
	existing, err := g.contracts.GetContract(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
		c := newContractFromUpsert(id, u, now)
		if err := g.contracts.InsertContract(ctx, c); err != nil {
			return nil, false, fmt.Errorf("failed to insert contract %s: %w", id, err)
		}
		return c, true, nil
	case err != nil:
		return nil, false, fmt.Errorf("failed to read contract %s: %w", id, err)
	}

	applyUpsert(existing, u)
	existing.UpdatedAt = now
	if err := g.contracts.UpdateContract(ctx, existing); err != nil {
		return nil, false, fmt.Errorf("failed to update contract %s: %w", id, err)
	}
	return existing, false, nil
}

func newContractFromUpsert(id string, u ContractUpsert, now time.Time) *model.Contract {
	c := &model.Contract{
		ExternalID:   id,
		DocumentType: model.TypeContract,
		Status:       model.StatusPending,
		Fields:       map[string]string{},
		TotalValue:   decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if u.Status == "" && model.ValidStatus(u.InitialStatus) {
		c.Status = u.InitialStatus
	}
	applyUpsert(c, u)
	return c
}

func applyUpsert(c *model.Contract, u ContractUpsert) {
	if u.DocumentType != "" {
		c.DocumentType = u.DocumentType
	}
	if u.Status != "" {
		c.Status = u.Status
	}
	if u.TemplateID != "" {
		c.TemplateID = u.TemplateID
	}
	if u.Name != "" {
		c.Name = u.Name
	}
	if c.Fields == nil {
		c.Fields = make(map[string]string, len(u.Fields))
	}
	for k, v := range u.Fields {
		c.Fields[k] = v
	}
	if u.TotalValue != nil {
		c.TotalValue = *u.TotalValue
	}
	if u.Products != nil {
		c.Products = append(json.RawMessage(nil), u.Products...)
	}
}

// PatchStatus updates only status and updated_at. Missing rows return ErrNotFound.
func (g *Gateway) PatchStatus(ctx context.Context, externalID, status string) error {
	if !model.ValidStatus(status) {
		return fmt.Errorf("patch status %s: invalid status %q", externalID, status)
	}
	if err := g.contracts.UpdateStatus(ctx, externalID, status, g.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to patch status of %s: %w", externalID, err)
	}
	return nil
}

// LinkCustomer points a contract at a customer
func (g *Gateway) LinkCustomer(ctx context.Context, externalID, customerID string) error {
	if err := g.contracts.LinkCustomer(ctx, externalID, customerID, g.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to link contract %s to customer %s: %w", externalID, customerID, err)
	}
	return nil
}

// ExistingExternalIDs returns the set of already stored external ids
func (g *Gateway) ExistingExternalIDs(ctx context.Context) (map[string]struct{}, error) {
	ids, err := g.contracts.ListExternalIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list external ids: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}
