package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/begoneskadedjur/kundportal-sub013/model"
	"github.com/begoneskadedjur/kundportal-sub013/pkg/logger"
)

// Provisioning outcomes
const (
	ProvisionLinked  = "linked"
	ProvisionCreated = "created"
	ProvisionSkipped = "skipped"
	ProvisionFailed  = "failed"
)

// ProvisionResult reports what provisioning did for one signed contract.
// Err is set only for failed outcomes.
type ProvisionResult struct {
	Outcome      string `json:"outcome"`
	CustomerID   string `json:"customer_id,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Err          error  `json:"-"`
	ErrorMessage string `json:"error,omitempty"`
}

// Provisioner links signed contracts to customers, creating one if needed
type Provisioner struct {
	gateway   *Gateway
	customers CustomerRepository
	newID     func() string
	now       func() time.Time
}

func NewProvisioner(gateway *Gateway, customers CustomerRepository) *Provisioner {
	return &Provisioner{
		gateway:   gateway,
		customers: customers,
		newID:     func() string { return uuid.New().String() },
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func skipped(ctx context.Context, externalID, reason string) ProvisionResult {
	logger.Info(ctx, "customer provisioning skipped", "contract_id", externalID, "reason", reason)
	return ProvisionResult{Outcome: ProvisionSkipped, Reason: reason}
}

func failed(ctx context.Context, externalID string, err error) ProvisionResult {
	logger.Error(ctx, "customer provisioning failed", "contract_id", externalID, "error", err)
	return ProvisionResult{Outcome: ProvisionFailed, Err: err, ErrorMessage: err.Error()}
}

// ProvisionFromSignedContract never returns an error; failures come back as
// ProvisionFailed so the caller's flow is not affected.
func (p *Provisioner) ProvisionFromSignedContract(ctx context.Context, externalID string) (result ProvisionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = failed(ctx, externalID, fmt.Errorf("panic during provisioning: %v", r))
		}
	}()

	contract, err := p.gateway.GetContract(ctx, externalID)
	if errors.Is(err, ErrNotFound) {
		return skipped(ctx, externalID, "contract not found")
	}
	if err != nil {
		return failed(ctx, externalID, fmt.Errorf("failed to load contract: %w", err))
	}

	if contract.DocumentType != model.TypeContract {
		return skipped(ctx, externalID, fmt.Sprintf("document type is %s", contract.DocumentType))
	}
	if contract.HasCustomer() {
		return skipped(ctx, externalID, "contract already linked to customer "+*contract.CustomerID)
	}

	email := strings.TrimSpace(contract.Field(model.FieldContactEmail))
	person := strings.TrimSpace(contract.Field(model.FieldContactPerson))
	if email == "" && person == "" {
		return skipped(ctx, externalID, "contract has neither contact email nor contact person")
	}

	existing, err := p.findExisting(ctx, strings.TrimSpace(contract.Field(model.FieldOrganizationNumber)), email)
	if err != nil {
		return failed(ctx, externalID, err)
	}
	if existing != nil {
		if err := p.gateway.LinkCustomer(ctx, externalID, existing.ID); err != nil {
			return failed(ctx, externalID, err)
		}
		logger.Info(ctx, "contract linked to existing customer", "contract_id", externalID, "customer_id", existing.ID)
		return ProvisionResult{Outcome: ProvisionLinked, CustomerID: existing.ID}
	}

	customer := p.customerFromContract(contract)
	if err := p.customers.CreateCustomer(ctx, customer); err != nil {
		return failed(ctx, externalID, fmt.Errorf("failed to create customer: %w", err))
	}
	if err := p.gateway.LinkCustomer(ctx, externalID, customer.ID); err != nil {
		return failed(ctx, externalID, err)
	}

	logger.Info(ctx, "customer created from signed contract",
		"contract_id", externalID,
		"customer_id", customer.ID,
		"company_name", customer.CompanyName,
	)
	return ProvisionResult{Outcome: ProvisionCreated, CustomerID: customer.ID}
}

// findExisting looks up by organization number and falls back to email only
// when the org number finds nobody
func (p *Provisioner) findExisting(ctx context.Context, orgNumber, email string) (*model.Customer, error) {
	if orgNumber != "" {
		c, err := p.customers.FindCustomerByOrganizationNumber(ctx, orgNumber)
		switch {
		case err == nil:
			return c, nil
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("failed to look up customer by organization number: %w", err)
		}
	}
	if email != "" {
		c, err := p.customers.FindCustomerByEmail(ctx, email)
		switch {
		case err == nil:
			return c, nil
		case !errors.Is(err, ErrNotFound):
			return nil, fmt.Errorf("failed to look up customer by email: %w", err)
		}
	}
	return nil, nil
}

func (p *Provisioner) customerFromContract(c *model.Contract) *model.Customer {
	company := strings.TrimSpace(c.Field(model.FieldCompanyName))
	if company == "" {
		company = strings.TrimSpace(c.Field(model.FieldContactPerson))
	}
	return &model.Customer{
		ID:                 p.newID(),
		CompanyName:        company,
		OrganizationNumber: strings.TrimSpace(c.Field(model.FieldOrganizationNumber)),
		ContactPerson:      strings.TrimSpace(c.Field(model.FieldContactPerson)),
		ContactEmail:       strings.TrimSpace(c.Field(model.FieldContactEmail)),
		ContactPhone:       strings.TrimSpace(c.Field(model.FieldContactPhone)),
		ContactAddress:     strings.TrimSpace(c.Field(model.FieldContactAddress)),
		SourceContractID:   c.ExternalID,
		CreatedAt:          p.now(),
	}
}
