package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// DocumentType tells contracts and offers apart
type DocumentType string

const (
	TypeContract DocumentType = "contract"
	TypeOffer    DocumentType = "offer"
)

// Valid reports whether t is a known document type
func (t DocumentType) Valid() bool {
	return t == TypeContract || t == TypeOffer
}

// Contract lifecycle statuses
const (
	StatusDraft    = "draft"
	StatusPending  = "pending"
	StatusSigned   = "signed"
	StatusDeclined = "declined"
	StatusActive   = "active"
	StatusEnded    = "ended"
	StatusOverdue  = "overdue"
)

var validStatuses = map[string]struct{}{
	StatusDraft:    {},
	StatusPending:  {},
	StatusSigned:   {},
	StatusDeclined: {},
	StatusActive:   {},
	StatusEnded:    {},
	StatusOverdue:  {},
}

// ValidStatus reports whether s is one of the lifecycle statuses
func ValidStatus(s string) bool {
	_, ok := validStatuses[s]
	return ok
}

// Normalized business field names
const (
	FieldEmployeeName       = "employee_name"
	FieldEmployeeEmail      = "employee_email"
	FieldContractLength     = "contract_length"
	FieldStartDate          = "start_date"
	FieldContactPerson      = "contact_person"
	FieldContactEmail       = "contact_email"
	FieldContactPhone       = "contact_phone"
	FieldContactAddress     = "contact_address"
	FieldCompanyName        = "company_name"
	FieldOrganizationNumber = "organization_number"
	FieldAgreementText      = "agreement_text"
	FieldAgreementObject    = "agreement_object"
	FieldOfferValidUntil    = "offer_valid_until"
)

// Contract is the internal record for one provider document, keyed by ExternalID
type Contract struct {
	ExternalID   string            `json:"external_id"`
	DocumentType DocumentType      `json:"document_type"`
	Status       string            `json:"status"`
	TemplateID   string            `json:"template_id"`
	Name         string            `json:"name"`
	Fields       map[string]string `json:"fields"`
	TotalValue   decimal.Decimal   `json:"total_value"`
	Products     json.RawMessage   `json:"products,omitempty"`
	CustomerID   *string           `json:"customer_id,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Field returns a normalized field value or ""
func (c *Contract) Field(name string) string {
	if c == nil || c.Fields == nil {
		return ""
	}
	return c.Fields[name]
}

// HasCustomer reports whether the contract is already linked to a customer
func (c *Contract) HasCustomer() bool {
	return c != nil && c.CustomerID != nil && *c.CustomerID != ""
}

// Clone returns a deep copy so callers can't mutate stored state
func (c *Contract) Clone() *Contract {
	if c == nil {
		return nil
	}
	out := *c
	if c.Fields != nil {
		out.Fields = make(map[string]string, len(c.Fields))
		for k, v := range c.Fields {
			out.Fields[k] = v
		}
	}
	if c.Products != nil {
		out.Products = append(json.RawMessage(nil), c.Products...)
	}
	if c.CustomerID != nil {
		id := *c.CustomerID
		out.CustomerID = &id
	}
	return &out
}
