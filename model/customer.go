package model

import "time"

// Customer is created by provisioning when a contract is signed
type Customer struct {
	ID                 string    `json:"id"`
	CompanyName        string    `json:"company_name"`
	OrganizationNumber string    `json:"organization_number,omitempty"`
	ContactPerson      string    `json:"contact_person,omitempty"`
	ContactEmail       string    `json:"contact_email,omitempty"`
	ContactPhone       string    `json:"contact_phone,omitempty"`
	ContactAddress     string    `json:"contact_address,omitempty"`
	SourceContractID   string    `json:"source_contract_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}
