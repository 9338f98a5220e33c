package service

import (
	"sort"
	"strings"

	"github.com/begoneskadedjur/kundportal-sub013/model"
)

const (
	paragraphOneKey = "stycke-1"
	paragraphTwoKey = "stycke-2"
)

// ContractFieldTable maps raw data field keys of contract templates to model fields
var ContractFieldTable = map[string]string{
	"anstalld":                    model.FieldEmployeeName,
	"e-post-anstlld":              model.FieldEmployeeEmail,
	"avtalslngd":                  model.FieldContractLength,
	"begynnelsedag":               model.FieldStartDate,
	"Kontaktperson":               model.FieldContactPerson,
	"e-post-kontaktperson":        model.FieldContactEmail,
	"telefonnummer-kontaktperson": model.FieldContactPhone,
	"utforande-adress":            model.FieldContactAddress,
	"foretag":                     model.FieldCompanyName,
	"org-nr":                      model.FieldOrganizationNumber,
	"avtalsobjekt":                model.FieldAgreementObject,
}

// OfferFieldTable maps raw data field keys of offer templates to model fields.
// It shares no keys with ContractFieldTable.
var OfferFieldTable = map[string]string{
	"vr-kontaktperson":     model.FieldEmployeeName,
	"vr-kontakt-mail":      model.FieldEmployeeEmail,
	"utfrande-datum":       model.FieldStartDate,
	"kontaktperson":        model.FieldContactPerson,
	"kontaktperson-e-post": model.FieldContactEmail,
	"tel-nr":               model.FieldContactPhone,
	"kund-adress":          model.FieldContactAddress,
	"kund":                 model.FieldCompanyName,
	"kund-org-nr":          model.FieldOrganizationNumber,
	"arbetsbeskrivning":    model.FieldAgreementText,
	"offert-giltig-till":   model.FieldOfferValidUntil,
}

// MapResult is the outcome of mapping one document's raw fields
type MapResult struct {
	Mapped    map[string]string `json:"mapped"`
	Matched   []string          `json:"matched"`
	Unmatched []string          `json:"unmatched"`
}

// FieldMapper translates raw provider data fields into model fields. It holds
// no state and is safe for concurrent use.
type FieldMapper struct{}

func NewFieldMapper() *FieldMapper {
	return &FieldMapper{}
}

func fieldTableFor(docType model.DocumentType) map[string]string {
	if docType == model.TypeOffer {
		return OfferFieldTable
	}
	return ContractFieldTable
}

// Map applies the table for docType. Blank values are treated as absent.
func (m *FieldMapper) Map(raw map[string]string, docType model.DocumentType) MapResult {
	table := fieldTableFor(docType)
	result := MapResult{
		Mapped:    make(map[string]string),
		Matched:   []string{},
		Unmatched: []string{},
	}

	var paragraphs [2]string
	for key, val := range raw {
		val = strings.TrimSpace(val)
		if val == "" {
			continue
		}

		if docType == model.TypeContract {
			switch key {
			case paragraphOneKey:
				paragraphs[0] = val
				result.Matched = append(result.Matched, key)
				continue
			case paragraphTwoKey:
				paragraphs[1] = val
				result.Matched = append(result.Matched, key)
				continue
			}
		}

		target, ok := table[key]
		if !ok {
			result.Unmatched = append(result.Unmatched, key)
			continue
		}
		result.Mapped[target] = val
		result.Matched = append(result.Matched, key)
	}

	if text := joinParagraphs(paragraphs[0], paragraphs[1]); text != "" {
		result.Mapped[model.FieldAgreementText] = text
	}

	sort.Strings(result.Matched)
	sort.Strings(result.Unmatched)
	return result
}

func joinParagraphs(a, b string) string {
	switch {
	case a != "" && b != "":
		return a + "\n\n" + b
	case a != "":
		return a
	default:
		return b
	}
}

// EnrichFromParties fills contact and company fields the data fields left
// empty, using the first counterparty. Mapped values are never overwritten.
func (m *FieldMapper) EnrichFromParties(mapped map[string]string, parties []Party) {
	party := counterparty(parties)
	if party == nil {
		return
	}

	setIfAbsent := func(key, val string) {
		val = strings.TrimSpace(val)
		if val == "" {
			return
		}
		if _, ok := mapped[key]; !ok {
			mapped[key] = val
		}
	}

	if party.Type == PartyTypeCompany {
		setIfAbsent(model.FieldCompanyName, party.Name)
		setIfAbsent(model.FieldOrganizationNumber, party.IdentificationNumber)
	}
	if len(party.Participants) > 0 {
		p := party.Participants[0]
		setIfAbsent(model.FieldContactPerson, p.Name)
		setIfAbsent(model.FieldContactEmail, p.Email)
		setIfAbsent(model.FieldContactPhone, p.PhoneNumber)
	}
}

// counterparty returns the first party that is not our own organisation
func counterparty(parties []Party) *Party {
	for i := range parties {
		if !parties[i].MyParty {
			return &parties[i]
		}
	}
	return nil
}
