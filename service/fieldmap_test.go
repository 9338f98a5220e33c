package service

import (
	"reflect"
	"testing"

	"github.com/begoneskadedjur/kundportal-sub013/model"
)

func TestMapMergesAgreementParagraphs(t *testing.T) {
	m := NewFieldMapper()

	result := m.Map(map[string]string{
		"stycke-1": "A",
		"stycke-2": "B",
	}, model.TypeContract)

	if got := result.Mapped[model.FieldAgreementText]; got != "A\n\nB" {
		t.Errorf("Expected agreement_text %q, got %q", "A\n\nB", got)
	}
	for _, key := range []string{"stycke-1", "stycke-2"} {
		if _, ok := result.Mapped[key]; ok {
			t.Errorf("Expected %s to be removed from output", key)
		}
	}
	if len(result.Unmatched) != 0 {
		t.Errorf("Expected no unmatched keys, got %v", result.Unmatched)
	}
}

func TestMapSingleParagraph(t *testing.T) {
	m := NewFieldMapper()

	result := m.Map(map[string]string{"stycke-2": " B ", "stycke-1": "  "}, model.TypeContract)
	if got := result.Mapped[model.FieldAgreementText]; got != "B" {
		t.Errorf("Expected agreement_text B, got %q", got)
	}
}

func TestMapParagraphsNotMergedForOffers(t *testing.T) {
	m := NewFieldMapper()

	result := m.Map(map[string]string{"stycke-1": "A", "stycke-2": "B"}, model.TypeOffer)
	if _, ok := result.Mapped[model.FieldAgreementText]; ok {
		t.Error("Expected no agreement_text for offers")
	}
	if !reflect.DeepEqual(result.Unmatched, []string{"stycke-1", "stycke-2"}) {
		t.Errorf("Expected paragraphs to be unmatched for offers, got %v", result.Unmatched)
	}
}

func TestMapUsesTableForDocumentType(t *testing.T) {
	m := NewFieldMapper()
	raw := map[string]string{
		"anstalld":         "Kalle",
		"vr-kontaktperson": "Lisa",
		"org-nr":           "556-001",
		"kund-org-nr":      "556-001",
		"okand":            "x",
		"tom":              "   ",
	}

	tests := []struct {
		docType   model.DocumentType
		employee  string
		matched   []string
		unmatched []string
	}{
		{model.TypeContract, "Kalle", []string{"anstalld", "org-nr"}, []string{"kund-org-nr", "okand", "vr-kontaktperson"}},
		{model.TypeOffer, "Lisa", []string{"kund-org-nr", "vr-kontaktperson"}, []string{"anstalld", "okand", "org-nr"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.docType), func(t *testing.T) {
			result := m.Map(raw, tt.docType)
			if got := result.Mapped[model.FieldEmployeeName]; got != tt.employee {
				t.Errorf("Expected employee %q, got %q", tt.employee, got)
			}
			if result.Mapped[model.FieldOrganizationNumber] != "556-001" {
				t.Errorf("Expected organization number, got %+v", result.Mapped)
			}
			if !reflect.DeepEqual(result.Matched, tt.matched) {
				t.Errorf("Matched = %v, want %v", result.Matched, tt.matched)
			}
			if !reflect.DeepEqual(result.Unmatched, tt.unmatched) {
				t.Errorf("Unmatched = %v, want %v", result.Unmatched, tt.unmatched)
			}
		})
	}
}

func TestFieldTablesDisjoint(t *testing.T) {
	for key := range OfferFieldTable {
		if _, ok := ContractFieldTable[key]; ok {
			t.Errorf("Key %q is in both field tables", key)
		}
	}
}

func TestMapIsDeterministic(t *testing.T) {
	m := NewFieldMapper()
	raw := map[string]string{"foretag": "Acme", "z": "1", "a": "2", "stycke-1": "A"}

	first := m.Map(raw, model.TypeContract)
	for i := 0; i < 10; i++ {
		if got := m.Map(raw, model.TypeContract); !reflect.DeepEqual(got, first) {
			t.Fatalf("Map is not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestFieldTablesTargetModelFields(t *testing.T) {
	offerOnly := map[string]bool{model.FieldOfferValidUntil: true}
	contractOnly := map[string]bool{model.FieldAgreementObject: true}

	for key, target := range ContractFieldTable {
		if offerOnly[target] {
			t.Errorf("Contract key %s maps to offer-only field %s", key, target)
		}
	}
	for key, target := range OfferFieldTable {
		if contractOnly[target] {
			t.Errorf("Offer key %s maps to contract-only field %s", key, target)
		}
	}
}

func TestEnrichFromParties(t *testing.T) {
	m := NewFieldMapper()
	parties := []Party{
		{Name: "Begone Skadedjur", Type: PartyTypeCompany, MyParty: true},
		{
			Name:                 "Acme AB",
			Type:                 PartyTypeCompany,
			IdentificationNumber: "556-999",
			Participants: []Participant{
				{Name: "Pia Persson", Email: "pia@acme.se", PhoneNumber: "070-1"},
			},
		},
	}

	mapped := map[string]string{model.FieldCompanyName: "Acme (från fält)"}
	m.EnrichFromParties(mapped, parties)

	want := map[string]string{
		model.FieldCompanyName:        "Acme (från fält)",
		model.FieldOrganizationNumber: "556-999",
		model.FieldContactPerson:      "Pia Persson",
		model.FieldContactEmail:       "pia@acme.se",
		model.FieldContactPhone:       "070-1",
	}
	if !reflect.DeepEqual(mapped, want) {
		t.Errorf("EnrichFromParties() = %v, want %v", mapped, want)
	}
}

func TestEnrichFromPartiesIndividual(t *testing.T) {
	m := NewFieldMapper()
	mapped := map[string]string{}
	m.EnrichFromParties(mapped, []Party{
		{Name: "Privat", Type: "individual", IdentificationNumber: "19800101-1234",
			Participants: []Participant{{Name: "Privat Person", Email: "p@example.se"}}},
	})

	if _, ok := mapped[model.FieldOrganizationNumber]; ok {
		t.Error("Expected no organization number from an individual party")
	}
	if mapped[model.FieldContactEmail] != "p@example.se" {
		t.Errorf("Expected contact email from participant, got %v", mapped)
	}
}

func TestEnrichFromPartiesNoCounterparty(t *testing.T) {
	m := NewFieldMapper()
	mapped := map[string]string{}
	m.EnrichFromParties(mapped, []Party{{Name: "Us", MyParty: true}})
	if len(mapped) != 0 {
		t.Errorf("Expected nothing added, got %v", mapped)
	}
}
