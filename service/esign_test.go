package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *ESignClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewESignClient(ESignClientConfig{BaseURL: server.URL, Timeout: 5 * time.Second},
		Credentials{APIToken: "token-1", UserEmail: "ops@begone.se"})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client
}

func TestNewESignClientRequiresCredentials(t *testing.T) {
	tests := []struct {
		name  string
		creds Credentials
	}{
		{"no token", Credentials{UserEmail: "ops@begone.se"}},
		{"no email", Credentials{APIToken: "token"}},
		{"blank", Credentials{APIToken: " ", UserEmail: " "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewESignClient(ESignClientConfig{BaseURL: "http://localhost"}, tt.creds)
			if !errors.Is(err, ErrMissingCredentials) {
				t.Errorf("Expected ErrMissingCredentials, got %v", err)
			}
		})
	}
}

func TestListDocumentsSendsCredentialsAndPaging(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-oneflow-api-token") != "token-1" {
			t.Errorf("Expected api token header, got %q", r.Header.Get("x-oneflow-api-token"))
		}
		if r.Header.Get("x-oneflow-user-email") != "ops@begone.se" {
			t.Errorf("Expected user email header, got %q", r.Header.Get("x-oneflow-user-email"))
		}
		if r.URL.Path != "/contracts" {
			t.Errorf("Expected /contracts, got %s", r.URL.Path)
		}
		if r.URL.Query().Get("offset") != "20" || r.URL.Query().Get("limit") != "10" {
			t.Errorf("Expected offset 20 limit 10, got %s", r.URL.RawQuery)
		}
		w.Write([]byte(`{"data":[{"id":101,"name":"A","state":"pending","template":{"id":8486368}}],"count":35}`))
	})

	page, err := client.ListDocuments(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("ListDocuments failed: %v", err)
	}
	if len(page.Documents) != 1 || page.Documents[0].ID != "101" {
		t.Fatalf("Expected one document with id 101, got %+v", page.Documents)
	}
	if page.Documents[0].Template.ID != "8486368" {
		t.Errorf("Expected numeric template id to decode, got %q", page.Documents[0].Template.ID)
	}
	if page.TotalCount != 35 || !page.HasMore {
		t.Errorf("Expected total 35 with more, got %d %v", page.TotalCount, page.HasMore)
	}
}

func TestListDocumentsShapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantDocs  int
		wantTotal int
		wantMore  bool
	}{
		{"bare array full page", `[{"id":"1"},{"id":"2"}]`, 2, 2, true},
		{"bare array short page", `[{"id":"1"}]`, 1, 1, false},
		{"contracts with total_count", `{"contracts":[{"id":"1"}],"total_count":1}`, 1, 1, false},
		{"meta count", `{"data":[{"id":"1"},{"id":"2"}],"_meta":{"count":5}}`, 2, 5, true},
		{"empty envelope", `{"data":[]}`, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			})
			page, err := client.ListDocuments(context.Background(), 1, 2)
			if err != nil {
				t.Fatalf("ListDocuments failed: %v", err)
			}
			if len(page.Documents) != tt.wantDocs {
				t.Errorf("Expected %d documents, got %d", tt.wantDocs, len(page.Documents))
			}
			if page.TotalCount != tt.wantTotal {
				t.Errorf("Expected total %d, got %d", tt.wantTotal, page.TotalCount)
			}
			if page.HasMore != tt.wantMore {
				t.Errorf("Expected has_more %v, got %v", tt.wantMore, page.HasMore)
			}
		})
	}
}

func TestListDocumentsProviderError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"message":"bad token"}`))
	})

	_, err := client.ListDocuments(context.Background(), 1, 10)
	var perr *ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected ProviderError, got %v", err)
	}
	if perr.StatusCode != http.StatusUnauthorized || perr.Body != `{"message":"bad token"}` {
		t.Errorf("Expected status and body preserved, got %d %q", perr.StatusCode, perr.Body)
	}
}

func TestGetDocumentDetail(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/contracts/42":
			w.Write([]byte(`{
				"id": 42,
				"name": "Avtal",
				"state": "signed",
				"template": {"id": "8486368", "name": "Skadedjursavtal"},
				"data_fields": [
					{"custom_id": "foretag", "value": "Acme AB"},
					{"custom_id": "avtalslngd", "value": 36},
					{"custom_id": "", "value": "ignored"}
				]
			}`))
		case "/contracts/42/parties":
			w.Write([]byte(`[{"name":"Acme AB","type":"company","identification_number":"556-001","participants":[{"name":"Anna","email":"anna@acme.se"}]}]`))
		case "/contracts/42/products":
			w.Write([]byte(`{"data":[{"id":1,"name":"Bete","unit_price":{"amount":"10"},"quantity":{"amount":2}}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	detail, err := client.GetDocumentDetail(context.Background(), "42")
	if err != nil {
		t.Fatalf("GetDocumentDetail failed: %v", err)
	}
	if detail.Document.State != "signed" || detail.Document.ID != "42" {
		t.Errorf("Unexpected document %+v", detail.Document)
	}
	if detail.Fields["foretag"] != "Acme AB" || detail.Fields["avtalslngd"] != "36" {
		t.Errorf("Unexpected fields %v", detail.Fields)
	}
	if len(detail.Fields) != 2 {
		t.Errorf("Expected fields without custom id to be dropped, got %v", detail.Fields)
	}
	if len(detail.Parties) != 1 || detail.Parties[0].IdentificationNumber != "556-001" {
		t.Errorf("Unexpected parties %+v", detail.Parties)
	}
	if len(detail.Products) != 1 || detail.Products[0].Quantity.Amount != "2" {
		t.Errorf("Unexpected products %+v", detail.Products)
	}
	var raw []map[string]any
	if err := json.Unmarshal(detail.RawProducts, &raw); err != nil || len(raw) != 1 {
		t.Errorf("Expected raw product list, got %s", string(detail.RawProducts))
	}
}

func TestGetDocumentDetailAuxiliaryFailuresDegrade(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/contracts/7":
			w.Write([]byte(`{"id":"7","state":"pending","template":{"id":"8486368"}}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("oops"))
		}
	})

	detail, err := client.GetDocumentDetail(context.Background(), "7")
	if err != nil {
		t.Fatalf("Expected auxiliary failures to be tolerated, got %v", err)
	}
	if len(detail.Parties) != 0 || len(detail.Products) != 0 {
		t.Errorf("Expected empty parties and products, got %+v %+v", detail.Parties, detail.Products)
	}
	if string(detail.RawProducts) != "[]" {
		t.Errorf("Expected empty raw products, got %s", string(detail.RawProducts))
	}
}

func TestGetDocumentDetailBaseFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"no such contract"}`))
	})

	detail, err := client.GetDocumentDetail(context.Background(), "404")
	if detail != nil {
		t.Error("Expected nil detail on base failure")
	}
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected wrapped 404 ProviderError, got %v", err)
	}
}

func TestFlexStringUnmarshal(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`"abc"`, "abc"},
		{`123`, "123"},
		{`12.50`, "12.50"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var f FlexString
		if err := json.Unmarshal([]byte(tt.in), &f); err != nil {
			t.Errorf("Unmarshal(%s) failed: %v", tt.in, err)
			continue
		}
		if f.String() != tt.want {
			t.Errorf("Unmarshal(%s) = %q, want %q", tt.in, f, tt.want)
		}
	}

	var f FlexString
	if err := json.Unmarshal([]byte(`{"a":1}`), &f); err == nil {
		t.Error("Expected error for object value")
	}
}
