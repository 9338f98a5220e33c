package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/begoneskadedjur/kundportal-sub013/pkg/logger"
)

const (
	headerAPIToken  = "x-oneflow-api-token"
	headerUserEmail = "x-oneflow-user-email"
)

// ErrMissingCredentials is returned when the client is built without a token or operator email
var ErrMissingCredentials = errors.New("esign api token and user email are required")

// ProviderError is a non-2xx answer from the provider API
type ProviderError struct {
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("esign api returned %d: %s", e.StatusCode, e.Body)
}

// FlexString accepts a JSON string, number or null. The provider is not
// consistent about ids and amounts.
type FlexString string

func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(data))
	}
	*f = FlexString(n.String())
	return nil
}

func (f FlexString) String() string {
	return string(f)
}

// Credentials are sent on every provider call
type Credentials struct {
	APIToken  string
	UserEmail string
}

// ESignClientConfig configures the provider endpoint
type ESignClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// DocumentTemplate is the template reference embedded in a document
type DocumentTemplate struct {
	ID   FlexString `json:"id"`
	Name string     `json:"name"`
}

// DataField is one custom field value on a document
type DataField struct {
	CustomID string     `json:"custom_id"`
	Name     string     `json:"name,omitempty"`
	Value    FlexString `json:"value"`
}

// Document is the provider's contract metadata
type Document struct {
	ID          FlexString       `json:"id"`
	Name        string           `json:"name"`
	State       string           `json:"state"`
	Template    DocumentTemplate `json:"template"`
	DataFields  []DataField      `json:"data_fields,omitempty"`
	CreatedTime string           `json:"created_time,omitempty"`
	UpdatedTime string           `json:"updated_time,omitempty"`
}

// RawFields flattens the data fields into custom_id -> value. Fields without
// a custom id can't be mapped and are left out.
func (d *Document) RawFields() map[string]string {
	out := make(map[string]string, len(d.DataFields))
	for _, f := range d.DataFields {
		if f.CustomID == "" {
			continue
		}
		out[f.CustomID] = f.Value.String()
	}
	return out
}

const PartyTypeCompany = "company"

// Participant is a person acting for a party
type Participant struct {
	ID          FlexString `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	PhoneNumber string     `json:"phone_number"`
	Signatory   bool       `json:"signatory"`
}

// Party is one side of a document
type Party struct {
	ID                   FlexString    `json:"id"`
	Type                 string        `json:"type"`
	Name                 string        `json:"name"`
	IdentificationNumber string        `json:"identification_number"`
	MyParty              bool          `json:"my_party"`
	Participants         []Participant `json:"participants"`
}

// DocumentDetail is everything the sync needs to know about one document
type DocumentDetail struct {
	Document    Document
	Fields      map[string]string
	Parties     []Party
	Products    []Product
	RawProducts json.RawMessage
}

// DocumentPage is one normalized page of the document list
type DocumentPage struct {
	Documents  []Document
	TotalCount int
	HasMore    bool
}

// ESignClient talks to the e-signature provider REST API
type ESignClient struct {
	baseURL     string
	credentials Credentials
	httpClient  *http.Client
}

func NewESignClient(cfg ESignClientConfig, creds Credentials) (*ESignClient, error) {
	if strings.TrimSpace(creds.APIToken) == "" || strings.TrimSpace(creds.UserEmail) == "" {
		return nil, ErrMissingCredentials
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ESignClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		credentials: creds,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

// get performs a GET and returns the body of a 2xx response
func (c *ESignClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerAPIToken, c.credentials.APIToken)
	req.Header.Set(headerUserEmail, c.credentials.UserEmail)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProviderError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// ListDocuments fetches one page of documents. page is 1-based.
func (c *ESignClient) ListDocuments(ctx context.Context, page, pageSize int) (*DocumentPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(pageSize))

	body, err := c.get(ctx, "/contracts?"+q.Encode())
	if err != nil {
		return nil, err
	}

	docs, total, err := decodeDocumentList(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document list: %w", err)
	}

	result := &DocumentPage{Documents: docs, TotalCount: total}
	if total >= 0 {
		result.HasMore = offset+len(docs) < total
	} else {
		// no count in the answer, a full page suggests there is more
		result.TotalCount = offset + len(docs)
		result.HasMore = len(docs) == pageSize
	}
	return result, nil
}

// documentListEnvelope covers the envelope shapes seen from the list endpoint
type documentListEnvelope struct {
	Data       []Document `json:"data"`
	Contracts  []Document `json:"contracts"`
	Count      *int       `json:"count"`
	TotalCount *int       `json:"total_count"`
	Meta       struct {
		Count *int `json:"count"`
	} `json:"_meta"`
}

// decodeDocumentList accepts a bare array or an envelope. total is -1 when the
// answer carries no count.
func decodeDocumentList(body []byte) ([]Document, int, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var docs []Document
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, 0, err
		}
		return docs, -1, nil
	}

	var env documentListEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, 0, err
	}

	docs := env.Data
	if docs == nil {
		docs = env.Contracts
	}
	if docs == nil {
		docs = []Document{}
	}

	switch {
	case env.Count != nil:
		return docs, *env.Count, nil
	case env.TotalCount != nil:
		return docs, *env.TotalCount, nil
	case env.Meta.Count != nil:
		return docs, *env.Meta.Count, nil
	default:
		return docs, -1, nil
	}
}

// GetDocumentDetail fetches metadata, parties and products for one document.
// Parties and products are best-effort; a failing metadata call fails the whole fetch.
func (c *ESignClient) GetDocumentDetail(ctx context.Context, id string) (*DocumentDetail, error) {
	escaped := url.PathEscape(id)

	body, err := c.get(ctx, "/contracts/"+escaped)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch document %s: %w", id, err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document %s: %w", id, err)
	}

	detail := &DocumentDetail{
		Document:    doc,
		Fields:      doc.RawFields(),
		Parties:     []Party{},
		Products:    []Product{},
		RawProducts: json.RawMessage("[]"),
	}

	if parties, err := c.fetchParties(ctx, escaped); err != nil {
		logger.Warn(ctx, "failed to fetch parties, continuing without", "document_id", id, "error", err)
	} else {
		detail.Parties = parties
	}

	if products, raw, err := c.fetchProducts(ctx, escaped); err != nil {
		logger.Warn(ctx, "failed to fetch products, continuing without", "document_id", id, "error", err)
	} else {
		detail.Products = products
		detail.RawProducts = raw
	}

	return detail, nil
}

func (c *ESignClient) fetchParties(ctx context.Context, escapedID string) ([]Party, error) {
	body, err := c.get(ctx, "/contracts/"+escapedID+"/parties")
	if err != nil {
		return nil, err
	}
	raw, err := unwrapList(body)
	if err != nil {
		return nil, err
	}
	var parties []Party
	if err := json.Unmarshal(raw, &parties); err != nil {
		return nil, fmt.Errorf("failed to parse parties: %w", err)
	}
	return parties, nil
}

func (c *ESignClient) fetchProducts(ctx context.Context, escapedID string) ([]Product, json.RawMessage, error) {
	body, err := c.get(ctx, "/contracts/"+escapedID+"/products")
	if err != nil {
		return nil, nil, err
	}
	raw, err := unwrapList(body)
	if err != nil {
		return nil, nil, err
	}
	var products []Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, nil, fmt.Errorf("failed to parse products: %w", err)
	}
	return products, raw, nil
}

// unwrapList returns the JSON array from a bare array or a {"data": [...]} envelope
func unwrapList(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.RawMessage(trimmed), nil
	}
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("failed to parse list: %w", err)
	}
	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return json.RawMessage("[]"), nil
	}
	return env.Data, nil
}
