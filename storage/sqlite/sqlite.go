// Package sqlite is the single-file SQLite backend, used for local runs and
// small deployments.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/begoneskadedjur/kundportal-sub013/model"
	"github.com/begoneskadedjur/kundportal-sub013/service"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timestamps are stored as fixed-width UTC text so they sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	DB *sql.DB
}

// Open opens (and creates) the database file at path with foreign keys on.
// A "file:" prefix is accepted.
func Open(path string) (*Store, error) {
	path = strings.TrimPrefix(path, "file:")
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// Migrate applies all pending goose migrations
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.DB, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	applied := make([]string, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Path)
	}
	return applied, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func nullableJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func nullableString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func encodeFields(fields map[string]string) (string, error) {
	if fields == nil {
		fields = map[string]string{}
	}
	b, err := json.Marshal(fields)
	return string(b), err
}

const contractColumns = `external_id, document_type, status, template_id, name, fields, total_value, products, customer_id, created_at, updated_at`

func scanContract(row *sql.Row) (*model.Contract, error) {
	var (
		c                    model.Contract
		docType              string
		fields, total        string
		products, customerID sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ExternalID, &docType, &c.Status, &c.TemplateID, &c.Name, &fields, &total, &products, &customerID, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	c.DocumentType = model.DocumentType(docType)
	if err := json.Unmarshal([]byte(fields), &c.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields of %s: %w", c.ExternalID, err)
	}
	if c.TotalValue, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("failed to decode total of %s: %w", c.ExternalID, err)
	}
	if products.Valid {
		c.Products = json.RawMessage(products.String)
	}
	if customerID.Valid {
		id := customerID.String
		c.CustomerID = &id
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) GetContract(ctx context.Context, externalID string) (*model.Contract, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE external_id = ?`, externalID)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	return c, err
}

// InsertContract inserts c; a row that appeared since the caller's read is
// merged instead, keeping its customer link and created_at
func (s *Store) InsertContract(ctx context.Context, c *model.Contract) error {
	fields, err := encodeFields(c.Fields)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO contracts (`+contractColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (external_id) DO UPDATE SET
			document_type = excluded.document_type,
			status = excluded.status,
			template_id = excluded.template_id,
			name = excluded.name,
			fields = json_patch(contracts.fields, excluded.fields),
			total_value = excluded.total_value,
			products = COALESCE(excluded.products, contracts.products),
			updated_at = excluded.updated_at
	`, c.ExternalID, string(c.DocumentType), c.Status, c.TemplateID, c.Name, fields,
		c.TotalValue.String(), nullableJSON(c.Products), nullableString(c.CustomerID),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt))
	return err
}

func (s *Store) UpdateContract(ctx context.Context, c *model.Contract) error {
	fields, err := encodeFields(c.Fields)
	if err != nil {
		return err
	}
	res, err := s.DB.ExecContext(ctx, `
		UPDATE contracts SET
			document_type = ?, status = ?, template_id = ?, name = ?,
			fields = ?, total_value = ?, products = ?, updated_at = ?
		WHERE external_id = ?
	`, string(c.DocumentType), c.Status, c.TemplateID, c.Name, fields,
		c.TotalValue.String(), nullableJSON(c.Products), formatTime(c.UpdatedAt), c.ExternalID)
	return affectedOne(res, err)
}

func (s *Store) UpdateStatus(ctx context.Context, externalID, status string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE contracts SET status = ?, updated_at = ? WHERE external_id = ?`,
		status, formatTime(at), externalID)
	return affectedOne(res, err)
}

func (s *Store) LinkCustomer(ctx context.Context, externalID, customerID string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE contracts SET customer_id = ?, updated_at = ? WHERE external_id = ?`,
		customerID, formatTime(at), externalID)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (s *Store) ListExternalIDs(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT external_id FROM contracts ORDER BY external_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const customerColumns = `id, company_name, organization_number, contact_person, contact_email, contact_phone, contact_address, source_contract_id, created_at`

func (s *Store) findCustomer(ctx context.Context, column, value string) (*model.Customer, error) {
	var c model.Customer
	var createdAt string
	err := s.DB.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM customers WHERE `+column+` = ? ORDER BY created_at ASC LIMIT 1`, value).
		Scan(&c.ID, &c.CompanyName, &c.OrganizationNumber, &c.ContactPerson, &c.ContactEmail, &c.ContactPhone, &c.ContactAddress, &c.SourceContractID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) FindCustomerByOrganizationNumber(ctx context.Context, orgNumber string) (*model.Customer, error) {
	return s.findCustomer(ctx, "organization_number", orgNumber)
}

func (s *Store) FindCustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	return s.findCustomer(ctx, "contact_email", email)
}

func (s *Store) CreateCustomer(ctx context.Context, c *model.Customer) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.CompanyName, c.OrganizationNumber, c.ContactPerson, c.ContactEmail, c.ContactPhone, c.ContactAddress, c.SourceContractID, formatTime(c.CreatedAt))
	return err
}

func (s *Store) AppendSyncLog(ctx context.Context, e *model.SyncLogEntry) error {
	eventTypes := e.EventTypes
	if eventTypes == nil {
		eventTypes = []string{}
	}
	encoded, err := json.Marshal(eventTypes)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO sync_log (id, event_types, contract_id, status, details, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(encoded), e.ContractID, e.Status, nullableJSON(e.Details), nullableString(e.ErrorMessage), formatTime(e.CreatedAt))
	return err
}

// SyncLogFor returns the sync log entries of one contract, oldest first
func (s *Store) SyncLogFor(ctx context.Context, contractID string) ([]*model.SyncLogEntry, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, event_types, contract_id, status, details, error_message, created_at
		FROM sync_log WHERE contract_id = ? ORDER BY created_at ASC, rowid ASC
	`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.SyncLogEntry
	for rows.Next() {
		var (
			e                 model.SyncLogEntry
			eventTypes        string
			details, errorMsg sql.NullString
			createdAt         string
		)
		if err := rows.Scan(&e.ID, &eventTypes, &e.ContractID, &e.Status, &details, &errorMsg, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(eventTypes), &e.EventTypes); err != nil {
			return nil, fmt.Errorf("failed to decode event types of %s: %w", e.ID, err)
		}
		if details.Valid {
			e.Details = json.RawMessage(details.String)
		}
		if errorMsg.Valid {
			msg := errorMsg.String
			e.ErrorMessage = &msg
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

var _ service.Repository = (*Store)(nil)
