// Package postgres is the PostgreSQL backend for contracts, customers and the sync log.
package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/begoneskadedjur/kundportal-sub013/model"
	"github.com/begoneskadedjur/kundportal-sub013/service"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	Pool *pgxpool.Pool
}

func Connect(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() { s.Pool.Close() }

// Migrate applies all pending goose migrations
func (s *Store) Migrate(ctx context.Context) ([]string, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, err
	}
	db := stdlib.OpenDBFromPool(s.Pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
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

const contractColumns = `external_id, document_type, status, template_id, name, fields, total_value::text, products, customer_id, created_at, updated_at`

func scanContract(row pgx.Row) (*model.Contract, error) {
	var (
		c        model.Contract
		docType  string
		fields   []byte
		total    string
		products []byte
	)
	err := row.Scan(&c.ExternalID, &docType, &c.Status, &c.TemplateID, &c.Name, &fields, &total, &products, &c.CustomerID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.DocumentType = model.DocumentType(docType)
	if err := json.Unmarshal(fields, &c.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields of %s: %w", c.ExternalID, err)
	}
	if c.TotalValue, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("failed to decode total of %s: %w", c.ExternalID, err)
	}
	if products != nil {
		c.Products = json.RawMessage(products)
	}
	return &c, nil
}

func encodeFields(fields map[string]string) (string, error) {
	if fields == nil {
		fields = map[string]string{}
	}
	b, err := json.Marshal(fields)
	return string(b), err
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (s *Store) GetContract(ctx context.Context, externalID string) (*model.Contract, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+contractColumns+` FROM contracts WHERE external_id = $1`, externalID)
	c, err := scanContract(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	_, err = s.Pool.Exec(ctx, `
		INSERT INTO contracts (external_id, document_type, status, template_id, name, fields, total_value, products, customer_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7::text::numeric, $8::jsonb, $9, $10, $11)
		ON CONFLICT (external_id) DO UPDATE SET
			document_type = EXCLUDED.document_type,
			status = EXCLUDED.status,
			template_id = EXCLUDED.template_id,
			name = EXCLUDED.name,
			fields = contracts.fields || EXCLUDED.fields,
			total_value = EXCLUDED.total_value,
			products = COALESCE(EXCLUDED.products, contracts.products),
			updated_at = EXCLUDED.updated_at
	`, c.ExternalID, string(c.DocumentType), c.Status, c.TemplateID, c.Name, fields,
		c.TotalValue.String(), nullableJSON(c.Products), c.CustomerID, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s *Store) UpdateContract(ctx context.Context, c *model.Contract) error {
	fields, err := encodeFields(c.Fields)
	if err != nil {
		return err
	}
	tag, err := s.Pool.Exec(ctx, `
		UPDATE contracts SET
			document_type = $2,
			status = $3,
			template_id = $4,
			name = $5,
			fields = $6::jsonb,
			total_value = $7::text::numeric,
			products = $8::jsonb,
			updated_at = $9
		WHERE external_id = $1
	`, c.ExternalID, string(c.DocumentType), c.Status, c.TemplateID, c.Name, fields,
		c.TotalValue.String(), nullableJSON(c.Products), c.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateStatus(ctx context.Context, externalID, status string, at time.Time) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE contracts SET status = $2, updated_at = $3 WHERE external_id = $1`, externalID, status, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (s *Store) LinkCustomer(ctx context.Context, externalID, customerID string, at time.Time) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE contracts SET customer_id = $2, updated_at = $3 WHERE external_id = $1`, externalID, customerID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (s *Store) ListExternalIDs(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT external_id FROM contracts ORDER BY external_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

const customerColumns = `id, company_name, organization_number, contact_person, contact_email, contact_phone, contact_address, source_contract_id, created_at`

func (s *Store) findCustomer(ctx context.Context, where string, arg string) (*model.Customer, error) {
	var c model.Customer
	err := s.Pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE `+where+` = $1 ORDER BY created_at ASC LIMIT 1`, arg).
		Scan(&c.ID, &c.CompanyName, &c.OrganizationNumber, &c.ContactPerson, &c.ContactEmail, &c.ContactPhone, &c.ContactAddress, &c.SourceContractID, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, service.ErrNotFound
	}
	if err != nil {
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
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, c.ID, c.CompanyName, c.OrganizationNumber, c.ContactPerson, c.ContactEmail, c.ContactPhone, c.ContactAddress, c.SourceContractID, c.CreatedAt)
	return err
}

func (s *Store) AppendSyncLog(ctx context.Context, e *model.SyncLogEntry) error {
	eventTypes := e.EventTypes
	if eventTypes == nil {
		eventTypes = []string{}
	}
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO sync_log (id, event_types, contract_id, status, details, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
	`, e.ID, eventTypes, e.ContractID, e.Status, nullableJSON(e.Details), e.ErrorMessage, e.CreatedAt)
	return err
}

// SyncLogFor returns the sync log entries of one contract, oldest first
func (s *Store) SyncLogFor(ctx context.Context, contractID string) ([]*model.SyncLogEntry, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT id, event_types, contract_id, status, details, error_message, created_at
		FROM sync_log WHERE contract_id = $1 ORDER BY created_at ASC
	`, contractID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.SyncLogEntry
	for rows.Next() {
		var e model.SyncLogEntry
		var details []byte
		if err := rows.Scan(&e.ID, &e.EventTypes, &e.ContractID, &e.Status, &details, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		if details != nil {
			e.Details = json.RawMessage(details)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

var _ service.Repository = (*Store)(nil)
