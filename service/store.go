package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/begoneskadedjur/kundportal-sub013/model"
)

// MemoryStore is an in-memory Repository for local runs and tests.
// Contracts and customers are kept forever; the sync log is capped.
type MemoryStore struct {
	mu          sync.RWMutex
	contracts   map[string]*model.Contract
	customers   map[string]*model.Customer
	syncLog     []*model.SyncLogEntry
	maxSyncLogs int // 0 = unlimited
}

func NewMemoryStore(maxSyncLogs int) *MemoryStore {
	if maxSyncLogs < 0 {
		maxSyncLogs = 0
	}
	return &MemoryStore{
		contracts:   make(map[string]*model.Contract),
		customers:   make(map[string]*model.Customer),
		maxSyncLogs: maxSyncLogs,
	}
}

func (s *MemoryStore) GetContract(ctx context.Context, externalID string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

// InsertContract stores c, merging into an existing row the way the SQL
// backends resolve a conflict on external_id
func (s *MemoryStore) InsertContract(ctx context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.contracts[c.ExternalID]; ok {
		merged := c.Clone()
		merged.CreatedAt = existing.CreatedAt
		merged.CustomerID = existing.CustomerID
		merged.Fields = make(map[string]string, len(existing.Fields)+len(c.Fields))
		for k, v := range existing.Fields {
			merged.Fields[k] = v
		}
		for k, v := range c.Fields {
			merged.Fields[k] = v
		}
		if merged.Products == nil {
			merged.Products = existing.Clone().Products
		}
		s.contracts[c.ExternalID] = merged
		return nil
	}
	s.contracts[c.ExternalID] = c.Clone()
	return nil
}

func (s *MemoryStore) UpdateContract(ctx context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[c.ExternalID]; !ok {
		return ErrNotFound
	}
	s.contracts[c.ExternalID] = c.Clone()
	return nil
}

func (s *MemoryStore) UpdateStatus(ctx context.Context, externalID, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[externalID]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = at
	return nil
}

func (s *MemoryStore) LinkCustomer(ctx context.Context, externalID, customerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[externalID]
	if !ok {
		return ErrNotFound
	}
	id := customerID
	c.CustomerID = &id
	c.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ListExternalIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.contracts))
	for id := range s.contracts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Contracts returns copies of all stored contracts ordered by external id
func (s *MemoryStore) Contracts() []*model.Contract {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Contract, 0, len(s.contracts))
	for _, c := range s.contracts {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExternalID < out[j].ExternalID })
	return out
}

// FindCustomerByOrganizationNumber returns the oldest customer with that org number
func (s *MemoryStore) FindCustomerByOrganizationNumber(ctx context.Context, orgNumber string) (*model.Customer, error) {
	return s.findCustomer(func(c *model.Customer) bool { return c.OrganizationNumber == orgNumber })
}

// FindCustomerByEmail returns the oldest customer with that contact email
func (s *MemoryStore) FindCustomerByEmail(ctx context.Context, email string) (*model.Customer, error) {
	return s.findCustomer(func(c *model.Customer) bool { return c.ContactEmail == email })
}

func (s *MemoryStore) findCustomer(match func(*model.Customer) bool) (*model.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *model.Customer
	for _, c := range s.customers {
		if !match(c) {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			found = c
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	out := *found
	return &out, nil
}

func (s *MemoryStore) CreateCustomer(ctx context.Context, c *model.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *c
	s.customers[c.ID] = &stored
	return nil
}

// Customers returns copies of all customers ordered by creation
func (s *MemoryStore) Customers() []*model.Customer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) AppendSyncLog(ctx context.Context, e *model.SyncLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := *e
	s.syncLog = append(s.syncLog, &entry)
	s.trimSyncLog()
	return nil
}

// trimSyncLog drops the oldest entries beyond maxSyncLogs.
// Must be called with lock held
func (s *MemoryStore) trimSyncLog() {
	if s.maxSyncLogs <= 0 || len(s.syncLog) <= s.maxSyncLogs {
		return
	}
	drop := len(s.syncLog) - s.maxSyncLogs
	for _, e := range s.syncLog[:drop] {
		slog.Debug("dropping old sync log entry", "id", e.ID, "created_at", e.CreatedAt)
	}
	s.syncLog = append([]*model.SyncLogEntry(nil), s.syncLog[drop:]...)
}

// SyncLog returns copies of the retained sync log entries, oldest first
func (s *MemoryStore) SyncLog() []*model.SyncLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.SyncLogEntry, len(s.syncLog))
	for i, e := range s.syncLog {
		cp := *e
		out[i] = &cp
	}
	return out
}

// SyncLogFor returns the retained sync log entries of one contract, oldest first
func (s *MemoryStore) SyncLogFor(ctx context.Context, contractID string) ([]*model.SyncLogEntry, error) {
	var out []*model.SyncLogEntry
	for _, e := range s.SyncLog() {
		if e.ContractID == contractID {
			out = append(out, e)
		}
	}
	return out, nil
}
