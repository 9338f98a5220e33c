package model

import (
	"encoding/json"
	"time"
)

// Sync log statuses
const (
	SyncReceived  = "received"
	SyncVerified  = "verified"
	SyncProcessed = "processed"
	SyncError     = "error"
)

// SyncLogEntry is the append-only audit record of one webhook delivery
type SyncLogEntry struct {
	ID           string          `json:"id"`
	EventTypes   []string        `json:"event_types"`
	ContractID   string          `json:"contract_id"`
	Status       string          `json:"status"`
	Details      json.RawMessage `json:"details,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}
