package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// LoadTable returns the blob saved for (module, item), or nil when
	// nothing was saved.
	LoadTable(module, item string) ([]byte, error)
	SaveTable(module, item string, blob []byte) error
	DeleteTable(module, item string) error

	// Event history, oldest first.
	AppendEvent(ev *EventRecord) error
	RecentEvents(limit int) ([]*EventRecord, error)

	// Close the store
	Close() error
}

// EventRecord is a bus event kept in the history bucket.
type EventRecord struct {
	ID   string         `cbor:"id" json:"id"`
	Type string         `cbor:"type" json:"type"`
	Time time.Time      `cbor:"time" json:"time"`
	Data map[string]any `cbor:"data,omitempty" json:"data,omitempty"`
}
