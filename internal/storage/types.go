package storage

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "file":   JSON snapshot file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is one preference row. City is empty for blacklist records.
type Record struct {
	DestinationID string    `json:"destination_id"`
	DisplayName   string    `json:"display_name"`
	City          string    `json:"city,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Backend is the persistence API used by the preference store.
//
// Lists are ordered by UpdatedAt descending (most recent first).
type Backend interface {
	UpsertBlacklist(ctx context.Context, destinationID, displayName string, at time.Time) error
	DeleteBlacklist(ctx context.Context, destinationID string) error
	ListBlacklist(ctx context.Context) ([]Record, error)

	UpsertWeather(ctx context.Context, city, destinationID, displayName string, at time.Time) error
	DeleteWeather(ctx context.Context, destinationID string) error
	ListWeather(ctx context.Context) ([]Record, error)

	Close() error
}
