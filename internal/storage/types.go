package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by LoadState when nothing has been saved yet.
	ErrNotFound = errors.New("state not found")
	ErrClosed   = errors.New("storage closed")
)

// Config selects and configures a driver.
//
// Driver values:
//   - "file" (default): Path is the state JSON file
//   - "sqlite": Path is the database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means driver default
}

// Store is the persistence surface used by the state store and the command layer.
type Store interface {
	// LoadState returns the last saved snapshot or ErrNotFound.
	LoadState(ctx context.Context) ([]byte, error)
	// SaveState replaces the snapshot atomically: readers see the old or the new bytes, never a mix.
	SaveState(ctx context.Context, data []byte) error
	// QuarantineState moves an unreadable snapshot aside and reports where it went.
	QuarantineState(ctx context.Context) (string, error)

	AppendAudit(ctx context.Context, e AuditEntry) error
	// RecentAudit returns up to n latest entries, oldest first.
	RecentAudit(ctx context.Context, n int) ([]AuditEntry, error)

	Close() error
}

// AuditEntry records an operator command or an alert lifecycle event.
type AuditEntry struct {
	ID        string    `json:"id"`
	At        time.Time `json:"at"`
	Kind      string    `json:"kind"` // "command" | "alert"
	ActorID   int64     `json:"actor_id,omitempty"`
	ChatID    int64     `json:"chat_id,omitempty"`
	MessageID int       `json:"message_id,omitempty"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Meta      string    `json:"meta,omitempty"`
}
