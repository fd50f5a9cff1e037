package storage

import (
	"context"
	"errors"
	"time"

	"lifejourney/internal/recurrence"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
	// ErrConflict means a conditional write lost against a concurrent one.
	ErrConflict = errors.New("conflicting update")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": process-local maps, for tests and one-shot CLI runs
//
// If Driver is "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ItemKind distinguishes tasks from calendar events. Both recur the same way.
type ItemKind string

const (
	KindTask  ItemKind = "task"
	KindEvent ItemKind = "event"
)

// Item is a recurring task or event.
//
// NextOccurrence and LastProcessed are civil dates (midnight UTC).
// LastProcessed is zero until the first occurrence has been processed.
type Item struct {
	ID             string
	OwnerID        string
	Kind           ItemKind
	Title          string
	Notes          string
	Pattern        recurrence.Pattern
	NextOccurrence time.Time
	LastProcessed  time.Time
	Revision       int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Owner is the person items and reminders belong to.
type Owner struct {
	ID               string
	Name             string
	Phone            string
	TelegramChatID   int64
	RemindersEnabled bool
	Timezone         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AuditEntry records one batch or user action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time
	Actor    string
	Action   string
	Target   string
	OK       int
	Fail     int
	Error    string
	TookMS   int64
	MetaJSON string
}

// DueQuery selects items whose next occurrence is on or before Through.
// Results are ordered by ID; AfterID continues a previous page.
type DueQuery struct {
	Through time.Time
	AfterID string
	Limit   int
}

// Advance is a conditional write of the dates the sweep computed.
type Advance struct {
	ID               string
	ExpectedNext     time.Time
	ExpectedRevision int64
	Next             time.Time
	Processed        time.Time
}

type ItemStore interface {
	CreateItem(ctx context.Context, it Item) error
	GetItem(ctx context.Context, id string) (Item, error)
	ListItemsByOwner(ctx context.Context, ownerID string) ([]Item, error)
	ListDue(ctx context.Context, q DueQuery) ([]Item, error)
	// UpdateItem replaces the item if its stored revision equals
	// it.Revision, storing it.Revision+1. Otherwise it returns ErrConflict.
	UpdateItem(ctx context.Context, it Item) (Item, error)
	// AdvanceIfUnchanged writes new dates only if both the next occurrence
	// and the revision still match. ok is false when the item changed or
	// no longer exists.
	AdvanceIfUnchanged(ctx context.Context, a Advance) (ok bool, err error)
	DeleteItem(ctx context.Context, id string) error
}

type OwnerStore interface {
	PutOwner(ctx context.Context, o Owner) error
	GetOwner(ctx context.Context, id string) (Owner, error)
}

type AuditStore interface {
	AppendAudit(ctx context.Context, e AuditEntry) error
}

type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// Store is the persistence API used by the services.
type Store interface {
	ItemStore
	OwnerStore
	AuditStore
	DedupStore
	Close() error
}
