package sync

import (
	"context"
	"errors"
	"time"

	"github.com/labsafe/labsync/internal/models"
	"github.com/labsafe/labsync/internal/remote"
)

// ErrUnknownTable is returned by the Manager for a table it does not serve.
var ErrUnknownTable = errors.New("unknown table")

// ErrPendingWork is returned by a cache replacement that would discard
// queued requests.
var ErrPendingWork = errors.New("table has queued requests")

// DefaultListLimit bounds the listing fetched by a reconciliation.
const DefaultListLimit = 200

// ReplaceListLimit bounds the listing fetched by ReplaceFromRemote.
const ReplaceListLimit = 1000

// Remote is the remote record store.
type Remote interface {
	// List returns up to limit rows newest first; more reports rows beyond them.
	List(ctx context.Context, table string, limit int) (rows []remote.Row, more bool, err error)
	Create(ctx context.Context, table string, fields models.Fields) (remote.Row, error)
	Patch(ctx context.Context, table string, id models.RecordID, fields models.Fields) error
	Remove(ctx context.Context, table string, id models.RecordID) error
}

// Store is the durable local state the engine reads and writes. *db.DB
// satisfies it.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
	WithWriteLock(fn func() error) error
	IsPaused() bool
	MarkReconciled(table string, at time.Time) error
}

// Validator checks record fields before they enter the cache.
type Validator interface {
	Validate(table string, fields models.Fields) error
	ValidatePatch(table string, fields models.Fields) error
}

// Config configures an Engine.
type Config struct {
	Table     string
	Limit     int
	Retry     RetryConfig
	Validator Validator

	// Now defaults to time.Now.
	Now func() time.Time
}

// Status summarises the local state of one table.
type Status struct {
	Table    string
	Paused   bool
	Records  map[models.Status]int
	Queued   map[models.RequestKind]int
	Orphans  int
	Total    int
	QueueLen int
}
