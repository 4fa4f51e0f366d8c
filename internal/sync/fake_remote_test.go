package sync

import (
	"context"
	"strconv"
	gosync "sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/labsafe/labsync/internal/db"
	"github.com/labsafe/labsync/internal/models"
	"github.com/labsafe/labsync/internal/remote"
)

var errUnavailable = &remote.StatusError{StatusCode: 503, Message: "unavailable"}

type call struct {
	Method  string
	ID      models.RecordID
	Payload models.Fields
}

// fakeRemote is a scripted in-memory remote table.
type fakeRemote struct {
	mu     gosync.Mutex
	nextID int
	rows   []remote.Row // newest first
	calls  []call

	createErrs []error
	patchErrs  []error
	removeErrs []error
	listErr    error

	// pageCap is the server's own page limit; zero means none.
	pageCap int

	// beforeCreate runs inside Create before the row is stored.
	beforeCreate func()
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{nextID: 41}
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeRemote) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeRemote) List(ctx context.Context, table string, limit int) ([]remote.Row, bool, error) {
	f.record(call{Method: "list"})
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, false, f.listErr
	}
	n := min(limit, len(f.rows))
	if f.pageCap > 0 {
		n = min(n, f.pageCap)
	}
	out := make([]remote.Row, n)
	copy(out, f.rows[:n])
	return out, n < len(f.rows), nil
}

func (f *fakeRemote) Create(ctx context.Context, table string, fields models.Fields) (remote.Row, error) {
	f.record(call{Method: "create", Payload: fields.Clone()})
	if f.beforeCreate != nil {
		f.beforeCreate()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := pop(&f.createErrs); err != nil {
		return remote.Row{}, err
	}
	f.nextID++
	row := remote.Row{ID: models.RecordID(strconv.Itoa(f.nextID)), Fields: fields.Clone()}
	f.rows = append([]remote.Row{row}, f.rows...)
	return row, nil
}

func (f *fakeRemote) Patch(ctx context.Context, table string, id models.RecordID, fields models.Fields) error {
	f.record(call{Method: "patch", ID: id, Payload: fields.Clone()})
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := pop(&f.patchErrs); err != nil {
		return err
	}
	for i := range f.rows {
		if f.rows[i].ID == id {
			f.rows[i].Fields = fields.Clone()
		}
	}
	return nil
}

func (f *fakeRemote) Remove(ctx context.Context, table string, id models.RecordID) error {
	f.record(call{Method: "delete", ID: id})
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := pop(&f.removeErrs); err != nil {
		return err
	}
	out := f.rows[:0]
	for _, r := range f.rows {
		if r.ID != id {
			out = append(out, r)
		}
	}
	f.rows = out
	return nil
}

func (f *fakeRemote) seed(rows ...remote.Row) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rows...)
}

func (f *fakeRemote) callsOf(method string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// recorder collects events emitted on a bus.
type recorder struct {
	mu     gosync.Mutex
	syncs  []SyncEvent
	errors []ErrorEvent
}

func record(bus *EventBus) *recorder {
	r := &recorder{}
	bus.OnSync(func(ev SyncEvent) {
		r.mu.Lock()
		r.syncs = append(r.syncs, ev)
		r.mu.Unlock()
	})
	bus.OnError(func(ev ErrorEvent) {
		r.mu.Lock()
		r.errors = append(r.errors, ev)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) syncsOf(kind SyncKind) []SyncEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SyncEvent
	for _, ev := range r.syncs {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) errorEvents() []ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorEvent(nil), r.errors...)
}

func openStore(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

// newTestEngine returns an engine with immediate retries.
func newTestEngine(t *testing.T, rem Remote) (*Engine, *db.DB, *recorder) {
	t.Helper()
	store := openStore(t)
	e := NewEngine(store, rem, nil, Config{
		Table: "oil",
		Retry: RetryConfig{MaxAttempts: 3},
	})
	return e, store, record(e.Events())
}

func recordIDs(records []models.Record) []models.RecordID {
	out := make([]models.RecordID, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}
