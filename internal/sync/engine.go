// Package sync keeps a per-table local cache consistent with the remote
// record store. Mutations apply to the cache immediately and are queued; the
// engine drains the queue against the remote and periodically reconciles the
// cache with a remote listing.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/labsafe/labsync/internal/cache"
	"github.com/labsafe/labsync/internal/models"
	"github.com/labsafe/labsync/internal/queue"
	"github.com/labsafe/labsync/internal/schema"
)

// Engine coordinates the cache, queue and remote of one table.
type Engine struct {
	table     string
	store     Store
	remote    Remote
	cache     *cache.Cache
	queue     *queue.Queue
	validator Validator
	retry     RetryConfig
	limit     int
	now       func() time.Time
	bus       *EventBus
	log       *slog.Logger

	// mu serializes every cache/queue read-modify-write of this table.
	mu gosync.Mutex

	// state guards the in-memory drain bookkeeping below.
	state    gosync.Mutex
	inFlight map[string]bool
	claimed  map[models.RecordID]bool
	retryAt  map[string]time.Time
	gen      uint64
	touched  map[models.RecordID]uint64
	listings int
	started  atomic.Bool
	wake     chan struct{}
	pull     chan struct{}
	bg       gosync.WaitGroup
	loopDone chan struct{}
}

// NewEngine creates the engine of cfg.Table. bus may be shared between
// engines; a nil bus gets a private one.
func NewEngine(store Store, rem Remote, bus *EventBus, cfg Config) *Engine {
	if bus == nil {
		bus = NewEventBus()
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		table:     cfg.Table,
		store:     store,
		remote:    rem,
		cache:     cache.New(store, cfg.Table),
		queue:     queue.New(store, cfg.Table),
		validator: cfg.Validator,
		retry:     cfg.Retry.normalized(),
		limit:     limit,
		now:       now,
		bus:       bus,
		log:       slog.With("table", cfg.Table),
		inFlight:  make(map[string]bool),
		claimed:   make(map[models.RecordID]bool),
		retryAt:   make(map[string]time.Time),
		touched:   make(map[models.RecordID]uint64),
		wake:      make(chan struct{}, 1),
		pull:      make(chan struct{}, 1),
		loopDone:  make(chan struct{}),
	}
}

// Table returns the table name.
func (e *Engine) Table() string { return e.table }

// Events returns the bus the engine emits on.
func (e *Engine) Events() *EventBus { return e.bus }

// On subscribes handler to event ("sync" or "error").
func (e *Engine) On(event string, handler Handler) { e.bus.On(event, handler) }

// Start drains the queue and reconciles once, then keeps serving drain and
// reconcile triggers in the background until ctx ends. Without Start the
// engine only does network work when Drain or Reconcile is called.
func (e *Engine) Start(ctx context.Context) {
	if !e.started.CompareAndSwap(false, true) {
		return
	}
	if orphans, err := e.Orphans(); err != nil {
		e.log.Warn("orphan scan failed", "err", err)
	} else if len(orphans) > 0 {
		e.log.Warn("records without a queued create", "count", len(orphans))
	}
	go e.loop(ctx)
	e.kick()
	e.requestReconcile()
}

// Wait blocks until a started engine has stopped and its background drains
// have returned.
func (e *Engine) Wait() {
	if !e.started.Load() {
		return
	}
	<-e.loopDone
	e.bg.Wait()
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.loopDone)
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			e.spawn(func() {
				if err := e.Drain(ctx); err != nil && ctx.Err() == nil {
					e.log.Warn("drain failed", "err", err)
				}
			})
		case <-e.pull:
			e.spawn(func() {
				if err := e.Reconcile(ctx); err != nil && ctx.Err() == nil {
					e.log.Warn("reconcile failed", "err", err)
				}
			})
		}
	}
}

func (e *Engine) spawn(fn func()) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		fn()
	}()
}

// kick schedules a drain on a started engine.
func (e *Engine) kick() {
	if !e.started.Load() {
		return
	}
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) kickAfter(d time.Duration) {
	if !e.started.Load() {
		return
	}
	time.AfterFunc(d, e.kick)
}

func (e *Engine) requestReconcile() {
	if !e.started.Load() {
		return
	}
	select {
	case e.pull <- struct{}{}:
	default:
	}
}

// critical runs fn with exclusive access to the table's cache and queue.
func (e *Engine) critical(fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.WithWriteLock(fn)
}

// touch records that ids were written locally, so a reconciliation whose
// listing predates the write keeps them.
func (e *Engine) touch(ids ...models.RecordID) {
	e.state.Lock()
	defer e.state.Unlock()
	e.gen++
	for _, id := range ids {
		e.touched[id] = e.gen
	}
}

// GetAll returns the cached records, newest first, and asks a started
// engine to reconcile in the background.
func (e *Engine) GetAll() ([]models.Record, error) {
	e.mu.Lock()
	records, err := e.cache.Read()
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", e.table, err)
	}
	e.requestReconcile()
	return records, nil
}

// Get returns one cached record.
func (e *Engine) Get(id models.RecordID) (models.Record, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache.Get(id)
}

// Save adds a record under a fresh local id, queues its create and returns
// it. The record is in the cache when Save returns.
func (e *Engine) Save(fields models.Fields) (models.Record, error) {
	fields = schema.Normalize(fields.Clone().Strip())
	if e.validator != nil {
		if err := e.validator.Validate(e.table, fields); err != nil {
			return models.Record{}, err
		}
	}

	now := e.now()
	rec := models.Record{ID: models.NewLocalID(now), Fields: fields, Status: models.StatusPending}
	req := models.PendingRequest{
		ID:         models.NewRequestID(models.KindCreate),
		Kind:       models.KindCreate,
		LocalID:    rec.ID,
		Payload:    fields.Clone(),
		EnqueuedAt: now.UTC(),
	}
	err := e.critical(func() error {
		if err := e.cache.Upsert(rec); err != nil {
			return err
		}
		return e.queue.Enqueue(req)
	})
	if err != nil {
		return models.Record{}, fmt.Errorf("save %s: %w", e.table, err)
	}
	e.touch(rec.ID)
	e.log.Debug("record saved", "id", rec.ID)
	e.kick()
	return rec.Clone(), nil
}

// Update merges patch into the record with id. A record still waiting for
// its create gets the patch folded into that create; a server record is
// marked updating and a full-record update is queued. Update reports false
// when id is not cached.
func (e *Engine) Update(id models.RecordID, patch models.Fields) (bool, error) {
	patch = schema.Normalize(patch.Clone().Strip())
	if e.validator != nil {
		if err := e.validator.ValidatePatch(e.table, patch); err != nil {
			return false, err
		}
	}

	now := e.now()
	found := false
	err := e.critical(func() error {
		rec, ok, err := e.cache.Get(id)
		if err != nil || !ok {
			return err
		}
		found = true
		rec.Fields = rec.Fields.Merge(patch)

		req := models.PendingRequest{Payload: rec.Fields.Clone(), EnqueuedAt: now.UTC()}
		if id.IsLocal() {
			req.Kind = models.KindAmendPendingCreate
			req.LocalID = id
			rec.Status = models.StatusPending
		} else {
			req.Kind = models.KindUpdate
			req.TargetID = id
			rec.Status = models.StatusUpdating
		}
		req.ID = models.NewRequestID(req.Kind)

		if err := e.cache.Upsert(rec); err != nil {
			return err
		}
		return e.queue.Enqueue(req)
	})
	if err != nil {
		return false, fmt.Errorf("update %s/%s: %w", e.table, id, err)
	}
	if !found {
		return false, nil
	}
	e.touch(id)
	e.kick()
	return true, nil
}

// Delete removes the record with id from the cache. A local record's queued
// create is cancelled; a server record gets a queued delete. Delete reports
// false when id is not cached.
func (e *Engine) Delete(id models.RecordID) (bool, error) {
	now := e.now()
	found := false
	err := e.critical(func() error {
		ok, err := e.cache.Remove(id)
		if err != nil || !ok {
			return err
		}
		found = true
		if id.IsLocal() {
			n, err := e.queue.RemoveByLocalID(id)
			if err == nil && n > 0 {
				e.log.Debug("cancelled queued create", "id", id, "requests", n)
			}
			return err
		}
		return e.queue.Enqueue(models.PendingRequest{
			ID:         models.NewRequestID(models.KindDelete),
			Kind:       models.KindDelete,
			TargetID:   id,
			EnqueuedAt: now.UTC(),
		})
	})
	if err != nil {
		return false, fmt.Errorf("delete %s/%s: %w", e.table, id, err)
	}
	if !found {
		return false, nil
	}
	e.touch(id)
	e.kick()
	return true, nil
}
