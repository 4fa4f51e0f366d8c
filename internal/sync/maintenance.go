package sync

import (
	"context"
	"fmt"

	"github.com/labsafe/labsync/internal/models"
	"github.com/labsafe/labsync/internal/schema"
)

// Orphans returns cached records that carry a local id but have no queued
// create: their create failed permanently, or the process stopped between
// the cache and queue writes. They are never expired automatically.
func (e *Engine) Orphans() ([]models.Record, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.orphans()
}

func (e *Engine) orphans() ([]models.Record, error) {
	records, err := e.cache.Read()
	if err != nil {
		return nil, err
	}
	reqs, err := e.queue.PeekAll()
	if err != nil {
		return nil, err
	}
	creates := make(map[models.RecordID]bool)
	for _, r := range reqs {
		if r.Kind == models.KindCreate {
			creates[r.LocalID] = true
		}
	}
	var out []models.Record
	for _, rec := range records {
		if rec.ID.IsLocal() && !creates[rec.ID] {
			out = append(out, rec)
		}
	}
	return out, nil
}

// RequeueOrphans queues a fresh create for every orphan and returns how many
// were queued.
func (e *Engine) RequeueOrphans() (int, error) {
	now := e.now()
	var requeued []models.RecordID
	err := e.critical(func() error {
		orphans, err := e.orphans()
		if err != nil {
			return err
		}
		for _, rec := range orphans {
			rec.Status = models.StatusPending
			if err := e.cache.Upsert(rec); err != nil {
				return err
			}
			if err := e.queue.Enqueue(models.PendingRequest{
				ID:         models.NewRequestID(models.KindCreate),
				Kind:       models.KindCreate,
				LocalID:    rec.ID,
				Payload:    rec.Fields.Clone(),
				EnqueuedAt: now.UTC(),
			}); err != nil {
				return err
			}
			requeued = append(requeued, rec.ID)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("requeue orphans %s: %w", e.table, err)
	}
	if len(requeued) > 0 {
		e.touch(requeued...)
		e.log.Info("orphans requeued", "count", len(requeued))
		e.kick()
	}
	return len(requeued), nil
}

// ReplaceFromRemote overwrites the cache with a remote listing of up to
// limit rows. It refuses while requests are queued unless force is set, in
// which case the queue is discarded too. The pause flag is not consulted.
func (e *Engine) ReplaceFromRemote(ctx context.Context, limit int, force bool) (int, error) {
	if limit <= 0 {
		limit = ReplaceListLimit
	}
	if !force {
		e.mu.Lock()
		n, err := e.queue.Len()
		e.mu.Unlock()
		if err != nil {
			return 0, err
		}
		if n > 0 {
			return 0, fmt.Errorf("%s: %w (%d)", e.table, ErrPendingWork, n)
		}
	}

	rows, more, err := e.remote.List(ctx, e.table, limit)
	if err != nil {
		return 0, fmt.Errorf("replace %s: %w", e.table, err)
	}
	if more {
		e.log.Warn("remote holds more rows than the replacement listing", "rows", len(rows))
	}
	records := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.Record())
	}

	err = e.critical(func() error {
		n, err := e.queue.Len()
		if err != nil {
			return err
		}
		if n > 0 {
			if !force {
				return fmt.Errorf("%w (%d)", ErrPendingWork, n)
			}
			if _, err := e.queue.Clear(); err != nil {
				return err
			}
		}
		return e.cache.Replace(records)
	})
	if err != nil {
		return 0, fmt.Errorf("replace %s: %w", e.table, err)
	}
	e.clearState()
	e.bus.emit(EventSync, SyncEvent{Table: e.table, Kind: SyncFullSync})
	return len(records), nil
}

// RestoreCache replaces the cache with records as given, leaving the queue
// alone. Callers pause sync first so a reconciliation cannot drop restored
// synced rows the server does not have.
func (e *Engine) RestoreCache(records []models.Record) error {
	for i := range records {
		if records[i].Status == "" {
			records[i].Status = models.StatusSynced
		}
	}
	err := e.critical(func() error {
		return e.cache.Replace(records)
	})
	if err != nil {
		return fmt.Errorf("restore %s: %w", e.table, err)
	}
	return nil
}

// Import adds every record under a fresh local id with a queued create, so
// the remote receives them as new rows. Fields are normalized but not
// validated: imported data may predate the current definitions.
func (e *Engine) Import(records []models.Record) (int, error) {
	now := e.now()
	var ids []models.RecordID
	err := e.critical(func() error {
		for _, src := range records {
			fields := schema.Normalize(src.Fields.Clone().Strip())
			rec := models.Record{ID: models.NewLocalID(now), Fields: fields, Status: models.StatusPending}
			if err := e.cache.Upsert(rec); err != nil {
				return err
			}
			if err := e.queue.Enqueue(models.PendingRequest{
				ID:         models.NewRequestID(models.KindCreate),
				Kind:       models.KindCreate,
				LocalID:    rec.ID,
				Payload:    fields.Clone(),
				EnqueuedAt: now.UTC(),
			}); err != nil {
				return err
			}
			ids = append(ids, rec.ID)
		}
		return nil
	})
	if err != nil {
		return len(ids), fmt.Errorf("import %s: %w", e.table, err)
	}
	e.touch(ids...)
	e.kick()
	return len(ids), nil
}

// PendingRequests returns the queued requests in enqueue order.
func (e *Engine) PendingRequests() ([]models.PendingRequest, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.PeekAll()
}

// Status summarises the table's cache and queue.
func (e *Engine) Status() (Status, error) {
	st := Status{
		Table:   e.table,
		Paused:  e.store.IsPaused(),
		Records: make(map[models.Status]int),
		Queued:  make(map[models.RequestKind]int),
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.cache.Read()
	if err != nil {
		return st, err
	}
	for _, r := range records {
		st.Records[r.Status]++
	}
	st.Total = len(records)

	reqs, err := e.queue.PeekAll()
	if err != nil {
		return st, err
	}
	for _, r := range reqs {
		st.Queued[r.Kind]++
	}
	st.QueueLen = len(reqs)

	orphans, err := e.orphans()
	if err != nil {
		return st, err
	}
	st.Orphans = len(orphans)
	return st, nil
}

// clearState drops retry timers after the queue was replaced.
func (e *Engine) clearState() {
	e.state.Lock()
	defer e.state.Unlock()
	clear(e.retryAt)
}
