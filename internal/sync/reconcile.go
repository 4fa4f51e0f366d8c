package sync

import (
	"context"
	"fmt"

	"github.com/labsafe/labsync/internal/models"
	"github.com/labsafe/labsync/internal/remote"
)

// Reconcile merges a fresh remote listing into the cache. Records with
// outstanding local work (pending, updating, local ids, queued requests)
// keep their local state; synced records take the server's version or are
// dropped when the server no longer lists them; unseen server rows are
// added as synced.
func (e *Engine) Reconcile(ctx context.Context) error {
	if e.store.IsPaused() {
		e.log.Debug("sync paused, reconcile skipped")
		return nil
	}

	startGen := e.beginListing()
	defer e.endListing()

	rows, more, err := e.remote.List(ctx, e.table, e.limit)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", e.table, err)
	}

	var added, dropped, kept int
	err = e.critical(func() error {
		cached, err := e.cache.Read()
		if err != nil {
			return err
		}
		reqs, err := e.queue.PeekAll()
		if err != nil {
			return err
		}
		merged, stats := e.merge(cached, reqs, rows, more, startGen)
		added, dropped, kept = stats.added, stats.dropped, stats.kept
		return e.cache.Replace(merged)
	})
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", e.table, err)
	}

	if err := e.store.MarkReconciled(e.table, e.now()); err != nil {
		e.log.Warn("record reconcile time", "err", err)
	}
	e.log.Debug("reconciled", "rows", len(rows), "added", added, "dropped", dropped, "kept_local", kept)
	e.bus.emit(EventSync, SyncEvent{Table: e.table, Kind: SyncFullSync})
	return nil
}

type mergeStats struct {
	added, dropped, kept int
}

// merge computes the reconciled cache. Callers hold the critical section.
func (e *Engine) merge(cached []models.Record, reqs []models.PendingRequest, rows []remote.Row, more bool, startGen uint64) ([]models.Record, mergeStats) {
	var stats mergeStats

	busy := make(map[models.RecordID]bool, len(reqs))
	for _, r := range reqs {
		busy[r.RecordKey()] = true
	}
	server := make(map[models.RecordID]remote.Row, len(rows))
	for _, row := range rows {
		server[row.ID] = row
	}
	// A listing with more rows behind it, whether it filled the limit or the
	// server capped it, does not reach the oldest rows; synced records older
	// than the window are kept rather than treated as deleted.
	var oldest models.RecordID
	if len(rows) > 0 && more {
		oldest = rows[len(rows)-1].ID
	}

	out := make([]models.Record, 0, len(cached)+len(rows))
	seen := make(map[models.RecordID]bool, len(cached))
	for _, rec := range cached {
		seen[rec.ID] = true
		switch {
		case rec.ID.IsLocal() || rec.Status != models.StatusSynced || busy[rec.ID]:
			out = append(out, rec)
			stats.kept++
		case e.touchedSince(rec.ID, startGen):
			out = append(out, rec)
		default:
			if row, ok := server[rec.ID]; ok {
				out = append(out, row.Record())
			} else if oldest != "" && models.NewerThan(oldest, rec.ID) {
				out = append(out, rec)
			} else {
				stats.dropped++
			}
		}
	}
	for _, row := range rows {
		if seen[row.ID] || busy[row.ID] || e.touchedSince(row.ID, startGen) {
			// queued deletes and writes made after the listing began win
			continue
		}
		out = append(out, row.Record())
		stats.added++
	}
	models.SortNewestFirst(out)
	return out, stats
}

func (e *Engine) beginListing() uint64 {
	e.state.Lock()
	defer e.state.Unlock()
	e.listings++
	return e.gen
}

// endListing forgets write generations once no listing can still need them.
func (e *Engine) endListing() {
	e.state.Lock()
	defer e.state.Unlock()
	e.listings--
	if e.listings == 0 {
		clear(e.touched)
	}
}

func (e *Engine) touchedSince(id models.RecordID, gen uint64) bool {
	e.state.Lock()
	defer e.state.Unlock()
	return e.touched[id] > gen
}
