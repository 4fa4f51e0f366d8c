package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"github.com/labsafe/labsync/internal/models"
	"github.com/labsafe/labsync/internal/remote"
)

// Drain sends queued requests to the remote until none is eligible: every
// request is either confirmed, dropped, waiting for its retry backoff, or
// owned by another drain. Requests for the same record run in enqueue order;
// different records run concurrently. Remote failures are reported through
// error events, never returned.
//
// Requests skipped because another drain owns their record are left to that
// drain, which claims again after releasing and so picks them up.
func (e *Engine) Drain(ctx context.Context) error {
	if e.store.IsPaused() {
		e.log.Debug("sync paused, drain skipped")
		return nil
	}
	attempts := make(map[string]int)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		groups, skipped, err := e.claim(attempts)
		if err != nil {
			return fmt.Errorf("drain %s: %w", e.table, err)
		}
		if len(groups) == 0 {
			if skipped {
				e.log.Debug("queued requests owned by another drain")
			}
			return nil
		}

		var wg gosync.WaitGroup
		for _, group := range groups {
			wg.Add(1)
			go func(group []models.PendingRequest) {
				defer wg.Done()
				for _, req := range group {
					if !e.process(ctx, req.ID) {
						break
					}
				}
			}(group)
		}
		wg.Wait()
		e.release(groups)
	}
}

// claim takes every eligible queued request, grouped by record key in
// enqueue order, and marks them in flight. attempts counts the passes each
// request got during the current drain; a request is offered at most
// MaxAttempts times per drain.
func (e *Engine) claim(attempts map[string]int) ([][]models.PendingRequest, bool, error) {
	e.mu.Lock()
	reqs, err := e.queue.PeekAll()
	e.mu.Unlock()
	if err != nil {
		return nil, false, err
	}

	now := e.now()
	e.state.Lock()
	defer e.state.Unlock()

	var (
		order   []models.RecordID
		byKey   = make(map[models.RecordID][]models.PendingRequest)
		skipped bool
		blocked = make(map[models.RecordID]bool)
	)
	for _, r := range reqs {
		key := r.RecordKey()
		if blocked[key] {
			continue
		}
		if e.inFlight[r.ID] || e.claimed[key] {
			skipped = true
			blocked[key] = true
			continue
		}
		if at, ok := e.retryAt[r.ID]; ok && now.Before(at) {
			// later requests for the record wait behind it
			blocked[key] = true
			continue
		}
		if attempts[r.ID] >= e.retry.MaxAttempts {
			blocked[key] = true
			continue
		}
		if byKey[key] == nil {
			order = append(order, key)
		}
		byKey[key] = append(byKey[key], r)
	}

	groups := make([][]models.PendingRequest, 0, len(order))
	for _, key := range order {
		e.claimed[key] = true
		for _, r := range byKey[key] {
			e.inFlight[r.ID] = true
			attempts[r.ID]++
		}
		groups = append(groups, byKey[key])
	}
	return groups, skipped, nil
}

func (e *Engine) release(groups [][]models.PendingRequest) {
	e.state.Lock()
	defer e.state.Unlock()
	for _, group := range groups {
		for _, r := range group {
			delete(e.inFlight, r.ID)
		}
		if len(group) > 0 {
			delete(e.claimed, group[0].RecordKey())
		}
	}
}

// process sends one request. It returns false when the request is still
// queued after a failure, which holds back later requests for the record.
func (e *Engine) process(ctx context.Context, id string) bool {
	// re-read: the request may have been cancelled or amended since claim
	var (
		req    models.PendingRequest
		queued bool
	)
	err := e.critical(func() error {
		var err error
		req, queued, err = e.queue.Get(id)
		if err != nil || !queued {
			return err
		}
		if req.Kind == models.KindCreate {
			req, queued, err = e.queue.FoldAmendments(id)
		}
		return err
	})
	if err != nil {
		e.log.Error("read queued request", "request", id, "err", err)
		return false
	}
	if !queued {
		return true
	}

	switch req.Kind {
	case models.KindCreate:
		return e.sendCreate(ctx, req)
	case models.KindUpdate:
		return e.sendUpdate(ctx, req)
	case models.KindDelete:
		return e.sendDelete(ctx, req)
	case models.KindAmendPendingCreate:
		return e.applyAmendment(req)
	default:
		e.drop(req, fmt.Errorf("unknown request kind %q", req.Kind))
		return true
	}
}

func (e *Engine) sendCreate(ctx context.Context, req models.PendingRequest) bool {
	row, err := e.remote.Create(ctx, e.table, req.Payload)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		// a blind resend could duplicate the row, so creates are not retried
		e.dropCreate(req, err)
		return true
	}

	var (
		rec       models.Record
		cancelled bool
		amended   int
	)
	err = e.critical(func() error {
		stillQueued, err := e.queue.Remove(req.ID)
		if err != nil {
			return err
		}
		if !stillQueued {
			// deleted locally while the POST was in flight
			cancelled = true
			return e.queue.Enqueue(models.PendingRequest{
				ID:         models.NewRequestID(models.KindDelete),
				Kind:       models.KindDelete,
				TargetID:   row.ID,
				EnqueuedAt: e.now().UTC(),
			})
		}

		amended, err = e.queue.RetargetAmendments(req.LocalID, row.ID)
		if err != nil {
			return err
		}
		rec = row.Record()
		if amended > 0 {
			if local, ok, err := e.cache.Get(req.LocalID); err == nil && ok {
				rec.Fields = local.Fields.Clone()
			}
			rec.Status = models.StatusUpdating
		}
		return e.cache.ReplaceID(req.LocalID, rec)
	})
	if err != nil {
		e.log.Error("apply create result", "local_id", req.LocalID, "id", row.ID, "err", err)
		return false
	}
	e.touch(req.LocalID, row.ID)

	if cancelled {
		e.log.Info("created record was deleted locally, queued remote delete", "local_id", req.LocalID, "id", row.ID)
		e.kick()
		return true
	}
	e.log.Debug("create confirmed", "local_id", req.LocalID, "id", row.ID, "amendments", amended)
	e.bus.emit(EventSync, SyncEvent{Table: e.table, Kind: SyncCreate, Record: &rec, Request: &req})
	return true
}

func (e *Engine) sendUpdate(ctx context.Context, req models.PendingRequest) bool {
	if err := e.remote.Patch(ctx, e.table, req.TargetID, req.Payload); err != nil {
		return e.fail(ctx, req, err)
	}

	var rec *models.Record
	err := e.critical(func() error {
		if _, err := e.queue.Remove(req.ID); err != nil {
			return err
		}
		if busy, err := e.hasWork(req.TargetID); err != nil || busy {
			return err
		}
		if _, err := e.cache.SetStatus(req.TargetID, models.StatusSynced); err != nil {
			return err
		}
		if r, ok, err := e.cache.Get(req.TargetID); err == nil && ok {
			rec = &r
		}
		return nil
	})
	if err != nil {
		e.log.Error("apply update result", "id", req.TargetID, "err", err)
		return false
	}
	e.clearRetry(req.ID)
	e.touch(req.TargetID)
	e.bus.emit(EventSync, SyncEvent{Table: e.table, Kind: SyncUpdate, Record: rec, Request: &req})
	return true
}

func (e *Engine) sendDelete(ctx context.Context, req models.PendingRequest) bool {
	if err := e.remote.Remove(ctx, e.table, req.TargetID); err != nil {
		return e.fail(ctx, req, err)
	}
	err := e.critical(func() error {
		_, err := e.queue.Remove(req.ID)
		return err
	})
	if err != nil {
		e.log.Error("apply delete result", "id", req.TargetID, "err", err)
		return false
	}
	e.clearRetry(req.ID)
	e.touch(req.TargetID)
	e.bus.emit(EventSync, SyncEvent{Table: e.table, Kind: SyncDelete, Request: &req})
	return true
}

// applyAmendment merges an amendment into its create when the two were not
// folded before sending; an amendment whose create is gone is discarded.
func (e *Engine) applyAmendment(req models.PendingRequest) bool {
	err := e.critical(func() error {
		merged, err := e.queue.AmendCreate(req.LocalID, req.Payload)
		if err != nil {
			return err
		}
		if !merged {
			e.log.Warn("amendment has no queued create, discarded", "local_id", req.LocalID, "request", req.ID)
		}
		_, err = e.queue.Remove(req.ID)
		return err
	})
	if err != nil {
		e.log.Error("apply amendment", "local_id", req.LocalID, "err", err)
		return false
	}
	return true
}

// fail handles a failed update or delete: the attempt is counted and the
// request retried after a backoff, or dropped once the attempts run out.
func (e *Engine) fail(ctx context.Context, req models.PendingRequest, cause error) bool {
	if ctx.Err() != nil && errors.Is(cause, ctx.Err()) {
		return false
	}
	attempts := req.RetryCount + 1
	if !req.Kind.Retryable() || attempts >= e.retry.MaxAttempts {
		req.RetryCount = attempts
		e.drop(req, cause)
		return true
	}

	var queued bool
	err := e.critical(func() error {
		var err error
		queued, err = e.queue.SetRetryCount(req.ID, attempts)
		return err
	})
	if err != nil {
		e.log.Error("persist retry count", "request", req.ID, "err", err)
		return false
	}
	if !queued {
		return true
	}
	delay := e.retry.backoff(attempts)
	e.state.Lock()
	e.retryAt[req.ID] = e.now().Add(delay)
	e.state.Unlock()
	e.log.Warn("request failed, will retry", "request", req.ID, "kind", req.Kind, "attempt", attempts, "backoff", delay, "transient", transient(cause), "err", cause)
	e.kickAfter(delay)
	return false
}

// drop removes a request after a permanent failure and reports it. The
// cached record keeps its status.
func (e *Engine) drop(req models.PendingRequest, cause error) {
	var removed bool
	err := e.critical(func() error {
		var err error
		removed, err = e.queue.Remove(req.ID)
		return err
	})
	if err != nil {
		e.log.Error("drop failed request", "request", req.ID, "err", err)
		return
	}
	e.clearRetry(req.ID)
	if !removed {
		return
	}
	e.log.Error("request dropped", "request", req.ID, "kind", req.Kind, "attempts", req.RetryCount, "transient", transient(cause), "err", cause)
	e.bus.emit(EventError, ErrorEvent{Table: e.table, Request: req, Err: cause})
}

// dropCreate drops a failed create together with amendments queued for it
// while it was in flight. The record stays cached as an orphan.
func (e *Engine) dropCreate(req models.PendingRequest, cause error) {
	var removed int
	err := e.critical(func() error {
		var err error
		removed, err = e.queue.RemoveByLocalID(req.LocalID)
		return err
	})
	if err != nil {
		e.log.Error("drop failed create", "request", req.ID, "err", err)
		return
	}
	if removed == 0 {
		return
	}
	e.log.Error("create failed, request dropped", "request", req.ID, "local_id", req.LocalID, "transient", transient(cause), "err", cause)
	e.bus.emit(EventError, ErrorEvent{Table: e.table, Request: req, Err: cause})
}

// transient reports whether cause may clear up on its own: transport
// failures and HTTP statuses the remote marks as temporary. Other statuses
// (bad payload, missing row, auth) will fail again on every attempt.
func transient(cause error) bool {
	var se *remote.StatusError
	if errors.As(cause, &se) {
		return se.Temporary()
	}
	return !errors.Is(cause, remote.ErrUnauthorized) &&
		!errors.Is(cause, remote.ErrForbidden) &&
		!errors.Is(cause, remote.ErrNotFound)
}

func (e *Engine) clearRetry(id string) {
	e.state.Lock()
	delete(e.retryAt, id)
	e.state.Unlock()
}

// hasWork reports whether a queued request still refers to id. Callers hold
// the critical section.
func (e *Engine) hasWork(id models.RecordID) (bool, error) {
	reqs, err := e.queue.PeekAll()
	if err != nil {
		return false, err
	}
	for _, r := range reqs {
		if r.RecordKey() == id {
			return true, nil
		}
	}
	return false, nil
}
