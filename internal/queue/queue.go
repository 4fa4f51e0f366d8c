// Package queue is the durable, per-table list of mutations the remote
// store has not confirmed yet. Like the cache it rewrites the full list on
// every change, so callers must serialize access.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/labsafe/labsync/internal/db"
	"github.com/labsafe/labsync/internal/models"
)

// Store is the durable key/value storage the queue writes through.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
}

// Queue holds the pending requests of one table in enqueue order.
type Queue struct {
	store Store
	key   string
}

// New returns the queue of table backed by store.
func New(store Store, table string) *Queue {
	return &Queue{store: store, key: db.QueueKey(table)}
}

func (q *Queue) load() ([]models.PendingRequest, error) {
	data, err := q.store.Get(q.key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var reqs []models.PendingRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, fmt.Errorf("decode %s: %w", q.key, err)
	}
	return reqs, nil
}

func (q *Queue) save(reqs []models.PendingRequest) error {
	if reqs == nil {
		reqs = []models.PendingRequest{}
	}
	data, err := json.Marshal(reqs)
	if err != nil {
		return fmt.Errorf("encode %s: %w", q.key, err)
	}
	return q.store.Put(q.key, data)
}

// Enqueue appends req.
func (q *Queue) Enqueue(req models.PendingRequest) error {
	reqs, err := q.load()
	if err != nil {
		return err
	}
	return q.save(append(reqs, req))
}

// PeekAll returns every queued request in enqueue order without removing any.
func (q *Queue) PeekAll() ([]models.PendingRequest, error) {
	return q.load()
}

// Len returns the number of queued requests.
func (q *Queue) Len() (int, error) {
	reqs, err := q.load()
	return len(reqs), err
}

// Get returns the request with id.
func (q *Queue) Get(id string) (models.PendingRequest, bool, error) {
	reqs, err := q.load()
	if err != nil {
		return models.PendingRequest{}, false, err
	}
	if i := indexOf(reqs, id); i >= 0 {
		return reqs[i], true, nil
	}
	return models.PendingRequest{}, false, nil
}

// Remove drops the request with id and reports whether it was queued.
func (q *Queue) Remove(id string) (bool, error) {
	reqs, err := q.load()
	if err != nil {
		return false, err
	}
	i := indexOf(reqs, id)
	if i < 0 {
		return false, nil
	}
	return true, q.save(append(reqs[:i], reqs[i+1:]...))
}

// SetRetryCount persists the attempt counter of the request with id.
func (q *Queue) SetRetryCount(id string, n int) (bool, error) {
	reqs, err := q.load()
	if err != nil {
		return false, err
	}
	i := indexOf(reqs, id)
	if i < 0 {
		return false, nil
	}
	reqs[i].RetryCount = n
	return true, q.save(reqs)
}

// HasCreate reports whether a create for localID is still queued.
func (q *Queue) HasCreate(localID models.RecordID) (bool, error) {
	reqs, err := q.load()
	if err != nil {
		return false, err
	}
	return createIndex(reqs, localID) >= 0, nil
}

// AmendCreate merges fields into the payload of the queued create for
// localID. It reports false when no such create is queued.
func (q *Queue) AmendCreate(localID models.RecordID, fields models.Fields) (bool, error) {
	reqs, err := q.load()
	if err != nil {
		return false, err
	}
	i := createIndex(reqs, localID)
	if i < 0 {
		return false, nil
	}
	reqs[i].Payload = reqs[i].Payload.Merge(fields)
	return true, q.save(reqs)
}

// Amendments returns the queued amend_pending_create requests for localID in
// enqueue order.
func (q *Queue) Amendments(localID models.RecordID) ([]models.PendingRequest, error) {
	reqs, err := q.load()
	if err != nil {
		return nil, err
	}
	var out []models.PendingRequest
	for _, r := range reqs {
		if r.Kind == models.KindAmendPendingCreate && r.LocalID == localID {
			out = append(out, r)
		}
	}
	return out, nil
}

// FoldAmendments merges every queued amendment for the create request with
// id into its payload and removes the amendments. It returns the updated
// create and whether it is still queued.
func (q *Queue) FoldAmendments(id string) (models.PendingRequest, bool, error) {
	reqs, err := q.load()
	if err != nil {
		return models.PendingRequest{}, false, err
	}
	i := indexOf(reqs, id)
	if i < 0 || reqs[i].Kind != models.KindCreate {
		return models.PendingRequest{}, false, nil
	}
	create := reqs[i]
	folded := 0
	out := reqs[:0]
	for _, r := range reqs {
		if r.Kind == models.KindAmendPendingCreate && r.LocalID == create.LocalID {
			create.Payload = create.Payload.Merge(r.Payload)
			folded++
			continue
		}
		out = append(out, r)
	}
	if folded == 0 {
		return create, true, nil
	}
	for j := range out {
		if out[j].ID == create.ID {
			out[j] = create
		}
	}
	return create, true, q.save(out)
}

// RemoveByLocalID drops the create and every amendment for localID. It
// returns the number of requests removed.
func (q *Queue) RemoveByLocalID(localID models.RecordID) (int, error) {
	reqs, err := q.load()
	if err != nil {
		return 0, err
	}
	out := reqs[:0]
	removed := 0
	for _, r := range reqs {
		if (r.Kind == models.KindCreate || r.Kind == models.KindAmendPendingCreate) && r.LocalID == localID {
			removed++
			continue
		}
		out = append(out, r)
	}
	if removed == 0 {
		return 0, nil
	}
	return removed, q.save(out)
}

// RetargetAmendments turns the amendments still queued for localID into
// updates of serverID, keeping their position in the queue. It returns the
// number of rewritten requests.
func (q *Queue) RetargetAmendments(localID, serverID models.RecordID) (int, error) {
	reqs, err := q.load()
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range reqs {
		if reqs[i].Kind == models.KindAmendPendingCreate && reqs[i].LocalID == localID {
			reqs[i].Kind = models.KindUpdate
			reqs[i].TargetID = serverID
			reqs[i].LocalID = ""
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return n, q.save(reqs)
}

// Replace overwrites the whole queue.
func (q *Queue) Replace(reqs []models.PendingRequest) error {
	return q.save(reqs)
}

// Clear empties the queue and returns how many requests were dropped.
func (q *Queue) Clear() (int, error) {
	reqs, err := q.load()
	if err != nil {
		return 0, err
	}
	return len(reqs), q.save(nil)
}

func indexOf(reqs []models.PendingRequest, id string) int {
	for i := range reqs {
		if reqs[i].ID == id {
			return i
		}
	}
	return -1
}

func createIndex(reqs []models.PendingRequest, localID models.RecordID) int {
	for i := range reqs {
		if reqs[i].Kind == models.KindCreate && reqs[i].LocalID == localID {
			return i
		}
	}
	return -1
}
