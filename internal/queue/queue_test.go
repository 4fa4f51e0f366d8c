package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsafe/labsync/internal/models"
)

type memStore map[string][]byte

func (m memStore) Get(key string) ([]byte, error) { return m[key], nil }

func (m memStore) Put(key string, value []byte) error {
	m[key] = append([]byte(nil), value...)
	return nil
}

func newReq(kind models.RequestKind, key models.RecordID, payload models.Fields) models.PendingRequest {
	r := models.PendingRequest{
		ID:         models.NewRequestID(kind),
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	if kind == models.KindCreate || kind == models.KindAmendPendingCreate {
		r.LocalID = key
	} else {
		r.TargetID = key
	}
	return r
}

func kinds(reqs []models.PendingRequest) []models.RequestKind {
	out := make([]models.RequestKind, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, r.Kind)
	}
	return out
}

func TestEnqueuePreservesOrder(t *testing.T) {
	q := New(memStore{}, "oil")
	a := newReq(models.KindCreate, "temp_a", models.Fields{"x": 1})
	b := newReq(models.KindUpdate, "4", models.Fields{"x": 2})
	c := newReq(models.KindDelete, "3", nil)
	for _, r := range []models.PendingRequest{a, b, c} {
		require.NoError(t, q.Enqueue(r))
	}

	reqs, err := q.PeekAll()
	require.NoError(t, err)
	require.Len(t, reqs, 3)
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, []string{reqs[0].ID, reqs[1].ID, reqs[2].ID})

	n, _ := q.Len()
	assert.Equal(t, 3, n)
}

func TestRemoveAndRetryCount(t *testing.T) {
	q := New(memStore{}, "oil")
	r := newReq(models.KindUpdate, "4", models.Fields{"x": 2})
	require.NoError(t, q.Enqueue(r))

	ok, err := q.SetRetryCount(r.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	got, ok, err := q.Get(r.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, got.RetryCount)

	ok, err = q.Remove(r.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = q.Remove(r.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = q.SetRetryCount(r.ID, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAmendCreate(t *testing.T) {
	q := New(memStore{}, "oil")
	create := newReq(models.KindCreate, "temp_a", models.Fields{"name": "A", "n": 1})
	require.NoError(t, q.Enqueue(create))

	ok, err := q.AmendCreate("temp_a", models.Fields{"n": 2})
	require.NoError(t, err)
	assert.True(t, ok)

	got, _, _ := q.Get(create.ID)
	assert.Equal(t, "A", got.Payload["name"])
	assert.EqualValues(t, 2, got.Payload["n"])

	ok, err = q.AmendCreate("temp_missing", models.Fields{"n": 3})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFoldAmendments(t *testing.T) {
	q := New(memStore{}, "oil")
	create := newReq(models.KindCreate, "temp_a", models.Fields{"name": "A"})
	other := newReq(models.KindUpdate, "9", models.Fields{"x": 1})
	amend1 := newReq(models.KindAmendPendingCreate, "temp_a", models.Fields{"name": "B"})
	amend2 := newReq(models.KindAmendPendingCreate, "temp_a", models.Fields{"remark": "r"})
	for _, r := range []models.PendingRequest{create, other, amend1, amend2} {
		require.NoError(t, q.Enqueue(r))
	}

	folded, ok, err := q.FoldAmendments(create.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.Fields{"name": "B", "remark": "r"}, folded.Payload)

	reqs, _ := q.PeekAll()
	assert.Equal(t, []models.RequestKind{models.KindCreate, models.KindUpdate}, kinds(reqs))
	assert.Equal(t, "B", reqs[0].Payload["name"])

	amends, err := q.Amendments("temp_a")
	require.NoError(t, err)
	assert.Empty(t, amends)

	_, ok, err = q.FoldAmendments(other.ID)
	require.NoError(t, err)
	assert.False(t, ok, "only creates fold")
}

func TestRemoveByLocalID(t *testing.T) {
	q := New(memStore{}, "oil")
	require.NoError(t, q.Enqueue(newReq(models.KindCreate, "temp_a", nil)))
	require.NoError(t, q.Enqueue(newReq(models.KindCreate, "temp_b", nil)))
	require.NoError(t, q.Enqueue(newReq(models.KindAmendPendingCreate, "temp_a", nil)))

	n, err := q.RemoveByLocalID("temp_a")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	has, _ := q.HasCreate("temp_a")
	assert.False(t, has)
	has, _ = q.HasCreate("temp_b")
	assert.True(t, has)
}

func TestRetargetAmendments(t *testing.T) {
	q := New(memStore{}, "oil")
	amend := newReq(models.KindAmendPendingCreate, "temp_a", models.Fields{"n": 5})
	require.NoError(t, q.Enqueue(newReq(models.KindUpdate, "1", nil)))
	require.NoError(t, q.Enqueue(amend))

	n, err := q.RetargetAmendments("temp_a", "42")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok, _ := q.Get(amend.ID)
	require.True(t, ok)
	assert.Equal(t, models.KindUpdate, got.Kind)
	assert.Equal(t, models.RecordID("42"), got.TargetID)
	assert.Empty(t, got.LocalID)
	assert.Equal(t, models.RecordID("42"), got.RecordKey())
}

func TestClearAndReplace(t *testing.T) {
	store := memStore{}
	q := New(store, "oil")
	require.NoError(t, q.Enqueue(newReq(models.KindDelete, "1", nil)))
	require.NoError(t, q.Enqueue(newReq(models.KindDelete, "2", nil)))

	n, err := q.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.JSONEq(t, `[]`, string(store["pending_oil"]))

	require.NoError(t, q.Replace([]models.PendingRequest{newReq(models.KindDelete, "5", nil)}))
	n, _ = q.Len()
	assert.Equal(t, 1, n)
}
