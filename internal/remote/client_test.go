package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsafe/labsync/internal/models"
)

func TestList_QueryAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/oil", r.URL.Path)
		assert.Equal(t, "*", r.URL.Query().Get("select"))
		assert.Equal(t, "id.desc", r.URL.Query().Get("order"))
		assert.Equal(t, "200", r.URL.Query().Get("limit"))
		assert.Equal(t, "k3y", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer k3y", r.Header.Get("Authorization"))
		w.Write([]byte(`[
			{"id": 9, "created_at": "2026-01-01T00:00:00Z", "data": {"canteen": "North", "id": 1}},
			{"id": 8, "canteen": "South"}
		]`))
	}))
	defer srv.Close()

	rows, more, err := New(srv.URL+"/", "k3y").List(context.Background(), "oil", 200)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.False(t, more)

	assert.Equal(t, models.RecordID("9"), rows[0].ID)
	assert.Equal(t, models.Fields{"canteen": "North"}, rows[0].Fields)
	assert.Equal(t, models.RecordID("8"), rows[1].ID)
	assert.Equal(t, models.Fields{"canteen": "South"}, rows[1].Fields)

	rec := rows[0].Record()
	assert.Equal(t, models.StatusSynced, rec.Status)
}

func TestCreate_SendsDataEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))
		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"data":{"name":"A"}}`, string(raw))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`[{"id": 42, "data": {"name": "A"}}]`))
	}))
	defer srv.Close()

	row, err := New(srv.URL, "").Create(context.Background(), "oil", models.Fields{"name": "A"})
	require.NoError(t, err)
	assert.Equal(t, models.RecordID("42"), row.ID)
	assert.Equal(t, "A", row.Fields["name"])
}

func TestCreate_SingleObjectResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "abc", "data": {}}`))
	}))
	defer srv.Close()

	row, err := New(srv.URL, "").Create(context.Background(), "oil", models.Fields{})
	require.NoError(t, err)
	assert.Equal(t, models.RecordID("abc"), row.ID)
}

func TestCreate_EmptyRepresentation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Create(context.Background(), "oil", models.Fields{})
	require.Error(t, err)
}

func TestPatchAndRemove_IDFilter(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Query().Get("id"))
		if r.Method == http.MethodPatch {
			var b struct {
				Data map[string]any `json:"data"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&b))
			assert.Equal(t, "pass", b.Data["result"])
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	require.NoError(t, c.Patch(context.Background(), "oil", "7", models.Fields{"result": "pass"}))
	require.NoError(t, c.Remove(context.Background(), "oil", "7"))
	assert.Equal(t, []string{"PATCH eq.7", "DELETE eq.7"}, calls)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{http.StatusUnauthorized, `{"code":"401","message":"bad key"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrUnauthorized)
			assert.Contains(t, err.Error(), "bad key")
		}},
		{http.StatusForbidden, ``, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrForbidden)
		}},
		{http.StatusNotFound, `{"message":"no table"}`, func(t *testing.T, err error) {
			assert.ErrorIs(t, err, ErrNotFound)
		}},
		{http.StatusServiceUnavailable, `upstream down`, func(t *testing.T, err error) {
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
			assert.True(t, se.Temporary())
			assert.Contains(t, err.Error(), "upstream down")
		}},
		{http.StatusBadRequest, `{"code":"PGRST102","message":"bad body"}`, func(t *testing.T, err error) {
			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, "PGRST102", se.Code)
			assert.False(t, se.Temporary())
		}},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := New(srv.URL, "").Remove(context.Background(), "oil", "1")
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestListReportsMoreRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "count=exact", r.Header.Get("Prefer"))
		// capped at two rows although 200 were asked for
		w.Header().Set("Content-Range", "0-1/5")
		w.Write([]byte(`[{"id": 5, "data": {}}, {"id": 4, "data": {}}]`))
	}))
	defer srv.Close()

	rows, more, err := New(srv.URL, "").List(context.Background(), "oil", 200)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.True(t, more)
}

func TestHasMore(t *testing.T) {
	tests := []struct {
		contentRange string
		n, limit     int
		want         bool
	}{
		{"0-1/5", 2, 200, true},
		{"0-2/3", 3, 3, false},
		{"*/0", 0, 10, false},
		{"0-9/*", 10, 10, true},
		{"0-4/*", 5, 10, false},
		{"", 10, 10, true},
		{"", 3, 10, false},
	}
	for _, tc := range tests {
		got := hasMore(tc.contentRange, tc.n, tc.limit)
		assert.Equal(t, tc.want, got, "hasMore(%q, %d, %d)", tc.contentRange, tc.n, tc.limit)
	}
}

func TestContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := New(srv.URL, "").List(ctx, "oil", 10)
	require.ErrorIs(t, err, context.Canceled)
}
