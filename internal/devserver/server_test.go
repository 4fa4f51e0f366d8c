package devserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labsafe/labsync/internal/models"
)

func newTestServer(t *testing.T, cfg Config, v Validator) *httptest.Server {
	t.Helper()
	store, err := Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	if cfg.Tables == nil {
		cfg.Tables = []string{"oil", "pathogen"}
	}
	srv := httptest.NewServer(NewServer(cfg, store, v).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Prefer", "return=representation")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestCRUD(t *testing.T) {
	srv := newTestServer(t, Config{}, nil)
	base := srv.URL + "/rest/v1/oil"

	resp, body := do(t, http.MethodPost, base, `{"data":{"name":"A"}}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created []Row
	require.NoError(t, json.Unmarshal(body, &created))
	require.Len(t, created, 1)
	assert.Equal(t, int64(1), created[0].ID)
	assert.JSONEq(t, `{"name":"A"}`, string(created[0].Data))

	do(t, http.MethodPost, base, `{"data":{"name":"B"}}`, nil)

	resp, body = do(t, http.MethodGet, base+"?select=*&order=id.desc&limit=200", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []Row
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].ID)

	resp, body = do(t, http.MethodPatch, base+"?id=eq.1", `{"data":{"name":"A2"}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 1)
	assert.JSONEq(t, `{"name":"A2"}`, string(rows[0].Data))

	resp, body = do(t, http.MethodDelete, base+"?id=eq.2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &rows))
	assert.Len(t, rows, 1)

	resp, body = do(t, http.MethodGet, base+"?order=id.desc&limit=1", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].ID)
}

func TestListReportsContentRange(t *testing.T) {
	srv := newTestServer(t, Config{MaxListLimit: 2}, nil)
	base := srv.URL + "/rest/v1/oil"
	for i := 0; i < 3; i++ {
		do(t, http.MethodPost, base, `{"data":{"name":"A"}}`, nil)
	}

	resp, body := do(t, http.MethodGet, base+"?order=id.desc&limit=200", "", map[string]string{"Prefer": "count=exact"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []Row
	require.NoError(t, json.Unmarshal(body, &rows))
	assert.Len(t, rows, 2, "server caps the page")
	assert.Equal(t, "0-1/3", resp.Header.Get("Content-Range"))

	resp, _ = do(t, http.MethodGet, base+"?limit=1", "", nil)
	assert.Equal(t, "0-0/*", resp.Header.Get("Content-Range"))

	resp, _ = do(t, http.MethodGet, srv.URL+"/rest/v1/pathogen", "", map[string]string{"Prefer": "count=exact"})
	assert.Equal(t, "*/0", resp.Header.Get("Content-Range"))
}

func TestTablesAreSeparate(t *testing.T) {
	srv := newTestServer(t, Config{}, nil)
	do(t, http.MethodPost, srv.URL+"/rest/v1/oil", `{"data":{"v":1}}`, nil)

	_, body := do(t, http.MethodGet, srv.URL+"/rest/v1/pathogen", "", nil)
	assert.JSONEq(t, `[]`, string(body))
}

func TestUnknownTable(t *testing.T) {
	srv := newTestServer(t, Config{}, nil)
	resp, body := do(t, http.MethodGet, srv.URL+"/rest/v1/vehicles", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), ErrCodeNoTable)
}

func TestBadRequests(t *testing.T) {
	srv := newTestServer(t, Config{}, nil)
	base := srv.URL + "/rest/v1/oil"

	tests := []struct {
		name, method, url, body string
	}{
		{"no data envelope", http.MethodPost, base, `{"name":"A"}`},
		{"data not object", http.MethodPost, base, `{"data":[1,2]}`},
		{"invalid json", http.MethodPost, base, `{`},
		{"patch without filter", http.MethodPatch, base, `{"data":{}}`},
		{"delete bad filter", http.MethodDelete, base + "?id=gt.1", ""},
		{"bad order", http.MethodGet, base + "?order=name", ""},
		{"bad limit", http.MethodGet, base + "?limit=-1", ""},
		{"bad select", http.MethodGet, base + "?select=name", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, tt.method, tt.url, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestAPIKey(t *testing.T) {
	srv := newTestServer(t, Config{APIKey: "secret"}, nil)
	base := srv.URL + "/rest/v1/oil"

	resp, _ := do(t, http.MethodGet, base, "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, base, "", map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, base, "", map[string]string{"apikey": "secret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, base, "", map[string]string{"Authorization": "Bearer secret"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health check is public")
}

type rejectNamed struct{}

func (rejectNamed) Validate(table string, fields models.Fields) error {
	if _, ok := fields["bad"]; ok {
		return errors.New("field bad not allowed")
	}
	return nil
}

func TestValidation(t *testing.T) {
	srv := newTestServer(t, Config{Validate: true}, rejectNamed{})
	base := srv.URL + "/rest/v1/oil"

	resp, body := do(t, http.MethodPost, base, `{"data":{"bad":1}}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), ErrCodeInvalidData)

	resp, _ = do(t, http.MethodPost, base, `{"data":{"good":1}}`, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("DEVSERVER_LISTEN_ADDR", ":9999")
	t.Setenv("DEVSERVER_TABLES", " oil, pathogen ,,")
	t.Setenv("DEVSERVER_VALIDATE", "1")
	t.Setenv("DEVSERVER_SHUTDOWN_TIMEOUT", "3s")

	cfg := LoadConfig([]string{"default"})
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, []string{"oil", "pathogen"}, cfg.Tables)
	assert.True(t, cfg.Validate)
	assert.Equal(t, "3s", cfg.ShutdownTimeout.String())
	assert.Equal(t, "json", cfg.LogFormat)
}
