// Package remote is the HTTP client for the PostgREST-style record store:
// list, create, patch and delete rows of a table, each row carrying its
// fields under "data".
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labsafe/labsync/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
)

// RestPrefix is the path under which tables are served.
const RestPrefix = "/rest/v1/"

// Client talks to the remote store. Every request carries the static API
// key as both the apikey header and a bearer token.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New creates a new remote client.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Row is one row of a remote table.
type Row struct {
	ID     models.RecordID
	Fields models.Fields
}

// Record returns the row as a synced cache record.
func (r Row) Record() models.Record {
	return models.Record{ID: r.ID, Fields: r.Fields.Clone(), Status: models.StatusSynced}
}

// UnmarshalJSON accepts {"id":…, "data":{…}} and, for tables without a data
// column, a flat {"id":…, <fields>} row.
func (r *Row) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	idRaw, ok := raw["id"]
	if !ok {
		return fmt.Errorf("row: missing id")
	}
	var id models.RecordID
	if err := json.Unmarshal(idRaw, &id); err != nil {
		return fmt.Errorf("row id: %w", err)
	}

	if data, ok := raw["data"]; ok {
		var fields models.Fields
		if json.Unmarshal(data, &fields) == nil && fields != nil {
			*r = Row{ID: id, Fields: fields.Strip()}
			return nil
		}
	}

	var fields models.Fields
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	*r = Row{ID: id, Fields: fields.Strip()}
	return nil
}

// body is the write payload.
type body struct {
	Data models.Fields `json:"data"`
}

// StatusError is a non-2xx response that maps to no sentinel.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout
}

// apiError is the error body the store returns.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`
}

// List returns up to limit rows of table, newest (highest id) first. more
// reports that the table holds rows beyond the listing, either because the
// limit was reached or because the server capped the page below it.
func (c *Client) List(ctx context.Context, table string, limit int) (rows []Row, more bool, err error) {
	q := url.Values{}
	q.Set("select", "*")
	q.Set("order", "id.desc")
	q.Set("limit", strconv.Itoa(limit))

	hdr, err := c.do(ctx, http.MethodGet, table, q, nil, &rows)
	if err != nil {
		return nil, false, fmt.Errorf("list %s: %w", table, err)
	}
	return rows, hasMore(hdr.Get("Content-Range"), len(rows), limit), nil
}

// hasMore reads a Content-Range such as "0-24/3573", "*/0" or "0-24/*".
// With a known total the answer is exact. Without one, a server is trusted
// to have honoured the limit, so only a full page means more rows.
func hasMore(contentRange string, n, limit int) bool {
	if _, total, ok := strings.Cut(contentRange, "/"); ok {
		if t, err := strconv.Atoi(total); err == nil {
			return t > n
		}
	}
	return n >= limit
}

// Create inserts a row and returns it with its server-assigned id.
func (c *Client) Create(ctx context.Context, table string, fields models.Fields) (Row, error) {
	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodPost, table, nil, body{Data: fields}, &raw); err != nil {
		return Row{}, fmt.Errorf("create %s: %w", table, err)
	}
	row, err := decodeOne(raw)
	if err != nil {
		return Row{}, fmt.Errorf("create %s: %w", table, err)
	}
	return row, nil
}

// Patch replaces the fields of row id.
func (c *Client) Patch(ctx context.Context, table string, id models.RecordID, fields models.Fields) error {
	if _, err := c.do(ctx, http.MethodPatch, table, idFilter(id), body{Data: fields}, nil); err != nil {
		return fmt.Errorf("patch %s/%s: %w", table, id, err)
	}
	return nil
}

// Remove deletes row id.
func (c *Client) Remove(ctx context.Context, table string, id models.RecordID) error {
	if _, err := c.do(ctx, http.MethodDelete, table, idFilter(id), nil, nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	return nil
}

func idFilter(id models.RecordID) url.Values {
	q := url.Values{}
	q.Set("id", "eq."+id.String())
	return q
}

// decodeOne reads the created row from either a representation array or a
// single object.
func decodeOne(raw json.RawMessage) (Row, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Row{}, errors.New("empty response")
	}
	if raw[0] == '[' {
		var rows []Row
		if err := json.Unmarshal(raw, &rows); err != nil {
			return Row{}, fmt.Errorf("decode response: %w", err)
		}
		if len(rows) == 0 {
			return Row{}, errors.New("no row returned")
		}
		return rows[0], nil
	}
	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return Row{}, fmt.Errorf("decode response: %w", err)
	}
	return row, nil
}

func (c *Client) do(ctx context.Context, method, table string, query url.Values, in, out any) (http.Header, error) {
	var bodyReader io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	u := c.BaseURL + RestPrefix + url.PathEscape(table)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method == http.MethodGet {
		req.Header.Set("Prefer", "count=exact")
	} else {
		req.Header.Set("Prefer", "return=representation")
	}
	if c.APIKey != "" {
		req.Header.Set("apikey", c.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return nil, fmt.Errorf("%w: %s", ErrUnauthorized, msg)
		case http.StatusForbidden:
			return nil, fmt.Errorf("%w: %s", ErrForbidden, msg)
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrNotFound, msg)
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Code: apiErr.Code, Message: msg}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.Header, nil
}
