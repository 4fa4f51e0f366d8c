package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/labsafe/labsync/internal/models"
)

const maxBodyBytes = 5 << 20

// writeBody is the accepted POST/PATCH body: {"data": {...}}.
type writeBody struct {
	Data json.RawMessage `json:"data"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q, err := s.parseListQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	rows, err := s.store.List(r.Context(), q)
	if err != nil {
		slog.Error("list rows", "table", q.Table, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "list failed")
		return
	}
	total := "*"
	if strings.Contains(r.Header.Get("Prefer"), "count=exact") {
		n, err := s.store.Count(r.Context(), q)
		if err != nil {
			slog.Error("count rows", "table", q.Table, "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "count failed")
			return
		}
		total = strconv.Itoa(n)
	}
	w.Header().Set("Content-Range", contentRange(len(rows), total))
	writeJSON(w, http.StatusOK, rows)
}

// contentRange formats the PostgREST range header of a listing from offset 0.
func contentRange(n int, total string) string {
	if n == 0 {
		return "*/" + total
	}
	return fmt.Sprintf("0-%d/%s", n-1, total)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	data, ok := s.readData(w, r, table)
	if !ok {
		return
	}
	row, err := s.store.Insert(r.Context(), table, data)
	if err != nil {
		slog.Error("insert row", "table", table, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "insert failed")
		return
	}
	if wantsRepresentation(r) {
		writeJSON(w, http.StatusCreated, []Row{row})
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	id, err := idFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	data, ok := s.readData(w, r, table)
	if !ok {
		return
	}
	rows, err := s.store.Update(r.Context(), table, id, data)
	if err != nil {
		slog.Error("update row", "table", table, "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "update failed")
		return
	}
	s.writeResult(w, r, rows)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "table")
	id, err := idFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	rows, err := s.store.Delete(r.Context(), table, id)
	if err != nil {
		slog.Error("delete row", "table", table, "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "delete failed")
		return
	}
	s.writeResult(w, r, rows)
}

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, rows []Row) {
	if wantsRepresentation(r) {
		writeJSON(w, http.StatusOK, rows)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// readData reads and checks the {"data": {...}} body. It writes the error
// response itself and reports false on failure.
func (s *Server) readData(w http.ResponseWriter, r *http.Request, table string) (json.RawMessage, bool) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeInvalidBody, "body too large")
		return nil, false
	}
	var body writeBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidBody, "invalid JSON body")
		return nil, false
	}
	var fields models.Fields
	if err := json.Unmarshal(body.Data, &fields); err != nil || fields == nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidBody, `body must be {"data": {...}}`)
		return nil, false
	}
	if s.config.Validate && s.validator != nil {
		if err := s.validator.Validate(table, fields); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidData, err.Error())
			return nil, false
		}
	}
	return body.Data, true
}

func wantsRepresentation(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Prefer"), "return=representation")
}

// parseListQuery reads select, order, limit and an optional id=eq filter.
func (s *Server) parseListQuery(r *http.Request) (ListQuery, error) {
	v := r.URL.Query()
	q := ListQuery{Table: chi.URLParam(r, "table"), Limit: s.config.MaxListLimit}

	if sel := v.Get("select"); sel != "" && sel != "*" {
		return q, fmt.Errorf("unsupported select %q", sel)
	}
	switch order := v.Get("order"); order {
	case "", "id", "id.asc":
	case "id.desc":
		q.Desc = true
	default:
		return q, fmt.Errorf("unsupported order %q", order)
	}
	if l := v.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", l)
		}
		if n > 0 && n < q.Limit {
			q.Limit = n
		}
	}
	if v.Has("id") {
		id, err := idFilter(r)
		if err != nil {
			return q, err
		}
		q.ID = id
	}
	return q, nil
}

// idFilter parses the required id=eq.<n> filter.
func idFilter(r *http.Request) (int64, error) {
	f := r.URL.Query().Get("id")
	if f == "" {
		return 0, fmt.Errorf("missing id filter")
	}
	val, ok := strings.CutPrefix(f, "eq.")
	if !ok {
		return 0, fmt.Errorf("unsupported id filter %q", f)
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", val)
	}
	return id, nil
}
