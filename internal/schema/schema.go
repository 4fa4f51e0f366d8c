// Package schema validates record fields against the per-table CUE
// definitions in tables.cue and normalizes their text.
package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"golang.org/x/text/unicode/norm"

	"github.com/labsafe/labsync/internal/models"
)

//go:embed tables.cue
var tablesSource string

// ErrUnknownTable is returned for a table with no definition.
var ErrUnknownTable = errors.New("unknown table")

// ValidationError reports fields that do not match their table definition.
type ValidationError struct {
	Table  string
	Issues []string
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 1 {
		return fmt.Sprintf("invalid %s record: %s", e.Table, e.Issues[0])
	}
	return fmt.Sprintf("invalid %s record: %d issues (first: %s)", e.Table, len(e.Issues), e.Issues[0])
}

// Registry holds the compiled table definitions.
type Registry struct {
	ctx    *cue.Context
	order  []string
	tables map[string]cue.Value
}

// Load compiles the embedded table definitions.
func Load() (*Registry, error) {
	return compile(tablesSource)
}

func compile(src string) (*Registry, error) {
	ctx := cuecontext.New()
	value := ctx.CompileString(src, cue.Filename("tables.cue"))
	if err := value.Err(); err != nil {
		return nil, fmt.Errorf("compile table definitions: %w", err)
	}

	tablesVal := value.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, errors.New("table definitions: missing tables")
	}
	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, fmt.Errorf("table definitions: %w", err)
	}

	r := &Registry{ctx: ctx, tables: make(map[string]cue.Value)}
	for iter.Next() {
		name := iter.Label()
		r.order = append(r.order, name)
		r.tables[name] = iter.Value()
	}
	return r, nil
}

// Tables returns the defined table names in declaration order.
func (r *Registry) Tables() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Has reports whether table is defined.
func (r *Registry) Has(table string) bool {
	_, ok := r.tables[table]
	return ok
}

// Validate checks a complete record: every required field present and every
// field of the right type.
func (r *Registry) Validate(table string, fields models.Fields) error {
	return r.validate(table, fields, true)
}

// ValidatePatch checks the fields of a partial update. Required fields may be
// missing, but present fields must be known and well typed.
func (r *Registry) ValidatePatch(table string, fields models.Fields) error {
	return r.validate(table, fields, false)
}

func (r *Registry) validate(table string, fields models.Fields, complete bool) error {
	def, ok := r.tables[table]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	if fields == nil {
		fields = models.Fields{}
	}

	data := r.ctx.Encode(map[string]any(fields))
	if err := data.Err(); err != nil {
		return &ValidationError{Table: table, Issues: []string{err.Error()}}
	}

	unified := def.Unify(data)
	opts := []cue.Option{}
	if complete {
		opts = append(opts, cue.Concrete(true))
	}
	if err := unified.Validate(opts...); err != nil {
		return &ValidationError{Table: table, Issues: issues(err)}
	}
	return nil
}

func issues(err error) []string {
	var out []string
	for _, e := range cueerrors.Errors(err) {
		out = append(out, e.Error())
	}
	if len(out) == 0 {
		out = append(out, err.Error())
	}
	sort.Strings(out)
	return out
}

// Normalize returns a copy of fields with every string (including strings
// nested in lists and objects) in Unicode NFC form, so composed and
// decomposed input compare equal after a round trip.
func Normalize(fields models.Fields) models.Fields {
	if fields == nil {
		return nil
	}
	out := make(models.Fields, len(fields))
	for k, v := range fields {
		out[norm.NFC.String(k)] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return norm.NFC.String(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		return map[string]any(Normalize(models.Fields(val)))
	case models.Fields:
		return Normalize(val)
	default:
		return v
	}
}
