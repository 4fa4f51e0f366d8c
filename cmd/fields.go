package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/labsafe/labsync/internal/dateparse"
	"github.com/labsafe/labsync/internal/models"
)

// fieldsValue collects repeated --set key=value flags into record fields.
// Values that parse as JSON (numbers, booleans, arrays, objects, quoted
// strings) keep their type; anything else is taken as a plain string.
type fieldsValue struct {
	fields models.Fields
	order  []string
}

var _ pflag.Value = (*fieldsValue)(nil)

func newFieldsValue() *fieldsValue {
	return &fieldsValue{fields: models.Fields{}}
}

func (v *fieldsValue) String() string {
	parts := make([]string, 0, len(v.order))
	for _, k := range v.order {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v.fields[k]))
	}
	return strings.Join(parts, ",")
}

func (v *fieldsValue) Set(s string) error {
	key, raw, ok := strings.Cut(s, "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	if key == "id" || key == "_status" {
		return fmt.Errorf("%s is managed by labsync and cannot be set", key)
	}
	if _, seen := v.fields[key]; !seen {
		v.order = append(v.order, key)
	}
	v.fields[key] = parseFieldValue(raw)
	return nil
}

func (v *fieldsValue) Type() string { return "key=value" }

// Fields returns the collected fields.
func (v *fieldsValue) Fields() models.Fields { return v.fields }

func parseFieldValue(raw string) any {
	var val any
	if err := json.Unmarshal([]byte(raw), &val); err == nil {
		return val
	}
	return raw
}

// mergeJSONFields decodes a --json object and applies the --set fields on
// top of it. String values of date fields are normalized to YYYY-MM-DD, so
// "today" or "-2d" work for testDate.
func mergeJSONFields(jsonArg string, set models.Fields) (models.Fields, error) {
	out := models.Fields{}
	if jsonArg != "" {
		if err := json.Unmarshal([]byte(jsonArg), &out); err != nil {
			return nil, fmt.Errorf("--json: %w", err)
		}
	}
	out = out.Merge(set).Strip()
	for k, v := range out {
		s, ok := v.(string)
		if !ok || !dateparse.IsDateField(k) {
			continue
		}
		d, err := dateparse.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = d
	}
	return out, nil
}
