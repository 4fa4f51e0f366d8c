package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LocalIDPrefix marks ids generated on this device before the server has
// assigned one.
const LocalIDPrefix = "temp_"

// RecordID identifies a record: either a server id or a local id.
type RecordID string

// NewLocalID generates a local id: temp_<zero-padded unix millis>_<8 hex>.
// The fixed-width timestamp keeps local ids ordered by creation time.
func NewLocalID(now time.Time) RecordID {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return RecordID(fmt.Sprintf("%s%013d_%s", LocalIDPrefix, now.UnixMilli(), suffix))
}

// NewRequestID returns a unique request id tagged with its kind.
func NewRequestID(kind RequestKind) string {
	return string(kind) + "-" + uuid.NewString()
}

// IsLocal reports whether id is a locally generated id.
func (id RecordID) IsLocal() bool {
	return strings.HasPrefix(string(id), LocalIDPrefix)
}

// String returns the id as a plain string
func (id RecordID) String() string {
	return string(id)
}

// numeric returns the id as an integer when it is a decimal server id.
func (id RecordID) numeric() (int64, bool) {
	if id.IsLocal() {
		return 0, false
	}
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// MarshalJSON writes numeric server ids as JSON numbers and everything else
// as strings, matching the remote's integer primary keys.
func (id RecordID) MarshalJSON() ([]byte, error) {
	if n, ok := id.numeric(); ok {
		return []byte(strconv.FormatInt(n, 10)), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts either a JSON number or a JSON string.
func (id *RecordID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = RecordID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	*id = RecordID(n.String())
	return nil
}

// NewerThan reports whether a sorts before b in newest-first order.
// Local ids are newer than every server id; among local ids the later
// timestamp wins; numeric server ids compare numerically and sort ahead of
// opaque (non-numeric) server ids, which compare lexicographically.
func NewerThan(a, b RecordID) bool {
	aLocal, bLocal := a.IsLocal(), b.IsLocal()
	switch {
	case aLocal && !bLocal:
		return true
	case !aLocal && bLocal:
		return false
	case aLocal && bLocal:
		return a > b
	}
	an, aNum := a.numeric()
	bn, bNum := b.numeric()
	switch {
	case aNum && bNum:
		return an > bn
	case aNum:
		return true
	case bNum:
		return false
	}
	return a > b
}

// SortNewestFirst orders records newest first (see NewerThan).
func SortNewestFirst(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return NewerThan(records[i].ID, records[j].ID)
	})
}
