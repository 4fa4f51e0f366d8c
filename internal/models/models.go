package models

import (
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Status represents the synchronization state of a cached record
type Status string

const (
	StatusPending  Status = "pending"  // created locally, not yet acknowledged
	StatusUpdating Status = "updating" // edited locally, edit not yet acknowledged
	StatusSynced   Status = "synced"   // matches last known server state
)

// IsValidStatus checks if a status is valid
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusUpdating, StatusSynced:
		return true
	}
	return false
}

// Fields is the user-visible content of a record, keyed by field name.
type Fields map[string]any

// Clone returns a shallow copy of f. A nil Fields clones to an empty map.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	maps.Copy(out, f)
	return out
}

// Merge returns a copy of f with every key of patch applied on top.
func (f Fields) Merge(patch Fields) Fields {
	out := f.Clone()
	maps.Copy(out, patch)
	return out
}

// reserved keys never stored inside Fields
const (
	keyID     = "id"
	keyStatus = "_status"
)

// Strip removes reserved keys (id, _status) from f in place and returns it.
func (f Fields) Strip() Fields {
	delete(f, keyID)
	delete(f, keyStatus)
	return f
}

// Record is a cached row of a table.
type Record struct {
	ID     RecordID
	Fields Fields
	Status Status
}

// Clone returns a copy of r with its own Fields map.
func (r Record) Clone() Record {
	r.Fields = r.Fields.Clone()
	return r
}

// MarshalJSON flattens the record as {"id":…, <fields>, "_status":…}.
func (r Record) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		obj[k] = v
	}
	obj[keyID] = r.ID
	if r.Status != "" {
		obj[keyStatus] = r.Status
	}
	return json.Marshal(obj)
}

// UnmarshalJSON reads the flattened layout written by MarshalJSON.
func (r *Record) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	idRaw, ok := raw[keyID]
	if !ok {
		return fmt.Errorf("record: missing id")
	}
	var id RecordID
	if err := json.Unmarshal(idRaw, &id); err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	var status Status
	if s, ok := raw[keyStatus]; ok {
		if err := json.Unmarshal(s, &status); err != nil {
			return fmt.Errorf("record status: %w", err)
		}
	}
	fields := make(Fields, len(raw))
	for k, v := range raw {
		if k == keyID || k == keyStatus {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("record field %q: %w", k, err)
		}
		fields[k] = val
	}
	*r = Record{ID: id, Fields: fields, Status: status}
	return nil
}

// RequestKind is the kind of mutation a PendingRequest carries
type RequestKind string

const (
	KindCreate             RequestKind = "create"
	KindUpdate             RequestKind = "update"
	KindDelete             RequestKind = "delete"
	KindAmendPendingCreate RequestKind = "amend_pending_create"
)

// Retryable reports whether a failed request of this kind may be resent.
// Creates are not: a blind resend can duplicate the remote row.
func (k RequestKind) Retryable() bool {
	return k == KindUpdate || k == KindDelete
}

// PendingRequest is a queued intent to mutate the remote store.
type PendingRequest struct {
	ID         string      `json:"id"`
	Kind       RequestKind `json:"kind"`
	TargetID   RecordID    `json:"target_id,omitempty"`
	LocalID    RecordID    `json:"local_id,omitempty"`
	Payload    Fields      `json:"payload,omitempty"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
	RetryCount int         `json:"retry_count"`
}

// RecordKey returns the id of the record the request is about: the local id
// for creates and amendments, the server id otherwise.
func (r PendingRequest) RecordKey() RecordID {
	switch r.Kind {
	case KindCreate, KindAmendPendingCreate:
		return r.LocalID
	default:
		return r.TargetID
	}
}
