package db

import (
	"encoding/json"
	"fmt"
	"time"
)

const syncStateKey = "sync_state"

// SyncState holds global sync settings shared by every table.
type SyncState struct {
	Paused          bool                 `json:"paused"`
	LastReconcileAt map[string]time.Time `json:"last_reconcile_at,omitempty"`
}

// GetSyncState returns the stored sync state, or a zero state if none exists.
func (db *DB) GetSyncState() (*SyncState, error) {
	data, err := db.Get(syncStateKey)
	if err != nil {
		return nil, err
	}
	var s SyncState
	if data == nil {
		return &s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode sync state: %w", err)
	}
	return &s, nil
}

// IsPaused reports whether sync is paused. Read errors count as not paused.
func (db *DB) IsPaused() bool {
	s, err := db.GetSyncState()
	return err == nil && s.Paused
}

// SetPaused pauses or resumes sync for every table.
func (db *DB) SetPaused(paused bool) error {
	return db.updateSyncState(func(s *SyncState) {
		s.Paused = paused
	})
}

// MarkReconciled records the time of a completed reconciliation.
func (db *DB) MarkReconciled(table string, at time.Time) error {
	return db.updateSyncState(func(s *SyncState) {
		if s.LastReconcileAt == nil {
			s.LastReconcileAt = make(map[string]time.Time)
		}
		s.LastReconcileAt[table] = at.UTC()
	})
}

func (db *DB) updateSyncState(fn func(*SyncState)) error {
	return db.WithWriteLock(func() error {
		s, err := db.GetSyncState()
		if err != nil {
			return err
		}
		fn(s)
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return db.Put(syncStateKey, data)
	})
}
