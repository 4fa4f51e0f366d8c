// Package cache holds the per-table snapshot of the most recently known
// records. Every operation is a full read-modify-write of the table's
// snapshot; callers serialize them (see sync.Engine).
package cache

import (
	"encoding/json"
	"fmt"

	"github.com/labsafe/labsync/internal/db"
	"github.com/labsafe/labsync/internal/models"
)

// Store is the durable key/value storage the cache writes through.
// *db.DB satisfies it.
type Store interface {
	Get(key string) ([]byte, error)
	Put(key string, value []byte) error
}

// snapshot is the persisted layout: {"data": [Record...]}.
type snapshot struct {
	Data []models.Record `json:"data"`
}

// Cache is the snapshot of one table.
type Cache struct {
	store Store
	key   string
}

// New returns the cache of table backed by store.
func New(store Store, table string) *Cache {
	return &Cache{store: store, key: db.CacheKey(table)}
}

func (c *Cache) load() ([]models.Record, error) {
	data, err := c.store.Get(c.key)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", c.key, err)
	}
	return s.Data, nil
}

func (c *Cache) save(records []models.Record) error {
	if records == nil {
		records = []models.Record{}
	}
	data, err := json.Marshal(snapshot{Data: records})
	if err != nil {
		return fmt.Errorf("encode %s: %w", c.key, err)
	}
	return c.store.Put(c.key, data)
}

// Read returns every cached record, newest first.
func (c *Cache) Read() ([]models.Record, error) {
	records, err := c.load()
	if err != nil {
		return nil, err
	}
	models.SortNewestFirst(records)
	return records, nil
}

// Get returns the record with id.
func (c *Cache) Get(id models.RecordID) (models.Record, bool, error) {
	records, err := c.load()
	if err != nil {
		return models.Record{}, false, err
	}
	if i := indexOf(records, id); i >= 0 {
		return records[i], true, nil
	}
	return models.Record{}, false, nil
}

// Upsert replaces the record with the same id or adds it.
func (c *Cache) Upsert(r models.Record) error {
	records, err := c.load()
	if err != nil {
		return err
	}
	if i := indexOf(records, r.ID); i >= 0 {
		records[i] = r
	} else {
		records = append(records, r)
	}
	return c.save(records)
}

// Remove deletes the record with id and reports whether it existed.
func (c *Cache) Remove(id models.RecordID) (bool, error) {
	records, err := c.load()
	if err != nil {
		return false, err
	}
	i := indexOf(records, id)
	if i < 0 {
		return false, nil
	}
	records = append(records[:i], records[i+1:]...)
	return true, c.save(records)
}

// SetStatus changes the status of the record with id. Missing ids are ignored.
func (c *Cache) SetStatus(id models.RecordID, status models.Status) (bool, error) {
	records, err := c.load()
	if err != nil {
		return false, err
	}
	i := indexOf(records, id)
	if i < 0 {
		return false, nil
	}
	records[i].Status = status
	return true, c.save(records)
}

// ReplaceID swaps the record stored under oldID for r (typically the same
// record under its server id). If oldID is gone, r is added anyway; an
// existing record with r.ID is overwritten so ids stay unique.
func (c *Cache) ReplaceID(oldID models.RecordID, r models.Record) error {
	records, err := c.load()
	if err != nil {
		return err
	}
	out := records[:0]
	for _, rec := range records {
		if rec.ID == oldID || rec.ID == r.ID {
			continue
		}
		out = append(out, rec)
	}
	out = append(out, r)
	return c.save(out)
}

// Replace overwrites the whole snapshot.
func (c *Cache) Replace(records []models.Record) error {
	sorted := make([]models.Record, len(records))
	copy(sorted, records)
	models.SortNewestFirst(sorted)
	return c.save(sorted)
}

// Clear empties the snapshot.
func (c *Cache) Clear() error {
	return c.save(nil)
}

func indexOf(records []models.Record, id models.RecordID) int {
	for i := range records {
		if records[i].ID == id {
			return i
		}
	}
	return -1
}
