package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"

	"github.com/labsafe/labsync/internal/models"
)

// ManagerStore is the state store shared by every table.
type ManagerStore interface {
	Store
	SetPaused(paused bool) error
	ClearTables(tables []string) (int64, error)
}

// Manager owns one Engine per table, all emitting on one EventBus.
type Manager struct {
	store   ManagerStore
	bus     *EventBus
	order   []string
	engines map[string]*Engine
}

// NewManager creates engines for tables. cfg.Table is ignored.
func NewManager(store ManagerStore, rem Remote, tables []string, cfg Config) *Manager {
	m := &Manager{
		store:   store,
		bus:     NewEventBus(),
		engines: make(map[string]*Engine, len(tables)),
	}
	for _, t := range tables {
		if _, dup := m.engines[t]; dup {
			continue
		}
		c := cfg
		c.Table = t
		m.engines[t] = NewEngine(store, rem, m.bus, c)
		m.order = append(m.order, t)
	}
	return m
}

// Events returns the bus shared by every engine.
func (m *Manager) Events() *EventBus { return m.bus }

// Tables returns the served tables in configuration order.
func (m *Manager) Tables() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Engine returns the engine of table.
func (m *Manager) Engine(table string) (*Engine, error) {
	e, ok := m.engines[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, table)
	}
	return e, nil
}

// Save, Update, Delete and GetAll route to the table's engine.

func (m *Manager) Save(table string, fields models.Fields) (models.Record, error) {
	e, err := m.Engine(table)
	if err != nil {
		return models.Record{}, err
	}
	return e.Save(fields)
}

func (m *Manager) Update(table string, id models.RecordID, patch models.Fields) (bool, error) {
	e, err := m.Engine(table)
	if err != nil {
		return false, err
	}
	return e.Update(id, patch)
}

func (m *Manager) Delete(table string, id models.RecordID) (bool, error) {
	e, err := m.Engine(table)
	if err != nil {
		return false, err
	}
	return e.Delete(id)
}

func (m *Manager) GetAll(table string) ([]models.Record, error) {
	e, err := m.Engine(table)
	if err != nil {
		return nil, err
	}
	return e.GetAll()
}

// each runs fn for every engine concurrently and joins the errors.
func (m *Manager) each(fn func(*Engine) error) error {
	var (
		wg   gosync.WaitGroup
		mu   gosync.Mutex
		errs []error
	)
	for _, t := range m.order {
		e := m.engines[t]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(e); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// DrainAll drains every table.
func (m *Manager) DrainAll(ctx context.Context) error {
	return m.each(func(e *Engine) error { return e.Drain(ctx) })
}

// ReconcileAll reconciles every table.
func (m *Manager) ReconcileAll(ctx context.Context) error {
	return m.each(func(e *Engine) error { return e.Reconcile(ctx) })
}

// SyncAll drains then reconciles every table.
func (m *Manager) SyncAll(ctx context.Context) error {
	return m.each(func(e *Engine) error {
		if err := e.Drain(ctx); err != nil {
			return err
		}
		return e.Reconcile(ctx)
	})
}

// Start starts every engine.
func (m *Manager) Start(ctx context.Context) {
	for _, t := range m.order {
		m.engines[t].Start(ctx)
	}
}

// Wait waits for every started engine to stop.
func (m *Manager) Wait() {
	for _, t := range m.order {
		m.engines[t].Wait()
	}
}

// Pause stops drains and reconciliations for every table until Resume.
func (m *Manager) Pause() error {
	if err := m.store.SetPaused(true); err != nil {
		return fmt.Errorf("pause sync: %w", err)
	}
	slog.Info("sync paused")
	return nil
}

// Resume re-enables sync and kicks every engine.
func (m *Manager) Resume() error {
	if err := m.store.SetPaused(false); err != nil {
		return fmt.Errorf("resume sync: %w", err)
	}
	slog.Info("sync resumed")
	for _, t := range m.order {
		m.engines[t].kick()
		m.engines[t].requestReconcile()
	}
	return nil
}

// Paused reports the persisted pause flag.
func (m *Manager) Paused() bool { return m.store.IsPaused() }

// Status returns the status of every table in order.
func (m *Manager) Status() ([]Status, error) {
	out := make([]Status, 0, len(m.order))
	for _, t := range m.order {
		st, err := m.engines[t].Status()
		if err != nil {
			return nil, fmt.Errorf("status %s: %w", t, err)
		}
		out = append(out, st)
	}
	return out, nil
}

// Clear drops the cache and queue of every table.
func (m *Manager) Clear() (int64, error) {
	n, err := m.store.ClearTables(m.order)
	if err != nil {
		return 0, fmt.Errorf("clear local data: %w", err)
	}
	for _, t := range m.order {
		m.engines[t].clearState()
	}
	return n, nil
}
