// Package scheduler triggers periodic sync runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/robfig/cron/v3"
)

// DefaultSpec runs a sync every five minutes.
const DefaultSpec = "@every 5m"

// Syncer is the work a scheduled run performs.
type Syncer interface {
	SyncAll(ctx context.Context) error
}

// Scheduler runs Syncer.SyncAll on a cron schedule. A run that fires while
// the previous one is still going is skipped.
type Scheduler struct {
	spec    string
	syncer  Syncer
	cron    *cron.Cron
	entryID cron.EntryID
	running atomic.Bool
	ctx     context.Context
}

// New parses spec (cron syntax or @every <duration>) and returns a stopped
// scheduler. An empty spec means DefaultSpec.
func New(spec string, syncer Syncer) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return &Scheduler{
		spec:   spec,
		syncer: syncer,
		cron:   cron.New(),
	}, nil
}

// Spec returns the schedule in use.
func (s *Scheduler) Spec() string { return s.spec }

// Start begins firing runs until Stop. Runs use ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx = ctx
	id, err := s.cron.AddFunc(s.spec, s.trigger)
	if err != nil {
		return fmt.Errorf("schedule sync: %w", err)
	}
	s.entryID = id
	slog.Info("scheduler started", "schedule", s.spec)
	s.cron.Start()
	return nil
}

// Stop stops the schedule and waits for a running sync to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	slog.Info("scheduler stopped")
}

// Trigger runs one sync now, unless one is already running. It reports
// whether a run happened.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		slog.Debug("sync already running, skipping scheduled run")
		return false
	}
	defer s.running.Store(false)

	slog.Debug("scheduled sync")
	if err := s.syncer.SyncAll(ctx); err != nil {
		slog.Warn("scheduled sync failed", "err", err)
	}
	return true
}

func (s *Scheduler) trigger() {
	if s.ctx.Err() != nil {
		return
	}
	s.Trigger(s.ctx)
}
