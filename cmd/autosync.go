package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/labsafe/labsync/internal/syncconfig"
)

// autoSyncTimeout bounds the drain run after a mutating command.
const autoSyncTimeout = 5 * time.Second

// mutatingCommands lists commands that queue requests and should trigger auto-sync.
var mutatingCommands = map[string]bool{
	"save":    true,
	"update":  true,
	"delete":  true,
	"restore": true,
}

// isMutatingCommand checks if the given command name triggers auto-sync.
func isMutatingCommand(name string) bool {
	return mutatingCommands[name]
}

// autoSyncAfterMutation drains the queue once after a mutating command.
// Runs synchronously with a short timeout. Requests that do not make it stay
// queued for the next sync; errors are logged, not returned.
func autoSyncAfterMutation() {
	if !syncconfig.GetAutoSyncEnabled() {
		return
	}
	if getBaseDir() == "" {
		return
	}

	a, err := openApp()
	if err != nil {
		slog.Debug("autosync: open", "err", err)
		return
	}
	defer a.Close()

	if a.manager.Paused() {
		slog.Debug("autosync: sync paused")
		return
	}
	a.remote.HTTP.Timeout = autoSyncTimeout
	a.reportErrors()

	ctx, cancel := context.WithTimeout(context.Background(), autoSyncTimeout)
	defer cancel()
	if err := a.manager.DrainAll(ctx); err != nil {
		slog.Debug("autosync: drain", "err", err)
	}
}
