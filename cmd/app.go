package cmd

import (
	"fmt"

	"github.com/labsafe/labsync/internal/db"
	"github.com/labsafe/labsync/internal/models"
	"github.com/labsafe/labsync/internal/output"
	"github.com/labsafe/labsync/internal/remote"
	"github.com/labsafe/labsync/internal/schema"
	lsync "github.com/labsafe/labsync/internal/sync"
	"github.com/labsafe/labsync/internal/syncconfig"
)

// app bundles what a command needs: the state store, the table definitions
// and a Manager wired to the configured remote.
type app struct {
	db       *db.DB
	registry *schema.Registry
	remote   *remote.Client
	manager  *lsync.Manager
}

// openApp opens the local store under the base directory and builds the
// sync manager from the user config.
func openApp() (*app, error) {
	reg, err := schema.Load()
	if err != nil {
		return nil, fmt.Errorf("load table definitions: %w", err)
	}
	database, err := db.Open(getBaseDir())
	if err != nil {
		return nil, err
	}

	client := remote.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey())
	mgr := lsync.NewManager(database, client, syncconfig.GetTables(reg.Tables()), engineConfig(reg))
	return &app{db: database, registry: reg, remote: client, manager: mgr}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// engineConfig maps the user config onto the engine settings.
func engineConfig(reg *schema.Registry) lsync.Config {
	retry := lsync.DefaultRetryConfig()
	retry.MaxAttempts, retry.InitialBackoff, retry.MaxBackoff = syncconfig.GetRetry()
	return lsync.Config{
		Limit:     syncconfig.GetListLimit(),
		Retry:     retry,
		Validator: definedTables{reg},
	}
}

// definedTables validates tables that have a definition and accepts any
// fields for configured tables that have none.
type definedTables struct {
	reg *schema.Registry
}

func (d definedTables) Validate(table string, fields models.Fields) error {
	if !d.reg.Has(table) {
		return nil
	}
	return d.reg.Validate(table, fields)
}

func (d definedTables) ValidatePatch(table string, fields models.Fields) error {
	if !d.reg.Has(table) {
		return nil
	}
	return d.reg.ValidatePatch(table, fields)
}

// reportErrors prints every dropped request as a warning.
func (a *app) reportErrors() {
	a.manager.Events().OnError(func(ev lsync.ErrorEvent) {
		target := ev.Request.TargetID
		if target == "" {
			target = ev.Request.LocalID
		}
		output.Warning("%s: %s %s dropped: %v", ev.Table, ev.Request.Kind, target, ev.Err)
	})
}
