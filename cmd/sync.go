package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/labsafe/labsync/internal/output"
	lsync "github.com/labsafe/labsync/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Send queued changes and merge the remote listing",
	Long: `Drains every table's queue against the remote store, then reconciles the
local cache with a fresh listing. Queued work that cannot be sent stays queued.`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pushOnly, _ := cmd.Flags().GetBool("push")
		pullOnly, _ := cmd.Flags().GetBool("pull")
		statusOnly, _ := cmd.Flags().GetBool("status")
		requeue, _ := cmd.Flags().GetBool("requeue-orphans")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		if pushOnly && pullOnly {
			err := errors.New("--push and --pull are mutually exclusive")
			output.Error("%v", err)
			return err
		}

		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		if statusOnly {
			verbose, _ := cmd.Flags().GetBool("verbose")
			return runSyncStatus(a, verbose)
		}

		if requeue {
			total := 0
			for _, t := range a.manager.Tables() {
				e, _ := a.manager.Engine(t)
				n, err := e.RequeueOrphans()
				if err != nil {
					output.Error("%v", err)
					return err
				}
				total += n
			}
			fmt.Printf("Requeued %d orphaned records\n", total)
		}

		if a.manager.Paused() {
			output.Warning("sync is paused (run: labsync sync resume)")
			return nil
		}

		a.reportErrors()
		// engines emit from their own goroutines
		var created, updated, deleted atomic.Int32
		a.manager.Events().OnSync(func(ev lsync.SyncEvent) {
			switch ev.Kind {
			case lsync.SyncCreate:
				created.Add(1)
			case lsync.SyncUpdate:
				updated.Add(1)
			case lsync.SyncDelete:
				deleted.Add(1)
			}
		})

		ctx := context.Background()
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if !pullOnly {
			if err := a.manager.DrainAll(ctx); err != nil {
				output.Error("push: %v", err)
				return err
			}
			fmt.Printf("Pushed: %d created, %d updated, %d deleted\n", created.Load(), updated.Load(), deleted.Load())
		}
		if !pushOnly {
			if err := a.manager.ReconcileAll(ctx); err != nil {
				output.Error("pull: %v", err)
				return err
			}
			fmt.Println("Pulled remote listing")
		}

		statuses, err := a.manager.Status()
		if err != nil {
			return err
		}
		var queued, orphans int
		for _, st := range statuses {
			queued += st.QueueLen
			orphans += st.Orphans
		}
		if queued > 0 {
			output.Warning("%d requests still queued", queued)
		}
		if orphans > 0 {
			output.Warning("%d orphaned records (run: labsync sync --requeue-orphans)", orphans)
		}
		return nil
	},
}

func runSyncStatus(a *app, verbose bool) error {
	statuses, err := a.manager.Status()
	if err != nil {
		output.Error("status: %v", err)
		return err
	}
	state, err := a.db.GetSyncState()
	if err != nil {
		output.Error("sync state: %v", err)
		return err
	}

	fmt.Printf("Remote: %s\n", a.remote.BaseURL)
	if state.Paused {
		output.Warning("sync is paused")
	}
	for _, st := range statuses {
		fmt.Println(output.FormatTableStatus(st))
		fmt.Printf("  last reconcile: %s\n", output.FormatTimeAgo(state.LastReconcileAt[st.Table]))

		if !verbose || st.QueueLen == 0 {
			continue
		}
		e, _ := a.manager.Engine(st.Table)
		reqs, err := e.PendingRequests()
		if err != nil {
			return err
		}
		for _, r := range reqs {
			fmt.Println("    " + output.FormatRequest(r))
		}
	}
	return nil
}

var syncPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Stop sending and pulling until resumed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		if err := a.manager.Pause(); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Sync paused; changes stay queued locally")
		return nil
	},
}

var syncResumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume syncing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		if err := a.manager.Resume(); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Sync resumed")
		return nil
	},
}

var pullCmd = &cobra.Command{
	Use:   "pull --replace",
	Short: "Overwrite the local cache with the remote listing",
	Long: `Replaces each table's cache with the remote listing (up to 1000 rows), for
recovering a broken local store. Refused for tables with queued requests
unless --force is given, which also discards the queue.`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		replace, _ := cmd.Flags().GetBool("replace")
		force, _ := cmd.Flags().GetBool("force")
		only, _ := cmd.Flags().GetString("table")
		if !replace {
			err := errors.New("pull needs --replace (use 'labsync sync --pull' for a merge)")
			output.Error("%v", err)
			return err
		}

		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		tables := a.manager.Tables()
		if only != "" {
			tables = []string{only}
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		var failed error
		for _, t := range tables {
			e, err := a.manager.Engine(t)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			n, err := e.ReplaceFromRemote(ctx, lsync.ReplaceListLimit, force)
			if errors.Is(err, lsync.ErrPendingWork) {
				output.Warning("%s has queued requests; skipped (use --force to discard them)", t)
				failed = err
				continue
			}
			if err != nil {
				output.Error("%s: %v", t, err)
				failed = err
				continue
			}
			fmt.Printf("REPLACED %s (%d records)\n", t, n)
		}
		return failed
	},
}

func init() {
	syncCmd.Flags().Bool("push", false, "only send queued changes")
	syncCmd.Flags().Bool("pull", false, "only merge the remote listing")
	syncCmd.Flags().Bool("status", false, "show local sync status")
	syncCmd.Flags().BoolP("verbose", "v", false, "with --status, list queued requests")
	syncCmd.Flags().Bool("requeue-orphans", false, "queue a create for every orphaned local record first")
	syncCmd.Flags().Duration("timeout", 2*time.Minute, "give up after this long (queued work stays queued)")

	pullCmd.Flags().Bool("replace", false, "replace the cache with the remote listing")
	pullCmd.Flags().Bool("force", false, "discard queued requests of the replaced tables")
	pullCmd.Flags().String("table", "", "only this table")

	syncCmd.AddCommand(syncPauseCmd)
	syncCmd.AddCommand(syncResumeCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pullCmd)
}
