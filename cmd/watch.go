package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/labsafe/labsync/internal/output"
	"github.com/labsafe/labsync/internal/scheduler"
	lsync "github.com/labsafe/labsync/internal/sync"
	"github.com/labsafe/labsync/internal/syncconfig"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep syncing in the foreground until interrupted",
	Long: `Starts every table's sync engine and a periodic full sync (default every
5 minutes, see sync.auto.interval). Changes made from other labsync commands
are picked up on the next scheduled run.`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, _ := cmd.Flags().GetString("interval")
		if spec == "" {
			spec = syncconfig.GetAutoSyncInterval()
		}

		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		sched, err := scheduler.New(spec, a.manager)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		a.reportErrors()
		a.manager.Events().OnSync(func(ev lsync.SyncEvent) {
			switch ev.Kind {
			case lsync.SyncFullSync:
				slog.Debug("reconciled", "table", ev.Table)
			default:
				id := ""
				if ev.Record != nil {
					id = ev.Record.ID.String()
				} else if ev.Request != nil {
					id = ev.Request.TargetID.String()
				}
				fmt.Printf("%s %s %s\n", ev.Table, ev.Kind, id)
			}
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a.manager.Start(ctx)
		if err := sched.Start(ctx); err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Printf("Watching %d tables against %s (schedule %s); Ctrl-C to stop\n",
			len(a.manager.Tables()), a.remote.BaseURL, sched.Spec())

		<-ctx.Done()
		sched.Stop()
		a.manager.Wait()
		return nil
	},
}

func init() {
	watchCmd.Flags().String("interval", "", `cron schedule for full syncs, e.g. "@every 1m" (default from config)`)
	rootCmd.AddCommand(watchCmd)
}
