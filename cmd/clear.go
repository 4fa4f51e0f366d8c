package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labsafe/labsync/internal/output"
	"github.com/labsafe/labsync/internal/prompt"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all locally cached records and queued requests",
	Long: `Deletes every table's cache and queue from the local store. Queued requests
are lost; records already on the remote come back on the next sync.`,
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")

		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		statuses, err := a.manager.Status()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		var records, queued int
		for _, st := range statuses {
			records += st.Total
			queued += st.QueueLen
		}
		desc := fmt.Sprintf("%d cached records and %d queued requests will be deleted", records, queued)
		if err := prompt.Guard(yes, nil, "Clear local data?", desc); err != nil {
			output.Error("%v", err)
			return err
		}

		n, err := a.manager.Clear()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Cleared %d keys", n)
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	rootCmd.AddCommand(clearCmd)
}
