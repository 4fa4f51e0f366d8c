package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labsafe/labsync/internal/models"
	"github.com/labsafe/labsync/internal/output"
)

var deleteCmd = &cobra.Command{
	Use:     "delete <table> <id...>",
	Aliases: []string{"rm"},
	Short:   "Delete records locally and queue the deletion",
	GroupID: "core",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]

		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		var missing int
		for _, arg := range args[1:] {
			id := models.RecordID(arg)
			ok, err := a.manager.Delete(table, id)
			if err != nil {
				output.Error("failed to delete %s: %v", id, err)
				return err
			}
			if !ok {
				output.Warning("%s %s not found", table, id)
				missing++
				continue
			}
			fmt.Printf("DELETED %s %s\n", table, id)
		}
		if missing == len(args)-1 {
			return fmt.Errorf("no records deleted")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}
