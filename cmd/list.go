package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labsafe/labsync/internal/models"
	"github.com/labsafe/labsync/internal/output"
)

var listCmd = &cobra.Command{
	Use:     "list <table>",
	Aliases: []string{"ls"},
	Short:   "List cached records of a table, newest first",
	Long: `Lists the locally cached records. Records that have not been uploaded yet
come first. The cache is read as is; run 'labsync sync' to refresh it.`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		long, _ := cmd.Flags().GetBool("long")
		jsonOut, _ := cmd.Flags().GetBool("json")
		statusFilter, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		if statusFilter != "" && !models.IsValidStatus(models.Status(statusFilter)) {
			err := fmt.Errorf("invalid status %q (pending, updating, synced)", statusFilter)
			output.Error("%v", err)
			return err
		}

		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		records, err := a.manager.GetAll(table)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		filtered := records[:0]
		for _, r := range records {
			if statusFilter == "" || r.Status == models.Status(statusFilter) {
				filtered = append(filtered, r)
			}
		}
		if limit > 0 && len(filtered) > limit {
			filtered = filtered[:limit]
		}

		if jsonOut {
			if filtered == nil {
				filtered = []models.Record{}
			}
			return output.JSON(filtered)
		}

		if len(filtered) == 0 {
			fmt.Printf("No %s records\n", table)
			return nil
		}
		width := output.TerminalWidth(0)
		for _, r := range filtered {
			if long {
				fmt.Println(output.FormatRecordLong(r))
				continue
			}
			fmt.Println(output.FormatRecordShort(r, width))
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:     "show <table> <id>",
	Short:   "Show one cached record",
	GroupID: "core",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, id := args[0], models.RecordID(args[1])
		jsonOut, _ := cmd.Flags().GetBool("json")

		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		e, err := a.manager.Engine(table)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		rec, ok, err := e.Get(id)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if !ok {
			err := fmt.Errorf("%s %s not found", table, id)
			output.Error("%v", err)
			return err
		}
		if jsonOut {
			return output.JSON(rec)
		}
		fmt.Print(output.FormatRecordLong(rec))
		return nil
	},
}

var tablesCmd = &cobra.Command{
	Use:     "tables",
	Short:   "List the synchronized tables",
	GroupID: "core",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		for _, t := range a.manager.Tables() {
			marker := ""
			if !a.registry.Has(t) {
				marker = "  (no definition, not validated)"
			}
			fmt.Println(t + marker)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().BoolP("long", "l", false, "show every field")
	listCmd.Flags().Bool("json", false, "output JSON")
	listCmd.Flags().String("status", "", "only records with this status")
	listCmd.Flags().IntP("limit", "n", 0, "show at most n records")
	showCmd.Flags().Bool("json", false, "output JSON")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(tablesCmd)
}
