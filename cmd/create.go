package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labsafe/labsync/internal/output"
	"github.com/labsafe/labsync/internal/schema"
)

var createFields = newFieldsValue()

var createCmd = &cobra.Command{
	Use:     "save <table> --set key=value...",
	Aliases: []string{"create", "add"},
	Short:   "Save a new record locally and queue it for upload",
	Example: `  labsync save pesticide --set testDate=today --set canteen=East --set inspector=Li \
    --set 'items=[{"name":"cabbage","result":"pass"}]'`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table := args[0]
		jsonArg, _ := cmd.Flags().GetString("json")
		jsonOut, _ := cmd.Flags().GetBool("json-out")

		fields, err := mergeJSONFields(jsonArg, createFields.Fields())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if len(fields) == 0 {
			err := errors.New("no fields given (use --set key=value or --json)")
			output.Error("%v", err)
			return err
		}

		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		rec, err := a.manager.Save(table, fields)
		if err != nil {
			printValidation(err)
			return err
		}

		if jsonOut {
			return output.JSON(rec)
		}
		fmt.Printf("SAVED %s %s\n", table, rec.ID)
		return nil
	},
}

// printValidation prints schema issues one per line, other errors as is.
func printValidation(err error) {
	var verr *schema.ValidationError
	if errors.As(err, &verr) {
		output.Error("%s record is invalid:", verr.Table)
		for _, issue := range verr.Issues {
			fmt.Println("  - " + issue)
		}
		return
	}
	output.Error("%v", err)
}

func init() {
	createCmd.Flags().Var(createFields, "set", "field value as key=value (repeatable; JSON values keep their type)")
	createCmd.Flags().String("json", "", "record fields as a JSON object (--set applies on top)")
	createCmd.Flags().Bool("json-out", false, "print the saved record as JSON")
	rootCmd.AddCommand(createCmd)
}
