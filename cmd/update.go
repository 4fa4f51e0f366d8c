package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/labsafe/labsync/internal/models"
	"github.com/labsafe/labsync/internal/output"
)

var updateFields = newFieldsValue()

var updateCmd = &cobra.Command{
	Use:     "update <table> <id> --set key=value...",
	Aliases: []string{"edit"},
	Short:   "Change fields of a record",
	Long: `Applies the given fields on top of the cached record. A record that has not
been uploaded yet has the change folded into its queued create; an uploaded
record is marked updating and an update is queued.`,
	GroupID: "core",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, id := args[0], models.RecordID(args[1])
		jsonArg, _ := cmd.Flags().GetString("json")

		patch, err := mergeJSONFields(jsonArg, updateFields.Fields())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if len(patch) == 0 {
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

		ok, err := a.manager.Update(table, id, patch)
		if err != nil {
			printValidation(err)
			return err
		}
		if !ok {
			err := fmt.Errorf("%s %s not found", table, id)
			output.Error("%v", err)
			return err
		}
		fmt.Printf("UPDATED %s %s\n", table, id)
		return nil
	},
}

func init() {
	updateCmd.Flags().Var(updateFields, "set", "field value as key=value (repeatable; JSON values keep their type)")
	updateCmd.Flags().String("json", "", "changed fields as a JSON object (--set applies on top)")
	rootCmd.AddCommand(updateCmd)
}
