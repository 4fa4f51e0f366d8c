package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/labsafe/labsync/internal/backup"
	"github.com/labsafe/labsync/internal/output"
	"github.com/labsafe/labsync/internal/prompt"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write every table's cache to a backup document",
	Long: `Writes a JSON backup document of every table's local cache, to stdout or the
file given with -o. --snappy compresses the document.`,
	GroupID: "data",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		outPath, _ := cmd.Flags().GetString("output")
		compress, _ := cmd.Flags().GetBool("snappy")

		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		doc, err := backup.Export(a.manager, time.Now())
		if err != nil {
			output.Error("%v", err)
			return err
		}

		var w io.Writer = os.Stdout
		if outPath != "" {
			f, err := os.Create(outPath)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			defer f.Close()
			w = f
		}
		if err := backup.Write(w, doc, compress); err != nil {
			output.Error("%v", err)
			return err
		}
		if outPath != "" {
			output.Success("Backed up %d records from %d tables to %s", doc.Count(), len(doc.Tables), outPath)
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Restore the cache from a backup document",
	Long: `Restores tables from a backup document (either the versioned document or a
plain {"<table>": [...]} object, optionally snappy compressed). Cached rows of
restored tables are overwritten.

Without --upload the rows are restored as they are and sync is paused, so the
next reconciliation cannot drop rows the server does not have. With --upload
every row is queued as a new record and sent on the next sync.`,
	GroupID: "data",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		upload, _ := cmd.Flags().GetBool("upload")
		yes, _ := cmd.Flags().GetBool("yes")

		f, err := os.Open(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		doc, err := backup.Read(f)
		f.Close()
		if err != nil {
			output.Error("%v", err)
			return err
		}

		desc := fmt.Sprintf("%d records in %d tables", doc.Count(), len(doc.Tables))
		if doc.Version != "" {
			desc += fmt.Sprintf(" (version %s, %s)", doc.Version, doc.Timestamp.Format(time.RFC3339))
		}
		if err := prompt.Guard(yes, nil, "Overwrite local data of the restored tables?", desc); err != nil {
			output.Error("%v", err)
			return err
		}

		a, err := openApp()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer a.Close()

		results, err := backup.Restore(a.manager, doc, upload)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		for _, r := range results {
			if r.Skipped {
				output.Warning("%s is not a synchronized table; skipped", r.Table)
				continue
			}
			fmt.Printf("RESTORED %s (%d records)\n", r.Table, r.Restored)
		}
		if upload {
			output.Success("Restored records are queued for upload")
		} else {
			output.Success("Restored locally; sync is paused (run: labsync sync resume)")
		}
		return nil
	},
}

func init() {
	backupCmd.Flags().StringP("output", "o", "", "write to file instead of stdout")
	backupCmd.Flags().Bool("snappy", false, "snappy-compress the document")
	restoreCmd.Flags().Bool("upload", false, "queue every restored record as a new upload")
	restoreCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
}
