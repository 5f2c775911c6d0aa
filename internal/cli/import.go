package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/narrative-market/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import narratives and activities from JSON",
		Long:  "Import from JSON (stdin or --file) in the format produced by export. Activities already in the ledger are skipped.",
		Run:   runImport,
	}

	cmd.Flags().String("file", "", "Read from this file instead of stdin")

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	file, _ := cmd.Flags().GetString("file")

	var r io.Reader = os.Stdin
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			exitErr("open file", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(r)
	if err != nil {
		exitErr("read input", err)
	}

	var dump store.Export
	if err := json.Unmarshal(data, &dump); err != nil {
		exitErr("parse json", err)
	}

	a := mustOpenApp()
	defer a.Close()

	narratives, err := store.ImportNarratives(cmd.Context(), a.store, dump.Narratives)
	if err != nil {
		exitErr("import narratives", err)
	}
	imported, skipped, err := a.ledger.Import(cmd.Context(), dump.Activities)
	if err != nil {
		exitErr("import activities", err)
	}

	printJSON(map[string]any{
		"ok":                  true,
		"narratives":          narratives,
		"activities_imported": imported,
		"activities_skipped":  skipped,
	})
}
