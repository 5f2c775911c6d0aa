package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/narrative-market/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export narratives and the activity ledger as JSON",
		Long:  "Export every narrative and the full activity ledger in append order. The output can be replayed with import.",
		Run:   runExport,
	}

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	dump, err := store.ExportAll(cmd.Context(), a.store)
	if err != nil {
		exitErr("export", err)
	}

	printJSON(dump)
}
