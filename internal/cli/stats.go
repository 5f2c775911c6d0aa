package cli

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"

	"github.com/rcliao/narrative-market/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

type statser interface {
	Stats(ctx context.Context, dbPath string) (*store.Stats, error)
}

func runStats(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	s, ok := a.store.(statser)
	if !ok {
		exitErr("stats", goerr.New("store does not report statistics", goerr.V("driver", a.cfg.Database.Driver)))
	}
	stats, err := s.Stats(cmd.Context(), a.cfg.Database.Path)
	if err != nil {
		exitErr("stats", err)
	}

	printJSON(stats)
}
