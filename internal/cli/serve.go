package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/narrative-market/internal/metrics"
	"github.com/rcliao/narrative-market/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long:  "Serve the market, narrative and staking HTTP API with Prometheus metrics at /metrics.",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default: config server.addr)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	a := mustOpenApp()
	defer a.Close()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = a.cfg.Server.Addr
	}

	rec := metrics.NewPromRecorder()
	metrics.SetRecorder(rec)

	srv := server.New(a.engine, a.directory, a.staking, server.WithMetricsHandler(rec.Handler()))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc := a.cfg.Server
	if err := srv.ListenAndServe(ctx, addr, sc.ReadTimeout, sc.WriteTimeout, sc.ShutdownTimeout); err != nil {
		exitErr("serve", err)
	}
}
