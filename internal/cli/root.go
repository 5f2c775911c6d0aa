// Package cli implements the narrative-market CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/narrative-market/internal/config"
)

var (
	dbPath     string
	configPath string
	formatFlag string
	logLevel   string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "narrative-market",
	Short: "Narrative staking market analytics",
	Long:  "Stake on narratives, track market momentum and find similar narratives. SQLite-backed, single binary.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $NARRATIVE_MARKET_DB or ~/.narrative-market/market.db)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default: $NARRATIVE_MARKET_CONFIG)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (default: info)")
}

// loadConfig layers the config file, the environment and the persistent flags.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("NARRATIVE_MARKET_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database.Driver = "sqlite"
		cfg.Database.Path = dbPath
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// output prints v as JSON, or through text when --format=text and text is set.
func output(v any, text func()) {
	if formatFlag == "text" && text != nil {
		text()
		return
	}
	printJSON(v)
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
