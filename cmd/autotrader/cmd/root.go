// Package cmd holds the autotrader operator commands.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"autotrader/internal/config"
	"autotrader/pkg/autotrader"
)

var (
	serverURL string
	cfgPath   string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "autotrader",
	Short: "Operator CLI for the autotrader trading engine",
	Long: `autotrader talks to a running autotrader-server to inspect state, trigger
cycles, halt trading and reset the circuit breaker. The backtest and
backfill commands run locally against the Parquet bar archive.`,
	SilenceUsage: true,
	PersistentPreRun: func(*cobra.Command, []string) {
		_ = godotenv.Load()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("AUTOTRADER_URL", "http://localhost:8080"), "control plane base URL")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", envOr("AUTOTRADER_CONFIG", "config/autotrader.yaml"), "config file for local commands")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
}

func newClient() *autotrader.Client {
	return autotrader.NewClient(serverURL)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
