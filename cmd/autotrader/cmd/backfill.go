package cmd

import (
	"github.com/spf13/cobra"

	"autotrader/internal/marketdata"
	"autotrader/internal/store"
)

var (
	bfSymbols string
	bfLimit   int
	bfWorkers int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Download recent daily bars from Alpaca into the Parquet archive",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		symbols := cfg.Trading.Symbols
		if bfSymbols != "" {
			symbols = splitSymbols(bfSymbols)
		}
		src := marketdata.NewAlpacaProvider(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL,
			cfg.Alpaca.Feed, cfg.Trading.BrokerTimeout, cfg.Alpaca.RateLimitPerMin)
		res, err := marketdata.NewBackfiller(src, store.NewParquetStore(cfg.Storage.DataDir), bfWorkers).
			Run(cmd.Context(), symbols, bfLimit)
		if err != nil {
			return err
		}
		return printJSON(cmd, res)
	},
}

func init() {
	rootCmd.AddCommand(backfillCmd)
	backfillCmd.Flags().StringVar(&bfSymbols, "symbols", "", "comma-separated symbols (default: trading.symbols)")
	backfillCmd.Flags().IntVar(&bfLimit, "limit", 500, "bars per symbol")
	backfillCmd.Flags().IntVar(&bfWorkers, "workers", 4, "concurrent downloads")
}
