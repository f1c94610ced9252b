package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"autotrader/internal/backtest"
	"autotrader/internal/engine"
	"autotrader/internal/store"
	"autotrader/internal/strategy"
	"autotrader/internal/strategy/builtins"
)

var (
	btStrategy string
	btSymbols  string
	btStart    string
	btEnd      string
	btCapital  float64
	btWindow   int
	btOrders   bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Replay archived daily bars through a strategy",
	Long: `Backtest reads daily bars from the Parquet archive under storage.data_dir,
runs the strategy and position sizer from the config over them, fills at
the close, and reports return, drawdown and trade statistics.

Example:
  autotrader backtest --strategy sma-cross --symbols AAPL,MSFT --start 2023-01-01`,
	RunE: runBacktest,
}

func init() {
	rootCmd.AddCommand(backtestCmd)

	backtestCmd.Flags().StringVarP(&btStrategy, "strategy", "s", "", "strategy name (default: trading.strategy)")
	backtestCmd.Flags().StringVar(&btSymbols, "symbols", "", "comma-separated symbols (default: trading.symbols)")
	backtestCmd.Flags().StringVar(&btStart, "start", time.Now().AddDate(-1, 0, 0).Format(time.DateOnly), "first date, YYYY-MM-DD")
	backtestCmd.Flags().StringVar(&btEnd, "end", time.Now().Format(time.DateOnly), "last date, YYYY-MM-DD")
	backtestCmd.Flags().Float64VarP(&btCapital, "capital", "b", 100_000, "starting cash")
	backtestCmd.Flags().IntVar(&btWindow, "window", 0, "bars per evaluation (default: trading.bar_limit)")
	backtestCmd.Flags().BoolVar(&btOrders, "orders", false, "include every simulated order in the output")
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	start, err := time.Parse(time.DateOnly, btStart)
	if err != nil {
		return fmt.Errorf("--start: %w", err)
	}
	end, err := time.Parse(time.DateOnly, btEnd)
	if err != nil {
		return fmt.Errorf("--end: %w", err)
	}
	end = end.Add(24*time.Hour - time.Millisecond)

	name := btStrategy
	if name == "" {
		name = cfg.Trading.Strategy
	}
	symbols := cfg.Trading.Symbols
	if btSymbols != "" {
		symbols = splitSymbols(btSymbols)
	}
	window := btWindow
	if window == 0 {
		window = cfg.Trading.BarLimit
	}

	registry := strategy.NewRegistry()
	builtins.Register(registry)
	bt := backtest.NewBacktester(
		store.NewParquetStore(cfg.Storage.DataDir),
		registry,
		engine.NewPositionSizer(cfg.Trading.RiskPerTrade, cfg.Trading.StopLossPct),
		window,
	)
	res, err := bt.Run(cmd.Context(), name, symbols, start, end, btCapital)
	if err != nil {
		return err
	}
	if !btOrders {
		res.Orders = nil
	}
	return printJSON(cmd, res)
}

func splitSymbols(s string) []string {
	var out []string
	for _, sym := range strings.Split(s, ",") {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}
