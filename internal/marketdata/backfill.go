package marketdata

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"autotrader/internal/domain"
)

// BarWriter persists bars into the local archive.
type BarWriter interface {
	WriteBars(ctx context.Context, bars []domain.Bar) error
}

// BackfillResult summarises a Backfill run.
type BackfillResult struct {
	Symbols int      `json:"symbols"`
	Bars    int64    `json:"bars"`
	Failed  []string `json:"failed,omitempty"`
}

// Backfiller copies recent bars from a live provider into the archive so the
// store-backed provider and the backtester have history to read.
type Backfiller struct {
	src     Provider
	dst     BarWriter
	workers int
	log     *slog.Logger
}

// NewBackfiller creates a Backfiller running at most workers fetches at once.
func NewBackfiller(src Provider, dst BarWriter, workers int) *Backfiller {
	return &Backfiller{
		src:     src,
		dst:     dst,
		workers: max(workers, 1),
		log:     slog.Default().With("job", "backfill"),
	}
}

// Run fetches limit bars for every symbol and writes them to the archive.
// Per-symbol failures are logged and reported, not fatal.
func (b *Backfiller) Run(ctx context.Context, symbols []string, limit int) (*BackfillResult, error) {
	symCh := make(chan string, len(symbols))
	for _, s := range symbols {
		symCh <- s
	}
	close(symCh)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failed   []string
		total    atomic.Int64
		runStart = time.Now()
	)

	workers := min(b.workers, len(symbols))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symCh {
				if ctx.Err() != nil {
					return
				}
				bars, err := b.src.Bars(ctx, sym, limit)
				if err == nil {
					err = b.dst.WriteBars(ctx, bars)
				}
				if err != nil {
					b.log.Error("backfill symbol failed", "symbol", sym, "err", err)
					mu.Lock()
					failed = append(failed, sym)
					mu.Unlock()
					continue
				}
				total.Add(int64(len(bars)))
				b.log.Debug("symbol done", "symbol", sym, "bars", len(bars))
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.log.Info("complete",
		"symbols", len(symbols),
		"bars", total.Load(),
		"failed", len(failed),
		"elapsed", time.Since(runStart).Round(time.Millisecond),
	)
	return &BackfillResult{Symbols: len(symbols), Bars: total.Load(), Failed: failed}, nil
}
