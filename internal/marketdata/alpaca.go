package marketdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"autotrader/internal/domain"
	"autotrader/internal/util"
)

// Compile-time interface check.
var _ Provider = (*AlpacaProvider)(nil)

// barsClient is the subset of *marketdata.Client the provider uses.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaProvider fetches daily bars from the Alpaca market-data API.
type AlpacaProvider struct {
	client  barsClient
	feed    string
	timeout time.Duration
	limiter *util.RateLimiter
	now     func() time.Time
	log     *slog.Logger
}

// NewAlpacaProvider creates an AlpacaProvider. dataURL may be empty to use
// the SDK default endpoint.
func NewAlpacaProvider(apiKey, apiSecret, dataURL, feed string, timeout time.Duration, rateLimitPerMin int) *AlpacaProvider {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return newAlpacaProvider(marketdata.NewClient(opts), feed, timeout, util.NewRateLimiter(rateLimitPerMin))
}

func newAlpacaProvider(c barsClient, feed string, timeout time.Duration, limiter *util.RateLimiter) *AlpacaProvider {
	return &AlpacaProvider{
		client:  c,
		feed:    feed,
		timeout: timeout,
		limiter: limiter,
		now:     time.Now,
		log:     slog.Default().With("provider", "alpaca"),
	}
}

// Bars fetches enough calendar days of daily bars to cover limit sessions and
// returns the most recent limit of them. A failed attempt is retried once.
func (p *AlpacaProvider) Bars(ctx context.Context, symbol string, limit int) ([]domain.Bar, error) {
	// Weekends and holidays: ~252 sessions per 365 days, plus slack.
	start := p.now().AddDate(0, 0, -(limit*365/252 + 10))

	var raw []marketdata.Bar
	err := util.RetryIf(ctx, 2, 250*time.Millisecond, retryable, func() error {
		return util.WithTimeout(ctx, p.timeout, func(ctx context.Context) error {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
			var err error
			raw, err = util.CallContext(ctx, func() ([]marketdata.Bar, error) {
				return p.client.GetBars(symbol, marketdata.GetBarsRequest{
					TimeFrame: marketdata.OneDay,
					Start:     start,
					Feed:      p.feed,
				})
			})
			return err
		})
	})
	if err != nil {
		p.log.Warn("bars fetch failed", "symbol", symbol, "error", err)
		return nil, fmt.Errorf("GetBars %s: %w: %v", symbol, domain.ErrDataUnavailable, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("GetBars %s: no bars: %w", symbol, domain.ErrDataUnavailable)
	}

	bars := make([]domain.Bar, len(raw))
	for i, ab := range raw {
		bars[i] = domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		}
	}
	return tail(bars, limit), nil
}

// retryable treats everything except caller cancellation as worth one more
// attempt.
func retryable(err error) bool {
	return !errors.Is(err, context.Canceled)
}
