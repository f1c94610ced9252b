package engine

import (
	"context"
	"time"

	"autotrader/internal/domain"
	"autotrader/internal/util"
)

// callBroker runs fn with a per-attempt timeout and retries it exactly once
// when the failure is transient.
func callBroker[T any](ctx context.Context, timeout, delay time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var out T
	err := util.RetryIf(ctx, 2, delay, domain.IsTransient, func() error {
		return util.WithTimeout(ctx, timeout, func(ctx context.Context) error {
			v, err := fn(ctx)
			if err != nil {
				return err
			}
			out = v
			return nil
		})
	})
	return out, err
}
