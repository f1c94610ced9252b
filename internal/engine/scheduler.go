package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Cycler runs one trading cycle.
type Cycler interface {
	ExecuteCycle(ctx context.Context) (*CycleResult, error)
}

// Scheduler fires a cycle on every tick. Each tick starts its cycle on its
// own goroutine; a tick that arrives while a cycle is still running is
// skipped by the Cycler and logged here, never queued.
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	log      *slog.Logger

	// OnResult, when set, receives every completed cycle.
	OnResult func(*CycleResult)
}

// NewScheduler creates a Scheduler ticking every interval. A nil logger
// uses slog.Default.
func NewScheduler(c Cycler, interval time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cycler:   c,
		interval: interval,
		log:      logger.With("component", "scheduler"),
	}
}

// Run fires a cycle immediately and then on every tick until ctx is
// cancelled. It waits for the cycle in flight before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	fire := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.tick(ctx)
		}()
	}

	s.log.Info("scheduler started", "interval", s.interval)
	fire()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			fire()
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	res, err := s.cycler.ExecuteCycle(ctx)
	switch {
	case errors.Is(err, ErrCycleInProgress):
		s.log.Warn("tick skipped", "reason", "cycle_in_progress")
		return
	case err != nil:
		s.log.Error("cycle failed", "err", err)
		return
	}
	if res.Skipped != "" {
		s.log.Debug("cycle skipped", "reason", res.Skipped)
	} else {
		var orders int
		for _, o := range res.Symbols {
			if o.Action != ActionNone {
				orders++
			}
		}
		s.log.Info("cycle complete",
			"cycle", res.ID,
			"symbols", len(res.Symbols),
			"orders", orders,
			"breached", res.Breached,
			"elapsed", res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond),
		)
	}
	if s.OnResult != nil {
		s.OnResult(res)
	}
}
