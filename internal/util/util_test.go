package util

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"autotrader/internal/domain"
)

func always(error) bool { return true }

func TestRetryIf(t *testing.T) {
	attempts := 0
	targetAttempts := 3

	err := RetryIf(context.Background(), 5, 0, always, func() error {
		attempts++
		if attempts < targetAttempts {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Fatalf("RetryIf returned unexpected error: %v", err)
	}
	if attempts != targetAttempts {
		t.Errorf("RetryIf called fn %d times, want %d", attempts, targetAttempts)
	}
}

func TestRetryIfAllFail(t *testing.T) {
	attempts := 0
	maxAttempts := 3

	err := RetryIf(context.Background(), maxAttempts, 0, always, func() error {
		attempts++
		return errors.New("persistent error")
	})

	if err == nil {
		t.Fatal("RetryIf should return error when all attempts fail")
	}
	if attempts != maxAttempts {
		t.Errorf("RetryIf called fn %d times, want %d", attempts, maxAttempts)
	}
}

func TestRetryIfStopsOnPermanentError(t *testing.T) {
	attempts := 0
	err := RetryIf(context.Background(), 2, 0, domain.IsTransient, func() error {
		attempts++
		return domain.ErrBrokerRejected
	})
	if !errors.Is(err, domain.ErrBrokerRejected) {
		t.Fatalf("RetryIf error = %v, want ErrBrokerRejected", err)
	}
	if attempts != 1 {
		t.Errorf("RetryIf called fn %d times, want 1", attempts)
	}
}

func TestWithTimeout(t *testing.T) {
	err := WithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WithTimeout error = %v, want DeadlineExceeded", err)
	}
}

func TestRateLimiterNew(t *testing.T) {
	rl := NewRateLimiter(60)
	if rl == nil {
		t.Fatal("NewRateLimiter returned nil")
	}
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait returned error: %v", err)
	}
}

func TestRateLimiterDisabled(t *testing.T) {
	rl := NewRateLimiter(0)
	if rl != nil {
		t.Fatal("NewRateLimiter(0) should disable limiting")
	}
	for i := 0; i < 100; i++ {
		if err := rl.Wait(context.Background()); err != nil {
			t.Fatalf("nil limiter Wait returned error: %v", err)
		}
	}
}

func TestRateLimiterBurstAndRefill(t *testing.T) {
	rl := NewBurstLimiter(60, 3) // one token per second
	now := rl.lastTime
	for i := 0; i < 3; i++ {
		if d := rl.take(now); d != 0 {
			t.Fatalf("take %d within burst waited %v", i, d)
		}
	}
	if d := rl.take(now); d != time.Second {
		t.Errorf("empty bucket wait = %v, want 1s", d)
	}
	if d := rl.take(now.Add(500 * time.Millisecond)); d != 500*time.Millisecond {
		t.Errorf("half-refilled wait = %v, want 500ms", d)
	}
	if d := rl.take(now.Add(time.Second)); d != 0 {
		t.Errorf("refilled take waited %v", d)
	}
	// Idle time never overfills the bucket.
	later := now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		rl.take(later)
	}
	if d := rl.take(later); d == 0 {
		t.Error("bucket exceeded its burst size")
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1)
	_ = rl.Wait(context.Background())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait error = %v, want DeadlineExceeded", err)
	}
}

func TestMarketCalendarUnknownMarket(t *testing.T) {
	if _, err := MarketCalendar(domain.Market("cn")); err == nil {
		t.Error("MarketCalendar(cn) should fail, only the US session is configured")
	}
}

func TestTradingCalendarIsMarketOpen(t *testing.T) {
	cal, err := MarketCalendar(domain.MarketUS)
	if err != nil {
		t.Fatalf("MarketCalendar(us) returned error: %v", err)
	}
	ny := cal.Location()

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"before open", time.Date(2024, 6, 12, 9, 29, 0, 0, ny), false},
		{"at open", time.Date(2024, 6, 12, 9, 30, 0, 0, ny), true},
		{"midday", time.Date(2024, 6, 12, 12, 0, 0, 0, ny), true},
		{"at close", time.Date(2024, 6, 12, 16, 0, 0, 0, ny), false},
		{"saturday", time.Date(2024, 6, 15, 12, 0, 0, 0, ny), false},
		{"utc input", time.Date(2024, 6, 12, 14, 0, 0, 0, time.UTC), true},
	}
	for _, tc := range cases {
		if got := cal.IsMarketOpen(tc.at); got != tc.want {
			t.Errorf("%s: IsMarketOpen(%v) = %v, want %v", tc.name, tc.at, got, tc.want)
		}
	}

	cal.AddHoliday("2024-06-19")
	if cal.IsMarketOpen(time.Date(2024, 6, 19, 12, 0, 0, 0, ny)) {
		t.Error("IsMarketOpen should be false on a holiday")
	}
}

func TestTradingCalendarNextOpenClose(t *testing.T) {
	cal, err := NewTradingCalendar("09:30", "16:00", "America/New_York")
	if err != nil {
		t.Fatalf("NewTradingCalendar returned error: %v", err)
	}
	ny := cal.Location()

	// Friday evening -> Monday open.
	fri := time.Date(2024, 6, 14, 18, 0, 0, 0, ny)
	if got, want := cal.NextOpen(fri), time.Date(2024, 6, 17, 9, 30, 0, 0, ny); !got.Equal(want) {
		t.Errorf("NextOpen(%v) = %v, want %v", fri, got, want)
	}
	if got, want := cal.NextClose(fri), time.Date(2024, 6, 17, 16, 0, 0, 0, ny); !got.Equal(want) {
		t.Errorf("NextClose(%v) = %v, want %v", fri, got, want)
	}
	if got := cal.SessionDate(fri); got != "2024-06-14" {
		t.Errorf("SessionDate = %q, want %q", got, "2024-06-14")
	}
}

func TestNewTradingCalendarRejectsBadWindow(t *testing.T) {
	if _, err := NewTradingCalendar("16:00", "09:30", "America/New_York"); err == nil {
		t.Error("expected error when open is after close")
	}
	if _, err := NewTradingCalendar("9h", "16:00", "America/New_York"); err == nil {
		t.Error("expected error for malformed open")
	}
	if _, err := NewTradingCalendar("09:30", "16:00", "Mars/Olympus"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}

func TestNewIDSortable(t *testing.T) {
	a, b := NewID(), NewID()
	if len(a) != 26 {
		t.Errorf("NewID length = %d, want 26", len(a))
	}
	if !(a < b) {
		t.Errorf("NewID not monotonic: %s >= %s", a, b)
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "warn", "json").Info("dropped")
	newLogger(&buf, "warn", "json").Warn("kept", "k", 1)
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"msg":"kept"`) {
		t.Errorf("expected JSON record, got %s", out)
	}

	buf.Reset()
	newLogger(&buf, "debug", "text").Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("expected text record, got %s", buf.String())
	}
}
