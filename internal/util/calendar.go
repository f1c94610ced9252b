package util

import (
	"fmt"
	"time"
	_ "time/tzdata" // exchange timezones must resolve on hosts without zoneinfo

	"autotrader/internal/domain"
)

// TradingCalendar provides market-hours awareness for a single regular
// session per weekday. Holidays can be added with AddHoliday.
type TradingCalendar struct {
	open     time.Duration // offset from local midnight
	close    time.Duration
	loc      *time.Location
	holidays map[string]struct{}
}

// NewTradingCalendar creates a TradingCalendar with the session window
// [open, close) given as "HH:MM" in the named IANA timezone.
func NewTradingCalendar(open, close, timezone string) (*TradingCalendar, error) {
	o, err := parseClock(open)
	if err != nil {
		return nil, fmt.Errorf("parsing market open %q: %w", open, err)
	}
	c, err := parseClock(close)
	if err != nil {
		return nil, fmt.Errorf("parsing market close %q: %w", close, err)
	}
	if o >= c {
		return nil, fmt.Errorf("market open %s must be before close %s", open, close)
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", timezone, err)
	}
	return &TradingCalendar{
		open:     o,
		close:    c,
		loc:      loc,
		holidays: make(map[string]struct{}),
	}, nil
}

// MarketCalendar returns the regular-session calendar for a market.
func MarketCalendar(market domain.Market) (*TradingCalendar, error) {
	switch market {
	case domain.MarketUS:
		return NewTradingCalendar("09:30", "16:00", "America/New_York")
	default:
		return nil, fmt.Errorf("unknown market %q", market)
	}
}

// AddHoliday marks a date (YYYY-MM-DD, exchange local) as closed.
func (tc *TradingCalendar) AddHoliday(date string) {
	tc.holidays[date] = struct{}{}
}

// Location returns the exchange timezone.
func (tc *TradingCalendar) Location() *time.Location {
	return tc.loc
}

// IsMarketOpen returns whether the market is open at time t. It depends only
// on t and the calendar configuration.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	local := t.In(tc.loc)
	if !tc.isTradingDay(local) {
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tc.loc)
	offset := local.Sub(midnight)
	return offset >= tc.open && offset < tc.close
}

// SessionDate returns the exchange-local calendar date of t as YYYY-MM-DD.
func (tc *TradingCalendar) SessionDate(t time.Time) string {
	return t.In(tc.loc).Format("2006-01-02")
}

// NextOpen returns the next market open time at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	local := t.In(tc.loc)
	for i := 0; i < 14; i++ {
		day := local.AddDate(0, 0, i)
		if !tc.isTradingDay(day) {
			continue
		}
		open := tc.at(day, tc.open)
		if !open.Before(local) {
			return open
		}
	}
	return time.Time{}
}

// NextClose returns the next market close time at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	local := t.In(tc.loc)
	for i := 0; i < 14; i++ {
		day := local.AddDate(0, 0, i)
		if !tc.isTradingDay(day) {
			continue
		}
		c := tc.at(day, tc.close)
		if !c.Before(local) {
			return c
		}
	}
	return time.Time{}
}

func (tc *TradingCalendar) isTradingDay(local time.Time) bool {
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	_, holiday := tc.holidays[local.Format("2006-01-02")]
	return !holiday
}

func (tc *TradingCalendar) at(day time.Time, offset time.Duration) time.Time {
	h := int(offset / time.Hour)
	m := int((offset % time.Hour) / time.Minute)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, tc.loc)
}

func parseClock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}
