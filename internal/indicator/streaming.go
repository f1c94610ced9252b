package indicator

import (
	"fmt"

	"autotrader/internal/domain"
)

// Stream maintains the indicator Set incrementally. Feeding it a bar
// sequence from the beginning yields the same values as Compute over that
// sequence, without recomputing the full window on every bar.
//
// A Stream is not safe for concurrent use.
type Stream struct {
	closes [LongSMAPeriod]float64 // ring of the last LongSMAPeriod closes
	count  int

	sum20 float64
	sum50 float64

	gains     [RSIPeriod]float64 // ring of the last RSIPeriod deltas, split by sign
	losses    [RSIPeriod]float64
	deltas    int
	sumGain   float64
	sumLoss   float64
	lossCount int // nonzero losses in the ring; exact zero check for RSI

	emaFast   float64
	emaSlow   float64
	emaSignal float64

	last domain.Bar
}

// NewStream returns an empty Stream.
func NewStream() *Stream {
	return &Stream{}
}

// Push appends the next bar. Bars must arrive in chronological order.
func (s *Stream) Push(b domain.Bar) {
	c := b.Close

	if s.count > 0 {
		d := c - s.last.Close
		slot := s.deltas % RSIPeriod
		if s.deltas >= RSIPeriod {
			s.sumGain -= s.gains[slot]
			s.sumLoss -= s.losses[slot]
			if s.losses[slot] > 0 {
				s.lossCount--
			}
		}
		s.gains[slot], s.losses[slot] = 0, 0
		if d > 0 {
			s.gains[slot] = d
		} else if d < 0 {
			s.losses[slot] = -d
			s.lossCount++
		}
		s.sumGain += s.gains[slot]
		s.sumLoss += s.losses[slot]
		s.deltas++
	}

	if s.count >= ShortSMAPeriod {
		s.sum20 -= s.closes[(s.count-ShortSMAPeriod)%LongSMAPeriod]
	}
	slot := s.count % LongSMAPeriod
	if s.count >= LongSMAPeriod {
		s.sum50 -= s.closes[slot]
	}
	s.closes[slot] = c
	s.sum20 += c
	s.sum50 += c

	if s.count == 0 {
		s.emaFast, s.emaSlow = c, c
		s.emaSignal = 0
	} else {
		af, as := smoothing(MACDFastSpan), smoothing(MACDSlowSpan)
		s.emaFast = af*c + (1-af)*s.emaFast
		s.emaSlow = as*c + (1-as)*s.emaSlow
		asig := smoothing(MACDSignalSpan)
		s.emaSignal = asig*(s.emaFast-s.emaSlow) + (1-asig)*s.emaSignal
	}

	s.count++
	s.last = b
}

// Ready reports whether enough bars have been pushed for a valid Set.
func (s *Stream) Ready() bool {
	return s.count >= MinBars
}

// Len returns the number of bars pushed so far.
func (s *Stream) Len() int {
	return s.count
}

// Value returns the Set for the most recently pushed bar.
func (s *Stream) Value() (Set, error) {
	if !s.Ready() {
		return Set{}, fmt.Errorf("need %d bars, got %d: %w", MinBars, s.count, domain.ErrInsufficientHistory)
	}
	rsi := 100.0
	if s.lossCount > 0 {
		rsi = rsiFromAverages(s.sumGain/RSIPeriod, s.sumLoss/RSIPeriod)
	}
	return Set{
		Timestamp:  s.last.Timestamp,
		Close:      s.last.Close,
		SMA20:      s.sum20 / ShortSMAPeriod,
		SMA50:      s.sum50 / LongSMAPeriod,
		RSI:        rsi,
		MACD:       s.emaFast - s.emaSlow,
		MACDSignal: s.emaSignal,
	}, nil
}

// Reset clears all state.
func (s *Stream) Reset() {
	*s = Stream{}
}
