// Package indicator computes the technical indicators the signal rule is
// evaluated on: SMA(20), SMA(50), RSI(14), MACD(12,26) and its 9-period
// signal line.
//
// Compute is a pure function of the bar window. Stream maintains the same
// values incrementally for callers that see bars one at a time.
package indicator

import (
	"fmt"
	"time"

	"autotrader/internal/domain"
)

// Indicator periods.
const (
	ShortSMAPeriod = 20
	LongSMAPeriod  = 50
	RSIPeriod      = 14
	MACDFastSpan   = 12
	MACDSlowSpan   = 26
	MACDSignalSpan = 9

	// MinBars is the shortest window for which a Set is valid.
	MinBars = LongSMAPeriod
)

// Set holds indicator values for the most recent bar of a window.
type Set struct {
	Timestamp  time.Time `json:"timestamp"`
	Close      float64   `json:"close"`
	SMA20      float64   `json:"sma20"`
	SMA50      float64   `json:"sma50"`
	RSI        float64   `json:"rsi"`
	MACD       float64   `json:"macd"`
	MACDSignal float64   `json:"macd_signal"`
}

// Compute derives the indicator Set from bars ordered oldest first. Windows
// shorter than MinBars return domain.ErrInsufficientHistory.
func Compute(bars []domain.Bar) (Set, error) {
	if len(bars) < MinBars {
		return Set{}, fmt.Errorf("need %d bars, got %d: %w", MinBars, len(bars), domain.ErrInsufficientHistory)
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	sma20, err := SMA(closes, ShortSMAPeriod)
	if err != nil {
		return Set{}, err
	}
	sma50, err := SMA(closes, LongSMAPeriod)
	if err != nil {
		return Set{}, err
	}
	rsi, err := RSI(closes, RSIPeriod)
	if err != nil {
		return Set{}, err
	}
	macd, signal := MACD(closes)

	last := bars[len(bars)-1]
	return Set{
		Timestamp:  last.Timestamp,
		Close:      last.Close,
		SMA20:      sma20,
		SMA50:      sma50,
		RSI:        rsi,
		MACD:       macd,
		MACDSignal: signal,
	}, nil
}

// SMA returns the mean of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(values) < period {
		return 0, fmt.Errorf("need %d values, got %d: %w", period, len(values), domain.ErrInsufficientHistory)
	}
	sum := 0.0
	for _, v := range values[len(values)-period:] {
		sum += v
	}
	return sum / float64(period), nil
}

// EMASeries returns the exponentially weighted moving average of values with
// smoothing factor 2/(span+1), seeded with the first value.
func EMASeries(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := smoothing(span)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI returns the relative strength index over the last period close deltas.
// Gains and losses are averaged over all period deltas, with zeros counted.
// A window with no losses saturates at 100.
func RSI(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, fmt.Errorf("period must be positive, got %d", period)
	}
	if len(closes) < period+1 {
		return 0, fmt.Errorf("need %d closes, got %d: %w", period+1, len(closes), domain.ErrInsufficientHistory)
	}
	var gains, losses float64
	var lossCount int
	for i := len(closes) - period; i < len(closes); i++ {
		d := closes[i] - closes[i-1]
		if d > 0 {
			gains += d
		} else if d < 0 {
			losses -= d
			lossCount++
		}
	}
	if lossCount == 0 {
		return 100, nil
	}
	return rsiFromAverages(gains/float64(period), losses/float64(period)), nil
}

// MACD returns the last MACD value and its signal line for closes.
func MACD(closes []float64) (macd, signal float64) {
	if len(closes) == 0 {
		return 0, 0
	}
	fast := EMASeries(closes, MACDFastSpan)
	slow := EMASeries(closes, MACDSlowSpan)
	line := make([]float64, len(closes))
	for i := range closes {
		line[i] = fast[i] - slow[i]
	}
	sig := EMASeries(line, MACDSignalSpan)
	return line[len(line)-1], sig[len(sig)-1]
}

func smoothing(span int) float64 {
	return 2.0 / float64(span+1)
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100
	}
	rsi := 100 - 100/(1+avgGain/avgLoss)
	switch {
	case rsi < 0:
		return 0
	case rsi > 100:
		return 100
	}
	return rsi
}
