package market

import (
	"fmt"
	"time"
)

// MinSamples is the minimum series length a snapshot must carry before the
// strategy math is allowed to run on it.
const MinSamples = 30

// Kline is one OHLCV candle as returned by a venue.
type Kline struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// Snapshot is an immutable view of recent market data for one symbol.
// All series are aligned oldest-first and have equal length.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Closes    []float64 `json:"closes"`
	Highs     []float64 `json:"highs"`
	Lows      []float64 `json:"lows"`
	Volumes   []float64 `json:"volumes"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSnapshot builds a snapshot from venue klines.
func NewSnapshot(symbol string, klines []Kline) *Snapshot {
	s := &Snapshot{
		Symbol:    symbol,
		Closes:    make([]float64, len(klines)),
		Highs:     make([]float64, len(klines)),
		Lows:      make([]float64, len(klines)),
		Volumes:   make([]float64, len(klines)),
		Timestamp: time.Now(),
	}
	for i, k := range klines {
		s.Closes[i] = k.Close
		s.Highs[i] = k.High
		s.Lows[i] = k.Low
		s.Volumes[i] = k.Volume
	}
	return s
}

// Validate checks that the snapshot carries enough aligned samples.
func (s *Snapshot) Validate() error {
	if s.Symbol == "" {
		return fmt.Errorf("snapshot has no symbol")
	}
	n := len(s.Closes)
	if n < MinSamples {
		return fmt.Errorf("snapshot for %s has %d samples, need at least %d", s.Symbol, n, MinSamples)
	}
	if len(s.Highs) != n || len(s.Lows) != n || len(s.Volumes) != n {
		return fmt.Errorf("snapshot for %s has misaligned series", s.Symbol)
	}
	return nil
}

// LastClose returns the most recent close price, or 0 on an empty snapshot.
func (s *Snapshot) LastClose() float64 {
	if len(s.Closes) == 0 {
		return 0
	}
	return s.Closes[len(s.Closes)-1]
}

// CloseSeries returns a copy of the close series. Agents run indicator math
// over channels that consume the slice, so they get their own copy.
func (s *Snapshot) CloseSeries() []float64 {
	out := make([]float64, len(s.Closes))
	copy(out, s.Closes)
	return out
}

// HighSeries returns a copy of the high series.
func (s *Snapshot) HighSeries() []float64 {
	out := make([]float64, len(s.Highs))
	copy(out, s.Highs)
	return out
}

// LowSeries returns a copy of the low series.
func (s *Snapshot) LowSeries() []float64 {
	out := make([]float64, len(s.Lows))
	copy(out, s.Lows)
	return out
}

// VolumeSeries returns a copy of the volume series.
func (s *Snapshot) VolumeSeries() []float64 {
	out := make([]float64, len(s.Volumes))
	copy(out, s.Volumes)
	return out
}
