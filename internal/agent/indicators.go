package agent

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"
)

// cinar/indicator computes over channels. sliceChan feeds a series in and
// drain collects the result so the strategies can stay slice-shaped.

func sliceChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func drain(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

// computeRSI returns the RSI series for the given period.
func computeRSI(closes []float64, period int) ([]float64, error) {
	if period < 1 || period > len(closes) {
		return nil, fmt.Errorf("invalid RSI period %d for %d samples", period, len(closes))
	}

	rsi := momentum.NewRsiWithPeriod[float64](period)
	values := drain(rsi.Compute(sliceChan(closes)))
	if len(values) == 0 {
		return nil, fmt.Errorf("no RSI values calculated")
	}
	return values, nil
}

// computeEMA returns the EMA series for the given period.
func computeEMA(closes []float64, period int) ([]float64, error) {
	if period < 1 || period > len(closes) {
		return nil, fmt.Errorf("invalid EMA period %d for %d samples", period, len(closes))
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	values := drain(ema.Compute(sliceChan(closes)))
	if len(values) == 0 {
		return nil, fmt.Errorf("no EMA values calculated")
	}
	return values, nil
}

// computeMACD returns aligned MACD and signal-line series.
func computeMACD(closes []float64, fast, slow, signal int) ([]float64, []float64, error) {
	if fast < 1 || slow < 1 || signal < 1 {
		return nil, nil, fmt.Errorf("invalid MACD periods: fast=%d, slow=%d, signal=%d", fast, slow, signal)
	}
	if fast >= slow {
		return nil, nil, fmt.Errorf("fast period (%d) must be less than slow period (%d)", fast, slow)
	}
	if len(closes) < slow+signal {
		return nil, nil, fmt.Errorf("insufficient data: need at least %d prices, got %d", slow+signal, len(closes))
	}

	macd := trend.NewMacdWithPeriod[float64](fast, slow, signal)
	macdChan, signalChan := macd.Compute(sliceChan(closes))

	var macdValues, signalValues []float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		signalValues = append(signalValues, s)
	}

	if len(macdValues) == 0 {
		return nil, nil, fmt.Errorf("no MACD values calculated")
	}
	return macdValues, signalValues, nil
}

// computeBollinger returns aligned lower, middle and upper band series.
func computeBollinger(closes []float64, period int) ([]float64, []float64, []float64, error) {
	if period < 2 || period > len(closes) {
		return nil, nil, nil, fmt.Errorf("invalid Bollinger period %d for %d samples", period, len(closes))
	}

	bb := volatility.NewBollingerBandsWithPeriod[float64](period)
	// BollingerBands.Compute emits (upper, middle, lower), widest first.
	upperChan, middleChan, lowerChan := bb.Compute(sliceChan(closes))

	var lower, middle, upper []float64
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lower = append(lower, l)
		middle = append(middle, m)
		upper = append(upper, u)
	}

	if len(middle) == 0 {
		return nil, nil, nil, fmt.Errorf("no Bollinger Bands values calculated")
	}
	return lower, middle, upper, nil
}

// computeATR implements the Average True Range manually; the channel math in
// cinar/indicator v2 does not expose ATR over separate H/L/C series in the
// shape the breakout agent needs.
func computeATR(highs, lows, closes []float64, period int) (float64, error) {
	n := len(closes)
	if len(highs) != n || len(lows) != n {
		return 0, fmt.Errorf("high, low, and close arrays must have the same length")
	}
	if period < 1 || n < period+1 {
		return 0, fmt.Errorf("insufficient data: need at least %d prices, got %d", period+1, n)
	}

	tr := make([]float64, n)
	for i := 1; i < n; i++ {
		tr[i] = math.Max(highs[i]-lows[i],
			math.Max(math.Abs(highs[i]-closes[i-1]),
				math.Abs(lows[i]-closes[i-1])))
	}

	// Wilder smoothing: seed with a simple average, then blend.
	atr := 0.0
	for i := 1; i <= period; i++ {
		atr += tr[i]
	}
	atr /= float64(period)
	for i := period + 1; i < n; i++ {
		atr = (atr*float64(period-1) + tr[i]) / float64(period)
	}
	return atr, nil
}

// channelExtremes returns the highest high and lowest low over the last
// `period` candles, excluding the most recent one so a breakout of the prior
// range is detectable.
func channelExtremes(highs, lows []float64, period int) (float64, float64, error) {
	n := len(highs)
	if len(lows) != n {
		return 0, 0, fmt.Errorf("high and low arrays must have the same length")
	}
	if period < 1 || n < period+1 {
		return 0, 0, fmt.Errorf("insufficient data: need at least %d candles, got %d", period+1, n)
	}

	highest := math.Inf(-1)
	lowest := math.Inf(1)
	for i := n - 1 - period; i < n-1; i++ {
		if highs[i] > highest {
			highest = highs[i]
		}
		if lows[i] < lowest {
			lowest = lows[i]
		}
	}
	return highest, lowest, nil
}
