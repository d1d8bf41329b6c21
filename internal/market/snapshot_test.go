package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeKlines(n int, base float64) []Kline {
	klines := make([]Kline, n)
	now := time.Now()
	for i := range klines {
		price := base + float64(i)
		klines[i] = Kline{
			OpenTime:  now.Add(time.Duration(i-n) * time.Minute),
			Open:      price,
			High:      price + 0.5,
			Low:       price - 0.5,
			Close:     price + 0.2,
			Volume:    1000 + float64(i),
			CloseTime: now.Add(time.Duration(i-n+1) * time.Minute),
		}
	}
	return klines
}

func TestNewSnapshot(t *testing.T) {
	snapshot := NewSnapshot("BTCUSDT", makeKlines(50, 100))

	require.NoError(t, snapshot.Validate())
	assert.Equal(t, "BTCUSDT", snapshot.Symbol)
	assert.Len(t, snapshot.Closes, 50)
	assert.Len(t, snapshot.Highs, 50)
	assert.Len(t, snapshot.Lows, 50)
	assert.Len(t, snapshot.Volumes, 50)
	assert.Equal(t, 149.2, snapshot.LastClose())
}

func TestSnapshotValidate(t *testing.T) {
	t.Run("too few samples", func(t *testing.T) {
		snapshot := NewSnapshot("BTCUSDT", makeKlines(MinSamples-1, 100))
		err := snapshot.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "need at least")
	})

	t.Run("exactly min samples", func(t *testing.T) {
		snapshot := NewSnapshot("BTCUSDT", makeKlines(MinSamples, 100))
		assert.NoError(t, snapshot.Validate())
	})

	t.Run("missing symbol", func(t *testing.T) {
		snapshot := NewSnapshot("", makeKlines(50, 100))
		require.Error(t, snapshot.Validate())
	})

	t.Run("misaligned series", func(t *testing.T) {
		snapshot := NewSnapshot("BTCUSDT", makeKlines(50, 100))
		snapshot.Highs = snapshot.Highs[:40]
		err := snapshot.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "misaligned")
	})
}

func TestSnapshotSeriesCopies(t *testing.T) {
	snapshot := NewSnapshot("BTCUSDT", makeKlines(40, 100))

	closes := snapshot.CloseSeries()
	closes[0] = -1
	assert.NotEqual(t, -1.0, snapshot.Closes[0], "mutating the copy must not touch the snapshot")

	highs := snapshot.HighSeries()
	highs[0] = -1
	assert.NotEqual(t, -1.0, snapshot.Highs[0])
}

func TestLastCloseEmpty(t *testing.T) {
	snapshot := &Snapshot{Symbol: "BTCUSDT"}
	assert.Equal(t, 0.0, snapshot.LastClose())
}
