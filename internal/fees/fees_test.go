package fees

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel(t *testing.T) *Model {
	t.Helper()
	return New(map[string]Rates{
		"binance": RatesFromFloat(0.001, 0.001),
	}, decimal.Zero)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRatesUnknownVenue(t *testing.T) {
	model := testModel(t)

	_, err := model.Rates("kraken")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownVenue)

	_, err = model.MinProfitPct("kraken")
	assert.ErrorIs(t, err, ErrUnknownVenue)

	_, _, err = model.TakeProfit("kraken", d("100"), SideLong, nil)
	assert.ErrorIs(t, err, ErrUnknownVenue)
}

func TestMinProfitPct(t *testing.T) {
	model := testModel(t)

	pct, err := model.MinProfitPct("binance")
	require.NoError(t, err)
	// 2 * 0.001 taker + 0.001 buffer
	assert.True(t, pct.Equal(d("0.003")), "got %s", pct)
}

func TestTakeProfitDefault(t *testing.T) {
	model := testModel(t)

	price, pct, err := model.TakeProfit("binance", d("100"), SideLong, nil)
	require.NoError(t, err)
	// 3x the 0.003 break-even threshold
	assert.True(t, pct.Equal(d("0.009")), "got %s", pct)
	assert.True(t, price.Equal(d("100.9")), "got %s", price)
}

func TestTakeProfitShortMirrors(t *testing.T) {
	model := testModel(t)

	price, pct, err := model.TakeProfit("binance", d("100"), SideShort, nil)
	require.NoError(t, err)
	assert.True(t, pct.Equal(d("0.009")))
	assert.True(t, price.Equal(d("99.1")), "got %s", price)
}

func TestTakeProfitFloor(t *testing.T) {
	model := testModel(t)

	// Request 0.1%, well inside the fee band. Floor is 1.5 * 0.003.
	desired := d("0.001")
	price, pct, err := model.TakeProfit("binance", d("100"), SideLong, &desired)
	require.NoError(t, err)
	assert.True(t, pct.Equal(d("0.0045")), "got %s", pct)
	assert.True(t, price.Equal(d("100.45")), "got %s", price)
}

func TestTakeProfitHonorsGenerousTarget(t *testing.T) {
	model := testModel(t)

	desired := d("0.05")
	_, pct, err := model.TakeProfit("binance", d("100"), SideLong, &desired)
	require.NoError(t, err)
	assert.True(t, pct.Equal(d("0.05")))
}

func TestStopLossInflatesByRoundTripFees(t *testing.T) {
	model := testModel(t)

	price, err := model.StopLoss("binance", d("100"), SideLong, d("0.03"))
	require.NoError(t, err)
	// 100 * (1 - (0.03 + 0.002)) = 96.8
	assert.True(t, price.Equal(d("96.8")), "got %s", price)
}

func TestStopLossShortMirrors(t *testing.T) {
	model := testModel(t)

	price, err := model.StopLoss("binance", d("100"), SideShort, d("0.03"))
	require.NoError(t, err)
	assert.True(t, price.Equal(d("103.2")), "got %s", price)
}

func TestStopLossDefaultBudget(t *testing.T) {
	model := testModel(t)

	price, err := model.StopLoss("binance", d("100"), SideLong, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, price.Equal(d("96.8")), "zero budget selects the 3%% default, got %s", price)
}

func TestNetProfitZeroMoveLaw(t *testing.T) {
	model := testModel(t)

	for _, side := range []Side{SideLong, SideShort} {
		bd, err := model.NetProfit("binance", d("250"), d("250"), d("1000"), side)
		require.NoError(t, err)

		// Exactly the round-trip fee: -2 * 0.001 * 1000
		assert.True(t, bd.NetQuote.Equal(d("-2")), "side %s got %s", side, bd.NetQuote)
		assert.True(t, bd.GrossPct.IsZero())
		assert.True(t, bd.GrossQuote.IsZero())
		assert.False(t, bd.Profitable)
	}
}

func TestNetProfitLongWin(t *testing.T) {
	model := testModel(t)

	// Scenario: TP at the default 0.9% target must clear fees.
	bd, err := model.NetProfit("binance", d("100"), d("100.9"), d("10"), SideLong)
	require.NoError(t, err)

	assert.True(t, bd.GrossPct.Equal(d("0.009")), "got %s", bd.GrossPct)
	assert.True(t, bd.EntryFee.Equal(d("0.01")))
	assert.True(t, bd.NetQuote.GreaterThan(decimal.Zero), "net %s must be positive", bd.NetQuote)
	assert.True(t, bd.Profitable)
}

func TestNetProfitStopLossLoss(t *testing.T) {
	model := testModel(t)

	// Close exactly at the computed SL: loss exceeds the 3% budget by the
	// fee component.
	bd, err := model.NetProfit("binance", d("100"), d("96.8"), d("1000"), SideLong)
	require.NoError(t, err)

	assert.True(t, bd.GrossPct.Equal(d("-0.032")), "got %s", bd.GrossPct)
	assert.True(t, bd.NetPct.LessThan(d("-0.03")), "net pct %s must exceed the 3%% budget", bd.NetPct)
	assert.False(t, bd.Profitable)
}

func TestNetProfitShortWin(t *testing.T) {
	model := testModel(t)

	bd, err := model.NetProfit("binance", d("100"), d("95"), d("1000"), SideShort)
	require.NoError(t, err)

	assert.True(t, bd.GrossPct.Equal(d("0.05")))
	assert.True(t, bd.Profitable)
}

func TestNetProfitZeroEntryRejected(t *testing.T) {
	model := testModel(t)

	_, err := model.NetProfit("binance", decimal.Zero, d("100"), d("10"), SideLong)
	require.Error(t, err)
}

func TestTakeProfitIsFeeSafeByConstruction(t *testing.T) {
	model := New(map[string]Rates{
		"binance": RatesFromFloat(0.001, 0.001),
		"cheap":   RatesFromFloat(0.0001, 0.00075),
		"pricey":  RatesFromFloat(0.002, 0.0026),
	}, decimal.Zero)

	entries := []string{"0.01", "1", "100", "42000"}
	for _, venue := range []string{"binance", "cheap", "pricey"} {
		for _, e := range entries {
			for _, side := range []Side{SideLong, SideShort} {
				entry := d(e)
				tp, _, err := model.TakeProfit(venue, entry, side, nil)
				require.NoError(t, err)

				bd, err := model.NetProfit(venue, entry, tp, d("1000"), side)
				require.NoError(t, err)
				assert.True(t, bd.NetQuote.GreaterThan(decimal.Zero),
					"venue=%s entry=%s side=%s tp=%s net=%s", venue, e, side, tp, bd.NetQuote)
			}
		}
	}
}
