package analytics

import (
	"testing"
	"time"

	"valuekit/internal/ledger"

	"github.com/stretchr/testify/assert"
)

func snapshotsFrom(values []float64) []ledger.PortfolioSnapshot {
	base := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]ledger.PortfolioSnapshot, len(values))
	for i, v := range values {
		out[i] = ledger.PortfolioSnapshot{Date: base.AddDate(0, 0, i), TotalValue: v}
	}
	return out
}

func TestCompute_FlatSeries(t *testing.T) {
	// 净值纹丝不动：所有指标必须是精确的 0，而不是 NaN
	m := Compute(snapshotsFrom([]float64{100000, 100000, 100000, 100000}), nil, 0)
	assert.Equal(t, 0.0, m.TotalReturnPct)
	assert.Equal(t, 0.0, m.CAGRPct)
	assert.Equal(t, 0.0, m.Sharpe)
	assert.Equal(t, 0.0, m.Sortino)
	assert.Equal(t, 0.0, m.MaxDrawdownPct)
	assert.Equal(t, 0.0, m.Calmar)
	assert.Equal(t, 0.0, m.ProfitFactor)
	assert.Equal(t, 0, m.Trades)
}

func TestCompute_DegenerateInputs(t *testing.T) {
	t.Run("Empty", func(t *testing.T) {
		m := Compute(nil, nil, 0.02)
		assert.Equal(t, 0.0, m.TotalReturnPct)
		assert.Equal(t, 0.0, m.Sharpe)
	})
	t.Run("Single Point", func(t *testing.T) {
		m := Compute(snapshotsFrom([]float64{100000}), nil, 0.02)
		assert.Equal(t, 0.0, m.CAGRPct)
		assert.Equal(t, 0.0, m.MaxDrawdownPct)
	})
}

func TestDailyReturns(t *testing.T) {
	r := DailyReturns([]float64{100, 110, 99})
	assert.Len(t, r, 2)
	assert.InDelta(t, 0.10, r[0], 1e-9)
	assert.InDelta(t, -0.10, r[1], 1e-9)

	t.Run("Zero Denominator", func(t *testing.T) {
		r := DailyReturns([]float64{0, 100})
		assert.Equal(t, []float64{0}, r)
	})
}

func TestSortino_NoNegativeReturns(t *testing.T) {
	assert.Equal(t, 0.0, Sortino([]float64{0.01, 0.02, 0.03}, 0))
}

func TestMaxDrawdown_PeakAndTrough(t *testing.T) {
	dd, peak, trough := MaxDrawdown([]float64{100, 120, 90, 110, 130, 104, 150})
	assert.InDelta(t, -0.25, dd, 1e-9)
	assert.Equal(t, 1, peak)
	assert.Equal(t, 2, trough)

	t.Run("Monotonic Up", func(t *testing.T) {
		dd, _, _ := MaxDrawdown([]float64{100, 110, 120})
		assert.Equal(t, 0.0, dd)
	})
}

func TestCAGR_UsesCalendarYears(t *testing.T) {
	// 365 个点约一年，翻倍 ≈ 100% 年化
	values := make([]float64, 366)
	for i := range values {
		values[i] = 100000 * (1 + float64(i)/365)
	}
	got := CAGR(values)
	assert.InDelta(t, 1.0, got, 0.01)
}

func TestProfitFactor(t *testing.T) {
	trades := []ledger.ClosedTrade{
		{PnL: 300, IsWin: true},
		{PnL: 100, IsWin: true},
		{PnL: -200, IsWin: false},
	}
	assert.InDelta(t, 2.0, ProfitFactor(trades), 1e-9)

	t.Run("No Losses", func(t *testing.T) {
		assert.Equal(t, 0.0, ProfitFactor([]ledger.ClosedTrade{{PnL: 100, IsWin: true}}))
	})
}

func TestCompute_TradeStats(t *testing.T) {
	open := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	trades := []ledger.ClosedTrade{
		{PnL: 100, IsWin: true, OpenDate: open, CloseDate: open.AddDate(0, 0, 90)},
		{PnL: -50, IsWin: false, OpenDate: open, CloseDate: open.AddDate(0, 0, 30)},
	}
	m := Compute(snapshotsFrom([]float64{100000, 100050}), trades, 0)
	assert.Equal(t, 2, m.Trades)
	assert.Equal(t, 1, m.Wins)
	assert.Equal(t, 1, m.Losses)
	assert.InDelta(t, 50.0, m.WinRatePct, 1e-9)
	assert.InDelta(t, 60.0, m.AvgHoldingDays, 1e-9)
}
