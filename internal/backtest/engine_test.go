package backtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"valuekit/internal/fmp"
	"valuekit/internal/fundamentals"
	"valuekit/internal/market"
	"valuekit/internal/valuation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDataProvider 给所有票返回足量历史报表；unavailable 里的票报数据缺失。
type fakeDataProvider struct {
	unavailable map[string]bool
	fatal       map[string]error
}

func (f *fakeDataProvider) statements(ticker string) ([]fmp.Statement, error) {
	if err := f.fatal[ticker]; err != nil {
		return nil, err
	}
	if f.unavailable[ticker] {
		return nil, fmp.ErrDataUnavailable
	}
	var out []fmp.Statement
	for year := 2021; year >= 2010; year-- {
		out = append(out, fmp.Statement{FiscalYear: year, EPS: 1})
	}
	return out, nil
}

func (f *fakeDataProvider) PriceHistory(context.Context, string, time.Time, time.Time) ([]market.Bar, error) {
	return nil, nil
}
func (f *fakeDataProvider) BalanceSheet(_ context.Context, ticker string, _ int) ([]fmp.Statement, error) {
	return f.statements(ticker)
}
func (f *fakeDataProvider) IncomeStatement(_ context.Context, ticker string, _ int) ([]fmp.Statement, error) {
	return f.statements(ticker)
}
func (f *fakeDataProvider) CashflowStatement(_ context.Context, ticker string, _ int) ([]fmp.Statement, error) {
	return f.statements(ticker)
}
func (f *fakeDataProvider) KeyMetrics(_ context.Context, ticker string, _ int) ([]fmp.Statement, error) {
	return f.statements(ticker)
}

// fakeScorer 按“该票第几次被打分”回放信号，便于模拟信号随调仓轮次变化。
type fakeScorer struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(ticker string, call int) (valuation.Signal, error)
}

func newFakeScorer(fn func(ticker string, call int) (valuation.Signal, error)) *fakeScorer {
	return &fakeScorer{calls: make(map[string]int), fn: fn}
}

func (f *fakeScorer) Score(ticker string, _ *fundamentals.Snapshot, _ float64) (valuation.Signal, error) {
	f.mu.Lock()
	f.calls[ticker]++
	n := f.calls[ticker]
	f.mu.Unlock()
	return f.fn(ticker, n)
}

func flatSeries(ticker string, start time.Time, days int, price float64) *market.Series {
	bars := make([]market.Bar, days)
	for i := range bars {
		bars[i] = market.Bar{Date: start.AddDate(0, 0, i), Close: price}
	}
	return market.NewSeries(ticker, bars)
}

func testConfig(universe []string, start, end time.Time) RunConfig {
	return RunConfig{
		Profile:        "default",
		Universe:       universe,
		Start:          start,
		End:            end,
		StartingCash:   100000,
		CommissionRate: 0,
		BuyMOS:         10,
		SellMOS:        -5,
		BuyQuality:     30,
		SellQuality:    20,
		MaxPositions:   20,
		RebalanceDays:  30,
	}
}

func newTestEngine(t *testing.T, cfg RunConfig, series map[string]*market.Series, provider fmp.Provider, scorer valuation.Scorer) *Engine {
	t.Helper()
	cache, err := fundamentals.NewCache(provider)
	require.NoError(t, err)
	e, err := NewEngine(cfg, series, cache, scorer)
	require.NoError(t, err)
	return e
}

func TestEngine_NoSignalsNoTrades(t *testing.T) {
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	series := map[string]*market.Series{"AAPL": flatSeries("AAPL", start, 61, 100)}
	scorer := newFakeScorer(func(string, int) (valuation.Signal, error) {
		return valuation.Signal{MOSPct: 5, Quality: 40, Recommendation: valuation.RecHold}, nil
	})

	e := newTestEngine(t, testConfig([]string{"AAPL"}, start, start.AddDate(0, 0, 61)), series, &fakeDataProvider{}, scorer)
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	require.Len(t, res.Snapshots, 61)
	for _, snap := range res.Snapshots {
		assert.InDelta(t, 100000, snap.TotalValue, 1e-9)
	}
	require.Len(t, res.Cycles, 3)
	assert.Equal(t, 1, res.Cycles[0].FailedMOS)
	assert.Equal(t, 0, res.Cycles[0].Buys)
}

func TestEngine_BuyThenSellOnRebalance(t *testing.T) {
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, 61)
	for i := range bars {
		px := 100.0
		if i >= 30 {
			px = 110
		}
		bars[i] = market.Bar{Date: start.AddDate(0, 0, i), Close: px}
	}
	series := map[string]*market.Series{"AAPL": market.NewSeries("AAPL", bars)}

	scorer := newFakeScorer(func(_ string, call int) (valuation.Signal, error) {
		if call == 1 {
			return valuation.Signal{MOSPct: 30, Quality: 40}, nil
		}
		// 第二轮起折价耗尽，触发卖出
		return valuation.Signal{MOSPct: -10, Quality: 40}, nil
	})

	e := newTestEngine(t, testConfig([]string{"AAPL"}, start, start.AddDate(0, 0, 61)), series, &fakeDataProvider{}, scorer)
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, "AAPL", tr.Ticker)
	assert.Equal(t, int64(1000), tr.Size)
	assert.InDelta(t, 100, tr.BuyPrice, 1e-9)
	assert.InDelta(t, 110, tr.SellPrice, 1e-9)
	assert.InDelta(t, 10000, tr.PnL, 1e-9)
	assert.Equal(t, start, tr.OpenDate)
	assert.Equal(t, start.AddDate(0, 0, 30), tr.CloseDate)

	assert.Equal(t, 0, e.Ledger().OpenCount())
	assert.InDelta(t, 110000, res.Snapshots[len(res.Snapshots)-1].TotalValue, 1e-9)
}

func TestEngine_ForceCloseAtEnd(t *testing.T) {
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	series := map[string]*market.Series{"AAPL": flatSeries("AAPL", start, 10, 100)}
	scorer := newFakeScorer(func(string, int) (valuation.Signal, error) {
		return valuation.Signal{MOSPct: 30, Quality: 40}, nil
	})

	cfg := testConfig([]string{"AAPL"}, start, start.AddDate(0, 0, 10))
	cfg.RebalanceDays = 90
	e := newTestEngine(t, cfg, series, &fakeDataProvider{}, scorer)
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	// 只有首日建仓，期末强制平仓收尾
	require.Len(t, res.Trades, 1)
	assert.Equal(t, start.AddDate(0, 0, 9), res.Trades[0].CloseDate)
	assert.Equal(t, 0, e.Ledger().OpenCount())
}

func TestEngine_MaxPositionsCap(t *testing.T) {
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	series := make(map[string]*market.Series)
	var universe []string
	mos := make(map[string]float64)
	for i := 0; i < 25; i++ {
		ticker := fmt.Sprintf("T%02d", i)
		universe = append(universe, ticker)
		series[ticker] = flatSeries(ticker, start, 5, 10)
		mos[ticker] = 11 + float64(i)
	}
	scorer := newFakeScorer(func(ticker string, _ int) (valuation.Signal, error) {
		return valuation.Signal{MOSPct: mos[ticker], Quality: 40}, nil
	})

	cfg := testConfig(universe, start, start.AddDate(0, 0, 5))
	cfg.RebalanceDays = 90
	e := newTestEngine(t, cfg, series, &fakeDataProvider{}, scorer)
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	cycle := res.Cycles[0]
	assert.Equal(t, 25, cycle.Evaluated)
	assert.Equal(t, 25, cycle.Passed)
	assert.Equal(t, 20, cycle.Buys)

	// 淘汰的是折价最浅的 5 只
	for i := 0; i < 5; i++ {
		assert.NotContains(t, heldAtClose(res), fmt.Sprintf("T%02d", i))
	}
	require.Len(t, res.Trades, 20)
}

// heldAtClose 从强制平仓的成交回合里还原期末持仓集合。
func heldAtClose(res Result) []string {
	var out []string
	for _, tr := range res.Trades {
		out = append(out, tr.Ticker)
	}
	return out
}

func TestEngine_SkipsUnavailableAndFailed(t *testing.T) {
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	series := map[string]*market.Series{
		"GOOD": flatSeries("GOOD", start, 5, 100),
		"BAD":  flatSeries("BAD", start, 5, 100),
		"FAIL": flatSeries("FAIL", start, 5, 100),
	}
	provider := &fakeDataProvider{unavailable: map[string]bool{"BAD": true}}
	scorer := newFakeScorer(func(ticker string, _ int) (valuation.Signal, error) {
		if ticker == "FAIL" {
			return valuation.Signal{}, errors.New("估值失败")
		}
		return valuation.Signal{MOSPct: 5, Quality: 40}, nil
	})

	e := newTestEngine(t, testConfig([]string{"GOOD", "BAD", "FAIL"}, start, start.AddDate(0, 0, 5)), series, provider, scorer)
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	cycle := res.Cycles[0]
	assert.Equal(t, 3, cycle.Evaluated)
	assert.Equal(t, 1, cycle.DataUnavailable)
	assert.Equal(t, 1, cycle.ScoringFailed)
	assert.Equal(t, 1, cycle.FailedMOS)
}

func TestEngine_FatalProviderErrorAborts(t *testing.T) {
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	series := map[string]*market.Series{"AAPL": flatSeries("AAPL", start, 5, 100)}
	boom := errors.New("storage corrupted")
	provider := &fakeDataProvider{fatal: map[string]error{"AAPL": boom}}
	scorer := newFakeScorer(func(string, int) (valuation.Signal, error) {
		return valuation.Signal{}, nil
	})

	e := newTestEngine(t, testConfig([]string{"AAPL"}, start, start.AddDate(0, 0, 5)), series, provider, scorer)
	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestEngine_EmptyUniverse(t *testing.T) {
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	scorer := newFakeScorer(func(string, int) (valuation.Signal, error) {
		return valuation.Signal{}, nil
	})
	e := newTestEngine(t, testConfig([]string{"AAPL"}, start, start.AddDate(0, 0, 5)), map[string]*market.Series{}, &fakeDataProvider{}, scorer)
	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, ErrInsufficientUniverse)
}

func TestRunConfig_Validate(t *testing.T) {
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	valid := testConfig([]string{"AAPL"}, start, start.AddDate(0, 0, 5))
	assert.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*RunConfig)
	}{
		{"Empty Universe", func(c *RunConfig) { c.Universe = nil }},
		{"Start After End", func(c *RunConfig) { c.End = c.Start }},
		{"Zero Cash", func(c *RunConfig) { c.StartingCash = 0 }},
		{"Negative Commission", func(c *RunConfig) { c.CommissionRate = -0.01 }},
		{"Zero Max Positions", func(c *RunConfig) { c.MaxPositions = 0 }},
		{"Zero Rebalance Days", func(c *RunConfig) { c.RebalanceDays = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			var ce *ConfigError
			assert.ErrorAs(t, err, &ce)
		})
	}
}

func TestEngine_SoldTickerNotReboughtSameCycle(t *testing.T) {
	start := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	series := map[string]*market.Series{"AAPL": flatSeries("AAPL", start, 31, 100)}
	// 第一轮买入，第二轮 MOS 跌破卖出线但仍高于买入线。
	scorer := newFakeScorer(func(_ string, call int) (valuation.Signal, error) {
		if call == 1 {
			return valuation.Signal{MOSPct: 60, Quality: 40, Recommendation: valuation.RecStrongBuy}, nil
		}
		return valuation.Signal{MOSPct: 30, Quality: 40, Recommendation: valuation.RecBuy}, nil
	})

	cfg := testConfig([]string{"AAPL"}, start, start.AddDate(0, 0, 31))
	cfg.SellMOS = 50
	e := newTestEngine(t, cfg, series, &fakeDataProvider{}, scorer)
	res, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Cycles, 2)
	second := res.Cycles[1]
	assert.Equal(t, 1, second.Sells)
	assert.Equal(t, 0, second.Buys)
	assert.Equal(t, 1, second.Evaluated)
	assert.Len(t, res.Trades, 1)
	assert.Equal(t, 0, e.Ledger().OpenCount())
}
