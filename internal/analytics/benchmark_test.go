package analytics

import (
	"testing"
	"time"

	"valuekit/internal/market"

	"github.com/stretchr/testify/assert"
)

func benchSeries(closes []float64) *market.Series {
	base := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Date: base.AddDate(0, 0, i), Close: c}
	}
	return market.NewSeries("SPY", bars)
}

func TestCompareBenchmark_Unavailable(t *testing.T) {
	t.Run("Nil Series", func(t *testing.T) {
		res := CompareBenchmark([]float64{100, 110, 120}, nil, 0)
		assert.False(t, res.Available)
	})
	t.Run("Too Short", func(t *testing.T) {
		res := CompareBenchmark([]float64{100, 110, 120}, benchSeries([]float64{400}), 0)
		assert.False(t, res.Available)
	})
}

func TestCompareBenchmark_IdenticalSeries(t *testing.T) {
	strat := []float64{100, 102, 101, 105, 104, 108}
	res := CompareBenchmark(strat, benchSeries(strat), 0)
	assert.True(t, res.Available)
	assert.Equal(t, "SPY", res.Ticker)
	assert.InDelta(t, 8.0, res.TotalReturnPct, 1e-9)
	assert.InDelta(t, 0.0, res.Outperformance, 1e-9)
	assert.InDelta(t, 1.0, res.Beta, 1e-9)
	assert.InDelta(t, 1.0, res.Correlation, 1e-9)
	assert.InDelta(t, 0.0, res.Alpha, 1e-9)
	assert.InDelta(t, 0.0, res.TrackingError, 1e-9)
	assert.Equal(t, 0.0, res.InformationRate)
}

func TestCompareBenchmark_AlignsToShorterSeries(t *testing.T) {
	strat := []float64{100, 102, 101, 105, 104, 108, 112, 115}
	res := CompareBenchmark(strat, benchSeries([]float64{400, 404, 402, 410}), 0)
	assert.True(t, res.Available)
	// 基准总收益按基准自身全窗口算
	assert.InDelta(t, 2.5, res.TotalReturnPct, 1e-9)
}

func TestCompareBenchmark_Outperformance(t *testing.T) {
	strat := []float64{100, 105, 110, 120}
	res := CompareBenchmark(strat, benchSeries([]float64{100, 101, 102, 103}), 0)
	assert.True(t, res.Available)
	assert.InDelta(t, 20.0-3.0, res.Outperformance, 1e-9)
	assert.Greater(t, res.Alpha, 0.0)
}
