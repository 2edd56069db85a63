package analytics

import (
	"math"

	"valuekit/internal/market"
)

// BenchmarkResult 是策略对基准的比较结果。
// 基准数据拿不到时 Available 为 false，其余字段为零值，不视为错误。
type BenchmarkResult struct {
	Available       bool    `json:"available"`
	Ticker          string  `json:"ticker"`
	TotalReturnPct  float64 `json:"total_return_pct"`
	Outperformance  float64 `json:"outperformance_pct"`
	Alpha           float64 `json:"alpha"`
	Beta            float64 `json:"beta"`
	Correlation     float64 `json:"correlation"`
	TrackingError   float64 `json:"tracking_error"`
	InformationRate float64 `json:"information_ratio"`
}

// CompareBenchmark 用同窗口的基准行情模拟一份等额买入持有，
// 再对两条日收益序列算 alpha/beta/相关性/跟踪误差/信息比率。
func CompareBenchmark(strategyValues []float64, bench *market.Series, riskFree float64) BenchmarkResult {
	if bench == nil || bench.Len() < 2 || len(strategyValues) < 2 {
		return BenchmarkResult{}
	}

	benchValues := make([]float64, 0, bench.Len())
	for i := 0; i < bench.Len(); i++ {
		bar, _ := bench.At(i)
		benchValues = append(benchValues, bar.Close)
	}

	stratReturns := DailyReturns(strategyValues)
	benchReturns := DailyReturns(benchValues)
	// 两边的交易日历可能不完全一致，对齐到较短的一段。
	n := len(stratReturns)
	if len(benchReturns) < n {
		n = len(benchReturns)
	}
	if n < 2 {
		return BenchmarkResult{}
	}
	stratReturns = stratReturns[:n]
	benchReturns = benchReturns[:n]

	res := BenchmarkResult{
		Available:      true,
		Ticker:         bench.Ticker,
		TotalReturnPct: TotalReturn(benchValues) * 100,
	}
	res.Outperformance = TotalReturn(strategyValues)*100 - res.TotalReturnPct

	benchVar := variance(benchReturns)
	if benchVar > 0 {
		res.Beta = covariance(stratReturns, benchReturns) / benchVar
	}

	daily := riskFree / tradingDaysPerYear
	stratExcess := mean(stratReturns) - daily
	benchExcess := mean(benchReturns) - daily
	res.Alpha = (stratExcess - res.Beta*benchExcess) * tradingDaysPerYear

	res.Correlation = correlation(stratReturns, benchReturns)

	diff := make([]float64, n)
	for i := range diff {
		diff[i] = stratReturns[i] - benchReturns[i]
	}
	res.TrackingError = stddev(diff) * math.Sqrt(tradingDaysPerYear)
	if res.TrackingError != 0 {
		res.InformationRate = res.Alpha / res.TrackingError
	}
	return res
}

func variance(xs []float64) float64 {
	sd := stddev(xs)
	return sd * sd
}

func covariance(xs, ys []float64) float64 {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	var sum float64
	for i := range xs {
		sum += (xs[i] - mx) * (ys[i] - my)
	}
	return sum / float64(len(xs)-1)
}

func correlation(xs, ys []float64) float64 {
	sx, sy := stddev(xs), stddev(ys)
	if sx == 0 || sy == 0 {
		return 0
	}
	return covariance(xs, ys) / (sx * sy)
}
