package valuation

import (
	"math"

	"valuekit/internal/fundamentals"
)

const (
	fallbackGrowth = 0.10
	minGrowth      = -0.50
	maxGrowth      = 1.00
)

// GrowthEstimate 从快照的多年历史里估算平均复合增速。
// 对每股账面价值、EPS、每股营收、每股经营现金流、每股 FCF 分别算 CAGR 再取平均；
// 历史不足两年或结果越界时退回 10%。
func GrowthEstimate(snap *fundamentals.Snapshot) float64 {
	if snap == nil {
		return fallbackGrowth
	}
	years := snap.Years()
	if len(years) < 2 {
		return fallbackGrowth
	}
	// Years() 最近在前；首尾相差的年数即复利期。
	newest, oldest := years[0], years[len(years)-1]
	period := newest - oldest
	if period <= 0 {
		return fallbackGrowth
	}

	type metric struct {
		start, end float64
	}
	newIncome, okNI := snap.IncomeFor(newest)
	oldIncome, okOI := snap.IncomeFor(oldest)
	newMetrics, okNM := snap.MetricsFor(newest)
	oldMetrics, okOM := snap.MetricsFor(oldest)
	newCash, okNC := snap.CashflowFor(newest)
	oldCash, okOC := snap.CashflowFor(oldest)

	var pairs []metric
	if okNM && okOM {
		pairs = append(pairs,
			metric{oldMetrics.BookValuePerShare, newMetrics.BookValuePerShare},
			metric{oldMetrics.RevenuePerShare, newMetrics.RevenuePerShare},
			metric{oldMetrics.FCFPerShare, newMetrics.FCFPerShare},
		)
	}
	if okNI && okOI {
		pairs = append(pairs, metric{oldIncome.EPS, newIncome.EPS})
	}
	if okNC && okOC {
		pairs = append(pairs, metric{oldCash.OperatingCashFlow, newCash.OperatingCashFlow})
	}

	var sum float64
	var n int
	for _, p := range pairs {
		if p.start <= 0 || p.end <= 0 {
			continue
		}
		sum += cagr(p.start, p.end, period)
		n++
	}
	if n == 0 {
		return fallbackGrowth
	}
	avg := sum / float64(n)
	if avg < minGrowth || avg > maxGrowth {
		return fallbackGrowth
	}
	return avg
}

func cagr(start, end float64, years int) float64 {
	return math.Pow(end/start, 1/float64(years)) - 1
}
