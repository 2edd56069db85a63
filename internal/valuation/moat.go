package valuation

import (
	"valuekit/internal/fundamentals"
)

// MoatScore 给出 0~50 的护城河评分，五个维度各 10 分：
// ROE、ROIC、营业利润率、资产负债结构、自由现金流。
// 强指标得满分，次强得 5 分，其余 0 分。
func MoatScore(snap *fundamentals.Snapshot) float64 {
	metrics := snap.LatestMetrics()
	income := snap.LatestIncome()
	balance := snap.LatestBalance()
	cash := snap.LatestCashflow()

	var score float64

	switch {
	case metrics.ROE > 0.15:
		score += 10
	case metrics.ROE > 0.10:
		score += 5
	}

	switch {
	case metrics.ROIC > 0.15:
		score += 10
	case metrics.ROIC > 0.10:
		score += 5
	}

	if income.Revenue > 0 {
		margin := income.OperatingIncome / income.Revenue
		switch {
		case margin > 0.20:
			score += 10
		case margin > 0.10:
			score += 5
		}
	}

	if balance.TotalEquity > 0 {
		debtRatio := balance.TotalDebt / balance.TotalEquity
		switch {
		case debtRatio < 0.5:
			score += 10
		case debtRatio < 1.0:
			score += 5
		}
	}

	if cash.FreeCashFlow > 0 {
		score += 10
	}

	return score
}
