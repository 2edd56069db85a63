package valuation

import (
	"math"

	"valuekit/internal/fundamentals"
)

// estimate 是单个估值方法的输出：公允价值与含安全边际的买入价。
type estimate struct {
	method    string
	fairValue float64
	buyPrice  float64
}

const (
	dcfDiscountRate = 0.15
	dcfMOSMargin    = 0.50
	pbtMOSMargin    = 0.25
	tenCapYield     = 0.10
)

// dcfEstimate 按 EPS 复合增长折现：
// eps_10y = eps·(1+g)^10，future_pe = g·200，
// fair = eps_10y·future_pe / (1+disc)^10，买入价再打五折。
func dcfEstimate(snap *fundamentals.Snapshot, growth float64) (estimate, bool) {
	eps := snap.LatestIncome().EPS
	if eps <= 0 {
		return estimate{}, false
	}
	eps10 := eps * math.Pow(1+growth, 10)
	futurePE := growth * 200
	if futurePE <= 0 {
		return estimate{}, false
	}
	futureValue := eps10 * futurePE
	fair := futureValue / math.Pow(1+dcfDiscountRate, 10)
	return estimate{
		method:    "dcf",
		fairValue: fair,
		buyPrice:  fair * (1 - dcfMOSMargin),
	}, true
}

// pbtEstimate 按 8 年回本期：每股 FCF 复利累加 8 年即公允价值。
func pbtEstimate(snap *fundamentals.Snapshot, growth float64) (estimate, bool) {
	fcf := snap.LatestMetrics().FCFPerShare
	if fcf <= 0 {
		return estimate{}, false
	}
	var total float64
	for year := 1; year <= 8; year++ {
		total += fcf * math.Pow(1+growth, float64(year))
	}
	return estimate{
		method:    "pbt",
		fairValue: total,
		buyPrice:  total * (1 - pbtMOSMargin),
	}, true
}

// tenCapEstimate 按业主盈余十倍市盈率（10% 收益率）：
// owner earnings = 税前利润 + 折旧摊销 + 营运资本变动 − 维护性资本开支的一半。
// 十倍价本身就是买入上限，fair 与 buy 相同。
func tenCapEstimate(snap *fundamentals.Snapshot) (estimate, bool) {
	income := snap.LatestIncome()
	cash := snap.LatestCashflow()
	shares := snap.LatestMetrics().SharesOutstanding
	if shares <= 0 {
		return estimate{}, false
	}
	workingCapital := cash.ReceivablesChange + cash.PayablesChange
	maintenance := math.Abs(cash.CapEx) * 0.5
	ownerEarnings := income.IncomeBeforeTax + cash.DepreciationAmort + workingCapital - maintenance
	ownerEPS := ownerEarnings / shares
	if ownerEPS <= 0 {
		return estimate{}, false
	}
	price := ownerEPS / tenCapYield
	return estimate{
		method:    "ten_cap",
		fairValue: price,
		buyPrice:  price,
	}, true
}
