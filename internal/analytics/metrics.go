package analytics

import (
	"math"

	"valuekit/internal/ledger"
)

const tradingDaysPerYear = 252

// Metrics 是一次回测的绩效指标集合。
// 所有分母为零或样本不足的情形返回 0 而非 NaN/Inf。
type Metrics struct {
	TotalReturnPct float64 `json:"total_return_pct"`
	CAGRPct        float64 `json:"cagr_pct"`
	Sharpe         float64 `json:"sharpe"`
	Sortino        float64 `json:"sortino"`
	MaxDrawdownPct float64 `json:"max_drawdown_pct"`
	PeakIndex      int     `json:"peak_index"`
	TroughIndex    int     `json:"trough_index"`
	Calmar         float64 `json:"calmar"`
	WinRatePct     float64 `json:"win_rate_pct"`
	ProfitFactor   float64 `json:"profit_factor"`
	AvgHoldingDays float64 `json:"avg_holding_days"`
	Trades         int     `json:"trades"`
	Wins           int     `json:"wins"`
	Losses         int     `json:"losses"`
}

// Compute 对净值曲线与成交回合做一次完整的指标归并。
// riskFree 为年化无风险利率。
func Compute(snapshots []ledger.PortfolioSnapshot, trades []ledger.ClosedTrade, riskFree float64) Metrics {
	values := make([]float64, len(snapshots))
	for i, s := range snapshots {
		values[i] = s.TotalValue
	}
	returns := DailyReturns(values)

	var m Metrics
	m.TotalReturnPct = TotalReturn(values) * 100
	m.CAGRPct = CAGR(values) * 100
	m.Sharpe = Sharpe(returns, riskFree)
	m.Sortino = Sortino(returns, riskFree)
	dd, peak, trough := MaxDrawdown(values)
	m.MaxDrawdownPct = dd * 100
	m.PeakIndex = peak
	m.TroughIndex = trough
	m.Calmar = Calmar(CAGR(values), dd)

	m.Trades = len(trades)
	for _, t := range trades {
		if t.IsWin {
			m.Wins++
		} else {
			m.Losses++
		}
	}
	if m.Trades > 0 {
		m.WinRatePct = float64(m.Wins) / float64(m.Trades) * 100
	}
	m.ProfitFactor = ProfitFactor(trades)
	m.AvgHoldingDays = AvgHoldingDays(trades)
	return m
}

// DailyReturns 算逐日收益率；分母为零的点记 0%，保持序列长度稳定。
func DailyReturns(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		if values[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (values[i]-values[i-1])/values[i-1])
	}
	return out
}

// TotalReturn 返回期间总收益率。
func TotalReturn(values []float64) float64 {
	if len(values) < 2 || values[0] == 0 {
		return 0
	}
	return values[len(values)-1]/values[0] - 1
}

// CAGR 按交易日数折算年数（365.25 天一年）。
func CAGR(values []float64) float64 {
	if len(values) < 2 || values[0] <= 0 || values[len(values)-1] <= 0 {
		return 0
	}
	years := float64(len(values)) / 365.25
	if years <= 0 {
		return 0
	}
	return math.Pow(values[len(values)-1]/values[0], 1/years) - 1
}

// Sharpe 用日超额收益算夏普比并按 √252 年化；
// 样本不足两个或方差为零时返回 0。
func Sharpe(returns []float64, riskFree float64) float64 {
	excess := excessReturns(returns, riskFree)
	if len(excess) < 2 {
		return 0
	}
	sd := stddev(excess)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(tradingDaysPerYear)
}

// Sortino 同夏普，但分母只取负超额收益的波动；没有负收益时返回 0。
func Sortino(returns []float64, riskFree float64) float64 {
	excess := excessReturns(returns, riskFree)
	if len(excess) < 2 {
		return 0
	}
	var negatives []float64
	for _, r := range excess {
		if r < 0 {
			negatives = append(negatives, r)
		}
	}
	if len(negatives) == 0 {
		return 0
	}
	sd := stddev(negatives)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd * math.Sqrt(tradingDaysPerYear)
}

// MaxDrawdown 返回最深回撤（负数）、回撤前高点与谷底的下标。
func MaxDrawdown(values []float64) (dd float64, peakIdx, troughIdx int) {
	if len(values) < 2 {
		return 0, 0, 0
	}
	runningMax := values[0]
	runningMaxIdx := 0
	for i, v := range values {
		if v > runningMax {
			runningMax = v
			runningMaxIdx = i
		}
		if runningMax == 0 {
			continue
		}
		drawdown := (v - runningMax) / runningMax
		if drawdown < dd {
			dd = drawdown
			peakIdx = runningMaxIdx
			troughIdx = i
		}
	}
	return dd, peakIdx, troughIdx
}

// Calmar = CAGR / |最大回撤|，回撤为零时返回 0。
func Calmar(cagr, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		return 0
	}
	return cagr / math.Abs(maxDrawdown)
}

// ProfitFactor = |平均盈利×盈利笔数 / (平均亏损×亏损笔数)|；
// 没有亏损回合时返回 0。
func ProfitFactor(trades []ledger.ClosedTrade) float64 {
	var winSum, lossSum float64
	var wins, losses int
	for _, t := range trades {
		if t.IsWin {
			winSum += t.PnL
			wins++
		} else {
			lossSum += t.PnL
			losses++
		}
	}
	if losses == 0 || lossSum == 0 {
		return 0
	}
	avgWin := winSum / float64(max(wins, 1))
	avgLoss := lossSum / float64(losses)
	return math.Abs(avgWin * float64(wins) / (avgLoss * float64(losses)))
}

// AvgHoldingDays 返回已平仓回合的平均持有天数。
func AvgHoldingDays(trades []ledger.ClosedTrade) float64 {
	if len(trades) == 0 {
		return 0
	}
	var total float64
	for _, t := range trades {
		total += t.CloseDate.Sub(t.OpenDate).Hours() / 24
	}
	return total / float64(len(trades))
}

func excessReturns(returns []float64, riskFree float64) []float64 {
	out := make([]float64, len(returns))
	daily := riskFree / tradingDaysPerYear
	for i, r := range returns {
		out[i] = r - daily
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
