package fundamentals

import (
	"valuekit/internal/fmp"
)

// Snapshot 是某只股票截止某个财年的基本面快照（最多 5 年，最近在前）。
// 由 Cache 组装后不可变；as-of-year 恒为模拟日历年份减一，滞后约束由策略层保证。
type Snapshot struct {
	Ticker   string
	AsOfYear int

	BalanceSheet []fmp.Statement
	Income       []fmp.Statement
	Cashflow     []fmp.Statement
	KeyMetrics   []fmp.Statement

	incomeByYear  map[int]int
	balanceByYear map[int]int
	cashByYear    map[int]int
	metricsByYear map[int]int
}

// NewSnapshot 组装快照并建立按财年的索引。输入应已按最近在前排序。
func NewSnapshot(ticker string, asOfYear int, balance, income, cash, metrics []fmp.Statement) *Snapshot {
	s := &Snapshot{
		Ticker:       ticker,
		AsOfYear:     asOfYear,
		BalanceSheet: balance,
		Income:       income,
		Cashflow:     cash,
		KeyMetrics:   metrics,
	}
	s.incomeByYear = indexByYear(income)
	s.balanceByYear = indexByYear(balance)
	s.cashByYear = indexByYear(cash)
	s.metricsByYear = indexByYear(metrics)
	return s
}

func indexByYear(list []fmp.Statement) map[int]int {
	idx := make(map[int]int, len(list))
	for i, st := range list {
		if _, ok := idx[st.FiscalYear]; !ok {
			idx[st.FiscalYear] = i
		}
	}
	return idx
}

// LatestIncome 等返回最近财年的对应报表。
func (s *Snapshot) LatestIncome() fmp.Statement  { return first(s.Income) }
func (s *Snapshot) LatestBalance() fmp.Statement { return first(s.BalanceSheet) }
func (s *Snapshot) LatestCashflow() fmp.Statement {
	return first(s.Cashflow)
}
func (s *Snapshot) LatestMetrics() fmp.Statement { return first(s.KeyMetrics) }

func first(list []fmp.Statement) fmp.Statement {
	if len(list) == 0 {
		return fmp.Statement{}
	}
	return list[0]
}

// IncomeFor 按财年取利润表记录，缺年返回 false。
func (s *Snapshot) IncomeFor(year int) (fmp.Statement, bool) {
	return lookup(s.Income, s.incomeByYear, year)
}

func (s *Snapshot) BalanceFor(year int) (fmp.Statement, bool) {
	return lookup(s.BalanceSheet, s.balanceByYear, year)
}

func (s *Snapshot) CashflowFor(year int) (fmp.Statement, bool) {
	return lookup(s.Cashflow, s.cashByYear, year)
}

func (s *Snapshot) MetricsFor(year int) (fmp.Statement, bool) {
	return lookup(s.KeyMetrics, s.metricsByYear, year)
}

func lookup(list []fmp.Statement, idx map[int]int, year int) (fmp.Statement, bool) {
	if idx == nil {
		return fmp.Statement{}, false
	}
	i, ok := idx[year]
	if !ok {
		return fmp.Statement{}, false
	}
	return list[i], true
}

// Years 返回快照覆盖的财年（最近在前，以利润表为准）。
func (s *Snapshot) Years() []int {
	years := make([]int, 0, len(s.Income))
	for _, st := range s.Income {
		years = append(years, st.FiscalYear)
	}
	return years
}
