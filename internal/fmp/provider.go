package fmp

import (
	"context"
	"errors"
	"time"

	"valuekit/internal/market"
)

// ErrDataUnavailable 表示某只股票在所需区间/年份拿不到数据。
// 调用方应跳过该股票，而不是中止整个回测。
var ErrDataUnavailable = errors.New("fmp: data unavailable")

// Statement 表示一条年度财务报表记录（资产负债表/利润表/现金流量表/关键指标共用）。
// 字段按需取自 FMP 返回的 JSON，未出现的字段保持零值。
type Statement struct {
	FiscalYear int     `json:"fiscal_year"`
	Date       string  `json:"date"`

	// income statement
	Revenue         float64 `json:"revenue,omitempty"`
	OperatingIncome float64 `json:"operating_income,omitempty"`
	IncomeBeforeTax float64 `json:"income_before_tax,omitempty"`
	NetIncome       float64 `json:"net_income,omitempty"`
	EPS             float64 `json:"eps,omitempty"`

	// balance sheet
	TotalDebt   float64 `json:"total_debt,omitempty"`
	TotalEquity float64 `json:"total_equity,omitempty"`
	TotalAssets float64 `json:"total_assets,omitempty"`

	// cash flow
	OperatingCashFlow      float64 `json:"operating_cash_flow,omitempty"`
	CapEx                  float64 `json:"capex,omitempty"`
	FreeCashFlow           float64 `json:"free_cash_flow,omitempty"`
	DepreciationAmort      float64 `json:"depreciation_amortization,omitempty"`
	ReceivablesChange      float64 `json:"receivables_change,omitempty"`
	PayablesChange         float64 `json:"payables_change,omitempty"`

	// key metrics
	ROE               float64 `json:"roe,omitempty"`
	ROIC              float64 `json:"roic,omitempty"`
	BookValuePerShare float64 `json:"book_value_per_share,omitempty"`
	RevenuePerShare   float64 `json:"revenue_per_share,omitempty"`
	FCFPerShare       float64 `json:"fcf_per_share,omitempty"`
	SharesOutstanding float64 `json:"shares_outstanding,omitempty"`
}

// Provider 是行情与基本面数据源的窄接口。
// 空响应视为"没有数据"（返回空 slice），不是错误。
type Provider interface {
	PriceHistory(ctx context.Context, ticker string, from, to time.Time) ([]market.Bar, error)
	BalanceSheet(ctx context.Context, ticker string, limit int) ([]Statement, error)
	IncomeStatement(ctx context.Context, ticker string, limit int) ([]Statement, error)
	CashflowStatement(ctx context.Context, ticker string, limit int) ([]Statement, error)
	KeyMetrics(ctx context.Context, ticker string, limit int) ([]Statement, error)
}
