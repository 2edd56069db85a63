package backtest

import (
	"encoding/json"
	"errors"
	"time"

	"valuekit/internal/ledger"
)

const (
	RunStatusPending = "pending"
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFailed  = "failed"
)

// ErrInsufficientUniverse 表示整个票池一条行情都没有，直接终止回测。
var ErrInsufficientUniverse = errors.New("backtest: 票池没有任何可用行情")

// ConfigError 是回测开始前就能确定的配置错误。
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "backtest: 配置错误: " + e.Reason }

// RunConfig 记录本次模拟的参数快照，便于重放。
type RunConfig struct {
	Profile        string    `json:"profile"`
	Universe       []string  `json:"universe"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	StartingCash   float64   `json:"starting_cash"`
	CommissionRate float64   `json:"commission_rate"`
	BuyMOS         float64   `json:"buy_mos"`
	SellMOS        float64   `json:"sell_mos"`
	BuyQuality     float64   `json:"buy_quality"`
	SellQuality    float64   `json:"sell_quality"`
	MaxPositions   int       `json:"max_positions"`
	RebalanceDays  int       `json:"rebalance_days"`
	Benchmark      string    `json:"benchmark,omitempty"`
	Notes          string    `json:"notes,omitempty"`
}

// Validate 在模拟循环开始前校验配置。
func (c RunConfig) Validate() error {
	if len(c.Universe) == 0 {
		return &ConfigError{Reason: "universe 不能为空"}
	}
	if !c.Start.Before(c.End) {
		return &ConfigError{Reason: "start 必须早于 end"}
	}
	if c.StartingCash <= 0 {
		return &ConfigError{Reason: "starting_cash 必须为正"}
	}
	if c.CommissionRate < 0 {
		return &ConfigError{Reason: "commission_rate 不能为负"}
	}
	if c.MaxPositions <= 0 {
		return &ConfigError{Reason: "max_positions 必须为正"}
	}
	if c.RebalanceDays <= 0 {
		return &ConfigError{Reason: "rebalance_days 必须为正"}
	}
	return nil
}

// CycleSummary 汇总单个调仓日的评估结果，用于判断数据覆盖质量。
type CycleSummary struct {
	Date            time.Time `json:"date"`
	DayIndex        int       `json:"day_index"`
	Evaluated       int       `json:"evaluated"`
	DataUnavailable int       `json:"data_unavailable"`
	ScoringFailed   int       `json:"scoring_failed"`
	FailedMOS       int       `json:"failed_mos"`
	FailedQuality   int       `json:"failed_quality"`
	Passed          int       `json:"passed"`
	Sells           int       `json:"sells"`
	Buys            int       `json:"buys"`
}

// RunStats 汇总收益、风控指标，供前端展示。
type RunStats struct {
	FinalValue      float64   `json:"final_value"`
	Profit          float64   `json:"profit"`
	TotalReturnPct  float64   `json:"total_return_pct"`
	CAGRPct         float64   `json:"cagr_pct"`
	Sharpe          float64   `json:"sharpe"`
	Sortino         float64   `json:"sortino"`
	MaxDrawdownPct  float64   `json:"max_drawdown_pct"`
	Calmar          float64   `json:"calmar"`
	WinRatePct      float64   `json:"win_rate_pct"`
	ProfitFactor    float64   `json:"profit_factor"`
	AvgHoldingDays  float64   `json:"avg_holding_days"`
	Trades          int       `json:"trades"`
	Wins            int       `json:"wins"`
	Losses          int       `json:"losses"`
	Snapshots       int       `json:"snapshots"`
	BenchmarkTicker string    `json:"benchmark_ticker,omitempty"`
	BenchReturnPct  float64   `json:"bench_return_pct"`
	Outperformance  float64   `json:"outperformance_pct"`
	Alpha           float64   `json:"alpha"`
	Beta            float64   `json:"beta"`
	Correlation     float64   `json:"correlation"`
	TrackingError   float64   `json:"tracking_error"`
	InformationRate float64   `json:"information_ratio"`
	BenchAvailable  bool      `json:"bench_available"`
	FinishedAt      time.Time `json:"finished_at"`
}

// Run 表示一次回测任务。
type Run struct {
	ID           string    `json:"id"`
	Profile      string    `json:"profile"`
	Status       string    `json:"status"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	StartingCash float64   `json:"starting_cash"`
	FinalValue   float64   `json:"final_value"`
	ReturnPct    float64   `json:"return_pct"`
	WinRatePct   float64   `json:"win_rate_pct"`
	MaxDDPct     float64   `json:"max_drawdown_pct"`
	Trades       int       `json:"trades"`
	Message      string    `json:"message"`
	Config       RunConfig `json:"config"`
	Stats        RunStats  `json:"stats"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	CompletedAt  time.Time `json:"completed_at"`
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// Result 是引擎跑完一次模拟的全部产出。
type Result struct {
	Snapshots []ledger.PortfolioSnapshot `json:"snapshots"`
	Trades    []ledger.ClosedTrade       `json:"trades"`
	Cycles    []CycleSummary             `json:"cycles"`
}

// RunRequest 为 HTTP 提交使用。
type RunRequest struct {
	Profile        string         `json:"profile"`
	Universe       []string       `json:"universe" binding:"required"`
	Start          string         `json:"start" binding:"required"`
	End            string         `json:"end" binding:"required"`
	StartingCash   float64        `json:"starting_cash"`
	CommissionRate float64        `json:"commission_rate"`
	Benchmark      string         `json:"benchmark"`
	Params         map[string]any `json:"params"`
}
