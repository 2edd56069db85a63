package backtest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"valuekit/internal/ledger"
	"valuekit/internal/market"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// RunModel 对应 backtest_runs 表。
type RunModel struct {
	ID           string         `gorm:"column:id;primaryKey"`
	Profile      string         `gorm:"column:profile"`
	Status       string         `gorm:"column:status"`
	StartDate    string         `gorm:"column:start_date"`
	EndDate      string         `gorm:"column:end_date"`
	StartingCash float64        `gorm:"column:starting_cash"`
	FinalValue   float64        `gorm:"column:final_value"`
	ReturnPct    float64        `gorm:"column:return_pct"`
	WinRatePct   float64        `gorm:"column:win_rate_pct"`
	MaxDDPct     float64        `gorm:"column:max_drawdown_pct"`
	Trades       int            `gorm:"column:trades"`
	ConfigJSON   datatypes.JSON `gorm:"column:config_json;type:TEXT"`
	StatsJSON    datatypes.JSON `gorm:"column:stats_json;type:TEXT"`
	Message      string         `gorm:"column:message"`
	CreatedAt    int64          `gorm:"column:created_at"`
	UpdatedAt    int64          `gorm:"column:updated_at"`
	CompletedAt  *int64         `gorm:"column:completed_at"`
}

func (RunModel) TableName() string { return "backtest_runs" }

// TradeModel 对应 backtest_trades 表，一行一个完整回合。
type TradeModel struct {
	ID        int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID     string  `gorm:"column:run_id;index:idx_trades_run"`
	Ticker    string  `gorm:"column:ticker"`
	BuyPrice  float64 `gorm:"column:buy_price"`
	SellPrice float64 `gorm:"column:sell_price"`
	Size      int64   `gorm:"column:size"`
	PnL       float64 `gorm:"column:pnl"`
	PnLPct    float64 `gorm:"column:pnl_pct"`
	IsWin     bool    `gorm:"column:is_win"`
	OpenDate  string  `gorm:"column:open_date"`
	CloseDate string  `gorm:"column:close_date"`
}

func (TradeModel) TableName() string { return "backtest_trades" }

// SnapshotModel 保存净值曲线。
type SnapshotModel struct {
	ID             int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID          string  `gorm:"column:run_id;index:idx_snapshots_run"`
	Date           string  `gorm:"column:date"`
	Cash           float64 `gorm:"column:cash"`
	PositionsValue float64 `gorm:"column:positions_value"`
	TotalValue     float64 `gorm:"column:total_value"`
}

func (SnapshotModel) TableName() string { return "backtest_snapshots" }

// CycleModel 保存每个调仓日的评估计数。
type CycleModel struct {
	ID              int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID           string `gorm:"column:run_id;index:idx_cycles_run"`
	Date            string `gorm:"column:date"`
	DayIndex        int    `gorm:"column:day_index"`
	Evaluated       int    `gorm:"column:evaluated"`
	DataUnavailable int    `gorm:"column:data_unavailable"`
	ScoringFailed   int    `gorm:"column:scoring_failed"`
	FailedMOS       int    `gorm:"column:failed_mos"`
	FailedQuality   int    `gorm:"column:failed_quality"`
	Passed          int    `gorm:"column:passed"`
	Sells           int    `gorm:"column:sells"`
	Buys            int    `gorm:"column:buys"`
}

func (CycleModel) TableName() string { return "backtest_cycles" }

// ResultStore 管理回测结果落库。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(root string) (*ResultStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("result store root 不能为空")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, "runs.db")
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&RunModel{}, &TradeModel{}, &SnapshotModel{}, &CycleModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InsertRun 写入一条 run 记录。
func (s *ResultStore) InsertRun(ctx context.Context, run Run) error {
	cfgJSON, err := json.Marshal(run.Config)
	if err != nil {
		return err
	}
	statsJSON, err := json.Marshal(run.Stats)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	model := RunModel{
		ID:           run.ID,
		Profile:      run.Profile,
		Status:       run.Status,
		StartDate:    run.Start.Format(market.DateLayout),
		EndDate:      run.End.Format(market.DateLayout),
		StartingCash: run.StartingCash,
		FinalValue:   run.FinalValue,
		ConfigJSON:   cfgJSON,
		StatsJSON:    statsJSON,
		Message:      run.Message,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// UpdateRunStatus 仅更新状态与提示。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, id, status, message string) error {
	updates := map[string]any{
		"status":     status,
		"message":    message,
		"updated_at": time.Now().UnixMilli(),
	}
	if status == RunStatusDone || status == RunStatusFailed {
		updates["completed_at"] = time.Now().UnixMilli()
	}
	return s.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateRunSummary 更新状态与全部指标。
func (s *ResultStore) UpdateRunSummary(ctx context.Context, id, status string, stats RunStats, message string) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	updates := map[string]any{
		"status":           status,
		"final_value":      stats.FinalValue,
		"return_pct":       stats.TotalReturnPct,
		"win_rate_pct":     stats.WinRatePct,
		"max_drawdown_pct": stats.MaxDrawdownPct,
		"trades":           stats.Trades,
		"stats_json":       datatypes.JSON(statsJSON),
		"message":          message,
		"updated_at":       time.Now().UnixMilli(),
	}
	if status == RunStatusDone || status == RunStatusFailed {
		updates["completed_at"] = time.Now().UnixMilli()
	}
	return s.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", id).Updates(updates).Error
}

// SaveResult 批量写入成交、净值与调仓汇总。
func (s *ResultStore) SaveResult(ctx context.Context, runID string, res Result) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(res.Trades) > 0 {
			trades := make([]TradeModel, 0, len(res.Trades))
			for _, t := range res.Trades {
				trades = append(trades, TradeModel{
					RunID:     runID,
					Ticker:    t.Ticker,
					BuyPrice:  t.BuyPrice,
					SellPrice: t.SellPrice,
					Size:      t.Size,
					PnL:       t.PnL,
					PnLPct:    t.PnLPct,
					IsWin:     t.IsWin,
					OpenDate:  t.OpenDate.Format(market.DateLayout),
					CloseDate: t.CloseDate.Format(market.DateLayout),
				})
			}
			if err := tx.CreateInBatches(trades, 200).Error; err != nil {
				return err
			}
		}
		if len(res.Snapshots) > 0 {
			snaps := make([]SnapshotModel, 0, len(res.Snapshots))
			for _, snap := range res.Snapshots {
				snaps = append(snaps, SnapshotModel{
					RunID:          runID,
					Date:           snap.Date.Format(market.DateLayout),
					Cash:           snap.Cash,
					PositionsValue: snap.PositionsValue,
					TotalValue:     snap.TotalValue,
				})
			}
			if err := tx.CreateInBatches(snaps, 500).Error; err != nil {
				return err
			}
		}
		if len(res.Cycles) > 0 {
			cycles := make([]CycleModel, 0, len(res.Cycles))
			for _, c := range res.Cycles {
				cycles = append(cycles, CycleModel{
					RunID:           runID,
					Date:            c.Date.Format(market.DateLayout),
					DayIndex:        c.DayIndex,
					Evaluated:       c.Evaluated,
					DataUnavailable: c.DataUnavailable,
					ScoringFailed:   c.ScoringFailed,
					FailedMOS:       c.FailedMOS,
					FailedQuality:   c.FailedQuality,
					Passed:          c.Passed,
					Sells:           c.Sells,
					Buys:            c.Buys,
				})
			}
			if err := tx.CreateInBatches(cycles, 200).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListRuns 按创建时间倒序返回 run 列表。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var models []RunModel
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Run, 0, len(models))
	for _, m := range models {
		run, err := runFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// GetRun 返回单条 run。
func (s *ResultStore) GetRun(ctx context.Context, id string) (Run, error) {
	var m RunModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return Run{}, err
	}
	return runFromModel(m)
}

// ListTrades 返回某次回测的成交回合。
func (s *ResultStore) ListTrades(ctx context.Context, runID string, limit int) ([]ledger.ClosedTrade, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var models []TradeModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]ledger.ClosedTrade, 0, len(models))
	for _, m := range models {
		open, _ := time.Parse(market.DateLayout, m.OpenDate)
		closeDate, _ := time.Parse(market.DateLayout, m.CloseDate)
		out = append(out, ledger.ClosedTrade{
			Ticker:    m.Ticker,
			BuyPrice:  m.BuyPrice,
			SellPrice: m.SellPrice,
			Size:      m.Size,
			PnL:       m.PnL,
			PnLPct:    m.PnLPct,
			IsWin:     m.IsWin,
			OpenDate:  open,
			CloseDate: closeDate,
		})
	}
	return out, nil
}

// ListSnapshots 返回净值曲线。
func (s *ResultStore) ListSnapshots(ctx context.Context, runID string, limit int) ([]ledger.PortfolioSnapshot, error) {
	if limit <= 0 || limit > 5000 {
		limit = 2000
	}
	var models []SnapshotModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("date ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]ledger.PortfolioSnapshot, 0, len(models))
	for _, m := range models {
		date, _ := time.Parse(market.DateLayout, m.Date)
		out = append(out, ledger.PortfolioSnapshot{
			Date:           date,
			Cash:           m.Cash,
			PositionsValue: m.PositionsValue,
			TotalValue:     m.TotalValue,
		})
	}
	return out, nil
}

// ListCycles 返回调仓汇总。
func (s *ResultStore) ListCycles(ctx context.Context, runID string, limit int) ([]CycleSummary, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	var models []CycleModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("day_index ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]CycleSummary, 0, len(models))
	for _, m := range models {
		date, _ := time.Parse(market.DateLayout, m.Date)
		out = append(out, CycleSummary{
			Date:            date,
			DayIndex:        m.DayIndex,
			Evaluated:       m.Evaluated,
			DataUnavailable: m.DataUnavailable,
			ScoringFailed:   m.ScoringFailed,
			FailedMOS:       m.FailedMOS,
			FailedQuality:   m.FailedQuality,
			Passed:          m.Passed,
			Sells:           m.Sells,
			Buys:            m.Buys,
		})
	}
	return out, nil
}

func runFromModel(m RunModel) (Run, error) {
	run := Run{
		ID:           m.ID,
		Profile:      m.Profile,
		Status:       m.Status,
		StartingCash: m.StartingCash,
		FinalValue:   m.FinalValue,
		ReturnPct:    m.ReturnPct,
		WinRatePct:   m.WinRatePct,
		MaxDDPct:     m.MaxDDPct,
		Trades:       m.Trades,
		Message:      m.Message,
		CreatedAt:    timeFromMillis(m.CreatedAt),
		UpdatedAt:    timeFromMillis(m.UpdatedAt),
	}
	run.Start, _ = time.Parse(market.DateLayout, m.StartDate)
	run.End, _ = time.Parse(market.DateLayout, m.EndDate)
	if m.CompletedAt != nil {
		run.CompletedAt = timeFromMillis(*m.CompletedAt)
	}
	if len(m.ConfigJSON) > 0 {
		if err := json.Unmarshal(m.ConfigJSON, &run.Config); err != nil {
			return Run{}, err
		}
	}
	if len(m.StatsJSON) > 0 {
		if err := json.Unmarshal(m.StatsJSON, &run.Stats); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

func timeFromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ms*int64(time.Millisecond))
}
