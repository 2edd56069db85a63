package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"valuekit/internal/analytics"
	"valuekit/internal/fmp"
	"valuekit/internal/fundamentals"
	"valuekit/internal/logger"
	"valuekit/internal/market"
	"valuekit/internal/profile"
	"valuekit/internal/report"
	"valuekit/internal/valuation"

	"github.com/google/uuid"
)

type SimulatorConfig struct {
	BarStore      *market.Store
	ResultStore   *ResultStore
	Provider      fmp.Provider
	Profiles      *profile.Registry
	ReportDir     string
	RiskFreeRate  float64
	MaxConcurrent int
}

// Simulator 负责把历史行情 + 基本面打分推演成资金曲线，
// 任务在后台执行，进度与结果写入 ResultStore。
type Simulator struct {
	bars      *market.Store
	results   *ResultStore
	provider  fmp.Provider
	profiles  *profile.Registry
	reportDir string
	riskFree  float64

	sem     chan struct{}
	baseCtx context.Context
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.BarStore == nil {
		return nil, fmt.Errorf("bar store 不能为空")
	}
	if cfg.ResultStore == nil {
		return nil, fmt.Errorf("result store 不能为空")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("provider 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Simulator{
		bars:      cfg.BarStore,
		results:   cfg.ResultStore,
		provider:  cfg.Provider,
		profiles:  cfg.Profiles,
		reportDir: cfg.ReportDir,
		riskFree:  cfg.RiskFreeRate,
		sem:       make(chan struct{}, maxConcurrent),
		baseCtx:   context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，用于任务取消。
func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// StartRun 创建回测任务并立即返回，模拟过程在后台进行。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	prof := profile.DefaultProfile()
	if s.profiles != nil && req.Profile != "" {
		var err error
		prof, err = s.profiles.Validate(req.Profile, req.Params)
		if err != nil {
			return Run{}, err
		}
	} else {
		if s.profiles != nil {
			if p, ok := s.profiles.Profile(prof.ID); ok {
				prof = p
			}
		}
		prof = prof.ApplyOverrides(req.Params)
	}

	start, err := time.Parse(market.DateLayout, req.Start)
	if err != nil {
		return Run{}, &ConfigError{Reason: "start 日期格式应为 " + market.DateLayout}
	}
	end, err := time.Parse(market.DateLayout, req.End)
	if err != nil {
		return Run{}, &ConfigError{Reason: "end 日期格式应为 " + market.DateLayout}
	}
	startingCash := req.StartingCash
	if startingCash <= 0 {
		startingCash = 100000
	}

	universe := make([]string, 0, len(req.Universe))
	for _, t := range req.Universe {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t != "" {
			universe = append(universe, t)
		}
	}

	cfg := RunConfig{
		Profile:        prof.ID,
		Universe:       universe,
		Start:          start,
		End:            end,
		StartingCash:   startingCash,
		CommissionRate: req.CommissionRate,
		BuyMOS:         prof.Thresholds.BuyMOS,
		SellMOS:        prof.Thresholds.SellMOS,
		BuyQuality:     prof.Thresholds.BuyQuality,
		SellQuality:    prof.Thresholds.SellQuality,
		MaxPositions:   prof.MaxPositions,
		RebalanceDays:  prof.RebalanceDays,
		Benchmark:      strings.ToUpper(strings.TrimSpace(req.Benchmark)),
	}
	if err := cfg.Validate(); err != nil {
		return Run{}, err
	}

	run := Run{
		ID:           uuid.NewString(),
		Profile:      cfg.Profile,
		Status:       RunStatusPending,
		Start:        start,
		End:          end,
		StartingCash: startingCash,
		FinalValue:   startingCash,
		Config:       cfg,
	}
	if err := s.results.InsertRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	go s.runLoop(run.ID, cfg, prof)
	return run, nil
}

func (s *Simulator) runLoop(runID string, cfg RunConfig, prof profile.Profile) {
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warnf("[backtest] run %s 等待可用 worker", runID)
		s.sem <- struct{}{}
	}
	defer func() { <-s.sem }()

	ctx := s.ctx()
	_ = s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, "加载行情数据…")
	if err := s.execute(ctx, runID, cfg, prof); err != nil {
		logger.Warnf("[backtest] run %s 失败: %v", runID, err)
		_ = s.results.UpdateRunStatus(ctx, runID, RunStatusFailed, err.Error())
	}
}

func (s *Simulator) execute(ctx context.Context, runID string, cfg RunConfig, prof profile.Profile) error {
	series, err := s.loadSeries(ctx, cfg.Universe, cfg.Start, cfg.End)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		return ErrInsufficientUniverse
	}

	cache, err := fundamentals.NewCache(s.provider)
	if err != nil {
		return err
	}
	scorer := valuation.NewConsensusScorer(valuation.Methods{
		DCF:    prof.Methods.DCF,
		PBT:    prof.Methods.PBT,
		TenCap: prof.Methods.TenCap,
	})
	engine, err := NewEngine(cfg, series, cache, scorer)
	if err != nil {
		return err
	}

	_ = s.results.UpdateRunStatus(ctx, runID, RunStatusRunning, "模拟运行中…")
	result, err := engine.Run(ctx)
	if err != nil {
		return err
	}
	if err := s.results.SaveResult(ctx, runID, result); err != nil {
		return err
	}

	metrics := analytics.Compute(result.Snapshots, result.Trades, s.riskFree)
	bench := s.compareBenchmark(ctx, cfg, result)
	stats := buildStats(cfg, result, metrics, bench)
	if err := s.results.UpdateRunSummary(ctx, runID, RunStatusDone, stats, "完成"); err != nil {
		return err
	}

	if s.reportDir != "" {
		path, err := report.WriteHTML(s.reportDir, report.Input{
			RunID:     runID,
			Snapshots: result.Snapshots,
			Trades:    result.Trades,
			Metrics:   metrics,
			Benchmark: bench,
		})
		if err != nil {
			logger.Warnf("[backtest] run %s 报告导出失败: %v", runID, err)
		} else {
			logger.Infof("[backtest] run %s 报告已导出: %s", runID, path)
		}
	}
	return nil
}

// loadSeries 逐票加载区间行情，本地缺数据时经 provider 补拉并落盘。
// 单票拉不到只记警告，整个票池都空才由上层判定失败。
func (s *Simulator) loadSeries(ctx context.Context, universe []string, start, end time.Time) (map[string]*market.Series, error) {
	series := make(map[string]*market.Series, len(universe))
	for _, ticker := range universe {
		bars, err := s.bars.RangeBars(ctx, ticker, start, end)
		if err != nil {
			return nil, err
		}
		if len(bars) == 0 {
			fetched, err := s.provider.PriceHistory(ctx, ticker, start, end)
			if err != nil {
				logger.Warnf("%s 行情拉取失败: %v", ticker, err)
				continue
			}
			if len(fetched) == 0 {
				logger.Warnf("%s 区间内没有行情", ticker)
				continue
			}
			if _, err := s.bars.InsertBars(ctx, ticker, fetched); err != nil {
				return nil, err
			}
			bars = fetched
		}
		series[ticker] = market.NewSeries(ticker, bars)
	}
	return series, nil
}

// compareBenchmark 加载基准行情做买入持有比较；基准缺失不阻塞结果。
func (s *Simulator) compareBenchmark(ctx context.Context, cfg RunConfig, result Result) analytics.BenchmarkResult {
	if cfg.Benchmark == "" {
		return analytics.BenchmarkResult{}
	}
	benchSeries, err := s.loadSeries(ctx, []string{cfg.Benchmark}, cfg.Start, cfg.End)
	if err != nil || benchSeries[cfg.Benchmark] == nil {
		logger.Warnf("基准 %s 行情不可用，跳过比较", cfg.Benchmark)
		return analytics.BenchmarkResult{}
	}
	values := make([]float64, len(result.Snapshots))
	for i, snap := range result.Snapshots {
		values[i] = snap.TotalValue
	}
	return analytics.CompareBenchmark(values, benchSeries[cfg.Benchmark], s.riskFree)
}

func buildStats(cfg RunConfig, result Result, m analytics.Metrics, bench analytics.BenchmarkResult) RunStats {
	stats := RunStats{
		TotalReturnPct: m.TotalReturnPct,
		CAGRPct:        m.CAGRPct,
		Sharpe:         m.Sharpe,
		Sortino:        m.Sortino,
		MaxDrawdownPct: m.MaxDrawdownPct,
		Calmar:         m.Calmar,
		WinRatePct:     m.WinRatePct,
		ProfitFactor:   m.ProfitFactor,
		AvgHoldingDays: m.AvgHoldingDays,
		Trades:         m.Trades,
		Wins:           m.Wins,
		Losses:         m.Losses,
		Snapshots:      len(result.Snapshots),
		FinishedAt:     time.Now(),
	}
	if n := len(result.Snapshots); n > 0 {
		stats.FinalValue = result.Snapshots[n-1].TotalValue
		stats.Profit = stats.FinalValue - cfg.StartingCash
	}
	if bench.Available {
		stats.BenchAvailable = true
		stats.BenchmarkTicker = bench.Ticker
		stats.BenchReturnPct = bench.TotalReturnPct
		stats.Outperformance = bench.Outperformance
		stats.Alpha = bench.Alpha
		stats.Beta = bench.Beta
		stats.Correlation = bench.Correlation
		stats.TrackingError = bench.TrackingError
		stats.InformationRate = bench.InformationRate
	}
	return stats
}
