package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"valuekit/internal/fmp"
	"valuekit/internal/fundamentals"
	"valuekit/internal/ledger"
	"valuekit/internal/logger"
	"valuekit/internal/market"
	"valuekit/internal/valuation"

	"golang.org/x/sync/errgroup"
)

const scoreWorkers = 4

// Engine 按交易日推进模拟：调仓日先卖后买，每日收盘盯市。
// 决策只看当日及之前的行情，打分一律用当日收盘价。
type Engine struct {
	cfg    RunConfig
	series map[string]*market.Series
	cache  *fundamentals.Cache
	scorer valuation.Scorer
	book   *ledger.Ledger
	sched  *Scheduler

	cycles []CycleSummary
}

func NewEngine(cfg RunConfig, series map[string]*market.Series, cache *fundamentals.Cache, scorer valuation.Scorer) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cache == nil {
		return nil, fmt.Errorf("backtest: cache 不能为空")
	}
	if scorer == nil {
		return nil, fmt.Errorf("backtest: scorer 不能为空")
	}
	return &Engine{
		cfg:    cfg,
		series: series,
		cache:  cache,
		scorer: scorer,
		book:   ledger.New(cfg.StartingCash, cfg.CommissionRate),
		sched:  NewScheduler(cfg.RebalanceDays),
	}, nil
}

// Ledger 暴露账本给测试与模拟器。
func (e *Engine) Ledger() *ledger.Ledger { return e.book }

// Run 执行完整模拟并返回净值曲线、成交与调仓汇总。
func (e *Engine) Run(ctx context.Context) (Result, error) {
	dates := market.TradingDates(e.series)
	if len(dates) == 0 {
		return Result{}, ErrInsufficientUniverse
	}

	for i, date := range dates {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		closes := e.closesOn(date)
		if e.sched.Due(date) {
			if err := e.rebalance(ctx, date, i, closes); err != nil {
				return Result{}, err
			}
		}
		if i == len(dates)-1 {
			e.forceClose(date, closes)
		}
		e.book.MarkToMarket(date, closes)
	}

	e.logSummary()
	return Result{
		Snapshots: e.book.Snapshots(),
		Trades:    e.book.ClosedTrades(),
		Cycles:    append([]CycleSummary(nil), e.cycles...),
	}, nil
}

// closesOn 收集当日有行情的票的收盘价。
func (e *Engine) closesOn(date time.Time) map[string]float64 {
	closes := make(map[string]float64, len(e.series))
	for ticker, s := range e.series {
		if px, ok := s.CloseOn(date); ok {
			closes[ticker] = px
		}
	}
	return closes
}

type scoreResult struct {
	signal      valuation.Signal
	unavailable bool
	failed      bool
}

// scoreAll 并发给当日有行情的票打分，结果并回单线程后再做买卖决策。
// 单票的数据缺失或打分失败只记数跳过，不中断整轮；
// 其他 provider 错误视为不可恢复，原样上抛终止回测。
func (e *Engine) scoreAll(ctx context.Context, date time.Time, closes map[string]float64, tickers []string) (map[string]scoreResult, error) {
	results := make(map[string]scoreResult, len(tickers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scoreWorkers)
	for _, ticker := range tickers {
		ticker := ticker
		price, ok := closes[ticker]
		if !ok {
			continue
		}
		g.Go(func() error {
			snap, err := e.cache.Fundamentals(gctx, ticker, date)
			if err != nil {
				if errors.Is(err, fmp.ErrDataUnavailable) {
					logger.Debugf("%s 数据不可用: %v", ticker, err)
					mu.Lock()
					results[ticker] = scoreResult{unavailable: true}
					mu.Unlock()
					return nil
				}
				return err
			}
			if snap == nil {
				mu.Lock()
				results[ticker] = scoreResult{unavailable: true}
				mu.Unlock()
				return nil
			}
			sig, err := e.scorer.Score(ticker, snap, price)
			if err != nil {
				logger.Debugf("%s 打分失败: %v", ticker, err)
				mu.Lock()
				results[ticker] = scoreResult{failed: true}
				mu.Unlock()
				return nil
			}
			mu.Lock()
			results[ticker] = scoreResult{signal: sig}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// rebalance 执行一个调仓周期：先卖释放现金，再排序买入。
func (e *Engine) rebalance(ctx context.Context, date time.Time, dayIndex int, closes map[string]float64) error {
	summary := CycleSummary{Date: date, DayIndex: dayIndex}

	held := e.book.OpenTickers()
	heldSet := make(map[string]bool, len(held))
	for _, t := range held {
		heldSet[t] = true
	}
	var candidates []string
	candidates = append(candidates, held...)
	for _, t := range e.cfg.Universe {
		if _, ok := closes[t]; ok && !heldSet[t] {
			candidates = append(candidates, t)
		}
	}

	scores, err := e.scoreAll(ctx, date, closes, candidates)
	if err != nil {
		return err
	}

	// 卖出：MOS 跌破卖出线或护城河走弱都离场，全仓卖出。
	// 本轮卖掉的票记下来，买入扫描时跳过，避免同轮卖了又买。
	sold := make(map[string]bool)
	for _, ticker := range held {
		res, ok := scores[ticker]
		if !ok {
			continue
		}
		summary.Evaluated++
		if res.unavailable {
			summary.DataUnavailable++
			continue
		}
		if res.failed {
			summary.ScoringFailed++
			continue
		}
		sig := res.signal
		if sig.MOSPct < e.cfg.SellMOS || sig.Quality < e.cfg.SellQuality {
			pos, ok := e.book.Position(ticker)
			if !ok {
				continue
			}
			px := closes[ticker]
			logger.Infof("SELL SIGNAL: %s MOS=%.1f%% 质量=%.0f/50", ticker, sig.MOSPct, sig.Quality)
			if err := e.book.Sell(ticker, date, px, pos.Quantity); err != nil {
				logger.Warnf("%s 卖出失败: %v", ticker, err)
				continue
			}
			summary.Sells++
			sold[ticker] = true
		}
	}

	// 买入：按票池顺序扫描空仓票，阈值双过才入围。
	type buyCandidate struct {
		ticker string
		signal valuation.Signal
	}
	var buys []buyCandidate
	for _, ticker := range e.cfg.Universe {
		if sold[ticker] {
			continue
		}
		if _, held := e.book.Position(ticker); held {
			continue
		}
		res, ok := scores[ticker]
		if !ok {
			continue
		}
		summary.Evaluated++
		switch {
		case res.unavailable:
			summary.DataUnavailable++
			continue
		case res.failed:
			summary.ScoringFailed++
			continue
		}
		sig := res.signal
		if sig.MOSPct <= e.cfg.BuyMOS {
			summary.FailedMOS++
			continue
		}
		if sig.Quality <= e.cfg.BuyQuality {
			summary.FailedQuality++
			continue
		}
		summary.Passed++
		buys = append(buys, buyCandidate{ticker: ticker, signal: sig})
	}

	// 折价最深的优先；稳定排序保留扫描顺序作为并列时的次序。
	sort.SliceStable(buys, func(i, j int) bool {
		return buys[i].signal.MOSPct > buys[j].signal.MOSPct
	})

	slots := e.cfg.MaxPositions - e.book.OpenCount()
	if slots < 0 {
		slots = 0
	}
	if len(buys) > slots {
		logger.Infof("持仓上限 %d，%d 个候选淘汰 %d 个", e.cfg.MaxPositions, len(buys), len(buys)-slots)
		buys = buys[:slots]
	}

	// 等权分配当前现金，按份额下取整折算股数。
	if len(buys) > 0 {
		cashPer := e.book.Cash() / float64(len(buys))
		for _, cand := range buys {
			px := closes[cand.ticker]
			shares := int64(math.Floor(cashPer / px))
			if shares == 0 {
				logger.Debugf("%s 单份现金 %.2f 买不起一股 (%.2f)，跳过", cand.ticker, cashPer, px)
				continue
			}
			logger.Infof("BUY SIGNAL: %s MOS=%.1f%% 质量=%.0f/50 方法=%v",
				cand.ticker, cand.signal.MOSPct, cand.signal.Quality, cand.signal.Methods)
			if err := e.book.Buy(cand.ticker, date, px, shares); err != nil {
				logger.Warnf("%s 买入失败: %v", cand.ticker, err)
				continue
			}
			summary.Buys++
		}
	}

	e.cycles = append(e.cycles, summary)
	logger.Infof("调仓 %s: 评估=%d 数据缺失=%d 打分失败=%d 未过MOS=%d 未过质量=%d 入围=%d 卖=%d 买=%d",
		date.Format(market.DateLayout), summary.Evaluated, summary.DataUnavailable, summary.ScoringFailed,
		summary.FailedMOS, summary.FailedQuality, summary.Passed, summary.Sells, summary.Buys)
	return nil
}

// forceClose 在最后一个交易日把所有持仓按收盘价平掉，保证每笔回合都有归宿。
func (e *Engine) forceClose(date time.Time, closes map[string]float64) {
	for _, ticker := range e.book.OpenTickers() {
		pos, ok := e.book.Position(ticker)
		if !ok {
			continue
		}
		px, hasPx := closes[ticker]
		if !hasPx || px <= 0 {
			px = pos.AvgCost
		}
		if err := e.book.Sell(ticker, date, px, pos.Quantity); err != nil {
			logger.Warnf("%s 强制平仓失败: %v", ticker, err)
		}
	}
}

func (e *Engine) logSummary() {
	stats := e.cache.SnapshotStats()
	var unavailable, failed int
	for _, c := range e.cycles {
		unavailable += c.DataUnavailable
		failed += c.ScoringFailed
	}
	logger.InfoBlock(fmt.Sprintf(
		"回测结束\n调仓次数: %d\n成交回合: %d\n数据缺失累计: %d\n打分失败累计: %d\n缓存: tier1 %d/%d tier2 %d/%d provider调用 %d",
		len(e.cycles), len(e.book.ClosedTrades()), unavailable, failed,
		stats.Tier1Hits, stats.Tier1Hits+stats.Tier1Misses,
		stats.Tier2Hits, stats.Tier2Hits+stats.Tier2Misses,
		stats.ProviderCalls))
}
