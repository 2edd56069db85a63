package fundamentals

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"valuekit/internal/fmp"
	"valuekit/internal/logger"
)

const (
	// 单次拉取的报表年数上限与快照保留年数。
	fetchLimit    = 10
	historyYears  = 5
	defaultRawTTL = 90 * 24 * time.Hour
)

type statementKind string

const (
	kindBalance  statementKind = "balance_sheet"
	kindIncome   statementKind = "income_statement"
	kindCashflow statementKind = "cashflow_statement"
	kindMetrics  statementKind = "key_metrics"
)

// rawEntry 是一层缓存条目：原始 API 返回 + 拉取时间，过期即 miss。
type rawEntry struct {
	payload   []fmp.Statement
	fetchedAt time.Time
}

// Stats 记录缓存命中情况，回测结束时汇总输出。
type Stats struct {
	Tier1Hits     int64
	Tier1Misses   int64
	Tier2Hits     int64
	Tier2Misses   int64
	ProviderCalls int64
}

// Cache 实现两层基本面缓存：
// 一层缓存原始报表响应（带 TTL），二层缓存按年过滤后的不可变快照（永不过期——
// 已结束财年的历史不会再变）。每次回测构造一个实例，运行结束后丢弃。
type Cache struct {
	provider fmp.Provider
	rawTTL   time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	tier1 map[string]rawEntry
	tier2 map[string]*Snapshot
	stats Stats
}

// Option 调整缓存行为，仅测试用。
type Option func(*Cache)

func WithRawTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.rawTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCache(provider fmp.Provider, opts ...Option) (*Cache, error) {
	if provider == nil {
		return nil, fmt.Errorf("fundamentals: provider 不能为空")
	}
	c := &Cache{
		provider: provider,
		rawTTL:   defaultRawTTL,
		now:      time.Now,
		tier1:    make(map[string]rawEntry),
		tier2:    make(map[string]*Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fundamentals 返回 ticker 在模拟日可见的基本面快照。
// as-of-year = 模拟年份 - 1（年报滞后一个财年）。
// 返回 (nil, nil) 表示数据不足，调用方应跳过该股票；
// provider 层故障以 fmp.ErrDataUnavailable 包装返回。
func (c *Cache) Fundamentals(ctx context.Context, ticker string, simDate time.Time) (*Snapshot, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, fmt.Errorf("fundamentals: ticker 不能为空")
	}
	asOfYear := simDate.Year() - 1
	key := tier2Key(ticker, asOfYear)

	c.mu.RLock()
	snap, ok := c.tier2[key]
	c.mu.RUnlock()
	if ok {
		c.bump(func(s *Stats) { s.Tier2Hits++ })
		return snap, nil
	}
	c.bump(func(s *Stats) { s.Tier2Misses++ })

	balance, err := c.rawStatements(ctx, ticker, kindBalance)
	if err != nil {
		return nil, err
	}
	income, err := c.rawStatements(ctx, ticker, kindIncome)
	if err != nil {
		return nil, err
	}
	cash, err := c.rawStatements(ctx, ticker, kindCashflow)
	if err != nil {
		return nil, err
	}
	metrics, err := c.rawStatements(ctx, ticker, kindMetrics)
	if err != nil {
		return nil, err
	}

	balance = filterByYear(balance, asOfYear)
	income = filterByYear(income, asOfYear)
	cash = filterByYear(cash, asOfYear)
	metrics = filterByYear(metrics, asOfYear)
	if len(balance) == 0 || len(income) == 0 || len(cash) == 0 || len(metrics) == 0 {
		logger.Debugf("[fundamentals] %s 截止 %d 的历史数据不足", ticker, asOfYear)
		return nil, nil
	}

	snap = NewSnapshot(ticker, asOfYear, balance, income, cash, metrics)

	// 并发重算得到的快照内容一致，last-writer-wins 即幂等。
	c.mu.Lock()
	if existing, ok := c.tier2[key]; ok {
		snap = existing
	} else {
		c.tier2[key] = snap
	}
	c.mu.Unlock()
	return snap, nil
}

// rawStatements 走一层缓存取原始报表，过期或缺失时向 provider 拉取。
func (c *Cache) rawStatements(ctx context.Context, ticker string, kind statementKind) ([]fmp.Statement, error) {
	key := tier1Key(ticker, kind)
	now := c.now()

	c.mu.RLock()
	entry, ok := c.tier1[key]
	c.mu.RUnlock()
	if ok && now.Sub(entry.fetchedAt) < c.rawTTL {
		c.bump(func(s *Stats) { s.Tier1Hits++ })
		return entry.payload, nil
	}
	c.bump(func(s *Stats) { s.Tier1Misses++; s.ProviderCalls++ })

	payload, err := c.fetch(ctx, ticker, kind)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", ticker, kind, err)
	}
	c.mu.Lock()
	c.tier1[key] = rawEntry{payload: payload, fetchedAt: now}
	c.mu.Unlock()
	return payload, nil
}

func (c *Cache) fetch(ctx context.Context, ticker string, kind statementKind) ([]fmp.Statement, error) {
	switch kind {
	case kindBalance:
		return c.provider.BalanceSheet(ctx, ticker, fetchLimit)
	case kindIncome:
		return c.provider.IncomeStatement(ctx, ticker, fetchLimit)
	case kindCashflow:
		return c.provider.CashflowStatement(ctx, ticker, fetchLimit)
	case kindMetrics:
		return c.provider.KeyMetrics(ctx, ticker, fetchLimit)
	default:
		return nil, fmt.Errorf("未知报表类型 %s", kind)
	}
}

// Snapshot 返回当前统计值。
func (c *Cache) SnapshotStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *Cache) bump(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

// filterByYear 过滤到财年 ≤ maxYear 的记录并截断到最近 historyYears 年。
// 输入按最近在前排列，输出保持该顺序。
func filterByYear(list []fmp.Statement, maxYear int) []fmp.Statement {
	var out []fmp.Statement
	for _, st := range list {
		if st.FiscalYear == 0 || st.FiscalYear > maxYear {
			continue
		}
		out = append(out, st)
		if len(out) == historyYears {
			break
		}
	}
	return out
}

func tier1Key(ticker string, kind statementKind) string {
	return ticker + "|" + string(kind) + "|L" + fmt.Sprint(fetchLimit)
}

func tier2Key(ticker string, year int) string {
	return fmt.Sprintf("%s|year_%d", ticker, year)
}
