package ledger

import (
	"fmt"
	"sort"
	"time"

	"valuekit/internal/logger"

	"github.com/shopspring/decimal"
)

// Position 是一笔在手持仓；AvgCost 为加权平均成本，
// totalSold/totalSellValue 累计历次卖出，用于平仓时算整笔回合的盈亏。
type Position struct {
	Ticker   string
	Quantity int64
	AvgCost  float64
	OpenDate time.Time

	totalSold      int64
	totalSellValue float64
}

// ClosedTrade 是一笔完整回合：仓位从开到归零记一行。
// 部分卖出的盈亏即时入账但不单独记行，只在日志里报告。
type ClosedTrade struct {
	Ticker    string    `json:"ticker"`
	BuyPrice  float64   `json:"buy_price"`
	SellPrice float64   `json:"sell_price"`
	Size      int64     `json:"size"`
	PnL       float64   `json:"pnl"`
	PnLPct    float64   `json:"pnl_pct"`
	IsWin     bool      `json:"is_win"`
	OpenDate  time.Time `json:"open_date"`
	CloseDate time.Time `json:"close_date"`
}

// PortfolioSnapshot 是每个模拟日收盘后的组合快照，按日追加构成净值曲线。
type PortfolioSnapshot struct {
	Date           time.Time `json:"date"`
	Cash           float64   `json:"cash"`
	PositionsValue float64   `json:"positions_value"`
	TotalValue     float64   `json:"total_value"`
}

// Ledger 管理现金、持仓与成交记录，持有全部盈亏口径。
// 单次回测内单线程写入，不加锁。
type Ledger struct {
	cash           decimal.Decimal
	commissionRate decimal.Decimal

	positions map[string]*Position
	closed    []ClosedTrade
	snapshots []PortfolioSnapshot
}

func New(startingCash, commissionRate float64) *Ledger {
	return &Ledger{
		cash:           decimal.NewFromFloat(startingCash),
		commissionRate: decimal.NewFromFloat(commissionRate),
		positions:      make(map[string]*Position),
	}
}

// Cash 返回当前可用现金。
func (l *Ledger) Cash() float64 {
	f, _ := l.cash.Float64()
	return f
}

// Position 返回指定 ticker 的持仓。
func (l *Ledger) Position(ticker string) (*Position, bool) {
	p, ok := l.positions[ticker]
	return p, ok
}

// OpenCount 返回在手持仓数。
func (l *Ledger) OpenCount() int { return len(l.positions) }

// OpenTickers 返回在手持仓的 ticker，按字典序稳定输出。
func (l *Ledger) OpenTickers() []string {
	out := make([]string, 0, len(l.positions))
	for t := range l.positions {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// ClosedTrades 返回全部已平仓回合。
func (l *Ledger) ClosedTrades() []ClosedTrade {
	return append([]ClosedTrade(nil), l.closed...)
}

// Snapshots 返回净值曲线。
func (l *Ledger) Snapshots() []PortfolioSnapshot {
	return append([]PortfolioSnapshot(nil), l.snapshots...)
}

// Buy 以收盘价全额成交买入，佣金按名义金额的固定费率收取。
func (l *Ledger) Buy(ticker string, date time.Time, price float64, shares int64) error {
	if shares <= 0 || price <= 0 {
		return fmt.Errorf("ledger: 非法买入 %s shares=%d price=%v", ticker, shares, price)
	}
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(shares))
	cost := notional.Add(notional.Mul(l.commissionRate))
	if cost.GreaterThan(l.cash) {
		return fmt.Errorf("ledger: %s 现金不足: 需要 %s 仅有 %s", ticker, cost.StringFixed(2), l.cash.StringFixed(2))
	}
	l.cash = l.cash.Sub(cost)

	if pos, ok := l.positions[ticker]; ok {
		total := pos.Quantity + shares
		pos.AvgCost = (pos.AvgCost*float64(pos.Quantity) + price*float64(shares)) / float64(total)
		pos.Quantity = total
		logger.Infof("BUY EXECUTED: %s @ $%.2f (%d shares) 加仓后 %d 股 均价 $%.2f",
			ticker, price, shares, total, pos.AvgCost)
		return nil
	}
	l.positions[ticker] = &Position{
		Ticker:   ticker,
		Quantity: shares,
		AvgCost:  price,
		OpenDate: date,
	}
	logger.Infof("BUY EXECUTED: %s @ $%.2f (%d shares)", ticker, price, shares)
	return nil
}

// Sell 以收盘价全额成交卖出。仓位归零时记一笔 ClosedTrade 并移除持仓；
// 部分卖出只在日志里报告盈亏。
func (l *Ledger) Sell(ticker string, date time.Time, price float64, shares int64) error {
	pos, ok := l.positions[ticker]
	if !ok {
		return fmt.Errorf("ledger: 卖出无持仓的 %s", ticker)
	}
	if shares <= 0 || shares > pos.Quantity {
		return fmt.Errorf("ledger: 非法卖出 %s shares=%d 持仓=%d", ticker, shares, pos.Quantity)
	}
	notional := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(shares))
	proceeds := notional.Sub(notional.Mul(l.commissionRate))
	l.cash = l.cash.Add(proceeds)

	pos.Quantity -= shares
	pos.totalSold += shares
	pos.totalSellValue += price * float64(shares)

	if pos.Quantity == 0 {
		avgSell := pos.totalSellValue / float64(pos.totalSold)
		pnl := (avgSell - pos.AvgCost) * float64(pos.totalSold)
		pnlPct := (avgSell - pos.AvgCost) / pos.AvgCost * 100
		trade := ClosedTrade{
			Ticker:    ticker,
			BuyPrice:  pos.AvgCost,
			SellPrice: avgSell,
			Size:      pos.totalSold,
			PnL:       pnl,
			PnLPct:    pnlPct,
			IsWin:     pnl > 0,
			OpenDate:  pos.OpenDate,
			CloseDate: date,
		}
		l.closed = append(l.closed, trade)
		delete(l.positions, ticker)
		logger.Infof("TRADE #%d: %s CLOSED %+.2f (%+.1f%%) [%d shares: $%.2f -> $%.2f]",
			len(l.closed), ticker, pnl, pnlPct, trade.Size, trade.BuyPrice, trade.SellPrice)
		return nil
	}

	partialPnL := (price - pos.AvgCost) * float64(shares)
	logger.Infof("SELL EXECUTED: %s @ $%.2f (%d shares) 部分卖出盈亏 %+.2f 剩余 %d 股",
		ticker, price, shares, partialPnL, pos.Quantity)
	return nil
}

// MarkToMarket 用当日收盘价盯市并追加一条组合快照。
// 缺当日收盘价的持仓按成本估值，避免曲线出现缺口。
func (l *Ledger) MarkToMarket(date time.Time, closes map[string]float64) PortfolioSnapshot {
	var positionsValue float64
	for ticker, pos := range l.positions {
		px, ok := closes[ticker]
		if !ok || px <= 0 {
			px = pos.AvgCost
		}
		positionsValue += px * float64(pos.Quantity)
	}
	cash := l.Cash()
	snap := PortfolioSnapshot{
		Date:           date,
		Cash:           cash,
		PositionsValue: positionsValue,
		TotalValue:     cash + positionsValue,
	}
	l.snapshots = append(l.snapshots, snap)
	return snap
}
