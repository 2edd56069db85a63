package market

import (
	"sort"
	"time"
)

// DateLayout 日线数据统一使用的日期格式。
const DateLayout = "2006-01-02"

// Bar 表示单只股票某个交易日的日线行情。
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Series 按日期升序排列的一段日线序列。
type Series struct {
	Ticker string
	Bars   []Bar

	byDate map[string]int
}

// NewSeries 构建序列并建立日期索引（输入未排序时先排序）。
func NewSeries(ticker string, bars []Bar) *Series {
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	idx := make(map[string]int, len(sorted))
	for i, b := range sorted {
		idx[b.Date.Format(DateLayout)] = i
	}
	return &Series{Ticker: ticker, Bars: sorted, byDate: idx}
}

func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// At 返回第 i 根 bar，越界返回 false。
func (s *Series) At(i int) (Bar, bool) {
	if s == nil || i < 0 || i >= len(s.Bars) {
		return Bar{}, false
	}
	return s.Bars[i], true
}

// On 返回指定交易日的 bar；该日无数据（停牌/未上市）返回 false。
func (s *Series) On(date time.Time) (Bar, bool) {
	if s == nil || s.byDate == nil {
		return Bar{}, false
	}
	i, ok := s.byDate[date.Format(DateLayout)]
	if !ok {
		return Bar{}, false
	}
	return s.Bars[i], true
}

// CloseOn 返回指定交易日的收盘价。
func (s *Series) CloseOn(date time.Time) (float64, bool) {
	b, ok := s.On(date)
	if !ok {
		return 0, false
	}
	return b.Close, true
}

// First/Last 方便取首尾 bar。
func (s *Series) First() (Bar, bool) { return s.At(0) }
func (s *Series) Last() (Bar, bool)  { return s.At(s.Len() - 1) }

// TradingDates 合并多只股票的交易日历：任一序列出现过的日期都算一个模拟日。
func TradingDates(series map[string]*Series) []time.Time {
	seen := make(map[string]time.Time)
	for _, s := range series {
		if s == nil {
			continue
		}
		for _, b := range s.Bars {
			seen[b.Date.Format(DateLayout)] = b.Date
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}
