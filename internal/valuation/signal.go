package valuation

import (
	"valuekit/internal/fundamentals"
)

// Recommendation 是信号给出的操作建议。
const (
	RecStrongBuy = "strong_buy"
	RecBuy       = "buy"
	RecHold      = "hold"
	RecSell      = "sell"
)

// Signal 是单只股票在某个评估日的估值信号。
// MOSPct 为正表示低估（折价），Quality 固定 0~50 分。
type Signal struct {
	MOSPct         float64  `json:"mos_pct"`
	Quality        float64  `json:"quality"`
	Recommendation string   `json:"recommendation"`
	FairValue      float64  `json:"fair_value"`
	BuyPrice       float64  `json:"buy_price"`
	Methods        []string `json:"methods"`
}

// Scorer 对一只股票打分。refPrice 必须是模拟日的收盘价——
// 用实时价格代替历史价格会泄露未来信息，使回测失效。
// 实现必须是输入的纯函数，不得携带跨调用状态。
type Scorer interface {
	Score(ticker string, snap *fundamentals.Snapshot, refPrice float64) (Signal, error)
}
