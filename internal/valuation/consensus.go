package valuation

import (
	"errors"
	"fmt"

	"valuekit/internal/fundamentals"
	"valuekit/internal/logger"
)

// ErrNoValuation 表示所有启用的估值方法都算不出结果。
var ErrNoValuation = errors.New("valuation: 没有可用的估值方法")

// Methods 控制共识估值启用哪些方法，零值等同全部启用。
type Methods struct {
	DCF    bool
	PBT    bool
	TenCap bool
}

// AllMethods 返回全部启用的方法集。
func AllMethods() Methods {
	return Methods{DCF: true, PBT: true, TenCap: true}
}

func (m Methods) none() bool { return !m.DCF && !m.PBT && !m.TenCap }

// ConsensusScorer 把启用方法的公允价值与买入价取简单平均，
// 再与参考价比较得出 MOS 与建议。实现 Scorer。
type ConsensusScorer struct {
	methods Methods
}

func NewConsensusScorer(methods Methods) *ConsensusScorer {
	if methods.none() {
		methods = AllMethods()
	}
	return &ConsensusScorer{methods: methods}
}

// Score 对单只股票打分。refPrice 必须取模拟日收盘价（见 Scorer 契约）。
func (c *ConsensusScorer) Score(ticker string, snap *fundamentals.Snapshot, refPrice float64) (Signal, error) {
	if snap == nil {
		return Signal{}, fmt.Errorf("valuation: %s 缺少基本面快照", ticker)
	}
	if refPrice <= 0 {
		return Signal{}, fmt.Errorf("valuation: %s 参考价非法: %v", ticker, refPrice)
	}

	growth := GrowthEstimate(snap)

	var estimates []estimate
	if c.methods.DCF {
		if est, ok := dcfEstimate(snap, growth); ok {
			estimates = append(estimates, est)
		} else {
			logger.Debugf("%s DCF 估值不可用", ticker)
		}
	}
	if c.methods.PBT {
		if est, ok := pbtEstimate(snap, growth); ok {
			estimates = append(estimates, est)
		} else {
			logger.Debugf("%s PBT 估值不可用", ticker)
		}
	}
	if c.methods.TenCap {
		if est, ok := tenCapEstimate(snap); ok {
			estimates = append(estimates, est)
		} else {
			logger.Debugf("%s ten-cap 估值不可用", ticker)
		}
	}
	if len(estimates) == 0 {
		return Signal{}, fmt.Errorf("%w: %s", ErrNoValuation, ticker)
	}

	var fairSum, buySum float64
	methods := make([]string, 0, len(estimates))
	for _, est := range estimates {
		fairSum += est.fairValue
		buySum += est.buyPrice
		methods = append(methods, est.method)
	}
	fair := fairSum / float64(len(estimates))
	buy := buySum / float64(len(estimates))
	if fair <= 0 {
		return Signal{}, fmt.Errorf("%w: %s 共识公允价值非正", ErrNoValuation, ticker)
	}

	mosPct := (fair - refPrice) / fair * 100

	var rec string
	switch {
	case refPrice <= buy:
		rec = RecStrongBuy
	case refPrice <= fair:
		rec = RecBuy
	case mosPct >= -5:
		rec = RecHold
	default:
		rec = RecSell
	}

	return Signal{
		MOSPct:         mosPct,
		Quality:        MoatScore(snap),
		Recommendation: rec,
		FairValue:      fair,
		BuyPrice:       buy,
		Methods:        methods,
	}, nil
}

var _ Scorer = (*ConsensusScorer)(nil)
