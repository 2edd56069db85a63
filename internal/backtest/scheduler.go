package backtest

import "time"

// Scheduler 判断某个模拟日是否为调仓日。
// 第一天恒为调仓日（建仓基准），之后距上次调仓满 interval 天再触发，
// 间隔从上次调仓日起算而非对齐日历季度。
type Scheduler struct {
	intervalDays  int
	lastRebalance time.Time
	fired         bool
}

func NewScheduler(intervalDays int) *Scheduler {
	return &Scheduler{intervalDays: intervalDays}
}

// Due 返回当日是否触发调仓，触发时同步推进基准日。
func (s *Scheduler) Due(date time.Time) bool {
	if !s.fired {
		s.fired = true
		s.lastRebalance = date
		return true
	}
	if int(date.Sub(s.lastRebalance).Hours()/24) >= s.intervalDays {
		s.lastRebalance = date
		return true
	}
	return false
}

// LastRebalance 返回最近一次调仓日。
func (s *Scheduler) LastRebalance() time.Time { return s.lastRebalance }
