package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.FMP.validate(); err != nil {
		return err
	}
	return c.Backtest.validate()
}

func (f *FMPConfig) validate() error {
	if strings.TrimSpace(f.APIKey) == "" {
		return fmt.Errorf("fmp.api_key 不能为空")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	if b.CommissionRate < 0 {
		return fmt.Errorf("backtest.commission_rate 不能为负")
	}
	if b.RiskFreeRate < 0 || b.RiskFreeRate > 1 {
		return fmt.Errorf("backtest.risk_free_rate 需在 [0,1] 区间")
	}
	for _, t := range b.Universe {
		if strings.TrimSpace(t) == "" {
			return fmt.Errorf("backtest.universe 含空白 ticker")
		}
	}
	return nil
}
