package config

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9991"
	}
	if c.Data.BarsDir == "" {
		c.Data.BarsDir = "data/bars"
	}
	if c.Data.ResultsDir == "" {
		c.Data.ResultsDir = "data/results"
	}
	if c.Data.ReportsDir == "" {
		c.Data.ReportsDir = "data/reports"
	}
	if c.FMP.BaseURL == "" {
		c.FMP.BaseURL = "https://financialmodelingprep.com/api/v3"
	}
	if c.FMP.RatePerSec <= 0 {
		c.FMP.RatePerSec = 4
	}
	if c.FMP.TimeoutSeconds <= 0 {
		c.FMP.TimeoutSeconds = 15
	}
	if c.Backtest.StartingCash <= 0 {
		c.Backtest.StartingCash = 100000
	}
	if c.Backtest.Benchmark == "" {
		c.Backtest.Benchmark = "SPY"
	}
	if c.Backtest.MaxConcurrent <= 0 {
		c.Backtest.MaxConcurrent = 1
	}
}
