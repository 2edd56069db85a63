package app

import (
	"time"

	"valuekit/internal/backtest"
	vkcfg "valuekit/internal/config"
	"valuekit/internal/fmp"
	"valuekit/internal/logger"
	"valuekit/internal/market"
	"valuekit/internal/profile"
)

// buildApp 按依赖顺序组装组件：数据源→存储→模拟器→HTTP。
func buildApp(cfg *vkcfg.Config) (*App, error) {
	client, err := fmp.NewClient(fmp.ClientConfig{
		BaseURL:         cfg.FMP.BaseURL,
		APIKey:          cfg.FMP.APIKey,
		Timeout:         time.Duration(cfg.FMP.TimeoutSeconds) * time.Second,
		RateLimitPerMin: int(cfg.FMP.RatePerSec * 60),
	})
	if err != nil {
		return nil, err
	}

	bars, err := market.NewStore(cfg.Data.BarsDir)
	if err != nil {
		return nil, err
	}
	results, err := backtest.NewResultStore(cfg.Data.ResultsDir)
	if err != nil {
		bars.Close()
		return nil, err
	}

	var profiles *profile.Registry
	if cfg.App.ProfilesPath != "" {
		profiles, err = profile.NewRegistry(cfg.App.ProfilesPath)
		if err != nil {
			results.Close()
			bars.Close()
			return nil, err
		}
	} else {
		logger.Warnf("未配置 profiles_path，使用内置默认档位")
	}

	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		BarStore:      bars,
		ResultStore:   results,
		Provider:      client,
		Profiles:      profiles,
		ReportDir:     cfg.Data.ReportsDir,
		RiskFreeRate:  cfg.Backtest.RiskFreeRate,
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		results.Close()
		bars.Close()
		return nil, err
	}

	httpSrv, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:      cfg.App.HTTPAddr,
		Simulator: sim,
		Results:   results,
		Bars:      bars,
		Profiles:  profiles,
	})
	if err != nil {
		results.Close()
		bars.Close()
		return nil, err
	}

	return &App{
		cfg:     cfg,
		bars:    bars,
		results: results,
		sim:     sim,
		http:    httpSrv,
	}, nil
}
