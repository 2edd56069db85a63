package app

import (
	"context"
	"fmt"

	"valuekit/internal/backtest"
	vkcfg "valuekit/internal/config"
	"valuekit/internal/logger"
	"valuekit/internal/market"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动回测服务。
type App struct {
	cfg     *vkcfg.Config
	bars    *market.Store
	results *backtest.ResultStore
	sim     *backtest.Simulator
	http    *backtest.HTTPServer
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *vkcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildApp(cfg)
}

// Run 启动 HTTP 服务，阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.http == nil {
		return fmt.Errorf("http server not initialized")
	}

	if a.sim != nil {
		a.sim.SetContext(ctx)
	}
	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer a.close()
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	logger.Infof("ValueKit 回测服务已启动，监听 %s", a.cfg.App.HTTPAddr)
	return group.Wait()
}

func (a *App) close() {
	if a.results != nil {
		if err := a.results.Close(); err != nil {
			logger.Warnf("关闭结果库失败: %v", err)
		}
	}
	if a.bars != nil {
		if err := a.bars.Close(); err != nil {
			logger.Warnf("关闭行情库失败: %v", err)
		}
	}
}
