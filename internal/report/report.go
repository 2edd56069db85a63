package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"valuekit/internal/analytics"
	"valuekit/internal/ledger"
	"valuekit/internal/market"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorEquity        = "#3b82f6"
	colorBenchmark     = "#fbbf24"
	colorDrawdown      = "#f87171"
	colorWin           = "#34d399"
	colorLoss          = "#f87171"

	chartWidthPx  = 1400
	chartHeightPx = 480
)

// Input 汇集渲染一份回测报告需要的全部数据。
type Input struct {
	RunID     string
	Snapshots []ledger.PortfolioSnapshot
	Trades    []ledger.ClosedTrade
	Metrics   analytics.Metrics
	Benchmark analytics.BenchmarkResult
}

// WriteHTML 把净值曲线、回撤与回合盈亏渲染成单页 HTML。
func WriteHTML(dir string, input Input) (string, error) {
	if len(input.Snapshots) == 0 {
		return "", fmt.Errorf("report: 没有净值数据可渲染")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		buildEquityChart(input),
		buildDrawdownChart(input.Snapshots),
	)
	if len(input.Trades) > 0 {
		page.AddCharts(buildTradeChart(input.Trades))
	}

	name := strings.ToLower(strings.TrimSpace(input.RunID))
	if name == "" {
		name = "report"
	}
	path := filepath.Join(dir, name+".html")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return "", err
	}
	return path, nil
}

func chartInit() opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", chartHeightPx),
		BackgroundColor: colorBackground,
	}
}

func buildEquityChart(input Input) *charts.Line {
	line := charts.NewLine()
	subtitle := fmt.Sprintf("总收益 %.1f%% | CAGR %.1f%% | Sharpe %.2f | 最大回撤 %.1f%%",
		input.Metrics.TotalReturnPct, input.Metrics.CAGRPct, input.Metrics.Sharpe, input.Metrics.MaxDrawdownPct)
	if input.Benchmark.Available {
		subtitle += fmt.Sprintf(" | 跑赢基准 %.1f%%", input.Benchmark.Outperformance)
	}
	line.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit()),
		charts.WithTitleOpts(opts.Title{
			Title:         "组合净值",
			Subtitle:      subtitle,
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
		}),
	)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	xAxis := make([]string, len(input.Snapshots))
	equity := make([]opts.LineData, len(input.Snapshots))
	cash := make([]opts.LineData, len(input.Snapshots))
	for i, snap := range input.Snapshots {
		xAxis[i] = snap.Date.Format(market.DateLayout)
		equity[i] = opts.LineData{Value: round2(snap.TotalValue)}
		cash[i] = opts.LineData{Value: round2(snap.Cash)}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("净值", equity, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	line.AddSeries("现金", cash, charts.WithLineStyleOpts(opts.LineStyle{Color: colorBenchmark, Width: 1}))
	return line
}

func buildDrawdownChart(snapshots []ledger.PortfolioSnapshot) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit()),
		charts.WithTitleOpts(opts.Title{Title: "回撤", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
	)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))

	xAxis := make([]string, len(snapshots))
	data := make([]opts.LineData, len(snapshots))
	runningMax := 0.0
	for i, snap := range snapshots {
		xAxis[i] = snap.Date.Format(market.DateLayout)
		if snap.TotalValue > runningMax {
			runningMax = snap.TotalValue
		}
		dd := 0.0
		if runningMax > 0 {
			dd = (snap.TotalValue - runningMax) / runningMax * 100
		}
		data[i] = opts.LineData{Value: round2(dd)}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("回撤 %", data, charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}))
	return line
}

func buildTradeChart(trades []ledger.ClosedTrade) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit()),
		charts.WithTitleOpts(opts.Title{Title: "回合盈亏", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary, Rotate: 45}}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: &opts.AxisLabel{Color: colorTextSecondary}}),
	)

	xAxis := make([]string, len(trades))
	data := make([]opts.BarData, len(trades))
	for i, t := range trades {
		xAxis[i] = fmt.Sprintf("%s %s", t.Ticker, t.CloseDate.Format("06-01"))
		color := colorLoss
		if t.IsWin {
			color = colorWin
		}
		data[i] = opts.BarData{
			Value:     round2(t.PnL),
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.8)},
		}
	}
	bar.SetXAxis(xAxis)
	bar.AddSeries("PnL", data)
	return bar
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
