package fmp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"valuekit/internal/market"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://financialmodelingprep.com/api/v3"

// Client 基于 FMP REST v3 接口。
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
}

// ClientConfig 配置 FMP 客户端。
type ClientConfig struct {
	BaseURL         string
	APIKey          string
	RateLimitPerMin int
	Timeout         time.Duration
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("fmp: api key 不能为空")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		ratePerSec = 4
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(ratePerSec, 4),
	}, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) (gjson.Result, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return gjson.Result{}, err
	}
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return gjson.Result{}, err
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)
	u.RawQuery = params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("fmp 构造请求失败: %w", err)
	}
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return gjson.Result{}, fmt.Errorf("%w: fmp 返回状态码 %d", ErrDataUnavailable, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: 响应不是合法 JSON", ErrDataUnavailable)
	}
	return gjson.ParseBytes(body), nil
}

// PriceHistory 拉取 historical-price-full 的日线并按日期升序返回。
func (c *Client) PriceHistory(ctx context.Context, ticker string, from, to time.Time) ([]market.Bar, error) {
	params := url.Values{}
	params.Set("from", from.Format(market.DateLayout))
	params.Set("to", to.Format(market.DateLayout))
	res, err := c.get(ctx, "/historical-price-full/"+strings.ToUpper(ticker), params)
	if err != nil {
		return nil, err
	}
	hist := res.Get("historical")
	if !hist.Exists() || !hist.IsArray() {
		return nil, nil
	}
	var bars []market.Bar
	hist.ForEach(func(_, row gjson.Result) bool {
		date, err := time.Parse(market.DateLayout, row.Get("date").String())
		if err != nil {
			return true
		}
		bars = append(bars, market.Bar{
			Date:   date,
			Open:   row.Get("open").Float(),
			High:   row.Get("high").Float(),
			Low:    row.Get("low").Float(),
			Close:  row.Get("close").Float(),
			Volume: row.Get("volume").Float(),
		})
		return true
	})
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func (c *Client) BalanceSheet(ctx context.Context, ticker string, limit int) ([]Statement, error) {
	return c.statements(ctx, "/balance-sheet-statement/", ticker, limit)
}

func (c *Client) IncomeStatement(ctx context.Context, ticker string, limit int) ([]Statement, error) {
	return c.statements(ctx, "/income-statement/", ticker, limit)
}

func (c *Client) CashflowStatement(ctx context.Context, ticker string, limit int) ([]Statement, error) {
	return c.statements(ctx, "/cash-flow-statement/", ticker, limit)
}

func (c *Client) KeyMetrics(ctx context.Context, ticker string, limit int) ([]Statement, error) {
	return c.statements(ctx, "/key-metrics/", ticker, limit)
}

func (c *Client) statements(ctx context.Context, path, ticker string, limit int) ([]Statement, error) {
	if limit <= 0 {
		limit = 10
	}
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	res, err := c.get(ctx, path+strings.ToUpper(ticker), params)
	if err != nil {
		return nil, err
	}
	if !res.IsArray() {
		return nil, nil
	}
	var out []Statement
	res.ForEach(func(_, row gjson.Result) bool {
		out = append(out, parseStatement(row))
		return true
	})
	return out, nil
}

// parseStatement 把一条 FMP 报表 JSON 拍平到 Statement。
// 四类报表字段互不重叠，没出现的字段解析为 0。
func parseStatement(row gjson.Result) Statement {
	st := Statement{
		Date:    row.Get("date").String(),
		Revenue: row.Get("revenue").Float(),

		OperatingIncome: row.Get("operatingIncome").Float(),
		IncomeBeforeTax: row.Get("incomeBeforeTax").Float(),
		NetIncome:       row.Get("netIncome").Float(),
		EPS:             row.Get("eps").Float(),

		TotalDebt:   row.Get("totalDebt").Float(),
		TotalEquity: row.Get("totalStockholdersEquity").Float(),
		TotalAssets: row.Get("totalAssets").Float(),

		OperatingCashFlow: row.Get("operatingCashFlow").Float(),
		CapEx:             row.Get("capitalExpenditure").Float(),
		FreeCashFlow:      row.Get("freeCashFlow").Float(),
		DepreciationAmort: row.Get("depreciationAndAmortization").Float(),
		ReceivablesChange: row.Get("accountsReceivables").Float(),
		PayablesChange:    row.Get("accountsPayables").Float(),

		ROE:               row.Get("roe").Float(),
		ROIC:              row.Get("roic").Float(),
		BookValuePerShare: row.Get("bookValuePerShare").Float(),
		RevenuePerShare:   row.Get("revenuePerShare").Float(),
		FCFPerShare:       row.Get("freeCashFlowPerShare").Float(),
		SharesOutstanding: row.Get("weightedAverageShsOut").Float(),
	}
	st.FiscalYear = fiscalYearOf(st.Date)
	return st
}

// fiscalYearOf 从 "2018-12-31" 里取年份，解析失败返回 0。
func fiscalYearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return y
}

var _ Provider = (*Client)(nil)
