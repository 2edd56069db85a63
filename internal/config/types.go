package config

// Config 是 ValueKit 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Data     DataConfig     `toml:"data"`
	FMP      FMPConfig      `toml:"fmp"`
	Backtest BacktestConfig `toml:"backtest"`
}

type AppConfig struct {
	Env          string `toml:"env"`
	LogLevel     string `toml:"log_level"`
	HTTPAddr     string `toml:"http_addr"`
	LogPath      string `toml:"log_path"`
	ProfilesPath string `toml:"profiles_path"`
}

// DataConfig 指定行情库、结果库与报告的落盘位置。
type DataConfig struct {
	BarsDir    string `toml:"bars_dir"`
	ResultsDir string `toml:"results_dir"`
	ReportsDir string `toml:"reports_dir"`
}

// FMPConfig 描述基本面/行情数据源的访问方式。
type FMPConfig struct {
	APIKey         string  `toml:"api_key"`
	BaseURL        string  `toml:"base_url"`
	RatePerSec     float64 `toml:"rate_per_sec"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
}

// BacktestConfig 提供回测的缺省参数，HTTP 提交时可逐项覆盖。
type BacktestConfig struct {
	Universe       []string `toml:"universe"`
	Benchmark      string   `toml:"benchmark"`
	StartingCash   float64  `toml:"starting_cash"`
	CommissionRate float64  `toml:"commission_rate"`
	RiskFreeRate   float64  `toml:"risk_free_rate"`
	MaxConcurrent  int      `toml:"max_concurrent"`
}
