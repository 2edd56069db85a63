package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"valuekit/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Thresholds 是一组买卖阈值。MOS 单位是百分点，Quality 为 0~50 分。
type Thresholds struct {
	BuyMOS      float64 `mapstructure:"buy_mos" yaml:"buy_mos"`
	SellMOS     float64 `mapstructure:"sell_mos" yaml:"sell_mos"`
	BuyQuality  float64 `mapstructure:"buy_quality" yaml:"buy_quality"`
	SellQuality float64 `mapstructure:"sell_quality" yaml:"sell_quality"`
}

// Methods 控制估值方法开关。
type Methods struct {
	DCF    bool `mapstructure:"dcf" yaml:"dcf"`
	PBT    bool `mapstructure:"pbt" yaml:"pbt"`
	TenCap bool `mapstructure:"ten_cap" yaml:"ten_cap"`
}

// Profile 描述单个策略档位：阈值、持仓上限与调仓周期。
// Schema 用于校验提交回测时附带的参数覆盖。
type Profile struct {
	ID            string                 `mapstructure:"id" yaml:"id"`
	Description   string                 `mapstructure:"description" yaml:"description"`
	Version       int                    `mapstructure:"version" yaml:"version"`
	Thresholds    Thresholds             `mapstructure:"thresholds" yaml:"thresholds"`
	Methods       Methods                `mapstructure:"methods" yaml:"methods"`
	MaxPositions  int                    `mapstructure:"max_positions" yaml:"max_positions"`
	RebalanceDays int                    `mapstructure:"rebalance_days" yaml:"rebalance_days"`
	Schema        map[string]interface{} `mapstructure:"schema" yaml:"schema"`

	schemaCompiled *jsonschema.Schema
}

// FileConfig 映射 profiles。
type FileConfig struct {
	Profiles map[string]Profile `mapstructure:"profiles" yaml:"profiles"`
}

// Snapshot 公开的档位快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]Profile
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(Snapshot)

// Registry 管理策略档位，文件变更时热加载。
// 正在运行的回测持有自己那份 Profile 副本，重载只影响之后提交的回测。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取配置文件并监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("profile reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前档位集。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Profile 返回指定 ID 的档位。
func (r *Registry) Profile(id string) (Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.snapshot.Profiles[strings.TrimSpace(id)]
	return p, ok
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	profiles := make(map[string]Profile)
	for name, p := range cfg.Profiles {
		norm := normalizeProfile(name, p)
		profiles[norm.ID] = norm
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: profiles,
	}
	r.mu.Unlock()
	logger.Infof("Profile registry loaded %d profiles from %s", len(profiles), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("profile listener")
			cb(snap)
		}(fn)
	}
}

// DefaultProfile 是配置缺失时的兜底档位，阈值与调仓周期取策略的经典默认。
func DefaultProfile() Profile {
	return Profile{
		ID:      "default",
		Version: 1,
		Thresholds: Thresholds{
			BuyMOS:      10,
			SellMOS:     -5,
			BuyQuality:  30,
			SellQuality: 20,
		},
		Methods:       Methods{DCF: true, PBT: true, TenCap: true},
		MaxPositions:  20,
		RebalanceDays: 90,
	}
}

func normalizeProfile(name string, p Profile) Profile {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = strings.TrimSpace(name)
	}
	if p.Version <= 0 {
		p.Version = 1
	}
	p.Description = strings.TrimSpace(p.Description)
	def := DefaultProfile()
	if p.MaxPositions <= 0 {
		p.MaxPositions = def.MaxPositions
	}
	if p.RebalanceDays <= 0 {
		p.RebalanceDays = def.RebalanceDays
	}
	if p.Thresholds == (Thresholds{}) {
		p.Thresholds = def.Thresholds
	}
	if !p.Methods.DCF && !p.Methods.PBT && !p.Methods.TenCap {
		p.Methods = def.Methods
	}
	if len(p.Schema) > 0 {
		if compiled, err := compileSchema(p.Schema); err != nil {
			logger.Errorf("profile schema compile failed id=%s: %v", p.ID, err)
		} else {
			p.schemaCompiled = compiled
		}
	}
	return p
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]Profile, len(src.Profiles)),
	}
	for id, p := range src.Profiles {
		dst.Profiles[id] = p
	}
	return dst
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

func compileSchema(data map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read profile config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse profile config failed: %w", err)
	}
	return cfg, nil
}

// Validate 用档位自带的 schema 校验提交参数，无 schema 时直接放行。
func (p Profile) Validate(params map[string]any) error {
	if p.schemaCompiled == nil {
		return nil
	}
	return p.schemaCompiled.Validate(sanitizeParams(params))
}

// Validate 按 ID 查找档位并校验参数，通过后把参数覆盖到档位副本上返回。
// 覆盖只作用于本次提交，registry 里存的档位不变。
func (r *Registry) Validate(profileID string, params map[string]any) (Profile, error) {
	p, ok := r.Profile(profileID)
	if !ok {
		return Profile{}, fmt.Errorf("unknown profile: %s", profileID)
	}
	if err := p.Validate(params); err != nil {
		return Profile{}, err
	}
	return p.ApplyOverrides(params), nil
}

// ApplyOverrides 把提交参数叠加到档位副本上。只认识阈值、持仓上限和
// 调仓周期这些数值字段，其余键保持档位原值。调用方应先走 Validate。
func (p Profile) ApplyOverrides(params map[string]any) Profile {
	if len(params) == 0 {
		return p
	}
	clean, _ := sanitizeParams(params).(map[string]any)
	for key, raw := range clean {
		num, ok := asFloat(raw)
		if !ok {
			continue
		}
		switch key {
		case "buy_mos":
			p.Thresholds.BuyMOS = num
		case "sell_mos":
			p.Thresholds.SellMOS = num
		case "buy_quality":
			p.Thresholds.BuyQuality = num
		case "sell_quality":
			p.Thresholds.SellQuality = num
		case "max_positions":
			p.MaxPositions = int(num)
		case "rebalance_days":
			p.RebalanceDays = int(num)
		}
	}
	return p
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// sanitizeParams 递归遍历 params，把字符串形式的数字转成 float64，
// 兼容 HTTP 表单里 "20" 而非 20 的写法。
func sanitizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}
