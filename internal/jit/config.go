package jit

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Config 引擎配置
type Config struct {
	// Enabled 是否启用分层编译；关闭后所有函数永远走解释器
	Enabled bool `toml:"enabled" json:"enabled"`

	// BaselineThreshold 晋升到基线层的执行次数阈值
	BaselineThreshold int64 `toml:"baseline_threshold" json:"baseline_threshold"`

	// OptimizingThreshold 晋升到优化层的执行次数阈值
	OptimizingThreshold int64 `toml:"optimizing_threshold" json:"optimizing_threshold"`

	// HotLoopThreshold 循环视为热点的迭代数（优化层晋升的剖析证据）
	HotLoopThreshold int64 `toml:"hot_loop_threshold" json:"hot_loop_threshold"`

	// MaxDeopts 反优化多少次后永久拉黑
	MaxDeopts int64 `toml:"max_deopts" json:"max_deopts"`

	// AsyncCompile 是否在后台线程编译
	// 关闭时编译在触发晋升的调用线程上同步执行，其他线程不受影响
	AsyncCompile bool `toml:"async_compile" json:"async_compile"`
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Enabled:             true,
		BaselineThreshold:   100,
		OptimizingThreshold: 1000,
		HotLoopThreshold:    1000,
		MaxDeopts:           3,
		AsyncCompile:        false,
	}
}

// InterpretOnlyConfig 纯解释模式
// 零层编译也必须正确，这是所有回退路径的兜底
func InterpretOnlyConfig() *Config {
	cfg := DefaultConfig()
	cfg.Enabled = false
	return cfg
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.BaselineThreshold <= 0 {
		return fmt.Errorf("baseline_threshold must be positive, got %d", c.BaselineThreshold)
	}
	if c.OptimizingThreshold <= c.BaselineThreshold {
		return fmt.Errorf("optimizing_threshold (%d) must be greater than baseline_threshold (%d)",
			c.OptimizingThreshold, c.BaselineThreshold)
	}
	if c.HotLoopThreshold <= 0 {
		return fmt.Errorf("hot_loop_threshold must be positive, got %d", c.HotLoopThreshold)
	}
	if c.MaxDeopts <= 0 {
		return fmt.Errorf("max_deopts must be positive, got %d", c.MaxDeopts)
	}
	return nil
}

// LoadConfigFile 从 TOML 文件加载配置，未出现的键保持默认值
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}
