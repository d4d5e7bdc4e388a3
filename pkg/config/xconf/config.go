package xconf

import (
	"fmt"
	"time"
)

// AgentConfig 追踪代理的完整配置。
type AgentConfig struct {
	Tracing   TracingConfig   `koanf:"tracing"`
	Reservoir ReservoirConfig `koanf:"reservoir"`
	Harvest   HarvestConfig   `koanf:"harvest"`
	Log       LogConfig       `koanf:"log"`
}

// TracingConfig 追踪内核配置。三项都支持热更新。
type TracingConfig struct {
	// DistributedEnabled 开关分布式追踪（传播载荷的产出）。
	DistributedEnabled bool `koanf:"distributed_enabled"`

	// AutoPropagate 开启后新派生的执行上下文隐式继承当前事务。
	AutoPropagate bool `koanf:"auto_propagate"`

	// SampleRate 采样率，[0,1]。
	SampleRate float64 `koanf:"sample_rate"`
}

// ReservoirConfig 采样蓄水池配置。
type ReservoirConfig struct {
	// EventCapacity 事件蓄水池容量。支持热更新：
	// 缩容时淘汰最低优先级事件，扩容不丢数据。
	EventCapacity int `koanf:"event_capacity"`
}

// HarvestConfig 采集周期配置。
type HarvestConfig struct {
	// Interval 采集周期。
	Interval time.Duration `koanf:"interval"`

	// Timeout 单次导出的超时。
	Timeout time.Duration `koanf:"timeout"`

	// MaxRetries 单次导出的最大重试次数。
	MaxRetries int `koanf:"max_retries"`

	// OrphanTimeout 孤儿事务回收阈值：开启超过该时长仍未提交的
	// 事务视为其执行上下文已消亡，采集层强制回收。0 表示不回收。
	OrphanTimeout time.Duration `koanf:"orphan_timeout"`
}

// LogConfig 日志配置。
type LogConfig struct {
	// Level 日志级别：debug/info/warn/error。
	Level string `koanf:"level"`

	// File 日志文件路径；为空时输出到 stderr。
	File string `koanf:"file"`

	// MaxSizeMB 单个日志文件的大小上限（MB）。
	MaxSizeMB int `koanf:"max_size_mb"`

	// MaxBackups 保留的轮转文件个数。
	MaxBackups int `koanf:"max_backups"`
}

// Default 返回带默认值的配置。
func Default() *AgentConfig {
	return &AgentConfig{
		Tracing: TracingConfig{
			DistributedEnabled: true,
			AutoPropagate:      false,
			SampleRate:         1.0,
		},
		Reservoir: ReservoirConfig{
			EventCapacity: 10000,
		},
		Harvest: HarvestConfig{
			Interval:      60 * time.Second,
			Timeout:       10 * time.Second,
			MaxRetries:    3,
			OrphanTimeout: 10 * time.Minute,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
		},
	}
}

// Validate 校验配置值的合法性。
func (c *AgentConfig) Validate() error {
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("%w: tracing.sample_rate %v not in [0,1]", ErrInvalidConfig, c.Tracing.SampleRate)
	}
	if c.Reservoir.EventCapacity <= 0 {
		return fmt.Errorf("%w: reservoir.event_capacity %d must be positive", ErrInvalidConfig, c.Reservoir.EventCapacity)
	}
	if c.Harvest.Interval <= 0 {
		return fmt.Errorf("%w: harvest.interval %v must be positive", ErrInvalidConfig, c.Harvest.Interval)
	}
	if c.Harvest.Timeout <= 0 {
		return fmt.Errorf("%w: harvest.timeout %v must be positive", ErrInvalidConfig, c.Harvest.Timeout)
	}
	if c.Harvest.MaxRetries < 0 {
		return fmt.Errorf("%w: harvest.max_retries %d must be non-negative", ErrInvalidConfig, c.Harvest.MaxRetries)
	}
	if c.Harvest.OrphanTimeout < 0 {
		return fmt.Errorf("%w: harvest.orphan_timeout %v must be non-negative", ErrInvalidConfig, c.Harvest.OrphanTimeout)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: log.level %q unknown", ErrInvalidConfig, c.Log.Level)
	}
	return nil
}
