// Package config 提供统一的配置加载、校验与热更新能力.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"github.com/wyfcoding/mcvol/logging"
)

// Config 全局顶级配置结构.
type Config struct {
	Version     string            `mapstructure:"version"     toml:"version"`
	Server      ServerConfig      `mapstructure:"server"      toml:"server"`
	Log         LogConfig         `mapstructure:"log"         toml:"log"`
	Tracing     TracingConfig     `mapstructure:"tracing"     toml:"tracing"`
	Metrics     MetricsConfig     `mapstructure:"metrics"     toml:"metrics"`
	Pricing     PricingConfig     `mapstructure:"pricing"     toml:"pricing"`
	Calibration CalibrationConfig `mapstructure:"calibration" toml:"calibration"`
	Cache       CacheConfig       `mapstructure:"cache"       toml:"cache"`
	Concurrency ConcurrencyConfig `mapstructure:"concurrency" toml:"concurrency"`
	Batch       BatchConfig       `mapstructure:"batch"       toml:"batch"`
}

// ServerConfig 定义服务器运行时的基础网络与环境参数.
type ServerConfig struct {
	Name        string `mapstructure:"name"        toml:"name"        validate:"required"`
	Environment string `mapstructure:"environment" toml:"environment" validate:"oneof=dev test prod"`
	HTTP        struct {
		Addr              string        `mapstructure:"addr"                toml:"addr"`
		Port              int           `mapstructure:"port"                toml:"port"                validate:"required,min=1,max=65535"`
		ReadTimeout       time.Duration `mapstructure:"read_timeout"        toml:"read_timeout"`
		ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" toml:"read_header_timeout"`
		WriteTimeout      time.Duration `mapstructure:"write_timeout"       toml:"write_timeout"`
		IdleTimeout       time.Duration `mapstructure:"idle_timeout"        toml:"idle_timeout"`
		MaxBodyBytes      int64         `mapstructure:"max_body_bytes"      toml:"max_body_bytes"`
	} `mapstructure:"http" toml:"http"`
}

// LogConfig 定义日志输出、级别与切割策略.
type LogConfig struct {
	Level         string        `mapstructure:"level"          toml:"level"          validate:"omitempty,oneof=debug info warn error"`
	File          string        `mapstructure:"file"           toml:"file"`           // 日志文件路径。
	Console       bool          `mapstructure:"console"        toml:"console"`        // 写文件时是否同时输出到 stdout。
	ConsoleLevel  string        `mapstructure:"console_level"  toml:"console_level"  validate:"omitempty,oneof=debug info warn error"` // stdout 副本的最低级别。
	MaxSize       int           `mapstructure:"max_size"       toml:"max_size"`       // 单个文件最大大小 (MB)。
	MaxBackups    int           `mapstructure:"max_backups"    toml:"max_backups"`    // 最大备份数。
	MaxAge        int           `mapstructure:"max_age"        toml:"max_age"`        // 最大保留天数。
	Compress      bool          `mapstructure:"compress"       toml:"compress"`       // 是否启用压缩。
	SlowThreshold time.Duration `mapstructure:"slow_threshold" toml:"slow_threshold"` // HTTP 慢请求阈值。
}

// TracingConfig 分布式链路追踪（OpenTelemetry）配置.
type TracingConfig struct {
	ServiceName  string  `mapstructure:"service_name"  toml:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" toml:"otlp_endpoint" validate:"required_if=Enabled true"`
	SamplerRatio float64 `mapstructure:"sampler_ratio" toml:"sampler_ratio" validate:"gte=0,lte=1"`
	Enabled      bool    `mapstructure:"enabled"       toml:"enabled"`
}

// MetricsConfig 普罗米修斯监控指标暴露配置.
type MetricsConfig struct {
	Port    string `mapstructure:"port"    toml:"port"`
	Path    string `mapstructure:"path"    toml:"path"`
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
}

// PricingConfig 蒙特卡洛估算参数.
type PricingConfig struct {
	Simulations    int    `mapstructure:"simulations"      toml:"simulations"      validate:"min=1"`
	TimeSteps      int    `mapstructure:"time_steps"       toml:"time_steps"       validate:"min=1"`
	Workers        int    `mapstructure:"workers"          toml:"workers"          validate:"min=1"`
	Seed           uint64 `mapstructure:"seed"             toml:"seed"` // 0 表示每次运行取新熵
	PathsPerStream int    `mapstructure:"paths_per_stream" toml:"paths_per_stream" validate:"min=1"`
}

// CalibrationConfig 波动率二分校准参数.
type CalibrationConfig struct {
	LowVolatility   float64 `mapstructure:"low_volatility"    toml:"low_volatility"    validate:"gte=0"`
	HighVolatility  float64 `mapstructure:"high_volatility"   toml:"high_volatility"   validate:"gtfield=LowVolatility"`
	Tolerance       float64 `mapstructure:"tolerance"         toml:"tolerance"         validate:"gt=0"`
	SamplesPerTrial int     `mapstructure:"samples_per_trial" toml:"samples_per_trial" validate:"min=1"`
}

// CacheConfig 结果缓存配置.
type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled" toml:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"     toml:"ttl"     validate:"required_if=Enabled true"`
	MaxMB   int           `mapstructure:"max_mb"  toml:"max_mb"  validate:"gte=0"`
}

// ConcurrencyConfig 定义 HTTP 并发限制配置.
type ConcurrencyConfig struct {
	HTTP struct {
		Enabled     bool          `mapstructure:"enabled"      toml:"enabled"`
		Max         int           `mapstructure:"max"          toml:"max"          validate:"gte=0"`
		WaitTimeout time.Duration `mapstructure:"wait_timeout" toml:"wait_timeout"`
	} `mapstructure:"http" toml:"http"`
}

// BatchConfig 批量校准的工作池参数.
type BatchConfig struct {
	PoolSize  int `mapstructure:"pool_size"  toml:"pool_size"  validate:"min=1"`
	QueueSize int `mapstructure:"queue_size" toml:"queue_size" validate:"min=1"`
	MaxQuotes int `mapstructure:"max_quotes" toml:"max_quotes" validate:"min=1"`
}

var (
	vInstance = viper.New()
	validate  = validator.New()

	hookMu   sync.RWMutex
	onReload []func(*Config)
)

// setDefaults 注册默认值，环境变量覆盖只对已知键生效，因此每个键都需要默认值.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.name", "pricing")
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", 10*time.Second)
	v.SetDefault("server.http.read_header_timeout", 5*time.Second)
	v.SetDefault("server.http.write_timeout", 60*time.Second)
	v.SetDefault("server.http.idle_timeout", 120*time.Second)
	v.SetDefault("server.http.max_body_bytes", 1<<20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age", 7)
	v.SetDefault("log.slow_threshold", 2*time.Second)

	v.SetDefault("tracing.sampler_ratio", 1.0)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("pricing.simulations", 10000)
	v.SetDefault("pricing.time_steps", 100)
	v.SetDefault("pricing.workers", 1)
	v.SetDefault("pricing.seed", 0)
	v.SetDefault("pricing.paths_per_stream", 1024)

	v.SetDefault("calibration.low_volatility", 0.03)
	v.SetDefault("calibration.high_volatility", 6.0)
	v.SetDefault("calibration.tolerance", 1e-5)
	v.SetDefault("calibration.samples_per_trial", 1)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("cache.max_mb", 64)

	v.SetDefault("concurrency.http.enabled", true)
	v.SetDefault("concurrency.http.max", 4)
	v.SetDefault("concurrency.http.wait_timeout", 2*time.Second)

	v.SetDefault("batch.pool_size", 4)
	v.SetDefault("batch.queue_size", 64)
	v.SetDefault("batch.max_quotes", 200)
}

// Default 返回全部取默认值的配置.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	conf := new(Config)
	_ = v.Unmarshal(conf)
	return conf
}

// Validate 校验配置结构.
func Validate(conf *Config) error {
	if err := validate.Struct(conf); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// RegisterReloadHook 注册配置热更新回调.
func RegisterReloadHook(hook func(*Config)) {
	hookMu.Lock()
	defer hookMu.Unlock()
	onReload = append(onReload, hook)
}

// Load 读取 TOML 配置文件到 conf，支持 APP_ 前缀环境变量覆盖（如 APP_PRICING_SIMULATIONS）.
// 文件变化时解析出新的配置，校验通过后交给回调；已加载的 conf 不会被原地修改.
func Load(path string, conf *Config) error {
	if err := read(vInstance, path, conf); err != nil {
		return err
	}

	vInstance.WatchConfig()
	vInstance.OnConfigChange(func(event fsnotify.Event) {
		slog.Info("detecting config change", "file", event.Name)
		const debounceTimeout = 500 * time.Millisecond
		time.Sleep(debounceTimeout)

		next := new(Config)
		if err := vInstance.Unmarshal(next); err != nil {
			slog.Error("reload config unmarshal failed", "error", err)
			return
		}
		if err := Validate(next); err != nil {
			slog.Error("reload config validation failed", "error", err)
			return
		}

		logging.SetLevel(next.Log.Level)
		slog.Info("config hot-reloaded and validated successfully")

		hookMu.RLock()
		hooks := append([]func(*Config){}, onReload...)
		hookMu.RUnlock()
		for _, hook := range hooks {
			hook(next)
		}
	})

	return nil
}

func read(v *viper.Viper, path string, conf *Config) error {
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config error: %w", err)
	}
	if err := v.Unmarshal(conf); err != nil {
		return fmt.Errorf("unmarshal config error: %w", err)
	}
	return Validate(conf)
}

// PrintWithMask 脱敏打印当前配置.
func PrintWithMask(conf any) {
	data, err := json.Marshal(conf)
	if err != nil {
		slog.Error("failed to marshal config for printing", "error", err)
		return
	}

	var configMap map[string]any
	if err := json.Unmarshal(data, &configMap); err != nil {
		slog.Error("failed to unmarshal config for masking", "error", err)
		return
	}

	mask(configMap)

	maskedJSON, err := json.MarshalIndent(configMap, "  ", "  ")
	if err != nil {
		slog.Error("failed to marshal masked config", "error", err)
		return
	}

	slog.Info("Current effective configuration", "config", string(maskedJSON))
}

func mask(configMap map[string]any) {
	sensitiveKeys := []string{"password", "secret", "dsn", "key", "token"}

	for key, val := range configMap {
		if subMap, ok := val.(map[string]any); ok {
			mask(subMap)
			continue
		}
		for _, sensitiveKey := range sensitiveKeys {
			if strings.Contains(strings.ToLower(key), sensitiveKey) {
				configMap[key] = "******"
				break
			}
		}
	}
}

// GetViper 返回底层的 Viper 实例.
func GetViper() *viper.Viper {
	return vInstance
}
