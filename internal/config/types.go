package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：日志、管理端口与持久化存储。
type GlobalConfig struct {
	ListenAddr    string `mapstructure:"ListenAddr"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
	RedisAddr     string `mapstructure:"RedisAddr"`
	RedisPassword string `mapstructure:"RedisPassword"`
	RedisDB       int    `mapstructure:"RedisDB"`
}

// UpstreamConfig 控制 Jinxxy API 客户端的行为。
type UpstreamConfig struct {
	BaseURL            string   `mapstructure:"BaseURL"`
	Timeout            Duration `mapstructure:"Timeout"`
	QPS                float64  `mapstructure:"QPS"`
	ParallelFetchLimit int      `mapstructure:"ParallelFetchLimit"`
}

// CacheConfig 汇总两级刷新调度的阈值与容量。
//
// LowPriorityExpiry 只是首次启动时写入持久化存储的种子值；运行期的权威值
// 始终以存储为准，可在不重启的情况下调整。
type CacheConfig struct {
	HighPriorityExpiry    Duration `mapstructure:"HighPriorityExpiry"`
	LowPriorityExpiry     Duration `mapstructure:"LowPriorityExpiry"`
	LowPriorityFudge      Duration `mapstructure:"LowPriorityFudge"`
	MinSleep              Duration `mapstructure:"MinSleep"`
	MaxWorkPerWake        int      `mapstructure:"MaxWorkPerWake"`
	HighPriorityQueueSize int      `mapstructure:"HighPriorityQueueSize"`
	ControlQueueSize      int      `mapstructure:"ControlQueueSize"`
	AutocompleteLimit     int      `mapstructure:"AutocompleteLimit"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global   GlobalConfig   `mapstructure:",squash"`
	Upstream UpstreamConfig `mapstructure:"Upstream"`
	Cache    CacheConfig    `mapstructure:"Cache"`
}
