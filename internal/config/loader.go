package config

import (
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// 默认值集中定义，loader 与 Validate 共用。
const (
	DefaultListenAddr            = "127.0.0.1:5050"
	DefaultJinxxyBaseURL         = "https://api.creators.jinxxy.com/v1/"
	DefaultHighPriorityExpiry    = 60 * time.Second
	DefaultLowPriorityExpiry     = 24 * time.Hour
	DefaultLowPriorityFudge      = 5 * time.Second
	DefaultMinSleep              = 2000 * time.Millisecond
	DefaultMaxWorkPerWake        = 250
	DefaultHighPriorityQueueSize = 1024
	DefaultControlQueueSize      = 1024
	DefaultAutocompleteLimit     = 25
)

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func newViper(path string) (*viper.Viper, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenAddr", DefaultListenAddr)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("RedisAddr", "127.0.0.1:6379")
	v.SetDefault("RedisDB", 0)

	v.SetDefault("Upstream.BaseURL", DefaultJinxxyBaseURL)
	v.SetDefault("Upstream.Timeout", "30s")
	v.SetDefault("Upstream.QPS", 10)
	v.SetDefault("Upstream.ParallelFetchLimit", 8)

	v.SetDefault("Cache.HighPriorityExpiry", "60s")
	v.SetDefault("Cache.LowPriorityExpiry", "24h")
	v.SetDefault("Cache.LowPriorityFudge", "5s")
	v.SetDefault("Cache.MinSleep", "2s")
	v.SetDefault("Cache.MaxWorkPerWake", DefaultMaxWorkPerWake)
	v.SetDefault("Cache.HighPriorityQueueSize", DefaultHighPriorityQueueSize)
	v.SetDefault("Cache.ControlQueueSize", DefaultControlQueueSize)
	v.SetDefault("Cache.AutocompleteLimit", DefaultAutocompleteLimit)
}

func applyDefaults(cfg *Config) {
	if cfg.Global.ListenAddr == "" {
		cfg.Global.ListenAddr = DefaultListenAddr
	}
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = DefaultJinxxyBaseURL
	}
	if cfg.Upstream.Timeout.DurationValue() == 0 {
		cfg.Upstream.Timeout = Duration(30 * time.Second)
	}
	if cfg.Upstream.ParallelFetchLimit == 0 {
		cfg.Upstream.ParallelFetchLimit = 8
	}

	c := &cfg.Cache
	if c.HighPriorityExpiry.DurationValue() == 0 {
		c.HighPriorityExpiry = Duration(DefaultHighPriorityExpiry)
	}
	if c.LowPriorityExpiry.DurationValue() == 0 {
		c.LowPriorityExpiry = Duration(DefaultLowPriorityExpiry)
	}
	if c.MinSleep.DurationValue() == 0 {
		c.MinSleep = Duration(DefaultMinSleep)
	}
	if c.MaxWorkPerWake == 0 {
		c.MaxWorkPerWake = DefaultMaxWorkPerWake
	}
	if c.HighPriorityQueueSize == 0 {
		c.HighPriorityQueueSize = DefaultHighPriorityQueueSize
	}
	if c.ControlQueueSize == 0 {
		c.ControlQueueSize = DefaultControlQueueSize
	}
	if c.AutocompleteLimit == 0 {
		c.AutocompleteLimit = DefaultAutocompleteLimit
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
