package config

import (
	"errors"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Cache.HighPriorityExpiry.DurationValue() != time.Minute {
		t.Fatalf("HighPriorityExpiry 应按秒解析，得到 %v", cfg.Cache.HighPriorityExpiry.DurationValue())
	}
	if cfg.Cache.LowPriorityExpiry.DurationValue() != 12*time.Hour {
		t.Fatalf("LowPriorityExpiry 应解析为 12h，得到 %v", cfg.Cache.LowPriorityExpiry.DurationValue())
	}
	if cfg.Cache.LowPriorityFudge.DurationValue() != DefaultLowPriorityFudge {
		t.Fatalf("LowPriorityFudge 应填充默认值")
	}
	if cfg.Cache.MinSleep.DurationValue() != DefaultMinSleep {
		t.Fatalf("MinSleep 应填充默认值")
	}
	if cfg.Cache.MaxWorkPerWake != DefaultMaxWorkPerWake {
		t.Fatalf("MaxWorkPerWake 应填充默认值")
	}
	if cfg.Cache.AutocompleteLimit != DefaultAutocompleteLimit {
		t.Fatalf("AutocompleteLimit 应填充默认值")
	}
	if cfg.Upstream.Timeout.DurationValue() != 20*time.Second {
		t.Fatalf("Upstream.Timeout 应被解析")
	}
	if cfg.Upstream.ParallelFetchLimit != 8 {
		t.Fatalf("ParallelFetchLimit 应填充默认值")
	}
}

func TestValidateRejectsBadGlobal(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateReportsFieldPath(t *testing.T) {
	cfg := validConfig()
	cfg.Cache.MaxWorkPerWake = 0

	err := cfg.Validate()
	var fieldErr FieldError
	if !errors.As(err, &fieldErr) {
		t.Fatalf("期望 FieldError，得到 %v", err)
	}
	if fieldErr.Field != "Cache.MaxWorkPerWake" {
		t.Fatalf("字段路径错误: %s", fieldErr.Field)
	}
}

func TestValidateCacheFields(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*Config)
		shouldErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"zero high priority expiry", func(c *Config) { c.Cache.HighPriorityExpiry = 0 }, true},
		{"negative fudge", func(c *Config) { c.Cache.LowPriorityFudge = Duration(-time.Second) }, true},
		{"zero fudge allowed", func(c *Config) { c.Cache.LowPriorityFudge = 0 }, false},
		{"zero min sleep", func(c *Config) { c.Cache.MinSleep = 0 }, true},
		{"zero queue size", func(c *Config) { c.Cache.HighPriorityQueueSize = 0 }, true},
		{"bad base url", func(c *Config) { c.Upstream.BaseURL = "ftp://example.com" }, true},
		{"bad log level", func(c *Config) { c.Global.LogLevel = "loud" }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestDurationUnmarshalText(t *testing.T) {
	testCases := []struct {
		raw  string
		want time.Duration
	}{
		{"30s", 30 * time.Second},
		{"90", 90 * time.Second},
		{"0x10", 16 * time.Second},
		{"", 0},
	}
	for _, tc := range testCases {
		var d Duration
		if err := d.UnmarshalText([]byte(tc.raw)); err != nil {
			t.Fatalf("解析 %q 失败: %v", tc.raw, err)
		}
		if d.DurationValue() != tc.want {
			t.Fatalf("%q: 期望 %v 得到 %v", tc.raw, tc.want, d.DurationValue())
		}
	}

	var bad Duration
	if err := bad.UnmarshalText([]byte("soon")); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func validConfig() *Config {
	cfg := &Config{
		Global: GlobalConfig{
			ListenAddr: DefaultListenAddr,
			LogLevel:   "info",
			RedisAddr:  "127.0.0.1:6379",
		},
		Upstream: UpstreamConfig{
			BaseURL:            DefaultJinxxyBaseURL,
			Timeout:            Duration(30 * time.Second),
			QPS:                10,
			ParallelFetchLimit: 8,
		},
	}
	cfg.Cache = CacheConfig{
		HighPriorityExpiry:    Duration(DefaultHighPriorityExpiry),
		LowPriorityExpiry:     Duration(DefaultLowPriorityExpiry),
		LowPriorityFudge:      Duration(DefaultLowPriorityFudge),
		MinSleep:              Duration(DefaultMinSleep),
		MaxWorkPerWake:        DefaultMaxWorkPerWake,
		HighPriorityQueueSize: DefaultHighPriorityQueueSize,
		ControlQueueSize:      DefaultControlQueueSize,
		AutocompleteLimit:     DefaultAutocompleteLimit,
	}
	return cfg
}
