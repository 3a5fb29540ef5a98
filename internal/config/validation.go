package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var supportedLogLevels = map[string]struct{}{
	"trace": {},
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if _, _, err := net.SplitHostPort(g.ListenAddr); err != nil {
		return newFieldError("Global.ListenAddr", fmt.Sprintf("格式应为 host:port (%v)", err))
	}
	if _, ok := supportedLogLevels[strings.ToLower(g.LogLevel)]; !ok {
		return newFieldError("Global.LogLevel", "仅支持 trace|debug|info|warn|error")
	}
	if strings.TrimSpace(g.RedisAddr) == "" {
		return newFieldError("Global.RedisAddr", "不能为空")
	}
	if g.RedisDB < 0 {
		return newFieldError("Global.RedisDB", "不能为负数")
	}

	u := c.Upstream
	if err := validateBaseURL(u.BaseURL); err != nil {
		return fmt.Errorf("%s: %w", upstreamField("BaseURL"), err)
	}
	if u.Timeout.DurationValue() <= 0 {
		return newFieldError(upstreamField("Timeout"), "必须大于 0")
	}
	if u.QPS < 0 {
		return newFieldError(upstreamField("QPS"), "不能为负数")
	}
	if u.ParallelFetchLimit <= 0 {
		return newFieldError(upstreamField("ParallelFetchLimit"), "必须大于 0")
	}

	cc := c.Cache
	if cc.HighPriorityExpiry.DurationValue() <= 0 {
		return newFieldError(cacheField("HighPriorityExpiry"), "必须大于 0")
	}
	if cc.LowPriorityExpiry.DurationValue() <= 0 {
		return newFieldError(cacheField("LowPriorityExpiry"), "必须大于 0")
	}
	if cc.LowPriorityFudge.DurationValue() < 0 {
		return newFieldError(cacheField("LowPriorityFudge"), "不能为负数")
	}
	if cc.MinSleep.DurationValue() <= 0 {
		return newFieldError(cacheField("MinSleep"), "必须大于 0")
	}
	if cc.MaxWorkPerWake <= 0 {
		return newFieldError(cacheField("MaxWorkPerWake"), "必须大于 0")
	}
	if cc.HighPriorityQueueSize <= 0 {
		return newFieldError(cacheField("HighPriorityQueueSize"), "必须大于 0")
	}
	if cc.ControlQueueSize <= 0 {
		return newFieldError(cacheField("ControlQueueSize"), "必须大于 0")
	}
	if cc.AutocompleteLimit <= 0 {
		return newFieldError(cacheField("AutocompleteLimit"), "必须大于 0")
	}

	return nil
}

func validateBaseURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("不能为空")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("无法解析: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("仅支持 http/https")
	}
	if parsed.Host == "" {
		return errors.New("缺少主机名")
	}
	return nil
}
