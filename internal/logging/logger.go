package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/jinx-bot/jinx-cache/internal/config"
	"github.com/jinx-bot/jinx-cache/internal/version"
)

const serviceName = "jinx-cache"

// InitLogger 按全局配置构建 JSON logger。日志文件不可用时退回 stdout 并记录一条
// logger_fallback 警告，不视为启动失败。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	logger.AddHook(serviceHook{version: version.Version})

	output, openErr := openOutput(cfg)
	logger.SetOutput(output)
	if openErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).WithError(openErr).Warn("log_file_unavailable")
	}
	return logger, nil
}

// ApplyLevel 在运行期切换日志级别，返回级别是否发生变化。
func ApplyLevel(logger *logrus.Logger, raw string) (bool, error) {
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return false, fmt.Errorf("无法解析日志级别: %w", err)
	}
	if level == logger.GetLevel() {
		return false, nil
	}
	logger.SetLevel(level)
	return true, nil
}

// Discard 返回丢弃全部输出的 logger。
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func openOutput(cfg config.GlobalConfig) (io.Writer, error) {
	if cfg.LogFilePath == "" {
		return os.Stdout, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.LogFilePath), 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.LogFilePath,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}

// serviceHook 为每条日志补充服务名与版本，便于多实例共用日志收集时区分来源。
type serviceHook struct {
	version string
}

func (serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h serviceHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["service"]; !ok {
		entry.Data["service"] = serviceName
	}
	if _, ok := entry.Data["version"]; !ok {
		entry.Data["version"] = h.version
	}
	return nil
}
