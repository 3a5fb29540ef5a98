package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jinx-bot/jinx-cache/internal/config"
)

func TestInitLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := InitLogger(config.GlobalConfig{LogLevel: "loud"}); err == nil {
		t.Fatalf("未知日志级别应返回错误")
	}
}

func TestInitLoggerStampsServiceFields(t *testing.T) {
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "info"})
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("未指定文件时应输出到 stdout")
	}

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	logger.WithField("store_id", "s1").Info("cold_fetch")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("日志应为 JSON: %v (%s)", err, buf.String())
	}
	if entry["service"] != "jinx-cache" || entry["version"] == nil {
		t.Fatalf("缺少服务字段: %v", entry)
	}
	if entry["store_id"] != "s1" || entry["msg"] != "cold_fetch" {
		t.Fatalf("业务字段丢失: %v", entry)
	}
}

func TestInitLoggerFallsBackWhenDirectoryIsBlocked(t *testing.T) {
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.WriteFile(blocked, []byte("file, not dir"), 0o644); err != nil {
		t.Fatalf("创建占位文件失败: %v", err)
	}

	logger, err := InitLogger(config.GlobalConfig{
		LogLevel:    "info",
		LogFilePath: filepath.Join(blocked, "sub", "jinx-cache.log"),
	})
	if err != nil {
		t.Fatalf("初始化不应失败: %v", err)
	}
	if logger.Out != os.Stdout {
		t.Fatalf("fallback 时应退回 stdout")
	}
}

func TestInitLoggerWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "jinx-cache.log")
	logger, err := InitLogger(config.GlobalConfig{LogLevel: "debug", LogFilePath: path, LogMaxSize: 1})
	if err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	logger.WithFields(StoreFields("low_priority_refresh", "s9")).Debug("refreshed")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("预期创建日志文件: %v", err)
	}
	if !strings.Contains(string(data), `"store_id":"s9"`) {
		t.Fatalf("日志文件缺少记录: %s", data)
	}
}

func TestApplyLevel(t *testing.T) {
	logger := Discard()
	logger.SetLevel(logrus.InfoLevel)

	changed, err := ApplyLevel(logger, "debug")
	if err != nil || !changed || logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("应切换到 debug: changed=%v err=%v level=%v", changed, err, logger.GetLevel())
	}
	if changed, _ := ApplyLevel(logger, "debug"); changed {
		t.Fatalf("相同级别不应视为变化")
	}
	if _, err := ApplyLevel(logger, "nope"); err == nil {
		t.Fatalf("非法级别应返回错误")
	}
}

func TestRefreshFieldsIncludesStore(t *testing.T) {
	fields := RefreshFields("low_priority_refresh", "store-1", 1500*time.Millisecond, 3)
	if fields["store_id"] != "store-1" {
		t.Fatalf("缺少 store_id 字段: %v", fields)
	}
	if fields["elapsed_ms"] != int64(1500) {
		t.Fatalf("elapsed_ms 应为毫秒: %v", fields["elapsed_ms"])
	}
	if fields["products"] != 3 {
		t.Fatalf("products 字段错误: %v", fields["products"])
	}
}
