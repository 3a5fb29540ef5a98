package logging

import (
	"time"

	"github.com/sirupsen/logrus"
)

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// StoreFields 提供 action + store_id 字段，供缓存与刷新 worker 的日志复用。
func StoreFields(action, storeID string) logrus.Fields {
	return logrus.Fields{
		"action":   action,
		"store_id": storeID,
	}
}

// RefreshFields 在 StoreFields 基础上补充刷新耗时与产品数量。
func RefreshFields(action, storeID string, elapsed time.Duration, products int) logrus.Fields {
	fields := StoreFields(action, storeID)
	fields["elapsed_ms"] = elapsed.Milliseconds()
	fields["products"] = products
	return fields
}
