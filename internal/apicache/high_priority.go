package apicache

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jinx-bot/jinx-cache/internal/logging"
	"github.com/jinx-bot/jinx-cache/internal/metrics"
)

// highPriorityWorker 是高优先级刷新的唯一消费者。队列不去重，
// 也不重试；单消费者保证全进程同一时刻最多只有一次高优先级刷新在访问上游。
type highPriorityWorker struct {
	requests <-chan string
	cache    *storeMap
	ref      *refresher
	expiry   time.Duration
	logger   logrus.FieldLogger
}

func (w *highPriorityWorker) run() {
	for storeID := range w.requests {
		w.process(context.Background(), storeID)
	}
	w.logger.WithField("action", "high_priority_worker").Info("high_priority_worker_stopped")
}

// process 处理单个请求。返回值仅用于测试：true 表示实际触发了刷新。
func (w *highPriorityWorker) process(ctx context.Context, storeID string) bool {
	fields := logging.StoreFields("high_priority_refresh", storeID)

	// 入队之后可能已被其它路径刷新，执行前重新检查。
	if snap, ok := w.cache.get(storeID); ok && !snap.IsExpiredAt(w.expiry, w.ref.now()) {
		w.ref.metrics.ObserveRefresh(metrics.TierHigh, metrics.ResultSkipped, 0)
		return false
	}

	apiKey, err := w.ref.credential(ctx, storeID)
	if err != nil {
		if errors.Is(err, ErrMissingAPIKey) {
			// 调用方不应为未绑定的 store 排队，这里出现说明有 bug。
			w.logger.WithFields(fields).Error("high_priority_missing_api_key")
		} else {
			w.logger.WithFields(fields).WithError(err).Warn("high_priority_credential_failed")
		}
		return false
	}

	snap, err := w.ref.fromAPI(ctx, metrics.TierHigh, storeID, apiKey, true)
	if err != nil {
		w.logger.WithFields(fields).WithError(err).Warn("high_priority_refresh_failed")
		return false
	}
	w.cache.insert(storeID, snap)
	return true
}
