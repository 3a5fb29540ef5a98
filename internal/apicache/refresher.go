package apicache

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jinx-bot/jinx-cache/internal/jinxxy"
	"github.com/jinx-bot/jinx-cache/internal/logging"
	"github.com/jinx-bot/jinx-cache/internal/metrics"
	"github.com/jinx-bot/jinx-cache/internal/storage"
)

// Upstream 是缓存对 Jinxxy API 的最小依赖。
type Upstream interface {
	// GetFullProducts 拉取全部产品及版本；parallel 决定并发拉取还是逐个串行拉取。
	GetFullProducts(ctx context.Context, apiKey string, parallel bool) ([]jinxxy.FullProduct, error)
}

// Store 是缓存对持久化存储的最小依赖，所有方法均可能失败。
type Store interface {
	// GetSnapshotRows 未命中时返回 (nil, nil)。
	GetSnapshotRows(ctx context.Context, storeID string) (*storage.SnapshotRows, error)
	PersistSnapshotRows(ctx context.Context, storeID string, rows storage.SnapshotRows, ts time.Time) error
	// GetLowPriorityExpiry 的 ok 为 false 表示尚未设置。
	GetLowPriorityExpiry(ctx context.Context) (time.Duration, bool, error)
	// GetArbitraryCredential 的 ok 为 false 表示 store 没有任何凭证。
	GetArbitraryCredential(ctx context.Context, storeID string) (string, bool, error)
}

// refresher 封装构建快照的 I/O 路径，供门面与两个 worker 共用。
type refresher struct {
	upstream Upstream
	store    Store
	logger   logrus.FieldLogger
	metrics  *metrics.Cache
	now      func() SimpleTime
}

// credential 解析 store 的任意凭证，不存在时返回 ErrMissingAPIKey。
func (r *refresher) credential(ctx context.Context, storeID string) (string, error) {
	apiKey, ok, err := r.store.GetArbitraryCredential(ctx, storeID)
	if err != nil {
		return "", fmt.Errorf("lookup credential for %s: %w", storeID, err)
	}
	if !ok || apiKey == "" {
		return "", ErrMissingAPIKey
	}
	return apiKey, nil
}

// fromAPI 从上游拉取完整产品并构建快照。构建结果会先写回持久化存储，
// 写入失败只记录日志：内存中的视图已经是正确的。
func (r *refresher) fromAPI(ctx context.Context, tier, storeID, apiKey string, parallel bool) (*Snapshot, error) {
	start := time.Now()
	products, err := r.upstream.GetFullProducts(ctx, apiKey, parallel)
	if err != nil {
		r.metrics.ObserveRefresh(tier, metrics.ResultError, time.Since(start))
		return nil, fmt.Errorf("fetch products for %s: %w", storeID, err)
	}

	snap := newSnapshot(rowsFromProducts(products), r.now())
	if err := r.store.PersistSnapshotRows(ctx, storeID, snap.Rows(), snap.CreatedAt().Time()); err != nil {
		r.logger.WithFields(logging.StoreFields("persist_snapshot", storeID)).
			WithError(err).Warn("persist_snapshot_failed")
	}

	elapsed := time.Since(start)
	r.metrics.ObserveRefresh(tier, metrics.ResultOK, elapsed)
	r.logger.WithFields(logging.RefreshFields(tier+"_refresh", storeID, elapsed, snap.ProductCount())).
		Debug("snapshot_refreshed")
	return snap, nil
}

// fromDB 尝试从持久化记录重建快照；未命中返回 (nil, nil)。
func (r *refresher) fromDB(ctx context.Context, tier, storeID string) (*Snapshot, error) {
	start := time.Now()
	rows, err := r.store.GetSnapshotRows(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, nil
	}
	snap := snapshotFromRows(*rows)
	r.metrics.ObserveRefresh(tier, metrics.ResultDB, time.Since(start))
	return snap, nil
}

// hydrate 优先从持久化存储恢复，未命中或读取失败时再串行访问上游 API。
func (r *refresher) hydrate(ctx context.Context, tier, storeID string) (*Snapshot, error) {
	snap, err := r.fromDB(ctx, tier, storeID)
	if err != nil {
		r.logger.WithFields(logging.StoreFields("hydrate_snapshot", storeID)).
			WithError(err).Warn("snapshot_db_read_failed")
	}
	if snap != nil {
		return snap, nil
	}

	apiKey, err := r.credential(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return r.fromAPI(ctx, tier, storeID, apiKey, false)
}
