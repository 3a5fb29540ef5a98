package apicache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/jinx-bot/jinx-cache/internal/logging"
	"github.com/jinx-bot/jinx-cache/internal/metrics"
)

// Settings 汇总缓存的阈值与容量。
type Settings struct {
	// HighPriorityExpiry 之后的读取会触发一次高优先级刷新。
	HighPriorityExpiry time.Duration
	// LowPriorityFudge 加在低优先级周期之上，保证 worker 在过期之后而非之前醒来。
	LowPriorityFudge time.Duration
	// MinSleep 是低优先级 worker 等待的下限，防止空转。
	MinSleep time.Duration
	// MaxWorkPerWake 限制单次唤醒处理的条目数，防止时钟偏移或 bug 导致死循环。
	MaxWorkPerWake        int
	HighPriorityQueueSize int
	ControlQueueSize      int
	AutocompleteLimit     int
}

// DefaultSettings 返回生产环境使用的默认值。
func DefaultSettings() Settings {
	return Settings{
		HighPriorityExpiry:    60 * time.Second,
		LowPriorityFudge:      5 * time.Second,
		MinSleep:              2000 * time.Millisecond,
		MaxWorkPerWake:        250,
		HighPriorityQueueSize: 1024,
		ControlQueueSize:      1024,
		AutocompleteLimit:     25,
	}
}

// Options 是 New 的依赖注入参数。
type Options struct {
	Upstream Upstream
	Store    Store
	Settings Settings
	Logger   logrus.FieldLogger
	Metrics  *metrics.Cache
}

// ApiCache 是调用方唯一需要接触的类型：读路径、写路径与两个后台 worker 都由它串联。
// 以指针共享，所有方法都可被并发调用。
type ApiCache struct {
	cache    *storeMap
	ref      *refresher
	settings Settings
	logger   logrus.FieldLogger
	metrics  *metrics.Cache
	cold     singleflight.Group

	closeMu      sync.RWMutex
	closed       bool
	highPriority chan string
	control      chan lowPriorityEvent
	wg           sync.WaitGroup
}

// New 构建缓存并启动高/低优先级两个 worker。调用方负责在退出时 Close。
func New(opts Options) (*ApiCache, error) {
	return newAPICache(opts, Now)
}

func newAPICache(opts Options, now func() SimpleTime) (*ApiCache, error) {
	if opts.Upstream == nil {
		return nil, errors.New("upstream is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	settings := withDefaults(opts.Settings)

	c := &ApiCache{
		cache: newStoreMap(),
		ref: &refresher{
			upstream: opts.Upstream,
			store:    opts.Store,
			logger:   logger,
			metrics:  opts.Metrics,
			now:      now,
		},
		settings:     settings,
		logger:       logger,
		metrics:      opts.Metrics,
		highPriority: make(chan string, settings.HighPriorityQueueSize),
		control:      make(chan lowPriorityEvent, settings.ControlQueueSize),
	}

	high := &highPriorityWorker{
		requests: c.highPriority,
		cache:    c.cache,
		ref:      c.ref,
		expiry:   settings.HighPriorityExpiry,
		logger:   logger,
	}
	low := newLowPriorityWorker(c.control, c.cache, c.ref, settings, logger)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		high.run()
	}()
	go func() {
		defer c.wg.Done()
		low.run()
	}()
	return c, nil
}

func withDefaults(s Settings) Settings {
	d := DefaultSettings()
	if s == (Settings{}) {
		return d
	}
	if s.HighPriorityExpiry <= 0 {
		s.HighPriorityExpiry = d.HighPriorityExpiry
	}
	if s.LowPriorityFudge < 0 {
		s.LowPriorityFudge = d.LowPriorityFudge
	}
	if s.MinSleep <= 0 {
		s.MinSleep = d.MinSleep
	}
	if s.MaxWorkPerWake <= 0 {
		s.MaxWorkPerWake = d.MaxWorkPerWake
	}
	if s.HighPriorityQueueSize <= 0 {
		s.HighPriorityQueueSize = d.HighPriorityQueueSize
	}
	if s.ControlQueueSize <= 0 {
		s.ControlQueueSize = d.ControlQueueSize
	}
	if s.AutocompleteLimit <= 0 {
		s.AutocompleteLimit = d.AutocompleteLimit
	}
	return s
}

// Close 关闭控制通道并等待两个 worker 退出；之后的读取仍可命中内存，但不再触发刷新。
func (c *ApiCache) Close() {
	c.closeMu.Lock()
	if c.closed {
		c.closeMu.Unlock()
		return
	}
	c.closed = true
	close(c.highPriority)
	close(c.control)
	c.closeMu.Unlock()
	c.wg.Wait()
}

func (c *ApiCache) isClosed() bool {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	return c.closed
}

// Snapshot 返回 store 的当前快照。关闭之后的冷启动返回 ErrClosed。
//
// 内存未命中时同步拉取凭证并从上游并行拉取全部产品，这是唯一允许变慢的路径，
// 因为此前从未有数据可展示；同一 store 的并发冷启动只会触发一次拉取。
// 命中时立即返回（即使已过期），并在过期时异步通知高优先级 worker，
// 同时确保该 store 已在低优先级 worker 中注册。
func (c *ApiCache) Snapshot(ctx context.Context, storeID string) (*Snapshot, error) {
	if snap, ok := c.cache.get(storeID); ok {
		c.metrics.Hit()
		if snap.IsExpiredAt(c.settings.HighPriorityExpiry, c.ref.now()) {
			c.requestHighPriority(storeID)
			c.Register(storeID)
		}
		return snap, nil
	}

	c.metrics.Miss()
	if c.isClosed() {
		return nil, ErrClosed
	}
	// 共享拉取不继承首个调用方的取消，否则一个断开的请求会让所有等待者一起失败。
	fetchCtx := context.WithoutCancel(ctx)
	ch := c.cold.DoChan(storeID, func() (interface{}, error) {
		if snap, ok := c.cache.get(storeID); ok {
			return snap, nil
		}
		apiKey, err := c.ref.credential(fetchCtx, storeID)
		if err != nil {
			return nil, err
		}
		snap, err := c.ref.fromAPI(fetchCtx, metrics.TierCold, storeID, apiKey, true)
		if err != nil {
			return nil, err
		}
		c.cache.insert(storeID, snap)
		c.Register(storeID)
		return snap, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			c.logger.WithFields(logging.StoreFields("cold_fetch", storeID)).WithError(res.Err).Warn("cold_fetch_failed")
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get 对 store 当前快照应用 projection。语义同 ApiCache.Snapshot。
func Get[T any](ctx context.Context, c *ApiCache, storeID string, projection func(*Snapshot) T) (T, error) {
	snap, err := c.Snapshot(ctx, storeID)
	if err != nil {
		var zero T
		return zero, err
	}
	return projection(snap), nil
}

// requestHighPriority 非阻塞地请求一次高优先级刷新，队列满时丢弃。
func (c *ApiCache) requestHighPriority(storeID string) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.highPriority <- storeID:
	default:
		c.metrics.HighPriorityDropped()
		c.logger.WithFields(logging.StoreFields("high_priority_request", storeID)).Warn("high_priority_queue_full")
	}
}

func (c *ApiCache) sendControl(ev lowPriorityEvent) {
	c.closeMu.RLock()
	defer c.closeMu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.control <- ev:
	default:
		c.logger.WithFields(logging.StoreFields("low_priority_control", ev.storeID)).Warn("low_priority_control_full")
	}
}

// Register 将 store 加入低优先级后台预热，重复注册会被忽略。
func (c *ApiCache) Register(storeID string) {
	c.sendControl(lowPriorityEvent{kind: eventRegister, storeID: storeID})
}

// Unregister 将 store 移出后台预热，并删除其内存快照（例如 store 被解绑）。
func (c *ApiCache) Unregister(storeID string) {
	c.sendControl(lowPriorityEvent{kind: eventUnregister, storeID: storeID})
}

// Bump 通知低优先级 worker 重新计算休眠时长，通常在运行期修改刷新周期后调用。
func (c *ApiCache) Bump() {
	c.sendControl(lowPriorityEvent{kind: eventBump})
}

// Clear 同步清空内存快照。
//
// 注意：这里不会触碰任何 worker 的 tracked 集合或队列，
// 已注册的 store 会在下一次低优先级唤醒时从数据库或 API 冷启动重新填充。
func (c *ApiCache) Clear() {
	c.cache.clear()
}

// Len 返回内存中的 store 数量。
func (c *ApiCache) Len() int {
	n := 0
	c.cache.each(func(string, *Snapshot) bool {
		n++
		return true
	})
	return n
}

// ProductCount 返回所有快照的产品数量之和。
func (c *ApiCache) ProductCount() int {
	n := 0
	c.cache.each(func(_ string, snap *Snapshot) bool {
		n += snap.ProductCount()
		return true
	})
	return n
}

// ProductVersionCount 返回所有快照的产品版本数量之和。
func (c *ApiCache) ProductVersionCount() int {
	n := 0
	c.cache.each(func(_ string, snap *Snapshot) bool {
		n += snap.ProductVersionCount()
		return true
	})
	return n
}

// AutocompleteLimit 返回自动补全结果上限。
func (c *ApiCache) AutocompleteLimit() int {
	return c.settings.AutocompleteLimit
}

// ProductNameToIDs 返回同名的全部产品 id。
func (c *ApiCache) ProductNameToIDs(ctx context.Context, storeID, name string) ([]string, error) {
	return Get(ctx, c, storeID, func(s *Snapshot) []string {
		return s.ProductNameToIDs(name)
	})
}

// ProductNameToID 返回同名产品中的第一个 id，不存在时返回 ErrNotFound。
func (c *ApiCache) ProductNameToID(ctx context.Context, storeID, name string) (string, error) {
	ids, err := c.ProductNameToIDs(ctx, storeID, name)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", ErrNotFound
	}
	return ids[0], nil
}

// ProductIDToName 返回产品名称，不存在时返回 ErrNotFound。
func (c *ApiCache) ProductIDToName(ctx context.Context, storeID, productID string) (string, error) {
	type result struct {
		name string
		ok   bool
	}
	r, err := Get(ctx, c, storeID, func(s *Snapshot) result {
		name, ok := s.ProductIDToName(productID)
		return result{name, ok}
	})
	if err != nil {
		return "", err
	}
	if !r.ok {
		return "", ErrNotFound
	}
	return r.name, nil
}

// ProductVersionNameToVersionIDs 返回同一展示名称下的全部版本 id。
func (c *ApiCache) ProductVersionNameToVersionIDs(ctx context.Context, storeID, name string) ([]ProductVersionID, error) {
	return Get(ctx, c, storeID, func(s *Snapshot) []ProductVersionID {
		return s.ProductVersionNameToIDs(name)
	})
}

// ProductVersionIDToName 返回版本展示名称，不存在时返回 ErrNotFound。
func (c *ApiCache) ProductVersionIDToName(ctx context.Context, storeID string, id ProductVersionID) (string, error) {
	name, err := Get(ctx, c, storeID, func(s *Snapshot) string {
		name, _ := s.ProductVersionIDToName(id)
		return name
	})
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", ErrNotFound
	}
	return name, nil
}

// ProductNamesWithPrefix 为自动补全返回产品名称，结果数量不超过 AutocompleteLimit。
func (c *ApiCache) ProductNamesWithPrefix(ctx context.Context, storeID, prefix string) ([]string, error) {
	return Get(ctx, c, storeID, func(s *Snapshot) []string {
		return s.ProductNamesWithPrefix(prefix, c.settings.AutocompleteLimit)
	})
}

// ProductVersionNamesWithPrefix 为自动补全返回版本展示名称，结果数量不超过 AutocompleteLimit。
func (c *ApiCache) ProductVersionNamesWithPrefix(ctx context.Context, storeID, prefix string) ([]string, error) {
	return Get(ctx, c, storeID, func(s *Snapshot) []string {
		return s.ProductVersionNamesWithPrefix(prefix, c.settings.AutocompleteLimit)
	})
}
