// Package metrics exposes Prometheus collectors for the store cache and its
// refresh workers. All recording methods are safe on a nil *Cache so
// components can run without a registry in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "jinx_cache"

// 刷新来源标签。
const (
	TierCold = "cold"
	TierHigh = "high_priority"
	TierLow  = "low_priority"
)

// 刷新结果标签。
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSkipped = "skipped"
	ResultDB      = "db"
)

// Cache 汇总缓存命中、刷新与调度相关的指标。
type Cache struct {
	hits             prometheus.Counter
	misses           prometheus.Counter
	refreshes        *prometheus.CounterVec
	refreshDuration  *prometheus.HistogramVec
	highPriorityDrop prometheus.Counter
	trackedStores    prometheus.Gauge
	lowPrioritySleep prometheus.Gauge
}

// NewCache 创建并注册缓存指标。reg 为 nil 时使用独立的新 registry。
func NewCache(reg prometheus.Registerer) *Cache {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Cache{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hits_total",
			Help:      "Reads served from an in-memory snapshot.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "misses_total",
			Help:      "Reads that had to fetch synchronously from the upstream API.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refreshes_total",
			Help:      "Snapshot refresh attempts by tier and result.",
		}, []string{"tier", "result"}),
		refreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "refresh_duration_seconds",
			Help:      "Time spent building a snapshot, by tier.",
			Buckets:   []float64{0.1, 0.5, 1, 3, 5, 10, 15, 30, 60, 120},
		}, []string{"tier"}),
		highPriorityDrop: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "high_priority_dropped_total",
			Help:      "High priority refresh requests dropped because the queue was full.",
		}),
		trackedStores: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "low_priority_tracked_stores",
			Help:      "Stores registered with the low priority worker.",
		}),
		lowPrioritySleep: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "low_priority_sleep_seconds",
			Help:      "Current low priority worker sleep; -1 when waiting indefinitely.",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.refreshes, m.refreshDuration, m.highPriorityDrop, m.trackedStores, m.lowPrioritySleep)
	return m
}

// RegisterSizeFuncs 注册按需计算的缓存规模指标。
func RegisterSizeFuncs(reg prometheus.Registerer, stores, products, versions func() int) {
	if reg == nil {
		return
	}
	gauge := func(name, help string, fn func() int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(fn()) })
	}
	reg.MustRegister(
		gauge("stores", "Stores with an in-memory snapshot.", stores),
		gauge("products", "Products across all in-memory snapshots.", products),
		gauge("product_versions", "Product versions across all in-memory snapshots.", versions),
	)
}

func (m *Cache) Hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Cache) Miss() {
	if m != nil {
		m.misses.Inc()
	}
}

// ObserveRefresh 记录一次刷新的结果与耗时。
func (m *Cache) ObserveRefresh(tier, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(tier, result).Inc()
	if result == ResultOK || result == ResultDB {
		m.refreshDuration.WithLabelValues(tier).Observe(elapsed.Seconds())
	}
}

func (m *Cache) HighPriorityDropped() {
	if m != nil {
		m.highPriorityDrop.Inc()
	}
}

func (m *Cache) SetTrackedStores(n int) {
	if m != nil {
		m.trackedStores.Set(float64(n))
	}
}

// SetLowPrioritySleep 记录当前休眠时长；ok 为 false 表示无限期等待。
func (m *Cache) SetLowPrioritySleep(d time.Duration, ok bool) {
	if m == nil {
		return
	}
	if !ok {
		m.lowPrioritySleep.Set(-1)
		return
	}
	m.lowPrioritySleep.Set(d.Seconds())
}
