package apicache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jinx-bot/jinx-cache/internal/logging"
	"github.com/jinx-bot/jinx-cache/internal/metrics"
)

type lowPriorityEventKind int

const (
	eventRegister lowPriorityEventKind = iota
	eventUnregister
	// eventBump 不关联任何 store，只要求 worker 重新计算休眠时长。
	eventBump
)

type lowPriorityEvent struct {
	kind    lowPriorityEventKind
	storeID string
}

type waitOutcome int

const (
	waitEvent waitOutcome = iota
	waitTimeout
	waitClosed
)

// lowPriorityWorker 周期性地按快照年龄从旧到新重新预热所有已注册的 store。
// tracked/queue/sleep 只在 run 所在的协程中访问，无需加锁。
type lowPriorityWorker struct {
	events   <-chan lowPriorityEvent
	cache    *storeMap
	ref      *refresher
	settings Settings
	logger   logrus.FieldLogger

	tracked map[string]struct{}
	queue   refreshQueue
	// sleepSet 为 false 表示无限期等待下一个事件。
	sleep    time.Duration
	sleepSet bool
	// wakeAt 是下一次工作循环的绝对时间，不改变队列的事件不会推迟它。
	wakeAt time.Time
	// lastWork 是上一轮工作循环结束的时间，MinSleep 从这里起算。
	lastWork time.Time
}

func newLowPriorityWorker(events <-chan lowPriorityEvent, cache *storeMap, ref *refresher, settings Settings, logger logrus.FieldLogger) *lowPriorityWorker {
	return &lowPriorityWorker{
		events:   events,
		cache:    cache,
		ref:      ref,
		settings: settings,
		logger:   logger,
		tracked:  make(map[string]struct{}),
		lastWork: time.Now(),
	}
}

func (w *lowPriorityWorker) run() {
	ctx := context.Background()
	fields := logrus.Fields{"action": "low_priority_worker"}

	for {
		ev, outcome := w.wait()
		switch outcome {
		case waitClosed:
			w.logger.WithFields(fields).Info("low_priority_worker_stopped")
			return

		case waitEvent:
			if !w.apply(ev) {
				continue
			}
			if err := w.recomputeSleep(ctx); err != nil {
				w.logger.WithFields(fields).WithError(err).Error("low_priority_worker_fatal")
				return
			}

		case waitTimeout:
			pending, closed := w.drainUnregisters()
			if closed {
				w.logger.WithFields(fields).Info("low_priority_worker_stopped")
				return
			}
			if _, err := w.work(ctx); err != nil {
				w.logger.WithFields(fields).WithError(err).Error("low_priority_worker_fatal")
				return
			}
			w.lastWork = time.Now()
			for _, ev := range pending {
				w.apply(ev)
			}
			if err := w.recomputeSleep(ctx); err != nil {
				w.logger.WithFields(fields).WithError(err).Error("low_priority_worker_fatal")
				return
			}
		}
	}
}

// wait 阻塞在控制通道上直到 wakeAt；队列为空时无限期等待。
func (w *lowPriorityWorker) wait() (lowPriorityEvent, waitOutcome) {
	if !w.sleepSet {
		ev, ok := <-w.events
		if !ok {
			return lowPriorityEvent{}, waitClosed
		}
		return ev, waitEvent
	}

	timer := time.NewTimer(time.Until(w.wakeAt))
	defer timer.Stop()

	select {
	case ev, ok := <-w.events:
		if !ok {
			return lowPriorityEvent{}, waitClosed
		}
		return ev, waitEvent
	case <-timer.C:
		return lowPriorityEvent{}, waitTimeout
	}
}

// drainUnregisters 非阻塞地取出所有已排队的事件：注销事件立即处理，
// 其它事件按到达顺序返回，待本轮工作结束后再处理。
func (w *lowPriorityWorker) drainUnregisters() (pending []lowPriorityEvent, closed bool) {
	for {
		select {
		case ev, ok := <-w.events:
			if !ok {
				return pending, true
			}
			if ev.kind == eventUnregister {
				w.apply(ev)
				continue
			}
			pending = append(pending, ev)
		default:
			return pending, false
		}
	}
}

// apply 修改 tracked 集合与队列，但不重新计算休眠时长。
// 返回 false 表示事件没有改变任何状态，例如重复注册。
func (w *lowPriorityWorker) apply(ev lowPriorityEvent) bool {
	switch ev.kind {
	case eventRegister:
		if _, ok := w.tracked[ev.storeID]; ok {
			return false
		}
		w.tracked[ev.storeID] = struct{}{}
		w.queue.push(queueEntry{storeID: ev.storeID, createdAt: SimpleTimeEpoch})
		w.ref.metrics.SetTrackedStores(len(w.tracked))
		return true

	case eventUnregister:
		return w.untrack(ev.storeID, true)

	case eventBump:
		return true
	}
	return false
}

// untrack 移出 tracked 集合；evict 为 true 时同时清理队列与内存快照。
func (w *lowPriorityWorker) untrack(storeID string, evict bool) bool {
	if _, ok := w.tracked[storeID]; !ok {
		return false
	}
	delete(w.tracked, storeID)
	if evict {
		w.queue.purge(storeID)
		w.cache.remove(storeID)
	}
	w.ref.metrics.SetTrackedStores(len(w.tracked))
	return true
}

// readExpiry 每次唤醒都重新读取，因为该值可在运行期调整。
// 读取失败对整个 worker 是致命的：退回编译期默认值可能对上游过于激进。
func (w *lowPriorityWorker) readExpiry(ctx context.Context) (time.Duration, error) {
	expiry, ok, err := w.ref.store.GetLowPriorityExpiry(ctx)
	if err != nil {
		return 0, fmt.Errorf("read low priority expiry: %w", err)
	}
	if !ok {
		return 0, ErrExpiryUnavailable
	}
	return expiry, nil
}

// work 依次弹出队首并处理，直到达到单次唤醒上限、队列为空，
// 或下一个队首在本轮已经处理过。返回本轮处理的条目数。
func (w *lowPriorityWorker) work(ctx context.Context) (int, error) {
	expiry, err := w.readExpiry(ctx)
	if err != nil {
		return 0, err
	}

	wakeID := uuid.NewString()
	touched := make(map[string]struct{})
	processed := 0
	for processed < w.settings.MaxWorkPerWake {
		entry, ok := w.queue.pop()
		if !ok {
			break
		}
		processed++
		touched[entry.storeID] = struct{}{}
		w.process(ctx, wakeID, entry, expiry)

		next, ok := w.queue.peek()
		if !ok {
			break
		}
		if _, seen := touched[next.storeID]; seen {
			break
		}
	}

	if processed >= w.settings.MaxWorkPerWake {
		w.logger.WithFields(logrus.Fields{
			"action":  "low_priority_work",
			"wake_id": wakeID,
			"queue":   w.queue.len(),
		}).Warn("low_priority_work_cap_reached")
	}
	return processed, nil
}

func (w *lowPriorityWorker) process(ctx context.Context, wakeID string, entry queueEntry, expiry time.Duration) {
	fields := logging.StoreFields("low_priority_refresh", entry.storeID)
	fields["wake_id"] = wakeID

	if _, ok := w.tracked[entry.storeID]; !ok {
		return
	}

	snap, ok := w.cache.get(entry.storeID)
	if ok {
		entry.createdAt = snap.CreatedAt()
	}

	var err error
	switch {
	case !ok:
		snap, err = w.ref.hydrate(ctx, metrics.TierLow, entry.storeID)
	case snap.IsExpiredAt(expiry+w.settings.LowPriorityFudge, w.ref.now()):
		var apiKey string
		apiKey, err = w.ref.credential(ctx, entry.storeID)
		if err == nil {
			snap, err = w.ref.fromAPI(ctx, metrics.TierLow, entry.storeID, apiKey, false)
		}
	default:
		// 可能已被高优先级 worker 带外刷新，无需 I/O。
		w.ref.metrics.ObserveRefresh(metrics.TierLow, metrics.ResultSkipped, 0)
		w.queue.push(entry)
		return
	}

	if err != nil {
		// 取不到数据的 store 若继续入队会在每轮唤醒时空转，因此直接注销。
		w.logger.WithFields(fields).WithError(err).Warn("low_priority_refresh_failed")
		w.untrack(entry.storeID, false)
		return
	}

	w.cache.insert(entry.storeID, snap)
	entry.createdAt = snap.CreatedAt()
	w.queue.push(entry)
}

// recomputeSleep 根据队首计算休眠时长：max(0, expiry+fudge-elapsed(head))，队列为空时无限期等待。
// 唤醒时间同时不早于上一轮工作结束后的 MinSleep。
func (w *lowPriorityWorker) recomputeSleep(ctx context.Context) error {
	head, ok := w.queue.peek()
	if !ok {
		w.sleep, w.sleepSet = 0, false
		w.ref.metrics.SetLowPrioritySleep(0, false)
		return nil
	}

	expiry, err := w.readExpiry(ctx)
	if err != nil {
		return err
	}

	remaining := head.createdAt.Add(expiry + w.settings.LowPriorityFudge).DurationSince(w.ref.now())
	w.sleep, w.sleepSet = remaining, true
	w.wakeAt = time.Now().Add(remaining)
	if floor := w.lastWork.Add(w.settings.MinSleep); w.wakeAt.Before(floor) {
		w.wakeAt = floor
	}
	w.ref.metrics.SetLowPrioritySleep(remaining, true)
	return nil
}
