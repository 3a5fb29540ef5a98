package apicache

import "container/heap"

// queueEntry 是低优先级队列中的条目。createdAt 只是快照构建时间的缓存，
// 用于排序；每次处理该 store 时都会与真实快照重新同步。
type queueEntry struct {
	storeID   string
	createdAt SimpleTime
}

// entryHeap 实现 container/heap.Interface：最旧的快照在堆顶，
// 时间相同时按 storeID 排序保证确定性。
type entryHeap []queueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].createdAt != h[j].createdAt {
		return h[i].createdAt < h[j].createdAt
	}
	return h[i].storeID < h[j].storeID
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(queueEntry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// refreshQueue 是按快照年龄排序的最小堆，仅由低优先级 worker 单协程访问。
type refreshQueue struct {
	h entryHeap
}

func (q *refreshQueue) push(e queueEntry) {
	heap.Push(&q.h, e)
}

func (q *refreshQueue) pop() (queueEntry, bool) {
	if len(q.h) == 0 {
		return queueEntry{}, false
	}
	return heap.Pop(&q.h).(queueEntry), true
}

func (q *refreshQueue) peek() (queueEntry, bool) {
	if len(q.h) == 0 {
		return queueEntry{}, false
	}
	return q.h[0], true
}

func (q *refreshQueue) len() int {
	return len(q.h)
}

// purge 删除 storeID 的全部条目，返回删除数量。
func (q *refreshQueue) purge(storeID string) int {
	kept := q.h[:0]
	removed := 0
	for _, e := range q.h {
		if e.storeID == storeID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	if removed > 0 {
		q.h = kept
		heap.Init(&q.h)
	}
	return removed
}
