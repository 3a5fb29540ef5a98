package apicache

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

const storeMapShards = 32

// storeMap 是 store id 到当前 Snapshot 的分片并发映射，也是缓存中唯一的共享可变状态。
// 每个分片独立加读写锁，读不同 key 的调用不会被其它 key 的写入阻塞。
// 写入是整条替换：同一 key 的并发写入以最后一次为准，不做合并。
type storeMap struct {
	shards [storeMapShards]storeShard
}

type storeShard struct {
	mu      sync.RWMutex
	entries map[string]*Snapshot
}

func newStoreMap() *storeMap {
	m := &storeMap{}
	for i := range m.shards {
		m.shards[i].entries = make(map[string]*Snapshot)
	}
	return m
}

func (m *storeMap) shard(storeID string) *storeShard {
	return &m.shards[xxhash.Sum64String(storeID)%storeMapShards]
}

func (m *storeMap) get(storeID string) (*Snapshot, bool) {
	sh := m.shard(storeID)
	sh.mu.RLock()
	snap, ok := sh.entries[storeID]
	sh.mu.RUnlock()
	return snap, ok
}

func (m *storeMap) insert(storeID string, snap *Snapshot) {
	sh := m.shard(storeID)
	sh.mu.Lock()
	sh.entries[storeID] = snap
	sh.mu.Unlock()
}

func (m *storeMap) remove(storeID string) bool {
	sh := m.shard(storeID)
	sh.mu.Lock()
	_, ok := sh.entries[storeID]
	delete(sh.entries, storeID)
	sh.mu.Unlock()
	return ok
}

func (m *storeMap) clear() {
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		sh.entries = make(map[string]*Snapshot)
		sh.mu.Unlock()
	}
}

// each 逐分片只读遍历，fn 返回 false 时停止。遍历期间不保证全局一致视图。
func (m *storeMap) each(fn func(storeID string, snap *Snapshot) bool) {
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.RLock()
		for id, snap := range sh.entries {
			if !fn(id, snap) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}
