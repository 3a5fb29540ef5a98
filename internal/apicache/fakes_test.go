package apicache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinx-bot/jinx-cache/internal/jinxxy"
	"github.com/jinx-bot/jinx-cache/internal/logging"
	"github.com/jinx-bot/jinx-cache/internal/storage"
)

var errUpstream = errors.New("upstream unavailable")

// fakeUpstream 以 api key 区分 store，记录每次调用的并发模式。
type fakeUpstream struct {
	mu       sync.Mutex
	products map[string][]jinxxy.FullProduct
	fail     map[string]bool
	calls    []upstreamCall
	delay    time.Duration
}

type upstreamCall struct {
	apiKey   string
	parallel bool
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		products: map[string][]jinxxy.FullProduct{},
		fail:     map[string]bool{},
	}
}

func (f *fakeUpstream) GetFullProducts(ctx context.Context, apiKey string, parallel bool) ([]jinxxy.FullProduct, error) {
	f.mu.Lock()
	f.calls = append(f.calls, upstreamCall{apiKey: apiKey, parallel: parallel})
	products, ok := f.products[apiKey]
	failing := f.fail[apiKey]
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failing || !ok {
		return nil, errUpstream
	}
	return products, nil
}

func (f *fakeUpstream) set(apiKey string, products ...jinxxy.FullProduct) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.products[apiKey] = products
}

func (f *fakeUpstream) setFailing(apiKey string, failing bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[apiKey] = failing
}

func (f *fakeUpstream) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeUpstream) callsSnapshot() []upstreamCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]upstreamCall(nil), f.calls...)
}

// fakeStore 是内存版持久化存储，可按需注入错误。
type fakeStore struct {
	mu          sync.Mutex
	rows        map[string]storage.SnapshotRows
	credentials map[string]string
	expiry      time.Duration
	expirySet   bool

	rowsErr    error
	persistErr error
	expiryErr  error
	credErr    error

	rowReads    atomic.Int32
	persists    atomic.Int32
	expiryReads atomic.Int32
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:        map[string]storage.SnapshotRows{},
		credentials: map[string]string{},
		expiry:      time.Hour,
		expirySet:   true,
	}
}

func (s *fakeStore) GetSnapshotRows(ctx context.Context, storeID string) (*storage.SnapshotRows, error) {
	s.rowReads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rowsErr != nil {
		return nil, s.rowsErr
	}
	rows, ok := s.rows[storeID]
	if !ok {
		return nil, nil
	}
	return &rows, nil
}

func (s *fakeStore) PersistSnapshotRows(ctx context.Context, storeID string, rows storage.SnapshotRows, ts time.Time) error {
	s.persists.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return s.persistErr
	}
	rows.CreatedAtMillis = ts.UnixMilli()
	s.rows[storeID] = rows
	return nil
}

func (s *fakeStore) GetLowPriorityExpiry(ctx context.Context) (time.Duration, bool, error) {
	s.expiryReads.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiryErr != nil {
		return 0, false, s.expiryErr
	}
	return s.expiry, s.expirySet, nil
}

func (s *fakeStore) GetArbitraryCredential(ctx context.Context, storeID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credErr != nil {
		return "", false, s.credErr
	}
	key, ok := s.credentials[storeID]
	return key, ok, nil
}

func (s *fakeStore) link(storeID, apiKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credentials[storeID] = apiKey
}

func (s *fakeStore) setExpiry(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiry = d
	s.expirySet = true
}

func (s *fakeStore) persisted(storeID string) (storage.SnapshotRows, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, ok := s.rows[storeID]
	return rows, ok
}

// testClock 是可手动推进的时钟，可被多个 goroutine 并发读取。
type testClock struct {
	ms atomic.Int64
}

func newTestClock(start SimpleTime) *testClock {
	c := &testClock{}
	c.ms.Store(int64(start))
	return c
}

func (c *testClock) now() SimpleTime {
	return SimpleTime(c.ms.Load())
}

func (c *testClock) advance(d time.Duration) {
	c.ms.Add(d.Milliseconds())
}

func testProducts(names ...string) []jinxxy.FullProduct {
	products := make([]jinxxy.FullProduct, 0, len(names))
	for i, name := range names {
		id := string(rune('a'+i)) + "-id"
		products = append(products, jinxxy.FullProduct{
			ID:   id,
			Name: name,
			Versions: []jinxxy.ProductVersion{
				{ID: id + "-v1", Name: "v1"},
			},
		})
	}
	return products
}

func newTestRefresher(up Upstream, store Store, clock *testClock) *refresher {
	return &refresher{
		upstream: up,
		store:    store,
		logger:   logging.Discard(),
		now:      clock.now,
	}
}
