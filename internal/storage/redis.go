package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const defaultKeyPrefix = "jinx:"

// Options 控制 Redis 连接参数。
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore 以 Redis 作为快照行、运行期设置与 store 凭证的持久化后端。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 建立连接并做一次 Ping，失败时直接返回错误。
func NewRedisStore(ctx context.Context, opts Options) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return newRedisStore(client, opts.KeyPrefix), nil
}

func newRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Close 关闭底层连接池。
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping 检查 Redis 是否可达。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) snapshotKey(storeID string) string {
	return s.prefix + "snapshot:" + storeID
}

func (s *RedisStore) credentialKey(storeID string) string {
	return s.prefix + "credential:" + storeID
}

func (s *RedisStore) expiryKey() string {
	return s.prefix + "setting:low_priority_expiry"
}

// GetSnapshotRows 读取持久化的快照行；不存在时返回 (nil, nil)。
func (s *RedisStore) GetSnapshotRows(ctx context.Context, storeID string) (*SnapshotRows, error) {
	raw, err := s.client.Get(ctx, s.snapshotKey(storeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get snapshot %s: %w", storeID, err)
	}

	var rows SnapshotRows
	if err := msgpack.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", storeID, err)
	}
	return &rows, nil
}

// PersistSnapshotRows 覆盖写入快照行，并以 ts 作为构建时间。
func (s *RedisStore) PersistSnapshotRows(ctx context.Context, storeID string, rows SnapshotRows, ts time.Time) error {
	rows.CreatedAtMillis = ts.UnixMilli()
	raw, err := msgpack.Marshal(&rows)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", storeID, err)
	}
	if err := s.client.Set(ctx, s.snapshotKey(storeID), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set snapshot %s: %w", storeID, err)
	}
	return nil
}

// DeleteSnapshotRows 删除持久化的快照行，通常在 store 解绑时调用。
func (s *RedisStore) DeleteSnapshotRows(ctx context.Context, storeID string) error {
	if err := s.client.Del(ctx, s.snapshotKey(storeID)).Err(); err != nil {
		return fmt.Errorf("redis delete snapshot %s: %w", storeID, err)
	}
	return nil
}

// GetLowPriorityExpiry 返回低优先级刷新周期。ok 为 false 表示尚未设置。
func (s *RedisStore) GetLowPriorityExpiry(ctx context.Context) (time.Duration, bool, error) {
	raw, err := s.client.Get(ctx, s.expiryKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("redis get low priority expiry: %w", err)
	}
	millis, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse low priority expiry %q: %w", raw, err)
	}
	return time.Duration(millis) * time.Millisecond, true, nil
}

// SetLowPriorityExpiry 覆盖低优先级刷新周期。
func (s *RedisStore) SetLowPriorityExpiry(ctx context.Context, d time.Duration) error {
	if err := s.client.Set(ctx, s.expiryKey(), strconv.FormatInt(d.Milliseconds(), 10), 0).Err(); err != nil {
		return fmt.Errorf("redis set low priority expiry: %w", err)
	}
	return nil
}

// SeedLowPriorityExpiry 仅在未设置时写入默认周期，返回是否实际写入。
func (s *RedisStore) SeedLowPriorityExpiry(ctx context.Context, d time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.expiryKey(), strconv.FormatInt(d.Milliseconds(), 10), 0).Result()
	if err != nil {
		return false, fmt.Errorf("redis seed low priority expiry: %w", err)
	}
	return ok, nil
}

// SetCredential 为 store 关联一个 API key。同一 store 可以关联多个 key。
func (s *RedisStore) SetCredential(ctx context.Context, storeID, apiKey string) error {
	if err := s.client.HSet(ctx, s.credentialKey(storeID), apiKey, time.Now().UnixMilli()).Err(); err != nil {
		return fmt.Errorf("redis set credential %s: %w", storeID, err)
	}
	return nil
}

// DeleteCredential 解除 store 与某个 API key 的关联。
func (s *RedisStore) DeleteCredential(ctx context.Context, storeID, apiKey string) error {
	if err := s.client.HDel(ctx, s.credentialKey(storeID), apiKey).Err(); err != nil {
		return fmt.Errorf("redis delete credential %s: %w", storeID, err)
	}
	return nil
}

// GetArbitraryCredential 返回 store 的任意一个有效凭证。
// 同一 store 的所有 key 指向同一个上游账号，因此选择哪一个并不重要；
// 这里按字典序取第一个以保证结果稳定。
func (s *RedisStore) GetArbitraryCredential(ctx context.Context, storeID string) (string, bool, error) {
	keys, err := s.client.HKeys(ctx, s.credentialKey(storeID)).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis get credential %s: %w", storeID, err)
	}
	if len(keys) == 0 {
		return "", false, nil
	}
	sort.Strings(keys)
	return keys[0], true, nil
}
