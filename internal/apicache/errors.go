package apicache

import "errors"

var (
	// ErrMissingAPIKey 表示 store 没有任何可用凭证，通常意味着 store 尚未绑定。
	ErrMissingAPIKey = errors.New("store has no linked api key")

	// ErrNotFound 表示快照中不存在请求的名称。
	ErrNotFound = errors.New("name not found in store cache")

	// ErrExpiryUnavailable 表示持久化存储中没有低优先级刷新周期设置。
	ErrExpiryUnavailable = errors.New("low priority expiry setting is unavailable")

	// ErrClosed 表示缓存已关闭。
	ErrClosed = errors.New("api cache is closed")
)
