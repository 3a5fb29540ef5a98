package storage

import "time"

// ProductRow 是持久化的单个产品名称记录。
type ProductRow struct {
	ID   string `msgpack:"id"`
	Name string `msgpack:"name"`
}

// VersionRow 是持久化的单个产品版本记录，Name 为版本自身名称（不含产品名）。
type VersionRow struct {
	ProductID string `msgpack:"product_id"`
	VersionID string `msgpack:"version_id"`
	Name      string `msgpack:"name"`
}

// SnapshotRows 是一个 store 的扁平化名称记录，可由缓存快照无损重建。
type SnapshotRows struct {
	Products []ProductRow `msgpack:"products"`
	Versions []VersionRow `msgpack:"versions"`
	// CreatedAtMillis 记录快照构建时间（unix 毫秒）。
	CreatedAtMillis int64 `msgpack:"created_at"`
}

// CreatedAt 以 time.Time 形式返回快照构建时间。
func (r SnapshotRows) CreatedAt() time.Time {
	return time.UnixMilli(r.CreatedAtMillis)
}
