package apicache

import (
	"strings"
	"time"

	"github.com/jinx-bot/jinx-cache/internal/jinxxy"
	"github.com/jinx-bot/jinx-cache/internal/storage"
)

// ProductVersionID 唯一标识某个产品下的某个版本。VersionID 为空表示不区分版本，
// 只出现在授权记录等查询键中，快照本身不会索引这种条目。
type ProductVersionID struct {
	ProductID string
	VersionID string
}

func (id ProductVersionID) String() string {
	if id.VersionID == "" {
		return id.ProductID + ".null"
	}
	return id.ProductID + "." + id.VersionID
}

// Snapshot 是某个 store 在某一时刻的完整名称索引，构建后不可变。
// 刷新时整体替换，读者永远不会观察到半成品。
type Snapshot struct {
	productNameToIDs map[string][]string
	productIDToName  map[string]string
	versionNameToIDs map[string][]ProductVersionID
	versionIDToName  map[ProductVersionID]string
	productNames     *PrefixIndex
	versionNames     *PrefixIndex
	productCount     int
	versionCount     int
	createdAt        SimpleTime

	rows storage.SnapshotRows
}

// versionDisplayName 拼接自动补全中展示的 "产品 版本" 名称。
func versionDisplayName(productName, versionName string) string {
	return productName + " " + versionName
}

// rowsFromProducts 将 API 结果压平成可持久化的名称记录。
func rowsFromProducts(products []jinxxy.FullProduct) storage.SnapshotRows {
	rows := storage.SnapshotRows{
		Products: make([]storage.ProductRow, 0, len(products)),
	}
	for _, product := range products {
		rows.Products = append(rows.Products, storage.ProductRow{ID: product.ID, Name: product.Name})
		for _, version := range product.Versions {
			rows.Versions = append(rows.Versions, storage.VersionRow{
				ProductID: product.ID,
				VersionID: version.ID,
				Name:      version.Name,
			})
		}
	}
	return rows
}

// newSnapshot 一次遍历构建全部映射与前缀索引。空名产品视为噪声，连同其版本一起丢弃；
// 空名版本同样丢弃。
func newSnapshot(rows storage.SnapshotRows, createdAt SimpleTime) *Snapshot {
	s := &Snapshot{
		productNameToIDs: make(map[string][]string, len(rows.Products)),
		productIDToName:  make(map[string]string, len(rows.Products)),
		versionNameToIDs: make(map[string][]ProductVersionID, len(rows.Versions)),
		versionIDToName:  make(map[ProductVersionID]string, len(rows.Versions)),
		productNames:     newPrefixIndex(),
		versionNames:     newPrefixIndex(),
		createdAt:        createdAt,
	}

	kept := storage.SnapshotRows{CreatedAtMillis: createdAt.UnixMillis()}
	for _, product := range rows.Products {
		if strings.TrimSpace(product.Name) == "" {
			continue
		}
		if _, dup := s.productIDToName[product.ID]; dup {
			continue
		}
		kept.Products = append(kept.Products, product)
		s.productIDToName[product.ID] = product.Name
		s.productNameToIDs[product.Name] = append(s.productNameToIDs[product.Name], product.ID)
		s.productNames.insert(product.Name)
	}

	for _, version := range rows.Versions {
		productName, ok := s.productIDToName[version.ProductID]
		if !ok || strings.TrimSpace(version.Name) == "" {
			continue
		}
		id := ProductVersionID{ProductID: version.ProductID, VersionID: version.VersionID}
		if _, dup := s.versionIDToName[id]; dup {
			continue
		}
		kept.Versions = append(kept.Versions, version)
		display := versionDisplayName(productName, version.Name)
		s.versionIDToName[id] = display
		s.versionNameToIDs[display] = append(s.versionNameToIDs[display], id)
		s.versionNames.insert(display)
	}

	s.productCount = len(s.productIDToName)
	s.versionCount = len(s.versionIDToName)
	s.rows = kept
	return s
}

// snapshotFromProducts 以当前时间构建来自 API 的快照。
func snapshotFromProducts(products []jinxxy.FullProduct) *Snapshot {
	return newSnapshot(rowsFromProducts(products), Now())
}

// snapshotFromRows 从持久化记录重建快照，保留原始构建时间，
// 使低优先级 worker 能根据真实年龄安排刷新。
func snapshotFromRows(rows storage.SnapshotRows) *Snapshot {
	createdAt := SimpleTimeEpoch
	if rows.CreatedAtMillis > 0 {
		createdAt = SimpleTime(rows.CreatedAtMillis)
	}
	return newSnapshot(rows, createdAt)
}

// Rows 返回用于持久化的名称记录，FromRows(Rows()) 可还原同样的快照。
func (s *Snapshot) Rows() storage.SnapshotRows {
	return storage.SnapshotRows{
		Products:        append([]storage.ProductRow(nil), s.rows.Products...),
		Versions:        append([]storage.VersionRow(nil), s.rows.Versions...),
		CreatedAtMillis: s.rows.CreatedAtMillis,
	}
}

// CreatedAt 返回快照构建时间。
func (s *Snapshot) CreatedAt() SimpleTime {
	return s.createdAt
}

// IsExpiredAt 判断快照在 now 时刻是否已超过 ttl。
func (s *Snapshot) IsExpiredAt(ttl time.Duration, now SimpleTime) bool {
	return now.DurationSince(s.createdAt) > ttl
}

// ProductCount 返回有效产品数量。
func (s *Snapshot) ProductCount() int {
	return s.productCount
}

// ProductVersionCount 返回有效产品版本数量。
func (s *Snapshot) ProductVersionCount() int {
	return s.versionCount
}

// ProductNameToIDs 返回同名的全部产品 id；名称不保证唯一。
func (s *Snapshot) ProductNameToIDs(name string) []string {
	return append([]string(nil), s.productNameToIDs[name]...)
}

// ProductIDToName 返回产品名称。
func (s *Snapshot) ProductIDToName(id string) (string, bool) {
	name, ok := s.productIDToName[id]
	return name, ok
}

// ProductVersionNameToIDs 返回同一展示名称下的全部版本 id。
func (s *Snapshot) ProductVersionNameToIDs(name string) []ProductVersionID {
	return append([]ProductVersionID(nil), s.versionNameToIDs[name]...)
}

// ProductVersionIDToName 返回版本展示名称。
func (s *Snapshot) ProductVersionIDToName(id ProductVersionID) (string, bool) {
	name, ok := s.versionIDToName[id]
	return name, ok
}

// ProductNamesWithPrefix 按前缀检索产品名称，limit <= 0 表示不限。
func (s *Snapshot) ProductNamesWithPrefix(prefix string, limit int) []string {
	return s.productNames.WithPrefix(prefix, limit)
}

// ProductVersionNamesWithPrefix 按前缀检索版本展示名称，limit <= 0 表示不限。
func (s *Snapshot) ProductVersionNamesWithPrefix(prefix string, limit int) []string {
	return s.versionNames.WithPrefix(prefix, limit)
}
