package apicache

import (
	"strings"

	"github.com/armon/go-radix"
)

// PrefixIndex 把小写名称映射回原始大小写名称，支持按前缀大小写不敏感地检索。
// 构建完成后只读，可被任意多个 goroutine 并发查询。
type PrefixIndex struct {
	tree *radix.Tree
}

func newPrefixIndex() *PrefixIndex {
	return &PrefixIndex{tree: radix.New()}
}

func (p *PrefixIndex) insert(name string) {
	p.tree.Insert(strings.ToLower(name), name)
}

// WithPrefix 返回小写形式以 prefix 的小写形式开头的全部名称，按小写键的字典序排列。
// limit <= 0 表示不限制数量。
func (p *PrefixIndex) WithPrefix(prefix string, limit int) []string {
	var result []string
	p.tree.WalkPrefix(strings.ToLower(prefix), func(_ string, v interface{}) bool {
		result = append(result, v.(string))
		return limit > 0 && len(result) >= limit
	})
	return result
}
