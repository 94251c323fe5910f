package providers

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

type registered struct {
	info    Info
	adapter Adapter
}

// Registry 提供商注册表
//
// 读取走不可变快照，无锁；注册时复制整张表再原子替换。
type Registry struct {
	mu       sync.Mutex // 串行化写入
	snapshot atomic.Pointer[map[string]registered]
}

// Selection 选择提供商所需的配置视图
type Selection struct {
	Primary   string
	Fallbacks []string
	Providers map[string]Settings
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make(map[string]registered)
	r.snapshot.Store(&empty)
	return r
}

// DefaultRegistry 全局默认注册表
var DefaultRegistry = NewRegistry()

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Register 注册适配器，相同 ID 会被替换
func (r *Registry) Register(adapter Adapter) error {
	if adapter == nil {
		return fmt.Errorf("adapter is nil")
	}
	info := adapter.Info()
	id := normalizeID(info.ID)
	if id == "" {
		return fmt.Errorf("provider id is empty")
	}
	info.ID = id

	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.snapshot.Load()
	next := make(map[string]registered, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[id] = registered{info: info, adapter: adapter}
	r.snapshot.Store(&next)
	return nil
}

// Unregister 移除提供商
func (r *Registry) Unregister(id string) {
	id = normalizeID(id)

	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.snapshot.Load()
	if _, ok := old[id]; !ok {
		return
	}
	next := make(map[string]registered, len(old))
	for k, v := range old {
		if k != id {
			next[k] = v
		}
	}
	r.snapshot.Store(&next)
}

// Get 获取适配器
func (r *Registry) Get(id string) (Adapter, error) {
	snap := *r.snapshot.Load()
	id = normalizeID(id)
	if e, ok := snap[id]; ok {
		return e.adapter, nil
	}
	return nil, notFound(id, snap)
}

// Info 获取注册时记录的提供商描述
func (r *Registry) Info(id string) (Info, bool) {
	e, ok := (*r.snapshot.Load())[normalizeID(id)]
	return e.info, ok
}

// List 按 ID 排序返回全部提供商描述
func (r *Registry) List() []Info {
	snap := *r.snapshot.Load()
	out := make([]Info, 0, len(snap))
	for _, e := range snap {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len 已注册数量
func (r *Registry) Len() int {
	return len(*r.snapshot.Load())
}

// ListEnabled 返回主提供商和备用提供商中已启用且已注册的适配器，按声明顺序去重
func (r *Registry) ListEnabled(sel Selection) []Adapter {
	snap := *r.snapshot.Load()
	ids := append([]string{sel.Primary}, sel.Fallbacks...)

	seen := make(map[string]bool, len(ids))
	out := make([]Adapter, 0, len(ids))
	for _, raw := range ids {
		id := normalizeID(raw)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if !IsEnabled(sel.Providers, id) {
			continue
		}
		if e, ok := snap[id]; ok {
			out = append(out, e.adapter)
		}
	}
	return out
}

// IsEnabled 查询配置中提供商是否启用，ID 不区分大小写
func IsEnabled(settings map[string]Settings, id string) bool {
	id = normalizeID(id)
	if s, ok := settings[id]; ok {
		return s.Enabled
	}
	for k, s := range settings {
		if normalizeID(k) == id {
			return s.Enabled
		}
	}
	return false
}

func notFound(id string, snap map[string]registered) error {
	ids := make([]string, 0, len(snap))
	for k := range snap {
		ids = append(ids, k)
	}
	sort.Strings(ids)

	ranks := fuzzy.RankFindFold(id, ids)
	if len(ranks) == 0 && len(id) > 2 {
		ranks = fuzzy.RankFindFold(id[:2], ids)
	}
	if len(ranks) == 0 {
		return fmt.Errorf("%w: %q (registered: %s)", ErrNotFound, id, strings.Join(ids, ", "))
	}
	sort.Sort(ranks)
	return fmt.Errorf("%w: %q, did you mean %q?", ErrNotFound, id, ranks[0].Target)
}
