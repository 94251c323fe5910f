package translation

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/nerdneilsfield/go-translator-hub/pkg/store"
)

// CacheStoreKey 缓存持久化使用的键
const CacheStoreKey = "cache"

// 默认缓存参数
const (
	DefaultCacheCapacity = 1000
	DefaultCacheTTL      = 24 * time.Hour
)

// Fingerprint 计算请求指纹
//
// 文本做 NFC 归一化并去除首尾空白，语言代码转为规范形式，
// 未设置的正式度和领域按默认值参与计算，术语表按键排序。
// PreferredProvider 与 StrictProvider 不影响翻译内容，不参与计算。
func Fingerprint(req Request) string {
	formality := req.Options.Formality
	if formality == "" {
		formality = FormalityDefault
	}
	domain := req.Options.Domain
	if domain == "" {
		domain = DomainGeneral
	}

	keys := make([]string, 0, len(req.Options.Glossary))
	for k := range req.Options.Glossary {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var glossary strings.Builder
	for _, k := range keys {
		glossary.WriteString(norm.NFC.String(k))
		glossary.WriteByte('\x1f')
		glossary.WriteString(norm.NFC.String(req.Options.Glossary[k]))
		glossary.WriteByte('\x1e')
	}

	fields := []string{
		norm.NFC.String(strings.TrimSpace(req.Text)),
		CanonicalLanguage(req.SourceLang),
		CanonicalLanguage(req.TargetLang),
		formality,
		domain,
		glossary.String(),
		strconv.FormatBool(req.Options.PreserveFormatting),
	}

	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CacheEntry 缓存条目
type CacheEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Response    Response  `json:"response"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func (e *CacheEntry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// CacheMetrics 缓存自身的计数
type CacheMetrics struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
}

// Cache 带 TTL 的 LRU 结果缓存
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time
	ll       *list.List
	items    map[string]*list.Element
	metrics  CacheMetrics
}

// CacheOption 缓存选项
type CacheOption func(*Cache)

// WithCacheClock 注入时钟
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// NewCache 创建缓存，capacity <= 0 使用默认容量，ttl <= 0 表示不过期
func NewCache(capacity int, ttl time.Duration, opts ...CacheOption) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	c := &Cache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get 查找未过期的结果，命中时移到最近使用位置
func (c *Cache) Get(fingerprint string) (Response, bool) {
	return c.GetIf(fingerprint, nil)
}

// GetIf 与 Get 相同，但 accept 返回 false 的条目按未命中处理，且不调整其位置
func (c *Cache) GetIf(fingerprint string, accept func(Response) bool) (Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[fingerprint]
	if !ok {
		c.metrics.Misses++
		return Response{}, false
	}
	entry := el.Value.(*CacheEntry)
	if entry.expired(c.now()) {
		c.removeElement(el)
		c.metrics.Expired++
		c.metrics.Misses++
		return Response{}, false
	}
	if accept != nil && !accept(entry.Response) {
		c.metrics.Misses++
		return Response{}, false
	}
	c.ll.MoveToFront(el)
	c.metrics.Hits++
	return entry.Response.clone(), true
}

// Put 写入结果，ttl <= 0 使用缓存默认 TTL
func (c *Cache) Put(fingerprint string, resp Response, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	entry := &CacheEntry{Fingerprint: fingerprint, Response: resp.clone(), CreatedAt: now}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	entry.Response.FromCache = false

	if el, ok := c.items[fingerprint]; ok {
		el.Value = entry
		c.ll.MoveToFront(el)
		return
	}
	c.items[fingerprint] = c.ll.PushFront(entry)
	c.evict()
}

// evict 超出容量时淘汰最久未使用的条目，调用方需持有锁
func (c *Cache) evict() {
	for c.ll.Len() > c.capacity {
		el := c.ll.Back()
		if el == nil {
			return
		}
		c.removeElement(el)
		c.metrics.Evictions++
	}
}

func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*CacheEntry).Fingerprint)
}

// Delete 删除条目
func (c *Cache) Delete(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[fingerprint]; ok {
		c.removeElement(el)
	}
}

// Clear 清空缓存
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
}

// Size 当前条目数（含尚未清理的过期条目）
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Capacity 容量
func (c *Cache) Capacity() int {
	return c.capacity
}

// UsageRatio 使用率
func (c *Cache) UsageRatio() float64 {
	return float64(c.Size()) / float64(c.capacity)
}

// Metrics 返回计数副本
func (c *Cache) Metrics() CacheMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// Purge 清理过期条目，返回清理数量
func (c *Cache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*CacheEntry).expired(now) {
			c.removeElement(el)
			n++
		}
		el = prev
	}
	c.metrics.Expired += int64(n)
	return n
}

// Entries 按最近使用顺序返回未过期的条目
func (c *Cache) Entries() []CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	out := make([]CacheEntry, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		entry := el.Value.(*CacheEntry)
		if !entry.expired(now) {
			cp := *entry
			cp.Response = entry.Response.clone()
			out = append(out, cp)
		}
	}
	return out
}

// Restore 载入条目，顺序与 Entries 相同；已过期的条目被丢弃
func (c *Cache) Restore(entries []CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		if entry.Fingerprint == "" || entry.expired(now) {
			continue
		}
		if el, ok := c.items[entry.Fingerprint]; ok {
			c.removeElement(el)
		}
		c.items[entry.Fingerprint] = c.ll.PushFront(&entry)
	}
	c.evict()
}

// Save 持久化到存储
func (c *Cache) Save(s store.Store) error {
	return s.Set(CacheStoreKey, c.Entries())
}

// Load 从存储恢复，键不存在时不做任何事
func (c *Cache) Load(s store.Store) error {
	var entries []CacheEntry
	ok, err := s.Get(CacheStoreKey, &entries)
	if err != nil || !ok {
		return err
	}
	c.Restore(entries)
	return nil
}
