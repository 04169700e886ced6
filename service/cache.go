package service

import (
	"sort"
	"sync"

	"github.com/rushteam/reminsight/artifact"
)

// BundleCache 是按版本号索引的内存 LRU 缓存，只保存加载成功的 Bundle。
//
// 淘汰的 Bundle 不做 Close：正在处理的请求可能仍持有它。
type BundleCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	maxSize int
	clock   uint64
}

type cacheEntry struct {
	bundle  *artifact.Bundle
	lastUse uint64 // 访问序号
}

// NewBundleCache 创建缓存，maxSize <= 0 时默认为 4
func NewBundleCache(maxSize int) *BundleCache {
	if maxSize <= 0 {
		maxSize = 4
	}
	return &BundleCache{
		entries: make(map[string]*cacheEntry),
		maxSize: maxSize,
	}
}

// Get 读取版本，命中时刷新访问时间
func (c *BundleCache) Get(version string) (*artifact.Bundle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[version]
	if !ok {
		return nil, false
	}
	c.clock++
	entry.lastUse = c.clock
	return entry.bundle, true
}

// Set 写入版本，超过容量时淘汰最久未访问的条目
func (c *BundleCache) Set(b *artifact.Bundle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[b.Version]; !ok && len(c.entries) >= c.maxSize {
		c.evictLRU()
	}
	c.clock++
	c.entries[b.Version] = &cacheEntry{bundle: b, lastUse: c.clock}
}

func (c *BundleCache) evictLRU() {
	var oldestKey string
	var oldest uint64
	first := true
	for key, entry := range c.entries {
		if first || entry.lastUse < oldest {
			oldestKey = key
			oldest = entry.lastUse
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// Versions 返回已缓存的版本，升序
func (c *BundleCache) Versions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	versions := make([]string, 0, len(c.entries))
	for v := range c.entries {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions
}

// Len 返回缓存条目数
func (c *BundleCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear 清空缓存并返回被移除的 Bundle
func (c *BundleCache) Clear() []*artifact.Bundle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*artifact.Bundle, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.bundle)
	}
	c.entries = make(map[string]*cacheEntry)
	return out
}
