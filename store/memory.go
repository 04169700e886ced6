package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rushteam/reminsight/core"
)

var _ core.TimelineStore = (*MemoryStore)(nil)

// MemoryStore 是内存实现的 TimelineStore，用于测试/开发/单实例部署。
// 支持 TTL（过期时间），但进程重启后数据丢失。
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]*entry
	zsets  map[string]map[string]float64 // zset key -> member -> score
	expire map[string]time.Time          // key 或 zset key 的过期时间
	clean  *time.Ticker
	done   chan struct{}
	once   sync.Once
}

type entry struct {
	value []byte
}

func NewMemoryStore() *MemoryStore {
	ms := &MemoryStore{
		data:   make(map[string]*entry),
		zsets:  make(map[string]map[string]float64),
		expire: make(map[string]time.Time),
		clean:  time.NewTicker(10 * time.Second),
		done:   make(chan struct{}),
	}
	go ms.cleanup()
	return ms
}

func (m *MemoryStore) Name() string { return "memory" }

func (m *MemoryStore) expired(key string, now time.Time) bool {
	t, ok := m.expire[key]
	return ok && now.After(t)
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.data[key]
	if !ok || m.expired(key, time.Now()) {
		return nil, core.ErrStoreNotFound
	}
	return e.value, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = &entry{value: append([]byte(nil), value...)}
	delete(m.expire, key)
	if len(ttl) > 0 && ttl[0] > 0 {
		m.expire[key] = time.Now().Add(time.Duration(ttl[0]) * time.Second)
	}
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	delete(m.zsets, key)
	delete(m.expire, key)
	return nil
}

func (m *MemoryStore) Close() error {
	m.once.Do(func() {
		m.clean.Stop()
		close(m.done)
	})
	return nil
}

func (m *MemoryStore) cleanup() {
	for {
		select {
		case <-m.clean.C:
			m.mu.Lock()
			now := time.Now()
			for k := range m.expire {
				if m.expired(k, now) {
					delete(m.data, k)
					delete(m.zsets, k)
					delete(m.expire, k)
				}
			}
			m.mu.Unlock()
		case <-m.done:
			return
		}
	}
}

type pair struct {
	member string
	score  float64
}

// sortedDesc 按 score 降序，score 相同按成员名降序（与 Redis ZREVRANGE 一致）
func sortedDesc(zset map[string]float64) []pair {
	pairs := make([]pair, 0, len(zset))
	for m, s := range zset {
		pairs = append(pairs, pair{member: m, score: s})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].score != pairs[j].score {
			return pairs[i].score > pairs[j].score
		}
		return pairs[i].member > pairs[j].member
	})
	return pairs
}

func (m *MemoryStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expired(key, time.Now()) {
		delete(m.zsets, key)
		delete(m.expire, key)
	}
	if m.zsets[key] == nil {
		m.zsets[key] = make(map[string]float64)
	}
	m.zsets[key][member] = score
	return nil
}

func (m *MemoryStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	zset, ok := m.zsets[key]
	if !ok || len(zset) == 0 || m.expired(key, time.Now()) {
		return []string{}, nil
	}
	pairs := sortedDesc(zset)

	n := int64(len(pairs))
	if start < 0 {
		start = 0
	}
	if stop < 0 || stop >= n {
		stop = n - 1
	}
	if start > stop {
		return []string{}, nil
	}

	result := make([]string, 0, stop-start+1)
	for i := start; i <= stop; i++ {
		result = append(result, pairs[i].member)
	}
	return result, nil
}

func (m *MemoryStore) ZTrim(ctx context.Context, key string, keep int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	zset, ok := m.zsets[key]
	if !ok || int64(len(zset)) <= keep {
		return nil
	}
	if keep < 0 {
		keep = 0
	}
	for _, p := range sortedDesc(zset)[keep:] {
		delete(zset, p.member)
	}
	return nil
}

func (m *MemoryStore) Expire(ctx context.Context, key string, ttl int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		delete(m.expire, key)
		return nil
	}
	m.expire[key] = time.Now().Add(time.Duration(ttl) * time.Second)
	return nil
}
