package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rushteam/reminsight/artifact"
	"github.com/rushteam/reminsight/core"
	"github.com/rushteam/reminsight/metrics"
	"github.com/rushteam/reminsight/pkg/logger"
)

// BundleLoader 加载模型版本，artifact.FileStore 实现此接口
type BundleLoader interface {
	ListVersions(ctx context.Context) ([]string, error)
	LoadBundle(ctx context.Context, version string) (*artifact.Bundle, error)
}

// Resolver 负责版本解析与缓存，是服务中唯一的共享可变状态。
//
//   - latest 通过原子指针发布，读路径无锁
//   - 首次加载由 singleflight 合并，并发请求不会重复加载，也不会看到半成品
//   - 显式版本进入按版本的 LRU，永远不会改写 latest
//   - 加载失败不改变任何状态，之后的请求会重试
type Resolver struct {
	loader BundleLoader
	cache  *BundleCache
	group  singleflight.Group
	latest atomic.Pointer[artifact.Bundle]

	// mu 保护 gen、epoch 与 latest 的写入。
	// gen 在每次发布或失效时递增，epoch 只在失效时递增。
	// 加载开始时记录两者：epoch 变化说明期间发生过失效，结果一律不发布；
	// 只有 gen 变化说明期间有其他加载发布过，latest 加载让位，refresh 按版本号决定。
	mu    sync.Mutex
	gen   uint64
	epoch uint64

	loadTimeout time.Duration
	logger      *logger.Logger
}

// ErrRefreshSuperseded 表示 refresh 期间缓存被失效，加载结果未发布
var ErrRefreshSuperseded = core.NewDomainError(core.ModuleService, core.ErrorCodeUnavailable,
	"refresh superseded by cache invalidation")

// ResolverOption 配置 Resolver
type ResolverOption func(*Resolver)

// WithVersionCacheSize 设置显式版本 LRU 容量
func WithVersionCacheSize(n int) ResolverOption {
	return func(r *Resolver) {
		r.cache = NewBundleCache(n)
	}
}

// WithLoadTimeout 设置单次加载的超时，<=0 表示不限制
func WithLoadTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.loadTimeout = d
	}
}

// WithResolverLogger 设置 logger
func WithResolverLogger(l *logger.Logger) ResolverOption {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewResolver 创建 Resolver，不会立即加载
func NewResolver(loader BundleLoader, opts ...ResolverOption) *Resolver {
	r := &Resolver{loader: loader, loadTimeout: time.Minute}
	for _, opt := range opts {
		opt(r)
	}
	if r.cache == nil {
		r.cache = NewBundleCache(0)
	}
	if r.logger == nil {
		r.logger = logger.Get()
	}
	r.logger = r.logger.With("component", "resolver")
	return r
}

// Resolve 返回 version 对应的 Bundle，空字符串表示 latest
func (r *Resolver) Resolve(ctx context.Context, version string) (*artifact.Bundle, error) {
	if version == "" {
		if b := r.latest.Load(); b != nil {
			return b, nil
		}
		return r.load(ctx, "latest", "")
	}
	if b := r.latest.Load(); b != nil && b.Version == version {
		return b, nil
	}
	if b, ok := r.cache.Get(version); ok {
		return b, nil
	}
	return r.load(ctx, "version", version)
}

// Latest 返回当前已发布的 latest，未加载时为 nil
func (r *Resolver) Latest() *artifact.Bundle {
	return r.latest.Load()
}

// Versions 列出存储中的全部版本
func (r *Resolver) Versions(ctx context.Context) ([]string, error) {
	return r.loader.ListVersions(ctx)
}

// Refresh 重新加载最新版本，成功后替换 latest；失败时保持原状态
func (r *Resolver) Refresh(ctx context.Context) (*artifact.Bundle, error) {
	return r.load(ctx, "refresh", "")
}

// Invalidate 丢弃 latest 与版本缓存，之后的请求重新加载
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	r.gen++
	r.epoch++
	r.latest.Store(nil)
	r.mu.Unlock()
	r.cache.Clear()
	metrics.SetActiveVersion("")
	r.logger.Infow("model cache invalidated")
}

func (r *Resolver) load(ctx context.Context, kind, version string) (*artifact.Bundle, error) {
	key := kind + ":" + version
	v, err, _ := r.group.Do(key, func() (any, error) {
		r.mu.Lock()
		gen, epoch := r.gen, r.epoch
		r.mu.Unlock()

		// 合并后的加载由所有等待者共享，不能跟随第一个调用方的取消
		lctx := context.WithoutCancel(ctx)
		if r.loadTimeout > 0 {
			var cancel context.CancelFunc
			lctx, cancel = context.WithTimeout(lctx, r.loadTimeout)
			defer cancel()
		}

		start := time.Now()
		b, err := r.loader.LoadBundle(lctx, version)
		metrics.ObserveBundleLoad(kind, err, time.Since(start))
		if err != nil {
			r.logger.Warnw("model bundle load failed", "kind", kind, "version", version, "error", err)
			return nil, err
		}

		if version != "" {
			r.cache.Set(b)
			return b, nil
		}
		served, outcome := r.publish(b, gen, epoch, kind == "refresh")
		switch outcome {
		case published:
			r.logger.Infow("published latest model", "version", b.Version, "kind", kind)
		case yielded:
			if served != b {
				b.Close()
			}
		case discarded:
			if kind == "refresh" {
				r.logger.Warnw("refresh result discarded", "version", b.Version)
				return nil, ErrRefreshSuperseded
			}
		}
		return served, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*artifact.Bundle), nil
}

type publishOutcome int

const (
	published publishOutcome = iota
	yielded                  // 保留期间已发布的 latest
	discarded                // 期间发生过失效
)

// publish 尝试把 b 发布为 latest，返回当前应使用的 Bundle。
//
//   - epoch 变化：不发布，返回 b 本身供本次请求使用
//   - gen 未变：直接发布
//   - 期间有其他加载发布过：latest 加载让位；refresh 在 b 的版本不低于已发布版本时覆盖
func (r *Resolver) publish(b *artifact.Bundle, gen, epoch uint64, refresh bool) (*artifact.Bundle, publishOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.epoch != epoch {
		return b, discarded
	}
	if cur := r.latest.Load(); r.gen != gen && cur != nil {
		if !refresh || b.Version < cur.Version {
			return cur, yielded
		}
	}
	r.gen++
	r.latest.Store(b)
	metrics.SetActiveVersion(b.Version)
	return b, published
}

// ResolverState 是 Resolver 的状态快照
type ResolverState struct {
	Loaded         bool      `json:"loaded"`
	LatestVersion  string    `json:"latest_version,omitempty"`
	LoadedAt       time.Time `json:"loaded_at,omitzero"`
	Runtime        string    `json:"runtime,omitempty"`
	CachedVersions []string  `json:"cached_versions"`
}

// State 返回状态快照
func (r *Resolver) State() ResolverState {
	s := ResolverState{CachedVersions: r.cache.Versions()}
	if b := r.latest.Load(); b != nil {
		s.Loaded = true
		s.LatestVersion = b.Version
		s.LoadedAt = b.LoadedAt
		s.Runtime = b.Runtime()
	}
	return s
}

// Close 释放所有已缓存 Bundle 的运行时资源
func (r *Resolver) Close() error {
	r.mu.Lock()
	r.gen++
	r.epoch++
	latest := r.latest.Swap(nil)
	r.mu.Unlock()

	bundles := r.cache.Clear()
	if latest != nil {
		bundles = append(bundles, latest)
	}
	seen := make(map[*artifact.Bundle]struct{}, len(bundles))
	var firstErr error
	for _, b := range bundles {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
