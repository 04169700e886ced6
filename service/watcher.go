package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/rushteam/reminsight/pkg/logger"
)

// DefaultDebounce 目录变化后等待产物写完的时间
const DefaultDebounce = 2 * time.Second

// Watcher 监听 artifact 根目录，新版本目录出现并写入完成后刷新 latest。
// 版本目录内的写入会重置等待时间。
type Watcher struct {
	root     string
	prefix   string
	debounce time.Duration
	refresh  func(ctx context.Context) error
	logger   *logger.Logger

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher 创建 Watcher，refresh 通常为 Resolver.Refresh 的包装
func NewWatcher(root, prefix string, debounce time.Duration, refresh func(ctx context.Context) error, l *logger.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if l == nil {
		l = logger.Get()
	}
	return &Watcher{
		root:     root,
		prefix:   prefix,
		debounce: debounce,
		refresh:  refresh,
		logger:   l.With("component", "watcher", "root", root),
	}
}

// ResolverRefresh 把 Resolver.Refresh 适配为 Watcher 的回调
func ResolverRefresh(r *Resolver) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := r.Refresh(ctx)
		return err
	}
}

// Run 阻塞直到 ctx 结束
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return err
	}
	if err := fw.Add(w.root); err != nil {
		return err
	}
	w.logger.Infow("watching artifact root for new versions")

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("artifact watcher error", "error", err)

		case <-ctx.Done():
			w.stopTimer()
			return nil
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fw *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Write) {
		return
	}
	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil || rel == "." {
		return
	}
	version := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	if !strings.HasPrefix(version, w.prefix) || strings.HasPrefix(version, ".") {
		return
	}

	// 新建的版本目录也加入监听，目录内的写入会重置等待时间
	if event.Has(fsnotify.Create) && filepath.Dir(event.Name) == filepath.Clean(w.root) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := fw.Add(event.Name); err != nil {
				w.logger.Debugw("failed to watch version directory", "path", event.Name, "error", err)
			}
		}
	}
	w.schedule(ctx, version)
}

func (w *Watcher) schedule(ctx context.Context, version string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		if err := w.refresh(ctx); err != nil {
			w.logger.Warnw("refresh after artifact change failed", "version", version, "error", err)
			return
		}
		w.logger.Infow("refreshed latest model after artifact change", "version", version)
	})
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}
