// Package store 提供 core.Store / core.TimelineStore 的实现。
//
// 注意：此包只包含实现，接口定义在 core 包。
//
//	var history core.TimelineStore = store.NewMemoryStore()
package store

import (
	"context"
	"fmt"

	"github.com/rushteam/reminsight/core"
)

// Open 按后端名创建存储：memory 或 redis
func Open(ctx context.Context, backend string, redisCfg RedisConfig) (core.TimelineStore, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(ctx, redisCfg)
	default:
		return nil, core.NewDomainError(core.ModuleStore, core.ErrorCodeNotSupported,
			fmt.Sprintf("unknown store backend %q (supported: memory, redis)", backend))
	}
}
