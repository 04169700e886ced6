// Package feast 通过 Feast 在线特征服务为预测请求补全缺失特征。
//
// 请求行里已有的值优先；只有缺失的字段才会用在线特征补上。
// Feast 不可用时补全失败，由调用方降级为 warning，预测照常进行。
package feast

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	feastsdk "github.com/feast-dev/feast/sdk/go"
	"github.com/feast-dev/feast/sdk/go/protos/feast/types"
	"google.golang.org/protobuf/protoadapt"

	"github.com/rushteam/reminsight/pkg/conv"
	"github.com/rushteam/reminsight/pkg/logger"
)

// Config 是在线特征补全配置
type Config struct {
	Host        string
	Port        int
	Project     string
	FeatureView string
	// EntityKey 实体列名，默认 subject_id
	EntityKey string
	Token     string
	Timeout   time.Duration
}

type fetchFunc func(ctx context.Context, req *feastsdk.OnlineFeaturesRequest) ([]feastsdk.Row, error)

// Enricher 实现 service.Enricher
type Enricher struct {
	cfg    Config
	fetch  fetchFunc
	logger *logger.Logger
}

// NewEnricher 连接 Feast serving，Port 为 0 时使用 6565
func NewEnricher(cfg Config, l *logger.Logger) (*Enricher, error) {
	if cfg.Host == "" || cfg.Project == "" || cfg.FeatureView == "" {
		return nil, fmt.Errorf("feast: host, project and feature view are required")
	}
	if cfg.Port == 0 {
		cfg.Port = 6565
	}
	if cfg.EntityKey == "" {
		cfg.EntityKey = "subject_id"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 500 * time.Millisecond
	}

	var (
		client *feastsdk.GrpcClient
		err    error
	)
	if cfg.Token != "" {
		client, err = feastsdk.NewSecureGrpcClient(cfg.Host, cfg.Port, feastsdk.SecurityConfig{
			Credential: feastsdk.NewStaticCredential(cfg.Token),
		})
	} else {
		client, err = feastsdk.NewGrpcClient(cfg.Host, cfg.Port)
	}
	if err != nil {
		return nil, fmt.Errorf("创建 Feast gRPC 客户端失败: %w", err)
	}

	fetch := func(ctx context.Context, req *feastsdk.OnlineFeaturesRequest) ([]feastsdk.Row, error) {
		resp, err := client.GetOnlineFeatures(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp.Rows(), nil
	}
	return newEnricher(cfg, fetch, l), nil
}

func newEnricher(cfg Config, fetch fetchFunc, l *logger.Logger) *Enricher {
	if l == nil {
		l = logger.Get()
	}
	if cfg.EntityKey == "" {
		cfg.EntityKey = "subject_id"
	}
	return &Enricher{
		cfg:    cfg,
		fetch:  fetch,
		logger: l.With("component", "feast", "project", cfg.Project, "view", cfg.FeatureView),
	}
}

func (e *Enricher) ref(name string) string {
	return e.cfg.FeatureView + ":" + name
}

// Enrich 为 rows 补全 features 中缺失的字段，返回写入的字段数。
// 实体取行内的 EntityKey 字段，没有时使用 subjectID；两者都没有的行不补全。
// 所有需要补全的行合并为一次请求。
func (e *Enricher) Enrich(ctx context.Context, rows []map[string]any, features []string, subjectID string) (int, error) {
	var (
		targets  []map[string]any
		entities []feastsdk.Row
	)
	for _, row := range rows {
		entity := subjectID
		if v := entityOf(row[e.cfg.EntityKey]); v != "" {
			entity = v
		}
		if entity == "" || len(missingFeatures([]map[string]any{row}, features)) == 0 {
			continue
		}
		targets = append(targets, row)
		entities = append(entities, feastsdk.Row{e.cfg.EntityKey: feastsdk.StrVal(entity)})
	}
	if len(targets) == 0 {
		return 0, nil
	}

	missing := missingFeatures(targets, features)
	refs := make([]string, len(missing))
	for i, name := range missing {
		refs[i] = e.ref(name)
	}
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	got, err := e.fetch(ctx, &feastsdk.OnlineFeaturesRequest{
		Features: refs,
		Entities: entities,
		Project:  e.cfg.Project,
	})
	if err != nil {
		return 0, fmt.Errorf("feast get online features failed: %w", err)
	}
	if len(got) != len(targets) {
		return 0, fmt.Errorf("response row count mismatch: expected %d, got %d", len(targets), len(got))
	}

	filled := 0
	for i, row := range targets {
		for _, name := range missing {
			if v, ok := row[name]; ok && v != nil {
				continue
			}
			f, ok := valueOf(got[i][e.ref(name)])
			if !ok {
				continue
			}
			row[name] = f
			filled++
		}
	}
	e.logger.Debugw("online features merged", "rows", len(targets), "requested", len(refs), "filled", filled)
	return filled, nil
}

func entityOf(v any) string {
	if s, ok := conv.ToString(v); ok {
		return s
	}
	if f, ok := conv.ToFloat64(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// missingFeatures 返回至少在一行中缺失的特征，保持 features 顺序
func missingFeatures(rows []map[string]any, features []string) []string {
	var out []string
	for _, name := range features {
		for _, row := range rows {
			if v, ok := row[name]; !ok || v == nil {
				out = append(out, name)
				break
			}
		}
	}
	return slices.Clip(out)
}

// valueOf 取出 types.Value 的 oneof 取值并转为数值，未设置或非数值时返回 false
func valueOf(v *types.Value) (float64, bool) {
	if v == nil {
		return 0, false
	}
	m := protoadapt.MessageV2Of(v).ProtoReflect()
	oneof := m.Descriptor().Oneofs().ByName("val")
	if oneof == nil {
		return 0, false
	}
	fd := m.WhichOneof(oneof)
	if fd == nil {
		return 0, false
	}
	return conv.ToFloat64(m.Get(fd).Interface())
}
