package service

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/rushteam/reminsight/artifact"
	"github.com/rushteam/reminsight/core"
	"github.com/rushteam/reminsight/explain"
	"github.com/rushteam/reminsight/feature"
	"github.com/rushteam/reminsight/metrics"
	"github.com/rushteam/reminsight/model"
	"github.com/rushteam/reminsight/pkg/conv"
	"github.com/rushteam/reminsight/pkg/logger"
)

// Enricher 在对齐前为输入行补全缺失字段（如 Feast 在线特征），返回补全的字段数
type Enricher interface {
	Enrich(ctx context.Context, rows []map[string]any, features []string, subjectID string) (int, error)
}

// Guard 对输入行做取值范围检查，返回 warning，不阻塞预测
type Guard interface {
	Check(row map[string]float64) []string
}

// DefaultMaxRows 单次请求允许的最大行数
const DefaultMaxRows = 1000

// 覆盖率 warning 中最多列出的缺失特征数
const maxListedMissing = 10

var _ core.MLService = (*Predictor)(nil)

// Predictor 编排一次预测请求：版本解析 → 补全 → 对齐 → 范围检查 → 预处理 → 推理 → 归因 → 历史。
type Predictor struct {
	resolver *Resolver
	engine   *explain.Engine
	policy   feature.Policy
	pinned   string
	maxRows  int
	monitor  *feature.CoverageMonitor
	guard    Guard
	enricher Enricher
	history  *History
	logger   *logger.Logger
}

// PredictorOption 配置 Predictor
type PredictorOption func(*Predictor)

// WithPolicy 设置预处理失败策略
func WithPolicy(p feature.Policy) PredictorOption {
	return func(s *Predictor) { s.policy = p }
}

// WithPinnedVersion 固定默认版本，请求未指定版本时使用
func WithPinnedVersion(version string) PredictorOption {
	return func(s *Predictor) { s.pinned = version }
}

// WithEngine 设置归因引擎
func WithEngine(e *explain.Engine) PredictorOption {
	return func(s *Predictor) { s.engine = e }
}

// WithMonitor 设置特征覆盖监控
func WithMonitor(m *feature.CoverageMonitor) PredictorOption {
	return func(s *Predictor) { s.monitor = m }
}

// WithGuard 设置范围检查
func WithGuard(g Guard) PredictorOption {
	return func(s *Predictor) { s.guard = g }
}

// WithEnricher 设置在线特征补全
func WithEnricher(e Enricher) PredictorOption {
	return func(s *Predictor) { s.enricher = e }
}

// WithHistory 开启预测历史
func WithHistory(h *History) PredictorOption {
	return func(s *Predictor) { s.history = h }
}

// WithMaxRows 设置单次请求最大行数
func WithMaxRows(n int) PredictorOption {
	return func(s *Predictor) {
		if n > 0 {
			s.maxRows = n
		}
	}
}

// WithPredictorLogger 设置 logger
func WithPredictorLogger(l *logger.Logger) PredictorOption {
	return func(s *Predictor) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewPredictor(resolver *Resolver, opts ...PredictorOption) *Predictor {
	p := &Predictor{
		resolver: resolver,
		policy:   feature.PolicyStrict,
		maxRows:  DefaultMaxRows,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get()
	}
	p.logger = p.logger.With("component", "predictor")
	if p.engine == nil {
		p.engine = explain.NewEngine(explain.WithLogger(p.logger))
	}
	return p
}

// Resolver 返回版本解析器
func (p *Predictor) Resolver() *Resolver { return p.resolver }

// Monitor 返回特征覆盖监控，未配置时为 nil
func (p *Predictor) Monitor() *feature.CoverageMonitor { return p.monitor }

// History 返回预测历史，未开启时为 nil
func (p *Predictor) History() *History { return p.history }

// Engine 返回归因引擎
func (p *Predictor) Engine() *explain.Engine { return p.engine }

// PinnedVersion 返回固定的默认版本
func (p *Predictor) PinnedVersion() string { return p.pinned }

// Policy 返回预处理策略
func (p *Predictor) Policy() feature.Policy { return p.policy }

func (p *Predictor) resolve(ctx context.Context, version string) (*artifact.Bundle, error) {
	if version == "" {
		version = p.pinned
	}
	return p.resolver.Resolve(ctx, version)
}

// Predict 实现 core.MLService
func (p *Predictor) Predict(ctx context.Context, req *core.MLPredictRequest) (*core.MLPredictResponse, error) {
	if req == nil || len(req.Rows) == 0 {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput, "at least one input row is required")
	}
	if len(req.Rows) > p.maxRows {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput,
			fmt.Sprintf("too many rows: %d (max %d)", len(req.Rows), p.maxRows))
	}
	start := time.Now()

	b, err := p.resolve(ctx, req.ModelVersion)
	if err != nil {
		return nil, err
	}

	rows := make([]map[string]any, len(req.Rows))
	for i, r := range req.Rows {
		if r == nil {
			r = map[string]any{}
		}
		rows[i] = maps.Clone(r)
	}

	var shared []string
	if p.enricher != nil {
		if _, err := p.enricher.Enrich(ctx, rows, b.Features, req.SubjectID); err != nil {
			p.logger.Warnw("online feature enrichment failed", "version", b.Version, "error", err)
			shared = append(shared, "online features unavailable")
		}
	}

	chain := b.Chain(p.policy)
	inputs := make([][]float64, len(rows))
	coverages := make([]core.Coverage, len(rows))
	warnings := make([][]string, len(rows))
	for i, row := range rows {
		vec, cov := feature.Align(row, b.Features, b.Fill())
		coverages[i] = cov
		metrics.ObserveCoverage(cov.Ratio, cov.Missing)
		if p.monitor != nil {
			p.monitor.Record(b.Features, vec, cov)
		}

		w := append([]string(nil), shared...)
		w = append(w, coverageWarnings(cov)...)
		if p.guard != nil {
			w = append(w, p.guard.Check(conv.MapToFloat64(row))...)
		}

		x, stageWarnings, err := chain.Transform(vec)
		if err != nil {
			metrics.ObservePreprocessFailure(string(p.policy))
			metrics.ObservePredictions(b.Version, b.Runtime(), "preprocess_failed", len(rows), req.Explain, time.Since(start))
			return nil, err
		}
		if len(stageWarnings) > 0 {
			metrics.ObservePreprocessFailure(string(p.policy))
			p.logger.Warnw("preprocessing stage skipped", "version", b.Version, "row", i, "warnings", stageWarnings)
			w = append(w, stageWarnings...)
		}
		inputs[i] = x
		warnings[i] = w
	}

	preds, err := b.Model.Predict(inputs)
	if err != nil {
		metrics.ObservePredictions(b.Version, b.Runtime(), "error", len(rows), req.Explain, time.Since(start))
		p.logger.Errorw("model inference failed", "version", b.Version, "runtime", b.Runtime(), "error", err)
		return nil, err
	}

	results := make([]core.PredictionResult, len(preds))
	for i, pred := range preds {
		r := toResult(b, pred, coverages[i], warnings[i])
		if req.Explain {
			r.Explanation = p.engine.Explain(b, inputs[i], pred, req.TopK)
			status := r.Explanation.Method
			if r.Explanation.Error != "" {
				status = r.Explanation.Error
			}
			metrics.ObserveExplanation(status)
		}
		results[i] = r
	}

	if req.SubjectID != "" && p.history != nil {
		for _, r := range results {
			if err := p.history.Record(ctx, req.SubjectID, r); err != nil {
				p.logger.Warnw("failed to record prediction history", "subject_id", req.SubjectID, "error", err)
				break
			}
		}
	}

	metrics.ObservePredictions(b.Version, b.Runtime(), "ok", len(rows), req.Explain, time.Since(start))
	p.logger.Debugw("prediction served", "version", b.Version, "rows", len(rows), "explain", req.Explain, "elapsed", time.Since(start))
	return &core.MLPredictResponse{Results: results, ModelVersion: b.Version}, nil
}

func toResult(b *artifact.Bundle, pred model.Prediction, cov core.Coverage, warnings []string) core.PredictionResult {
	r := core.PredictionResult{
		Prediction:    pred.Class,
		Probabilities: pred.Probabilities,
		Version:       b.Version,
		Runtime:       b.Runtime(),
		Coverage:      cov,
		Warning:       strings.Join(warnings, "; "),
	}
	if pred.Binary() {
		pos := pred.Probabilities[1]
		r.Probability = &pos
	}
	if c, ok := pred.Confidence(); ok {
		r.Confidence = &c
	}
	return r
}

func coverageWarnings(cov core.Coverage) []string {
	var out []string
	if cov.Degraded() {
		names := cov.Missing
		suffix := ""
		if len(names) > maxListedMissing {
			names = names[:maxListedMissing]
			suffix = ", ..."
		}
		out = append(out, fmt.Sprintf("missing %d of %d features: %s%s",
			len(cov.Missing), cov.Total, strings.Join(names, ", "), suffix))
	}
	if len(cov.Invalid) > 0 {
		out = append(out, "non-numeric values ignored: "+strings.Join(cov.Invalid, ", "))
	}
	return out
}

// Health 实现 core.MLService：默认版本能否解析
func (p *Predictor) Health(ctx context.Context) error {
	_, err := p.resolve(ctx, "")
	return err
}

// Close 实现 core.MLService
func (p *Predictor) Close(ctx context.Context) error {
	return p.resolver.Close()
}

// Features 返回默认版本的特征列表
func (p *Predictor) Features(ctx context.Context) ([]string, string, error) {
	b, err := p.resolve(ctx, "")
	if err != nil {
		return nil, "", err
	}
	return b.Features, b.Version, nil
}

// VersionInfo 是单个版本的内省信息
type VersionInfo struct {
	Version     string               `json:"version"`
	Features    []string             `json:"features"`
	FeatureFile string               `json:"feature_file"`
	ModelFile   string               `json:"model_file"`
	Runtime     string               `json:"runtime"`
	Stages      []string             `json:"preprocessing"`
	Policy      string               `json:"policy"`
	Provenance  *artifact.Provenance `json:"provenance,omitempty"`
	Importance  []core.Attribution   `json:"global_importance,omitempty"`
	LoadedAt    time.Time            `json:"loaded_at"`
}

// Describe 返回版本的内省信息，version 为空时使用默认版本
func (p *Predictor) Describe(ctx context.Context, version string) (*VersionInfo, error) {
	b, err := p.resolve(ctx, version)
	if err != nil {
		return nil, err
	}
	return &VersionInfo{
		Version:     b.Version,
		Features:    b.Features,
		FeatureFile: b.FeatureFile,
		ModelFile:   b.ModelFile,
		Runtime:     b.Runtime(),
		Stages:      b.Chain(p.policy).Stages(),
		Policy:      string(p.policy),
		Provenance:  b.Provenance,
		Importance:  explain.GlobalImportance(b),
		LoadedAt:    b.LoadedAt,
	}, nil
}
