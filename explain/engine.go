// Package explain 计算单次预测的特征归因。
//
// 按模型能力选择方法：
//   - 树模型（model.TreeEnsemble）：精确的路径依赖 TreeSHAP，margin 空间
//   - 逻辑回归（*model.Logistic）：线性 SHAP，logit 空间
//   - 其它运行时：排列采样 Shapley，概率空间
//
// 解释失败不会影响预测，结果中只带错误标记。
package explain

import (
	"fmt"

	"github.com/rushteam/reminsight/artifact"
	"github.com/rushteam/reminsight/core"
	"github.com/rushteam/reminsight/model"
	"github.com/rushteam/reminsight/pkg/logger"
)

const (
	MethodTreeSHAP = "tree_shap"
	MethodLinear   = "linear"
	MethodSampling = "sampling"

	SpaceMargin      = "margin"
	SpaceProbability = "probability"

	DefaultTopK    = 5
	DefaultSamples = 200
	DefaultSeed    = 42
)

// Engine 归因引擎，无状态，可并发使用
type Engine struct {
	enabled bool
	topK    int
	samples int
	seed    uint64
	logger  *logger.Logger
}

// Option 配置 Engine
type Option func(*Engine)

// WithEnabled 开关归因，关闭时返回 shap_disabled 标记
func WithEnabled(enabled bool) Option {
	return func(e *Engine) { e.enabled = enabled }
}

// WithTopK 设置默认返回的特征数
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithSamples 设置排列采样次数，0 表示不使用采样方法
func WithSamples(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.samples = n
		}
	}
}

// WithSeed 设置采样随机种子
func WithSeed(seed uint64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithLogger 设置 logger
func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine 创建归因引擎，默认开启
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		enabled: true,
		topK:    DefaultTopK,
		samples: DefaultSamples,
		seed:    DefaultSeed,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logger.Get()
	}
	e.logger = e.logger.With("component", "explain")
	return e
}

// Enabled 是否开启
func (e *Engine) Enabled() bool { return e.enabled }

// Explain 对预处理后的模型输入 x 计算归因，topK <= 0 时使用默认值。
// 从不返回错误，失败时结果只带错误标记。
func (e *Engine) Explain(b *artifact.Bundle, x []float64, pred model.Prediction, topK int) (exp *core.Explanation) {
	if !e.enabled {
		return core.ExplanationError(core.ExplainErrorDisabled)
	}
	if b == nil || b.Model == nil {
		return core.ExplanationError(core.ExplainErrorUnavailable)
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warnw("explanation panicked", "version", b.Version, "panic", r)
			exp = core.ExplanationError(core.ExplainErrorFailed)
		}
	}()
	if topK <= 0 {
		topK = e.topK
	}
	if len(x) != len(b.Features) {
		e.logger.Warnw("explanation input width mismatch", "version", b.Version, "got", len(x), "want", len(b.Features))
		return core.ExplanationError(core.ExplainErrorFailed)
	}

	class := targetClass(pred)
	var (
		phi    []float64
		base   float64
		method string
		space  string
		err    error
	)
	switch m := b.Model.Model().(type) {
	case model.TreeEnsemble:
		group := 0
		if m.NumGroups() > 1 {
			group = class
		}
		if group < 0 || group >= m.NumGroups() {
			err = fmt.Errorf("class %d outside %d output groups", class, m.NumGroups())
			break
		}
		method, space = MethodTreeSHAP, SpaceMargin
		phi, base, err = treeSHAP(m, x, group)
	case *model.Logistic:
		method, space = MethodLinear, SpaceMargin
		phi, base, err = linearSHAP(m, x, reference(b), class)
	default:
		if e.samples == 0 {
			return core.ExplanationError(core.ExplainErrorUnavailable)
		}
		method, space = MethodSampling, SpaceProbability
		phi, base, err = samplingSHAP(b.Model, x, reference(b), class, e.samples, e.seed)
	}
	if err != nil {
		e.logger.Warnw("explanation failed", "version", b.Version, "runtime", b.Runtime(), "error", err)
		return core.ExplanationError(core.ExplainErrorFailed)
	}

	return &core.Explanation{
		Method:    method,
		Space:     space,
		Class:     class,
		BaseValue: base,
		Top:       TopK(b.Features, phi, topK),
	}
}

// targetClass 二分类解释正类，多分类与标签输出解释预测类别
func targetClass(pred model.Prediction) int {
	if pred.Binary() {
		return 1
	}
	return pred.Class
}

// TopK 按 |phi| 降序返回前 k 个特征，相同时按特征顺序
func TopK(features []string, phi []float64, k int) []core.Attribution {
	attrs := make([]core.Attribution, len(phi))
	for i, v := range phi {
		attrs[i] = core.Attribution{Feature: features[i], Value: v}
	}
	core.SortAttributions(attrs)
	if k < len(attrs) {
		attrs = attrs[:k]
	}
	return attrs
}

// GlobalImportance 返回训练时导出的全局重要性，不存在时为 nil
func GlobalImportance(b *artifact.Bundle) []core.Attribution {
	if b == nil {
		return nil
	}
	return b.Importance
}
