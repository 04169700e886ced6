package model

import (
	"fmt"
	"math"

	"github.com/rushteam/reminsight/core"
)

// 模型运行时能力接口。
//
// 设计原则：
//   - 加载时探测一次具体能力，记录为 RuntimeKind，热路径只做一次分支
//   - 只在能力结构性缺失时才降级，已选中的运行时在推理时报错直接返回，不会吞掉
//
// 实现：
//   - Booster（XGBoost JSON，概率型目标）实现 NativeBooster
//   - Logistic、ONNXModel 实现 ProbabilisticClassifier
//   - RawBooster（XGBoost 回归/标签型目标）只实现 RawPredictor

// DMatrix 是轻量的稠密行主序矩阵，NaN 表示缺失。
type DMatrix struct {
	Rows int
	Cols int
	Data []float64
}

// NewDMatrix 由二维切片构建矩阵，所有行必须等宽
func NewDMatrix(rows [][]float64) (*DMatrix, error) {
	m := &DMatrix{Rows: len(rows)}
	if len(rows) == 0 {
		return m, nil
	}
	m.Cols = len(rows[0])
	m.Data = make([]float64, 0, m.Rows*m.Cols)
	for i, r := range rows {
		if len(r) != m.Cols {
			return nil, fmt.Errorf("dmatrix: row %d has %d columns, expected %d", i, len(r), m.Cols)
		}
		m.Data = append(m.Data, r...)
	}
	return m, nil
}

// Row 返回第 i 行（共享底层数组）
func (m *DMatrix) Row(i int) []float64 {
	return m.Data[i*m.Cols : (i+1)*m.Cols]
}

// BoosterOutput 是原生 boosting 接口的输出。
// Width 为 1 时每行一个正类概率（二分类），否则每行 Width 个类别概率。
type BoosterOutput struct {
	Rows   int
	Width  int
	Values []float64
}

// NativeBooster 原生 boosting 接口：输入矩阵，输出概率数组
type NativeBooster interface {
	PredictMatrix(m *DMatrix) (*BoosterOutput, error)
}

// ProbabilisticClassifier 通用概率分类器接口：每行返回类别概率
type ProbabilisticClassifier interface {
	PredictProba(x [][]float64) ([][]float64, error)
}

// RawPredictor 兜底接口：每行返回一个原始输出（概率或类别标签）
type RawPredictor interface {
	Predict(x [][]float64) ([]float64, error)
}

// InputWidthReporter 由声明了输入宽度的模型实现，0 表示未知
type InputWidthReporter interface {
	NumFeatures() int
}

// Closer 由持有原生资源的运行时实现
type Closer interface {
	Close() error
}

// RuntimeKind 是加载时确定的运行时类型
type RuntimeKind int

const (
	RuntimeUnknown RuntimeKind = iota
	NativeBoosting
	GenericProbabilistic
	RawFallback
)

func (k RuntimeKind) String() string {
	switch k {
	case NativeBoosting:
		return "native_boosting"
	case GenericProbabilistic:
		return "generic_probabilistic"
	case RawFallback:
		return "raw_fallback"
	default:
		return "unknown"
	}
}

// Prediction 是单行的统一预测结果
type Prediction struct {
	// Class 预测类别下标
	Class int
	// Probabilities 长度为类别数；只有原始标签时为 nil
	Probabilities []float64
	// Raw 兜底运行时给出的原始输出
	Raw float64
}

// Binary 是否为二分类概率结果
func (p Prediction) Binary() bool { return len(p.Probabilities) == 2 }

// Confidence 返回预测类别的概率，没有概率时返回 false
func (p Prediction) Confidence() (float64, bool) {
	if p.Class < 0 || p.Class >= len(p.Probabilities) {
		return 0, false
	}
	return p.Probabilities[p.Class], true
}

// Adapter 把不同运行时归一化为 (类别概率, 预测类别)。
type Adapter struct {
	kind   RuntimeKind
	model  any
	native NativeBooster
	proba  ProbabilisticClassifier
	raw    RawPredictor
}

// NewAdapter 按 NativeBooster → ProbabilisticClassifier → RawPredictor 的顺序探测一次能力
func NewAdapter(m any) (*Adapter, error) {
	a := &Adapter{model: m}
	if nb, ok := m.(NativeBooster); ok {
		a.kind, a.native = NativeBoosting, nb
	} else if pc, ok := m.(ProbabilisticClassifier); ok {
		a.kind, a.proba = GenericProbabilistic, pc
	} else if rp, ok := m.(RawPredictor); ok {
		a.kind, a.raw = RawFallback, rp
	} else {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeCorruptArtifact,
			fmt.Sprintf("model type %T exposes no prediction capability", m))
	}
	return a, nil
}

// Kind 返回运行时类型
func (a *Adapter) Kind() RuntimeKind { return a.kind }

// Model 返回底层模型（解释引擎按能力取用）
func (a *Adapter) Model() any { return a.model }

// NumFeatures 返回模型声明的输入宽度，0 表示未知
func (a *Adapter) NumFeatures() int {
	if w, ok := a.model.(InputWidthReporter); ok {
		return w.NumFeatures()
	}
	return 0
}

// Close 释放运行时资源
func (a *Adapter) Close() error {
	if c, ok := a.model.(Closer); ok {
		return c.Close()
	}
	return nil
}

// Predict 批量预测，结果与输入行一一对应
func (a *Adapter) Predict(x [][]float64) ([]Prediction, error) {
	if len(x) == 0 {
		return nil, nil
	}
	switch a.kind {
	case NativeBoosting:
		return a.predictNative(x)
	case GenericProbabilistic:
		return a.predictProba(x)
	case RawFallback:
		return a.predictRaw(x)
	default:
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeInternalError, "adapter has no runtime")
	}
}

func (a *Adapter) predictNative(x [][]float64) ([]Prediction, error) {
	m, err := NewDMatrix(x)
	if err != nil {
		return nil, inferenceError(err)
	}
	out, err := a.native.PredictMatrix(m)
	if err != nil {
		return nil, inferenceError(err)
	}
	if out.Width <= 0 || out.Rows != len(x) || len(out.Values) != out.Rows*out.Width {
		return nil, inferenceError(fmt.Errorf("booster returned %d values for %d rows of width %d", len(out.Values), out.Rows, out.Width))
	}
	preds := make([]Prediction, out.Rows)
	for i := range preds {
		p, err := FromProbabilities(out.Values[i*out.Width : (i+1)*out.Width])
		if err != nil {
			return nil, inferenceError(err)
		}
		preds[i] = p
	}
	return preds, nil
}

func (a *Adapter) predictProba(x [][]float64) ([]Prediction, error) {
	probs, err := a.proba.PredictProba(x)
	if err != nil {
		return nil, inferenceError(err)
	}
	if len(probs) != len(x) {
		return nil, inferenceError(fmt.Errorf("classifier returned %d rows for %d inputs", len(probs), len(x)))
	}
	preds := make([]Prediction, len(probs))
	for i, row := range probs {
		p, err := FromProbabilities(row)
		if err != nil {
			return nil, inferenceError(err)
		}
		preds[i] = p
	}
	return preds, nil
}

func (a *Adapter) predictRaw(x [][]float64) ([]Prediction, error) {
	raw, err := a.raw.Predict(x)
	if err != nil {
		return nil, inferenceError(err)
	}
	if len(raw) != len(x) {
		return nil, inferenceError(fmt.Errorf("predictor returned %d values for %d inputs", len(raw), len(x)))
	}

	allProb := true
	for _, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, inferenceError(fmt.Errorf("predictor returned non-finite output %v", v))
		}
		if v < 0 || v > 1 {
			allProb = false
		}
	}

	preds := make([]Prediction, len(raw))
	for i, v := range raw {
		if allProb {
			p, err := FromProbabilities([]float64{v})
			if err != nil {
				return nil, inferenceError(err)
			}
			p.Raw = v
			preds[i] = p
			continue
		}
		// 原始输出本身就是类别标签，置信度未定义
		preds[i] = Prediction{Class: int(math.Round(v)), Raw: v}
	}
	return preds, nil
}

// ProbabilityTolerance 是概率越界与求和检查的容差，覆盖 float32 运行时的舍入误差
const ProbabilityTolerance = 1e-4

// FromProbabilities 把一行概率归一化为 Prediction。
// 每个值必须在 [0, 1] 内，多于一个值时总和必须为 1（容差 ProbabilityTolerance）。
//
//   - 长度 1：正类概率 p，返回 [1-p, p]，p >= 0.5 时类别为 1
//   - 长度 2：二分类，正类概率 >= 0.5 时类别为 1
//   - 长度 >2：多分类取最大概率，并列时取最小下标
func FromProbabilities(p []float64) (Prediction, error) {
	if len(p) == 0 {
		return Prediction{}, fmt.Errorf("empty probability vector")
	}
	sum := 0.0
	for _, v := range p {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Prediction{}, fmt.Errorf("non-finite probability %v", v)
		}
		if v < -ProbabilityTolerance || v > 1+ProbabilityTolerance {
			return Prediction{}, fmt.Errorf("probability %v outside [0, 1]", v)
		}
		sum += v
	}
	if len(p) > 1 && math.Abs(sum-1) > ProbabilityTolerance {
		return Prediction{}, fmt.Errorf("probabilities %v sum to %v, not 1", p, sum)
	}

	switch len(p) {
	case 1:
		pos := min(max(p[0], 0), 1)
		return Prediction{Class: threshold(pos), Probabilities: []float64{1 - pos, pos}}, nil
	case 2:
		return Prediction{Class: threshold(p[1]), Probabilities: append([]float64(nil), p...)}, nil
	default:
		best := 0
		for i := 1; i < len(p); i++ {
			if p[i] > p[best] {
				best = i
			}
		}
		return Prediction{Class: best, Probabilities: append([]float64(nil), p...)}, nil
	}
}

func threshold(pos float64) int {
	if pos >= 0.5 {
		return 1
	}
	return 0
}

func inferenceError(err error) error {
	return core.WrapDomainError(core.ModuleModel, core.ErrorCodeInternalError, err, "model inference failed")
}
