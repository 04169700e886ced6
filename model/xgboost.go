package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"
)

// XGBoost JSON 模型（Booster.save_model("model.json")）的原生推理实现。
//
// 支持：
//   - gbtree / dart 两种 booster
//   - 数值型切分，NaN 按 default_left 走向
//   - binary:logistic、multi:softprob 输出概率（NativeBooster）
//   - 其余目标（reg:*、binary:logitraw、binary:hinge、multi:softmax、count:poisson 等）
//     只给出原始输出（RawPredictor）

// ensemble 是 Booster 与 RawBooster 共享的树集合
type ensemble struct {
	objective  string
	trees      []*Tree
	treeGroup  []int
	treeWeight []float64
	numGroup   int
	numFeature int
	baseMargin []float64
	names      []string
}

// Booster 概率型目标的 XGBoost 模型，实现 NativeBooster
type Booster struct {
	*ensemble
}

// RawBooster 非概率型目标的 XGBoost 模型，实现 RawPredictor
type RawBooster struct {
	*ensemble
}

// TreeEnsemble 暴露树结构，供 TreeSHAP 使用
type TreeEnsemble interface {
	Trees() []*Tree
	// TreeGroups 每棵树所属的输出组（多分类时为类别）
	TreeGroups() []int
	// TreeWeights 每棵树的输出权重（dart 的 weight_drop，gbtree 全为 1）
	TreeWeights() []float64
	// BaseMargin 输出组的初始 margin
	BaseMargin(group int) float64
	NumGroups() int
	Objective() string
}

func (e *ensemble) Trees() []*Tree         { return e.trees }
func (e *ensemble) TreeGroups() []int      { return e.treeGroup }
func (e *ensemble) TreeWeights() []float64 { return e.treeWeight }
func (e *ensemble) NumGroups() int         { return e.numGroup }
func (e *ensemble) NumFeatures() int       { return e.numFeature }
func (e *ensemble) Objective() string      { return e.objective }
func (e *ensemble) FeatureNames() []string { return e.names }

func (e *ensemble) BaseMargin(group int) float64 {
	if group < 0 || group >= len(e.baseMargin) {
		return 0
	}
	return e.baseMargin[group]
}

// Margins 返回每个输出组的原始 margin
func (e *ensemble) Margins(x []float64) []float64 {
	out := slices.Clone(e.baseMargin)
	for i, t := range e.trees {
		out[e.treeGroup[i]] += e.treeWeight[i] * t.Predict(x)
	}
	return out
}

// PredictMatrix 实现 NativeBooster
func (b *Booster) PredictMatrix(m *DMatrix) (*BoosterOutput, error) {
	if m.Cols != b.numFeature {
		return nil, fmt.Errorf("xgboost: expected %d features, got %d", b.numFeature, m.Cols)
	}
	width := b.numGroup
	if b.objective == "binary:logistic" {
		width = 1
	}
	out := &BoosterOutput{Rows: m.Rows, Width: width, Values: make([]float64, 0, m.Rows*width)}
	for i := 0; i < m.Rows; i++ {
		margins := b.Margins(m.Row(i))
		switch b.objective {
		case "binary:logistic":
			out.Values = append(out.Values, sigmoid(margins[0]))
		default:
			out.Values = append(out.Values, softmax(margins)...)
		}
	}
	return out, nil
}

// Predict 实现 RawPredictor，输出与 xgboost Booster.predict 一致
func (b *RawBooster) Predict(x [][]float64) ([]float64, error) {
	out := make([]float64, len(x))
	for i, row := range x {
		if len(row) != b.numFeature {
			return nil, fmt.Errorf("xgboost: expected %d features, got %d", b.numFeature, len(row))
		}
		margins := b.Margins(row)
		out[i] = b.transform(margins)
	}
	return out, nil
}

func (b *RawBooster) transform(margins []float64) float64 {
	switch b.objective {
	case "reg:logistic":
		return sigmoid(margins[0])
	case "binary:hinge":
		if margins[0] > 0 {
			return 1
		}
		return 0
	case "count:poisson", "reg:gamma", "reg:tweedie":
		return math.Exp(margins[0])
	case "multi:softmax":
		best := 0
		for i := 1; i < len(margins); i++ {
			if margins[i] > margins[best] {
				best = i
			}
		}
		return float64(best)
	default:
		return margins[0]
	}
}

var probabilisticObjectives = map[string]bool{
	"binary:logistic": true,
	"multi:softprob":  true,
}

var rawObjectives = map[string]bool{
	"reg:squarederror":     true,
	"reg:squaredlogerror":  true,
	"reg:pseudohubererror": true,
	"reg:absoluteerror":    true,
	"reg:logistic":         true,
	"reg:gamma":            true,
	"reg:tweedie":          true,
	"count:poisson":        true,
	"binary:logitraw":      true,
	"binary:hinge":         true,
	"multi:softmax":        true,
	"rank:pairwise":        true,
	"rank:ndcg":            true,
	"rank:map":             true,
}

// LoadXGBoost 从 JSON 文件加载 XGBoost 模型，返回 *Booster 或 *RawBooster
func LoadXGBoost(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 xgboost 模型失败: %w", err)
	}
	return ParseXGBoost(data)
}

// ParseXGBoost 解析 XGBoost JSON 模型内容
func ParseXGBoost(data []byte) (any, error) {
	var file xgbModelFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("解析 xgboost 模型失败: %w", err)
	}
	l := file.Learner
	objective := l.Objective.Name
	if !probabilisticObjectives[objective] && !rawObjectives[objective] {
		return nil, fmt.Errorf("xgboost: unsupported objective %q", objective)
	}

	var gb xgbGradientBooster
	if err := json.Unmarshal(l.GradientBooster, &gb); err != nil {
		return nil, fmt.Errorf("xgboost: invalid gradient_booster: %w", err)
	}
	var treeModel xgbGBTreeModel
	var weights []float64
	switch gb.Name {
	case "gbtree":
		treeModel = gb.Model
	case "dart":
		treeModel = gb.GBTree.Model
		weights = gb.WeightDrop
	default:
		return nil, fmt.Errorf("xgboost: unsupported booster %q", gb.Name)
	}

	numFeature, err := parseIntParam(l.Param.NumFeature)
	if err != nil || numFeature <= 0 {
		return nil, fmt.Errorf("xgboost: invalid num_feature %q", l.Param.NumFeature)
	}
	numClass, _ := parseIntParam(l.Param.NumClass)
	numGroup := 1
	if strings.HasPrefix(objective, "multi:") {
		if numClass < 2 {
			return nil, fmt.Errorf("xgboost: %s requires num_class >= 2, got %d", objective, numClass)
		}
		numGroup = numClass
	}

	base, err := parseBaseScore(l.Param.BaseScore)
	if err != nil {
		return nil, err
	}
	e := &ensemble{
		objective:  objective,
		numGroup:   numGroup,
		numFeature: numFeature,
		baseMargin: make([]float64, numGroup),
		names:      l.FeatureNames,
	}
	for g := range e.baseMargin {
		v := base[0]
		if len(base) == numGroup {
			v = base[g]
		}
		e.baseMargin[g] = probToMargin(objective, v)
	}

	if len(treeModel.TreeInfo) != len(treeModel.Trees) {
		return nil, fmt.Errorf("xgboost: tree_info has %d entries for %d trees", len(treeModel.TreeInfo), len(treeModel.Trees))
	}
	if weights != nil && len(weights) != len(treeModel.Trees) {
		return nil, fmt.Errorf("xgboost: weight_drop has %d entries for %d trees", len(weights), len(treeModel.Trees))
	}
	for i, raw := range treeModel.Trees {
		t, err := raw.toTree()
		if err != nil {
			return nil, fmt.Errorf("xgboost: tree %d: %w", i, err)
		}
		if err := t.validate(numFeature); err != nil {
			return nil, fmt.Errorf("xgboost: tree %d: %w", i, err)
		}
		group := treeModel.TreeInfo[i]
		if group < 0 || group >= numGroup {
			return nil, fmt.Errorf("xgboost: tree %d belongs to group %d outside [0, %d)", i, group, numGroup)
		}
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		e.trees = append(e.trees, t)
		e.treeGroup = append(e.treeGroup, group)
		e.treeWeight = append(e.treeWeight, w)
	}

	if probabilisticObjectives[objective] {
		return &Booster{ensemble: e}, nil
	}
	return &RawBooster{ensemble: e}, nil
}

// probToMargin 把 base_score 从输出空间转换到 margin 空间
func probToMargin(objective string, v float64) float64 {
	switch objective {
	case "binary:logistic", "binary:logitraw", "reg:logistic":
		if v <= 0 || v >= 1 {
			return 0
		}
		return -math.Log(1/v - 1)
	case "count:poisson", "reg:gamma", "reg:tweedie":
		if v <= 0 {
			return 0
		}
		return math.Log(v)
	default:
		return v
	}
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

func softmax(z []float64) []float64 {
	out := make([]float64, len(z))
	m := z[0]
	for _, v := range z[1:] {
		m = max(m, v)
	}
	sum := 0.0
	for i, v := range z {
		out[i] = math.Exp(v - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// JSON 结构

type xgbModelFile struct {
	Learner struct {
		FeatureNames    []string        `json:"feature_names"`
		GradientBooster json.RawMessage `json:"gradient_booster"`
		Param           struct {
			BaseScore  string `json:"base_score"`
			NumClass   string `json:"num_class"`
			NumFeature string `json:"num_feature"`
		} `json:"learner_model_param"`
		Objective struct {
			Name string `json:"name"`
		} `json:"objective"`
	} `json:"learner"`
	Version []int `json:"version"`
}

type xgbGradientBooster struct {
	Name   string         `json:"name"`
	Model  xgbGBTreeModel `json:"model"`
	GBTree struct {
		Model xgbGBTreeModel `json:"model"`
	} `json:"gbtree"`
	WeightDrop []float64 `json:"weight_drop"`
}

type xgbGBTreeModel struct {
	Trees    []xgbTree `json:"trees"`
	TreeInfo []int     `json:"tree_info"`
}

type xgbTree struct {
	LeftChildren    []int     `json:"left_children"`
	RightChildren   []int     `json:"right_children"`
	SplitIndices    []int     `json:"split_indices"`
	SplitConditions []float64 `json:"split_conditions"`
	DefaultLeft     flexBools `json:"default_left"`
	SumHessian      []float64 `json:"sum_hessian"`
	SplitType       []int     `json:"split_type"`
}

func (x xgbTree) toTree() (*Tree, error) {
	for i, st := range x.SplitType {
		if st != 0 && i < len(x.LeftChildren) && x.LeftChildren[i] >= 0 {
			return nil, fmt.Errorf("categorical split at node %d is not supported", i)
		}
	}
	return &Tree{
		Left:        x.LeftChildren,
		Right:       x.RightChildren,
		SplitIndex:  x.SplitIndices,
		SplitCond:   x.SplitConditions,
		DefaultLeft: x.DefaultLeft,
		Value:       x.SplitConditions,
		Cover:       x.SumHessian,
	}, nil
}

// flexBools 兼容 default_left 的 [0,1] 与 [false,true] 两种写法
type flexBools []bool

func (f *flexBools) UnmarshalJSON(data []byte) error {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make([]bool, len(raw))
	for i, v := range raw {
		switch b := v.(type) {
		case bool:
			out[i] = b
		case float64:
			out[i] = b != 0
		default:
			return fmt.Errorf("default_left[%d]: unexpected %T", i, v)
		}
	}
	*f = out
	return nil
}

func parseIntParam(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// parseBaseScore 兼容 "5E-1" 与 "[5E-1,...]" 两种写法
func parseBaseScore(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return []float64{0.5}, nil
	}
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	parts := strings.Split(s, ",")
	out := make([]float64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("xgboost: invalid base_score %q", s)
		}
		out = append(out, v)
	}
	return out, nil
}
