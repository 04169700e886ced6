package explain

import (
	"math"
	"math/bits"
	"testing"

	"github.com/rushteam/reminsight/artifact"
	"github.com/rushteam/reminsight/core"
	"github.com/rushteam/reminsight/feature"
	"github.com/rushteam/reminsight/model"
	"github.com/rushteam/reminsight/pkg/logger"
)

type stubEnsemble struct {
	trees   []*model.Tree
	groups  []int
	weights []float64
	base    float64
}

func (s *stubEnsemble) Trees() []*model.Tree        { return s.trees }
func (s *stubEnsemble) TreeGroups() []int           { return s.groups }
func (s *stubEnsemble) TreeWeights() []float64      { return s.weights }
func (s *stubEnsemble) BaseMargin(group int) float64 { return s.base }
func (s *stubEnsemble) NumGroups() int              { return 1 }
func (s *stubEnsemble) Objective() string           { return "reg:squarederror" }

func testEnsemble() *stubEnsemble {
	t1 := &model.Tree{
		Left:        []int{1, 3, 5, -1, -1, -1, -1},
		Right:       []int{2, 4, 6, -1, -1, -1, -1},
		SplitIndex:  []int{0, 1, 2, 0, 0, 0, 0},
		SplitCond:   []float64{0.5, 0.5, 0.5, 0, 0, 0, 0},
		DefaultLeft: []bool{true, false, true, false, false, false, false},
		Value:       []float64{0, 0, 0, 1, 3, 5, -1},
		Cover:       []float64{10, 6, 4, 2, 4, 3, 1},
	}
	// 同一路径上重复使用特征 1
	t2 := &model.Tree{
		Left:        []int{1, 3, -1, -1, -1},
		Right:       []int{2, 4, -1, -1, -1},
		SplitIndex:  []int{1, 1, 0, 0, 0},
		SplitCond:   []float64{0.5, 0.2, 0, 0, 0},
		DefaultLeft: []bool{true, true, false, false, false},
		Value:       []float64{0, 0, 0.5, 2, -2},
		Cover:       []float64{10, 5, 5, 2, 3},
	}
	return &stubEnsemble{
		trees:   []*model.Tree{t1, t2},
		groups:  []int{0, 0},
		weights: []float64{1, 0.5},
		base:    0.25,
	}
}

// conditional 是已知特征集合 known 下的路径依赖期望
func conditional(t *model.Tree, n int, x []float64, known uint) float64 {
	if t.IsLeaf(n) {
		return t.Value[n]
	}
	if known&(1<<uint(t.SplitIndex[n])) != 0 {
		return conditional(t, t.Next(n, x), x, known)
	}
	l, r := t.Left[n], t.Right[n]
	return (t.Cover[l]*conditional(t, l, x, known) + t.Cover[r]*conditional(t, r, x, known)) / t.Cover[n]
}

// bruteForceShapley 枚举所有子集计算精确 Shapley 值
func bruteForceShapley(e *stubEnsemble, x []float64) []float64 {
	n := len(x)
	value := func(known uint) float64 {
		v := e.base
		for i, t := range e.trees {
			v += e.weights[i] * conditional(t, 0, x, known)
		}
		return v
	}
	fact := func(k int) float64 {
		f := 1.0
		for i := 2; i <= k; i++ {
			f *= float64(i)
		}
		return f
	}
	phi := make([]float64, n)
	for i := 0; i < n; i++ {
		for s := uint(0); s < 1<<uint(n); s++ {
			if s&(1<<uint(i)) != 0 {
				continue
			}
			size := bits.OnesCount(s)
			w := fact(size) * fact(n-size-1) / fact(n)
			phi[i] += w * (value(s|1<<uint(i)) - value(s))
		}
	}
	return phi
}

func TestTreeSHAP_MatchesExactShapley(t *testing.T) {
	e := testEnsemble()
	inputs := [][]float64{
		{0.2, 0.1, 0.7},
		{0.9, 0.3, 0.1},
		{0.9, 0.9, 0.9},
		{math.NaN(), 0.1, math.NaN()},
	}
	for _, x := range inputs {
		phi, base, err := treeSHAP(e, x, 0)
		if err != nil {
			t.Fatal(err)
		}
		want := bruteForceShapley(e, x)
		for j := range want {
			if math.Abs(phi[j]-want[j]) > 1e-9 {
				t.Errorf("x=%v phi[%d] = %v, want %v", x, j, phi[j], want[j])
			}
		}

		margin := e.base
		for i, tr := range e.trees {
			margin += e.weights[i] * tr.Predict(x)
		}
		sum := base
		for _, v := range phi {
			sum += v
		}
		if math.Abs(sum-margin) > 1e-9 {
			t.Errorf("x=%v local accuracy: base+sum = %v, margin = %v", x, sum, margin)
		}
	}
}

func TestTreeSHAP_MissingCover(t *testing.T) {
	e := testEnsemble()
	e.trees[0].Cover = make([]float64, 7)
	if _, _, err := treeSHAP(e, []float64{0, 0, 0}, 0); err == nil {
		t.Error("expected error for zero cover")
	}
}

const binaryXGB = `{
  "learner": {
    "learner_model_param": {"base_score": "5E-1", "num_class": "0", "num_feature": "2"},
    "objective": {"name": "binary:logistic"},
    "gradient_booster": {"name": "gbtree", "model": {"tree_info": [0], "trees": [{
      "left_children": [1, -1, -1], "right_children": [2, -1, -1],
      "split_indices": [0, 0, 0], "split_conditions": [0.5, -1.0, 1.0],
      "default_left": [1, 0, 0], "sum_hessian": [10, 4, 6]
    }]}}
  }
}`

func bundleFor(t *testing.T, m any, features []string) *artifact.Bundle {
	t.Helper()
	a, err := model.NewAdapter(m)
	if err != nil {
		t.Fatal(err)
	}
	return &artifact.Bundle{Version: "v1", Features: features, Model: a}
}

func newTestEngine(opts ...Option) *Engine {
	return NewEngine(append([]Option{WithLogger(logger.Nop())}, opts...)...)
}

func TestEngine_TreeBooster(t *testing.T) {
	m, err := model.ParseXGBoost([]byte(binaryXGB))
	if err != nil {
		t.Fatal(err)
	}
	b := bundleFor(t, m, []string{"a", "b"})
	x := []float64{1, 0}
	preds, err := b.Model.Predict([][]float64{x})
	if err != nil {
		t.Fatal(err)
	}

	exp := newTestEngine().Explain(b, x, preds[0], 0)
	if exp.Error != "" {
		t.Fatalf("explanation error %s", exp.Error)
	}
	if exp.Method != MethodTreeSHAP || exp.Class != 1 || exp.Space != SpaceMargin {
		t.Errorf("explanation = %+v", exp)
	}
	if exp.Top[0].Feature != "a" || exp.Top[1].Value != 0 {
		t.Errorf("top = %v", exp.Top)
	}
	// base + sum == logit(p)
	p := preds[0].Probabilities[1]
	sum := exp.BaseValue
	for _, a := range exp.Top {
		sum += a.Value
	}
	if math.Abs(sum-math.Log(p/(1-p))) > 1e-9 {
		t.Errorf("base+sum = %v, logit = %v", sum, math.Log(p/(1-p)))
	}
}

func TestEngine_Linear(t *testing.T) {
	lr := &model.Logistic{Coef: [][]float64{{2, -1, 0.5}}, Intercept: []float64{0.1}}
	b := bundleFor(t, lr, []string{"a", "b", "c"})
	b.Imputer = &feature.Imputer{Strategy: "median", Features: b.Features, Statistics: []float64{1, 1, 1}}

	x := []float64{2, 3, 1}
	preds, _ := b.Model.Predict([][]float64{x})
	exp := newTestEngine(WithTopK(2)).Explain(b, x, preds[0], 0)
	if exp.Method != MethodLinear {
		t.Fatalf("method = %s (%s)", exp.Method, exp.Error)
	}
	// phi = [2*(2-1), -1*(3-1), 0] => |a| == |b|，按特征顺序
	if len(exp.Top) != 2 || exp.Top[0].Feature != "a" || exp.Top[0].Value != 2 || exp.Top[1].Value != -2 {
		t.Errorf("top = %v", exp.Top)
	}
	if math.Abs(exp.BaseValue-(0.1+2-1+0.5)) > 1e-12 {
		t.Errorf("base = %v", exp.BaseValue)
	}

	// 有 scaler 时参照点为 0
	b.Scaler = &feature.Scaler{Features: b.Features, Mean: []float64{0, 0, 0}, Scale: []float64{1, 1, 1}}
	exp = newTestEngine().Explain(b, x, preds[0], 1)
	if len(exp.Top) != 1 || exp.Top[0].Value != 4 {
		t.Errorf("scaled top = %v", exp.Top)
	}
}

type additiveClassifier struct {
	w []float64
}

func (c *additiveClassifier) PredictProba(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		p := 0.1
		for j, v := range row {
			p += c.w[j] * v
		}
		out[i] = []float64{1 - p, p}
	}
	return out, nil
}

func TestEngine_SamplingAdditive(t *testing.T) {
	b := bundleFor(t, &additiveClassifier{w: []float64{0.1, 0.3, -0.05}}, []string{"a", "b", "c"})
	x := []float64{1, 1, 1}
	preds, _ := b.Model.Predict([][]float64{x})
	exp := newTestEngine(WithSamples(16), WithSeed(7)).Explain(b, x, preds[0], 3)
	if exp.Method != MethodSampling || exp.Space != SpaceProbability {
		t.Fatalf("explanation = %+v", exp)
	}
	want := map[string]float64{"b": 0.3, "a": 0.1, "c": -0.05}
	if exp.Top[0].Feature != "b" || exp.Top[1].Feature != "a" || exp.Top[2].Feature != "c" {
		t.Errorf("order = %v", exp.Top)
	}
	for _, a := range exp.Top {
		if math.Abs(a.Value-want[a.Feature]) > 1e-9 {
			t.Errorf("%s = %v, want %v", a.Feature, a.Value, want[a.Feature])
		}
	}
	if math.Abs(exp.BaseValue-0.1) > 1e-12 {
		t.Errorf("base = %v", exp.BaseValue)
	}

	if exp := newTestEngine(WithSamples(0)).Explain(b, x, preds[0], 3); exp.Error != core.ExplainErrorUnavailable {
		t.Errorf("without samples error = %q", exp.Error)
	}
}

type panickyClassifier struct{ calls int }

func (c *panickyClassifier) PredictProba(x [][]float64) ([][]float64, error) {
	c.calls++
	if c.calls > 1 {
		panic("native runtime crashed")
	}
	return [][]float64{{0.4, 0.6}}, nil
}

func TestEngine_SoftFailures(t *testing.T) {
	b := bundleFor(t, &panickyClassifier{}, []string{"a"})
	preds, err := b.Model.Predict([][]float64{{1}})
	if err != nil {
		t.Fatal(err)
	}
	if exp := newTestEngine().Explain(b, []float64{1}, preds[0], 1); exp.Error != core.ExplainErrorFailed {
		t.Errorf("panic error = %q", exp.Error)
	}
	if exp := newTestEngine(WithEnabled(false)).Explain(b, []float64{1}, preds[0], 1); exp.Error != core.ExplainErrorDisabled {
		t.Errorf("disabled error = %q", exp.Error)
	}
	if exp := newTestEngine().Explain(b, []float64{1, 2}, preds[0], 1); exp.Error != core.ExplainErrorFailed {
		t.Errorf("width mismatch error = %q", exp.Error)
	}
	if exp := newTestEngine().Explain(nil, nil, model.Prediction{}, 1); exp.Error != core.ExplainErrorUnavailable {
		t.Errorf("nil bundle error = %q", exp.Error)
	}
}

func TestTopK(t *testing.T) {
	top := TopK([]string{"a", "b", "c", "d"}, []float64{0.1, -0.5, 0.5, 0}, 3)
	want := []string{"b", "c", "a"}
	for i, a := range top {
		if a.Feature != want[i] {
			t.Errorf("top[%d] = %s, want %s", i, a.Feature, want[i])
		}
	}
	if got := TopK([]string{"a"}, []float64{1}, 5); len(got) != 1 {
		t.Errorf("k larger than features: %v", got)
	}
}
