package explain

import (
	"fmt"

	"github.com/rushteam/reminsight/model"
)

// 路径依赖 TreeSHAP（Lundberg et al. 2018, Algorithm 2）。
// 结果位于 margin 空间，满足 base + sum(phi) == margin。

type pathElem struct {
	feature int
	zero    float64 // 该特征未知时经过此路径的比例（cover 加权）
	one     float64 // 该特征已知时是否经过此路径（0 或 1）
	weight  float64
}

// treeSHAP 计算 group 输出组的归因，返回 phi 与 base value
func treeSHAP(e model.TreeEnsemble, x []float64, group int) ([]float64, float64, error) {
	phi := make([]float64, len(x))
	base := e.BaseMargin(group)
	groups := e.TreeGroups()
	weights := e.TreeWeights()
	for i, t := range e.Trees() {
		if groups[i] != group {
			continue
		}
		if err := checkCover(t); err != nil {
			return nil, 0, fmt.Errorf("tree %d: %w", i, err)
		}
		w := weights[i]
		base += w * expectedValue(t, 0)
		depth := t.MaxDepth()
		s := &shapState{tree: t, x: x, phi: phi, scale: w}
		s.recurse(0, make([]pathElem, 0, depth+2), 1, 1, -1)
	}
	return phi, base, nil
}

func checkCover(t *model.Tree) error {
	for n := range t.Left {
		if !t.IsLeaf(n) && t.Cover[n] <= 0 {
			return fmt.Errorf("node %d has no cover, model was saved without sum_hessian", n)
		}
	}
	return nil
}

// expectedValue 是以 cover 为权重的叶子值期望
func expectedValue(t *model.Tree, n int) float64 {
	if t.IsLeaf(n) {
		return t.Value[n]
	}
	l, r := t.Left[n], t.Right[n]
	return (t.Cover[l]*expectedValue(t, l) + t.Cover[r]*expectedValue(t, r)) / t.Cover[n]
}

type shapState struct {
	tree  *model.Tree
	x     []float64
	phi   []float64
	scale float64
}

func (s *shapState) recurse(n int, parent []pathElem, zero, one float64, feature int) {
	t := s.tree
	path := extendPath(parent, zero, one, feature)

	if t.IsLeaf(n) {
		for i := 1; i < len(path); i++ {
			w := unwoundPathSum(path, i)
			s.phi[path[i].feature] += w * (path[i].one - path[i].zero) * t.Value[n] * s.scale
		}
		return
	}

	hot := t.Next(n, s.x)
	cold := t.Left[n]
	if hot == cold {
		cold = t.Right[n]
	}
	split := t.SplitIndex[n]

	incomingZero, incomingOne := 1.0, 1.0
	for k := 1; k < len(path); k++ {
		if path[k].feature == split {
			incomingZero, incomingOne = path[k].zero, path[k].one
			path = unwindPath(path, k)
			break
		}
	}

	cover := t.Cover[n]
	s.recurse(hot, path, incomingZero*t.Cover[hot]/cover, incomingOne, split)
	s.recurse(cold, path, incomingZero*t.Cover[cold]/cover, 0, split)
}

// extendPath 返回追加了一个元素的新路径，不修改 parent
func extendPath(parent []pathElem, zero, one float64, feature int) []pathElem {
	l := len(parent)
	path := make([]pathElem, l+1, l+2)
	copy(path, parent)
	path[l] = pathElem{feature: feature, zero: zero, one: one}
	if l == 0 {
		path[l].weight = 1
	}
	for i := l - 1; i >= 0; i-- {
		path[i+1].weight += one * path[i].weight * float64(i+1) / float64(l+1)
		path[i].weight = zero * path[i].weight * float64(l-i) / float64(l+1)
	}
	return path
}

// unwindPath 撤销第 i 个元素的扩展，原地修改并返回缩短后的路径
func unwindPath(path []pathElem, i int) []pathElem {
	l := len(path) - 1
	one, zero := path[i].one, path[i].zero
	next := path[l].weight
	for j := l - 1; j >= 0; j-- {
		if one != 0 {
			tmp := path[j].weight
			path[j].weight = next * float64(l+1) / (float64(j+1) * one)
			next = tmp - path[j].weight*zero*float64(l-j)/float64(l+1)
		} else {
			path[j].weight = path[j].weight * float64(l+1) / (zero * float64(l-j))
		}
	}
	for j := i; j < l; j++ {
		path[j].feature = path[j+1].feature
		path[j].zero = path[j+1].zero
		path[j].one = path[j+1].one
	}
	return path[:l]
}

// unwoundPathSum 返回撤销第 i 个元素后的权重和，不修改路径
func unwoundPathSum(path []pathElem, i int) float64 {
	l := len(path) - 1
	one, zero := path[i].one, path[i].zero
	next := path[l].weight
	total := 0.0
	for j := l - 1; j >= 0; j-- {
		if one != 0 {
			tmp := next * float64(l+1) / (float64(j+1) * one)
			total += tmp
			next = path[j].weight - tmp*zero*float64(l-j)/float64(l+1)
		} else if zero != 0 {
			total += path[j].weight / zero / (float64(l-j) / float64(l+1))
		}
	}
	return total
}
