package model

import (
	"fmt"
	"math"
)

// Tree 是一棵回归树，节点以数组保存，0 为根节点。
// 叶子节点 Left[i] == -1，叶子值保存在 Value[i]。
type Tree struct {
	Left        []int
	Right       []int
	SplitIndex  []int
	SplitCond   []float64
	DefaultLeft []bool
	Value       []float64
	// Cover 训练时经过该节点的样本权重（hessian 和），TreeSHAP 使用
	Cover []float64
}

// IsLeaf 是否为叶子节点
func (t *Tree) IsLeaf(n int) bool { return t.Left[n] < 0 }

// Next 返回样本 x 在节点 n 上走向的子节点，NaN 或越界特征按默认方向
func (t *Tree) Next(n int, x []float64) int {
	f := t.SplitIndex[n]
	if f >= len(x) || math.IsNaN(x[f]) {
		if t.DefaultLeft[n] {
			return t.Left[n]
		}
		return t.Right[n]
	}
	if x[f] < t.SplitCond[n] {
		return t.Left[n]
	}
	return t.Right[n]
}

// Leaf 返回样本 x 落入的叶子节点下标
func (t *Tree) Leaf(x []float64) int {
	n := 0
	for !t.IsLeaf(n) {
		n = t.Next(n, x)
	}
	return n
}

// Predict 返回样本 x 的叶子值
func (t *Tree) Predict(x []float64) float64 {
	return t.Value[t.Leaf(x)]
}

// MaxDepth 返回树的最大深度（根节点深度为 0）
func (t *Tree) MaxDepth() int {
	var walk func(n, d int) int
	walk = func(n, d int) int {
		if t.IsLeaf(n) {
			return d
		}
		return max(walk(t.Left[n], d+1), walk(t.Right[n], d+1))
	}
	if len(t.Left) == 0 {
		return 0
	}
	return walk(0, 0)
}

// validate 检查节点数组一致性，防止损坏的模型在推理时越界
func (t *Tree) validate(numFeature int) error {
	n := len(t.Left)
	if n == 0 {
		return fmt.Errorf("tree has no nodes")
	}
	if len(t.Right) != n || len(t.SplitIndex) != n || len(t.SplitCond) != n ||
		len(t.DefaultLeft) != n || len(t.Value) != n || len(t.Cover) != n {
		return fmt.Errorf("tree node arrays have inconsistent lengths")
	}
	for i := 0; i < n; i++ {
		if t.Left[i] < 0 {
			continue
		}
		if t.Left[i] >= n || t.Right[i] < 0 || t.Right[i] >= n || t.Left[i] <= i || t.Right[i] <= i {
			return fmt.Errorf("node %d has invalid children (%d, %d)", i, t.Left[i], t.Right[i])
		}
		if t.SplitIndex[i] < 0 || (numFeature > 0 && t.SplitIndex[i] >= numFeature) {
			return fmt.Errorf("node %d splits on feature %d outside [0, %d)", i, t.SplitIndex[i], numFeature)
		}
	}
	return nil
}
