package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// Logistic 实现了逻辑回归分类器（sklearn LogisticRegression 导出的参数）。
//
// 预测原理：
//  1. 线性加权求和: z_k = Intercept_k + sum(Coef_kj * x_j)
//  2. 二分类（Coef 只有一行）: P(1) = 1 / (1 + exp(-z_0))
//  3. 多分类（Coef 有 K 行）: softmax(z)
//
// 文件格式 model_lr.json：
//
//	{"classes": [0, 1], "coef": [[0.3, -1.2]], "intercept": [0.1]}
type Logistic struct {
	Classes   []int
	Coef      [][]float64
	Intercept []float64
}

// LoadLogistic 从 JSON 文件加载逻辑回归模型
func LoadLogistic(path string) (*Logistic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取逻辑回归模型失败: %w", err)
	}
	var raw struct {
		Classes   []int       `json:"classes"`
		Coef      [][]float64 `json:"coef"`
		Intercept []float64   `json:"intercept"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析逻辑回归模型失败: %w", err)
	}
	m := &Logistic{Classes: raw.Classes, Coef: raw.Coef, Intercept: raw.Intercept}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Logistic) validate() error {
	if len(m.Coef) == 0 || len(m.Coef[0]) == 0 {
		return fmt.Errorf("logistic: coef is empty")
	}
	width := len(m.Coef[0])
	for i, row := range m.Coef {
		if len(row) != width {
			return fmt.Errorf("logistic: coef row %d has %d columns, expected %d", i, len(row), width)
		}
	}
	if len(m.Intercept) != len(m.Coef) {
		return fmt.Errorf("logistic: %d intercepts for %d coef rows", len(m.Intercept), len(m.Coef))
	}
	classes := m.NumClasses()
	if len(m.Classes) != 0 && len(m.Classes) != classes {
		return fmt.Errorf("logistic: %d classes for %d coef rows", len(m.Classes), len(m.Coef))
	}
	return nil
}

func (m *Logistic) Name() string { return "logistic" }

// NumFeatures 实现 InputWidthReporter
func (m *Logistic) NumFeatures() int { return len(m.Coef[0]) }

// NumClasses 类别数：一行系数为二分类
func (m *Logistic) NumClasses() int {
	if len(m.Coef) == 1 {
		return 2
	}
	return len(m.Coef)
}

// Logits 返回每行系数对应的线性得分
func (m *Logistic) Logits(x []float64) []float64 {
	out := make([]float64, len(m.Coef))
	for k, row := range m.Coef {
		z := m.Intercept[k]
		for j, w := range row {
			z += w * x[j]
		}
		out[k] = z
	}
	return out
}

// PredictProba 实现 ProbabilisticClassifier
func (m *Logistic) PredictProba(x [][]float64) ([][]float64, error) {
	width := m.NumFeatures()
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != width {
			return nil, fmt.Errorf("logistic: expected %d features, got %d", width, len(row))
		}
		for _, v := range row {
			if math.IsNaN(v) {
				return nil, fmt.Errorf("logistic: input contains NaN, an imputer is required")
			}
		}
		z := m.Logits(row)
		if len(z) == 1 {
			p := sigmoid(z[0])
			out[i] = []float64{1 - p, p}
		} else {
			out[i] = softmax(z)
		}
	}
	return out, nil
}
