package feature

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"slices"
)

// Imputer 是训练阶段拟合好的缺失值填充器，对应 imputer.json。
//
// 文件格式（statistics 为数组时与 features 一一对应，也可以是 name -> value 的对象）：
//
//	{"strategy": "median", "features": ["a", "b"], "statistics": [1.0, 2.5]}
type Imputer struct {
	Strategy   string
	Features   []string
	Statistics []float64
}

type imputerFile struct {
	Strategy   string          `json:"strategy"`
	Features   []string        `json:"features"`
	Statistics json.RawMessage `json:"statistics"`
}

// LoadImputerFromFile 从文件加载 imputer，并按 features 绑定列顺序。
func LoadImputerFromFile(path string, features []string) (*Imputer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 imputer 文件失败: %w", err)
	}
	return ParseImputer(data, features)
}

// ParseImputer 解析 imputer 内容，列集合必须与 features 完全一致且顺序相同。
func ParseImputer(data []byte, features []string) (*Imputer, error) {
	var raw imputerFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("解析 imputer 失败: %w", err)
	}
	if len(raw.Statistics) == 0 {
		return nil, fmt.Errorf("imputer: statistics is required")
	}

	imp := &Imputer{Strategy: raw.Strategy}
	if imp.Strategy == "" {
		imp.Strategy = "median"
	}

	var byName map[string]float64
	if err := json.Unmarshal(raw.Statistics, &byName); err == nil {
		if raw.Features != nil && !slices.Equal(raw.Features, features) {
			return nil, fmt.Errorf("imputer: feature columns do not match the bundle feature list")
		}
		stats, err := bindByName(byName, features, "imputer")
		if err != nil {
			return nil, err
		}
		imp.Features = slices.Clone(features)
		imp.Statistics = stats
		return imp, nil
	}

	stats, err := decodeFloats(raw.Statistics)
	if err != nil {
		return nil, fmt.Errorf("imputer: statistics must be an array or an object: %w", err)
	}
	if !slices.Equal(raw.Features, features) {
		return nil, fmt.Errorf("imputer: fitted on %d columns %v, bundle expects %d columns in feature-list order",
			len(raw.Features), raw.Features, len(features))
	}
	if len(stats) != len(features) {
		return nil, fmt.Errorf("imputer: %d statistics for %d features", len(stats), len(features))
	}
	imp.Features = slices.Clone(features)
	imp.Statistics = stats
	return imp, nil
}

// Transform 用统计量替换 NaN，返回新向量
func (i *Imputer) Transform(x []float64) ([]float64, error) {
	if len(x) != len(i.Statistics) {
		return nil, fmt.Errorf("imputer: expected %d columns, got %d", len(i.Statistics), len(x))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		if math.IsNaN(v) {
			out[j] = i.Statistics[j]
		} else {
			out[j] = v
		}
	}
	return out, nil
}

// decodeFloats 解析数值数组，null 元素视为 NaN（训练时全缺失的列）
func decodeFloats(data json.RawMessage) ([]float64, error) {
	var raw []*float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		if v == nil {
			out[i] = math.NaN()
		} else {
			out[i] = *v
		}
	}
	return out, nil
}

func bindByName(m map[string]float64, features []string, stage string) ([]float64, error) {
	if len(m) != len(features) {
		return nil, fmt.Errorf("%s: fitted on %d columns, bundle expects %d", stage, len(m), len(features))
	}
	out := make([]float64, len(features))
	for i, name := range features {
		v, ok := m[name]
		if !ok {
			return nil, fmt.Errorf("%s: missing column %q", stage, name)
		}
		out[i] = v
	}
	return out, nil
}
