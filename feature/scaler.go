package feature

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// FeatureScaler 是按特征名保存的标准化参数（旧格式 scaler.json）
//
//	{"psqi_global": {"mean": 7.1, "std": 3.2}, ...}
type FeatureScaler map[string]ScalerParams

// ScalerParams 标准化参数
type ScalerParams struct {
	// Mean 均值
	Mean float64 `json:"mean"`
	// Std 标准差
	Std float64 `json:"std"`
}

// Scaler 是按特征列表顺序绑定的 Z-score 标准化器。
//
// 新格式 scaler.json：
//
//	{"features": ["a", "b"], "mean": [0.1, 2.0], "scale": [1.0, 0.5]}
//
// 公式：x' = (x - mean) / scale；scale 为 0 时按 1 处理（常数列）。
type Scaler struct {
	Features []string
	Mean     []float64
	Scale    []float64
}

type scalerFile struct {
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Scale    []float64 `json:"scale"`
}

// LoadScalerFromFile 从文件加载 scaler，并按 features 绑定列顺序。
func LoadScalerFromFile(path string, features []string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取 scaler 文件失败: %w", err)
	}
	return ParseScaler(data, features)
}

// ParseScaler 解析 scaler 内容，支持有序格式与旧的按名映射格式。
func ParseScaler(data []byte, features []string) (*Scaler, error) {
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("解析 scaler 失败: %w", err)
	}

	if _, ordered := shape["features"]; ordered {
		var raw scalerFile
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("解析 scaler 失败: %w", err)
		}
		if !slices.Equal(raw.Features, features) {
			return nil, fmt.Errorf("scaler: fitted on %d columns %v, bundle expects %d columns in feature-list order",
				len(raw.Features), raw.Features, len(features))
		}
		if len(raw.Mean) != len(features) || len(raw.Scale) != len(features) {
			return nil, fmt.Errorf("scaler: mean/scale length (%d/%d) does not match %d features",
				len(raw.Mean), len(raw.Scale), len(features))
		}
		return &Scaler{Features: slices.Clone(features), Mean: raw.Mean, Scale: raw.Scale}, nil
	}

	var legacy FeatureScaler
	if err := json.Unmarshal(data, &legacy); err != nil {
		return nil, fmt.Errorf("解析 scaler 失败: %w", err)
	}
	return legacy.Bind(features)
}

// Bind 把按名映射的参数绑定到特征顺序上，列集合必须与 features 完全一致。
func (s FeatureScaler) Bind(features []string) (*Scaler, error) {
	if len(s) != len(features) {
		return nil, fmt.Errorf("scaler: fitted on %d columns, bundle expects %d", len(s), len(features))
	}
	out := &Scaler{
		Features: slices.Clone(features),
		Mean:     make([]float64, len(features)),
		Scale:    make([]float64, len(features)),
	}
	for i, name := range features {
		p, ok := s[name]
		if !ok {
			return nil, fmt.Errorf("scaler: missing column %q", name)
		}
		out.Mean[i] = p.Mean
		out.Scale[i] = p.Std
	}
	return out, nil
}

// Transform 标准化向量，返回新向量
func (s *Scaler) Transform(x []float64) ([]float64, error) {
	if len(x) != len(s.Mean) {
		return nil, fmt.Errorf("scaler: expected %d columns, got %d", len(s.Mean), len(x))
	}
	out := make([]float64, len(x))
	for j, v := range x {
		scale := s.Scale[j]
		if scale == 0 {
			scale = 1
		}
		out[j] = (v - s.Mean[j]) / scale
	}
	return out, nil
}
