package artifact

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rushteam/reminsight/core"
)

// Provenance 训练溯源信息，只用于展示，不参与推理
type Provenance struct {
	ModelVersion    string          `json:"model_version,omitempty"`
	TrainedOn       string          `json:"trained_on,omitempty"`
	Dataset         map[string]any  `json:"dataset,omitempty"`
	Hyperparameters map[string]any  `json:"hyperparameters,omitempty"`
	Metrics         json.RawMessage `json:"metrics,omitempty"`
	Config          map[string]any  `json:"config,omitempty"`
	DatasetSize     int             `json:"dataset_size,omitempty"`
	CreatedAt       string          `json:"created_at,omitempty"`
}

// LoadProvenance 读取溯源文件
func LoadProvenance(path string) (*Provenance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p Provenance
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("解析溯源文件失败: %w", err)
	}
	return &p, nil
}

// LoadImportance 读取全局 SHAP 重要性，兼容 [[name, value], ...] 与 {"name": value} 两种格式。
// 结果按重要性降序排列。
func LoadImportance(path string) ([]core.Attribution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pairs []core.Attribution
	if err := json.Unmarshal(data, &pairs); err == nil {
		core.SortAttributions(pairs)
		return pairs, nil
	}
	var byName map[string]float64
	if err := json.Unmarshal(data, &byName); err != nil {
		return nil, fmt.Errorf("解析全局重要性失败: %w", err)
	}
	pairs = make([]core.Attribution, 0, len(byName))
	for name, v := range byName {
		pairs = append(pairs, core.Attribution{Feature: name, Value: v})
	}
	core.SortAttributions(pairs)
	return pairs, nil
}
