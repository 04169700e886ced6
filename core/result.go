package core

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// Coverage 描述一行输入相对于模型特征列表的覆盖情况。
type Coverage struct {
	Total   int      `json:"total"`
	Found   int      `json:"found"`
	Ratio   float64  `json:"ratio"`
	Missing []string `json:"missing"`
	Extra   []string `json:"extra"`
	// Invalid 是出现了但无法转为数值的字段，也计入 Missing
	Invalid []string `json:"invalid,omitempty"`
}

// Degraded 是否存在缺失字段
func (c Coverage) Degraded() bool { return len(c.Missing) > 0 }

// Attribution 是单个特征对一次预测的带符号贡献。
// JSON 编码为 [feature, value] 二元组。
type Attribution struct {
	Feature string
	Value   float64
}

func (a Attribution) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{a.Feature, a.Value})
}

func (a *Attribution) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("attribution: expected [feature, value], got %d elements", len(pair))
	}
	if err := json.Unmarshal(pair[0], &a.Feature); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &a.Value)
}

// SortAttributions 按 |Value| 降序稳定排序，相同时保持原有顺序
func SortAttributions(attrs []Attribution) {
	slices.SortStableFunc(attrs, func(a, b Attribution) int {
		return cmp.Compare(math.Abs(b.Value), math.Abs(a.Value))
	})
}

// 解释失败标记
const (
	ExplainErrorFailed      = "shap_failed"      // 计算过程失败
	ExplainErrorUnavailable = "shap_unavailable" // 当前模型没有可用的归因方法
	ExplainErrorDisabled    = "shap_disabled"    // 配置关闭
)

// Explanation 是一次预测的特征归因结果。
// Error 非空时只序列化为 {"error": reason}，解释永远不会阻塞预测本身。
type Explanation struct {
	Method string `json:"method"`
	// Space 归因所在的输出空间：margin（对数几率）或 probability
	Space     string        `json:"space"`
	Class     int           `json:"class"`
	BaseValue float64       `json:"base_value"`
	Top       []Attribution `json:"top"`
	Error     string        `json:"-"`
}

// ExplanationError 构造错误标记
func ExplanationError(reason string) *Explanation {
	return &Explanation{Error: reason}
}

func (e Explanation) MarshalJSON() ([]byte, error) {
	if e.Error != "" {
		return json.Marshal(map[string]string{"error": e.Error})
	}
	type plain Explanation
	return json.Marshal(plain(e))
}

// PredictionResult 是单行预测结果，每次请求新建，从不缓存。
type PredictionResult struct {
	Prediction int `json:"prediction"`
	// Probabilities 长度为类别数；运行时只给出标签时为 nil
	Probabilities []float64 `json:"probabilities"`
	// Probability 二分类时为正类概率，多分类时为 nil
	Probability *float64 `json:"probability,omitempty"`
	// Confidence 预测类别的概率
	Confidence  *float64     `json:"label_confidence,omitempty"`
	Version     string       `json:"version"`
	Runtime     string       `json:"runtime"`
	Coverage    Coverage     `json:"coverage"`
	Warning     string       `json:"warning,omitempty"`
	Explanation *Explanation `json:"explanation,omitempty"`
}
