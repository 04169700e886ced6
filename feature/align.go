package feature

import (
	"math"
	"sort"

	"github.com/rushteam/reminsight/core"
	"github.com/rushteam/reminsight/pkg/conv"
)

// DefaultFill 返回缺失特征的默认填充值。
//
// 有 imputer 的 bundle 使用 NaN，让 imputer 去填充；
// 没有 imputer 的 bundle 使用 0.0，保证数值向量总是完整的。
func DefaultFill(hasImputer bool) float64 {
	if hasImputer {
		return math.NaN()
	}
	return 0.0
}

// Align 按 features 顺序把任意输入行构建为定长数值向量，并报告覆盖情况。
//
// 规则：
//   - 可转为数值的值（数值、json.Number、数值字符串、bool）原样写入
//   - 缺失、null、空字符串写入 fill，并计入 Missing
//   - 出现但无法转为数值的值写入 fill，同时计入 Missing 和 Invalid
//   - row 中不在 features 里的 key 计入 Extra（升序）
//
// 纯函数，不返回错误：输入不完整时总是给出一个降级但确定的向量。
//
// 用法：
//
//	vec, cov := feature.Align(row, bundle.Features, feature.DefaultFill(bundle.Imputer != nil))
//	if cov.Degraded() {
//	    // 作为 warning 返回给调用方
//	}
func Align(row map[string]any, features []string, fill float64) ([]float64, core.Coverage) {
	vector := make([]float64, len(features))
	cov := core.Coverage{
		Total:   len(features),
		Missing: []string{},
		Extra:   []string{},
	}

	required := make(map[string]struct{}, len(features))
	for i, name := range features {
		required[name] = struct{}{}

		raw, present := row[name]
		if !present || isEmpty(raw) {
			vector[i] = fill
			cov.Missing = append(cov.Missing, name)
			continue
		}
		v, ok := conv.ToFloat64(raw)
		if !ok {
			vector[i] = fill
			cov.Missing = append(cov.Missing, name)
			cov.Invalid = append(cov.Invalid, name)
			continue
		}
		vector[i] = v
	}

	for k := range row {
		if _, ok := required[k]; !ok {
			cov.Extra = append(cov.Extra, k)
		}
	}
	sort.Strings(cov.Extra)

	cov.Found = cov.Total - len(cov.Missing)
	if cov.Total > 0 {
		cov.Ratio = float64(cov.Found) / float64(cov.Total)
	}
	return vector, cov
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		for _, r := range s {
			if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
				return false
			}
		}
		return true
	}
	return false
}
