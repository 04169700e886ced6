package feature

import (
	"fmt"
	"strings"

	"github.com/rushteam/reminsight/core"
)

// Policy 是预处理失败时的处理策略，每个部署 profile 只选一种。
type Policy string

const (
	// PolicyStrict 任何预处理失败都让请求以 PREPROCESS_FAILED 失败（默认）。
	// 适用于模型依赖标准化输入的部署：宁可失败也不给出错误的预测。
	PolicyStrict Policy = "strict"

	// PolicyLenient 失败的阶段原样透传其输入，并在结果上附加 warning。
	PolicyLenient Policy = "lenient"
)

// ParsePolicy 解析策略名，空字符串返回 PolicyStrict
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyLenient:
		return PolicyLenient, nil
	default:
		return "", fmt.Errorf("unknown preprocessing policy %q (supported: strict, lenient)", s)
	}
}

// Chain 是固定顺序的预处理链：先 imputer 后 scaler，缺失的阶段直接跳过。
type Chain struct {
	Imputer *Imputer
	Scaler  *Scaler
	Policy  Policy
}

// Stages 返回生效的阶段名，用于内省接口
func (c Chain) Stages() []string {
	stages := make([]string, 0, 2)
	if c.Imputer != nil {
		stages = append(stages, "imputer:"+c.Imputer.Strategy)
	}
	if c.Scaler != nil {
		stages = append(stages, "scaler:standard")
	}
	return stages
}

// Transform 对单行对齐后的向量执行预处理。
//
// 返回值：
//   - 处理后的向量（总是新的切片，不修改输入）
//   - warnings：lenient 策略下被跳过的阶段
//   - error：strict 策略下的 PREPROCESS_FAILED 领域错误
func (c Chain) Transform(x []float64) ([]float64, []string, error) {
	out := append([]float64(nil), x...)
	var warnings []string

	if c.Imputer != nil {
		next, err := c.Imputer.Transform(out)
		if err != nil {
			if c.Policy != PolicyLenient {
				return nil, nil, core.WrapDomainError(core.ModuleFeature, core.ErrorCodePreprocessFailed, err, "imputer transform failed")
			}
			warnings = append(warnings, "imputer skipped: "+err.Error())
		} else {
			out = next
		}
	}

	if c.Scaler != nil {
		next, err := c.Scaler.Transform(out)
		if err != nil {
			if c.Policy != PolicyLenient {
				return nil, nil, core.WrapDomainError(core.ModuleFeature, core.ErrorCodePreprocessFailed, err, "scaler transform failed")
			}
			warnings = append(warnings, "scaler skipped: "+err.Error())
		} else {
			out = next
		}
	}

	return out, warnings, nil
}
