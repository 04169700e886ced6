package explain

import (
	"fmt"

	"github.com/rushteam/reminsight/artifact"
	"github.com/rushteam/reminsight/model"
)

// linearSHAP 对线性模型做精确归因：phi_j = w_kj * (x_j - ref_j)，结果位于 logit 空间
func linearSHAP(m *model.Logistic, x, ref []float64, class int) ([]float64, float64, error) {
	row := 0
	if len(m.Coef) > 1 {
		row = class
	}
	if row < 0 || row >= len(m.Coef) {
		return nil, 0, fmt.Errorf("class %d outside %d coefficient rows", class, len(m.Coef))
	}
	coef := m.Coef[row]
	if len(coef) != len(x) || len(ref) != len(x) {
		return nil, 0, fmt.Errorf("linear model expects %d features, got %d", len(coef), len(x))
	}
	phi := make([]float64, len(x))
	base := m.Intercept[row]
	for j, w := range coef {
		phi[j] = w * (x[j] - ref[j])
		base += w * ref[j]
	}
	return phi, base, nil
}

// reference 返回归因的参照点（模型输入空间）。
// 有 scaler 时标准化后的均值为 0；否则用 imputer 统计量；都没有时为 0。
func reference(b *artifact.Bundle) []float64 {
	ref := make([]float64, len(b.Features))
	if b.Scaler != nil {
		return ref
	}
	if b.Imputer != nil && len(b.Imputer.Statistics) == len(ref) {
		copy(ref, b.Imputer.Statistics)
	}
	return ref
}
