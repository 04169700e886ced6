package explain

import (
	"fmt"
	"math/rand/v2"

	"github.com/rushteam/reminsight/model"
)

// samplingSHAP 用排列采样估计 Shapley 值（Štrumbelj & Kononenko 2014）。
// 目标是 class 的预测概率，没有概率时为原始输出；每个排列一次批量推理。
func samplingSHAP(a *model.Adapter, x, ref []float64, class, samples int, seed uint64) ([]float64, float64, error) {
	d := len(x)
	if len(ref) != d {
		return nil, 0, fmt.Errorf("reference has %d features, input has %d", len(ref), d)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	base, err := evaluate(a, [][]float64{ref}, class)
	if err != nil {
		return nil, 0, err
	}

	phi := make([]float64, d)
	perm := make([]int, d)
	for i := range perm {
		perm[i] = i
	}
	rows := make([][]float64, d)
	for s := 0; s < samples; s++ {
		rng.Shuffle(d, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
		z := append([]float64(nil), ref...)
		for k, j := range perm {
			z[j] = x[j]
			rows[k] = append([]float64(nil), z...)
		}
		out, err := evaluate(a, rows, class)
		if err != nil {
			return nil, 0, err
		}
		prev := base[0]
		for k, j := range perm {
			phi[j] += out[k] - prev
			prev = out[k]
		}
	}
	for j := range phi {
		phi[j] /= float64(samples)
	}
	return phi, base[0], nil
}

func evaluate(a *model.Adapter, rows [][]float64, class int) ([]float64, error) {
	preds, err := a.Predict(rows)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(preds))
	for i, p := range preds {
		if p.Probabilities == nil {
			out[i] = p.Raw
			continue
		}
		if class < 0 || class >= len(p.Probabilities) {
			return nil, fmt.Errorf("class %d outside %d probabilities", class, len(p.Probabilities))
		}
		out[i] = p.Probabilities[class]
	}
	return out, nil
}
