package model

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadLogistic_Binary(t *testing.T) {
	path := writeFile(t, "model_lr.json", `{"classes":[0,1],"coef":[[1.0,-2.0]],"intercept":[0.5]}`)
	m, err := LoadLogistic(path)
	if err != nil {
		t.Fatalf("LoadLogistic: %v", err)
	}
	if m.NumFeatures() != 2 || m.NumClasses() != 2 {
		t.Errorf("features = %d, classes = %d", m.NumFeatures(), m.NumClasses())
	}
	probs, err := m.PredictProba([][]float64{{1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	want := sigmoid(0.5 + 1 - 2)
	if math.Abs(probs[0][1]-want) > 1e-12 || math.Abs(probs[0][0]+probs[0][1]-1) > 1e-12 {
		t.Errorf("probabilities = %v, want positive %v", probs[0], want)
	}

	if _, err := m.PredictProba([][]float64{{math.NaN(), 1}}); err == nil {
		t.Error("expected error for NaN input")
	}
	if _, err := m.PredictProba([][]float64{{1}}); err == nil {
		t.Error("expected error for width mismatch")
	}
}

func TestLoadLogistic_Multiclass(t *testing.T) {
	path := writeFile(t, "model_lr.json", `{"classes":[0,1,2],"coef":[[1],[0],[-1]],"intercept":[0,0,0]}`)
	m, err := LoadLogistic(path)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := NewAdapter(m)
	if a.Kind() != GenericProbabilistic {
		t.Fatalf("kind = %v", a.Kind())
	}
	preds, err := a.Predict([][]float64{{2}, {-2}})
	if err != nil {
		t.Fatal(err)
	}
	if preds[0].Class != 0 || preds[1].Class != 2 {
		t.Errorf("classes = %d, %d", preds[0].Class, preds[1].Class)
	}
}

func TestLoadLogistic_Invalid(t *testing.T) {
	tests := map[string]string{
		"empty coef":         `{"coef":[],"intercept":[]}`,
		"ragged coef":        `{"coef":[[1,2],[1]],"intercept":[0,0]}`,
		"intercept mismatch": `{"coef":[[1,2]],"intercept":[0,0]}`,
		"classes mismatch":   `{"classes":[0,1,2],"coef":[[1,2]],"intercept":[0]}`,
		"not json":           `[`,
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadLogistic(writeFile(t, "model_lr.json", data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
