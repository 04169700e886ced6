package feature

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/rushteam/reminsight/core"
)

var testFeatures = []string{"a", "b", "c"}

func TestParseImputer(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    []float64
		wantErr bool
	}{
		{"ordered", `{"strategy":"median","features":["a","b","c"],"statistics":[1,2,3]}`, []float64{1, 2, 3}, false},
		{"by name", `{"strategy":"mean","statistics":{"c":3,"a":1,"b":2}}`, []float64{1, 2, 3}, false},
		{"wrong order", `{"features":["b","a","c"],"statistics":[1,2,3]}`, nil, true},
		{"length mismatch", `{"features":["a","b","c"],"statistics":[1,2]}`, nil, true},
		{"missing column", `{"statistics":{"a":1,"b":2,"d":3}}`, nil, true},
		{"no statistics", `{"strategy":"median"}`, nil, true},
		{"not json", `nope`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			imp, err := ParseImputer([]byte(tt.data), testFeatures)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && !reflect.DeepEqual(imp.Statistics, tt.want) {
				t.Errorf("statistics = %v, want %v", imp.Statistics, tt.want)
			}
		})
	}
}

func TestParseScaler(t *testing.T) {
	ordered := `{"features":["a","b","c"],"mean":[1,2,3],"scale":[2,0,1]}`
	s, err := ParseScaler([]byte(ordered), testFeatures)
	if err != nil {
		t.Fatalf("ParseScaler: %v", err)
	}
	out, err := s.Transform([]float64{3, 5, 3})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(out, []float64{1, 3, 0}) {
		t.Errorf("transform = %v, want [1 3 0]", out)
	}

	legacy := `{"a":{"mean":1,"std":2},"b":{"mean":2,"std":1},"c":{"mean":0,"std":1}}`
	s, err = ParseScaler([]byte(legacy), testFeatures)
	if err != nil {
		t.Fatalf("legacy ParseScaler: %v", err)
	}
	if !reflect.DeepEqual(s.Mean, []float64{1, 2, 0}) || !reflect.DeepEqual(s.Scale, []float64{2, 1, 1}) {
		t.Errorf("legacy bind = %v / %v", s.Mean, s.Scale)
	}

	if _, err := ParseScaler([]byte(`{"a":{"mean":1,"std":2}}`), testFeatures); err == nil {
		t.Error("expected error for partial legacy scaler")
	}
	if _, err := ParseScaler([]byte(`{"features":["a","b"],"mean":[1,2],"scale":[1,1]}`), testFeatures); err == nil {
		t.Error("expected error for column set mismatch")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "imputer.json")
	if err := os.WriteFile(path, []byte(`{"features":["a","b","c"],"statistics":[0,null,1]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	imp, err := LoadImputerFromFile(path, testFeatures)
	if err != nil {
		t.Fatalf("LoadImputerFromFile: %v", err)
	}
	if !math.IsNaN(imp.Statistics[1]) {
		t.Errorf("null statistic should decode to NaN, got %v", imp.Statistics[1])
	}
	if _, err := LoadScalerFromFile(filepath.Join(dir, "missing.json"), testFeatures); err == nil {
		t.Error("expected error for missing scaler file")
	}
}

func TestChain_Transform(t *testing.T) {
	imp := &Imputer{Strategy: "median", Features: testFeatures, Statistics: []float64{10, 20, 30}}
	sc := &Scaler{Features: testFeatures, Mean: []float64{0, 10, 0}, Scale: []float64{1, 10, 1}}

	t.Run("imputer then scaler", func(t *testing.T) {
		in := []float64{1, math.NaN(), 3}
		out, warnings, err := Chain{Imputer: imp, Scaler: sc, Policy: PolicyStrict}.Transform(in)
		if err != nil || len(warnings) != 0 {
			t.Fatalf("err = %v, warnings = %v", err, warnings)
		}
		if !reflect.DeepEqual(out, []float64{1, 1, 3}) {
			t.Errorf("out = %v, want [1 1 3]", out)
		}
		if !math.IsNaN(in[1]) {
			t.Error("input vector must not be modified")
		}
	})

	t.Run("no stages is pass-through", func(t *testing.T) {
		out, warnings, err := Chain{}.Transform([]float64{1, 2})
		if err != nil || len(warnings) != 0 || !reflect.DeepEqual(out, []float64{1, 2}) {
			t.Errorf("out = %v, warnings = %v, err = %v", out, warnings, err)
		}
	})

	t.Run("strict fails on shape mismatch", func(t *testing.T) {
		_, _, err := Chain{Imputer: imp, Policy: PolicyStrict}.Transform([]float64{1, 2})
		if !core.IsPreprocessFailed(err) {
			t.Fatalf("expected PREPROCESS_FAILED, got %v", err)
		}
	})

	t.Run("lenient passes through with warning", func(t *testing.T) {
		out, warnings, err := Chain{Scaler: sc, Policy: PolicyLenient}.Transform([]float64{1, 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(warnings) != 1 || !reflect.DeepEqual(out, []float64{1, 2}) {
			t.Errorf("out = %v, warnings = %v", out, warnings)
		}
	})
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyStrict, "STRICT": PolicyStrict, " lenient ": PolicyLenient} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("yolo"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestCoverageMonitor(t *testing.T) {
	m := NewCoverageMonitor(10)
	for i := 0; i < 4; i++ {
		row := map[string]any{"a": float64(i), "extra": 1}
		if i%2 == 0 {
			row["b"] = "bad"
		}
		vec, cov := Align(row, []string{"a", "b"}, 0)
		m.Record([]string{"a", "b"}, vec, cov)
	}
	if m.Rows() != 4 {
		t.Fatalf("rows = %d", m.Rows())
	}
	snap := m.Snapshot()
	if len(snap) != 2 || snap[0].FeatureName != "b" {
		t.Fatalf("snapshot order = %+v", snap)
	}
	if snap[0].MissingRate != 1 || snap[0].InvalidCount != 2 {
		t.Errorf("b stats = %+v", snap[0])
	}
	if snap[1].Mean != 1.5 || snap[1].Max != 3 {
		t.Errorf("a stats = %+v", snap[1])
	}
	if m.ExtraFields()["extra"] != 4 {
		t.Errorf("extra = %v", m.ExtraFields())
	}
	m.Reset()
	if m.Rows() != 0 || len(m.Snapshot()) != 0 {
		t.Error("Reset did not clear stats")
	}
}
