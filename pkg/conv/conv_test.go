package conv

import (
	"encoding/json"
	"math"
	"testing"
)

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   float64
		wantOK bool
	}{
		{"float64", 1.5, 1.5, true},
		{"int", 3, 3, true},
		{"uint8", uint8(7), 7, true},
		{"bool true", true, 1, true},
		{"json number", json.Number("2.25"), 2.25, true},
		{"numeric string", " 4.5 ", 4.5, true},
		{"empty string", "", 0, false},
		{"text", "abc", 0, false},
		{"nan string", "NaN", 0, false},
		{"nil", nil, 0, false},
		{"slice", []int{1}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToFloat64(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ToFloat64(%v) ok = %v, want %v", tt.in, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ToFloat64(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestToBool(t *testing.T) {
	tests := []struct {
		in     any
		want   bool
		wantOK bool
	}{
		{true, true, true},
		{"yes", true, true},
		{"0", false, true},
		{"maybe", false, false},
		{2.0, true, true},
		{nil, false, false},
	}
	for _, tt := range tests {
		got, ok := ToBool(tt.in)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("ToBool(%v) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestMapToFloat64(t *testing.T) {
	got := MapToFloat64(map[string]any{"a": 1, "b": "x", "c": "2"})
	if len(got) != 2 || got["a"] != 1 || got["c"] != 2 {
		t.Errorf("MapToFloat64 = %v", got)
	}
	if !IsFinite(1) || IsFinite(math.NaN()) || IsFinite(math.Inf(1)) {
		t.Error("IsFinite 结果错误")
	}
}
