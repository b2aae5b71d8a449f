package melody

import (
	"math"
	"testing"
)

func TestPercentile(t *testing.T) {
	tests := []struct {
		name     string
		data     []float64
		p        float64
		expected float64
	}{
		{"median of even count", []float64{1, 2, 3, 4}, 50, 2.5},
		{"99th of five", []float64{1, 2, 3, 4, 5}, 99, 4.96},
		{"1st of five", []float64{1, 2, 3, 4, 5}, 1, 1.04},
		{"99.5th of five", []float64{1, 2, 3, 4, 5}, 99.5, 4.98},
		{"zeroth", []float64{3, 7}, 0, 3},
		{"hundredth", []float64{3, 7}, 100, 7},
		{"single value", []float64{42}, 99, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Percentile(tt.data, tt.p)
			if math.Abs(got-tt.expected) > 1e-9 {
				t.Errorf("Percentile(%v, %v) = %v, expected %v", tt.data, tt.p, got, tt.expected)
			}
		})
	}

	if !math.IsNaN(Percentile(nil, 50)) {
		t.Error("Expected NaN for empty input")
	}
}

func TestPercentileRange(t *testing.T) {
	data := make([]float64, 101)
	for i := range data {
		data[i] = float64(i)
	}

	for p := 0.0; p <= 100; p += 0.5 {
		if got := Percentile(data, p); math.Abs(got-p) > 1e-9 {
			t.Fatalf("Percentile(0..100, %v) = %v", p, got)
		}
	}
}
