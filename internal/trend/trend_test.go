package trend

import (
	"math"
	"testing"

	"github.com/agsys/valve-server/internal/store"
)

func samples(pairs ...int64) []store.Sample {
	out := make([]store.Sample, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, store.Sample{Timestamp: pairs[i], Value: pairs[i+1]})
	}
	return out
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

// TestSlope tests the regression on known windows
func TestSlope(t *testing.T) {
	tests := []struct {
		name string
		in   []store.Sample
		axis Axis
		want float64
	}{
		{"empty", nil, AxisIndex, 0},
		{"single", samples(1, 5), AxisIndex, 0},
		{"rising by ten", samples(1, 0, 2, 10, 3, 20), AxisIndex, 10},
		{"flat", samples(1, 7, 2, 7, 3, 7, 4, 7), AxisIndex, 0},
		{"falling", samples(1, 30, 2, 20, 3, 10), AxisIndex, -10},
		{"timestamp spacing", samples(0, 0, 10, 10, 20, 20), AxisTimestamp, 1},
		{"irregular gaps", samples(100, 0, 101, 2, 105, 10), AxisTimestamp, 2},
		{"equal timestamps", samples(50, 1, 50, 9, 50, 30), AxisTimestamp, 0},
		{"epoch timestamps", samples(1700000000, 100, 1700000060, 160, 1700000120, 220), AxisTimestamp, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slope(tt.in, tt.axis); !near(got, tt.want) {
				t.Errorf("Slope mismatch: got %v, want %v", got, tt.want)
			}
		})
	}
}

// TestSlopeShiftInvariance tests that adding a constant to every value
// leaves the index-axis slope unchanged
func TestSlopeShiftInvariance(t *testing.T) {
	base := samples(1, 3, 2, 8, 3, 4, 4, 15, 5, 11, 6, 19)
	want := Slope(base, AxisIndex)

	for _, c := range []int64{-1000, -1, 1, 500, 1 << 20} {
		shifted := make([]store.Sample, len(base))
		for i, s := range base {
			shifted[i] = store.Sample{Timestamp: s.Timestamp, Value: s.Value + c}
		}
		if got := Slope(shifted, AxisIndex); math.Abs(got-want) > 1e-6 {
			t.Errorf("Slope with shift %d mismatch: got %v, want %v", c, got, want)
		}
	}
}

// TestSlopeIgnoresTimestampsOnIndexAxis tests that index regression does not
// depend on the recorded timestamps
func TestSlopeIgnoresTimestampsOnIndexAxis(t *testing.T) {
	a := samples(1, 0, 2, 10, 3, 20)
	b := samples(100, 0, 7, 10, 9999, 20)
	if !near(Slope(a, AxisIndex), Slope(b, AxisIndex)) {
		t.Errorf("Index slope depends on timestamps: %v vs %v", Slope(a, AxisIndex), Slope(b, AxisIndex))
	}
}

// TestExceeds tests both comparison policies
func TestExceeds(t *testing.T) {
	tests := []struct {
		slope float64
		c     Comparison
		want  bool
	}{
		{10, ComparisonAbsolute, true},
		{-10, ComparisonAbsolute, true},
		{5, ComparisonAbsolute, false},
		{-10, ComparisonSigned, false},
		{10, ComparisonSigned, true},
		{5, ComparisonSigned, false},
	}
	for _, tt := range tests {
		if got := Exceeds(tt.slope, 5, tt.c); got != tt.want {
			t.Errorf("Exceeds(%v, 5, %v) = %v, want %v", tt.slope, tt.c, got, tt.want)
		}
	}
}

// TestParse tests configuration name parsing
func TestParse(t *testing.T) {
	if a, err := ParseAxis("timestamp"); err != nil || a != AxisTimestamp {
		t.Errorf("ParseAxis(timestamp) = %v, %v", a, err)
	}
	if a, err := ParseAxis(""); err != nil || a != AxisIndex {
		t.Errorf("ParseAxis(\"\") = %v, %v", a, err)
	}
	if _, err := ParseAxis("time"); err == nil {
		t.Error("Expected error for unknown axis")
	}
	if c, err := ParseComparison("signed"); err != nil || c != ComparisonSigned {
		t.Errorf("ParseComparison(signed) = %v, %v", c, err)
	}
	if _, err := ParseComparison("both"); err == nil {
		t.Error("Expected error for unknown comparison")
	}
}
