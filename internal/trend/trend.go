// Package trend estimates the linear trend of a sensor window.
package trend

import (
	"fmt"
	"math"

	"github.com/agsys/valve-server/internal/store"
)

// Epsilon is the smallest denominator magnitude treated as non-degenerate
const Epsilon = 1e-4

// Axis selects the x-values used for the regression
type Axis uint8

// Regression axes
const (
	AxisIndex     Axis = iota // x = 0..n-1
	AxisTimestamp             // x = sample timestamp in seconds
)

// String returns the axis name as used in configuration
func (a Axis) String() string {
	switch a {
	case AxisIndex:
		return "index"
	case AxisTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(a))
	}
}

// ParseAxis parses a configuration axis name
func ParseAxis(s string) (Axis, error) {
	switch s {
	case "", "index":
		return AxisIndex, nil
	case "timestamp":
		return AxisTimestamp, nil
	default:
		return 0, fmt.Errorf("unknown x axis %q", s)
	}
}

// Comparison selects how a slope is compared with the threshold
type Comparison uint8

// Comparison policies
const (
	ComparisonAbsolute Comparison = iota // |slope| > threshold
	ComparisonSigned                     // slope > threshold
)

// String returns the comparison name as used in configuration
func (c Comparison) String() string {
	switch c {
	case ComparisonAbsolute:
		return "absolute"
	case ComparisonSigned:
		return "signed"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
	}
}

// ParseComparison parses a configuration comparison name
func ParseComparison(s string) (Comparison, error) {
	switch s {
	case "", "absolute":
		return ComparisonAbsolute, nil
	case "signed":
		return ComparisonSigned, nil
	default:
		return 0, fmt.Errorf("unknown comparison %q", s)
	}
}

// Slope returns the least-squares slope of the samples. It returns 0 for
// fewer than two samples or when every x-value is (nearly) the same.
func Slope(samples []store.Sample, axis Axis) float64 {
	n := len(samples)
	if n < 2 {
		return 0
	}

	// x is measured from the first sample to keep epoch timestamps precise
	var sumX, sumY, sumXY, sumX2 float64
	origin := samples[0].Timestamp
	for i, s := range samples {
		var x float64
		if axis == AxisTimestamp {
			x = float64(s.Timestamp - origin)
		} else {
			x = float64(i)
		}
		y := float64(s.Value)
		sumX += x
		sumY += y
		sumXY += x * y
		sumX2 += x * x
	}

	fn := float64(n)
	denom := fn*sumX2 - sumX*sumX
	if math.Abs(denom) < Epsilon {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}

// Exceeds reports whether slope crosses threshold under the comparison
func Exceeds(slope, threshold float64, c Comparison) bool {
	if c == ComparisonSigned {
		return slope > threshold
	}
	return math.Abs(slope) > threshold
}
