package input

import (
	"fmt"
	"strings"
	"time"

	"github.com/coupledsim/fieldio/internal/field"
)

// InterpMethod selects how bracketing samples blend into a value at the
// target time.
type InterpMethod int

const (
	// InterpLinear blends the two samples by their time weights.
	InterpLinear InterpMethod = iota
	// InterpNearest picks whichever sample is closer in time, ties
	// favoring the earlier one.
	InterpNearest
	// InterpNone passes the earlier sample through unmodified, for
	// instantaneous or step data.
	InterpNone
)

// ParseInterpMethod parses a method from its descriptor spelling. An
// empty string selects linear.
func ParseInterpMethod(s string) (InterpMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "linear":
		return InterpLinear, nil
	case "nearest":
		return InterpNearest, nil
	case "none":
		return InterpNone, nil
	default:
		return InterpLinear, fmt.Errorf("unknown interpolation method %q", s)
	}
}

// String returns the descriptor spelling of the method.
func (m InterpMethod) String() string {
	switch m {
	case InterpNearest:
		return "nearest"
	case InterpNone:
		return "none"
	default:
		return "linear"
	}
}

// Weights computes the blend weights for a target between two bracketing
// timestamps. When the bracket is degenerate (t1 == t2) all weight goes
// to the first sample, avoiding the division by zero.
func Weights(t1, t2, target time.Time) (w1, w2 float64) {
	span := t2.Sub(t1).Seconds()
	if span == 0 {
		return 1, 0
	}
	w2 = target.Sub(t1).Seconds() / span
	return 1 - w2, w2
}

// interpolate blends two samples at the target time. All arithmetic is in
// float64; precision narrowing happens only at the file boundary.
func interpolate(m InterpMethod, t1, t2, target time.Time, a1, a2 *field.Array) (*field.Array, error) {
	switch m {
	case InterpNone:
		return a1.Clone(), nil
	case InterpNearest:
		_, w2 := Weights(t1, t2, target)
		if w2 > 0.5 {
			return a2.Clone(), nil
		}
		return a1.Clone(), nil
	default:
		w1, w2 := Weights(t1, t2, target)
		return field.Blend(a1, a2, w1, w2)
	}
}
