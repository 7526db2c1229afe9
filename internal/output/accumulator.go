// Package output implements the accumulation, statistics, and
// write-scheduling engine for output collections. Each collection keeps
// per-field running statistics across simulation steps and flushes them
// to storage on its configured frequency.
package output

import (
	"github.com/coupledsim/fieldio/internal/errs"
	"github.com/coupledsim/fieldio/internal/field"
)

// Accumulator holds the running statistics of one (collection, field)
// pair: element-wise sum and sample count, plus optional running max and
// min. All arrays share the grid partition's shape.
type Accumulator struct {
	sum   *field.Array
	count *field.Array
	max   *field.Array
	min   *field.Array
}

// NewAccumulator creates an accumulator in its reset state.
func NewAccumulator(shape []int, doMax, doMin bool) *Accumulator {
	a := &Accumulator{
		sum:   field.New(shape...),
		count: field.New(shape...),
	}
	if doMax {
		a.max = field.New(shape...)
		a.max.Fill(field.NegInf)
	}
	if doMin {
		a.min = field.New(shape...)
		a.min.Fill(field.PosInf)
	}
	return a
}

// Accumulate folds one sample into the running statistics. Callers must
// invoke this exactly once per simulation step; double-counting within a
// step is a caller contract violation, not defended against here.
func (a *Accumulator) Accumulate(sample *field.Array) error {
	if !field.SameShape(a.sum, sample) {
		return errs.WrapIO(errs.ErrShapeMismatch, "output", "Accumulate",
			"sample shape does not match accumulator shape")
	}
	if err := a.sum.Add(sample); err != nil {
		return err
	}
	for i := range a.count.Data {
		a.count.Data[i]++
	}
	if a.max != nil {
		if err := a.max.MaxInPlace(sample); err != nil {
			return err
		}
	}
	if a.min != nil {
		if err := a.min.MinInPlace(sample); err != nil {
			return err
		}
	}
	return nil
}

// FinalizeAverage returns sum/count element-wise. Elements with a zero
// count yield zero rather than a numeric error.
func (a *Accumulator) FinalizeAverage() *field.Array {
	out := field.New(a.sum.Shape...)
	for i, n := range a.count.Data {
		if n > 0 {
			out.Data[i] = a.sum.Data[i] / n
		}
	}
	return out
}

// Max returns the running maximum array, or nil if not configured.
func (a *Accumulator) Max() *field.Array { return a.max }

// Min returns the running minimum array, or nil if not configured.
func (a *Accumulator) Min() *field.Array { return a.min }

// SampleCount returns the count of the first element, which equals every
// other element's count under the once-per-step contract.
func (a *Accumulator) SampleCount() int {
	if len(a.count.Data) == 0 {
		return 0
	}
	return int(a.count.Data[0])
}

// Reset clears the statistics: sum and count to zero, max and min to
// their sentinel extremes. Called immediately after a successful flush
// and never before.
func (a *Accumulator) Reset() {
	a.sum.Fill(0)
	a.count.Fill(0)
	if a.max != nil {
		a.max.Fill(field.NegInf)
	}
	if a.min != nil {
		a.min.Fill(field.PosInf)
	}
}
