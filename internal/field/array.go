// Package field holds the in-memory representation of a gridded field on
// the worker's partition. Values are always carried as float64 regardless
// of the file storage precision so interpolation and accumulation error is
// bounded by double precision; conversion to the declared storage type
// happens at the file boundary.
package field

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Array is a dense row-major array of field values with an explicit shape.
type Array struct {
	Shape []int
	Data  []float64
}

// New allocates a zero-filled array with the given shape.
func New(shape ...int) *Array {
	n := 1
	for _, s := range shape {
		n *= s
	}
	return &Array{
		Shape: append([]int(nil), shape...),
		Data:  make([]float64, n),
	}
}

// FromData wraps existing data in an array, validating the shape.
func FromData(data []float64, shape ...int) (*Array, error) {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	return &Array{Shape: append([]int(nil), shape...), Data: data}, nil
}

// Len returns the number of elements.
func (a *Array) Len() int {
	return len(a.Data)
}

// Clone returns a deep copy of the array.
func (a *Array) Clone() *Array {
	c := New(a.Shape...)
	copy(c.Data, a.Data)
	return c
}

// Fill sets every element to v.
func (a *Array) Fill(v float64) {
	for i := range a.Data {
		a.Data[i] = v
	}
}

// SameShape reports whether a and b have identical shapes.
func SameShape(a, b *Array) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i := range a.Shape {
		if a.Shape[i] != b.Shape[i] {
			return false
		}
	}
	return true
}

// Blend returns w1*a + w2*b element-wise. The inputs must share a shape.
func Blend(a, b *Array, w1, w2 float64) (*Array, error) {
	if !SameShape(a, b) {
		return nil, fmt.Errorf("blend shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	out := New(a.Shape...)
	floats.AddScaled(out.Data, w1, a.Data)
	floats.AddScaled(out.Data, w2, b.Data)
	return out, nil
}

// Add accumulates b into a element-wise.
func (a *Array) Add(b *Array) error {
	if !SameShape(a, b) {
		return fmt.Errorf("add shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	floats.Add(a.Data, b.Data)
	return nil
}

// Scale multiplies every element by s in place.
func (a *Array) Scale(s float64) {
	floats.Scale(s, a.Data)
}

// MaxInPlace raises each element of a to at least the corresponding
// element of b.
func (a *Array) MaxInPlace(b *Array) error {
	if !SameShape(a, b) {
		return fmt.Errorf("max shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	for i, v := range b.Data {
		if v > a.Data[i] {
			a.Data[i] = v
		}
	}
	return nil
}

// MinInPlace lowers each element of a to at most the corresponding
// element of b.
func (a *Array) MinInPlace(b *Array) error {
	if !SameShape(a, b) {
		return fmt.Errorf("min shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	for i, v := range b.Data {
		if v < a.Data[i] {
			a.Data[i] = v
		}
	}
	return nil
}

// NegInf and PosInf are the reset sentinels for max/min accumulators.
var (
	NegInf = math.Inf(-1)
	PosInf = math.Inf(1)
)
