// Package grid describes the slice of the global index space owned by a
// single worker. A Partition is constructed once by the decomposition
// collaborator and never mutated afterwards; both the input and output
// engines read it when translating local arrays to file coordinates.
package grid

import (
	"fmt"
)

// Bounds holds the inclusive [Lo, Hi] index range of one dimension.
type Bounds struct {
	Lo int
	Hi int
}

// Extent returns the number of indices covered by the bounds.
func (b Bounds) Extent() int {
	return b.Hi - b.Lo + 1
}

// Partition is the rectangular region of the global grid owned by the
// calling worker, plus the global extents needed to address a file-resident
// array. Dimension order matches the file layout with the unlimited time
// axis excluded: slowest-varying first.
type Partition struct {
	Local  []Bounds
	Global []int
}

// NewPartition validates and constructs a partition. Every local bound
// must be non-empty and fall inside the corresponding global extent.
func NewPartition(local []Bounds, global []int) (*Partition, error) {
	if len(local) == 0 {
		return nil, fmt.Errorf("partition must have at least one dimension")
	}
	if len(local) != len(global) {
		return nil, fmt.Errorf("partition has %d local dims but %d global extents", len(local), len(global))
	}
	for i, b := range local {
		if b.Lo < 0 || b.Hi < b.Lo {
			return nil, fmt.Errorf("dimension %d has invalid bounds [%d,%d]", i, b.Lo, b.Hi)
		}
		if b.Hi >= global[i] {
			return nil, fmt.Errorf("dimension %d bounds [%d,%d] exceed global extent %d", i, b.Lo, b.Hi, global[i])
		}
	}
	p := &Partition{
		Local:  append([]Bounds(nil), local...),
		Global: append([]int(nil), global...),
	}
	return p, nil
}

// Rank returns the number of spatial dimensions.
func (p *Partition) Rank() int {
	return len(p.Local)
}

// Shape returns the local extent of each dimension.
func (p *Partition) Shape() []int {
	shape := make([]int, len(p.Local))
	for i, b := range p.Local {
		shape[i] = b.Extent()
	}
	return shape
}

// Size returns the number of grid points in the partition.
func (p *Partition) Size() int {
	n := 1
	for _, b := range p.Local {
		n *= b.Extent()
	}
	return n
}

// GlobalSize returns the number of grid points in the full global array.
func (p *Partition) GlobalSize() int {
	n := 1
	for _, g := range p.Global {
		n *= g
	}
	return n
}

// StartCount returns the per-dimension file start offsets and extents for
// the partition, excluding the time axis.
func (p *Partition) StartCount() (start, count []int) {
	start = make([]int, len(p.Local))
	count = make([]int, len(p.Local))
	for i, b := range p.Local {
		start[i] = b.Lo
		count[i] = b.Extent()
	}
	return start, count
}

// String renders the partition for diagnostics.
func (p *Partition) String() string {
	s := "["
	for i, b := range p.Local {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%d:%d/%d", b.Lo, b.Hi, p.Global[i])
	}
	return s + "]"
}

// SplitRows decomposes a global grid across n workers by splitting the
// leading dimension into near-equal contiguous row blocks. Workers beyond
// the row count receive an error since every worker must own a non-empty
// partition.
func SplitRows(global []int, n int) ([]*Partition, error) {
	if len(global) == 0 {
		return nil, fmt.Errorf("global shape must have at least one dimension")
	}
	if n <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", n)
	}
	rows := global[0]
	if n > rows {
		return nil, fmt.Errorf("cannot split %d rows across %d workers", rows, n)
	}

	parts := make([]*Partition, n)
	base, extra := rows/n, rows%n
	lo := 0
	for w := 0; w < n; w++ {
		extent := base
		if w < extra {
			extent++
		}
		local := make([]Bounds, len(global))
		local[0] = Bounds{Lo: lo, Hi: lo + extent - 1}
		for d := 1; d < len(global); d++ {
			local[d] = Bounds{Lo: 0, Hi: global[d] - 1}
		}
		p, err := NewPartition(local, global)
		if err != nil {
			return nil, err
		}
		parts[w] = p
		lo += extent
	}
	return parts, nil
}
