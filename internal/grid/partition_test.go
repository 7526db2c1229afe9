package grid

import (
	"reflect"
	"testing"
)

func TestNewPartition(t *testing.T) {
	tests := []struct {
		name    string
		local   []Bounds
		global  []int
		wantErr bool
	}{
		{
			name:   "valid 2d",
			local:  []Bounds{{0, 4}, {0, 9}},
			global: []int{10, 10},
		},
		{
			name:   "full domain",
			local:  []Bounds{{0, 9}},
			global: []int{10},
		},
		{
			name:    "empty dims",
			local:   nil,
			global:  nil,
			wantErr: true,
		},
		{
			name:    "rank mismatch",
			local:   []Bounds{{0, 4}},
			global:  []int{10, 10},
			wantErr: true,
		},
		{
			name:    "negative lo",
			local:   []Bounds{{-1, 4}},
			global:  []int{10},
			wantErr: true,
		},
		{
			name:    "hi before lo",
			local:   []Bounds{{5, 4}},
			global:  []int{10},
			wantErr: true,
		},
		{
			name:    "exceeds global",
			local:   []Bounds{{0, 10}},
			global:  []int{10},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPartition(tt.local, tt.global)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPartition error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPartitionAccessors(t *testing.T) {
	p, err := NewPartition([]Bounds{{2, 4}, {0, 9}}, []int{10, 10})
	if err != nil {
		t.Fatal(err)
	}

	if got := p.Rank(); got != 2 {
		t.Errorf("Rank = %d, want 2", got)
	}
	if got := p.Shape(); !reflect.DeepEqual(got, []int{3, 10}) {
		t.Errorf("Shape = %v, want [3 10]", got)
	}
	if got := p.Size(); got != 30 {
		t.Errorf("Size = %d, want 30", got)
	}
	if got := p.GlobalSize(); got != 100 {
		t.Errorf("GlobalSize = %d, want 100", got)
	}

	start, count := p.StartCount()
	if !reflect.DeepEqual(start, []int{2, 0}) || !reflect.DeepEqual(count, []int{3, 10}) {
		t.Errorf("StartCount = %v, %v, want [2 0], [3 10]", start, count)
	}
}

func TestSplitRows(t *testing.T) {
	tests := []struct {
		name    string
		global  []int
		n       int
		extents []int
		wantErr bool
	}{
		{name: "even split", global: []int{9, 4}, n: 3, extents: []int{3, 3, 3}},
		{name: "uneven split", global: []int{10, 4}, n: 3, extents: []int{4, 3, 3}},
		{name: "single worker", global: []int{7}, n: 1, extents: []int{7}},
		{name: "one row each", global: []int{3, 5}, n: 3, extents: []int{1, 1, 1}},
		{name: "more workers than rows", global: []int{2, 5}, n: 3, wantErr: true},
		{name: "zero workers", global: []int{4}, n: 0, wantErr: true},
		{name: "empty shape", global: nil, n: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts, err := SplitRows(tt.global, tt.n)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(parts) != tt.n {
				t.Fatalf("got %d partitions, want %d", len(parts), tt.n)
			}

			lo := 0
			for w, p := range parts {
				b := p.Local[0]
				if b.Lo != lo {
					t.Errorf("worker %d starts at row %d, want %d", w, b.Lo, lo)
				}
				if got := b.Extent(); got != tt.extents[w] {
					t.Errorf("worker %d extent = %d, want %d", w, got, tt.extents[w])
				}
				for d := 1; d < len(tt.global); d++ {
					if p.Local[d].Lo != 0 || p.Local[d].Hi != tt.global[d]-1 {
						t.Errorf("worker %d dim %d = %v, want full extent", w, d, p.Local[d])
					}
				}
				lo = b.Hi + 1
			}
			if lo != tt.global[0] {
				t.Errorf("partitions cover %d rows, want %d", lo, tt.global[0])
			}
		})
	}
}
