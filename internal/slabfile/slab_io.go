package slabfile

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/coupledsim/fieldio/internal/errs"
)

// slabSize returns the number of elements addressed by count.
func slabSize(count []int) int {
	n := 1
	for _, c := range count {
		n *= c
	}
	return n
}

// checkSlab validates a start/count request against a variable and splits
// off the record-axis portion for record variables.
func (sf *File) checkSlab(op, name string, start, count []int) (*varLayout, []int, []int, error) {
	if sf.defineMode {
		return nil, nil, nil, errs.WrapState(errs.ErrDefineMode, "slabfile", op, name)
	}
	v, ok := sf.findVar(name)
	if !ok {
		return nil, nil, nil, errs.WrapIO(errs.ErrVarNotFound, "slabfile", op, fmt.Sprintf("%s: %s", sf.path, name))
	}
	l := sf.layouts[v.Name]
	if len(start) != len(v.Dims) || len(count) != len(v.Dims) {
		return nil, nil, nil, errs.IOf("slabfile", op,
			"%s: variable %q has rank %d, got start/count of rank %d/%d",
			sf.path, name, len(v.Dims), len(start), len(count))
	}
	for i := range start {
		if start[i] < 0 || count[i] <= 0 {
			return nil, nil, nil, errs.IOf("slabfile", op,
				"%s: variable %q: invalid slab start=%v count=%v", sf.path, name, start, count)
		}
	}

	inner, innerCount := start, count
	if l.record {
		inner, innerCount = start[1:], count[1:]
	}
	for i := range inner {
		if inner[i]+innerCount[i] > l.shape[i] {
			return nil, nil, nil, errs.IOf("slabfile", op,
				"%s: variable %q: slab start=%v count=%v exceeds shape %v",
				sf.path, name, start, count, l.shape)
		}
	}
	return l, inner, innerCount, nil
}

// iterateRuns walks a row-major hyperslab as contiguous element runs,
// calling fn with the element offset of each run within the block.
func iterateRuns(shape, start, count []int, fn func(elemOff int64, runLen int) error) error {
	if len(shape) == 0 {
		return fn(0, 1)
	}

	strides := make([]int64, len(shape))
	strides[len(shape)-1] = 1
	for d := len(shape) - 2; d >= 0; d-- {
		strides[d] = strides[d+1] * int64(shape[d+1])
	}

	runLen := count[len(count)-1]
	idx := make([]int, len(count))
	for {
		var off int64
		for d := 0; d < len(count)-1; d++ {
			off += int64(start[d]+idx[d]) * strides[d]
		}
		off += int64(start[len(start)-1]) * strides[len(strides)-1]
		if err := fn(off, runLen); err != nil {
			return err
		}

		// advance the odometer over the non-contiguous prefix dims
		d := len(count) - 2
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < count[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return nil
		}
	}
}

func encodeRun(vals []float64, typ string) []byte {
	switch typ {
	case TypeF4:
		buf := make([]byte, 4*len(vals))
		for i, v := range vals {
			binary.BigEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
		}
		return buf
	default:
		buf := make([]byte, 8*len(vals))
		for i, v := range vals {
			binary.BigEndian.PutUint64(buf[8*i:], math.Float64bits(v))
		}
		return buf
	}
}

func decodeRun(buf []byte, vals []float64, typ string) {
	switch typ {
	case TypeF4:
		for i := range vals {
			vals[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(buf[4*i:])))
		}
	default:
		for i := range vals {
			vals[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[8*i:]))
		}
	}
}

// WriteSlab writes data into the hyperslab described by start and count.
// For record variables the leading axis is the unlimited time axis and
// writing past the current record count extends the file.
func (sf *File) WriteSlab(name string, start, count []int, data []float64) error {
	if !sf.writable {
		return errs.Statef("slabfile", "WriteSlab", "%s opened read-only", sf.path)
	}
	l, inner, innerCount, err := sf.checkSlab("WriteSlab", name, start, count)
	if err != nil {
		return err
	}
	if len(data) != slabSize(count) {
		return errs.IOf("slabfile", "WriteSlab",
			"%s: variable %q: slab holds %d elements but %d supplied",
			sf.path, name, slabSize(count), len(data))
	}

	v, _ := sf.findVar(name)
	pos := 0
	writeBlock := func(base int64) error {
		return iterateRuns(l.shape, inner, innerCount, func(elemOff int64, runLen int) error {
			buf := encodeRun(data[pos:pos+runLen], v.Type)
			if _, werr := sf.f.WriteAt(buf, base+elemOff*int64(l.esize)); werr != nil {
				return errs.WrapIO(werr, "slabfile", "WriteSlab", fmt.Sprintf("%s: %s", sf.path, name))
			}
			pos += runLen
			return nil
		})
	}

	if !l.record {
		return writeBlock(l.offset)
	}
	for rec := start[0]; rec < start[0]+count[0]; rec++ {
		base := sf.recStart + int64(rec)*sf.recSize + l.offset
		if err := writeBlock(base); err != nil {
			return err
		}
	}
	return nil
}

// ReadSlab reads the hyperslab described by start and count, converting
// stored values to float64.
func (sf *File) ReadSlab(name string, start, count []int) ([]float64, error) {
	l, inner, innerCount, err := sf.checkSlab("ReadSlab", name, start, count)
	if err != nil {
		return nil, err
	}

	v, _ := sf.findVar(name)
	data := make([]float64, slabSize(count))
	pos := 0
	readBlock := func(base int64) error {
		return iterateRuns(l.shape, inner, innerCount, func(elemOff int64, runLen int) error {
			buf := make([]byte, runLen*l.esize)
			if _, rerr := sf.f.ReadAt(buf, base+elemOff*int64(l.esize)); rerr != nil {
				return errs.WrapIO(rerr, "slabfile", "ReadSlab", fmt.Sprintf("%s: %s", sf.path, name))
			}
			decodeRun(buf, data[pos:pos+runLen], v.Type)
			pos += runLen
			return nil
		})
	}

	if !l.record {
		if err := readBlock(l.offset); err != nil {
			return nil, err
		}
		return data, nil
	}

	nrec, err := sf.NumRecords()
	if err != nil {
		return nil, err
	}
	if start[0]+count[0] > nrec {
		return nil, errs.IOf("slabfile", "ReadSlab",
			"%s: variable %q: records [%d,%d) beyond record count %d",
			sf.path, name, start[0], start[0]+count[0], nrec)
	}
	for rec := start[0]; rec < start[0]+count[0]; rec++ {
		base := sf.recStart + int64(rec)*sf.recSize + l.offset
		if err := readBlock(base); err != nil {
			return nil, err
		}
	}
	return data, nil
}

// RecordValues reads every record of a one-dimensional record variable,
// typically the time coordinate.
func (sf *File) RecordValues(name string) ([]float64, error) {
	v, ok := sf.findVar(name)
	if !ok {
		return nil, errs.WrapIO(errs.ErrVarNotFound, "slabfile", "RecordValues", fmt.Sprintf("%s: %s", sf.path, name))
	}
	if len(v.Dims) != 1 || !sf.layouts[name].record {
		return nil, errs.IOf("slabfile", "RecordValues",
			"%s: variable %q is not a one-dimensional record variable", sf.path, name)
	}
	nrec, err := sf.NumRecords()
	if err != nil {
		return nil, err
	}
	if nrec == 0 {
		return nil, nil
	}
	return sf.ReadSlab(name, []int{0}, []int{nrec})
}
