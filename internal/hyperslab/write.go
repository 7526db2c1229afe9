package hyperslab

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/coupledsim/fieldio/internal/errs"
	"github.com/coupledsim/fieldio/internal/field"
	"github.com/coupledsim/fieldio/internal/slabfile"
	"github.com/coupledsim/fieldio/internal/timeutil"
)

// writeSlabMsg carries one worker's hyperslab to the root in
// independent-mode writes.
type writeSlabMsg struct {
	Start  []int                `msgpack:"start"`
	Count  []int                `msgpack:"count"`
	Fields map[string][]float64 `msgpack:"fields"`
}

// recTicket tells every worker which record index a collective write
// targets. The root picks it once and broadcasts it, so workers cannot
// disagree by observing the file while others are still extending it.
type recTicket struct {
	Err string `msgpack:"err,omitempty"`
	Rec int    `msgpack:"rec"`
}

// WriteRecord appends one time record to the file at path, creating and
// defining the file first if it does not exist. Every worker supplies its
// own partition's values for every field in the spec.
func (io *IO) WriteRecord(path string, spec FileSpec, t time.Time, values map[string]*field.Array) error {
	if io.part.Rank() < 1 || io.part.Rank() > 3 {
		return errs.WrapIO(errs.ErrUnsupportedRank, "hyperslab", "WriteRecord",
			fmt.Sprintf("%s: rank %d", path, io.part.Rank()))
	}
	shape := io.part.Shape()
	for _, vs := range spec.Fields {
		arr, ok := values[vs.Name]
		if !ok {
			return errs.IOf("hyperslab", "WriteRecord", "%s: no values supplied for field %q", path, vs.Name)
		}
		if len(arr.Shape) != len(shape) {
			return errs.WrapIO(errs.ErrShapeMismatch, "hyperslab", "WriteRecord",
				fmt.Sprintf("%s: field %q rank %d vs partition rank %d", path, vs.Name, len(arr.Shape), len(shape)))
		}
		for i := range shape {
			if arr.Shape[i] != shape[i] {
				return errs.WrapIO(errs.ErrShapeMismatch, "hyperslab", "WriteRecord",
					fmt.Sprintf("%s: field %q shape %v vs partition shape %v", path, vs.Name, arr.Shape, shape))
			}
		}
	}

	if io.mode == ModeCollective {
		return io.writeCollective(path, spec, t, values)
	}
	return io.writeGathered(path, spec, t, values)
}

// defineFile creates a new slab file with the spec's schema. The file is
// built under a unique temporary name and renamed into place so a
// half-defined file is never observable.
func (io *IO) defineFile(path string, spec FileSpec) error {
	tmp := fmt.Sprintf("%s.tmp-%s", path, uuid.NewString())
	sf, err := slabfile.Create(tmp)
	if err != nil {
		return err
	}

	build := func() error {
		if err := sf.AddDim("time", 0, true); err != nil {
			return err
		}
		names, err := dimNames(io.part.Rank())
		if err != nil {
			return err
		}
		for i, dn := range names {
			if err := sf.AddDim(dn, io.part.Global[i], false); err != nil {
				return err
			}
		}
		varDims := append([]string{"time"}, names...)
		for _, vs := range spec.Fields {
			if err := sf.AddVar(vs.Name, vs.Type, varDims, vs.Attrs); err != nil {
				return err
			}
		}
		// the time coordinate is defined last so it occupies each record's
		// trailing bytes: a record only counts toward the file's record
		// total once its time value has been written
		if err := sf.AddVar("time", slabfile.TypeF8, []string{"time"},
			map[string]string{"units": timeUnits(spec.Epoch)}); err != nil {
			return err
		}
		for k, v := range spec.Attrs {
			sf.SetAttr(k, v)
		}
		return sf.EndDef()
	}

	if err := build(); err != nil {
		sf.Close()
		os.Remove(tmp)
		return err
	}
	if err := sf.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errs.WrapIO(err, "hyperslab", "defineFile", path)
	}
	return nil
}

// writeCollective has the root define the file if needed and pick the
// record index, broadcast both to the group, then every worker writes its
// own disjoint hyperslab. The record's time coordinate is committed only
// after every worker reports success, so an interrupted write leaves an
// incomplete record that readers cannot address and the next write
// overwrites.
func (io *IO) writeCollective(path string, spec FileSpec, t time.Time, values map[string]*field.Array) error {
	var ticket recTicket
	if io.comm.Rank() == rootRank {
		if !FileExists(path) {
			if err := io.defineFile(path, spec); err != nil {
				ticket.Err = err.Error()
			}
		}
		if ticket.Err == "" {
			rec, err := nextRecord(path)
			if err != nil {
				ticket.Err = err.Error()
			} else {
				ticket.Rec = rec
			}
		}
	}
	raw, err := msgpack.Marshal(&ticket)
	if err != nil {
		return errs.WrapIO(err, "hyperslab", "WriteRecord", "encoding record ticket")
	}
	raw, err = io.comm.Broadcast(rootRank, raw)
	if err != nil {
		return errs.WrapIO(err, "hyperslab", "WriteRecord", "record ticket broadcast")
	}
	if err := msgpack.Unmarshal(raw, &ticket); err != nil {
		return errs.WrapIO(err, "hyperslab", "WriteRecord", "decoding record ticket")
	}
	if ticket.Err != "" {
		return errs.IOf("hyperslab", "WriteRecord", "%s (root worker): %s", path, ticket.Err)
	}

	werr := io.writeOwnSlab(path, spec, ticket.Rec, values)
	status := ""
	if werr != nil {
		status = werr.Error()
	}
	// the gather doubles as the barrier ordering every slab write before
	// the record's time coordinate becomes visible
	statuses, err := io.comm.Gather(rootRank, []byte(status))
	if err != nil {
		if werr != nil {
			return werr
		}
		return errs.WrapIO(err, "hyperslab", "WriteRecord", "status gather")
	}
	if io.comm.Rank() == rootRank {
		status = ""
		for rank, s := range statuses {
			if len(s) > 0 {
				status = fmt.Sprintf("rank %d: %s", rank, s)
				break
			}
		}
		if status == "" {
			if err := io.commitRecord(path, ticket.Rec, t, spec.Epoch); err != nil {
				status = err.Error()
			}
		}
	}
	raw, err = io.comm.Broadcast(rootRank, []byte(status))
	if err != nil && werr == nil {
		werr = errs.WrapIO(err, "hyperslab", "WriteRecord", "status broadcast")
	}
	if werr != nil {
		return werr
	}
	if len(raw) > 0 {
		return errs.IOf("hyperslab", "WriteRecord", "%s: %s", path, string(raw))
	}
	return nil
}

// nextRecord returns the index the next record will occupy. An incomplete
// record left by a failed write is not counted and is therefore reused.
func nextRecord(path string) (int, error) {
	sf, err := slabfile.Open(path)
	if err != nil {
		return 0, err
	}
	defer sf.Close()
	return sf.NumRecords()
}

// writeOwnSlab writes this worker's hyperslab of every field into the
// given record. The time coordinate is not written here; commitRecord
// makes the record addressable once the whole group has succeeded.
func (io *IO) writeOwnSlab(path string, spec FileSpec, rec int, values map[string]*field.Array) error {
	sf, err := slabfile.OpenAppend(path)
	if err != nil {
		return err
	}
	defer sf.Close()

	pstart, pcount := io.part.StartCount()
	start := append([]int{rec}, pstart...)
	count := append([]int{1}, pcount...)

	for _, vs := range spec.Fields {
		if err := sf.WriteSlab(vs.Name, start, count, values[vs.Name].Data); err != nil {
			return err
		}
	}
	return sf.Sync()
}

// commitRecord writes the record's time coordinate, completing it.
func (io *IO) commitRecord(path string, rec int, t, epoch time.Time) error {
	sf, err := slabfile.OpenAppend(path)
	if err != nil {
		return err
	}
	defer sf.Close()

	hours := timeutil.HoursSince(t, epoch)
	if err := sf.WriteSlab("time", []int{rec}, []int{1}, []float64{hours}); err != nil {
		return err
	}
	return sf.Sync()
}

// writeGathered collects every worker's slab at the root, which performs
// all file I/O and broadcasts the outcome.
func (io *IO) writeGathered(path string, spec FileSpec, t time.Time, values map[string]*field.Array) error {
	pstart, pcount := io.part.StartCount()
	msg := writeSlabMsg{Start: pstart, Count: pcount, Fields: make(map[string][]float64, len(values))}
	for name, arr := range values {
		msg.Fields[name] = arr.Data
	}
	raw, err := msgpack.Marshal(&msg)
	if err != nil {
		return errs.WrapIO(err, "hyperslab", "WriteRecord", "encoding gather payload")
	}

	slabs, err := io.comm.Gather(rootRank, raw)
	if err != nil {
		return errs.WrapIO(err, "hyperslab", "WriteRecord", "gather")
	}

	status := ""
	if io.comm.Rank() == rootRank {
		if err := io.writeAllSlabs(path, spec, t, slabs); err != nil {
			status = err.Error()
		}
	}
	rawStatus, err := io.comm.Broadcast(rootRank, []byte(status))
	if err != nil {
		return errs.WrapIO(err, "hyperslab", "WriteRecord", "status broadcast")
	}
	if len(rawStatus) > 0 {
		return errs.IOf("hyperslab", "WriteRecord", "%s (root worker): %s", path, string(rawStatus))
	}
	return nil
}

// writeAllSlabs is the root side of an independent-mode write: it defines
// the file if needed and writes every gathered slab plus the time
// coordinate as one new record.
func (io *IO) writeAllSlabs(path string, spec FileSpec, t time.Time, slabs [][]byte) error {
	if !FileExists(path) {
		if err := io.defineFile(path, spec); err != nil {
			return err
		}
	}
	sf, err := slabfile.OpenAppend(path)
	if err != nil {
		return err
	}
	defer sf.Close()

	rec, err := sf.NumRecords()
	if err != nil {
		return err
	}

	for rank, raw := range slabs {
		var msg writeSlabMsg
		if err := msgpack.Unmarshal(raw, &msg); err != nil {
			return errs.WrapIO(err, "hyperslab", "WriteRecord", fmt.Sprintf("decoding slab from rank %d", rank))
		}
		start := append([]int{rec}, msg.Start...)
		count := append([]int{1}, msg.Count...)
		for _, vs := range spec.Fields {
			data, ok := msg.Fields[vs.Name]
			if !ok {
				return errs.IOf("hyperslab", "WriteRecord", "%s: rank %d sent no data for field %q", path, rank, vs.Name)
			}
			if err := sf.WriteSlab(vs.Name, start, count, data); err != nil {
				return err
			}
		}
	}

	hours := timeutil.HoursSince(t, spec.Epoch)
	if err := sf.WriteSlab("time", []int{rec}, []int{1}, []float64{hours}); err != nil {
		return err
	}
	return sf.Sync()
}
