// Package hyperslab maps a worker's grid partition onto file-level
// start/count coordinates and performs the distributed reads and writes
// against slab files. Access is either collective (every worker touches
// the file together, each addressing its own disjoint hyperslab) or
// independent (a designated root worker performs the file I/O and the
// data moves over the communicator).
package hyperslab

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/coupledsim/fieldio/internal/comm"
	"github.com/coupledsim/fieldio/internal/errs"
	"github.com/coupledsim/fieldio/internal/field"
	"github.com/coupledsim/fieldio/internal/grid"
	"github.com/coupledsim/fieldio/internal/slabfile"
	"github.com/coupledsim/fieldio/internal/timeutil"
)

// Mode selects how workers access a shared file.
type Mode int

const (
	// ModeCollective has every worker issue the read/write together,
	// each visiting only its own partition.
	ModeCollective Mode = iota
	// ModeIndependent has the root worker perform all file I/O; data
	// moves between workers over the communicator.
	ModeIndependent
)

// String returns the mode's configuration spelling.
func (m Mode) String() string {
	if m == ModeIndependent {
		return "independent"
	}
	return "collective"
}

// ParseMode parses a mode from its configuration spelling.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "collective":
		return ModeCollective, nil
	case "independent":
		return ModeIndependent, nil
	default:
		return ModeCollective, fmt.Errorf("unknown access mode %q", s)
	}
}

// rootRank is the worker designated to touch the file in independent mode
// and to define new files in collective mode.
const rootRank = 0

// SelectMode chooses the access mode. The choice is a pure function of
// the storage capability flag and the worker count against a threshold,
// so a given configuration always pins the same mode.
func SelectMode(parallelCapable bool, workerCount, threshold int) Mode {
	if !parallelCapable {
		return ModeIndependent
	}
	if workerCount >= threshold {
		return ModeCollective
	}
	return ModeIndependent
}

// VarSpec describes one field variable to define in an output file.
type VarSpec struct {
	Name  string
	Type  string
	Attrs map[string]string
}

// FileSpec describes the schema of an output file on first write.
type FileSpec struct {
	Fields []VarSpec
	Attrs  map[string]string
	Epoch  time.Time
}

// IO performs distributed hyperslab reads and writes for one worker.
type IO struct {
	part *grid.Partition
	comm comm.Communicator
	mode Mode
}

// New creates the hyperslab I/O layer for a worker.
func New(part *grid.Partition, cm comm.Communicator, mode Mode) *IO {
	return &IO{part: part, comm: cm, mode: mode}
}

// Mode returns the configured access mode.
func (io *IO) Mode() Mode { return io.mode }

// Partition returns the worker's grid partition.
func (io *IO) Partition() *grid.Partition { return io.part }

// dimNames returns the spatial dimension names for a given rank, fastest
// varying last.
func dimNames(rank int) ([]string, error) {
	switch rank {
	case 1:
		return []string{"x"}, nil
	case 2:
		return []string{"y", "x"}, nil
	case 3:
		return []string{"lev", "y", "x"}, nil
	default:
		return nil, errs.WrapIO(errs.ErrUnsupportedRank, "hyperslab", "dimNames", fmt.Sprintf("rank %d", rank))
	}
}

// timeUnits renders the time coordinate units attribute for an epoch.
func timeUnits(epoch time.Time) string {
	return "hours since " + epoch.UTC().Format("2006-01-02 15:04:05")
}

// parseTimeUnits recovers the epoch from a time units attribute.
func parseTimeUnits(units string) (time.Time, error) {
	const prefix = "hours since "
	if !strings.HasPrefix(units, prefix) {
		return time.Time{}, fmt.Errorf("unsupported time units %q", units)
	}
	t, err := time.Parse("2006-01-02 15:04:05", strings.TrimSpace(units[len(prefix):]))
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed time units %q: %w", units, err)
	}
	return t.UTC(), nil
}

// findTimeIndex locates the record whose time coordinate matches t.
func findTimeIndex(sf *slabfile.File, t time.Time) (int, error) {
	var timeVar *slabfile.Var
	for i := range sf.Schema().Vars {
		if sf.Schema().Vars[i].Name == "time" {
			timeVar = &sf.Schema().Vars[i]
		}
	}
	if timeVar == nil {
		return 0, errs.WrapIO(errs.ErrVarNotFound, "hyperslab", "findTimeIndex", sf.Path()+": time")
	}
	epoch, err := parseTimeUnits(timeVar.Attrs["units"])
	if err != nil {
		return 0, errs.WrapIO(err, "hyperslab", "findTimeIndex", sf.Path())
	}
	values, err := sf.RecordValues("time")
	if err != nil {
		return 0, err
	}
	want := timeutil.HoursSince(t, epoch)
	const tol = 1e-6
	for i, v := range values {
		if v >= want-tol && v <= want+tol {
			return i, nil
		}
	}
	return 0, errs.WrapIO(errs.ErrTimeNotFound, "hyperslab", "findTimeIndex",
		fmt.Sprintf("%s: %s", sf.Path(), timeutil.FormatTimestamp(t)))
}

// checkVarShape verifies the file variable's spatial extents match the
// global grid the partition was built against.
func (io *IO) checkVarShape(sf *slabfile.File, varName string) error {
	var v *slabfile.Var
	for i := range sf.Schema().Vars {
		if sf.Schema().Vars[i].Name == varName {
			v = &sf.Schema().Vars[i]
		}
	}
	if v == nil {
		return errs.WrapIO(errs.ErrVarNotFound, "hyperslab", "checkVarShape", fmt.Sprintf("%s: %s", sf.Path(), varName))
	}

	var spatial []int
	for _, dn := range v.Dims {
		for _, d := range sf.Schema().Dims {
			if d.Name == dn && !d.Unlimited {
				spatial = append(spatial, d.Len)
			}
		}
	}
	if len(spatial) != io.part.Rank() {
		return errs.WrapIO(errs.ErrShapeMismatch, "hyperslab", "checkVarShape",
			fmt.Sprintf("%s: variable %q has rank %d, partition has rank %d", sf.Path(), varName, len(spatial), io.part.Rank()))
	}
	for i, g := range io.part.Global {
		if spatial[i] != g {
			return errs.WrapIO(errs.ErrShapeMismatch, "hyperslab", "checkVarShape",
				fmt.Sprintf("%s: variable %q extent %v does not match global grid %v", sf.Path(), varName, spatial, io.part.Global))
		}
	}
	return nil
}

// readPayload is the broadcast envelope for independent-mode reads.
type readPayload struct {
	Err  string    `msgpack:"err,omitempty"`
	Data []float64 `msgpack:"data"`
}

// ReadFieldAtTime reads this worker's partition of varName at the record
// whose time coordinate equals t.
func (io *IO) ReadFieldAtTime(path, varName string, t time.Time) (*field.Array, error) {
	if io.mode == ModeCollective {
		arr, err := io.readLocal(path, varName, t)
		// every worker entered the collective call; synchronize before
		// surfacing any per-worker error
		if berr := io.comm.Barrier(); berr != nil && err == nil {
			err = berr
		}
		return arr, err
	}
	return io.readBroadcast(path, varName, t)
}

// readLocal opens the file and reads only this worker's hyperslab.
func (io *IO) readLocal(path, varName string, t time.Time) (*field.Array, error) {
	sf, err := slabfile.Open(path)
	if err != nil {
		return nil, err
	}
	defer sf.Close()

	if err := io.checkVarShape(sf, varName); err != nil {
		return nil, err
	}
	idx, err := findTimeIndex(sf, t)
	if err != nil {
		return nil, err
	}

	pstart, pcount := io.part.StartCount()
	start := append([]int{idx}, pstart...)
	count := append([]int{1}, pcount...)
	data, err := sf.ReadSlab(varName, start, count)
	if err != nil {
		return nil, err
	}
	return field.FromData(data, io.part.Shape()...)
}

// readBroadcast has the root worker read the full global slab and
// broadcast it; every worker then extracts its own partition.
func (io *IO) readBroadcast(path, varName string, t time.Time) (*field.Array, error) {
	root := rootRank
	var payload readPayload

	if io.comm.Rank() == root {
		payload.Data, payload.Err = io.readGlobal(path, varName, t)
	}
	raw, err := msgpack.Marshal(&payload)
	if err != nil {
		return nil, errs.WrapIO(err, "hyperslab", "ReadFieldAtTime", "encoding broadcast payload")
	}
	raw, err = io.comm.Broadcast(root, raw)
	if err != nil {
		return nil, errs.WrapIO(err, "hyperslab", "ReadFieldAtTime", "broadcast")
	}
	if err := msgpack.Unmarshal(raw, &payload); err != nil {
		return nil, errs.WrapIO(err, "hyperslab", "ReadFieldAtTime", "decoding broadcast payload")
	}
	if payload.Err != "" {
		return nil, errs.IOf("hyperslab", "ReadFieldAtTime", "%s: %s (root worker): %s", path, varName, payload.Err)
	}

	local := extractLocal(payload.Data, io.part)
	return field.FromData(local, io.part.Shape()...)
}

// readGlobal reads the entire global slab at time t; only the root worker
// calls this in independent mode. The error is returned as a string so it
// can travel in the broadcast envelope.
func (io *IO) readGlobal(path, varName string, t time.Time) ([]float64, string) {
	sf, err := slabfile.Open(path)
	if err != nil {
		return nil, err.Error()
	}
	defer sf.Close()

	if err := io.checkVarShape(sf, varName); err != nil {
		return nil, err.Error()
	}
	idx, err := findTimeIndex(sf, t)
	if err != nil {
		return nil, err.Error()
	}

	start := make([]int, io.part.Rank()+1)
	count := make([]int, io.part.Rank()+1)
	start[0], count[0] = idx, 1
	for i, g := range io.part.Global {
		count[i+1] = g
	}
	data, err := sf.ReadSlab(varName, start, count)
	if err != nil {
		return nil, err.Error()
	}
	return data, ""
}

// extractLocal copies a worker's partition out of a row-major global
// array.
func extractLocal(global []float64, p *grid.Partition) []float64 {
	strides := make([]int, p.Rank())
	strides[p.Rank()-1] = 1
	for d := p.Rank() - 2; d >= 0; d-- {
		strides[d] = strides[d+1] * p.Global[d+1]
	}

	shape := p.Shape()
	local := make([]float64, p.Size())
	idx := make([]int, p.Rank())
	pos := 0
	for {
		off := 0
		for d := 0; d < p.Rank()-1; d++ {
			off += (p.Local[d].Lo + idx[d]) * strides[d]
		}
		off += p.Local[p.Rank()-1].Lo
		copy(local[pos:pos+shape[p.Rank()-1]], global[off:off+shape[p.Rank()-1]])
		pos += shape[p.Rank()-1]

		d := p.Rank() - 2
		for ; d >= 0; d-- {
			idx[d]++
			if idx[d] < shape[d] {
				break
			}
			idx[d] = 0
		}
		if d < 0 {
			return local
		}
	}
}

// FileExists reports whether a regular file exists at path.
func FileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}
