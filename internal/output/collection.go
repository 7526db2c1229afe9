package output

import (
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/coupledsim/fieldio/internal/errs"
	"github.com/coupledsim/fieldio/internal/field"
	"github.com/coupledsim/fieldio/internal/hyperslab"
	"github.com/coupledsim/fieldio/internal/timeutil"
	"github.com/coupledsim/fieldio/pkg/config"
)

// Collection is one output collection: its descriptor, per-field
// accumulators, schedule state, and the I/O layer its flushes go
// through.
type Collection struct {
	name       string
	fileBase   string
	fileExt    string
	fields     []config.FieldData
	doAvg      bool
	doMax      bool
	doMin      bool
	appendMode bool
	timeOffset time.Duration

	accums map[string]*Accumulator
	last   map[string]*field.Array
	sched  *Scheduler

	io        *hyperslab.IO
	epoch     time.Time
	outputDir string
	logger    *zap.SugaredLogger
}

// NewCollection builds a collection from its descriptor. The schedule's
// first due time is clockStart plus the output frequency.
func NewCollection(cfg config.CollectionData, io *hyperslab.IO, epoch time.Time, outputDir string, clockStart time.Time, logger *zap.SugaredLogger) (*Collection, error) {
	freq, err := timeutil.ParseInterval(cfg.Frequency)
	if err != nil {
		return nil, errs.WrapConfig(err, "output", "NewCollection", cfg.Name+" frequency")
	}
	var offset time.Duration
	if cfg.TimeOffset != "" {
		offset, err = timeutil.ParseInterval(cfg.TimeOffset)
		if err != nil {
			return nil, errs.WrapConfig(err, "output", "NewCollection", cfg.Name+" time_offset")
		}
	}

	ext := cfg.FileExt
	if ext == "" {
		ext = "slab"
	}

	c := &Collection{
		name:       cfg.Name,
		fileBase:   cfg.FileBase,
		fileExt:    ext,
		fields:     cfg.Fields,
		doAvg:      cfg.DoAverage,
		doMax:      cfg.DoMax,
		doMin:      cfg.DoMin,
		appendMode: cfg.Append,
		timeOffset: offset,
		accums:     make(map[string]*Accumulator, len(cfg.Fields)),
		last:       make(map[string]*field.Array, len(cfg.Fields)),
		sched:      NewScheduler(freq, clockStart),
		io:         io,
		epoch:      epoch,
		outputDir:  outputDir,
		logger:     logger,
	}

	shape := io.Partition().Shape()
	for _, f := range cfg.Fields {
		c.accums[f.Name] = NewAccumulator(shape, cfg.DoMax, cfg.DoMin)
	}
	return c, nil
}

// Name returns the collection's name.
func (c *Collection) Name() string { return c.name }

// Scheduler exposes the schedule state for inspection.
func (c *Collection) Scheduler() *Scheduler { return c.sched }

// Accumulator returns the named field's accumulator.
func (c *Collection) Accumulator(fieldName string) (*Accumulator, bool) {
	a, ok := c.accums[fieldName]
	return a, ok
}

// FieldNames returns the names of the collection's fields.
func (c *Collection) FieldNames() []string {
	names := make([]string, len(c.fields))
	for i, f := range c.fields {
		names[i] = f.Name
	}
	return names
}

// Accumulate folds the current step's sample for one field into the
// collection's statistics and retains it as the most recent raw value.
func (c *Collection) Accumulate(fieldName string, sample *field.Array) error {
	acc, ok := c.accums[fieldName]
	if !ok {
		return errs.IOf("output", "Accumulate", "collection %q has no field %q", c.name, fieldName)
	}
	if err := acc.Accumulate(sample); err != nil {
		return errs.WrapIO(err, "output", "Accumulate", fmt.Sprintf("collection %q field %q", c.name, fieldName))
	}
	c.last[fieldName] = sample.Clone()
	return nil
}

// CheckDue advances the schedule and reports whether a flush is due.
func (c *Collection) CheckDue(now time.Time) bool {
	return c.sched.Check(now)
}

// ForceDue marks the collection due for the shutdown flush.
func (c *Collection) ForceDue() {
	c.sched.ForceDue()
}

// HasData reports whether any field has received a sample since the last
// reset, so an empty shutdown flush can be skipped.
func (c *Collection) HasData() bool {
	return len(c.last) > 0
}

// filename builds the output path for a flush at time t. Append-mode
// collections accumulate records in a single file; otherwise each flush
// gets a timestamped file.
func (c *Collection) filename(t time.Time) string {
	var name string
	if c.appendMode {
		name = fmt.Sprintf("%s.%s", c.fileBase, c.fileExt)
	} else {
		name = fmt.Sprintf("%s.%s.%s", c.fileBase, timeutil.Stamp(t), c.fileExt)
	}
	return filepath.Join(c.outputDir, name)
}

// emitValue selects what a field writes: the finalized average when
// averaging is enabled for the collection or for the field itself, else
// the running max or min, else the most recent raw sample.
func (c *Collection) emitValue(f config.FieldData) (*field.Array, error) {
	acc := c.accums[f.Name]
	switch {
	case c.doAvg || f.TimeAverage:
		return acc.FinalizeAverage(), nil
	case c.doMax:
		return acc.Max().Clone(), nil
	case c.doMin:
		return acc.Min().Clone(), nil
	default:
		last, ok := c.last[f.Name]
		if !ok {
			return nil, errs.Statef("output", "Flush", "collection %q field %q has no sample to emit", c.name, f.Name)
		}
		return last.Clone(), nil
	}
}

// Flush writes the collection's current statistics as one time record
// and resets the accumulators. On failure the accumulators and schedule
// are left untouched so the same data is retried at the next scheduled
// tick; other collections are unaffected.
func (c *Collection) Flush(now time.Time) error {
	if err := c.sched.BeginWrite(); err != nil {
		return err
	}

	recordTime := now.Add(c.timeOffset)
	values := make(map[string]*field.Array, len(c.fields))
	specs := make([]hyperslab.VarSpec, 0, len(c.fields))
	for _, f := range c.fields {
		v, err := c.emitValue(f)
		if err != nil {
			c.sched.Abort()
			return err
		}
		values[f.Name] = v

		typ := f.Precision
		if typ == "" {
			typ = "f4"
		}
		attrs := map[string]string{}
		if f.Units != "" {
			attrs["units"] = f.Units
		}
		if f.LongName != "" {
			attrs["long_name"] = f.LongName
		}
		specs = append(specs, hyperslab.VarSpec{Name: f.Name, Type: typ, Attrs: attrs})
	}

	path := c.filename(recordTime)
	spec := hyperslab.FileSpec{
		Fields: specs,
		Attrs:  map[string]string{"collection": c.name},
		Epoch:  c.epoch,
	}

	if err := c.io.WriteRecord(path, spec, recordTime, values); err != nil {
		c.sched.Abort()
		return errs.WrapIO(err, "output", "Flush", fmt.Sprintf("collection %q file %s", c.name, path))
	}

	c.sched.Complete(now)
	for _, acc := range c.accums {
		acc.Reset()
	}
	c.last = make(map[string]*field.Array, len(c.fields))
	c.logger.Infof("collection %s: wrote %s at %s", c.name, path, timeutil.FormatTimestamp(recordTime))
	return nil
}
