// Package input implements the temporal buffering and interpolation
// pipeline for external forcing streams. Each stream keeps the two data
// samples bracketing the simulation clock and serves interpolated field
// values for any target time inside the bracket without touching storage.
package input

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coupledsim/fieldio/internal/errs"
	"github.com/coupledsim/fieldio/internal/field"
	"github.com/coupledsim/fieldio/internal/hyperslab"
	"github.com/coupledsim/fieldio/internal/timeutil"
	"github.com/coupledsim/fieldio/pkg/config"
)

// TemporalBuffer holds the two bracketing samples of a stream. When the
// target time falls outside the data's time extent both slots hold the
// boundary sample, so T1 == T2.
type TemporalBuffer struct {
	T1, T2 time.Time
	F1, F2 map[string]*field.Array
	Filled bool
}

// Covers reports whether t lies inside the buffered bracket.
func (b *TemporalBuffer) Covers(t time.Time) bool {
	return b.Filled && !t.Before(b.T1) && !t.After(b.T2)
}

// Stream is one input stream: its descriptor, its temporal buffer, and
// the I/O layer used to refill it.
type Stream struct {
	name        string
	fileTmpl    string
	calendar    timeutil.Calendar
	climatology bool
	refYear     int
	validYears  [2]int
	extrapolate bool
	start, end  time.Time
	freq        time.Duration
	method      InterpMethod
	fields      []config.FieldData

	io     *hyperslab.IO
	buf    TemporalBuffer
	logger *zap.SugaredLogger
}

// NewStream builds a stream from its descriptor. Descriptor fields are
// parsed once here; the stream is immutable afterwards except for its
// buffer.
func NewStream(cfg config.StreamData, io *hyperslab.IO, logger *zap.SugaredLogger) (*Stream, error) {
	cal, err := timeutil.ParseCalendar(cfg.Calendar)
	if err != nil {
		return nil, errs.WrapConfig(err, "input", "NewStream", cfg.Name)
	}
	start, err := timeutil.ParseTimestamp(cfg.StartTime)
	if err != nil {
		return nil, errs.WrapConfig(err, "input", "NewStream", cfg.Name+" start_time")
	}
	end, err := timeutil.ParseTimestamp(cfg.EndTime)
	if err != nil {
		return nil, errs.WrapConfig(err, "input", "NewStream", cfg.Name+" end_time")
	}
	freq, err := timeutil.ParseInterval(cfg.Frequency)
	if err != nil {
		return nil, errs.WrapConfig(err, "input", "NewStream", cfg.Name+" frequency")
	}
	method, err := ParseInterpMethod(cfg.TimeInterp)
	if err != nil {
		return nil, errs.WrapConfig(err, "input", "NewStream", cfg.Name)
	}

	return &Stream{
		name:        cfg.Name,
		fileTmpl:    cfg.File,
		calendar:    cal,
		climatology: cfg.Climatology,
		refYear:     cfg.RefYear,
		validYears:  cfg.ValidYears,
		extrapolate: cfg.Extrapolate,
		start:       start,
		end:         end,
		freq:        freq,
		method:      method,
		fields:      cfg.Fields,
		io:          io,
		logger:      logger,
	}, nil
}

// Name returns the stream's name.
func (s *Stream) Name() string { return s.name }

// FieldNames returns the names of the stream's fields.
func (s *Stream) FieldNames() []string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.Name
	}
	return names
}

// Buffer exposes the temporal buffer for inspection.
func (s *Stream) Buffer() *TemporalBuffer { return &s.buf }

// Covers reports whether the buffer already brackets the target time,
// with the climatology projection applied. An unprojectable target
// reports false and surfaces its error on the next EnsureCoverage call.
func (s *Stream) Covers(target time.Time) bool {
	mapped, err := s.mapTarget(target)
	if err != nil {
		return false
	}
	return s.buf.Covers(mapped)
}

// resolvePath substitutes time tokens (%Y, %m, %d) into the stream's file
// template.
func (s *Stream) resolvePath(t time.Time) string {
	r := strings.NewReplacer(
		"%Y", fmt.Sprintf("%04d", t.Year()),
		"%m", fmt.Sprintf("%02d", int(t.Month())),
		"%d", fmt.Sprintf("%02d", t.Day()),
	)
	return r.Replace(s.fileTmpl)
}

// mapTarget applies the climatology projection: target times are moved
// onto the reference year before bracket lookup. Years outside the
// validity window repeat the nearest available data when extrapolation is
// enabled and error otherwise.
func (s *Stream) mapTarget(target time.Time) (time.Time, error) {
	if !s.climatology {
		return target, nil
	}
	year := target.Year()
	if year < s.validYears[0] || year > s.validYears[1] {
		if !s.extrapolate {
			return time.Time{}, errs.WrapConfig(errs.ErrOutsideValidity, "input", "EnsureCoverage",
				fmt.Sprintf("stream %q: year %d outside valid years %v and extrapolation disabled", s.name, year, s.validYears))
		}
	}
	return timeutil.ProjectToYear(target, s.refYear, s.calendar), nil
}

// bracket computes the two source timestamps surrounding target on the
// stream's sampling grid, clamped to the descriptor's validity window.
// Outside the window both ends equal the nearest boundary.
func (s *Stream) bracket(target time.Time) (t1, t2 time.Time) {
	if target.Before(s.start) {
		return s.start, s.start
	}
	if target.After(s.end) {
		return s.end, s.end
	}
	t1 = timeutil.FloorToGrid(target, s.start, s.freq)
	t2 = t1.Add(s.freq)
	if t2.After(s.end) {
		t2 = s.end
	}
	return t1, t2
}

// EnsureCoverage guarantees the buffer brackets the target time, reading
// new samples through the hyperslab layer when it does not. A refill
// failure is logged once and propagated; the caller decides whether the
// run can continue.
func (s *Stream) EnsureCoverage(target time.Time) error {
	mapped, err := s.mapTarget(target)
	if err != nil {
		return err
	}
	if s.buf.Covers(mapped) {
		return nil
	}

	t1, t2 := s.bracket(mapped)
	if s.buf.Filled && s.buf.T1.Equal(t1) && s.buf.T2.Equal(t2) {
		return nil
	}

	// advancing by one sample reuses the trailing slot
	var f1 map[string]*field.Array
	if s.buf.Filled && s.buf.T2.Equal(t1) {
		f1 = s.buf.F2
	} else {
		f1, err = s.readSample(t1)
		if err != nil {
			s.logger.Warnf("stream %s: refill at %s failed: %v", s.name, timeutil.FormatTimestamp(t1), err)
			return err
		}
	}

	f2 := f1
	if !t2.Equal(t1) {
		f2, err = s.readSample(t2)
		if err != nil {
			s.logger.Warnf("stream %s: refill at %s failed: %v", s.name, timeutil.FormatTimestamp(t2), err)
			return err
		}
	}

	s.buf = TemporalBuffer{T1: t1, T2: t2, F1: f1, F2: f2, Filled: true}
	s.logger.Debugf("stream %s: buffer now covers [%s, %s]",
		s.name, timeutil.FormatTimestamp(t1), timeutil.FormatTimestamp(t2))
	return nil
}

// readSample reads every field of the stream at one source timestamp.
func (s *Stream) readSample(t time.Time) (map[string]*field.Array, error) {
	path := s.resolvePath(t)
	sample := make(map[string]*field.Array, len(s.fields))
	for _, f := range s.fields {
		arr, err := s.io.ReadFieldAtTime(path, f.Name, t)
		if err != nil {
			return nil, err
		}
		sample[f.Name] = arr
	}
	return sample, nil
}

// Interpolate returns the named field's value at the target time using
// the stream's interpolation policy. The buffer must already cover the
// target.
func (s *Stream) Interpolate(target time.Time, fieldName string) (*field.Array, error) {
	mapped, err := s.mapTarget(target)
	if err != nil {
		return nil, err
	}
	if !s.buf.Filled {
		return nil, errs.Statef("input", "Interpolate", "stream %q: buffer not filled", s.name)
	}
	a1, ok := s.buf.F1[fieldName]
	if !ok {
		return nil, errs.IOf("input", "Interpolate", "stream %q has no field %q", s.name, fieldName)
	}
	a2 := s.buf.F2[fieldName]
	return interpolate(s.method, s.buf.T1, s.buf.T2, mapped, a1, a2)
}
