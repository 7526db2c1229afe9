// Package engine ties the input and output pipelines to the simulation
// lifecycle: Initialize builds streams and collections from descriptors,
// Step runs one simulation tick, and Finalize forces the shutdown flush.
// All state lives in the Engine value handed back to the caller; nothing
// is process-global.
package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coupledsim/fieldio/internal/comm"
	"github.com/coupledsim/fieldio/internal/errs"
	"github.com/coupledsim/fieldio/internal/field"
	"github.com/coupledsim/fieldio/internal/grid"
	"github.com/coupledsim/fieldio/internal/hyperslab"
	"github.com/coupledsim/fieldio/internal/input"
	"github.com/coupledsim/fieldio/internal/metrics"
	"github.com/coupledsim/fieldio/internal/output"
	"github.com/coupledsim/fieldio/internal/timeutil"
	"github.com/coupledsim/fieldio/pkg/config"
)

// DefaultEpoch anchors the time coordinate of output files when the
// configuration does not name one.
var DefaultEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// defaultPartitionThreshold is the worker count at or above which
// parallel-capable storage is accessed collectively.
const defaultPartitionThreshold = 2

// Engine is one worker's I/O engine instance.
type Engine struct {
	runID   string
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	part *grid.Partition
	io   *hyperslab.IO

	streams     map[string]*input.Stream
	streamOrder []string

	collections map[string]*output.Collection
	collOrder   []string

	staged map[string]map[string]*field.Array

	initialized bool
	finalized   bool
}

// New creates an uninitialized engine.
func New(logger *zap.SugaredLogger, m *metrics.Metrics) *Engine {
	return &Engine{
		runID:       uuid.NewString(),
		logger:      logger,
		metrics:     m,
		streams:     make(map[string]*input.Stream),
		collections: make(map[string]*output.Collection),
		staged:      make(map[string]map[string]*field.Array),
	}
}

// RunID returns the unique identifier of this engine instance.
func (e *Engine) RunID() string { return e.runID }

// IO returns the hyperslab layer, available after Initialize.
func (e *Engine) IO() *hyperslab.IO { return e.io }

// Initialize builds the engine from validated descriptors, the worker's
// grid partition, and the worker communicator. Descriptors are treated
// as immutable from here on.
func (e *Engine) Initialize(cfg *config.ConfigData, part *grid.Partition, cm comm.Communicator) error {
	if e.initialized {
		return errs.Statef("engine", "Initialize", "already initialized")
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	mode, err := selectAccessMode(cfg.IO, cm.Size())
	if err != nil {
		return err
	}
	e.part = part
	e.io = hyperslab.New(part, cm, mode)

	epoch := DefaultEpoch
	if cfg.IO.Epoch != "" {
		if epoch, err = timeutil.ParseTimestamp(cfg.IO.Epoch); err != nil {
			return errs.WrapConfig(err, "engine", "Initialize", "io epoch")
		}
	}
	clockStart, err := timeutil.ParseTimestamp(cfg.Clock.Start)
	if err != nil {
		return errs.WrapConfig(err, "engine", "Initialize", "clock start")
	}

	for _, sd := range cfg.Streams {
		s, err := input.NewStream(sd, e.io, e.logger)
		if err != nil {
			return err
		}
		e.streams[sd.Name] = s
		e.streamOrder = append(e.streamOrder, sd.Name)
	}

	for _, cd := range cfg.Collections {
		c, err := output.NewCollection(cd, e.io, epoch, cfg.IO.OutputDir, clockStart, e.logger)
		if err != nil {
			return err
		}
		e.collections[cd.Name] = c
		e.collOrder = append(e.collOrder, cd.Name)
	}

	e.initialized = true
	e.logger.Infow("engine initialized",
		"run_id", e.runID,
		"rank", cm.Rank(),
		"workers", cm.Size(),
		"access_mode", mode.String(),
		"partition", part.String(),
		"streams", len(e.streams),
		"collections", len(e.collections),
	)
	return nil
}

func selectAccessMode(io config.IOData, workers int) (hyperslab.Mode, error) {
	switch io.Access {
	case "", "auto":
		threshold := io.PartitionThreshold
		if threshold <= 0 {
			threshold = defaultPartitionThreshold
		}
		return hyperslab.SelectMode(io.ParallelCapable, workers, threshold), nil
	default:
		mode, err := hyperslab.ParseMode(io.Access)
		if err != nil {
			return mode, errs.WrapConfig(err, "engine", "Initialize", "io access")
		}
		return mode, nil
	}
}

// ensureCovered refills a stream's buffer for the target time if needed,
// counting reads and buffer hits.
func (e *Engine) ensureCovered(name string, s *input.Stream, target time.Time) error {
	if s.Covers(target) {
		e.metrics.StreamCacheHits.WithLabelValues(name).Inc()
		return nil
	}
	e.metrics.StreamReads.WithLabelValues(name).Inc()
	if err := s.EnsureCoverage(target); err != nil {
		e.metrics.RefillErrors.WithLabelValues(name).Inc()
		return err
	}
	return nil
}

// Field returns the named stream field interpolated to the target time,
// refilling the stream's buffer first when it does not cover the target.
func (e *Engine) Field(stream, fieldName string, target time.Time) (*field.Array, error) {
	if !e.initialized {
		return nil, errs.WrapState(errs.ErrNotInitialized, "engine", "Field", stream)
	}
	s, ok := e.streams[stream]
	if !ok {
		return nil, errs.Configf("engine", "Field", "unknown stream %q", stream)
	}
	if err := e.ensureCovered(stream, s, target); err != nil {
		return nil, err
	}
	return s.Interpolate(target, fieldName)
}

// Stage supplies the simulation's current value of one collection field,
// to be accumulated on the next Step. Staging the same field twice
// before a Step overwrites the earlier value.
func (e *Engine) Stage(collection, fieldName string, sample *field.Array) error {
	if !e.initialized {
		return errs.WrapState(errs.ErrNotInitialized, "engine", "Stage", collection)
	}
	if _, ok := e.collections[collection]; !ok {
		return errs.Configf("engine", "Stage", "unknown collection %q", collection)
	}
	if e.staged[collection] == nil {
		e.staged[collection] = make(map[string]*field.Array)
	}
	e.staged[collection][fieldName] = sample
	return nil
}

// Step runs one simulation tick: input buffers are refilled to cover the
// current time, staged output samples are accumulated, and due
// collections are flushed. Within the tick, refill precedes
// interpolation, accumulation precedes the due check, and a flush
// precedes its accumulator reset.
//
// A refill failure aborts the run, since simulation data can no longer
// be trusted to be current. A flush failure aborts only that
// collection's write for this tick; its accumulators are retained and
// the write retries at the next scheduled tick.
func (e *Engine) Step(now time.Time) error {
	if !e.initialized {
		return errs.WrapState(errs.ErrNotInitialized, "engine", "Step", "")
	}
	if e.finalized {
		return errs.WrapState(errs.ErrAlreadyFinalized, "engine", "Step", "")
	}

	for _, name := range e.streamOrder {
		if err := e.ensureCovered(name, e.streams[name], now); err != nil {
			return err
		}
	}

	for _, name := range e.collOrder {
		c := e.collections[name]
		for fieldName, sample := range e.staged[name] {
			if err := c.Accumulate(fieldName, sample); err != nil {
				return err
			}
		}
		delete(e.staged, name)

		if c.CheckDue(now) {
			if err := c.Flush(now); err != nil {
				e.metrics.FlushErrors.WithLabelValues(name).Inc()
				e.logger.Errorf("collection %s: flush failed, retaining accumulated data: %v", name, err)
				continue
			}
			e.metrics.Flushes.WithLabelValues(name).Inc()
		}
	}

	e.metrics.Steps.Inc()
	return nil
}

// Finalize forces every collection due exactly once and flushes any
// partially accumulated data, then marks the engine finished. Flush
// errors at shutdown are reported but do not stop the remaining
// collections from flushing.
func (e *Engine) Finalize(now time.Time) error {
	if !e.initialized {
		return errs.WrapState(errs.ErrNotInitialized, "engine", "Finalize", "")
	}
	if e.finalized {
		return errs.WrapState(errs.ErrAlreadyFinalized, "engine", "Finalize", "")
	}

	var flushErrs []error
	for _, name := range e.collOrder {
		c := e.collections[name]
		if !c.HasData() {
			e.logger.Debugf("collection %s: nothing accumulated, skipping shutdown flush", name)
			continue
		}
		c.ForceDue()
		if err := c.Flush(now); err != nil {
			e.metrics.FlushErrors.WithLabelValues(name).Inc()
			flushErrs = append(flushErrs, err)
			continue
		}
		e.metrics.Flushes.WithLabelValues(name).Inc()
	}

	e.finalized = true
	e.logger.Infow("engine finalized", "run_id", e.runID)
	return errors.Join(flushErrs...)
}
