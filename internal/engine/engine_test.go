package engine

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coupledsim/fieldio/internal/comm"
	"github.com/coupledsim/fieldio/internal/errs"
	"github.com/coupledsim/fieldio/internal/grid"
	"github.com/coupledsim/fieldio/internal/metrics"
	"github.com/coupledsim/fieldio/internal/slabfile"
	"github.com/coupledsim/fieldio/pkg/config"
)

// writeForcingFile creates a 2x2 input file with sst samples every six
// hours: 10 at 0h, 20 at 6h, 30 at 12h.
func writeForcingFile(t *testing.T, path string) {
	t.Helper()
	sf, err := slabfile.Create(path)
	require.NoError(t, err)
	require.NoError(t, sf.AddDim("time", 0, true))
	require.NoError(t, sf.AddDim("y", 2, false))
	require.NoError(t, sf.AddDim("x", 2, false))
	require.NoError(t, sf.AddVar("time", slabfile.TypeF8, []string{"time"},
		map[string]string{"units": "hours since 2000-01-01 00:00:00"}))
	require.NoError(t, sf.AddVar("sst", slabfile.TypeF8, []string{"time", "y", "x"}, nil))
	require.NoError(t, sf.EndDef())

	for i, v := range []float64{10, 20, 30} {
		require.NoError(t, sf.WriteSlab("time", []int{i}, []int{1}, []float64{float64(i * 6)}))
		require.NoError(t, sf.WriteSlab("sst", []int{i, 0, 0}, []int{1, 2, 2}, []float64{v, v, v, v}))
	}
	require.NoError(t, sf.Close())
}

func testConfig(inputFile, outputDir string) *config.ConfigData {
	return &config.ConfigData{
		Clock: config.ClockData{
			Start: "2000-01-01-00:00:00",
			End:   "2000-01-01-12:00:00",
			Step:  "PT3H",
		},
		Grid: config.GridData{Shape: []int{2, 2}},
		IO:   config.IOData{OutputDir: outputDir},
		Streams: []config.StreamData{{
			Name:      "ocean",
			File:      inputFile,
			StartTime: "2000-01-01-00:00:00",
			EndTime:   "2000-01-01-12:00:00",
			Frequency: "PT6H",
			Fields:    []config.FieldData{{Name: "sst", Units: "K"}},
		}},
		Collections: []config.CollectionData{{
			Name:      "means",
			FileBase:  "sst_avg",
			Frequency: "PT6H",
			DoAverage: true,
			Append:    true,
			Fields:    []config.FieldData{{Name: "sst", Units: "K", Precision: "f8"}},
		}},
	}
}

func newTestEngine(t *testing.T, cfg *config.ConfigData) *Engine {
	t.Helper()
	part, err := grid.NewPartition([]grid.Bounds{{Lo: 0, Hi: 1}, {Lo: 0, Hi: 1}}, []int{2, 2})
	require.NoError(t, err)
	group, err := comm.NewGroup(1)
	require.NoError(t, err)

	eng := New(zap.NewNop().Sugar(), metrics.New())
	require.NoError(t, eng.Initialize(cfg, part, group[0]))
	return eng
}

func TestEngineLifecycle(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "ocean.slab")
	writeForcingFile(t, input)

	eng := newTestEngine(t, testConfig(input, dir))

	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(12 * time.Hour)
	step := 3 * time.Hour

	for ts := start; !ts.After(end); ts = ts.Add(step) {
		sample, err := eng.Field("ocean", "sst", ts)
		require.NoError(t, err)
		require.NoError(t, eng.Stage("means", "sst", sample))
		require.NoError(t, eng.Step(ts))
	}
	require.NoError(t, eng.Finalize(end))

	sf, err := slabfile.Open(filepath.Join(dir, "sst_avg.slab"))
	require.NoError(t, err)
	defer sf.Close()

	times, err := sf.RecordValues("time")
	require.NoError(t, err)
	require.Equal(t, []float64{6, 12}, times)

	// first window averages the 0h, 3h, and 6h samples (10, 15, 20)
	rec0, err := sf.ReadSlab("sst", []int{0, 0, 0}, []int{1, 2, 2})
	require.NoError(t, err)
	require.Equal(t, 15.0, rec0[0])

	// second window averages the 9h and 12h samples (25, 30)
	rec1, err := sf.ReadSlab("sst", []int{1, 0, 0}, []int{1, 2, 2})
	require.NoError(t, err)
	require.Equal(t, 27.5, rec1[0])
}

func TestEngineFinalizeFlushesPartialWindow(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "ocean.slab")
	writeForcingFile(t, input)

	cfg := testConfig(input, dir)
	cfg.Collections[0].Frequency = "P1D"
	eng := newTestEngine(t, cfg)

	start := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, off := range []time.Duration{0, 3 * time.Hour, 6 * time.Hour} {
		ts := start.Add(off)
		sample, err := eng.Field("ocean", "sst", ts)
		require.NoError(t, err)
		require.NoError(t, eng.Stage("means", "sst", sample))
		require.NoError(t, eng.Step(ts))
	}
	// the daily window never came due during the run
	require.NoError(t, eng.Finalize(start.Add(6*time.Hour)))

	sf, err := slabfile.Open(filepath.Join(dir, "sst_avg.slab"))
	require.NoError(t, err)
	defer sf.Close()

	nrec, err := sf.NumRecords()
	require.NoError(t, err)
	require.Equal(t, 1, nrec)

	rec, err := sf.ReadSlab("sst", []int{0, 0, 0}, []int{1, 2, 2})
	require.NoError(t, err)
	require.Equal(t, 15.0, rec[0])
}

func TestEngineLifecycleOrdering(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "ocean.slab")
	writeForcingFile(t, input)

	eng := New(zap.NewNop().Sugar(), metrics.New())
	ts := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

	require.ErrorIs(t, eng.Step(ts), errs.ErrNotInitialized)
	require.ErrorIs(t, eng.Finalize(ts), errs.ErrNotInitialized)
	_, err := eng.Field("ocean", "sst", ts)
	require.ErrorIs(t, err, errs.ErrNotInitialized)

	part, err := grid.NewPartition([]grid.Bounds{{Lo: 0, Hi: 1}, {Lo: 0, Hi: 1}}, []int{2, 2})
	require.NoError(t, err)
	group, err := comm.NewGroup(1)
	require.NoError(t, err)
	require.NoError(t, eng.Initialize(testConfig(input, dir), part, group[0]))

	// double initialize is refused
	require.Error(t, eng.Initialize(testConfig(input, dir), part, group[0]))

	require.NoError(t, eng.Finalize(ts))
	require.ErrorIs(t, eng.Step(ts), errs.ErrAlreadyFinalized)
	require.ErrorIs(t, eng.Finalize(ts), errs.ErrAlreadyFinalized)
}

func TestEngineUnknownNames(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "ocean.slab")
	writeForcingFile(t, input)
	eng := newTestEngine(t, testConfig(input, dir))

	ts := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := eng.Field("atmosphere", "sst", ts)
	require.Error(t, err)
	require.True(t, errs.IsConfig(err))

	err = eng.Stage("nope", "sst", nil)
	require.Error(t, err)
	require.True(t, errs.IsConfig(err))
}

func TestEngineClimatologyStepsHitBuffer(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "ocean.slab")
	writeForcingFile(t, input)

	cfg := testConfig(input, dir)
	cfg.Clock.Start = "1999-01-01-00:00:00"
	cfg.Clock.End = "1999-01-01-12:00:00"
	cfg.Streams[0].Climatology = true
	cfg.Streams[0].RefYear = 2000
	cfg.Streams[0].ValidYears = [2]int{1995, 2005}

	part, err := grid.NewPartition([]grid.Bounds{{Lo: 0, Hi: 1}, {Lo: 0, Hi: 1}}, []int{2, 2})
	require.NoError(t, err)
	group, err := comm.NewGroup(1)
	require.NoError(t, err)
	m := metrics.New()
	eng := New(zap.NewNop().Sugar(), m)
	require.NoError(t, eng.Initialize(cfg, part, group[0]))

	// two ticks inside one projected bracket: one read fills the buffer,
	// every later coverage check is a hit
	start := time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, off := range []time.Duration{time.Hour, 2 * time.Hour} {
		ts := start.Add(off)
		sample, err := eng.Field("ocean", "sst", ts)
		require.NoError(t, err)
		require.NoError(t, eng.Stage("means", "sst", sample))
		require.NoError(t, eng.Step(ts))
	}

	require.Equal(t, 1.0, testutil.ToFloat64(m.StreamReads.WithLabelValues("ocean")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.StreamCacheHits.WithLabelValues("ocean")))
}

func TestEngineRefillFailureAbortsStep(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(filepath.Join(dir, "missing.slab"), dir)
	eng := newTestEngine(t, cfg)

	err := eng.Step(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
}

func TestEngineAccessModeSelection(t *testing.T) {
	tests := []struct {
		name string
		io   config.IOData
		want string
	}{
		{name: "default independent for one worker", io: config.IOData{}, want: "independent"},
		{name: "explicit collective", io: config.IOData{Access: "collective"}, want: "collective"},
		{name: "explicit independent", io: config.IOData{Access: "independent"}, want: "independent"},
		{name: "auto with parallel storage and low threshold", io: config.IOData{Access: "auto", ParallelCapable: true, PartitionThreshold: 1}, want: "collective"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			input := filepath.Join(dir, "ocean.slab")
			writeForcingFile(t, input)

			cfg := testConfig(input, dir)
			cfg.IO = tt.io
			cfg.IO.OutputDir = dir
			eng := newTestEngine(t, cfg)
			require.Equal(t, tt.want, eng.IO().Mode().String())
		})
	}
}
