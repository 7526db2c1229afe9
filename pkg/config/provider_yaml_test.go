package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `clock:
  start: 2000-01-01-00:00:00
  end: 2000-01-02-00:00:00
  step: PT3H
grid:
  shape: [10, 20]
comm:
  mode: inprocess
  workers: 2
io:
  access: auto
  parallel_capable: true
  partition_threshold: 4
  output_dir: /tmp/out
  epoch: 2000-01-01-00:00:00
run:
  scale_factor: 2.0
streams:
  - name: ocean
    file: data/%Y/ocean_%Y%m.slab
    calendar: noleap
    climatology: true
    ref_year: 2000
    valid_years: [1995, 2005]
    extrapolate: true
    start_time: 2000-01-01-00:00:00
    end_time: 2000-12-31-00:00:00
    frequency: PT6H
    time_interp: linear
    fields:
      - name: sst
        units: K
        long_name: Sea Surface Temperature
collections:
  - name: means
    file_base: sst_avg
    file_ext: slab
    frequency: P1D
    time_offset: PT12H
    do_average: true
    append: true
    fields:
      - name: sst
        units: K
        precision: f8
`

func TestYAMLProviderLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	p := NewYAMLProvider(path)
	if !p.IsReadOnly() {
		t.Error("YAML provider should be read-only")
	}
	defer p.Close()

	cfg, err := p.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("loaded config fails validation: %v", err)
	}

	if cfg.Clock.Step != "PT3H" {
		t.Errorf("clock step = %q, want PT3H", cfg.Clock.Step)
	}
	if len(cfg.Grid.Shape) != 2 || cfg.Grid.Shape[0] != 10 || cfg.Grid.Shape[1] != 20 {
		t.Errorf("grid shape = %v, want [10 20]", cfg.Grid.Shape)
	}
	if cfg.Comm.Workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.Comm.Workers)
	}
	if !cfg.IO.ParallelCapable || cfg.IO.PartitionThreshold != 4 {
		t.Errorf("io = %+v, want parallel capable with threshold 4", cfg.IO)
	}
	if cfg.Run.ScaleFactor != 2.0 {
		t.Errorf("scale factor = %v, want 2.0", cfg.Run.ScaleFactor)
	}

	if len(cfg.Streams) != 1 {
		t.Fatalf("got %d streams, want 1", len(cfg.Streams))
	}
	s := cfg.Streams[0]
	if s.Name != "ocean" || s.Calendar != "noleap" || !s.Climatology {
		t.Errorf("stream = %+v", s)
	}
	if s.ValidYears != [2]int{1995, 2005} {
		t.Errorf("valid years = %v, want [1995 2005]", s.ValidYears)
	}
	if len(s.Fields) != 1 || s.Fields[0].LongName != "Sea Surface Temperature" {
		t.Errorf("stream fields = %+v", s.Fields)
	}

	if len(cfg.Collections) != 1 {
		t.Fatalf("got %d collections, want 1", len(cfg.Collections))
	}
	c := cfg.Collections[0]
	if c.FileBase != "sst_avg" || !c.DoAverage || !c.Append || c.TimeOffset != "PT12H" {
		t.Errorf("collection = %+v", c)
	}
	if c.Fields[0].Precision != "f8" {
		t.Errorf("field precision = %q, want f8", c.Fields[0].Precision)
	}
}

func TestYAMLProviderMissingFile(t *testing.T) {
	p := NewYAMLProvider(filepath.Join(t.TempDir(), "nope.yaml"))
	if _, err := p.LoadConfig(); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestYAMLProviderMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("clock: [not, a, map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewYAMLProvider(path).LoadConfig(); err == nil {
		t.Error("expected error for malformed YAML")
	}
}
