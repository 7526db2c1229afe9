package config

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE settings (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE streams (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	file TEXT NOT NULL,
	calendar TEXT,
	climatology BOOLEAN NOT NULL DEFAULT 0,
	ref_year INTEGER,
	valid_year_start INTEGER,
	valid_year_end INTEGER,
	extrapolate BOOLEAN NOT NULL DEFAULT 0,
	start_time TEXT NOT NULL,
	end_time TEXT NOT NULL,
	frequency TEXT NOT NULL,
	time_interp TEXT,
	regrid_method TEXT
);
CREATE TABLE stream_fields (
	id INTEGER PRIMARY KEY,
	stream_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	units TEXT,
	long_name TEXT,
	levels INTEGER,
	time_average BOOLEAN NOT NULL DEFAULT 0,
	precision TEXT
);
CREATE TABLE collections (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	file_base TEXT NOT NULL,
	file_ext TEXT,
	frequency TEXT NOT NULL,
	time_offset TEXT,
	do_average BOOLEAN NOT NULL DEFAULT 0,
	do_max BOOLEAN NOT NULL DEFAULT 0,
	do_min BOOLEAN NOT NULL DEFAULT 0,
	append_mode BOOLEAN NOT NULL DEFAULT 0
);
CREATE TABLE collection_fields (
	id INTEGER PRIMARY KEY,
	collection_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	units TEXT,
	long_name TEXT,
	levels INTEGER,
	time_average BOOLEAN NOT NULL DEFAULT 0,
	precision TEXT
);
`

func seedSQLiteConfig(t *testing.T, path string) {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	if _, err := db.Exec(sqliteSchema); err != nil {
		t.Fatal(err)
	}

	settings := map[string]string{
		"clock.start":      "2000-01-01-00:00:00",
		"clock.end":        "2000-01-02-00:00:00",
		"clock.step":       "PT3H",
		"grid.shape":       "10, 20",
		"comm.mode":        "inprocess",
		"comm.workers":     "2",
		"io.access":        "auto",
		"io.output_dir":    "/tmp/out",
		"run.scale_factor": "2.0",
	}
	for k, v := range settings {
		if _, err := db.Exec(`INSERT INTO settings (key, value) VALUES (?, ?)`, k, v); err != nil {
			t.Fatal(err)
		}
	}

	res, err := db.Exec(`
		INSERT INTO streams (name, file, calendar, climatology, ref_year,
			valid_year_start, valid_year_end, extrapolate,
			start_time, end_time, frequency, time_interp)
		VALUES ('ocean', 'ocean.slab', 'noleap', 1, 2000, 1995, 2005, 1,
			'2000-01-01-00:00:00', '2000-12-31-00:00:00', 'PT6H', 'linear')`)
	if err != nil {
		t.Fatal(err)
	}
	streamID, _ := res.LastInsertId()
	if _, err := db.Exec(`
		INSERT INTO stream_fields (stream_id, name, units, long_name)
		VALUES (?, 'sst', 'K', 'Sea Surface Temperature')`, streamID); err != nil {
		t.Fatal(err)
	}

	res, err = db.Exec(`
		INSERT INTO collections (name, file_base, file_ext, frequency, time_offset,
			do_average, append_mode)
		VALUES ('means', 'sst_avg', 'slab', 'P1D', 'PT12H', 1, 1)`)
	if err != nil {
		t.Fatal(err)
	}
	collID, _ := res.LastInsertId()
	if _, err := db.Exec(`
		INSERT INTO collection_fields (collection_id, name, units, precision)
		VALUES (?, 'sst', 'K', 'f8')`, collID); err != nil {
		t.Fatal(err)
	}
}

func TestSQLiteProviderLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.db")
	seedSQLiteConfig(t, path)

	p, err := NewSQLiteProvider(path)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	if p.IsReadOnly() {
		t.Error("SQLite provider should be writable")
	}

	cfg, err := p.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("loaded config fails validation: %v", err)
	}

	if cfg.Clock.Start != "2000-01-01-00:00:00" || cfg.Clock.Step != "PT3H" {
		t.Errorf("clock = %+v", cfg.Clock)
	}
	if len(cfg.Grid.Shape) != 2 || cfg.Grid.Shape[0] != 10 || cfg.Grid.Shape[1] != 20 {
		t.Errorf("grid shape = %v, want [10 20]", cfg.Grid.Shape)
	}
	if cfg.Comm.Workers != 2 {
		t.Errorf("workers = %d, want 2", cfg.Comm.Workers)
	}
	if cfg.Run.ScaleFactor != 2.0 {
		t.Errorf("scale factor = %v, want 2.0", cfg.Run.ScaleFactor)
	}

	if len(cfg.Streams) != 1 {
		t.Fatalf("got %d streams, want 1", len(cfg.Streams))
	}
	s := cfg.Streams[0]
	if !s.Climatology || s.RefYear != 2000 || s.ValidYears != [2]int{1995, 2005} {
		t.Errorf("stream = %+v", s)
	}
	if len(s.Fields) != 1 || s.Fields[0].Name != "sst" {
		t.Errorf("stream fields = %+v", s.Fields)
	}

	if len(cfg.Collections) != 1 {
		t.Fatalf("got %d collections, want 1", len(cfg.Collections))
	}
	c := cfg.Collections[0]
	if !c.DoAverage || !c.Append || c.TimeOffset != "PT12H" {
		t.Errorf("collection = %+v", c)
	}
	if c.Fields[0].Precision != "f8" {
		t.Errorf("field precision = %q, want f8", c.Fields[0].Precision)
	}
}

func TestSQLiteProviderEmptyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.db")
	p, err := NewSQLiteProvider(path)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	// a database without the settings table cannot provide a config
	if _, err := p.LoadConfig(); err == nil {
		t.Error("expected error for empty database")
	}
}
