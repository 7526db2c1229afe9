package config

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteProvider implements ConfigProvider for SQLite database configuration
type SQLiteProvider struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteProvider creates a new SQLite configuration provider
func NewSQLiteProvider(dbPath string) (*SQLiteProvider, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	return &SQLiteProvider{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// LoadConfig loads the complete configuration from SQLite database
func (s *SQLiteProvider) LoadConfig() (*ConfigData, error) {
	config := &ConfigData{}

	settings, err := s.loadSettings()
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	applySettings(config, settings)

	streams, err := s.loadStreams()
	if err != nil {
		return nil, fmt.Errorf("failed to load streams: %w", err)
	}
	config.Streams = streams

	collections, err := s.loadCollections()
	if err != nil {
		return nil, fmt.Errorf("failed to load collections: %w", err)
	}
	config.Collections = collections

	return config, nil
}

// loadSettings reads the flat key/value settings table.
func (s *SQLiteProvider) loadSettings() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to query settings: %w", err)
	}
	defer rows.Close()

	settings := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan settings row: %w", err)
		}
		settings[k] = v
	}
	return settings, rows.Err()
}

func applySettings(config *ConfigData, settings map[string]string) {
	config.Clock.Start = settings["clock.start"]
	config.Clock.End = settings["clock.end"]
	config.Clock.Step = settings["clock.step"]

	for _, part := range strings.Split(settings["grid.shape"], ",") {
		if part = strings.TrimSpace(part); part != "" {
			if n, err := strconv.Atoi(part); err == nil {
				config.Grid.Shape = append(config.Grid.Shape, n)
			}
		}
	}

	config.Comm.Mode = settings["comm.mode"]
	config.Comm.URL = settings["comm.url"]
	config.Comm.Group = settings["comm.group"]
	config.Comm.Workers, _ = strconv.Atoi(settings["comm.workers"])

	config.IO.Access = settings["io.access"]
	config.IO.ParallelCapable, _ = strconv.ParseBool(settings["io.parallel_capable"])
	config.IO.PartitionThreshold, _ = strconv.Atoi(settings["io.partition_threshold"])
	config.IO.OutputDir = settings["io.output_dir"]
	config.IO.Epoch = settings["io.epoch"]

	config.Run.ScaleFactor, _ = strconv.ParseFloat(settings["run.scale_factor"], 64)
	config.Run.HTTPAddr = settings["run.http_addr"]
}

// loadStreams returns stream descriptors from the database
func (s *SQLiteProvider) loadStreams() ([]StreamData, error) {
	query := `
		SELECT id, name, file, calendar, climatology, ref_year,
		       valid_year_start, valid_year_end, extrapolate,
		       start_time, end_time, frequency, time_interp, regrid_method
		FROM streams
		ORDER BY name
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query streams: %w", err)
	}
	defer rows.Close()

	var streams []StreamData
	ids := make(map[string]int64)
	for rows.Next() {
		var stream StreamData
		var id int64
		var calendar, timeInterp, regridMethod sql.NullString
		var refYear, validStart, validEnd sql.NullInt64

		err := rows.Scan(
			&id, &stream.Name, &stream.File, &calendar, &stream.Climatology,
			&refYear, &validStart, &validEnd, &stream.Extrapolate,
			&stream.StartTime, &stream.EndTime, &stream.Frequency,
			&timeInterp, &regridMethod,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stream row: %w", err)
		}

		if calendar.Valid {
			stream.Calendar = calendar.String
		}
		if timeInterp.Valid {
			stream.TimeInterp = timeInterp.String
		}
		if regridMethod.Valid {
			stream.RegridMethod = regridMethod.String
		}
		if refYear.Valid {
			stream.RefYear = int(refYear.Int64)
		}
		if validStart.Valid {
			stream.ValidYears[0] = int(validStart.Int64)
		}
		if validEnd.Valid {
			stream.ValidYears[1] = int(validEnd.Int64)
		}

		ids[stream.Name] = id
		streams = append(streams, stream)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range streams {
		fields, err := s.loadFields("stream_fields", "stream_id", ids[streams[i].Name])
		if err != nil {
			return nil, err
		}
		streams[i].Fields = fields
	}
	return streams, nil
}

// loadCollections returns collection descriptors from the database
func (s *SQLiteProvider) loadCollections() ([]CollectionData, error) {
	query := `
		SELECT id, name, file_base, file_ext, frequency, time_offset,
		       do_average, do_max, do_min, append_mode
		FROM collections
		ORDER BY name
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	var collections []CollectionData
	ids := make(map[string]int64)
	for rows.Next() {
		var coll CollectionData
		var id int64
		var fileExt, timeOffset sql.NullString

		err := rows.Scan(
			&id, &coll.Name, &coll.FileBase, &fileExt, &coll.Frequency,
			&timeOffset, &coll.DoAverage, &coll.DoMax, &coll.DoMin, &coll.Append,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collection row: %w", err)
		}

		if fileExt.Valid {
			coll.FileExt = fileExt.String
		}
		if timeOffset.Valid {
			coll.TimeOffset = timeOffset.String
		}

		ids[coll.Name] = id
		collections = append(collections, coll)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range collections {
		fields, err := s.loadFields("collection_fields", "collection_id", ids[collections[i].Name])
		if err != nil {
			return nil, err
		}
		collections[i].Fields = fields
	}
	return collections, nil
}

// loadFields returns the field list for one stream or collection.
func (s *SQLiteProvider) loadFields(table, fk string, owner int64) ([]FieldData, error) {
	query := fmt.Sprintf(`
		SELECT name, units, long_name, levels, time_average, precision
		FROM %s
		WHERE %s = ?
		ORDER BY id
	`, table, fk)

	rows, err := s.db.Query(query, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	var fields []FieldData
	for rows.Next() {
		var f FieldData
		var units, longName, precision sql.NullString
		var levels sql.NullInt64

		if err := rows.Scan(&f.Name, &units, &longName, &levels, &f.TimeAverage, &precision); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		if units.Valid {
			f.Units = units.String
		}
		if longName.Valid {
			f.LongName = longName.String
		}
		if precision.Valid {
			f.Precision = precision.String
		}
		if levels.Valid {
			f.Levels = int(levels.Int64)
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

// IsReadOnly returns false since SQLite databases support writes
func (s *SQLiteProvider) IsReadOnly() bool {
	return false
}

// Close closes the database connection
func (s *SQLiteProvider) Close() error {
	return s.db.Close()
}
