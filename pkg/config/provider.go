// Package config defines the descriptor types handed to the I/O engine
// and the providers that load them. The engine treats loaded descriptors
// as immutable; all raw-text parsing lives here and in the time grammar
// package.
package config

// ConfigProvider defines the interface for configuration data sources
type ConfigProvider interface {
	// Load complete configuration
	LoadConfig() (*ConfigData, error)

	// IsReadOnly reports whether the backing source can be written
	IsReadOnly() bool
	Close() error
}

// ConfigData represents the complete configuration structure
type ConfigData struct {
	Clock       ClockData        `json:"clock"`
	Grid        GridData         `json:"grid"`
	Comm        CommData         `json:"comm,omitempty"`
	IO          IOData           `json:"io,omitempty"`
	Run         RunData          `json:"run,omitempty"`
	Streams     []StreamData     `json:"streams,omitempty"`
	Collections []CollectionData `json:"collections,omitempty"`
}

// ClockData drives the simulation stepping loop. Times use the
// YYYY-MM-DD-HH:MM:SS grammar and Step uses the compact interval grammar.
type ClockData struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Step  string `json:"step"`
}

// GridData holds the global grid extents, slowest-varying dimension
// first. Domain decomposition itself is supplied by the caller.
type GridData struct {
	Shape []int `json:"shape"`
}

// CommData selects the worker communicator backend.
type CommData struct {
	Mode    string `json:"mode,omitempty"` // inprocess or nats
	URL     string `json:"url,omitempty"`
	Group   string `json:"group,omitempty"`
	Workers int    `json:"workers,omitempty"`
}

// IOData holds hyperslab access-mode policy and file placement.
type IOData struct {
	Access             string `json:"access,omitempty"` // auto, collective, or independent
	ParallelCapable    bool   `json:"parallel_capable,omitempty"`
	PartitionThreshold int    `json:"partition_threshold,omitempty"`
	OutputDir          string `json:"output_dir,omitempty"`
	Epoch              string `json:"epoch,omitempty"`
}

// RunData holds driver-level knobs that stand in for the host model.
type RunData struct {
	ScaleFactor float64 `json:"scale_factor,omitempty"`
	HTTPAddr    string  `json:"http_addr,omitempty"`
}

// FieldData describes one field of a stream or collection.
type FieldData struct {
	Name        string `json:"name"`
	Units       string `json:"units,omitempty"`
	LongName    string `json:"long_name,omitempty"`
	Levels      int    `json:"levels,omitempty"`
	TimeAverage bool   `json:"time_average,omitempty"`
	Precision   string `json:"precision,omitempty"` // f4 or f8, defaults to f4
}

// StreamData describes one input stream: where its samples live, the time
// extent and sampling frequency of the data, and how values are
// interpolated to the simulation clock.
type StreamData struct {
	Name        string      `json:"name"`
	File        string      `json:"file"`
	Calendar    string      `json:"calendar,omitempty"`
	Climatology bool        `json:"climatology,omitempty"`
	RefYear     int         `json:"ref_year,omitempty"`
	ValidYears  [2]int      `json:"valid_years,omitempty"`
	Extrapolate bool        `json:"extrapolate,omitempty"`
	StartTime   string      `json:"start_time"`
	EndTime     string      `json:"end_time"`
	Frequency   string      `json:"frequency"`
	TimeInterp  string      `json:"time_interp,omitempty"` // linear, nearest, or none
	RegridMethod string     `json:"regrid_method,omitempty"`
	Fields      []FieldData `json:"fields"`
}

// CollectionData describes one output collection: which fields it emits,
// how often, and which temporal statistics are applied.
type CollectionData struct {
	Name       string      `json:"name"`
	FileBase   string      `json:"file_base"`
	FileExt    string      `json:"file_ext,omitempty"`
	Frequency  string      `json:"frequency"`
	TimeOffset string      `json:"time_offset,omitempty"`
	DoAverage  bool        `json:"do_average,omitempty"`
	DoMax      bool        `json:"do_max,omitempty"`
	DoMin      bool        `json:"do_min,omitempty"`
	Append     bool        `json:"append,omitempty"`
	Fields     []FieldData `json:"fields"`
}
