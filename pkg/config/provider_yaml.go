package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// YAMLProvider implements ConfigProvider for YAML configuration files
type YAMLProvider struct {
	filename string
}

// NewYAMLProvider creates a new YAML configuration provider
func NewYAMLProvider(filename string) *YAMLProvider {
	return &YAMLProvider{
		filename: filename,
	}
}

// yamlField mirrors FieldData with YAML tags.
type yamlField struct {
	Name        string `yaml:"name"`
	Units       string `yaml:"units,omitempty"`
	LongName    string `yaml:"long_name,omitempty"`
	Levels      int    `yaml:"levels,omitempty"`
	TimeAverage bool   `yaml:"time_average,omitempty"`
	Precision   string `yaml:"precision,omitempty"`
}

func (f yamlField) toFieldData() FieldData {
	return FieldData{
		Name:        f.Name,
		Units:       f.Units,
		LongName:    f.LongName,
		Levels:      f.Levels,
		TimeAverage: f.TimeAverage,
		Precision:   f.Precision,
	}
}

// LoadConfig loads the complete configuration from YAML file
func (y *YAMLProvider) LoadConfig() (*ConfigData, error) {
	cfgFile, err := os.ReadFile(y.filename)
	if err != nil {
		return nil, err
	}

	// Load into temporary struct with YAML tags
	var yamlConfig struct {
		Clock struct {
			Start string `yaml:"start"`
			End   string `yaml:"end"`
			Step  string `yaml:"step"`
		} `yaml:"clock"`
		Grid struct {
			Shape []int `yaml:"shape"`
		} `yaml:"grid"`
		Comm struct {
			Mode    string `yaml:"mode,omitempty"`
			URL     string `yaml:"url,omitempty"`
			Group   string `yaml:"group,omitempty"`
			Workers int    `yaml:"workers,omitempty"`
		} `yaml:"comm,omitempty"`
		IO struct {
			Access             string `yaml:"access,omitempty"`
			ParallelCapable    bool   `yaml:"parallel_capable,omitempty"`
			PartitionThreshold int    `yaml:"partition_threshold,omitempty"`
			OutputDir          string `yaml:"output_dir,omitempty"`
			Epoch              string `yaml:"epoch,omitempty"`
		} `yaml:"io,omitempty"`
		Run struct {
			ScaleFactor float64 `yaml:"scale_factor,omitempty"`
			HTTPAddr    string  `yaml:"http_addr,omitempty"`
		} `yaml:"run,omitempty"`
		Streams []struct {
			Name         string      `yaml:"name"`
			File         string      `yaml:"file"`
			Calendar     string      `yaml:"calendar,omitempty"`
			Climatology  bool        `yaml:"climatology,omitempty"`
			RefYear      int         `yaml:"ref_year,omitempty"`
			ValidYears   [2]int      `yaml:"valid_years,omitempty"`
			Extrapolate  bool        `yaml:"extrapolate,omitempty"`
			StartTime    string      `yaml:"start_time"`
			EndTime      string      `yaml:"end_time"`
			Frequency    string      `yaml:"frequency"`
			TimeInterp   string      `yaml:"time_interp,omitempty"`
			RegridMethod string      `yaml:"regrid_method,omitempty"`
			Fields       []yamlField `yaml:"fields"`
		} `yaml:"streams,omitempty"`
		Collections []struct {
			Name       string      `yaml:"name"`
			FileBase   string      `yaml:"file_base"`
			FileExt    string      `yaml:"file_ext,omitempty"`
			Frequency  string      `yaml:"frequency"`
			TimeOffset string      `yaml:"time_offset,omitempty"`
			DoAverage  bool        `yaml:"do_average,omitempty"`
			DoMax      bool        `yaml:"do_max,omitempty"`
			DoMin      bool        `yaml:"do_min,omitempty"`
			Append     bool        `yaml:"append,omitempty"`
			Fields     []yamlField `yaml:"fields"`
		} `yaml:"collections,omitempty"`
	}

	err = yaml.Unmarshal(cfgFile, &yamlConfig)
	if err != nil {
		return nil, err
	}

	// Convert to our internal format
	config := &ConfigData{
		Clock: ClockData{
			Start: yamlConfig.Clock.Start,
			End:   yamlConfig.Clock.End,
			Step:  yamlConfig.Clock.Step,
		},
		Grid: GridData{Shape: yamlConfig.Grid.Shape},
		Comm: CommData{
			Mode:    yamlConfig.Comm.Mode,
			URL:     yamlConfig.Comm.URL,
			Group:   yamlConfig.Comm.Group,
			Workers: yamlConfig.Comm.Workers,
		},
		IO: IOData{
			Access:             yamlConfig.IO.Access,
			ParallelCapable:    yamlConfig.IO.ParallelCapable,
			PartitionThreshold: yamlConfig.IO.PartitionThreshold,
			OutputDir:          yamlConfig.IO.OutputDir,
			Epoch:              yamlConfig.IO.Epoch,
		},
		Run: RunData{
			ScaleFactor: yamlConfig.Run.ScaleFactor,
			HTTPAddr:    yamlConfig.Run.HTTPAddr,
		},
		Streams:     make([]StreamData, len(yamlConfig.Streams)),
		Collections: make([]CollectionData, len(yamlConfig.Collections)),
	}

	for i, s := range yamlConfig.Streams {
		fields := make([]FieldData, len(s.Fields))
		for j, f := range s.Fields {
			fields[j] = f.toFieldData()
		}
		config.Streams[i] = StreamData{
			Name:         s.Name,
			File:         s.File,
			Calendar:     s.Calendar,
			Climatology:  s.Climatology,
			RefYear:      s.RefYear,
			ValidYears:   s.ValidYears,
			Extrapolate:  s.Extrapolate,
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			Frequency:    s.Frequency,
			TimeInterp:   s.TimeInterp,
			RegridMethod: s.RegridMethod,
			Fields:       fields,
		}
	}

	for i, c := range yamlConfig.Collections {
		fields := make([]FieldData, len(c.Fields))
		for j, f := range c.Fields {
			fields[j] = f.toFieldData()
		}
		config.Collections[i] = CollectionData{
			Name:       c.Name,
			FileBase:   c.FileBase,
			FileExt:    c.FileExt,
			Frequency:  c.Frequency,
			TimeOffset: c.TimeOffset,
			DoAverage:  c.DoAverage,
			DoMax:      c.DoMax,
			DoMin:      c.DoMin,
			Append:     c.Append,
			Fields:     fields,
		}
	}

	return config, nil
}

// IsReadOnly returns true since YAML files are read-only in this context
func (y *YAMLProvider) IsReadOnly() bool {
	return true
}

// Close is a no-op for YAML providers
func (y *YAMLProvider) Close() error {
	return nil
}
