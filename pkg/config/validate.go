package config

import (
	"github.com/coupledsim/fieldio/internal/errs"
	"github.com/coupledsim/fieldio/internal/timeutil"
)

// Validate checks a loaded configuration for the malformed-descriptor
// class of errors so they surface before the engine starts stepping.
func Validate(c *ConfigData) error {
	if c.Clock.Start == "" || c.Clock.End == "" || c.Clock.Step == "" {
		return errs.Configf("config", "Validate", "clock requires start, end, and step")
	}
	start, err := timeutil.ParseTimestamp(c.Clock.Start)
	if err != nil {
		return errs.WrapConfig(err, "config", "Validate", "clock start")
	}
	end, err := timeutil.ParseTimestamp(c.Clock.End)
	if err != nil {
		return errs.WrapConfig(err, "config", "Validate", "clock end")
	}
	if !end.After(start) {
		return errs.Configf("config", "Validate", "clock end %s must follow start %s", c.Clock.End, c.Clock.Start)
	}
	if _, err := timeutil.ParseInterval(c.Clock.Step); err != nil {
		return errs.WrapConfig(err, "config", "Validate", "clock step")
	}

	if len(c.Grid.Shape) < 1 || len(c.Grid.Shape) > 3 {
		return errs.Configf("config", "Validate", "grid shape must have 1-3 dimensions, got %d", len(c.Grid.Shape))
	}
	for i, n := range c.Grid.Shape {
		if n <= 0 {
			return errs.Configf("config", "Validate", "grid dimension %d must be positive, got %d", i, n)
		}
	}

	if c.IO.Epoch != "" {
		if _, err := timeutil.ParseTimestamp(c.IO.Epoch); err != nil {
			return errs.WrapConfig(err, "config", "Validate", "io epoch")
		}
	}

	seen := map[string]bool{}
	for i := range c.Streams {
		if err := validateStream(&c.Streams[i]); err != nil {
			return err
		}
		if seen[c.Streams[i].Name] {
			return errs.Configf("config", "Validate", "duplicate stream name %q", c.Streams[i].Name)
		}
		seen[c.Streams[i].Name] = true
	}

	seen = map[string]bool{}
	for i := range c.Collections {
		if err := validateCollection(&c.Collections[i]); err != nil {
			return err
		}
		if seen[c.Collections[i].Name] {
			return errs.Configf("config", "Validate", "duplicate collection name %q", c.Collections[i].Name)
		}
		seen[c.Collections[i].Name] = true
	}
	return nil
}

func validateStream(s *StreamData) error {
	if s.Name == "" {
		return errs.Configf("config", "Validate", "stream requires a name")
	}
	if s.File == "" {
		return errs.Configf("config", "Validate", "stream %q requires a file", s.Name)
	}
	if len(s.Fields) == 0 {
		return errs.Configf("config", "Validate", "stream %q has no fields", s.Name)
	}
	if _, err := timeutil.ParseCalendar(s.Calendar); err != nil {
		return errs.WrapConfig(err, "config", "Validate", "stream "+s.Name)
	}
	start, err := timeutil.ParseTimestamp(s.StartTime)
	if err != nil {
		return errs.WrapConfig(err, "config", "Validate", "stream "+s.Name+" start_time")
	}
	end, err := timeutil.ParseTimestamp(s.EndTime)
	if err != nil {
		return errs.WrapConfig(err, "config", "Validate", "stream "+s.Name+" end_time")
	}
	if end.Before(start) {
		return errs.Configf("config", "Validate", "stream %q end_time precedes start_time", s.Name)
	}
	if _, err := timeutil.ParseInterval(s.Frequency); err != nil {
		return errs.WrapConfig(err, "config", "Validate", "stream "+s.Name+" frequency")
	}
	switch s.TimeInterp {
	case "", "linear", "nearest", "none":
	default:
		return errs.Configf("config", "Validate", "stream %q has unknown time_interp %q", s.Name, s.TimeInterp)
	}
	if s.Climatology {
		if s.RefYear == 0 {
			return errs.Configf("config", "Validate", "climatology stream %q requires ref_year", s.Name)
		}
		if s.ValidYears[0] == 0 || s.ValidYears[1] < s.ValidYears[0] {
			return errs.Configf("config", "Validate", "climatology stream %q has invalid valid_years %v", s.Name, s.ValidYears)
		}
	}
	return validateFields(s.Fields, "stream "+s.Name)
}

func validateCollection(c *CollectionData) error {
	if c.Name == "" {
		return errs.Configf("config", "Validate", "collection requires a name")
	}
	if c.FileBase == "" {
		return errs.Configf("config", "Validate", "collection %q requires a file_base", c.Name)
	}
	if len(c.Fields) == 0 {
		return errs.Configf("config", "Validate", "collection %q has no fields", c.Name)
	}
	if _, err := timeutil.ParseInterval(c.Frequency); err != nil {
		return errs.WrapConfig(err, "config", "Validate", "collection "+c.Name+" frequency")
	}
	if c.TimeOffset != "" {
		if _, err := timeutil.ParseInterval(c.TimeOffset); err != nil {
			return errs.WrapConfig(err, "config", "Validate", "collection "+c.Name+" time_offset")
		}
	}
	return validateFields(c.Fields, "collection "+c.Name)
}

func validateFields(fields []FieldData, owner string) error {
	seen := map[string]bool{}
	for _, f := range fields {
		if f.Name == "" {
			return errs.Configf("config", "Validate", "%s has a field with no name", owner)
		}
		if seen[f.Name] {
			return errs.Configf("config", "Validate", "%s has duplicate field %q", owner, f.Name)
		}
		seen[f.Name] = true
		switch f.Precision {
		case "", "f4", "f8":
		default:
			return errs.Configf("config", "Validate", "%s field %q has unknown precision %q", owner, f.Name, f.Precision)
		}
	}
	return nil
}
