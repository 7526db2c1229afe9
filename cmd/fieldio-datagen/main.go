// Command fieldio-datagen writes a slab file with synthetic field data
// for exercising the I/O engine: smooth analytic patterns on a
// lat/lon grid over a configurable number of time records.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/coupledsim/fieldio/internal/log"
	"github.com/coupledsim/fieldio/internal/slabfile"
)

const timeUnits = "hours since 2000-01-01 00:00:00"

type genField struct {
	name     string
	units    string
	longName string
	eval     func(lat, lon float64) float64
}

var genFields = []genField{
	{
		name:     "air_temperature",
		units:    "K",
		longName: "Air Temperature",
		eval: func(lat, lon float64) float64 {
			return 280.0 + 20.0*math.Sin(lat)*math.Cos(lon)
		},
	},
	{
		name:     "eastward_wind",
		units:    "m s-1",
		longName: "Eastward Wind",
		eval: func(lat, lon float64) float64 {
			return 5.0 + 3.0*math.Sin(lat)*math.Cos(lon)
		},
	},
	{
		name:     "northward_wind",
		units:    "m s-1",
		longName: "Northward Wind",
		eval: func(lat, lon float64) float64 {
			return 2.0 + 2.0*math.Cos(lat)*math.Sin(lon)
		},
	},
}

func main() {
	out := flag.String("out", "input_test.slab", "Output slab file path")
	nx := flag.Int("nx", 20, "Number of longitude points")
	ny := flag.Int("ny", 20, "Number of latitude points")
	steps := flag.Int("steps", 1, "Number of time records")
	stepHours := flag.Float64("step-hours", 1.0, "Hours between time records")
	scale := flag.Float64("scale", 1.0, "Scale factor applied to every field value")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	flag.Parse()

	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := generate(*out, *nx, *ny, *steps, *stepHours, *scale); err != nil {
		log.Errorf("Failed to generate %s: %v", *out, err)
		os.Exit(1)
	}
	log.Infof("wrote %s: %dx%d grid, %d record(s)", *out, *ny, *nx, *steps)
}

func generate(path string, nx, ny, steps int, stepHours, scale float64) error {
	if nx < 2 || ny < 2 {
		return fmt.Errorf("grid must be at least 2x2, got %dx%d", ny, nx)
	}
	if steps < 1 {
		return fmt.Errorf("need at least one time record, got %d", steps)
	}

	lon := make([]float64, nx)
	lat := make([]float64, ny)
	floats.Span(lon, -180.0, 180.0)
	floats.Span(lat, -90.0, 90.0)

	sf, err := slabfile.Create(path)
	if err != nil {
		return err
	}
	defer sf.Close()

	if err := sf.AddDim("time", 0, true); err != nil {
		return err
	}
	if err := sf.AddDim("y", ny, false); err != nil {
		return err
	}
	if err := sf.AddDim("x", nx, false); err != nil {
		return err
	}

	if err := sf.AddVar("lat", slabfile.TypeF4, []string{"y"}, map[string]string{
		"units": "degrees_north", "long_name": "Latitude",
	}); err != nil {
		return err
	}
	if err := sf.AddVar("lon", slabfile.TypeF4, []string{"x"}, map[string]string{
		"units": "degrees_east", "long_name": "Longitude",
	}); err != nil {
		return err
	}
	if err := sf.AddVar("time", slabfile.TypeF8, []string{"time"}, map[string]string{
		"units": timeUnits,
	}); err != nil {
		return err
	}
	for _, f := range genFields {
		if err := sf.AddVar(f.name, slabfile.TypeF4, []string{"time", "y", "x"}, map[string]string{
			"units": f.units, "long_name": f.longName,
		}); err != nil {
			return err
		}
	}
	if err := sf.EndDef(); err != nil {
		return err
	}

	if err := sf.WriteSlab("lat", []int{0}, []int{ny}, lat); err != nil {
		return err
	}
	if err := sf.WriteSlab("lon", []int{0}, []int{nx}, lon); err != nil {
		return err
	}

	data := make([]float64, ny*nx)
	for t := 0; t < steps; t++ {
		hours := float64(t) * stepHours
		if err := sf.WriteSlab("time", []int{t}, []int{1}, []float64{hours}); err != nil {
			return err
		}
		for _, f := range genFields {
			for j := 0; j < ny; j++ {
				for i := 0; i < nx; i++ {
					data[j*nx+i] = scale * f.eval(lat[j], lon[i])
				}
			}
			if err := sf.WriteSlab(f.name, []int{t, 0, 0}, []int{1, ny, nx}, data); err != nil {
				return err
			}
			log.Debugf("record %d %s: mean=%.3f stddev=%.3f min=%.3f max=%.3f",
				t, f.name, stat.Mean(data, nil), stat.StdDev(data, nil),
				floats.Min(data), floats.Max(data))
		}
	}

	return sf.Sync()
}
