package main

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coupledsim/fieldio/internal/log"
	"github.com/coupledsim/fieldio/internal/slabfile"
)

func TestGenerate(t *testing.T) {
	require.NoError(t, log.Init(false))

	path := filepath.Join(t.TempDir(), "gen.slab")
	require.NoError(t, generate(path, 5, 4, 3, 6.0, 1.0))

	sf, err := slabfile.Open(path)
	require.NoError(t, err)
	defer sf.Close()

	nrec, err := sf.NumRecords()
	require.NoError(t, err)
	require.Equal(t, 3, nrec)

	times, err := sf.RecordValues("time")
	require.NoError(t, err)
	require.Equal(t, []float64{0, 6, 12}, times)

	lat, err := sf.ReadSlab("lat", []int{0}, []int{4})
	require.NoError(t, err)
	require.Equal(t, -90.0, lat[0])
	require.Equal(t, 90.0, lat[3])

	lon, err := sf.ReadSlab("lon", []int{0}, []int{5})
	require.NoError(t, err)
	require.Equal(t, -180.0, lon[0])
	require.Equal(t, 180.0, lon[4])

	for _, f := range genFields {
		require.True(t, sf.HasVar(f.name), f.name)

		data, err := sf.ReadSlab(f.name, []int{0, 0, 0}, []int{1, 4, 5})
		require.NoError(t, err)
		// values stored as f4 carry float32 rounding
		want := float32(f.eval(lat[0], lon[0]))
		require.InDelta(t, float64(want), data[0], 1e-6)
	}
}

func TestGenerateScaleFactor(t *testing.T) {
	require.NoError(t, log.Init(false))
	dir := t.TempDir()

	base := filepath.Join(dir, "base.slab")
	scaled := filepath.Join(dir, "scaled.slab")
	require.NoError(t, generate(base, 4, 4, 1, 1.0, 1.0))
	require.NoError(t, generate(scaled, 4, 4, 1, 1.0, 2.0))

	b, err := slabfile.Open(base)
	require.NoError(t, err)
	defer b.Close()
	s, err := slabfile.Open(scaled)
	require.NoError(t, err)
	defer s.Close()

	bd, err := b.ReadSlab("air_temperature", []int{0, 0, 0}, []int{1, 4, 4})
	require.NoError(t, err)
	sd, err := s.ReadSlab("air_temperature", []int{0, 0, 0}, []int{1, 4, 4})
	require.NoError(t, err)

	for i := range bd {
		require.InDelta(t, 2*bd[i], sd[i], math.Abs(bd[i])*1e-5)
	}
}

func TestGenerateValidation(t *testing.T) {
	require.NoError(t, log.Init(false))
	dir := t.TempDir()

	require.Error(t, generate(filepath.Join(dir, "a.slab"), 1, 4, 1, 1.0, 1.0))
	require.Error(t, generate(filepath.Join(dir, "b.slab"), 4, 4, 0, 1.0, 1.0))
}
