package geofence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDistance(t *testing.T) {
	assert.InDelta(t, 0, Distance(4.6, -74.08, 4.6, -74.08), 1e-6)
	// One degree of latitude is about 111.2 km.
	assert.InDelta(t, 111195, Distance(0, 0, 1, 0), 50)
}

func TestResolve(t *testing.T) {
	zones := []Zone{
		{Code: "L7", Name: "Lote 7", Lat: 4.6100, Lon: -74.0800, RadiusM: 300},
		{Code: "L8", Name: "Lote 8", Lat: 4.6120, Lon: -74.0800, RadiusM: 300},
		{Code: "FAR", Name: "Finca Norte", Lat: 5.0, Lon: -74.0, RadiusM: 100},
	}

	z := Resolve(zones, 4.6101, -74.0800)
	require.NotNil(t, z)
	assert.Equal(t, "L7", z.Code, "overlap goes to the nearest center")

	z = Resolve(zones, 4.6119, -74.0800)
	require.NotNil(t, z)
	assert.Equal(t, "L8", z.Code)

	assert.Nil(t, Resolve(zones, 3.0, -70.0))
	assert.Nil(t, Resolve(nil, 4.61, -74.08))
}

func TestParse(t *testing.T) {
	zones, err := Parse([]byte(`
zones:
  - code: L8
    name: Lote 8
    lat: 4.612
    lon: -74.08
    radius_m: 300
  - code: L7
    name: Lote 7
    lat: 4.61
    lon: -74.08
    radius_m: 250
`))
	require.NoError(t, err)
	require.Len(t, zones, 2)
	assert.Equal(t, "L7", zones[0].Code)
	assert.Equal(t, 250.0, zones[0].RadiusM)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte("zones:\n  - code: A\n    radius_m: 0\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("zones:\n  - {code: A, radius_m: 1}\n  - {code: A, radius_m: 2}\n"))
	assert.ErrorContains(t, err, "duplicate")

	_, err = Parse([]byte("zones: ["))
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.yaml")
	require.NoError(t, os.WriteFile(path, []byte("zones:\n  - {code: A, name: Alpha, lat: 1, lon: 1, radius_m: 10}\n"), 0o600))

	zones, err := LoadFile(path)
	require.NoError(t, err)
	assert.Len(t, zones, 1)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
