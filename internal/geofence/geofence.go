// Package geofence resolves points to circular zones.
//
// Zones are a center and a radius in meters. A point belongs to the zone
// whose circle contains it; when circles overlap the closest center wins.
package geofence

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/vivacius/asistenciacampo/internal/record"
)

const earthRadiusM = 6371000

// Zone is a circular geofence.
type Zone struct {
	Code    string  `yaml:"code" json:"code"`
	Name    string  `yaml:"name" json:"name"`
	Lat     float64 `yaml:"lat" json:"lat"`
	Lon     float64 `yaml:"lon" json:"lon"`
	RadiusM float64 `yaml:"radius_m" json:"radius_m"`
}

// Validate checks the zone is usable.
func (z Zone) Validate() error {
	switch {
	case z.Code == "":
		return errors.New("zone code is required")
	case z.RadiusM <= 0:
		return fmt.Errorf("zone %s: radius must be positive", z.Code)
	case z.Lat < -90 || z.Lat > 90 || z.Lon < -180 || z.Lon > 180:
		return fmt.Errorf("zone %s: center out of range", z.Code)
	}
	return nil
}

// Ref returns the record reference for the zone.
func (z Zone) Ref() *record.Zone {
	return record.NormalizeZone(&record.Zone{Code: z.Code, Name: z.Name})
}

// Distance returns the great-circle distance in meters between two points.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * (math.Pi / 180.0)
	dLon := (lon2 - lon1) * (math.Pi / 180.0)

	lat1Rad := lat1 * (math.Pi / 180.0)
	lat2Rad := lat2 * (math.Pi / 180.0)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Sin(dLon/2)*math.Sin(dLon/2)*math.Cos(lat1Rad)*math.Cos(lat2Rad)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// Resolve returns the zone containing the point, or nil.
func Resolve(zones []Zone, lat, lon float64) *record.Zone {
	best := -1
	bestDist := math.Inf(1)
	for i, z := range zones {
		d := Distance(z.Lat, z.Lon, lat, lon)
		if d <= z.RadiusM && d < bestDist {
			best, bestDist = i, d
		}
	}
	if best < 0 {
		return nil
	}
	return zones[best].Ref()
}

type file struct {
	Zones []Zone `yaml:"zones"`
}

// Parse decodes a YAML zone list:
//
//	zones:
//	  - code: L7
//	    name: Lote 7
//	    lat: 4.61
//	    lon: -74.08
//	    radius_m: 250
func Parse(data []byte) ([]Zone, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse zones: %w", err)
	}
	seen := make(map[string]bool, len(f.Zones))
	for _, z := range f.Zones {
		if err := z.Validate(); err != nil {
			return nil, fmt.Errorf("parse zones: %w", err)
		}
		if seen[z.Code] {
			return nil, fmt.Errorf("parse zones: duplicate code %q", z.Code)
		}
		seen[z.Code] = true
	}
	sort.Slice(f.Zones, func(i, j int) bool { return f.Zones[i].Code < f.Zones[j].Code })
	return f.Zones, nil
}

// LoadFile reads a YAML zone list from path.
func LoadFile(path string) ([]Zone, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load zones: %w", err)
	}
	return Parse(data)
}
