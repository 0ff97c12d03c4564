package catalog

import (
	"io"
	"log"
	"os"
	"strings"

	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/firewatch-ops/firewatch-backend/internal/spatial"
	"github.com/paulmach/orb/geojson"
	"github.com/pkg/errors"
	"golang.org/x/text/unicode/norm"
)

// Source property names. Label properties may be a string or a one-element
// list of strings.
const (
	propCode     = "gem_code"
	propName     = "gem_name_short"
	propState    = "lan_name"
	propDistrict = "krs_name"
	propCentroid = "geo_point_2d"
)

// ReadZonesFile parses a GeoJSON FeatureCollection of community polygons.
func ReadZonesFile(path string) ([]spatial.NewZone, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "could not open zone source")
	}
	defer f.Close()

	zones, err := ReadZones(f)
	if err != nil {
		return nil, errors.Wrapf(err, "zone source %s", path)
	}
	return zones, nil
}

// ReadZones parses zones from a FeatureCollection. Any invalid feature fails
// the whole batch so an import never lands half a source.
func ReadZones(r io.Reader) ([]spatial.NewZone, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "could not read zone source")
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, errors.Wrap(err, "could not decode feature collection")
	}

	zones := make([]spatial.NewZone, 0, len(fc.Features))
	for i, feat := range fc.Features {
		z, err := zoneFromFeature(feat)
		if err != nil {
			return nil, errors.Wrapf(err, "feature %d", i)
		}
		zones = append(zones, z)
	}
	return zones, nil
}

func zoneFromFeature(f *geojson.Feature) (spatial.NewZone, error) {
	code := label(f.Properties[propCode])
	if code == "" {
		return spatial.NewZone{}, errors.Errorf("missing %s", propCode)
	}

	shape, err := geometry.FromOrb(f.Geometry)
	if err != nil {
		return spatial.NewZone{}, errors.Wrapf(err, "zone %s", code)
	}
	area, err := geometry.Promote(shape)
	if err != nil {
		return spatial.NewZone{}, errors.Wrapf(err, "zone %s", code)
	}

	z := spatial.NewZone{
		Code:         code,
		Name:         label(f.Properties[propName]),
		FederalState: label(f.Properties[propState]),
		District:     label(f.Properties[propDistrict]),
		Area:         area,
	}
	// A source centroid outside the zone is usually swapped lon/lat.
	c, ok := centroid(f.Properties[propCentroid])
	if ok && !geometry.Contains(area, c) {
		log.Printf("[catalog] zone %s: %s %v outside zone, computing centroid", code, propCentroid, c)
		ok = false
	}
	if !ok {
		c = geometry.Centroid(area)
	}
	z.Centroid = &c
	return z, nil
}

// label reads a string or the first string of a list, NFC-normalized.
func label(v any) string {
	switch t := v.(type) {
	case string:
		return normalize(t)
	case []any:
		if len(t) > 0 {
			if s, ok := t[0].(string); ok {
				return normalize(s)
			}
		}
	}
	return ""
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

func centroid(v any) (geometry.Point, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return geometry.Point{}, false
	}
	lon, okLon := m["lon"].(float64)
	lat, okLat := m["lat"].(float64)
	if !okLon || !okLat {
		return geometry.Point{}, false
	}
	p, err := geometry.NewPoint(lon, lat)
	if err != nil {
		return geometry.Point{}, false
	}
	return p, true
}
