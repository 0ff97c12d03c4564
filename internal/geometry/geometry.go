package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// SRID is the spatial reference every stored geometry uses (WGS84).
const SRID = 4326

// Kind tags the concrete shape behind a Shape.
type Kind int

const (
	KindPoint Kind = iota + 1
	KindPolygon
	KindMultiPolygon
	KindPath
)

func (k Kind) String() string {
	switch k {
	case KindPoint:
		return "Point"
	case KindPolygon:
		return "Polygon"
	case KindMultiPolygon:
		return "MultiPolygon"
	case KindPath:
		return "LineString"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Shape is implemented only by Point, Polygon, MultiPolygon and Path.
// Callers switch on the concrete type.
type Shape interface {
	Kind() Kind
	Orb() orb.Geometry
	shape()
}

// Point is (longitude, latitude).
type Point orb.Point

// Polygon is an exterior ring followed by optional holes.
type Polygon orb.Polygon

// MultiPolygon is the storage form of every zone area.
type MultiPolygon orb.MultiPolygon

// Path is an ordered polyline of two or more points.
type Path orb.LineString

func (Point) Kind() Kind        { return KindPoint }
func (Polygon) Kind() Kind      { return KindPolygon }
func (MultiPolygon) Kind() Kind { return KindMultiPolygon }
func (Path) Kind() Kind         { return KindPath }

func (p Point) Orb() orb.Geometry        { return orb.Point(p) }
func (p Polygon) Orb() orb.Geometry      { return orb.Polygon(p) }
func (m MultiPolygon) Orb() orb.Geometry { return orb.MultiPolygon(m) }
func (p Path) Orb() orb.Geometry         { return orb.LineString(p) }

func (Point) shape()        {}
func (Polygon) shape()      {}
func (MultiPolygon) shape() {}
func (Path) shape()         {}

func (p Point) Lon() float64 { return p[0] }
func (p Point) Lat() float64 { return p[1] }

// ErrInvalid matches every *Error with errors.Is.
var ErrInvalid = errors.New("invalid geometry")

// Error reports malformed or degenerate input geometry.
type Error struct {
	Reason string
}

func (e *Error) Error() string        { return "geometry: " + e.Reason }
func (e *Error) Is(target error) bool { return target == ErrInvalid }

func invalidf(format string, args ...any) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

func reason(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Reason
	}
	return err.Error()
}

// NewPoint validates a coordinate pair.
func NewPoint(lon, lat float64) (Point, error) {
	if err := checkCoord(orb.Point{lon, lat}); err != nil {
		return Point{}, err
	}
	return Point{lon, lat}, nil
}

// Parse decodes a GeoJSON geometry object into a validated Shape.
// Open rings are closed.
func Parse(data []byte) (Shape, error) {
	g, err := geojson.UnmarshalGeometry(data)
	if err != nil {
		return nil, invalidf("decode geojson: %v", err)
	}
	return FromOrb(g.Geometry())
}

// ParseArea decodes a Polygon or MultiPolygon and promotes it to a
// MultiPolygon.
func ParseArea(data []byte) (MultiPolygon, error) {
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return Promote(s)
}

// FromOrb validates an orb geometry and wraps it in the matching Shape.
func FromOrb(g orb.Geometry) (Shape, error) {
	switch v := g.(type) {
	case orb.Point:
		return NewPoint(v[0], v[1])
	case orb.Polygon:
		return normalizePolygon(v)
	case orb.MultiPolygon:
		return normalizeMultiPolygon(v)
	case orb.LineString:
		return normalizePath(v)
	case nil:
		return nil, invalidf("missing geometry")
	default:
		return nil, invalidf("unsupported geometry type %s", g.GeoJSONType())
	}
}

// Promote turns a Polygon into a single-member MultiPolygon. Other
// non-areal shapes are rejected.
func Promote(s Shape) (MultiPolygon, error) {
	switch v := s.(type) {
	case MultiPolygon:
		return v, nil
	case Polygon:
		return MultiPolygon{orb.Polygon(v)}, nil
	case nil:
		return nil, invalidf("missing geometry")
	default:
		return nil, invalidf("expected Polygon or MultiPolygon, got %s", s.Kind())
	}
}

// ToWKT renders the well-known text used for persistence.
func ToWKT(s Shape) string {
	return wkt.MarshalString(s.Orb())
}

// ToGeoJSON renders the interchange form of s.
func ToGeoJSON(s Shape) ([]byte, error) {
	return json.Marshal(geojson.NewGeometry(s.Orb()))
}

// Feature wraps s in a GeoJSON feature. A nil shape yields a feature with a
// null geometry.
func Feature(s Shape, props map[string]any) *geojson.Feature {
	var g orb.Geometry
	if s != nil {
		g = s.Orb()
	}
	f := geojson.NewFeature(g)
	for k, v := range props {
		f.Properties[k] = v
	}
	return f
}

// Contains reports whether area contains p; boundary points count as inside.
// It matches the store's ST_Intersects test for points and lets callers
// check a point against a zone without a round trip.
func Contains(area MultiPolygon, p Point) bool {
	return planar.MultiPolygonContains(orb.MultiPolygon(area), orb.Point(p))
}

// Centroid is the area-weighted centroid of area.
func Centroid(area MultiPolygon) Point {
	c, _ := planar.CentroidArea(orb.MultiPolygon(area))
	return Point(c)
}

// Equal compares two shapes coordinate by coordinate within tol.
func Equal(a, b Shape, tol float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Point:
		return pointsClose(orb.Point(av), orb.Point(b.(Point)), tol)
	case Path:
		return ringsClose(orb.Ring(av), orb.Ring(b.(Path)), tol)
	case Polygon:
		return polygonsClose(orb.Polygon(av), orb.Polygon(b.(Polygon)), tol)
	case MultiPolygon:
		bv := b.(MultiPolygon)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !polygonsClose(av[i], bv[i], tol) {
				return false
			}
		}
		return true
	}
	return false
}

func normalizeMultiPolygon(mp orb.MultiPolygon) (MultiPolygon, error) {
	if len(mp) == 0 {
		return nil, invalidf("multipolygon has no polygons")
	}
	out := make(MultiPolygon, 0, len(mp))
	for i, p := range mp {
		np, err := normalizePolygon(p)
		if err != nil {
			return nil, invalidf("polygon %d: %s", i, reason(err))
		}
		out = append(out, orb.Polygon(np))
	}
	return out, nil
}

func normalizePolygon(p orb.Polygon) (Polygon, error) {
	if len(p) == 0 {
		return nil, invalidf("polygon has no rings")
	}
	out := make(Polygon, 0, len(p))
	for i, r := range p {
		nr, err := normalizeRing(r)
		if err != nil {
			return nil, invalidf("ring %d: %s", i, reason(err))
		}
		out = append(out, nr)
	}

	// Holes must lie inside the exterior ring and must not cross it or
	// each other. Touching at single points is allowed.
	exterior := out[0]
	holes := out[1:]
	for i, hole := range holes {
		for _, pt := range hole {
			if !planar.RingContains(exterior, pt) {
				return nil, invalidf("ring %d lies outside the exterior ring", i+1)
			}
		}
		if ringsCross(exterior, hole) {
			return nil, invalidf("ring %d crosses the exterior ring", i+1)
		}
		for j, other := range holes[:i] {
			if ringsCross(other, hole) || vertexInside(hole, other) || vertexInside(other, hole) {
				return nil, invalidf("rings %d and %d overlap", j+1, i+1)
			}
		}
	}
	return out, nil
}

func orient(a, b, c orb.Point) float64 {
	return (b[0]-a[0])*(c[1]-a[1]) - (b[1]-a[1])*(c[0]-a[0])
}

// segmentsCross reports a proper crossing: each segment has one endpoint
// strictly on either side of the other.
func segmentsCross(p1, p2, q1, q2 orb.Point) bool {
	d1, d2 := orient(q1, q2, p1), orient(q1, q2, p2)
	d3, d4 := orient(p1, p2, q1), orient(p1, p2, q2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

// ringsCross expects closed rings.
func ringsCross(a, b orb.Ring) bool {
	for i := 1; i < len(a); i++ {
		for j := 1; j < len(b); j++ {
			if segmentsCross(a[i-1], a[i], b[j-1], b[j]) {
				return true
			}
		}
	}
	return false
}

func onRing(r orb.Ring, pt orb.Point) bool {
	for i := 1; i < len(r); i++ {
		a, b := r[i-1], r[i]
		if orient(a, b, pt) == 0 &&
			pt[0] >= math.Min(a[0], b[0]) && pt[0] <= math.Max(a[0], b[0]) &&
			pt[1] >= math.Min(a[1], b[1]) && pt[1] <= math.Max(a[1], b[1]) {
			return true
		}
	}
	return false
}

// vertexInside reports whether any vertex of a lies strictly inside b.
func vertexInside(a, b orb.Ring) bool {
	for _, pt := range a {
		if planar.RingContains(b, pt) && !onRing(b, pt) {
			return true
		}
	}
	return false
}

func normalizeRing(r orb.Ring) (orb.Ring, error) {
	distinct := make(map[orb.Point]struct{}, len(r))
	for _, pt := range r {
		if err := checkCoord(pt); err != nil {
			return nil, err
		}
		distinct[pt] = struct{}{}
	}
	if len(distinct) < 3 {
		return nil, invalidf("ring has %d distinct vertices, need at least 3", len(distinct))
	}

	out := make(orb.Ring, len(r), len(r)+1)
	copy(out, r)
	if !out.Closed() {
		out = append(out, out[0])
	}
	return out, nil
}

func normalizePath(ls orb.LineString) (Path, error) {
	if len(ls) < 2 {
		return nil, invalidf("path has %d points, need at least 2", len(ls))
	}
	out := make(Path, len(ls))
	for i, pt := range ls {
		if err := checkCoord(pt); err != nil {
			return nil, err
		}
		out[i] = pt
	}
	return out, nil
}

func checkCoord(p orb.Point) error {
	lon, lat := p[0], p[1]
	if math.IsNaN(lon) || math.IsInf(lon, 0) || math.IsNaN(lat) || math.IsInf(lat, 0) {
		return invalidf("non-finite coordinate (%v, %v)", lon, lat)
	}
	if lon < -180 || lon > 180 || lat < -90 || lat > 90 {
		return invalidf("coordinate (%v, %v) out of range", lon, lat)
	}
	return nil
}

func pointsClose(a, b orb.Point, tol float64) bool {
	return math.Abs(a[0]-b[0]) <= tol && math.Abs(a[1]-b[1]) <= tol
}

func ringsClose(a, b orb.Ring, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !pointsClose(a[i], b[i], tol) {
			return false
		}
	}
	return true
}

func polygonsClose(a, b orb.Polygon, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !ringsClose(a[i], b[i], tol) {
			return false
		}
	}
	return true
}
