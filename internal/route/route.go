package route

import (
	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Sample is the part of a row the reconstructor looks at. Position is nil
// when the row's coordinates could not be read.
type Sample struct {
	DroneID  int64
	Position *geometry.Point
}

// Route is one contiguous run of rows from the same drone.
type Route[T any] struct {
	DroneID int64
	// Head is the first row of the run. With rows ordered by timestamp
	// descending this is the drone's latest sample.
	Head    T
	Samples int
	// Geometry is a Point for a single position, a Path for two or more,
	// and nil when no row in the run had a usable position.
	Geometry geometry.Shape
}

// Reconstruct groups items into routes. Grouping follows contiguous runs of
// the same drone id, so a drone that reappears later in the stream starts a
// new route. Input order is preserved both across and within routes.
func Reconstruct[T any](items []T, sample func(T) Sample) []Route[T] {
	var (
		routes []Route[T]
		cur    *Route[T]
		points []orb.Point
	)

	flush := func() {
		if cur == nil {
			return
		}
		cur.Geometry = shapeOf(points)
		routes = append(routes, *cur)
		cur, points = nil, nil
	}

	for _, it := range items {
		s := sample(it)
		if cur == nil || cur.DroneID != s.DroneID {
			flush()
			cur = &Route[T]{DroneID: s.DroneID, Head: it}
		}
		cur.Samples++
		if s.Position != nil {
			points = append(points, orb.Point(*s.Position))
		}
	}
	flush()

	return routes
}

// Feature renders the route as a GeoJSON feature with the given properties.
func (r Route[T]) Feature(props map[string]any) *geojson.Feature {
	return geometry.Feature(r.Geometry, props)
}

func shapeOf(points []orb.Point) geometry.Shape {
	switch len(points) {
	case 0:
		return nil
	case 1:
		return geometry.Point(points[0])
	default:
		return geometry.Path(points)
	}
}
