package route_test

import (
	"testing"

	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/firewatch-ops/firewatch-backend/internal/route"
)

type row struct {
	id    int
	drone int64
	pos   *geometry.Point
}

func at(lon, lat float64) *geometry.Point {
	p := geometry.Point{lon, lat}
	return &p
}

func sampleOf(r row) route.Sample {
	return route.Sample{DroneID: r.drone, Position: r.pos}
}

func TestReconstruct_ContiguousRuns(t *testing.T) {
	// A, A, B, A, A: drone 1 reappears after drone 2 and gets its own route.
	rows := []row{
		{1, 1, at(10, 50)},
		{2, 1, at(10.1, 50.1)},
		{3, 2, at(11, 51)},
		{4, 1, at(12, 52)},
		{5, 1, at(12.1, 52.1)},
	}

	routes := route.Reconstruct(rows, sampleOf)
	if len(routes) != 3 {
		t.Fatalf("expected 3 routes, got %d", len(routes))
	}

	wantDrones := []int64{1, 2, 1}
	for i, r := range routes {
		if r.DroneID != wantDrones[i] {
			t.Errorf("route %d: drone %d, want %d", i, r.DroneID, wantDrones[i])
		}
	}

	first, ok := routes[0].Geometry.(geometry.Path)
	if !ok {
		t.Fatalf("route 0: expected Path, got %T", routes[0].Geometry)
	}
	if len(first) != 2 || first[0] != [2]float64{10, 50} || first[1] != [2]float64{10.1, 50.1} {
		t.Errorf("route 0: path not in input order: %v", first)
	}
	if routes[0].Head.id != 1 || routes[2].Head.id != 4 {
		t.Errorf("heads should be the first row of each run, got %d and %d", routes[0].Head.id, routes[2].Head.id)
	}

	single, ok := routes[1].Geometry.(geometry.Point)
	if !ok {
		t.Fatalf("route 1: expected Point, got %T", routes[1].Geometry)
	}
	if single.Lon() != 11 || single.Lat() != 51 {
		t.Errorf("route 1: unexpected point %v", single)
	}
}

func TestReconstruct_MissingPositions(t *testing.T) {
	rows := []row{
		{1, 7, nil},
		{2, 7, nil},
		{3, 8, nil},
		{4, 8, at(1, 1)},
	}

	routes := route.Reconstruct(rows, sampleOf)
	if len(routes) != 2 {
		t.Fatalf("expected 2 routes, got %d", len(routes))
	}
	if routes[0].Geometry != nil {
		t.Errorf("expected nil geometry when no position is usable, got %v", routes[0].Geometry)
	}
	if routes[0].Samples != 2 {
		t.Errorf("expected 2 samples, got %d", routes[0].Samples)
	}
	if _, ok := routes[1].Geometry.(geometry.Point); !ok {
		t.Errorf("expected a Point from the one usable position, got %T", routes[1].Geometry)
	}

	f := routes[0].Feature(map[string]any{"drone_id": int64(7)})
	if f.Geometry != nil {
		t.Errorf("expected null feature geometry, got %v", f.Geometry)
	}
	if f.Properties["drone_id"] != int64(7) {
		t.Errorf("feature properties not set: %v", f.Properties)
	}
}

func TestReconstruct_Empty(t *testing.T) {
	if routes := route.Reconstruct(nil, sampleOf); len(routes) != 0 {
		t.Errorf("expected no routes, got %d", len(routes))
	}
}
