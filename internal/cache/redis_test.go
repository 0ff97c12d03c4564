package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/firewatch-ops/firewatch-backend/internal/cache"
	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/firewatch-ops/firewatch-backend/internal/spatial"
	"github.com/google/uuid"
)

func TestAreaCache_RoundTrip(t *testing.T) {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set, skipping redis test")
	}
	ctx := context.Background()

	rdb, err := cache.Connect(ctx, addr, os.Getenv("REDIS_PASSWORD"))
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer rdb.Close()

	c := cache.NewAreaCache(rdb, "firewatch-test", time.Minute)
	id := uuid.New()

	if got, err := c.Get(ctx, id); err != nil || got != nil {
		t.Fatalf("expected miss, got %+v, %v", got, err)
	}

	center := geometry.Point{0.5, 0.25}
	want := &spatial.TerritoryArea{
		ZoneCount: 2,
		Area:      geometry.MultiPolygon{{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}}},
		Centroid:  &center,
	}
	if err := c.Set(ctx, id, want); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := c.Get(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("Get: %+v, %v", got, err)
	}
	if got.ZoneCount != 2 || !geometry.Equal(got.Area, want.Area, 1e-9) || got.Centroid == nil || *got.Centroid != center {
		t.Errorf("cached area differs: %+v", got)
	}

	if err := c.Invalidate(ctx, id); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if got, _ := c.Get(ctx, id); got != nil {
		t.Errorf("expected miss after invalidation, got %+v", got)
	}
}
