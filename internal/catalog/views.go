package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/firewatch-ops/firewatch-backend/internal/metrics"
	"github.com/firewatch-ops/firewatch-backend/internal/risk"
	"github.com/firewatch-ops/firewatch-backend/internal/spatial"
	"github.com/firewatch-ops/firewatch-backend/internal/telemetry"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Derived holds the fields computed on every read.
type Derived struct {
	Events       []telemetry.DroneEvent `json:"events"`
	Risk         risk.Assessment        `json:"risk"`
	ActiveDrones int                    `json:"drone_count"`
	LastUpdate   *telemetry.DroneUpdate `json:"last_update"`
}

type ZoneView struct {
	ID           int64           `json:"id"`
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	FederalState string          `json:"federal_state"`
	District     string          `json:"district"`
	Area         json.RawMessage `json:"geo_json"`
	Centroid     *geometry.Point `json:"geo_point"`
	Derived
}

type TerritoryView struct {
	spatial.Territory
	ZoneCount int             `json:"zone_count"`
	Area      json.RawMessage `json:"geo_json"`
	Centroid  *geometry.Point `json:"geo_point"`
	Derived
}

// ResolveZone returns the zone with its derived fields over the default
// windows, or nil if the zone does not exist.
func (c *Catalog) ResolveZone(ctx context.Context, id int64) (*ZoneView, error) {
	return c.ResolveZoneWithin(ctx, id, Window{})
}

func (c *Catalog) ResolveZoneWithin(ctx context.Context, id int64, w Window) (*ZoneView, error) {
	row, err := c.store.ZoneByID(ctx, id)
	if err != nil || row == nil {
		return nil, err
	}
	return c.zoneView(ctx, *row, c.windowOrDefault(w))
}

// AllZones lists every zone with derived fields, ordered by id.
func (c *Catalog) AllZones(ctx context.Context) ([]ZoneView, error) {
	rows, err := c.store.AllZones(ctx)
	if err != nil {
		return nil, err
	}
	return c.zoneViews(ctx, rows)
}

// ZonesOfDistrict lists the district's zones with derived fields.
func (c *Catalog) ZonesOfDistrict(ctx context.Context, district string) ([]ZoneView, error) {
	rows, err := c.store.ZonesByDistrict(ctx, normalize(district))
	if err != nil {
		return nil, err
	}
	return c.zoneViews(ctx, rows)
}

// ZonesOfOrganization lists the zones of all of an organization's
// territories with derived fields.
func (c *Catalog) ZonesOfOrganization(ctx context.Context, orgID uuid.UUID) ([]ZoneView, error) {
	rows, err := c.store.ZonesOfOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	return c.zoneViews(ctx, rows)
}

func (c *Catalog) ZonesOfTerritory(ctx context.Context, territoryID uuid.UUID) ([]ZoneView, error) {
	rows, err := c.store.ZonesOfTerritory(ctx, territoryID)
	if err != nil {
		return nil, err
	}
	return c.zoneViews(ctx, rows)
}

// zoneViews enriches rows concurrently, at most c.concurrency at a time.
// Output order matches rows.
func (c *Catalog) zoneViews(ctx context.Context, rows []spatial.ZoneRow) ([]ZoneView, error) {
	out := make([]ZoneView, len(rows))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for i, row := range rows {
		i, row := i, row
		g.Go(func() error {
			v, err := c.zoneView(ctx, row, c.window)
			if err != nil {
				return fmt.Errorf("zone %d: %w", row.ID, err)
			}
			out[i] = *v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Catalog) zoneView(ctx context.Context, row spatial.ZoneRow, w Window) (*ZoneView, error) {
	area, err := geometry.ToGeoJSON(row.Area)
	if err != nil {
		return nil, err
	}
	derived, err := c.derive(ctx, row.Area, w)
	if err != nil {
		return nil, err
	}
	return &ZoneView{
		ID:           row.ID,
		Code:         row.Code,
		Name:         row.Name,
		FederalState: row.FederalState,
		District:     row.District,
		Area:         area,
		Centroid:     row.Centroid,
		Derived:      *derived,
	}, nil
}

// derive computes events and risk, active drones and the latest update for
// an area. The three lookups run in parallel.
func (c *Catalog) derive(ctx context.Context, area geometry.MultiPolygon, w Window) (*Derived, error) {
	now := c.now()
	var d Derived

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		events, err := c.telemetry.EventsInArea(ctx, area, now.Add(-w.Events), now)
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		d.Events = events
		d.Risk = risk.Classify(events)
		return nil
	})
	g.Go(func() error {
		n, err := c.telemetry.ActiveDronesIn(ctx, area, w.ActiveDrones)
		if err != nil {
			return fmt.Errorf("active drones: %w", err)
		}
		d.ActiveDrones = n
		return nil
	})
	g.Go(func() error {
		last, err := c.telemetry.LatestUpdate(ctx, spatial.Filter{Within: area, Before: &now})
		if err != nil {
			return fmt.Errorf("latest update: %w", err)
		}
		d.LastUpdate = last
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &d, nil
}

// ResolveTerritory returns the territory with its effective area (the union
// of its zones) and derived fields, or nil if it does not exist.
func (c *Catalog) ResolveTerritory(ctx context.Context, id uuid.UUID) (*TerritoryView, error) {
	return c.ResolveTerritoryWithin(ctx, id, Window{})
}

func (c *Catalog) ResolveTerritoryWithin(ctx context.Context, id uuid.UUID, w Window) (*TerritoryView, error) {
	t, err := c.store.TerritoryByID(ctx, id)
	if err != nil || t == nil {
		return nil, err
	}
	area, err := c.territoryArea(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &TerritoryView{
		Territory: *t,
		ZoneCount: area.ZoneCount,
		Centroid:  area.Centroid,
	}
	if len(area.Area) == 0 {
		// No zones: nothing can be inside the territory.
		view.Risk = risk.Classify(nil)
		return view, nil
	}

	if view.Area, err = geometry.ToGeoJSON(area.Area); err != nil {
		return nil, err
	}
	derived, err := c.derive(ctx, area.Area, c.windowOrDefault(w))
	if err != nil {
		return nil, err
	}
	view.Derived = *derived
	return view, nil
}

func (c *Catalog) territoryArea(ctx context.Context, id uuid.UUID) (*spatial.TerritoryArea, error) {
	cached, err := c.cache.Get(ctx, id)
	if err != nil {
		log.Printf("[catalog] area cache read for %s failed: %v", id, err)
	}
	if cached != nil {
		metrics.AreaCache.WithLabelValues("hit").Inc()
		return cached, nil
	}
	metrics.AreaCache.WithLabelValues("miss").Inc()

	c.mu.Lock()
	gen := c.gen[id]
	c.mu.Unlock()

	area, err := c.store.TerritoryArea(ctx, id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[id] != gen {
		// A link landed while the area was read; the next read recomputes.
		return area, nil
	}
	if err := c.cache.Set(ctx, id, area); err != nil {
		log.Printf("[catalog] area cache write for %s failed: %v", id, err)
	}
	return area, nil
}
