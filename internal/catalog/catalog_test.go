package catalog_test

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/firewatch-ops/firewatch-backend/internal/catalog"
	"github.com/firewatch-ops/firewatch-backend/internal/config"
	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/firewatch-ops/firewatch-backend/internal/risk"
	"github.com/firewatch-ops/firewatch-backend/internal/spatial"
	"github.com/firewatch-ops/firewatch-backend/internal/telemetry"
	"github.com/google/uuid"
)

// fakeStore keeps zones and links in memory with the same uniqueness rules
// as the database.
type fakeStore struct {
	mu          sync.Mutex
	zones       []spatial.ZoneRow
	territories map[uuid.UUID]spatial.Territory
	links       map[uuid.UUID]map[int64]bool
	areaCalls   int
	// onArea runs after TerritoryArea has read the links.
	onArea func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		territories: map[uuid.UUID]spatial.Territory{},
		links:       map[uuid.UUID]map[int64]bool{},
	}
}

func (f *fakeStore) ContainingZone(_ context.Context, p geometry.Point) (*spatial.ZoneRef, error) {
	for _, z := range f.zones {
		if geometry.Contains(z.Area, p) {
			return &spatial.ZoneRef{ID: z.ID, Code: z.Code, Name: z.Name}, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) AllZones(context.Context) ([]spatial.ZoneRow, error) {
	return f.zones, nil
}

func (f *fakeStore) ZoneByID(_ context.Context, id int64) (*spatial.ZoneRow, error) {
	for i := range f.zones {
		if f.zones[i].ID == id {
			return &f.zones[i], nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ZonesByDistrict(_ context.Context, district string) ([]spatial.ZoneRow, error) {
	var out []spatial.ZoneRow
	for _, z := range f.zones {
		if z.District == district {
			out = append(out, z)
		}
	}
	return out, nil
}

func (f *fakeStore) ZonesOfOrganization(_ context.Context, orgID uuid.UUID) ([]spatial.ZoneRow, error) {
	var out []spatial.ZoneRow
	for _, z := range f.zones {
		for tid, links := range f.links {
			if f.territories[tid].OrganizationID == orgID && links[z.ID] {
				out = append(out, z)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) ZonesOfTerritory(_ context.Context, territoryID uuid.UUID) ([]spatial.ZoneRow, error) {
	var out []spatial.ZoneRow
	for _, z := range f.zones {
		if f.links[territoryID][z.ID] {
			out = append(out, z)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertZone(_ context.Context, z spatial.NewZone) (int64, error) {
	for _, existing := range f.zones {
		if existing.Code == z.Code {
			return 0, spatial.ErrConflict
		}
	}
	id := int64(len(f.zones) + 1)
	f.zones = append(f.zones, spatial.ZoneRow{
		ID: id, Code: z.Code, Name: z.Name, FederalState: z.FederalState,
		District: z.District, Area: z.Area, Centroid: z.Centroid,
	})
	return id, nil
}

func (f *fakeStore) InsertZones(ctx context.Context, zones []spatial.NewZone) (int, error) {
	n := 0
	for _, z := range zones {
		if _, err := f.InsertZone(ctx, z); err == nil {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CreateTerritory(_ context.Context, t *spatial.Territory) error {
	for _, existing := range f.territories {
		if existing.OrganizationID == t.OrganizationID && existing.Name == t.Name {
			return spatial.ErrConflict
		}
	}
	f.territories[t.ID] = *t
	return nil
}

func (f *fakeStore) LinkZone(_ context.Context, territoryID uuid.UUID, zoneID int64) error {
	if _, ok := f.territories[territoryID]; !ok {
		return spatial.ErrPersistence
	}
	if zoneID <= 0 || int(zoneID) > len(f.zones) {
		return spatial.ErrPersistence
	}
	if f.links[territoryID] == nil {
		f.links[territoryID] = map[int64]bool{}
	}
	if f.links[territoryID][zoneID] {
		return spatial.ErrConflict
	}
	f.links[territoryID][zoneID] = true
	return nil
}

func (f *fakeStore) TerritoryByID(_ context.Context, id uuid.UUID) (*spatial.Territory, error) {
	t, ok := f.territories[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) TerritoriesOfOrganization(_ context.Context, orgID uuid.UUID) ([]spatial.Territory, error) {
	var out []spatial.Territory
	for _, t := range f.territories {
		if t.OrganizationID == orgID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeStore) TerritoryArea(_ context.Context, id uuid.UUID) (*spatial.TerritoryArea, error) {
	f.mu.Lock()
	f.areaCalls++
	f.mu.Unlock()

	out := &spatial.TerritoryArea{}
	for _, z := range f.zones {
		if f.links[id][z.ID] {
			out.ZoneCount++
			out.Area = append(out.Area, z.Area...)
		}
	}
	if out.ZoneCount > 0 {
		c := geometry.Centroid(out.Area)
		out.Centroid = &c
	}
	if f.onArea != nil {
		f.onArea()
	}
	return out, nil
}

// fakeTelemetry returns fixed events and counts and records the windows it
// was asked for.
type fakeTelemetry struct {
	mu     sync.Mutex
	events []telemetry.DroneEvent
	active int
	after  []time.Time
}

func (f *fakeTelemetry) EventsInArea(_ context.Context, _ geometry.Shape, after, _ time.Time) ([]telemetry.DroneEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.after = append(f.after, after)
	return f.events, nil
}

func (f *fakeTelemetry) ActiveDronesIn(context.Context, geometry.Shape, time.Duration) (int, error) {
	return f.active, nil
}

func (f *fakeTelemetry) LatestUpdate(context.Context, spatial.Filter) (*telemetry.DroneUpdate, error) {
	return nil, nil
}

type mapCache struct {
	mu    sync.Mutex
	areas map[uuid.UUID]*spatial.TerritoryArea
}

func (m *mapCache) Get(_ context.Context, id uuid.UUID) (*spatial.TerritoryArea, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.areas[id], nil
}

func (m *mapCache) Set(_ context.Context, id uuid.UUID, a *spatial.TerritoryArea) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.areas[id] = a
	return nil
}

func (m *mapCache) Invalidate(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.areas, id)
	return nil
}

const source = `{
  "type": "FeatureCollection",
  "features": [
    {
      "type": "Feature",
      "geometry": {"type": "Polygon", "coordinates": [[[12.90,52.20],[12.99,52.20],[12.99,52.26],[12.90,52.26]]]},
      "properties": {
        "gem_code": ["120690017017"],
        "gem_name_short": ["Beelitz"],
        "lan_name": ["Brandenburg"],
        "krs_name": ["Potsdam-Mittelmark"],
        "geo_point_2d": {"lon": 12.947, "lat": 52.227}
      }
    },
    {
      "type": "Feature",
      "geometry": {"type": "MultiPolygon", "coordinates": [[[[13.00,52.20],[13.10,52.20],[13.10,52.30],[13.00,52.20]]]]},
      "properties": {
        "gem_code": "120690020020",
        "gem_name_short": "Michendorf",
        "lan_name": "Brandenburg",
        "krs_name": "Potsdam-Mittelmark"
      }
    }
  ]
}`

var now = time.Date(2024, 8, 1, 15, 0, 0, 0, time.UTC)

func newCatalog(store catalog.Store, tel catalog.Telemetry, opts ...catalog.Option) *catalog.Catalog {
	opts = append([]catalog.Option{catalog.WithClock(func() time.Time { return now })}, opts...)
	return catalog.New(store, tel, config.Default(), opts...)
}

func TestImportZones_Idempotent(t *testing.T) {
	store := newFakeStore()
	c := newCatalog(store, &fakeTelemetry{})
	ctx := context.Background()

	first, err := c.ImportZones(ctx, strings.NewReader(source))
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if first != 2 {
		t.Errorf("expected 2 zones, got %d", first)
	}

	second, err := c.ImportZones(ctx, strings.NewReader(source))
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second != 0 {
		t.Errorf("expected no new zones on re-import, got %d", second)
	}
	if len(store.zones) != 2 {
		t.Errorf("expected 2 stored zones, got %d", len(store.zones))
	}
}

func TestImportZonesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zones.geojson")
	if err := os.WriteFile(path, []byte(source), 0o600); err != nil {
		t.Fatalf("write source: %v", err)
	}
	c := newCatalog(newFakeStore(), &fakeTelemetry{})

	n, err := c.ImportZonesFile(context.Background(), path)
	if err != nil || n != 2 {
		t.Fatalf("ImportZonesFile = %d, %v", n, err)
	}

	_, err = c.ImportZonesFile(context.Background(), filepath.Join(t.TempDir(), "missing.geojson"))
	if err == nil || !strings.Contains(err.Error(), "could not open zone source") {
		t.Errorf("expected an open error, got %v", err)
	}
}

func TestReadZones_Properties(t *testing.T) {
	zones, err := catalog.ReadZones(strings.NewReader(source))
	if err != nil {
		t.Fatalf("ReadZones: %v", err)
	}

	z := zones[0]
	if z.Code != "120690017017" || z.Name != "Beelitz" || z.District != "Potsdam-Mittelmark" {
		t.Errorf("labels not read from list properties: %+v", z)
	}
	if len(z.Area) != 1 || !z.Area[0][0].Closed() {
		t.Errorf("expected a closed single-polygon area, got %v", z.Area)
	}
	if z.Centroid == nil || z.Centroid.Lon() != 12.947 {
		t.Errorf("expected source centroid, got %v", z.Centroid)
	}

	if zones[1].Name != "Michendorf" || zones[1].Centroid == nil {
		t.Errorf("expected scalar labels and a computed centroid, got %+v", zones[1])
	}
}

func TestReadZones_RejectsDegenerateFeature(t *testing.T) {
	bad := `{"type":"FeatureCollection","features":[{"type":"Feature",
		"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,1],[0,0]]]},
		"properties":{"gem_code":"1"}}]}`

	if _, err := catalog.ReadZones(strings.NewReader(bad)); !errors.Is(err, geometry.ErrInvalid) {
		t.Errorf("expected geometry.ErrInvalid, got %v", err)
	}
}

func TestReadZones_NormalizesNames(t *testing.T) {
	// "Müllrose" with a combining diaeresis.
	decomposed := "Mu\u0308llrose"
	src := `{"type":"FeatureCollection","features":[{"type":"Feature",
		"geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},
		"properties":{"gem_code":"2","gem_name_short":"` + decomposed + `"}}]}`

	zones, err := catalog.ReadZones(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ReadZones: %v", err)
	}
	if zones[0].Name != "M\u00fcllrose" {
		t.Errorf("expected NFC name, got %q", zones[0].Name)
	}
}

func TestReadZones_ReplacesCentroidOutsideZone(t *testing.T) {
	// geo_point_2d has lon and lat swapped.
	src := `{"type":"FeatureCollection","features":[{"type":"Feature",
		"geometry":{"type":"Polygon","coordinates":[[[12.90,52.20],[12.99,52.20],[12.99,52.26],[12.90,52.26],[12.90,52.20]]]},
		"properties":{"gem_code":"3","geo_point_2d":{"lon":52.227,"lat":12.947}}}]}`

	zones, err := catalog.ReadZones(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ReadZones: %v", err)
	}
	c := zones[0].Centroid
	if c == nil || math.Abs(c.Lon()-12.945) > 1e-6 || math.Abs(c.Lat()-52.23) > 1e-6 {
		t.Errorf("expected computed centroid (12.945, 52.23), got %v", c)
	}
	if !geometry.Contains(zones[0].Area, *c) {
		t.Errorf("centroid %v outside its zone", c)
	}
}

func TestLinkZones_ContinuesPastConflicts(t *testing.T) {
	store := newFakeStore()
	c := newCatalog(store, &fakeTelemetry{})
	ctx := context.Background()

	if _, err := c.ImportZones(ctx, strings.NewReader(source)); err != nil {
		t.Fatalf("ImportZones: %v", err)
	}
	terr, err := c.CreateTerritory(ctx, uuid.New(), " Havelland ", "")
	if err != nil {
		t.Fatalf("CreateTerritory: %v", err)
	}
	if terr.Name != "Havelland" {
		t.Errorf("expected trimmed name, got %q", terr.Name)
	}
	if _, err := c.CreateTerritory(ctx, terr.OrganizationID, "Havelland", ""); !errors.Is(err, spatial.ErrConflict) {
		t.Errorf("expected ErrConflict for a duplicate name, got %v", err)
	}

	if err := c.LinkZone(ctx, terr.ID, 1); err != nil {
		t.Fatalf("LinkZone: %v", err)
	}
	if err := c.LinkZone(ctx, terr.ID, 1); !errors.Is(err, spatial.ErrConflict) {
		t.Errorf("expected ErrConflict for a duplicate link, got %v", err)
	}

	report := c.LinkZones(ctx, terr.ID, []int64{1, 2, 99})
	if len(report.Linked) != 1 || report.Linked[0] != 2 {
		t.Errorf("expected zone 2 linked, got %v", report.Linked)
	}
	if len(report.Conflicts) != 1 || report.Conflicts[0] != 1 {
		t.Errorf("expected zone 1 as conflict, got %v", report.Conflicts)
	}
	if _, ok := report.Failed[99]; !ok || len(report.Failed) != 1 {
		t.Errorf("expected zone 99 to fail, got %v", report.Failed)
	}
}

func TestResolveZone(t *testing.T) {
	store := newFakeStore()
	tel := &fakeTelemetry{
		active: 3,
		events: []telemetry.DroneEvent{
			{ID: 1, Type: telemetry.EventSmoke, Confidence: 65},
			{ID: 2, Type: telemetry.EventFire, Confidence: 20},
		},
	}
	c := newCatalog(store, tel)
	ctx := context.Background()

	if _, err := c.ImportZones(ctx, strings.NewReader(source)); err != nil {
		t.Fatalf("ImportZones: %v", err)
	}

	view, err := c.ResolveZone(ctx, 1)
	if err != nil || view == nil {
		t.Fatalf("ResolveZone: %+v, %v", view, err)
	}
	if view.Risk.Overall != risk.Middle {
		t.Errorf("expected MIDDLE, got %s", view.Risk.Overall)
	}
	if view.ActiveDrones != 3 || len(view.Events) != 2 {
		t.Errorf("unexpected derived fields: %+v", view.Derived)
	}
	if len(tel.after) != 1 || !tel.after[0].Equal(now.Add(-24*time.Hour)) {
		t.Errorf("expected default 24h event window, got %v", tel.after)
	}

	if _, err := c.ResolveZoneWithin(ctx, 1, catalog.Window{Events: time.Hour}); err != nil {
		t.Fatalf("ResolveZoneWithin: %v", err)
	}
	if !tel.after[1].Equal(now.Add(-time.Hour)) {
		t.Errorf("expected overridden 1h window, got %v", tel.after[1])
	}

	if missing, err := c.ResolveZone(ctx, 42); missing != nil || err != nil {
		t.Errorf("expected nil, nil for a missing zone, got %+v, %v", missing, err)
	}
}

func TestZonesOfDistrict_KeepsOrder(t *testing.T) {
	store := newFakeStore()
	c := newCatalog(store, &fakeTelemetry{})
	ctx := context.Background()

	if _, err := c.ImportZones(ctx, strings.NewReader(source)); err != nil {
		t.Fatalf("ImportZones: %v", err)
	}
	views, err := c.ZonesOfDistrict(ctx, "Potsdam-Mittelmark")
	if err != nil {
		t.Fatalf("ZonesOfDistrict: %v", err)
	}
	if len(views) != 2 || views[0].ID != 1 || views[1].ID != 2 {
		t.Fatalf("unexpected views %+v", views)
	}
	for _, v := range views {
		if v.Risk.Overall != risk.VeryLow || v.Risk.Fire != nil || v.Risk.Smoke != nil {
			t.Errorf("zone %d without events should be VERY_LOW with nil levels, got %+v", v.ID, v.Risk)
		}
	}
}

func TestResolveTerritory_CachesArea(t *testing.T) {
	store := newFakeStore()
	cache := &mapCache{areas: map[uuid.UUID]*spatial.TerritoryArea{}}
	c := newCatalog(store, &fakeTelemetry{}, catalog.WithCache(cache))
	ctx := context.Background()

	if _, err := c.ImportZones(ctx, strings.NewReader(source)); err != nil {
		t.Fatalf("ImportZones: %v", err)
	}
	terr, err := c.CreateTerritory(ctx, uuid.New(), "Süd", "")
	if err != nil {
		t.Fatalf("CreateTerritory: %v", err)
	}

	empty, err := c.ResolveTerritory(ctx, terr.ID)
	if err != nil {
		t.Fatalf("ResolveTerritory: %v", err)
	}
	if empty.ZoneCount != 0 || empty.Area != nil || empty.Risk.Overall != risk.VeryLow {
		t.Errorf("unexpected view of an empty territory: %+v", empty)
	}

	// Linking must drop the cached empty area.
	c.LinkZones(ctx, terr.ID, []int64{1, 2})

	view, err := c.ResolveTerritory(ctx, terr.ID)
	if err != nil {
		t.Fatalf("ResolveTerritory: %v", err)
	}
	if view.ZoneCount != 2 || len(view.Area) == 0 || view.Centroid == nil {
		t.Errorf("unexpected territory view: %+v", view)
	}
	if _, err := c.ResolveTerritory(ctx, terr.ID); err != nil {
		t.Fatalf("ResolveTerritory: %v", err)
	}
	if store.areaCalls != 2 {
		t.Errorf("expected 2 area computations (one per cache miss), got %d", store.areaCalls)
	}
}

func TestResolveTerritory_LinkDuringAreaReadIsNotCached(t *testing.T) {
	store := newFakeStore()
	cache := &mapCache{areas: map[uuid.UUID]*spatial.TerritoryArea{}}
	c := newCatalog(store, &fakeTelemetry{}, catalog.WithCache(cache))
	ctx := context.Background()

	if _, err := c.ImportZones(ctx, strings.NewReader(source)); err != nil {
		t.Fatalf("ImportZones: %v", err)
	}
	terr, err := c.CreateTerritory(ctx, uuid.New(), "Nord", "")
	if err != nil {
		t.Fatalf("CreateTerritory: %v", err)
	}
	if err := c.LinkZone(ctx, terr.ID, 1); err != nil {
		t.Fatalf("LinkZone: %v", err)
	}

	// Zone 2 is linked after the area was read but before it is cached.
	store.onArea = func() {
		store.onArea = nil
		if err := c.LinkZone(ctx, terr.ID, 2); err != nil {
			t.Errorf("LinkZone: %v", err)
		}
	}
	stale, err := c.ResolveTerritory(ctx, terr.ID)
	if err != nil {
		t.Fatalf("ResolveTerritory: %v", err)
	}
	if stale.ZoneCount != 1 {
		t.Errorf("expected the area read before the link, got %d zones", stale.ZoneCount)
	}
	if len(cache.areas) != 0 {
		t.Errorf("expected the raced area not to be cached, got %+v", cache.areas)
	}

	fresh, err := c.ResolveTerritory(ctx, terr.ID)
	if err != nil {
		t.Fatalf("ResolveTerritory: %v", err)
	}
	if fresh.ZoneCount != 2 {
		t.Errorf("expected both zones after the link, got %d", fresh.ZoneCount)
	}
	if cached := cache.areas[terr.ID]; cached == nil || cached.ZoneCount != 2 {
		t.Errorf("expected the fresh area to be cached, got %+v", cached)
	}
}

func TestAllZones(t *testing.T) {
	c := newCatalog(newFakeStore(), &fakeTelemetry{active: 1})
	ctx := context.Background()

	if _, err := c.ImportZones(ctx, strings.NewReader(source)); err != nil {
		t.Fatalf("ImportZones: %v", err)
	}
	views, err := c.AllZones(ctx)
	if err != nil {
		t.Fatalf("AllZones: %v", err)
	}
	if len(views) != 2 || views[0].Code != "120690017017" || views[1].Code != "120690020020" {
		t.Fatalf("unexpected views %+v", views)
	}
	if views[1].ActiveDrones != 1 || len(views[1].Area) == 0 {
		t.Errorf("expected derived fields on every zone, got %+v", views[1])
	}
}

func TestLocateZone(t *testing.T) {
	store := newFakeStore()
	c := newCatalog(store, &fakeTelemetry{})
	ctx := context.Background()

	if _, err := c.ImportZones(ctx, strings.NewReader(source)); err != nil {
		t.Fatalf("ImportZones: %v", err)
	}
	ref, err := c.LocateZone(ctx, 12.95, 52.23)
	if err != nil || ref == nil || ref.Code != "120690017017" {
		t.Errorf("expected Beelitz, got %+v, %v", ref, err)
	}
	if ref, err := c.LocateZone(ctx, 0, 0); ref != nil || err != nil {
		t.Errorf("expected no zone, got %+v, %v", ref, err)
	}
	if _, err := c.LocateZone(ctx, 0, 95); !errors.Is(err, geometry.ErrInvalid) {
		t.Errorf("expected geometry.ErrInvalid, got %v", err)
	}
}

func TestCreateZone(t *testing.T) {
	store := newFakeStore()
	c := newCatalog(store, &fakeTelemetry{})
	ctx := context.Background()

	in := catalog.ZoneInput{
		Code:     "Z1",
		Name:     "Test",
		Geometry: []byte(`{"type":"Polygon","coordinates":[[[0,0],[2,0],[2,2],[0,2],[0,0]]]}`),
	}
	id, err := c.CreateZone(ctx, in)
	if err != nil {
		t.Fatalf("CreateZone: %v", err)
	}
	z, _ := store.ZoneByID(ctx, id)
	if z.Centroid == nil || math.Abs(z.Centroid.Lon()-1) > 1e-9 || math.Abs(z.Centroid.Lat()-1) > 1e-9 {
		t.Errorf("expected computed centroid (1, 1), got %v", z.Centroid)
	}
	if _, err := c.CreateZone(ctx, in); !errors.Is(err, spatial.ErrConflict) {
		t.Errorf("expected ErrConflict for a duplicate code, got %v", err)
	}
	in.Code, in.Geometry = "Z2", []byte(`{"type":"Point","coordinates":[1,1]}`)
	if _, err := c.CreateZone(ctx, in); !errors.Is(err, geometry.ErrInvalid) {
		t.Errorf("expected geometry.ErrInvalid for a point, got %v", err)
	}
}
