package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/firewatch-ops/firewatch-backend/internal/config"
	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/firewatch-ops/firewatch-backend/internal/metrics"
	"github.com/firewatch-ops/firewatch-backend/internal/spatial"
	"github.com/firewatch-ops/firewatch-backend/internal/telemetry"
	"github.com/google/uuid"
)

var ErrInvalidName = errors.New("name must not be empty")

// Store is the catalog's view of the spatial store.
type Store interface {
	ContainingZone(ctx context.Context, p geometry.Point) (*spatial.ZoneRef, error)
	AllZones(ctx context.Context) ([]spatial.ZoneRow, error)
	ZoneByID(ctx context.Context, id int64) (*spatial.ZoneRow, error)
	ZonesByDistrict(ctx context.Context, district string) ([]spatial.ZoneRow, error)
	ZonesOfOrganization(ctx context.Context, orgID uuid.UUID) ([]spatial.ZoneRow, error)
	ZonesOfTerritory(ctx context.Context, territoryID uuid.UUID) ([]spatial.ZoneRow, error)
	InsertZone(ctx context.Context, z spatial.NewZone) (int64, error)
	InsertZones(ctx context.Context, zones []spatial.NewZone) (int, error)
	CreateTerritory(ctx context.Context, t *spatial.Territory) error
	LinkZone(ctx context.Context, territoryID uuid.UUID, zoneID int64) error
	TerritoryByID(ctx context.Context, id uuid.UUID) (*spatial.Territory, error)
	TerritoriesOfOrganization(ctx context.Context, orgID uuid.UUID) ([]spatial.Territory, error)
	TerritoryArea(ctx context.Context, territoryID uuid.UUID) (*spatial.TerritoryArea, error)
}

// Telemetry supplies the derived fields of zone and territory views.
type Telemetry interface {
	EventsInArea(ctx context.Context, area geometry.Shape, after, before time.Time) ([]telemetry.DroneEvent, error)
	ActiveDronesIn(ctx context.Context, area geometry.Shape, lookback time.Duration) (int, error)
	LatestUpdate(ctx context.Context, f spatial.Filter) (*telemetry.DroneUpdate, error)
}

// AreaCache keeps computed territory areas between requests. Implementations
// must treat a miss as (nil, nil).
type AreaCache interface {
	Get(ctx context.Context, territoryID uuid.UUID) (*spatial.TerritoryArea, error)
	Set(ctx context.Context, territoryID uuid.UUID, area *spatial.TerritoryArea) error
	Invalidate(ctx context.Context, territoryID uuid.UUID) error
}

// NopCache never stores anything.
type NopCache struct{}

func (NopCache) Get(context.Context, uuid.UUID) (*spatial.TerritoryArea, error) { return nil, nil }
func (NopCache) Set(context.Context, uuid.UUID, *spatial.TerritoryArea) error   { return nil }
func (NopCache) Invalidate(context.Context, uuid.UUID) error                    { return nil }

// Window is the lookback used for derived fields. Zero fields fall back to
// the catalog defaults.
type Window struct {
	Events       time.Duration
	ActiveDrones time.Duration
}

type Catalog struct {
	store       Store
	telemetry   Telemetry
	cache       AreaCache
	window      Window
	concurrency int
	now         func() time.Time

	// gen counts link changes per territory so an area read that raced a
	// link is not written back to the cache.
	mu  sync.Mutex
	gen map[uuid.UUID]uint64
}

type Option func(*Catalog)

func WithCache(c AreaCache) Option {
	return func(cat *Catalog) { cat.cache = c }
}

func WithClock(now func() time.Time) Option {
	return func(cat *Catalog) { cat.now = now }
}

// New builds a catalog using the lookback windows and enrichment
// concurrency from cfg.
func New(store Store, tel Telemetry, cfg config.Config, opts ...Option) *Catalog {
	c := &Catalog{
		store:     store,
		telemetry: tel,
		cache:     NopCache{},
		window: Window{
			Events:       cfg.EventLookback,
			ActiveDrones: cfg.ActiveDroneLookback,
		},
		concurrency: cfg.EnrichConcurrency,
		now:         time.Now,
		gen:         map[uuid.UUID]uint64{},
	}
	if c.window.Events <= 0 {
		c.window.Events = config.DefaultEventLookback
	}
	if c.window.ActiveDrones <= 0 {
		c.window.ActiveDrones = config.DefaultActiveDroneLookback
	}
	if c.concurrency <= 0 {
		c.concurrency = config.DefaultEnrichConcurrency
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ImportZones reads a zone source and inserts every zone whose code is not
// stored yet. It returns the number of new zones.
func (c *Catalog) ImportZones(ctx context.Context, r io.Reader) (int, error) {
	zones, err := ReadZones(r)
	if err != nil {
		return 0, err
	}
	return c.insertZones(ctx, zones)
}

// ImportZonesFile is ImportZones for a file on disk.
func (c *Catalog) ImportZonesFile(ctx context.Context, path string) (int, error) {
	zones, err := ReadZonesFile(path)
	if err != nil {
		return 0, err
	}
	return c.insertZones(ctx, zones)
}

func (c *Catalog) insertZones(ctx context.Context, zones []spatial.NewZone) (int, error) {
	n, err := c.store.InsertZones(ctx, zones)
	if err != nil {
		return 0, err
	}
	metrics.ZonesImported.Add(float64(n))
	log.Printf("[catalog] imported %d of %d zones", n, len(zones))
	return n, nil
}

// ZoneInput describes an explicitly created zone. Geometry is a GeoJSON
// Polygon or MultiPolygon; a missing centroid is computed from the area.
type ZoneInput struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	FederalState string          `json:"federal_state"`
	District     string          `json:"district"`
	Geometry     json.RawMessage `json:"geometry"`
	Centroid     *[2]float64     `json:"centroid"`
}

// CreateZone stores one zone. A code that already exists is
// spatial.ErrConflict.
func (c *Catalog) CreateZone(ctx context.Context, in ZoneInput) (int64, error) {
	code := normalize(in.Code)
	if code == "" {
		return 0, fmt.Errorf("zone code: %w", ErrInvalidName)
	}
	area, err := geometry.ParseArea(in.Geometry)
	if err != nil {
		return 0, err
	}

	var centroid geometry.Point
	if in.Centroid != nil {
		if centroid, err = geometry.NewPoint(in.Centroid[0], in.Centroid[1]); err != nil {
			return 0, err
		}
	} else {
		centroid = geometry.Centroid(area)
	}

	return c.store.InsertZone(ctx, spatial.NewZone{
		Code:         code,
		Name:         normalize(in.Name),
		FederalState: normalize(in.FederalState),
		District:     normalize(in.District),
		Area:         area,
		Centroid:     &centroid,
	})
}

// LocateZone returns the zone containing (lon, lat), or nil.
func (c *Catalog) LocateZone(ctx context.Context, lon, lat float64) (*spatial.ZoneRef, error) {
	p, err := geometry.NewPoint(lon, lat)
	if err != nil {
		return nil, err
	}
	return c.store.ContainingZone(ctx, p)
}

// CreateTerritory registers a territory for an organization. A duplicate
// name within the organization is spatial.ErrConflict.
func (c *Catalog) CreateTerritory(ctx context.Context, orgID uuid.UUID, name, description string) (*spatial.Territory, error) {
	name = normalize(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	t := &spatial.Territory{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           name,
		Description:    strings.TrimSpace(description),
	}
	if err := c.store.CreateTerritory(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// LinkZone adds a zone to a territory. An existing link is
// spatial.ErrConflict.
func (c *Catalog) LinkZone(ctx context.Context, territoryID uuid.UUID, zoneID int64) error {
	if err := c.store.LinkZone(ctx, territoryID, zoneID); err != nil {
		return err
	}
	c.invalidate(ctx, territoryID)
	return nil
}

// LinkReport is the per-zone outcome of a batch link.
type LinkReport struct {
	Linked    []int64         `json:"linked"`
	Conflicts []int64         `json:"conflicts"`
	Failed    map[int64]error `json:"-"`
}

// LinkZones links each zone in turn and carries on past individual
// failures. Existing links are reported as conflicts, not failures.
func (c *Catalog) LinkZones(ctx context.Context, territoryID uuid.UUID, zoneIDs []int64) LinkReport {
	report := LinkReport{Failed: map[int64]error{}}
	for _, id := range zoneIDs {
		err := c.store.LinkZone(ctx, territoryID, id)
		switch {
		case err == nil:
			report.Linked = append(report.Linked, id)
		case errors.Is(err, spatial.ErrConflict):
			report.Conflicts = append(report.Conflicts, id)
		default:
			report.Failed[id] = err
		}
	}
	if len(report.Linked) > 0 {
		c.invalidate(ctx, territoryID)
	}
	return report
}

// LinkDistrict links every zone of a district to the territory.
func (c *Catalog) LinkDistrict(ctx context.Context, territoryID uuid.UUID, district string) (LinkReport, error) {
	zones, err := c.store.ZonesByDistrict(ctx, normalize(district))
	if err != nil {
		return LinkReport{}, err
	}
	ids := make([]int64, len(zones))
	for i, z := range zones {
		ids[i] = z.ID
	}
	return c.LinkZones(ctx, territoryID, ids), nil
}

// invalidate runs after the link is committed.
func (c *Catalog) invalidate(ctx context.Context, territoryID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[territoryID]++
	if err := c.cache.Invalidate(ctx, territoryID); err != nil {
		log.Printf("[catalog] could not invalidate area of territory %s: %v", territoryID, err)
	}
}

func (c *Catalog) TerritoriesOfOrganization(ctx context.Context, orgID uuid.UUID) ([]spatial.Territory, error) {
	return c.store.TerritoriesOfOrganization(ctx, orgID)
}

func (c *Catalog) windowOrDefault(w Window) Window {
	if w.Events <= 0 {
		w.Events = c.window.Events
	}
	if w.ActiveDrones <= 0 {
		w.ActiveDrones = c.window.ActiveDrones
	}
	return w
}
