package api

import (
	"context"
	"net/http"

	"github.com/firewatch-ops/firewatch-backend/internal/catalog"
	"github.com/firewatch-ops/firewatch-backend/internal/config"
	"github.com/firewatch-ops/firewatch-backend/internal/middleware"
	"github.com/firewatch-ops/firewatch-backend/internal/spatial"
	"github.com/firewatch-ops/firewatch-backend/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Catalog is the zone and territory side served by the API.
type Catalog interface {
	LocateZone(ctx context.Context, lon, lat float64) (*spatial.ZoneRef, error)
	ResolveZoneWithin(ctx context.Context, id int64, w catalog.Window) (*catalog.ZoneView, error)
	AllZones(ctx context.Context) ([]catalog.ZoneView, error)
	ZonesOfDistrict(ctx context.Context, district string) ([]catalog.ZoneView, error)
	ZonesOfOrganization(ctx context.Context, orgID uuid.UUID) ([]catalog.ZoneView, error)
	ZonesOfTerritory(ctx context.Context, territoryID uuid.UUID) ([]catalog.ZoneView, error)
	CreateZone(ctx context.Context, in catalog.ZoneInput) (int64, error)
	CreateTerritory(ctx context.Context, orgID uuid.UUID, name, description string) (*spatial.Territory, error)
	LinkZones(ctx context.Context, territoryID uuid.UUID, zoneIDs []int64) catalog.LinkReport
	ResolveTerritoryWithin(ctx context.Context, id uuid.UUID, w catalog.Window) (*catalog.TerritoryView, error)
	TerritoriesOfOrganization(ctx context.Context, orgID uuid.UUID) ([]spatial.Territory, error)
}

// Telemetry is the drone sample side served by the API.
type Telemetry interface {
	Events(ctx context.Context, f spatial.Filter) ([]telemetry.DroneEvent, error)
	EventByID(ctx context.Context, id int64) (*telemetry.DroneEvent, error)
	Updates(ctx context.Context, f spatial.Filter) ([]telemetry.DroneUpdate, error)
	Routes(ctx context.Context, f spatial.Filter) ([]telemetry.Route, error)
	LatestUpdate(ctx context.Context, f spatial.Filter) (*telemetry.DroneUpdate, error)
	LatestUpdateOfDrone(ctx context.Context, droneID int64) (*telemetry.DroneUpdate, error)
	ActiveDroneIDs(ctx context.Context, f spatial.Filter) ([]int64, error)
	RecordUpdate(ctx context.Context, in telemetry.UpdateInput) (int64, error)
	RecordEvent(ctx context.Context, in telemetry.EventInput) (int64, error)
}

type Handler struct {
	catalog   Catalog
	telemetry Telemetry
}

// SetupRoutes builds the router for the catalog and telemetry endpoints.
// Telemetry writes share one limiter sized by cfg.IngestRate and
// cfg.IngestBurst; a non-positive rate disables limiting.
func SetupRoutes(cat Catalog, tel Telemetry, cfg config.Config) http.Handler {
	h := &Handler{catalog: cat, telemetry: tel}

	limit := rate.Inf
	if cfg.IngestRate > 0 {
		limit = rate.Limit(cfg.IngestRate)
	}
	ingest := rate.NewLimiter(limit, max(cfg.IngestBurst, 1))

	r := chi.NewRouter()

	r.Get("/zones", h.ListZones)
	r.Post("/zones", h.CreateZone)
	r.Get("/zones/locate", h.LocateZone)
	r.Get("/zones/{id}", h.GetZone)

	r.Post("/territories", h.CreateTerritory)
	r.Get("/territories/{id}", h.GetTerritory)
	r.Get("/territories/{id}/zones", h.ListTerritoryZones)
	r.Post("/territories/{id}/zones", h.LinkZones)

	r.Get("/organizations/{org_id}/territories", h.ListOrganizationTerritories)
	r.Get("/organizations/{org_id}/zones", h.ListOrganizationZones)

	r.Get("/events", h.ListEvents)
	r.Get("/events/{id}", h.GetEvent)
	r.Get("/updates", h.ListUpdates)
	r.Get("/updates/latest", h.GetLatestUpdate)
	r.Get("/routes", h.ListRoutes)
	r.Get("/drones/active", h.ListActiveDrones)
	r.Get("/drones/{id}/latest", h.GetLatestUpdateOfDrone)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(ingest, "telemetry"))
		r.Post("/updates", h.RecordUpdate)
		r.Post("/events", h.RecordEvent)
	})

	return r
}
