package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/firewatch-ops/firewatch-backend/internal/catalog"
	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/firewatch-ops/firewatch-backend/internal/spatial"
	"github.com/firewatch-ops/firewatch-backend/internal/telemetry"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
)

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as a 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, errBadParam),
		errors.Is(err, geometry.ErrInvalid),
		errors.Is(err, telemetry.ErrInvalidSample),
		errors.Is(err, catalog.ErrInvalidName):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, spatial.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("[api] %s %s: %v", r.Method, r.URL.Path, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badParam("body", err)
	}
	return nil
}

func (h *Handler) LocateZone(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	lon, err := strconv.ParseFloat(q.Get("lon"), 64)
	if err != nil {
		writeError(w, r, badParam("lon", err))
		return
	}
	lat, err := strconv.ParseFloat(q.Get("lat"), 64)
	if err != nil {
		writeError(w, r, badParam("lat", err))
		return
	}

	zone, err := h.catalog.LocateZone(r.Context(), lon, lat)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if zone == nil {
		http.Error(w, "No zone contains this point", http.StatusNotFound)
		return
	}
	writeJSON(w, zone)
}

func (h *Handler) GetZone(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	win, err := parseWindow(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	zone, err := h.catalog.ResolveZoneWithin(r.Context(), id, win)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if zone == nil {
		http.Error(w, "Zone not found", http.StatusNotFound)
		return
	}
	writeJSON(w, zone)
}

// ListZones lists the zones of one district, or every zone when no
// district is given.
func (h *Handler) ListZones(w http.ResponseWriter, r *http.Request) {
	var (
		zones []catalog.ZoneView
		err   error
	)
	if district := strings.TrimSpace(r.URL.Query().Get("district")); district != "" {
		zones, err = h.catalog.ZonesOfDistrict(r.Context(), district)
	} else {
		zones, err = h.catalog.AllZones(r.Context())
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, nonNil(zones))
}

func (h *Handler) CreateZone(w http.ResponseWriter, r *http.Request) {
	var in catalog.ZoneInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.catalog.CreateZone(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]int64{"id": id})
}

type createTerritoryRequest struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
}

func (h *Handler) CreateTerritory(w http.ResponseWriter, r *http.Request) {
	var req createTerritoryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.OrganizationID == uuid.Nil {
		http.Error(w, "Missing organization_id", http.StatusBadRequest)
		return
	}
	t, err := h.catalog.CreateTerritory(r.Context(), req.OrganizationID, req.Name, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, t)
}

func (h *Handler) GetTerritory(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	win, err := parseWindow(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	t, err := h.catalog.ResolveTerritoryWithin(r.Context(), id, win)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if t == nil {
		http.Error(w, "Territory not found", http.StatusNotFound)
		return
	}
	writeJSON(w, t)
}

func (h *Handler) ListTerritoryZones(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	zones, err := h.catalog.ZonesOfTerritory(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, nonNil(zones))
}

type linkZonesRequest struct {
	ZoneIDs []int64 `json:"zone_ids"`
}

type linkZonesResponse struct {
	catalog.LinkReport
	Failed []int64 `json:"failed"`
}

// LinkZones links a batch of zones. Partial success is still a 200; the
// body reports what happened to each zone.
func (h *Handler) LinkZones(w http.ResponseWriter, r *http.Request) {
	id, err := uuidParam(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req linkZonesRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if len(req.ZoneIDs) == 0 {
		http.Error(w, "Missing zone_ids", http.StatusBadRequest)
		return
	}

	report := h.catalog.LinkZones(r.Context(), id, req.ZoneIDs)
	resp := linkZonesResponse{LinkReport: report, Failed: []int64{}}
	for zoneID, err := range report.Failed {
		log.Printf("[api] link zone %d to territory %s: %v", zoneID, id, err)
		resp.Failed = append(resp.Failed, zoneID)
	}
	if resp.Linked == nil {
		resp.Linked = []int64{}
	}
	if resp.Conflicts == nil {
		resp.Conflicts = []int64{}
	}
	writeJSON(w, resp)
}

func (h *Handler) ListOrganizationTerritories(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuidParam(r, "org_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ts, err := h.catalog.TerritoriesOfOrganization(r.Context(), orgID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, nonNil(ts))
}

func (h *Handler) ListOrganizationZones(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuidParam(r, "org_id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	zones, err := h.catalog.ZonesOfOrganization(r.Context(), orgID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, nonNil(zones))
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	events, err := h.telemetry.Events(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, nonNil(events))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	ev, err := h.telemetry.EventByID(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ev == nil {
		http.Error(w, "Event not found", http.StatusNotFound)
		return
	}
	writeJSON(w, ev)
}

func (h *Handler) ListUpdates(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	updates, err := h.telemetry.Updates(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, nonNil(updates))
}

func (h *Handler) GetLatestUpdate(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.telemetry.LatestUpdate(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if u == nil {
		http.Error(w, "No matching update", http.StatusNotFound)
		return
	}
	writeJSON(w, u)
}

func (h *Handler) GetLatestUpdateOfDrone(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	u, err := h.telemetry.LatestUpdateOfDrone(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if u == nil {
		http.Error(w, "No update for this drone", http.StatusNotFound)
		return
	}
	writeJSON(w, u)
}

type activeDronesResponse struct {
	DroneCount int     `json:"drone_count"`
	DroneIDs   []int64 `json:"drone_ids"`
}

// ListActiveDrones reports the distinct drones with an update matching the
// filter.
func (h *Handler) ListActiveDrones(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ids, err := h.telemetry.ActiveDroneIDs(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, activeDronesResponse{DroneCount: len(ids), DroneIDs: nonNil(ids)})
}

// ListRoutes renders one GeoJSON feature per drone route. Properties carry
// the drone id, the sample count and the route's latest update.
func (h *Handler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	routes, err := h.telemetry.Routes(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	fc := geojson.NewFeatureCollection()
	for _, rt := range routes {
		fc.Append(rt.Feature(map[string]any{
			"drone_id":    rt.DroneID,
			"samples":     rt.Samples,
			"last_update": rt.Head,
		}))
	}
	writeJSON(w, fc)
}

func (h *Handler) RecordUpdate(w http.ResponseWriter, r *http.Request) {
	var in telemetry.UpdateInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.telemetry.RecordUpdate(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) RecordEvent(w http.ResponseWriter, r *http.Request) {
	var in telemetry.EventInput
	if err := decode(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	id, err := h.telemetry.RecordEvent(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, map[string]int64{"id": id})
}

// nonNil keeps empty lists as [] rather than null on the wire.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
