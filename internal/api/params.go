package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/firewatch-ops/firewatch-backend/internal/catalog"
	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/firewatch-ops/firewatch-backend/internal/spatial"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// errBadParam marks request parameters that could not be parsed.
var errBadParam = errors.New("invalid parameter")

func badParam(name string, err error) error {
	return fmt.Errorf("%w %s: %v", errBadParam, name, err)
}

func int64Param(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, badParam(name, err)
	}
	return v, nil
}

func uuidParam(r *http.Request, name string) (uuid.UUID, error) {
	v, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, badParam(name, err)
	}
	return v, nil
}

// parseFilter reads the telemetry filter from the query string:
//
//	drone_id, zone_id, limit      integers
//	organization_id, territory_id UUIDs
//	after, before                 RFC 3339 timestamps (exclusive)
//	within                        GeoJSON geometry
func parseFilter(q url.Values) (spatial.Filter, error) {
	var f spatial.Filter

	for _, p := range []struct {
		name string
		dst  **int64
	}{
		{"drone_id", &f.DroneID},
		{"zone_id", &f.ZoneID},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, badParam(p.name, err)
		}
		*p.dst = &n
	}

	for _, p := range []struct {
		name string
		dst  **uuid.UUID
	}{
		{"organization_id", &f.OrganizationID},
		{"territory_id", &f.TerritoryID},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return f, badParam(p.name, err)
		}
		*p.dst = &id
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{
		{"after", &f.After},
		{"before", &f.Before},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, badParam(p.name, err)
		}
		*p.dst = &ts
	}

	if v := strings.TrimSpace(q.Get("within")); v != "" {
		shape, err := geometry.Parse([]byte(v))
		if err != nil {
			return f, err
		}
		f.Within = shape
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, badParam("limit", fmt.Errorf("must be a non-negative integer"))
		}
		f.Limit = n
	}
	return f, nil
}

// parseWindow reads optional lookback overrides (Go durations) for derived
// zone and territory fields. Missing values keep the catalog defaults.
func parseWindow(q url.Values) (catalog.Window, error) {
	var w catalog.Window
	for _, p := range []struct {
		name string
		dst  *time.Duration
	}{
		{"event_lookback", &w.Events},
		{"drone_lookback", &w.ActiveDrones},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return w, badParam(p.name, err)
		}
		if d <= 0 {
			return w, badParam(p.name, fmt.Errorf("must be positive"))
		}
		*p.dst = d
	}
	return w, nil
}
