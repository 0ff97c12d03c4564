package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/firewatch-ops/firewatch-backend/internal/metrics"
	"github.com/firewatch-ops/firewatch-backend/internal/route"
	"github.com/firewatch-ops/firewatch-backend/internal/spatial"
)

// ErrInvalidSample rejects a write whose scalar fields are out of range.
// Bad coordinates are reported as geometry errors instead.
var ErrInvalidSample = errors.New("invalid sample")

// Store is the part of the spatial store the pipeline reads and writes.
type Store interface {
	FetchUpdates(ctx context.Context, f spatial.Filter, order spatial.Order) ([]spatial.UpdateRow, error)
	FetchEvents(ctx context.Context, f spatial.Filter) ([]spatial.EventRow, error)
	EventByID(ctx context.Context, id int64) (*spatial.EventRow, error)
	EventsInArea(ctx context.Context, area geometry.Shape, after, before time.Time) ([]spatial.EventRow, error)
	CountActiveDrones(ctx context.Context, f spatial.Filter) (int, error)
	ActiveDroneIDs(ctx context.Context, f spatial.Filter) ([]int64, error)
	InsertUpdate(ctx context.Context, u spatial.NewUpdate) (int64, error)
	InsertEvent(ctx context.Context, e spatial.NewEvent) (int64, error)
}

// Route is the reconstructed path of one drone, headed by its latest update.
type Route = route.Route[DroneUpdate]

// Pipeline turns filtered store reads into typed entities. Rows that fail
// coercion are logged, counted and skipped; the rest of the result is
// still returned.
type Pipeline struct {
	store Store
	now   func() time.Time
}

type Option func(*Pipeline)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func NewPipeline(store Store, opts ...Option) *Pipeline {
	p := &Pipeline{store: store, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Events lists events matching f, newest first.
func (p *Pipeline) Events(ctx context.Context, f spatial.Filter) ([]DroneEvent, error) {
	rows, err := p.store.FetchEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	return coerceEvents(rows), nil
}

// EventByID returns nil when the event does not exist or cannot be read.
func (p *Pipeline) EventByID(ctx context.Context, id int64) (*DroneEvent, error) {
	row, err := p.store.EventByID(ctx, id)
	if err != nil || row == nil {
		return nil, err
	}
	e, reason := coerceEvent(*row)
	if reason != "" {
		drop("event", row.ID, reason)
		return nil, nil
	}
	return &e, nil
}

// EventsInArea lists events inside area and inside some zone, with
// after < timestamp < before.
func (p *Pipeline) EventsInArea(ctx context.Context, area geometry.Shape, after, before time.Time) ([]DroneEvent, error) {
	rows, err := p.store.EventsInArea(ctx, area, after, before)
	if err != nil {
		return nil, err
	}
	return coerceEvents(rows), nil
}

// Updates lists updates matching f, newest first.
func (p *Pipeline) Updates(ctx context.Context, f spatial.Filter) ([]DroneUpdate, error) {
	rows, err := p.store.FetchUpdates(ctx, f, spatial.ByTimestamp)
	if err != nil {
		return nil, err
	}
	out := make([]DroneUpdate, 0, len(rows))
	for _, r := range rows {
		u, reason := coerceUpdate(r)
		if reason != "" {
			drop("update", r.ID, reason)
			continue
		}
		out = append(out, u)
	}
	return out, nil
}

// Routes reconstructs one route per contiguous run of a drone's updates.
// Rows with unreadable coordinates still count towards their run, so a drone
// whose positions are all unusable yields a route without geometry.
func (p *Pipeline) Routes(ctx context.Context, f spatial.Filter) ([]Route, error) {
	rows, err := p.store.FetchUpdates(ctx, f, spatial.ByDroneTimestamp)
	if err != nil {
		return nil, err
	}
	updates := make([]DroneUpdate, len(rows))
	for i, r := range rows {
		updates[i] = lenientUpdate(r)
	}
	return route.Reconstruct(updates, func(u DroneUpdate) route.Sample {
		return route.Sample{DroneID: u.DroneID, Position: u.Position}
	}), nil
}

// latestScan bounds how many rows LatestUpdate reads past an unreadable
// newest row.
const latestScan = 50

// LatestUpdate returns the newest readable update matching f, or nil.
func (p *Pipeline) LatestUpdate(ctx context.Context, f spatial.Filter) (*DroneUpdate, error) {
	limited := f
	limited.Limit = 1
	updates, err := p.Updates(ctx, limited)
	if err != nil {
		return nil, err
	}
	if len(updates) == 0 && f.Limit != 1 {
		// Either nothing matches or the newest row was dropped; look a
		// little further back.
		if f.Limit <= 0 || f.Limit > latestScan {
			f.Limit = latestScan
		}
		if updates, err = p.Updates(ctx, f); err != nil {
			return nil, err
		}
	}
	if len(updates) == 0 {
		return nil, nil
	}
	return &updates[0], nil
}

func (p *Pipeline) LatestUpdateOfDrone(ctx context.Context, droneID int64) (*DroneUpdate, error) {
	return p.LatestUpdate(ctx, spatial.Filter{DroneID: &droneID})
}

// ActiveDroneIDs lists the distinct drones with an update matching f, in
// ascending id order.
func (p *Pipeline) ActiveDroneIDs(ctx context.Context, f spatial.Filter) ([]int64, error) {
	return p.store.ActiveDroneIDs(ctx, f)
}

// ActiveDronesIn counts distinct drones seen inside area during the last
// lookback.
func (p *Pipeline) ActiveDronesIn(ctx context.Context, area geometry.Shape, lookback time.Duration) (int, error) {
	since := p.now().Add(-lookback)
	return p.store.CountActiveDrones(ctx, spatial.Filter{Within: area, After: &since})
}

// UpdateInput is a telemetry sample as reported by a drone.
type UpdateInput struct {
	DroneID     int64     `json:"drone_id"`
	Timestamp   time.Time `json:"timestamp"`
	Lon         float64   `json:"lon"`
	Lat         float64   `json:"lat"`
	FlightRange *float64  `json:"flight_range"`
	FlightTime  *float64  `json:"flight_time"`
}

// EventInput is a detection as reported by a drone.
type EventInput struct {
	DroneID    int64     `json:"drone_id"`
	Timestamp  time.Time `json:"timestamp"`
	Lon        float64   `json:"lon"`
	Lat        float64   `json:"lat"`
	EventType  int       `json:"event_type"`
	Confidence int       `json:"confidence"`
	MediaRefs  []string  `json:"media_refs"`
}

// RecordUpdate validates and appends an update. A zero timestamp means now.
func (p *Pipeline) RecordUpdate(ctx context.Context, in UpdateInput) (int64, error) {
	pos, err := geometry.NewPoint(in.Lon, in.Lat)
	if err != nil {
		return 0, err
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = p.now()
	}
	return p.store.InsertUpdate(ctx, spatial.NewUpdate{
		DroneID:     in.DroneID,
		Timestamp:   in.Timestamp.UTC(),
		Position:    pos,
		FlightRange: in.FlightRange,
		FlightTime:  in.FlightTime,
	})
}

// RecordEvent validates and appends an event. A zero timestamp means now.
func (p *Pipeline) RecordEvent(ctx context.Context, in EventInput) (int64, error) {
	pos, err := geometry.NewPoint(in.Lon, in.Lat)
	if err != nil {
		return 0, err
	}
	if _, err := ParseEventType(in.EventType); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSample, err)
	}
	if in.Confidence < 0 || in.Confidence > 100 {
		return 0, fmt.Errorf("%w: confidence %d outside 0..100", ErrInvalidSample, in.Confidence)
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = p.now()
	}
	return p.store.InsertEvent(ctx, spatial.NewEvent{
		DroneID:    in.DroneID,
		Timestamp:  in.Timestamp.UTC(),
		Position:   pos,
		EventType:  in.EventType,
		Confidence: in.Confidence,
		MediaRefs:  in.MediaRefs,
	})
}

func drop(kind string, id int64, reason string) {
	log.Printf("[telemetry] dropping %s %d: bad %s", kind, id, reason)
	metrics.DropRow(kind, reason)
}
