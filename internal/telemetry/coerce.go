package telemetry

import (
	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/firewatch-ops/firewatch-backend/internal/spatial"
)

// The coerce functions return the name of the first field that could not be
// read, or "" on success.

func coercePosition(lon, lat *float64) (*geometry.Point, string) {
	if lon == nil || lat == nil {
		return nil, "position"
	}
	p, err := geometry.NewPoint(*lon, *lat)
	if err != nil {
		return nil, "position"
	}
	return &p, ""
}

func coerceUpdate(r spatial.UpdateRow) (DroneUpdate, string) {
	if r.Timestamp == nil {
		return DroneUpdate{}, "timestamp"
	}
	pos, reason := coercePosition(r.Lon, r.Lat)
	if reason != "" {
		return DroneUpdate{}, reason
	}
	return DroneUpdate{
		ID:          r.ID,
		DroneID:     r.DroneID,
		Timestamp:   *r.Timestamp,
		Position:    pos,
		FlightRange: r.FlightRange,
		FlightTime:  r.FlightTime,
		ZoneID:      r.ZoneID,
	}, ""
}

// lenientUpdate keeps the row even when its position is unusable; route
// reconstruction needs one entry per stored row.
func lenientUpdate(r spatial.UpdateRow) DroneUpdate {
	u := DroneUpdate{
		ID:          r.ID,
		DroneID:     r.DroneID,
		FlightRange: r.FlightRange,
		FlightTime:  r.FlightTime,
		ZoneID:      r.ZoneID,
	}
	if r.Timestamp != nil {
		u.Timestamp = *r.Timestamp
	}
	u.Position, _ = coercePosition(r.Lon, r.Lat)
	return u
}

func coerceEvent(r spatial.EventRow) (DroneEvent, string) {
	if r.Timestamp == nil {
		return DroneEvent{}, "timestamp"
	}
	pos, reason := coercePosition(r.Lon, r.Lat)
	if reason != "" {
		return DroneEvent{}, reason
	}
	if r.EventType == nil {
		return DroneEvent{}, "event_type"
	}
	typ, err := ParseEventType(int(*r.EventType))
	if err != nil {
		return DroneEvent{}, "event_type"
	}
	if r.Confidence == nil || *r.Confidence < 0 || *r.Confidence > 100 {
		return DroneEvent{}, "confidence"
	}
	return DroneEvent{
		ID:         r.ID,
		DroneID:    r.DroneID,
		Timestamp:  *r.Timestamp,
		Position:   *pos,
		Type:       typ,
		Confidence: int(*r.Confidence),
		MediaRefs:  []string(r.MediaRefs),
		ZoneID:     r.ZoneID,
	}, ""
}

func coerceEvents(rows []spatial.EventRow) []DroneEvent {
	out := make([]DroneEvent, 0, len(rows))
	for _, r := range rows {
		e, reason := coerceEvent(r)
		if reason != "" {
			drop("event", r.ID, reason)
			continue
		}
		out = append(out, e)
	}
	return out
}
