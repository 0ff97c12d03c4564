package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
)

// EventType classifies a detection reported by a drone.
type EventType int

const (
	EventSmoke EventType = 1
	EventFire  EventType = 2
)

// ParseEventType validates the stored integer form of an event type.
func ParseEventType(v int) (EventType, error) {
	switch EventType(v) {
	case EventSmoke, EventFire:
		return EventType(v), nil
	}
	return 0, fmt.Errorf("unknown event type %d", v)
}

func (t EventType) String() string {
	switch t {
	case EventSmoke:
		return "SMOKE"
	case EventFire:
		return "FIRE"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// DroneUpdate is one telemetry sample. Position is nil only on route heads
// whose coordinates could not be read.
type DroneUpdate struct {
	ID          int64           `json:"id"`
	DroneID     int64           `json:"drone_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Position    *geometry.Point `json:"position"`
	FlightRange *float64        `json:"flight_range,omitempty"` // km left
	FlightTime  *float64        `json:"flight_time,omitempty"`  // minutes left
	ZoneID      *int64          `json:"zone_id"`
}

// DroneEvent is one SMOKE or FIRE detection.
type DroneEvent struct {
	ID         int64          `json:"id"`
	DroneID    int64          `json:"drone_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Position   geometry.Point `json:"position"`
	Type       EventType      `json:"event_type"`
	Confidence int            `json:"confidence"`
	MediaRefs  []string       `json:"media_refs,omitempty"`
	ZoneID     *int64         `json:"zone_id"`
}
