package spatial

import (
	"time"

	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Schema holds every table the engine owns.
const Schema = "firewatch"

// Zone is the stored administrative polygon. Geometry columns are written
// and read through SQL functions only, so they are plain strings here.
type Zone struct {
	ID           int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	Code         string `gorm:"uniqueIndex;not null" json:"code"` // stable external identifier
	Name         string `gorm:"index;not null" json:"name"`
	FederalState string `gorm:"not null" json:"federal_state"`
	District     string `gorm:"index;not null" json:"district"`

	Area     string `gorm:"type:geometry(MultiPolygon,4326);not null" json:"-"`
	Centroid string `gorm:"type:geometry(Point,4326)" json:"-"`
}

func (Zone) TableName() string {
	return Schema + ".zones"
}

// Territory is a named set of zones assigned to an organization.
type Territory struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_territory_org_name" json:"organization_id"`
	Name           string    `gorm:"not null;uniqueIndex:idx_territory_org_name" json:"name"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Territory) TableName() string {
	return Schema + ".territories"
}

type TerritoryZone struct {
	TerritoryID uuid.UUID `gorm:"type:uuid;primaryKey" json:"territory_id"`
	ZoneID      int64     `gorm:"primaryKey;index" json:"zone_id"`

	Territory Territory `gorm:"foreignKey:TerritoryID;constraint:OnDelete:CASCADE" json:"-"`
	Zone      Zone      `gorm:"foreignKey:ZoneID;constraint:OnDelete:CASCADE" json:"-"`
}

func (TerritoryZone) TableName() string {
	return Schema + ".territory_zones"
}

// DroneUpdate is the append-only telemetry fact table.
type DroneUpdate struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	DroneID     int64     `gorm:"not null;index"`
	Timestamp   time.Time `gorm:"not null;index"`
	Position    string    `gorm:"type:geometry(Point,4326);not null"`
	FlightRange *float64
	FlightTime  *float64
}

func (DroneUpdate) TableName() string {
	return Schema + ".drone_updates"
}

// DroneEvent is the append-only detection fact table.
type DroneEvent struct {
	ID         int64          `gorm:"primaryKey;autoIncrement"`
	DroneID    int64          `gorm:"not null;index"`
	Timestamp  time.Time      `gorm:"not null;index"`
	Position   string         `gorm:"type:geometry(Point,4326);not null"`
	EventType  int16          `gorm:"not null"`
	Confidence int16          `gorm:"not null"`
	MediaRefs  pq.StringArray `gorm:"type:text[]"`
}

func (DroneEvent) TableName() string {
	return Schema + ".drone_events"
}

// ZoneRef is the short form returned by containment lookups.
type ZoneRef struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// ZoneRow is a zone read back with its geometry decoded.
type ZoneRow struct {
	ID           int64
	Code         string
	Name         string
	FederalState string
	District     string
	Area         geometry.MultiPolygon
	Centroid     *geometry.Point
}

// UpdateRow is a drone update as stored, before coercion. Nullable columns
// and computed coordinates are pointers.
type UpdateRow struct {
	ID          int64
	DroneID     int64
	Timestamp   *time.Time
	Lon, Lat    *float64
	FlightRange *float64
	FlightTime  *float64
	ZoneID      *int64
}

// EventRow is a drone event as stored, before coercion.
type EventRow struct {
	ID         int64
	DroneID    int64
	Timestamp  *time.Time
	Lon, Lat   *float64
	EventType  *int64
	Confidence *int64
	MediaRefs  pq.StringArray
	ZoneID     *int64
}

// NewZone is the input for zone inserts.
type NewZone struct {
	Code         string
	Name         string
	FederalState string
	District     string
	Area         geometry.MultiPolygon
	Centroid     *geometry.Point
}

type NewUpdate struct {
	DroneID     int64
	Timestamp   time.Time
	Position    geometry.Point
	FlightRange *float64
	FlightTime  *float64
}

type NewEvent struct {
	DroneID    int64
	Timestamp  time.Time
	Position   geometry.Point
	EventType  int
	Confidence int
	MediaRefs  []string
}

// TerritoryArea is the effective area of a territory, computed on read as
// the union of its member zones. Area and Centroid are nil for a territory
// without zones.
type TerritoryArea struct {
	ZoneCount int
	Area      geometry.MultiPolygon
	Centroid  *geometry.Point
}
