package spatial

import (
	"fmt"
	"strings"
	"time"

	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/google/uuid"
)

// Filter is a conjunction of optional predicates over a telemetry table.
// Unset fields do not constrain; the zero Filter matches every row.
type Filter struct {
	DroneID        *int64
	ZoneID         *int64
	OrganizationID *uuid.UUID
	TerritoryID    *uuid.UUID
	// Within keeps samples whose position intersects the shape.
	Within geometry.Shape
	// After and Before are exclusive bounds on the sample timestamp.
	After  *time.Time
	Before *time.Time
	// Limit caps the result size when positive.
	Limit int
}

// Order selects the row order of a fetch.
type Order int

const (
	// ByTimestamp is newest first. Used for event and update listings.
	ByTimestamp Order = iota
	// ByDroneTimestamp sorts by drone id, then newest first. Route
	// reconstruction relies on it.
	ByDroneTimestamp
)

func (o Order) sql(alias string) string {
	if o == ByDroneTimestamp {
		return fmt.Sprintf("ORDER BY %[1]s.drone_id, %[1]s.timestamp DESC, %[1]s.id DESC", alias)
	}
	return fmt.Sprintf("ORDER BY %[1]s.timestamp DESC, %[1]s.id DESC", alias)
}

// Where renders the filter as a WHERE clause over the sample table aliased
// as alias. Every predicate is ANDed and args follow clause order. An empty
// filter yields an empty clause.
//
// Zone, territory and organization predicates test intersection with any
// matching zone, so they do not depend on which zone a sample is reported in.
func (f Filter) Where(alias string) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}

	if f.DroneID != nil {
		add(alias+".drone_id = ?", *f.DroneID)
	}
	if f.ZoneID != nil {
		add(fmt.Sprintf(`EXISTS (
			SELECT 1 FROM %s.zones zf
			WHERE zf.id = ? AND ST_Intersects(zf.area, %s.position))`, Schema, alias), *f.ZoneID)
	}
	if f.OrganizationID != nil {
		add(fmt.Sprintf(`EXISTS (
			SELECT 1 FROM %[1]s.territories tf
			JOIN %[1]s.territory_zones tzf ON tzf.territory_id = tf.id
			JOIN %[1]s.zones zf ON zf.id = tzf.zone_id
			WHERE tf.organization_id = ? AND ST_Intersects(zf.area, %[2]s.position))`, Schema, alias), *f.OrganizationID)
	}
	if f.TerritoryID != nil {
		add(fmt.Sprintf(`EXISTS (
			SELECT 1 FROM %[1]s.territory_zones tzf
			JOIN %[1]s.zones zf ON zf.id = tzf.zone_id
			WHERE tzf.territory_id = ? AND ST_Intersects(zf.area, %[2]s.position))`, Schema, alias), *f.TerritoryID)
	}
	if f.Within != nil {
		add(fmt.Sprintf("ST_Intersects(%s.position, ST_GeomFromText(?, %d))", alias, geometry.SRID), geometry.ToWKT(f.Within))
	}
	if f.After != nil {
		add(alias+".timestamp > ?", *f.After)
	}
	if f.Before != nil {
		add(alias+".timestamp < ?", *f.Before)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func (f Filter) limit() string {
	if f.Limit > 0 {
		return fmt.Sprintf("LIMIT %d", f.Limit)
	}
	return ""
}
