package spatial

import (
	"context"
	"fmt"
	"time"

	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/firewatch-ops/firewatch-backend/internal/metrics"
	"github.com/lib/pq"
)

// Each sample is reported in at most one zone: the lowest id among the zones
// containing it. Samples outside every zone keep a NULL zone and are not
// dropped.
const zoneJoin = `
	LEFT JOIN LATERAL (
		SELECT zz.id FROM ` + Schema + `.zones zz
		WHERE ST_Intersects(zz.area, s.position)
		ORDER BY zz.id
		LIMIT 1
	) z ON true`

const (
	updateColumns = `s.id, s.drone_id, s.timestamp, ST_X(s.position), ST_Y(s.position),
		s.flight_range, s.flight_time, z.id`
	eventColumns = `s.id, s.drone_id, s.timestamp, ST_X(s.position), ST_Y(s.position),
		s.event_type, s.confidence, s.media_refs, z.id`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanUpdate(r scanner) (UpdateRow, error) {
	var u UpdateRow
	err := r.Scan(&u.ID, &u.DroneID, &u.Timestamp, &u.Lon, &u.Lat, &u.FlightRange, &u.FlightTime, &u.ZoneID)
	return u, err
}

func scanEvent(r scanner) (EventRow, error) {
	var e EventRow
	err := r.Scan(&e.ID, &e.DroneID, &e.Timestamp, &e.Lon, &e.Lat, &e.EventType, &e.Confidence, &e.MediaRefs, &e.ZoneID)
	return e, err
}

// FetchUpdates returns the update rows matching f in the given order.
func (s *Store) FetchUpdates(ctx context.Context, f Filter, order Order) ([]UpdateRow, error) {
	defer metrics.ObserveQuery("fetch_updates")()

	where, args := f.Where("s")
	query := fmt.Sprintf(`SELECT %s FROM %s.drone_updates s %s %s %s %s`,
		updateColumns, Schema, zoneJoin, where, order.sql("s"), f.limit())

	rows, err := s.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, classify("fetch updates", err)
	}
	defer rows.Close()

	var out []UpdateRow
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, classify("scan update", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("fetch updates", err)
	}
	return out, nil
}

// FetchEvents returns the event rows matching f, newest first.
func (s *Store) FetchEvents(ctx context.Context, f Filter) ([]EventRow, error) {
	where, args := f.Where("s")
	query := fmt.Sprintf(`SELECT %s FROM %s.drone_events s %s %s %s %s`,
		eventColumns, Schema, zoneJoin, where, ByTimestamp.sql("s"), f.limit())
	return s.queryEvents(ctx, "fetch_events", query, args...)
}

// EventByID returns one event, or nil when no event has that id.
func (s *Store) EventByID(ctx context.Context, id int64) (*EventRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s.drone_events s %s WHERE s.id = ?`,
		eventColumns, Schema, zoneJoin)
	events, err := s.queryEvents(ctx, "event_by_id", query, id)
	if err != nil || len(events) == 0 {
		return nil, err
	}
	return &events[0], nil
}

// EventsInArea returns events intersecting area with after < timestamp <
// before. Unlike FetchEvents it inner-joins the zone table, so events
// outside every zone are excluded, and an event inside overlapping zones is
// returned once per zone.
func (s *Store) EventsInArea(ctx context.Context, area geometry.Shape, after, before time.Time) ([]EventRow, error) {
	query := fmt.Sprintf(`
		SELECT %[1]s
		FROM %[2]s.drone_events s
		JOIN %[2]s.zones z ON ST_Intersects(z.area, s.position)
		WHERE ST_Intersects(s.position, ST_GeomFromText(?, %[3]d))
		  AND s.timestamp > ? AND s.timestamp < ?
		ORDER BY s.timestamp DESC, s.id DESC`, eventColumns, Schema, geometry.SRID)
	return s.queryEvents(ctx, "events_in_area", query, geometry.ToWKT(area), after, before)
}

func (s *Store) queryEvents(ctx context.Context, name, query string, args ...any) ([]EventRow, error) {
	defer metrics.ObserveQuery(name)()

	rows, err := s.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, classify(name, err)
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, classify("scan event", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(name, err)
	}
	return out, nil
}

// CountActiveDrones counts distinct drone ids with at least one update
// matching f.
func (s *Store) CountActiveDrones(ctx context.Context, f Filter) (int, error) {
	defer metrics.ObserveQuery("count_active_drones")()

	where, args := f.Where("s")
	query := fmt.Sprintf(`SELECT COUNT(DISTINCT s.drone_id) FROM %s.drone_updates s %s`, Schema, where)

	var n int
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&n).Error; err != nil {
		return 0, classify("count active drones", err)
	}
	return n, nil
}

// ActiveDroneIDs lists the distinct drone ids with an update matching f.
func (s *Store) ActiveDroneIDs(ctx context.Context, f Filter) ([]int64, error) {
	defer metrics.ObserveQuery("active_drone_ids")()

	where, args := f.Where("s")
	query := fmt.Sprintf(`SELECT DISTINCT s.drone_id FROM %s.drone_updates s %s ORDER BY s.drone_id`, Schema, where)

	var ids []int64
	if err := s.db.WithContext(ctx).Raw(query, args...).Scan(&ids).Error; err != nil {
		return nil, classify("active drone ids", err)
	}
	return ids, nil
}

const pointSQL = "ST_SetSRID(ST_MakePoint(?, ?), 4326)"

// InsertUpdate appends one telemetry sample and returns its id.
func (s *Store) InsertUpdate(ctx context.Context, u NewUpdate) (int64, error) {
	defer metrics.ObserveQuery("insert_update")()

	query := fmt.Sprintf(`
		INSERT INTO %s.drone_updates (drone_id, timestamp, position, flight_range, flight_time)
		VALUES (?, ?, %s, ?, ?)
		RETURNING id`, Schema, pointSQL)

	var id int64
	err := s.db.WithContext(ctx).Raw(query,
		u.DroneID, u.Timestamp, u.Position.Lon(), u.Position.Lat(), u.FlightRange, u.FlightTime,
	).Scan(&id).Error
	if err != nil {
		return 0, classify("insert update", err)
	}
	return id, nil
}

// InsertEvent appends one detection and returns its id.
func (s *Store) InsertEvent(ctx context.Context, e NewEvent) (int64, error) {
	defer metrics.ObserveQuery("insert_event")()

	query := fmt.Sprintf(`
		INSERT INTO %s.drone_events (drone_id, timestamp, position, event_type, confidence, media_refs)
		VALUES (?, ?, %s, ?, ?, ?)
		RETURNING id`, Schema, pointSQL)

	var id int64
	err := s.db.WithContext(ctx).Raw(query,
		e.DroneID, e.Timestamp, e.Position.Lon(), e.Position.Lat(), e.EventType, e.Confidence, pq.StringArray(e.MediaRefs),
	).Scan(&id).Error
	if err != nil {
		return 0, classify("insert event", err)
	}
	return id, nil
}
