package spatial

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/firewatch-ops/firewatch-backend/internal/metrics"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store runs geometry-aware queries against PostGIS. It holds only the
// pooled handle; each call borrows a connection for its own duration.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

const zoneColumns = `z.id, z.code, z.name, z.federal_state, z.district,
	ST_AsGeoJSON(z.area), ST_X(z.centroid), ST_Y(z.centroid)`

// ContainingZone returns the zone whose area contains p, or nil. Points on
// a shared boundary resolve to the lowest zone id.
func (s *Store) ContainingZone(ctx context.Context, p geometry.Point) (*ZoneRef, error) {
	defer metrics.ObserveQuery("containing_zone")()

	query := fmt.Sprintf(`
		SELECT z.id, z.code, z.name
		FROM %s.zones z
		WHERE ST_Intersects(z.area, ST_SetSRID(ST_MakePoint(?, ?), %d))
		ORDER BY z.id
		LIMIT 1`, Schema, geometry.SRID)

	rows, err := s.db.WithContext(ctx).Raw(query, p.Lon(), p.Lat()).Rows()
	if err != nil {
		return nil, classify("containing zone", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, classify("containing zone", rows.Err())
	}
	var ref ZoneRef
	if err := rows.Scan(&ref.ID, &ref.Code, &ref.Name); err != nil {
		return nil, classify("scan zone ref", err)
	}
	return &ref, nil
}

func (s *Store) ZoneByID(ctx context.Context, id int64) (*ZoneRow, error) {
	zones, err := s.queryZones(ctx, "zone_by_id",
		fmt.Sprintf(`SELECT %s FROM %s.zones z WHERE z.id = ?`, zoneColumns, Schema), id)
	if err != nil || len(zones) == 0 {
		return nil, err
	}
	return &zones[0], nil
}

func (s *Store) ZonesByDistrict(ctx context.Context, district string) ([]ZoneRow, error) {
	return s.queryZones(ctx, "zones_by_district",
		fmt.Sprintf(`SELECT %s FROM %s.zones z WHERE z.district = ? ORDER BY z.id`, zoneColumns, Schema), district)
}

// ZonesOfOrganization lists the zones of every territory the organization
// owns. A zone in several territories is listed once.
func (s *Store) ZonesOfOrganization(ctx context.Context, orgID uuid.UUID) ([]ZoneRow, error) {
	query := fmt.Sprintf(`
		SELECT %[1]s FROM %[2]s.zones z
		WHERE z.id IN (
			SELECT tz.zone_id
			FROM %[2]s.territory_zones tz
			JOIN %[2]s.territories t ON t.id = tz.territory_id
			WHERE t.organization_id = ?)
		ORDER BY z.id`, zoneColumns, Schema)
	return s.queryZones(ctx, "zones_of_organization", query, orgID)
}

func (s *Store) ZonesOfTerritory(ctx context.Context, territoryID uuid.UUID) ([]ZoneRow, error) {
	query := fmt.Sprintf(`
		SELECT %[1]s FROM %[2]s.zones z
		JOIN %[2]s.territory_zones tz ON tz.zone_id = z.id
		WHERE tz.territory_id = ?
		ORDER BY z.id`, zoneColumns, Schema)
	return s.queryZones(ctx, "zones_of_territory", query, territoryID)
}

func (s *Store) AllZones(ctx context.Context) ([]ZoneRow, error) {
	return s.queryZones(ctx, "all_zones",
		fmt.Sprintf(`SELECT %s FROM %s.zones z ORDER BY z.id`, zoneColumns, Schema))
}

func (s *Store) queryZones(ctx context.Context, name, query string, args ...any) ([]ZoneRow, error) {
	defer metrics.ObserveQuery(name)()

	rows, err := s.db.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, classify(name, err)
	}
	defer rows.Close()

	var out []ZoneRow
	for rows.Next() {
		var (
			z        ZoneRow
			area     sql.NullString
			lon, lat sql.NullFloat64
		)
		if err := rows.Scan(&z.ID, &z.Code, &z.Name, &z.FederalState, &z.District, &area, &lon, &lat); err != nil {
			return nil, classify("scan zone", err)
		}
		z.Area, err = geometry.ParseArea([]byte(area.String))
		if err != nil {
			log.Printf("[spatial] dropping zone %d: %v", z.ID, err)
			metrics.DropRow("zone", "area")
			continue
		}
		if lon.Valid && lat.Valid {
			if p, err := geometry.NewPoint(lon.Float64, lat.Float64); err == nil {
				z.Centroid = &p
			}
		}
		out = append(out, z)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(name, err)
	}
	return out, nil
}

const insertZoneSQL = `
	INSERT INTO ` + Schema + `.zones (code, name, federal_state, district, area, centroid)
	VALUES (?, ?, ?, ?, ST_Multi(ST_GeomFromText(?, 4326)), ST_GeomFromText(?, 4326))`

func zoneArgs(z NewZone) []any {
	var centroid any
	if z.Centroid != nil {
		centroid = geometry.ToWKT(*z.Centroid)
	}
	return []any{z.Code, z.Name, z.FederalState, z.District, geometry.ToWKT(z.Area), centroid}
}

// InsertZone stores one zone and returns its id. A duplicate code is
// ErrConflict.
func (s *Store) InsertZone(ctx context.Context, z NewZone) (int64, error) {
	defer metrics.ObserveQuery("insert_zone")()

	var id int64
	err := s.db.WithContext(ctx).Raw(insertZoneSQL+" RETURNING id", zoneArgs(z)...).Scan(&id).Error
	if err != nil {
		return 0, classify("insert zone", err)
	}
	return id, nil
}

// InsertZones stores zones in one transaction and skips codes that already
// exist. It returns how many rows were newly inserted, so a repeated import
// of the same source reports 0.
func (s *Store) InsertZones(ctx context.Context, zones []NewZone) (int, error) {
	defer metrics.ObserveQuery("insert_zones")()

	inserted := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, z := range zones {
			res := tx.Exec(insertZoneSQL+" ON CONFLICT (code) DO NOTHING", zoneArgs(z)...)
			if res.Error != nil {
				return fmt.Errorf("zone %s: %w", z.Code, res.Error)
			}
			inserted += int(res.RowsAffected)
		}
		return nil
	})
	if err != nil {
		return 0, classify("insert zones", err)
	}
	return inserted, nil
}

// CreateTerritory fails with ErrConflict when the organization already has a
// territory of that name.
func (s *Store) CreateTerritory(ctx context.Context, t *Territory) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if err := s.db.WithContext(ctx).Create(t).Error; err != nil {
		return classify("create territory", err)
	}
	return nil
}

// LinkZone adds a zone to a territory. An existing link is ErrConflict; a
// missing zone or territory is ErrPersistence.
func (s *Store) LinkZone(ctx context.Context, territoryID uuid.UUID, zoneID int64) error {
	link := TerritoryZone{TerritoryID: territoryID, ZoneID: zoneID}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(&link).Error; err != nil {
		return classify("link zone", err)
	}
	return nil
}

func (s *Store) TerritoryByID(ctx context.Context, id uuid.UUID) (*Territory, error) {
	var t Territory
	err := s.db.WithContext(ctx).First(&t, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("territory by id", err)
	}
	return &t, nil
}

func (s *Store) TerritoriesOfOrganization(ctx context.Context, orgID uuid.UUID) ([]Territory, error) {
	var ts []Territory
	err := s.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Order("name").
		Find(&ts).Error
	if err != nil {
		return nil, classify("territories of organization", err)
	}
	return ts, nil
}

// TerritoryArea computes the union of the territory's member zones.
func (s *Store) TerritoryArea(ctx context.Context, territoryID uuid.UUID) (*TerritoryArea, error) {
	defer metrics.ObserveQuery("territory_area")()

	query := fmt.Sprintf(`
		WITH u AS (
			SELECT COUNT(z.id) AS n,
			       ST_Multi(ST_CollectionExtract(ST_Union(z.area), 3)) AS area
			FROM %[1]s.territory_zones tz
			JOIN %[1]s.zones z ON z.id = tz.zone_id
			WHERE tz.territory_id = ?
		)
		SELECT n, ST_AsGeoJSON(area), ST_X(ST_Centroid(area)), ST_Y(ST_Centroid(area))
		FROM u`, Schema)

	rows, err := s.db.WithContext(ctx).Raw(query, territoryID).Rows()
	if err != nil {
		return nil, classify("territory area", err)
	}
	defer rows.Close()

	out := &TerritoryArea{}
	if !rows.Next() {
		return out, classify("territory area", rows.Err())
	}
	var (
		area     sql.NullString
		lon, lat sql.NullFloat64
	)
	if err := rows.Scan(&out.ZoneCount, &area, &lon, &lat); err != nil {
		return nil, classify("scan territory area", err)
	}
	if out.ZoneCount == 0 || !area.Valid {
		return out, nil
	}
	if out.Area, err = geometry.ParseArea([]byte(area.String)); err != nil {
		return nil, fmt.Errorf("territory %s area: %w", territoryID, err)
	}
	if lon.Valid && lat.Valid {
		if p, err := geometry.NewPoint(lon.Float64, lat.Float64); err == nil {
			out.Centroid = &p
		}
	}
	return out, nil
}
