package spatial

import (
	"fmt"
	"log"

	"github.com/firewatch-ops/firewatch-backend/internal/db"
	"gorm.io/gorm"
)

// Migrate bootstraps the PostGIS extension, the schema, the tables and
// their spatial indexes. It is safe to run on every start.
func Migrate(d *gorm.DB) error {
	if err := db.EnsurePostGIS(d); err != nil {
		return fmt.Errorf("enable postgis: %w", err)
	}
	if err := db.EnsureSchema(d, Schema); err != nil {
		return fmt.Errorf("ensure schema %s: %w", Schema, err)
	}

	if err := d.AutoMigrate(
		&Zone{},
		&Territory{},
		&TerritoryZone{},
		&DroneUpdate{},
		&DroneEvent{},
	); err != nil {
		return fmt.Errorf("auto-migrate %s tables: %w", Schema, err)
	}

	for _, stmt := range []string{
		`CREATE INDEX IF NOT EXISTS idx_zones_area ON ` + Schema + `.zones USING GIST (area)`,
		`CREATE INDEX IF NOT EXISTS idx_drone_updates_position ON ` + Schema + `.drone_updates USING GIST (position)`,
		`CREATE INDEX IF NOT EXISTS idx_drone_events_position ON ` + Schema + `.drone_events USING GIST (position)`,
		`CREATE INDEX IF NOT EXISTS idx_drone_updates_route ON ` + Schema + `.drone_updates (drone_id, timestamp DESC)`,
	} {
		if err := d.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	log.Println("[spatial] schema ready")
	return nil
}
