package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/firewatch-ops/firewatch-backend/internal/geometry"
	"github.com/firewatch-ops/firewatch-backend/internal/spatial"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	fieldZoneCount = "zone_count"
	fieldArea      = "area"
	fieldCentroid  = "centroid"
)

// AreaCache stores territory areas as Redis hashes keyed by territory id.
type AreaCache struct {
	rdb    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewAreaCache wraps a Redis client. A non-empty prefix namespaces every key.
func NewAreaCache(rdb redis.UniversalClient, prefix string, ttl time.Duration) *AreaCache {
	if prefix != "" {
		prefix += ":"
	}
	return &AreaCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Connect opens a single-node client and checks it responds.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return rdb, nil
}

func (c *AreaCache) key(id uuid.UUID) string {
	return c.prefix + "territory_area:" + id.String()
}

// Get returns nil, nil on a miss.
func (c *AreaCache) Get(ctx context.Context, id uuid.UUID) (*spatial.TerritoryArea, error) {
	vals, err := c.rdb.HGetAll(ctx, c.key(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	out := &spatial.TerritoryArea{}
	if out.ZoneCount, err = strconv.Atoi(vals[fieldZoneCount]); err != nil {
		return nil, fmt.Errorf("cached zone count: %w", err)
	}
	if raw := vals[fieldArea]; raw != "" {
		if out.Area, err = geometry.ParseArea([]byte(raw)); err != nil {
			return nil, fmt.Errorf("cached area: %w", err)
		}
	}
	if raw := vals[fieldCentroid]; raw != "" {
		s, err := geometry.Parse([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("cached centroid: %w", err)
		}
		if p, ok := s.(geometry.Point); ok {
			out.Centroid = &p
		}
	}
	return out, nil
}

func (c *AreaCache) Set(ctx context.Context, id uuid.UUID, area *spatial.TerritoryArea) error {
	fields := map[string]any{
		fieldZoneCount: area.ZoneCount,
		fieldArea:      "",
		fieldCentroid:  "",
	}
	if len(area.Area) > 0 {
		b, err := geometry.ToGeoJSON(area.Area)
		if err != nil {
			return err
		}
		fields[fieldArea] = string(b)
	}
	if area.Centroid != nil {
		b, err := geometry.ToGeoJSON(*area.Centroid)
		if err != nil {
			return err
		}
		fields[fieldCentroid] = string(b)
	}

	key := c.key(id)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	return err
}

func (c *AreaCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	return c.rdb.Del(ctx, c.key(id)).Err()
}
