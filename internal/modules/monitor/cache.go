// README: Redis cache of each trip's last reported location.
package monitor

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"vigil/internal/types"
)

const lastLocationTTL = 30 * time.Minute

// LocationCache keeps the most recent point per trip so dashboards and the
// escalation path can read a position without touching the event store.
type LocationCache struct {
	rdb *redis.Client
}

func NewLocationCache(rdb *redis.Client) *LocationCache {
	return &LocationCache{rdb: rdb}
}

func lastLocationKey(tripID types.ID) string {
	return "vigil:trip:last_location:" + string(tripID)
}

func (c *LocationCache) Set(ctx context.Context, tripID types.ID, p types.Point, at time.Time) error {
	// HSet keeps any existing expiry; Touch refreshes the TTL separately.
	return c.rdb.HSet(ctx, lastLocationKey(tripID), map[string]any{
		"lat": p.Lat,
		"lng": p.Lng,
		"at":  at.UTC().Format(time.RFC3339Nano),
	}).Err()
}

func (c *LocationCache) Touch(ctx context.Context, tripID types.ID) error {
	return c.rdb.Expire(ctx, lastLocationKey(tripID), lastLocationTTL).Err()
}

// Get returns the cached point, or ok=false when nothing is cached.
func (c *LocationCache) Get(ctx context.Context, tripID types.ID) (types.Point, time.Time, bool, error) {
	vals, err := c.rdb.HGetAll(ctx, lastLocationKey(tripID)).Result()
	if err != nil {
		return types.Point{}, time.Time{}, false, err
	}
	if len(vals) == 0 {
		return types.Point{}, time.Time{}, false, nil
	}
	var p types.Point
	if err := scanFloat(vals["lat"], &p.Lat); err != nil {
		return types.Point{}, time.Time{}, false, err
	}
	if err := scanFloat(vals["lng"], &p.Lng); err != nil {
		return types.Point{}, time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, vals["at"])
	if err != nil {
		return types.Point{}, time.Time{}, false, err
	}
	return p, at, true, nil
}

func (c *LocationCache) Delete(ctx context.Context, tripID types.ID) error {
	return c.rdb.Del(ctx, lastLocationKey(tripID)).Err()
}

func scanFloat(s string, dst *float64) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*dst = v
	return nil
}
