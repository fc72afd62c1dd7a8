package geo

import (
	"context"
	"math"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// geoCommander is the slice of the redis client the index uses; tests
// substitute a fake.
type geoCommander interface {
	GeoAdd(ctx context.Context, key string, geoLocation ...*redis.GeoLocation) *redis.IntCmd
	GeoPos(ctx context.Context, key string, members ...string) *redis.GeoPosCmd
	GeoRadius(ctx context.Context, key string, longitude, latitude float64, query *redis.GeoRadiusQuery) *redis.GeoLocationCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// RedisIndex implements Index using Redis GEO commands plus a per-driver
// metadata hash carrying the last-updated timestamp for staleness checks.
type RedisIndex struct {
	client   geoCommander
	key      string
	window   time.Duration
	debounce float64 // degrees, same rule as MemIndex
	now      func() time.Time
}

func NewRedisIndex(addr, password, key string, window time.Duration, debounceDeg float64) *RedisIndex {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisIndex{client: c, key: key, window: window, debounce: debounceDeg, now: time.Now}
}

// Upsert stores the position, or only refreshes the freshness timestamp
// when the driver barely moved from the stored point.
func (r *RedisIndex) Upsert(ctx context.Context, p models.DriverPosition) error {
	if r.debounce > 0 {
		pos, err := r.client.GeoPos(ctx, r.key, p.DriverID).Result()
		if err == nil && len(pos) == 1 && pos[0] != nil &&
			math.Abs(pos[0].Latitude-p.Lat) <= r.debounce &&
			math.Abs(pos[0].Longitude-p.Lng) <= r.debounce {
			return r.touch(ctx, p.DriverID)
		}
	}
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: p.Lng, Latitude: p.Lat, Name: p.DriverID}).Result(); err != nil {
		return err
	}
	return r.touch(ctx, p.DriverID)
}

func (r *RedisIndex) touch(ctx context.Context, driverID string) error {
	return r.client.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"updated": r.now().Format(time.RFC3339Nano),
	}).Err()
}

func (r *RedisIndex) Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.NearbyDriver, error) {
	res, err := r.client.GeoRadius(ctx, r.key, lng, lat, &redis.GeoRadiusQuery{
		Radius: radiusKm, Unit: "km", WithCoord: true, WithDist: true, Count: limit, Sort: "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	cutoff := r.now().Add(-r.window)
	out := make([]models.NearbyDriver, 0, len(res))
	for _, g := range res {
		updated, err := r.client.HGet(ctx, metaKey(g.Name), "updated").Result()
		if err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, updated)
		if err != nil || ts.Before(cutoff) {
			continue
		}
		out = append(out, models.NearbyDriver{
			DriverID:   g.Name,
			Lat:        g.Latitude,
			Lng:        g.Longitude,
			DistanceKm: RoundKm(g.Dist),
		})
	}
	return out, nil
}

func metaKey(id string) string { return "driver:meta:" + id }
