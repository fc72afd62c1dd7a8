package geo

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

type fakeGeoCommander struct {
	pos     map[string]*redis.GeoPos
	meta    map[string]map[string]string
	radius  []redis.GeoLocation
	geoAdds int
}

func newFakeGeoCommander() *fakeGeoCommander {
	return &fakeGeoCommander{
		pos:  make(map[string]*redis.GeoPos),
		meta: make(map[string]map[string]string),
	}
}

func (f *fakeGeoCommander) GeoAdd(ctx context.Context, key string, locs ...*redis.GeoLocation) *redis.IntCmd {
	f.geoAdds++
	for _, l := range locs {
		f.pos[l.Name] = &redis.GeoPos{Longitude: l.Longitude, Latitude: l.Latitude}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(locs)))
	return cmd
}

func (f *fakeGeoCommander) GeoPos(ctx context.Context, key string, members ...string) *redis.GeoPosCmd {
	cmd := redis.NewGeoPosCmd(ctx)
	out := make([]*redis.GeoPos, len(members))
	for i, m := range members {
		out[i] = f.pos[m] // nil for unknown members, same as redis
	}
	cmd.SetVal(out)
	return cmd
}

func (f *fakeGeoCommander) GeoRadius(ctx context.Context, key string, lng, lat float64, q *redis.GeoRadiusQuery) *redis.GeoLocationCmd {
	cmd := redis.NewGeoLocationCmd(ctx, q)
	cmd.SetVal(f.radius)
	return cmd
}

func (f *fakeGeoCommander) HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	m, ok := f.meta[key]
	if !ok {
		m = make(map[string]string)
		f.meta[key] = m
	}
	if kv, ok := values[0].(map[string]interface{}); ok {
		for k, v := range kv {
			m[k] = v.(string)
		}
	}
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func (f *fakeGeoCommander) HGet(ctx context.Context, key, field string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx)
	if v, ok := f.meta[key][field]; ok {
		cmd.SetVal(v)
	} else {
		cmd.SetErr(redis.Nil)
	}
	return cmd
}

func newTestRedisIndex(f *fakeGeoCommander, at time.Time) *RedisIndex {
	return &RedisIndex{
		client:   f,
		key:      "drivers_geo",
		window:   10 * time.Second,
		debounce: 0.0001,
		now:      func() time.Time { return at },
	}
}

func TestRedisUpsertDebounceRefreshesTimestampOnly(t *testing.T) {
	f := newFakeGeoCommander()
	base := time.Now()
	idx := newTestRedisIndex(f, base)

	if err := idx.Upsert(context.Background(), models.DriverPosition{DriverID: "d1", Lat: 1, Lng: 2}); err != nil {
		t.Fatal(err)
	}
	if f.geoAdds != 1 {
		t.Fatalf("expected one geoadd, got %d", f.geoAdds)
	}

	later := base.Add(5 * time.Second)
	idx.now = func() time.Time { return later }
	if err := idx.Upsert(context.Background(), models.DriverPosition{DriverID: "d1", Lat: 1.00005, Lng: 2}); err != nil {
		t.Fatal(err)
	}
	if f.geoAdds != 1 {
		t.Fatalf("tiny move should not rewrite the point, geoadds=%d", f.geoAdds)
	}
	raw := f.meta[metaKey("d1")]["updated"]
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil || !ts.Equal(later) {
		t.Fatalf("timestamp not refreshed: %q %v", raw, err)
	}
}

func TestRedisUpsertRealMoveRewritesPoint(t *testing.T) {
	f := newFakeGeoCommander()
	idx := newTestRedisIndex(f, time.Now())

	if err := idx.Upsert(context.Background(), models.DriverPosition{DriverID: "d1", Lat: 1, Lng: 2}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Upsert(context.Background(), models.DriverPosition{DriverID: "d1", Lat: 1.01, Lng: 2}); err != nil {
		t.Fatal(err)
	}
	if f.geoAdds != 2 {
		t.Fatalf("expected the moved point to be rewritten, geoadds=%d", f.geoAdds)
	}
	if got := f.pos["d1"].Latitude; got != 1.01 {
		t.Fatalf("stored latitude = %v, want 1.01", got)
	}
}

func TestRedisNearbyExcludesStaleDrivers(t *testing.T) {
	f := newFakeGeoCommander()
	base := time.Now()
	idx := newTestRedisIndex(f, base)

	f.radius = []redis.GeoLocation{
		{Name: "fresh", Latitude: 0.01, Longitude: 0, Dist: 1.11},
		{Name: "stale", Latitude: 0.02, Longitude: 0, Dist: 2.22},
	}
	f.meta[metaKey("fresh")] = map[string]string{"updated": base.Add(-5 * time.Second).Format(time.RFC3339Nano)}
	f.meta[metaKey("stale")] = map[string]string{"updated": base.Add(-15 * time.Second).Format(time.RFC3339Nano)}

	out, err := idx.Nearby(context.Background(), 0, 0, 10, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].DriverID != "fresh" {
		t.Fatalf("expected only the fresh driver, got %+v", out)
	}
}
