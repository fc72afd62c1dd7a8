package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/models"
)

// fakeUpdater implements GeoUpdater for tests
type fakeUpdater struct {
	failGeo  int // number of times to fail GeoAdd before succeeding
	failH    int // number of times to fail HSet before succeeding
	geoCalls int
	hCalls   int
	lastMeta map[string]interface{}
}

func (f *fakeUpdater) GeoAdd(ctx context.Context, key string, loc *redis.GeoLocation) error {
	f.geoCalls++
	if f.geoCalls <= f.failGeo {
		return errors.New("geo fail")
	}
	return nil
}

func (f *fakeUpdater) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.lastMeta = values
	return nil
}

func TestUpdateGeoWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeUpdater{failGeo: 1, failH: 1}
	p := &models.DriverPosition{DriverID: "d1", Lat: 1, Lng: 2}
	ctx := context.Background()
	start := time.Now()
	if err := updateGeoWithRetry(ctx, f, "drivers_geo", p, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.geoCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got geo=%d h=%d", f.geoCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
}

func TestUpdateGeoWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeUpdater{failGeo: 5, failH: 0}
	p := &models.DriverPosition{DriverID: "d1", Lat: 1, Lng: 2}
	ctx := context.Background()
	if err := updateGeoWithRetry(ctx, f, "drivers_geo", p, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}

func TestUpdateGeoWithRetry_WritesFreshnessTimestamp(t *testing.T) {
	f := &fakeUpdater{}
	reported := time.Now().Add(-2 * time.Second)
	p := &models.DriverPosition{DriverID: "d1", Lat: 1, Lng: 2, Updated: reported}
	if err := updateGeoWithRetry(context.Background(), f, "drivers_geo", p, 1, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	raw, ok := f.lastMeta["updated"].(string)
	if !ok {
		t.Fatalf("expected updated timestamp in metadata, got %+v", f.lastMeta)
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		t.Fatalf("timestamp not parseable: %v", err)
	}
	if !ts.Equal(reported) {
		t.Fatalf("expected reported timestamp preserved, got %s", ts)
	}
}
