package geo

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Index is the minimal interface the matching engine needs: latest position
// per driver, and fresh drivers by ascending distance from a point.
type Index interface {
	Upsert(ctx context.Context, p models.DriverPosition) error
	Nearby(ctx context.Context, lat, lng, radiusKm float64, limit int) ([]models.NearbyDriver, error)
}

// MemIndex keeps the latest reading per driver in memory. Stale entries are
// excluded from queries, not deleted, so a driver coming back online keeps
// its identity.
type MemIndex struct {
	mu       sync.RWMutex
	drivers  map[string]models.DriverPosition
	window   time.Duration
	debounce float64 // degrees; below this a report only refreshes the timestamp
	now      func() time.Time
}

func NewMemIndex(window time.Duration, debounceDeg float64) *MemIndex {
	return &MemIndex{
		drivers:  make(map[string]models.DriverPosition),
		window:   window,
		debounce: debounceDeg,
		now:      time.Now,
	}
}

func (g *MemIndex) Upsert(_ context.Context, p models.DriverPosition) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p.Updated = g.now()
	if prev, ok := g.drivers[p.DriverID]; ok {
		if math.Abs(prev.Lat-p.Lat) <= g.debounce && math.Abs(prev.Lng-p.Lng) <= g.debounce {
			prev.Updated = p.Updated
			g.drivers[p.DriverID] = prev
			return nil
		}
	}
	g.drivers[p.DriverID] = p
	return nil
}

// naive scan; in prod use geo-hash or H3
func (g *MemIndex) Nearby(_ context.Context, lat, lng, radiusKm float64, limit int) ([]models.NearbyDriver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cutoff := g.now().Add(-g.window)
	out := make([]models.NearbyDriver, 0, len(g.drivers))
	for _, p := range g.drivers {
		if p.Updated.Before(cutoff) {
			continue // offline, not deleted
		}
		dist := HaversineKm(lat, lng, p.Lat, p.Lng)
		if radiusKm > 0 && dist > radiusKm {
			continue
		}
		out = append(out, models.NearbyDriver{
			DriverID:   p.DriverID,
			Lat:        p.Lat,
			Lng:        p.Lng,
			DistanceKm: RoundKm(dist),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// HaversineKm is the straight-line distance between two points in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	const R = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// RoundKm rounds to two decimals so repeated queries render stable distances.
func RoundKm(km float64) float64 {
	return math.Round(km*100) / 100
}
