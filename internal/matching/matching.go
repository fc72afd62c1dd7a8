// Package matching answers the two discovery queries: fresh drivers near a
// customer, and open ride requests near a driver. It is strictly read-only
// over the geo index and the registry.
package matching

import (
	"context"
	"sort"

	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
)

type RequestLister interface {
	OpenRequests(ctx context.Context) ([]models.RideRequest, error)
}

type Engine struct {
	Geo      geo.Index
	Requests RequestLister

	RadiusKm float64
	Limit    int

	// optional ETA enrichment for nearby-driver results
	DefaultSpeedMps float64
	ETAClient       eta.Client
	ETACache        *eta.Cache
}

// NearbyDrivers returns fresh drivers ordered by ascending distance from
// the query point, each annotated with distance and an ETA estimate.
// radiusKm <= 0 falls back to the configured default.
func (e *Engine) NearbyDrivers(ctx context.Context, lat, lng, radiusKm float64) ([]models.NearbyDriver, error) {
	if radiusKm <= 0 {
		radiusKm = e.RadiusKm
	}
	drivers, err := e.Geo.Nearby(ctx, lat, lng, radiusKm, e.Limit)
	if err != nil {
		return nil, faults.Wrap(faults.Transient, err, "geo query")
	}
	origin := models.Coord{Lat: lat, Lng: lng}
	for i := range drivers {
		drivers[i].ETASeconds = e.estimate(models.Coord{Lat: drivers[i].Lat, Lng: drivers[i].Lng}, origin)
	}
	return drivers, nil
}

// NearbyRides is the symmetric query for drivers: open requests sorted by
// distance from the driver's position.
func (e *Engine) NearbyRides(ctx context.Context, lat, lng float64) ([]models.NearbyRide, error) {
	open, err := e.Requests.OpenRequests(ctx)
	if err != nil {
		return nil, faults.Wrap(faults.Transient, err, "list open requests")
	}
	out := make([]models.NearbyRide, 0, len(open))
	for _, r := range open {
		dist := geo.HaversineKm(lat, lng, r.Pickup.Lat, r.Pickup.Lng)
		if e.RadiusKm > 0 && dist > e.RadiusKm {
			continue
		}
		out = append(out, models.NearbyRide{Ride: r, DistanceKm: geo.RoundKm(dist)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DistanceKm < out[j].DistanceKm })
	if e.Limit > 0 && len(out) > e.Limit {
		out = out[:e.Limit]
	}
	return out, nil
}

func (e *Engine) estimate(from, to models.Coord) float64 {
	if e.ETACache != nil {
		if v, ok := e.ETACache.Get(from, to); ok {
			return v
		}
	}
	if e.ETAClient != nil {
		if v, err := e.ETAClient.EstimateSeconds(from, to); err == nil {
			if e.ETACache != nil {
				e.ETACache.Set(from, to, v)
			}
			return v
		}
	}
	return eta.EstimateSeconds(from, to, e.DefaultSpeedMps)
}
