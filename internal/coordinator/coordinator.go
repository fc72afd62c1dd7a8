// Package coordinator is the façade in front of the registry, geo index,
// matching engine, relay and review ledger. It validates the caller's role,
// sequences component calls (never spanning more than one booking per
// operation), and publishes a state-change event after each successful
// mutation. It holds no state of its own.
package coordinator

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/matching"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/relay"
	"github.com/example/ride-dispatch/internal/reviews"
)

// Notifier pushes events to connected participants. Best-effort.
type Notifier interface {
	NotifyEvent(ev models.Event, userIDs ...string)
	NotifyMessage(m models.Message, userIDs ...string)
}

type Coordinator struct {
	Registry *registry.Registry
	Geo      geo.Index
	Matching *matching.Engine
	Relay    *relay.Relay
	Reviews  *reviews.Ledger

	Events events.Publisher // optional
	Notify Notifier         // optional
	Logger *slog.Logger

	now func() time.Time
}

func New(reg *registry.Registry, gi geo.Index, m *matching.Engine, rl *relay.Relay, lg *reviews.Ledger, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		Registry: reg,
		Geo:      gi,
		Matching: m,
		Relay:    rl,
		Reviews:  lg,
		Logger:   logger,
		now:      time.Now,
	}
}

func (c *Coordinator) CreateRideRequest(ctx context.Context, actor models.Actor, pickup, dropoff models.Place, vehicle string) (models.RideRequest, error) {
	if actor.Role != models.RoleCustomer {
		return models.RideRequest{}, faults.New(faults.Forbidden, "only customers may request rides")
	}
	req, err := c.Registry.CreateRequest(ctx, actor.ID, pickup, dropoff, vehicle)
	if err != nil {
		return models.RideRequest{}, err
	}
	observability.RidesRequested.Inc()
	c.publish(ctx, models.Event{Kind: models.EventRideRequested, RideRequestID: req.ID, ActorID: actor.ID, At: c.now()})
	return req, nil
}

func (c *Coordinator) AcceptRide(ctx context.Context, actor models.Actor, rideRequestID string) (models.Booking, error) {
	if actor.Role != models.RoleDriver {
		return models.Booking{}, faults.New(faults.Forbidden, "only drivers may accept rides")
	}
	b, err := c.Registry.Accept(ctx, actor.ID, rideRequestID)
	if err != nil {
		if faults.IsConflict(err) {
			observability.AcceptConflict.Inc()
		}
		return models.Booking{}, err
	}
	observability.RidesAccepted.Inc()
	ev := models.Event{Kind: models.EventRideAccepted, RideRequestID: b.RideRequestID, BookingID: b.ID, ActorID: actor.ID, At: c.now()}
	c.publish(ctx, ev)
	c.notifyEvent(ev, b.CustomerID, b.DriverID)
	return b, nil
}

func (c *Coordinator) StartRide(ctx context.Context, actor models.Actor, bookingID string) (models.Booking, error) {
	if actor.Role != models.RoleDriver {
		return models.Booking{}, faults.New(faults.Forbidden, "only drivers may start rides")
	}
	b, err := c.Registry.Start(ctx, actor.ID, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	ev := models.Event{Kind: models.EventRideStarted, RideRequestID: b.RideRequestID, BookingID: b.ID, ActorID: actor.ID, At: c.now()}
	c.publish(ctx, ev)
	c.notifyEvent(ev, b.CustomerID, b.DriverID)
	return b, nil
}

func (c *Coordinator) FinishRide(ctx context.Context, actor models.Actor, bookingID string) (models.Booking, error) {
	if actor.Role != models.RoleDriver {
		return models.Booking{}, faults.New(faults.Forbidden, "only drivers may finish rides")
	}
	b, err := c.Registry.Finish(ctx, actor.ID, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	observability.RidesCompleted.Inc()
	ev := models.Event{Kind: models.EventRideCompleted, RideRequestID: b.RideRequestID, BookingID: b.ID, ActorID: actor.ID, At: c.now()}
	c.publish(ctx, ev)
	c.notifyEvent(ev, b.CustomerID, b.DriverID)
	return b, nil
}

// CancelBooking cancels by booking or ride request id.
func (c *Coordinator) CancelBooking(ctx context.Context, actor models.Actor, id string) (models.RideRequest, error) {
	req, err := c.Registry.Cancel(ctx, actor, id)
	if err != nil {
		return models.RideRequest{}, err
	}
	observability.RidesCancelled.Inc()
	ev := models.Event{Kind: models.EventRideCancelled, RideRequestID: req.ID, BookingID: req.BookingID, ActorID: actor.ID, At: c.now()}
	c.publish(ctx, ev)
	if req.BookingID != "" {
		if b, err := c.Registry.GetBooking(ctx, req.BookingID); err == nil {
			c.notifyEvent(ev, b.CustomerID, b.DriverID)
		}
	}
	return req, nil
}

func (c *Coordinator) ListMyBookings(ctx context.Context, actor models.Actor) ([]models.Booking, error) {
	return c.Registry.ListBookings(ctx, actor)
}

func (c *Coordinator) NearbyDrivers(ctx context.Context, actor models.Actor, lat, lng, radiusKm float64) ([]models.NearbyDriver, error) {
	if actor.Role != models.RoleCustomer {
		return nil, faults.New(faults.Forbidden, "only customers browse nearby drivers")
	}
	out, err := c.Matching.NearbyDrivers(ctx, lat, lng, radiusKm)
	if err != nil {
		return nil, err
	}
	observability.DriversFresh.Set(float64(len(out)))
	return out, nil
}

func (c *Coordinator) NearbyRides(ctx context.Context, actor models.Actor, lat, lng float64) ([]models.NearbyRide, error) {
	if actor.Role != models.RoleDriver {
		return nil, faults.New(faults.Forbidden, "only drivers browse nearby rides")
	}
	return c.Matching.NearbyRides(ctx, lat, lng)
}

// ReportPosition records a driver's position in the geo index.
func (c *Coordinator) ReportPosition(ctx context.Context, actor models.Actor, lat, lng float64) error {
	if actor.Role != models.RoleDriver {
		return faults.New(faults.Forbidden, "only drivers report positions")
	}
	p := models.DriverPosition{DriverID: actor.ID, Lat: lat, Lng: lng}
	if err := c.Geo.Upsert(ctx, p); err != nil {
		return faults.Wrap(faults.Transient, err, "update geo index")
	}
	observability.PositionUpdates.Inc()
	return nil
}

func (c *Coordinator) PostMessage(ctx context.Context, actor models.Actor, bookingID, body string) (models.Message, error) {
	m, err := c.Relay.Post(ctx, actor.ID, bookingID, body)
	if err != nil {
		return models.Message{}, err
	}
	observability.MessagesPosted.Inc()
	c.publish(ctx, models.Event{Kind: models.EventMessagePosted, BookingID: bookingID, ActorID: actor.ID, At: c.now(), Seq: m.Seq})
	if b, err := c.Registry.GetBooking(ctx, bookingID); err == nil {
		c.notifyMessage(m, b.CustomerID, b.DriverID)
	}
	return m, nil
}

func (c *Coordinator) ListMessages(ctx context.Context, actor models.Actor, bookingID string, afterSeq int64) ([]models.Message, error) {
	return c.Relay.List(ctx, actor.ID, bookingID, afterSeq)
}

func (c *Coordinator) SubmitReview(ctx context.Context, actor models.Actor, bookingID string, rating int, feedback string) (models.Review, error) {
	if actor.Role != models.RoleCustomer {
		return models.Review{}, faults.New(faults.Forbidden, "only customers submit reviews")
	}
	rv, err := c.Reviews.Submit(ctx, actor.ID, bookingID, rating, feedback)
	if err != nil {
		return models.Review{}, err
	}
	if err := c.Registry.MarkReviewed(ctx, bookingID); err != nil {
		// the review is recorded; the flag is derivable, so log and move on
		c.Logger.Warn("mark reviewed failed", "booking_id", bookingID, "error", err)
	}
	observability.ReviewsRecorded.Inc()
	c.publish(ctx, models.Event{Kind: models.EventReviewSubmitted, BookingID: bookingID, ActorID: actor.ID, At: c.now()})
	return rv, nil
}

func (c *Coordinator) DriverRating(ctx context.Context, driverID string) (models.DriverRating, error) {
	return c.Reviews.DriverRating(ctx, driverID)
}

func (c *Coordinator) Leaderboard(ctx context.Context, topN int) ([]reviews.LeaderboardEntry, error) {
	return c.Reviews.Leaderboard(ctx, topN)
}

// publish emits the event stream record. Best-effort: the mutation already
// committed, so a publish failure is logged, not surfaced.
func (c *Coordinator) publish(ctx context.Context, ev models.Event) {
	if c.Events == nil {
		return
	}
	if err := c.Events.Publish(ctx, ev); err != nil {
		c.Logger.Warn("event publish failed", "kind", ev.Kind, "error", err)
	}
}

func (c *Coordinator) notifyEvent(ev models.Event, userIDs ...string) {
	if c.Notify != nil {
		c.Notify.NotifyEvent(ev, userIDs...)
	}
}

func (c *Coordinator) notifyMessage(m models.Message, userIDs ...string) {
	if c.Notify != nil {
		c.Notify.NotifyMessage(m, userIDs...)
	}
}
