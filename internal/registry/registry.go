// Package registry owns the canonical state of ride requests and bookings
// and enforces the lifecycle state machine:
//
//	requested → accepted → ongoing → completed
//
// with cancelled reachable from requested or accepted only. It is the only
// component that mutates this state; everything else goes through it.
package registry

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

type Registry struct {
	store Store

	// AllowMultipleActive permits a driver to hold more than one
	// non-terminal booking at a time. Off by default: a driver mid-ride
	// should not claim another request.
	AllowMultipleActive bool

	locks lockTable
	now   func() time.Time
	newID func() string
}

func New(store Store) *Registry {
	return &Registry{
		store: store,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// CreateRequest records a new ride request in the requested state.
func (r *Registry) CreateRequest(ctx context.Context, customerID string, pickup, dropoff models.Place, vehicle string) (models.RideRequest, error) {
	if strings.TrimSpace(pickup.Name) == "" || strings.TrimSpace(dropoff.Name) == "" {
		return models.RideRequest{}, faults.New(faults.Validation, "pickup and dropoff are required")
	}
	req := models.RideRequest{
		ID:         r.newID(),
		CustomerID: customerID,
		Pickup:     pickup,
		Dropoff:    dropoff,
		Vehicle:    vehicle,
		Status:     models.RequestRequested,
		CreatedAt:  r.now(),
	}
	if err := r.store.CreateRequest(ctx, &req); err != nil {
		return models.RideRequest{}, faults.Wrap(faults.Transient, err, "create ride request")
	}
	return req, nil
}

// Accept matches a driver to a requested ride, creating the booking.
// Exactly one of any number of concurrent accepts wins; the rest get
// a conflict. Cancelled or unknown requests read as not found.
func (r *Registry) Accept(ctx context.Context, driverID, requestID string) (models.Booking, error) {
	unlock := r.locks.lock(requestID)
	defer unlock()

	req, err := r.store.GetRequest(ctx, requestID)
	if err != nil {
		return models.Booking{}, err
	}
	if req.Status == models.RequestCancelled {
		return models.Booking{}, faults.New(faults.NotFound, "ride request %s not found", requestID)
	}
	if req.Status != models.RequestRequested {
		return models.Booking{}, faults.New(faults.Conflict, "ride request %s already has a booking", requestID)
	}
	if !r.AllowMultipleActive {
		busy, err := r.store.DriverHasActiveBooking(ctx, driverID)
		if err != nil {
			return models.Booking{}, faults.Wrap(faults.Transient, err, "check active bookings")
		}
		if busy {
			return models.Booking{}, faults.New(faults.Conflict, "driver %s already has an active booking", driverID)
		}
	}

	b := models.Booking{
		ID:            r.newID(),
		RideRequestID: req.ID,
		CustomerID:    req.CustomerID,
		DriverID:      driverID,
		Status:        models.BookingAccepted,
		AcceptedAt:    r.now(),
	}
	if err := r.store.ClaimRequest(ctx, &b); err != nil {
		return models.Booking{}, err
	}
	return b, nil
}

// Start moves an accepted booking to ongoing. Only the assigned driver
// may start; Finish remains legal straight from accepted, so callers
// that never start a ride still complete normally.
func (r *Registry) Start(ctx context.Context, driverID, bookingID string) (models.Booking, error) {
	return r.transition(ctx, bookingID, func(b *models.Booking) error {
		if b.DriverID != driverID {
			return faults.New(faults.Forbidden, "only the assigned driver may start booking %s", b.ID)
		}
		if b.Status != models.BookingAccepted {
			return faults.New(faults.Conflict, "booking %s is %s, cannot start", b.ID, b.Status)
		}
		now := r.now()
		b.Status = models.BookingOngoing
		b.StartedAt = &now
		return nil
	}, models.RequestMatched)
}

// Finish completes a booking from accepted or ongoing.
func (r *Registry) Finish(ctx context.Context, driverID, bookingID string) (models.Booking, error) {
	return r.transition(ctx, bookingID, func(b *models.Booking) error {
		if b.DriverID != driverID {
			return faults.New(faults.Forbidden, "only the assigned driver may finish booking %s", b.ID)
		}
		if b.Status.Terminal() {
			return faults.New(faults.Conflict, "booking %s is already %s", b.ID, b.Status)
		}
		now := r.now()
		b.Status = models.BookingCompleted
		b.CompletedAt = &now
		return nil
	}, models.RequestCompleted)
}

// Cancel abandons a ride by request or booking id. The owning customer or
// the assigned driver may cancel, from requested or accepted only; an
// ongoing ride cannot be cancelled.
func (r *Registry) Cancel(ctx context.Context, actor models.Actor, id string) (models.RideRequest, error) {
	// resolve a booking id to its request so locking is per ride request;
	// only a definite not-found falls through to the request lookup
	requestID := id
	if b, err := r.store.GetBooking(ctx, id); err == nil {
		requestID = b.RideRequestID
	} else if !faults.IsNotFound(err) {
		return models.RideRequest{}, faults.Wrap(faults.Transient, err, "resolve booking %s", id)
	}

	unlock := r.locks.lock(requestID)
	defer unlock()

	req, err := r.store.GetRequest(ctx, requestID)
	if err != nil {
		return models.RideRequest{}, err
	}
	if req.Status == models.RequestCancelled || req.Status == models.RequestCompleted {
		return models.RideRequest{}, faults.New(faults.Conflict, "ride request %s is already %s", req.ID, req.Status)
	}

	if req.BookingID == "" {
		if actor.ID != req.CustomerID {
			return models.RideRequest{}, faults.New(faults.Forbidden, "not a participant of ride request %s", req.ID)
		}
	} else {
		b, err := r.store.GetBooking(ctx, req.BookingID)
		if err != nil {
			return models.RideRequest{}, err
		}
		if actor.ID != b.CustomerID && actor.ID != b.DriverID {
			return models.RideRequest{}, faults.New(faults.Forbidden, "not a participant of booking %s", b.ID)
		}
		if b.Status != models.BookingAccepted {
			return models.RideRequest{}, faults.New(faults.Conflict, "booking %s is %s, cannot cancel", b.ID, b.Status)
		}
		now := r.now()
		b.Status = models.BookingCancelled
		b.CancelledAt = &now
		if err := r.store.UpdateBooking(ctx, &b); err != nil {
			return models.RideRequest{}, faults.Wrap(faults.Transient, err, "cancel booking")
		}
	}

	if err := r.store.SetRequestStatus(ctx, req.ID, models.RequestCancelled); err != nil {
		return models.RideRequest{}, faults.Wrap(faults.Transient, err, "cancel ride request")
	}
	req.Status = models.RequestCancelled
	return req, nil
}

// GetBooking returns a booking by id.
func (r *Registry) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	return r.store.GetBooking(ctx, id)
}

// MarkReviewed flips the review-given flag after the ledger records a review.
func (r *Registry) MarkReviewed(ctx context.Context, bookingID string) error {
	unlock := r.locks.lock(bookingID)
	defer unlock()
	b, err := r.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	b.ReviewGiven = true
	return r.store.UpdateBooking(ctx, &b)
}

// ListBookings returns the actor's bookings, newest first.
func (r *Registry) ListBookings(ctx context.Context, actor models.Actor) ([]models.Booking, error) {
	if actor.Role == models.RoleDriver {
		return r.store.BookingsByDriver(ctx, actor.ID)
	}
	return r.store.BookingsByCustomer(ctx, actor.ID)
}

// OpenRequests returns requests still waiting for a driver, newest first.
func (r *Registry) OpenRequests(ctx context.Context) ([]models.RideRequest, error) {
	return r.store.OpenRequests(ctx)
}

func (r *Registry) transition(ctx context.Context, bookingID string, apply func(*models.Booking) error, reqStatus models.RequestStatus) (models.Booking, error) {
	b, err := r.store.GetBooking(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}

	unlock := r.locks.lock(b.RideRequestID)
	defer unlock()

	// re-read under the lock; a concurrent transition may have won
	b, err = r.store.GetBooking(ctx, bookingID)
	if err != nil {
		return models.Booking{}, err
	}
	if err := apply(&b); err != nil {
		return models.Booking{}, err
	}
	if err := r.store.UpdateBooking(ctx, &b); err != nil {
		return models.Booking{}, faults.Wrap(faults.Transient, err, "update booking")
	}
	if err := r.store.SetRequestStatus(ctx, b.RideRequestID, reqStatus); err != nil {
		return models.Booking{}, faults.Wrap(faults.Transient, err, "update ride request")
	}
	return b, nil
}

// lockTable serializes mutations per ride request with striped mutexes.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (t *lockTable) lock(key string) (unlock func()) {
	t.mu.Lock()
	if t.locks == nil {
		t.locks = make(map[string]*sync.Mutex)
	}
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	t.mu.Unlock()
	l.Lock()
	return l.Unlock
}
