package registry

import (
	"context"
	"sort"
	"sync"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

// Store defines persistence operations for ride requests and bookings.
// ClaimRequest is the one atomic primitive: it moves a request from
// requested to matched and writes the booking as a single unit, exactly
// once. That makes concurrent accepts single-winner across processes and
// guarantees a failure never leaves the request pointing at a booking
// that was not written.
type Store interface {
	CreateRequest(ctx context.Context, r *models.RideRequest) error
	GetRequest(ctx context.Context, id string) (models.RideRequest, error)
	ClaimRequest(ctx context.Context, b *models.Booking) error
	SetRequestStatus(ctx context.Context, requestID string, status models.RequestStatus) error
	OpenRequests(ctx context.Context) ([]models.RideRequest, error)

	GetBooking(ctx context.Context, id string) (models.Booking, error)
	UpdateBooking(ctx context.Context, b *models.Booking) error
	BookingsByCustomer(ctx context.Context, customerID string) ([]models.Booking, error)
	BookingsByDriver(ctx context.Context, driverID string) ([]models.Booking, error)
	DriverHasActiveBooking(ctx context.Context, driverID string) (bool, error)
}

type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]models.RideRequest
	bookings map[string]models.Booking
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]models.RideRequest),
		bookings: make(map[string]models.Booking),
	}
}

func (m *MemoryStore) CreateRequest(_ context.Context, r *models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = *r
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return models.RideRequest{}, faults.New(faults.NotFound, "ride request %s not found", id)
	}
	return r, nil
}

func (m *MemoryStore) ClaimRequest(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[b.RideRequestID]
	if !ok {
		return faults.New(faults.NotFound, "ride request %s not found", b.RideRequestID)
	}
	if r.Status != models.RequestRequested {
		return faults.New(faults.Conflict, "ride request %s is %s", b.RideRequestID, r.Status)
	}
	r.Status = models.RequestMatched
	r.BookingID = b.ID
	m.requests[b.RideRequestID] = r
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemoryStore) SetRequestStatus(_ context.Context, requestID string, status models.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[requestID]
	if !ok {
		return faults.New(faults.NotFound, "ride request %s not found", requestID)
	}
	r.Status = status
	m.requests[requestID] = r
	return nil
}

func (m *MemoryStore) OpenRequests(_ context.Context) ([]models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.RideRequest, 0)
	for _, r := range m.requests {
		if r.Status == models.RequestRequested {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) GetBooking(_ context.Context, id string) (models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bookings[id]
	if !ok {
		return models.Booking{}, faults.New(faults.NotFound, "booking %s not found", id)
	}
	return b, nil
}

func (m *MemoryStore) UpdateBooking(_ context.Context, b *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bookings[b.ID]; !ok {
		return faults.New(faults.NotFound, "booking %s not found", b.ID)
	}
	m.bookings[b.ID] = *b
	return nil
}

func (m *MemoryStore) BookingsByCustomer(_ context.Context, customerID string) ([]models.Booking, error) {
	return m.bookingsWhere(func(b models.Booking) bool { return b.CustomerID == customerID })
}

func (m *MemoryStore) BookingsByDriver(_ context.Context, driverID string) ([]models.Booking, error) {
	return m.bookingsWhere(func(b models.Booking) bool { return b.DriverID == driverID })
}

func (m *MemoryStore) DriverHasActiveBooking(_ context.Context, driverID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.bookings {
		if b.DriverID == driverID && !b.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) bookingsWhere(keep func(models.Booking) bool) ([]models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Booking, 0)
	for _, b := range m.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcceptedAt.After(out[j].AcceptedAt) })
	return out, nil
}
