// Package reviews is the rating ledger: one review per completed booking,
// aggregated into per-driver averages.
package reviews

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

type Store interface {
	Create(ctx context.Context, rv *models.Review) error
	ByBooking(ctx context.Context, bookingID string) (models.Review, bool, error)
	ByDriver(ctx context.Context, driverID string) ([]models.Review, error)
	Drivers(ctx context.Context) ([]string, error)
}

type BookingReader interface {
	GetBooking(ctx context.Context, id string) (models.Booking, error)
}

type Ledger struct {
	store    Store
	bookings BookingReader
	now      func() time.Time

	// one submit at a time per booking; the uniqueness check and insert
	// must not interleave
	mu sync.Mutex
}

func New(store Store, bookings BookingReader) *Ledger {
	return &Ledger{store: store, bookings: bookings, now: time.Now}
}

// Submit records a review for a completed booking. The caller must be the
// booking's customer, the rating must be 1..5, and the booking must not
// already have a review.
func (l *Ledger) Submit(ctx context.Context, customerID, bookingID string, rating int, feedback string) (models.Review, error) {
	if rating < 1 || rating > 5 {
		return models.Review{}, faults.New(faults.Validation, "rating must be between 1 and 5")
	}
	b, err := l.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return models.Review{}, err
	}
	if customerID != b.CustomerID {
		return models.Review{}, faults.New(faults.Forbidden, "only the booking's customer may review it")
	}
	if b.Status != models.BookingCompleted {
		return models.Review{}, faults.New(faults.Conflict, "booking %s is %s, not completed", bookingID, b.Status)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists, err := l.store.ByBooking(ctx, bookingID); err != nil {
		return models.Review{}, faults.Wrap(faults.Transient, err, "check existing review")
	} else if exists {
		return models.Review{}, faults.New(faults.Conflict, "booking %s already has a review", bookingID)
	}

	rv := models.Review{
		BookingID:  bookingID,
		CustomerID: b.CustomerID,
		DriverID:   b.DriverID,
		Rating:     rating,
		Feedback:   feedback,
		CreatedAt:  l.now(),
	}
	if err := l.store.Create(ctx, &rv); err != nil {
		return models.Review{}, faults.Wrap(faults.Transient, err, "record review")
	}
	return rv, nil
}

// DriverRating averages all reviews for a driver to two decimals. A driver
// with no reviews is unrated, not zero-rated.
func (l *Ledger) DriverRating(ctx context.Context, driverID string) (models.DriverRating, error) {
	rvs, err := l.store.ByDriver(ctx, driverID)
	if err != nil {
		return models.DriverRating{}, faults.Wrap(faults.Transient, err, "load reviews")
	}
	return aggregate(driverID, rvs), nil
}

// LeaderboardEntry ranks drivers by average rating, then review count.
type LeaderboardEntry struct {
	Rating models.DriverRating `json:"rating"`
}

func (l *Ledger) Leaderboard(ctx context.Context, topN int) ([]LeaderboardEntry, error) {
	ids, err := l.store.Drivers(ctx)
	if err != nil {
		return nil, faults.Wrap(faults.Transient, err, "load drivers")
	}
	entries := make([]LeaderboardEntry, 0, len(ids))
	for _, id := range ids {
		rvs, err := l.store.ByDriver(ctx, id)
		if err != nil {
			return nil, faults.Wrap(faults.Transient, err, "load reviews")
		}
		entries = append(entries, LeaderboardEntry{Rating: aggregate(id, rvs)})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i].Rating, entries[j].Rating
		if a.Average != b.Average {
			return a.Average > b.Average
		}
		return a.Count > b.Count
	})
	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}
	return entries, nil
}

func aggregate(driverID string, rvs []models.Review) models.DriverRating {
	if len(rvs) == 0 {
		return models.DriverRating{DriverID: driverID}
	}
	var sum int
	for _, rv := range rvs {
		sum += rv.Rating
	}
	avg := float64(sum) / float64(len(rvs))
	return models.DriverRating{
		DriverID: driverID,
		Average:  math.Round(avg*100) / 100,
		Count:    len(rvs),
		Rated:    true,
	}
}

type MemoryStore struct {
	mu        sync.RWMutex
	byBooking map[string]models.Review
	byDriver  map[string][]models.Review
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byBooking: make(map[string]models.Review),
		byDriver:  make(map[string][]models.Review),
	}
}

func (m *MemoryStore) Create(_ context.Context, rv *models.Review) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byBooking[rv.BookingID]; ok {
		return faults.New(faults.Conflict, "booking %s already has a review", rv.BookingID)
	}
	m.byBooking[rv.BookingID] = *rv
	m.byDriver[rv.DriverID] = append(m.byDriver[rv.DriverID], *rv)
	return nil
}

func (m *MemoryStore) ByBooking(_ context.Context, bookingID string) (models.Review, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rv, ok := m.byBooking[bookingID]
	return rv, ok, nil
}

func (m *MemoryStore) ByDriver(_ context.Context, driverID string) ([]models.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Review, len(m.byDriver[driverID]))
	copy(out, m.byDriver[driverID])
	return out, nil
}

func (m *MemoryStore) Drivers(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.byDriver))
	for id := range m.byDriver {
		out = append(out, id)
	}
	return out, nil
}
