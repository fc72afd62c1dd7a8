package reviews

import (
	"context"
	"testing"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

type fakeBookings struct {
	bookings map[string]models.Booking
}

func (f *fakeBookings) GetBooking(_ context.Context, id string) (models.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return models.Booking{}, faults.New(faults.NotFound, "booking %s not found", id)
	}
	return b, nil
}

func newTestLedger(status models.BookingStatus) *Ledger {
	return New(NewMemoryStore(), &fakeBookings{bookings: map[string]models.Booking{
		"b1": {ID: "b1", CustomerID: "c1", DriverID: "d1", Status: status},
	}})
}

func TestSubmitHappyPath(t *testing.T) {
	l := newTestLedger(models.BookingCompleted)
	rv, err := l.Submit(context.Background(), "c1", "b1", 5, "great ride")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if rv.DriverID != "d1" || rv.CustomerID != "c1" || rv.Rating != 5 {
		t.Fatalf("review fields wrong: %+v", rv)
	}
}

func TestSubmitRatingOutOfRange(t *testing.T) {
	l := newTestLedger(models.BookingCompleted)
	for _, rating := range []int{0, 6, -1} {
		if _, err := l.Submit(context.Background(), "c1", "b1", rating, ""); !faults.IsValidation(err) {
			t.Fatalf("rating %d: expected validation error, got %v", rating, err)
		}
	}
}

func TestSubmitByNonCustomerForbidden(t *testing.T) {
	l := newTestLedger(models.BookingCompleted)
	if _, err := l.Submit(context.Background(), "d1", "b1", 5, ""); !faults.IsForbidden(err) {
		t.Fatalf("expected forbidden for driver, got %v", err)
	}
}

func TestSubmitBeforeCompletionConflicts(t *testing.T) {
	for _, status := range []models.BookingStatus{models.BookingAccepted, models.BookingOngoing, models.BookingCancelled} {
		l := newTestLedger(status)
		if _, err := l.Submit(context.Background(), "c1", "b1", 4, ""); !faults.IsConflict(err) {
			t.Fatalf("status %s: expected conflict, got %v", status, err)
		}
	}
}

func TestSubmitTwiceConflicts(t *testing.T) {
	l := newTestLedger(models.BookingCompleted)
	if _, err := l.Submit(context.Background(), "c1", "b1", 5, ""); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := l.Submit(context.Background(), "c1", "b1", 4, ""); !faults.IsConflict(err) {
		t.Fatalf("expected conflict on second review, got %v", err)
	}
}

func TestDriverRatingAverage(t *testing.T) {
	store := NewMemoryStore()
	bookings := map[string]models.Booking{}
	for i, id := range []string{"b1", "b2", "b3"} {
		bookings[id] = models.Booking{ID: id, CustomerID: "c1", DriverID: "d1", Status: models.BookingCompleted}
		_ = i
	}
	l := New(store, &fakeBookings{bookings: bookings})

	for i, rating := range []int{5, 4, 3} {
		bid := []string{"b1", "b2", "b3"}[i]
		if _, err := l.Submit(context.Background(), "c1", bid, rating, ""); err != nil {
			t.Fatalf("submit %s: %v", bid, err)
		}
	}

	got, err := l.DriverRating(context.Background(), "d1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Rated || got.Average != 4.00 || got.Count != 3 {
		t.Fatalf("expected 4.00 over 3 reviews, got %+v", got)
	}
}

func TestDriverRatingUnrated(t *testing.T) {
	l := newTestLedger(models.BookingCompleted)
	got, err := l.DriverRating(context.Background(), "nobody")
	if err != nil {
		t.Fatal(err)
	}
	if got.Rated || got.Count != 0 {
		t.Fatalf("expected unrated, got %+v", got)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	store := NewMemoryStore()
	bookings := map[string]models.Booking{
		"b1": {ID: "b1", CustomerID: "c1", DriverID: "high", Status: models.BookingCompleted},
		"b2": {ID: "b2", CustomerID: "c1", DriverID: "low", Status: models.BookingCompleted},
		"b3": {ID: "b3", CustomerID: "c2", DriverID: "high", Status: models.BookingCompleted},
	}
	l := New(store, &fakeBookings{bookings: bookings})
	mustSubmit := func(cust, bid string, rating int) {
		t.Helper()
		if _, err := l.Submit(context.Background(), cust, bid, rating, ""); err != nil {
			t.Fatal(err)
		}
	}
	mustSubmit("c1", "b1", 5)
	mustSubmit("c2", "b3", 5)
	mustSubmit("c1", "b2", 2)

	entries, err := l.Leaderboard(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Rating.DriverID != "high" || entries[1].Rating.DriverID != "low" {
		t.Fatalf("leaderboard order wrong: %+v", entries)
	}
	if entries[0].Rating.Average != 5.00 || entries[0].Rating.Count != 2 {
		t.Fatalf("top entry aggregate wrong: %+v", entries[0].Rating)
	}
}
