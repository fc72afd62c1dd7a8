package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

// flakyStore injects transient failures into selected operations.
type flakyStore struct {
	Store
	claimFailures   int
	bookingFailures int
}

func (s *flakyStore) ClaimRequest(ctx context.Context, b *models.Booking) error {
	if s.claimFailures > 0 {
		s.claimFailures--
		return errors.New("store unavailable")
	}
	return s.Store.ClaimRequest(ctx, b)
}

func (s *flakyStore) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	if s.bookingFailures > 0 {
		s.bookingFailures--
		return models.Booking{}, errors.New("store unavailable")
	}
	return s.Store.GetBooking(ctx, id)
}

func newTestRegistry() *Registry {
	return New(NewMemoryStore())
}

func createRequest(t *testing.T, r *Registry, customer string) models.RideRequest {
	t.Helper()
	req, err := r.CreateRequest(context.Background(), customer,
		models.Place{Name: "A"}, models.Place{Name: "B"}, "Sedan")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return req
}

func TestCreateRequestValidation(t *testing.T) {
	r := newTestRegistry()
	_, err := r.CreateRequest(context.Background(), "c1", models.Place{Name: "  "}, models.Place{Name: "B"}, "Sedan")
	if !faults.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAcceptCreatesAcceptedBooking(t *testing.T) {
	r := newTestRegistry()
	req := createRequest(t, r, "c1")

	b, err := r.Accept(context.Background(), "d1", req.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if b.Status != models.BookingAccepted {
		t.Fatalf("expected accepted, got %s", b.Status)
	}
	if b.RideRequestID != req.ID || b.CustomerID != "c1" || b.DriverID != "d1" {
		t.Fatalf("booking links wrong: %+v", b)
	}
}

func TestAcceptUnknownRequestNotFound(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Accept(context.Background(), "d1", "missing"); !faults.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAcceptCancelledRequestNotFound(t *testing.T) {
	r := newTestRegistry()
	req := createRequest(t, r, "c1")
	if _, err := r.Cancel(context.Background(), models.Actor{ID: "c1", Role: models.RoleCustomer}, req.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := r.Accept(context.Background(), "d1", req.ID); !faults.IsNotFound(err) {
		t.Fatalf("expected not found after cancel, got %v", err)
	}
}

func TestAcceptTwiceConflicts(t *testing.T) {
	r := newTestRegistry()
	req := createRequest(t, r, "c1")
	if _, err := r.Accept(context.Background(), "d1", req.ID); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if _, err := r.Accept(context.Background(), "d2", req.ID); !faults.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	r := newTestRegistry()
	r.AllowMultipleActive = true // isolate the per-request race
	req := createRequest(t, r, "c1")

	const attempts = 10
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Accept(context.Background(), "d1", req.ID)
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case faults.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != attempts-1 {
		t.Fatalf("expected 1 winner and %d conflicts, got %d/%d", attempts-1, wins, conflicts)
	}
}

func TestAcceptStoreFailureLeavesRequestRetryable(t *testing.T) {
	r := New(&flakyStore{Store: NewMemoryStore(), claimFailures: 1})
	req := createRequest(t, r, "c1")

	if _, err := r.Accept(context.Background(), "d1", req.ID); err == nil {
		t.Fatal("expected the injected failure to surface")
	}

	// nothing was claimed, so a retry wins cleanly
	b, err := r.Accept(context.Background(), "d1", req.ID)
	if err != nil {
		t.Fatalf("retry after transient failure: %v", err)
	}
	if b.Status != models.BookingAccepted {
		t.Fatalf("expected accepted booking, got %+v", b)
	}
	got, err := r.store.GetRequest(context.Background(), req.ID)
	if err != nil || got.Status != models.RequestMatched || got.BookingID != b.ID {
		t.Fatalf("request not linked to the winning booking: %v %+v", err, got)
	}
}

func TestAcceptStoreFailureKeepsRequestCancellable(t *testing.T) {
	r := New(&flakyStore{Store: NewMemoryStore(), claimFailures: 1})
	req := createRequest(t, r, "c1")

	if _, err := r.Accept(context.Background(), "d1", req.ID); err == nil {
		t.Fatal("expected the injected failure to surface")
	}

	got, err := r.Cancel(context.Background(), models.Actor{ID: "c1", Role: models.RoleCustomer}, req.ID)
	if err != nil {
		t.Fatalf("cancel after failed accept: %v", err)
	}
	if got.Status != models.RequestCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
}

func TestCancelStoreErrorIsNotMaskedAsNotFound(t *testing.T) {
	r := New(&flakyStore{Store: NewMemoryStore(), bookingFailures: 1})
	req := createRequest(t, r, "c1")

	_, err := r.Cancel(context.Background(), models.Actor{ID: "c1", Role: models.RoleCustomer}, req.ID)
	if faults.IsNotFound(err) {
		t.Fatalf("transient store failure reported as not found: %v", err)
	}
	if !faults.IsTransient(err) {
		t.Fatalf("expected transient, got %v", err)
	}

	// the request is untouched; cancelling works once the store recovers
	got, err := r.Cancel(context.Background(), models.Actor{ID: "c1", Role: models.RoleCustomer}, req.ID)
	if err != nil || got.Status != models.RequestCancelled {
		t.Fatalf("cancel after recovery: %v %+v", err, got)
	}
}

func TestDriverWithActiveBookingCannotAcceptAnother(t *testing.T) {
	r := newTestRegistry()
	first := createRequest(t, r, "c1")
	second := createRequest(t, r, "c2")

	if _, err := r.Accept(context.Background(), "d1", first.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := r.Accept(context.Background(), "d1", second.ID); !faults.IsConflict(err) {
		t.Fatalf("expected conflict for busy driver, got %v", err)
	}

	// other drivers are unaffected
	if _, err := r.Accept(context.Background(), "d2", second.ID); err != nil {
		t.Fatalf("accept by idle driver: %v", err)
	}
}

func TestDriverPolicyConfigurable(t *testing.T) {
	r := newTestRegistry()
	r.AllowMultipleActive = true
	first := createRequest(t, r, "c1")
	second := createRequest(t, r, "c2")

	if _, err := r.Accept(context.Background(), "d1", first.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := r.Accept(context.Background(), "d1", second.ID); err != nil {
		t.Fatalf("expected policy to allow second booking, got %v", err)
	}
}

func TestStartThenFinish(t *testing.T) {
	r := newTestRegistry()
	req := createRequest(t, r, "c1")
	b, _ := r.Accept(context.Background(), "d1", req.ID)

	b, err := r.Start(context.Background(), "d1", b.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if b.Status != models.BookingOngoing || b.StartedAt == nil {
		t.Fatalf("expected ongoing with timestamp, got %+v", b)
	}

	b, err = r.Finish(context.Background(), "d1", b.ID)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if b.Status != models.BookingCompleted || b.CompletedAt == nil {
		t.Fatalf("expected completed with timestamp, got %+v", b)
	}
}

func TestFinishStraightFromAccepted(t *testing.T) {
	r := newTestRegistry()
	req := createRequest(t, r, "c1")
	b, _ := r.Accept(context.Background(), "d1", req.ID)

	b, err := r.Finish(context.Background(), "d1", b.ID)
	if err != nil {
		t.Fatalf("finish from accepted: %v", err)
	}
	if b.Status != models.BookingCompleted {
		t.Fatalf("expected completed, got %s", b.Status)
	}
}

func TestFinishByWrongDriverForbidden(t *testing.T) {
	r := newTestRegistry()
	req := createRequest(t, r, "c1")
	b, _ := r.Accept(context.Background(), "d1", req.ID)

	if _, err := r.Finish(context.Background(), "d2", b.ID); !faults.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestFinishTwiceConflicts(t *testing.T) {
	r := newTestRegistry()
	req := createRequest(t, r, "c1")
	b, _ := r.Accept(context.Background(), "d1", req.ID)
	if _, err := r.Finish(context.Background(), "d1", b.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if _, err := r.Finish(context.Background(), "d1", b.ID); !faults.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCancelOngoingConflicts(t *testing.T) {
	r := newTestRegistry()
	req := createRequest(t, r, "c1")
	b, _ := r.Accept(context.Background(), "d1", req.ID)
	if _, err := r.Start(context.Background(), "d1", b.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := r.Cancel(context.Background(), models.Actor{ID: "c1", Role: models.RoleCustomer}, b.ID)
	if !faults.IsConflict(err) {
		t.Fatalf("expected conflict cancelling ongoing, got %v", err)
	}
}

func TestCancelCompletedUnreachable(t *testing.T) {
	r := newTestRegistry()
	req := createRequest(t, r, "c1")
	b, _ := r.Accept(context.Background(), "d1", req.ID)
	if _, err := r.Finish(context.Background(), "d1", b.ID); err != nil {
		t.Fatalf("finish: %v", err)
	}
	_, err := r.Cancel(context.Background(), models.Actor{ID: "c1", Role: models.RoleCustomer}, b.ID)
	if !faults.IsConflict(err) {
		t.Fatalf("expected conflict cancelling completed, got %v", err)
	}
}

func TestCancelAcceptedByCustomerAndDriver(t *testing.T) {
	for _, actor := range []models.Actor{
		{ID: "c1", Role: models.RoleCustomer},
		{ID: "d1", Role: models.RoleDriver},
	} {
		r := newTestRegistry()
		req := createRequest(t, r, "c1")
		b, _ := r.Accept(context.Background(), "d1", req.ID)

		got, err := r.Cancel(context.Background(), actor, b.ID)
		if err != nil {
			t.Fatalf("cancel by %s: %v", actor.Role, err)
		}
		if got.Status != models.RequestCancelled {
			t.Fatalf("expected cancelled request, got %s", got.Status)
		}
		cb, _ := r.GetBooking(context.Background(), b.ID)
		if cb.Status != models.BookingCancelled || cb.CancelledAt == nil {
			t.Fatalf("expected cancelled booking, got %+v", cb)
		}
	}
}

func TestCancelByStrangerForbidden(t *testing.T) {
	r := newTestRegistry()
	req := createRequest(t, r, "c1")
	if _, err := r.Cancel(context.Background(), models.Actor{ID: "someone", Role: models.RoleCustomer}, req.ID); !faults.IsForbidden(err) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestOpenRequestsExcludesMatchedAndCancelled(t *testing.T) {
	r := newTestRegistry()
	open := createRequest(t, r, "c1")
	matched := createRequest(t, r, "c2")
	cancelled := createRequest(t, r, "c3")

	if _, err := r.Accept(context.Background(), "d1", matched.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := r.Cancel(context.Background(), models.Actor{ID: "c3", Role: models.RoleCustomer}, cancelled.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got, err := r.OpenRequests(context.Background())
	if err != nil {
		t.Fatalf("open requests: %v", err)
	}
	if len(got) != 1 || got[0].ID != open.ID {
		t.Fatalf("expected only the open request, got %+v", got)
	}
}

func TestListBookingsByRole(t *testing.T) {
	r := newTestRegistry()
	req := createRequest(t, r, "c1")
	b, _ := r.Accept(context.Background(), "d1", req.ID)

	forCustomer, err := r.ListBookings(context.Background(), models.Actor{ID: "c1", Role: models.RoleCustomer})
	if err != nil || len(forCustomer) != 1 || forCustomer[0].ID != b.ID {
		t.Fatalf("customer listing wrong: %v %+v", err, forCustomer)
	}
	forDriver, err := r.ListBookings(context.Background(), models.Actor{ID: "d1", Role: models.RoleDriver})
	if err != nil || len(forDriver) != 1 || forDriver[0].ID != b.ID {
		t.Fatalf("driver listing wrong: %v %+v", err, forDriver)
	}
	forOther, err := r.ListBookings(context.Background(), models.Actor{ID: "d2", Role: models.RoleDriver})
	if err != nil || len(forOther) != 0 {
		t.Fatalf("stranger listing wrong: %v %+v", err, forOther)
	}
}
