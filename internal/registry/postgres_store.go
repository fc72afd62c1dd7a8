package registry

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateRequest(ctx context.Context, r *models.RideRequest) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ride_requests(id, customer_id, pickup_name, pickup_lat, pickup_lng, dropoff_name, dropoff_lat, dropoff_lng, vehicle, status, created_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		r.ID, r.CustomerID, r.Pickup.Name, r.Pickup.Lat, r.Pickup.Lng,
		r.Dropoff.Name, r.Dropoff.Lat, r.Dropoff.Lng, r.Vehicle, r.Status, r.CreatedAt)
	return err
}

func (p *PostgresStore) GetRequest(ctx context.Context, id string) (models.RideRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, customer_id, pickup_name, pickup_lat, pickup_lng, dropoff_name, dropoff_lat, dropoff_lng, vehicle, status, COALESCE(booking_id, ''), created_at
		 FROM ride_requests WHERE id=$1`, id)
	return scanRequest(row, id)
}

// ClaimRequest is a compare-and-set on status: the UPDATE only applies while
// the request is still 'requested', so concurrent accepts across processes
// yield exactly one winner. Claim and booking insert share one transaction;
// if the insert fails the claim rolls back and the request stays open.
func (p *PostgresStore) ClaimRequest(ctx context.Context, b *models.Booking) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE ride_requests SET status=$1, booking_id=$2 WHERE id=$3 AND status=$4`,
		models.RequestMatched, b.ID, b.RideRequestID, models.RequestRequested)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := p.GetRequest(ctx, b.RideRequestID); err != nil {
			return err
		}
		return faults.New(faults.Conflict, "ride request %s already has a booking", b.RideRequestID)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bookings(id, ride_request_id, customer_id, driver_id, status, accepted_at, review_given)
		 VALUES($1,$2,$3,$4,$5,$6,$7)`,
		b.ID, b.RideRequestID, b.CustomerID, b.DriverID, b.Status, b.AcceptedAt, b.ReviewGiven); err != nil {
		return err
	}
	return tx.Commit()
}

func (p *PostgresStore) SetRequestStatus(ctx context.Context, requestID string, status models.RequestStatus) error {
	_, err := p.db.ExecContext(ctx, `UPDATE ride_requests SET status=$1 WHERE id=$2`, status, requestID)
	return err
}

func (p *PostgresStore) OpenRequests(ctx context.Context) ([]models.RideRequest, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, customer_id, pickup_name, pickup_lat, pickup_lng, dropoff_name, dropoff_lat, dropoff_lng, vehicle, status, COALESCE(booking_id, ''), created_at
		 FROM ride_requests WHERE status=$1 ORDER BY created_at DESC`, models.RequestRequested)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RideRequest
	for rows.Next() {
		r, err := scanRequest(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetBooking(ctx context.Context, id string) (models.Booking, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, ride_request_id, customer_id, driver_id, status, accepted_at, started_at, completed_at, cancelled_at, review_given
		 FROM bookings WHERE id=$1`, id)
	return scanBooking(row, id)
}

func (p *PostgresStore) UpdateBooking(ctx context.Context, b *models.Booking) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE bookings SET status=$1, started_at=$2, completed_at=$3, cancelled_at=$4, review_given=$5 WHERE id=$6`,
		b.Status, b.StartedAt, b.CompletedAt, b.CancelledAt, b.ReviewGiven, b.ID)
	return err
}

func (p *PostgresStore) BookingsByCustomer(ctx context.Context, customerID string) ([]models.Booking, error) {
	return p.bookingsWhere(ctx, `customer_id=$1`, customerID)
}

func (p *PostgresStore) BookingsByDriver(ctx context.Context, driverID string) ([]models.Booking, error) {
	return p.bookingsWhere(ctx, `driver_id=$1`, driverID)
}

func (p *PostgresStore) DriverHasActiveBooking(ctx context.Context, driverID string) (bool, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM bookings WHERE driver_id=$1 AND status NOT IN ($2,$3)`,
		driverID, models.BookingCompleted, models.BookingCancelled).Scan(&n)
	return n > 0, err
}

func (p *PostgresStore) bookingsWhere(ctx context.Context, where string, arg any) ([]models.Booking, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, ride_request_id, customer_id, driver_id, status, accepted_at, started_at, completed_at, cancelled_at, review_given
		 FROM bookings WHERE `+where+` ORDER BY accepted_at DESC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Booking
	for rows.Next() {
		b, err := scanBooking(rows, "")
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner, id string) (models.RideRequest, error) {
	var r models.RideRequest
	err := row.Scan(&r.ID, &r.CustomerID, &r.Pickup.Name, &r.Pickup.Lat, &r.Pickup.Lng,
		&r.Dropoff.Name, &r.Dropoff.Lat, &r.Dropoff.Lng, &r.Vehicle, &r.Status, &r.BookingID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RideRequest{}, faults.New(faults.NotFound, "ride request %s not found", id)
	}
	return r, err
}

func scanBooking(row rowScanner, id string) (models.Booking, error) {
	var b models.Booking
	err := row.Scan(&b.ID, &b.RideRequestID, &b.CustomerID, &b.DriverID, &b.Status,
		&b.AcceptedAt, &b.StartedAt, &b.CompletedAt, &b.CancelledAt, &b.ReviewGiven)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Booking{}, faults.New(faults.NotFound, "booking %s not found", id)
	}
	return b, err
}
