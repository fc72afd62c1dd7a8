package reviews

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, rv *models.Review) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO driver_reviews(booking_id, customer_id, driver_id, rating, feedback, created_at)
		 VALUES($1,$2,$3,$4,$5,$6)`,
		rv.BookingID, rv.CustomerID, rv.DriverID, rv.Rating, rv.Feedback, rv.CreatedAt)
	return err
}

func (p *PostgresStore) ByBooking(ctx context.Context, bookingID string) (models.Review, bool, error) {
	var rv models.Review
	err := p.db.QueryRowContext(ctx,
		`SELECT booking_id, customer_id, driver_id, rating, feedback, created_at
		 FROM driver_reviews WHERE booking_id=$1`, bookingID).
		Scan(&rv.BookingID, &rv.CustomerID, &rv.DriverID, &rv.Rating, &rv.Feedback, &rv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Review{}, false, nil
	}
	if err != nil {
		return models.Review{}, false, err
	}
	return rv, true, nil
}

func (p *PostgresStore) ByDriver(ctx context.Context, driverID string) ([]models.Review, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT booking_id, customer_id, driver_id, rating, feedback, created_at
		 FROM driver_reviews WHERE driver_id=$1 ORDER BY created_at DESC`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Review
	for rows.Next() {
		var rv models.Review
		if err := rows.Scan(&rv.BookingID, &rv.CustomerID, &rv.DriverID, &rv.Rating, &rv.Feedback, &rv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Drivers(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT DISTINCT driver_id FROM driver_reviews`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
