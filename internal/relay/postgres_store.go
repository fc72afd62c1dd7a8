package relay

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append assigns the next Seq with a single INSERT ... SELECT MAX+1.
// The UNIQUE(booking_id, seq) constraint turns a concurrent-sender race
// into a retryable unique violation, so sequences stay dense.
func (p *PostgresStore) Append(ctx context.Context, bookingID, senderID, body string, at time.Time) (models.Message, error) {
	const attempts = 5
	var lastErr error
	for i := 0; i < attempts; i++ {
		var seq int64
		err := p.db.QueryRowContext(ctx,
			`INSERT INTO booking_messages(booking_id, seq, sender_id, body, sent_at)
			 SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4 FROM booking_messages WHERE booking_id=$1
			 RETURNING seq`,
			bookingID, senderID, body, at).Scan(&seq)
		if err == nil {
			return models.Message{BookingID: bookingID, Seq: seq, SenderID: senderID, Body: body, SentAt: at}, nil
		}
		lastErr = err
		var pqErr *pq.Error
		if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
			break
		}
	}
	return models.Message{}, lastErr
}

func (p *PostgresStore) List(ctx context.Context, bookingID string, afterSeq int64) ([]models.Message, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT booking_id, seq, sender_id, body, sent_at FROM booking_messages
		 WHERE booking_id=$1 AND seq > $2 ORDER BY seq ASC`, bookingID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.BookingID, &m.Seq, &m.SenderID, &m.Body, &m.SentAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
