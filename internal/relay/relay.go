// Package relay is the per-booking chat log: append-only, with strictly
// increasing gap-free sequence numbers, served to polling or streaming
// consumers with at-least-once semantics (idempotent by Seq).
package relay

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
)

// Store persists booking message logs. Append must assign the next Seq
// atomically per booking.
type Store interface {
	Append(ctx context.Context, bookingID, senderID, body string, at time.Time) (models.Message, error)
	List(ctx context.Context, bookingID string, afterSeq int64) ([]models.Message, error)
}

// BookingReader is the slice of the registry the relay needs to authorize
// senders and reject cancelled bookings.
type BookingReader interface {
	GetBooking(ctx context.Context, id string) (models.Booking, error)
}

type Relay struct {
	store    Store
	bookings BookingReader
	now      func() time.Time
}

func New(store Store, bookings BookingReader) *Relay {
	return &Relay{store: store, bookings: bookings, now: time.Now}
}

// Post appends a message. Only the booking's customer or assigned driver
// may post; a cancelled booking rejects new messages, a completed one does
// not (chat stays open after the ride, matching the product behavior).
func (r *Relay) Post(ctx context.Context, senderID, bookingID, body string) (models.Message, error) {
	if strings.TrimSpace(body) == "" {
		return models.Message{}, faults.New(faults.Validation, "message body is required")
	}
	b, err := r.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return models.Message{}, err
	}
	if senderID != b.CustomerID && senderID != b.DriverID {
		return models.Message{}, faults.New(faults.Forbidden, "not a participant of booking %s", bookingID)
	}
	if b.Status == models.BookingCancelled {
		return models.Message{}, faults.New(faults.Conflict, "booking %s is cancelled", bookingID)
	}
	m, err := r.store.Append(ctx, bookingID, senderID, body, r.now())
	if err != nil {
		return models.Message{}, faults.Wrap(faults.Transient, err, "append message")
	}
	return m, nil
}

// List returns messages in sequence order, optionally only those after
// afterSeq for incremental polling.
func (r *Relay) List(ctx context.Context, readerID, bookingID string, afterSeq int64) ([]models.Message, error) {
	b, err := r.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if readerID != b.CustomerID && readerID != b.DriverID {
		return nil, faults.New(faults.Forbidden, "not a participant of booking %s", bookingID)
	}
	msgs, err := r.store.List(ctx, bookingID, afterSeq)
	if err != nil {
		return nil, faults.Wrap(faults.Transient, err, "list messages")
	}
	return msgs, nil
}

// MemoryStore keeps logs in memory, one slice per booking, appends
// serialized per booking so Seq stays gap-free.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[string][]models.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]models.Message)}
}

func (m *MemoryStore) Append(_ context.Context, bookingID, senderID, body string, at time.Time) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.logs[bookingID]
	msg := models.Message{
		BookingID: bookingID,
		Seq:       int64(len(log)) + 1,
		SenderID:  senderID,
		Body:      body,
		SentAt:    at,
	}
	m.logs[bookingID] = append(log, msg)
	return msg, nil
}

func (m *MemoryStore) List(_ context.Context, bookingID string, afterSeq int64) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	log := m.logs[bookingID]
	// Seq is dense and 1-based, so afterSeq doubles as a slice offset.
	idx := sort.Search(len(log), func(i int) bool { return log[i].Seq > afterSeq })
	out := make([]models.Message, len(log)-idx)
	copy(out, log[idx:])
	return out, nil
}
