// Package notify pushes lifecycle events and chat messages to connected
// participants over WebSocket. Delivery is best-effort; the polling API
// remains the source of truth.
package notify

import (
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/models"
)

// Session is one connected user. Writes are serialized per connection.
type Session struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *Session) send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(v)
}

// Registry holds the live sessions keyed by user id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{sessions: make(map[string]*Session), logger: logger}
}

func (r *Registry) Add(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[userID]; ok {
		_ = old.conn.Close()
	}
	r.sessions[userID] = &Session{conn: conn}
}

func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok {
		_ = s.conn.Close()
		delete(r.sessions, userID)
	}
}

// RemoveConn drops the session only while it still owns conn, so a reader
// on a superseded connection cannot evict the user's newer session.
func (r *Registry) RemoveConn(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID]; ok && s.conn == conn {
		_ = s.conn.Close()
		delete(r.sessions, userID)
	}
}

// Active reports whether userID currently has a live session.
func (r *Registry) Active(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

// NotifyEvent pushes ev to each listed user that has a live session.
// Disconnected users are dropped from the registry; they catch up by polling.
func (r *Registry) NotifyEvent(ev models.Event, userIDs ...string) {
	for _, id := range userIDs {
		if id == "" || id == ev.ActorID {
			continue // the actor already knows
		}
		r.mu.RLock()
		s, ok := r.sessions[id]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if err := s.send(ev); err != nil {
			r.logger.Warn("ws push failed", "user_id", id, "error", err)
			r.Remove(id)
		}
	}
}

// NotifyMessage pushes a chat message to the other participant.
func (r *Registry) NotifyMessage(m models.Message, userIDs ...string) {
	for _, id := range userIDs {
		if id == "" || id == m.SenderID {
			continue
		}
		r.mu.RLock()
		s, ok := r.sessions[id]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if err := s.send(m); err != nil {
			r.logger.Warn("ws push failed", "user_id", id, "error", err)
			r.Remove(id)
		}
	}
}
