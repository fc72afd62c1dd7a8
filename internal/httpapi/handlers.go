package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/coordinator"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/faults"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
)

type Server struct {
	Coord     *coordinator.Coordinator
	WSReg     *notify.Registry
	Positions *events.PositionProducer // optional: mirror reports to Kafka

	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(coord *coordinator.Coordinator, wsreg *notify.Registry, logger *slog.Logger) *Server {
	s := &Server{Coord: coord, WSReg: wsreg, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rides", s.handleCreateRide).Methods("POST")
	api.HandleFunc("/rides/nearby", s.handleNearbyRides).Methods("GET")
	api.HandleFunc("/rides/{ride_id}/accept", s.handleAcceptRide).Methods("POST")
	api.HandleFunc("/rides/{ride_id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/bookings", s.handleListBookings).Methods("GET")
	api.HandleFunc("/bookings/{booking_id}/start", s.handleStartRide).Methods("POST")
	api.HandleFunc("/bookings/{booking_id}/finish", s.handleFinishRide).Methods("POST")
	api.HandleFunc("/bookings/{booking_id}/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/bookings/{booking_id}/messages", s.handlePostMessage).Methods("POST")
	api.HandleFunc("/bookings/{booking_id}/messages", s.handleListMessages).Methods("GET")
	api.HandleFunc("/bookings/{booking_id}/review", s.handleSubmitReview).Methods("POST")
	api.HandleFunc("/drivers/nearby", s.handleNearbyDrivers).Methods("GET")
	api.HandleFunc("/drivers/leaderboard", s.handleLeaderboard).Methods("GET")
	api.HandleFunc("/drivers/{driver_id}/rating", s.handleDriverRating).Methods("GET")

	s.mux.HandleFunc("/internal/driver/locations", s.handleDriverLocation).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{user_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// actorFrom reads the authenticated caller injected by the identity layer
// upstream. The core trusts these headers; it never checks credentials.
func actorFrom(r *http.Request) (models.Actor, bool) {
	id := r.Header.Get("X-Actor-ID")
	role := models.Role(r.Header.Get("X-Actor-Role"))
	if id == "" || (role != models.RoleCustomer && role != models.RoleDriver) {
		return models.Actor{}, false
	}
	return models.Actor{ID: id, Role: role}, true
}

func (s *Server) handleCreateRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return
	}
	var in struct {
		Pickup  models.Place `json:"pickup"`
		Dropoff models.Place `json:"dropoff"`
		Vehicle string       `json:"vehicle"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	req, err := s.Coord.CreateRideRequest(r.Context(), actor, in.Pickup, in.Dropoff, in.Vehicle)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleAcceptRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return
	}
	b, err := s.Coord.AcceptRide(r.Context(), actor, mux.Vars(r)["ride_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleStartRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return
	}
	b, err := s.Coord.StartRide(r.Context(), actor, mux.Vars(r)["booking_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleFinishRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return
	}
	b, err := s.Coord.FinishRide(r.Context(), actor, mux.Vars(r)["booking_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

// handleCancel serves both /rides/{ride_id}/cancel and
// /bookings/{booking_id}/cancel; the registry resolves either id.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return
	}
	vars := mux.Vars(r)
	id := vars["ride_id"]
	if id == "" {
		id = vars["booking_id"]
	}
	req, err := s.Coord.CancelBooking(r.Context(), actor, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return
	}
	bs, err := s.Coord.ListMyBookings(r.Context(), actor)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, bs)
}

func (s *Server) handleNearbyDrivers(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return
	}
	lat, lng, ok := coords(r)
	if !ok {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}
	radius, _ := strconv.ParseFloat(r.URL.Query().Get("radius_km"), 64)
	out, err := s.Coord.NearbyDrivers(r.Context(), actor, lat, lng, radius)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleNearbyRides(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return
	}
	lat, lng, ok := coords(r)
	if !ok {
		http.Error(w, "lat and lng are required", http.StatusBadRequest)
		return
	}
	out, err := s.Coord.NearbyRides(r.Context(), actor, lat, lng)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return
	}
	var in struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.Coord.ReportPosition(r.Context(), actor, in.Lat, in.Lng); err != nil {
		s.writeError(w, err)
		return
	}
	// mirror to the ingest topic when configured
	if s.Positions != nil {
		p := models.DriverPosition{DriverID: actor.ID, Lat: in.Lat, Lng: in.Lng}
		if err := s.Positions.PublishPosition(r.Context(), p); err != nil {
			s.logger.Warn("position publish failed", "driver_id", actor.ID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return
	}
	var in struct {
		Body string `json:"body"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m, err := s.Coord.PostMessage(r.Context(), actor, mux.Vars(r)["booking_id"], in.Body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return
	}
	afterSeq, _ := strconv.ParseInt(r.URL.Query().Get("after_seq"), 10, 64)
	msgs, err := s.Coord.ListMessages(r.Context(), actor, mux.Vars(r)["booking_id"], afterSeq)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return
	}
	var in struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rv, err := s.Coord.SubmitReview(r.Context(), actor, mux.Vars(r)["booking_id"], in.Rating, in.Feedback)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, rv)
}

func (s *Server) handleDriverRating(w http.ResponseWriter, r *http.Request) {
	rating, err := s.Coord.DriverRating(r.Context(), mux.Vars(r)["driver_id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rating)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	topN, _ := strconv.Atoi(r.URL.Query().Get("top"))
	if topN <= 0 {
		topN = 10
	}
	entries, err := s.Coord.Leaderboard(r.Context(), topN)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		http.Error(w, "missing actor identity", http.StatusUnauthorized)
		return
	}
	if actor.ID != mux.Vars(r)["user_id"] {
		http.Error(w, "cannot subscribe for another user", http.StatusForbidden)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.WSReg.Add(actor.ID, conn)
	go s.readPump(actor.ID, conn)
}

// readPump drains inbound frames so close and ping frames are processed
// and a dead connection is reaped right away, not on the next failed push.
func (s *Server) readPump(userID string, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.WSReg.RemoveConn(userID, conn)
			return
		}
	}
}

func coords(r *http.Request) (lat, lng float64, ok bool) {
	q := r.URL.Query()
	if q.Get("lat") == "" || q.Get("lng") == "" {
		return 0, 0, false
	}
	var err error
	if lat, err = strconv.ParseFloat(q.Get("lat"), 64); err != nil {
		return 0, 0, false
	}
	if lng, err = strconv.ParseFloat(q.Get("lng"), 64); err != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch faults.KindOf(err) {
	case faults.Validation:
		status = http.StatusBadRequest
	case faults.NotFound:
		status = http.StatusNotFound
	case faults.Forbidden:
		status = http.StatusForbidden
	case faults.Conflict:
		status = http.StatusConflict
	case faults.Transient:
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]string{
		"error": err.Error(),
		"kind":  faults.KindOf(err).String(),
	})
}
