package models

import "time"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleDriver   Role = "driver"
)

// Actor is the authenticated caller as supplied by the identity boundary.
// The core trusts it and never re-checks credentials.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Place is a named point, e.g. "Airport" plus its coordinates.
type Place struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat,omitempty"`
	Lng  float64 `json:"lng,omitempty"`
}

type RequestStatus string

const (
	RequestRequested RequestStatus = "requested"
	RequestMatched   RequestStatus = "matched"
	RequestCompleted RequestStatus = "completed"
	RequestCancelled RequestStatus = "cancelled"
)

type BookingStatus string

const (
	BookingAccepted  BookingStatus = "accepted"
	BookingOngoing   BookingStatus = "ongoing"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s BookingStatus) Terminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

// RideRequest is a customer's unmatched transportation need. Immutable
// after creation except for Status and the attached BookingID.
type RideRequest struct {
	ID         string        `json:"id"`
	CustomerID string        `json:"customer_id"`
	Pickup     Place         `json:"pickup"`
	Dropoff    Place         `json:"dropoff"`
	Vehicle    string        `json:"vehicle"`
	Status     RequestStatus `json:"status"`
	BookingID  string        `json:"booking_id,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Booking is a RideRequest matched to a driver. Created at accept time,
// never before; its RideRequestID never changes.
type Booking struct {
	ID            string        `json:"id"`
	RideRequestID string        `json:"ride_request_id"`
	CustomerID    string        `json:"customer_id"`
	DriverID      string        `json:"driver_id"`
	Status        BookingStatus `json:"status"`
	AcceptedAt    time.Time     `json:"accepted_at"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	CancelledAt   *time.Time    `json:"cancelled_at,omitempty"`
	ReviewGiven   bool          `json:"review_given"`
}

// DriverPosition is the latest reported location of a driver. Ephemeral:
// overwritten on each report and treated as offline past the staleness window.
type DriverPosition struct {
	DriverID string    `json:"driver_id"`
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Updated  time.Time `json:"updated"`
}

// NearbyDriver is a discovery result: a fresh driver position annotated
// with its distance from the query point.
type NearbyDriver struct {
	DriverID   string  `json:"driver_id"`
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	DistanceKm float64 `json:"distance_km"`
	ETASeconds float64 `json:"eta_seconds,omitempty"`
}

// NearbyRide is the symmetric result for drivers browsing open requests.
type NearbyRide struct {
	Ride       RideRequest `json:"ride"`
	DistanceKm float64     `json:"distance_km"`
}

// Message is one entry in a booking's append-only chat log. Seq is
// strictly increasing and gap-free within the booking.
type Message struct {
	BookingID string    `json:"booking_id"`
	Seq       int64     `json:"seq"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// Review rates a completed booking. At most one per booking.
type Review struct {
	BookingID  string    `json:"booking_id"`
	CustomerID string    `json:"customer_id"`
	DriverID   string    `json:"driver_id"`
	Rating     int       `json:"rating"` // 1..5
	Feedback   string    `json:"feedback,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DriverRating aggregates a driver's reviews. Rated is false when the
// driver has no reviews; Average is meaningless in that case.
type DriverRating struct {
	DriverID string  `json:"driver_id"`
	Average  float64 `json:"average"`
	Count    int     `json:"count"`
	Rated    bool    `json:"rated"`
}

// EventKind labels lifecycle events published after each successful mutation.
type EventKind string

const (
	EventRideRequested   EventKind = "ride_requested"
	EventRideAccepted    EventKind = "ride_accepted"
	EventRideStarted     EventKind = "ride_started"
	EventRideCompleted   EventKind = "ride_completed"
	EventRideCancelled   EventKind = "ride_cancelled"
	EventMessagePosted   EventKind = "message_posted"
	EventReviewSubmitted EventKind = "review_submitted"
)

// Event is the state-change record published to the event stream and
// pushed to connected participants.
type Event struct {
	Kind          EventKind `json:"kind"`
	RideRequestID string    `json:"ride_request_id,omitempty"`
	BookingID     string    `json:"booking_id,omitempty"`
	ActorID       string    `json:"actor_id"`
	At            time.Time `json:"at"`
	Seq           int64     `json:"seq,omitempty"` // message events only
}
