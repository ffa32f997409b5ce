package model

import "time"

type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationReady     ReservationStatus = "ready"
	ReservationFulfilled ReservationStatus = "fulfilled"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// Open reports whether the reservation still occupies a place in the queue or a held copy.
func (s ReservationStatus) Open() bool {
	return s == ReservationActive || s == ReservationReady
}

type Reservation struct {
	ID     string
	BookID string
	UserID string
	Status ReservationStatus
	// Position is the 1-based rank among open reservations; 0 once the reservation leaves the queue.
	Position   int
	ExpiresAt  *time.Time
	BorrowalID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
