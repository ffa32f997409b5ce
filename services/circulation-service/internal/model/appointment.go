package model

import "time"

type AppointmentStatus string

const (
	AppointmentPending   AppointmentStatus = "pending"
	AppointmentConfirmed AppointmentStatus = "confirmed"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentExpired   AppointmentStatus = "expired"
)

func (s AppointmentStatus) Terminal() bool {
	return s != AppointmentPending
}

type Appointment struct {
	ID                 string
	BookID             string
	UserID             string
	PickupTime         time.Time
	Status             AppointmentStatus
	AgreedToTerms      bool
	ConfirmedAt        *time.Time
	ConfirmedBy        string
	BorrowalID         string
	CancellationReason string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
