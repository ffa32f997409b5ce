package model

import "time"

type BorrowalSource string

const (
	SourceAppointment BorrowalSource = "appointment"
	SourceReservation BorrowalSource = "reservation"
	SourceDirect      BorrowalSource = "direct"
)

type Borrowal struct {
	ID         string
	BookID     string
	UserID     string
	Source     BorrowalSource
	BorrowedAt time.Time
	DueDate    time.Time
	ReturnedAt *time.Time
	FeeCents   int64
	CreatedBy  string
}

func (b Borrowal) Open() bool {
	return b.ReturnedAt == nil
}

type RenewalStatus string

const (
	RenewalPending  RenewalStatus = "pending"
	RenewalApproved RenewalStatus = "approved"
	RenewalRejected RenewalStatus = "rejected"
)

type RenewalRequest struct {
	ID              string
	BorrowalID      string
	UserID          string
	CurrentDueDate  time.Time
	RequestedDays   int
	Status          RenewalStatus
	NewDueDate      *time.Time
	ProcessedBy     string
	ProcessedAt     *time.Time
	RejectionReason string
	CreatedAt       time.Time
}
