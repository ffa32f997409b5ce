package circulation

import (
	"context"
	"slices"
	"time"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/outbox"
)

// Store runs fn in one atomic read-modify-write transaction. Implementations
// may return db.ErrConcurrencyConflict, which the service retries.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the record access available inside a transaction. Getters return
// ErrNotFound for absent records. LockBook, and the getters of stores that
// support row locks, hold the record until the transaction ends.
type Tx interface {
	InsertBook(ctx context.Context, b model.Book) error
	GetBook(ctx context.Context, id string) (model.Book, error)
	LockBook(ctx context.Context, id string) (model.Book, error)
	UpdateBook(ctx context.Context, b model.Book) error
	ListBooks(ctx context.Context) ([]model.Book, error)

	InsertAppointment(ctx context.Context, a model.Appointment) error
	GetAppointment(ctx context.Context, id string) (model.Appointment, error)
	UpdateAppointment(ctx context.Context, a model.Appointment) error
	ListAppointments(ctx context.Context, f AppointmentFilter) ([]model.Appointment, error)

	InsertReservation(ctx context.Context, r model.Reservation) error
	GetReservation(ctx context.Context, id string) (model.Reservation, error)
	UpdateReservation(ctx context.Context, r model.Reservation) error
	ListReservations(ctx context.Context, f ReservationFilter) ([]model.Reservation, error)

	InsertBorrowal(ctx context.Context, b model.Borrowal) error
	GetBorrowal(ctx context.Context, id string) (model.Borrowal, error)
	UpdateBorrowal(ctx context.Context, b model.Borrowal) error
	ListBorrowals(ctx context.Context, f BorrowalFilter) ([]model.Borrowal, error)

	InsertRenewal(ctx context.Context, r model.RenewalRequest) error
	GetRenewal(ctx context.Context, id string) (model.RenewalRequest, error)
	UpdateRenewal(ctx context.Context, r model.RenewalRequest) error
	ListRenewals(ctx context.Context, f RenewalFilter) ([]model.RenewalRequest, error)

	GetUser(ctx context.Context, id string) (model.User, error)
	// LockUser returns the user, creating an empty record first if none
	// exists, and holds it until the transaction ends.
	LockUser(ctx context.Context, id string) (model.User, error)
	SaveUser(ctx context.Context, u model.User) error

	AppendEvent(ctx context.Context, evt outbox.Event) error
}

// Lists are ordered by creation time, oldest first. A zero field does not filter.

type AppointmentFilter struct {
	BookID       string
	UserID       string
	Status       model.AppointmentStatus
	PickupBefore time.Time
	Limit        int
}

func (f AppointmentFilter) Match(a model.Appointment) bool {
	if f.BookID != "" && a.BookID != f.BookID {
		return false
	}
	if f.UserID != "" && a.UserID != f.UserID {
		return false
	}
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if !f.PickupBefore.IsZero() && !a.PickupTime.Before(f.PickupBefore) {
		return false
	}
	return true
}

type ReservationFilter struct {
	BookID        string
	UserID        string
	Statuses      []model.ReservationStatus
	ExpiresBefore time.Time
	Limit         int
}

func (f ReservationFilter) Match(r model.Reservation) bool {
	if f.BookID != "" && r.BookID != f.BookID {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if !f.ExpiresBefore.IsZero() && (r.ExpiresAt == nil || !r.ExpiresAt.Before(f.ExpiresBefore)) {
		return false
	}
	return true
}

type BorrowalFilter struct {
	BookID   string
	UserID   string
	OpenOnly bool
	Limit    int
}

func (f BorrowalFilter) Match(b model.Borrowal) bool {
	if f.BookID != "" && b.BookID != f.BookID {
		return false
	}
	if f.UserID != "" && b.UserID != f.UserID {
		return false
	}
	if f.OpenOnly && !b.Open() {
		return false
	}
	return true
}

type RenewalFilter struct {
	BorrowalID string
	Status     model.RenewalStatus
	Limit      int
}

func (f RenewalFilter) Match(r model.RenewalRequest) bool {
	if f.BorrowalID != "" && r.BorrowalID != f.BorrowalID {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}
