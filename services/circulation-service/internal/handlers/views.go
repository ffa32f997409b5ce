package handlers

import (
	"time"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
)

type bookView struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Author       string    `json:"author,omitempty"`
	Quantity     int       `json:"quantity"`
	Available    int       `json:"available"`
	Status       string    `json:"status"`
	TotalBorrows int       `json:"total_borrows"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func toBook(b model.Book) bookView {
	return bookView{
		ID:           b.ID,
		Title:        b.Title,
		Author:       b.Author,
		Quantity:     b.Quantity,
		Available:    b.Available,
		Status:       string(b.Status()),
		TotalBorrows: b.TotalBorrows,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

type appointmentView struct {
	ID                 string     `json:"id"`
	BookID             string     `json:"book_id"`
	UserID             string     `json:"user_id"`
	PickupTime         time.Time  `json:"pickup_time"`
	Status             string     `json:"status"`
	AgreedToTerms      bool       `json:"agreed_to_terms"`
	ConfirmedAt        *time.Time `json:"confirmed_at,omitempty"`
	ConfirmedBy        string     `json:"confirmed_by,omitempty"`
	BorrowalID         string     `json:"borrowal_id,omitempty"`
	CancellationReason string     `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toAppointment(a model.Appointment) appointmentView {
	return appointmentView{
		ID:                 a.ID,
		BookID:             a.BookID,
		UserID:             a.UserID,
		PickupTime:         a.PickupTime,
		Status:             string(a.Status),
		AgreedToTerms:      a.AgreedToTerms,
		ConfirmedAt:        a.ConfirmedAt,
		ConfirmedBy:        a.ConfirmedBy,
		BorrowalID:         a.BorrowalID,
		CancellationReason: a.CancellationReason,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}

type reservationView struct {
	ID         string     `json:"id"`
	BookID     string     `json:"book_id"`
	UserID     string     `json:"user_id"`
	Status     string     `json:"status"`
	Position   int        `json:"position"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	BorrowalID string     `json:"borrowal_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func toReservation(r model.Reservation) reservationView {
	return reservationView{
		ID:         r.ID,
		BookID:     r.BookID,
		UserID:     r.UserID,
		Status:     string(r.Status),
		Position:   r.Position,
		ExpiresAt:  r.ExpiresAt,
		BorrowalID: r.BorrowalID,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

type borrowalView struct {
	ID         string     `json:"id"`
	BookID     string     `json:"book_id"`
	UserID     string     `json:"user_id"`
	Source     string     `json:"source"`
	BorrowedAt time.Time  `json:"borrowed_at"`
	DueDate    time.Time  `json:"due_date"`
	ReturnedAt *time.Time `json:"returned_at,omitempty"`
	FeeCents   int64      `json:"fee_cents"`
	CreatedBy  string     `json:"created_by,omitempty"`
}

func toBorrowal(b model.Borrowal) borrowalView {
	return borrowalView{
		ID:         b.ID,
		BookID:     b.BookID,
		UserID:     b.UserID,
		Source:     string(b.Source),
		BorrowedAt: b.BorrowedAt,
		DueDate:    b.DueDate,
		ReturnedAt: b.ReturnedAt,
		FeeCents:   b.FeeCents,
		CreatedBy:  b.CreatedBy,
	}
}

type renewalView struct {
	ID              string     `json:"id"`
	BorrowalID      string     `json:"borrowal_id"`
	UserID          string     `json:"user_id"`
	CurrentDueDate  time.Time  `json:"current_due_date"`
	RequestedDays   int        `json:"requested_days"`
	Status          string     `json:"status"`
	NewDueDate      *time.Time `json:"new_due_date,omitempty"`
	ProcessedBy     string     `json:"processed_by,omitempty"`
	ProcessedAt     *time.Time `json:"processed_at,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toRenewal(r model.RenewalRequest) renewalView {
	return renewalView{
		ID:              r.ID,
		BorrowalID:      r.BorrowalID,
		UserID:          r.UserID,
		CurrentDueDate:  r.CurrentDueDate,
		RequestedDays:   r.RequestedDays,
		Status:          string(r.Status),
		NewDueDate:      r.NewDueDate,
		ProcessedBy:     r.ProcessedBy,
		ProcessedAt:     r.ProcessedAt,
		RejectionReason: r.RejectionReason,
		CreatedAt:       r.CreatedAt,
	}
}

type userView struct {
	ID            string   `json:"id"`
	BooksOut      int      `json:"books_out"`
	BorrowedBooks []string `json:"borrowed_books"`
	History       []string `json:"history"`
}

func toUser(u model.User) userView {
	v := userView{ID: u.ID, BooksOut: u.BooksOut, BorrowedBooks: u.BorrowedBooks, History: u.History}
	if v.BorrowedBooks == nil {
		v.BorrowedBooks = []string{}
	}
	if v.History == nil {
		v.History = []string{}
	}
	return v
}

func mapSlice[T, V any](in []T, fn func(T) V) []V {
	out := make([]V, 0, len(in))
	for _, item := range in {
		out = append(out, fn(item))
	}
	return out
}
