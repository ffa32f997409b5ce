package circulation

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
)

type NewBorrowal struct {
	BookID string
	UserID string
	// DueDate defaults to now plus the loan period.
	DueDate time.Time
}

// DirectBorrow lends a copy over the counter without an appointment.
func (s *Service) DirectBorrow(ctx context.Context, actor Actor, in NewBorrowal) (model.Borrowal, error) {
	if !actor.Staff() {
		return model.Borrowal{}, ErrForbidden
	}
	if in.UserID == "" {
		return model.Borrowal{}, InvalidInput("user is required")
	}
	now := s.now()
	due := in.DueDate
	if due.IsZero() {
		due = now.Add(s.policy.LoanPeriod)
	}
	if !due.After(now) {
		return model.Borrowal{}, InvalidInput("due date must be in the future")
	}

	var b model.Borrowal
	err := s.inTx(ctx, "direct_borrow", func(ctx context.Context, tx Tx) error {
		book, err := tx.LockBook(ctx, in.BookID)
		if err != nil {
			return err
		}
		holds, err := s.holdsBook(ctx, tx, book.ID, in.UserID)
		if err != nil {
			return err
		}
		if holds {
			return ErrAlreadyBorrowed
		}
		if err := s.reserveCopy(ctx, tx, &book); err != nil {
			return err
		}
		b, err = s.openBorrowal(ctx, tx, &book, in.UserID, actor.UserID, model.SourceDirect, due)
		return err
	})
	if err != nil {
		return model.Borrowal{}, err
	}
	s.logger.Info("direct borrow", "borrowal_id", b.ID, "book_id", b.BookID, "user_id", b.UserID)
	return b, nil
}

// ReturnBorrowal closes a loan. The copy goes to the head of the book's queue
// if anyone is waiting, otherwise back to availability.
func (s *Service) ReturnBorrowal(ctx context.Context, actor Actor, borrowalID string) (model.Borrowal, error) {
	var b model.Borrowal
	err := s.inTx(ctx, "return_borrowal", func(ctx context.Context, tx Tx) error {
		var err error
		b, err = tx.GetBorrowal(ctx, borrowalID)
		if err != nil {
			return err
		}
		if !actor.canActFor(b.UserID) {
			return ErrForbidden
		}
		if !b.Open() {
			return fmt.Errorf("borrowal %s: %w", b.ID, ErrAlreadyReturned)
		}
		book, err := tx.LockBook(ctx, b.BookID)
		if err != nil {
			return err
		}

		now := s.now()
		b.ReturnedAt = &now
		b.FeeCents = s.lateFee(b.DueDate, now)
		if err := tx.UpdateBorrowal(ctx, b); err != nil {
			return err
		}

		u, err := tx.LockUser(ctx, b.UserID)
		if err != nil {
			return err
		}
		u.CheckIn(book.ID)
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}

		book.TotalBorrows++
		if _, err := s.releaseCopy(ctx, tx, &book); err != nil {
			return err
		}
		msg := fmt.Sprintf("Thanks for returning %q.", book.Title)
		if b.FeeCents > 0 {
			msg = fmt.Sprintf("You returned %q late. A fee of %d cents applies.", book.Title, b.FeeCents)
		}
		return s.emit(ctx, tx, EventBorrowalReturned, "borrowal", b.ID, Notification{
			UserID:    b.UserID,
			BookID:    book.ID,
			BookTitle: book.Title,
			DueDate:   &b.DueDate,
			FeeCents:  b.FeeCents,
			Message:   msg,
		})
	})
	if err != nil {
		return model.Borrowal{}, err
	}
	s.logger.Info("borrowal returned", "borrowal_id", b.ID, "fee_cents", b.FeeCents)
	return b, nil
}

// lateFee charges every started day past the due date.
func (s *Service) lateFee(due, returned time.Time) int64 {
	late := returned.Sub(due)
	if late <= 0 {
		return 0
	}
	days := int64((late + 24*time.Hour - 1) / (24 * time.Hour))
	return days * s.policy.FeePerDayCents
}

// ListBorrowals returns borrowals matching f. Readers only see their own.
func (s *Service) ListBorrowals(ctx context.Context, actor Actor, f BorrowalFilter) ([]model.Borrowal, error) {
	if !actor.Staff() {
		if actor.UserID == "" {
			return nil, ErrForbidden
		}
		f.UserID = actor.UserID
	}
	var out []model.Borrowal
	err := s.inTx(ctx, "list_borrowals", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListBorrowals(ctx, f)
		return err
	})
	return out, err
}
