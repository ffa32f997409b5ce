package circulation

import (
	"context"
	"fmt"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
)

// CreateReservation queues the reader for a book that has no available copy.
func (s *Service) CreateReservation(ctx context.Context, actor Actor, bookID, userID string) (model.Reservation, error) {
	if userID == "" {
		userID = actor.UserID
	}
	if userID == "" || !actor.canActFor(userID) {
		return model.Reservation{}, ErrForbidden
	}

	var (
		res      model.Reservation
		rejected error
	)
	err := s.inTx(ctx, "create_reservation", func(ctx context.Context, tx Tx) error {
		rejected = nil
		book, err := tx.LockBook(ctx, bookID)
		if err != nil {
			return err
		}
		expired, err := s.expireStaleHolds(ctx, tx, &book, userID)
		if err != nil {
			return err
		}
		// Holds expired above are committed even when the request is refused.
		reject := func(err error) error {
			if expired {
				rejected = err
				return nil
			}
			return err
		}

		q, err := queue(ctx, tx, book.ID)
		if err != nil {
			return err
		}
		for _, r := range q {
			if r.UserID == userID {
				return reject(fmt.Errorf("reservation %s: %w", r.ID, ErrAlreadyReserved))
			}
		}
		pending, err := tx.ListAppointments(ctx, AppointmentFilter{
			BookID: book.ID,
			UserID: userID,
			Status: model.AppointmentPending,
			Limit:  1,
		})
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return reject(fmt.Errorf("appointment %s: %w", pending[0].ID, ErrConflict))
		}
		if book.Available > 0 {
			return reject(ErrBookAvailable)
		}
		holds, err := s.holdsBook(ctx, tx, book.ID, userID)
		if err != nil {
			return err
		}
		if holds {
			return reject(ErrAlreadyBorrowed)
		}

		now := s.now()
		res = model.Reservation{
			ID:        s.newID(),
			BookID:    book.ID,
			UserID:    userID,
			Status:    model.ReservationActive,
			Position:  len(q) + 1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertReservation(ctx, res); err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return s.emit(ctx, tx, EventReservationCreated, "reservation", res.ID, Notification{
			UserID:    userID,
			BookID:    book.ID,
			BookTitle: book.Title,
			Message:   fmt.Sprintf("You are number %d in line for %q.", res.Position, book.Title),
		})
	})
	if err == nil {
		err = rejected
	}
	if err != nil {
		return model.Reservation{}, err
	}
	s.logger.Info("reservation created", "reservation_id", res.ID, "book_id", res.BookID, "position", res.Position)
	return res, nil
}

// CancelReservation leaves the queue. Cancelling a ready reservation hands its
// held copy to the next reader in line.
func (s *Service) CancelReservation(ctx context.Context, actor Actor, reservationID string) (model.Reservation, error) {
	var res model.Reservation
	err := s.inTx(ctx, "cancel_reservation", func(ctx context.Context, tx Tx) error {
		var err error
		res, err = tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if !actor.canActFor(res.UserID) {
			return ErrForbidden
		}
		if !res.Status.Open() {
			return fmt.Errorf("reservation %s is %s: %w", res.ID, res.Status, ErrAlreadyProcessed)
		}
		book, err := tx.LockBook(ctx, res.BookID)
		if err != nil {
			return err
		}

		wasReady := res.Status == model.ReservationReady
		res.Status = model.ReservationCancelled
		res.Position = 0
		res.UpdatedAt = s.now()
		if err := tx.UpdateReservation(ctx, res); err != nil {
			return err
		}
		if wasReady {
			if _, err := s.releaseCopy(ctx, tx, &book); err != nil {
				return err
			}
		}
		if err := s.compactQueue(ctx, tx, book.ID); err != nil {
			return err
		}
		return s.emit(ctx, tx, EventReservationCancelled, "reservation", res.ID, Notification{
			UserID:    res.UserID,
			BookID:    book.ID,
			BookTitle: book.Title,
			Message:   fmt.Sprintf("Your reservation for %q was cancelled.", book.Title),
		})
	})
	if err != nil {
		return model.Reservation{}, err
	}
	return res, nil
}

// FulfillReservation lends the held copy to the reader of a ready reservation.
// Past the hold window the reservation expires instead and ErrTooLate is returned.
func (s *Service) FulfillReservation(ctx context.Context, actor Actor, reservationID string) (model.Reservation, model.Borrowal, error) {
	if !actor.Staff() {
		return model.Reservation{}, model.Borrowal{}, ErrForbidden
	}

	var (
		res      model.Reservation
		borrowal model.Borrowal
		tooLate  bool
	)
	err := s.inTx(ctx, "fulfill_reservation", func(ctx context.Context, tx Tx) error {
		tooLate = false
		var err error
		res, err = tx.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		switch res.Status {
		case model.ReservationReady:
		case model.ReservationActive:
			return fmt.Errorf("reservation %s is still waiting for a copy: %w", res.ID, ErrInvalidState)
		default:
			return fmt.Errorf("reservation %s is %s: %w", res.ID, res.Status, ErrAlreadyProcessed)
		}
		book, err := tx.LockBook(ctx, res.BookID)
		if err != nil {
			return err
		}

		now := s.now()
		if res.ExpiresAt != nil && now.After(*res.ExpiresAt) {
			tooLate = true
			return s.expireReservation(ctx, tx, &res, &book)
		}

		holds, err := s.holdsBook(ctx, tx, book.ID, res.UserID)
		if err != nil {
			return err
		}
		if holds {
			return ErrAlreadyBorrowed
		}
		res.Status = model.ReservationFulfilled
		res.Position = 0
		res.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, res); err != nil {
			return err
		}
		borrowal, err = s.openBorrowal(ctx, tx, &book, res.UserID, actor.UserID, model.SourceReservation, now.Add(s.policy.LoanPeriod))
		if err != nil {
			return err
		}
		res.BorrowalID = borrowal.ID
		if err := tx.UpdateReservation(ctx, res); err != nil {
			return err
		}
		if err := s.compactQueue(ctx, tx, book.ID); err != nil {
			return err
		}
		return s.emit(ctx, tx, EventReservationFulfilled, "reservation", res.ID, Notification{
			UserID:    res.UserID,
			BookID:    book.ID,
			BookTitle: book.Title,
			DueDate:   &borrowal.DueDate,
			Message:   fmt.Sprintf("You collected %q. It is due on %s.", book.Title, borrowal.DueDate.Format(dateLayout)),
		})
	})
	if err != nil {
		return model.Reservation{}, model.Borrowal{}, err
	}
	if tooLate {
		return res, model.Borrowal{}, fmt.Errorf("reservation %s: %w", res.ID, ErrTooLate)
	}
	s.logger.Info("reservation fulfilled", "reservation_id", res.ID, "borrowal_id", borrowal.ID)
	return res, borrowal, nil
}

// expireReservation ends a ready reservation whose hold window passed and
// passes the copy on.
func (s *Service) expireReservation(ctx context.Context, tx Tx, res *model.Reservation, book *model.Book) error {
	res.Status = model.ReservationExpired
	res.Position = 0
	res.UpdatedAt = s.now()
	if err := tx.UpdateReservation(ctx, *res); err != nil {
		return err
	}
	if _, err := s.releaseCopy(ctx, tx, book); err != nil {
		return err
	}
	if err := s.compactQueue(ctx, tx, book.ID); err != nil {
		return err
	}
	return s.emit(ctx, tx, EventReservationExpired, "reservation", res.ID, Notification{
		UserID:    res.UserID,
		BookID:    book.ID,
		BookTitle: book.Title,
		ExpiresAt: res.ExpiresAt,
		Message:   fmt.Sprintf("Your hold on %q expired.", book.Title),
	})
}

// ListReservations returns reservations matching f. Readers only see their own.
func (s *Service) ListReservations(ctx context.Context, actor Actor, f ReservationFilter) ([]model.Reservation, error) {
	if !actor.Staff() {
		if actor.UserID == "" {
			return nil, ErrForbidden
		}
		f.UserID = actor.UserID
	}
	var out []model.Reservation
	err := s.inTx(ctx, "list_reservations", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.ListReservations(ctx, f)
		return err
	})
	return out, err
}
