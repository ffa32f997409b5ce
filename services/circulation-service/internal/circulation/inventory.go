package circulation

import (
	"context"
	"fmt"
	"sort"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
)

// reserveCopy takes one copy of a locked book out of general availability.
func (s *Service) reserveCopy(ctx context.Context, tx Tx, book *model.Book) error {
	if book.Available <= 0 {
		return fmt.Errorf("book %s: %w", book.ID, ErrOutOfStock)
	}
	book.Available--
	book.UpdatedAt = s.now()
	return tx.UpdateBook(ctx, *book)
}

// releaseCopy hands a freed copy to the head of the book's queue, or returns it
// to availability when nobody is waiting. The returned reservation is non-nil
// when the copy went to the queue.
func (s *Service) releaseCopy(ctx context.Context, tx Tx, book *model.Book) (*model.Reservation, error) {
	promoted, err := s.promoteNext(ctx, tx, book)
	if err != nil {
		return nil, err
	}
	if promoted == nil && book.Available < book.Quantity {
		book.Available++
	}
	book.UpdatedAt = s.now()
	if err := tx.UpdateBook(ctx, *book); err != nil {
		return nil, err
	}
	return promoted, nil
}

// queue returns the open reservations of a book ordered by position.
func queue(ctx context.Context, tx Tx, bookID string) ([]model.Reservation, error) {
	open, err := tx.ListReservations(ctx, ReservationFilter{
		BookID:   bookID,
		Statuses: []model.ReservationStatus{model.ReservationActive, model.ReservationReady},
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].Position < open[j].Position
	})
	return open, nil
}

// promoteNext moves the first active reservation to ready. The copy stays held
// for that reader, so the caller must not return it to availability.
func (s *Service) promoteNext(ctx context.Context, tx Tx, book *model.Book) (*model.Reservation, error) {
	q, err := queue(ctx, tx, book.ID)
	if err != nil {
		return nil, err
	}
	for _, r := range q {
		if r.Status != model.ReservationActive {
			continue
		}
		now := s.now()
		expires := now.Add(s.policy.HoldWindow)
		r.Status = model.ReservationReady
		r.ExpiresAt = &expires
		r.UpdatedAt = now
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return nil, err
		}
		if err := s.emit(ctx, tx, EventReservationReady, "reservation", r.ID, Notification{
			UserID:    r.UserID,
			BookID:    book.ID,
			BookTitle: book.Title,
			ExpiresAt: &expires,
			Message:   fmt.Sprintf("%q is ready for you. Collect it before %s.", book.Title, expires.Format(dateLayout)),
		}); err != nil {
			return nil, err
		}
		return &r, nil
	}
	return nil, nil
}

// compactQueue renumbers the open reservations of a book from 1.
func (s *Service) compactQueue(ctx context.Context, tx Tx, bookID string) error {
	q, err := queue(ctx, tx, bookID)
	if err != nil {
		return err
	}
	for i, r := range q {
		if r.Position == i+1 {
			continue
		}
		r.Position = i + 1
		r.UpdatedAt = s.now()
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

// withdrawHolds closes any other open reservation or pending appointment the
// reader has on a book they are now borrowing, freeing any copy those held.
func (s *Service) withdrawHolds(ctx context.Context, tx Tx, book *model.Book, userID string) error {
	open, err := tx.ListReservations(ctx, ReservationFilter{
		BookID:   book.ID,
		UserID:   userID,
		Statuses: []model.ReservationStatus{model.ReservationActive, model.ReservationReady},
	})
	if err != nil {
		return err
	}
	for _, r := range open {
		wasReady := r.Status == model.ReservationReady
		r.Status = model.ReservationCancelled
		r.Position = 0
		r.UpdatedAt = s.now()
		if err := tx.UpdateReservation(ctx, r); err != nil {
			return err
		}
		if wasReady {
			if _, err := s.releaseCopy(ctx, tx, book); err != nil {
				return err
			}
		}
		if err := s.emit(ctx, tx, EventReservationCancelled, "reservation", r.ID, Notification{
			UserID:    userID,
			BookID:    book.ID,
			BookTitle: book.Title,
			Message:   fmt.Sprintf("Your reservation for %q was withdrawn because you borrowed it.", book.Title),
		}); err != nil {
			return err
		}
	}
	if len(open) > 0 {
		if err := s.compactQueue(ctx, tx, book.ID); err != nil {
			return err
		}
	}

	pending, err := tx.ListAppointments(ctx, AppointmentFilter{
		BookID: book.ID,
		UserID: userID,
		Status: model.AppointmentPending,
	})
	if err != nil {
		return err
	}
	for _, a := range pending {
		a.Status = model.AppointmentCancelled
		a.CancellationReason = "borrowed"
		a.UpdatedAt = s.now()
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		if _, err := s.releaseCopy(ctx, tx, book); err != nil {
			return err
		}
		if err := s.emit(ctx, tx, EventAppointmentCancelled, "appointment", a.ID, Notification{
			UserID:    userID,
			BookID:    book.ID,
			BookTitle: book.Title,
			Reason:    a.CancellationReason,
			Message:   fmt.Sprintf("Your pickup of %q was withdrawn because you borrowed it.", book.Title),
		}); err != nil {
			return err
		}
	}
	return nil
}

// expireStaleHolds expires the reader's pending appointments past their grace
// period and ready reservations past their hold window on a locked book, so a
// lapsed hold the sweeper has not reached yet does not block a new request.
func (s *Service) expireStaleHolds(ctx context.Context, tx Tx, book *model.Book, userID string) (bool, error) {
	now := s.now()
	expired := false
	pending, err := tx.ListAppointments(ctx, AppointmentFilter{
		BookID: book.ID,
		UserID: userID,
		Status: model.AppointmentPending,
	})
	if err != nil {
		return false, err
	}
	for _, a := range pending {
		if !s.pastGrace(a, now) {
			continue
		}
		if err := s.expireAppointment(ctx, tx, &a, book); err != nil {
			return false, err
		}
		expired = true
	}
	ready, err := tx.ListReservations(ctx, ReservationFilter{
		BookID:   book.ID,
		UserID:   userID,
		Statuses: []model.ReservationStatus{model.ReservationReady},
	})
	if err != nil {
		return false, err
	}
	for _, r := range ready {
		if r.ExpiresAt == nil || !now.After(*r.ExpiresAt) {
			continue
		}
		if err := s.expireReservation(ctx, tx, &r, book); err != nil {
			return false, err
		}
		expired = true
	}
	return expired, nil
}
