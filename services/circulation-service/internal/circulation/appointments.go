package circulation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
)

type NewAppointment struct {
	BookID string
	// UserID defaults to the actor. Staff may book on behalf of a reader.
	UserID        string
	PickupTime    time.Time
	AgreedToTerms bool
}

// CreateAppointment holds a copy for the reader from now until pickup,
// cancellation or expiry.
func (s *Service) CreateAppointment(ctx context.Context, actor Actor, in NewAppointment) (model.Appointment, error) {
	userID := in.UserID
	if userID == "" {
		userID = actor.UserID
	}
	if userID == "" || !actor.canActFor(userID) {
		return model.Appointment{}, ErrForbidden
	}
	if !in.AgreedToTerms {
		return model.Appointment{}, ErrInvalidTerms
	}
	now := s.now()
	if !in.PickupTime.After(now) {
		return model.Appointment{}, ErrInvalidTime
	}

	var (
		appt     model.Appointment
		rejected error
	)
	err := s.inTx(ctx, "create_appointment", func(ctx context.Context, tx Tx) error {
		rejected = nil
		book, err := tx.LockBook(ctx, in.BookID)
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
		reserved, err := tx.ListReservations(ctx, ReservationFilter{
			BookID:   book.ID,
			UserID:   userID,
			Statuses: []model.ReservationStatus{model.ReservationActive, model.ReservationReady},
			Limit:    1,
		})
		if err != nil {
			return err
		}
		if len(reserved) > 0 {
			return reject(fmt.Errorf("reservation %s: %w", reserved[0].ID, ErrAlreadyReserved))
		}
		holds, err := s.holdsBook(ctx, tx, book.ID, userID)
		if err != nil {
			return err
		}
		if holds {
			return reject(ErrAlreadyBorrowed)
		}
		if err := s.reserveCopy(ctx, tx, &book); err != nil {
			return reject(err)
		}

		appt = model.Appointment{
			ID:            s.newID(),
			BookID:        book.ID,
			UserID:        userID,
			PickupTime:    in.PickupTime,
			Status:        model.AppointmentPending,
			AgreedToTerms: true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return s.emit(ctx, tx, EventAppointmentCreated, "appointment", appt.ID, Notification{
			UserID:     userID,
			BookID:     book.ID,
			BookTitle:  book.Title,
			PickupTime: &appt.PickupTime,
			Message:    fmt.Sprintf("Your pickup of %q is booked for %s.", book.Title, appt.PickupTime.Format(time.RFC3339)),
		})
	})
	if err == nil {
		err = rejected
	}
	if err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment created", "appointment_id", appt.ID, "book_id", appt.BookID, "user_id", appt.UserID)
	return appt, nil
}

// pastGrace reports whether the pickup deadline of a pending appointment has passed.
func (s *Service) pastGrace(a model.Appointment, now time.Time) bool {
	return now.Sub(a.PickupTime) > s.policy.PickupGrace
}

// ConfirmAppointment turns a pending appointment into a borrowal. A confirmation
// after the grace period expires the appointment, releases the copy and fails
// with ErrTooLate.
func (s *Service) ConfirmAppointment(ctx context.Context, actor Actor, appointmentID string) (model.Appointment, model.Borrowal, error) {
	if !actor.Staff() {
		return model.Appointment{}, model.Borrowal{}, ErrForbidden
	}

	var (
		appt     model.Appointment
		borrowal model.Borrowal
		tooLate  bool
	)
	err := s.inTx(ctx, "confirm_appointment", func(ctx context.Context, tx Tx) error {
		tooLate = false
		var err error
		appt, err = tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status != model.AppointmentPending {
			return fmt.Errorf("appointment %s is %s: %w", appt.ID, appt.Status, ErrAlreadyProcessed)
		}
		book, err := tx.LockBook(ctx, appt.BookID)
		if err != nil {
			return err
		}

		now := s.now()
		if s.pastGrace(appt, now) {
			tooLate = true
			return s.expireAppointment(ctx, tx, &appt, &book)
		}

		holds, err := s.holdsBook(ctx, tx, book.ID, appt.UserID)
		if err != nil {
			return err
		}
		if holds {
			return ErrAlreadyBorrowed
		}
		appt.Status = model.AppointmentConfirmed
		appt.ConfirmedAt = &now
		appt.ConfirmedBy = actor.UserID
		appt.UpdatedAt = now
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		borrowal, err = s.openBorrowal(ctx, tx, &book, appt.UserID, actor.UserID, model.SourceAppointment, now.Add(s.policy.LoanPeriod))
		if err != nil {
			return err
		}
		appt.BorrowalID = borrowal.ID
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		return s.emit(ctx, tx, EventAppointmentConfirmed, "appointment", appt.ID, Notification{
			UserID:    appt.UserID,
			BookID:    book.ID,
			BookTitle: book.Title,
			DueDate:   &borrowal.DueDate,
			Message:   fmt.Sprintf("Pickup of %q confirmed. It is due on %s.", book.Title, borrowal.DueDate.Format(dateLayout)),
		})
	})
	if err != nil {
		return model.Appointment{}, model.Borrowal{}, err
	}
	if tooLate {
		s.logger.Info("appointment expired on confirm", "appointment_id", appt.ID, "pickup_time", appt.PickupTime)
		return appt, model.Borrowal{}, fmt.Errorf("appointment %s: %w", appt.ID, ErrTooLate)
	}
	s.logger.Info("appointment confirmed", "appointment_id", appt.ID, "borrowal_id", borrowal.ID)
	return appt, borrowal, nil
}

func (s *Service) CancelAppointment(ctx context.Context, actor Actor, appointmentID, reason string) (model.Appointment, error) {
	var appt model.Appointment
	err := s.inTx(ctx, "cancel_appointment", func(ctx context.Context, tx Tx) error {
		var err error
		appt, err = tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !actor.canActFor(appt.UserID) {
			return ErrForbidden
		}
		if appt.Status != model.AppointmentPending {
			return fmt.Errorf("appointment %s is %s: %w", appt.ID, appt.Status, ErrAlreadyProcessed)
		}
		book, err := tx.LockBook(ctx, appt.BookID)
		if err != nil {
			return err
		}

		appt.Status = model.AppointmentCancelled
		appt.CancellationReason = strings.TrimSpace(reason)
		appt.UpdatedAt = s.now()
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		if _, err := s.releaseCopy(ctx, tx, &book); err != nil {
			return err
		}
		return s.emit(ctx, tx, EventAppointmentCancelled, "appointment", appt.ID, Notification{
			UserID:    appt.UserID,
			BookID:    book.ID,
			BookTitle: book.Title,
			Reason:    appt.CancellationReason,
			Message:   fmt.Sprintf("Your pickup of %q was cancelled.", book.Title),
		})
	})
	if err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

// expireAppointment marks a pending appointment expired and frees its copy.
func (s *Service) expireAppointment(ctx context.Context, tx Tx, appt *model.Appointment, book *model.Book) error {
	appt.Status = model.AppointmentExpired
	appt.UpdatedAt = s.now()
	if err := tx.UpdateAppointment(ctx, *appt); err != nil {
		return err
	}
	if _, err := s.releaseCopy(ctx, tx, book); err != nil {
		return err
	}
	return s.emit(ctx, tx, EventAppointmentExpired, "appointment", appt.ID, Notification{
		UserID:     appt.UserID,
		BookID:     book.ID,
		BookTitle:  book.Title,
		PickupTime: &appt.PickupTime,
		Message:    fmt.Sprintf("Your pickup of %q expired and the copy was released.", book.Title),
	})
}

// ListAppointments returns appointments matching f. Readers only see their own.
func (s *Service) ListAppointments(ctx context.Context, actor Actor, f AppointmentFilter) ([]model.Appointment, error) {
	if !actor.Staff() {
		if actor.UserID == "" {
			return nil, ErrForbidden
		}
		f.UserID = actor.UserID
	}
	var appts []model.Appointment
	err := s.inTx(ctx, "list_appointments", func(ctx context.Context, tx Tx) error {
		var err error
		appts, err = tx.ListAppointments(ctx, f)
		return err
	})
	return appts, err
}

// PendingAppointments is the librarian confirmation view. It sweeps expired
// holds first so the list only shows confirmable appointments.
func (s *Service) PendingAppointments(ctx context.Context, actor Actor) ([]model.Appointment, error) {
	if !actor.Staff() {
		return nil, ErrForbidden
	}
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Warn("on-demand sweep failed", "err", err)
	}
	return s.ListAppointments(ctx, actor, AppointmentFilter{Status: model.AppointmentPending})
}
