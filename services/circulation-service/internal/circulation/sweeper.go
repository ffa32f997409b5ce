package circulation

import (
	"context"
	"errors"
	"fmt"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
)

type SweepResult struct {
	ExpiredAppointments int `json:"expired_appointments"`
	ExpiredReservations int `json:"expired_reservations"`
	// Skipped counts candidates another actor processed first.
	Skipped int `json:"skipped"`
}

// Sweep expires pending appointments past their pickup grace and ready
// reservations past their hold window. Each record is handled in its own
// transaction, so a sweep racing a librarian never fails on the loser's side.
func (s *Service) Sweep(ctx context.Context) (SweepResult, error) {
	var (
		res    SweepResult
		appts  []model.Appointment
		ready  []model.Reservation
		errs   []error
		now    = s.now()
		cutoff = now.Add(-s.policy.PickupGrace)
	)
	err := s.inTx(ctx, "sweep_scan", func(ctx context.Context, tx Tx) error {
		var err error
		appts, err = tx.ListAppointments(ctx, AppointmentFilter{Status: model.AppointmentPending, PickupBefore: cutoff})
		if err != nil {
			return err
		}
		ready, err = tx.ListReservations(ctx, ReservationFilter{
			Statuses:      []model.ReservationStatus{model.ReservationReady},
			ExpiresBefore: now,
		})
		return err
	})
	if err != nil {
		return res, fmt.Errorf("sweep scan: %w", err)
	}

	for _, a := range appts {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		err := s.sweepAppointment(ctx, a.ID)
		switch {
		case err == nil:
			res.ExpiredAppointments++
		case errors.Is(err, ErrAlreadyProcessed):
			res.Skipped++
			s.logger.Debug("sweep skipped appointment", "appointment_id", a.ID, "err", err)
		default:
			errs = append(errs, fmt.Errorf("appointment %s: %w", a.ID, err))
		}
	}
	for _, r := range ready {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		err := s.sweepReservation(ctx, r.ID)
		switch {
		case err == nil:
			res.ExpiredReservations++
		case errors.Is(err, ErrAlreadyProcessed):
			res.Skipped++
			s.logger.Debug("sweep skipped reservation", "reservation_id", r.ID, "err", err)
		default:
			errs = append(errs, fmt.Errorf("reservation %s: %w", r.ID, err))
		}
	}

	if res.ExpiredAppointments > 0 || res.ExpiredReservations > 0 || len(errs) > 0 {
		s.logger.Info("sweep finished",
			"expired_appointments", res.ExpiredAppointments,
			"expired_reservations", res.ExpiredReservations,
			"skipped", res.Skipped,
			"failed", len(errs),
		)
	}
	return res, errors.Join(errs...)
}

// sweepAppointment re-checks the candidate under lock; a record that is no
// longer pending or no longer overdue counts as already processed.
func (s *Service) sweepAppointment(ctx context.Context, id string) error {
	return s.inTx(ctx, "sweep_appointment", func(ctx context.Context, tx Tx) error {
		appt, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if appt.Status != model.AppointmentPending || !s.pastGrace(appt, s.now()) {
			return fmt.Errorf("appointment is %s: %w", appt.Status, ErrAlreadyProcessed)
		}
		book, err := tx.LockBook(ctx, appt.BookID)
		if err != nil {
			return err
		}
		return s.expireAppointment(ctx, tx, &appt, &book)
	})
}

func (s *Service) sweepReservation(ctx context.Context, id string) error {
	return s.inTx(ctx, "sweep_reservation", func(ctx context.Context, tx Tx) error {
		res, err := tx.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if res.Status != model.ReservationReady || res.ExpiresAt == nil || !s.now().After(*res.ExpiresAt) {
			return fmt.Errorf("reservation is %s: %w", res.Status, ErrAlreadyProcessed)
		}
		book, err := tx.LockBook(ctx, res.BookID)
		if err != nil {
			return err
		}
		return s.expireReservation(ctx, tx, &res, &book)
	})
}
