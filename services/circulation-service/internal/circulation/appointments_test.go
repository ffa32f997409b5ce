package circulation_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSingleCopyPickupAndReturn(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)

	appt := f.appointment(t, alice, book.ID, time.Hour)
	assert.Equal(t, model.AppointmentPending, appt.Status)
	assert.Equal(t, 0, f.book(t, book.ID).Available)
	assert.Equal(t, model.BookBorrowed, f.book(t, book.ID).Status())

	_, err := f.svc.CreateAppointment(f.ctx, bob, circulation.NewAppointment{
		BookID:        book.ID,
		PickupTime:    start.Add(time.Hour),
		AgreedToTerms: true,
	})
	require.ErrorIs(t, err, circulation.ErrOutOfStock)

	f.clock.Advance(90 * time.Minute)
	confirmed, borrowal, err := f.svc.ConfirmAppointment(f.ctx, librarian, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentConfirmed, confirmed.Status)
	assert.Equal(t, borrowal.ID, confirmed.BorrowalID)
	assert.Equal(t, librarian.UserID, confirmed.ConfirmedBy)
	assert.Equal(t, f.clock.Now().Add(14*24*time.Hour), borrowal.DueDate)
	assert.Equal(t, model.SourceAppointment, borrowal.Source)
	assert.Equal(t, 0, f.book(t, book.ID).Available)
	f.requireLedger(t, book.ID)

	user, err := f.svc.GetUser(f.ctx, alice, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, []string{book.ID}, user.BorrowedBooks)
	assert.Equal(t, 1, user.BooksOut)

	returned, err := f.svc.ReturnBorrowal(f.ctx, alice, borrowal.ID)
	require.NoError(t, err)
	require.NotNil(t, returned.ReturnedAt)
	assert.Zero(t, returned.FeeCents)

	after := f.book(t, book.ID)
	assert.Equal(t, 1, after.Available)
	assert.Equal(t, model.BookAvailable, after.Status())
	assert.Equal(t, 1, after.TotalBorrows)
	f.requireLedger(t, book.ID)

	user, err = f.svc.GetUser(f.ctx, alice, alice.UserID)
	require.NoError(t, err)
	assert.Empty(t, user.BorrowedBooks)
	assert.Equal(t, []string{book.ID}, user.History)
}

func TestConcurrentAppointmentsForLastCopy(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)

	readers := []circulation.Actor{alice, bob}
	errs := make([]error, len(readers))
	var wg sync.WaitGroup
	for i, r := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.CreateAppointment(f.ctx, r, circulation.NewAppointment{
				BookID:        book.ID,
				PickupTime:    start.Add(time.Hour),
				AgreedToTerms: true,
			})
		}()
	}
	wg.Wait()

	var ok, outOfStock int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, circulation.ErrOutOfStock):
			outOfStock++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, outOfStock)
	assert.Equal(t, 0, f.book(t, book.ID).Available)
	f.requireLedger(t, book.ID)
}

func TestConfirmPastGraceExpiresAndReleases(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 2)
	appt := f.appointment(t, alice, book.ID, time.Hour)
	before := f.book(t, book.ID).Available

	f.clock.Advance(3*time.Hour + time.Minute)
	_, borrowal, err := f.svc.ConfirmAppointment(f.ctx, librarian, appt.ID)
	require.ErrorIs(t, err, circulation.ErrTooLate)
	assert.ErrorIs(t, err, circulation.ErrInvalidState)
	assert.Empty(t, borrowal.ID)

	assert.Equal(t, model.AppointmentExpired, f.appointmentByID(t, appt.ID).Status)
	assert.Equal(t, before+1, f.book(t, book.ID).Available)
	f.requireLedger(t, book.ID)
	assert.Contains(t, f.eventTypes(), circulation.EventAppointmentExpired)

	_, _, err = f.svc.ConfirmAppointment(f.ctx, librarian, appt.ID)
	assert.ErrorIs(t, err, circulation.ErrAlreadyProcessed)
}

func TestConfirmExactlyAtGraceBoundaryStillBorrows(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)
	appt := f.appointment(t, alice, book.ID, time.Hour)

	f.clock.Advance(3 * time.Hour)
	_, _, err := f.svc.ConfirmAppointment(f.ctx, librarian, appt.ID)
	require.NoError(t, err)
}

func TestCreateAppointmentValidation(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 3)

	_, err := f.svc.CreateAppointment(f.ctx, alice, circulation.NewAppointment{BookID: book.ID, PickupTime: start.Add(time.Hour)})
	assert.ErrorIs(t, err, circulation.ErrInvalidTerms)
	assert.ErrorIs(t, err, circulation.ErrInvalidInput)

	_, err = f.svc.CreateAppointment(f.ctx, alice, circulation.NewAppointment{BookID: book.ID, PickupTime: start, AgreedToTerms: true})
	assert.ErrorIs(t, err, circulation.ErrInvalidTime)

	_, err = f.svc.CreateAppointment(f.ctx, alice, circulation.NewAppointment{BookID: "missing", PickupTime: start.Add(time.Hour), AgreedToTerms: true})
	assert.ErrorIs(t, err, circulation.ErrNotFound)

	f.appointment(t, alice, book.ID, time.Hour)
	_, err = f.svc.CreateAppointment(f.ctx, alice, circulation.NewAppointment{BookID: book.ID, PickupTime: start.Add(2 * time.Hour), AgreedToTerms: true})
	assert.ErrorIs(t, err, circulation.ErrConflict)
	assert.Equal(t, 2, f.book(t, book.ID).Available)

	_, err = f.svc.CreateAppointment(f.ctx, alice, circulation.NewAppointment{UserID: bob.UserID, BookID: book.ID, PickupTime: start.Add(time.Hour), AgreedToTerms: true})
	assert.ErrorIs(t, err, circulation.ErrForbidden)

	_, err = f.svc.CreateAppointment(f.ctx, librarian, circulation.NewAppointment{UserID: bob.UserID, BookID: book.ID, PickupTime: start.Add(time.Hour), AgreedToTerms: true})
	assert.NoError(t, err)
	f.requireLedger(t, book.ID)
}

func TestCancelAppointment(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)
	appt := f.appointment(t, alice, book.ID, time.Hour)

	_, err := f.svc.CancelAppointment(f.ctx, bob, appt.ID, "not mine")
	require.ErrorIs(t, err, circulation.ErrForbidden)

	cancelled, err := f.svc.CancelAppointment(f.ctx, alice, appt.ID, "  changed my mind ")
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentCancelled, cancelled.Status)
	assert.Equal(t, "changed my mind", cancelled.CancellationReason)
	assert.Equal(t, 1, f.book(t, book.ID).Available)

	_, err = f.svc.CancelAppointment(f.ctx, alice, appt.ID, "")
	assert.ErrorIs(t, err, circulation.ErrAlreadyProcessed)

	_, _, err = f.svc.ConfirmAppointment(f.ctx, librarian, appt.ID)
	assert.ErrorIs(t, err, circulation.ErrAlreadyProcessed)
	f.requireLedger(t, book.ID)
}

func TestConfirmRequiresStaff(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)
	appt := f.appointment(t, alice, book.ID, time.Hour)

	_, _, err := f.svc.ConfirmAppointment(f.ctx, alice, appt.ID)
	assert.ErrorIs(t, err, circulation.ErrForbidden)

	_, _, err = f.svc.ConfirmAppointment(f.ctx, admin, appt.ID)
	assert.NoError(t, err)
}

func TestCancelledAppointmentReleasesToQueue(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)
	appt := f.appointment(t, alice, book.ID, time.Hour)
	res := f.reserve(t, bob, book.ID)

	_, err := f.svc.CancelAppointment(f.ctx, alice, appt.ID, "")
	require.NoError(t, err)

	assert.Equal(t, model.ReservationReady, f.reservation(t, res.ID).Status)
	assert.Equal(t, 0, f.book(t, book.ID).Available)
	f.requireLedger(t, book.ID)
}

func TestListAppointmentsScopesReaders(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 2)
	f.appointment(t, alice, book.ID, time.Hour)
	f.appointment(t, bob, book.ID, time.Hour)

	mine, err := f.svc.ListAppointments(f.ctx, alice, circulation.AppointmentFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, alice.UserID, mine[0].UserID)

	all, err := f.svc.ListAppointments(f.ctx, librarian, circulation.AppointmentFilter{BookID: book.ID})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestPendingAppointmentsSweepsFirst(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 2)
	late := f.appointment(t, alice, book.ID, time.Hour)
	f.clock.Advance(2 * time.Hour)
	onTime := f.appointment(t, bob, book.ID, time.Hour)
	f.clock.Advance(90 * time.Minute)

	pending, err := f.svc.PendingAppointments(f.ctx, librarian)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, onTime.ID, pending[0].ID)
	assert.Equal(t, model.AppointmentExpired, f.appointmentByID(t, late.ID).Status)

	_, err = f.svc.PendingAppointments(f.ctx, alice)
	assert.ErrorIs(t, err, circulation.ErrForbidden)
}

func TestCreateAppointmentExpiresLapsedHold(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 2)
	old := f.appointment(t, alice, book.ID, time.Hour)

	f.clock.Advance(4 * time.Hour)
	fresh := f.appointment(t, alice, book.ID, time.Hour)

	assert.NotEqual(t, old.ID, fresh.ID)
	assert.Equal(t, model.AppointmentExpired, f.appointmentByID(t, old.ID).Status)
	assert.Equal(t, 1, f.book(t, book.ID).Available)
	f.requireLedger(t, book.ID)
}

func TestCreateAppointmentKeepsExpiryWhenRefused(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)
	old := f.appointment(t, alice, book.ID, time.Hour)
	waiting := f.reserve(t, bob, book.ID)

	f.clock.Advance(4 * time.Hour)
	_, err := f.svc.CreateAppointment(f.ctx, alice, circulation.NewAppointment{
		BookID:        book.ID,
		PickupTime:    f.clock.Now().Add(time.Hour),
		AgreedToTerms: true,
	})
	require.ErrorIs(t, err, circulation.ErrOutOfStock)

	assert.Equal(t, model.AppointmentExpired, f.appointmentByID(t, old.ID).Status)
	assert.Equal(t, model.ReservationReady, f.reservation(t, waiting.ID).Status)
	f.requireLedger(t, book.ID)
}

func TestCreateAppointmentRejectsOpenReservation(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)
	f.borrow(t, carol, book.ID)
	res := f.reserve(t, alice, book.ID)
	_, err := f.svc.SetQuantity(f.ctx, librarian, book.ID, 3)
	require.NoError(t, err)
	require.Equal(t, model.ReservationReady, f.reservation(t, res.ID).Status)
	require.Equal(t, 1, f.book(t, book.ID).Available)

	_, err = f.svc.CreateAppointment(f.ctx, alice, circulation.NewAppointment{
		BookID:        book.ID,
		PickupTime:    f.clock.Now().Add(time.Hour),
		AgreedToTerms: true,
	})
	require.ErrorIs(t, err, circulation.ErrAlreadyReserved)
	assert.Equal(t, 1, f.book(t, book.ID).Available)
	f.requireLedger(t, book.ID)
}

func TestDirectBorrowWithdrawsPendingAppointment(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 2)
	appt := f.appointment(t, alice, book.ID, time.Hour)

	f.borrow(t, alice, book.ID)

	withdrawn := f.appointmentByID(t, appt.ID)
	assert.Equal(t, model.AppointmentCancelled, withdrawn.Status)
	assert.Equal(t, 1, f.book(t, book.ID).Available)
	f.requireLedger(t, book.ID)
}
