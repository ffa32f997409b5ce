package circulation_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/circulation/libs/auth"
	"github.com/md-rashed-zaman/circulation/libs/db"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	librarian = circulation.Actor{UserID: "lib-1", Role: auth.RoleLibrarian}
	admin     = circulation.Actor{UserID: "admin-1", Role: auth.RoleAdmin}
	alice     = circulation.Actor{UserID: "alice", Role: auth.RoleReader}
	bob       = circulation.Actor{UserID: "bob", Role: auth.RoleReader}
	carol     = circulation.Actor{UserID: "carol", Role: auth.RoleReader}
	dave      = circulation.Actor{UserID: "dave", Role: auth.RoleReader}
)

var start = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	ctx   context.Context
	store *memory.Store
	clock *fakeClock
	svc   *circulation.Service
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:   context.Background(),
		store: memory.New(),
		clock: &fakeClock{t: start},
	}
	f.svc = f.service(f.store)
	return f
}

func (f *fixture) service(store circulation.Store) *circulation.Service {
	return circulation.NewService(store, circulation.DefaultPolicy(), discardLogger(),
		circulation.WithClock(f.clock.Now),
		circulation.WithRetry(db.WithBaseDelay(0)),
	)
}

func (f *fixture) addBook(t *testing.T, quantity int) model.Book {
	t.Helper()
	b, err := f.svc.AddBook(f.ctx, librarian, circulation.NewBook{Title: "Dune", Author: "Frank Herbert", Quantity: quantity})
	require.NoError(t, err)
	return b
}

func (f *fixture) book(t *testing.T, id string) model.Book {
	t.Helper()
	b, err := f.svc.GetBook(f.ctx, id)
	require.NoError(t, err)
	return b
}

func (f *fixture) appointment(t *testing.T, actor circulation.Actor, bookID string, pickupIn time.Duration) model.Appointment {
	t.Helper()
	a, err := f.svc.CreateAppointment(f.ctx, actor, circulation.NewAppointment{
		BookID:        bookID,
		PickupTime:    f.clock.Now().Add(pickupIn),
		AgreedToTerms: true,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) borrow(t *testing.T, actor circulation.Actor, bookID string) model.Borrowal {
	t.Helper()
	b, err := f.svc.DirectBorrow(f.ctx, librarian, circulation.NewBorrowal{BookID: bookID, UserID: actor.UserID})
	require.NoError(t, err)
	return b
}

func (f *fixture) reserve(t *testing.T, actor circulation.Actor, bookID string) model.Reservation {
	t.Helper()
	r, err := f.svc.CreateReservation(f.ctx, actor, bookID, "")
	require.NoError(t, err)
	return r
}

func (f *fixture) reservation(t *testing.T, id string) model.Reservation {
	t.Helper()
	var r model.Reservation
	require.NoError(t, f.store.InTx(f.ctx, func(ctx context.Context, tx circulation.Tx) error {
		var err error
		r, err = tx.GetReservation(ctx, id)
		return err
	}))
	return r
}

func (f *fixture) appointmentByID(t *testing.T, id string) model.Appointment {
	t.Helper()
	var a model.Appointment
	require.NoError(t, f.store.InTx(f.ctx, func(ctx context.Context, tx circulation.Tx) error {
		var err error
		a, err = tx.GetAppointment(ctx, id)
		return err
	}))
	return a
}

// requireLedger checks that every owned copy is accounted for exactly once.
func (f *fixture) requireLedger(t *testing.T, bookID string) {
	t.Helper()
	require.NoError(t, f.store.InTx(f.ctx, func(ctx context.Context, tx circulation.Tx) error {
		b, err := tx.GetBook(ctx, bookID)
		require.NoError(t, err)
		pending, err := tx.ListAppointments(ctx, circulation.AppointmentFilter{BookID: bookID, Status: model.AppointmentPending})
		require.NoError(t, err)
		open, err := tx.ListBorrowals(ctx, circulation.BorrowalFilter{BookID: bookID, OpenOnly: true})
		require.NoError(t, err)
		ready, err := tx.ListReservations(ctx, circulation.ReservationFilter{
			BookID:   bookID,
			Statuses: []model.ReservationStatus{model.ReservationReady},
		})
		require.NoError(t, err)

		assert.GreaterOrEqual(t, b.Available, 0)
		assert.LessOrEqual(t, b.Available, b.Quantity)
		assert.Equal(t, b.Quantity, b.Available+len(pending)+len(open)+len(ready),
			"available=%d pending=%d open=%d ready=%d", b.Available, len(pending), len(open), len(ready))
		return nil
	}))
}

func (f *fixture) eventTypes() []string {
	var out []string
	for _, r := range f.store.Events() {
		out = append(out, r.EventType)
	}
	return out
}
