package postgres

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/circulation/libs/db"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/outbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs only when CIRCULATION_TEST_DATABASE_URL points at a disposable database.
func openTestStore(t *testing.T) (*Store, *db.Pool) {
	t.Helper()
	url := os.Getenv("CIRCULATION_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CIRCULATION_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url, db.PoolConfig{})
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	_, err = pool.Exec(ctx, `TRUNCATE outbox_events, renewals, borrowals, reservations, appointments, books, circulation_users`)
	require.NoError(t, err)
	return New(pool), pool
}

func TestPostgresCirculationRoundTrip(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	svc := circulation.NewService(store, circulation.DefaultPolicy(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	lib := circulation.Actor{UserID: "lib", Role: "librarian"}
	reader := circulation.Actor{UserID: "reader", Role: "reader"}

	book, err := svc.AddBook(ctx, lib, circulation.NewBook{Title: "Dune", Quantity: 1})
	require.NoError(t, err)
	appt, err := svc.CreateAppointment(ctx, reader, circulation.NewAppointment{
		BookID:        book.ID,
		PickupTime:    time.Now().Add(time.Hour),
		AgreedToTerms: true,
	})
	require.NoError(t, err)

	_, err = svc.CreateAppointment(ctx, circulation.Actor{UserID: "other", Role: "reader"}, circulation.NewAppointment{
		BookID:        book.ID,
		PickupTime:    time.Now().Add(time.Hour),
		AgreedToTerms: true,
	})
	require.ErrorIs(t, err, circulation.ErrOutOfStock)

	_, borrowal, err := svc.ConfirmAppointment(ctx, lib, appt.ID)
	require.NoError(t, err)
	_, err = svc.ReturnBorrowal(ctx, reader, borrowal.ID)
	require.NoError(t, err)

	got, err := svc.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Available)
	assert.Equal(t, 1, got.TotalBorrows)

	user, err := svc.GetUser(ctx, reader, reader.UserID)
	require.NoError(t, err)
	assert.Empty(t, user.BorrowedBooks)
	assert.Equal(t, []string{book.ID}, user.History)

	var published []outbox.Record
	err = store.PublishBatch(ctx, 100, func(_ context.Context, records []outbox.Record) error {
		published = records
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, published)

	err = store.PublishBatch(ctx, 100, func(_ context.Context, records []outbox.Record) error {
		assert.Empty(t, records)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresConcurrentBorrowsForNewReader(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	svc := circulation.NewService(store, circulation.DefaultPolicy(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	lib := circulation.Actor{UserID: "lib", Role: "librarian"}

	var books []string
	for _, title := range []string{"Dune", "Emma"} {
		b, err := svc.AddBook(ctx, lib, circulation.NewBook{Title: title, Quantity: 1})
		require.NoError(t, err)
		books = append(books, b.ID)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(books))
	for i, id := range books {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.DirectBorrow(ctx, lib, circulation.NewBorrowal{BookID: id, UserID: "newcomer"})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	user, err := svc.GetUser(ctx, lib, "newcomer")
	require.NoError(t, err)
	assert.Equal(t, 2, user.BooksOut)
	assert.ElementsMatch(t, books, user.BorrowedBooks)
}
