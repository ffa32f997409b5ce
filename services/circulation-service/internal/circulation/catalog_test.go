package circulation_test

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/circulation/libs/db"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddBook(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AddBook(f.ctx, alice, circulation.NewBook{Title: "Dune", Quantity: 1})
	require.ErrorIs(t, err, circulation.ErrForbidden)
	_, err = f.svc.AddBook(f.ctx, librarian, circulation.NewBook{Title: "  ", Quantity: 1})
	require.ErrorIs(t, err, circulation.ErrInvalidInput)
	_, err = f.svc.AddBook(f.ctx, librarian, circulation.NewBook{Title: "Dune", Quantity: 0})
	require.ErrorIs(t, err, circulation.ErrInvalidInput)

	b, err := f.svc.AddBook(f.ctx, librarian, circulation.NewBook{Title: " Dune ", Author: "Frank Herbert", Quantity: 3})
	require.NoError(t, err)
	assert.Equal(t, "Dune", b.Title)
	assert.Equal(t, 3, b.Available)
	assert.Equal(t, model.BookAvailable, b.Status())

	books, err := f.svc.ListBooks(f.ctx)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, b.ID, books[0].ID)

	_, err = f.svc.GetBook(f.ctx, "missing")
	assert.ErrorIs(t, err, circulation.ErrNotFound)
}

func TestSetQuantity(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 2)
	f.borrow(t, alice, book.ID)
	f.appointment(t, bob, book.ID, time.Hour)

	_, err := f.svc.SetQuantity(f.ctx, librarian, book.ID, 1)
	require.ErrorIs(t, err, circulation.ErrInvalidInput)
	_, err = f.svc.SetQuantity(f.ctx, alice, book.ID, 5)
	require.ErrorIs(t, err, circulation.ErrForbidden)

	waiting := f.reserve(t, carol, book.ID)
	updated, err := f.svc.SetQuantity(f.ctx, librarian, book.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Quantity)
	assert.Equal(t, 1, updated.Available)
	assert.Equal(t, model.ReservationReady, f.reservation(t, waiting.ID).Status)
	f.requireLedger(t, book.ID)

	shrunk, err := f.svc.SetQuantity(f.ctx, librarian, book.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 0, shrunk.Available)
	f.requireLedger(t, book.ID)
}

// flakyStore fails the first transactions with a retryable conflict.
type flakyStore struct {
	circulation.Store
	failures int
	calls    int
}

func (s *flakyStore) InTx(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	s.calls++
	if s.calls <= s.failures {
		return db.ErrConcurrencyConflict
	}
	return s.Store.InTx(ctx, fn)
}

func TestConflictsAreRetried(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)

	flaky := &flakyStore{Store: f.store, failures: 2}
	svc := f.service(flaky)
	_, err := svc.CreateAppointment(f.ctx, alice, circulation.NewAppointment{
		BookID:        book.ID,
		PickupTime:    start.Add(time.Hour),
		AgreedToTerms: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, flaky.calls)
	assert.Equal(t, 0, f.book(t, book.ID).Available)

	exhausted := &flakyStore{Store: f.store, failures: 100}
	_, err = f.service(exhausted).GetBook(f.ctx, book.ID)
	assert.ErrorIs(t, err, db.ErrConcurrencyConflict)
	assert.Equal(t, 5, exhausted.calls)
}
