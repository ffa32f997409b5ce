package circulation_test

import (
	"context"
	"testing"
	"time"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectBorrow(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)

	_, err := f.svc.DirectBorrow(f.ctx, alice, circulation.NewBorrowal{BookID: book.ID, UserID: alice.UserID})
	require.ErrorIs(t, err, circulation.ErrForbidden)

	_, err = f.svc.DirectBorrow(f.ctx, librarian, circulation.NewBorrowal{BookID: book.ID, UserID: alice.UserID, DueDate: start.Add(-time.Hour)})
	require.ErrorIs(t, err, circulation.ErrInvalidInput)

	due := start.Add(72 * time.Hour)
	b, err := f.svc.DirectBorrow(f.ctx, librarian, circulation.NewBorrowal{BookID: book.ID, UserID: alice.UserID, DueDate: due})
	require.NoError(t, err)
	assert.Equal(t, due, b.DueDate)
	assert.Equal(t, model.SourceDirect, b.Source)
	assert.Equal(t, librarian.UserID, b.CreatedBy)
	assert.True(t, b.Open())
	assert.Equal(t, 0, f.book(t, book.ID).Available)

	_, err = f.svc.DirectBorrow(f.ctx, librarian, circulation.NewBorrowal{BookID: book.ID, UserID: alice.UserID})
	require.ErrorIs(t, err, circulation.ErrAlreadyBorrowed)

	_, err = f.svc.DirectBorrow(f.ctx, librarian, circulation.NewBorrowal{BookID: book.ID, UserID: bob.UserID})
	require.ErrorIs(t, err, circulation.ErrOutOfStock)
	f.requireLedger(t, book.ID)
}

func TestDirectBorrowDefaultsDueDate(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)
	b := f.borrow(t, alice, book.ID)
	assert.Equal(t, start.Add(14*24*time.Hour), b.DueDate)
}

func TestReturnTwiceFails(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)
	b := f.borrow(t, alice, book.ID)

	_, err := f.svc.ReturnBorrowal(f.ctx, bob, b.ID)
	require.ErrorIs(t, err, circulation.ErrForbidden)

	_, err = f.svc.ReturnBorrowal(f.ctx, alice, b.ID)
	require.NoError(t, err)
	_, err = f.svc.ReturnBorrowal(f.ctx, alice, b.ID)
	require.ErrorIs(t, err, circulation.ErrAlreadyReturned)
	assert.Equal(t, 1, f.book(t, book.ID).Available)
	assert.Equal(t, 1, f.book(t, book.ID).TotalBorrows)

	_, err = f.svc.ReturnBorrowal(f.ctx, alice, "missing")
	assert.ErrorIs(t, err, circulation.ErrNotFound)
}

func TestLateReturnFlagsFee(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)
	b := f.borrow(t, alice, book.ID)

	f.clock.Advance(14*24*time.Hour + 49*time.Hour)
	returned, err := f.svc.ReturnBorrowal(f.ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3*25), returned.FeeCents)

	events := f.store.Events()
	last := events[len(events)-1]
	require.Equal(t, circulation.EventBorrowalReturned, last.EventType)
	n, err := circulation.DecodeNotification(last.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(75), n.FeeCents)
	assert.Equal(t, alice.UserID, n.UserID)
	assert.Equal(t, book.Title, n.BookTitle)
}

func TestListBorrowals(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 2)
	first := f.borrow(t, alice, book.ID)
	f.borrow(t, bob, book.ID)
	_, err := f.svc.ReturnBorrowal(f.ctx, alice, first.ID)
	require.NoError(t, err)
	f.borrow(t, alice, book.ID)

	all, err := f.svc.ListBorrowals(f.ctx, alice, circulation.BorrowalFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	open, err := f.svc.ListBorrowals(f.ctx, alice, circulation.BorrowalFilter{OpenOnly: true})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].Open())

	everyone, err := f.svc.ListBorrowals(f.ctx, librarian, circulation.BorrowalFilter{OpenOnly: true})
	require.NoError(t, err)
	assert.Len(t, everyone, 2)
}

// userCallStore records the user record calls made inside each transaction.
type userCallStore struct {
	circulation.Store
	calls []string
}

func (s *userCallStore) InTx(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	return s.Store.InTx(ctx, func(ctx context.Context, tx circulation.Tx) error {
		return fn(ctx, &userCallTx{Tx: tx, store: s})
	})
}

type userCallTx struct {
	circulation.Tx
	store *userCallStore
}

func (t *userCallTx) GetUser(ctx context.Context, id string) (model.User, error) {
	t.store.calls = append(t.store.calls, "get "+id)
	return t.Tx.GetUser(ctx, id)
}

func (t *userCallTx) LockUser(ctx context.Context, id string) (model.User, error) {
	t.store.calls = append(t.store.calls, "lock "+id)
	return t.Tx.LockUser(ctx, id)
}

func (t *userCallTx) SaveUser(ctx context.Context, u model.User) error {
	t.store.calls = append(t.store.calls, "save "+u.ID)
	return t.Tx.SaveUser(ctx, u)
}

func TestUserRecordIsLockedBeforeWrite(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)
	rec := &userCallStore{Store: f.store}
	svc := f.service(rec)

	b, err := svc.DirectBorrow(f.ctx, librarian, circulation.NewBorrowal{BookID: book.ID, UserID: alice.UserID})
	require.NoError(t, err)
	_, err = svc.ReturnBorrowal(f.ctx, alice, b.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{"lock alice", "save alice", "lock alice", "save alice"}, rec.calls)

	u, err := svc.GetUser(f.ctx, alice, alice.UserID)
	require.NoError(t, err)
	assert.Equal(t, 0, u.BooksOut)
	assert.Equal(t, []string{book.ID}, u.History)
}
