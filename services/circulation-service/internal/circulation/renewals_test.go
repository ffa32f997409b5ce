package circulation_test

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproveRenewalShiftsDueDateOnly(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 2)
	due := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	b, err := f.svc.DirectBorrow(f.ctx, librarian, circulation.NewBorrowal{BookID: book.ID, UserID: alice.UserID, DueDate: due})
	require.NoError(t, err)
	availableBefore := f.book(t, book.ID).Available

	req, err := f.svc.RequestRenewal(f.ctx, alice, b.ID, 14)
	require.NoError(t, err)
	assert.Equal(t, model.RenewalPending, req.Status)
	assert.Equal(t, due, req.CurrentDueDate)

	approved, borrowal, err := f.svc.ApproveRenewal(f.ctx, librarian, req.ID)
	require.NoError(t, err)
	want := time.Date(2024, 1, 24, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, want, borrowal.DueDate)
	require.NotNil(t, approved.NewDueDate)
	assert.Equal(t, want, *approved.NewDueDate)
	assert.Equal(t, model.RenewalApproved, approved.Status)
	assert.Equal(t, librarian.UserID, approved.ProcessedBy)
	assert.Equal(t, availableBefore, f.book(t, book.ID).Available)
	f.requireLedger(t, book.ID)

	_, _, err = f.svc.ApproveRenewal(f.ctx, librarian, req.ID)
	assert.ErrorIs(t, err, circulation.ErrAlreadyProcessed)
}

func TestRequestRenewalRules(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)
	b := f.borrow(t, alice, book.ID)

	_, err := f.svc.RequestRenewal(f.ctx, alice, b.ID, 61)
	require.ErrorIs(t, err, circulation.ErrInvalidInput)
	_, err = f.svc.RequestRenewal(f.ctx, alice, b.ID, -1)
	require.ErrorIs(t, err, circulation.ErrInvalidInput)
	_, err = f.svc.RequestRenewal(f.ctx, bob, b.ID, 7)
	require.ErrorIs(t, err, circulation.ErrForbidden)

	req, err := f.svc.RequestRenewal(f.ctx, alice, b.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 14, req.RequestedDays)

	_, err = f.svc.RequestRenewal(f.ctx, alice, b.ID, 7)
	require.ErrorIs(t, err, circulation.ErrConflict)

	rejected, err := f.svc.RejectRenewal(f.ctx, librarian, req.ID, "book is in demand")
	require.NoError(t, err)
	assert.Equal(t, model.RenewalRejected, rejected.Status)
	assert.Equal(t, "book is in demand", rejected.RejectionReason)

	_, err = f.svc.RequestRenewal(f.ctx, alice, b.ID, 7)
	require.NoError(t, err)

	list, err := f.svc.ListRenewals(f.ctx, alice, b.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	_, err = f.svc.ListRenewals(f.ctx, bob, b.ID)
	assert.ErrorIs(t, err, circulation.ErrForbidden)

	_, err = f.svc.ReturnBorrowal(f.ctx, alice, b.ID)
	require.NoError(t, err)
	_, err = f.svc.RequestRenewal(f.ctx, alice, b.ID, 7)
	assert.ErrorIs(t, err, circulation.ErrAlreadyReturned)
}

func TestApproveAfterReturnIsInvalid(t *testing.T) {
	f := newFixture(t)
	book := f.addBook(t, 1)
	b := f.borrow(t, alice, book.ID)
	req, err := f.svc.RequestRenewal(f.ctx, alice, b.ID, 7)
	require.NoError(t, err)
	_, err = f.svc.ReturnBorrowal(f.ctx, alice, b.ID)
	require.NoError(t, err)

	_, _, err = f.svc.ApproveRenewal(f.ctx, librarian, req.ID)
	assert.ErrorIs(t, err, circulation.ErrInvalidState)
	_, _, err = f.svc.ApproveRenewal(f.ctx, alice, req.ID)
	assert.ErrorIs(t, err, circulation.ErrForbidden)
	_, err = f.svc.RejectRenewal(f.ctx, alice, req.ID, "")
	assert.ErrorIs(t, err, circulation.ErrForbidden)
}
