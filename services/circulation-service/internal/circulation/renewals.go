package circulation

import (
	"context"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
)

// RequestRenewal asks staff to extend an open borrowal. Zero requestedDays
// uses the policy default.
func (s *Service) RequestRenewal(ctx context.Context, actor Actor, borrowalID string, requestedDays int) (model.RenewalRequest, error) {
	if requestedDays == 0 {
		requestedDays = s.policy.DefaultRenewalDays
	}
	if requestedDays < 1 || requestedDays > s.policy.MaxRenewalDays {
		return model.RenewalRequest{}, InvalidInput(fmt.Sprintf("requested days must be between 1 and %d", s.policy.MaxRenewalDays))
	}

	var req model.RenewalRequest
	err := s.inTx(ctx, "request_renewal", func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBorrowal(ctx, borrowalID)
		if err != nil {
			return err
		}
		if !actor.canActFor(b.UserID) {
			return ErrForbidden
		}
		if !b.Open() {
			return fmt.Errorf("borrowal %s: %w", b.ID, ErrAlreadyReturned)
		}
		pending, err := tx.ListRenewals(ctx, RenewalFilter{BorrowalID: b.ID, Status: model.RenewalPending, Limit: 1})
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return fmt.Errorf("renewal %s: %w", pending[0].ID, ErrConflict)
		}

		req = model.RenewalRequest{
			ID:             s.newID(),
			BorrowalID:     b.ID,
			UserID:         b.UserID,
			CurrentDueDate: b.DueDate,
			RequestedDays:  requestedDays,
			Status:         model.RenewalPending,
			CreatedAt:      s.now(),
		}
		if err := tx.InsertRenewal(ctx, req); err != nil {
			return fmt.Errorf("insert renewal: %w", err)
		}
		return s.emit(ctx, tx, EventRenewalRequested, "renewal", req.ID, Notification{
			UserID:  b.UserID,
			BookID:  b.BookID,
			DueDate: &req.CurrentDueDate,
			Message: fmt.Sprintf("Your request to renew for %d days was received.", requestedDays),
		})
	})
	if err != nil {
		return model.RenewalRequest{}, err
	}
	return req, nil
}

// ApproveRenewal moves the borrowal's due date to the recorded current due
// date plus the requested days. Inventory is untouched.
func (s *Service) ApproveRenewal(ctx context.Context, actor Actor, renewalID string) (model.RenewalRequest, model.Borrowal, error) {
	if !actor.Staff() {
		return model.RenewalRequest{}, model.Borrowal{}, ErrForbidden
	}

	var (
		req model.RenewalRequest
		b   model.Borrowal
	)
	err := s.inTx(ctx, "approve_renewal", func(ctx context.Context, tx Tx) error {
		var err error
		req, err = tx.GetRenewal(ctx, renewalID)
		if err != nil {
			return err
		}
		if req.Status != model.RenewalPending {
			return fmt.Errorf("renewal %s is %s: %w", req.ID, req.Status, ErrAlreadyProcessed)
		}
		b, err = tx.GetBorrowal(ctx, req.BorrowalID)
		if err != nil {
			return err
		}
		if !b.Open() {
			return fmt.Errorf("borrowal %s was returned: %w", b.ID, ErrInvalidState)
		}

		now := s.now()
		newDue := req.CurrentDueDate.AddDate(0, 0, req.RequestedDays)
		b.DueDate = newDue
		if err := tx.UpdateBorrowal(ctx, b); err != nil {
			return err
		}
		req.Status = model.RenewalApproved
		req.NewDueDate = &newDue
		req.ProcessedBy = actor.UserID
		req.ProcessedAt = &now
		if err := tx.UpdateRenewal(ctx, req); err != nil {
			return err
		}
		return s.emit(ctx, tx, EventRenewalApproved, "renewal", req.ID, Notification{
			UserID:     req.UserID,
			BookID:     b.BookID,
			NewDueDate: &newDue,
			Message:    fmt.Sprintf("Your renewal was approved. The new due date is %s.", newDue.Format(dateLayout)),
		})
	})
	if err != nil {
		return model.RenewalRequest{}, model.Borrowal{}, err
	}
	s.logger.Info("renewal approved", "renewal_id", req.ID, "borrowal_id", b.ID, "due_date", b.DueDate)
	return req, b, nil
}

func (s *Service) RejectRenewal(ctx context.Context, actor Actor, renewalID, reason string) (model.RenewalRequest, error) {
	if !actor.Staff() {
		return model.RenewalRequest{}, ErrForbidden
	}

	var req model.RenewalRequest
	err := s.inTx(ctx, "reject_renewal", func(ctx context.Context, tx Tx) error {
		var err error
		req, err = tx.GetRenewal(ctx, renewalID)
		if err != nil {
			return err
		}
		if req.Status != model.RenewalPending {
			return fmt.Errorf("renewal %s is %s: %w", req.ID, req.Status, ErrAlreadyProcessed)
		}
		now := s.now()
		req.Status = model.RenewalRejected
		req.ProcessedBy = actor.UserID
		req.ProcessedAt = &now
		req.RejectionReason = strings.TrimSpace(reason)
		if err := tx.UpdateRenewal(ctx, req); err != nil {
			return err
		}
		return s.emit(ctx, tx, EventRenewalRejected, "renewal", req.ID, Notification{
			UserID:  req.UserID,
			Reason:  req.RejectionReason,
			Message: "Your renewal request was declined.",
		})
	})
	if err != nil {
		return model.RenewalRequest{}, err
	}
	return req, nil
}

func (s *Service) ListRenewals(ctx context.Context, actor Actor, borrowalID string) ([]model.RenewalRequest, error) {
	var out []model.RenewalRequest
	err := s.inTx(ctx, "list_renewals", func(ctx context.Context, tx Tx) error {
		b, err := tx.GetBorrowal(ctx, borrowalID)
		if err != nil {
			return err
		}
		if !actor.canActFor(b.UserID) {
			return ErrForbidden
		}
		out, err = tx.ListRenewals(ctx, RenewalFilter{BorrowalID: b.ID})
		return err
	})
	return out, err
}
