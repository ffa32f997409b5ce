package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/circulation/libs/auth"
	"github.com/md-rashed-zaman/circulation/libs/db"
	otelx "github.com/md-rashed-zaman/circulation/libs/otel"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
	"go.opentelemetry.io/otel/codes"
)

// Policy holds the circulation time windows and limits.
type Policy struct {
	LoanPeriod         time.Duration
	PickupGrace        time.Duration
	HoldWindow         time.Duration
	DefaultRenewalDays int
	MaxRenewalDays     int
	FeePerDayCents     int64
}

func DefaultPolicy() Policy {
	return Policy{
		LoanPeriod:         14 * 24 * time.Hour,
		PickupGrace:        2 * time.Hour,
		HoldWindow:         7 * 24 * time.Hour,
		DefaultRenewalDays: 14,
		MaxRenewalDays:     60,
		FeePerDayCents:     25,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.LoanPeriod <= 0 {
		p.LoanPeriod = d.LoanPeriod
	}
	if p.PickupGrace <= 0 {
		p.PickupGrace = d.PickupGrace
	}
	if p.HoldWindow <= 0 {
		p.HoldWindow = d.HoldWindow
	}
	if p.DefaultRenewalDays <= 0 {
		p.DefaultRenewalDays = d.DefaultRenewalDays
	}
	if p.MaxRenewalDays <= 0 {
		p.MaxRenewalDays = d.MaxRenewalDays
	}
	if p.FeePerDayCents < 0 {
		p.FeePerDayCents = 0
	}
	return p
}

// Actor is the already-authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   string
}

func (a Actor) Staff() bool {
	return auth.IsStaff(a.Role)
}

func (a Actor) canActFor(userID string) bool {
	return a.Staff() || (a.UserID != "" && a.UserID == userID)
}

type Service struct {
	store     Store
	policy    Policy
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
	retryOpts []db.RetryOption
}

type Option func(*Service)

// WithClock replaces the wall clock used for every timestamp and deadline.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(s *Service) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithRetry(opts ...db.RetryOption) Option {
	return func(s *Service) {
		s.retryOpts = append(s.retryOpts, opts...)
	}
}

func NewService(store Store, policy Policy, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		policy: policy.withDefaults(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() Policy {
	return s.policy
}

// inTx runs fn in a store transaction under a span named after operation,
// retrying on concurrency conflicts.
func (s *Service) inTx(ctx context.Context, operation string, fn func(ctx context.Context, tx Tx) error) error {
	ctx, span := otelx.Tracer().Start(ctx, "circulation."+operation)
	defer span.End()

	opts := append([]db.RetryOption{db.WithRetryLogger(s.logger, operation)}, s.retryOpts...)
	err := db.Retry(ctx, func(ctx context.Context) error {
		return s.store.InTx(ctx, fn)
	}, opts...)
	if err != nil && CodeOf(err) == "" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Service) loadUser(ctx context.Context, tx Tx, userID string) (model.User, error) {
	u, err := tx.GetUser(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return model.User{ID: userID}, nil
	}
	return u, err
}

func (s *Service) holdsBook(ctx context.Context, tx Tx, bookID, userID string) (bool, error) {
	open, err := tx.ListBorrowals(ctx, BorrowalFilter{BookID: bookID, UserID: userID, OpenOnly: true, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(open) > 0, nil
}

// openBorrowal creates the loan record and adds the book to the reader's active set.
// The caller must already hold the copy and have closed the record holding it.
// Any other hold the reader has on the book is withdrawn.
func (s *Service) openBorrowal(ctx context.Context, tx Tx, book *model.Book, userID, createdBy string, source model.BorrowalSource, due time.Time) (model.Borrowal, error) {
	now := s.now()
	b := model.Borrowal{
		ID:         s.newID(),
		BookID:     book.ID,
		UserID:     userID,
		Source:     source,
		BorrowedAt: now,
		DueDate:    due,
		CreatedBy:  createdBy,
	}
	if err := tx.InsertBorrowal(ctx, b); err != nil {
		return model.Borrowal{}, fmt.Errorf("insert borrowal: %w", err)
	}
	u, err := tx.LockUser(ctx, userID)
	if err != nil {
		return model.Borrowal{}, err
	}
	u.CheckOut(book.ID)
	if err := tx.SaveUser(ctx, u); err != nil {
		return model.Borrowal{}, fmt.Errorf("save user: %w", err)
	}
	if err := s.withdrawHolds(ctx, tx, book, userID); err != nil {
		return model.Borrowal{}, err
	}
	if err := s.emit(ctx, tx, EventBorrowalCreated, "borrowal", b.ID, Notification{
		UserID:    userID,
		BookID:    book.ID,
		BookTitle: book.Title,
		DueDate:   &b.DueDate,
		Message:   fmt.Sprintf("You borrowed %q. It is due on %s.", book.Title, b.DueDate.Format(dateLayout)),
	}); err != nil {
		return model.Borrowal{}, err
	}
	return b, nil
}

func (s *Service) GetUser(ctx context.Context, actor Actor, userID string) (model.User, error) {
	if !actor.canActFor(userID) {
		return model.User{}, ErrForbidden
	}
	var u model.User
	err := s.inTx(ctx, "get_user", func(ctx context.Context, tx Tx) error {
		var err error
		u, err = s.loadUser(ctx, tx, userID)
		return err
	})
	return u, err
}
