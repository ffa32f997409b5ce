package postgres

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/circulation/libs/db"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/outbox"
)

type tx struct {
	tx pgx.Tx
}

type scanner interface {
	Scan(dest ...any) error
}

func lookupErr(kind, id string, err error) error {
	if db.IsNotFound(err) {
		return fmt.Errorf("%s %s: %w", kind, id, circulation.ErrNotFound)
	}
	return err
}

func (t *tx) exec(ctx context.Context, query string, args []any, buildErr error) error {
	if buildErr != nil {
		return buildErr
	}
	_, err := t.tx.Exec(ctx, query, args...)
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", circulation.ErrConflict, err)
	}
	return err
}

// execUpdate fails with ErrNotFound when no row matched.
func (t *tx) execUpdate(ctx context.Context, kind, id string, query string, args []any, buildErr error) error {
	if buildErr != nil {
		return buildErr
	}
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %v", circulation.ErrConflict, err)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, circulation.ErrNotFound)
	}
	return nil
}

func collect[T any](ctx context.Context, q pgx.Tx, query string, args []any, buildErr error, scan func(scanner) (T, error)) ([]T, error) {
	if buildErr != nil {
		return nil, buildErr
	}
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanBook(row scanner) (model.Book, error) {
	var b model.Book
	err := row.Scan(&b.ID, &b.Title, &b.Author, &b.Quantity, &b.Available, &b.TotalBorrows, &b.CreatedAt, &b.UpdatedAt)
	return b, err
}

func (t *tx) InsertBook(ctx context.Context, b model.Book) error {
	q, args, err := insertQuery("books", goqu.Record{
		"id":            b.ID,
		"title":         b.Title,
		"author":        b.Author,
		"quantity":      b.Quantity,
		"available":     b.Available,
		"total_borrows": b.TotalBorrows,
		"created_at":    b.CreatedAt,
		"updated_at":    b.UpdatedAt,
	})
	return t.exec(ctx, q, args, err)
}

func (t *tx) getBook(ctx context.Context, id string, lock bool) (model.Book, error) {
	q, args, err := selectByID("books", bookColumns, id, lock)
	if err != nil {
		return model.Book{}, err
	}
	b, err := scanBook(t.tx.QueryRow(ctx, q, args...))
	if err != nil {
		return model.Book{}, lookupErr("book", id, err)
	}
	return b, nil
}

func (t *tx) GetBook(ctx context.Context, id string) (model.Book, error) {
	return t.getBook(ctx, id, false)
}

func (t *tx) LockBook(ctx context.Context, id string) (model.Book, error) {
	return t.getBook(ctx, id, true)
}

func (t *tx) UpdateBook(ctx context.Context, b model.Book) error {
	q, args, err := updateQuery("books", b.ID, goqu.Record{
		"title":         b.Title,
		"author":        b.Author,
		"quantity":      b.Quantity,
		"available":     b.Available,
		"total_borrows": b.TotalBorrows,
		"updated_at":    b.UpdatedAt,
	})
	return t.execUpdate(ctx, "book", b.ID, q, args, err)
}

func (t *tx) ListBooks(ctx context.Context) ([]model.Book, error) {
	q, args, err := booksQuery()
	return collect(ctx, t.tx, q, args, err, scanBook)
}

func scanAppointment(row scanner) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.BookID, &a.UserID, &a.PickupTime, &a.Status, &a.AgreedToTerms,
		&a.ConfirmedAt, &a.ConfirmedBy, &a.BorrowalID, &a.CancellationReason, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (t *tx) InsertAppointment(ctx context.Context, a model.Appointment) error {
	q, args, err := insertQuery("appointments", goqu.Record{
		"id":                  a.ID,
		"book_id":             a.BookID,
		"user_id":             a.UserID,
		"pickup_time":         a.PickupTime,
		"status":              string(a.Status),
		"agreed_to_terms":     a.AgreedToTerms,
		"confirmed_at":        nullTime(a.ConfirmedAt),
		"confirmed_by":        a.ConfirmedBy,
		"borrowal_id":         a.BorrowalID,
		"cancellation_reason": a.CancellationReason,
		"created_at":          a.CreatedAt,
		"updated_at":          a.UpdatedAt,
	})
	return t.exec(ctx, q, args, err)
}

func (t *tx) GetAppointment(ctx context.Context, id string) (model.Appointment, error) {
	q, args, err := selectByID("appointments", appointmentColumns, id, true)
	if err != nil {
		return model.Appointment{}, err
	}
	a, err := scanAppointment(t.tx.QueryRow(ctx, q, args...))
	if err != nil {
		return model.Appointment{}, lookupErr("appointment", id, err)
	}
	return a, nil
}

func (t *tx) UpdateAppointment(ctx context.Context, a model.Appointment) error {
	q, args, err := updateQuery("appointments", a.ID, goqu.Record{
		"status":              string(a.Status),
		"confirmed_at":        nullTime(a.ConfirmedAt),
		"confirmed_by":        a.ConfirmedBy,
		"borrowal_id":         a.BorrowalID,
		"cancellation_reason": a.CancellationReason,
		"updated_at":          a.UpdatedAt,
	})
	return t.execUpdate(ctx, "appointment", a.ID, q, args, err)
}

func (t *tx) ListAppointments(ctx context.Context, f circulation.AppointmentFilter) ([]model.Appointment, error) {
	q, args, err := appointmentsQuery(f)
	return collect(ctx, t.tx, q, args, err, scanAppointment)
}

func scanReservation(row scanner) (model.Reservation, error) {
	var r model.Reservation
	err := row.Scan(&r.ID, &r.BookID, &r.UserID, &r.Status, &r.Position, &r.ExpiresAt, &r.BorrowalID, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (t *tx) InsertReservation(ctx context.Context, r model.Reservation) error {
	q, args, err := insertQuery("reservations", goqu.Record{
		"id":          r.ID,
		"book_id":     r.BookID,
		"user_id":     r.UserID,
		"status":      string(r.Status),
		"position":    r.Position,
		"expires_at":  nullTime(r.ExpiresAt),
		"borrowal_id": r.BorrowalID,
		"created_at":  r.CreatedAt,
		"updated_at":  r.UpdatedAt,
	})
	return t.exec(ctx, q, args, err)
}

func (t *tx) GetReservation(ctx context.Context, id string) (model.Reservation, error) {
	q, args, err := selectByID("reservations", reservationColumns, id, true)
	if err != nil {
		return model.Reservation{}, err
	}
	r, err := scanReservation(t.tx.QueryRow(ctx, q, args...))
	if err != nil {
		return model.Reservation{}, lookupErr("reservation", id, err)
	}
	return r, nil
}

func (t *tx) UpdateReservation(ctx context.Context, r model.Reservation) error {
	q, args, err := updateQuery("reservations", r.ID, goqu.Record{
		"status":      string(r.Status),
		"position":    r.Position,
		"expires_at":  nullTime(r.ExpiresAt),
		"borrowal_id": r.BorrowalID,
		"updated_at":  r.UpdatedAt,
	})
	return t.execUpdate(ctx, "reservation", r.ID, q, args, err)
}

func (t *tx) ListReservations(ctx context.Context, f circulation.ReservationFilter) ([]model.Reservation, error) {
	q, args, err := reservationsQuery(f)
	return collect(ctx, t.tx, q, args, err, scanReservation)
}

func scanBorrowal(row scanner) (model.Borrowal, error) {
	var b model.Borrowal
	err := row.Scan(&b.ID, &b.BookID, &b.UserID, &b.Source, &b.BorrowedAt, &b.DueDate, &b.ReturnedAt, &b.FeeCents, &b.CreatedBy)
	return b, err
}

func (t *tx) InsertBorrowal(ctx context.Context, b model.Borrowal) error {
	q, args, err := insertQuery("borrowals", goqu.Record{
		"id":          b.ID,
		"book_id":     b.BookID,
		"user_id":     b.UserID,
		"source":      string(b.Source),
		"borrowed_at": b.BorrowedAt,
		"due_date":    b.DueDate,
		"returned_at": nullTime(b.ReturnedAt),
		"fee_cents":   b.FeeCents,
		"created_by":  b.CreatedBy,
	})
	return t.exec(ctx, q, args, err)
}

func (t *tx) GetBorrowal(ctx context.Context, id string) (model.Borrowal, error) {
	q, args, err := selectByID("borrowals", borrowalColumns, id, true)
	if err != nil {
		return model.Borrowal{}, err
	}
	b, err := scanBorrowal(t.tx.QueryRow(ctx, q, args...))
	if err != nil {
		return model.Borrowal{}, lookupErr("borrowal", id, err)
	}
	return b, nil
}

func (t *tx) UpdateBorrowal(ctx context.Context, b model.Borrowal) error {
	q, args, err := updateQuery("borrowals", b.ID, goqu.Record{
		"due_date":    b.DueDate,
		"returned_at": nullTime(b.ReturnedAt),
		"fee_cents":   b.FeeCents,
	})
	return t.execUpdate(ctx, "borrowal", b.ID, q, args, err)
}

func (t *tx) ListBorrowals(ctx context.Context, f circulation.BorrowalFilter) ([]model.Borrowal, error) {
	q, args, err := borrowalsQuery(f)
	return collect(ctx, t.tx, q, args, err, scanBorrowal)
}

func scanRenewal(row scanner) (model.RenewalRequest, error) {
	var r model.RenewalRequest
	err := row.Scan(&r.ID, &r.BorrowalID, &r.UserID, &r.CurrentDueDate, &r.RequestedDays, &r.Status,
		&r.NewDueDate, &r.ProcessedBy, &r.ProcessedAt, &r.RejectionReason, &r.CreatedAt)
	return r, err
}

func (t *tx) InsertRenewal(ctx context.Context, r model.RenewalRequest) error {
	q, args, err := insertQuery("renewals", goqu.Record{
		"id":               r.ID,
		"borrowal_id":      r.BorrowalID,
		"user_id":          r.UserID,
		"current_due_date": r.CurrentDueDate,
		"requested_days":   r.RequestedDays,
		"status":           string(r.Status),
		"new_due_date":     nullTime(r.NewDueDate),
		"processed_by":     r.ProcessedBy,
		"processed_at":     nullTime(r.ProcessedAt),
		"rejection_reason": r.RejectionReason,
		"created_at":       r.CreatedAt,
	})
	return t.exec(ctx, q, args, err)
}

func (t *tx) GetRenewal(ctx context.Context, id string) (model.RenewalRequest, error) {
	q, args, err := selectByID("renewals", renewalColumns, id, true)
	if err != nil {
		return model.RenewalRequest{}, err
	}
	r, err := scanRenewal(t.tx.QueryRow(ctx, q, args...))
	if err != nil {
		return model.RenewalRequest{}, lookupErr("renewal", id, err)
	}
	return r, nil
}

func (t *tx) UpdateRenewal(ctx context.Context, r model.RenewalRequest) error {
	q, args, err := updateQuery("renewals", r.ID, goqu.Record{
		"status":           string(r.Status),
		"new_due_date":     nullTime(r.NewDueDate),
		"processed_by":     r.ProcessedBy,
		"processed_at":     nullTime(r.ProcessedAt),
		"rejection_reason": r.RejectionReason,
	})
	return t.execUpdate(ctx, "renewal", r.ID, q, args, err)
}

func (t *tx) ListRenewals(ctx context.Context, f circulation.RenewalFilter) ([]model.RenewalRequest, error) {
	q, args, err := renewalsQuery(f)
	return collect(ctx, t.tx, q, args, err, scanRenewal)
}

func (t *tx) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	err := t.tx.QueryRow(ctx, `
		SELECT id, books_out, borrowed_books, history
		FROM circulation_users
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&u.ID, &u.BooksOut, &u.BorrowedBooks, &u.History)
	if err != nil {
		return model.User{}, lookupErr("user", id, err)
	}
	return u, nil
}

// LockUser inserts a blank row first so concurrent writers for a new reader
// block on the same row lock.
func (t *tx) LockUser(ctx context.Context, id string) (model.User, error) {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO circulation_users (id) VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, id)
	if err != nil {
		return model.User{}, err
	}
	return t.GetUser(ctx, id)
}

func (t *tx) SaveUser(ctx context.Context, u model.User) error {
	borrowed := u.BorrowedBooks
	if borrowed == nil {
		borrowed = []string{}
	}
	history := u.History
	if history == nil {
		history = []string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO circulation_users (id, books_out, borrowed_books, history)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET books_out = EXCLUDED.books_out,
			borrowed_books = EXCLUDED.borrowed_books,
			history = EXCLUDED.history
	`, u.ID, u.BooksOut, borrowed, history)
	return err
}

func (t *tx) AppendEvent(ctx context.Context, evt outbox.Event) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, evt.EventID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, evt.Traceparent, evt.Tracestate)
	return err
}
