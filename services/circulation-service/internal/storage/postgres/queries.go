package postgres

import (
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
)

var (
	bookColumns        = []any{"id", "title", "author", "quantity", "available", "total_borrows", "created_at", "updated_at"}
	appointmentColumns = []any{"id", "book_id", "user_id", "pickup_time", "status", "agreed_to_terms", "confirmed_at", "confirmed_by", "borrowal_id", "cancellation_reason", "created_at", "updated_at"}
	reservationColumns = []any{"id", "book_id", "user_id", "status", "position", "expires_at", "borrowal_id", "created_at", "updated_at"}
	borrowalColumns    = []any{"id", "book_id", "user_id", "source", "borrowed_at", "due_date", "returned_at", "fee_cents", "created_by"}
	renewalColumns     = []any{"id", "borrowal_id", "user_id", "current_due_date", "requested_days", "status", "new_due_date", "processed_by", "processed_at", "rejection_reason", "created_at"}
)

func limited(ds *goqu.SelectDataset, limit int) *goqu.SelectDataset {
	if limit > 0 {
		ds = ds.Limit(uint(limit))
	}
	return ds
}

func selectByID(table string, columns []any, id string, lock bool) (string, []any, error) {
	ds := dialect.From(table).Prepared(true).Select(columns...).Where(goqu.C("id").Eq(id))
	if lock {
		ds = ds.ForUpdate(goqu.Wait)
	}
	return ds.ToSQL()
}

func booksQuery() (string, []any, error) {
	return dialect.From("books").Prepared(true).
		Select(bookColumns...).
		Order(goqu.C("created_at").Asc(), goqu.C("id").Asc()).
		ToSQL()
}

func appointmentsQuery(f circulation.AppointmentFilter) (string, []any, error) {
	ds := dialect.From("appointments").Prepared(true).Select(appointmentColumns...)
	if f.BookID != "" {
		ds = ds.Where(goqu.C("book_id").Eq(f.BookID))
	}
	if f.UserID != "" {
		ds = ds.Where(goqu.C("user_id").Eq(f.UserID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}
	if !f.PickupBefore.IsZero() {
		ds = ds.Where(goqu.C("pickup_time").Lt(f.PickupBefore))
	}
	ds = ds.Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())
	return limited(ds, f.Limit).ToSQL()
}

func reservationsQuery(f circulation.ReservationFilter) (string, []any, error) {
	ds := dialect.From("reservations").Prepared(true).Select(reservationColumns...)
	if f.BookID != "" {
		ds = ds.Where(goqu.C("book_id").Eq(f.BookID))
	}
	if f.UserID != "" {
		ds = ds.Where(goqu.C("user_id").Eq(f.UserID))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]any, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		ds = ds.Where(goqu.C("status").In(statuses...))
	}
	if !f.ExpiresBefore.IsZero() {
		ds = ds.Where(goqu.C("expires_at").Lt(f.ExpiresBefore))
	}
	ds = ds.Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())
	return limited(ds, f.Limit).ToSQL()
}

func borrowalsQuery(f circulation.BorrowalFilter) (string, []any, error) {
	ds := dialect.From("borrowals").Prepared(true).Select(borrowalColumns...)
	if f.BookID != "" {
		ds = ds.Where(goqu.C("book_id").Eq(f.BookID))
	}
	if f.UserID != "" {
		ds = ds.Where(goqu.C("user_id").Eq(f.UserID))
	}
	if f.OpenOnly {
		ds = ds.Where(goqu.C("returned_at").IsNull())
	}
	ds = ds.Order(goqu.C("borrowed_at").Asc(), goqu.C("id").Asc())
	return limited(ds, f.Limit).ToSQL()
}

func renewalsQuery(f circulation.RenewalFilter) (string, []any, error) {
	ds := dialect.From("renewals").Prepared(true).Select(renewalColumns...)
	if f.BorrowalID != "" {
		ds = ds.Where(goqu.C("borrowal_id").Eq(f.BorrowalID))
	}
	if f.Status != "" {
		ds = ds.Where(goqu.C("status").Eq(string(f.Status)))
	}
	ds = ds.Order(goqu.C("created_at").Asc(), goqu.C("id").Asc())
	return limited(ds, f.Limit).ToSQL()
}

func insertQuery(table string, rec goqu.Record) (string, []any, error) {
	return dialect.Insert(table).Prepared(true).Rows(rec).ToSQL()
}

func updateQuery(table, id string, rec goqu.Record) (string, []any, error) {
	return dialect.Update(table).Prepared(true).Set(rec).Where(goqu.C("id").Eq(id)).ToSQL()
}

// nullTime keeps NULL columns NULL instead of writing a zero timestamp.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
