// Package memory is an in-process circulation store. A single mutex serializes
// transactions and writes become visible only on commit, which gives the same
// all-or-nothing behaviour as the Postgres store for tests and dev mode.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/model"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/outbox"
)

type Store struct {
	mu           sync.Mutex
	publishMu    sync.Mutex
	books        *table[model.Book]
	appointments *table[model.Appointment]
	reservations *table[model.Reservation]
	borrowals    *table[model.Borrowal]
	renewals     *table[model.RenewalRequest]
	users        *table[model.User]
	events       []outbox.Record
	published    int
	nextEventID  int64
}

func New() *Store {
	return &Store{
		books:        newTable[model.Book](),
		appointments: newTable[model.Appointment](),
		reservations: newTable[model.Reservation](),
		borrowals:    newTable[model.Borrowal](),
		renewals:     newTable[model.RenewalRequest](),
		users:        newTable[model.User](),
	}
}

var (
	_ circulation.Store = (*Store)(nil)
	_ outbox.Source     = (*Store)(nil)
)

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{
		store:        s,
		books:        newView(s.books),
		appointments: newView(s.appointments),
		reservations: newView(s.reservations),
		borrowals:    newView(s.borrowals),
		renewals:     newView(s.renewals),
		users:        newView(s.users),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commit()
	return nil
}

// PublishBatch hands out unpublished events in append order. Transactions keep
// running while fn writes the batch; publishers take turns.
func (s *Store) PublishBatch(ctx context.Context, limit int, fn func(ctx context.Context, records []outbox.Record) error) error {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()

	s.mu.Lock()
	end := len(s.events)
	if limit > 0 && s.published+limit < end {
		end = s.published + limit
	}
	batch := slices.Clone(s.events[s.published:end])
	s.mu.Unlock()

	if err := fn(ctx, batch); err != nil {
		return err
	}
	s.mu.Lock()
	s.published = end
	s.mu.Unlock()
	return nil
}

// Events returns every event appended so far, published or not.
func (s *Store) Events() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events)
}

type tx struct {
	store        *Store
	books        *view[model.Book]
	appointments *view[model.Appointment]
	reservations *view[model.Reservation]
	borrowals    *view[model.Borrowal]
	renewals     *view[model.RenewalRequest]
	users        *view[model.User]
	events       []outbox.Event
}

func (t *tx) commit() {
	t.books.commit()
	t.appointments.commit()
	t.reservations.commit()
	t.borrowals.commit()
	t.renewals.commit()
	t.users.commit()
	now := time.Now().UTC()
	for _, evt := range t.events {
		t.store.nextEventID++
		t.store.events = append(t.store.events, outbox.Record{
			ID:            t.store.nextEventID,
			EventID:       evt.EventID,
			AggregateType: evt.AggregateType,
			AggregateID:   evt.AggregateID,
			EventType:     evt.EventType,
			Payload:       evt.Payload,
			Traceparent:   evt.Traceparent,
			Tracestate:    evt.Tracestate,
			CreatedAt:     now,
		})
	}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, circulation.ErrNotFound)
}

func insert[T any](v *view[T], kind, id string, row T) error {
	if _, ok := v.get(id); ok {
		return fmt.Errorf("%s %s already exists", kind, id)
	}
	v.put(id, row)
	return nil
}

func update[T any](v *view[T], kind, id string, row T) error {
	if _, ok := v.get(id); !ok {
		return notFound(kind, id)
	}
	v.put(id, row)
	return nil
}

func get[T any](v *view[T], kind, id string) (T, error) {
	row, ok := v.get(id)
	if !ok {
		var zero T
		return zero, notFound(kind, id)
	}
	return row, nil
}

func list[T any](v *view[T], match func(T) bool, limit int) []T {
	var out []T
	v.each(func(row T) bool {
		if match(row) {
			out = append(out, row)
		}
		return limit <= 0 || len(out) < limit
	})
	return out
}

func (t *tx) InsertBook(_ context.Context, b model.Book) error {
	return insert(t.books, "book", b.ID, b)
}

func (t *tx) GetBook(_ context.Context, id string) (model.Book, error) {
	return get(t.books, "book", id)
}

func (t *tx) LockBook(ctx context.Context, id string) (model.Book, error) {
	return t.GetBook(ctx, id)
}

func (t *tx) UpdateBook(_ context.Context, b model.Book) error {
	return update(t.books, "book", b.ID, b)
}

func (t *tx) ListBooks(_ context.Context) ([]model.Book, error) {
	return list(t.books, func(model.Book) bool { return true }, 0), nil
}

func (t *tx) InsertAppointment(_ context.Context, a model.Appointment) error {
	return insert(t.appointments, "appointment", a.ID, a)
}

func (t *tx) GetAppointment(_ context.Context, id string) (model.Appointment, error) {
	return get(t.appointments, "appointment", id)
}

func (t *tx) UpdateAppointment(_ context.Context, a model.Appointment) error {
	return update(t.appointments, "appointment", a.ID, a)
}

func (t *tx) ListAppointments(_ context.Context, f circulation.AppointmentFilter) ([]model.Appointment, error) {
	return list(t.appointments, f.Match, f.Limit), nil
}

func (t *tx) InsertReservation(_ context.Context, r model.Reservation) error {
	return insert(t.reservations, "reservation", r.ID, r)
}

func (t *tx) GetReservation(_ context.Context, id string) (model.Reservation, error) {
	return get(t.reservations, "reservation", id)
}

func (t *tx) UpdateReservation(_ context.Context, r model.Reservation) error {
	return update(t.reservations, "reservation", r.ID, r)
}

func (t *tx) ListReservations(_ context.Context, f circulation.ReservationFilter) ([]model.Reservation, error) {
	return list(t.reservations, f.Match, f.Limit), nil
}

func (t *tx) InsertBorrowal(_ context.Context, b model.Borrowal) error {
	return insert(t.borrowals, "borrowal", b.ID, b)
}

func (t *tx) GetBorrowal(_ context.Context, id string) (model.Borrowal, error) {
	return get(t.borrowals, "borrowal", id)
}

func (t *tx) UpdateBorrowal(_ context.Context, b model.Borrowal) error {
	return update(t.borrowals, "borrowal", b.ID, b)
}

func (t *tx) ListBorrowals(_ context.Context, f circulation.BorrowalFilter) ([]model.Borrowal, error) {
	return list(t.borrowals, f.Match, f.Limit), nil
}

func (t *tx) InsertRenewal(_ context.Context, r model.RenewalRequest) error {
	return insert(t.renewals, "renewal", r.ID, r)
}

func (t *tx) GetRenewal(_ context.Context, id string) (model.RenewalRequest, error) {
	return get(t.renewals, "renewal", id)
}

func (t *tx) UpdateRenewal(_ context.Context, r model.RenewalRequest) error {
	return update(t.renewals, "renewal", r.ID, r)
}

func (t *tx) ListRenewals(_ context.Context, f circulation.RenewalFilter) ([]model.RenewalRequest, error) {
	return list(t.renewals, f.Match, f.Limit), nil
}

func (t *tx) GetUser(_ context.Context, id string) (model.User, error) {
	u, err := get(t.users, "user", id)
	if err != nil {
		return model.User{}, err
	}
	u.BorrowedBooks = slices.Clone(u.BorrowedBooks)
	u.History = slices.Clone(u.History)
	return u, nil
}

func (t *tx) LockUser(ctx context.Context, id string) (model.User, error) {
	u, err := t.GetUser(ctx, id)
	if errors.Is(err, circulation.ErrNotFound) {
		return model.User{ID: id}, nil
	}
	return u, err
}

func (t *tx) SaveUser(_ context.Context, u model.User) error {
	u.BorrowedBooks = slices.Clone(u.BorrowedBooks)
	u.History = slices.Clone(u.History)
	t.users.put(u.ID, u)
	return nil
}

func (t *tx) AppendEvent(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}
