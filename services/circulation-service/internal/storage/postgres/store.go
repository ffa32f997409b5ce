package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/circulation/libs/db"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/circulation"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/outbox"
)

//go:embed schema.sql
var schema string

var dialect = goqu.Dialect("postgres")

type Store struct {
	pool *db.Pool
}

func New(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ circulation.Store = (*Store)(nil)
	_ outbox.Source     = (*Store)(nil)
)

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *db.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx circulation.Tx) error) error {
	return s.pool.InTx(ctx, func(pgtx pgx.Tx) error {
		return fn(ctx, &tx{tx: pgtx})
	})
}

// PublishBatch claims unpublished events with SKIP LOCKED so several
// publishers can drain the outbox without handing out the same record twice.
func (s *Store) PublishBatch(ctx context.Context, limit int, fn func(ctx context.Context, records []outbox.Record) error) error {
	return s.pool.InTx(ctx, func(pgtx pgx.Tx) error {
		records, err := fetchUnpublished(ctx, pgtx, limit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		if err := fn(ctx, records); err != nil {
			return err
		}
		ids := make([]int64, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		_, err = pgtx.Exec(ctx, `
			UPDATE outbox_events
			SET published_at = now()
			WHERE id = ANY($1)
		`, ids)
		return err
	})
}

func fetchUnpublished(ctx context.Context, q pgx.Tx, limit int) ([]outbox.Record, error) {
	rows, err := q.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []outbox.Record
	for rows.Next() {
		var r outbox.Record
		if err := rows.Scan(&r.ID, &r.EventID, &r.AggregateType, &r.AggregateID, &r.EventType, &r.Payload, &r.Traceparent, &r.Tracestate, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}
