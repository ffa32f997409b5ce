package outbox

import (
	"context"
	"time"
)

// Event is the domain event envelope written to the outbox inside the same
// transaction as the state change it describes. The Kafka topic equals EventType.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
}

type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

// Source hands out unpublished records. fn runs while the batch is claimed;
// the records are marked published only when fn returns nil.
type Source interface {
	PublishBatch(ctx context.Context, limit int, fn func(ctx context.Context, records []Record) error) error
}
