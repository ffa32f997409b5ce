package circulation

import (
	"context"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	otelx "github.com/md-rashed-zaman/circulation/libs/otel"
	"github.com/md-rashed-zaman/circulation/services/circulation-service/internal/outbox"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const dateLayout = "2006-01-02"

// Event types double as Kafka topics.
const (
	EventAppointmentCreated   = "circulation.appointment.created.v1"
	EventAppointmentConfirmed = "circulation.appointment.confirmed.v1"
	EventAppointmentCancelled = "circulation.appointment.cancelled.v1"
	EventAppointmentExpired   = "circulation.appointment.expired.v1"
	EventReservationCreated   = "circulation.reservation.created.v1"
	EventReservationReady     = "circulation.reservation.ready.v1"
	EventReservationCancelled = "circulation.reservation.cancelled.v1"
	EventReservationExpired   = "circulation.reservation.expired.v1"
	EventReservationFulfilled = "circulation.reservation.fulfilled.v1"
	EventBorrowalCreated      = "circulation.borrowal.created.v1"
	EventBorrowalReturned     = "circulation.borrowal.returned.v1"
	EventRenewalRequested     = "circulation.renewal.requested.v1"
	EventRenewalApproved      = "circulation.renewal.approved.v1"
	EventRenewalRejected      = "circulation.renewal.rejected.v1"
)

// Notification is the payload of every circulation event. Delivery channels
// (email, in-app) consume it and format their own copy from the semantic fields.
type Notification struct {
	EventID    string     `json:"event_id"`
	Kind       string     `json:"kind"`
	UserID     string     `json:"user_id"`
	Message    string     `json:"message"`
	BookID     string     `json:"book_id,omitempty"`
	BookTitle  string     `json:"book_title,omitempty"`
	PickupTime *time.Time `json:"pickup_time,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	NewDueDate *time.Time `json:"new_due_date,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	FeeCents   int64      `json:"fee_cents,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

func DecodeNotification(payload []byte) (Notification, error) {
	var n Notification
	err := json.Unmarshal(payload, &n)
	return n, err
}

func (s *Service) emit(ctx context.Context, tx Tx, eventType, aggregateType, aggregateID string, n Notification) error {
	n.EventID = s.newID()
	n.Kind = eventType
	n.OccurredAt = s.now()
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	if err := tx.AppendEvent(ctx, outbox.Event{
		EventID:       n.EventID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		Traceparent:   traceparent,
		Tracestate:    tracestate,
	}); err != nil {
		return fmt.Errorf("append %s: %w", eventType, err)
	}
	return nil
}
