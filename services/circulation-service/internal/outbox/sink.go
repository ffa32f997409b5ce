package outbox

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/circulation/libs/kafkax"
	otelx "github.com/md-rashed-zaman/circulation/libs/otel"
	"github.com/segmentio/kafka-go"
)

// Sink delivers a claimed batch downstream.
type Sink interface {
	Write(ctx context.Context, records []Record) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

func (s *KafkaSink) Write(ctx context.Context, records []Record) error {
	msgs := make([]kafka.Message, 0, len(records))
	for _, r := range records {
		msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
		msg := kafka.Message{
			Topic: r.EventType,
			Key:   []byte(r.AggregateID),
			Value: r.Payload,
			Headers: []kafka.Header{
				{Key: kafkax.HeaderEventID, Value: []byte(r.EventID)},
				{Key: kafkax.HeaderEventType, Value: []byte(r.EventType)},
			},
		}
		msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
		msgs = append(msgs, msg)
	}
	return s.writer.WriteMessages(ctx, msgs...)
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// LogSink writes events to the service log; used when no brokers are configured.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Write(_ context.Context, records []Record) error {
	for _, r := range records {
		s.logger.Info("event",
			"event_id", r.EventID,
			"event_type", r.EventType,
			"aggregate_id", r.AggregateID,
			"payload", string(r.Payload),
		)
	}
	return nil
}

func (s *LogSink) Close() error { return nil }
