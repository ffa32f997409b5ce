package outbox

import (
	"context"
	"log/slog"
	"time"
)

type Publisher struct {
	source    Source
	sink      Sink
	logger    *slog.Logger
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

func NewPublisher(source Source, sink Sink, logger *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		source:    source,
		sink:      sink,
		logger:    logger,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	defer func() {
		if err := p.sink.Close(); err != nil {
			p.logger.Warn("outbox sink close failed", "err", err)
		}
	}()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishOnce(ctx); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// PublishOnce drains at most one batch and reports how many records were delivered.
func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	var n int
	err := p.source.PublishBatch(ctx, p.batchSize, func(ctx context.Context, records []Record) error {
		if len(records) == 0 {
			return nil
		}
		if err := p.sink.Write(ctx, records); err != nil {
			return err
		}
		n = len(records)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Debug("outbox batch published", "count", n)
	}
	return n, nil
}
