package messaging

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/agentkernel/agentkernel/internal/infrastructure/messaging/nats"
	"github.com/agentkernel/agentkernel/internal/infrastructure/persistence/postgres"
)

// OutboxRelay drains the transactional outbox toward NATS: committed
// domain events (run lifecycle, interrupt raised/resolved, group
// completed) become broker messages external consumers can subscribe to,
// with at-least-once delivery — a publish that fails is retried on the
// entry's own backoff schedule, never dropped.
type OutboxRelay struct {
	outbox    *postgres.Outbox
	publisher *nats.Publisher
	interval  time.Duration
	batchSize int
	stopCh    chan struct{}
}

// NewOutboxRelay creates a relay draining outbox toward publisher every
// interval, batchSize entries at a time.
func NewOutboxRelay(outbox *postgres.Outbox, publisher *nats.Publisher, interval time.Duration, batchSize int) *OutboxRelay {
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		stopCh:    make(chan struct{}),
	}
}

// Start runs the drain loop until the context ends or Stop is called.
func (r *OutboxRelay) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stopCh:
			return nil
		case <-ticker.C:
			if err := r.drain(ctx); err != nil {
				log.Printf("outbox relay: drain failed: %v", err)
			}
		}
	}
}

// Stop stops the outbox relay
func (r *OutboxRelay) Stop() {
	close(r.stopCh)
}

// drain publishes one batch of due entries. A failed publish marks the
// entry for retry and moves on; a failed settle aborts the batch so the
// entry is re-delivered rather than lost.
func (r *OutboxRelay) drain(ctx context.Context) error {
	entries, err := r.outbox.GetUnpublished(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get unpublished entries: %w", err)
	}

	for _, entry := range entries {
		if err := r.publishEntry(ctx, entry); err != nil {
			_ = r.outbox.MarkAsFailed(ctx, entry.ID, err.Error())
			continue
		}
		if err := r.outbox.MarkAsPublished(ctx, entry.ID); err != nil {
			return fmt.Errorf("failed to mark entry as published: %w", err)
		}
	}

	return nil
}

// publishEntry wraps one entry in its envelope and publishes it on the
// subject derived from its aggregate.
func (r *OutboxRelay) publishEntry(ctx context.Context, entry *postgres.OutboxEntry) error {
	envelope := map[string]interface{}{
		"event_id":       entry.EventID,
		"aggregate_type": entry.AggregateType,
		"aggregate_id":   entry.AggregateID,
		"event_type":     entry.EventType,
		"payload":        entry.Payload,
		"metadata":       entry.Metadata,
		"timestamp":      entry.CreatedAt,
	}

	if err := r.publisher.Publish(ctx, buildTopic(entry.AggregateType, entry.EventType), envelope); err != nil {
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}
	return nil
}

// buildTopic derives the NATS subject for an event:
// agentkernel.{category}.{aggregate}.{event_type}, e.g. a RunCompleted
// event lands on agentkernel.runs.run.run.completed.
func buildTopic(aggregateType, eventType string) string {
	category := "events"
	switch aggregateType {
	case "execution":
		category = "executions"
	case "run":
		category = "runs"
	case "interrupt":
		category = "interrupts"
	case "orchestration_group":
		category = "groups"
	}
	return fmt.Sprintf("agentkernel.%s.%s.%s", category, aggregateType, eventType)
}

// CleanupWorker trims published entries past the retention window so the
// outbox table stays bounded.
type CleanupWorker struct {
	outbox        *postgres.Outbox
	interval      time.Duration
	retentionDays int
	stopCh        chan struct{}
}

// NewCleanupWorker creates a new cleanup worker
func NewCleanupWorker(outbox *postgres.Outbox, interval time.Duration, retentionDays int) *CleanupWorker {
	return &CleanupWorker{
		outbox:        outbox,
		interval:      interval,
		retentionDays: retentionDays,
		stopCh:        make(chan struct{}),
	}
}

// Start runs the trim loop until the context ends or Stop is called.
func (w *CleanupWorker) Start(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			deleted, err := w.outbox.Cleanup(ctx, w.retentionDays)
			if err != nil {
				log.Printf("outbox cleanup: %v", err)
			} else if deleted > 0 {
				log.Printf("outbox cleanup: removed %d published entries", deleted)
			}
		}
	}
}

// Stop stops the cleanup worker
func (w *CleanupWorker) Stop() {
	close(w.stopCh)
}
