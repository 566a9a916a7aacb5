package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentkernel/agentkernel/internal/pkg/errors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OutboxEntry is one committed-but-unpublished domain event. The events
// table trigger writes entries in the same transaction as the event
// insert, so a crash between commit and publish never loses one.
type OutboxEntry struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       map[string]interface{}
	Metadata      map[string]interface{}
	CreatedAt     time.Time
	Published     bool
	PublishedAt   *time.Time
	Attempts      int
	LastError     string
	NextRetryAt   *time.Time
}

// Outbox reads and settles the transactional outbox the relay worker
// drains toward the broker.
type Outbox struct {
	pool *pgxpool.Pool
}

// NewOutbox creates a new outbox
func NewOutbox(pool *pgxpool.Pool) *Outbox {
	return &Outbox{pool: pool}
}

// GetUnpublished retrieves entries due for publishing, oldest first.
// Entries in a retry backoff window are excluded until it elapses.
func (o *Outbox) GetUnpublished(ctx context.Context, limit int) ([]*OutboxEntry, error) {
	rows, err := o.pool.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, metadata,
		       created_at, published, published_at, attempts, last_error, next_retry_at
		FROM outbox
		WHERE NOT published AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.Internal("failed to query outbox", err)
	}
	defer rows.Close()

	entries := make([]*OutboxEntry, 0)
	for rows.Next() {
		var entry OutboxEntry
		var payloadJSON, metadataJSON []byte
		var lastError *string

		if err := rows.Scan(
			&entry.ID, &entry.EventID, &entry.AggregateType, &entry.AggregateID, &entry.EventType,
			&payloadJSON, &metadataJSON, &entry.CreatedAt, &entry.Published, &entry.PublishedAt,
			&entry.Attempts, &lastError, &entry.NextRetryAt,
		); err != nil {
			return nil, errors.Internal("failed to scan outbox entry", err)
		}

		_ = json.Unmarshal(payloadJSON, &entry.Payload)
		_ = json.Unmarshal(metadataJSON, &entry.Metadata)
		if lastError != nil {
			entry.LastError = *lastError
		}
		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

// MarkAsPublished settles an entry after a successful publish.
func (o *Outbox) MarkAsPublished(ctx context.Context, id int64) error {
	_, err := o.pool.Exec(ctx, `
		UPDATE outbox
		SET published = TRUE, published_at = $1
		WHERE id = $2
	`, time.Now(), id)
	if err != nil {
		return errors.Internal("failed to mark entry as published", err)
	}
	return nil
}

// MarkAsFailed records a publish failure and schedules the retry:
// 1min, 2min, 4min... capped at an hour.
func (o *Outbox) MarkAsFailed(ctx context.Context, id int64, errorMsg string) error {
	var attempts int
	if err := o.pool.QueryRow(ctx, `SELECT attempts FROM outbox WHERE id = $1`, id).Scan(&attempts); err != nil {
		return errors.Internal("failed to get attempts", err)
	}

	backoffMinutes := 1 << attempts
	if backoffMinutes > 60 {
		backoffMinutes = 60
	}
	nextRetry := time.Now().Add(time.Duration(backoffMinutes) * time.Minute)

	_, err := o.pool.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $1, next_retry_at = $2
		WHERE id = $3
	`, errorMsg, nextRetry, id)
	if err != nil {
		return errors.Internal("failed to mark entry as failed", err)
	}
	return nil
}

// Cleanup removes published entries older than the retention window.
func (o *Outbox) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	result, err := o.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE published = TRUE
		  AND published_at < NOW() - make_interval(days => $1)
	`, retentionDays)
	if err != nil {
		return 0, errors.Internal("failed to cleanup outbox", err)
	}
	return result.RowsAffected(), nil
}
