package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Log appends a lifecycle event for feed. detail is stored as JSONB.
func (s *EventStore) Log(ctx context.Context, feed, event string, detail map[string]any) error {
	var detailJSON []byte
	if len(detail) > 0 {
		var err error
		if detailJSON, err = json.Marshal(detail); err != nil {
			return fmt.Errorf("postgres: marshal event detail: %w", err)
		}
	}

	const query = `INSERT INTO feed_events (feed, event, detail) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, feed, event, detailJSON); err != nil {
		return fmt.Errorf("postgres: log %s event %s: %w", feed, event, err)
	}
	return nil
}

// List returns events newest first. An empty feed lists every feed.
func (s *EventStore) List(ctx context.Context, feed string, opts domain.ListOpts) ([]domain.FeedEvent, error) {
	query := `SELECT id, feed, event, detail, created_at FROM feed_events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if feed != "" {
		query += fmt.Sprintf(" AND feed = $%d", argIdx)
		args = append(args, feed)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list feed events: %w", err)
	}
	defer rows.Close()

	var events []domain.FeedEvent
	for rows.Next() {
		var e domain.FeedEvent
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.Feed, &e.Event, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan feed event: %w", err)
		}
		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event detail: %w", err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list feed events rows: %w", err)
	}
	return events, nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
