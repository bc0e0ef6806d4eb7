package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentops/relay/internal/domain/event"
)

// EventStore implements eventstore.Store using PostgreSQL (append-only).
// Events are stored as their flattened JSON wire form so a replay returns
// exactly what subscribers saw.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts a new event into the relay_events table.
func (s *EventStore) Append(ctx context.Context, deploymentID string, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO relay_events (deployment_id, event_type, stage, payload)
		 VALUES ($1, $2, $3, $4)`,
		deploymentID, string(ev.Type), ev.Stage, payload)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// LoadByDeployment returns all events for a deployment in insertion order.
func (s *EventStore) LoadByDeployment(ctx context.Context, deploymentID string) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM relay_events WHERE deployment_id = $1 ORDER BY id ASC`,
		deploymentID)
	if err != nil {
		return nil, fmt.Errorf("load events for %s: %w", deploymentID, err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev event.Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("unmarshal event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
