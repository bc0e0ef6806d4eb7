package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// OutputsStore implements eventstore.OutputsStore: the latest reported
// outputs per stage of a deployment, upserted as each stage completes.
type OutputsStore struct {
	pool *pgxpool.Pool
}

// NewOutputsStore creates a new OutputsStore backed by the given pool.
func NewOutputsStore(pool *pgxpool.Pool) *OutputsStore {
	return &OutputsStore{pool: pool}
}

// UpsertOutputs replaces the recorded outputs for one stage of a deployment.
func (s *OutputsStore) UpsertOutputs(ctx context.Context, deploymentID, stage string, outputs map[string]any) error {
	payload, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO relay_stage_outputs (deployment_id, stage, outputs, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (deployment_id, stage)
		 DO UPDATE SET outputs = EXCLUDED.outputs, updated_at = now()`,
		deploymentID, stage, payload)
	if err != nil {
		return fmt.Errorf("upsert outputs: %w", err)
	}
	return nil
}

// GetOutputs returns all recorded stage outputs for a deployment keyed by
// stage name.
func (s *OutputsStore) GetOutputs(ctx context.Context, deploymentID string) (map[string]map[string]any, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT stage, outputs FROM relay_stage_outputs WHERE deployment_id = $1`,
		deploymentID)
	if err != nil {
		return nil, fmt.Errorf("load outputs for %s: %w", deploymentID, err)
	}
	defer rows.Close()

	result := make(map[string]map[string]any)
	for rows.Next() {
		var stage string
		var payload []byte
		if err := rows.Scan(&stage, &payload); err != nil {
			return nil, fmt.Errorf("scan outputs: %w", err)
		}
		var outputs map[string]any
		if err := json.Unmarshal(payload, &outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
		result[stage] = outputs
	}
	return result, rows.Err()
}
