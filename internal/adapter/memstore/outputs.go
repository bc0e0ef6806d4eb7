// Package memstore provides in-memory implementations of the persistence
// ports, used when no database is configured.
package memstore

import (
	"context"
	"sync"
)

// Outputs keeps per-deployment stage outputs in process memory.
type Outputs struct {
	mu   sync.RWMutex
	docs map[string]map[string]map[string]any
}

// NewOutputs creates an empty in-memory outputs store.
func NewOutputs() *Outputs {
	return &Outputs{docs: make(map[string]map[string]map[string]any)}
}

// UpsertOutputs replaces the stage's outputs within the deployment document.
func (o *Outputs) UpsertOutputs(_ context.Context, deploymentID, stage string, outputs map[string]any) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	doc := o.docs[deploymentID]
	if doc == nil {
		doc = make(map[string]map[string]any)
		o.docs[deploymentID] = doc
	}
	doc[stage] = outputs
	return nil
}

// GetOutputs returns a copy of the deployment's stage outputs document.
func (o *Outputs) GetOutputs(_ context.Context, deploymentID string) (map[string]map[string]any, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	doc := o.docs[deploymentID]
	if doc == nil {
		return nil, nil
	}
	out := make(map[string]map[string]any, len(doc))
	for stage, outputs := range doc {
		out[stage] = outputs
	}
	return out, nil
}
