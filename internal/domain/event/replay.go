package event

// RebroadcastRequest holds the parameters for re-emitting a deployment's
// recorded event stream.
type RebroadcastRequest struct {
	DeploymentID string  `json:"deployment_id"`
	Speed        float64 `json:"speed,omitempty"` // 0 or negative defaults to 1.0
}

// RebroadcastResult reports where a rebroadcast was published.
type RebroadcastResult struct {
	SourceID   string `json:"source_id"`
	ReplayID   string `json:"replay_id"`
	EventCount int    `json:"event_count"`
}

// SandboxResult reports the identifier minted for a sandbox re-execution.
type SandboxResult struct {
	SourceID     string `json:"source_id"`
	DeploymentID string `json:"deployment_id"`
}
