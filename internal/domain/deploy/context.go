// Package deploy defines the deployment run entity and the shared context
// threaded through pipeline stages.
package deploy

// Well-known context keys. Stages communicate exclusively through these and
// their own additive delta keys; `error` is the fail-fast signal.
const (
	KeyRepoURL       = "repo_url"
	KeyCommitSHA     = "commit_sha"
	KeyDeploymentID  = "deployment_id"
	KeyWorkdir       = "workdir"
	KeyStatus        = "status"
	KeyError         = "error"
	KeyHealthy       = "healthy"
	KeyDeploymentURL = "deployment_url"

	// Sandbox replay: when KeySandboxOf holds a source deployment id, stages
	// are replayed from that run's recorded outputs where available.
	KeySandbox   = "sandbox"
	KeySandboxOf = "sandbox_of"
)

// Run statuses carried under KeyStatus.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Context is the mutable shared state of one pipeline run. It is treated as
// immutable at stage boundaries: a stage receives the current context and
// returns a replacement, typically via Merge.
type Context map[string]any

// NewContext seeds the context for a fresh run.
func NewContext(repoURL, commitSHA, deploymentID string) Context {
	return Context{
		KeyRepoURL:      repoURL,
		KeyCommitSHA:    commitSHA,
		KeyDeploymentID: deploymentID,
		KeyStatus:       StatusRunning,
	}
}

// Clone returns a shallow copy.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge returns a new context with delta applied over c. Neither input is
// modified; delta keys win on collision.
func (c Context) Merge(delta map[string]any) Context {
	out := c.Clone()
	for k, v := range delta {
		out[k] = v
	}
	return out
}

// String returns the value under key if it is a string.
func (c Context) String(key string) string {
	s, _ := c[key].(string)
	return s
}

// Bool returns the value under key if it is a bool.
func (c Context) Bool(key string) bool {
	b, _ := c[key].(bool)
	return b
}

// Err returns the fail-fast error message, or "" when the run is healthy.
// Any non-string value under KeyError still counts as a failure.
func (c Context) Err() (string, bool) {
	v, ok := c[KeyError]
	if !ok {
		return "", false
	}
	if s, isStr := v.(string); isStr {
		return s, true
	}
	return "pipeline error", true
}

// Failed reports whether the fail-fast signal is present.
func (c Context) Failed() bool {
	_, failed := c.Err()
	return failed
}
