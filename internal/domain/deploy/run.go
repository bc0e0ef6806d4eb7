package deploy

import "fmt"

// RunRequest holds the inputs for one end-to-end pipeline execution.
type RunRequest struct {
	RepoURL      string `json:"repo_url"`
	CommitSHA    string `json:"commit_sha"`
	DeploymentID string `json:"deployment_id"`

	// Seed carries extra context values merged in before the first stage,
	// such as sandbox replay markers. Not accepted over the wire.
	Seed map[string]any `json:"-"`
}

// Validate checks the request for the fields the runner cannot proceed without.
func (r *RunRequest) Validate() error {
	if r.RepoURL == "" {
		return fmt.Errorf("repo_url is required")
	}
	if r.DeploymentID == "" {
		return fmt.Errorf("deployment_id is required")
	}
	return nil
}

// TriggerResponse is returned synchronously by the webhook endpoint while the
// run proceeds in the background.
type TriggerResponse struct {
	OK           bool   `json:"ok"`
	DeploymentID string `json:"deployment_id"`
	StatusURL    string `json:"status_url"`
	ReplayURL    string `json:"replay_url"`
}
