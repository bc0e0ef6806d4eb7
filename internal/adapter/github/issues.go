// Package github provides a minimal client for filing issues against the
// repository a deployment came from.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client files issues through the GitHub REST API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates an issues client. An empty token disables filing.
func NewClient(token string) *Client {
	return &Client{
		baseURL: "https://api.github.com",
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Configured reports whether the client can authenticate.
func (c *Client) Configured() bool { return c.token != "" }

// OpenIssue creates an issue on the repository the URL points to and
// returns the issue's HTML URL.
func (c *Client) OpenIssue(ctx context.Context, repoURL, title, body string) (string, error) {
	if c.token == "" {
		return "", fmt.Errorf("github token not configured")
	}
	owner, name, err := ParseRepoURL(repoURL)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]string{"title": title, "body": body})
	if err != nil {
		return "", fmt.Errorf("marshal issue: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/issues", c.baseURL, owner, name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("github API error %d: %s", resp.StatusCode, string(data))
	}

	var issue struct {
		HTMLURL string `json:"html_url"`
	}
	if err := json.Unmarshal(data, &issue); err != nil {
		return "", fmt.Errorf("unmarshal issue: %w", err)
	}
	return issue.HTMLURL, nil
}

// ParseRepoURL extracts owner and repository name from https and ssh
// GitHub remote URLs.
func ParseRepoURL(repoURL string) (owner, name string, err error) {
	var path string
	switch {
	case strings.HasPrefix(repoURL, "git@github.com:"):
		path = strings.TrimPrefix(repoURL, "git@github.com:")
	case strings.Contains(repoURL, "github.com/"):
		_, path, _ = strings.Cut(repoURL, "github.com/")
	default:
		return "", "", fmt.Errorf("not a github repository: %s", repoURL)
	}

	path = strings.TrimSuffix(path, ".git")
	owner, name, ok := strings.Cut(path, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("malformed repository path: %s", repoURL)
	}
	return owner, name, nil
}
