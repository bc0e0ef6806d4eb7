package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParseRepoURL(t *testing.T) {
	cases := []struct {
		in    string
		owner string
		name  string
		ok    bool
	}{
		{"https://github.com/acme/app", "acme", "app", true},
		{"https://github.com/acme/app.git", "acme", "app", true},
		{"git@github.com:acme/app.git", "acme", "app", true},
		{"https://gitlab.com/acme/app", "", "", false},
		{"https://github.com/acme", "", "", false},
	}
	for _, tc := range cases {
		owner, name, err := ParseRepoURL(tc.in)
		if tc.ok && err != nil {
			t.Errorf("ParseRepoURL(%q) error: %v", tc.in, err)
			continue
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("ParseRepoURL(%q) expected error", tc.in)
			}
			continue
		}
		if owner != tc.owner || name != tc.name {
			t.Errorf("ParseRepoURL(%q) = %q/%q, want %q/%q", tc.in, owner, name, tc.owner, tc.name)
		}
	}
}

func TestOpenIssue(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/acme/app/issues" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "token gh-tok" {
			t.Errorf("authorization = %q", got)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		if payload["title"] != "Deployment unhealthy (status=502)" {
			t.Errorf("title = %q", payload["title"])
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"html_url": "https://github.com/acme/app/issues/42",
		})
	}))
	defer srv.Close()

	c := NewClient("gh-tok")
	c.baseURL = srv.URL

	url, err := c.OpenIssue(context.Background(),
		"https://github.com/acme/app", "Deployment unhealthy (status=502)", "details")
	if err != nil {
		t.Fatal(err)
	}
	if url != "https://github.com/acme/app/issues/42" {
		t.Fatalf("url = %q", url)
	}
}

func TestOpenIssueAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Bad credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient("bad")
	c.baseURL = srv.URL
	if _, err := c.OpenIssue(context.Background(), "https://github.com/acme/app", "t", "b"); err == nil {
		t.Fatal("expected error")
	}
}

func TestOpenIssueNoToken(t *testing.T) {
	c := NewClient("")
	if c.Configured() {
		t.Fatal("unconfigured client reports configured")
	}
	if _, err := c.OpenIssue(context.Background(), "https://github.com/acme/app", "t", "b"); err == nil {
		t.Fatal("expected error without token")
	}
}
