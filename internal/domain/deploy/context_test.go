package deploy

import "testing"

func TestNewContextSeedsRequiredKeys(t *testing.T) {
	c := NewContext("https://github.com/o/r.git", "abc123", "dep-1")

	if c.String(KeyRepoURL) != "https://github.com/o/r.git" {
		t.Fatalf("repo_url = %q", c.String(KeyRepoURL))
	}
	if c.String(KeyCommitSHA) != "abc123" {
		t.Fatalf("commit_sha = %q", c.String(KeyCommitSHA))
	}
	if c.String(KeyStatus) != StatusRunning {
		t.Fatalf("status = %q", c.String(KeyStatus))
	}
	if c.Failed() {
		t.Fatal("fresh context must not be failed")
	}
}

func TestMergeIsNonDestructive(t *testing.T) {
	base := NewContext("u", "s", "d")
	merged := base.Merge(map[string]any{"dependencies": map[string]string{"a": "*"}, KeyStatus: StatusFailed})

	if base.String(KeyStatus) != StatusRunning {
		t.Fatal("Merge must not mutate the base context")
	}
	if merged.String(KeyStatus) != StatusFailed {
		t.Fatal("delta keys must win on collision")
	}
	if _, ok := merged["dependencies"]; !ok {
		t.Fatal("delta keys must be added")
	}
}

func TestErrDetectsNonStringValues(t *testing.T) {
	c := Context{KeyError: 42}
	msg, failed := c.Err()
	if !failed {
		t.Fatal("non-string error value must still fail the run")
	}
	if msg == "" {
		t.Fatal("expected a placeholder message")
	}
}
