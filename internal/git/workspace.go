package git

import (
	"context"
	"fmt"
	"os"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// workspacePrefix is the temp-dir prefix for cloned run workspaces.
const workspacePrefix = "relay-"

// Workspaces clones repositories into isolated temporary directories and
// reads commit metadata out of an existing workspace.
type Workspaces struct {
	pool *Pool
}

// NewWorkspaces creates a Workspaces that clones through the given pool.
func NewWorkspaces(pool *Pool) *Workspaces {
	return &Workspaces{pool: pool}
}

// Clone clones repoURL into a freshly created temp directory and, when
// commitSHA is non-empty, checks that commit out. The caller owns the
// returned directory and is responsible for removing it; on error the
// directory is already cleaned up.
func (w *Workspaces) Clone(ctx context.Context, repoURL, commitSHA string) (string, error) {
	dir, err := os.MkdirTemp("", workspacePrefix)
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	err = w.pool.Run(ctx, func() error {
		repo, cloneErr := gogit.PlainCloneContext(ctx, dir, false, &gogit.CloneOptions{
			URL: repoURL,
		})
		if cloneErr != nil {
			return fmt.Errorf("clone %s: %w", repoURL, cloneErr)
		}

		if commitSHA == "" {
			return nil
		}
		wt, wtErr := repo.Worktree()
		if wtErr != nil {
			return fmt.Errorf("worktree: %w", wtErr)
		}
		if coErr := wt.Checkout(&gogit.CheckoutOptions{Hash: plumbing.NewHash(commitSHA)}); coErr != nil {
			return fmt.Errorf("checkout %s: %w", commitSHA, coErr)
		}
		return nil
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", err
	}
	return dir, nil
}

// CommitAuthor returns "Name <email>" for the given commit in an already
// cloned workspace.
func CommitAuthor(workdir, commitSHA string) (string, error) {
	repo, err := gogit.PlainOpen(workdir)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", workdir, err)
	}
	commit, err := repo.CommitObject(plumbing.NewHash(commitSHA))
	if err != nil {
		return "", fmt.Errorf("commit %s: %w", commitSHA, err)
	}
	return fmt.Sprintf("%s <%s>", commit.Author.Name, commit.Author.Email), nil
}
