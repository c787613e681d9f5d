package isolator

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Revision is the resolved metadata of a checked-out commit.
type Revision struct {
	ID        string
	Message   string
	Timestamp time.Time
}

// ShortID returns the abbreviated commit hash.
func (r *Revision) ShortID() string {
	if len(r.ID) > 8 {
		return r.ID[:8]
	}

	return r.ID
}

// runGit executes a git command in dir and returns its trimmed output.
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s",
			strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}

	return strings.TrimSpace(string(out)), nil
}

// ResolveRevision resolves a ref to a full commit hash.
func ResolveRevision(ctx context.Context, repoPath, ref string) (string, error) {
	sha, err := runGit(ctx, repoPath, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		return "", &RevisionNotFoundError{Ref: ref, Cause: err}
	}

	return sha, nil
}

// HeadRevision resolves the repository's current HEAD.
func HeadRevision(ctx context.Context, repoPath string) (string, error) {
	sha, err := runGit(ctx, repoPath, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolving HEAD: %w", err)
	}

	return sha, nil
}

// Describe resolves a ref and reads its commit metadata.
func Describe(ctx context.Context, repoPath, ref string) (*Revision, error) {
	sha, err := ResolveRevision(ctx, repoPath, ref)
	if err != nil {
		return nil, err
	}

	return revisionInfo(ctx, repoPath, sha)
}

// revisionInfo reads the commit metadata for a resolved hash.
func revisionInfo(ctx context.Context, repoPath, sha string) (*Revision, error) {
	// Unit separator keeps the subject free-form.
	out, err := runGit(ctx, repoPath, "log", "-1", "--format=%H%x1f%s%x1f%cI", sha)
	if err != nil {
		return nil, fmt.Errorf("reading commit metadata: %w", err)
	}

	parts := strings.SplitN(out, "\x1f", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("unexpected git log output %q", out)
	}

	ts, err := time.Parse(time.RFC3339, parts[2])
	if err != nil {
		return nil, fmt.Errorf("parsing commit timestamp: %w", err)
	}

	return &Revision{
		ID:        parts[0],
		Message:   parts[1],
		Timestamp: ts,
	}, nil
}

// addWorktree materializes a detached checkout of sha at dir.
func addWorktree(ctx context.Context, repoPath, dir, sha string) error {
	if _, err := runGit(ctx, repoPath, "worktree", "add", "--detach", dir, sha); err != nil {
		return fmt.Errorf("adding worktree: %w", err)
	}

	return nil
}

// removeWorktree detaches and prunes a checkout. Errors are returned but
// callers treat a missing worktree as already gone.
func removeWorktree(ctx context.Context, repoPath, dir string) error {
	if _, err := runGit(ctx, repoPath, "worktree", "remove", "--force", dir); err != nil {
		return err
	}

	return nil
}

// pruneWorktrees drops stale worktree registrations left by crashed runs.
func pruneWorktrees(ctx context.Context, repoPath string) {
	_, _ = runGit(ctx, repoPath, "worktree", "prune")
}
