// Package gitpatcher applies code-loop patches to a working tree and
// reverts them via plain git plumbing, in the os/exec style a merge
// helper uses for branch and commit operations.
package gitpatcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/brianmeyer/promptforge/internal/application/collaborators"
)

// Patcher applies unified diffs to files under workspace using `git
// apply`, and reverts the working tree to HEAD on rollback.
type Patcher struct {
	workspace string
}

// New creates a Patcher rooted at workspace, which must be inside a git
// working tree.
func New(workspace string) *Patcher {
	return &Patcher{workspace: workspace}
}

var _ collaborators.Patcher = (*Patcher)(nil)

// Apply writes each patch's diff to a temp file and applies it with
// `git apply`, returning the set of files touched.
func (p *Patcher) Apply(ctx context.Context, patches []collaborators.Patch) ([]string, error) {
	files := make([]string, 0, len(patches))
	for _, patch := range patches {
		diffFile, err := os.CreateTemp("", "codeloop-*.diff")
		if err != nil {
			return files, fmt.Errorf("gitpatcher: create temp diff: %w", err)
		}
		defer os.Remove(diffFile.Name())

		if _, err := diffFile.WriteString(patch.Diff); err != nil {
			diffFile.Close()
			return files, fmt.Errorf("gitpatcher: write diff: %w", err)
		}
		diffFile.Close()

		cmd := exec.CommandContext(ctx, "git", "apply", "--whitespace=nowarn", diffFile.Name())
		cmd.Dir = p.workspace
		if out, err := cmd.CombinedOutput(); err != nil {
			return files, fmt.Errorf("gitpatcher: apply %s: %w (%s)", patch.FilePath, err, strings.TrimSpace(string(out)))
		}
		files = append(files, filepath.Clean(patch.FilePath))
	}
	return files, nil
}

// Revert discards all uncommitted changes in the workspace, restoring it
// to the last commit.
func (p *Patcher) Revert(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "git", "checkout", "--", ".")
	cmd.Dir = p.workspace
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("gitpatcher: revert: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	clean := exec.CommandContext(ctx, "git", "clean", "-fd")
	clean.Dir = p.workspace
	if out, err := clean.CombinedOutput(); err != nil {
		return fmt.Errorf("gitpatcher: revert: %w (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}
