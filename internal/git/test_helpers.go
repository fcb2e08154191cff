package git

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// TestCommit describes one commit of a test repository
type TestCommit struct {
	Branch        string            // Branch to commit on, created from the current HEAD if missing (current branch if empty)
	Files         map[string]string // Map of filename to content written before committing
	Tags          []string          // Lightweight tags pointing at the commit
	AnnotatedTags []string          // Annotated tags pointing at the commit
}

// CreateTestRepo creates a non-bare Git repository in a test temp directory with the given commits.
// Returns the repository path, which go-git can clone as a local URL.
func CreateTestRepo(t *testing.T, commits ...TestCommit) string {
	t.Helper()

	repoDir := t.TempDir()

	repo, err := git.PlainInit(repoDir, false)
	if err != nil {
		t.Fatalf("Failed to init repository: %v", err)
	}

	workTree, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}

	signature := func() *object.Signature {
		return &object.Signature{
			Name:  "Test Author",
			Email: "test@example.com",
			When:  time.Now(),
		}
	}

	hasCommits := false
	for i, commit := range commits {
		if commit.Branch != "" {
			switchTestBranch(t, repo, workTree, commit.Branch, hasCommits)
		}

		for filename, content := range commit.Files {
			filePath := filepath.Join(repoDir, filename)
			if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
				t.Fatalf("Failed to create directory for %s: %v", filename, err)
			}
			if err := os.WriteFile(filePath, []byte(content), 0644); err != nil {
				t.Fatalf("Failed to write file %s: %v", filename, err)
			}
			if _, err := workTree.Add(filename); err != nil {
				t.Fatalf("Failed to add file %s: %v", filename, err)
			}
		}

		hash, err := workTree.Commit("Commit "+string(rune('A'+i)), &git.CommitOptions{
			Author:            signature(),
			AllowEmptyCommits: true,
		})
		if err != nil {
			t.Fatalf("Failed to commit: %v", err)
		}
		hasCommits = true

		for _, tag := range commit.Tags {
			if _, err := repo.CreateTag(tag, hash, nil); err != nil {
				t.Fatalf("Failed to create tag %s: %v", tag, err)
			}
		}
		for _, tag := range commit.AnnotatedTags {
			_, err := repo.CreateTag(tag, hash, &git.CreateTagOptions{
				Tagger:  signature(),
				Message: "Release " + tag,
			})
			if err != nil {
				t.Fatalf("Failed to create annotated tag %s: %v", tag, err)
			}
		}
	}

	return repoDir
}

// switchTestBranch checks out branch, creating it from HEAD when it does not exist yet
func switchTestBranch(t *testing.T, repo *git.Repository, workTree *git.Worktree, branch string, hasCommits bool) {
	t.Helper()

	branchRef := plumbing.NewBranchReferenceName(branch)

	// Before the first commit HEAD is unborn, so point it at the branch directly
	if !hasCommits {
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
			t.Fatalf("Failed to point HEAD at %s: %v", branch, err)
		}
		return
	}

	_, err := repo.Reference(branchRef, false)
	err = workTree.Checkout(&git.CheckoutOptions{
		Branch: branchRef,
		Create: err != nil,
	})
	if err != nil {
		t.Fatalf("Failed to checkout branch %s: %v", branch, err)
	}
}
