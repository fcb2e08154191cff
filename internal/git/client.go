package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/storage/memory"
)

//go:generate mockgen -destination=mocks/mock_client.go -package=mocks -source=client.go Client

var (
	// ErrEntryNotFound is returned when no file in a tree matches the requested path
	ErrEntryNotFound = errors.New("entry not found")

	// ErrNotCommit is returned when a reference does not lead to a commit
	ErrNotCommit = errors.New("reference does not point to a commit")
)

// Client defines the interface for Git operations
type Client interface {
	// Clone clones a repository with the given configuration
	Clone(ctx context.Context, config *CloneConfig) (*RepositoryInfo, error)

	// ResolveCommit looks up the exact reference name and peels it to a commit
	ResolveCommit(repoInfo *RepositoryInfo, name plumbing.ReferenceName) (*object.Commit, error)

	// FindEntry walks the commit tree recursively and returns the file entry at path
	FindEntry(commit *object.Commit, path string) (*object.TreeEntry, error)

	// OpenObject opens the blob with the given hash for reading
	OpenObject(repoInfo *RepositoryInfo, hash plumbing.Hash) (io.ReadCloser, error)

	// ListTags returns the short names of the tags in a cloned repository
	ListTags(repoInfo *RepositoryInfo) ([]string, error)

	// ListRemoteTags returns the short names of the tags advertised by a remote without cloning it
	ListRemoteTags(ctx context.Context, config *ListConfig) ([]string, error)

	// Cleanup releases the repository and removes its workspace
	Cleanup(ctx context.Context, repoInfo *RepositoryInfo) error
}

// defaultGitClient implements Client using go-git
type defaultGitClient struct{}

// NewDefaultGitClient creates a new defaultGitClient
func NewDefaultGitClient() Client {
	return &defaultGitClient{}
}

// Clone clones a repository with the given configuration.
// All branches are fetched into refs/remotes/origin/* and all tags into refs/tags/*.
// The clone is bare: no worktree is checked out.
func (*defaultGitClient) Clone(ctx context.Context, config *CloneConfig) (*RepositoryInfo, error) {
	if config == nil || config.URL == "" {
		return nil, fmt.Errorf("repository URL is required")
	}

	cloneOptions := &git.CloneOptions{
		URL:  config.URL,
		Auth: config.Auth,
		Tags: git.AllTags,
	}
	if config.Auth != nil {
		slog.Debug("Using Git transport authentication", "auth", config.Auth.String())
	}

	var storerFs billy.Filesystem
	if config.Directory != "" {
		storerFs = osfs.New(config.Directory)
	} else {
		storerFs = memfs.New()
	}
	storerCache := cache.NewObjectLRUDefault()
	storer := filesystem.NewStorage(storerFs, storerCache)

	repo, err := git.CloneContext(ctx, storer, nil, cloneOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	return &RepositoryInfo{
		Repository:       repo,
		RemoteURL:        config.URL,
		Directory:        config.Directory,
		storerFilesystem: storerFs,
		objectCache:      storerCache,
	}, nil
}

// ResolveCommit looks up the exact reference name and peels it to a commit
func (*defaultGitClient) ResolveCommit(repoInfo *RepositoryInfo, name plumbing.ReferenceName) (*object.Commit, error) {
	if repoInfo == nil || repoInfo.Repository == nil {
		return nil, fmt.Errorf("repository is nil")
	}

	ref, err := repoInfo.Repository.Reference(name, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get reference %s: %w", name, err)
	}

	obj, err := repoInfo.Repository.Object(plumbing.AnyObject, ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", ref.Hash(), err)
	}

	switch o := obj.(type) {
	case *object.Commit:
		return o, nil
	case *object.Tag:
		// Annotated tag
		commit, err := o.Commit()
		if err != nil {
			return nil, fmt.Errorf("tag %s: %w: %w", o.Name, ErrNotCommit, err)
		}
		return commit, nil
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrNotCommit)
	}
}

// FindEntry walks the commit tree recursively and returns the file entry at path.
// Only an exact path match that is a file counts; directories and prefixes do not.
func (*defaultGitClient) FindEntry(commit *object.Commit, path string) (*object.TreeEntry, error) {
	if commit == nil {
		return nil, fmt.Errorf("commit is nil")
	}

	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get tree: %w", err)
	}

	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()

	for {
		name, entry, err := walker.Next()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%s: %w", path, ErrEntryNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to walk tree: %w", err)
		}
		if name == path && entry.Mode.IsFile() {
			return &entry, nil
		}
	}
}

// OpenObject opens the blob with the given hash for reading
func (*defaultGitClient) OpenObject(repoInfo *RepositoryInfo, hash plumbing.Hash) (io.ReadCloser, error) {
	if repoInfo == nil || repoInfo.Repository == nil {
		return nil, fmt.Errorf("repository is nil")
	}

	blob, err := repoInfo.Repository.BlobObject(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", hash, err)
	}

	reader, err := blob.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", hash, err)
	}
	return reader, nil
}

// ListTags returns the short names of the tags in a cloned repository
func (*defaultGitClient) ListTags(repoInfo *RepositoryInfo) ([]string, error) {
	if repoInfo == nil || repoInfo.Repository == nil {
		return nil, fmt.Errorf("repository is nil")
	}

	iter, err := repoInfo.Repository.Tags()
	if err != nil {
		return nil, fmt.Errorf("failed to list tags: %w", err)
	}
	defer iter.Close()

	var names []string
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		names = append(names, ref.Name().Short())
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}

	sort.Strings(names)
	return names, nil
}

// ListRemoteTags returns the short names of the tags advertised by a remote without cloning it
func (*defaultGitClient) ListRemoteTags(ctx context.Context, config *ListConfig) ([]string, error) {
	if config == nil || config.URL == "" {
		return nil, fmt.Errorf("repository URL is required")
	}

	remote := git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
		Name: git.DefaultRemoteName,
		URLs: []string{config.URL},
	})

	refs, err := remote.ListContext(ctx, &git.ListOptions{
		Auth:          config.Auth,
		PeelingOption: git.IgnorePeeled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list remote references: %w", err)
	}

	var names []string
	for _, ref := range refs {
		if ref.Name().IsTag() && !strings.HasSuffix(ref.Name().String(), "^{}") {
			names = append(names, ref.Name().Short())
		}
	}

	sort.Strings(names)
	return names, nil
}

// Cleanup releases the repository and removes its workspace
func (*defaultGitClient) Cleanup(_ context.Context, repoInfo *RepositoryInfo) error {
	if repoInfo == nil || repoInfo.Repository == nil {
		return fmt.Errorf("repository is nil")
	}

	if repoInfo.objectCache != nil {
		slog.Debug("Clearing object cache")
		repoInfo.objectCache.Clear()
	}

	var err error
	if repoInfo.Directory != "" {
		slog.Debug("Removing clone workspace", "directory", repoInfo.Directory)
		if rmErr := os.RemoveAll(repoInfo.Directory); rmErr != nil {
			err = fmt.Errorf("failed to remove workspace %s: %w", repoInfo.Directory, rmErr)
		}
	} else if repoInfo.storerFilesystem != nil {
		slog.Debug("Clearing storer filesystem")
		_ = util.RemoveAll(repoInfo.storerFilesystem, "/")
	}

	repoInfo.objectCache = nil
	repoInfo.storerFilesystem = nil
	repoInfo.Repository = nil

	return err
}
