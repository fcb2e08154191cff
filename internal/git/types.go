package git

import (
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// CloneConfig contains configuration for cloning a repository
type CloneConfig struct {
	// URL is the repository URL to clone
	URL string

	// Auth is the transport authentication, typically an SSH identity (optional)
	Auth transport.AuthMethod

	// Directory is the workspace the object database is written to.
	// When empty the clone is held in memory.
	Directory string
}

// ListConfig contains configuration for listing the refs of a remote repository
type ListConfig struct {
	// URL is the remote repository URL
	URL string

	// Auth is the transport authentication (optional)
	Auth transport.AuthMethod
}

// RepositoryInfo contains information about a cloned Git repository
type RepositoryInfo struct {
	// Repository is the go-git repository instance
	Repository *git.Repository

	// RemoteURL is the remote repository URL
	RemoteURL string

	// Directory is the on-disk workspace holding the clone, empty for in-memory clones
	Directory string

	// storerFilesystem holds the filesystem containing the Git object database.
	// It is cleared in Cleanup() so in-memory clones release their objects.
	storerFilesystem billy.Filesystem

	// objectCache holds the LRU cache for decompressed Git objects (commits, trees, blobs).
	// It must be cleared via Clear() during Cleanup() to release memory.
	objectCache cache.Object
}
