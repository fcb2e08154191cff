// Package git provides the Git repository operations used to retrieve a single
// file at a ref.
//
// This package implements a thin wrapper around the go-git library. It clones a
// remote repository into a per-call workspace, resolves exact reference names to
// commits, walks commit trees to locate a file by its exact path and opens the
// matching blob. It can also enumerate tags, either from a clone or directly from
// the remote advertisement without cloning.
//
// # Client Interface
//
// The Client interface defines the core Git operations:
//   - Clone: Clone a repository (bare, all branches and tags) into a workspace
//   - ResolveCommit: Look up an exact ref name and peel it to a commit
//   - FindEntry: Recursively walk a commit tree for an exact file path
//   - OpenObject: Open a blob for reading
//   - ListTags / ListRemoteTags: Enumerate tag names
//   - Cleanup: Release caches and remove the workspace
//
// # Example Usage
//
//	client := git.NewDefaultGitClient()
//	repoInfo, err := client.Clone(ctx, &git.CloneConfig{
//	    URL:       "ssh://git@example.com/org/schema.git",
//	    Auth:      identity,
//	    Directory: workspace,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Cleanup(ctx, repoInfo)
//
//	commit, err := client.ResolveCommit(repoInfo, "refs/remotes/origin/main")
//	...
//
// # Implementation Details
//
//   - Clones are bare: only the object database is materialized
//   - On-disk workspaces use go-billy osfs; an empty Directory selects memfs
//   - Branches land in refs/remotes/origin/*, tags in refs/tags/*
//   - Annotated tags are peeled to the commit they point at
package git
