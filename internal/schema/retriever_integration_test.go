package schema

import (
	"context"
	"errors"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/stacklok/schema-bootstrap/internal/git"
	"github.com/stacklok/schema-bootstrap/internal/tags"
)

// redirectingClient sends clones and remote listings to a local repository,
// so an SSH-validated config can be served from a test fixture.
type redirectingClient struct {
	git.Client
	localURL string
}

func (c *redirectingClient) Clone(ctx context.Context, config *git.CloneConfig) (*git.RepositoryInfo, error) {
	redirected := *config
	redirected.URL = c.localURL
	redirected.Auth = nil
	return c.Client.Clone(ctx, &redirected)
}

func (c *redirectingClient) ListRemoteTags(ctx context.Context, config *git.ListConfig) ([]string, error) {
	redirected := *config
	redirected.URL = c.localURL
	redirected.Auth = nil
	return c.Client.ListRemoteTags(ctx, &redirected)
}

const (
	schemaV12  = "CREATE TABLE accounts (id BIGINT PRIMARY KEY);\n"
	schemaV110 = "CREATE TABLE accounts (id BIGINT PRIMARY KEY, email TEXT);\n"
	schemaV20  = "CREATE TABLE accounts (id BIGINT PRIMARY KEY, email TEXT NOT NULL);\n"
	schemaMain = "CREATE TABLE accounts (id BIGINT PRIMARY KEY, email TEXT NOT NULL, name TEXT);\n"
)

// releaseFixture builds a repository with three releases and unreleased work on main
func releaseFixture(t *testing.T) string {
	t.Helper()
	return git.CreateTestRepo(t,
		git.TestCommit{Branch: "main", Files: map[string]string{"db/schema.sql": schemaV12, "README.md": "schema"}, Tags: []string{"v1.2"}},
		git.TestCommit{Files: map[string]string{"db/schema.sql": schemaV110}, AnnotatedTags: []string{"v1.10"}},
		git.TestCommit{Files: map[string]string{"db/schema.sql": schemaV20}, Tags: []string{"v2.0", "nightly"}},
		git.TestCommit{Files: map[string]string{"db/schema.sql": schemaMain}},
		git.TestCommit{Branch: "feature", Files: map[string]string{"db/other.sql": "SELECT 1;\n"}},
	)
}

func newFixtureRetriever(t *testing.T, repoDir string, opts ...Option) (*Retriever, string) {
	t.Helper()
	workspaceRoot := t.TempDir()
	opts = append([]Option{
		WithGitClient(&redirectingClient{Client: git.NewDefaultGitClient(), localURL: repoDir}),
		WithWorkspaceRoot(workspaceRoot),
	}, opts...)
	return NewRetriever(opts...), workspaceRoot
}

func TestRetriever_Fetch_Repository(t *testing.T) {
	t.Parallel()
	repoDir := releaseFixture(t)

	tests := []struct {
		name     string
		selector RefSelector
		path     string
		want     string
		checkErr func(t *testing.T, err error)
	}{
		{name: "branch head", selector: Branch("main"), path: "db/schema.sql", want: schemaMain},
		{name: "lightweight tag", selector: Tag("v1.2"), path: "db/schema.sql", want: schemaV12},
		{name: "annotated tag", selector: Tag("v1.10"), path: "db/schema.sql", want: schemaV110},
		{name: "other branch", selector: Branch("feature"), path: "db/other.sql", want: "SELECT 1;\n"},
		{name: "root file", selector: Tag("v1.2"), path: "README.md", want: "schema"},
		{
			name:     "missing branch",
			selector: Branch("does-not-exist"),
			path:     "db/schema.sql",
			checkErr: func(t *testing.T, err error) {
				t.Helper()
				var refErr *RefNotFoundError
				require.True(t, errors.As(err, &refErr), "got %T: %v", err, err)
				assert.Equal(t, plumbing.ReferenceName("refs/remotes/origin/does-not-exist"), refErr.Reference)
			},
		},
		{
			name:     "missing tag",
			selector: Tag("v9.9"),
			path:     "db/schema.sql",
			checkErr: func(t *testing.T, err error) {
				t.Helper()
				var refErr *RefNotFoundError
				assert.True(t, errors.As(err, &refErr), "got %T: %v", err, err)
			},
		},
		{
			name:     "file only on another branch",
			selector: Branch("main"),
			path:     "db/other.sql",
			checkErr: func(t *testing.T, err error) {
				t.Helper()
				var pathErr *PathNotFoundError
				assert.True(t, errors.As(err, &pathErr), "got %T: %v", err, err)
			},
		},
		{
			name:     "directory is not a file",
			selector: Branch("main"),
			path:     "db",
			checkErr: func(t *testing.T, err error) {
				t.Helper()
				var pathErr *PathNotFoundError
				assert.True(t, errors.As(err, &pathErr), "got %T: %v", err, err)
			},
		},
		{
			name:     "basename alone does not match",
			selector: Branch("main"),
			path:     "schema.sql",
			checkErr: func(t *testing.T, err error) {
				t.Helper()
				var pathErr *PathNotFoundError
				assert.True(t, errors.As(err, &pathErr), "got %T: %v", err, err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			retriever, workspaceRoot := newFixtureRetriever(t, repoDir)
			cfg, err := NewRepositoryAccessConfig(testRepositoryURI, testIdentity(), tt.path)
			require.NoError(t, err)

			content, err := retriever.Fetch(t.Context(), cfg, tt.selector)
			assertEmptyDir(t, workspaceRoot)

			if tt.checkErr != nil {
				require.Error(t, err)
				tt.checkErr(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, content.Text)
			assert.Equal(t, tt.selector.ReferenceName(), content.Reference)
			assert.Len(t, content.Commit, 40)
		})
	}
}

func TestRetriever_Fetch_Idempotent(t *testing.T) {
	t.Parallel()
	repoDir := releaseFixture(t)
	retriever, _ := newFixtureRetriever(t, repoDir, WithInMemoryClone(true))
	cfg := newTestAccessConfig(t)

	first, err := retriever.Fetch(t.Context(), cfg, Tag("v2.0"))
	require.NoError(t, err)
	second, err := retriever.Fetch(t.Context(), cfg, Tag("v2.0"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, schemaV20, first.Text)
}

func TestRetriever_Fetch_Concurrent(t *testing.T) {
	t.Parallel()
	repoDir := releaseFixture(t)
	retriever, workspaceRoot := newFixtureRetriever(t, repoDir)
	cfg := newTestAccessConfig(t)

	selectors := []RefSelector{Tag("v1.2"), Tag("v1.10"), Tag("v2.0"), Branch("main")}
	want := []string{schemaV12, schemaV110, schemaV20, schemaMain}
	results := make([]string, len(selectors)*2)

	g, ctx := errgroup.WithContext(t.Context())
	for i := range results {
		g.Go(func() error {
			content, err := retriever.Fetch(ctx, cfg, selectors[i%len(selectors)])
			if err != nil {
				return err
			}
			results[i] = content.Text
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for i, text := range results {
		assert.Equal(t, want[i%len(want)], text)
	}
	assertEmptyDir(t, workspaceRoot)
}

func TestRetriever_LatestTag_Repository(t *testing.T) {
	t.Parallel()
	repoDir := releaseFixture(t)
	retriever, _ := newFixtureRetriever(t, repoDir)
	cfg := newTestAccessConfig(t)

	names, err := retriever.ListTags(t.Context(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"nightly", "v1.10", "v1.2", "v2.0"}, names)

	_, err = retriever.LatestTag(t.Context(), cfg, tags.SchemeMajorMinor)
	require.Error(t, err)
	assert.True(t, tags.IsMalformed(err), "nightly is not a version tag: %v", err)

	latest, err := retriever.LatestTag(t.Context(), cfg, tags.SchemeMajorMinor, tags.SkipMalformed())
	require.NoError(t, err)
	assert.Equal(t, "v2.0", latest)

	content, err := retriever.FetchLatest(t.Context(), cfg, tags.SchemeMajorMinor, tags.SkipMalformed())
	require.NoError(t, err)
	assert.Equal(t, schemaV20, content.Text)
	assert.Equal(t, plumbing.ReferenceName("refs/tags/v2.0"), content.Reference)
}

func TestRetriever_FetchLatest_Repository(t *testing.T) {
	t.Parallel()
	retriever, workspaceRoot := newFixtureRetriever(t, releaseFixture(t))
	cfg := newTestAccessConfig(t)

	_, err := retriever.FetchLatest(t.Context(), cfg, tags.SchemeMajorMinor)
	require.Error(t, err)
	assert.True(t, tags.IsMalformed(err), "nightly is not a version tag: %v", err)
	assertEmptyDir(t, workspaceRoot)

	// Tags are read from the same clone the schema comes from
	content, err := retriever.FetchLatest(t.Context(), cfg, tags.SchemeSemver, tags.SkipMalformed())
	require.NoError(t, err)
	assert.Equal(t, schemaV20, content.Text)
	assert.Equal(t, plumbing.ReferenceName("refs/tags/v2.0"), content.Reference)
	assertEmptyDir(t, workspaceRoot)
}
