package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"runtime"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/schema-bootstrap/internal/config"
	"github.com/stacklok/schema-bootstrap/internal/git"
	"github.com/stacklok/schema-bootstrap/internal/sqlexec"
	"github.com/stacklok/schema-bootstrap/internal/sqlexec/mocks"
	"github.com/stacklok/schema-bootstrap/internal/tags"
	"github.com/stacklok/schema-bootstrap/internal/versions"
)

const (
	testRepositoryURI = "ssh://git@git.example.com/platform/schema.git"
	testKeyFile       = "/keys/id_ed25519"

	schemaV12 = "CREATE TABLE accounts (id BIGINT PRIMARY KEY) COLLATE utf8mb4_bin;\n"
	schemaV20 = "CREATE TABLE accounts (id BIGINT PRIMARY KEY);\nCREATE TABLE audit (id BIGINT);\n"
)

// redirectingClient serves an SSH-validated repository URL from a local fixture
type redirectingClient struct {
	git.Client
	localURL string
}

func (c *redirectingClient) Clone(ctx context.Context, cfg *git.CloneConfig) (*git.RepositoryInfo, error) {
	redirected := *cfg
	redirected.URL = c.localURL
	redirected.Auth = nil
	return c.Client.Clone(ctx, &redirected)
}

func (c *redirectingClient) ListRemoteTags(ctx context.Context, cfg *git.ListConfig) ([]string, error) {
	redirected := *cfg
	redirected.URL = c.localURL
	redirected.Auth = nil
	return c.Client.ListRemoteTags(ctx, &redirected)
}

// mockDatabase adds Close to the generated Execer mock
type mockDatabase struct {
	*mocks.MockExecer
	closed bool
}

func (d *mockDatabase) Close() error {
	d.closed = true
	return nil
}

func schemaFixture(t *testing.T) string {
	t.Helper()
	return git.CreateTestRepo(t,
		git.TestCommit{Branch: "main", Files: map[string]string{"db/schema.sql": schemaV12}, Tags: []string{"v1.2"}},
		git.TestCommit{Files: map[string]string{"db/schema.sql": schemaV20}, AnnotatedTags: []string{"v2.0"}, Tags: []string{"nightly"}},
	)
}

func newTestApp(t *testing.T, repoDir string) *app {
	t.Helper()

	a := newApp()
	a.fs = afero.NewMemMapFs()
	a.gitClient = &redirectingClient{Client: git.NewDefaultGitClient(), localURL: repoDir}
	a.openDB = func(context.Context, *config.DatabaseConfig, afero.Fs) (database, error) {
		return nil, errors.New("no database in this test")
	}
	require.NoError(t, afero.WriteFile(a.fs, testKeyFile, []byte("unused"), 0600))
	return a
}

// repoArgs are the flags every retrieval command needs
func repoArgs(extra ...string) []string {
	return append([]string{
		"--repository", testRepositoryURI,
		"--path", "db/schema.sql",
		"--private-key", testKeyFile,
		"--in-memory",
	}, extra...)
}

func execute(t *testing.T, a *app, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	cmd := newRootCmd(a)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestFetchCommand(t *testing.T) {
	t.Parallel()
	repoDir := schemaFixture(t)

	tests := []struct {
		name    string
		args    []string
		want    string
		wantErr string
	}{
		{name: "tag", args: repoArgs("--tag", "v1.2"), want: schemaV12},
		{name: "branch", args: repoArgs("--branch", "main"), want: schemaV20},
		{name: "newest tag skipping malformed", args: repoArgs("--latest-tag", "--skip-malformed-tags"), want: schemaV20},
		{
			name: "compat filter",
			args: repoArgs("--tag", "v1.2", "--compat"),
			want: "CREATE TABLE accounts (id BIGINT PRIMARY KEY) ;\n",
		},
		{name: "newest tag with malformed tag", args: repoArgs("--latest-tag"), wantErr: "malformed tag name"},
		{name: "no ref", args: repoArgs(), wantErr: "must be set"},
		{name: "two refs", args: repoArgs("--tag", "v1.2", "--branch", "main"), wantErr: "only one of"},
		{name: "missing repository", args: []string{"--path", "db/schema.sql", "--private-key", testKeyFile, "--tag", "v1.2"}, wantErr: "Repository"},
		{name: "missing tag", args: repoArgs("--tag", "v9.9"), wantErr: "does not exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, err := execute(t, newTestApp(t, repoDir), append([]string{"fetch"}, tt.args...)...)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestFetchCommand_OutputFile(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, schemaFixture(t))

	out, err := execute(t, a, append([]string{"fetch", "-o", "/out/schema.sql"}, repoArgs("--tag", "v2.0")...)...)
	require.NoError(t, err)
	assert.Empty(t, out)

	written, err := afero.ReadFile(a.fs, "/out/schema.sql")
	require.NoError(t, err)
	assert.Equal(t, schemaV20, string(written))
}

func TestFetchCommand_WorkspaceDirectory(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, schemaFixture(t))
	workspace := t.TempDir()

	out, err := execute(t, a, "fetch",
		"--repository", testRepositoryURI,
		"--path", "db/schema.sql",
		"--private-key", testKeyFile,
		"--workspace-dir", workspace,
		"--tag", "v1.2",
	)
	require.NoError(t, err)
	assert.Equal(t, schemaV12, out)

	entries, err := afero.ReadDir(afero.NewOsFs(), workspace)
	require.NoError(t, err)
	assert.Empty(t, entries, "clone workspace should be removed")
}

func TestFetchCommand_ConfigFile(t *testing.T) {
	t.Parallel()
	a := newTestApp(t, schemaFixture(t))
	require.NoError(t, afero.WriteFile(a.fs, "/bootstrap.yaml", []byte(`repository: `+testRepositoryURI+`
path: db/schema.sql
ref:
  branch: main
ssh:
  privateKeyFile: `+testKeyFile+`
workspace:
  inMemory: true
compat:
  enabled: true
`), 0600))

	out, err := execute(t, a, "fetch", "--config", "/bootstrap.yaml")
	require.NoError(t, err)
	assert.Equal(t, schemaV20, out)

	// A ref flag replaces the configured branch, --compat=false turns the filter off
	out, err = execute(t, a, "fetch", "--config", "/bootstrap.yaml", "--tag", "v1.2", "--compat=false")
	require.NoError(t, err)
	assert.Equal(t, schemaV12, out)
}

func TestTagsCommands(t *testing.T) {
	t.Parallel()
	repoDir := schemaFixture(t)

	out, err := execute(t, newTestApp(t, repoDir), append([]string{"tags", "latest"}, repoArgs("--skip-malformed-tags")...)...)
	require.NoError(t, err)
	assert.Equal(t, "v2.0\n", out)

	_, err = execute(t, newTestApp(t, repoDir), append([]string{"tags", "latest"}, repoArgs()...)...)
	assert.ErrorContains(t, err, "malformed tag name")

	out, err = execute(t, newTestApp(t, repoDir), append([]string{"tags", "list"}, repoArgs()...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "v1.2")
	assert.Contains(t, out, "v2.0")
	assert.Contains(t, out, "nightly")
}

func TestRenderTagTable(t *testing.T) {
	t.Parallel()

	table, err := renderTagTable(tags.SchemeMajorMinor, []string{"nightly", "v1.10", "v1.2"})
	require.NoError(t, err)

	rows := map[string]string{}
	for _, line := range strings.Split(string(table), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			rows[fields[0]] = line
		}
	}

	require.Contains(t, rows, "TAG")
	assert.Contains(t, rows["nightly"], "malformed")
	assert.Contains(t, rows["v1.10"], "1.10")
	assert.Contains(t, rows["v1.10"], "*")
	assert.NotContains(t, rows["v1.2"], "*")

	table, err = renderTagTable(tags.SchemeMajorMinor, nil)
	require.NoError(t, err)
	assert.Contains(t, string(table), "TAG")
}

func TestApplyCommand(t *testing.T) {
	t.Parallel()
	repoDir := schemaFixture(t)

	configFile := []byte(`repository: ` + testRepositoryURI + `
path: db/schema.sql
ref:
  tag: v2.0
ssh:
  privateKeyFile: ` + testKeyFile + `
workspace:
  inMemory: true
database:
  host: localhost
  port: 5432
  user: bootstrap
  database: accounts
  sslMode: disable
`)

	t.Run("runs every statement", func(t *testing.T) {
		t.Parallel()
		a := newTestApp(t, repoDir)
		require.NoError(t, afero.WriteFile(a.fs, "/bootstrap.yaml", configFile, 0600))

		ctrl := gomock.NewController(t)
		db := &mockDatabase{MockExecer: mocks.NewMockExecer(ctrl)}
		gomock.InOrder(
			db.EXPECT().ExecContext(gomock.Any(), "CREATE TABLE accounts (id BIGINT PRIMARY KEY);").Return(nil, nil),
			db.EXPECT().ExecContext(gomock.Any(), "\nCREATE TABLE audit (id BIGINT);").Return(nil, nil),
		)
		a.openDB = func(_ context.Context, cfg *config.DatabaseConfig, _ afero.Fs) (database, error) {
			assert.Equal(t, "accounts", cfg.Database)
			return db, nil
		}

		out, err := execute(t, a, "apply", "--config", "/bootstrap.yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "Applied 2 statements from v2.0")
		assert.True(t, db.closed)
	})

	t.Run("stops at the failing statement", func(t *testing.T) {
		t.Parallel()
		a := newTestApp(t, repoDir)
		require.NoError(t, afero.WriteFile(a.fs, "/bootstrap.yaml", configFile, 0600))

		ctrl := gomock.NewController(t)
		db := &mockDatabase{MockExecer: mocks.NewMockExecer(ctrl)}
		cause := errors.New("relation \"accounts\" already exists")
		db.EXPECT().ExecContext(gomock.Any(), gomock.Any()).Return(nil, cause)
		a.openDB = func(context.Context, *config.DatabaseConfig, afero.Fs) (database, error) {
			return db, nil
		}

		_, err := execute(t, a, "apply", "--config", "/bootstrap.yaml")
		require.Error(t, err)
		var stmtErr *sqlexec.StatementError
		require.True(t, errors.As(err, &stmtErr))
		assert.Zero(t, stmtErr.Index)
		assert.True(t, errors.Is(err, cause))
		assert.True(t, db.closed)
	})

	t.Run("dry run prints statements", func(t *testing.T) {
		t.Parallel()
		a := newTestApp(t, repoDir)

		out, err := execute(t, a, append([]string{"apply", "--dry-run"}, repoArgs("--tag", "v1.2", "--compat")...)...)
		require.NoError(t, err)
		assert.Equal(t, "-- statement 0\nCREATE TABLE accounts (id BIGINT PRIMARY KEY) ;\n", out)
	})

	t.Run("database section required", func(t *testing.T) {
		t.Parallel()
		a := newTestApp(t, repoDir)

		_, err := execute(t, a, append([]string{"apply"}, repoArgs("--tag", "v1.2")...)...)
		assert.ErrorContains(t, err, "database section is required")
	})
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, newApp(), "version", "--format", "json")
	require.NoError(t, err)

	var info versions.VersionInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, runtime.Version(), info.GoVersion)

	out, err = execute(t, newApp(), "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "schema-bootstrap "))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Parallel()

	a := newApp()
	a.fs = afero.NewMemMapFs()
	a.v.Set(keyRepository, testRepositoryURI)
	a.v.Set(keyPath, "db/schema.sql")
	a.v.Set(keyPrivateKey, testKeyFile)

	_, err := a.loadConfig(true)
	assert.ErrorContains(t, err, "must be set")

	cfg, err := a.loadConfig(false)
	require.NoError(t, err)
	assert.True(t, cfg.Ref.LatestTag)
	assert.Equal(t, config.DefaultEncoding, cfg.Encoding)
	assert.Equal(t, config.DefaultTagScheme, cfg.TagScheme)
	assert.Equal(t, config.DefaultSSHUser, cfg.SSH.User)
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, "")
	require.NoError(t, afero.WriteFile(a.fs, "/bootstrap.yaml", []byte(`repository: `+testRepositoryURI+`
path: db/schema.sql
ref:
  latestTag: true
ssh:
  privateKeyFile: `+testKeyFile+`
compat:
  enabled: true
  rules: [collate]
database:
  host: localhost
  port: 5432
  user: bootstrap
  database: accounts
`), 0600))

	out, err := execute(t, a, "validate", "--config", "/bootstrap.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "Valid configuration")
	assert.Contains(t, out, "Ref: newest tag (major-minor)")
	assert.Contains(t, out, "Database: bootstrap@localhost:5432/accounts")

	require.NoError(t, afero.WriteFile(a.fs, "/bad.yaml", []byte(`repository: `+testRepositoryURI+`
path: db/schema.sql
ref:
  tag: v1.0
ssh:
  privateKeyFile: `+testKeyFile+`
compat:
  enabled: true
  rules: [engine]
`), 0600))

	_, err = execute(t, a, "validate", "--config", "/bad.yaml")
	assert.ErrorContains(t, err, `unknown compatibility rule "engine"`)
}
