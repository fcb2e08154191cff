package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/schema-bootstrap/internal/git"
	"github.com/stacklok/schema-bootstrap/internal/otel"
	"github.com/stacklok/schema-bootstrap/internal/tags"
	"github.com/stacklok/schema-bootstrap/internal/telemetry"
)

// Content is a schema file read from a repository at a resolved commit
type Content struct {
	// Text is the decoded file content
	Text string
	// Commit is the hash of the commit the file was read from
	Commit string
	// Reference is the fully qualified ref that was resolved
	Reference plumbing.ReferenceName
	// Path is the path of the file within the tree
	Path string
	// Encoding is the canonical name of the encoding used to decode the file
	Encoding string
}

// Retriever reads schema files from remote repositories.
// Every call works in its own disposable clone, so a Retriever is safe for concurrent use.
type Retriever struct {
	client        git.Client
	tracer        trace.Tracer
	metrics       *telemetry.RetrievalMetrics
	workspaceRoot string
	inMemory      bool
}

// Option configures a Retriever
type Option func(*Retriever)

// WithGitClient replaces the go-git backed client
func WithGitClient(client git.Client) Option {
	return func(r *Retriever) {
		r.client = client
	}
}

// WithTracer sets the tracer used for retrieval spans. Without it no spans are started.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Retriever) {
		r.tracer = tracer
	}
}

// WithMetrics sets the instruments retrieval outcomes are recorded on
func WithMetrics(metrics *telemetry.RetrievalMetrics) Option {
	return func(r *Retriever) {
		r.metrics = metrics
	}
}

// WithWorkspaceRoot sets the directory clone workspaces are created in.
// An empty root means the system temp directory.
func WithWorkspaceRoot(root string) Option {
	return func(r *Retriever) {
		r.workspaceRoot = root
	}
}

// WithInMemoryClone keeps clones in memory instead of a temp directory
func WithInMemoryClone(inMemory bool) Option {
	return func(r *Retriever) {
		r.inMemory = inMemory
	}
}

// NewRetriever creates a Retriever
func NewRetriever(opts ...Option) *Retriever {
	r := &Retriever{
		client: git.NewDefaultGitClient(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch reads the configured file at the commit the selector resolves to.
// The clone workspace is removed before Fetch returns, whatever the outcome.
func (r *Retriever) Fetch(ctx context.Context, cfg *RepositoryAccessConfig, selector RefSelector) (*Content, error) {
	if cfg == nil {
		return nil, fmt.Errorf("repository access config cannot be nil")
	}
	if err := selector.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ref selector: %w", err)
	}

	ctx, span := otel.StartSpan(ctx, r.tracer, "schema.Retriever.Fetch",
		trace.WithAttributes(
			otel.AttrRepository.String(cfg.RepositoryURI()),
			otel.AttrRefKind.String(selector.Kind.String()),
			otel.AttrRefName.String(selector.Name),
			otel.AttrPath.String(cfg.Path()),
			otel.AttrEncoding.String(cfg.Encoding()),
		),
	)
	defer span.End()

	run := newRetrieval(uuid.NewString(), span,
		"repository", cfg.RepositoryURI(),
		"ref", selector.String(),
		"path", cfg.Path(),
	)

	return r.retrieve(ctx, run, selector.Kind, func(ctx context.Context) (*Content, error) {
		run.advance(ctx, StateCloning)
		repoInfo, err := r.clone(ctx, run, cfg)
		if err != nil {
			return nil, err
		}
		defer r.cleanup(ctx, run, repoInfo)

		run.advance(ctx, StateRefResolving)
		return r.read(ctx, run, repoInfo, cfg, selector)
	})
}

// FetchLatest reads the configured file at the newest tag of the repository.
// The newest tag is picked from the tags of the same clone the file is read from.
func (r *Retriever) FetchLatest(
	ctx context.Context,
	cfg *RepositoryAccessConfig,
	scheme tags.Scheme,
	opts ...tags.ResolveOption,
) (*Content, error) {
	if cfg == nil {
		return nil, fmt.Errorf("repository access config cannot be nil")
	}

	ctx, span := otel.StartSpan(ctx, r.tracer, "schema.Retriever.FetchLatest",
		trace.WithAttributes(
			otel.AttrRepository.String(cfg.RepositoryURI()),
			otel.AttrRefKind.String(RefKindTag.String()),
			otel.AttrPath.String(cfg.Path()),
			otel.AttrEncoding.String(cfg.Encoding()),
		),
	)
	defer span.End()

	run := newRetrieval(uuid.NewString(), span,
		"repository", cfg.RepositoryURI(),
		"ref", "newest tag",
		"path", cfg.Path(),
	)

	return r.retrieve(ctx, run, RefKindTag, func(ctx context.Context) (*Content, error) {
		run.advance(ctx, StateCloning)
		repoInfo, err := r.clone(ctx, run, cfg)
		if err != nil {
			return nil, err
		}
		defer r.cleanup(ctx, run, repoInfo)

		run.advance(ctx, StateRefResolving)
		names, err := r.client.ListTags(repoInfo)
		if err != nil {
			return nil, fmt.Errorf("failed to list tags of %s: %w", cfg.RepositoryURI(), err)
		}
		newest, err := tags.Resolve(scheme, names, opts...)
		r.metrics.RecordTagResolution(ctx, string(scheme), err == nil)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve newest tag of %s: %w", cfg.RepositoryURI(), err)
		}

		span.SetAttributes(otel.AttrRefName.String(newest), otel.AttrTagCount.Int(len(names)))
		run.logger.DebugContext(ctx, "Resolved newest tag",
			"scheme", string(scheme),
			"tag", newest,
			"candidates", len(names),
		)
		return r.read(ctx, run, repoInfo, cfg, Tag(newest))
	})
}

// retrieve runs one retrieval and records its outcome on the span, the log and the metrics
func (r *Retriever) retrieve(
	ctx context.Context,
	run *retrieval,
	kind RefKind,
	do func(ctx context.Context) (*Content, error),
) (*Content, error) {
	start := time.Now()
	content, err := do(ctx)
	if err != nil {
		stage := run.fail(ctx, err)
		r.metrics.RecordFetch(ctx, kind.String(), stage.String(), time.Since(start), false)
		return nil, err
	}
	run.advance(ctx, StateDone)
	run.span.SetAttributes(otel.AttrCommit.String(content.Commit))
	r.metrics.RecordFetch(ctx, kind.String(), StateDone.String(), time.Since(start), true)

	run.logger.InfoContext(ctx, "Schema retrieved",
		"reference", content.Reference.String(),
		"commit", content.Commit,
		"bytes", len(content.Text),
		"duration", time.Since(start).String(),
	)
	return content, nil
}

// read resolves the selector in a cloned repository and decodes the file at that commit
func (r *Retriever) read(
	ctx context.Context,
	run *retrieval,
	repoInfo *git.RepositoryInfo,
	cfg *RepositoryAccessConfig,
	selector RefSelector,
) (*Content, error) {
	refName := selector.ReferenceName()
	commit, err := r.client.ResolveCommit(repoInfo, refName)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) || errors.Is(err, git.ErrNotCommit) {
			return nil, &RefNotFoundError{Selector: selector, Reference: refName, Err: err}
		}
		return nil, fmt.Errorf("failed to resolve %s: %w", selector, err)
	}

	run.advance(ctx, StateTreeWalking)
	entry, err := r.client.FindEntry(commit, cfg.Path())
	if err != nil {
		if errors.Is(err, git.ErrEntryNotFound) {
			return nil, &PathNotFoundError{Path: cfg.Path(), Selector: selector, Commit: commit.Hash.String()}
		}
		return nil, fmt.Errorf("failed to walk tree of commit %s: %w", commit.Hash, err)
	}

	run.advance(ctx, StateObjectReading)
	reader, err := r.client.OpenObject(repoInfo, entry.Hash)
	if err != nil {
		return nil, &DecodeError{Path: cfg.Path(), Encoding: cfg.Encoding(), Err: err}
	}
	defer reader.Close()

	text, err := decode(reader, cfg.Encoding())
	if err != nil {
		return nil, &DecodeError{Path: cfg.Path(), Encoding: cfg.Encoding(), Err: err}
	}

	return &Content{
		Text:      text,
		Commit:    commit.Hash.String(),
		Reference: refName,
		Path:      cfg.Path(),
		Encoding:  cfg.Encoding(),
	}, nil
}

func (r *Retriever) clone(ctx context.Context, run *retrieval, cfg *RepositoryAccessConfig) (*git.RepositoryInfo, error) {
	cloneConfig := &git.CloneConfig{
		URL:  cfg.RepositoryURI(),
		Auth: cfg.Identity(),
	}

	if !r.inMemory {
		dir, err := os.MkdirTemp(r.workspaceRoot, "schema-"+run.id+"-")
		if err != nil {
			return nil, fmt.Errorf("failed to create clone workspace: %w", err)
		}
		cloneConfig.Directory = dir
	}

	start := time.Now()
	repoInfo, err := r.client.Clone(ctx, cloneConfig)
	if err != nil {
		if cloneConfig.Directory != "" {
			removeWorkspace(ctx, run.logger, cloneConfig.Directory)
		}
		return nil, &TransportError{Repository: cfg.RepositoryURI(), Err: err}
	}

	run.logger.DebugContext(ctx, "Repository cloned",
		"workspace", cloneConfig.Directory,
		"duration", time.Since(start).String(),
	)
	return repoInfo, nil
}

// cleanup removes the clone workspace. Failures are logged and never returned.
func (r *Retriever) cleanup(ctx context.Context, run *retrieval, repoInfo *git.RepositoryInfo) {
	if err := r.client.Cleanup(ctx, repoInfo); err != nil {
		run.logger.WarnContext(ctx, "Failed to remove clone workspace", "error", err)
	}
}

func removeWorkspace(ctx context.Context, logger *slog.Logger, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.WarnContext(ctx, "Failed to remove clone workspace", "workspace", dir, "error", err)
	}
}

// ListTags returns the sorted names of the repository's tags without cloning it
func (r *Retriever) ListTags(ctx context.Context, cfg *RepositoryAccessConfig) ([]string, error) {
	if cfg == nil {
		return nil, fmt.Errorf("repository access config cannot be nil")
	}

	ctx, span := otel.StartSpan(ctx, r.tracer, "schema.Retriever.ListTags",
		trace.WithAttributes(otel.AttrRepository.String(cfg.RepositoryURI())),
	)
	defer span.End()

	names, err := r.client.ListRemoteTags(ctx, &git.ListConfig{
		URL:  cfg.RepositoryURI(),
		Auth: cfg.Identity(),
	})
	if err != nil {
		err = &TransportError{Repository: cfg.RepositoryURI(), Err: err}
		otel.RecordError(span, err)
		return nil, err
	}

	sort.Strings(names)
	span.SetAttributes(otel.AttrTagCount.Int(len(names)))
	return names, nil
}

// LatestTag returns the newest tag of the repository under the given version scheme
func (r *Retriever) LatestTag(
	ctx context.Context,
	cfg *RepositoryAccessConfig,
	scheme tags.Scheme,
	opts ...tags.ResolveOption,
) (string, error) {
	names, err := r.ListTags(ctx, cfg)
	if err != nil {
		return "", err
	}

	newest, err := tags.Resolve(scheme, names, opts...)
	r.metrics.RecordTagResolution(ctx, string(scheme), err == nil)
	if err != nil {
		return "", fmt.Errorf("failed to resolve newest tag of %s: %w", cfg.RepositoryURI(), err)
	}

	slog.DebugContext(ctx, "Resolved newest tag",
		"repository", cfg.RepositoryURI(),
		"scheme", string(scheme),
		"tag", newest,
		"candidates", len(names),
	)
	return newest, nil
}
