package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/stacklok/schema-bootstrap/internal/config"
	"github.com/stacklok/schema-bootstrap/internal/schema"
	"github.com/stacklok/schema-bootstrap/internal/sqlcompat"
	"github.com/stacklok/schema-bootstrap/internal/sshauth"
	"github.com/stacklok/schema-bootstrap/internal/tags"
	"github.com/stacklok/schema-bootstrap/internal/telemetry"
	"github.com/stacklok/schema-bootstrap/internal/versions"
)

const (
	tracerName = "github.com/stacklok/schema-bootstrap"

	shutdownTimeout = 5 * time.Second
)

// session is a configured retriever plus the telemetry it reports to
type session struct {
	cfg         *config.Config
	access      *schema.RepositoryAccessConfig
	retriever   *schema.Retriever
	metrics     *telemetry.RetrievalMetrics
	telemetry   *telemetry.Telemetry
	scheme      tags.Scheme
	resolveOpts []tags.ResolveOption
}

func (a *app) newSession(ctx context.Context, cfg *config.Config) (*session, error) {
	material, err := cfg.SSH.ReadKeyMaterial(a.fs)
	if err != nil {
		return nil, err
	}

	identityOpts := []sshauth.Option{
		sshauth.WithUser(cfg.SSH.User),
		sshauth.WithInsecureSkipHostKeyVerification(cfg.SSH.InsecureSkipHostKeyVerification),
		sshauth.WithKnownHostsFiles(cfg.SSH.KnownHostsFiles...),
	}
	// Non-SSH URLs are rejected by NewRepositoryAccessConfig below
	if host, err := sshauth.EndpointHost(cfg.Repository); err == nil {
		identityOpts = append(identityOpts, sshauth.WithHost(host))
	}

	identity := sshauth.BuildIdentity(
		material.PublicKey,
		material.PrivateKey,
		cfg.SSH.IdentityName,
		material.Passphrase,
		identityOpts...,
	)

	access, err := schema.NewRepositoryAccessConfig(cfg.Repository, identity, cfg.Path, schema.WithEncoding(cfg.Encoding))
	if err != nil {
		return nil, err
	}

	scheme, err := tags.ParseScheme(cfg.TagScheme)
	if err != nil {
		return nil, err
	}
	var resolveOpts []tags.ResolveOption
	if cfg.SkipMalformedTags {
		resolveOpts = append(resolveOpts, tags.SkipMalformed())
	}

	if cfg.Telemetry != nil && cfg.Telemetry.ServiceVersion == "" {
		cfg.Telemetry.ServiceVersion = versions.GetVersionInfo().Version
	}
	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	metrics, err := telemetry.NewRetrievalMetrics(tel.MeterProvider())
	if err != nil {
		shutdownTelemetry(ctx, tel)
		return nil, fmt.Errorf("failed to create retrieval metrics: %w", err)
	}

	opts := []schema.Option{
		schema.WithTracer(tel.Tracer(tracerName)),
		schema.WithMetrics(metrics),
		schema.WithWorkspaceRoot(cfg.Workspace.Directory),
		schema.WithInMemoryClone(cfg.Workspace.InMemory),
	}
	if a.gitClient != nil {
		opts = append(opts, schema.WithGitClient(a.gitClient))
	}

	return &session{
		cfg:         cfg,
		access:      access,
		retriever:   schema.NewRetriever(opts...),
		metrics:     metrics,
		telemetry:   tel,
		scheme:      scheme,
		resolveOpts: resolveOpts,
	}, nil
}

// Close flushes telemetry
func (s *session) Close(ctx context.Context) {
	shutdownTelemetry(ctx, s.telemetry)
}

func shutdownTelemetry(ctx context.Context, tel *telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		slog.Warn("Failed to shut down telemetry", "error", err)
	}
}

// fetch reads the schema at the configured ref
func (s *session) fetch(ctx context.Context) (*schema.Content, error) {
	switch {
	case s.cfg.Ref.LatestTag:
		return s.retriever.FetchLatest(ctx, s.access, s.scheme, s.resolveOpts...)
	case s.cfg.Ref.Tag != "":
		return s.retriever.Fetch(ctx, s.access, schema.Tag(s.cfg.Ref.Tag))
	default:
		return s.retriever.Fetch(ctx, s.access, schema.Branch(s.cfg.Ref.Branch))
	}
}

// compat runs the SQL compatibility filter when it is enabled
func (s *session) compat(text string) (string, error) {
	if s.cfg.Compat == nil || !s.cfg.Compat.Enabled {
		return text, nil
	}
	rules, err := sqlcompat.RulesByName(s.cfg.Compat.Rules...)
	if err != nil {
		return "", err
	}
	return sqlcompat.Apply(text, rules...), nil
}
