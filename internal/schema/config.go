package schema

import (
	"errors"
	"fmt"
	"path"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// RepositoryAccessConfig describes where a schema lives and how to reach it.
// It can only be built through NewRepositoryAccessConfig and is immutable afterwards.
type RepositoryAccessConfig struct {
	repositoryURI string
	identity      transport.AuthMethod
	path          string
	encoding      string
}

// AccessOption configures optional RepositoryAccessConfig fields
type AccessOption func(*accessOptions)

type accessOptions struct {
	encoding string
}

// WithEncoding sets the text encoding the schema file is decoded with
func WithEncoding(label string) AccessOption {
	return func(o *accessOptions) {
		o.encoding = label
	}
}

// NewRepositoryAccessConfig validates every field at once and returns a single
// aggregated error listing all the problems found.
func NewRepositoryAccessConfig(
	repositoryURI string,
	identity transport.AuthMethod,
	schemaPath string,
	opts ...AccessOption,
) (*RepositoryAccessConfig, error) {
	options := &accessOptions{encoding: DefaultEncoding}
	for _, opt := range opts {
		opt(options)
	}

	repositoryURI = strings.TrimSpace(repositoryURI)
	schemaPath = strings.TrimSpace(schemaPath)
	encodingLabel := strings.TrimSpace(options.encoding)

	err := validation.Errors{
		"repositoryURI": validation.Validate(repositoryURI, validation.Required, validation.By(isSSHEndpoint)),
		"identity":      validation.Validate(identity, validation.NotNil),
		"path":          validation.Validate(schemaPath, validation.Required, validation.By(isTreePath)),
		"encoding":      validation.Validate(encodingLabel, validation.Required, validation.By(isKnownEncoding)),
	}.Filter()
	if err != nil {
		return nil, fmt.Errorf("invalid repository access config: %w", err)
	}

	_, encodingName, _ := lookupEncoding(encodingLabel)

	return &RepositoryAccessConfig{
		repositoryURI: repositoryURI,
		identity:      identity,
		path:          path.Clean(schemaPath),
		encoding:      encodingName,
	}, nil
}

// RepositoryURI returns the SSH URL of the repository
func (c *RepositoryAccessConfig) RepositoryURI() string {
	return c.repositoryURI
}

// Identity returns the transport authentication
func (c *RepositoryAccessConfig) Identity() transport.AuthMethod {
	return c.identity
}

// Path returns the cleaned path of the schema file within the tree
func (c *RepositoryAccessConfig) Path() string {
	return c.path
}

// Encoding returns the canonical name of the text encoding
func (c *RepositoryAccessConfig) Encoding() string {
	return c.encoding
}

func isSSHEndpoint(value interface{}) error {
	s, _ := value.(string)
	ep, err := transport.NewEndpoint(s)
	if err != nil {
		return errors.New("must be a valid repository URL")
	}
	if ep.Protocol != "ssh" {
		return fmt.Errorf("must use the ssh transport, got %s", ep.Protocol)
	}
	return nil
}

func isTreePath(value interface{}) error {
	s, _ := value.(string)
	if strings.HasPrefix(s, "/") {
		return errors.New("must be relative to the repository root")
	}
	cleaned := path.Clean(s)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return errors.New("must name a file inside the repository")
	}
	return nil
}

func isKnownEncoding(value interface{}) error {
	s, _ := value.(string)
	if _, _, err := lookupEncoding(s); err != nil {
		return errors.New("must be a known text encoding")
	}
	return nil
}
