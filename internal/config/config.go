// Package config provides configuration loading for schema-bootstrap.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/stacklok/schema-bootstrap/internal/telemetry"
)

const (
	// DefaultEncoding is the schema file encoding when none is configured
	DefaultEncoding = "utf-8"

	// DefaultTagScheme is the version scheme newest-tag resolution uses by default
	DefaultTagScheme = "major-minor"

	// DefaultSSHUser is the SSH user git hosts expect
	DefaultSSHUser = "git"

	// DefaultIdentityName labels the SSH identity in logs
	DefaultIdentityName = "schema-bootstrap"

	// EnvSSHPassphrase holds the private key passphrase when no passphrase file is set
	EnvSSHPassphrase = "SCHEMA_BOOTSTRAP_SSH_PASSPHRASE"

	// EnvDatabasePassword holds the database password when no password file is set
	EnvDatabasePassword = "SCHEMA_BOOTSTRAP_DATABASE_PASSWORD"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
	fs   afero.Fs
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		cleaned := filepath.Clean(path)
		if !filepath.IsAbs(cleaned) && !filepath.IsLocal(cleaned) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = cleaned
		return nil
	}
}

// WithFs sets the filesystem the configuration file is read from
func WithFs(fs afero.Fs) Option {
	return func(cfg *loaderConfig) error {
		if fs == nil {
			return fmt.Errorf("filesystem cannot be nil")
		}
		cfg.fs = fs
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Repository is the SSH URL of the repository holding the schema
	Repository string `yaml:"repository"`

	// Path is the schema file path relative to the repository root
	Path string `yaml:"path"`

	// Encoding is the text encoding of the schema file (default utf-8)
	Encoding string `yaml:"encoding,omitempty"`

	Ref RefConfig `yaml:"ref"`

	// TagScheme is how tag names are compared when resolving the newest tag
	TagScheme string `yaml:"tagScheme,omitempty"`

	// SkipMalformedTags ignores tags that do not follow the tag scheme
	SkipMalformedTags bool `yaml:"skipMalformedTags,omitempty"`

	SSH       SSHConfig         `yaml:"ssh"`
	Workspace WorkspaceConfig   `yaml:"workspace,omitempty"`
	Compat    *CompatConfig     `yaml:"compat,omitempty"`
	Database  *DatabaseConfig   `yaml:"database,omitempty"`
	Telemetry *telemetry.Config `yaml:"telemetry,omitempty"`
}

// RefConfig selects the ref the schema is read from. Exactly one field must be set.
type RefConfig struct {
	Branch    string `yaml:"branch,omitempty"`
	Tag       string `yaml:"tag,omitempty"`
	LatestTag bool   `yaml:"latestTag,omitempty"`
}

// WorkspaceConfig controls where clones are made
type WorkspaceConfig struct {
	// Directory holds the per-call clone directories (default: system temp dir)
	Directory string `yaml:"directory,omitempty"`

	// InMemory keeps clones in memory instead of on disk
	InMemory bool `yaml:"inMemory,omitempty"`
}

// CompatConfig controls the SQL compatibility filter applied before statements run
type CompatConfig struct {
	Enabled bool `yaml:"enabled"`

	// Rules limits the filter to the named rules. Empty means all rules.
	Rules []string `yaml:"rules,omitempty"`
}

// LoadConfig loads, defaults and validates configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	config, err := ReadConfig(opts...)
	if err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// ReadConfig parses a YAML configuration file without applying defaults or validating it.
// Callers that overlay command line values do so before validation.
func ReadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{fs: afero.NewOsFs()}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	path := loaderCfg.path
	if _, ok := loaderCfg.fs.(*afero.OsFs); ok {
		// Resolve symlinks to prevent symlink attacks
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate symlinks: %w", err)
		}
		path = realPath
	}

	data, err := afero.ReadFile(loaderCfg.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return &config, nil
}

// ApplyDefaults fills optional fields left empty
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Encoding) == "" {
		c.Encoding = DefaultEncoding
	}
	if strings.TrimSpace(c.TagScheme) == "" {
		c.TagScheme = DefaultTagScheme
	}
	if strings.TrimSpace(c.SSH.User) == "" {
		c.SSH.User = DefaultSSHUser
	}
	if strings.TrimSpace(c.SSH.IdentityName) == "" {
		c.SSH.IdentityName = DefaultIdentityName
	}
}

// Validate checks the fields needed to reach the repository.
// Database settings are validated separately, only by commands that use them.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	return validation.ValidateStruct(c,
		validation.Field(&c.Repository, validation.Required),
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.TagScheme, validation.In("major-minor", "semver")),
		validation.Field(&c.Ref),
		validation.Field(&c.SSH),
		validation.Field(&c.Telemetry),
	)
}

// Validate checks that exactly one ref is selected
func (r RefConfig) Validate() error {
	selected := 0
	if strings.TrimSpace(r.Branch) != "" {
		selected++
	}
	if strings.TrimSpace(r.Tag) != "" {
		selected++
	}
	if r.LatestTag {
		selected++
	}

	switch selected {
	case 0:
		return fmt.Errorf("one of branch, tag or latestTag must be set")
	case 1:
		return nil
	default:
		return fmt.Errorf("only one of branch, tag or latestTag may be set")
	}
}

// SSHConfig holds the SSH identity used to reach the repository
type SSHConfig struct {
	User         string `yaml:"user,omitempty"`
	IdentityName string `yaml:"identityName,omitempty"`

	// PrivateKeyFile is the path of the private key, "~/" expands to the home directory
	PrivateKeyFile string `yaml:"privateKeyFile"`

	// PublicKeyFile is optional. When set it must match the private key.
	PublicKeyFile string `yaml:"publicKeyFile,omitempty"`

	// PassphraseFile holds the private key passphrase.
	// SCHEMA_BOOTSTRAP_SSH_PASSPHRASE is used when it is not set.
	PassphraseFile string `yaml:"passphraseFile,omitempty"`

	// InsecureSkipHostKeyVerification accepts any host key. Only for throwaway environments.
	InsecureSkipHostKeyVerification bool `yaml:"insecureSkipHostKeyVerification,omitempty"`

	// KnownHostsFiles replace the default known_hosts lookup
	KnownHostsFiles []string `yaml:"knownHostsFiles,omitempty"`
}

// Validate checks the SSH settings
func (s SSHConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.PrivateKeyFile, validation.Required),
	)
}

// KeyMaterial is the raw SSH key data read from disk
type KeyMaterial struct {
	PublicKey  []byte
	PrivateKey []byte
	Passphrase []byte
}

// ReadKeyMaterial reads the configured key files and passphrase
func (s *SSHConfig) ReadKeyMaterial(fs afero.Fs) (*KeyMaterial, error) {
	privateKey, err := readSecretFile(fs, s.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	material := &KeyMaterial{PrivateKey: privateKey}

	if s.PublicKeyFile != "" {
		material.PublicKey, err = readSecretFile(fs, s.PublicKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read public key: %w", err)
		}
	}

	if s.PassphraseFile != "" {
		passphrase, err := readSecretFile(fs, s.PassphraseFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read passphrase: %w", err)
		}
		material.Passphrase = []byte(strings.TrimSpace(string(passphrase)))
	} else if envPassphrase := os.Getenv(EnvSSHPassphrase); envPassphrase != "" {
		material.Passphrase = []byte(envPassphrase)
	}

	return material, nil
}

// DatabaseConfig defines the database the schema is applied to
type DatabaseConfig struct {
	// Host is the database server hostname or IP address
	Host string `yaml:"host"`

	// Port is the database server port
	Port int `yaml:"port"`

	// User is the database username
	User string `yaml:"user"`

	// PasswordFile is the path to a file containing the database password.
	// SCHEMA_BOOTSTRAP_DATABASE_PASSWORD is used when it is not set.
	PasswordFile string `yaml:"passwordFile,omitempty"`

	// Database is the database name
	Database string `yaml:"database"`

	// SSLMode is the SSL mode for the connection (disable, require, verify-ca, verify-full)
	SSLMode string `yaml:"sslMode,omitempty"`

	// ConnectTimeout bounds connection establishment (e.g., "10s")
	ConnectTimeout string `yaml:"connectTimeout,omitempty"`
}

// Validate checks the connection settings
func (d *DatabaseConfig) Validate() error {
	if d == nil {
		return fmt.Errorf("database configuration is required")
	}

	return validation.ValidateStruct(d,
		validation.Field(&d.Host, validation.Required),
		validation.Field(&d.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&d.User, validation.Required),
		validation.Field(&d.Database, validation.Required),
		validation.Field(&d.SSLMode, validation.In("disable", "allow", "prefer", "require", "verify-ca", "verify-full")),
		validation.Field(&d.ConnectTimeout, validation.By(isDuration)),
	)
}

// GetPassword returns the database password using the following priority:
// 1. Read from PasswordFile if specified
// 2. Read from SCHEMA_BOOTSTRAP_DATABASE_PASSWORD environment variable
//
// The password from file will have leading/trailing whitespace trimmed.
func (d *DatabaseConfig) GetPassword(fs afero.Fs) (string, error) {
	if d.PasswordFile != "" {
		data, err := readSecretFile(fs, d.PasswordFile)
		if err != nil {
			return "", fmt.Errorf("failed to read password from file %s: %w", d.PasswordFile, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if envPassword := os.Getenv(EnvDatabasePassword); envPassword != "" {
		return envPassword, nil
	}

	return "", fmt.Errorf(
		"no database password configured: set passwordFile or %s environment variable", EnvDatabasePassword,
	)
}

// GetConnectTimeout returns the connection timeout, 10 seconds when unset
func (d *DatabaseConfig) GetConnectTimeout() time.Duration {
	if d.ConnectTimeout == "" {
		return 10 * time.Second
	}
	timeout, err := time.ParseDuration(d.ConnectTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return timeout
}

// GetConnectionString builds a key/value PostgreSQL connection string for the pgx driver
func (d *DatabaseConfig) GetConnectionString(fs afero.Fs) (string, error) {
	password, err := d.GetPassword(fs)
	if err != nil {
		return "", err
	}

	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}

	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		d.Host,
		d.Port,
		d.User,
		quoteConnValue(password),
		d.Database,
		sslMode,
		int(d.GetConnectTimeout().Seconds()),
	), nil
}

// quoteConnValue quotes a value for a key/value connection string
func quoteConnValue(value string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(value)
	return "'" + escaped + "'"
}

func readSecretFile(fs afero.Fs, path string) ([]byte, error) {
	expanded, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	return afero.ReadFile(fs, filepath.Clean(expanded))
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}

func isDuration(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("must be a valid duration (e.g., '10s')")
	}
	return nil
}
