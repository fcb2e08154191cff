// Package sshauth builds SSH identities used to authenticate git transport sessions.
package sshauth

import (
	"bytes"
	"fmt"
	"net"
	"strconv"

	"github.com/go-git/go-git/v5/plumbing/transport"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"
	gossh "golang.org/x/crypto/ssh"
)

const (
	// DefaultUser is the SSH user git hosting services expect
	DefaultUser = "git"

	// DefaultPort is the SSH port used when a repository URL names none
	DefaultPort = 22
)

// KeyLoadError is returned when the identity's key material cannot be used
type KeyLoadError struct {
	Identity string
	Err      error
}

func (e *KeyLoadError) Error() string {
	return fmt.Sprintf("failed to load SSH key for identity %q: %v", e.Identity, e.Err)
}

func (e *KeyLoadError) Unwrap() error {
	return e.Err
}

// Option configures an Identity
type Option func(*Identity)

// WithUser sets the SSH user, DefaultUser when unset
func WithUser(user string) Option {
	return func(i *Identity) {
		if user != "" {
			i.user = user
		}
	}
}

// WithInsecureSkipHostKeyVerification accepts any host key when skip is true.
// This trades man-in-the-middle protection for unattended use.
func WithInsecureSkipHostKeyVerification(skip bool) Option {
	return func(i *Identity) {
		i.insecureSkipHostKeyVerification = skip
	}
}

// WithKnownHostsFiles sets the known_hosts files used to verify host keys.
// Without files, SSH_KNOWN_HOSTS or ~/.ssh/known_hosts is used.
func WithKnownHostsFiles(files ...string) Option {
	return func(i *Identity) {
		i.knownHostsFiles = append([]string(nil), files...)
	}
}

// WithHost sets the host:port the identity connects to. With known_hosts files it
// lets the client offer the host key algorithms recorded for that host first.
func WithHost(hostWithPort string) Option {
	return func(i *Identity) {
		i.host = hostWithPort
	}
}

// EndpointHost returns the host:port of a repository URL, port 22 when none is given
func EndpointHost(repositoryURL string) (string, error) {
	endpoint, err := transport.NewEndpoint(repositoryURL)
	if err != nil {
		return "", err
	}
	if endpoint.Protocol != "ssh" || endpoint.Host == "" {
		return "", fmt.Errorf("%q is not an SSH repository URL", repositoryURL)
	}
	port := endpoint.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(endpoint.Host, strconv.Itoa(port)), nil
}

// Identity is a key-pair SSH credential usable as a go-git transport auth method.
// Key material is parsed when a connection is configured, not when the identity is built.
type Identity struct {
	name                            string
	user                            string
	publicKey                       []byte
	privateKey                      []byte
	passphrase                      []byte
	insecureSkipHostKeyVerification bool
	knownHostsFiles                 []string
	host                            string
}

var _ gitssh.AuthMethod = (*Identity)(nil)

// BuildIdentity creates an identity from a key pair registered under identityName.
// publicKey is optional; when set it must match privateKey. passphrase decrypts
// an encrypted private key and may be nil.
func BuildIdentity(publicKey, privateKey []byte, identityName string, passphrase []byte, opts ...Option) *Identity {
	identity := &Identity{
		name:       identityName,
		user:       DefaultUser,
		publicKey:  bytes.Clone(publicKey),
		privateKey: bytes.Clone(privateKey),
		passphrase: bytes.Clone(passphrase),
	}
	for _, opt := range opts {
		opt(identity)
	}
	return identity
}

// IdentityName returns the alias the key pair is registered under
func (i *Identity) IdentityName() string {
	return i.name
}

// User returns the SSH user
func (i *Identity) User() string {
	return i.user
}

// InsecureSkipHostKeyVerification reports whether host keys are accepted unverified
func (i *Identity) InsecureSkipHostKeyVerification() bool {
	return i.insecureSkipHostKeyVerification
}

// Name implements transport.AuthMethod
func (*Identity) Name() string {
	return gitssh.PublicKeysName
}

// String implements transport.AuthMethod. Key material is never printed.
func (i *Identity) String() string {
	return fmt.Sprintf("user: %s, name: %s, identity: %s, insecure-host-key: %t",
		i.user, i.Name(), i.name, i.insecureSkipHostKeyVerification)
}

// ClientConfig implements go-git's ssh.AuthMethod
func (i *Identity) ClientConfig() (*gossh.ClientConfig, error) {
	signer, err := i.signer()
	if err != nil {
		return nil, &KeyLoadError{Identity: i.name, Err: err}
	}

	config := &gossh.ClientConfig{
		User: i.user,
		Auth: []gossh.AuthMethod{gossh.PublicKeys(signer)},
	}
	if err := i.setHostKeyVerification(config); err != nil {
		return nil, fmt.Errorf("failed to configure host key verification: %w", err)
	}
	return config, nil
}

func (i *Identity) signer() (gossh.Signer, error) {
	if len(i.privateKey) == 0 {
		return nil, fmt.Errorf("private key is empty")
	}

	var (
		signer gossh.Signer
		err    error
	)
	if len(i.passphrase) > 0 {
		signer, err = gossh.ParsePrivateKeyWithPassphrase(i.privateKey, i.passphrase)
	} else {
		signer, err = gossh.ParsePrivateKey(i.privateKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	if len(bytes.TrimSpace(i.publicKey)) > 0 {
		publicKey, _, _, _, err := gossh.ParseAuthorizedKey(i.publicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse public key: %w", err)
		}
		if !bytes.Equal(publicKey.Marshal(), signer.PublicKey().Marshal()) {
			return nil, fmt.Errorf("public key does not match private key")
		}
	}

	return signer, nil
}

// setHostKeyVerification fills the host key callback and algorithms.
// Without explicit known_hosts files both stay empty and go-git derives them from
// the default known_hosts database for the host it dials.
func (i *Identity) setHostKeyVerification(config *gossh.ClientConfig) error {
	if i.insecureSkipHostKeyVerification {
		// #nosec G106 -- explicitly requested through InsecureSkipHostKeyVerification
		config.HostKeyCallback = gossh.InsecureIgnoreHostKey()
		return nil
	}
	if len(i.knownHostsFiles) == 0 {
		return nil
	}

	db, err := gitssh.NewKnownHostsDb(i.knownHostsFiles...)
	if err != nil {
		return err
	}
	config.HostKeyCallback = db.HostKeyCallback()
	if i.host != "" {
		config.HostKeyAlgorithms = db.HostKeyAlgorithms(i.host)
	}
	return nil
}
