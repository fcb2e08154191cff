package tags

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Scheme selects how tag names are interpreted as versions
type Scheme string

const (
	// SchemeMajorMinor parses tags as v<major>.<minor>
	SchemeMajorMinor Scheme = "major-minor"

	// SchemeSemver parses tags as semantic versions
	SchemeSemver Scheme = "semver"
)

// ParseScheme converts a configured scheme name, defaulting to SchemeMajorMinor
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemeMajorMinor:
		return SchemeMajorMinor, nil
	case SchemeSemver:
		return SchemeSemver, nil
	default:
		return "", fmt.Errorf("unknown tag scheme %q (expected %s or %s)", s, SchemeMajorMinor, SchemeSemver)
	}
}

type resolveOptions struct {
	skipMalformed bool
}

// ResolveOption configures ResolveNewest
type ResolveOption func(*resolveOptions)

// SkipMalformed ignores tags that do not parse instead of failing
func SkipMalformed() ResolveOption {
	return func(o *resolveOptions) {
		o.skipMalformed = true
	}
}

// Resolve returns the newest tag under the given scheme
func Resolve(scheme Scheme, names []string, opts ...ResolveOption) (string, error) {
	switch scheme {
	case SchemeSemver:
		return ResolveNewestSemver(names, opts...)
	case SchemeMajorMinor, "":
		return ResolveNewest(names, opts...)
	default:
		return "", fmt.Errorf("unknown tag scheme %q", scheme)
	}
}

// ResolveNewest returns the name of the newest v<major>.<minor> tag.
// Among equal versions the first one in input order wins.
func ResolveNewest(names []string, opts ...ResolveOption) (string, error) {
	options := &resolveOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var (
		newest  VersionTag
		found   bool
		skipped int
	)
	for _, name := range names {
		version, err := ParseVersionTag(name)
		if err != nil {
			if options.skipMalformed {
				skipped++
				slog.Debug("Skipping malformed tag", "tag", name, "error", err)
				continue
			}
			return "", err
		}
		if !found || Compare(version, newest) > 0 {
			newest = version
			found = true
		}
	}

	if !found {
		if skipped > 0 {
			return "", fmt.Errorf("%w: %d malformed tags skipped", ErrNoTagsFound, skipped)
		}
		return "", ErrNoTagsFound
	}
	return newest.Name, nil
}

// ResolveNewestSemver returns the name of the newest tag parsed as a semantic version
func ResolveNewestSemver(names []string, opts ...ResolveOption) (string, error) {
	options := &resolveOptions{}
	for _, opt := range opts {
		opt(options)
	}

	var (
		newest     *semver.Version
		newestName string
		skipped    int
	)
	for _, name := range names {
		version, err := semver.NewVersion(name)
		if err != nil {
			if options.skipMalformed {
				skipped++
				slog.Debug("Skipping non-semver tag", "tag", name, "error", err)
				continue
			}
			return "", &MalformedTagNameError{Name: name, Reason: err.Error()}
		}
		if newest == nil || version.GreaterThan(newest) {
			newest = version
			newestName = name
		}
	}

	if newest == nil {
		if skipped > 0 {
			return "", fmt.Errorf("%w: %d malformed tags skipped", ErrNoTagsFound, skipped)
		}
		return "", ErrNoTagsFound
	}
	return newestName, nil
}

// IsMalformed reports whether err is a MalformedTagNameError
func IsMalformed(err error) bool {
	var malformed *MalformedTagNameError
	return errors.As(err, &malformed)
}

// Normalize returns the version a tag name stands for under the given scheme,
// or a MalformedTagNameError when the name does not follow it
func Normalize(scheme Scheme, name string) (string, error) {
	switch scheme {
	case SchemeSemver:
		version, err := semver.NewVersion(name)
		if err != nil {
			return "", &MalformedTagNameError{Name: name, Reason: err.Error()}
		}
		return version.String(), nil
	case SchemeMajorMinor, "":
		version, err := ParseVersionTag(name)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(version.Major, 'f', -1, 64) + "." +
			strconv.FormatFloat(version.Minor, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("unknown tag scheme %q", scheme)
	}
}
