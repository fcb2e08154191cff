// Package tags resolves the newest release tag among a repository's tag names.
//
// Release tags follow the v<major>.<minor> convention, for example v1.2 or
// v2.10. Versions compare numerically on (major, minor), so v2.10 is newer than
// v2.9. A semver scheme is also available for repositories tagging full
// semantic versions.
package tags

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNoTagsFound is returned when there is no tag to choose from
var ErrNoTagsFound = errors.New("no tags found")

// MalformedTagNameError is returned when a tag name does not follow the expected scheme
type MalformedTagNameError struct {
	Name   string
	Reason string
}

func (e *MalformedTagNameError) Error() string {
	return fmt.Sprintf("malformed tag name %q: %s", e.Name, e.Reason)
}

// VersionTag is a tag name parsed as v<major>.<minor>
type VersionTag struct {
	Name  string
	Major float64
	Minor float64
}

// ParseVersionTag parses name as v<major>.<minor>.
// The major segment starts after the first 'v' and ends at the first '.' after it;
// the minor segment is the rest of the name. Both must be non-empty decimal digits.
func ParseVersionTag(name string) (VersionTag, error) {
	vIndex := strings.IndexByte(name, 'v')
	if vIndex < 0 {
		return VersionTag{}, &MalformedTagNameError{Name: name, Reason: "missing 'v' prefix"}
	}
	rest := name[vIndex+1:]

	majorStr, minorStr, found := strings.Cut(rest, ".")
	if !found {
		return VersionTag{}, &MalformedTagNameError{Name: name, Reason: "missing '.' between major and minor"}
	}

	major, err := parseSegment(majorStr)
	if err != nil {
		return VersionTag{}, &MalformedTagNameError{Name: name, Reason: fmt.Sprintf("major version: %v", err)}
	}
	minor, err := parseSegment(minorStr)
	if err != nil {
		return VersionTag{}, &MalformedTagNameError{Name: name, Reason: fmt.Sprintf("minor version: %v", err)}
	}

	return VersionTag{Name: name, Major: major, Minor: minor}, nil
}

func parseSegment(s string) (float64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%q is not numeric", s)
		}
	}
	return strconv.ParseFloat(s, 64)
}

// Compare orders version tags by major, then minor.
// It returns -1 if a is older than b, +1 if a is newer and 0 if they are equal.
func Compare(a, b VersionTag) int {
	if c := cmp.Compare(a.Major, b.Major); c != 0 {
		return c
	}
	return cmp.Compare(a.Minor, b.Minor)
}
