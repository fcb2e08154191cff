package schema

import (
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5/plumbing"
)

const (
	// BranchRefPrefix is where a clone keeps the remote's branches
	BranchRefPrefix = "refs/remotes/origin/"

	// TagRefPrefix is where a clone keeps tags
	TagRefPrefix = "refs/tags/"
)

// RefKind is the type of ref a schema is read from
type RefKind int

const (
	// RefKindBranch selects a branch
	RefKindBranch RefKind = iota + 1
	// RefKindTag selects a tag
	RefKindTag
)

func (k RefKind) String() string {
	switch k {
	case RefKindBranch:
		return "branch"
	case RefKindTag:
		return "tag"
	default:
		return "unknown"
	}
}

// RefSelector names the branch or tag to read from
type RefSelector struct {
	Kind RefKind
	Name string
}

// Branch selects the named branch of the remote
func Branch(name string) RefSelector {
	return RefSelector{Kind: RefKindBranch, Name: name}
}

// Tag selects the named tag
func Tag(name string) RefSelector {
	return RefSelector{Kind: RefKindTag, Name: name}
}

// ParseRefSelector builds a selector from a kind name ("branch" or "tag") and a ref name
func ParseRefSelector(kind, name string) (RefSelector, error) {
	var selector RefSelector
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "branch":
		selector = Branch(name)
	case "tag":
		selector = Tag(name)
	default:
		return RefSelector{}, fmt.Errorf("unknown ref type %q (expected branch or tag)", kind)
	}
	if err := selector.Validate(); err != nil {
		return RefSelector{}, err
	}
	return selector, nil
}

// Validate checks that the selector has a known kind and a name
func (s RefSelector) Validate() error {
	if s.Kind != RefKindBranch && s.Kind != RefKindTag {
		return fmt.Errorf("ref kind must be branch or tag")
	}
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%s name cannot be empty", s.Kind)
	}
	return nil
}

// ReferenceName returns the fully qualified reference name inside a clone
func (s RefSelector) ReferenceName() plumbing.ReferenceName {
	switch s.Kind {
	case RefKindBranch:
		return plumbing.ReferenceName(BranchRefPrefix + s.Name)
	case RefKindTag:
		return plumbing.ReferenceName(TagRefPrefix + s.Name)
	default:
		return plumbing.ReferenceName(s.Name)
	}
}

func (s RefSelector) String() string {
	return fmt.Sprintf("%s %q", s.Kind, s.Name)
}
