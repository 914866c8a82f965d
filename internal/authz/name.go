package authz

import (
	"errors"
	"fmt"
	"strings"
)

// ErrFormat indicates a malformed permission name.
var ErrFormat = errors.New("authz: malformed permission name")

// Wildcard matches any value in a name segment.
const Wildcard = "*"

// Name is a three-part hierarchical permission identifier of the form
// module.resource.action. Any segment may be the wildcard "*". Names are
// immutable values; equality is segment-wise string equality.
type Name struct {
	module   string
	resource string
	action   string
}

// actionHierarchy lists, per action, the actions it covers in addition to
// itself. The relation is exactly this table: action strings outside it only
// match by equality or wildcard, and coverage does not chain through it.
var actionHierarchy = map[string][]string{
	"admin":  {"create", "read", "update", "delete", "manage"},
	"manage": {"create", "read", "update", "delete"},
	"write":  {"create", "update"},
	"read":   {},
}

// ParseName parses raw into a Name. It fails when raw is not exactly three
// dot-separated segments, each either "*" or a lowercase identifier starting
// with a letter.
func ParseName(raw string) (Name, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return Name{}, fmt.Errorf("%w: %q must have exactly three segments", ErrFormat, raw)
	}
	for _, part := range parts {
		if !validSegment(part) {
			return Name{}, fmt.Errorf("%w: invalid segment %q in %q", ErrFormat, part, raw)
		}
	}
	return Name{module: parts[0], resource: parts[1], action: parts[2]}, nil
}

// MustName parses raw and panics on failure. For package-level constants only.
func MustName(raw string) Name {
	n, err := ParseName(raw)
	if err != nil {
		panic(err)
	}
	return n
}

func validSegment(s string) bool {
	if s == Wildcard {
		return true
	}
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case i > 0 && (r == '_' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

// Module returns the module segment.
func (n Name) Module() string { return n.module }

// Resource returns the resource segment.
func (n Name) Resource() string { return n.resource }

// Action returns the action segment.
func (n Name) Action() string { return n.action }

// HasWildcard reports whether any segment is the wildcard.
func (n Name) HasWildcard() bool {
	return n.module == Wildcard || n.resource == Wildcard || n.action == Wildcard
}

// IsZero reports whether n is the zero value (not a valid name).
func (n Name) IsZero() bool {
	return n.module == "" && n.resource == "" && n.action == ""
}

// String renders the canonical dotted form.
func (n Name) String() string {
	return n.module + "." + n.resource + "." + n.action
}

// Covers reports whether n's scope fully subsumes other. The relation is
// one-directional: module and resource match by equality or by n holding a
// wildcard; the action matches by equality, wildcard, or the fixed action
// hierarchy table.
func (n Name) Covers(other Name) bool {
	if !segmentCovers(n.module, other.module) {
		return false
	}
	if !segmentCovers(n.resource, other.resource) {
		return false
	}
	return actionCovers(n.action, other.action)
}

func segmentCovers(coverer, covered string) bool {
	return coverer == Wildcard || coverer == covered
}

func actionCovers(coverer, covered string) bool {
	if coverer == Wildcard || coverer == covered {
		return true
	}
	for _, sub := range actionHierarchy[coverer] {
		if sub == covered {
			return true
		}
	}
	return false
}
