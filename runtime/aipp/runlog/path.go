package runlog

import (
	"errors"
	"fmt"
	"strings"
)

// Separator delimits path segments in the serialized form. A leading
// separator is the root marker.
const Separator = "/"

// ErrMalformedPath is returned by ParsePath for strings that are not a
// rooted list of non-empty segments.
var ErrMalformedPath = errors.New("malformed ancestor path")

// Path is an ancestor chain of instance IDs ordered root first. The last
// element is the instance that owns the path.
type Path []string

// NewPath returns the path of a new instance: the parent's path followed by
// instanceID, or just instanceID for top-level instances.
func NewPath(parent Path, instanceID string) Path {
	out := make(Path, 0, len(parent)+1)
	out = append(out, parent...)
	return append(out, instanceID)
}

// ParsePath parses the serialized form "/root/child/grandchild".
func ParsePath(s string) (Path, error) {
	if !strings.HasPrefix(s, Separator) {
		return nil, fmt.Errorf("%w: %q", ErrMalformedPath, s)
	}
	segs := strings.Split(strings.TrimPrefix(s, Separator), Separator)
	for _, seg := range segs {
		if seg == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedPath, s)
		}
	}
	return Path(segs), nil
}

// String returns the serialized form. The empty path serializes to "".
func (p Path) String() string {
	if len(p) == 0 {
		return ""
	}
	return Separator + strings.Join(p, Separator)
}

// Root returns the top-level ancestor.
func (p Path) Root() (string, bool) {
	if len(p) == 0 {
		return "", false
	}
	return p[0], true
}

// Valid reports whether every segment is non-empty and free of separators.
func (p Path) Valid() bool {
	if len(p) == 0 {
		return false
	}
	for _, seg := range p {
		if seg == "" || strings.Contains(seg, Separator) {
			return false
		}
	}
	return true
}
