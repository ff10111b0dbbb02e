// Package path implements the hierarchical names used throughout the
// distributed file service namespace.
//
// A Path is an immutable, ordered sequence of components. The root path has
// no components and renders as "/". Paths compare by depth first, which gives
// every ancestor chain a well-defined order: the coordinator relies on it to
// acquire namespace locks shallow to deep.
package path

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// Separator delimits components in the canonical string form.
	Separator = "/"

	// Reserved may never appear in a path. It is kept free so that
	// host:port style strings can never be confused with paths.
	Reserved = ":"
)

var (
	// ErrInvalidPath is returned when a string or component cannot form a path.
	ErrInvalidPath = errors.New("invalid path")

	// ErrRoot is returned by operations that are undefined on the root path.
	ErrRoot = errors.New("operation not valid on root path")
)

// Path is an immutable hierarchical name.
//
// The zero value is the root path. Paths are safe for concurrent use and can
// be used as map keys through their canonical string (see Key).
type Path struct {
	components []string
	canonical  string
}

// Root returns the root path.
func Root() Path {
	return Path{}
}

// New returns the path formed by appending component to parent.
func New(parent Path, component string) (Path, error) {
	if err := validateComponent(component); err != nil {
		return Path{}, err
	}

	components := make([]string, len(parent.components)+1)
	copy(components, parent.components)
	components[len(parent.components)] = component

	return fromComponents(components), nil
}

// Parse builds a path from its canonical string form.
//
// The string must start with the separator and must not contain the reserved
// character. Empty components produced by repeated separators are dropped, so
// "//a///b/" parses to "/a/b".
func Parse(s string) (Path, error) {
	if !strings.HasPrefix(s, Separator) {
		return Path{}, fmt.Errorf("%w: %q does not start with %q", ErrInvalidPath, s, Separator)
	}
	if strings.Contains(s, Reserved) {
		return Path{}, fmt.Errorf("%w: %q contains reserved character %q", ErrInvalidPath, s, Reserved)
	}

	var components []string
	for _, c := range strings.Split(s, Separator) {
		if c != "" {
			components = append(components, c)
		}
	}

	return fromComponents(components), nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

func fromComponents(components []string) Path {
	if len(components) == 0 {
		return Path{}
	}
	return Path{
		components: components,
		canonical:  Separator + strings.Join(components, Separator),
	}
}

func validateComponent(component string) error {
	if component == "" {
		return fmt.Errorf("%w: empty component", ErrInvalidPath)
	}
	if strings.Contains(component, Separator) {
		return fmt.Errorf("%w: component %q contains %q", ErrInvalidPath, component, Separator)
	}
	if strings.Contains(component, Reserved) {
		return fmt.Errorf("%w: component %q contains %q", ErrInvalidPath, component, Reserved)
	}
	return nil
}

// Components returns a copy of the path components, front to back.
func (p Path) Components() []string {
	out := make([]string, len(p.components))
	copy(out, p.components)
	return out
}

// IsRoot reports whether p is the root path.
func (p Path) IsRoot() bool {
	return len(p.components) == 0
}

// Depth returns the number of components. The root has depth zero.
func (p Path) Depth() int {
	return len(p.components)
}

// Parent returns the path one level up.
func (p Path) Parent() (Path, error) {
	if p.IsRoot() {
		return Path{}, fmt.Errorf("parent: %w", ErrRoot)
	}
	return fromComponents(p.components[:len(p.components)-1]), nil
}

// Last returns the final component.
func (p Path) Last() (string, error) {
	if p.IsRoot() {
		return "", fmt.Errorf("last: %w", ErrRoot)
	}
	return p.components[len(p.components)-1], nil
}

// IsSubpath reports whether other is p itself or one of its ancestors.
//
// The test is component-wise, so "/ab" is not a subpath of "/a".
func (p Path) IsSubpath(other Path) bool {
	if len(other.components) > len(p.components) {
		return false
	}
	for i, c := range other.components {
		if p.components[i] != c {
			return false
		}
	}
	return true
}

// Ancestors returns the ancestor chain of p: root first, p itself last.
func (p Path) Ancestors() []Path {
	chain := make([]Path, 0, len(p.components)+1)
	for i := 0; i <= len(p.components); i++ {
		chain = append(chain, fromComponents(p.components[:i]))
	}
	return chain
}

// String returns the canonical form.
func (p Path) String() string {
	if p.IsRoot() {
		return Separator
	}
	return p.canonical
}

// Key returns a comparable value identifying p. Two paths are equal iff
// their keys are equal.
func (p Path) Key() string {
	return p.String()
}

// Equal reports whether p and other name the same node.
func (p Path) Equal(other Path) bool {
	return p.String() == other.String()
}

// Compare orders paths by depth, then by canonical string.
//
// It returns a negative number when p sorts before other, zero when they are
// equal and a positive number otherwise. An ancestor always sorts before its
// descendants.
func (p Path) Compare(other Path) int {
	if d := len(p.components) - len(other.components); d != 0 {
		return d
	}
	return strings.Compare(p.String(), other.String())
}

// Less reports whether p sorts before other.
func (p Path) Less(other Path) bool {
	return p.Compare(other) < 0
}

// MarshalText implements encoding.TextMarshaler.
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// Sort orders paths in place by depth, then canonical string.
func Sort(paths []Path) {
	sort.Slice(paths, func(i, j int) bool {
		return paths[i].Less(paths[j])
	})
}

// Strings converts paths to their canonical forms.
func Strings(paths []Path) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.String()
	}
	return out
}

// ParseAll parses every string in ss, failing on the first invalid entry.
func ParseAll(ss []string) ([]Path, error) {
	out := make([]Path, 0, len(ss))
	for _, s := range ss {
		p, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
