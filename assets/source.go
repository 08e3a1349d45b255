// Package assets resolves logical asset paths against an ordered set of
// sources: a plain data folder, any number of GRF archives, and the
// embedded fallback set. The first source that has the path wins.
package assets

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrNotFound is the root cause reported when a path is absent from a
// source, or from every source of a Composite. Use errors.Cause to test
// for it.
var ErrNotFound = errors.New("asset not found")

// Source is one place assets can come from. Implementations must be
// safe for concurrent use once constructed.
type Source interface {
	// Name identifies the source in logs.
	Name() string

	// Priority orders sources; lower values are consulted first.
	Priority() int

	// Exists reports whether the source can serve the normalized path.
	Exists(name string) bool

	// Load returns the asset bytes. A missing path wraps ErrNotFound;
	// any other error means the source matched the path but could not
	// produce it.
	Load(name string) ([]byte, error)

	// ListFiles returns every logical path the source can serve, in
	// canonical form.
	ListFiles() []string
}

// Normalize maps a logical path onto its canonical internal form:
// forward slashes, no leading separator. GRF archives store backslash
// paths and callers routinely mix both styles.
func Normalize(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return strings.TrimLeft(name, "/")
}
