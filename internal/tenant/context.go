// Package tenant holds the tenant record and the value that binds
// repositories to one tenant's namespace.
package tenant

import (
	"errors"
	"fmt"
	"strings"
)

// Root is the first path segment of every tenant-scoped document.
const Root = "tenant"

var ErrInvalidID = errors.New("tenant: invalid id")

// Context identifies the tenant an operation runs for. The zero value is
// unbound.
type Context struct {
	id string
}

// NewContext validates id and returns a bound context.
func NewContext(id string) (Context, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.Contains(id, "/") {
		return Context{}, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return Context{id: id}, nil
}

func (c Context) ID() string { return c.id }

func (c Context) IsZero() bool { return c.id == "" }

// Path returns tenant/{id} followed by segments.
func (c Context) Path(segments ...string) string {
	return strings.Join(append([]string{Root, c.id}, segments...), "/")
}

func (c Context) String() string { return c.id }
