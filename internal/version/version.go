// Package version compares dotted numeric version tags component by component, so "3.2.03"
// equals "3.2.3" and "3.2.11" sorts after "3.2.2".
package version

import (
	"fmt"

	goversion "github.com/hashicorp/go-version"
)

// Parse validates a version tag.
func Parse(tag string) (*goversion.Version, error) {
	v, err := goversion.NewVersion(tag)
	if err != nil {
		return nil, fmt.Errorf("parse version %q: %w", tag, err)
	}
	return v, nil
}

// Compare returns -1, 0 or 1 as a is older than, equal to or newer than b.
func Compare(a, b string) (int, error) {
	va, err := Parse(a)
	if err != nil {
		return 0, err
	}
	vb, err := Parse(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

func Eq(a, b string) (bool, error) { return cmp(a, b, func(c int) bool { return c == 0 }) }
func Ge(a, b string) (bool, error) { return cmp(a, b, func(c int) bool { return c >= 0 }) }
func Le(a, b string) (bool, error) { return cmp(a, b, func(c int) bool { return c <= 0 }) }
func Gt(a, b string) (bool, error) { return cmp(a, b, func(c int) bool { return c > 0 }) }
func Lt(a, b string) (bool, error) { return cmp(a, b, func(c int) bool { return c < 0 }) }

func cmp(a, b string, ok func(int) bool) (bool, error) {
	c, err := Compare(a, b)
	if err != nil {
		return false, err
	}
	return ok(c), nil
}
