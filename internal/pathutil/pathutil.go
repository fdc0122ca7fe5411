// Package pathutil splits host-style absolute paths into the ordered
// component list the path resolver walks one directory at a time.
package pathutil

import (
	"errors"
	"strings"
)

// ErrNotAbsolute is returned by Split when path does not begin with "/".
var ErrNotAbsolute = errors.New("path is not absolute")

// Split breaks an absolute path into non-empty components, collapsing
// redundant and trailing slashes so that Split("/a/b/") and Split("/a//b")
// both yield ["a", "b"]. The root path "/" yields an empty, non-nil slice.
func Split(path string) ([]string, error) {
	if !strings.HasPrefix(path, "/") {
		return nil, ErrNotAbsolute
	}

	parts := strings.Split(path, "/")
	components := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		components = append(components, p)
	}
	return components, nil
}
