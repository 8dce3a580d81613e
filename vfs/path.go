package vfs

import (
	"strings"

	"github.com/aos-project/aos-core/errors"
)

// MaxPathLength and MaxPathComponents are the hard limits spec §4.D sets on
// normalized paths.
const (
	MaxPathLength     = 512
	MaxPathComponents = 64
)

// Normalize resolves `path` to a canonical absolute form (spec §4.D "Path
// normalization"): relative paths are joined against `cwd`, "." components
// are dropped, ".." pops the preceding component (a no-op at root), and the
// result is rejoined with single slashes. Normalize is idempotent:
// Normalize(Normalize(p)) == Normalize(p) for any p (spec §8).
func Normalize(path string, cwd string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		if cwd == "" {
			cwd = "/"
		}
		path = cwd + "/" + path
	}

	if len(path) > MaxPathLength {
		return "", errors.Invalid.WithMessagef("path exceeds maximum length of %d bytes", MaxPathLength)
	}

	rawParts := strings.Split(path, "/")
	stack := make([]string, 0, len(rawParts))

	for _, part := range rawParts {
		switch part {
		case "", ".":
			// Skip empty components (from leading/repeated slashes) and ".".
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, part)
		}
	}

	if len(stack) > MaxPathComponents {
		return "", errors.Invalid.WithMessagef("path has more than %d components", MaxPathComponents)
	}

	if len(stack) == 0 {
		return "/", nil
	}
	return "/" + strings.Join(stack, "/"), nil
}

// SplitParent splits a normalized absolute path into its parent directory
// and base name. SplitParent("/") returns ("/", "").
func SplitParent(path string) (parent, base string) {
	if path == "/" {
		return "/", ""
	}
	idx := strings.LastIndexByte(path, '/')
	base = path[idx+1:]
	if idx == 0 {
		parent = "/"
	} else {
		parent = path[:idx]
	}
	return parent, base
}
