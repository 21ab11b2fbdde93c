package core

import (
	"path"
	"strings"

	"github.com/nemanja-m/mrfs/internal/shared/errs"
)

const Root = "/"

// CleanPath normalizes an absolute namespace path.
func CleanPath(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", errs.New(errs.InvalidArgument, "path", "path %q is not absolute", p)
	}
	return path.Clean(p), nil
}

// ParentPath returns the parent directory of a clean path.
func ParentPath(p string) string {
	return path.Dir(p)
}

// BaseName returns the last element of a clean path.
func BaseName(p string) string {
	return path.Base(p)
}

// IsWithin reports whether p equals dir or lies below it.
func IsWithin(p, dir string) bool {
	if dir == Root {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}
