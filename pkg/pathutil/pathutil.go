// Package pathutil provides path conversions shared by the walker, the URL
// builder and the group-key computation.
//
// The scanner uses absolute paths internally; everything stored in the
// catalog or used for identity is a forward-slash relative path anchored at
// the songs root. This package is the conversion layer between the two.
package pathutil

import (
	"path/filepath"
	"strings"
)

// ToPosix converts a path to forward-slash form.
func ToPosix(p string) string {
	return filepath.ToSlash(p)
}

// RelativeWithin converts absPath to a posix path relative to root.
// The second return value is false when the path lies outside root
// (including ".." escapes after cleaning).
func RelativeWithin(root, absPath string) (string, bool) {
	if root == "" || absPath == "" {
		return "", false
	}
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(absPath))
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// ResolveWithin resolves candidate (which may contain symlinks or relative
// segments) and returns its posix path relative to root, or false when the
// resolved path escapes the root.
func ResolveWithin(root, candidate string) (string, bool) {
	resolved, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		resolved = filepath.Clean(candidate)
	}
	return RelativeWithin(root, resolved)
}

// ParentPosix returns the posix parent of a posix relative path, with ""
// for top-level entries.
func ParentPosix(rel string) string {
	idx := strings.LastIndexByte(rel, '/')
	if idx < 0 {
		return ""
	}
	return rel[:idx]
}

// JoinURL appends a posix relative path to a base URL, inserting exactly one
// slash between the two. A "." relative path maps to the base itself.
func JoinURL(base, rel string) string {
	if rel == "." {
		rel = ""
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + rel
}
