// Package pathutil normalizes node paths and parses the typed query
// parameters the dispatcher accepts (dir, recursive, transient, wait,
// version). It does not decode percent-encoding: per spec, the bytes
// of a path component are preserved verbatim, since the tree indexes
// children by their literal encoded name.
package pathutil

import "strings"

// Clean normalizes p to the canonical form used as a tree key: it is
// always absolute (leading "/"), never has a trailing "/" unless it
// is the root itself, and internal repeated slashes are collapsed.
// Unlike path.Clean, it never interprets "." or ".." as special,
// since node names are opaque, percent-encoding-preserving strings
// that may legitimately contain those bytes.
func Clean(p string) string {
	if p == "" {
		return "/"
	}
	segments := Split(p)
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}

// Split breaks a path into its non-empty segments, in order. Split
// never returns an empty segment: "//a//b/" yields ["a", "b"].
func Split(p string) []string {
	raw := strings.Split(p, "/")
	segments := make([]string, 0, len(raw))
	for _, s := range raw {
		if s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// Join re-assembles segments into a canonical absolute path.
func Join(segments ...string) string {
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}

// Parent returns the canonical path of p's parent and p's own base
// name. Parent("/") returns ("/", "").
func Parent(p string) (parent string, name string) {
	segments := Split(p)
	if len(segments) == 0 {
		return "/", ""
	}
	name = segments[len(segments)-1]
	parent = Join(segments[:len(segments)-1]...)
	return parent, name
}

// IsRoot reports whether p denotes the tree root.
func IsRoot(p string) bool {
	return Clean(p) == "/"
}

// Under reports whether p is equal to prefix or a descendant of it
// at any depth (the tree uses it to recognize the reserved
// /pulsefs/servers sub-tree).
func Under(p string, prefix string) bool {
	p = Clean(p)
	prefix = Clean(prefix)
	if p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix+"/")
}
