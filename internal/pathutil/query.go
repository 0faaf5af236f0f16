package pathutil

import (
	"fmt"
	"net/url"
	"strconv"
)

// ErrBadQuery is returned by ParseQuery when the query string cannot
// be interpreted as a well-formed combination of the recognized
// parameters (dir, recursive, transient, wait, version). The
// dispatcher maps it to HTTP 400 with the reason "bad query
// parameter".
var ErrBadQuery = fmt.Errorf("bad query parameter")

// Query is the typed, validated form of a request's query string.
type Query struct {
	Dir       bool
	Recursive bool
	Transient bool

	// HasWait is true when ?wait=N was present; Wait holds N.
	HasWait bool
	Wait    uint64

	// HasVersion is true when ?version=N was present; Version holds N,
	// which may be -1 (create-only semantics for PUT).
	HasVersion bool
	Version    int64
}

// ParseQuery interprets the decoded query values produced by
// net/url.ParseQuery. It never itself decodes percent-encoding or
// splits the raw query string; that remains url.Values' job.
func ParseQuery(values url.Values) (Query, error) {
	var q Query
	for key, vs := range values {
		switch key {
		case "dir":
			q.Dir = true
		case "recursive":
			q.Recursive = true
		case "transient":
			q.Transient = true
		case "wait":
			n, err := parseUint(firstOf(vs))
			if err != nil {
				return Query{}, ErrBadQuery
			}
			q.HasWait = true
			q.Wait = n
		case "version":
			n, err := parseInt(firstOf(vs))
			if err != nil {
				return Query{}, ErrBadQuery
			}
			q.HasVersion = true
			q.Version = n
		default:
			return Query{}, ErrBadQuery
		}
	}
	return q, nil
}

func firstOf(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty integer")
	}
	return strconv.ParseUint(s, 10, 64)
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty integer")
	}
	return strconv.ParseInt(s, 10, 64)
}
