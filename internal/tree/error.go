package tree

import (
	"errors"
	"fmt"
)

// ErrKind enumerates the error taxonomy surfaced to clients (spec §7).
// bad-query is not a tree.ErrKind: it is caught by the dispatcher
// before a command ever reaches the tree.
type ErrKind int

const (
	KindNotFound ErrKind = iota
	KindAlreadyExists
	KindNotADirectory
	KindIsADirectory
	KindNotEmpty
	KindVersionConflict
	KindForbidden
)

// Error is the tree's error type: every failure a tree operation can
// return carries a Kind (which the dispatcher maps deterministically
// to an HTTP status) and enough context to render the exact reason
// text the client-facing contract pins.
type Error struct {
	Kind ErrKind
	Path string

	// Only meaningful for KindVersionConflict.
	ExpectedVersion int64
	ActualVersion   uint64
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNotFound:
		return e.Path + " does not exist"
	case KindAlreadyExists:
		return e.Path + " already exists"
	case KindNotADirectory:
		return e.Path + " is not a directory"
	case KindIsADirectory:
		return e.Path + " is a directory"
	case KindNotEmpty:
		return e.Path + " is not empty"
	case KindVersionConflict:
		return fmt.Sprintf("Version %d doesn't match node version %d", e.ExpectedVersion, e.ActualVersion)
	case KindForbidden:
		return "Forbidden"
	default:
		return "unknown error"
	}
}

func newError(kind ErrKind, path string) *Error {
	return &Error{Kind: kind, Path: path}
}

func newVersionConflict(path string, expected int64, actual uint64) *Error {
	return &Error{Kind: KindVersionConflict, Path: path, ExpectedVersion: expected, ActualVersion: actual}
}

// KindOf extracts the ErrKind from err, if err is (or wraps) a
// *tree.Error. The dispatcher uses this to pick an HTTP status.
func KindOf(err error) (ErrKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

func errorf(typeMethod, format string, a ...interface{}) error {
	return fmt.Errorf("github.com/nicolagi/pulsefs/internal/tree."+typeMethod+": "+format, a...)
}
