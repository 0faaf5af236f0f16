package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// DefaultTimeoutSeconds is used when -timeout is not given on the
// command line.
const DefaultTimeoutSeconds = 3

// C holds the validated configuration for one pulsed process. It is
// built once, from flag.Parse'd values, and never mutated afterwards.
type C struct {
	// Port is the HTTP client-facing listening port.
	Port int

	// Addr is this server's peer-RPC listen address; it doubles as the
	// server's identity within the cluster (the name under which it
	// registers itself at /pulsefs/servers).
	Addr string

	// Join is an existing cluster member's peer address to contact on
	// startup. Empty means "start (or be the first member of) a new
	// cluster".
	Join string

	// Timeout is shared by leader election, proposal-ACK waits, and
	// member-liveness detection.
	Timeout time.Duration
}

// Load validates the raw flag values and derives C. It does not touch
// the filesystem; callers that need the on-disk directory named after
// Addr call BaseDirectoryPath and create it themselves, since creating
// it is part of startup sequencing (see cmd/pulsed), not configuration.
func Load(port int, addr, join string, timeoutSeconds int) (*C, error) {
	const method = "Load"
	if port <= 0 || port > 65535 {
		return nil, errorf(method, "invalid -port %d", port)
	}
	if addr == "" {
		return nil, errorf(method, "-addr is required")
	}
	if timeoutSeconds <= 0 {
		return nil, errorf(method, "invalid -timeout %d", timeoutSeconds)
	}
	return &C{
		Port:    port,
		Addr:    addr,
		Join:    join,
		Timeout: time.Duration(timeoutSeconds) * time.Second,
	}, nil
}

// BaseDirectoryPath is the on-disk directory created at startup for
// transient files (the startup lockfile). Its name
// is exactly the peer address, sanitized for use as a path component,
// per spec.
func (c *C) BaseDirectoryPath() string {
	return filepath.FromSlash(sanitize(c.Addr))
}

// LockFilePath is the exclusivity lockfile taken at startup to detect
// two processes sharing the same -addr identity.
func (c *C) LockFilePath() string {
	return filepath.Join(c.BaseDirectoryPath(), "lock")
}

// SnapshotStagingPath names a snapshot staging file inside the base
// directory. Nothing in this module reads or writes it: a follower
// applies a received SNAPSHOT in memory (zab.Engine.applySync).
func (c *C) SnapshotStagingPath() string {
	return filepath.Join(c.BaseDirectoryPath(), "snapshot.staging")
}

// sanitize replaces path separators so that a host:port address can
// be used directly as a single path component.
func sanitize(addr string) string {
	out := make([]byte, 0, len(addr))
	for i := 0; i < len(addr); i++ {
		switch b := addr[i]; b {
		case '/', '\\':
			out = append(out, '_')
		default:
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return "pulsed"
	}
	return string(out)
}

func (c *C) String() string {
	return fmt.Sprintf("port=%d addr=%s join=%s timeout=%s", c.Port, c.Addr, c.Join, c.Timeout)
}
