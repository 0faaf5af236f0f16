package config

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Lockfile is an exclusive, process-lifetime advisory lock on a
// server's -addr identity directory, preventing two processes from
// accidentally sharing one -addr (spec's "Startup exclusivity").
type Lockfile struct {
	f *os.File
}

// AcquireLockfile creates (if needed) and exclusively locks the
// server's lockfile. The lock is released when the process exits or
// Release is called; it is not reentrant across processes.
func (c *C) AcquireLockfile() (*Lockfile, error) {
	const method = "AcquireLockfile"
	if err := os.MkdirAll(c.BaseDirectoryPath(), 0755); err != nil {
		return nil, errors.Wrapf(err, "%s: create base directory %q", method, c.BaseDirectoryPath())
	}
	f, err := os.OpenFile(c.LockFilePath(), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: open lockfile %q", method, c.LockFilePath())
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return nil, errors.Wrapf(err, "%s: another process already holds %q", method, c.LockFilePath())
	}
	return &Lockfile{f: f}, nil
}

// Release unlocks and closes the lockfile.
func (l *Lockfile) Release() error {
	if err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN); err != nil {
		return err
	}
	return l.f.Close()
}
