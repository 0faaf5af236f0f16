package zablog

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrNotFound is returned by Tail when the requested zxid is
// older than the log's retained tail (the caller must fall back to a
// full snapshot transfer).
var ErrNotFound = errors.New("zxid not found in retained log")

// Log is the append-only, ordered sequence of committed commands kept
// by one server. Entries are appended strictly in zxid order;
// Log itself does not enforce that order, since it trusts its single
// writer (the apply worker) to do so.
type Log struct {
	mu       sync.Mutex
	entries  []Command
	index    map[Zxid]int
	baseline Zxid
}

// NewLog returns an empty command log.
func NewLog() *Log {
	return &Log{index: make(map[Zxid]int)}
}

// SetBaseline seeds the log's notion of "empty" at zxid after a
// full-snapshot bootstrap, discarding any entries appended so far
// (there should be none yet). LastZxid and Tail treat baseline the
// way they'd otherwise treat the zero Zxid, so a server that starts
// from a snapshot and is later elected leader still assigns zxids and
// sequential-create names strictly after the point the snapshot was
// taken at.
func (l *Log) SetBaseline(zxid Zxid) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.baseline = zxid
	l.entries = nil
	l.index = make(map[Zxid]int)
}

// Append records cmd as the next entry. It is the caller's
// responsibility to ensure cmd.Zxid is strictly greater than every
// previously appended zxid.
func (l *Log) Append(cmd Command) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index[cmd.Zxid] = len(l.entries)
	l.entries = append(l.entries, cmd)
}

// LastZxid returns the zxid of the most recently appended command, or
// the log's baseline (zero, unless set by SetBaseline) if no command
// has been appended since.
func (l *Log) LastZxid() Zxid {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return l.baseline
	}
	return l.entries[len(l.entries)-1].Zxid
}

// Len reports the number of retained entries.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Tail returns every entry with zxid strictly greater than since, in
// order. It returns ErrNotFound if since is older than the oldest
// retained entry and not itself present (the caller must fall back
// to a snapshot transfer) and since is not the log's baseline.
func (l *Log) Tail(since Zxid) ([]Command, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if since == l.baseline {
		out := make([]Command, len(l.entries))
		copy(out, l.entries)
		return out, nil
	}
	pos, ok := l.index[since]
	if !ok {
		return nil, ErrNotFound
	}
	rest := l.entries[pos+1:]
	out := make([]Command, len(rest))
	copy(out, rest)
	return out, nil
}

// Get returns the single entry recorded at zxid.
func (l *Log) Get(zxid Zxid) (Command, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.index[zxid]
	if !ok {
		return Command{}, false
	}
	return l.entries[pos], true
}
