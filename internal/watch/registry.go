// Package watch implements the per-path subscription registry: the
// set of callers waiting for a node at some path to reach a version
// threshold, or to be deleted. Firing happens synchronously, as a
// side effect of the state machine applying a command (see
// internal/tree), never on a separate goroutine racing the mutation
// it reports on.
package watch

import "sync"

// Outcome is delivered exactly once to a registered sink.
type Outcome struct {
	// Version is the node's version at the moment the watch fired.
	// Meaningless when Deleted is true.
	Version uint64
	Deleted bool
}

// Sink is the caller's side of a registered watch: a one-shot channel
// together with the function that cancels it without firing (used
// when the waiting HTTP connection closes).
type Sink struct {
	ch     chan Outcome
	cancel func()
}

// C returns the channel the sink fires on. It receives at most one
// value, then is closed.
func (s *Sink) C() <-chan Outcome { return s.ch }

// Cancel releases the watch silently: no value is ever sent on C().
// Safe to call more than once, and safe to call after the sink has
// already fired (a no-op in that case).
func (s *Sink) Cancel() { s.cancel() }

type entry struct {
	threshold uint64
	ch        chan Outcome
}

// Registry maps path to the set of pending watches on it. All
// registration, firing, and cancellation for a single path serializes
// through the same mutex.
type Registry struct {
	mu      sync.Mutex
	pending map[string][]*entry
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string][]*entry)}
}

// Register records that the caller wants to be woken when the node at
// path reaches version >= threshold, or is deleted. A threshold of 0
// is released by the very next observable state change at path,
// whatever version results — this is how "wait for creation" is
// expressed.
//
// The caller must check the node's current state before calling
// Register: a watch only reports transitions that happen after
// registration, never the state as it stood at registration time.
func (r *Registry) Register(path string, threshold uint64) *Sink {
	e := &entry{threshold: threshold, ch: make(chan Outcome, 1)}
	r.mu.Lock()
	r.pending[path] = append(r.pending[path], e)
	r.mu.Unlock()
	s := &Sink{ch: e.ch}
	s.cancel = func() { r.remove(path, e) }
	return s
}

func (r *Registry) remove(path string, target *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.pending[path]
	for i, e := range entries {
		if e == target {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(r.pending, path)
	} else {
		r.pending[path] = entries
	}
}

// FireIfDue releases every pending watch at path whose threshold has
// been met by version, delivering Outcome{Version: version} to each.
// Watches not yet due remain registered.
func (r *Registry) FireIfDue(path string, version uint64) {
	r.mu.Lock()
	entries := r.pending[path]
	var due []*entry
	var remaining []*entry
	for _, e := range entries {
		if version >= e.threshold {
			due = append(due, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	if len(remaining) == 0 {
		delete(r.pending, path)
	} else {
		r.pending[path] = remaining
	}
	r.mu.Unlock()

	for _, e := range due {
		e.ch <- Outcome{Version: version}
		close(e.ch)
	}
}

// FireDeleted releases every pending watch at path with
// Outcome{Deleted: true}, regardless of threshold.
func (r *Registry) FireDeleted(path string) {
	r.mu.Lock()
	entries := r.pending[path]
	delete(r.pending, path)
	r.mu.Unlock()

	for _, e := range entries {
		e.ch <- Outcome{Deleted: true}
		close(e.ch)
	}
}

// Len reports the number of paths with at least one pending watch;
// exposed for tests that assert watches are cleaned up.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
