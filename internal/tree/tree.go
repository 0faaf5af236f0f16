// Package tree implements the deterministic, in-memory hierarchical
// state machine: the thing every server in the cluster applies the
// committed command log against. Two servers that have applied the
// same command prefix hold byte-identical trees (same root checksum,
// same version on every path) — nothing here consults wall-clock
// time, randomness, or any other source of non-determinism.
package tree

import (
	"sync"

	"github.com/nicolagi/pulsefs/internal/pathutil"
	"github.com/nicolagi/pulsefs/internal/watch"
	"github.com/nicolagi/pulsefs/internal/zablog"
)

// ServersDir is the reserved sub-tree reflecting live cluster
// membership. Clients cannot write or delete beneath it; only
// RegisterMember/UnregisterMember (issued by the replication engine)
// may.
const ServersDir = "/pulsefs/servers"

// Tree is the full state machine. A single exclusive lock guards
// every mutation; readers take the shared side of the same lock, so
// a reader never observes a torn intermediate state mid-mutation.
//
// watches is consulted as a side effect of every successful mutation:
// firing happens while the lock is still held, so a watch can never
// fire on a version that a concurrent reader cannot yet observe.
type Tree struct {
	mu      sync.RWMutex
	root    *Node
	watches *watch.Registry
}

// NewTree returns a freshly bootstrapped tree: root plus the
// /pulsefs/servers directory, identical and un-replicated on every
// server (every server constructs the same bootstrap state
// independently, so it never needs to flow through the command log).
func NewTree(watches *watch.Registry) *Tree {
	root := newDirNode("", KindDir, nil)
	pulsefs := newDirNode("pulsefs", KindDir, root)
	servers := newDirNode("servers", KindDir, pulsefs)
	pulsefs.children["servers"] = servers
	root.children["pulsefs"] = pulsefs
	pulsefs.recomputeChecksum()
	root.recomputeChecksum()
	return &Tree{root: root, watches: watches}
}

// ReplaceWith atomically swaps t's root for other's, used by a
// follower that just received a full snapshot during synchronization.
// other's watch registry is discarded: t keeps its own, so watches
// registered against this engine's tree survive a re-sync.
func (t *Tree) ReplaceWith(other *Tree) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = other.root
}

// Apply dispatches a committed command to the matching operation. It
// is the only entry point the apply worker calls; every write request
// a dispatcher accepts is first turned into a zablog.Command and
// routed here once committed.
func (t *Tree) Apply(cmd zablog.Command) (*Snapshot, error) {
	switch cmd.Op {
	case zablog.OpCreateDir:
		return t.CreateDir(cmd.Path, cmd.Recursive, cmd.Transient, cmd.ExpectedVersion)
	case zablog.OpCreateFile, zablog.OpSetFile:
		return t.SetFile(cmd.Path, cmd.Content, cmd.Recursive, cmd.Transient, cmd.ExpectedVersion)
	case zablog.OpDelete:
		return t.Delete(cmd.Path, cmd.Recursive, cmd.ExpectedVersion)
	case zablog.OpCreateSequential:
		return t.CreateSequential(cmd.Path)
	case zablog.OpRegisterMember:
		return t.RegisterMember(cmd.Path)
	case zablog.OpUnregisterMember:
		return t.UnregisterMember(cmd.Path)
	default:
		return nil, errorf("Apply", "unknown op %q", cmd.Op)
	}
}

// View is the read path: it returns the current rendering of the
// node at path, or the *Error from find (not-found, or
// not-a-directory when a file blocks the path). Callers that implement wait=N
// semantics check the returned version themselves and, if not yet
// satisfied, register a watch before releasing the read lock.
func (t *Tree) View(path string) (*Snapshot, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, err := t.find(path)
	if err != nil {
		return nil, err
	}
	return snapshot(n), nil
}

// ViewLocked is View without its own locking, for callers that already
// hold the read lock (RLock) and need to check-then-register a watch
// as one atomic sequence against a concurrent mutation.
func (t *Tree) ViewLocked(path string) (*Snapshot, error) {
	n, err := t.find(path)
	if err != nil {
		return nil, err
	}
	return snapshot(n), nil
}

// Watches exposes the registry so the dispatcher can register a watch
// while still holding the tree's read lock (avoiding the race between
// "node doesn't yet satisfy wait=N" and "register interest").
func (t *Tree) Watches() *watch.Registry { return t.watches }

// RLock/RUnlock let the dispatcher hold the tree's read lock across a
// View plus a conditional watch registration.
func (t *Tree) RLock()   { t.mu.RLock() }
func (t *Tree) RUnlock() { t.mu.RUnlock() }

// find walks path from the root, returning the node or a *Error of
// kind not-found (missing) or not-a-directory (blocked by a file
// mid-path).
func (t *Tree) find(path string) (*Node, error) {
	path = pathutil.Clean(path)
	segments := pathutil.Split(path)
	cur := t.root
	for _, seg := range segments {
		if !cur.IsDir() {
			return nil, newError(KindNotADirectory, cur.Path())
		}
		child, ok := cur.children[seg]
		if !ok {
			return nil, newError(KindNotFound, path)
		}
		cur = child
	}
	return cur, nil
}

// ensureAncestors walks path's ancestor segments (everything but the
// final one) from the root, creating missing directories along the
// way when recursive is set, and returns the immediate parent node.
// Newly created ancestors start at version 0: the uniform +1 bump
// applied by every successful structural mutation (see bumpAncestors)
// is what gives them their first real version, exactly like any
// pre-existing ancestor on the same path.
func (t *Tree) ensureAncestors(path string, recursive, transient bool) (*Node, error) {
	parentPath, _ := pathutil.Parent(path)
	segments := pathutil.Split(parentPath)
	cur := t.root
	for _, seg := range segments {
		if !cur.IsDir() {
			return nil, newError(KindNotADirectory, cur.Path())
		}
		child, ok := cur.children[seg]
		if !ok {
			if !recursive {
				return nil, newError(KindNotFound, path)
			}
			kind := KindDir
			if transient {
				kind = KindTransientDir
			}
			child = newDirNode(seg, kind, cur)
			cur.children[seg] = child
		}
		cur = child
	}
	if !cur.IsDir() {
		return nil, newError(KindNotADirectory, cur.Path())
	}
	return cur, nil
}

// bumpAncestors increments the version of every node from target's
// parent up to the root by exactly one, recomputing checksums
// bottom-up, and fires the corresponding watches. It returns nothing:
// callers don't need the ancestor list, since watch-firing happens
// here alongside the bump.
func (t *Tree) bumpAncestors(target *Node) {
	for cur := target.parent; cur != nil; cur = cur.parent {
		cur.bumpVersion()
		t.watches.FireIfDue(cur.Path(), cur.version)
	}
}

func isReserved(path string) bool {
	return pathutil.Under(path, ServersDir)
}

// CreateDir implements the create-dir operation (spec §4.1).
func (t *Tree) CreateDir(path string, recursive, transient bool, expectedVersion *int64) (*Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path = pathutil.Clean(path)
	if pathutil.IsRoot(path) {
		return nil, newError(KindAlreadyExists, path)
	}
	if isReserved(path) {
		return nil, newError(KindForbidden, path)
	}

	parent, err := t.ensureAncestors(path, recursive, transient)
	if err != nil {
		return nil, err
	}
	_, name := pathutil.Parent(path)

	if expectedVersion != nil && *expectedVersion != int64(parent.version) {
		return nil, newVersionConflict(path, *expectedVersion, parent.version)
	}

	if _, exists := parent.children[name]; exists {
		return nil, newError(KindAlreadyExists, path)
	}

	kind := KindDir
	if transient {
		kind = KindTransientDir
	}
	node := newDirNode(name, kind, parent)
	parent.children[name] = node

	t.bumpAncestors(node)
	t.watches.FireIfDue(node.Path(), node.version)

	return snapshot(node), nil
}

// SetFile implements the combined create-file/set-file operation
// (spec §4.1): create-file is simply set-file with expected_version
// == -1 ("create only"), so both zablog ops route here.
func (t *Tree) SetFile(path string, content []byte, recursive, transient bool, expectedVersion *int64) (*Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path = pathutil.Clean(path)
	if pathutil.IsRoot(path) {
		return nil, newError(KindIsADirectory, path)
	}
	if isReserved(path) {
		return nil, newError(KindForbidden, path)
	}

	parent, err := t.ensureAncestors(path, recursive, transient)
	if err != nil {
		return nil, err
	}
	_, name := pathutil.Parent(path)
	existing, exists := parent.children[name]

	createOnly := expectedVersion != nil && *expectedVersion == -1

	if exists {
		if createOnly {
			return nil, newError(KindAlreadyExists, path)
		}
		if existing.kind != KindFile {
			return nil, newError(KindIsADirectory, path)
		}
		if expectedVersion != nil && *expectedVersion != int64(existing.version) {
			return nil, newVersionConflict(path, *expectedVersion, existing.version)
		}
		existing.content = append([]byte(nil), content...)
		existing.bumpVersion()
		for cur := existing.parent; cur != nil; cur = cur.parent {
			cur.recomputeChecksum()
		}
		t.watches.FireIfDue(existing.Path(), existing.version)
		return snapshot(existing), nil
	}

	if !createOnly && expectedVersion != nil {
		// expected_version >= 0 against a node that doesn't exist: no
		// version to compare against.
		return nil, newError(KindNotFound, path)
	}

	node := newFileNode(name, content, parent)
	parent.children[name] = node
	t.bumpAncestors(node)
	t.watches.FireIfDue(node.Path(), node.version)
	return snapshot(node), nil
}

// Delete implements the delete operation (spec §4.1), including
// recursive subtree removal and transient-dir cascade cleanup.
func (t *Tree) Delete(path string, recursive bool, expectedVersion *int64) (*Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path = pathutil.Clean(path)
	if isReserved(path) {
		return nil, newError(KindForbidden, path)
	}

	node, err := t.find(path)
	if err != nil {
		return nil, err
	}
	if node.parent == nil {
		return nil, newError(KindForbidden, path)
	}
	if node.IsDir() && len(node.children) > 0 && !recursive {
		return nil, newError(KindNotEmpty, path)
	}
	if expectedVersion != nil && *expectedVersion != int64(node.version) {
		return nil, newVersionConflict(path, *expectedVersion, node.version)
	}

	removedPaths := []string{node.Path()}
	removedPaths = append(removedPaths, collectDescendantPaths(node)...)

	parent := node.parent
	delete(parent.children, node.name)

	cur := parent
	for cur.parent != nil && cur.kind == KindTransientDir && len(cur.children) == 0 {
		removedPaths = append(removedPaths, cur.Path())
		grandparent := cur.parent
		delete(grandparent.children, cur.name)
		cur = grandparent
	}

	for survivor := cur; survivor != nil; survivor = survivor.parent {
		survivor.bumpVersion()
	}
	snap := snapshot(cur)

	for _, p := range removedPaths {
		t.watches.FireDeleted(p)
	}
	for survivor := cur; survivor != nil; survivor = survivor.parent {
		t.watches.FireIfDue(survivor.Path(), survivor.version)
	}

	return snap, nil
}

// collectDescendantPaths returns the path of every descendant of n,
// computed while n (and thus every descendant) is still attached to
// the tree — Path() walks parent pointers, so this must run before
// detaching anything.
func collectDescendantPaths(n *Node) []string {
	if !n.IsDir() {
		return nil
	}
	var paths []string
	for _, name := range n.sortedChildNames() {
		child := n.children[name]
		paths = append(paths, child.Path())
		paths = append(paths, collectDescendantPaths(child)...)
	}
	return paths
}

// CreateSequential implements create-sequential (spec §4.1): it
// atomically creates a child of parentPath named by a zero-padded,
// monotonically increasing, parent-local counter, and returns its
// snapshot. The dispatcher reads the snapshot's Path to populate the
// Location header.
func (t *Tree) CreateSequential(parentPath string) (*Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parentPath = pathutil.Clean(parentPath)
	if isReserved(parentPath) {
		return nil, newError(KindForbidden, parentPath)
	}

	parent, err := t.find(parentPath)
	if err != nil {
		return nil, err
	}
	if !parent.IsDir() {
		return nil, newError(KindNotADirectory, parentPath)
	}

	name := parent.nextSequentialName()
	node := newFileNode(name, nil, parent)
	parent.children[name] = node

	t.bumpAncestors(node)
	t.watches.FireIfDue(node.Path(), node.version)

	return snapshot(node), nil
}

// RegisterMember creates (or, on re-registration, touches) the node
// reflecting a live cluster member. Only the replication engine issues
// this; it bypasses the reserved-path check by construction — it is a
// distinct op from the client-facing five, never routed through
// CreateDir/SetFile.
func (t *Tree) RegisterMember(addr string) (*Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := pathutil.Join("pulsefs", "servers", addr)
	parent, err := t.find(ServersDir)
	if err != nil {
		return nil, err
	}
	_, name := pathutil.Parent(path)

	if existing, ok := parent.children[name]; ok {
		existing.bumpVersion()
		for cur := existing.parent; cur != nil; cur = cur.parent {
			cur.recomputeChecksum()
		}
		t.watches.FireIfDue(existing.Path(), existing.version)
		return snapshot(existing), nil
	}

	node := newFileNode(name, nil, parent)
	parent.children[name] = node
	t.bumpAncestors(node)
	t.watches.FireIfDue(node.Path(), node.version)
	return snapshot(node), nil
}

// UnregisterMember removes a member node if present; it is a no-op
// (not an error) if the member is already gone, since unregistration
// can race a server's own shutdown path with a peer's disconnection
// detection both firing for the same address.
func (t *Tree) UnregisterMember(addr string) (*Snapshot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	path := pathutil.Join("pulsefs", "servers", addr)
	parent, err := t.find(ServersDir)
	if err != nil {
		return nil, err
	}
	_, name := pathutil.Parent(path)

	node, ok := parent.children[name]
	if !ok {
		return snapshot(parent), nil
	}
	delete(parent.children, name)
	t.bumpAncestors(node)
	t.watches.FireDeleted(node.Path())
	return snapshot(parent), nil
}
