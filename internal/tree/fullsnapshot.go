package tree

import "github.com/nicolagi/pulsefs/internal/watch"

// FullSnapshot is the deep, recursive rendering of a node used for
// follower bootstrap when a follower's log has diverged past the
// leader's retained tail (spec §4.3 Discovery/Synchronization). It
// differs from Snapshot, which renders only one level of children:
// here every descendant is fully rendered, since the whole point is
// to let a follower reconstruct the tree from nothing.
type FullSnapshot struct {
	Name     string          `json:"name"`
	Type     string          `json:"type"`
	Version  uint64          `json:"version"`
	Content  []byte          `json:"content,omitempty"`
	Children []*FullSnapshot `json:"children,omitempty"`
	// Seq is the directory's next sequential-create counter (spec §8
	// "Sequential monotonicity"). It must survive a snapshot transfer:
	// a follower that bootstraps from a snapshot and is later elected
	// leader must not reissue a sequential name the snapshot's source
	// already handed out.
	Seq uint64 `json:"seq,omitempty"`
}

// Full renders the entire tree, rooted at "/", for transfer to a
// follower whose state must be replaced wholesale.
func (t *Tree) Full() *FullSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fullSnapshot(t.root)
}

func fullSnapshot(n *Node) *FullSnapshot {
	fs := &FullSnapshot{
		Name:    n.name,
		Type:    n.kind.String(),
		Version: n.version,
	}
	if n.kind == KindFile {
		fs.Content = append([]byte(nil), n.content...)
		return fs
	}
	fs.Seq = n.seq
	for _, name := range n.sortedChildNames() {
		fs.Children = append(fs.Children, fullSnapshot(n.children[name]))
	}
	return fs
}

// LoadFull reconstructs a Tree from a FullSnapshot, recomputing every
// checksum bottom-up. Used by a follower that receives a SNAPSHOT
// message during synchronization.
func LoadFull(fs *FullSnapshot, watches *watch.Registry) *Tree {
	root := rebuild(fs, nil)
	return &Tree{root: root, watches: watches}
}

func rebuild(fs *FullSnapshot, parent *Node) *Node {
	kind := KindDir
	switch fs.Type {
	case "file":
		kind = KindFile
	case "transient-dir":
		kind = KindTransientDir
	case "dir":
		kind = KindDir
	}
	if kind == KindFile {
		n := newFileNode(fs.Name, fs.Content, parent)
		n.version = fs.Version
		n.recomputeChecksum()
		return n
	}
	n := newDirNode(fs.Name, kind, parent)
	n.version = fs.Version
	n.seq = fs.Seq
	for _, child := range fs.Children {
		n.children[child.Name] = rebuild(child, n)
	}
	n.recomputeChecksum()
	return n
}
