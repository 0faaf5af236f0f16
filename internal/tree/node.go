package tree

import "github.com/nicolagi/pulsefs/internal/pathutil"

// Kind is the sum type discriminator for a node: the three variants
// are structurally incompatible (a directory cannot hold content, a
// file cannot hold children) and that is enforced at construction,
// not scattered across every operation that touches a node.
type Kind uint8

const (
	KindDir Kind = iota
	KindFile
	KindTransientDir
)

func (k Kind) String() string {
	switch k {
	case KindDir:
		return "dir"
	case KindFile:
		return "file"
	case KindTransientDir:
		return "transient-dir"
	default:
		return "unknown"
	}
}

// IsDirKind reports whether k can hold children.
func (k Kind) IsDirKind() bool {
	return k == KindDir || k == KindTransientDir
}

// Node is a vertex in the tree. The children field is relevant only
// for directory kinds; content only for files. A Node's parent
// pointer is a non-owning back-reference used to bump ancestor
// versions and reconstruct Path(); it is never part of the
// serialization that produces the checksum, which flows strictly
// bottom-up from children to parent.
type Node struct {
	name    string
	kind    Kind
	version uint64
	content []byte

	// children is nil for files. Iteration for checksum/listing
	// purposes always goes through a sorted copy of the keys: the map
	// itself carries no order.
	children map[string]*Node

	// seq is the next sequential-create counter for this directory. It
	// is itself part of the node's durable state (it must never reuse
	// a name) but it is not part of the checksum: a pulled node's seq
	// is an implementation artifact of create-sequential, not content
	// observable via GET.
	seq uint64

	parent *Node

	checksum Checksum
}

func newDirNode(name string, kind Kind, parent *Node) *Node {
	n := &Node{
		name:     name,
		kind:     kind,
		children: make(map[string]*Node),
		parent:   parent,
	}
	n.checksum = computeChecksum(n)
	return n
}

func newFileNode(name string, content []byte, parent *Node) *Node {
	n := &Node{
		name:    name,
		kind:    KindFile,
		content: append([]byte(nil), content...),
		parent:  parent,
	}
	n.checksum = computeChecksum(n)
	return n
}

// Path reconstructs the node's absolute path by walking parent
// pointers to the root.
func (n *Node) Path() string {
	if n.parent == nil {
		return "/"
	}
	var segments []string
	for cur := n; cur.parent != nil; cur = cur.parent {
		segments = append([]string{cur.name}, segments...)
	}
	return pathutil.Join(segments...)
}

func (n *Node) IsDir() bool { return n.kind.IsDirKind() }

// sortedChildNames returns the node's children's names in
// lexicographic order, the order mandated for every listing and for
// checksum computation.
func (n *Node) sortedChildNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	// Insertion sort is fine: directories in this store are not
	// expected to hold enough children for it to matter, and it keeps
	// this free of an extra import.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j-1] > names[j]; j-- {
			names[j-1], names[j] = names[j], names[j-1]
		}
	}
	return names
}

// recomputeChecksum refreshes n's own checksum from its current
// version/content/children and returns it. Callers must call it
// bottom-up: a parent's recompute is only correct once every touched
// child has already been recomputed.
func (n *Node) recomputeChecksum() Checksum {
	n.checksum = computeChecksum(n)
	return n.checksum
}

// bumpVersion increments the node's version (structural mutation for
// directories, content mutation for files) and refreshes its
// checksum.
func (n *Node) bumpVersion() {
	n.version++
	n.recomputeChecksum()
}

// nextSequentialName returns the next zero-padded, parent-local,
// monotonically increasing counter name and advances the counter. The
// counter never resets and never reuses a name for the lifetime of
// the directory node in memory.
func (n *Node) nextSequentialName() string {
	name := formatSequential(n.seq)
	n.seq++
	return name
}

func formatSequential(v uint64) string {
	const width = 10
	digits := [width]byte{}
	for i := width - 1; i >= 0; i-- {
		digits[i] = byte('0' + v%10)
		v /= 10
	}
	return string(digits[:])
}
