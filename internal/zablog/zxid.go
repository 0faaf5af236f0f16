// Package zablog holds the command log: the ordered, append-only
// sequence of state-machine commands the replication engine agrees
// on, each stamped with a zxid. It has no knowledge of the tree or of
// the election/broadcast protocol; it is pure bookkeeping, kept
// separate so the engine and the dispatcher can both depend on it
// without depending on each other.
package zablog

import "fmt"

// Zxid totally orders commands across the cluster: an epoch (bumped
// on every leadership change) paired with a per-epoch counter that
// the current leader increments strictly on every proposal.
type Zxid uint64

// NewZxid packs an epoch and counter into a Zxid.
func NewZxid(epoch uint32, counter uint32) Zxid {
	return Zxid(uint64(epoch)<<32 | uint64(counter))
}

// Epoch returns the epoch component.
func (z Zxid) Epoch() uint32 { return uint32(z >> 32) }

// Counter returns the per-epoch counter component.
func (z Zxid) Counter() uint32 { return uint32(z) }

// Less reports whether z sorts before other under the lexicographic
// (epoch, counter) order that defines total order across the
// cluster.
func (z Zxid) Less(other Zxid) bool { return z < other }

func (z Zxid) String() string {
	return fmt.Sprintf("%d:%d", z.Epoch(), z.Counter())
}
