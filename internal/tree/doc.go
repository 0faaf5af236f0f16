// Package tree is the core state machine (spec §4.1): a rooted graph
// of dir/file/transient-dir nodes, applied to by a single serialized
// writer (the apply worker, outside this package) and read by many
// concurrent readers through a reader-writer lock.
//
// Nothing here talks to the network, the replication log, or disk:
// Apply takes a zablog.Command, holds the tree's write lock for the
// operation it dispatches to, and returns a Snapshot or an error (a
// *Error for every client-facing failure). That purity is what makes two servers that
// applied the same command prefix provably identical.
package tree
