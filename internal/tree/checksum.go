package tree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sort"
)

// Checksum is the 32-bit fingerprint of a node's recursive content,
// rendered everywhere (headers, JSON bodies) as an 8-digit lowercase
// hex string.
type Checksum uint32

func (c Checksum) String() string {
	return fmt.Sprintf("%08x", uint32(c))
}

// computeChecksum folds a node's kind, version, content (files) or
// ordered (name, child checksum) pairs (directories) into a CRC-32.
// It is a pure function of already-computed child checksums, so the
// caller only needs to recompute bottom-up along the path that
// changed, never the whole subtree.
func computeChecksum(n *Node) Checksum {
	var buf bytes.Buffer
	buf.WriteByte(byte(n.kind))
	var versionBytes [8]byte
	binary.BigEndian.PutUint64(versionBytes[:], n.version)
	buf.Write(versionBytes[:])

	if n.kind == KindFile {
		buf.Write(n.content)
	} else {
		names := make([]string, 0, len(n.children))
		for name := range n.children {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			var nameLen [2]byte
			binary.BigEndian.PutUint16(nameLen[:], uint16(len(name)))
			buf.Write(nameLen[:])
			buf.WriteString(name)
			var childSum [4]byte
			binary.BigEndian.PutUint32(childSum[:], uint32(n.children[name].checksum))
			buf.Write(childSum[:])
		}
	}

	return Checksum(crc32.ChecksumIEEE(buf.Bytes()))
}
