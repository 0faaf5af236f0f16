// Package zab implements the ZooKeeper-Atomic-Broadcast-style
// replication engine (spec §4.3): leader election, proposal/ack/commit
// broadcast, follower synchronization, and quorum tracking over a
// framed peer-RPC wire protocol.
package zab

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"net"

	"github.com/pkg/errors"

	"github.com/nicolagi/pulsefs/internal/tree"
	"github.com/nicolagi/pulsefs/internal/zablog"
)

// Type names a peer-RPC message kind (spec §6: "Peer RPC wire format:
// framed messages typed as PROPOSE, ACK, COMMIT, VOTE, SYNC-REQ,
// SYNC-RESP, SNAPSHOT, PING").  Join/Forward are this implementation's
// own bootstrap/forwarding additions, carried over the same framing.
type Type string

const (
	TypeVote        Type = "VOTE"
	TypePropose     Type = "PROPOSE"
	TypeAck         Type = "ACK"
	TypeCommit      Type = "COMMIT"
	TypeSyncReq     Type = "SYNC-REQ"
	TypeSyncResp    Type = "SYNC-RESP"
	TypeSnapshot    Type = "SNAPSHOT"
	TypePing        Type = "PING"
	TypePong        Type = "PONG"
	TypeJoin        Type = "JOIN"
	TypeJoinResp    Type = "JOIN-RESP"
	TypeForward     Type = "FORWARD"
	TypeForwardResp Type = "FORWARD-RESP"
)

// Result carries a state-machine operation's outcome across the wire:
// either a snapshot of the affected node, or enough of a *tree.Error
// to reconstruct it on the receiving side (errors don't gob-encode
// through an interface, so the fields travel explicitly).
type Result struct {
	Snapshot *tree.Snapshot

	HasError       bool
	ErrKind        tree.ErrKind
	ErrPath        string
	ErrExpectedVer int64
	ErrActualVer   uint64
}

func resultOf(snap *tree.Snapshot, err error) Result {
	if err == nil {
		return Result{Snapshot: snap}
	}
	if kind, ok := tree.KindOf(err); ok {
		var te *tree.Error
		_ = errors.As(err, &te)
		return Result{
			HasError:       true,
			ErrKind:        kind,
			ErrPath:        te.Path,
			ErrExpectedVer: te.ExpectedVersion,
			ErrActualVer:   te.ActualVersion,
		}
	}
	return Result{HasError: true, ErrKind: tree.KindForbidden, ErrPath: err.Error()}
}

// Err reconstructs the *tree.Error (or nil) this Result carries.
func (r Result) Err() error {
	if !r.HasError {
		return nil
	}
	return &tree.Error{
		Kind:            r.ErrKind,
		Path:            r.ErrPath,
		ExpectedVersion: r.ErrExpectedVer,
		ActualVersion:   r.ErrActualVer,
	}
}

// Message is the single envelope for every peer-RPC exchange. Only
// the fields relevant to Type are populated; the rest carry their
// zero value and are ignored by the receiver.
type Message struct {
	Type     Type
	SenderID string
	Epoch    uint32

	// Vote / Join-Resp: who the sender currently believes is leader.
	Leader string

	// Vote.
	LastZxid zablog.Zxid

	// Propose / Commit.
	Zxid    zablog.Zxid
	Command zablog.Command

	// Forward / Forward-Resp: correlates a follower's forwarded write
	// with the leader's eventual reply, since the follower does not
	// know the zxid the leader will assign until after the fact.
	ReqID  uint64
	Result Result

	// Sync.
	Since    zablog.Zxid
	Tail     []zablog.Command
	Snapshot *tree.FullSnapshot
	// SnapshotZxid is the zxid Snapshot reflects: the point a receiver
	// restarting its log from this snapshot must treat as its new
	// baseline, so it doesn't reissue or reuse zxids/sequential names
	// the snapshot already accounts for.
	SnapshotZxid zablog.Zxid

	// Join-Resp.
	Peers []string
}

// writeMessage frames msg as a 4-byte big-endian length prefix
// followed by its gob encoding.
func writeMessage(conn net.Conn, msg Message) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(msg); err != nil {
		return errors.Wrap(err, "zab: encode message")
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))
	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return errors.Wrap(err, "zab: write length prefix")
	}
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "zab: write message body")
	}
	return nil
}

// readMessage reads one length-prefixed, gob-encoded Message from
// conn, blocking until a full message arrives or the connection
// errors out.
func readMessage(conn net.Conn) (Message, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
		return Message{}, err
	}
	size := binary.BigEndian.Uint32(lenPrefix[:])
	body := make([]byte, size)
	if _, err := io.ReadFull(conn, body); err != nil {
		return Message{}, errors.Wrap(err, "zab: read message body")
	}
	var msg Message
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&msg); err != nil {
		return Message{}, errors.Wrap(err, "zab: decode message")
	}
	return msg, nil
}
