package zab

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/nicolagi/pulsefs/internal/tree"
	"github.com/nicolagi/pulsefs/internal/zablog"
)

// Role is a server's current position in the replication protocol.
type Role int

const (
	RoleElecting Role = iota
	RoleFollower
	RoleLeader
)

func (r Role) String() string {
	switch r {
	case RoleLeader:
		return "leader"
	case RoleFollower:
		return "follower"
	default:
		return "electing"
	}
}

// ErrNoLeader is returned by Propose when a follower has no reachable
// leader to forward a write to; the dispatcher maps it to 503, per
// spec §7 ("a client write that loses its leader returns 503").
var ErrNoLeader = errors.New("zab: no leader available")

// peer is an established connection to another member, plus the
// mutex serializing writes onto it (a net.Conn is not safe for
// concurrent writers).
type peer struct {
	mu   sync.Mutex
	conn net.Conn
}

func (p *peer) send(msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return writeMessage(p.conn, msg)
}

// ackState tracks quorum progress for the single proposal currently
// in flight.
type ackState struct {
	zxid zablog.Zxid
	acks map[string]bool
	done chan struct{}
	once sync.Once
}

func (a *ackState) signal() {
	a.once.Do(func() { close(a.done) })
}

// Engine is the replication engine: one per server process. It owns
// the command log and is the only caller of tree.Apply, which it
// invokes on COMMIT (leader: immediately after quorum; follower:
// immediately on receiving COMMIT).
type Engine struct {
	self    string
	timeout time.Duration
	tree    *tree.Tree
	log     *zablog.Log

	proposeMu sync.Mutex // one command in flight at a time, cluster-wide

	mu      sync.Mutex
	role    Role
	epoch   uint32
	leader  string
	members map[string]bool
	peers   map[string]*peer

	ackOf *ackState // set while a leader-side proposal awaits quorum

	pendingZxid zablog.Zxid // follower: proposal received, not yet committed
	pendingCmd  zablog.Command
	hasPending  bool

	forwardSeq  uint64
	forwardMu   sync.Mutex
	forwardWait map[uint64]chan Result

	pingMu   sync.Mutex
	pingWait map[string]chan struct{}
}

// NewEngine constructs an engine that starts out electing, knowing
// only itself.
func NewEngine(self string, timeout time.Duration, t *tree.Tree, commandLog *zablog.Log) *Engine {
	return &Engine{
		self:        self,
		timeout:     timeout,
		tree:        t,
		log:         commandLog,
		role:        RoleElecting,
		members:     map[string]bool{self: true},
		peers:       make(map[string]*peer),
		forwardWait: make(map[uint64]chan Result),
		pingWait:    make(map[string]chan struct{}),
	}
}

// Role reports the engine's current role.
func (e *Engine) Role() Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

// Leader reports the address the engine currently believes is leader.
func (e *Engine) Leader() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}

// Members returns the known member addresses, including self.
func (e *Engine) Members() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.members))
	for m := range e.members {
		out = append(out, m)
	}
	return out
}

func (e *Engine) quorumSizeLocked() int {
	return len(e.members)/2 + 1
}

// Bootstrap establishes the initial member set and role. With no
// joinAddr, the server founds a brand-new cluster and is immediately
// its own (singleton-quorum) leader. With a joinAddr, it dials that
// peer, exchanges JOIN/JOIN-RESP to learn the member list and current
// leader, then synchronizes from whichever member turns out to be
// leader.
func (e *Engine) Bootstrap(ctx context.Context, joinAddr string) error {
	if joinAddr == "" {
		e.mu.Lock()
		e.role = RoleLeader
		e.leader = e.self
		e.epoch = 1
		e.mu.Unlock()
		log.WithField("self", e.self).Info("founding new cluster as leader")
		return nil
	}

	conn, err := net.DialTimeout("tcp", joinAddr, e.timeout)
	if err != nil {
		return errors.Wrapf(err, "zab: dial join peer %s", joinAddr)
	}
	jp := &peer{conn: conn}
	if err := jp.send(Message{Type: TypeJoin, SenderID: e.self}); err != nil {
		return err
	}
	resp, err := readMessage(conn)
	if err != nil {
		return errors.Wrap(err, "zab: read join response")
	}

	e.mu.Lock()
	e.members[joinAddr] = true
	e.members[e.self] = true
	for _, addr := range resp.Peers {
		e.members[addr] = true
	}
	e.peers[joinAddr] = jp
	e.leader = resp.Leader
	e.epoch = resp.Epoch
	e.role = RoleFollower
	e.mu.Unlock()

	syncTarget := joinAddr
	var leaderConn net.Conn
	if resp.Leader != "" && resp.Leader != joinAddr {
		if c, err := net.DialTimeout("tcp", resp.Leader, e.timeout); err == nil {
			leaderConn = c
			e.mu.Lock()
			e.peers[resp.Leader] = &peer{conn: leaderConn}
			e.mu.Unlock()
			syncTarget = resp.Leader
		}
	}

	// syncFrom reads its reply directly off the connection, so the read
	// loops start only once it is done.
	if err := e.syncFrom(syncTarget); err != nil {
		return err
	}
	go e.readLoop(joinAddr, conn)
	if leaderConn != nil {
		go e.readLoop(resp.Leader, leaderConn)
	}
	return nil
}

// syncFrom requests the committed log tail (or a full snapshot, if
// the peer replies with one) from addr and replays it locally. Used
// once at join time; this engine does not run periodic re-sync.
func (e *Engine) syncFrom(addr string) error {
	e.mu.Lock()
	p := e.peers[addr]
	since := e.log.LastZxid()
	e.mu.Unlock()
	if p == nil {
		return errors.Errorf("zab: no connection to %s", addr)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := writeMessage(p.conn, Message{Type: TypeSyncReq, SenderID: e.self, Since: since}); err != nil {
		return err
	}
	resp, err := readMessage(p.conn)
	if err != nil {
		return errors.Wrap(err, "zab: read sync response")
	}
	return e.applySync(resp)
}

func (e *Engine) applySync(resp Message) error {
	if resp.Type == TypeSnapshot && resp.Snapshot != nil {
		e.tree.ReplaceWith(tree.LoadFull(resp.Snapshot, e.tree.Watches()))
		e.log.SetBaseline(resp.SnapshotZxid)
		log.Info("synchronized via full snapshot")
		return nil
	}
	for _, cmd := range resp.Tail {
		if _, err := e.tree.Apply(cmd); err != nil {
			log.WithError(err).Debug("sync tail command produced an error on replay, continuing")
		}
		e.log.Append(cmd)
	}
	log.WithField("count", len(resp.Tail)).Info("synchronized via log tail")
	return nil
}

// Listen runs the peer acceptor loop on ln until it is closed.
func (e *Engine) Listen(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go e.serveConn(conn)
	}
}

// serveConn handles one inbound peer connection: the first message
// identifies the sender, and the connection is registered for later
// sends to that sender (unless one is already known) before that
// first message is handled; the read loop then takes over.
func (e *Engine) serveConn(conn net.Conn) {
	msg, err := readMessage(conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	if msg.SenderID != "" {
		e.mu.Lock()
		if _, known := e.peers[msg.SenderID]; !known {
			e.peers[msg.SenderID] = &peer{conn: conn}
		}
		e.members[msg.SenderID] = true
		e.mu.Unlock()
	}
	e.handle(conn, msg)
	e.readLoop(msg.SenderID, conn)
}

func (e *Engine) readLoop(addr string, conn net.Conn) {
	for {
		msg, err := readMessage(conn)
		if err != nil {
			log.WithField("peer", addr).WithError(err).Debug("peer connection closed")
			e.mu.Lock()
			delete(e.peers, addr)
			e.mu.Unlock()
			return
		}
		e.handle(conn, msg)
	}
}

// handle dispatches one inbound message by type.
func (e *Engine) handle(conn net.Conn, msg Message) {
	switch msg.Type {
	case TypeJoin:
		e.handleJoin(conn, msg)
	case TypeVote:
		e.handleVote(msg)
	case TypePropose:
		e.handlePropose(msg)
	case TypeAck:
		e.handleAck(msg)
	case TypeCommit:
		e.handleCommit(msg)
	case TypeForward:
		// Run off the read loop: the Broadcast it starts waits for the
		// forwarding follower's ACK, which arrives on this connection.
		go e.handleForward(msg)
	case TypeForwardResp:
		e.handleForwardResp(msg)
	case TypeSyncReq:
		e.handleSyncReq(conn, msg)
	case TypePing:
		_ = writeMessage(conn, Message{Type: TypePong, SenderID: e.self})
	case TypePong:
		e.handlePong(msg)
	}
}

func (e *Engine) handlePong(msg Message) {
	e.pingMu.Lock()
	ch, ok := e.pingWait[msg.SenderID]
	delete(e.pingWait, msg.SenderID)
	e.pingMu.Unlock()
	if ok {
		close(ch)
	}
}

// Ping sends a PING to addr and reports whether a PONG arrives before
// ctx is done. Used by membership liveness detection; the leader
// issues an unregister command for any member that fails this check.
func (e *Engine) Ping(ctx context.Context, addr string) bool {
	p := e.peerFor(addr)
	if p == nil {
		return false
	}
	ch := make(chan struct{})
	e.pingMu.Lock()
	e.pingWait[addr] = ch
	e.pingMu.Unlock()

	if err := p.send(Message{Type: TypePing, SenderID: e.self}); err != nil {
		e.pingMu.Lock()
		delete(e.pingWait, addr)
		e.pingMu.Unlock()
		return false
	}

	select {
	case <-ch:
		return true
	case <-ctx.Done():
		e.pingMu.Lock()
		delete(e.pingWait, addr)
		e.pingMu.Unlock()
		return false
	}
}

func (e *Engine) handleJoin(conn net.Conn, msg Message) {
	e.mu.Lock()
	peers := make([]string, 0, len(e.members))
	for m := range e.members {
		peers = append(peers, m)
	}
	resp := Message{Type: TypeJoinResp, SenderID: e.self, Epoch: e.epoch, Leader: e.leader, Peers: peers}
	e.members[msg.SenderID] = true
	e.mu.Unlock()
	_ = writeMessage(conn, resp)
}

// handleVote implements the adoption rule of Election (spec §4.3): a
// server changes its vote to any peer whose (epoch, last_zxid, id) is
// greater than its own current standing. A full leaderless multi-round
// protocol is out of scope here: Bootstrap settles the common cases
// (founding a cluster, or joining one with a known leader); handleVote
// covers the remaining case of an explicit vote broadcast during a
// re-election this engine's caller initiates.
func (e *Engine) handleVote(msg Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	candidate := Vote{ServerID: msg.SenderID, Epoch: msg.Epoch, LastZxid: msg.LastZxid}
	current := Vote{ServerID: e.self, Epoch: e.epoch, LastZxid: e.log.LastZxid()}
	if candidate.Beats(current) {
		e.leader = msg.SenderID
		e.epoch = msg.Epoch
		e.role = RoleFollower
	}
}

// handlePropose is the follower side of Broadcast: record the
// proposal (not yet applied) and ACK it back to the leader.
func (e *Engine) handlePropose(msg Message) {
	e.mu.Lock()
	e.pendingZxid = msg.Zxid
	e.pendingCmd = msg.Command
	e.hasPending = true
	leaderAddr := e.leader
	e.mu.Unlock()

	p := e.peerFor(leaderAddr)
	if p == nil {
		return
	}
	_ = p.send(Message{Type: TypeAck, SenderID: e.self, Zxid: msg.Zxid})
}

// handleAck is the leader side: count acks for the in-flight
// proposal; once a quorum (including self) is reached, signal the
// waiting applyAsLeader call.
func (e *Engine) handleAck(msg Message) {
	e.mu.Lock()
	state := e.ackOf
	if state == nil || msg.Zxid != state.zxid {
		e.mu.Unlock()
		return
	}
	state.acks[msg.SenderID] = true
	reached := len(state.acks) >= e.quorumSizeLocked()
	e.mu.Unlock()
	if reached {
		state.signal()
	}
}

// handleCommit is the follower side: apply the pending command. This
// engine only ever has one proposal in flight cluster-wide, so the
// committed zxid always matches the pending one in the steady state;
// a mismatch means this follower missed a proposal and needs to
// re-sync, which is logged but not automatically triggered here.
func (e *Engine) handleCommit(msg Message) {
	e.mu.Lock()
	if !e.hasPending || e.pendingZxid != msg.Zxid {
		e.mu.Unlock()
		log.WithField("zxid", msg.Zxid).Warn("commit for unknown proposal, follower needs re-sync")
		return
	}
	cmd := e.pendingCmd
	e.hasPending = false
	e.mu.Unlock()

	if _, err := e.tree.Apply(cmd); err != nil {
		log.WithError(err).WithField("zxid", msg.Zxid).Warn("follower apply of committed command failed")
	}
	e.log.Append(cmd)
}

// handleForward is the leader side of a follower-forwarded write: run
// the full Broadcast phase and reply with its outcome.
func (e *Engine) handleForward(msg Message) {
	result := e.applyAsLeader(msg.Command)
	p := e.peerFor(msg.SenderID)
	if p == nil {
		return
	}
	_ = p.send(Message{Type: TypeForwardResp, SenderID: e.self, ReqID: msg.ReqID, Result: result})
}

func (e *Engine) handleForwardResp(msg Message) {
	e.forwardMu.Lock()
	ch, ok := e.forwardWait[msg.ReqID]
	delete(e.forwardWait, msg.ReqID)
	e.forwardMu.Unlock()
	if ok {
		ch <- msg.Result
	}
}

func (e *Engine) handleSyncReq(conn net.Conn, msg Message) {
	tail, err := e.log.Tail(msg.Since)
	if err != nil {
		_ = writeMessage(conn, Message{
			Type:         TypeSnapshot,
			SenderID:     e.self,
			Snapshot:     e.tree.Full(),
			SnapshotZxid: e.log.LastZxid(),
		})
		return
	}
	_ = writeMessage(conn, Message{Type: TypeSyncResp, SenderID: e.self, Tail: tail})
}

func (e *Engine) peerFor(addr string) *peer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peers[addr]
}

// Propose is the entry point the HTTP dispatcher calls for every
// client write (spec §4.3 Forwarding/Broadcast). On the leader it
// runs Broadcast directly; on a follower it forwards to the leader
// and blocks for the result.
func (e *Engine) Propose(ctx context.Context, cmd zablog.Command) (*tree.Snapshot, error) {
	e.mu.Lock()
	role := e.role
	leaderAddr := e.leader
	e.mu.Unlock()

	if role == RoleLeader {
		result := e.applyAsLeader(cmd)
		return result.Snapshot, result.Err()
	}

	if leaderAddr == "" {
		return nil, ErrNoLeader
	}
	p := e.peerFor(leaderAddr)
	if p == nil {
		return nil, ErrNoLeader
	}

	reqID := atomic.AddUint64(&e.forwardSeq, 1)
	ch := make(chan Result, 1)
	e.forwardMu.Lock()
	e.forwardWait[reqID] = ch
	e.forwardMu.Unlock()

	if err := p.send(Message{Type: TypeForward, SenderID: e.self, ReqID: reqID, Command: cmd}); err != nil {
		e.forwardMu.Lock()
		delete(e.forwardWait, reqID)
		e.forwardMu.Unlock()
		return nil, ErrNoLeader
	}

	select {
	case result := <-ch:
		return result.Snapshot, result.Err()
	case <-time.After(e.timeout * 4):
		e.forwardMu.Lock()
		delete(e.forwardWait, reqID)
		e.forwardMu.Unlock()
		return nil, errors.New("zab: forward to leader timed out")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// applyAsLeader runs the Broadcast phase for cmd: assign zxid, log,
// PROPOSE to followers, wait for quorum ACKs (self counts
// immediately), COMMIT, apply. proposeMu keeps exactly one proposal
// in flight, which is what lets ack tracking and pending state use
// single fields instead of per-zxid maps.
func (e *Engine) applyAsLeader(cmd zablog.Command) Result {
	e.proposeMu.Lock()
	defer e.proposeMu.Unlock()

	e.mu.Lock()
	if e.epoch == 0 {
		e.epoch = 1
	}
	zxid := zablog.NewZxid(e.epoch, e.log.LastZxid().Counter()+1)
	state := &ackState{zxid: zxid, acks: map[string]bool{e.self: true}, done: make(chan struct{})}
	e.ackOf = state
	followers := make([]string, 0, len(e.peers))
	for addr := range e.peers {
		followers = append(followers, addr)
	}
	quorum := e.quorumSizeLocked()
	e.mu.Unlock()

	stamped := cmd.WithZxid(zxid)

	if len(state.acks) >= quorum {
		state.signal()
	} else {
		g, _ := errgroup.WithContext(context.Background())
		for _, addr := range followers {
			addr := addr
			g.Go(func() error {
				p := e.peerFor(addr)
				if p == nil {
					return nil
				}
				return p.send(Message{Type: TypePropose, SenderID: e.self, Zxid: zxid, Command: stamped})
			})
		}
		_ = g.Wait()

		select {
		case <-state.done:
		case <-time.After(e.timeout):
			log.WithField("zxid", zxid).Warn("quorum not reached within timeout, stepping down")
			e.mu.Lock()
			e.role = RoleElecting
			e.ackOf = nil
			e.mu.Unlock()
			return resultOf(nil, errors.New("zab: quorum not reached"))
		}
	}

	e.mu.Lock()
	e.ackOf = nil
	followers = make([]string, 0, len(e.peers))
	for addr := range e.peers {
		followers = append(followers, addr)
	}
	e.mu.Unlock()

	for _, addr := range followers {
		p := e.peerFor(addr)
		if p == nil {
			continue
		}
		_ = p.send(Message{Type: TypeCommit, SenderID: e.self, Zxid: zxid})
	}

	snap, err := e.tree.Apply(stamped)
	e.log.Append(stamped)
	return resultOf(snap, err)
}
