// Package membership keeps the /pulsefs/servers sub-tree a live
// reflection of the cluster: it registers this server at startup,
// and while this server is leader it pings peers on the configured
// timeout interval and issues an unregister command for any peer
// that stops answering pings (spec §4.3 Membership, §5 Cancellation & timeouts).
package membership

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/nicolagi/pulsefs/internal/zab"
	"github.com/nicolagi/pulsefs/internal/zablog"
)

// Monitor drives startup registration, graceful-shutdown unregistration,
// and leader-side liveness detection for one server's engine.
type Monitor struct {
	self   string
	engine *zab.Engine
	period time.Duration
}

// New returns a Monitor for engine, identified by self (the server's
// own peer address, the name it registers itself under).
func New(self string, engine *zab.Engine, period time.Duration) *Monitor {
	return &Monitor{self: self, engine: engine, period: period}
}

// Register writes self into /pulsefs/servers via a replicated command.
// Called once, after Bootstrap, before the server starts accepting
// client requests.
func (m *Monitor) Register(ctx context.Context) error {
	_, err := m.engine.Propose(ctx, zablog.Command{Op: zablog.OpRegisterMember, Path: m.self})
	if err != nil {
		return err
	}
	log.WithField("self", m.self).Info("registered with cluster")
	return nil
}

// Unregister removes self from /pulsefs/servers. Called on graceful
// shutdown, after in-flight handlers have drained; a failure here (no
// reachable leader) is logged, not fatal, since the process is exiting
// regardless.
func (m *Monitor) Unregister(ctx context.Context) {
	if _, err := m.engine.Propose(ctx, zablog.Command{Op: zablog.OpUnregisterMember, Path: m.self}); err != nil {
		log.WithError(err).Warn("could not unregister on shutdown, leader unreachable")
	}
}

// RunLiveness blocks, ticking once per period, until ctx is
// cancelled. On each tick the leader pings every known peer and
// issues an unregister command for any member that misses the
// liveness deadline, per spec's "detected disconnection for a
// configurable timeout" rule. Followers still run the loop, checking
// their role each tick, but neither ping nor evict.
func (m *Monitor) RunLiveness(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.engine.Role() != zab.RoleLeader {
				continue
			}
			m.evictUnreachable(ctx)
		}
	}
}

func (m *Monitor) evictUnreachable(ctx context.Context) {
	for _, addr := range m.engine.Members() {
		if addr == m.self {
			continue
		}
		pingCtx, cancel := context.WithTimeout(ctx, m.period)
		reachable := m.engine.Ping(pingCtx, addr)
		cancel()
		if reachable {
			continue
		}
		log.WithField("peer", addr).Warn("peer missed liveness deadline, unregistering")
		if _, err := m.engine.Propose(ctx, zablog.Command{Op: zablog.OpUnregisterMember, Path: addr}); err != nil {
			log.WithError(err).WithField("peer", addr).Warn("could not unregister unreachable peer")
		}
	}
}
