package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/gops/agent"
	log "github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/nicolagi/pulsefs/internal/config"
	"github.com/nicolagi/pulsefs/internal/membership"
	"github.com/nicolagi/pulsefs/internal/server"
	"github.com/nicolagi/pulsefs/internal/tree"
	"github.com/nicolagi/pulsefs/internal/watch"
	"github.com/nicolagi/pulsefs/internal/zab"
	"github.com/nicolagi/pulsefs/internal/zablog"
)

// maxConnsPerListener bounds each acceptor independently, so a flood
// of slow peer connections cannot starve client HTTP connections, or
// vice versa (SPEC_FULL.md §4.3 Connection admission).
const maxConnsPerListener = 256

func main() {
	// Do NOT turn on agent.ShutdownCleanup. The signal handler below
	// drives its own graceful shutdown sequence (unregister, then
	// exit); letting gops call os.Exit directly would skip it.
	if err := agent.Listen(agent.Options{}); err != nil {
		log.Printf("could not start gops agent: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)

	port := flag.Int("port", 0, "HTTP client-facing listening port")
	addr := flag.String("addr", "", "peer-RPC listen address, also this server's cluster identity")
	join := flag.String("join", "", "peer-RPC address of an existing cluster member to join")
	timeoutSeconds := flag.Int("timeout", config.DefaultTimeoutSeconds, "election/liveness/ACK timeout, in seconds")
	flag.Parse()

	cfg, err := config.Load(*port, *addr, *join, *timeoutSeconds)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	lockfile, err := cfg.AcquireLockfile()
	if err != nil {
		log.Fatalf("could not acquire startup lock: %v", err)
	}
	defer func() { _ = lockfile.Release() }()

	watches := watch.NewRegistry()
	t := tree.NewTree(watches)
	commandLog := zablog.NewLog()
	engine := zab.NewEngine(cfg.Addr, cfg.Timeout, t, commandLog)

	peerListener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		log.Fatalf("could not start peer listener on %s: %v", cfg.Addr, err)
	}
	peerListener = netutil.LimitListener(peerListener, maxConnsPerListener)
	go func() {
		if err := engine.Listen(peerListener); err != nil {
			log.WithError(err).Warn("peer listener stopped")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout*4)
	if err := engine.Bootstrap(ctx, cfg.Join); err != nil {
		cancel()
		log.Fatalf("could not bootstrap cluster membership: %v", err)
	}
	cancel()

	monitor := membership.New(cfg.Addr, engine, cfg.Timeout)
	if err := monitor.Register(context.Background()); err != nil {
		log.Fatalf("could not register with cluster: %v", err)
	}

	livenessCtx, stopLiveness := context.WithCancel(context.Background())
	go monitor.RunLiveness(livenessCtx)

	httpListener, err := net.Listen("tcp", httpAddr(cfg.Port))
	if err != nil {
		log.Fatalf("could not start HTTP listener on port %d: %v", cfg.Port, err)
	}
	httpListener = netutil.LimitListener(httpListener, maxConnsPerListener)

	dispatcher := server.New(t, engine)
	httpServer := &http.Server{Handler: dispatcher}
	go func() {
		if err := httpServer.Serve(httpListener); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("HTTP listener stopped")
		}
	}()

	log.WithField("config", cfg.String()).Info("pulsed is up")

	sig := <-sigc
	log.WithField("signal", sig.String()).Info("shutting down")

	stopLiveness()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Timeout)
	_ = httpServer.Shutdown(shutdownCtx)
	shutdownCancel()

	unregisterCtx, unregisterCancel := context.WithTimeout(context.Background(), cfg.Timeout)
	monitor.Unregister(unregisterCtx)
	unregisterCancel()

	agent.Close()
}

func httpAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
