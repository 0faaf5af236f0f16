// Package server implements the HTTP request dispatcher (spec §4.4):
// it maps GET/PUT/POST/DELETE plus the typed query parameters from
// internal/pathutil onto internal/tree operations, forwarding writes
// through the internal/zab replication engine and blocking long-poll
// reads on internal/watch.
package server

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"

	log "github.com/sirupsen/logrus"

	"github.com/nicolagi/pulsefs/internal/pathutil"
	"github.com/nicolagi/pulsefs/internal/tree"
	"github.com/nicolagi/pulsefs/internal/zab"
	"github.com/nicolagi/pulsefs/internal/zablog"
)

// Dispatcher is the top-level http.Handler for client requests.
type Dispatcher struct {
	tree   *tree.Tree
	engine *zab.Engine
}

// New returns a Dispatcher serving t and forwarding writes through engine.
func New(t *tree.Tree, engine *zab.Engine) *Dispatcher {
	return &Dispatcher{tree: t, engine: engine}
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Del("Server")

	q, err := pathutil.ParseQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad query parameter")
		return
	}
	// EscapedPath, not Path: Path is percent-decoded, and a node name's
	// encoded bytes are preserved verbatim (see internal/pathutil's
	// package doc).
	path := pathutil.Clean(r.URL.EscapedPath())

	switch r.Method {
	case http.MethodGet:
		d.handleGet(w, r, path, q)
	case http.MethodPut:
		d.handlePut(w, r, path, q)
	case http.MethodPost:
		d.handlePost(w, r, path)
	case http.MethodDelete:
		d.handleDelete(w, r, path, q)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleGet implements GET P [?wait=N] (spec §4.4).
func (d *Dispatcher) handleGet(w http.ResponseWriter, r *http.Request, path string, q pathutil.Query) {
	d.tree.RLock()
	snap, err := d.tree.ViewLocked(path)
	if err == nil && (!q.HasWait || snap.Version >= q.Wait) {
		d.tree.RUnlock()
		writeNode(w, snap, http.StatusOK)
		return
	}
	if err != nil {
		kind, _ := tree.KindOf(err)
		// Only a missing node with ?wait=0 blocks for creation (spec
		// §4.4); every other error, and a missing node with any other
		// wait value, is returned immediately.
		if kind != tree.KindNotFound || !q.HasWait || q.Wait != 0 {
			d.tree.RUnlock()
			writeTreeError(w, err)
			return
		}
	}
	sink := d.tree.Watches().Register(path, q.Wait)
	d.tree.RUnlock()

	select {
	case outcome := <-sink.C():
		if outcome.Deleted {
			writeError(w, http.StatusNotFound, path+" does not exist")
			return
		}
		final, viewErr := d.tree.View(path)
		if viewErr != nil {
			writeTreeError(w, viewErr)
			return
		}
		writeNode(w, final, http.StatusOK)
	case <-r.Context().Done():
		sink.Cancel()
	}
}

// handlePut implements PUT P [?dir] [?recursive] [?transient] [?version=V]
// (spec §4.4).
func (d *Dispatcher) handlePut(w http.ResponseWriter, r *http.Request, path string, q pathutil.Query) {
	var expectedVersion *int64
	if q.HasVersion {
		v := q.Version
		expectedVersion = &v
	}

	if q.Dir {
		cmd := zablog.Command{
			Op:              zablog.OpCreateDir,
			Path:            path,
			Recursive:       q.Recursive,
			Transient:       q.Transient,
			ExpectedVersion: expectedVersion,
		}
		d.proposeAndRespond(w, r, cmd, http.StatusCreated)
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	op := zablog.OpSetFile
	status := http.StatusOK
	if expectedVersion != nil && *expectedVersion == -1 {
		op = zablog.OpCreateFile
		status = http.StatusCreated
	}

	d.tree.RLock()
	_, viewErr := d.tree.ViewLocked(path)
	exists := viewErr == nil
	d.tree.RUnlock()
	if !exists {
		status = http.StatusCreated
	}

	cmd := zablog.Command{
		Op:              op,
		Path:            path,
		Content:         body,
		Recursive:       q.Recursive,
		Transient:       q.Transient,
		ExpectedVersion: expectedVersion,
	}
	d.proposeAndRespond(w, r, cmd, status)
}

// handlePost implements POST P: sequential create under directory P.
func (d *Dispatcher) handlePost(w http.ResponseWriter, r *http.Request, path string) {
	cmd := zablog.Command{Op: zablog.OpCreateSequential, Path: path}
	snap, err := d.engine.Propose(r.Context(), cmd)
	if err != nil {
		writeProposeError(w, err)
		return
	}
	w.Header().Set("Location", snap.Path)
	writeNode(w, snap, http.StatusCreated)
}

// handleDelete implements DELETE P [?recursive] [?version=V].
func (d *Dispatcher) handleDelete(w http.ResponseWriter, r *http.Request, path string, q pathutil.Query) {
	var expectedVersion *int64
	if q.HasVersion {
		v := q.Version
		expectedVersion = &v
	}
	cmd := zablog.Command{
		Op:              zablog.OpDelete,
		Path:            path,
		Recursive:       q.Recursive,
		ExpectedVersion: expectedVersion,
	}
	d.proposeAndRespond(w, r, cmd, http.StatusOK)
}

func (d *Dispatcher) proposeAndRespond(w http.ResponseWriter, r *http.Request, cmd zablog.Command, successStatus int) {
	snap, err := d.engine.Propose(r.Context(), cmd)
	if err != nil {
		writeProposeError(w, err)
		return
	}
	writeNode(w, snap, successStatus)
}

func writeProposeError(w http.ResponseWriter, err error) {
	if err == zab.ErrNoLeader {
		writeError(w, http.StatusServiceUnavailable, "no leader available")
		return
	}
	writeTreeError(w, err)
}

func writeTreeError(w http.ResponseWriter, err error) {
	kind, ok := tree.KindOf(err)
	if !ok {
		log.WithError(err).Error("unmapped tree error")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	status := http.StatusBadRequest
	switch kind {
	case tree.KindNotFound:
		status = http.StatusNotFound
	case tree.KindVersionConflict:
		status = http.StatusConflict
	case tree.KindForbidden:
		status = http.StatusForbidden
	case tree.KindAlreadyExists, tree.KindNotADirectory, tree.KindIsADirectory, tree.KindNotEmpty:
		status = http.StatusBadRequest
	}
	writeError(w, status, err.Error())
}

// writeError sends reason as both the response body and the wire
// status-line reason phrase. net/http always writes
// http.StatusText(status) as the reason phrase and only ever uses its
// second http.Error argument for the body — not good enough here,
// since spec §7's error reason strings are pinned client-observable
// contract text (e.g. a client reads response.reason in Python,
// resp.Status in Go), and for every kind except Forbidden that text
// differs from the stdlib's canonical phrase. Hijacking the
// connection is the only way to control the status line itself.
func writeError(w http.ResponseWriter, status int, reason string) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		// No underlying connection to hijack (e.g. an
		// httptest.ResponseRecorder in a unit test): fall back to the
		// standard body-only behavior rather than panicking.
		http.Error(w, reason, status)
		return
	}
	conn, buf, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, reason, status)
		return
	}
	defer func() { _ = conn.Close() }()

	body := reason + "\n"
	fmt.Fprintf(buf, "HTTP/1.1 %d %s\r\n", status, reason)
	fmt.Fprintf(buf, "Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(buf, "X-Content-Type-Options: nosniff\r\n")
	fmt.Fprintf(buf, "Content-Length: %d\r\n", len(body))
	fmt.Fprintf(buf, "Connection: close\r\n\r\n")
	buf.WriteString(body)
	_ = buf.Flush()
}

func writeNode(w http.ResponseWriter, snap *tree.Snapshot, status int) {
	w.Header().Set("path", snap.Path)
	w.Header().Set("type", snap.Type)
	w.Header().Set("version", strconv.FormatUint(snap.Version, 10))
	w.Header().Set("checksum", snap.Checksum)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(snap); err != nil {
		log.WithError(err).Error("could not encode node response")
	}
}
