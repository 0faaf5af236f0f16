package server

import (
	"bytes"
	"context"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolagi/pulsefs/internal/tree"
	"github.com/nicolagi/pulsefs/internal/watch"
	"github.com/nicolagi/pulsefs/internal/zab"
	"github.com/nicolagi/pulsefs/internal/zablog"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	tr := tree.NewTree(watch.NewRegistry())
	engine := zab.NewEngine("127.0.0.1:0", 50*time.Millisecond, tr, zablog.NewLog())
	require.NoError(t, engine.Bootstrap(context.Background(), ""))
	return New(tr, engine)
}

func doRequest(d *Dispatcher, method, target string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, req)
	return rec
}

func TestGetRootReturnsBootstrapState(t *testing.T) {
	d := newTestDispatcher(t)
	rec := doRequest(d, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("path"))
	assert.Equal(t, "dir", rec.Header().Get("type"))
	assert.Equal(t, "0", rec.Header().Get("version"))
	assert.Empty(t, rec.Header().Get("Server"))
}

func TestPutDirThenGet(t *testing.T) {
	d := newTestDispatcher(t)
	rec := doRequest(d, http.MethodPut, "/D?dir", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("version"))

	rec = doRequest(d, http.MethodGet, "/D", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dir", rec.Header().Get("type"))
}

func TestConditionalPutSequence(t *testing.T) {
	d := newTestDispatcher(t)
	require.Equal(t, http.StatusCreated, doRequest(d, http.MethodPut, "/D?dir", nil).Code)
	require.Equal(t, http.StatusCreated, doRequest(d, http.MethodPut, "/D/bar?version=-1", []byte("x")).Code)

	rec := doRequest(d, http.MethodPut, "/D/bar?version=0", []byte("y"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("version"))

	rec = doRequest(d, http.MethodPut, "/D/bar?version=0", []byte("z"))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "Version 0 doesn't match node version 1")
}

func TestRecursiveDeleteSequence(t *testing.T) {
	d := newTestDispatcher(t)
	require.Equal(t, http.StatusCreated, doRequest(d, http.MethodPut, "/D/a/b/c/d?recursive", nil).Code)

	rec := doRequest(d, http.MethodDelete, "/D/a", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "/D/a is not empty")

	rec = doRequest(d, http.MethodDelete, "/D/a?recursive", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(d, http.MethodDelete, "/D/a", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "/D/a does not exist")
}

func TestForbiddenReservedPath(t *testing.T) {
	d := newTestDispatcher(t)
	rec := doRequest(d, http.MethodPut, "/pulsefs/servers/file", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "Forbidden")
}

func TestBadQueryParameter(t *testing.T) {
	d := newTestDispatcher(t)
	rec := doRequest(d, http.MethodGet, "/?bogus=1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "bad query parameter")
}

func TestSequentialCreateMonotonic(t *testing.T) {
	d := newTestDispatcher(t)
	require.Equal(t, http.StatusCreated, doRequest(d, http.MethodPut, "/Q?dir", nil).Code)

	first := doRequest(d, http.MethodPost, "/Q", nil)
	second := doRequest(d, http.MethodPost, "/Q", nil)
	require.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Less(t, first.Header().Get("Location"), second.Header().Get("Location"))
}

func TestWaitForCreateUnblocksOnPut(t *testing.T) {
	d := newTestDispatcher(t)
	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		done <- doRequest(d, http.MethodGet, "/D?wait=0", nil)
	}()

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, http.StatusCreated, doRequest(d, http.MethodPut, "/D?dir", nil).Code)

	select {
	case rec := <-done:
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "0", rec.Header().Get("version"))
	case <-time.After(time.Second):
		t.Fatal("GET ?wait=0 never unblocked")
	}
}

func TestWaitOnMissingNodeWithNonzeroThresholdReturns404Immediately(t *testing.T) {
	d := newTestDispatcher(t)
	rec := doRequest(d, http.MethodGet, "/missing?wait=10", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// The tests below drive a real net/http.Server (httptest.NewServer), not
// an httptest.ResponseRecorder: only a real connection can show what a
// client actually reads off the wire, which is what spec.md §7's pinned
// reason strings are a contract about.

func TestWireReasonPhraseMatchesContractText(t *testing.T) {
	d := newTestDispatcher(t)
	srv := httptest.NewServer(d)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/D?dir", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPut, srv.URL+"/D/bar?version=-1", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err = http.NewRequest(http.MethodPut, srv.URL+"/D/bar?version=0", bytes.NewReader([]byte("z")))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, resp.Status, "Version 0 doesn't match node version 1")
	assert.NotEqual(t, "409 "+http.StatusText(http.StatusConflict), resp.Status)

	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Version 0 doesn't match node version 1")
}

func TestWireReasonPhraseForNotFoundAndNotEmpty(t *testing.T) {
	d := newTestDispatcher(t)
	srv := httptest.NewServer(d)
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/D/a/b/c/d?recursive", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/D/a", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, resp.Status, "/D/a is not empty")

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/D/a?recursive", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err = http.NewRequest(http.MethodDelete, srv.URL+"/D/a", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Status, "/D/a does not exist")
}

func TestEncodedPathBytesAreNotDecoded(t *testing.T) {
	d := newTestDispatcher(t)
	srv := httptest.NewServer(d)
	defer srv.Close()

	// The literal request path carries the percent-encoded bytes
	// "%00"; the tree must index the node by those literal bytes, not
	// by the decoded NUL byte they would otherwise become.
	raw := srv.URL + "/D%00?dir"
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/D%00", u.EscapedPath())

	req, err := http.NewRequest(http.MethodPut, raw, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/D%00", resp.Header.Get("path"))

	rec := doRequest(d, http.MethodGet, "/D%00", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/D%00", rec.Header().Get("path"))
}
