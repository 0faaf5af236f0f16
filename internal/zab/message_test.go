package zab

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicolagi/pulsefs/internal/tree"
	"github.com/nicolagi/pulsefs/internal/zablog"
)

func TestMessageRoundTripsOverFraming(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sent := Message{
		Type:     TypePropose,
		SenderID: "10.0.0.1:9000",
		Epoch:    3,
		Zxid:     zablog.NewZxid(3, 42),
		Command: zablog.Command{
			Op:      zablog.OpSetFile,
			Path:    "/a/b",
			Content: []byte("hello"),
		},
	}

	errCh := make(chan error, 1)
	go func() { errCh <- writeMessage(client, sent) }()

	got, err := readMessage(server)
	require.NoError(t, err)
	require.NoError(t, <-errCh)

	assert.Equal(t, sent.Type, got.Type)
	assert.Equal(t, sent.SenderID, got.SenderID)
	assert.Equal(t, sent.Epoch, got.Epoch)
	assert.Equal(t, sent.Zxid, got.Zxid)
	assert.Equal(t, sent.Command.Path, got.Command.Path)
	assert.Equal(t, sent.Command.Content, got.Command.Content)
}

func TestResultRoundTripsErrorKind(t *testing.T) {
	original := &tree.Error{Kind: tree.KindVersionConflict, Path: "/f", ExpectedVersion: 2, ActualVersion: 3}
	r := resultOf(nil, original)

	require.True(t, r.HasError)
	reconstructed := r.Err()
	kind, ok := tree.KindOf(reconstructed)
	require.True(t, ok)
	assert.Equal(t, tree.KindVersionConflict, kind)
	assert.Equal(t, "Version 2 doesn't match node version 3", reconstructed.Error())
}

func TestResultRoundTripsSuccess(t *testing.T) {
	snap := &tree.Snapshot{Path: "/f", Type: "file", Version: 1}
	r := resultOf(snap, nil)
	assert.False(t, r.HasError)
	assert.NoError(t, r.Err())
	assert.Equal(t, snap, r.Snapshot)
}
