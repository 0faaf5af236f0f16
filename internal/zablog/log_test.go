package zablog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogAppendAndTail(t *testing.T) {
	log := NewLog()
	assert.Equal(t, Zxid(0), log.LastZxid())

	c1 := Command{Zxid: NewZxid(1, 1), Op: OpCreateDir, Path: "/D"}
	c2 := Command{Zxid: NewZxid(1, 2), Op: OpSetFile, Path: "/D/f"}
	log.Append(c1)
	log.Append(c2)

	assert.Equal(t, 2, log.Len())
	assert.Equal(t, c2.Zxid, log.LastZxid())

	tail, err := log.Tail(0)
	require.NoError(t, err)
	assert.Equal(t, []Command{c1, c2}, tail)

	tail, err = log.Tail(c1.Zxid)
	require.NoError(t, err)
	assert.Equal(t, []Command{c2}, tail)

	got, ok := log.Get(c1.Zxid)
	require.True(t, ok)
	assert.Equal(t, c1, got)
}

func TestLogTailNotFound(t *testing.T) {
	log := NewLog()
	log.Append(Command{Zxid: NewZxid(1, 1), Op: OpCreateDir, Path: "/D"})
	_, err := log.Tail(NewZxid(5, 9))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetBaselineAfterSnapshotBootstrap(t *testing.T) {
	log := NewLog()
	log.Append(Command{Zxid: NewZxid(1, 1), Op: OpCreateDir, Path: "/D"})

	baseline := NewZxid(1, 7)
	log.SetBaseline(baseline)
	assert.Equal(t, baseline, log.LastZxid())
	assert.Equal(t, 0, log.Len())

	tail, err := log.Tail(baseline)
	require.NoError(t, err)
	assert.Empty(t, tail)

	c := Command{Zxid: NewZxid(1, 8), Op: OpSetFile, Path: "/D/f"}
	log.Append(c)
	assert.Equal(t, c.Zxid, log.LastZxid())
	tail, err = log.Tail(baseline)
	require.NoError(t, err)
	assert.Equal(t, []Command{c}, tail)
}

func TestZxidOrdering(t *testing.T) {
	assert.True(t, NewZxid(1, 5).Less(NewZxid(2, 0)))
	assert.True(t, NewZxid(2, 0).Less(NewZxid(2, 1)))
	assert.False(t, NewZxid(2, 1).Less(NewZxid(2, 1)))
	assert.Equal(t, uint32(2), NewZxid(2, 7).Epoch())
	assert.Equal(t, uint32(7), NewZxid(2, 7).Counter())
}
