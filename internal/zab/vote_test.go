package zab

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nicolagi/pulsefs/internal/zablog"
)

func TestVoteBeatsHigherEpochWins(t *testing.T) {
	low := Vote{ServerID: "b", Epoch: 1, LastZxid: zablog.NewZxid(1, 100)}
	high := Vote{ServerID: "a", Epoch: 2, LastZxid: zablog.NewZxid(2, 0)}
	assert.True(t, high.Beats(low))
	assert.False(t, low.Beats(high))
}

func TestVoteBeatsTieBreaksOnLastZxid(t *testing.T) {
	behind := Vote{ServerID: "a", Epoch: 1, LastZxid: zablog.NewZxid(1, 5)}
	ahead := Vote{ServerID: "b", Epoch: 1, LastZxid: zablog.NewZxid(1, 6)}
	assert.True(t, ahead.Beats(behind))
	assert.False(t, behind.Beats(ahead))
}

func TestVoteBeatsTieBreaksOnServerID(t *testing.T) {
	zxid := zablog.NewZxid(1, 5)
	lower := Vote{ServerID: "server-a", Epoch: 1, LastZxid: zxid}
	higher := Vote{ServerID: "server-b", Epoch: 1, LastZxid: zxid}
	assert.True(t, higher.Beats(lower))
	assert.False(t, lower.Beats(higher))
}

func TestVoteBeatsIdenticalVoteIsNotAnImprovement(t *testing.T) {
	v := Vote{ServerID: "a", Epoch: 1, LastZxid: zablog.NewZxid(1, 5)}
	assert.False(t, v.Beats(v))
}
