package pathutil

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	values, err := url.ParseQuery("dir&recursive&transient")
	require.NoError(t, err)
	q, err := ParseQuery(values)
	require.NoError(t, err)
	assert.True(t, q.Dir)
	assert.True(t, q.Recursive)
	assert.True(t, q.Transient)
	assert.False(t, q.HasWait)
	assert.False(t, q.HasVersion)
}

func TestParseQueryWaitAndVersion(t *testing.T) {
	values, err := url.ParseQuery("wait=10&version=-1")
	require.NoError(t, err)
	q, err := ParseQuery(values)
	require.NoError(t, err)
	assert.True(t, q.HasWait)
	assert.Equal(t, uint64(10), q.Wait)
	assert.True(t, q.HasVersion)
	assert.Equal(t, int64(-1), q.Version)
}

func TestParseQueryRejectsBadWait(t *testing.T) {
	values, _ := url.ParseQuery("wait=notanumber")
	_, err := ParseQuery(values)
	assert.ErrorIs(t, err, ErrBadQuery)
}

func TestParseQueryRejectsUnknownKey(t *testing.T) {
	values, _ := url.ParseQuery("bogus=1")
	_, err := ParseQuery(values)
	assert.ErrorIs(t, err, ErrBadQuery)
}
