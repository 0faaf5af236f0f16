package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadValidation(t *testing.T) {
	_, err := Load(0, "localhost:5000", "", 3)
	assert.Error(t, err)

	_, err = Load(8080, "", "", 3)
	assert.Error(t, err)

	_, err = Load(8080, "localhost:5000", "", 0)
	assert.Error(t, err)

	c, err := Load(8080, "localhost:5000", "localhost:5001", 5)
	require.NoError(t, err)
	assert.Equal(t, 8080, c.Port)
	assert.Equal(t, "localhost:5000", c.Addr)
	assert.Equal(t, "localhost:5001", c.Join)
	assert.Equal(t, 5*time.Second, c.Timeout)
}

func TestBaseDirectoryPathSanitizesSeparators(t *testing.T) {
	c, err := Load(8080, "localhost:5000", "", 3)
	require.NoError(t, err)
	assert.Equal(t, "localhost:5000", c.BaseDirectoryPath())
	assert.Equal(t, "localhost:5000/lock", c.LockFilePath())

	c, err = Load(8080, `host/a\b:5000`, "", 3)
	require.NoError(t, err)
	assert.Equal(t, "host_a_b:5000", c.BaseDirectoryPath())
}
