package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClean(t *testing.T) {
	cases := map[string]string{
		"":           "/",
		"/":          "/",
		"/a":         "/a",
		"/a/":        "/a",
		"//a//b/":    "/a/b",
		"/a/b/c":     "/a/b/c",
		"/%00":       "/%00",
		"/a/../b":    "/a/../b", // ".." is not special: names are opaque
	}
	for in, want := range cases {
		assert.Equal(t, want, Clean(in), "Clean(%q)", in)
	}
}

func TestParent(t *testing.T) {
	parent, name := Parent("/D/a/b")
	assert.Equal(t, "/D/a", parent)
	assert.Equal(t, "b", name)

	parent, name = Parent("/")
	assert.Equal(t, "/", parent)
	assert.Equal(t, "", name)

	parent, name = Parent("/D")
	assert.Equal(t, "/", parent)
	assert.Equal(t, "D", name)
}

func TestUnder(t *testing.T) {
	assert.True(t, Under("/pulsefs/servers", "/pulsefs/servers"))
	assert.True(t, Under("/pulsefs/servers/localhost:5000", "/pulsefs/servers"))
	assert.False(t, Under("/pulsefs/serversx", "/pulsefs/servers"))
	assert.False(t, Under("/pulsefs", "/pulsefs/servers"))
}
