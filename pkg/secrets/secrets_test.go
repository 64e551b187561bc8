package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder(""))
	assert.True(t, IsPlaceholder("  "))
	assert.True(t, IsPlaceholder("<your-api-key>"))
	assert.True(t, IsPlaceholder("CHANGEME"))
	assert.True(t, IsPlaceholder("replace_me"))
	assert.False(t, IsPlaceholder("sk-live-1234"))
}

func TestResolved(t *testing.T) {
	s := MapStore{"GOOD": "value", "TEMPLATE": "<fill-in>"}
	assert.True(t, Resolved(s, "GOOD"))
	assert.False(t, Resolved(s, "TEMPLATE"))
	assert.False(t, Resolved(s, "ABSENT"))
}

func TestLayered(t *testing.T) {
	l := Layered{MapStore{"A": "first"}, MapStore{"A": "second", "B": "b"}}
	v, ok := l.Get("A")
	require.True(t, ok)
	assert.Equal(t, "first", v)
	v, ok = l.Get("B")
	require.True(t, ok)
	assert.Equal(t, "b", v)
	_, ok = l.Get("C")
	assert.False(t, ok)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.env")
	require.NoError(t, os.WriteFile(path, []byte(
		"# delivery credentials\nDROPBOX_TOKEN=abc123\nQUOTED=\"with spaces\"\nmalformed line\n"), 0o600))

	store, err := LoadFile(path)
	require.NoError(t, err)
	v, ok := store.Get("DROPBOX_TOKEN")
	require.True(t, ok)
	assert.Equal(t, "abc123", v)
	v, _ = store.Get("QUOTED")
	assert.Equal(t, "with spaces", v)

	empty, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	assert.Empty(t, empty)
}
