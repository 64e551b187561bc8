package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesSortsKeys(t *testing.T) {
	b, err := Bytes(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(b))
}

func TestBytesNoHTMLEscaping(t *testing.T) {
	b, err := Bytes(map[string]string{"ref": "a<b>&c"})
	require.NoError(t, err)
	assert.Equal(t, `{"ref":"a<b>&c"}`, string(b))
}

func TestHashStable(t *testing.T) {
	h1, err := Hash(map[string]any{"tenant": "t1", "step": "s1"})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"step": "s1", "tenant": "t1"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}
