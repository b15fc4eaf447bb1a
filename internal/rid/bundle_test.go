package rid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestInsensitiveToKeyOrder(t *testing.T) {
	a := map[string]any{"x": 1, "y": "two", "z": []any{"a", "b"}}
	b := map[string]any{"z": []any{"a", "b"}, "y": "two", "x": 1}

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
}

func TestDigestDiffersOnContent(t *testing.T) {
	da, err := Digest(map[string]any{"x": 1})
	require.NoError(t, err)
	db, err := Digest(map[string]any{"x": 2})
	require.NoError(t, err)
	assert.NotEqual(t, da, db)
}

func TestGenerateAndValidate(t *testing.T) {
	r := NewNode("test")
	contents := map[string]any{"node_type": "FULL"}

	bundle, err := Generate(r, contents)
	require.NoError(t, err)
	assert.Equal(t, r, bundle.RID())
	assert.False(t, bundle.Manifest.Timestamp.IsZero())
	require.NoError(t, bundle.Validate())

	// Tampering with contents breaks the digest invariant.
	bundle.Contents["node_type"] = "PARTIAL"
	assert.Error(t, bundle.Validate())
}
