package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koi-net/koinet/internal/rid"
)

// backends under test; redis needs a live server and is exercised in
// deployments, not here.
func openBackends(t *testing.T) map[string]Cache {
	t.Helper()
	ldb, err := OpenLevelDB(t.TempDir())
	require.NoError(t, err)
	return map[string]Cache{
		"memory":  NewMemory(),
		"leveldb": ldb,
	}
}

func nodeBundle(t *testing.T, name string) rid.Bundle {
	t.Helper()
	bundle, err := rid.Generate(rid.NewNode(name), map[string]any{"node_type": "FULL"})
	require.NoError(t, err)
	return bundle
}

func TestReadWriteDelete(t *testing.T) {
	for name, c := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer c.Close()
			bundle := nodeBundle(t, "a")
			r := bundle.RID()

			_, err := c.Read(r)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, c.Write(bundle))

			got, err := c.Read(r)
			require.NoError(t, err)
			assert.Equal(t, r, got.RID())
			assert.Equal(t, bundle.Manifest.ContentDigest, got.Manifest.ContentDigest)

			ok, err := c.Exists(r)
			require.NoError(t, err)
			assert.True(t, ok)

			require.NoError(t, c.Delete(r))
			_, err = c.Read(r)
			assert.ErrorIs(t, err, ErrNotFound)

			// Deleting an absent key is a no-op.
			require.NoError(t, c.Delete(r))
		})
	}
}

func TestOverwrite(t *testing.T) {
	for name, c := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer c.Close()
			first := nodeBundle(t, "a")

			second, err := rid.Generate(first.RID(), map[string]any{"node_type": "PARTIAL"})
			require.NoError(t, err)

			require.NoError(t, c.Write(first))
			require.NoError(t, c.Write(second))

			got, err := c.Read(first.RID())
			require.NoError(t, err)
			assert.Equal(t, second.Manifest.ContentDigest, got.Manifest.ContentDigest)
		})
	}
}

func TestListByType(t *testing.T) {
	for name, c := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			defer c.Close()
			node := nodeBundle(t, "a")
			require.NoError(t, c.Write(node))

			edge, err := rid.Generate(
				rid.NewEdge(node.RID(), rid.NewNode("b")),
				map[string]any{"status": "PROPOSED"},
			)
			require.NoError(t, err)
			require.NoError(t, c.Write(edge))

			all, err := c.List()
			require.NoError(t, err)
			assert.Len(t, all, 2)

			nodes, err := c.List(rid.NodeType)
			require.NoError(t, err)
			assert.Equal(t, []rid.RID{node.RID()}, nodes)

			edges, err := c.List(rid.EdgeType)
			require.NoError(t, err)
			assert.Equal(t, []rid.RID{edge.RID()}, edges)
		})
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	c, err := OpenLevelDB(dir)
	require.NoError(t, err)
	bundle := nodeBundle(t, "a")
	require.NoError(t, c.Write(bundle))
	require.NoError(t, c.Close())

	reopened, err := OpenLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Read(bundle.RID())
	require.NoError(t, err)
	assert.Equal(t, bundle.Manifest.ContentDigest, got.Manifest.ContentDigest)
}
