package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koi-net/koinet/internal/cache"
	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

type fixture struct {
	cache cache.Cache
	graph *Graph
	me    rid.RID
	peerA rid.RID
	peerB rid.RID
}

func writeNode(t *testing.T, c cache.Cache, r rid.RID, nodeType protocol.NodeType) {
	t.Helper()
	profile := protocol.NodeProfile{NodeType: nodeType}
	bundle, err := rid.Generate(r, profile.Map())
	require.NoError(t, err)
	require.NoError(t, c.Write(bundle))
}

func writeEdge(t *testing.T, c cache.Cache, p protocol.EdgeProfile) rid.RID {
	t.Helper()
	r := rid.NewEdge(p.Source, p.Target)
	bundle, err := rid.Generate(r, p.Map())
	require.NoError(t, err)
	require.NoError(t, c.Write(bundle))
	return r
}

// newFixture builds a three node view: an approved webhook edge
// me -> peerA carrying node events, and a proposed poll edge peerB -> me.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cache: cache.NewMemory(),
		me:    rid.NewNode("me"),
		peerA: rid.NewNode("a"),
		peerB: rid.NewNode("b"),
	}
	writeNode(t, f.cache, f.me, protocol.NodeFull)
	writeNode(t, f.cache, f.peerA, protocol.NodeFull)
	writeNode(t, f.cache, f.peerB, protocol.NodePartial)

	writeEdge(t, f.cache, protocol.EdgeProfile{
		Source:   f.me,
		Target:   f.peerA,
		EdgeType: protocol.EdgeWebhook,
		Status:   protocol.EdgeApproved,
		RIDTypes: []rid.Type{rid.NodeType},
	})
	writeEdge(t, f.cache, protocol.EdgeProfile{
		Source:   f.peerB,
		Target:   f.me,
		EdgeType: protocol.EdgePoll,
		Status:   protocol.EdgeProposed,
		RIDTypes: []rid.Type{rid.NodeType, rid.EdgeType},
	})

	f.graph = New(f.cache, f.me)
	require.NoError(t, f.graph.Generate())
	return f
}

func TestEdgesByDirection(t *testing.T) {
	f := newFixture(t)

	assert.Len(t, f.graph.Edges(DirOut), 1)
	assert.Len(t, f.graph.Edges(DirIn), 1)
	assert.Len(t, f.graph.Edges(DirBoth), 2)

	out, ok := f.graph.EdgeProfile(f.graph.Edges(DirOut)[0])
	require.True(t, ok)
	assert.Equal(t, f.me, out.Source)
	assert.Equal(t, f.peerA, out.Target)
}

func TestNeighborsFilters(t *testing.T) {
	f := newFixture(t)

	all := f.graph.Neighbors(DirBoth, "", "")
	assert.ElementsMatch(t, []rid.RID{f.peerA, f.peerB}, all)

	approved := f.graph.Neighbors(DirBoth, protocol.EdgeApproved, "")
	assert.Equal(t, []rid.RID{f.peerA}, approved)

	// The approved edge carries only node events, not edges.
	assert.Empty(t, f.graph.Neighbors(DirBoth, protocol.EdgeApproved, rid.EdgeType))
	assert.Equal(t, []rid.RID{f.peerA},
		f.graph.Neighbors(DirBoth, protocol.EdgeApproved, rid.NodeType))

	assert.Equal(t, []rid.RID{f.peerB}, f.graph.Neighbors(DirIn, "", ""))
}

func TestNodeProfileLookup(t *testing.T) {
	f := newFixture(t)

	profile, ok := f.graph.NodeProfile(f.peerB)
	require.True(t, ok)
	assert.Equal(t, protocol.NodePartial, profile.NodeType)

	_, ok = f.graph.NodeProfile(rid.NewNode("stranger"))
	assert.False(t, ok)
}

func TestEdgeProfileBetween(t *testing.T) {
	f := newFixture(t)

	profile, ok := f.graph.EdgeProfileBetween(f.me, f.peerA)
	require.True(t, ok)
	assert.Equal(t, protocol.EdgeApproved, profile.Status)

	// The reverse pair is a different edge RID, not present.
	_, ok = f.graph.EdgeProfileBetween(f.peerA, f.me)
	assert.False(t, ok)
}

func TestGenerateReflectsDeletes(t *testing.T) {
	f := newFixture(t)

	edge := rid.NewEdge(f.me, f.peerA)
	require.NoError(t, f.cache.Delete(edge))
	require.NoError(t, f.graph.Generate())

	assert.Empty(t, f.graph.Edges(DirOut))
	assert.Equal(t, []rid.RID{f.peerB}, f.graph.Neighbors(DirBoth, "", ""))
}

func TestGenerateSkipsMalformedEdges(t *testing.T) {
	f := newFixture(t)

	// An edge bundle that does not decode must not poison the rebuild.
	bad, err := rid.Generate(
		rid.New(rid.EdgeType, "corrupt"),
		map[string]any{"status": "NONSENSE"},
	)
	require.NoError(t, err)
	require.NoError(t, f.cache.Write(bad))

	require.NoError(t, f.graph.Generate())
	assert.Len(t, f.graph.Edges(DirBoth), 2)
}
