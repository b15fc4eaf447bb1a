// Package graph maintains the in-memory directed view of the network:
// one vertex per known node, one edge per known edge bundle. The view
// is derived from the cache and rebuilt wholesale after any node or
// edge change; readers tolerate a brief lag behind the cache.
package graph

import (
	"log/slog"
	"sync"

	"github.com/koi-net/koinet/internal/cache"
	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

// Direction selects which edges touching this node a query considers.
type Direction string

const (
	DirIn   Direction = "in"
	DirOut  Direction = "out"
	DirBoth Direction = ""
)

type edgeRef struct {
	rid    rid.RID
	source rid.RID
	target rid.RID
}

// Graph is the network view from one node's perspective.
type Graph struct {
	cache cache.Cache
	me    rid.RID
	log   *slog.Logger

	mu    sync.RWMutex
	nodes map[rid.RID]struct{}
	out   map[rid.RID][]edgeRef // keyed by edge source
	in    map[rid.RID][]edgeRef // keyed by edge target
}

// New builds an empty graph view for the node identified by me.
// Call Generate before querying.
func New(c cache.Cache, me rid.RID) *Graph {
	return &Graph{
		cache: c,
		me:    me,
		log:   slog.With("component", "graph"),
		nodes: make(map[rid.RID]struct{}),
		out:   make(map[rid.RID][]edgeRef),
		in:    make(map[rid.RID][]edgeRef),
	}
}

// Generate rebuilds the whole view from the cache. Rebuilding is
// O(|cache|) but avoids invalidation bugs; keep it unless profiling
// says otherwise.
func (g *Graph) Generate() error {
	nodes := make(map[rid.RID]struct{})
	out := make(map[rid.RID][]edgeRef)
	in := make(map[rid.RID][]edgeRef)

	nodeRids, err := g.cache.List(rid.NodeType)
	if err != nil {
		return err
	}
	for _, r := range nodeRids {
		nodes[r] = struct{}{}
	}

	edgeRids, err := g.cache.List(rid.EdgeType)
	if err != nil {
		return err
	}
	for _, r := range edgeRids {
		bundle, err := g.cache.Read(r)
		if err != nil {
			// Listed but unreadable: a delete raced the enumeration.
			g.log.Warn("skipping edge missing from cache", "rid", r.String())
			continue
		}
		profile, err := protocol.DecodeEdgeProfile(bundle.Contents)
		if err != nil {
			g.log.Warn("skipping malformed edge bundle", "rid", r.String(), "error", err)
			continue
		}
		ref := edgeRef{rid: r, source: profile.Source, target: profile.Target}
		out[profile.Source] = append(out[profile.Source], ref)
		in[profile.Target] = append(in[profile.Target], ref)
	}

	g.mu.Lock()
	g.nodes, g.out, g.in = nodes, out, in
	g.mu.Unlock()

	g.log.Debug("regenerated network graph", "nodes", len(nodes), "edges", len(edgeRids))
	return nil
}

// NodeProfile resolves a node's profile via the cache. The second
// return is false for unknown or malformed nodes.
func (g *Graph) NodeProfile(node rid.RID) (protocol.NodeProfile, bool) {
	bundle, err := g.cache.Read(node)
	if err != nil {
		return protocol.NodeProfile{}, false
	}
	profile, err := protocol.DecodeNodeProfile(bundle.Contents)
	if err != nil {
		g.log.Warn("malformed node bundle", "rid", node.String(), "error", err)
		return protocol.NodeProfile{}, false
	}
	return profile, true
}

// EdgeProfile resolves an edge's profile via the cache.
func (g *Graph) EdgeProfile(edge rid.RID) (protocol.EdgeProfile, bool) {
	bundle, err := g.cache.Read(edge)
	if err != nil {
		return protocol.EdgeProfile{}, false
	}
	profile, err := protocol.DecodeEdgeProfile(bundle.Contents)
	if err != nil {
		g.log.Warn("malformed edge bundle", "rid", edge.String(), "error", err)
		return protocol.EdgeProfile{}, false
	}
	return profile, true
}

// EdgeProfileBetween resolves the edge for an ordered (source, target)
// pair; the edge RID is deterministic in the pair.
func (g *Graph) EdgeProfileBetween(source, target rid.RID) (protocol.EdgeProfile, bool) {
	return g.EdgeProfile(rid.NewEdge(source, target))
}

// Edges returns the RIDs of edges touching this node in the given
// direction. DirOut means this node is the source.
func (g *Graph) Edges(direction Direction) []rid.RID {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var refs []edgeRef
	if direction != DirIn {
		refs = append(refs, g.out[g.me]...)
	}
	if direction != DirOut {
		refs = append(refs, g.in[g.me]...)
	}

	rids := make([]rid.RID, 0, len(refs))
	for _, ref := range refs {
		rids = append(rids, ref.rid)
	}
	return rids
}

// Neighbors returns peer RIDs connected to this node, filtered by edge
// direction, edge status ("" = any), and carried RID type ("" = any).
// Edges whose bundle has vanished from the cache are skipped with a
// warning.
func (g *Graph) Neighbors(direction Direction, status protocol.EdgeStatus, allowedType rid.Type) []rid.RID {
	var neighbors []rid.RID
	for _, edgeRID := range g.Edges(direction) {
		profile, ok := g.EdgeProfile(edgeRID)
		if !ok {
			g.log.Warn("edge in graph but not in cache", "rid", edgeRID.String())
			continue
		}
		if status != "" && profile.Status != status {
			continue
		}
		if allowedType != "" && !profile.Carries(allowedType) {
			continue
		}
		if other := profile.Other(g.me); !other.IsZero() {
			neighbors = append(neighbors, other)
		}
	}
	return neighbors
}
