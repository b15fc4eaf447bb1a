package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/koi-net/koinet/internal/cache"
	"github.com/koi-net/koinet/internal/graph"
	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

// defaultHandlers returns the handlers every node runs. They implement
// the baseline pipeline semantics: self-protection, dedup, edge
// negotiation, and output target selection. User handlers registered
// afterwards run behind them in their respective chains.
func defaultHandlers() []Handler {
	return []Handler{
		{Name: "self-protection", Type: HandlerRID, Func: selfProtectionHandler},
		{Name: "dedup", Type: HandlerManifest, Func: dedupHandler},
		{
			Name:       "edge-negotiation",
			Type:       HandlerBundle,
			RIDTypes:   []rid.Type{rid.EdgeType},
			Source:     SourceExternal,
			EventTypes: []protocol.EventType{protocol.EventNew, protocol.EventUpdate},
			Func:       edgeNegotiationHandler,
		},
		{Name: "output-filter", Type: HandlerNetwork, Func: outputFilterHandler},
	}
}

// selfProtectionHandler drops external events about this node's own
// identity (a peer cannot redefine us) and normalizes FORGET events.
func selfProtectionHandler(ctx context.Context, p *Processor, k *KnowledgeObject) (*KnowledgeObject, error) {
	if k.RID == p.Identity.RID && k.Source == SourceExternal {
		p.log.Debug("blocking external event about own identity")
		return StopChain, nil
	}
	if k.EventType == protocol.EventForget {
		k.NormalizedEventType = protocol.EventForget
		return k, nil
	}
	return nil, nil
}

// dedupHandler stops knowledge that is not newer than the cached
// version: same content digest, or an older-or-equal timestamp.
// Otherwise it labels the object UPDATE if the RID was known before,
// NEW if not.
func dedupHandler(ctx context.Context, p *Processor, k *KnowledgeObject) (*KnowledgeObject, error) {
	prev, err := p.Cache.Read(k.RID)
	switch {
	case errors.Is(err, cache.ErrNotFound):
		k.NormalizedEventType = protocol.EventNew
		return k, nil
	case err != nil:
		return nil, err
	}

	if k.Manifest.ContentDigest == prev.Manifest.ContentDigest {
		p.log.Debug("same content digest as cached knowledge, ignoring", "rid", k.RID.String())
		return StopChain, nil
	}
	if !k.Manifest.Timestamp.After(prev.Manifest.Timestamp) {
		p.log.Debug("manifest not newer than cached knowledge, ignoring", "rid", k.RID.String())
		return StopChain, nil
	}
	k.NormalizedEventType = protocol.EventUpdate
	return k, nil
}

// edgeNegotiationHandler approves or rejects edges proposed by peers.
//
// A peer proposes an edge by sending a PROPOSED edge bundle whose
// source is this node. The proposal is rejected — answered with a
// FORGET for the edge RID — when the proposer is unknown, requests RID
// types this node does not provide events for, or asks for webhook
// delivery toward a PARTIAL node. An acceptable proposal is approved:
// the profile is flipped to APPROVED, rebundled, and re-injected as an
// internally sourced UPDATE so it propagates back to the proposer.
func edgeNegotiationHandler(ctx context.Context, p *Processor, k *KnowledgeObject) (*KnowledgeObject, error) {
	edge, err := protocol.DecodeEdgeProfile(k.Contents)
	if err != nil {
		return nil, fmt.Errorf("edge negotiation: %w", err)
	}

	switch p.Identity.RID {
	case edge.Source:
		if edge.Status != protocol.EdgeProposed {
			return nil, nil
		}
		p.log.Debug("handling edge proposal", "peer", edge.Target.String())

		peer := edge.Target
		peerProfile, known := p.Network.Graph.NodeProfile(peer)
		if !known {
			p.log.Warn("edge proposed by unknown peer, ignoring", "peer", peer.String())
			return StopChain, nil
		}

		reject := false
		if edge.EdgeType == protocol.EdgeWebhook && peerProfile.NodeType == protocol.NodePartial {
			p.log.Debug("rejecting edge: partial nodes cannot receive webhooks")
			reject = true
		}
		if !p.providesAll(edge.RIDTypes) {
			p.log.Debug("rejecting edge: requested RID types not provided by this node")
			reject = true
		}
		if reject {
			event := protocol.NewEventFromRID(protocol.EventForget, k.RID)
			if err := p.Network.PushEventTo(ctx, event, peer, true); err != nil {
				p.log.Warn("edge rejection push failed", "peer", peer.String(), "error", err)
			}
			return StopChain, nil
		}

		p.log.Info("approving proposed edge", "peer", peer.String())
		edge.Status = protocol.EdgeApproved
		approved, err := rid.Generate(k.RID, edge.Map())
		if err != nil {
			return nil, err
		}
		p.HandleBundle(approved, protocol.EventUpdate, SourceInternal)
		return nil, nil

	case edge.Target:
		if edge.Status == protocol.EdgeApproved {
			p.log.Info("edge approved by peer", "peer", edge.Source.String())
		}
	}
	return nil, nil
}

// providesAll checks the requested types against the node's declared
// event types plus the implicitly provided topology types.
func (p *Processor) providesAll(requested []rid.Type) bool {
	provided := make(map[rid.Type]struct{})
	for _, t := range p.Identity.Profile.Provides.Event {
		provided[t] = struct{}{}
	}
	for _, t := range p.Identity.ImplicitProvides().Event {
		provided[t] = struct{}{}
	}
	for _, t := range requested {
		if _, ok := provided[t]; !ok {
			return false
		}
	}
	return true
}

// outputFilterHandler decides which peers receive the normalized event:
// every neighbor with an approved edge carrying the RID's type, when
// this node provides events for it or is a party to the knowledge; plus
// the other endpoint of an edge we belong to, unconditionally.
func outputFilterHandler(ctx context.Context, p *Processor, k *KnowledgeObject) (*KnowledgeObject, error) {
	involvesMe := false
	if k.Source == SourceInternal {
		switch k.RID.Type() {
		case rid.NodeType:
			involvesMe = k.RID == p.Identity.RID

		case rid.EdgeType:
			if k.Contents == nil {
				break
			}
			edge, err := protocol.DecodeEdgeProfile(k.Contents)
			if err != nil {
				return nil, fmt.Errorf("output filter: %w", err)
			}
			if other := edge.Other(p.Identity.RID); !other.IsZero() {
				p.log.Debug("adding edge peer to network targets", "peer", other.String())
				k.AddTarget(other)
				involvesMe = true
			}
		}
	}

	if involvesMe || p.Identity.Profile.Provides.ProvidesEvent(k.RID.Type()) {
		subscribers := p.Network.Graph.Neighbors(graph.DirBoth, protocol.EdgeApproved, k.RID.Type())
		for _, subscriber := range subscribers {
			k.AddTarget(subscriber)
		}
	}
	return k, nil
}
