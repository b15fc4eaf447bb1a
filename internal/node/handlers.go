package node

import (
	"context"
	"log/slog"

	"github.com/koi-net/koinet/internal/processor"
	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

// GreetNewNodes is the coordinator-side handshake. For every node that
// newly appears in the cache it pushes this node's own bundle to the
// newcomer and proposes a webhook edge from the newcomer toward this
// node carrying the topology types, so the newcomer's knowledge flows
// here for redistribution.
func GreetNewNodes() processor.Handler {
	log := slog.With("component", "handshake")
	return processor.Handler{
		Name:     "greet-new-nodes",
		Type:     processor.HandlerNetwork,
		RIDTypes: []rid.Type{rid.NodeType},
		Source:   processor.SourceExternal,
		Func: func(ctx context.Context, p *processor.Processor, k *processor.KnowledgeObject) (*processor.KnowledgeObject, error) {
			if k.NormalizedEventType != protocol.EventNew {
				return nil, nil
			}
			log.Info("greeting new node", "rid", k.RID.String())

			bundle, err := p.Identity.Bundle()
			if err != nil {
				return nil, err
			}
			event := protocol.NewEventFromBundle(protocol.EventNew, bundle)
			if err := p.Network.PushEventTo(ctx, event, k.RID, true); err != nil {
				log.Warn("greeting push failed", "rid", k.RID.String(), "error", err)
				return nil, nil
			}

			proposal, err := protocol.GenerateEdgeBundle(
				k.RID, p.Identity.RID,
				protocol.EdgeWebhook,
				[]rid.Type{rid.NodeType, rid.EdgeType},
			)
			if err != nil {
				return nil, err
			}
			p.HandleBundle(proposal, protocol.EventNew, processor.SourceInternal)
			return nil, nil
		},
	}
}
