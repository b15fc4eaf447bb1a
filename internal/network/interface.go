package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/koi-net/koinet/internal/cache"
	"github.com/koi-net/koinet/internal/graph"
	"github.com/koi-net/koinet/internal/identity"
	"github.com/koi-net/koinet/internal/metrics"
	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

// Interface ties the graph view, the per-peer queues, and the protocol
// client together: peer URL resolution, delivery policy, and polling.
type Interface struct {
	Graph  *graph.Graph
	Queues *EventQueues

	cache        cache.Cache
	identity     *identity.Identity
	request      *RequestHandler
	firstContact string
	log          *slog.Logger
}

func NewInterface(
	c cache.Cache,
	id *identity.Identity,
	queuesPath string,
	firstContact string,
	m *metrics.Metrics,
) *Interface {
	return &Interface{
		Graph:        graph.New(c, id.RID),
		Queues:       NewEventQueues(queuesPath, m),
		cache:        c,
		identity:     id,
		request:      NewRequestHandler(c),
		firstContact: firstContact,
		log:          slog.With("component", "network"),
	}
}

// Request exposes the protocol client, e.g. for first-contact calls.
func (n *Interface) Request() *RequestHandler {
	return n.request
}

// FirstContact returns the configured bootstrap URL, if any.
func (n *Interface) FirstContact() string {
	return n.firstContact
}

// queueFor picks the delivery queue for a peer: an edge me -> peer
// dictates its own delivery mode; otherwise FULL peers get webhooks and
// PARTIAL peers get polled. A peer whose node bundle is gone from the
// cache is unknown no matter what edges survive it.
func (n *Interface) queueFor(peer rid.RID) (QueueKind, error) {
	profile, ok := n.Graph.NodeProfile(peer)
	if !ok {
		return "", fmt.Errorf("unknown peer %s", peer)
	}
	if edge, ok := n.Graph.EdgeProfileBetween(n.identity.RID, peer); ok {
		if edge.EdgeType == protocol.EdgeWebhook {
			return QueueWebhook, nil
		}
		return QueuePoll, nil
	}
	if profile.NodeType == protocol.NodeFull {
		return QueueWebhook, nil
	}
	return QueuePoll, nil
}

// PushEventTo enqueues an event for a peer. Peers unknown to the cache
// are dropped silently: we cannot pick a delivery mode for a node we
// know nothing about. With flush set, a webhook queue is flushed
// immediately.
func (n *Interface) PushEventTo(ctx context.Context, event protocol.Event, peer rid.RID, flush bool) error {
	kind, err := n.queueFor(peer)
	if err != nil {
		n.log.Debug("dropping event for unknown peer", "peer", peer.String(), "event", event.String())
		return nil
	}
	n.log.Debug("pushing event to peer", "peer", peer.String(), "event", event.String(), "queue", string(kind))
	n.Queues.Push(kind, peer, event)

	if flush && kind == QueueWebhook {
		return n.FlushWebhookQueue(ctx, peer)
	}
	return nil
}

// FlushPollQueue drains and returns up to limit events queued for a
// polling peer; limit <= 0 returns everything.
func (n *Interface) FlushPollQueue(peer rid.RID, limit int) []protocol.Event {
	events := n.Queues.Drain(QueuePoll, peer, limit)
	n.log.Debug("flushed poll queue", "peer", peer.String(), "events", len(events))
	return events
}

// FlushWebhookQueue drains a peer's webhook queue and POSTs the batch
// to its broadcast endpoint. On failure every drained event is restored
// in original order and the error is surfaced so the caller can demote
// the peer.
func (n *Interface) FlushWebhookQueue(ctx context.Context, peer rid.RID) error {
	events := n.Queues.Drain(QueueWebhook, peer, 0)
	if len(events) == 0 {
		return nil
	}
	err := n.request.BroadcastEvents(ctx, peer, "", protocol.EventsPayload{Events: events})
	if err != nil {
		n.Queues.Requeue(QueueWebhook, peer, events)
		n.Queues.metrics.RecordWebhookFailure()
		n.log.Warn("webhook flush failed, events re-queued", "peer", peer.String(), "events", len(events), "error", err)
		return err
	}
	n.log.Debug("flushed webhook queue", "peer", peer.String(), "events", len(events))
	return nil
}

// FlushAllWebhookQueues flushes every non-empty webhook queue and
// returns the peers whose flush failed.
func (n *Interface) FlushAllWebhookQueues(ctx context.Context) []rid.RID {
	var failed []rid.RID
	for _, peer := range n.Queues.Peers(QueueWebhook) {
		if err := n.FlushWebhookQueue(ctx, peer); err != nil {
			failed = append(failed, peer)
		}
	}
	return failed
}

// StateProviders returns known FULL nodes whose declared state types
// include t. This node never queries itself.
func (n *Interface) StateProviders(t rid.Type) []rid.RID {
	nodeRids, err := n.cache.List(rid.NodeType)
	if err != nil {
		n.log.Warn("listing nodes failed", "error", err)
		return nil
	}
	var providers []rid.RID
	for _, nodeRID := range nodeRids {
		if nodeRID == n.identity.RID {
			continue
		}
		profile, ok := n.Graph.NodeProfile(nodeRID)
		if !ok {
			continue
		}
		if profile.NodeType == protocol.NodeFull && profile.Provides.ProvidesState(t) {
			providers = append(providers, nodeRID)
		}
	}
	return providers
}

// FetchRemoteBundle tries each state provider for r's type until one
// returns the bundle; cache.ErrNotFound on exhaustion.
func (n *Interface) FetchRemoteBundle(ctx context.Context, r rid.RID) (rid.Bundle, error) {
	for _, provider := range n.StateProviders(r.Type()) {
		payload, err := n.request.FetchBundles(ctx, provider, "", protocol.FetchBundles{Rids: []rid.RID{r}})
		if err != nil {
			n.log.Debug("bundle fetch failed", "provider", provider.String(), "error", err)
			continue
		}
		if len(payload.Bundles) > 0 {
			n.log.Debug("fetched remote bundle", "rid", r.String(), "provider", provider.String())
			return payload.Bundles[0], nil
		}
	}
	return rid.Bundle{}, fmt.Errorf("fetch remote bundle %s: %w", r, cache.ErrNotFound)
}

// FetchRemoteManifest is FetchRemoteBundle for manifests only.
func (n *Interface) FetchRemoteManifest(ctx context.Context, r rid.RID) (rid.Manifest, error) {
	for _, provider := range n.StateProviders(r.Type()) {
		payload, err := n.request.FetchManifests(ctx, provider, "", protocol.FetchManifests{Rids: []rid.RID{r}})
		if err != nil {
			n.log.Debug("manifest fetch failed", "provider", provider.String(), "error", err)
			continue
		}
		if len(payload.Manifests) > 0 {
			return payload.Manifests[0], nil
		}
	}
	return rid.Manifest{}, fmt.Errorf("fetch remote manifest %s: %w", r, cache.ErrNotFound)
}

// PollNeighbors polls every known FULL neighbor for events addressed to
// this node. A node with no neighbors but a configured first-contact
// URL polls that URL instead. Failing neighbors are skipped, not
// demoted: a missed poll is a read miss, not a delivery failure.
func (n *Interface) PollNeighbors(ctx context.Context) []protocol.Event {
	req := protocol.PollEvents{RID: n.identity.RID}

	neighbors := n.Graph.Neighbors(graph.DirBoth, "", "")
	if len(neighbors) == 0 {
		if n.firstContact == "" {
			return nil
		}
		payload, err := n.request.PollEvents(ctx, rid.RID{}, n.firstContact, req)
		if err != nil {
			n.log.Debug("first-contact poll failed", "url", n.firstContact, "error", err)
			return nil
		}
		return payload.Events
	}

	var events []protocol.Event
	polled := make(map[rid.RID]struct{})
	for _, neighbor := range neighbors {
		if _, done := polled[neighbor]; done {
			continue
		}
		polled[neighbor] = struct{}{}

		profile, ok := n.Graph.NodeProfile(neighbor)
		if !ok || profile.NodeType != protocol.NodeFull {
			continue
		}
		payload, err := n.request.PollEvents(ctx, neighbor, "", req)
		if err != nil {
			if !errors.Is(err, ErrInvalidTarget) {
				n.log.Debug("neighbor poll failed", "peer", neighbor.String(), "error", err)
			}
			continue
		}
		events = append(events, payload.Events...)
	}
	return events
}
