// Package node assembles the cache, identity, network interface,
// processor, and HTTP server into a runnable node.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/koi-net/koinet/internal/cache"
	"github.com/koi-net/koinet/internal/config"
	"github.com/koi-net/koinet/internal/identity"
	"github.com/koi-net/koinet/internal/metrics"
	"github.com/koi-net/koinet/internal/network"
	"github.com/koi-net/koinet/internal/processor"
	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
	"github.com/koi-net/koinet/internal/server"
)

// Node is a running KOI-net node. FULL nodes serve the protocol over
// HTTP; PARTIAL nodes only make outbound requests.
type Node struct {
	Config    *config.Config
	Cache     cache.Cache
	Identity  *identity.Identity
	Network   *network.Interface
	Processor *processor.Processor
	Registry  *prometheus.Registry

	server    *server.Server
	serverErr chan error
	handlers  []processor.Handler
	useWorker bool
	log       *slog.Logger
}

// Option customizes a node before its pipeline starts.
type Option func(*Node)

// WithHandler registers a custom knowledge handler. Handlers run after
// the defaults of their chain, in registration order.
func WithHandler(h processor.Handler) Option {
	return func(n *Node) { n.handlers = append(n.handlers, h) }
}

// WithCache overrides the configured cache backend, e.g. with an
// in-memory cache for tests.
func WithCache(c cache.Cache) Option {
	return func(n *Node) { n.Cache = c }
}

// WithoutWorker disables the background pipeline worker. The caller
// then drives processing explicitly with Processor.FlushQueue, which is
// the usual shape for polling PARTIAL nodes.
func WithoutWorker() Option {
	return func(n *Node) { n.useWorker = false }
}

// New wires a node from its configuration. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Node, error) {
	n := &Node{
		Config:    cfg,
		Registry:  prometheus.NewRegistry(),
		useWorker: true,
		log:       slog.With("component", "node"),
	}
	for _, opt := range opts {
		opt(n)
	}

	if n.Cache == nil {
		c, err := openCache(ctx, cfg)
		if err != nil {
			return nil, err
		}
		n.Cache = c
	}

	id, err := identity.Load(cfg.KoiNet.IdentityPath, cfg.KoiNet.NodeName, cfg.Profile(), n.Cache)
	if err != nil {
		return nil, err
	}
	n.Identity = id

	m := metrics.New(n.Registry)
	n.Network = network.NewInterface(n.Cache, id, cfg.KoiNet.EventQueuesPath, cfg.KoiNet.FirstContact, m)
	n.Processor = processor.New(n.Cache, n.Network, id, m)
	for _, h := range n.handlers {
		n.Processor.RegisterHandler(h)
	}

	if id.Profile.NodeType == protocol.NodeFull {
		n.server = server.New(cfg.Server, n.Processor, network.NewResponseHandler(n.Cache), n.Registry)
	}
	return n, nil
}

func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case "memory":
		return cache.NewMemory(), nil
	case "redis":
		return cache.OpenRedis(ctx, cfg.Cache.RedisAddr, cfg.KoiNet.NodeName+":")
	default:
		return cache.OpenLevelDB(cfg.KoiNet.CacheDirectory)
	}
}

// Start brings the node up: restores queued events, rebuilds the graph
// view, refreshes the node's own bundle through the pipeline, runs
// first contact if the node knows no peers, and starts the HTTP server
// for FULL nodes. Start does not block.
func (n *Node) Start(ctx context.Context) error {
	if n.useWorker {
		n.Processor.StartWorker()
	}
	if err := n.Network.Queues.Load(); err != nil {
		return fmt.Errorf("restore event queues: %w", err)
	}
	if err := n.Network.Graph.Generate(); err != nil {
		return fmt.Errorf("generate graph: %w", err)
	}

	bundle, err := n.Identity.NewBundle()
	if err != nil {
		return fmt.Errorf("bundle own profile: %w", err)
	}
	n.Processor.HandleBundle(bundle, "", processor.SourceInternal)
	n.settle(ctx)

	if err := n.firstContact(ctx); err != nil {
		// First contact is best effort: the node still runs alone.
		n.log.Warn("first contact failed", "url", n.Network.FirstContact(), "error", err)
	}

	if n.server != nil {
		n.serverErr = make(chan error, 1)
		go func() { n.serverErr <- n.server.Start() }()
	}
	n.log.Info("node started", "rid", n.Identity.RID.String(), "type", string(n.Identity.Profile.NodeType))
	return nil
}

// settle waits for everything currently queued to be processed.
func (n *Node) settle(ctx context.Context) {
	if n.useWorker {
		n.Processor.Drain()
		return
	}
	n.Processor.FlushQueue(ctx)
}

// firstContact introduces the node to the configured bootstrap peer
// when it has no neighbors yet. The FORGET ahead of the NEW clears any
// stale bundle the peer may hold for this RID from an earlier life.
func (n *Node) firstContact(ctx context.Context) error {
	url := n.Network.FirstContact()
	if url == "" || len(n.Network.Graph.Neighbors("", "", "")) > 0 {
		return nil
	}
	bundle, err := n.Identity.NewBundle()
	if err != nil {
		return err
	}
	n.log.Info("contacting first contact", "url", url)
	payload := protocol.EventsPayload{Events: []protocol.Event{
		protocol.NewEventFromRID(protocol.EventForget, n.Identity.RID),
		protocol.NewEventFromBundle(protocol.EventNew, bundle),
	}}
	return n.Network.Request().BroadcastEvents(ctx, rid.RID{}, url, payload)
}

// Err reports a server failure after Start, if any. It never blocks.
func (n *Node) Err() error {
	select {
	case err := <-n.serverErr:
		return err
	default:
		return nil
	}
}

// Stop drains the pipeline, persists the event queues, and closes the
// cache. The node cannot be restarted.
func (n *Node) Stop(ctx context.Context) error {
	var errs []error
	if n.server != nil {
		if err := n.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if n.useWorker {
		n.Processor.StopWorker()
	} else {
		n.Processor.FlushQueue(ctx)
	}
	if err := n.Network.Queues.Save(); err != nil {
		errs = append(errs, err)
	}
	if err := n.Cache.Close(); err != nil {
		errs = append(errs, err)
	}
	n.log.Info("node stopped", "rid", n.Identity.RID.String())
	return errors.Join(errs...)
}
