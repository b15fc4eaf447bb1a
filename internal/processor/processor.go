package processor

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/koi-net/koinet/internal/cache"
	"github.com/koi-net/koinet/internal/identity"
	"github.com/koi-net/koinet/internal/metrics"
	"github.com/koi-net/koinet/internal/network"
	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

// Pipeline completion outcomes, recorded per knowledge object.
const (
	outcomeNew     = "new"
	outcomeUpdate  = "update"
	outcomeForget  = "forget"
	outcomeStopped = "stopped"
	outcomeSkipped = "skipped"
	outcomeError   = "error"
)

// Processor walks knowledge objects through the five handler chains
// (RID, Manifest, Bundle, Network, Final) with fixed engine actions in
// between. It consumes from a single FIFO: in single-threaded mode the
// caller invokes FlushQueue at safe points; in worker mode a dedicated
// goroutine is the sole consumer and Handle is a thread-safe producer.
// The processor is the only component that writes to the cache.
type Processor struct {
	Cache    cache.Cache
	Network  *network.Interface
	Identity *identity.Identity

	metrics  *metrics.Metrics
	log      *slog.Logger
	handlers []Handler

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*KnowledgeObject
	busy    bool
	stopped bool

	workerDone chan struct{}
}

// New builds a processor with the default handlers pre-registered.
// Handlers registered afterwards run after the defaults of their stage.
func New(c cache.Cache, net *network.Interface, id *identity.Identity, m *metrics.Metrics) *Processor {
	p := &Processor{
		Cache:    c,
		Network:  net,
		Identity: id,
		metrics:  m,
		log:      slog.With("component", "processor"),
	}
	p.cond = sync.NewCond(&p.mu)
	for _, h := range defaultHandlers() {
		p.RegisterHandler(h)
	}
	return p
}

// RegisterHandler appends a handler to its stage's chain.
func (p *Processor) RegisterHandler(h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// Handle enqueues a knowledge object for processing.
func (p *Processor) Handle(k *KnowledgeObject) {
	p.mu.Lock()
	p.queue = append(p.queue, k)
	depth := len(p.queue)
	p.mu.Unlock()
	p.metrics.SetQueueDepth(depth)
	p.cond.Broadcast()
}

// HandleRID enqueues a bare RID.
func (p *Processor) HandleRID(r rid.RID, eventType protocol.EventType, source Source) {
	p.Handle(FromRID(r, eventType, source))
}

// HandleBundle enqueues a full bundle.
func (p *Processor) HandleBundle(b rid.Bundle, eventType protocol.EventType, source Source) {
	p.Handle(FromBundle(b, eventType, source))
}

// HandleEvent enqueues an incoming change event.
func (p *Processor) HandleEvent(e protocol.Event, source Source) {
	p.Handle(FromEvent(e, source))
}

// FlushQueue drains the queue in the caller's goroutine. This is the
// single-threaded mode: call it at safe points (after a request, in a
// poll loop). Objects enqueued while flushing are processed too.
func (p *Processor) FlushQueue(ctx context.Context) {
	for {
		p.mu.Lock()
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		k := p.queue[0]
		p.queue = p.queue[1:]
		depth := len(p.queue)
		p.mu.Unlock()
		p.metrics.SetQueueDepth(depth)
		p.process(ctx, k)
	}
}

// StartWorker launches the dedicated consumer goroutine.
func (p *Processor) StartWorker() {
	p.mu.Lock()
	if p.workerDone != nil {
		p.mu.Unlock()
		return
	}
	p.stopped = false
	done := make(chan struct{})
	p.workerDone = done
	p.mu.Unlock()

	go p.workerLoop(done)
	p.log.Info("knowledge processing worker started")
}

func (p *Processor) workerLoop(done chan struct{}) {
	defer close(done)
	ctx := context.Background()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.stopped {
			p.mu.Unlock()
			return
		}
		k := p.queue[0]
		p.queue = p.queue[1:]
		p.busy = true
		depth := len(p.queue)
		p.mu.Unlock()
		p.metrics.SetQueueDepth(depth)

		p.process(ctx, k)

		p.mu.Lock()
		p.busy = false
		p.mu.Unlock()
		p.cond.Broadcast()
	}
}

// StopWorker drains the queue and stops the worker. In-flight handlers
// are not cancelled.
func (p *Processor) StopWorker() {
	p.mu.Lock()
	if p.workerDone == nil {
		p.mu.Unlock()
		return
	}
	done := p.workerDone
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
	<-done
	p.mu.Lock()
	p.workerDone = nil
	p.mu.Unlock()
	p.log.Info("knowledge processing worker stopped")
}

// Drain blocks until the queue is empty and no object is in flight.
// Only meaningful in worker mode; in single-threaded mode use
// FlushQueue.
func (p *Processor) Drain() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 || p.busy {
		p.cond.Wait()
	}
}

// WorkerRunning reports whether the dedicated consumer is active.
func (p *Processor) WorkerRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workerDone != nil
}

// runChain runs one stage's handlers in registration order. Each
// handler receives a copy; returning nil keeps the previous object,
// returning a new object replaces it, StopChain aborts. A handler may
// not change the object's RID.
func (p *Processor) runChain(ctx context.Context, stage HandlerType, k *KnowledgeObject) (*KnowledgeObject, bool) {
	p.mu.Lock()
	handlers := make([]Handler, 0, len(p.handlers))
	for _, h := range p.handlers {
		if h.Type == stage {
			handlers = append(handlers, h)
		}
	}
	p.mu.Unlock()

	for _, h := range handlers {
		if !h.matches(k) {
			continue
		}
		out, err := h.Func(ctx, p, k.Copy())
		if err != nil {
			p.log.Warn("handler failed, dropping knowledge object",
				"handler", h.Name, "kobj", k.String(), "error", err)
			p.metrics.RecordProcessed(outcomeError)
			return nil, false
		}
		if out == StopChain {
			p.log.Debug("handler stopped chain", "handler", h.Name, "kobj", k.String())
			p.metrics.RecordProcessed(outcomeStopped)
			return nil, false
		}
		if out == nil {
			continue
		}
		if out.RID != k.RID {
			p.log.Warn("handler changed knowledge object RID, dropping",
				"handler", h.Name, "from", k.RID.String(), "to", out.RID.String())
			p.metrics.RecordProcessed(outcomeError)
			return nil, false
		}
		k = out
	}
	return k, true
}

// process walks one knowledge object through the full pipeline.
func (p *Processor) process(ctx context.Context, k *KnowledgeObject) {
	p.log.Debug("processing knowledge object", "kobj", k.String())

	k, ok := p.runChain(ctx, HandlerRID, k)
	if !ok {
		return
	}

	if k.EventType == protocol.EventForget {
		// Attach the cached state so downstream handlers can inspect
		// what is about to be deleted. Forgetting the unknown is a
		// silent no-op.
		bundle, err := p.Cache.Read(k.RID)
		if err != nil {
			p.log.Debug("FORGET for unknown RID, ignoring", "rid", k.RID.String())
			p.metrics.RecordProcessed(outcomeSkipped)
			return
		}
		manifest := bundle.Manifest
		k.Manifest = &manifest
		k.Contents = bundle.Contents
	} else if k.Manifest == nil {
		manifest, err := p.acquireManifest(ctx, k)
		if err != nil {
			p.log.Debug("could not obtain manifest, ignoring",
				"rid", k.RID.String(), "source", string(k.Source), "error", err)
			p.metrics.RecordProcessed(outcomeSkipped)
			return
		}
		k.Manifest = &manifest
	}

	if k.NormalizedEventType != protocol.EventForget {
		if k, ok = p.runChain(ctx, HandlerManifest, k); !ok {
			return
		}

		if k.Contents == nil {
			bundle, err := p.acquireBundle(ctx, k)
			if err != nil {
				p.log.Debug("could not obtain bundle, ignoring",
					"rid", k.RID.String(), "source", string(k.Source), "error", err)
				p.metrics.RecordProcessed(outcomeSkipped)
				return
			}
			if k.Manifest.ContentDigest != bundle.Manifest.ContentDigest {
				p.log.Warn("retrieved bundle differs from advertised manifest, proceeding with retrieved",
					"rid", k.RID.String(),
					"advertised", k.Manifest.ContentDigest,
					"retrieved", bundle.Manifest.ContentDigest)
			}
			manifest := bundle.Manifest
			k.Manifest = &manifest
			k.Contents = bundle.Contents
		}

		if k, ok = p.runChain(ctx, HandlerBundle, k); !ok {
			return
		}
	}

	outcome, ok := p.applyCacheAction(k)
	if !ok {
		return
	}

	if t := k.RID.Type(); t == rid.NodeType || t == rid.EdgeType {
		if err := p.Network.Graph.Generate(); err != nil {
			p.log.Warn("graph regeneration failed", "error", err)
		}
	}

	if k, ok = p.runChain(ctx, HandlerNetwork, k); !ok {
		return
	}

	p.fanout(ctx, k)

	if _, ok = p.runChain(ctx, HandlerFinal, k); !ok {
		return
	}
	p.metrics.RecordProcessed(outcome)
}

func (p *Processor) acquireManifest(ctx context.Context, k *KnowledgeObject) (rid.Manifest, error) {
	if k.Source == SourceExternal {
		return p.Network.FetchRemoteManifest(ctx, k.RID)
	}
	bundle, err := p.Cache.Read(k.RID)
	if err != nil {
		return rid.Manifest{}, err
	}
	return bundle.Manifest, nil
}

func (p *Processor) acquireBundle(ctx context.Context, k *KnowledgeObject) (rid.Bundle, error) {
	if k.Source == SourceExternal {
		return p.Network.FetchRemoteBundle(ctx, k.RID)
	}
	return p.Cache.Read(k.RID)
}

// applyCacheAction performs the fixed cache step after the bundle
// chain. Only the pipeline ever writes to the cache.
func (p *Processor) applyCacheAction(k *KnowledgeObject) (string, bool) {
	switch k.NormalizedEventType {
	case protocol.EventNew, protocol.EventUpdate:
		bundle, ok := k.Bundle()
		if !ok {
			p.log.Warn("normalized NEW/UPDATE without full bundle, dropping", "rid", k.RID.String())
			p.metrics.RecordProcessed(outcomeError)
			return "", false
		}
		if err := p.Cache.Write(bundle); err != nil {
			p.log.Warn("cache write failed", "rid", k.RID.String(), "error", err)
			p.metrics.RecordProcessed(outcomeError)
			return "", false
		}
		p.metrics.RecordCacheOp("write")
		p.log.Info("cached knowledge", "rid", k.RID.String(), "event", string(k.NormalizedEventType))
		if k.NormalizedEventType == protocol.EventNew {
			return outcomeNew, true
		}
		return outcomeUpdate, true

	case protocol.EventForget:
		if err := p.Cache.Delete(k.RID); err != nil {
			p.log.Warn("cache delete failed", "rid", k.RID.String(), "error", err)
			p.metrics.RecordProcessed(outcomeError)
			return "", false
		}
		p.metrics.RecordCacheOp("delete")
		p.log.Info("forgot knowledge", "rid", k.RID.String())
		return outcomeForget, true

	default:
		// Never normalized: no state change, no broadcast.
		p.metrics.RecordProcessed(outcomeSkipped)
		return "", false
	}
}

// fanout enqueues the normalized event to every network target, then
// flushes the affected webhook queues. A failed flush demotes the peer
// with a self-inflicted FORGET of its node and of any edge between us,
// so the network view stops routing to it; redelivery requires a new
// edge.
func (p *Processor) fanout(ctx context.Context, k *KnowledgeObject) {
	if len(k.NetworkTargets) == 0 {
		return
	}
	event, err := k.NormalizedEvent()
	if err != nil {
		p.log.Warn("fanout without normalized event", "rid", k.RID.String(), "error", err)
		return
	}
	p.log.Debug("broadcasting event", "event", event.String(), "targets", len(k.NetworkTargets))

	for target := range k.NetworkTargets {
		if err := p.Network.PushEventTo(ctx, event, target, false); err != nil {
			p.log.Warn("push to peer failed", "peer", target.String(), "error", err)
		}
	}
	for target := range k.NetworkTargets {
		if err := p.Network.FlushWebhookQueue(ctx, target); err != nil {
			if errors.Is(err, network.ErrPeerUnreachable) || errors.Is(err, network.ErrInvalidTarget) {
				p.log.Warn("demoting unreachable peer", "peer", target.String())
				p.HandleRID(target, protocol.EventForget, SourceInternal)
				for _, e := range []rid.RID{rid.NewEdge(p.Identity.RID, target), rid.NewEdge(target, p.Identity.RID)} {
					if ok, _ := p.Cache.Exists(e); ok {
						p.HandleRID(e, protocol.EventForget, SourceInternal)
					}
				}
			}
		}
	}
}
