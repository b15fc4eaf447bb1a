package network

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/koi-net/koinet/internal/metrics"
	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

// QueueKind names the two delivery queues kept per peer.
type QueueKind string

const (
	QueueWebhook QueueKind = "webhook"
	QueuePoll    QueueKind = "poll"
)

// EventQueues holds per-peer FIFOs, one webhook and one poll queue per
// peer. FIFO order is preserved end-to-end, including across a failed
// flush (Requeue restores drained events ahead of later arrivals).
// Queues are serialized to a single JSON file on shutdown.
type EventQueues struct {
	path    string
	metrics *metrics.Metrics
	log     *slog.Logger

	mu      sync.Mutex
	webhook map[rid.RID][]protocol.Event
	poll    map[rid.RID][]protocol.Event
}

type queuesFile struct {
	Webhook map[rid.RID][]protocol.Event `json:"webhook"`
	Poll    map[rid.RID][]protocol.Event `json:"poll"`
}

func NewEventQueues(path string, m *metrics.Metrics) *EventQueues {
	return &EventQueues{
		path:    path,
		metrics: m,
		log:     slog.With("component", "event_queues"),
		webhook: make(map[rid.RID][]protocol.Event),
		poll:    make(map[rid.RID][]protocol.Event),
	}
}

func (q *EventQueues) byKind(kind QueueKind) map[rid.RID][]protocol.Event {
	if kind == QueueWebhook {
		return q.webhook
	}
	return q.poll
}

// Push appends one event to a peer's queue.
func (q *EventQueues) Push(kind QueueKind, peer rid.RID, event protocol.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	queues := q.byKind(kind)
	queues[peer] = append(queues[peer], event)
	q.metrics.RecordQueued(string(kind))
	q.log.Debug("queued event", "queue", string(kind), "peer", peer.String(), "event", event.String())
}

// Drain removes and returns up to limit events from a peer's queue in
// FIFO order; limit <= 0 drains everything.
func (q *EventQueues) Drain(kind QueueKind, peer rid.RID, limit int) []protocol.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	queues := q.byKind(kind)
	queued := queues[peer]
	if len(queued) == 0 {
		return nil
	}

	n := len(queued)
	if limit > 0 && limit < n {
		n = limit
	}
	drained := make([]protocol.Event, n)
	copy(drained, queued[:n])

	if rest := queued[n:]; len(rest) > 0 {
		queues[peer] = append([]protocol.Event(nil), rest...)
	} else {
		delete(queues, peer)
	}
	q.metrics.RecordFlushed(string(kind), n)
	return drained
}

// Requeue restores drained events to the front of a peer's queue,
// keeping their original order ahead of anything queued since.
func (q *EventQueues) Requeue(kind QueueKind, peer rid.RID, events []protocol.Event) {
	if len(events) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	queues := q.byKind(kind)
	queues[peer] = append(append([]protocol.Event(nil), events...), queues[peer]...)
}

// Peers lists the peers with a non-empty queue of the given kind.
func (q *EventQueues) Peers(kind QueueKind) []rid.RID {
	q.mu.Lock()
	defer q.mu.Unlock()
	queues := q.byKind(kind)
	peers := make([]rid.RID, 0, len(queues))
	for peer := range queues {
		peers = append(peers, peer)
	}
	return peers
}

// Load restores queues from disk. A missing file is a clean start.
func (q *EventQueues) Load() error {
	data, err := os.ReadFile(q.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read event queues %s: %w", q.path, err)
	}
	var stored queuesFile
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("parse event queues %s: %w", q.path, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for peer, events := range stored.Webhook {
		q.webhook[peer] = append(q.webhook[peer], events...)
	}
	for peer, events := range stored.Poll {
		q.poll[peer] = append(q.poll[peer], events...)
	}
	q.log.Info("restored event queues", "webhook_peers", len(stored.Webhook), "poll_peers", len(stored.Poll))
	return nil
}

// Save persists all non-empty queues to disk. With nothing queued the
// file is removed instead.
func (q *EventQueues) Save() error {
	q.mu.Lock()
	stored := queuesFile{
		Webhook: make(map[rid.RID][]protocol.Event),
		Poll:    make(map[rid.RID][]protocol.Event),
	}
	for peer, events := range q.webhook {
		if len(events) > 0 {
			stored.Webhook[peer] = events
		}
	}
	for peer, events := range q.poll {
		if len(events) > 0 {
			stored.Poll[peer] = events
		}
	}
	q.mu.Unlock()

	if len(stored.Webhook) == 0 && len(stored.Poll) == 0 {
		if err := os.Remove(q.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove event queues %s: %w", q.path, err)
		}
		return nil
	}
	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return fmt.Errorf("encode event queues: %w", err)
	}
	if err := os.WriteFile(q.path, data, 0o644); err != nil {
		return fmt.Errorf("write event queues %s: %w", q.path, err)
	}
	return nil
}
