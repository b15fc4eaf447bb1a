package network

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

func event(name string) protocol.Event {
	return protocol.NewEventFromRID(protocol.EventForget, rid.New(rid.NodeType, name))
}

func TestDrainFIFO(t *testing.T) {
	q := NewEventQueues(filepath.Join(t.TempDir(), "queues.json"), nil)
	peer := rid.NewNode("p")

	q.Push(QueueWebhook, peer, event("a"))
	q.Push(QueueWebhook, peer, event("b"))
	q.Push(QueueWebhook, peer, event("c"))

	drained := q.Drain(QueueWebhook, peer, 0)
	require.Len(t, drained, 3)
	assert.Equal(t, event("a"), drained[0])
	assert.Equal(t, event("c"), drained[2])

	assert.Empty(t, q.Drain(QueueWebhook, peer, 0))
	assert.Empty(t, q.Peers(QueueWebhook))
}

func TestDrainLimit(t *testing.T) {
	q := NewEventQueues(filepath.Join(t.TempDir(), "queues.json"), nil)
	peer := rid.NewNode("p")

	for _, name := range []string{"a", "b", "c"} {
		q.Push(QueuePoll, peer, event(name))
	}

	first := q.Drain(QueuePoll, peer, 2)
	assert.Equal(t, []protocol.Event{event("a"), event("b")}, first)

	rest := q.Drain(QueuePoll, peer, 2)
	assert.Equal(t, []protocol.Event{event("c")}, rest)
}

func TestQueuesAreIndependent(t *testing.T) {
	q := NewEventQueues(filepath.Join(t.TempDir(), "queues.json"), nil)
	peer := rid.NewNode("p")

	q.Push(QueueWebhook, peer, event("a"))
	q.Push(QueuePoll, peer, event("b"))

	assert.Len(t, q.Drain(QueueWebhook, peer, 0), 1)
	assert.Len(t, q.Drain(QueuePoll, peer, 0), 1)
}

func TestRequeuePreservesOrder(t *testing.T) {
	q := NewEventQueues(filepath.Join(t.TempDir(), "queues.json"), nil)
	peer := rid.NewNode("p")

	q.Push(QueueWebhook, peer, event("a"))
	q.Push(QueueWebhook, peer, event("b"))

	drained := q.Drain(QueueWebhook, peer, 0)
	q.Push(QueueWebhook, peer, event("c")) // arrives during the failed flush
	q.Requeue(QueueWebhook, peer, drained)

	got := q.Drain(QueueWebhook, peer, 0)
	assert.Equal(t, []protocol.Event{event("a"), event("b"), event("c")}, got)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queues.json")
	peerA := rid.NewNode("a")
	peerB := rid.NewNode("b")

	q := NewEventQueues(path, nil)
	q.Push(QueueWebhook, peerA, event("x"))
	q.Push(QueuePoll, peerB, event("y"))
	q.Push(QueuePoll, peerB, event("z"))
	require.NoError(t, q.Save())

	restored := NewEventQueues(path, nil)
	require.NoError(t, restored.Load())

	assert.Equal(t, []protocol.Event{event("x")}, restored.Drain(QueueWebhook, peerA, 0))
	assert.Equal(t, []protocol.Event{event("y"), event("z")}, restored.Drain(QueuePoll, peerB, 0))
}

func TestSaveEmptyRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queues.json")

	q := NewEventQueues(path, nil)
	peer := rid.NewNode("p")
	q.Push(QueueWebhook, peer, event("a"))
	require.NoError(t, q.Save())
	_, err := os.Stat(path)
	require.NoError(t, err)

	q.Drain(QueueWebhook, peer, 0)
	require.NoError(t, q.Save())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadMissingFileIsCleanStart(t *testing.T) {
	q := NewEventQueues(filepath.Join(t.TempDir(), "absent.json"), nil)
	require.NoError(t, q.Load())
	assert.Empty(t, q.Peers(QueueWebhook))
}
