package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koi-net/koinet/internal/cache"
	"github.com/koi-net/koinet/internal/config"
	"github.com/koi-net/koinet/internal/identity"
	"github.com/koi-net/koinet/internal/network"
	"github.com/koi-net/koinet/internal/processor"
	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

type serverFixture struct {
	cache cache.Cache
	id    *identity.Identity
	net   *network.Interface
	proc  *processor.Processor
	http  *httptest.Server
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	c := cache.NewMemory()
	profile := protocol.NodeProfile{
		BaseURL:  "http://127.0.0.1:8000/koi-net",
		NodeType: protocol.NodeFull,
		Provides: protocol.NodeProvides{
			Event: []rid.Type{rid.NodeType, rid.EdgeType},
			State: []rid.Type{rid.NodeType, rid.EdgeType},
		},
	}
	id, err := identity.Load(filepath.Join(t.TempDir(), "identity.json"), "server", profile, c)
	require.NoError(t, err)
	net := network.NewInterface(c, id, filepath.Join(t.TempDir(), "queues.json"), "", nil)
	proc := processor.New(c, net, id, nil)

	srv := New(
		config.ServerConfig{Host: "127.0.0.1", Port: 0, Path: protocol.DefaultAPIPath},
		proc,
		network.NewResponseHandler(c),
		prometheus.NewRegistry(),
	)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &serverFixture{cache: c, id: id, net: net, proc: proc, http: ts}
}

func (f *serverFixture) post(t *testing.T, path string, req, resp any) *http.Response {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	r, err := http.Post(f.http.URL+protocol.DefaultAPIPath+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { r.Body.Close() })
	if resp != nil {
		require.NoError(t, json.NewDecoder(r.Body).Decode(resp))
	}
	return r
}

func TestBroadcastEventsEnqueues(t *testing.T) {
	f := newServerFixture(t)

	bundle, err := rid.Generate(rid.NewNode("peer"), protocol.NodeProfile{
		NodeType: protocol.NodePartial,
	}.Map())
	require.NoError(t, err)

	payload := protocol.EventsPayload{Events: []protocol.Event{
		protocol.NewEventFromBundle(protocol.EventNew, bundle),
	}}
	resp := f.post(t, protocol.BroadcastEventsPath, payload, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The endpoint only enqueues; the bundle lands after processing.
	_, err = f.cache.Read(bundle.RID())
	assert.ErrorIs(t, err, cache.ErrNotFound)

	f.proc.FlushQueue(context.Background())
	_, err = f.cache.Read(bundle.RID())
	assert.NoError(t, err)
}

func TestPollEventsHonorsLimit(t *testing.T) {
	f := newServerFixture(t)
	poller := rid.NewNode("poller")

	for _, name := range []string{"a", "b", "c"} {
		f.net.Queues.Push(network.QueuePoll, poller,
			protocol.NewEventFromRID(protocol.EventForget, rid.New(rid.NodeType, name)))
	}

	var first protocol.EventsPayload
	f.post(t, protocol.PollEventsPath, protocol.PollEvents{RID: poller, Limit: 2}, &first)
	assert.Len(t, first.Events, 2)

	var rest protocol.EventsPayload
	f.post(t, protocol.PollEventsPath, protocol.PollEvents{RID: poller}, &rest)
	assert.Len(t, rest.Events, 1)

	var empty protocol.EventsPayload
	f.post(t, protocol.PollEventsPath, protocol.PollEvents{RID: poller}, &empty)
	assert.Empty(t, empty.Events)
}

func TestPollEventsUnknownPollerIsEmpty(t *testing.T) {
	f := newServerFixture(t)

	var payload protocol.EventsPayload
	resp := f.post(t, protocol.PollEventsPath, protocol.PollEvents{RID: rid.NewNode("x")}, &payload)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, payload.Events)
}

func TestFetchEndpoints(t *testing.T) {
	f := newServerFixture(t)

	bundle, err := rid.Generate(rid.NewNode("a"), protocol.NodeProfile{
		NodeType: protocol.NodeFull, BaseURL: "http://a.invalid",
	}.Map())
	require.NoError(t, err)
	require.NoError(t, f.cache.Write(bundle))

	var rids protocol.RidsPayload
	f.post(t, protocol.FetchRidsPath, protocol.FetchRids{RIDTypes: []rid.Type{rid.NodeType}}, &rids)
	assert.Equal(t, []rid.RID{bundle.RID()}, rids.Rids)

	var manifests protocol.ManifestsPayload
	f.post(t, protocol.FetchManifestsPath, protocol.FetchManifests{Rids: []rid.RID{bundle.RID()}}, &manifests)
	require.Len(t, manifests.Manifests, 1)
	assert.Equal(t, bundle.Manifest.ContentDigest, manifests.Manifests[0].ContentDigest)

	ghost := rid.NewNode("ghost")
	var bundles protocol.BundlesPayload
	f.post(t, protocol.FetchBundlesPath, protocol.FetchBundles{Rids: []rid.RID{bundle.RID(), ghost}}, &bundles)
	require.Len(t, bundles.Bundles, 1)
	assert.Equal(t, bundle.Manifest.ContentDigest, bundles.Bundles[0].Manifest.ContentDigest)
	assert.Equal(t, []rid.RID{ghost}, bundles.NotFound)
}

func TestMalformedRequestIsBadRequest(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Post(
		f.http.URL+protocol.DefaultAPIPath+protocol.PollEventsPath,
		"application/json",
		bytes.NewReader([]byte("{not json")),
	)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServerFixture(t)

	resp, err := http.Get(f.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
