// Package network combines the graph view, the per-peer event queues,
// and the wire protocol client/server halves into the node's network
// interface.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/koi-net/koinet/internal/cache"
	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

var (
	// ErrPeerUnreachable wraps transport-level failures talking to a peer.
	ErrPeerUnreachable = errors.New("peer unreachable")

	// ErrInvalidTarget is returned before any I/O when the target cannot
	// be queried, e.g. a PARTIAL node or a node with no known URL.
	ErrInvalidTarget = errors.New("invalid request target")
)

// RequestHandler is the typed client half of the wire protocol. Every
// call resolves the target base URL either from an explicit URL (the
// first-contact case) or from the cached profile of a node RID, then
// POSTs a single JSON request. Each call is one non-retried attempt.
type RequestHandler struct {
	cache  cache.Cache
	client *http.Client
	log    *slog.Logger
}

func NewRequestHandler(c cache.Cache) *RequestHandler {
	return &RequestHandler{
		cache:  c,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    slog.With("component", "request_handler"),
	}
}

// resolveURL picks the base URL for a call. Node takes precedence over
// url; querying a PARTIAL node fails before any I/O.
func (h *RequestHandler) resolveURL(node rid.RID, url string) (string, error) {
	if node.IsZero() {
		if url == "" {
			return "", fmt.Errorf("%w: no node RID or URL given", ErrInvalidTarget)
		}
		return url, nil
	}
	bundle, err := h.cache.Read(node)
	if err != nil {
		return "", fmt.Errorf("%w: unknown node %s", ErrInvalidTarget, node)
	}
	profile, err := protocol.DecodeNodeProfile(bundle.Contents)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidTarget, node, err)
	}
	if profile.NodeType != protocol.NodeFull {
		return "", fmt.Errorf("%w: %s is a partial node", ErrInvalidTarget, node)
	}
	if profile.BaseURL == "" {
		return "", fmt.Errorf("%w: %s has no base URL", ErrInvalidTarget, node)
	}
	return profile.BaseURL, nil
}

func (h *RequestHandler) post(ctx context.Context, baseURL, path string, request, response any) error {
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	h.log.Debug("making request", "url", baseURL+path)
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPeerUnreachable, baseURL+path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Anything but 200 is a transport failure per the protocol.
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %s returned %d", ErrPeerUnreachable, baseURL+path, resp.StatusCode)
	}
	if response == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(response); err != nil {
		return fmt.Errorf("decode response from %s: %w", baseURL+path, err)
	}
	return nil
}

// BroadcastEvents is fire-and-forget: the peer enqueues and returns.
func (h *RequestHandler) BroadcastEvents(ctx context.Context, node rid.RID, url string, payload protocol.EventsPayload) error {
	base, err := h.resolveURL(node, url)
	if err != nil {
		return err
	}
	return h.post(ctx, base, protocol.BroadcastEventsPath, payload, nil)
}

// PollEvents drains events the peer has queued for the calling RID.
func (h *RequestHandler) PollEvents(ctx context.Context, node rid.RID, url string, req protocol.PollEvents) (protocol.EventsPayload, error) {
	var payload protocol.EventsPayload
	base, err := h.resolveURL(node, url)
	if err != nil {
		return payload, err
	}
	err = h.post(ctx, base, protocol.PollEventsPath, req, &payload)
	return payload, err
}

// FetchRids enumerates the peer's known RIDs.
func (h *RequestHandler) FetchRids(ctx context.Context, node rid.RID, url string, req protocol.FetchRids) (protocol.RidsPayload, error) {
	var payload protocol.RidsPayload
	base, err := h.resolveURL(node, url)
	if err != nil {
		return payload, err
	}
	err = h.post(ctx, base, protocol.FetchRidsPath, req, &payload)
	return payload, err
}

// FetchManifests fetches manifests by explicit RIDs or type filter.
func (h *RequestHandler) FetchManifests(ctx context.Context, node rid.RID, url string, req protocol.FetchManifests) (protocol.ManifestsPayload, error) {
	var payload protocol.ManifestsPayload
	base, err := h.resolveURL(node, url)
	if err != nil {
		return payload, err
	}
	err = h.post(ctx, base, protocol.FetchManifestsPath, req, &payload)
	return payload, err
}

// FetchBundles fetches full bundles by explicit RIDs.
func (h *RequestHandler) FetchBundles(ctx context.Context, node rid.RID, url string, req protocol.FetchBundles) (protocol.BundlesPayload, error) {
	var payload protocol.BundlesPayload
	base, err := h.resolveURL(node, url)
	if err != nil {
		return payload, err
	}
	err = h.post(ctx, base, protocol.FetchBundlesPath, req, &payload)
	return payload, err
}
