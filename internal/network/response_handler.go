package network

import (
	"github.com/koi-net/koinet/internal/cache"
	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

// ResponseHandler is the stateless server half of the state endpoints:
// read-only adapters over the cache. The pipeline stays the only
// writer.
type ResponseHandler struct {
	cache cache.Cache
}

func NewResponseHandler(c cache.Cache) *ResponseHandler {
	return &ResponseHandler{cache: c}
}

// FetchRids enumerates cached RIDs, optionally filtered by type.
func (h *ResponseHandler) FetchRids(req protocol.FetchRids) (protocol.RidsPayload, error) {
	rids, err := h.cache.List(req.RIDTypes...)
	if err != nil {
		return protocol.RidsPayload{}, err
	}
	return protocol.RidsPayload{Rids: rids}, nil
}

// FetchManifests returns manifests for the requested RIDs, listing the
// absent ones under not_found. With no explicit RIDs it enumerates by
// the type filter instead.
func (h *ResponseHandler) FetchManifests(req protocol.FetchManifests) (protocol.ManifestsPayload, error) {
	rids := req.Rids
	if len(rids) == 0 {
		var err error
		rids, err = h.cache.List(req.RIDTypes...)
		if err != nil {
			return protocol.ManifestsPayload{}, err
		}
	}

	payload := protocol.ManifestsPayload{Manifests: []rid.Manifest{}}
	for _, r := range rids {
		bundle, err := h.cache.Read(r)
		if err != nil {
			payload.NotFound = append(payload.NotFound, r)
			continue
		}
		payload.Manifests = append(payload.Manifests, bundle.Manifest)
	}
	return payload, nil
}

// FetchBundles returns full bundles; explicit RIDs are required.
func (h *ResponseHandler) FetchBundles(req protocol.FetchBundles) (protocol.BundlesPayload, error) {
	payload := protocol.BundlesPayload{Bundles: []rid.Bundle{}}
	for _, r := range req.Rids {
		bundle, err := h.cache.Read(r)
		if err != nil {
			payload.NotFound = append(payload.NotFound, r)
			continue
		}
		payload.Bundles = append(payload.Bundles, bundle)
	}
	return payload, nil
}
