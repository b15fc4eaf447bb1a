package protocol

import "github.com/koi-net/koinet/internal/rid"

// Protocol endpoint paths, mounted under the server's API prefix
// (conventionally /koi-net).
const (
	DefaultAPIPath = "/koi-net"

	BroadcastEventsPath = "/events/broadcast"
	PollEventsPath      = "/events/poll"
	FetchRidsPath       = "/rids/fetch"
	FetchManifestsPath  = "/manifests/fetch"
	FetchBundlesPath    = "/bundles/fetch"
)

// Request models.

// PollEvents drains events queued for the calling node. Limit <= 0
// means unlimited.
type PollEvents struct {
	RID   rid.RID `json:"rid"`
	Limit int     `json:"limit,omitempty"`
}

// FetchRids enumerates known RIDs, optionally filtered by type.
type FetchRids struct {
	RIDTypes []rid.Type `json:"rid_types,omitempty"`
}

// FetchManifests returns manifests for explicit RIDs, or enumerates by
// type filter when Rids is empty.
type FetchManifests struct {
	RIDTypes []rid.Type `json:"rid_types,omitempty"`
	Rids     []rid.RID  `json:"rids,omitempty"`
}

// FetchBundles returns full bundles; explicit RIDs are required.
type FetchBundles struct {
	Rids []rid.RID `json:"rids"`
}

// Response payload models.

type RidsPayload struct {
	Rids []rid.RID `json:"rids"`
}

type ManifestsPayload struct {
	Manifests []rid.Manifest `json:"manifests"`
	NotFound  []rid.RID      `json:"not_found,omitempty"`
}

type BundlesPayload struct {
	Bundles  []rid.Bundle `json:"bundles"`
	NotFound []rid.RID    `json:"not_found,omitempty"`
	Deferred []rid.RID    `json:"deferred,omitempty"`
}

type EventsPayload struct {
	Events []Event `json:"events"`
}
