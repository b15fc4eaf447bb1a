package protocol

import (
	"fmt"

	"github.com/koi-net/koinet/internal/rid"
)

// EdgeStatus tracks the negotiation state of an edge.
type EdgeStatus string

const (
	EdgeProposed EdgeStatus = "PROPOSED"
	EdgeApproved EdgeStatus = "APPROVED"
)

// EdgeType selects the delivery mode for events carried on an edge.
type EdgeType string

const (
	EdgeWebhook EdgeType = "WEBHOOK"
	EdgePoll    EdgeType = "POLL"
)

// EdgeProfile is the contents schema for an edge RID. Events flow from
// Source (the provider) to Target (the subscriber); RIDTypes is the set
// of RID types carried on the edge.
type EdgeProfile struct {
	Source   rid.RID    `json:"source"`
	Target   rid.RID    `json:"target"`
	EdgeType EdgeType   `json:"edge_type"`
	Status   EdgeStatus `json:"status"`
	RIDTypes []rid.Type `json:"rid_types"`
}

// Carries reports whether the edge carries the given RID type.
func (p EdgeProfile) Carries(t rid.Type) bool {
	return containsType(p.RIDTypes, t)
}

// Other returns the endpoint opposite to me, or a zero RID if me is not
// an endpoint of the edge.
func (p EdgeProfile) Other(me rid.RID) rid.RID {
	switch me {
	case p.Source:
		return p.Target
	case p.Target:
		return p.Source
	}
	return rid.RID{}
}

// Validate checks the structural edge invariants.
func (p EdgeProfile) Validate() error {
	if p.Source == p.Target {
		return fmt.Errorf("edge %s -> %s: source and target must differ", p.Source, p.Target)
	}
	if p.EdgeType != EdgeWebhook && p.EdgeType != EdgePoll {
		return errInvalidProfile("edge_type", string(p.EdgeType))
	}
	if p.Status != EdgeProposed && p.Status != EdgeApproved {
		return errInvalidProfile("status", string(p.Status))
	}
	return nil
}

// DecodeEdgeProfile decodes bundle contents into an edge profile.
func DecodeEdgeProfile(contents map[string]any) (EdgeProfile, error) {
	var profile EdgeProfile
	if err := decodeContents(contents, &profile); err != nil {
		return EdgeProfile{}, err
	}
	if err := profile.Validate(); err != nil {
		return EdgeProfile{}, err
	}
	return profile, nil
}

// Map returns the profile as generic bundle contents.
func (p EdgeProfile) Map() map[string]any {
	return toMap(p)
}

// GenerateEdgeBundle builds a PROPOSED edge bundle between two nodes.
// The edge RID is deterministic in (source, target), so proposing the
// same pair twice yields the same identity.
func GenerateEdgeBundle(source, target rid.RID, edgeType EdgeType, ridTypes []rid.Type) (rid.Bundle, error) {
	profile := EdgeProfile{
		Source:   source,
		Target:   target,
		EdgeType: edgeType,
		Status:   EdgeProposed,
		RIDTypes: ridTypes,
	}
	if err := profile.Validate(); err != nil {
		return rid.Bundle{}, err
	}
	return rid.Generate(rid.NewEdge(source, target), profile.Map())
}
