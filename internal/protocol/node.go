package protocol

import "github.com/koi-net/koinet/internal/rid"

// NodeType distinguishes nodes that serve the protocol over HTTP (FULL)
// from nodes that only poll their neighbors (PARTIAL).
type NodeType string

const (
	NodeFull    NodeType = "FULL"
	NodePartial NodeType = "PARTIAL"
)

// NodeProvides declares which RID types a node broadcasts change events
// for (Event) and which it serves bundle/manifest fetches for (State).
// The built-in node and edge types are implicitly provided by every node
// for itself and its own edges regardless of declaration.
type NodeProvides struct {
	Event []rid.Type `json:"event"`
	State []rid.Type `json:"state"`
}

// ProvidesEvent reports whether t is in the declared event types.
func (p NodeProvides) ProvidesEvent(t rid.Type) bool {
	return containsType(p.Event, t)
}

// ProvidesState reports whether t is in the declared state types.
func (p NodeProvides) ProvidesState(t rid.Type) bool {
	return containsType(p.State, t)
}

func containsType(types []rid.Type, t rid.Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

// NodeProfile is the contents schema for a node RID.
type NodeProfile struct {
	BaseURL  string       `json:"base_url,omitempty"`
	NodeType NodeType     `json:"node_type"`
	Provides NodeProvides `json:"provides"`
}

// DecodeNodeProfile decodes bundle contents into a node profile.
func DecodeNodeProfile(contents map[string]any) (NodeProfile, error) {
	var profile NodeProfile
	if err := decodeContents(contents, &profile); err != nil {
		return NodeProfile{}, err
	}
	if profile.NodeType != NodeFull && profile.NodeType != NodePartial {
		return NodeProfile{}, errInvalidProfile("node_type", string(profile.NodeType))
	}
	return profile, nil
}

// Map returns the profile as generic bundle contents.
func (p NodeProfile) Map() map[string]any {
	return toMap(p)
}
