// Package identity manages this node's RID and profile, persisted
// across restarts in a small JSON file.
package identity

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/koi-net/koinet/internal/cache"
	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

// Identity is this node's persistent network identity.
type Identity struct {
	RID     rid.RID
	Profile protocol.NodeProfile

	cache cache.Cache
	log   *slog.Logger
}

type identityFile struct {
	RID     rid.RID              `json:"rid"`
	Profile protocol.NodeProfile `json:"profile"`
}

// Load reads the identity file at path, or mints a new node RID from
// nodeName and writes the file if absent. If the configured name no
// longer matches the stored RID the stored RID wins: changing a node's
// RID is a network-visible act and must be done explicitly by deleting
// the file.
func Load(path, nodeName string, profile protocol.NodeProfile, c cache.Cache) (*Identity, error) {
	log := slog.With("component", "identity")

	id := &Identity{Profile: profile, cache: c, log: log}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		id.RID = rid.NewNode(nodeName)
		if err := writeIdentityFile(path, id); err != nil {
			return nil, err
		}
		log.Info("minted new node identity", "rid", id.RID.String())
	case err != nil:
		return nil, fmt.Errorf("read identity file %s: %w", path, err)
	default:
		var stored identityFile
		if err := json.Unmarshal(data, &stored); err != nil {
			return nil, fmt.Errorf("parse identity file %s: %w", path, err)
		}
		id.RID = stored.RID
		if name := rid.NodeName(stored.RID); name != nodeName {
			log.Warn("configured node name does not match stored identity; keeping stored RID. "+
				"Delete the identity file to mint a new one.",
				"configured", nodeName, "stored", name, "rid", stored.RID.String())
		}
		// Profile comes from config; it may legitimately change between
		// runs (new provides, new URL). Persist the current view.
		if err := writeIdentityFile(path, id); err != nil {
			return nil, err
		}
	}
	return id, nil
}

func writeIdentityFile(path string, id *Identity) error {
	data, err := json.MarshalIndent(identityFile{RID: id.RID, Profile: id.Profile}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode identity: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write identity file %s: %w", path, err)
	}
	return nil
}

// Bundle returns this node's self-bundle from the cache.
func (id *Identity) Bundle() (rid.Bundle, error) {
	return id.cache.Read(id.RID)
}

// NewBundle builds a fresh self-bundle from the current profile.
func (id *Identity) NewBundle() (rid.Bundle, error) {
	return rid.Generate(id.RID, id.Profile.Map())
}

// ImplicitProvides is what the node provides for the network's own
// topology types regardless of its declared profile: every node emits
// events about itself and its edges, and FULL nodes also serve their
// state.
func (id *Identity) ImplicitProvides() protocol.NodeProvides {
	topology := []rid.Type{rid.NodeType, rid.EdgeType}
	provides := protocol.NodeProvides{Event: topology}
	if id.Profile.NodeType == protocol.NodeFull {
		provides.State = topology
	}
	return provides
}
