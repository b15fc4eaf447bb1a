// Package processor implements the knowledge processing pipeline: a
// handler-chain engine that normalizes inbound and outbound knowledge,
// writes it to the cache, and fans the resulting events out to peers.
package processor

import (
	"fmt"

	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

// Source records where a knowledge object entered the pipeline.
type Source string

const (
	SourceInternal Source = "INTERNAL"
	SourceExternal Source = "EXTERNAL"
)

// KnowledgeObject is the in-flight envelope carried through the
// pipeline. It is created at pipeline entry, copied per handler, and
// discarded after the final chain. NormalizedEventType is set by the
// pipeline's default handlers and drives the cache action.
type KnowledgeObject struct {
	RID                 rid.RID
	Manifest            *rid.Manifest
	Contents            map[string]any
	EventType           protocol.EventType // "" when entered without an event
	NormalizedEventType protocol.EventType
	Source              Source
	NetworkTargets      map[rid.RID]struct{}
}

// FromRID wraps a bare RID.
func FromRID(r rid.RID, eventType protocol.EventType, source Source) *KnowledgeObject {
	return &KnowledgeObject{
		RID:            r,
		EventType:      eventType,
		Source:         source,
		NetworkTargets: make(map[rid.RID]struct{}),
	}
}

// FromManifest wraps a manifest without contents.
func FromManifest(m rid.Manifest, eventType protocol.EventType, source Source) *KnowledgeObject {
	k := FromRID(m.RID, eventType, source)
	manifest := m
	k.Manifest = &manifest
	return k
}

// FromBundle wraps a full bundle.
func FromBundle(b rid.Bundle, eventType protocol.EventType, source Source) *KnowledgeObject {
	k := FromManifest(b.Manifest, eventType, source)
	k.Contents = b.Contents
	return k
}

// FromEvent wraps an incoming change event.
func FromEvent(e protocol.Event, source Source) *KnowledgeObject {
	k := FromRID(e.RID, e.EventType, source)
	if e.Manifest != nil {
		manifest := *e.Manifest
		k.Manifest = &manifest
	}
	k.Contents = e.Contents
	return k
}

// Copy returns a shallow copy handed to each handler, so a handler that
// mutates and then declines (returns nil) leaves the pipeline's object
// untouched. The targets set is copied; manifest and contents are
// shared until replaced.
func (k *KnowledgeObject) Copy() *KnowledgeObject {
	dup := *k
	dup.NetworkTargets = make(map[rid.RID]struct{}, len(k.NetworkTargets))
	for target := range k.NetworkTargets {
		dup.NetworkTargets[target] = struct{}{}
	}
	if k.Manifest != nil {
		manifest := *k.Manifest
		dup.Manifest = &manifest
	}
	return &dup
}

// AddTarget marks a peer for fanout after the network chain.
func (k *KnowledgeObject) AddTarget(peer rid.RID) {
	k.NetworkTargets[peer] = struct{}{}
}

// Bundle returns the attached bundle if both manifest and contents are
// present.
func (k *KnowledgeObject) Bundle() (rid.Bundle, bool) {
	if k.Manifest == nil || k.Contents == nil {
		return rid.Bundle{}, false
	}
	return rid.Bundle{Manifest: *k.Manifest, Contents: k.Contents}, true
}

// NormalizedEvent converts the object into the event broadcast to
// peers. It is an error to call before normalization.
func (k *KnowledgeObject) NormalizedEvent() (protocol.Event, error) {
	if k.NormalizedEventType == "" {
		return protocol.Event{}, fmt.Errorf("knowledge object %s has no normalized event type", k.RID)
	}
	// FORGET carries only the RID on the wire.
	if k.NormalizedEventType == protocol.EventForget {
		return protocol.NewEventFromRID(protocol.EventForget, k.RID), nil
	}
	event := protocol.Event{
		RID:       k.RID,
		EventType: k.NormalizedEventType,
		Contents:  k.Contents,
	}
	if k.Manifest != nil {
		manifest := *k.Manifest
		event.Manifest = &manifest
	}
	return event, nil
}

func (k *KnowledgeObject) String() string {
	return fmt.Sprintf("<KObj %s event=%s source=%s>", k.RID, k.EventType, k.Source)
}
