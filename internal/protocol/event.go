// Package protocol defines the KOI-net wire models: change events, node
// and edge profiles, and the request/payload types of the five protocol
// endpoints.
package protocol

import (
	"fmt"

	"github.com/koi-net/koinet/internal/rid"
)

// EventType classifies a change notification.
type EventType string

const (
	EventNew    EventType = "NEW"
	EventUpdate EventType = "UPDATE"
	EventForget EventType = "FORGET"
)

// Event is a change notification for a single RID. FORGET events carry
// only the RID; NEW/UPDATE events carry at least the manifest and may
// carry contents inline.
type Event struct {
	RID       rid.RID        `json:"rid"`
	EventType EventType      `json:"event_type"`
	Manifest  *rid.Manifest  `json:"manifest,omitempty"`
	Contents  map[string]any `json:"contents,omitempty"`
}

// NewEventFromRID builds a bare event, as used for FORGET.
func NewEventFromRID(t EventType, r rid.RID) Event {
	return Event{RID: r, EventType: t}
}

// NewEventFromManifest builds a manifest-only event.
func NewEventFromManifest(t EventType, m rid.Manifest) Event {
	manifest := m
	return Event{RID: m.RID, EventType: t, Manifest: &manifest}
}

// NewEventFromBundle builds an event carrying the full bundle inline.
func NewEventFromBundle(t EventType, b rid.Bundle) Event {
	manifest := b.Manifest
	return Event{
		RID:       b.RID(),
		EventType: t,
		Manifest:  &manifest,
		Contents:  b.Contents,
	}
}

// Bundle returns the event's bundle if both manifest and contents are
// attached.
func (e Event) Bundle() (rid.Bundle, bool) {
	if e.Manifest == nil || e.Contents == nil {
		return rid.Bundle{}, false
	}
	return rid.Bundle{Manifest: *e.Manifest, Contents: e.Contents}, true
}

func (e Event) String() string {
	return fmt.Sprintf("<%s %s>", e.EventType, e.RID)
}
