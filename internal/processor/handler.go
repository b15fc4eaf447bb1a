package processor

import (
	"context"

	"github.com/koi-net/koinet/internal/protocol"
	"github.com/koi-net/koinet/internal/rid"
)

// HandlerType names the five pipeline stages, run in this order.
type HandlerType string

const (
	HandlerRID      HandlerType = "rid"
	HandlerManifest HandlerType = "manifest"
	HandlerBundle   HandlerType = "bundle"
	HandlerNetwork  HandlerType = "network"
	HandlerFinal    HandlerType = "final"
)

// StopChain is the sentinel a handler returns to abort the pipeline for
// the current knowledge object.
var StopChain = &KnowledgeObject{}

// HandlerFunc processes one knowledge object. It receives a copy and
// returns nil (leave unchanged), a modified object (replace), or
// StopChain (abort). Errors drop the object with a warning. Handlers
// must not block except on cache and network I/O, and pass ctx on to
// any network call they make.
type HandlerFunc func(ctx context.Context, p *Processor, k *KnowledgeObject) (*KnowledgeObject, error)

// Handler is a filter-matched callable registered at one pipeline
// stage. Within a stage, handlers run in registration order; the output
// of one is the input of the next. Empty filter fields match anything.
type Handler struct {
	Name       string
	Type       HandlerType
	RIDTypes   []rid.Type
	Source     Source
	EventTypes []protocol.EventType
	Func       HandlerFunc
}

func (h Handler) matches(k *KnowledgeObject) bool {
	if len(h.RIDTypes) > 0 && !containsType(h.RIDTypes, k.RID.Type()) {
		return false
	}
	if h.Source != "" && h.Source != k.Source {
		return false
	}
	if len(h.EventTypes) > 0 && !containsEventType(h.EventTypes, k.EventType) {
		return false
	}
	return true
}

func containsType(types []rid.Type, t rid.Type) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsEventType(types []protocol.EventType, t protocol.EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
