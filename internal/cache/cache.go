// Package cache provides the durable content-addressed store mapping
// RIDs to bundles. The default backend is an embedded LevelDB database;
// an in-memory backend serves tests and embedded nodes, and a Redis
// backend serves deployments with a shared store.
package cache

import (
	"errors"

	"github.com/koi-net/koinet/internal/rid"
)

// ErrNotFound is returned by Read for RIDs absent from the cache.
var ErrNotFound = errors.New("cache: bundle not found")

// Cache is the store shared by all node components. Write is atomic
// with respect to concurrent Read/Write/Delete of the same key; List
// may lag recent writes but eventually includes them. Delete of an
// absent key is a no-op.
type Cache interface {
	// Read returns the bundle for r, or ErrNotFound.
	Read(r rid.RID) (rid.Bundle, error)

	// Write stores the bundle under its manifest RID.
	Write(b rid.Bundle) error

	// Delete removes the bundle for r, if present.
	Delete(r rid.RID) error

	// Exists reports whether r is present.
	Exists(r rid.RID) (bool, error)

	// List enumerates stored RIDs, optionally filtered by type.
	List(types ...rid.Type) ([]rid.RID, error)

	// Close releases backend resources.
	Close() error
}
