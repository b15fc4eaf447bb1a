package cache

import (
	"sync"

	"github.com/koi-net/koinet/internal/rid"
)

// Memory is an in-process cache backend for tests and embedded nodes.
type Memory struct {
	mu      sync.RWMutex
	bundles map[rid.RID]rid.Bundle
}

func NewMemory() *Memory {
	return &Memory{bundles: make(map[rid.RID]rid.Bundle)}
}

func (c *Memory) Read(r rid.RID) (rid.Bundle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bundle, ok := c.bundles[r]
	if !ok {
		return rid.Bundle{}, ErrNotFound
	}
	return bundle, nil
}

func (c *Memory) Write(b rid.Bundle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bundles[b.RID()] = b
	return nil
}

func (c *Memory) Delete(r rid.RID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bundles, r)
	return nil
}

func (c *Memory) Exists(r rid.RID) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.bundles[r]
	return ok, nil
}

func (c *Memory) List(types ...rid.Type) ([]rid.RID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var rids []rid.RID
	for r := range c.bundles {
		if len(types) == 0 || matchesType(r, types) {
			rids = append(rids, r)
		}
	}
	return rids, nil
}

func (c *Memory) Close() error {
	return nil
}

func matchesType(r rid.RID, types []rid.Type) bool {
	for _, t := range types {
		if r.Type() == t {
			return true
		}
	}
	return false
}
