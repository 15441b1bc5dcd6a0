package entity

import (
	"github.com/plexus-engine/plexus/internal/cache"
	"github.com/plexus-engine/plexus/internal/model"
)

// Cache adapts cache.Cache[Base] to model.EntityCache. The underlying weak
// slot tracks liveness of the shared *Base every concrete model type embeds
// (spec.md P4: one runtime object per entity id), but Get hands back
// b.self, the concrete wrapper constructed alongside that Base, so callers
// see the entity's real Go type rather than the bare *Base.
type Cache struct {
	inner *cache.Cache[Base]
}

// NewCache constructs an empty entity cache; a document owns exactly one.
func NewCache() *Cache {
	return &Cache{inner: cache.New[Base]()}
}

func (c *Cache) Get(id string) (model.Entity, bool) {
	b, ok := c.inner.Get(id)
	if !ok {
		return nil, false
	}
	b.mu.Lock()
	self := b.self
	b.mu.Unlock()
	return self, true
}

func (c *Cache) Put(id string, e model.Entity) {
	b, err := baseOf(e)
	if err != nil {
		return
	}
	c.inner.Put(id, b)
}

// Delete removes id outright; used when an orchestrator discards a document
// entirely, not by ordinary entity orphaning (spec.md: "the core does not
// garbage-collect orphaned entities").
func (c *Cache) Delete(id string) { c.inner.Delete(id) }

func (c *Cache) Len() int { return c.inner.Len() }
