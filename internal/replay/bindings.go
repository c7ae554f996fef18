package replay

import (
	"sync"

	"github.com/clockpipe/clockpipe/internal/cdc"
)

// Bindings is the shared table-binding cache, guarded by a RWMutex since
// the driver loop, the schema reconciler's add-column path, and the
// metrics/status surfaces all read or mutate it concurrently.
type Bindings struct {
	mu           sync.RWMutex
	byRelationID map[uint32]*cdc.TableBinding
	byName       map[string]*cdc.TableBinding
}

// NewBindings creates an empty Bindings cache.
func NewBindings() *Bindings {
	return &Bindings{
		byRelationID: make(map[uint32]*cdc.TableBinding),
		byName:       make(map[string]*cdc.TableBinding),
	}
}

// Put inserts or replaces a binding, indexed by destination table name and,
// for Postgres, by source relation id.
func (b *Bindings) Put(binding *cdc.TableBinding) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byName[binding.DestTable] = binding
	if binding.RelationID != 0 {
		b.byRelationID[binding.RelationID] = binding
	}
}

// ByRelationID looks up a binding by its Postgres relation id.
func (b *Bindings) ByRelationID(id uint32) (*cdc.TableBinding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	binding, ok := b.byRelationID[id]
	return binding, ok
}

// ByName looks up a binding by destination table name (used for writes on
// both sources).
func (b *Bindings) ByName(name string) (*cdc.TableBinding, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	binding, ok := b.byName[name]
	return binding, ok
}

// All returns every cached binding, in no particular order.
func (b *Bindings) All() []*cdc.TableBinding {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*cdc.TableBinding, 0, len(b.byName))
	for _, v := range b.byName {
		out = append(out, v)
	}
	return out
}
