package inference

import (
	"github.com/alecthomas/scopegraph/internal/binding"
	"github.com/alecthomas/scopegraph/internal/scope"
)

// Origin records how a [Resolution] was arrived at.
type Origin int

const (
	// Explicit scopes are declared directly on the binding.
	Explicit Origin = iota
	// Structural scopes are derived from the container a binding belongs to.
	Structural
	// Inferred scopes are computed from the scopes of a binding's dependencies.
	Inferred
	// Cached scopes were carried over from a previous pass.
	Cached
)

func (o Origin) String() string {
	switch o {
	case Explicit:
		return "explicit"
	case Structural:
		return "structural"
	case Inferred:
		return "inferred"
	case Cached:
		return "cached"
	default:
		return "unknown"
	}
}

// Resolution is the scope assigned to a key.
type Resolution struct {
	Scope  scope.Scope
	Origin Origin
	// Trail is the sequence of dependency keys that narrowed an inferred scope, in the order they were applied.
	Trail []binding.Key
}

// Assignment maps required keys to their resolved scope.
//
// Entries are never overwritten: the first resolution recorded for a key wins.
type Assignment struct {
	resolutions map[binding.Key]Resolution
}

func newAssignment() *Assignment {
	return &Assignment{resolutions: map[binding.Key]Resolution{}}
}

func (a *Assignment) set(key binding.Key, resolution Resolution) {
	if _, ok := a.resolutions[key]; ok {
		return
	}
	a.resolutions[key] = resolution
}

// Get the resolution for key.
func (a *Assignment) Get(key binding.Key) (Resolution, bool) {
	r, ok := a.resolutions[key]
	return r, ok
}

// Scope returns the resolved scope of key.
func (a *Assignment) Scope(key binding.Key) (scope.Scope, bool) {
	r, ok := a.resolutions[key]
	return r.Scope, ok
}

// Keys returns every resolved key in [binding.Compare] order.
func (a *Assignment) Keys() []binding.Key { return binding.SortedKeys(a.resolutions) }

func (a *Assignment) Len() int { return len(a.resolutions) }

// Scopes returns a copy of the assignment as a plain map from key to scope.
func (a *Assignment) Scopes() map[binding.Key]scope.Scope {
	out := make(map[binding.Key]scope.Scope, len(a.resolutions))
	for key, r := range a.resolutions {
		out[key] = r.Scope
	}
	return out
}

// Cache carries resolutions across resolution passes.
//
// Each entry is stored with a fingerprint of the declarations, dependency scopes and scope tree it was computed from,
// and is only used by a later pass that computes the same fingerprint. Resolutions whose dependencies were not all
// declared, or that produced diagnostics, are never stored.
type Cache struct {
	entries map[binding.Key]cacheEntry
}

type cacheEntry struct {
	fingerprint string
	resolution  Resolution
}

func NewCache() *Cache {
	return &Cache{entries: map[binding.Key]cacheEntry{}}
}

// Get the resolution cached for key, if it was cached with the same fingerprint.
func (c *Cache) Get(key binding.Key, fingerprint string) (Resolution, bool) {
	entry, ok := c.entries[key]
	if !ok || entry.fingerprint != fingerprint {
		return Resolution{}, false
	}
	return entry.resolution, true
}

// Put a resolution into the cache, replacing any previous entry for key.
func (c *Cache) Put(key binding.Key, fingerprint string, resolution Resolution) {
	c.entries[key] = cacheEntry{fingerprint: fingerprint, resolution: resolution}
}

// Forget removes keys from the cache.
func (c *Cache) Forget(keys ...binding.Key) {
	for _, key := range keys {
		delete(c.entries, key)
	}
}

func (c *Cache) Len() int { return len(c.entries) }

// Snapshot returns a copy of the cached resolutions.
func (c *Cache) Snapshot() map[binding.Key]Resolution {
	out := make(map[binding.Key]Resolution, len(c.entries))
	for key, entry := range c.entries {
		out[key] = entry.resolution
	}
	return out
}
