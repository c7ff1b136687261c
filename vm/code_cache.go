package vm

import (
	"sync"
)

// ---------------------------------------------------------------------------
// CodeCache: registry of installed code with capacity-based eviction
// ---------------------------------------------------------------------------

// CodeCache holds installed code artifacts keyed by "Class>>method".
// When the cache exceeds its capacity the oldest artifact is evicted,
// which marks it dead without invalidating any assumption. Assumptions
// notice the death lazily, via liveness checks during compaction.
type CodeCache struct {
	mu       sync.Mutex
	capacity int
	codes    map[string]*InstalledCode
	order    []string // installation order, oldest first
}

// NewCodeCache creates a cache bounded to capacity artifacts.
func NewCodeCache(capacity int) *CodeCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &CodeCache{
		capacity: capacity,
		codes:    make(map[string]*InstalledCode),
	}
}

// Install adds code to the cache. A previous artifact under the same key
// is evicted first; if the cache is full the oldest artifact goes too.
func (cc *CodeCache) Install(code *InstalledCode) {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if old, ok := cc.codes[code.Key()]; ok {
		old.Evict()
		cc.removeKeyLocked(code.Key())
		cacheEvictions.Inc()
	}

	for len(cc.codes) >= cc.capacity && len(cc.order) > 0 {
		oldest := cc.order[0]
		cc.codes[oldest].Evict()
		cc.removeKeyLocked(oldest)
		cacheEvictions.Inc()
	}

	cc.codes[code.Key()] = code
	cc.order = append(cc.order, code.Key())
}

// Lookup returns the installed code for key, or nil. Dead code is dropped
// on the way out.
func (cc *CodeCache) Lookup(key string) *InstalledCode {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	code, ok := cc.codes[key]
	if !ok {
		return nil
	}
	if !code.IsAlive() {
		cc.removeKeyLocked(key)
		return nil
	}
	return code
}

// Evict removes and kills the code under key. Returns false if absent.
func (cc *CodeCache) Evict(key string) bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	code, ok := cc.codes[key]
	if !ok {
		return false
	}
	code.Evict()
	cc.removeKeyLocked(key)
	cacheEvictions.Inc()
	return true
}

// Sweep drops every dead artifact and returns the number removed.
func (cc *CodeCache) Sweep() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	swept := 0
	for key, code := range cc.codes {
		if !code.IsAlive() {
			cc.removeKeyLocked(key)
			swept++
		}
	}
	return swept
}

// Len returns the number of cached artifacts, dead or alive.
func (cc *CodeCache) Len() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return len(cc.codes)
}

// Keys returns the cached keys in installation order.
func (cc *CodeCache) Keys() []string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	keys := make([]string, len(cc.order))
	copy(keys, cc.order)
	return keys
}

// removeKeyLocked deletes key from both the map and the order slice.
// Caller holds cc.mu.
func (cc *CodeCache) removeKeyLocked(key string) {
	delete(cc.codes, key)
	for i, k := range cc.order {
		if k == key {
			cc.order = append(cc.order[:i], cc.order[i+1:]...)
			break
		}
	}
}
