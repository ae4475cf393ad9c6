package cache

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity bounds the number of modules a ModuleCache keeps before
// evicting the least recently used.
const DefaultCapacity = 1024

// Module is a served artifact kept by ModuleCache.
type Module struct {
	Entry
	Content  []byte
	Hash     uint64
	LoadedAt time.Time
}

// ETag is a strong validator derived from the content hash.
func (m Module) ETag() string {
	return fmt.Sprintf("%q", fmt.Sprintf("%016x", m.Hash))
}

// ModuleCache is a bounded in-memory artifact cache keyed by URL. It is the
// cache the bundled dev server invalidates.
type ModuleCache struct {
	modules *lru.Cache[string, Module]
	purged  atomic.Int64
	evicted atomic.Int64
}

func NewModuleCache() *ModuleCache {
	return NewModuleCacheSize(DefaultCapacity)
}

// NewModuleCacheSize creates a cache holding at most capacity modules.
// Non-positive capacities fall back to DefaultCapacity.
func NewModuleCacheSize(capacity int) *ModuleCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	modules, err := lru.New[string, Module](capacity)
	if err != nil {
		panic(err)
	}
	return &ModuleCache{modules: modules}
}

func (c *ModuleCache) Get(url string) (Module, bool) {
	return c.modules.Get(url)
}

// Put stores module, stamping its load time and content hash, and returns
// the stored value.
func (c *ModuleCache) Put(module Module) Module {
	if module.LoadedAt.IsZero() {
		module.LoadedAt = time.Now().UTC()
	}
	module.Hash = xxhash.Sum64(module.Content)
	if evicted := c.modules.Add(module.URL, module); evicted {
		c.evicted.Add(1)
	}
	return module
}

// Entries returns a snapshot ordered by URL.
func (c *ModuleCache) Entries() []Entry {
	modules := c.modules.Values()
	entries := make([]Entry, 0, len(modules))
	for _, module := range modules {
		entries = append(entries, module.Entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].URL < entries[j].URL
	})
	return entries
}

func (c *ModuleCache) Purge(entry Entry) {
	if c.modules.Remove(entry.URL) {
		c.purged.Add(1)
	}
}

func (c *ModuleCache) Len() int {
	return c.modules.Len()
}

// Purged reports the total number of entries invalidated since creation.
func (c *ModuleCache) Purged() int64 {
	return c.purged.Load()
}

// Evicted reports entries dropped to stay within capacity.
func (c *ModuleCache) Evicted() int64 {
	return c.evicted.Load()
}
