// README: Process-wide registry of monitored trips; sharded per-key locks serialize each trip's transitions.
package monitor

import (
	"hash/fnv"
	"sync"

	"vigil/internal/types"
)

const registryShards = 64

// Registry serializes all state mutations for one trip while letting
// different trips proceed in parallel. Both the location-update path and the
// escalation sweep must hold the trip lock before touching an event, making
// the store-level CAS a second line of defense rather than the only one.
type Registry struct {
	shards [registryShards]registryShard
}

type registryShard struct {
	mu      sync.Mutex
	entries map[types.ID]*tripEntry
}

type tripEntry struct {
	mu   sync.Mutex
	refs int
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].entries = make(map[types.ID]*tripEntry)
	}
	return r
}

// Lock acquires the trip's lock and returns the release func. Entries are
// reference counted and removed when the last holder releases, so the table
// only holds trips with in-flight work.
func (r *Registry) Lock(tripID types.ID) func() {
	shard := &r.shards[r.shardIndex(tripID)]

	shard.mu.Lock()
	e, ok := shard.entries[tripID]
	if !ok {
		e = &tripEntry{}
		shard.entries[tripID] = e
	}
	e.refs++
	shard.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		shard.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(shard.entries, tripID)
		}
		shard.mu.Unlock()
	}
}

func (r *Registry) shardIndex(tripID types.ID) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(tripID))
	return int(h.Sum32() % registryShards)
}
