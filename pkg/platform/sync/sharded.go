// Package sync provides keyed locking for per-visitor state.
package sync

import (
	"hash/fnv"
	"sync"
)

const defaultShards = 32

// ShardedMutex serializes work per key without a global lock. Keys hash onto a
// fixed set of mutexes, so unrelated keys may occasionally share one.
type ShardedMutex struct {
	shards []sync.Mutex
}

// NewShardedMutex creates a ShardedMutex. A non-positive count uses 32 shards.
func NewShardedMutex(shards int) *ShardedMutex {
	if shards <= 0 {
		shards = defaultShards
	}
	return &ShardedMutex{shards: make([]sync.Mutex, shards)}
}

// Lock acquires the lock for the key's shard.
func (m *ShardedMutex) Lock(key string) {
	m.shards[m.shardFor(key)].Lock()
}

// Unlock releases the lock for the key's shard.
func (m *ShardedMutex) Unlock(key string) {
	m.shards[m.shardFor(key)].Unlock()
}

// Do runs fn while holding the key's lock.
func (m *ShardedMutex) Do(key string, fn func()) {
	m.Lock(key)
	defer m.Unlock(key)
	fn()
}

func (m *ShardedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
