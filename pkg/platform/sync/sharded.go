package sync

import (
	"hash/fnv"
	"sync"
)

// ShardedMutex serialises work per key across a fixed set of mutexes, so
// unrelated keys rarely contend.
type ShardedMutex struct {
	shards [32]sync.Mutex
}

func NewShardedMutex() *ShardedMutex {
	return &ShardedMutex{}
}

func (m *ShardedMutex) Lock(key string)   { m.shards[m.shardFor(key)].Lock() }
func (m *ShardedMutex) Unlock(key string) { m.shards[m.shardFor(key)].Unlock() }

func (m *ShardedMutex) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(m.shards)))
}
