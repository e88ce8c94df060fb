// Package repository defines the association store interface and errors.
package repository

// Option applies a configuration option to the MemStore.
type Option func(*MemStore)

// WithShardCount sets the number of shards in the store.
func WithShardCount(count int) Option {
	return func(s *MemStore) {
		if count > 0 {
			s.shardCount = count
		}
	}
}
