package kv

import "context"

// Event announces that the value under Key changed in the shared store.
// Watchers receive events for writes made by any replica, including
// their own; consumers are expected to skip no-op updates themselves.
type Event struct {
	Key string
}

// Store is a string-keyed shared store with change notifications. All
// replicas of the application point at the same store.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error

	// Watch delivers change events until ctx is cancelled. The channel
	// is closed when the watch ends. Slow consumers may miss events;
	// the periodic reconciliation fallback covers that.
	Watch(ctx context.Context) (<-chan Event, error)

	Close() error
}
