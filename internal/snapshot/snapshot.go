// Package snapshot persists whole collections as JSON blobs in the
// shared store, one blob per key. Timestamps are serialized as RFC3339
// text and come back as time.Time on load.
package snapshot

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"queueboard/internal/kv"
)

// Store keys for the three collections. Every replica reads and writes
// the same keys; each blob is replaced wholesale (last write wins).
const (
	KeyServices = "queueServices"
	KeyCounters = "queueCounters"
	KeyQueue    = "queueData"
)

// Keys lists the snapshot keys in load order.
var Keys = []string{KeyServices, KeyCounters, KeyQueue}

func IsSnapshotKey(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Codec loads and saves collection snapshots. Registered change
// callbacks fire after every successful save, annotated with the key
// that changed; the sync engine uses that as its internal signal.
type Codec struct {
	store kv.Store

	mu        sync.Mutex
	callbacks []func(key string)
}

func New(store kv.Store) *Codec {
	return &Codec{store: store}
}

// OnChange registers a callback invoked after each save with the
// changed key. Callbacks must not block.
func (c *Codec) OnChange(fn func(key string)) {
	c.mu.Lock()
	c.callbacks = append(c.callbacks, fn)
	c.mu.Unlock()
}

// Load reads the blob under key into out. It returns false when the
// key is absent or the stored value does not parse, so the caller can
// fall back to its default; a corrupt value never fails the caller.
func (c *Codec) Load(ctx context.Context, key string, out any) bool {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		log.Printf("snapshot load key=%s error: %v", key, err)
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		log.Printf("snapshot load key=%s corrupt value: %v", key, err)
		return false
	}
	return true
}

// Save serializes value under key and fires the change callbacks.
// Persistence failures are logged and reported, never fatal.
func (c *Codec) Save(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		log.Printf("snapshot save key=%s marshal error: %v", key, err)
		return err
	}
	if err := c.store.Set(ctx, key, string(raw)); err != nil {
		log.Printf("snapshot save key=%s error: %v", key, err)
		return err
	}
	c.notify(key)
	return nil
}

// Purge removes the persisted copies of the given keys.
func (c *Codec) Purge(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			log.Printf("snapshot purge key=%s error: %v", key, err)
		}
	}
}

// Raw returns the stored blob without decoding it. The sync engine
// compares raw forms to skip no-op updates.
func (c *Codec) Raw(ctx context.Context, key string) (string, bool) {
	raw, found, err := c.store.Get(ctx, key)
	if err != nil {
		log.Printf("snapshot read key=%s error: %v", key, err)
		return "", false
	}
	return raw, found
}

func (c *Codec) notify(key string) {
	c.mu.Lock()
	callbacks := make([]func(string), len(c.callbacks))
	copy(callbacks, c.callbacks)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn(key)
	}
}
