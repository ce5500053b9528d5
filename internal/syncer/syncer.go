// Package syncer keeps a replica's in-memory collections eventually
// consistent with the shared store. Replicas write whole-collection
// blobs with no locking; conflicting writes resolve last-write-wins
// per blob. That weak model is a property of the design, not a defect:
// the store holds regenerable operational state.
package syncer

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"queueboard/internal/kv"
	"queueboard/internal/models"
	"queueboard/internal/queue"
	"queueboard/internal/snapshot"
)

type Engine struct {
	store   kv.Store
	snap    *snapshot.Codec
	manager *queue.Manager

	interval time.Duration
	debounce time.Duration
	settle   time.Duration
	onApply  func()

	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

type Options struct {
	// Interval is the periodic fallback reconciliation period.
	Interval time.Duration
	// Debounce coalesces trigger bursts into one reconciliation.
	Debounce time.Duration
	// Settle is the delay between a local write and the follow-up
	// store re-check, giving the write time to land.
	Settle time.Duration
	// OnApply runs after a reconciliation actually replaced local
	// state, e.g. to notify attached display clients.
	OnApply func()
}

func New(store kv.Store, snap *snapshot.Codec, manager *queue.Manager, options Options) *Engine {
	if options.Interval <= 0 {
		options.Interval = 30 * time.Second
	}
	if options.Debounce <= 0 {
		options.Debounce = 250 * time.Millisecond
	}
	if options.Settle <= 0 {
		options.Settle = 150 * time.Millisecond
	}
	return &Engine{
		store:    store,
		snap:     snap,
		manager:  manager,
		interval: options.Interval,
		debounce: options.Debounce,
		settle:   options.Settle,
		onApply:  options.OnApply,
		trigger:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start wires up the trigger sources and runs the reconciliation loop
// until Stop. Trigger sources: store change events for the snapshot
// keys, the internal after-save signal (delayed by the settle window),
// the periodic fallback timer, and Resume.
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	events, err := e.store.Watch(ctx)
	if err != nil {
		cancel()
		return err
	}

	e.snap.OnChange(func(key string) {
		if !snapshot.IsSnapshotKey(key) {
			return
		}
		time.AfterFunc(e.settle, e.kick)
	})

	go e.run(ctx, events)
	return nil
}

// Resume requests a reconciliation outside the normal signal flow,
// e.g. when a display client attaches after being away.
func (e *Engine) Resume() {
	e.kick()
}

// Stop tears down the watcher and timers and waits for the loop to
// exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	<-e.done
}

func (e *Engine) kick() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Engine) run(ctx context.Context, events <-chan kv.Event) {
	defer close(e.done)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if snapshot.IsSnapshotKey(event.Key) {
				e.kick()
			}
		case <-ticker.C:
			e.kick()
		case <-e.trigger:
			e.coalesce(ctx, events)
		}
	}
}

// coalesce absorbs further triggers for one debounce window, then
// reconciles once.
func (e *Engine) coalesce(ctx context.Context, events <-chan kv.Event) {
	timer := time.NewTimer(e.debounce)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.trigger:
		case _, ok := <-events:
			if !ok {
				events = nil
			}
		case <-timer.C:
			e.Reconcile(ctx)
			return
		}
	}
}

// Reconcile reads the three snapshot blobs and replaces local state
// only when the stored serialized form differs from the local one.
// Missing or corrupt blobs leave the current state in place.
func (e *Engine) Reconcile(ctx context.Context) {
	local := e.manager.ExportRaw()

	stored := make(map[string]string, len(snapshot.Keys))
	differs := false
	for _, key := range snapshot.Keys {
		raw, found := e.snap.Raw(ctx, key)
		if !found {
			// A replica that never saw this key has nothing to
			// reconcile against; the next write recreates it.
			return
		}
		stored[key] = raw
		if raw != local[key] {
			differs = true
		}
	}
	if !differs {
		return
	}

	var services []models.Service
	var counters []models.Counter
	var tickets []models.Ticket
	if !unmarshalBlob(stored[snapshot.KeyServices], &services) ||
		!unmarshalBlob(stored[snapshot.KeyCounters], &counters) ||
		!unmarshalBlob(stored[snapshot.KeyQueue], &tickets) {
		log.Printf("sync reconcile: corrupt snapshot, keeping local state")
		return
	}

	e.manager.Replace(services, counters, tickets)
	if e.onApply != nil {
		e.onApply()
	}
}

func unmarshalBlob(raw string, out any) bool {
	return json.Unmarshal([]byte(raw), out) == nil
}
