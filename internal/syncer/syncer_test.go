package syncer

import (
	"context"
	"testing"
	"time"

	"queueboard/internal/kv"
	"queueboard/internal/queue"
	"queueboard/internal/snapshot"
)

// twoReplicas sets up two managers over one shared store, the
// multi-tab scenario compressed into a single process.
func twoReplicas(t *testing.T) (*queue.Manager, *queue.Manager, *kv.Memory, *snapshot.Codec) {
	t.Helper()
	store := kv.NewMemory()

	writer := queue.NewManager(snapshot.New(store), queue.Options{})
	writer.Load(context.Background())

	readerSnap := snapshot.New(store)
	reader := queue.NewManager(readerSnap, queue.Options{})
	reader.Load(context.Background())

	return writer, reader, store, readerSnap
}

func addTicket(t *testing.T, m *queue.Manager, serviceType string) {
	t.Helper()
	if _, err := m.AddToQueue(context.Background(), queue.AddInput{ServiceType: serviceType}); err != nil {
		t.Fatalf("AddToQueue: %v", err)
	}
}

func TestReconcileAppliesRemoteChange(t *testing.T) {
	writer, reader, store, readerSnap := twoReplicas(t)
	engine := New(store, readerSnap, reader, Options{})

	addTicket(t, writer, "general")

	engine.Reconcile(context.Background())
	if got := reader.WaitingCount("general"); got != 1 {
		t.Fatalf("reader waiting = %d, want 1", got)
	}
	if got := reader.Generation(); got != 1 {
		t.Fatalf("generation = %d, want 1", got)
	}

	// Derived counts are recomputed locally after the swap.
	for _, service := range reader.Services() {
		if service.ID == "general" && service.Waiting != 1 {
			t.Fatalf("derived waiting = %d, want 1", service.Waiting)
		}
	}
}

func TestReconcileSkipsIdenticalState(t *testing.T) {
	_, reader, store, readerSnap := twoReplicas(t)
	engine := New(store, readerSnap, reader, Options{})

	engine.Reconcile(context.Background())
	engine.Reconcile(context.Background())
	if got := reader.Generation(); got != 0 {
		t.Fatalf("generation = %d, want 0 (no-op reconciliations must not replace state)", got)
	}
}

func TestReconcileKeepsLocalStateOnCorruptBlob(t *testing.T) {
	writer, reader, store, readerSnap := twoReplicas(t)
	engine := New(store, readerSnap, reader, Options{})

	addTicket(t, writer, "general")
	if err := store.Set(context.Background(), snapshot.KeyQueue, "{corrupt"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	engine.Reconcile(context.Background())
	if got := reader.Generation(); got != 0 {
		t.Fatalf("generation = %d, want 0 after corrupt blob", got)
	}
	if got := reader.WaitingCount("general"); got != 0 {
		t.Fatalf("reader applied corrupt state, waiting = %d", got)
	}
}

func TestLastWriteWinsPerCollection(t *testing.T) {
	// Two writers race on the queue blob; the store keeps whichever
	// landed last and a reconciling replica adopts it wholesale. This
	// is the documented consistency model, not a defect.
	writerA, writerB, store, _ := twoReplicas(t)

	addTicket(t, writerA, "general")
	addTicket(t, writerB, "facility")

	readerSnap := snapshot.New(store)
	reader := queue.NewManager(readerSnap, queue.Options{})
	reader.Load(context.Background())

	if got := reader.WaitingCount("facility"); got != 1 {
		t.Fatalf("facility waiting = %d, want 1 (last write)", got)
	}
	if got := reader.WaitingCount("general"); got != 0 {
		t.Fatalf("general waiting = %d, want 0 (overwritten by last write)", got)
	}
}

func TestEngineEndToEnd(t *testing.T) {
	writer, reader, store, readerSnap := twoReplicas(t)

	applied := make(chan struct{}, 8)
	engine := New(store, readerSnap, reader, Options{
		Interval: time.Hour,
		Debounce: 5 * time.Millisecond,
		Settle:   time.Millisecond,
		OnApply:  func() { applied <- struct{}{} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer engine.Stop()

	addTicket(t, writer, "general")

	select {
	case <-applied:
	case <-time.After(2 * time.Second):
		t.Fatalf("engine never applied the remote change")
	}
	if got := reader.WaitingCount("general"); got != 1 {
		t.Fatalf("reader waiting = %d, want 1", got)
	}

	// Resume (the visibility analog) must also drive reconciliation.
	addTicket(t, writer, "facility")
	engine.Resume()
	deadline := time.Now().Add(2 * time.Second)
	for reader.WaitingCount("facility") != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("resume did not reconcile")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
