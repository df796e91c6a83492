package room

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mossrock/roomdrop/internal/app/store/memstore"
	"github.com/mossrock/roomdrop/internal/domain/models"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func waitStatus(t *testing.T, d *DocSync, want SyncStatus) {
	t.Helper()
	waitFor(t, func() bool { return d.Status() == want }, "status never reached "+string(want))
}

func strPtr(s string) *string { return &s }

// countingItems counts content writes on top of the in-memory store.
type countingItems struct {
	*memstore.ItemStore
	writes atomic.Int32
}

func (c *countingItems) SetContent(ctx context.Context, id primitive.ObjectID, content string) error {
	c.writes.Add(1)
	return c.ItemStore.SetContent(ctx, id, content)
}

// failingItems rejects content writes while fail is set.
type failingItems struct {
	*memstore.ItemStore
	fail atomic.Bool
}

func (f *failingItems) SetContent(ctx context.Context, id primitive.ObjectID, content string) error {
	if f.fail.Load() {
		return errors.New("backend offline")
	}
	return f.ItemStore.SetContent(ctx, id, content)
}

// gatedItems blocks each content write until the test releases it, so a
// test can hold a flush in flight.
type gatedItems struct {
	*memstore.ItemStore
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedItems) SetContent(ctx context.Context, id primitive.ObjectID, content string) error {
	g.entered <- struct{}{}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.ItemStore.SetContent(ctx, id, content)
}

// manualWatchItems hands the document subscription to the test.
type manualWatchItems struct {
	*memstore.ItemStore
	snaps chan *models.Item
	errs  chan error
}

func (m *manualWatchItems) WatchDocument(ctx context.Context, id primitive.ObjectID) (<-chan *models.Item, <-chan error) {
	return m.snaps, m.errs
}

func newTestDoc(t *testing.T, items ItemCollection, id primitive.ObjectID, debounce time.Duration) *DocSync {
	t.Helper()
	d := newDocSync(context.Background(), id, items, debounce, zap.NewNop(), func(EventType) {}, nil)
	t.Cleanup(d.Close)
	return d
}

func seedDoc(t *testing.T, store *memstore.ItemStore, content string) primitive.ObjectID {
	t.Helper()
	id, err := store.Insert(context.Background(), models.Item{
		Name:    "note",
		Type:    models.ItemTypeDocument,
		Content: strPtr(content),
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return id
}

func TestDebounceCoalescesBurst(t *testing.T) {
	store := &countingItems{ItemStore: memstore.NewItems()}
	id := seedDoc(t, store.ItemStore, "")

	d := newTestDoc(t, store, id, 50*time.Millisecond)
	waitStatus(t, d, StatusSynced)

	d.SetContent("h")
	d.SetContent("he")
	d.SetContent("hello")

	waitFor(t, func() bool {
		it, _ := store.Get(context.Background(), id)
		return it != nil && it.Text() == "hello" && d.Status() == StatusSynced
	}, "burst never flushed")

	if got := store.writes.Load(); got != 1 {
		t.Errorf("content writes = %d, want 1", got)
	}
	if d.Dirty() {
		t.Error("Dirty() = true after flush")
	}
}

func TestDebounceSpacedEditsEachFlush(t *testing.T) {
	store := &countingItems{ItemStore: memstore.NewItems()}
	id := seedDoc(t, store.ItemStore, "")

	d := newTestDoc(t, store, id, 20*time.Millisecond)
	waitStatus(t, d, StatusSynced)

	d.SetContent("first")
	waitFor(t, func() bool { return store.writes.Load() == 1 }, "first edit never flushed")

	d.SetContent("second")
	waitFor(t, func() bool { return store.writes.Load() == 2 }, "second edit never flushed")

	waitFor(t, func() bool {
		it, _ := store.Get(context.Background(), id)
		return it != nil && it.Text() == "second"
	}, "final content never stored")
}

func TestEditDuringFlushStaysDirty(t *testing.T) {
	store := &gatedItems{
		ItemStore: memstore.NewItems(),
		entered:   make(chan struct{}, 1),
		gate:      make(chan struct{}),
	}
	id := seedDoc(t, store.ItemStore, "")

	d := newTestDoc(t, store, id, 20*time.Millisecond)
	waitStatus(t, d, StatusSynced)

	d.SetContent("first")
	<-store.entered // first flush is now in flight

	d.SetContent("first and more")
	store.gate <- struct{}{} // let the stale write finish

	// The newer edit arrived mid-flight, so the buffer must stay dirty
	// until its own flush lands.
	<-store.entered
	if !d.Dirty() {
		t.Error("Dirty() = false while a newer edit is unflushed")
	}
	store.gate <- struct{}{}

	waitFor(t, func() bool {
		it, _ := store.Get(context.Background(), id)
		return it != nil && it.Text() == "first and more" && !d.Dirty()
	}, "second flush never landed")
}

func TestSaveErrorKeepsLocalEdits(t *testing.T) {
	store := &failingItems{ItemStore: memstore.NewItems()}
	id := seedDoc(t, store.ItemStore, "server copy")

	d := newTestDoc(t, store, id, 20*time.Millisecond)
	waitStatus(t, d, StatusSynced)
	if got := d.Content(); got != "server copy" {
		t.Fatalf("Content() = %q, want %q", got, "server copy")
	}

	store.fail.Store(true)
	d.SetContent("local draft")
	waitStatus(t, d, StatusSaveError)

	// A remote snapshot (here caused by a rename) must not clobber the
	// unsaved buffer.
	if err := store.SetName(context.Background(), id, "renamed"); err != nil {
		t.Fatalf("SetName() error = %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if got := d.Content(); got != "local draft" {
		t.Errorf("Content() = %q after failed save, want %q", got, "local draft")
	}
	if !d.Dirty() {
		t.Error("Dirty() = false after failed save")
	}

	// Recovery: the next edit retries and succeeds.
	store.fail.Store(false)
	d.SetContent("local draft v2")
	waitStatus(t, d, StatusSynced)
	it, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if it == nil || it.Text() != "local draft v2" {
		t.Errorf("stored content = %v, want %q", it, "local draft v2")
	}
}

func TestRemoteEchoSuppressedWhileEditing(t *testing.T) {
	store := &manualWatchItems{
		ItemStore: memstore.NewItems(),
		snaps:     make(chan *models.Item),
		errs:      make(chan error),
	}
	id := primitive.NewObjectID()

	// Debounce far beyond the test so no flush interferes.
	d := newTestDoc(t, store, id, time.Hour)

	if got := d.Status(); got != StatusSyncingDocument {
		t.Fatalf("initial Status() = %q, want %q", got, StatusSyncingDocument)
	}

	store.snaps <- &models.Item{ID: id, Type: models.ItemTypeDocument, Content: strPtr("from server")}
	waitStatus(t, d, StatusSynced)
	if got := d.Content(); got != "from server" {
		t.Fatalf("Content() = %q, want %q", got, "from server")
	}

	d.SetContent("typing locally")
	store.snaps <- &models.Item{ID: id, Type: models.ItemTypeDocument, Content: strPtr("from server")}
	waitFor(t, func() bool { return d.Content() == "typing locally" }, "buffer lost")
	time.Sleep(20 * time.Millisecond)
	if got := d.Content(); got != "typing locally" {
		t.Errorf("Content() = %q, want local edit preserved", got)
	}
}

func TestSubscriptionErrorAndRecovery(t *testing.T) {
	store := &manualWatchItems{
		ItemStore: memstore.NewItems(),
		snaps:     make(chan *models.Item),
		errs:      make(chan error),
	}
	id := primitive.NewObjectID()
	d := newTestDoc(t, store, id, time.Hour)

	store.snaps <- &models.Item{ID: id, Type: models.ItemTypeDocument, Content: strPtr("v1")}
	waitStatus(t, d, StatusSynced)

	store.errs <- errors.New("stream reset")
	waitStatus(t, d, StatusConnectionError)

	store.snaps <- &models.Item{ID: id, Type: models.ItemTypeDocument, Content: strPtr("v2")}
	waitStatus(t, d, StatusSynced)
	if got := d.Content(); got != "v2" {
		t.Errorf("Content() = %q, want %q", got, "v2")
	}
}

func TestDocumentVanishes(t *testing.T) {
	store := memstore.NewItems()
	id := seedDoc(t, store, "doomed")

	var missed atomic.Bool
	d := newDocSync(context.Background(), id, store, 20*time.Millisecond, zap.NewNop(), func(EventType) {}, func() { missed.Store(true) })
	t.Cleanup(d.Close)
	waitStatus(t, d, StatusSynced)

	if err := store.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	waitStatus(t, d, StatusDocumentNotFound)
	waitFor(t, missed.Load, "missing callback never invoked")
	if got := d.Content(); got != "" {
		t.Errorf("Content() = %q after document vanished, want empty", got)
	}
}

func TestCloseStopsPendingFlush(t *testing.T) {
	store := &countingItems{ItemStore: memstore.NewItems()}
	id := seedDoc(t, store.ItemStore, "")

	d := newTestDoc(t, store, id, 30*time.Millisecond)
	waitStatus(t, d, StatusSynced)

	d.SetContent("never stored")
	d.Close()

	time.Sleep(80 * time.Millisecond)
	if got := store.writes.Load(); got != 0 {
		t.Errorf("content writes after Close = %d, want 0", got)
	}
}
