package room

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/mossrock/roomdrop/internal/domain/models"
)

// DocSync keeps one open document in sync with its backend. Local edits
// land in a buffer and are flushed by a trailing-edge debounce timer;
// remote snapshots refresh the buffer only while no local edit is
// pending, which keeps a client's in-flight typing from being clobbered
// by the echo of its own write.
type DocSync struct {
	id     primitive.ObjectID
	items  ItemCollection
	logger *zap.Logger

	debounce time.Duration
	notify   func(EventType)
	// missing is invoked (outside the lock) when the backend reports
	// the document gone, so the owner can fall back to browsing.
	missing func()

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	buffer    string
	status    SyncStatus
	localEdit bool
	seq       uint64
	timer     *time.Timer
	closed    bool
}

func newDocSync(parent context.Context, id primitive.ObjectID, items ItemCollection, debounce time.Duration, logger *zap.Logger, notify func(EventType), missing func()) *DocSync {
	ctx, cancel := context.WithCancel(parent)
	d := &DocSync{
		id:       id,
		items:    items,
		logger:   logger,
		debounce: debounce,
		notify:   notify,
		missing:  missing,
		ctx:      ctx,
		cancel:   cancel,
		status:   StatusSyncingDocument,
	}
	snaps, errs := items.WatchDocument(ctx, id)
	go d.run(snaps, errs)
	return d
}

// ID returns the watched document's id.
func (d *DocSync) ID() primitive.ObjectID { return d.id }

// Content returns the current buffer.
func (d *DocSync) Content() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.buffer
}

// Status returns the current sync status.
func (d *DocSync) Status() SyncStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// Dirty reports whether local edits are still unflushed.
func (d *DocSync) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localEdit
}

// SetContent records a local edit and restarts the debounce timer, so
// only the trailing edit of a burst reaches the backend.
func (d *DocSync) SetContent(text string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.buffer = text
	d.localEdit = true
	d.seq++
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.debounce, d.flush)
	d.mu.Unlock()
	d.notify(EventDoc)
}

// Close stops the debounce timer and the subscription. A flush already
// in flight is abandoned via context cancellation.
func (d *DocSync) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.stopTimerLocked()
	d.mu.Unlock()
	d.cancel()
}

func (d *DocSync) stopTimerLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// flush writes the buffered content. The edit flag clears only when no
// newer edit arrived while the write was in flight; otherwise the newer
// edit's own timer is already pending and owns the flag.
func (d *DocSync) flush() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	text := d.buffer
	seq := d.seq
	ctx := d.ctx
	d.status = StatusSaving
	d.mu.Unlock()
	d.notify(EventDoc)

	err := d.items.SetContent(ctx, d.id, text)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if err != nil {
		// Keep localEdit set: the unsaved buffer must survive echoes.
		d.status = StatusSaveError
		d.mu.Unlock()
		d.logger.Warn("document save failed",
			zap.String("doc_id", d.id.Hex()),
			zap.Error(err))
		d.notify(EventDoc)
		return
	}
	if seq == d.seq {
		d.localEdit = false
	}
	d.status = StatusSynced
	d.mu.Unlock()
	d.notify(EventDoc)
}

func (d *DocSync) run(snaps <-chan *models.Item, errs <-chan error) {
	for snaps != nil || errs != nil {
		select {
		case <-d.ctx.Done():
			return
		case it, ok := <-snaps:
			if !ok {
				snaps = nil
				continue
			}
			d.applyRemote(it)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.subscriptionError(err)
		}
	}
}

func (d *DocSync) applyRemote(it *models.Item) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if it == nil {
		// Deleted out from under us.
		d.buffer = ""
		d.localEdit = false
		d.stopTimerLocked()
		d.status = StatusDocumentNotFound
		missing := d.missing
		d.mu.Unlock()
		d.notify(EventDoc)
		if missing != nil {
			missing()
		}
		return
	}
	if !d.localEdit {
		d.buffer = it.Text()
	}
	switch d.status {
	case StatusSyncingDocument, StatusConnectionError:
		d.status = StatusSynced
	}
	d.mu.Unlock()
	d.notify(EventDoc)
}

func (d *DocSync) subscriptionError(err error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.status = StatusConnectionError
	d.mu.Unlock()
	d.logger.Warn("document subscription error",
		zap.String("doc_id", d.id.Hex()),
		zap.Error(err))
	d.notify(EventDoc)
}
