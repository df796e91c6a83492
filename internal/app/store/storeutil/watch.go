// internal/app/store/storeutil/watch.go
package storeutil

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Watch modes. Stream uses MongoDB change streams and needs a replica
// set; poll re-queries on an interval and works anywhere.
const (
	WatchModeStream = "stream"
	WatchModePoll   = "poll"
)

const (
	// DefaultPollInterval is used when WatchConfig.PollInterval is zero.
	DefaultPollInterval = 2 * time.Second

	streamBackoffInitial = 500 * time.Millisecond
	streamBackoffMax     = 10 * time.Second
)

// WatchConfig selects how collection watchers detect changes.
type WatchConfig struct {
	Mode         string
	PollInterval time.Duration
	Logger       *zap.Logger
}

// WatchSnapshots emits the result of fetch once at start and again after
// every observed change, until ctx is cancelled. Both returned channels
// close when the watcher stops.
//
// In stream mode a change stream (filtered by pipeline) triggers a
// refetch per event; the rest of an event batch is coalesced into one
// refetch. A broken stream reports one error, then the watcher
// reconnects with backoff and pushes a fresh snapshot so consumers
// recover. If the server does not support change streams at all the
// watcher drops to poll mode.
//
// In poll mode fetch runs on an interval and a snapshot is pushed only
// when equal reports a difference, or after an error cleared.
func WatchSnapshots[T any](ctx context.Context, coll *mongo.Collection, pipeline mongo.Pipeline, cfg WatchConfig, fetch func(context.Context) (T, error), equal func(a, b T) bool) (<-chan T, <-chan error) {
	snaps := make(chan T)
	errs := make(chan error)

	w := &watcher[T]{
		coll:     coll,
		pipeline: pipeline,
		interval: cfg.PollInterval,
		logger:   cfg.Logger,
		fetch:    fetch,
		equal:    equal,
		snaps:    snaps,
		errs:     errs,
	}
	if w.interval <= 0 {
		w.interval = DefaultPollInterval
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}

	go func() {
		defer close(snaps)
		defer close(errs)
		if cfg.Mode == WatchModePoll {
			w.poll(ctx)
			return
		}
		w.stream(ctx)
	}()

	return snaps, errs
}

type watcher[T any] struct {
	coll     *mongo.Collection
	pipeline mongo.Pipeline
	interval time.Duration
	logger   *zap.Logger
	fetch    func(context.Context) (T, error)
	equal    func(a, b T) bool

	snaps chan T
	errs  chan error

	last     T
	have     bool
	degraded bool
}

func (w *watcher[T]) send(ctx context.Context, v T) bool {
	select {
	case w.snaps <- v:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *watcher[T]) sendErr(ctx context.Context, err error) bool {
	select {
	case w.errs <- err:
		return true
	case <-ctx.Done():
		return false
	}
}

// refresh fetches the current state and pushes it. When force is false
// the push is skipped if nothing changed since the last one. It returns
// false only when the watcher should stop.
func (w *watcher[T]) refresh(ctx context.Context, force bool) bool {
	next, err := w.fetch(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		w.degraded = true
		return w.sendErr(ctx, err)
	}

	// After an error, push even an unchanged snapshot: consumers treat
	// it as the signal that the connection recovered.
	if !force && !w.degraded && w.have && w.equal(w.last, next) {
		return true
	}
	if !w.send(ctx, next) {
		return false
	}
	w.last = next
	w.have = true
	w.degraded = false
	return true
}

func (w *watcher[T]) poll(ctx context.Context) {
	if !w.refresh(ctx, true) {
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.refresh(ctx, false) {
				return
			}
		}
	}
}

func (w *watcher[T]) stream(ctx context.Context) {
	backoff := streamBackoffInitial

	for {
		cs, err := w.coll.Watch(ctx, w.pipeline)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if isStreamUnsupported(err) {
				w.logger.Warn("change streams unavailable, falling back to polling",
					zap.String("collection", w.coll.Name()),
					zap.Duration("poll_interval", w.interval),
					zap.Error(err))
				w.poll(ctx)
				return
			}
			if !w.sendErr(ctx, err) {
				return
			}
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = streamBackoffInitial

		// The stream is open before this snapshot, so changes landing
		// mid-fetch surface as queued events instead of going missing.
		if !w.refresh(ctx, true) {
			cs.Close(context.Background())
			return
		}

		for cs.Next(ctx) {
			// Fold the rest of the current batch into one refetch.
			for cs.RemainingBatchLength() > 0 && cs.Next(ctx) {
			}
			if !w.refresh(ctx, true) {
				cs.Close(context.Background())
				return
			}
		}
		err = cs.Err()
		cs.Close(context.Background())
		if ctx.Err() != nil {
			return
		}
		if err != nil && !w.sendErr(ctx, err) {
			return
		}
		if !sleep(ctx, backoff) {
			return
		}
		backoff = nextBackoff(backoff)
	}
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > streamBackoffMax {
		return streamBackoffMax
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// isStreamUnsupported spots the server rejecting $changeStream outright,
// which happens on standalone deployments.
func isStreamUnsupported(err error) bool {
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 40573 {
		return true
	}
	return strings.Contains(err.Error(), "only supported on replica sets")
}
