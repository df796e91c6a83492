// Package rooms hosts live room engine sessions for browser clients.
//
// Endpoints (mounted at /api/rooms):
//   - GET    /{slug}/state                  - Navigation and sync snapshot
//   - GET    /{slug}/tree                   - Ordered folder listing
//   - POST   /{slug}/items                  - Create a folder or document
//   - PATCH  /{slug}/items/{id}             - Rename or move an item
//   - DELETE /{slug}/items/{id}             - Delete an item
//   - POST   /{slug}/navigate               - Enter a folder
//   - POST   /{slug}/up                     - Step out one level
//   - POST   /{slug}/open                   - Open a document for editing
//   - POST   /{slug}/close                  - Leave the room
//   - PUT    /{slug}/documents/{id}/content - Edit the open document
//   - GET    /{slug}/images                 - Paged gallery listing
//   - POST   /{slug}/images                 - Upload an image (multipart)
//   - DELETE /{slug}/images/{id}            - Delete an image
//   - GET    /{slug}/events                 - Live event stream (SSE)
//
// Everything a client sees flows from one engine session per
// (browser session, room) pair, held by the Registry below.
package rooms

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mossrock/roomdrop/internal/app/system/metrics"
	"github.com/mossrock/roomdrop/internal/room"
)

// OpenStores returns the backing collections for a room slug. The Mongo
// wiring ensures collections and indexes on first open; the memory
// wiring hands out shared per-slug maps.
type OpenStores func(ctx context.Context, roomSlug string) (room.Stores, error)

// entry is one live engine session plus its reference count. refs
// counts in-flight requests and connected streams; lastUsed drives the
// idle sweep.
type entry struct {
	sess     *room.Session
	refs     int
	lastUsed time.Time
}

// Registry hands out engine sessions keyed by (session id, room slug).
// A session is created on first touch, shared by every concurrent
// request and stream of the same client in the same room, and kept warm
// at zero references until the sweeper reclaims it.
type Registry struct {
	open   OpenStores
	opts   room.Options
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates a Registry. opts is applied to every session it
// opens.
func NewRegistry(open OpenStores, opts room.Options, logger *zap.Logger) *Registry {
	return &Registry{
		open:    open,
		opts:    opts,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

func sessionKey(sessionID, roomSlug string) string {
	return sessionID + "|" + roomSlug
}

// Acquire returns the engine session for a client and room, creating it
// on first use, and bumps its reference count. Every Acquire must be
// paired with a Release.
func (g *Registry) Acquire(ctx context.Context, sessionID, roomSlug string) (*room.Session, error) {
	k := sessionKey(sessionID, roomSlug)

	g.mu.Lock()
	if e, ok := g.entries[k]; ok {
		e.refs++
		e.lastUsed = time.Now()
		g.mu.Unlock()
		return e.sess, nil
	}
	g.mu.Unlock()

	// Opening can create collections and indexes, so it happens outside
	// the registry lock.
	stores, err := g.open(ctx, roomSlug)
	if err != nil {
		return nil, fmt.Errorf("open room %q: %w", roomSlug, err)
	}
	// The session outlives the request that created it; its lifetime
	// belongs to the registry, not the request context.
	sess, err := room.Open(context.Background(), roomSlug, sessionID, stores, g.opts)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if e, ok := g.entries[k]; ok {
		// A concurrent request won the race; keep theirs.
		e.refs++
		e.lastUsed = time.Now()
		g.mu.Unlock()
		sess.Close()
		return e.sess, nil
	}
	g.entries[k] = &entry{sess: sess, refs: 1, lastUsed: time.Now()}
	n := len(g.entries)
	g.mu.Unlock()

	metrics.SetRoomsOpen(n)
	g.logger.Info("room session opened",
		zap.String("room", roomSlug),
		zap.String("session_id", sessionID))
	return sess, nil
}

// Release drops one reference. The session stays open at zero
// references so the next request reuses the warm mirrors; the idle
// sweep reclaims it later.
func (g *Registry) Release(sessionID, roomSlug string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[sessionKey(sessionID, roomSlug)]
	if !ok {
		return
	}
	if e.refs > 0 {
		e.refs--
	}
	e.lastUsed = time.Now()
}

// CloseSession tears down a client's session for one room immediately,
// reporting whether one existed. Any stream attached to it ends when
// its event channel closes.
func (g *Registry) CloseSession(sessionID, roomSlug string) bool {
	g.mu.Lock()
	k := sessionKey(sessionID, roomSlug)
	e, ok := g.entries[k]
	if ok {
		delete(g.entries, k)
	}
	n := len(g.entries)
	g.mu.Unlock()

	if !ok {
		return false
	}
	e.sess.Close()
	metrics.SetRoomsOpen(n)
	g.logger.Info("room session closed",
		zap.String("room", roomSlug),
		zap.String("session_id", sessionID))
	return true
}

// SweepIdle closes sessions that hold no references and have not been
// touched for olderThan, returning how many were closed. It satisfies
// the background task runner's sweep contract.
func (g *Registry) SweepIdle(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	g.mu.Lock()
	var victims []*entry
	for k, e := range g.entries {
		if e.refs == 0 && e.lastUsed.Before(cutoff) {
			delete(g.entries, k)
			victims = append(victims, e)
		}
	}
	n := len(g.entries)
	g.mu.Unlock()

	for _, e := range victims {
		e.sess.Close()
	}
	if len(victims) > 0 {
		metrics.SetRoomsOpen(n)
	}
	return len(victims)
}

// Len reports the number of live sessions.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// CloseAll tears down every session. Called on shutdown.
func (g *Registry) CloseAll() {
	g.mu.Lock()
	victims := make([]*entry, 0, len(g.entries))
	for k, e := range g.entries {
		delete(g.entries, k)
		victims = append(victims, e)
	}
	g.mu.Unlock()

	for _, e := range victims {
		e.sess.Close()
	}
	metrics.SetRoomsOpen(0)
	if len(victims) > 0 {
		g.logger.Info("closed all room sessions", zap.Int("count", len(victims)))
	}
}
