package room

import "sync"

// EventType names the slot of room state that changed.
type EventType string

const (
	// EventTree fires when the room's item set changes (or its
	// subscription degrades).
	EventTree EventType = "tree"
	// EventGallery fires when the image set or upload indicator changes.
	EventGallery EventType = "gallery"
	// EventDoc fires when the open document's content or status changes.
	EventDoc EventType = "doc"
	// EventNav fires when navigation state changes.
	EventNav EventType = "nav"
)

// Event is a change notification. Events carry no payload: consumers
// re-read the derived views (State, Tree.Children, Gallery.Images),
// which keeps every consumer idempotent under repeated notifications.
type Event struct {
	Type EventType
}

// hub fans out events to subscribers. Slow subscribers drop events
// rather than block the engine; since consumers re-derive state on
// every event, a dropped event is recovered by the next one.
type hub struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

// subscribe registers a new subscriber channel.
func (h *hub) subscribe() chan Event {
	ch := make(chan Event, 16)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

// unsubscribe removes and closes a subscriber channel.
func (h *hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// publish delivers an event to all subscribers without blocking.
func (h *hub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is not keeping up; drop.
		}
	}
}

// close closes every subscriber channel and rejects new subscriptions.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
