// Package hub fans out leaderboard snapshots to subscribers of a contest's
// real-time channel, after the transaction that produced them has
// committed (§5 "Shared-resource policy").
package hub

import (
	"fmt"
	"sync"
)

const defaultBufferCap = 1000

// ChannelName returns the well-known channel name for a contest's
// leaderboard fan-out (§6 "Real-time fan-out").
func ChannelName(contestID string) string {
	return fmt.Sprintf("contest:%s:leaderboard", contestID)
}

// channel holds the state for a single streaming topic.
type channel struct {
	buf     [][]byte // circular buffer of snapshot payloads
	pos     int      // next write position
	count   int      // total snapshots published (may exceed cap)
	clients map[chan []byte]struct{}
	done    bool
}

// snapshots returns the buffered payloads in order from oldest to newest.
func (c *channel) snapshots() [][]byte {
	n := len(c.buf)
	if n == 0 || c.pos == 0 {
		return c.buf
	}
	out := make([][]byte, n)
	copy(out, c.buf[c.pos:])
	copy(out[n-c.pos:], c.buf[:c.pos])
	return out
}

// append adds a payload to the circular buffer. O(1) regardless of size.
func (c *channel) append(payload []byte) {
	if len(c.buf) < cap(c.buf) {
		c.buf = append(c.buf, payload)
	} else {
		c.buf[c.pos] = payload
	}
	c.pos = (c.pos + 1) % cap(c.buf)
	c.count++
}

// Hub fans out leaderboard snapshots to multiple subscribers, keyed by
// channel name. It buffers the last defaultBufferCap snapshots per channel
// so late-joining clients receive the current state before live updates.
type Hub struct {
	mu       sync.Mutex
	channels map[string]*channel
}

// New creates a Hub ready for use.
func New() *Hub {
	return &Hub{
		channels: make(map[string]*channel),
	}
}

// getOrCreate returns the channel state for name, creating it if needed.
// Caller must hold h.mu.
func (h *Hub) getOrCreate(name string) *channel {
	c, ok := h.channels[name]
	if !ok {
		c = &channel{
			buf:     make([][]byte, 0, defaultBufferCap),
			clients: make(map[chan []byte]struct{}),
		}
		h.channels[name] = c
	}
	return c
}

// Publish sends a snapshot payload to all current subscribers of name and
// appends it to the channel's buffer. MUST only be called after the
// transaction that produced the snapshot has committed; publish failures
// (a full subscriber channel) are dropped, never retried, never able to
// affect the commit that already happened.
func (h *Hub) Publish(name string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.getOrCreate(name)
	if c.done {
		return
	}

	c.append(payload)

	for ch := range c.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Subscribe returns a channel that receives future snapshots published to
// name and an unsubscribe function. Buffered snapshots are replayed
// immediately so a newly-connecting client sees current state without
// waiting for the next publish.
func (h *Hub) Subscribe(name string) (<-chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.getOrCreate(name)

	ch := make(chan []byte, defaultBufferCap+64)

	for _, payload := range c.snapshots() {
		ch <- payload
	}

	if c.done {
		close(ch)
		return ch, func() {}
	}

	c.clients[ch] = struct{}{}

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(c.clients, ch)
	}

	return ch, unsubscribe
}

// Close marks a channel as done and closes all subscriber channels.
// Subsequent Publish calls for name are no-ops.
func (h *Hub) Close(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.channels[name]
	if !ok {
		return
	}

	c.done = true
	for ch := range c.clients {
		close(ch)
	}
	c.clients = nil
}

// Remove deletes a channel entirely, freeing its buffer memory. Any
// remaining subscribers are closed first.
func (h *Hub) Remove(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.channels[name]
	if !ok {
		return
	}

	for ch := range c.clients {
		close(ch)
	}
	delete(h.channels, name)
}

// IsActive returns true if name has been created and not closed.
func (h *Hub) IsActive(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.channels[name]
	if !ok {
		return false
	}
	return !c.done
}
