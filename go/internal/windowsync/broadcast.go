package windowsync

import (
	"errors"
	"sync"
)

var ErrChannelClosed = errors.New("broadcast channel closed")

// Hub is the origin-wide broadcast primitive. Every channel opened under the
// same name receives what the others send, but not its own messages.
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*BroadcastChannel]struct{}
}

func NewHub() *Hub {
	return &Hub{channels: make(map[string]map[*BroadcastChannel]struct{})}
}

// Open joins the named channel.
func (h *Hub) Open(name string) *BroadcastChannel {
	c := &BroadcastChannel{hub: h, name: name, inbox: newMailbox()}
	h.mu.Lock()
	if h.channels[name] == nil {
		h.channels[name] = make(map[*BroadcastChannel]struct{})
	}
	h.channels[name][c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(c *BroadcastChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.channels[c.name]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.channels, c.name)
		}
	}
}

func (h *Hub) fanOut(from *BroadcastChannel, msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.channels[from.name] {
		if c != from {
			c.inbox.post(msg)
		}
	}
}

// BroadcastChannel is one window's membership in a Hub channel.
type BroadcastChannel struct {
	hub   *Hub
	name  string
	inbox *mailbox

	mu     sync.Mutex
	closed bool
}

var _ Transport = (*BroadcastChannel)(nil)

func (c *BroadcastChannel) Name() string { return "broadcast" }

func (c *BroadcastChannel) Send(msg Message) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrChannelClosed
	}
	c.hub.fanOut(c, msg)
	return nil
}

func (c *BroadcastChannel) Listen(fn func(Message)) {
	c.inbox.setHandler(fn)
}

func (c *BroadcastChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.hub.remove(c)
	c.inbox.close()
	return nil
}

// BroadcastFactory opens a channel on hub. A nil hub means the primitive is
// unavailable.
func BroadcastFactory(hub *Hub, name string) TransportFactory {
	return TransportFactory{
		Name: "broadcast",
		New: func() (Transport, error) {
			if hub == nil {
				return nil, errors.New("broadcast hub not available")
			}
			return hub.Open(name), nil
		},
	}
}
