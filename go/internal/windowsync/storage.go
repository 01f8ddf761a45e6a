package windowsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/directorio/directorio/go/internal/sharedstate"
)

const (
	// StorageKey is the shared-state key used as a message slot.
	StorageKey = "directorio-sync-message"

	DefaultClearDelay = 100 * time.Millisecond
)

// StorageTransport writes each message to a well-known shared-state key and
// clears it shortly after. Other windows learn about it from change events.
type StorageTransport struct {
	port       sharedstate.Port
	clock      clockwork.Clock
	clearDelay time.Duration
	inbox      *mailbox

	mu          sync.Mutex
	unsubscribe func()
	pending     clockwork.Timer
	closed      bool
}

var _ Transport = (*StorageTransport)(nil)

func NewStorageTransport(port sharedstate.Port, clock clockwork.Clock, clearDelay time.Duration) *StorageTransport {
	if clearDelay <= 0 {
		clearDelay = DefaultClearDelay
	}
	t := &StorageTransport{
		port:       port,
		clock:      clock,
		clearDelay: clearDelay,
		inbox:      newMailbox(),
	}
	t.unsubscribe = port.Subscribe(t.onChange)
	return t
}

func (t *StorageTransport) Name() string { return "storage" }

func (t *StorageTransport) onChange(c sharedstate.Change) {
	if c.Key != StorageKey || c.Deleted || c.Value == "" {
		return
	}
	var msg Message
	if err := json.Unmarshal([]byte(c.Value), &msg); err != nil {
		log.Debug().Err(err).Msg("ignoring malformed storage message")
		return
	}
	t.inbox.post(msg)
}

func (t *StorageTransport) Send(msg Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return sharedstate.ErrClosed
	}

	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal storage message: %w", err)
	}
	if err := t.port.Write(StorageKey, string(b)); err != nil {
		return fmt.Errorf("write storage message: %w", err)
	}

	if t.pending != nil {
		t.pending.Stop()
	}
	t.pending = t.clock.AfterFunc(t.clearDelay, func() {
		if err := t.port.Delete(StorageKey); err != nil {
			log.Debug().Err(err).Msg("failed to clear storage message")
		}
	})
	return nil
}

func (t *StorageTransport) Listen(fn func(Message)) {
	t.inbox.setHandler(fn)
}

func (t *StorageTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.unsubscribe()
	if t.pending != nil {
		t.pending.Stop()
	}
	t.inbox.close()
	return nil
}

// StorageFactory builds a StorageTransport when a shared-state port exists.
func StorageFactory(port sharedstate.Port, clock clockwork.Clock) TransportFactory {
	return TransportFactory{
		Name: "storage",
		New: func() (Transport, error) {
			if port == nil {
				return nil, errors.New("shared state not available")
			}
			return NewStorageTransport(port, clock, DefaultClearDelay), nil
		},
	}
}
