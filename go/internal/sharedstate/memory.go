package sharedstate

import (
	"sync"
)

// Memory is an in-process origin store. Each window gets its own View.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]string
	views map[*View]struct{}
}

func NewMemory() *Memory {
	return &Memory{
		data:  make(map[string]string),
		views: make(map[*View]struct{}),
	}
}

// View returns a new handle. Call Close when the window goes away.
func (m *Memory) View() *View {
	v := &View{
		store:  m,
		subs:   make(map[uint64]func(Change)),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.views[v] = struct{}{}
	m.mu.Unlock()
	go v.dispatch()
	return v
}

func (m *Memory) broadcast(from *View, c Change) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for v := range m.views {
		if v != from {
			v.enqueue(c)
		}
	}
}

// View is a Port backed by a Memory store. Notifications are delivered in
// order on a per-view goroutine.
type View struct {
	store *Memory

	mu     sync.Mutex
	subs   map[uint64]func(Change)
	nextID uint64
	queue  []Change
	closed bool

	notify chan struct{}
	done   chan struct{}
}

var _ Port = (*View)(nil)

func (v *View) Read(key string) (string, bool, error) {
	v.store.mu.RLock()
	defer v.store.mu.RUnlock()
	val, ok := v.store.data[key]
	return val, ok, nil
}

func (v *View) Write(key, value string) error {
	if v.isClosed() {
		return ErrClosed
	}
	v.store.mu.Lock()
	v.store.data[key] = value
	v.store.mu.Unlock()

	v.store.broadcast(v, Change{Key: key, Value: value})
	return nil
}

func (v *View) Delete(key string) error {
	if v.isClosed() {
		return ErrClosed
	}
	v.store.mu.Lock()
	_, existed := v.store.data[key]
	delete(v.store.data, key)
	v.store.mu.Unlock()

	if existed {
		v.store.broadcast(v, Change{Key: key, Deleted: true})
	}
	return nil
}

func (v *View) Subscribe(fn func(Change)) func() {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = fn
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	}
}

// Close detaches the view from the store and stops delivery.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	v.store.mu.Lock()
	delete(v.store.views, v)
	v.store.mu.Unlock()
	close(v.done)
	return nil
}

func (v *View) isClosed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closed
}

func (v *View) enqueue(c Change) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.queue = append(v.queue, c)
	v.mu.Unlock()

	select {
	case v.notify <- struct{}{}:
	default:
	}
}

func (v *View) dispatch() {
	for {
		select {
		case <-v.done:
			return
		case <-v.notify:
		}

		for {
			v.mu.Lock()
			if len(v.queue) == 0 || v.closed {
				v.mu.Unlock()
				break
			}
			c := v.queue[0]
			v.queue = v.queue[1:]
			subs := make([]func(Change), 0, len(v.subs))
			for id := uint64(0); id < v.nextID; id++ {
				if fn, ok := v.subs[id]; ok {
					subs = append(subs, fn)
				}
			}
			v.mu.Unlock()

			for _, fn := range subs {
				fn(c)
			}
		}
	}
}
