package windowsync

import "sync"

// mailbox delivers messages to a handler in order on its own goroutine, so
// senders never run receiver code.
type mailbox struct {
	mu      sync.Mutex
	queue   []Message
	handler func(Message)
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func newMailbox() *mailbox {
	mb := &mailbox{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go mb.run()
	return mb
}

func (mb *mailbox) setHandler(fn func(Message)) {
	mb.mu.Lock()
	mb.handler = fn
	mb.mu.Unlock()
	mb.signal()
}

func (mb *mailbox) post(msg Message) bool {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return false
	}
	mb.queue = append(mb.queue, msg)
	mb.mu.Unlock()
	mb.signal()
	return true
}

func (mb *mailbox) signal() {
	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

// reset drops the handler and anything queued.
func (mb *mailbox) reset() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.handler = nil
	mb.queue = nil
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	mb.queue = nil
	close(mb.done)
}

func (mb *mailbox) run() {
	for {
		select {
		case <-mb.done:
			return
		case <-mb.wake:
		}
		for {
			mb.mu.Lock()
			if mb.closed || mb.handler == nil || len(mb.queue) == 0 {
				mb.mu.Unlock()
				break
			}
			msg := mb.queue[0]
			mb.queue = mb.queue[1:]
			fn := mb.handler
			mb.mu.Unlock()
			fn(msg)
		}
	}
}
