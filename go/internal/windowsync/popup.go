package windowsync

import (
	"errors"
	"sync"
)

var ErrWindowClosed = errors.New("target window closed")

// WindowHandle is a direct reference to one other window, such as a popup
// and the page that opened it. Close detaches the listener but keeps the
// window; Shutdown closes the window itself.
type WindowHandle struct {
	inbox *mailbox

	mu       sync.Mutex
	peer     *WindowHandle
	detached bool
	closed   bool
}

var _ Transport = (*WindowHandle)(nil)

// OpenPopup returns the two ends of an opener/popup pair.
func OpenPopup() (opener, popup *WindowHandle) {
	opener = &WindowHandle{inbox: newMailbox(), detached: true}
	popup = &WindowHandle{inbox: newMailbox(), detached: true}
	opener.peer = popup
	popup.peer = opener
	return opener, popup
}

func (w *WindowHandle) Name() string { return "window" }

func (w *WindowHandle) Send(msg Message) error {
	w.mu.Lock()
	peer, closed := w.peer, w.closed
	w.mu.Unlock()
	if closed || peer == nil {
		return ErrWindowClosed
	}
	return peer.deliver(msg)
}

func (w *WindowHandle) deliver(msg Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWindowClosed
	}
	if w.detached {
		return nil
	}
	w.inbox.post(msg)
	return nil
}

func (w *WindowHandle) Listen(fn func(Message)) {
	w.mu.Lock()
	w.detached = false
	w.mu.Unlock()
	w.inbox.setHandler(fn)
}

// Closed reports whether this window has been shut down.
func (w *WindowHandle) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *WindowHandle) Close() error {
	w.mu.Lock()
	w.detached = true
	w.mu.Unlock()
	w.inbox.reset()
	return nil
}

// Shutdown closes the window. Its peer gets ErrWindowClosed from then on.
func (w *WindowHandle) Shutdown() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.inbox.close()
}

// WindowFactory uses a held window reference. It fails when the reference is
// missing or either window has been shut down.
func WindowFactory(h *WindowHandle) TransportFactory {
	return TransportFactory{
		Name: "window",
		New: func() (Transport, error) {
			if h == nil {
				return nil, errors.New("no window reference")
			}
			h.mu.Lock()
			peer, closed := h.peer, h.closed
			h.mu.Unlock()
			if closed || peer == nil || peer.Closed() {
				return nil, ErrWindowClosed
			}
			return h, nil
		},
	}
}
