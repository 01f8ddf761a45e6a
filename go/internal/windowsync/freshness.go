package windowsync

import "sync"

// Freshness drops snapshots that are not newer than the last one applied
// from the same sender, whatever path they arrived on.
type Freshness struct {
	mu   sync.Mutex
	last map[string]uint64
}

func NewFreshness() *Freshness {
	return &Freshness{last: make(map[string]uint64)}
}

// Accept records msg and reports whether it is the newest seen from its sender.
// Messages without a sequence number are always accepted.
func (f *Freshness) Accept(msg Message) bool {
	if msg.Seq == 0 {
		return true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if msg.Seq <= f.last[msg.WindowID] {
		return false
	}
	f.last[msg.WindowID] = msg.Seq
	return true
}

// Forget clears the record for a sender.
func (f *Freshness) Forget(windowID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.last, windowID)
}
