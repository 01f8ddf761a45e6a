package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// LongPressThreshold is how long the play/pause control must be held to reset.
const LongPressThreshold = time.Second

// PressTracker tells a short click from a long press on a single control.
// A long press fires onLong once while still held and suppresses onShort.
type PressTracker struct {
	clock     clockwork.Clock
	threshold time.Duration
	onShort   func()
	onLong    func()

	mu       sync.Mutex
	pressed  bool
	longDone bool
	gen      uint64
	timer    clockwork.Timer
}

func NewPressTracker(clock clockwork.Clock, threshold time.Duration, onShort, onLong func()) *PressTracker {
	if threshold <= 0 {
		threshold = LongPressThreshold
	}
	return &PressTracker{
		clock:     clock,
		threshold: threshold,
		onShort:   onShort,
		onLong:    onLong,
	}
}

// Press starts a hold. Repeated presses while held are ignored.
func (p *PressTracker) Press() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pressed {
		return
	}
	p.pressed = true
	p.longDone = false
	p.gen++
	gen := p.gen
	p.timer = p.clock.AfterFunc(p.threshold, func() {
		p.mu.Lock()
		if !p.pressed || p.longDone || p.gen != gen {
			p.mu.Unlock()
			return
		}
		p.longDone = true
		p.mu.Unlock()
		if p.onLong != nil {
			p.onLong()
		}
	})
}

// Release ends a hold, firing onShort if the long press did not fire.
func (p *PressTracker) Release() {
	p.mu.Lock()
	if !p.pressed {
		p.mu.Unlock()
		return
	}
	p.pressed = false
	if p.timer != nil {
		p.timer.Stop()
	}
	short := !p.longDone
	p.mu.Unlock()

	if short && p.onShort != nil {
		p.onShort()
	}
}

// Cancel abandons a hold without firing anything (pointer left the control).
func (p *PressTracker) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pressed = false
	if p.timer != nil {
		p.timer.Stop()
	}
}
