package socketio

import (
	"sync"
	"time"

	"github.com/edumarques81/stellar-offline-player/internal/domain/player"
)

// BroadcastDebouncer collapses rapid engine notifications into batched broadcasts.
// Notifications within the window produce one pushState and/or one pushSnapshot.
// A steady stream still flushes at least every maxWait.
type BroadcastDebouncer struct {
	window           time.Duration
	maxWait          time.Duration
	stateCallback    func()
	snapshotCallback func()

	mu              sync.Mutex
	pendingState    bool
	pendingSnapshot bool
	firstPending    time.Time
	timer           *time.Timer
	stopped         bool
}

// NewBroadcastDebouncer creates a debouncer with the given window duration.
// stateCallback runs for state changes, snapshotCallback for progress and state changes.
func NewBroadcastDebouncer(window time.Duration, stateCallback, snapshotCallback func()) *BroadcastDebouncer {
	return &BroadcastDebouncer{
		window:           window,
		maxWait:          4 * window,
		stateCallback:    stateCallback,
		snapshotCallback: snapshotCallback,
	}
}

// Trigger records an engine notification. Callbacks run once the window elapses
// without further triggers.
func (d *BroadcastDebouncer) Trigger(kind player.EventType) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	switch kind {
	case player.EventState:
		d.pendingState = true
		d.pendingSnapshot = true
	case player.EventSnapshot:
		d.pendingSnapshot = true
	default:
		return
	}

	now := time.Now()
	if d.firstPending.IsZero() {
		d.firstPending = now
	}

	delay := d.window
	if overdue := d.firstPending.Add(d.maxWait).Sub(now); overdue < delay {
		delay = max(overdue, 0)
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(delay, d.flush)
}

// flush fires callbacks for any pending flags and resets them.
func (d *BroadcastDebouncer) flush() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	doState := d.pendingState
	doSnapshot := d.pendingSnapshot
	d.pendingState = false
	d.pendingSnapshot = false
	d.firstPending = time.Time{}
	d.mu.Unlock()

	if doState && d.stateCallback != nil {
		d.stateCallback()
	}
	if doSnapshot && d.snapshotCallback != nil {
		d.snapshotCallback()
	}
}

// Stop prevents any further callbacks from firing.
func (d *BroadcastDebouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pendingState = false
	d.pendingSnapshot = false
}
