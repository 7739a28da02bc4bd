package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

// DefaultNullDuration is used for tracks whose duration is unknown.
const DefaultNullDuration = 180.0

// ErrOutputClosed is returned by outputs after Close.
var ErrOutputClosed = errors.New("output closed")

// NullOutput is a silent output that advances a clock. It lets the player run headless.
type NullOutput struct {
	mu       sync.Mutex
	loadID   uint64
	duration float64
	position float64
	volume   float64
	stop     chan struct{} // non-nil while playing
	tick     time.Duration
	closed   bool

	events chan OutputEvent
	done   chan struct{}
}

// NewNullOutput creates a silent output ticking at the given interval.
func NewNullOutput(tick time.Duration) *NullOutput {
	if tick <= 0 {
		tick = 250 * time.Millisecond
	}
	return &NullOutput{
		tick:   tick,
		volume: 1,
		events: make(chan OutputEvent, 64),
		done:   make(chan struct{}),
	}
}

// Load implements Output.
func (o *NullOutput) Load(ctx context.Context, loadID uint64, track music.Track) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, ErrOutputClosed
	}
	o.stopLocked()
	o.loadID = loadID
	o.position = 0
	o.duration = track.DurationSeconds
	if o.duration <= 0 {
		o.duration = DefaultNullDuration
	}
	return o.duration, nil
}

// Play implements Output.
func (o *NullOutput) Play(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrOutputClosed
	}
	if o.stop != nil {
		return nil
	}
	if o.position >= o.duration {
		o.position = 0
	}

	stop := make(chan struct{})
	o.stop = stop
	go o.run(stop)
	return nil
}

// Pause implements Output.
func (o *NullOutput) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	return nil
}

// Seek implements Output.
func (o *NullOutput) Seek(seconds float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.position = seconds
	return nil
}

// SetVolume implements Output.
func (o *NullOutput) SetVolume(v float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = v
	return nil
}

// Events implements Output.
func (o *NullOutput) Events() <-chan OutputEvent {
	return o.events
}

// Close implements Output.
func (o *NullOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	o.stopLocked()
	close(o.done)
	return nil
}

func (o *NullOutput) stopLocked() {
	if o.stop != nil {
		close(o.stop)
		o.stop = nil
	}
}

func (o *NullOutput) run(stop chan struct{}) {
	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			o.mu.Lock()
			if o.stop != stop {
				o.mu.Unlock()
				return
			}
			o.position += now.Sub(last).Seconds()
			last = now

			ev := OutputEvent{LoadID: o.loadID, Kind: OutputTick, Position: o.position, Duration: o.duration, Buffered: 100}
			ended := o.position >= o.duration
			if ended {
				o.position = o.duration
				ev = OutputEvent{LoadID: o.loadID, Kind: OutputEnded, Position: o.duration, Duration: o.duration}
				o.stop = nil
			}
			o.mu.Unlock()

			// never send with the lock held
			select {
			case o.events <- ev:
			case <-o.done:
				return
			}
			if ended {
				return
			}
		}
	}
}
