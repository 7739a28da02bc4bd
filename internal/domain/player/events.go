package player

import (
	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

// EventType identifies an engine notification.
type EventType string

const (
	EventSnapshot  EventType = "snapshot"
	EventState     EventType = "state"
	EventTrackList EventType = "trackList"
	EventError     EventType = "error"
)

// Event is delivered to subscribers in the order the engine produced it.
type Event struct {
	Type     EventType
	Snapshot Snapshot      // EventSnapshot
	State    State         // EventState
	Tracks   []music.Track // EventTrackList
	Err      *music.Error  // EventError
}

// Subscribe registers fn for engine events. Callbacks run on a single dispatcher
// goroutine without the engine lock held, so they may call engine methods.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// emit queues an event. Callers hold e.mu.
func (e *Engine) emit(ev Event) {
	e.queue = append(e.queue, ev)
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

func (e *Engine) emitState() {
	e.emit(Event{Type: EventState, State: e.stateLocked()})
}

func (e *Engine) emitSnapshot() {
	e.emit(Event{Type: EventSnapshot, Snapshot: e.stateLocked().Snapshot()})
}

func (e *Engine) dispatch() {
	defer e.wg.Done()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.signal:
		}

		e.mu.Lock()
		batch := e.queue
		e.queue = nil
		subs := make([]func(Event), 0, len(e.subs))
		for _, fn := range e.subs {
			subs = append(subs, fn)
		}
		e.mu.Unlock()

		for _, ev := range batch {
			for _, fn := range subs {
				fn(ev)
			}
		}
	}
}
