package mpd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
	"github.com/edumarques81/stellar-offline-player/internal/domain/player"
)

// DefaultPollInterval is how often the daemon status is read while playing.
const DefaultPollInterval = 500 * time.Millisecond

// Conn is the subset of Client the output drives.
type Conn interface {
	Status() (mpd.Attrs, error)
	TakeOver() error
	Replace(uri string) error
	Play(pos int) error
	Pause(pause bool) error
	Stop() error
	Seek(seconds float64) error
	SetVolume(vol int) error
}

// StatusSink receives raw daemon state and audio format.
type StatusSink interface {
	UpdateFromMPDStatus(mpdState, audio string) bool
}

// URIMapper turns a track into a URI the daemon can open.
type URIMapper func(track music.Track) string

// Output implements player.Output on an MPD daemon.
// The daemon queue holds exactly the loaded track.
type Output struct {
	conn     Conn
	uriFor   URIMapper
	sink     StatusSink
	interval time.Duration
	changes  <-chan string

	mu         sync.Mutex
	loadID     uint64
	duration   float64
	started    bool    // the daemon has been told to play the loaded track
	pendingPos float64 // seek requested before the first play
	polling    chan struct{}
	closed     bool

	events chan player.OutputEvent
	done   chan struct{}
}

// OutputOption configures an Output.
type OutputOption func(*Output)

// WithURIMapper sets how tracks are handed to the daemon. Defaults to the audio locator.
func WithURIMapper(fn URIMapper) OutputOption {
	return func(o *Output) {
		o.uriFor = fn
	}
}

// WithStatusSink reports the daemon state on every poll.
func WithStatusSink(s StatusSink) OutputOption {
	return func(o *Output) {
		o.sink = s
	}
}

// WithPollInterval sets the status poll interval.
func WithPollInterval(d time.Duration) OutputOption {
	return func(o *Output) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithChanges reads the status as soon as the daemon reports a change on ch,
// such as the channel returned by Client.Watch.
func WithChanges(ch <-chan string) OutputOption {
	return func(o *Output) {
		o.changes = ch
	}
}

// NewOutput creates an MPD output over conn.
func NewOutput(conn Conn, opts ...OutputOption) *Output {
	o := &Output{
		conn:     conn,
		uriFor:   func(t music.Track) string { return t.AudioLocator },
		interval: DefaultPollInterval,
		events:   make(chan player.OutputEvent, 64),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}

	if err := conn.TakeOver(); err != nil {
		log.Warn().Err(err).Msg("Failed to reset MPD queue modes")
	}
	return o
}

// Load implements player.Output. The daemon is left stopped on the new track.
func (o *Output) Load(ctx context.Context, loadID uint64, track music.Track) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return 0, player.ErrOutputClosed
	}
	o.stopPollingLocked()
	o.loadID = loadID
	o.started = false
	o.pendingPos = 0
	o.duration = track.DurationSeconds
	o.mu.Unlock()

	uri := o.uriFor(track)
	if err := o.conn.Stop(); err != nil {
		return 0, fmt.Errorf("stop: %w", err)
	}
	if err := o.conn.Replace(uri); err != nil {
		return 0, err
	}

	log.Debug().Str("id", track.ID).Str("uri", uri).Msg("Track queued on MPD")
	return track.DurationSeconds, nil
}

// Play implements player.Output.
func (o *Output) Play(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return player.ErrOutputClosed
	}
	started, pending, loadID := o.started, o.pendingPos, o.loadID
	o.mu.Unlock()

	if !started {
		if err := o.conn.Play(0); err != nil {
			return fmt.Errorf("play: %w", err)
		}
		if pending > 0 {
			if err := o.conn.Seek(pending); err != nil {
				log.Warn().Err(err).Float64("position", pending).Msg("Failed to apply pending seek")
			}
		}
	} else if err := o.conn.Pause(false); err != nil {
		return fmt.Errorf("resume: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.loadID != loadID {
		// a newer load arrived while the daemon was starting
		return nil
	}
	o.started = true
	o.pendingPos = 0
	if o.polling == nil {
		o.polling = make(chan struct{})
		go o.poll(loadID, o.polling)
	}
	return nil
}

// Pause implements player.Output.
func (o *Output) Pause() error {
	o.mu.Lock()
	started := o.started
	o.stopPollingLocked()
	o.mu.Unlock()

	if !started {
		return nil
	}
	return o.conn.Pause(true)
}

// Seek implements player.Output.
func (o *Output) Seek(seconds float64) error {
	o.mu.Lock()
	if !o.started {
		o.pendingPos = seconds
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	return o.conn.Seek(seconds)
}

// SetVolume implements player.Output.
func (o *Output) SetVolume(v float64) error {
	return o.conn.SetVolume(int(v*100 + 0.5))
}

// Events implements player.Output.
func (o *Output) Events() <-chan player.OutputEvent {
	return o.events
}

// Close implements player.Output. The daemon is stopped but the connection stays with its owner.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.stopPollingLocked()
	close(o.done)
	o.mu.Unlock()

	return o.conn.Stop()
}

func (o *Output) stopPollingLocked() {
	if o.polling != nil {
		close(o.polling)
		o.polling = nil
	}
}

// poll reads the daemon status until paused, replaced or finished.
// A play to stop transition is the end of the track.
func (o *Output) poll(loadID uint64, stop chan struct{}) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	changes := o.changes
	sawPlay := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		case _, ok := <-changes:
			if !ok {
				changes = nil
			}
		}

		attrs, err := o.conn.Status()
		if err != nil {
			log.Debug().Err(err).Msg("MPD status failed")
			continue
		}

		o.mu.Lock()
		if o.polling != stop || o.loadID != loadID {
			o.mu.Unlock()
			return
		}

		st := parseStatus(attrs)
		if st.duration > 0 {
			o.duration = st.duration
		}
		dur := o.duration

		var ev *player.OutputEvent
		switch {
		case st.err != "":
			o.stopPollingLocked()
			ev = &player.OutputEvent{LoadID: loadID, Kind: player.OutputFailed, Err: errors.New(st.err)}
		case st.state == "play":
			sawPlay = true
			ev = &player.OutputEvent{LoadID: loadID, Kind: player.OutputTick, Position: st.elapsed, Duration: dur, Buffered: 100}
		case st.state == "stop" && sawPlay:
			o.stopPollingLocked()
			o.started = false
			ev = &player.OutputEvent{LoadID: loadID, Kind: player.OutputEnded, Position: dur, Duration: dur}
		}
		o.mu.Unlock()

		if o.sink != nil {
			o.sink.UpdateFromMPDStatus(st.state, st.audio)
		}
		if ev == nil {
			continue
		}

		select {
		case o.events <- *ev:
		case <-o.done:
			return
		}
		if ev.Kind != player.OutputTick {
			return
		}
	}
}

type daemonStatus struct {
	state    string
	elapsed  float64
	duration float64
	audio    string
	err      string
}

func parseStatus(attrs mpd.Attrs) daemonStatus {
	st := daemonStatus{
		state: attrs["state"],
		audio: attrs["audio"],
		err:   attrs["error"],
	}
	if v, err := strconv.ParseFloat(attrs["elapsed"], 64); err == nil {
		st.elapsed = v
	}
	if v, err := strconv.ParseFloat(attrs["duration"], 64); err == nil {
		st.duration = v
	}
	return st
}
