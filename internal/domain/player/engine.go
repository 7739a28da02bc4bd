package player

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-offline-player/internal/domain/history"
	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

// restartThreshold is how far into a track Previous restarts it instead of going back.
const restartThreshold = 3.0

// PlayRecorder receives a record for every track that starts playing.
type PlayRecorder interface {
	RecordPlay(track music.Track, origin history.Origin)
}

// DurationSink receives durations discovered during playback or preload.
type DurationSink func(trackID string, seconds float64)

// Engine owns the single live Output and all transport semantics.
//
// Every command runs under one mutex. Load and Play run on goroutines; their
// continuations re-take the lock and are dropped when the load generation has
// moved on, so the last track change always wins.
type Engine struct {
	out Output

	mu          sync.Mutex
	tracks      []music.Track
	current     *music.Track
	origin      history.Origin
	recorded    bool
	position    float64
	duration    float64
	buffered    float64
	isPlaying   bool // what the output is actually doing
	wantPlay    bool // what the user asked for
	loaded      bool
	playPending bool
	gen         uint64
	status      Status
	lastErr     *music.Error
	repeat      bool
	shuffle     bool
	volume      float64
	muted       bool
	loadCtx     context.Context
	cancelLoad  context.CancelFunc
	rng         *rand.Rand

	subs    map[int]func(Event)
	nextSub int
	queue   []Event
	signal  chan struct{}

	recorder     PlayRecorder
	durationSink DurationSink

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithPlayRecorder records plays into a history.
func WithPlayRecorder(r PlayRecorder) EngineOption {
	return func(e *Engine) {
		e.recorder = r
	}
}

// WithDurationSink forwards discovered durations, typically to the local store.
func WithDurationSink(fn DurationSink) EngineOption {
	return func(e *Engine) {
		e.durationSink = fn
	}
}

// WithRandSource makes shuffle deterministic (useful for testing).
func WithRandSource(src rand.Source) EngineOption {
	return func(e *Engine) {
		e.rng = rand.New(src)
	}
}

// WithInitialVolume sets the starting volume (0..1).
func WithInitialVolume(v float64) EngineOption {
	return func(e *Engine) {
		e.volume = clamp01(v)
	}
}

// NewEngine creates an engine that owns out. Close releases both.
func NewEngine(out Output, opts ...EngineOption) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		out:    out,
		status: StatusIdle,
		volume: 1,
		subs:   make(map[int]func(Event)),
		signal: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.rng == nil {
		e.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5e11a))
	}

	if err := out.SetVolume(e.volume); err != nil {
		log.Warn().Err(err).Msg("Failed to apply initial volume")
	}

	e.wg.Add(2)
	go e.dispatch()
	go e.watchOutput()

	return e
}

// Close stops the engine and releases the output.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.cancel()
		err = e.out.Close()
		e.wg.Wait()
	})
	return err
}

// --- Queries ---

// State returns a copy of the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stateLocked()
}

// Snapshot returns the persistable part of the state.
func (e *Engine) Snapshot() Snapshot {
	return e.State().Snapshot()
}

// Tracks returns a copy of the track list.
func (e *Engine) Tracks() []music.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]music.Track, len(e.tracks))
	copy(out, e.tracks)
	return out
}

// --- Commands ---

// SetTracks replaces the track list. A current track missing from the new list is
// dropped and the engine returns to Idle; a surviving one keeps playing untouched.
func (e *Engine) SetTracks(tracks []music.Track) {
	e.mu.Lock()
	defer e.mu.Unlock()

	known := make(map[string]float64, len(e.tracks))
	for _, t := range e.tracks {
		if t.HasDuration() {
			known[t.ID] = t.DurationSeconds
		}
	}

	next := make([]music.Track, len(tracks))
	copy(next, tracks)
	for i := range next {
		if !next[i].HasDuration() {
			next[i].DurationSeconds = known[next[i].ID]
		}
	}
	e.tracks = next

	if e.current != nil {
		if idx := music.IndexOf(next, e.current.ID); idx >= 0 {
			t := next[idx]
			if !t.HasDuration() {
				t.DurationSeconds = e.duration
			}
			e.current = &t
		} else {
			log.Info().Str("id", e.current.ID).Msg("Current track left the list, stopping")
			e.resetLocked()
		}
	}

	e.emit(Event{Type: EventTrackList, Tracks: e.tracksCopyLocked()})
	e.emitState()
}

// SelectTrack plays the track with the given id. Selecting the current track toggles play/pause.
func (e *Engine) SelectTrack(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := music.IndexOf(e.tracks, id)
	if idx < 0 {
		return music.ErrTrackNotFound
	}

	if e.current != nil && e.current.ID == id {
		e.toggleLocked()
		return nil
	}

	log.Debug().Str("id", id).Msg("Select track")
	e.loadLocked(e.tracks[idx], 0, true, history.OriginManual)
	return nil
}

// TogglePlayPause flips the play intent. In Error it retries the current track.
func (e *Engine) TogglePlayPause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.toggleLocked()
}

// Play asks the output to play.
func (e *Engine) Play() {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case e.current == nil, e.status == StatusError:
		e.toggleLocked()
	default:
		e.playLocked()
	}
}

// Pause asks the output to pause.
func (e *Engine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pauseLocked()
}

// Seek moves the position, clamped to [0, duration].
func (e *Engine) Seek(seconds float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.seekLocked(seconds)
}

// Next advances per shuffle mode.
func (e *Engine) Next() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextLocked(history.OriginManual)
}

// Previous restarts the current track after the first few seconds, otherwise goes back one.
func (e *Engine) Previous() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == nil {
		return
	}

	if e.position > restartThreshold {
		e.seekLocked(0)
		return
	}

	n := len(e.tracks)
	if n <= 1 {
		return
	}

	idx := 0
	if cur := music.IndexOf(e.tracks, e.current.ID); cur >= 0 {
		idx = (cur - 1 + n) % n
	}
	e.loadLocked(e.tracks[idx], 0, true, history.OriginManual)
}

// Cue loads the track at the given position, playing only if play is set.
// When the track is already current the live output is repositioned instead.
func (e *Engine) Cue(id string, at float64, play bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	idx := music.IndexOf(e.tracks, id)
	if idx < 0 {
		return music.ErrTrackNotFound
	}

	if e.current != nil && e.current.ID == id && e.status != StatusError {
		// a snapshot taken mid-load reads not playing; keep the pending start
		pending := e.wantPlay && !e.isPlaying && (e.status == StatusLoading || e.playPending)
		e.seekLocked(at)
		switch {
		case play:
			e.playLocked()
		case pending:
			e.emitState()
		default:
			e.pauseLocked()
		}
		return nil
	}

	t := e.tracks[idx]
	if at < 0 {
		at = 0
	}
	if t.HasDuration() && at > t.DurationSeconds {
		at = t.DurationSeconds
	}
	e.loadLocked(t, at, play, history.OriginManual)
	return nil
}

// SetVolume sets the volume (0..1). Mute is kept separately.
func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.volume = clamp01(v)
	e.applyVolumeLocked()
	e.emitState()
}

// ToggleMute flips mute without touching the stored volume.
func (e *Engine) ToggleMute() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.muted = !e.muted
	e.applyVolumeLocked()
	e.emitState()
}

// SetRepeat turns repeat-one on or off.
func (e *Engine) SetRepeat(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.repeat = on
	e.emitState()
}

// SetShuffle turns shuffle on or off.
func (e *Engine) SetShuffle(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shuffle = on
	e.emitState()
}

// ReportDuration records a duration learned outside the output, e.g. by a probe.
func (e *Engine) ReportDuration(id string, seconds float64) {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.setDurationLocked(id, seconds) {
		e.emit(Event{Type: EventTrackList, Tracks: e.tracksCopyLocked()})
	}
}

// --- Internals (e.mu held) ---

func (e *Engine) toggleLocked() {
	if e.current == nil {
		if len(e.tracks) == 0 {
			return
		}
		e.loadLocked(e.tracks[0], 0, true, history.OriginManual)
		return
	}

	if e.status == StatusError {
		log.Debug().Str("id", e.current.ID).Msg("Retrying track after error")
		e.loadLocked(*e.current, 0, true, history.OriginManual)
		return
	}

	if e.wantPlay {
		e.pauseLocked()
	} else {
		e.playLocked()
	}
}

func (e *Engine) playLocked() {
	if e.current == nil {
		return
	}
	e.wantPlay = true
	if e.status == StatusEnded {
		e.position = 0
		if err := e.out.Seek(0); err != nil {
			log.Warn().Err(err).Msg("Failed to rewind output")
		}
	}
	if e.loaded && !e.isPlaying {
		e.startPlayLocked()
	}
	e.emitState()
}

func (e *Engine) pauseLocked() {
	e.wantPlay = false
	if e.loaded {
		if err := e.out.Pause(); err != nil {
			log.Warn().Err(err).Msg("Failed to pause output")
		}
		if e.status == StatusPlaying || e.status == StatusReady {
			e.status = StatusPaused
		}
	}
	e.isPlaying = false
	e.emitState()
	e.emitSnapshot()
}

func (e *Engine) seekLocked(seconds float64) {
	if e.current == nil || math.IsNaN(seconds) {
		return
	}
	if seconds < 0 {
		seconds = 0
	}
	if e.duration > 0 && seconds > e.duration {
		seconds = e.duration
	}
	e.position = seconds
	if e.loaded {
		if err := e.out.Seek(seconds); err != nil {
			log.Warn().Err(err).Float64("position", seconds).Msg("Failed to seek output")
		}
	}
	if e.status == StatusEnded {
		e.status = StatusPaused
	}
	e.emitSnapshot()
}

func (e *Engine) nextLocked(origin history.Origin) {
	n := len(e.tracks)
	if n == 0 {
		return
	}
	if e.current == nil {
		e.loadLocked(e.tracks[0], 0, true, origin)
		return
	}
	if n == 1 {
		return
	}

	cur := music.IndexOf(e.tracks, e.current.ID)
	var idx int
	switch {
	case e.shuffle && cur >= 0:
		// uniform over every index except cur
		idx = e.rng.IntN(n - 1)
		if idx >= cur {
			idx++
		}
	case e.shuffle:
		idx = e.rng.IntN(n)
	default:
		idx = (cur + 1) % n
	}
	e.loadLocked(e.tracks[idx], 0, true, origin)
}

// loadLocked makes track current and starts loading it under a new generation.
func (e *Engine) loadLocked(track music.Track, startAt float64, autoplay bool, origin history.Origin) {
	e.gen++
	gen := e.gen
	if e.cancelLoad != nil {
		e.cancelLoad()
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.loadCtx, e.cancelLoad = ctx, cancel

	t := track
	e.current = &t
	e.origin = origin
	e.recorded = false
	e.position = startAt
	e.duration = t.DurationSeconds
	e.buffered = 0
	e.isPlaying = false
	e.wantPlay = autoplay
	e.loaded = false
	e.playPending = false
	e.status = StatusLoading
	e.lastErr = nil

	e.emitState()
	e.emitSnapshot()

	e.wg.Add(1)
	go e.runLoad(ctx, gen, t)
}

func (e *Engine) runLoad(ctx context.Context, gen uint64, t music.Track) {
	defer e.wg.Done()

	dur, err := e.out.Load(ctx, gen, t)

	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen {
		log.Debug().Str("id", t.ID).Uint64("gen", gen).Msg("Discarding stale load")
		return
	}
	if err != nil {
		e.failLocked(t.ID, err)
		return
	}

	e.loaded = true
	if dur > 0 {
		e.setDurationLocked(t.ID, dur)
	}
	if e.duration > 0 && e.position > e.duration {
		e.position = e.duration
	}
	if e.position > 0 {
		if err := e.out.Seek(e.position); err != nil {
			log.Warn().Err(err).Msg("Failed to restore position")
		}
	}

	e.status = StatusReady
	if e.wantPlay {
		e.startPlayLocked()
	}
	e.emitState()
}

func (e *Engine) startPlayLocked() {
	if e.playPending {
		return
	}
	e.playPending = true
	gen := e.gen
	ctx := e.loadCtx

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		err := e.out.Play(ctx)

		e.mu.Lock()
		defer e.mu.Unlock()

		if gen != e.gen {
			// a stale play may have started the newly loaded track
			if err == nil && e.loaded && !e.wantPlay {
				e.out.Pause()
			}
			return
		}
		e.playPending = false

		if !e.wantPlay {
			// paused while the request was in flight
			if err == nil {
				e.out.Pause()
			}
			return
		}

		if err != nil {
			if e.ctx.Err() != nil {
				return
			}
			e.isPlaying = false
			e.wantPlay = false
			e.status = StatusPaused
			me := music.NewError(music.KindPlaybackRejected, e.current.ID, "Playback was blocked, press play to try again", err)
			log.Warn().Err(err).Str("id", e.current.ID).Msg("Playback rejected")
			e.emit(Event{Type: EventError, Err: me})
			e.emitState()
			e.emitSnapshot()
			return
		}

		e.isPlaying = true
		e.status = StatusPlaying
		if !e.recorded && e.recorder != nil {
			e.recorded = true
			e.recorder.RecordPlay(*e.current, e.origin)
		}
		e.emitState()
		e.emitSnapshot()
	}()
}

func (e *Engine) failLocked(trackID string, err error) {
	if e.ctx.Err() != nil {
		return
	}
	e.status = StatusError
	e.isPlaying = false
	e.wantPlay = false
	e.loaded = false
	e.playPending = false

	me := music.NewError(music.KindAssetLoadFailed, trackID, "Failed to play this track", err)
	e.lastErr = me
	log.Warn().Err(err).Str("id", trackID).Msg("Track failed to load")

	e.emit(Event{Type: EventError, Err: me})
	e.emitState()
	e.emitSnapshot()
}

// resetLocked drops the current track and invalidates pending continuations.
func (e *Engine) resetLocked() {
	e.gen++
	if e.cancelLoad != nil {
		e.cancelLoad()
		e.cancelLoad = nil
	}
	if e.loaded {
		if err := e.out.Pause(); err != nil {
			log.Warn().Err(err).Msg("Failed to pause output")
		}
	}
	e.current = nil
	e.position = 0
	e.duration = 0
	e.buffered = 0
	e.isPlaying = false
	e.wantPlay = false
	e.loaded = false
	e.playPending = false
	e.status = StatusIdle
	e.lastErr = nil
	e.emitSnapshot()
}

// setDurationLocked stores a discovered duration and reports whether it changed.
func (e *Engine) setDurationLocked(id string, d float64) bool {
	if e.current != nil && e.current.ID == id {
		e.duration = d
		e.current.DurationSeconds = d
	}

	idx := music.IndexOf(e.tracks, id)
	if idx < 0 || math.Abs(e.tracks[idx].DurationSeconds-d) < 0.5 {
		return false
	}
	e.tracks[idx].DurationSeconds = d

	if e.durationSink != nil {
		sink := e.durationSink
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			sink(id, d)
		}()
	}
	return true
}

func (e *Engine) applyVolumeLocked() {
	v := e.volume
	if e.muted {
		v = 0
	}
	if err := e.out.SetVolume(v); err != nil {
		log.Warn().Err(err).Float64("volume", v).Msg("Failed to set output volume")
	}
}

func (e *Engine) onEndedLocked() {
	if e.repeat {
		e.position = 0
		if err := e.out.Seek(0); err != nil {
			log.Warn().Err(err).Msg("Failed to rewind for repeat")
		}
		e.wantPlay = true
		e.isPlaying = false
		e.startPlayLocked()
		e.emitSnapshot()
		return
	}

	e.status = StatusEnded
	e.isPlaying = false
	e.wantPlay = false
	if e.duration > 0 {
		e.position = e.duration
	}
	e.emitState()
	e.emitSnapshot()

	e.nextLocked(history.OriginAuto)
}

func (e *Engine) stateLocked() State {
	s := State{
		Status:     e.status,
		Position:   e.position,
		Duration:   e.duration,
		Buffered:   e.buffered,
		IsPlaying:  e.isPlaying,
		Generation: e.gen,
		Repeat:     e.repeat,
		Shuffle:    e.shuffle,
		Volume:     e.volume,
		Mute:       e.muted,
	}
	if e.current != nil {
		t := *e.current
		s.Track = &t
	}
	if e.lastErr != nil {
		s.Error = &ErrorInfo{Kind: e.lastErr.Kind, Message: e.lastErr.Message, TrackID: e.lastErr.TrackID}
	}
	return s
}

func (e *Engine) tracksCopyLocked() []music.Track {
	out := make([]music.Track, len(e.tracks))
	copy(out, e.tracks)
	return out
}

// --- Output events ---

func (e *Engine) watchOutput() {
	defer e.wg.Done()

	events := e.out.Events()
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			e.handleOutput(ev)
		}
	}
}

func (e *Engine) handleOutput(ev OutputEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ev.LoadID != e.gen || e.current == nil {
		return
	}

	switch ev.Kind {
	case OutputTick:
		e.position = ev.Position
		if ev.Duration > 0 && math.Abs(ev.Duration-e.duration) >= 0.5 {
			e.setDurationLocked(e.current.ID, ev.Duration)
		}
		e.buffered = ev.Buffered
		e.emitSnapshot()
	case OutputEnded:
		e.onEndedLocked()
	case OutputFailed:
		e.failLocked(e.current.ID, ev.Err)
	}
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
