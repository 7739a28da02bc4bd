package player_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/edumarques81/stellar-offline-player/internal/domain/history"
	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
	"github.com/edumarques81/stellar-offline-player/internal/domain/player"
)

// fakeOutput implements player.Output for testing
type fakeOutput struct {
	mu        sync.Mutex
	gates     map[string]chan struct{}
	loadErrs  map[string]error
	durations map[string]float64
	playErr   error

	loads  []string
	plays  int
	pauses int
	seeks  []float64
	volume float64

	events chan player.OutputEvent
}

func newFakeOutput() *fakeOutput {
	return &fakeOutput{
		gates:     make(map[string]chan struct{}),
		loadErrs:  make(map[string]error),
		durations: make(map[string]float64),
		volume:    -1,
		events:    make(chan player.OutputEvent, 16),
	}
}

func (f *fakeOutput) Load(ctx context.Context, loadID uint64, t music.Track) (float64, error) {
	f.mu.Lock()
	f.loads = append(f.loads, t.ID)
	gate := f.gates[t.ID]
	err := f.loadErrs[t.ID]
	d := f.durations[t.ID]
	f.mu.Unlock()

	// a slow platform ignores cancellation
	if gate != nil {
		<-gate
	}
	return d, err
}

func (f *fakeOutput) Play(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	return f.playErr
}

func (f *fakeOutput) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakeOutput) Seek(seconds float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeks = append(f.seeks, seconds)
	return nil
}

func (f *fakeOutput) SetVolume(v float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = v
	return nil
}

func (f *fakeOutput) Events() <-chan player.OutputEvent { return f.events }

func (f *fakeOutput) Close() error { return nil }

func (f *fakeOutput) loadCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, l := range f.loads {
		if l == id {
			n++
		}
	}
	return n
}

func (f *fakeOutput) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

func (f *fakeOutput) currentVolume() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.volume
}

// mockRecorder implements player.PlayRecorder for testing
type mockRecorder struct {
	mu    sync.Mutex
	plays []string
}

func (m *mockRecorder) RecordPlay(t music.Track, origin history.Origin) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plays = append(m.plays, t.ID+":"+string(origin))
}

func (m *mockRecorder) recorded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.plays...)
}

// eventCollector records engine events
type eventCollector struct {
	mu     sync.Mutex
	events []player.Event
}

func (c *eventCollector) add(ev player.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) errors() []*music.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*music.Error
	for _, ev := range c.events {
		if ev.Type == player.EventError {
			out = append(out, ev.Err)
		}
	}
	return out
}

func (c *eventCollector) count(typ player.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

var abc = []music.Track{
	{ID: "A", Title: "Sining", Artist: "Dionela", AudioLocator: "a.mp3"},
	{ID: "B", Title: "Kagome", Artist: "Lo Ki", AudioLocator: "b.mp3"},
	{ID: "C", Title: "Sanctuary", Artist: "Joji", AudioLocator: "c.mp3"},
}

func newTestEngine(t *testing.T, out *fakeOutput, opts ...player.EngineOption) *player.Engine {
	t.Helper()
	e := player.NewEngine(out, opts...)
	t.Cleanup(func() { e.Close() })
	e.SetTracks(abc)
	return e
}

func playing(e *player.Engine, id string) func() bool {
	return func() bool {
		s := e.State()
		return s.Track != nil && s.Track.ID == id && s.IsPlaying && s.Status == player.StatusPlaying
	}
}

func tick(out *fakeOutput, e *player.Engine, pos float64) {
	out.events <- player.OutputEvent{LoadID: e.State().Generation, Kind: player.OutputTick, Position: pos}
}

func TestSelectTrackAutoplays(t *testing.T) {
	out := newFakeOutput()
	e := newTestEngine(t, out)

	if err := e.SelectTrack("A"); err != nil {
		t.Fatalf("SelectTrack failed: %v", err)
	}

	s := e.State()
	if s.Track == nil || s.Track.ID != "A" {
		t.Fatal("current track should be assigned synchronously")
	}
	eventually(t, playing(e, "A"), "A playing")
}

func TestSelectTrackUnknown(t *testing.T) {
	e := newTestEngine(t, newFakeOutput())

	if err := e.SelectTrack("zzz"); !errors.Is(err, music.ErrTrackNotFound) {
		t.Errorf("expected ErrTrackNotFound, got %v", err)
	}
	if e.State().Status != player.StatusIdle {
		t.Error("unknown id must not change state")
	}
}

func TestRapidNextLastTargetWins(t *testing.T) {
	out := newFakeOutput()
	gateA := make(chan struct{})
	out.gates["A"] = gateA
	e := newTestEngine(t, out)

	e.SelectTrack("A")
	e.Next()
	e.Next()

	if id := e.State().Track.ID; id != "C" {
		t.Fatalf("expected C current right after two nexts, got %s", id)
	}

	eventually(t, playing(e, "C"), "C playing")

	// A's load resolves late and must be discarded
	close(gateA)
	time.Sleep(50 * time.Millisecond)

	s := e.State()
	if s.Track.ID != "C" || !s.IsPlaying {
		t.Errorf("late load of A corrupted state: track=%s playing=%v", s.Track.ID, s.IsPlaying)
	}
}

func TestSelectSameTrackToggles(t *testing.T) {
	out := newFakeOutput()
	e := newTestEngine(t, out)

	e.SelectTrack("A")
	eventually(t, playing(e, "A"), "A playing")
	tick(out, e, 12)
	eventually(t, func() bool { return e.State().Position == 12 }, "position 12")

	e.SelectTrack("A")
	s := e.State()
	if s.IsPlaying || s.Status != player.StatusPaused {
		t.Errorf("expected paused, got %s playing=%v", s.Status, s.IsPlaying)
	}
	if s.Position != 12 {
		t.Errorf("re-selection must not restart, position=%v", s.Position)
	}

	e.SelectTrack("A")
	eventually(t, playing(e, "A"), "A playing again")
	if out.loadCount("A") != 1 {
		t.Errorf("expected a single load of A, got %d", out.loadCount("A"))
	}
}

func TestTogglePlayPauseWithoutTrackSelectsFirst(t *testing.T) {
	e := newTestEngine(t, newFakeOutput())

	e.TogglePlayPause()
	eventually(t, playing(e, "A"), "first track playing")
}

func TestSnapshotRoundTrip(t *testing.T) {
	out := newFakeOutput()
	e := newTestEngine(t, out)
	bridge := player.NewBridge(e, nil)

	e.SelectTrack("B")
	eventually(t, playing(e, "B"), "B playing")
	tick(out, e, 42)
	eventually(t, func() bool { return e.State().Position == 42 }, "position 42")

	snap := bridge.CaptureSnapshot()
	if snap != (player.Snapshot{LastTrackID: "B", CurrentTime: 42, IsPlaying: true}) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	bridge.RestoreSnapshot(snap)
	eventually(t, playing(e, "B"), "B still playing")

	s := e.State()
	if s.Position != 42 {
		t.Errorf("expected position 42, got %v", s.Position)
	}
	if out.loadCount("B") != 1 {
		t.Error("restoring the current track must not reload it")
	}
}

func TestMuteRoundTrip(t *testing.T) {
	out := newFakeOutput()
	e := newTestEngine(t, out)

	e.SetVolume(0.4)
	e.ToggleMute()

	s := e.State()
	if !s.Mute || s.Volume != 0.4 {
		t.Errorf("expected muted with volume 0.4, got mute=%v volume=%v", s.Mute, s.Volume)
	}
	if out.currentVolume() != 0 {
		t.Errorf("muted output volume should be 0, got %v", out.currentVolume())
	}

	e.ToggleMute()
	if v := e.State().Volume; v != 0.4 {
		t.Errorf("expected volume 0.4 after unmute, got %v", v)
	}
	if out.currentVolume() != 0.4 {
		t.Errorf("expected output volume 0.4, got %v", out.currentVolume())
	}
}

func TestSetVolumeClamps(t *testing.T) {
	tests := []struct {
		in       float64
		expected float64
	}{
		{-1, 0}, {0, 0}, {0.5, 0.5}, {1, 1}, {7, 1},
	}

	e := newTestEngine(t, newFakeOutput())
	for _, tt := range tests {
		e.SetVolume(tt.in)
		if got := e.State().Volume; got != tt.expected {
			t.Errorf("SetVolume(%v) -> %v, want %v", tt.in, got, tt.expected)
		}
	}
}

func TestShuffleExcludesCurrent(t *testing.T) {
	out := newFakeOutput()
	e := newTestEngine(t, out, player.WithRandSource(rand.NewPCG(1, 2)))
	e.SetShuffle(true)
	e.SelectTrack("A")

	for i := 0; i < 100; i++ {
		before := e.State().Track.ID
		e.Next()
		if after := e.State().Track.ID; after == before {
			t.Fatalf("shuffle picked the current track %s on iteration %d", after, i)
		}
	}
}

func TestNextSequentialWraps(t *testing.T) {
	e := newTestEngine(t, newFakeOutput())
	e.SelectTrack("C")
	e.Next()
	if id := e.State().Track.ID; id != "A" {
		t.Errorf("expected wrap to A, got %s", id)
	}
}

func TestNextSingleTrackNoop(t *testing.T) {
	out := newFakeOutput()
	e := newTestEngine(t, out)
	e.SetTracks(abc[:1])
	e.SetShuffle(true)

	e.SelectTrack("A")
	eventually(t, playing(e, "A"), "A playing")
	gen := e.State().Generation

	e.Next()
	if e.State().Generation != gen || out.loadCount("A") != 1 {
		t.Error("next with a single track should do nothing")
	}
}

func TestPreviousThreshold(t *testing.T) {
	out := newFakeOutput()
	e := newTestEngine(t, out)

	e.SelectTrack("B")
	eventually(t, playing(e, "B"), "B playing")

	tick(out, e, 10)
	eventually(t, func() bool { return e.State().Position == 10 }, "position 10")
	e.Previous()
	s := e.State()
	if s.Track.ID != "B" || s.Position != 0 {
		t.Errorf("past 3s previous should restart B, got %s at %v", s.Track.ID, s.Position)
	}

	tick(out, e, 2)
	eventually(t, func() bool { return e.State().Position == 2 }, "position 2")
	e.Previous()
	if id := e.State().Track.ID; id != "A" {
		t.Errorf("within 3s previous should go to A, got %s", id)
	}

	e.Previous()
	if id := e.State().Track.ID; id != "C" {
		t.Errorf("previous should wrap to C, got %s", id)
	}
}

func TestRepeatOneRestartsTrack(t *testing.T) {
	out := newFakeOutput()
	e := newTestEngine(t, out)
	e.SetRepeat(true)

	e.SelectTrack("A")
	eventually(t, playing(e, "A"), "A playing")
	tick(out, e, 200)
	eventually(t, func() bool { return e.State().Position == 200 }, "position 200")

	out.events <- player.OutputEvent{LoadID: e.State().Generation, Kind: player.OutputEnded}
	eventually(t, func() bool { return out.playCount() == 2 }, "second play")
	eventually(t, playing(e, "A"), "A playing after repeat")

	if pos := e.State().Position; pos != 0 {
		t.Errorf("expected position 0, got %v", pos)
	}
	if out.loadCount("A") != 1 {
		t.Error("repeat should not reload the track")
	}
}

func TestEndedAdvancesToNext(t *testing.T) {
	out := newFakeOutput()
	rec := &mockRecorder{}
	e := newTestEngine(t, out, player.WithPlayRecorder(rec))

	e.SelectTrack("A")
	eventually(t, playing(e, "A"), "A playing")

	out.events <- player.OutputEvent{LoadID: e.State().Generation, Kind: player.OutputEnded}
	eventually(t, playing(e, "B"), "B playing")

	got := rec.recorded()
	if len(got) != 2 || got[0] != "A:manual" || got[1] != "B:auto" {
		t.Errorf("unexpected play records %v", got)
	}
}

func TestLoadFailureAndRetry(t *testing.T) {
	out := newFakeOutput()
	out.loadErrs["A"] = errors.New("404")
	collector := &eventCollector{}
	e := newTestEngine(t, out)
	e.Subscribe(collector.add)

	e.SelectTrack("A")
	eventually(t, func() bool { return e.State().Status == player.StatusError }, "error state")

	s := e.State()
	if s.IsPlaying || s.Error == nil || s.Error.Kind != music.KindAssetLoadFailed {
		t.Errorf("unexpected state %+v", s)
	}
	eventually(t, func() bool { return len(collector.errors()) == 1 }, "error event")
	if err := collector.errors()[0]; !errors.Is(err, music.ErrAssetLoadFailed) || err.TrackID != "A" {
		t.Errorf("unexpected error event %v", err)
	}

	// No silent retry
	time.Sleep(30 * time.Millisecond)
	if out.loadCount("A") != 1 {
		t.Fatalf("engine retried on its own: %d loads", out.loadCount("A"))
	}

	out.mu.Lock()
	delete(out.loadErrs, "A")
	out.mu.Unlock()

	e.TogglePlayPause()
	eventually(t, playing(e, "A"), "A playing after retry")
	if e.State().Error != nil {
		t.Error("retry should clear the error")
	}
}

func TestPlaybackRejected(t *testing.T) {
	out := newFakeOutput()
	out.playErr = errors.New("autoplay blocked")
	collector := &eventCollector{}
	e := newTestEngine(t, out)
	e.Subscribe(collector.add)

	e.SelectTrack("A")
	eventually(t, func() bool { return len(collector.errors()) == 1 }, "rejection event")

	s := e.State()
	if s.IsPlaying {
		t.Error("a rejected play must leave isPlaying false")
	}
	if s.Status == player.StatusError {
		t.Error("a rejected play is not fatal")
	}
	if !errors.Is(collector.errors()[0], music.ErrPlaybackRejected) {
		t.Errorf("unexpected error %v", collector.errors()[0])
	}

	out.mu.Lock()
	out.playErr = nil
	out.mu.Unlock()

	e.TogglePlayPause()
	eventually(t, playing(e, "A"), "A playing after explicit play")
}

func TestSeekClamps(t *testing.T) {
	out := newFakeOutput()
	out.durations["A"] = 100
	e := newTestEngine(t, out)

	e.SelectTrack("A")
	eventually(t, playing(e, "A"), "A playing")

	e.Seek(150)
	if pos := e.State().Position; pos != 100 {
		t.Errorf("expected clamp to 100, got %v", pos)
	}
	e.Seek(-5)
	if pos := e.State().Position; pos != 0 {
		t.Errorf("expected clamp to 0, got %v", pos)
	}

	// Unknown duration only clamps the lower bound
	e.SelectTrack("B")
	eventually(t, playing(e, "B"), "B playing")
	e.Seek(500)
	if pos := e.State().Position; pos != 500 {
		t.Errorf("expected 500 with unknown duration, got %v", pos)
	}
}

func TestDurationDiscoveryReachesSink(t *testing.T) {
	out := newFakeOutput()
	out.durations["A"] = 215

	var mu sync.Mutex
	sunk := map[string]float64{}
	e := newTestEngine(t, out, player.WithDurationSink(func(id string, d float64) {
		mu.Lock()
		defer mu.Unlock()
		sunk[id] = d
	}))

	e.SelectTrack("A")
	eventually(t, playing(e, "A"), "A playing")

	if d := e.State().Duration; d != 215 {
		t.Errorf("expected duration 215, got %v", d)
	}
	if d := e.Tracks()[0].DurationSeconds; d != 215 {
		t.Errorf("track list should carry the duration, got %v", d)
	}
	eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return sunk["A"] == 215
	}, "duration sink")
}

func TestSetTracksDropsMissingCurrent(t *testing.T) {
	out := newFakeOutput()
	e := newTestEngine(t, out)

	e.SelectTrack("A")
	eventually(t, playing(e, "A"), "A playing")
	oldGen := e.State().Generation

	e.SetTracks(abc[1:])

	s := e.State()
	if s.Track != nil || s.Status != player.StatusIdle || s.IsPlaying {
		t.Errorf("expected idle with no track, got %+v", s)
	}
	if s.Snapshot().LastTrackID != "" {
		t.Error("snapshot must not point at a missing track")
	}

	// Late events from the dropped track are ignored
	out.events <- player.OutputEvent{LoadID: oldGen, Kind: player.OutputTick, Position: 30}
	time.Sleep(30 * time.Millisecond)
	if e.State().Position != 0 {
		t.Error("stale tick applied")
	}
}

func TestSetTracksKeepsSurvivingCurrent(t *testing.T) {
	out := newFakeOutput()
	out.durations["A"] = 99
	collector := &eventCollector{}
	e := newTestEngine(t, out)
	e.Subscribe(collector.add)

	e.SelectTrack("A")
	eventually(t, playing(e, "A"), "A playing")

	e.SetTracks([]music.Track{abc[2], {ID: "A", Title: "Sining", AudioLocator: "a.mp3"}})

	eventually(t, func() bool { return collector.count(player.EventTrackList) == 1 }, "track list event")
	s := e.State()
	if s.Track.ID != "A" || !s.IsPlaying {
		t.Errorf("surviving track should keep playing, got %+v", s)
	}
	if d := e.Tracks()[1].DurationSeconds; d != 99 {
		t.Errorf("known duration should carry over, got %v", d)
	}
	if out.loadCount("A") != 1 {
		t.Error("surviving track must not be reloaded")
	}
}

func TestPauseDuringLoad(t *testing.T) {
	out := newFakeOutput()
	gate := make(chan struct{})
	out.gates["A"] = gate
	e := newTestEngine(t, out)

	e.SelectTrack("A")
	e.Pause()
	close(gate)

	eventually(t, func() bool { return e.State().Status == player.StatusReady }, "ready")
	if e.State().IsPlaying || out.playCount() != 0 {
		t.Error("a pause before the load finished must win")
	}
}

func TestSnapshotEventsOnTicks(t *testing.T) {
	out := newFakeOutput()
	collector := &eventCollector{}
	e := newTestEngine(t, out)

	e.SelectTrack("A")
	eventually(t, playing(e, "A"), "A playing")
	e.Subscribe(collector.add)

	for i := 1; i <= 5; i++ {
		tick(out, e, float64(i))
	}
	// every tick is forwarded, none are coalesced
	eventually(t, func() bool { return collector.count(player.EventSnapshot) >= 5 }, "one snapshot per tick")
	eventually(t, func() bool { return e.Snapshot().CurrentTime == 5 }, "last tick applied")
}

func TestFormatTime(t *testing.T) {
	tests := []struct {
		seconds  float64
		expected string
	}{
		{0, "0:00"},
		{-3, "0:00"},
		{5.9, "0:05"},
		{65, "1:05"},
		{600, "10:00"},
		{3725, "62:05"},
	}

	for _, tt := range tests {
		if got := player.FormatTime(tt.seconds); got != tt.expected {
			t.Errorf("FormatTime(%v) = %q, want %q", tt.seconds, got, tt.expected)
		}
	}
}
