package mpd_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gompd "github.com/fhs/gompd/v2/mpd"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
	"github.com/edumarques81/stellar-offline-player/internal/domain/player"
	"github.com/edumarques81/stellar-offline-player/internal/infra/mpd"
)

// fakeConn implements mpd.Conn for testing
type fakeConn struct {
	mu       sync.Mutex
	status   gompd.Attrs
	calls    []string
	queue    string
	volume   int
	seekedTo float64
	failPlay error
}

func newFakeConn() *fakeConn {
	return &fakeConn{status: gompd.Attrs{"state": "stop"}}
}

func (f *fakeConn) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeConn) setStatus(attrs gompd.Attrs) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = attrs
}

func (f *fakeConn) called() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeConn) Status() (gompd.Attrs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := gompd.Attrs{}
	for k, v := range f.status {
		copied[k] = v
	}
	return copied, nil
}

func (f *fakeConn) TakeOver() error { f.record("takeover"); return nil }

func (f *fakeConn) Replace(uri string) error {
	f.record("replace")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = uri
	return nil
}

func (f *fakeConn) Play(pos int) error {
	f.record("play")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPlay != nil {
		return f.failPlay
	}
	f.status = gompd.Attrs{"state": "play", "elapsed": "0"}
	return nil
}

func (f *fakeConn) Pause(pause bool) error {
	if pause {
		f.record("pause")
	} else {
		f.record("resume")
	}
	return nil
}

func (f *fakeConn) Stop() error { f.record("stop"); return nil }

func (f *fakeConn) Seek(seconds float64) error {
	f.record("seek")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seekedTo = seconds
	return nil
}

func (f *fakeConn) SetVolume(vol int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = vol
	return nil
}

// mockSink implements mpd.StatusSink for testing
type mockSink struct {
	mu     sync.Mutex
	states []string
}

func (m *mockSink) UpdateFromMPDStatus(state, audio string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
	return true
}

var _ player.Output = (*mpd.Output)(nil)

func nextEvent(t *testing.T, out *mpd.Output, kind player.OutputEventKind) player.OutputEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-out.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v", kind)
		}
	}
}

func TestOutputLoadQueuesMappedURI(t *testing.T) {
	conn := newFakeConn()
	out := mpd.NewOutput(conn, mpd.WithURIMapper(func(tr music.Track) string {
		return "http://127.0.0.1:3000/asset?locator=" + tr.ID
	}))
	defer out.Close()

	d, err := out.Load(context.Background(), 1, music.Track{ID: "A", AudioLocator: "a.mp3", DurationSeconds: 42})
	if err != nil || d != 42 {
		t.Fatalf("Load = %v, %v", d, err)
	}

	if conn.queue != "http://127.0.0.1:3000/asset?locator=A" {
		t.Errorf("unexpected queued uri %q", conn.queue)
	}
	calls := conn.called()
	want := []string{"takeover", "stop", "replace"}
	if len(calls) != len(want) {
		t.Fatalf("expected calls %v, got %v", want, calls)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Errorf("call %d: expected %s, got %s", i, want[i], calls[i])
		}
	}
}

func TestOutputSeekBeforePlayIsDeferred(t *testing.T) {
	conn := newFakeConn()
	out := mpd.NewOutput(conn, mpd.WithPollInterval(5*time.Millisecond))
	defer out.Close()

	out.Load(context.Background(), 1, music.Track{ID: "A", AudioLocator: "a.mp3"})
	out.Seek(33)
	if conn.seekedTo != 0 {
		t.Fatal("seek must wait for the daemon to start")
	}

	if err := out.Play(context.Background()); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if conn.seekedTo != 33 {
		t.Errorf("expected pending seek to 33, got %v", conn.seekedTo)
	}

	// once started, seeks go straight through
	out.Seek(50)
	if conn.seekedTo != 50 {
		t.Errorf("expected direct seek to 50, got %v", conn.seekedTo)
	}
}

func TestOutputTicksAndEnd(t *testing.T) {
	conn := newFakeConn()
	sink := &mockSink{}
	out := mpd.NewOutput(conn, mpd.WithPollInterval(5*time.Millisecond), mpd.WithStatusSink(sink))
	defer out.Close()

	out.Load(context.Background(), 9, music.Track{ID: "A", AudioLocator: "a.mp3"})
	out.Play(context.Background())
	conn.setStatus(gompd.Attrs{"state": "play", "elapsed": "12.5", "duration": "200.1", "audio": "44100:16:2"})

	// the first ticks may predate the status update
	tick := nextEvent(t, out, player.OutputTick)
	for tick.Duration != 200.1 {
		tick = nextEvent(t, out, player.OutputTick)
	}
	if tick.LoadID != 9 || tick.Position != 12.5 {
		t.Errorf("unexpected tick %+v", tick)
	}

	conn.setStatus(gompd.Attrs{"state": "stop"})
	end := nextEvent(t, out, player.OutputEnded)
	if end.Position != 200.1 {
		t.Errorf("expected end at duration, got %v", end.Position)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.states) == 0 {
		t.Error("expected status sink updates")
	}
}

func TestOutputDaemonError(t *testing.T) {
	conn := newFakeConn()
	out := mpd.NewOutput(conn, mpd.WithPollInterval(5*time.Millisecond))
	defer out.Close()

	out.Load(context.Background(), 3, music.Track{ID: "A", AudioLocator: "a.mp3"})
	out.Play(context.Background())
	conn.setStatus(gompd.Attrs{"state": "stop", "error": "Failed to decode a.mp3"})

	ev := nextEvent(t, out, player.OutputFailed)
	if ev.Err == nil || ev.Err.Error() != "Failed to decode a.mp3" {
		t.Errorf("unexpected failure %v", ev.Err)
	}
}

func TestOutputPlayFailure(t *testing.T) {
	conn := newFakeConn()
	conn.failPlay = errors.New("no audio outputs")
	out := mpd.NewOutput(conn)
	defer out.Close()

	out.Load(context.Background(), 1, music.Track{ID: "A", AudioLocator: "a.mp3"})
	if err := out.Play(context.Background()); err == nil {
		t.Error("expected play error")
	}
}

func TestOutputPauseAndResume(t *testing.T) {
	conn := newFakeConn()
	out := mpd.NewOutput(conn)
	defer out.Close()

	// pausing before the first play touches nothing
	out.Load(context.Background(), 1, music.Track{ID: "A", AudioLocator: "a.mp3"})
	out.Pause()
	for _, c := range conn.called() {
		if c == "pause" {
			t.Fatal("unexpected pause before play")
		}
	}

	out.Play(context.Background())
	out.Pause()
	out.Play(context.Background())

	calls := conn.called()
	tail := calls[len(calls)-3:]
	if tail[0] != "play" || tail[1] != "pause" || tail[2] != "resume" {
		t.Errorf("unexpected call sequence %v", calls)
	}
}

func TestOutputVolumeAndClose(t *testing.T) {
	conn := newFakeConn()
	out := mpd.NewOutput(conn)

	out.SetVolume(0.42)
	if conn.volume != 42 {
		t.Errorf("expected volume 42, got %d", conn.volume)
	}

	out.Close()
	if _, err := out.Load(context.Background(), 2, music.Track{ID: "A"}); !errors.Is(err, player.ErrOutputClosed) {
		t.Errorf("expected ErrOutputClosed, got %v", err)
	}
}

func TestOutputPollsOnDaemonChange(t *testing.T) {
	conn := newFakeConn()
	changes := make(chan string, 1)
	out := mpd.NewOutput(conn, mpd.WithPollInterval(time.Hour), mpd.WithChanges(changes))
	defer out.Close()

	out.Load(context.Background(), 4, music.Track{ID: "A", AudioLocator: "a.mp3"})
	out.Play(context.Background())
	conn.setStatus(gompd.Attrs{"state": "play", "elapsed": "7"})

	changes <- "player"
	tick := nextEvent(t, out, player.OutputTick)
	if tick.LoadID != 4 || tick.Position != 7 {
		t.Errorf("unexpected tick %+v", tick)
	}

	// closing the watcher triggers one last read
	conn.setStatus(gompd.Attrs{"state": "stop"})
	close(changes)
	nextEvent(t, out, player.OutputEnded)
}
