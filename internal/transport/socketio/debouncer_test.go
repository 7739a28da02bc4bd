package socketio

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/edumarques81/stellar-offline-player/internal/domain/player"
)

func TestDebouncerRapidSnapshotsCollapseToOne(t *testing.T) {
	var stateCalls int32
	var snapshotCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() { atomic.AddInt32(&snapshotCalls, 1) },
	)
	defer d.Stop()

	for i := 0; i < 10; i++ {
		d.Trigger(player.EventSnapshot)
	}

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&snapshotCalls); got != 1 {
		t.Errorf("expected 1 snapshot callback, got %d", got)
	}
	if got := atomic.LoadInt32(&stateCalls); got != 0 {
		t.Errorf("expected 0 state callbacks, got %d", got)
	}
}

func TestDebouncerSpacedEventsCollapseToOne(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)
	defer d.Stop()

	// volume slider drags
	for i := 0; i < 20; i++ {
		d.Trigger(player.EventState)
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 1 {
		t.Errorf("expected 1 state callback for rapid state events, got %d", got)
	}
}

func TestDebouncerStateTriggersBoth(t *testing.T) {
	var stateCalls int32
	var snapshotCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() { atomic.AddInt32(&snapshotCalls, 1) },
	)
	defer d.Stop()

	d.Trigger(player.EventState)
	d.Trigger(player.EventSnapshot)

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 1 {
		t.Errorf("expected 1 state callback, got %d", got)
	}
	if got := atomic.LoadInt32(&snapshotCalls); got != 1 {
		t.Errorf("expected 1 snapshot callback, got %d", got)
	}
}

func TestDebouncerIgnoresOtherEvents(t *testing.T) {
	var calls int32

	d := NewBroadcastDebouncer(20*time.Millisecond,
		func() { atomic.AddInt32(&calls, 1) },
		func() { atomic.AddInt32(&calls, 1) },
	)
	defer d.Stop()

	d.Trigger(player.EventTrackList)
	d.Trigger(player.EventError)

	time.Sleep(60 * time.Millisecond)

	if got := atomic.LoadInt32(&calls); got != 0 {
		t.Errorf("expected no callbacks, got %d", got)
	}
}

func TestDebouncerSteadyStreamStillFlushes(t *testing.T) {
	var snapshotCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() {},
		func() { atomic.AddInt32(&snapshotCalls, 1) },
	)
	defer d.Stop()

	// faster than the window for longer than maxWait
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		d.Trigger(player.EventSnapshot)
		time.Sleep(20 * time.Millisecond)
	}

	if got := atomic.LoadInt32(&snapshotCalls); got < 1 {
		t.Errorf("expected flushes during a steady stream, got %d", got)
	}
}

func TestDebouncerSeparateWindowsFireIndependently(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)
	defer d.Stop()

	d.Trigger(player.EventState)
	time.Sleep(100 * time.Millisecond)

	d.Trigger(player.EventState)
	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 2 {
		t.Errorf("expected 2 state callbacks for separate windows, got %d", got)
	}
}

func TestDebouncerStopPreventsCallbacks(t *testing.T) {
	var stateCalls int32

	d := NewBroadcastDebouncer(50*time.Millisecond,
		func() { atomic.AddInt32(&stateCalls, 1) },
		func() {},
	)

	d.Trigger(player.EventState)
	d.Stop()
	d.Trigger(player.EventState)

	time.Sleep(100 * time.Millisecond)

	if got := atomic.LoadInt32(&stateCalls); got != 0 {
		t.Errorf("expected 0 state callbacks after stop, got %d", got)
	}
}
