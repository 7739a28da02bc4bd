package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
)

// mockSource implements Source for testing
type mockSource struct {
	tracks []music.Track
	err    error
	calls  atomic.Int32
}

func (m *mockSource) Fetch(ctx context.Context) ([]music.Track, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	out := make([]music.Track, len(m.tracks))
	copy(out, m.tracks)
	return out, nil
}

// mockStore implements Store for testing
type mockStore struct {
	mu       sync.Mutex
	tracks   []music.Track
	putErr   error
	getErr   error
	putCalls int
}

func (m *mockStore) PutAll(tracks []music.Track) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if m.putErr != nil {
		return m.putErr
	}
	m.tracks = append([]music.Track(nil), tracks...)
	return nil
}

func (m *mockStore) GetAll() ([]music.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	return append([]music.Track{}, m.tracks...), nil
}

// mockAssets implements AssetCache for testing
type mockAssets struct {
	mu       sync.Mutex
	locators []string
}

func (m *mockAssets) EnsureCached(locator string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locators = append(m.locators, locator)
}

// mockNet implements Connectivity for testing
type mockNet struct {
	mu     sync.Mutex
	online bool
	subs   []func(bool)
}

func (m *mockNet) Current() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *mockNet) Subscribe(fn func(bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
	return func() {}
}

func (m *mockNet) Set(online bool) {
	m.mu.Lock()
	m.online = online
	subs := append([]func(bool){}, m.subs...)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

type fixedCounts map[string]int

func (f fixedCounts) PlayCounts() map[string]int { return f }

var (
	trackA = music.Track{ID: "A", Title: "Sining", Artist: "Dionela", AudioLocator: "https://cdn/a.mp3", CoverLocator: "https://cdn/a.jpg"}
	trackB = music.Track{ID: "B", Title: "Kagome", Artist: "Lo Ki", AudioLocator: "https://cdn/b.mp3"}
	trackC = music.Track{ID: "C", Title: "Sanctuary", Artist: "Joji", AudioLocator: "https://cdn/c.mp3"}
)

func TestResolveTracksOnline(t *testing.T) {
	source := &mockSource{tracks: []music.Track{trackA, trackB}}
	store := &mockStore{}
	assets := &mockAssets{}
	svc := NewService(source, store, assets, &mockNet{online: true})

	tracks, err := svc.ResolveTracks(context.Background())
	if err != nil {
		t.Fatalf("ResolveTracks failed: %v", err)
	}
	if len(tracks) != 2 || tracks[0].ID != "A" || tracks[1].ID != "B" {
		t.Errorf("unexpected tracks %+v", tracks)
	}

	svc.Wait()
	stored, _ := store.GetAll()
	if len(stored) != 2 {
		t.Errorf("expected the list to be persisted, got %d tracks", len(stored))
	}

	assets.mu.Lock()
	defer assets.mu.Unlock()
	if len(assets.locators) != 3 {
		t.Errorf("expected 3 locators queued for caching, got %v", assets.locators)
	}
}

func TestResolveTracksKeepsDiscoveredDurations(t *testing.T) {
	source := &mockSource{tracks: []music.Track{trackA, trackB}}
	store := &mockStore{}
	svc := NewService(source, store, &mockAssets{}, &mockNet{online: true})

	if _, err := svc.ResolveTracks(context.Background()); err != nil {
		t.Fatalf("ResolveTracks failed: %v", err)
	}
	svc.Wait()

	// the engine reports A's duration straight to the store
	store.mu.Lock()
	store.tracks[0].DurationSeconds = 183
	store.mu.Unlock()

	tracks, err := svc.ResolveTracks(context.Background())
	if err != nil {
		t.Fatalf("ResolveTracks failed: %v", err)
	}
	svc.Wait()

	if tracks[0].DurationSeconds != 183 || tracks[1].DurationSeconds != 0 {
		t.Errorf("unexpected resolved durations %+v", tracks)
	}
	stored, _ := store.GetAll()
	if len(stored) != 2 || stored[0].DurationSeconds != 183 {
		t.Errorf("refetch erased the stored duration: %+v", stored)
	}
}

func TestResolveTracksOfflineUsesStore(t *testing.T) {
	source := &mockSource{tracks: []music.Track{trackC}}
	store := &mockStore{tracks: []music.Track{trackA, trackB}}
	svc := NewService(source, store, &mockAssets{}, &mockNet{online: false})

	tracks, err := svc.ResolveTracks(context.Background())
	if err != nil {
		t.Fatalf("ResolveTracks failed: %v", err)
	}
	if len(tracks) != 2 || tracks[0].ID != "A" || tracks[1].ID != "B" {
		t.Errorf("expected [A B], got %+v", tracks)
	}
	if source.calls.Load() != 0 {
		t.Errorf("offline resolution must not hit the network, got %d calls", source.calls.Load())
	}
}

func TestResolveTracksFallsBackOnFetchError(t *testing.T) {
	source := &mockSource{err: errors.New("connection refused")}
	store := &mockStore{tracks: []music.Track{trackB}}
	svc := NewService(source, store, &mockAssets{}, &mockNet{online: true})

	tracks, err := svc.ResolveTracks(context.Background())
	if err != nil {
		t.Fatalf("ResolveTracks failed: %v", err)
	}
	if len(tracks) != 1 || tracks[0].ID != "B" {
		t.Errorf("expected stored list, got %+v", tracks)
	}
}

func TestResolveTracksSourceUnavailable(t *testing.T) {
	svc := NewService(&mockSource{err: errors.New("boom")}, &mockStore{}, &mockAssets{}, &mockNet{online: true})

	_, err := svc.ResolveTracks(context.Background())
	if !errors.Is(err, music.ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v", err)
	}
	if music.KindOf(err) != music.KindSourceUnavailable {
		t.Errorf("unexpected kind %q", music.KindOf(err))
	}
}

func TestResolveTracksUsesMemoryWhenStoreFails(t *testing.T) {
	source := &mockSource{tracks: []music.Track{trackA}}
	store := &mockStore{putErr: errors.New("disk full")}
	net := &mockNet{online: true}
	svc := NewService(source, store, &mockAssets{}, net)

	if _, err := svc.ResolveTracks(context.Background()); err != nil {
		t.Fatalf("ResolveTracks failed: %v", err)
	}
	svc.Wait()

	net.online = false
	tracks, err := svc.ResolveTracks(context.Background())
	if err != nil {
		t.Fatalf("expected the in-memory copy, got %v", err)
	}
	if len(tracks) != 1 || tracks[0].ID != "A" {
		t.Errorf("unexpected tracks %+v", tracks)
	}
}

func TestResolveTracksPopularityOrder(t *testing.T) {
	source := &mockSource{tracks: []music.Track{trackA, trackB, trackC}}
	counts := fixedCounts{"C": 5, "B": 5, "A": 1}
	svc := NewService(source, &mockStore{}, &mockAssets{}, &mockNet{online: true}, WithOrder(OrderPopularity, counts))

	tracks, err := svc.ResolveTracks(context.Background())
	if err != nil {
		t.Fatalf("ResolveTracks failed: %v", err)
	}
	got := []string{tracks[0].ID, tracks[1].ID, tracks[2].ID}
	want := []string{"B", "C", "A"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	svc.Wait()
}

func TestWatchRefetchesOnTransition(t *testing.T) {
	source := &mockSource{tracks: []music.Track{trackA}}
	store := &mockStore{tracks: []music.Track{trackB}}
	net := &mockNet{online: false}
	svc := NewService(source, store, &mockAssets{}, net)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resolved := make(chan []music.Track, 2)
	svc.Watch(ctx, func(tracks []music.Track) { resolved <- tracks }, nil)

	net.Set(true)

	select {
	case tracks := <-resolved:
		if len(tracks) != 1 || tracks[0].ID != "A" {
			t.Errorf("expected remote list after going online, got %+v", tracks)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for refetch")
	}
	svc.Wait()
}

func TestWatchReportsErrors(t *testing.T) {
	svc := NewService(&mockSource{err: errors.New("boom")}, &mockStore{}, &mockAssets{}, &mockNet{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 1)
	svc.Watch(ctx, func([]music.Track) {}, func(err error) { errs <- err })
	svc.net.(*mockNet).Set(true)

	select {
	case err := <-errs:
		if !errors.Is(err, music.ErrSourceUnavailable) {
			t.Errorf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error")
	}
}

func TestHTTPIndexFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "test-agent" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"song1","name":"Sining","artist":"Dionela","audioUrl":"https://cdn/1.mp3","coverUrl":"https://cdn/1.jpg"},
			{"id":"song2","name":"Broken","artist":"x"}
		]`))
	}))
	defer server.Close()

	idx := NewHTTPIndex(server.URL, WithUserAgent("test-agent"))
	tracks, err := idx.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if len(tracks) != 1 || tracks[0].ID != "song1" || tracks[0].CoverLocator != "https://cdn/1.jpg" {
		t.Errorf("unexpected tracks %+v", tracks)
	}
}

func TestHTTPIndexErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusInternalServerError) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("{not json")) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			if _, err := NewHTTPIndex(server.URL).Fetch(context.Background()); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestStaticIndex(t *testing.T) {
	idx := NewStaticIndex([]music.Descriptor{
		{ID: "song1", Name: "Sining", AudioURL: "a.mp3"},
		{ID: "song2", Name: "Kagome", AudioURL: "b.mp3"},
	})

	tracks, err := idx.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	tracks[0].Title = "mutated"

	again, _ := idx.Fetch(context.Background())
	if again[0].Title != "Sining" {
		t.Error("Fetch should return a copy")
	}
}
