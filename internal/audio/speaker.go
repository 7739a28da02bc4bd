package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-offline-player/internal/domain/music"
	"github.com/edumarques81/stellar-offline-player/internal/domain/player"
)

const (
	// SpeakerSampleRate is the rate the sound card is opened at. Tracks are resampled to it.
	SpeakerSampleRate = beep.SampleRate(44100)
	// SpeakerBufferSize trades latency for underrun safety.
	SpeakerBufferSize = 100 * time.Millisecond
	// DefaultTickInterval is how often progress is reported while playing.
	DefaultTickInterval = 250 * time.Millisecond

	resampleQuality = 4
)

var (
	// ErrNothingLoaded is returned by Play before a successful Load.
	ErrNothingLoaded = errors.New("no track loaded")

	speakerMu          sync.Mutex
	speakerInitialized bool
)

// Opener opens a seekable reader for an asset locator. The asset cache implements it,
// so tracks already cached keep playing offline.
type Opener interface {
	Open(ctx context.Context, locator string) (io.ReadSeekCloser, string, error)
}

// SpeakerOutput renders tracks on the local sound card with beep.
type SpeakerOutput struct {
	opener Opener
	status *Controller
	tick   time.Duration

	mu       sync.Mutex
	loadID   uint64
	streamer beep.StreamSeekCloser
	format   beep.Format
	ctrl     *beep.Ctrl
	volume   *effects.Volume
	level    float64
	ticking  chan struct{} // non-nil while the progress loop runs
	drained  bool          // the speaker dropped the chain after the last sample
	closed   bool

	events chan player.OutputEvent
	done   chan struct{}
}

// SpeakerOption configures a SpeakerOutput.
type SpeakerOption func(*SpeakerOutput)

// WithTickInterval sets the progress interval.
func WithTickInterval(d time.Duration) SpeakerOption {
	return func(o *SpeakerOutput) {
		if d > 0 {
			o.tick = d
		}
	}
}

// WithStatus reports format and activity changes to c.
func WithStatus(c *Controller) SpeakerOption {
	return func(o *SpeakerOutput) {
		o.status = c
	}
}

// NewSpeakerOutput creates a speaker output reading audio through opener.
// The sound card is opened lazily on the first Load.
func NewSpeakerOutput(opener Opener, opts ...SpeakerOption) *SpeakerOutput {
	o := &SpeakerOutput{
		opener: opener,
		tick:   DefaultTickInterval,
		level:  1,
		events: make(chan player.OutputEvent, 64),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.status == nil {
		o.status = NewController()
	}
	return o
}

func initSpeaker() error {
	speakerMu.Lock()
	defer speakerMu.Unlock()

	if speakerInitialized {
		return nil
	}
	if err := speaker.Init(SpeakerSampleRate, SpeakerSampleRate.N(SpeakerBufferSize)); err != nil {
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}
	speakerInitialized = true
	log.Debug().Int("sampleRate", int(SpeakerSampleRate)).Dur("buffer", SpeakerBufferSize).Msg("Speaker initialized")
	return nil
}

// Load implements player.Output. The track is left paused at 0.
func (o *SpeakerOutput) Load(ctx context.Context, loadID uint64, track music.Track) (float64, error) {
	streamer, format, err := decode(ctx, o.opener, track)
	if err != nil {
		return 0, err
	}
	if err := initSpeaker(); err != nil {
		streamer.Close()
		return 0, err
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		streamer.Close()
		return 0, player.ErrOutputClosed
	}
	o.releaseLocked()

	o.loadID = loadID
	o.streamer = streamer
	o.format = format

	speaker.Play(o.attachLocked())
	o.mu.Unlock()

	duration := durationOf(format, streamer.Len())
	o.status.SetFormat(&Format{
		SampleRate: int(format.SampleRate),
		BitDepth:   format.Precision * 8,
		Channels:   format.NumChannels,
		Output:     "speaker",
		Resampled:  format.SampleRate != SpeakerSampleRate,
	})
	log.Debug().Str("id", track.ID).Float64("duration", duration).Int("sampleRate", int(format.SampleRate)).Msg("Track loaded")
	return duration, nil
}

// Play implements player.Output.
func (o *SpeakerOutput) Play(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return player.ErrOutputClosed
	}
	if o.ctrl == nil {
		return ErrNothingLoaded
	}

	if o.drained {
		// replay after the end needs a fresh chain on the mixer
		if o.streamer.Position() >= o.streamer.Len() {
			o.streamer.Seek(0)
		}
		o.drained = false
		ctrl := o.attachLocked()
		ctrl.Paused = false
		speaker.Play(ctrl)
	} else {
		speaker.Lock()
		o.ctrl.Paused = false
		speaker.Unlock()
	}

	if o.ticking == nil {
		o.ticking = make(chan struct{})
		go o.progress(o.loadID, o.ticking)
	}
	o.status.OnPlaybackStart()
	return nil
}

// Pause implements player.Output.
func (o *SpeakerOutput) Pause() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.ctrl != nil {
		speaker.Lock()
		o.ctrl.Paused = true
		speaker.Unlock()
	}
	o.stopTickingLocked()
	o.status.OnPlaybackStop()
	return nil
}

// Seek implements player.Output.
func (o *SpeakerOutput) Seek(seconds float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.streamer == nil {
		return ErrNothingLoaded
	}

	speaker.Lock()
	defer speaker.Unlock()

	n := o.format.SampleRate.N(time.Duration(seconds * float64(time.Second)))
	if n < 0 {
		n = 0
	}
	if last := o.streamer.Len() - 1; n > last && last >= 0 {
		n = last
	}
	if err := o.streamer.Seek(n); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	return nil
}

// SetVolume implements player.Output. v is linear in [0,1].
func (o *SpeakerOutput) SetVolume(v float64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.level = v
	if o.volume == nil {
		return nil
	}

	speaker.Lock()
	o.volume.Volume = gainFor(v)
	o.volume.Silent = v <= 0
	speaker.Unlock()
	return nil
}

// Events implements player.Output.
func (o *SpeakerOutput) Events() <-chan player.OutputEvent {
	return o.events
}

// Close implements player.Output. The sound card stays open for the process lifetime.
func (o *SpeakerOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	o.releaseLocked()
	close(o.done)
	return nil
}

// attachLocked builds the resample, volume and pause chain for the loaded decoder.
// The caller hands the returned ctrl to the speaker.
func (o *SpeakerOutput) attachLocked() *beep.Ctrl {
	loadID := o.loadID

	var s beep.Streamer = o.streamer
	if o.format.SampleRate != SpeakerSampleRate {
		s = beep.Resample(resampleQuality, o.format.SampleRate, SpeakerSampleRate, o.streamer)
	}
	// runs on the speaker goroutine with the speaker locked
	end := beep.Callback(func() { go o.finished(loadID) })

	o.volume = &effects.Volume{
		Streamer: beep.Seq(s, end),
		Base:     2,
		Volume:   gainFor(o.level),
		Silent:   o.level <= 0,
	}
	o.ctrl = &beep.Ctrl{Streamer: o.volume, Paused: true}
	return o.ctrl
}

// releaseLocked detaches the current track from the speaker and closes its decoder.
func (o *SpeakerOutput) releaseLocked() {
	o.stopTickingLocked()
	if o.ctrl == nil {
		return
	}

	speaker.Lock()
	o.ctrl.Streamer = nil
	speaker.Unlock()

	if err := o.streamer.Close(); err != nil {
		log.Debug().Err(err).Msg("Failed to close decoder")
	}
	o.ctrl = nil
	o.volume = nil
	o.streamer = nil
	o.drained = false
	o.status.OnPlaybackStop()
}

func (o *SpeakerOutput) stopTickingLocked() {
	if o.ticking != nil {
		close(o.ticking)
		o.ticking = nil
	}
}

// positionLocked reads the decoder position in seconds.
func (o *SpeakerOutput) positionLocked() (pos, dur float64) {
	speaker.Lock()
	p, n := o.streamer.Position(), o.streamer.Len()
	speaker.Unlock()
	return durationOf(o.format, p), durationOf(o.format, n)
}

func (o *SpeakerOutput) progress(loadID uint64, stop chan struct{}) {
	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.mu.Lock()
			if o.ticking != stop || o.loadID != loadID || o.streamer == nil {
				o.mu.Unlock()
				return
			}
			pos, dur := o.positionLocked()
			o.mu.Unlock()

			o.send(player.OutputEvent{LoadID: loadID, Kind: player.OutputTick, Position: pos, Duration: dur, Buffered: 100})
		}
	}
}

// finished is called once the decoder is drained.
func (o *SpeakerOutput) finished(loadID uint64) {
	o.mu.Lock()
	if o.closed || o.loadID != loadID || o.streamer == nil {
		o.mu.Unlock()
		return
	}
	o.stopTickingLocked()
	o.drained = true
	dur := durationOf(o.format, o.streamer.Len())
	o.mu.Unlock()

	o.status.OnPlaybackStop()
	o.send(player.OutputEvent{LoadID: loadID, Kind: player.OutputEnded, Position: dur, Duration: dur})
}

func (o *SpeakerOutput) send(ev player.OutputEvent) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

// decode opens the track and starts an MP3 decoder over it.
func decode(ctx context.Context, opener Opener, track music.Track) (beep.StreamSeekCloser, beep.Format, error) {
	rc, _, err := opener.Open(ctx, track.AudioLocator)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("open %s: %w", track.AudioLocator, err)
	}

	streamer, format, err := mp3.Decode(rc)
	if err != nil {
		rc.Close()
		return nil, beep.Format{}, fmt.Errorf("decode %s: %w", track.AudioLocator, err)
	}
	return streamer, format, nil
}

// gainFor maps a linear level to the exponent of effects.Volume with base 2.
func gainFor(level float64) float64 {
	if level <= 0 {
		return -10
	}
	if level >= 1 {
		return 0
	}
	return math.Log2(level)
}

func durationOf(format beep.Format, samples int) float64 {
	if format.SampleRate <= 0 || samples <= 0 {
		return 0
	}
	return format.SampleRate.D(samples).Seconds()
}
