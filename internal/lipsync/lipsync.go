// Package lipsync animates the avatar's mouth, either from a
// precomputed volume sequence that accompanies an audio payload or from
// a randomized talk loop while the backend reports speech with no audio.
package lipsync

import (
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultSliceLength is used when a payload carries volumes but no
// slice_length.
const DefaultSliceLength = 100 * time.Millisecond

// DefaultTalkInterval is the pace of the randomized talk loop.
const DefaultTalkInterval = 75 * time.Millisecond

// Clock abstracts timing so tests can drive animation without sleeping.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Player plays backend-supplied audio. The payload is base64-encoded;
// decoding and output device handling live behind this interface.
type Player interface {
	Play(audio string) error
	Stop()
}

// Driver steps the avatar mouth parameter over time.
type Driver struct {
	player  Player
	onMouth func(float64)
	clock   Clock
	rnd     func() float64

	talkInterval time.Duration
	log          zerolog.Logger

	mu       sync.Mutex
	speaking bool
	gen      int // bumping this cancels any running animation loop
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock substitutes the timing source.
func WithClock(c Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithTalkInterval overrides the randomized talk loop pace.
func WithTalkInterval(iv time.Duration) Option {
	return func(d *Driver) { d.talkInterval = iv }
}

// WithRand substitutes the mouth value source for the talk loop.
func WithRand(fn func() float64) Option {
	return func(d *Driver) { d.rnd = fn }
}

// New creates a Driver. onMouth receives every mouth parameter update,
// with values in [0, 1].
func New(player Player, onMouth func(float64), log zerolog.Logger, opts ...Option) *Driver {
	d := &Driver{
		player:       player,
		onMouth:      onMouth,
		clock:        realClock{},
		rnd:          rand.Float64,
		talkInterval: DefaultTalkInterval,
		log:          log.With().Str("component", "lipsync").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// PlayVolumes starts audio playback and steps the mouth through the
// volume sequence, one update per slice. An empty audio payload skips
// playback and only animates. Audio supersedes the talk loop: the
// speaking flag clears so a later speaking-start can animate again.
func (d *Driver) PlayVolumes(audio string, volumes []float64, sliceLength time.Duration) error {
	if sliceLength <= 0 {
		sliceLength = DefaultSliceLength
	}

	d.mu.Lock()
	d.speaking = false
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	if audio != "" {
		if err := d.player.Play(audio); err != nil {
			return err
		}
	}

	d.log.Debug().Int("volumes", len(volumes)).Dur("slice", sliceLength).Msg("Starting volume playback")
	go d.stepVolumes(gen, volumes, sliceLength)
	return nil
}

func (d *Driver) stepVolumes(gen int, volumes []float64, interval time.Duration) {
	for _, v := range volumes {
		if !d.current(gen) {
			return
		}
		d.onMouth(v)
		<-d.clock.After(interval)
	}
}

// StartSpeaking begins the randomized talk loop. Calling it while
// already speaking has no effect.
func (d *Driver) StartSpeaking() {
	d.mu.Lock()
	if d.speaking {
		d.mu.Unlock()
		return
	}
	d.speaking = true
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	d.log.Debug().Msg("Speaking started")
	go d.talkLoop(gen)
}

// StopSpeaking ends any animation, stops playback and closes the
// mouth. Calling it while not speaking is a no-op beyond cancelling
// volume playback.
func (d *Driver) StopSpeaking() {
	d.mu.Lock()
	wasSpeaking := d.speaking
	d.speaking = false
	d.gen++
	d.mu.Unlock()

	d.player.Stop()
	d.onMouth(0)

	if wasSpeaking {
		d.log.Debug().Msg("Speaking stopped")
	}
}

// Speaking reports whether the talk loop is active.
func (d *Driver) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

func (d *Driver) talkLoop(gen int) {
	for d.current(gen) {
		d.onMouth(d.rnd())
		<-d.clock.After(d.talkInterval)
	}
}

func (d *Driver) current(gen int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gen == d.gen
}
