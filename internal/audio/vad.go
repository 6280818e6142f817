// Package audio detects speech in captured microphone frames and
// uploads finished segments to the backend.
package audio

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Detector captures microphone audio and reports speech segments.
// Device capture lives behind this interface; the default VAD
// implementation is fed frames by the platform capture layer.
type Detector interface {
	Start() error
	Pause()
	OnSpeechStart(func())
	OnSpeechEnd(func(samples []float32))
}

// VADConfig holds voice activity detection settings
type VADConfig struct {
	SampleRate      int           `json:"sample_rate"`      // default 16000
	FrameSize       int           `json:"frame_size"`       // samples per frame, default 512
	Threshold       float64       `json:"threshold"`        // smoothed RMS threshold, default 0.02
	SmoothingFrames int           `json:"smoothing_frames"` // frames averaged before thresholding
	EnergyWindow    time.Duration `json:"energy_window"`    // smoothing window, used when SmoothingFrames is 0
	MaxSilence      time.Duration `json:"max_silence"`      // silence tolerated inside a segment
	PrePadFrames    int           `json:"pre_pad_frames"`   // frames kept from before speech onset
}

// DefaultVADConfig returns sensible defaults
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		SampleRate:      16000,
		FrameSize:       512,
		Threshold:       0.02,
		SmoothingFrames: 5,
		MaxSilence:      800 * time.Millisecond,
		PrePadFrames:    10,
	}
}

// VAD implements speech detection using RMS energy analysis. Frames
// are pushed in by the capture layer via ProcessFrame.
type VAD struct {
	config           *VADConfig
	maxSilenceFrames int
	log              zerolog.Logger

	mu      sync.Mutex
	running bool
	active  bool

	energyHistory []float64
	historyIndex  int
	silenceFrames int

	prePad [][]float32 // ring of recent frames, so onset is not clipped
	speech []float32

	onStart func()
	onEnd   func(samples []float32)
}

// NewVAD creates a VAD instance
func NewVAD(config *VADConfig, log zerolog.Logger) *VAD {
	if config == nil {
		config = DefaultVADConfig()
	}

	frameDur := time.Duration(config.FrameSize) * time.Second / time.Duration(config.SampleRate)
	maxSilenceFrames := 1
	if frameDur > 0 {
		maxSilenceFrames = int(config.MaxSilence / frameDur)
		if maxSilenceFrames < 1 {
			maxSilenceFrames = 1
		}
	}

	smoothing := config.SmoothingFrames
	if smoothing <= 0 && config.EnergyWindow > 0 && frameDur > 0 {
		smoothing = int(config.EnergyWindow / frameDur)
	}
	if smoothing < 1 {
		smoothing = 1
	}

	return &VAD{
		config:           config,
		maxSilenceFrames: maxSilenceFrames,
		log:              log.With().Str("component", "vad").Logger(),
		energyHistory:    make([]float64, smoothing),
	}
}

// Start begins accepting frames
func (v *VAD) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.running = true
	v.log.Debug().Msg("VAD started")
	return nil
}

// Pause stops accepting frames and discards any partial segment
func (v *VAD) Pause() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.running = false
	v.resetLocked()
	v.log.Debug().Msg("VAD paused")
}

// OnSpeechStart registers the speech onset callback
func (v *VAD) OnSpeechStart(fn func()) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onStart = fn
}

// OnSpeechEnd registers the finished-segment callback
func (v *VAD) OnSpeechEnd(fn func(samples []float32)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onEnd = fn
}

// ProcessFrame analyzes one frame of captured samples. Frames arriving
// while the detector is paused are dropped.
func (v *VAD) ProcessFrame(frame []float32) {
	v.mu.Lock()

	if !v.running || len(frame) == 0 {
		v.mu.Unlock()
		return
	}

	rms := calculateRMS(frame)
	v.energyHistory[v.historyIndex] = rms
	v.historyIndex = (v.historyIndex + 1) % len(v.energyHistory)
	isSpeech := v.smoothedRMS() >= v.config.Threshold

	if !v.active {
		v.pushPrePad(frame)
		if !isSpeech {
			v.mu.Unlock()
			return
		}

		// Speech onset: seed the segment with the padding frames so the
		// first syllable is not clipped.
		v.active = true
		v.silenceFrames = 0
		v.speech = v.speech[:0]
		for _, padded := range v.prePad {
			v.speech = append(v.speech, padded...)
		}
		v.prePad = v.prePad[:0]
		onStart := v.onStart
		v.mu.Unlock()

		v.log.Debug().Float64("rms", rms).Msg("Speech started")
		if onStart != nil {
			go onStart()
		}
		return
	}

	v.speech = append(v.speech, frame...)

	if isSpeech {
		v.silenceFrames = 0
		v.mu.Unlock()
		return
	}

	v.silenceFrames++
	if v.silenceFrames <= v.maxSilenceFrames {
		v.mu.Unlock()
		return
	}

	// Segment finished
	samples := make([]float32, len(v.speech))
	copy(samples, v.speech)
	v.resetLocked()
	onEnd := v.onEnd
	v.mu.Unlock()

	v.log.Debug().Int("samples", len(samples)).Msg("Speech ended")
	if onEnd != nil {
		go onEnd(samples)
	}
}

// Active reports whether a speech segment is in progress
func (v *VAD) Active() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.active
}

func (v *VAD) pushPrePad(frame []float32) {
	buf := make([]float32, len(frame))
	copy(buf, frame)
	v.prePad = append(v.prePad, buf)
	if len(v.prePad) > v.config.PrePadFrames {
		v.prePad = v.prePad[1:]
	}
}

func (v *VAD) resetLocked() {
	v.active = false
	v.silenceFrames = 0
	v.speech = v.speech[:0]
	v.prePad = v.prePad[:0]
	v.historyIndex = 0
	for i := range v.energyHistory {
		v.energyHistory[i] = 0
	}
}

func (v *VAD) smoothedRMS() float64 {
	var sum float64
	for _, e := range v.energyHistory {
		sum += e
	}
	return sum / float64(len(v.energyHistory))
}

// calculateRMS computes Root Mean Square energy over float samples
func calculateRMS(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
