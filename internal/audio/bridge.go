package audio

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/taocao/Open-LLM-VTuber/internal/bus"
	"github.com/taocao/Open-LLM-VTuber/internal/protocol"
)

// DefaultChunkSize is the number of samples sent per mic-audio message.
const DefaultChunkSize = 4096

// Sender delivers outbound messages to the backend.
type Sender interface {
	Send(msg any) error
}

// Bridge connects the speech detector to the backend: each finished
// segment is uploaded as a run of mic-audio chunks followed by a
// mic-audio-end marker. Capture is single-shot, the detector pauses
// after each upload until the backend asks for the mic again.
type Bridge struct {
	sender    Sender
	eventBus  *bus.EventBus
	chunkSize int
	log       zerolog.Logger

	mu       sync.Mutex
	detector Detector
	enabled  bool
}

// NewBridge creates a Bridge and wires the detector callbacks.
func NewBridge(sender Sender, detector Detector, chunkSize int, eventBus *bus.EventBus, log zerolog.Logger) *Bridge {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	b := &Bridge{
		sender:    sender,
		eventBus:  eventBus,
		chunkSize: chunkSize,
		detector:  detector,
		enabled:   true,
		log:       log.With().Str("component", "micbridge").Logger(),
	}

	if detector != nil {
		detector.OnSpeechStart(b.handleSpeechStart)
		detector.OnSpeechEnd(b.handleSpeechEnd)
	}

	return b
}

// StartMic begins one capture cycle. Ignored while the mic is disabled
// or no detector is available.
func (b *Bridge) StartMic() {
	b.mu.Lock()
	detector := b.detector
	enabled := b.enabled
	b.mu.Unlock()

	if detector == nil {
		b.log.Warn().Msg("Mic requested but no detector available")
		return
	}
	if !enabled {
		b.log.Debug().Msg("Mic requested while disabled, ignoring")
		return
	}

	if err := detector.Start(); err != nil {
		b.log.Error().Err(err).Msg("Failed to start detector")
		return
	}

	b.log.Info().Msg("Microphone capture started")
	if b.eventBus != nil {
		b.eventBus.Publish(bus.Event{Type: bus.EventTypeMicStarted})
	}
}

// StopMic pauses capture without changing the enabled preference.
func (b *Bridge) StopMic() {
	b.mu.Lock()
	detector := b.detector
	b.mu.Unlock()

	if detector == nil {
		return
	}
	detector.Pause()

	b.log.Info().Msg("Microphone capture stopped")
	if b.eventBus != nil {
		b.eventBus.Publish(bus.Event{Type: bus.EventTypeMicStopped})
	}
}

// SetEnabled records the user's mic preference, reports it to the
// backend and pauses capture when turning off.
func (b *Bridge) SetEnabled(enabled bool) {
	b.mu.Lock()
	b.enabled = enabled
	detector := b.detector
	b.mu.Unlock()

	if !enabled && detector != nil {
		detector.Pause()
	}

	if err := b.sender.Send(protocol.NewMicToggle(enabled)); err != nil {
		b.log.Error().Err(err).Msg("Failed to send mic toggle")
	}
	b.log.Info().Bool("enabled", enabled).Msg("Microphone preference changed")
}

// Enabled returns the user's mic preference.
func (b *Bridge) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

func (b *Bridge) handleSpeechStart() {
	if b.eventBus != nil {
		b.eventBus.Publish(bus.Event{Type: bus.EventTypeSpeechStart})
	}
}

func (b *Bridge) handleSpeechEnd(samples []float32) {
	// One capture cycle per start-mic request.
	b.mu.Lock()
	detector := b.detector
	b.mu.Unlock()
	if detector != nil {
		detector.Pause()
	}

	b.upload(samples)

	if b.eventBus != nil {
		b.eventBus.Publish(bus.Event{
			Type: bus.EventTypeSpeechEnd,
			Data: map[string]any{"samples": len(samples)},
		})
		b.eventBus.Publish(bus.Event{Type: bus.EventTypeMicStopped})
	}
}

// upload sends the segment in fixed-size chunks followed by the end
// marker.
func (b *Bridge) upload(samples []float32) {
	sent := 0
	for start := 0; start < len(samples); start += b.chunkSize {
		end := start + b.chunkSize
		if end > len(samples) {
			end = len(samples)
		}
		if err := b.sender.Send(protocol.NewMicAudio(samples[start:end])); err != nil {
			b.log.Error().Err(err).Msg("Failed to send mic audio chunk")
			return
		}
		sent++
	}

	if err := b.sender.Send(protocol.NewMicAudioEnd()); err != nil {
		b.log.Error().Err(err).Msg("Failed to send mic audio end")
		return
	}

	b.log.Debug().Int("chunks", sent).Int("samples", len(samples)).Msg("Speech segment uploaded")
}
