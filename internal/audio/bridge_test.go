package audio

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taocao/Open-LLM-VTuber/internal/protocol"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []any
	err  error
}

func (s *fakeSender) Send(msg any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *fakeSender) messages() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.sent))
	copy(out, s.sent)
	return out
}

type fakeDetector struct {
	mu      sync.Mutex
	started int
	paused  int
	onStart func()
	onEnd   func([]float32)
}

func (d *fakeDetector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started++
	return nil
}

func (d *fakeDetector) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused++
}

func (d *fakeDetector) OnSpeechStart(fn func())        { d.onStart = fn }
func (d *fakeDetector) OnSpeechEnd(fn func([]float32)) { d.onEnd = fn }

func (d *fakeDetector) counts() (started, paused int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started, d.paused
}

func TestBridge_UploadsSegmentInChunks(t *testing.T) {
	sender := &fakeSender{}
	detector := &fakeDetector{}
	b := NewBridge(sender, detector, 4, nil, zerolog.Nop())

	b.StartMic()
	started, _ := detector.counts()
	require.Equal(t, 1, started)

	samples := make([]float32, 10)
	for i := range samples {
		samples[i] = float32(i) / 10
	}
	detector.onEnd(samples)

	msgs := sender.messages()
	require.Len(t, msgs, 4, "three chunks plus the end marker")

	chunk1 := msgs[0].(*protocol.MicAudio)
	assert.Len(t, chunk1.Audio, 4)
	chunk3 := msgs[2].(*protocol.MicAudio)
	assert.Len(t, chunk3.Audio, 2, "tail chunk carries the remainder")

	_, ok := msgs[3].(*protocol.MicAudioEnd)
	assert.True(t, ok, "upload must finish with mic-audio-end")

	// One capture cycle per request.
	_, paused := detector.counts()
	assert.Equal(t, 1, paused)
}

func TestBridge_StartMicIgnoredWhileDisabled(t *testing.T) {
	sender := &fakeSender{}
	detector := &fakeDetector{}
	b := NewBridge(sender, detector, 4, nil, zerolog.Nop())

	b.SetEnabled(false)
	b.StartMic()

	started, _ := detector.counts()
	assert.Equal(t, 0, started)
}

func TestBridge_SetEnabledReportsPreference(t *testing.T) {
	sender := &fakeSender{}
	detector := &fakeDetector{}
	b := NewBridge(sender, detector, 4, nil, zerolog.Nop())

	b.SetEnabled(false)
	assert.False(t, b.Enabled())

	_, paused := detector.counts()
	assert.Equal(t, 1, paused, "disabling pauses capture")

	b.SetEnabled(true)
	assert.True(t, b.Enabled())

	msgs := sender.messages()
	require.Len(t, msgs, 2)
	off := msgs[0].(*protocol.MicToggle)
	assert.False(t, off.State)
	on := msgs[1].(*protocol.MicToggle)
	assert.True(t, on.State)
}

func TestBridge_NilDetector(t *testing.T) {
	sender := &fakeSender{}
	b := NewBridge(sender, nil, 4, nil, zerolog.Nop())

	b.StartMic()
	b.StopMic()
	b.SetEnabled(false)

	msgs := sender.messages()
	require.Len(t, msgs, 1, "only the toggle goes out")
	_, ok := msgs[0].(*protocol.MicToggle)
	assert.True(t, ok)
}
