// Package protocol defines the JSON messages exchanged with the backend
// over the stage WebSocket.
package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
)

// Server-to-client message types.
const (
	TypeFullText        = "full-text"
	TypeControl         = "control"
	TypeExpression      = "expression"
	TypeMouth           = "mouth"
	TypeAudio           = "audio"
	TypeSetModel        = "set-model"
	TypeListExpressions = "listExpressions"
)

// Control payload texts.
const (
	ControlStartMic      = "start-mic"
	ControlSpeakingStart = "speaking-start"
	ControlSpeakingStop  = "speaking-stop"
)

// Client-to-server message types.
const (
	TypeMicAudio    = "mic-audio"
	TypeMicAudioEnd = "mic-audio-end"
	TypeInterrupt   = "interrupt"
	TypeMicToggle   = "mic_toggle"
)

// ServerMessage is the tagged union received from the backend. The text
// field is kept raw because its shape depends on the tag: a caption string
// for full-text, a numeric index for expression, a float for mouth, and a
// whole model-dictionary entry for set-model.
type ServerMessage struct {
	Type        string          `json:"type"`
	Text        json.RawMessage `json:"text,omitempty"`
	Audio       string          `json:"audio,omitempty"`
	Volumes     []float64       `json:"volumes,omitempty"`
	SliceLength int             `json:"slice_length,omitempty"`
	Expressions []int           `json:"expressions,omitempty"`
}

// DecodeServerMessage parses a raw WebSocket text frame.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode server message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("decode server message: missing type tag")
	}
	return &msg, nil
}

// TextString interprets the text field as a plain string.
func (m *ServerMessage) TextString() (string, error) {
	if len(m.Text) == 0 {
		return "", nil
	}
	var s string
	if err := sonic.Unmarshal(m.Text, &s); err != nil {
		return "", fmt.Errorf("text is not a string: %w", err)
	}
	return s, nil
}

// TextFloat interprets the text field as a float. The backend is loose
// here: mouth values arrive both as numbers and as quoted strings
// ("0.75"), so both are accepted.
func (m *ServerMessage) TextFloat() (float64, error) {
	if len(m.Text) == 0 {
		return 0, fmt.Errorf("text is empty")
	}
	var f float64
	if err := sonic.Unmarshal(m.Text, &f); err == nil {
		return f, nil
	}
	var s string
	if err := sonic.Unmarshal(m.Text, &s); err != nil {
		return 0, fmt.Errorf("text is neither number nor string")
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse text %q as float: %w", s, err)
	}
	return f, nil
}

// TextInt interprets the text field as an integer index, with the same
// number-or-quoted-string leniency as TextFloat.
func (m *ServerMessage) TextInt() (int, error) {
	f, err := m.TextFloat()
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// MicAudio carries one chunk of captured microphone samples.
type MicAudio struct {
	Type  string    `json:"type"`
	Audio []float32 `json:"audio"`
}

// NewMicAudio builds a mic-audio chunk message.
func NewMicAudio(samples []float32) *MicAudio {
	return &MicAudio{Type: TypeMicAudio, Audio: samples}
}

// MicAudioEnd marks the end of a captured speech segment.
type MicAudioEnd struct {
	Type string `json:"type"`
}

// NewMicAudioEnd builds the end-of-audio marker.
func NewMicAudioEnd() *MicAudioEnd {
	return &MicAudioEnd{Type: TypeMicAudioEnd}
}

// Interrupt asks the backend to abort the current response.
type Interrupt struct {
	Type string `json:"type"`
}

// NewInterrupt builds an interrupt message.
func NewInterrupt() *Interrupt {
	return &Interrupt{Type: TypeInterrupt}
}

// MicToggle reports the user's microphone on/off preference.
type MicToggle struct {
	Type  string `json:"type"`
	State bool   `json:"state"`
}

// NewMicToggle builds a mic preference message.
func NewMicToggle(state bool) *MicToggle {
	return &MicToggle{Type: TypeMicToggle, State: state}
}

// Encode serializes any outbound message.
func Encode(msg any) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}
