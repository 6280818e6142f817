// Package session owns the WebSocket connection to the backend and
// dispatches its tagged messages to the avatar, lip-sync, caption and
// microphone components.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/taocao/Open-LLM-VTuber/internal/audio"
	"github.com/taocao/Open-LLM-VTuber/internal/bus"
	"github.com/taocao/Open-LLM-VTuber/internal/lipsync"
	"github.com/taocao/Open-LLM-VTuber/internal/live2d"
	"github.com/taocao/Open-LLM-VTuber/internal/protocol"
	"github.com/taocao/Open-LLM-VTuber/internal/taskqueue"
)

// Client is one connection to the backend. It dials once: when the
// connection drops the session is over, a new Client starts the next
// one.
type Client struct {
	url       string
	sessionID string
	log       zerolog.Logger
	eventBus  *bus.EventBus

	avatar *live2d.Controller
	lips   *lipsync.Driver
	queue  *taskqueue.Queue

	micMu sync.RWMutex
	mic   *audio.Bridge

	onCaption func(string)

	dialTimeout time.Duration

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc

	writeMu sync.Mutex

	closeOnce sync.Once
}

// New creates a Client. The microphone bridge is attached afterwards
// with SetMicBridge because the bridge sends through the client.
func New(url string, avatar *live2d.Controller, lips *lipsync.Driver, queue *taskqueue.Queue, eventBus *bus.EventBus, log zerolog.Logger) *Client {
	return &Client{
		url:         url,
		sessionID:   uuid.NewString(),
		avatar:      avatar,
		lips:        lips,
		queue:       queue,
		eventBus:    eventBus,
		dialTimeout: 10 * time.Second,
		log:         log.With().Str("component", "session").Logger(),
	}
}

// SetDialTimeout bounds how long Connect waits for the dial.
func (c *Client) SetDialTimeout(d time.Duration) {
	c.dialTimeout = d
}

// SetMicBridge attaches the microphone bridge.
func (c *Client) SetMicBridge(mic *audio.Bridge) {
	c.micMu.Lock()
	defer c.micMu.Unlock()
	c.mic = mic
}

// SetCaptionHandler sets the callback for caption text.
func (c *Client) SetCaptionHandler(fn func(text string)) {
	c.onCaption = fn
}

// SessionID returns the identifier assigned to this session.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Connect dials the backend and starts the read loop. The connection
// is not retried on failure.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.log.Info().Str("url", c.url).Str("session", c.sessionID).Msg("Connecting")

	dialCtx := ctx
	if c.dialTimeout > 0 {
		var cancelDial context.CancelFunc
		dialCtx, cancelDial = context.WithTimeout(ctx, c.dialTimeout)
		defer cancelDial()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		cancel()
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.log.Info().Msg("Connected")
	if c.eventBus != nil {
		c.eventBus.Publish(bus.Event{
			Type: bus.EventTypeConnected,
			Data: map[string]any{"session": c.sessionID},
		})
	}

	go c.readLoop(ctx, conn)
	return nil
}

// IsConnected returns connection status.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Send delivers a message to the backend. Messages sent while
// disconnected are dropped.
func (c *Client) Send(msg any) error {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()

	if !connected || conn == nil {
		c.log.Debug().Msg("Not connected, dropping outbound message")
		return nil
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Interrupt aborts the current response: pending animation tasks are
// dropped, speech stops and the backend is told to stop generating.
func (c *Client) Interrupt() {
	c.log.Info().Msg("Interrupting")
	c.queue.Clear()
	c.lips.StopSpeaking()

	if err := c.Send(protocol.NewInterrupt()); err != nil {
		c.log.Error().Err(err).Msg("Failed to send interrupt")
	}
}

// Close shuts the session down.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer c.handleDisconnect()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.log.Warn().Err(err).Msg("Read failed, session over")
				if c.eventBus != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.eventBus.Publish(bus.Event{
						Type: bus.EventTypeError,
						Data: map[string]any{"error": err.Error()},
					})
				}
			}
			return
		}

		msg, err := protocol.DecodeServerMessage(data)
		if err != nil {
			// Malformed frames are dropped, the session stays up.
			c.log.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}

		c.dispatch(msg)
	}
}

// handleDisconnect runs once when the connection ends, however it
// ends. Queued animation must not outlive the session.
func (c *Client) handleDisconnect() {
	c.mu.Lock()
	wasConnected := c.connected
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	if !wasConnected {
		return
	}

	c.queue.Clear()
	c.lips.StopSpeaking()

	c.log.Info().Str("session", c.sessionID).Msg("Disconnected")
	if c.eventBus != nil {
		c.eventBus.Publish(bus.Event{
			Type: bus.EventTypeDisconnected,
			Data: map[string]any{"session": c.sessionID},
		})
	}
}

func (c *Client) dispatch(msg *protocol.ServerMessage) {
	switch msg.Type {
	case protocol.TypeFullText:
		text, err := msg.TextString()
		if err != nil {
			c.log.Warn().Err(err).Msg("Bad full-text payload")
			return
		}
		c.caption(text)

	case protocol.TypeControl:
		c.handleControl(msg)

	case protocol.TypeExpression:
		index, err := msg.TextInt()
		if err != nil {
			c.log.Warn().Err(err).Msg("Bad expression payload")
			return
		}
		c.avatar.SetExpression(index)

	case protocol.TypeMouth:
		value, err := msg.TextFloat()
		if err != nil {
			c.log.Warn().Err(err).Msg("Bad mouth payload")
			return
		}
		c.avatar.SetMouth(value)

	case protocol.TypeAudio:
		c.queueAudio(msg)

	case protocol.TypeSetModel:
		c.handleSetModel(msg)

	case protocol.TypeListExpressions:
		emoMap := c.avatar.EmotionMap()
		c.log.Info().
			Interface("expressions", emoMap).
			Str("tags", live2d.TagHint(emoMap)).
			Msg("Expression list requested")

	default:
		c.log.Debug().Str("type", msg.Type).Msg("Unknown message type")
	}
}

func (c *Client) handleControl(msg *protocol.ServerMessage) {
	text, err := msg.TextString()
	if err != nil {
		c.log.Warn().Err(err).Msg("Bad control payload")
		return
	}

	switch text {
	case protocol.ControlStartMic:
		c.micMu.RLock()
		mic := c.mic
		c.micMu.RUnlock()
		if mic == nil {
			c.log.Warn().Msg("Mic requested but no bridge attached")
			return
		}
		mic.StartMic()

	case protocol.ControlSpeakingStart:
		c.lips.StartSpeaking()
		if c.eventBus != nil {
			c.eventBus.Publish(bus.Event{Type: bus.EventTypeSpeakingStarted})
		}

	case protocol.ControlSpeakingStop:
		c.lips.StopSpeaking()
		if c.eventBus != nil {
			c.eventBus.Publish(bus.Event{Type: bus.EventTypeSpeakingStopped})
		}

	default:
		c.log.Debug().Str("control", text).Msg("Unknown control signal")
	}
}

// handleSetModel switches the avatar model. The payload is either a
// model name to look up in the dictionary or a whole dictionary
// entry.
func (c *Client) handleSetModel(msg *protocol.ServerMessage) {
	if name, err := msg.TextString(); err == nil && name != "" {
		if _, err := c.avatar.LoadModel(name); err != nil {
			c.log.Error().Err(err).Msg("Failed to switch model")
		}
		return
	}
	if err := c.avatar.SetModelFromJSON(msg.Text); err != nil {
		c.log.Error().Err(err).Msg("Failed to switch model")
	}
}

// queueAudio turns an audio payload into paced animation tasks: one
// task shows the caption and plays the audio with its volume
// sequence, then each attached expression follows as its own step.
func (c *Client) queueAudio(msg *protocol.ServerMessage) {
	text, err := msg.TextString()
	if err != nil {
		c.log.Warn().Err(err).Msg("Bad audio caption, playing without text")
		text = ""
	}

	payload := msg.Audio
	volumes := msg.Volumes
	sliceLength := time.Duration(msg.SliceLength) * time.Millisecond

	c.queue.Add(func() {
		if text != "" {
			c.caption(c.avatar.StripTags(text))
		}
		if err := c.lips.PlayVolumes(payload, volumes, sliceLength); err != nil {
			c.log.Error().Err(err).Msg("Audio playback failed")
		}
	})

	for _, index := range msg.Expressions {
		index := index
		c.queue.Add(func() {
			c.avatar.SetExpression(index)
		})
	}
}

func (c *Client) caption(text string) {
	if c.onCaption != nil {
		c.onCaption(text)
	}
	if c.eventBus != nil {
		c.eventBus.Publish(bus.Event{
			Type: bus.EventTypeCaption,
			Data: map[string]any{"text": text},
		})
	}
}
