package live2d

import (
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/taocao/Open-LLM-VTuber/internal/bus"
)

// Renderer draws the avatar. The actual canvas lives behind this
// interface.
type Renderer interface {
	LoadModel(info ModelInfo) error
	SetExpression(index int)
	SetMouth(value float64)
}

// Controller owns the current model and translates backend messages
// into renderer calls.
type Controller struct {
	renderer Renderer
	dict     *Dict
	eventBus *bus.EventBus
	log      zerolog.Logger

	mu    sync.RWMutex
	model *ModelInfo
}

// NewController creates a Controller.
func NewController(renderer Renderer, dict *Dict, eventBus *bus.EventBus, log zerolog.Logger) *Controller {
	return &Controller{
		renderer: renderer,
		dict:     dict,
		eventBus: eventBus,
		log:      log.With().Str("component", "live2d").Logger(),
	}
}

// LoadModel looks the model up in the dictionary and loads it.
func (c *Controller) LoadModel(name string) (*ModelInfo, error) {
	info, err := c.dict.Lookup(name)
	if err != nil {
		return nil, err
	}
	if err := c.apply(info); err != nil {
		return nil, err
	}
	return info, nil
}

// SetModelFromJSON loads a model from a raw set-model payload, which
// carries the whole dictionary entry.
func (c *Controller) SetModelFromJSON(raw []byte) error {
	var info ModelInfo
	if err := sonic.Unmarshal(raw, &info); err != nil {
		return fmt.Errorf("parse set-model payload: %w", err)
	}
	if info.Name == "" {
		return fmt.Errorf("set-model payload has no model name")
	}
	info.URL = c.dict.ResolveURL(info.URL)
	return c.apply(&info)
}

func (c *Controller) apply(info *ModelInfo) error {
	if err := c.renderer.LoadModel(*info); err != nil {
		return fmt.Errorf("load model %q: %w", info.Name, err)
	}

	c.mu.Lock()
	c.model = info
	c.mu.Unlock()

	c.log.Info().Str("model", info.Name).Str("url", info.URL).Msg("Model loaded")
	if c.eventBus != nil {
		c.eventBus.Publish(bus.Event{
			Type: bus.EventTypeModelChanged,
			Data: map[string]any{"name": info.Name, "url": info.URL},
		})
	}
	return nil
}

// Model returns the currently loaded model, or nil.
func (c *Controller) Model() *ModelInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// EmotionMap returns the current model's emotion-to-expression map.
func (c *Controller) EmotionMap() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.model == nil {
		return nil
	}
	return c.model.EmotionMap
}

// SetExpression switches the model to the given expression index.
func (c *Controller) SetExpression(index int) {
	c.renderer.SetExpression(index)

	c.log.Debug().Int("expression", index).Msg("Expression set")
	if c.eventBus != nil {
		c.eventBus.Publish(bus.Event{
			Type: bus.EventTypeExpressionChanged,
			Data: map[string]any{"index": index},
		})
	}
}

// SetMouth sets the mouth-open parameter, clamped to [0, 1].
func (c *Controller) SetMouth(value float64) {
	if value < 0 {
		value = 0
	} else if value > 1 {
		value = 1
	}
	c.renderer.SetMouth(value)

	if c.eventBus != nil {
		c.eventBus.Publish(bus.Event{
			Type: bus.EventTypeMouthChanged,
			Data: map[string]any{"value": value},
		})
	}
}

// ExpressionList extracts expression indexes embedded in text using
// the current model's emotion map.
func (c *Controller) ExpressionList(text string) []int {
	return ExpressionList(text, c.EmotionMap())
}

// StripTags removes the current model's emotion tags from text.
func (c *Controller) StripTags(text string) string {
	return StripTags(text, c.EmotionMap())
}
