package live2d

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taocao/Open-LLM-VTuber/internal/bus"
)

type fakeRenderer struct {
	mu          sync.Mutex
	loaded      []ModelInfo
	expressions []int
	mouths      []float64
	loadErr     error
}

func (r *fakeRenderer) LoadModel(info ModelInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return r.loadErr
	}
	r.loaded = append(r.loaded, info)
	return nil
}

func (r *fakeRenderer) SetExpression(index int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expressions = append(r.expressions, index)
}

func (r *fakeRenderer) SetMouth(value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mouths = append(r.mouths, value)
}

func newTestController(t *testing.T) (*Controller, *fakeRenderer) {
	t.Helper()
	path := writeDict(t, testDictJSON)
	dict, err := NewDict(path, "http://localhost:1017", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(dict.Close)

	renderer := &fakeRenderer{}
	return NewController(renderer, dict, nil, zerolog.Nop()), renderer
}

func TestController_LoadModel(t *testing.T) {
	c, renderer := newTestController(t)

	info, err := c.LoadModel("shizuku")
	require.NoError(t, err)
	assert.Equal(t, "shizuku", info.Name)

	require.Len(t, renderer.loaded, 1)
	assert.Equal(t, "http://localhost:1017/live2d-models/shizuku/shizuku.model.json", renderer.loaded[0].URL)
	assert.Equal(t, info, c.Model())
}

func TestController_LoadModelUnknown(t *testing.T) {
	c, renderer := newTestController(t)

	_, err := c.LoadModel("nope")
	assert.Error(t, err)
	assert.Empty(t, renderer.loaded)
	assert.Nil(t, c.Model())
}

func TestController_SetModelFromJSON(t *testing.T) {
	c, renderer := newTestController(t)

	raw := []byte(`{"name":"mao","url":"/live2d-models/mao/mao.model.json","emotionMap":{"joy":2}}`)
	require.NoError(t, c.SetModelFromJSON(raw))

	require.Len(t, renderer.loaded, 1)
	assert.Equal(t, "http://localhost:1017/live2d-models/mao/mao.model.json", renderer.loaded[0].URL)
	assert.Equal(t, map[string]int{"joy": 2}, c.EmotionMap())
}

func TestController_SetModelFromJSON_Invalid(t *testing.T) {
	c, _ := newTestController(t)

	assert.Error(t, c.SetModelFromJSON([]byte(`not json`)))
	assert.Error(t, c.SetModelFromJSON([]byte(`{"url":"/x.json"}`)), "missing name rejected")
}

func TestController_SetMouthClamps(t *testing.T) {
	c, renderer := newTestController(t)

	c.SetMouth(-0.5)
	c.SetMouth(0.4)
	c.SetMouth(1.7)

	assert.Equal(t, []float64{0, 0.4, 1}, renderer.mouths)
}

func TestController_PublishesMouthChanges(t *testing.T) {
	path := writeDict(t, testDictJSON)
	dict, err := NewDict(path, "http://localhost:1017", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(dict.Close)

	eventBus := bus.NewEventBus()
	events := make(chan bus.Event, 1)
	eventBus.Subscribe(bus.EventTypeMouthChanged, func(e bus.Event) {
		select {
		case events <- e:
		default:
		}
	})

	c := NewController(&fakeRenderer{}, dict, eventBus, zerolog.Nop())
	c.SetMouth(0.3)

	select {
	case e := <-events:
		assert.Equal(t, 0.3, e.Data["value"])
	case <-time.After(time.Second):
		t.Fatal("mouth change never published")
	}
}

func TestController_TagsUseCurrentModel(t *testing.T) {
	c, renderer := newTestController(t)

	assert.Nil(t, c.ExpressionList("[joy] hi"), "no model loaded yet")

	_, err := c.LoadModel("shizuku")
	require.NoError(t, err)

	assert.Equal(t, []int{1}, c.ExpressionList("[joy] hi"))
	assert.Equal(t, " hi", c.StripTags("[joy] hi"))

	c.SetExpression(1)
	assert.Equal(t, []int{1}, renderer.expressions)
}
