package live2d

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDictJSON = `[
  {
    "name": "shizuku",
    "url": "/live2d-models/shizuku/shizuku.model.json",
    "kScale": 0.5,
    "emotionMap": {"neutral": 0, "joy": 1}
  },
  {
    "name": "remote",
    "url": "https://cdn.example.com/model.json",
    "emotionMap": {"neutral": 0}
  }
]`

func writeDict(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model_dict.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDict_LookupResolvesRelativeURL(t *testing.T) {
	path := writeDict(t, testDictJSON)
	d, err := NewDict(path, "http://localhost:1017/", zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	info, err := d.Lookup("shizuku")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:1017/live2d-models/shizuku/shizuku.model.json", info.URL)
	assert.Equal(t, 0.5, info.Scale)
	assert.Equal(t, map[string]int{"neutral": 0, "joy": 1}, info.EmotionMap)
}

func TestDict_LookupKeepsAbsoluteURL(t *testing.T) {
	path := writeDict(t, testDictJSON)
	d, err := NewDict(path, "http://localhost:1017", zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	info, err := d.Lookup("remote")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/model.json", info.URL)
}

func TestDict_LookupUnknownModel(t *testing.T) {
	path := writeDict(t, testDictJSON)
	d, err := NewDict(path, "http://localhost:1017", zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	_, err = d.Lookup("nope")
	assert.Error(t, err)
}

func TestDict_BadFile(t *testing.T) {
	_, err := NewDict(filepath.Join(t.TempDir(), "missing.json"), "", zerolog.Nop())
	assert.Error(t, err)

	path := writeDict(t, "not json")
	_, err = NewDict(path, "", zerolog.Nop())
	assert.Error(t, err)
}

func TestDict_WatchReloads(t *testing.T) {
	path := writeDict(t, testDictJSON)
	d, err := NewDict(path, "http://localhost:1017", zerolog.Nop())
	require.NoError(t, err)
	defer d.Close()

	reloaded := make(chan struct{}, 1)
	d.SetOnReload(func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	require.NoError(t, d.Watch())

	updated := `[{"name": "mao", "url": "/mao.model.json", "emotionMap": {"neutral": 0}}]`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0644))

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("dictionary never reloaded after file change")
	}

	_, err = d.Lookup("mao")
	assert.NoError(t, err)
	_, err = d.Lookup("shizuku")
	assert.Error(t, err)
}
