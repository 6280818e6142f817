// Package live2d manages the avatar model: the model dictionary,
// emotion tags embedded in caption text, and the renderer-facing
// controller.
package live2d

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ModelInfo describes one entry of the model dictionary.
type ModelInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url"`
	Scale       float64        `json:"kScale,omitempty"`
	XShift      float64        `json:"initialXshift,omitempty"`
	YShift      float64        `json:"initialYshift,omitempty"`
	EmotionMap  map[string]int `json:"emotionMap"`
}

// Dict is the model dictionary loaded from model_dict.json. It can
// watch the file and reload when it changes on disk.
type Dict struct {
	path    string
	baseURL string
	log     zerolog.Logger

	mu     sync.RWMutex
	models []ModelInfo

	watcher  *fsnotify.Watcher
	onReload func()
	done     chan struct{}
	closed   sync.Once
}

// NewDict loads the dictionary from path. Model URLs starting with "/"
// are resolved against baseURL on lookup.
func NewDict(path, baseURL string, log zerolog.Logger) (*Dict, error) {
	d := &Dict{
		path:    path,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     log.With().Str("component", "modeldict").Logger(),
		done:    make(chan struct{}),
	}
	if err := d.reload(); err != nil {
		return nil, err
	}
	return d, nil
}

// SetOnReload registers a callback invoked after a successful reload.
func (d *Dict) SetOnReload(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onReload = fn
}

// Lookup returns the model entry with the given name, with its URL
// resolved.
func (d *Dict) Lookup(name string) (*ModelInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, m := range d.models {
		if m.Name == name {
			info := m
			info.URL = d.resolveURL(info.URL)
			return &info, nil
		}
	}
	return nil, fmt.Errorf("model %q not found in %s", name, d.path)
}

// Names returns the names of all known models.
func (d *Dict) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, len(d.models))
	for i, m := range d.models {
		names[i] = m.Name
	}
	return names
}

// ResolveURL resolves a "/"-relative model asset URL against the base
// URL. Absolute URLs pass through unchanged.
func (d *Dict) ResolveURL(url string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.resolveURL(url)
}

func (d *Dict) resolveURL(url string) string {
	if strings.HasPrefix(url, "/") {
		return d.baseURL + url
	}
	return url
}

// Watch starts reloading the dictionary whenever the file changes.
func (d *Dict) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(d.path); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", d.path, err)
	}
	d.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := d.reload(); err != nil {
					d.log.Error().Err(err).Msg("Failed to reload model dictionary")
					continue
				}
				d.log.Info().Str("path", d.path).Msg("Model dictionary reloaded")

				d.mu.RLock()
				fn := d.onReload
				d.mu.RUnlock()
				if fn != nil {
					fn()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.log.Error().Err(err).Msg("Model dictionary watcher error")
			case <-d.done:
				return
			}
		}
	}()

	return nil
}

// Close stops the watcher.
func (d *Dict) Close() {
	d.closed.Do(func() {
		close(d.done)
		if d.watcher != nil {
			d.watcher.Close()
		}
	})
}

func (d *Dict) reload() error {
	data, err := os.ReadFile(d.path)
	if err != nil {
		return fmt.Errorf("read model dictionary: %w", err)
	}

	var models []ModelInfo
	if err := sonic.Unmarshal(data, &models); err != nil {
		return fmt.Errorf("parse model dictionary %s: %w", d.path, err)
	}

	d.mu.Lock()
	d.models = models
	d.mu.Unlock()
	return nil
}
