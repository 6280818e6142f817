// Package discovery locates a running backend on the local machine by
// probing candidate ports, so the stage client can start without a
// configured server URL.
package discovery

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Backend is a probed server instance.
type Backend struct {
	URL          string        `json:"url"`
	WebSocketURL string        `json:"websocketUrl"`
	Latency      time.Duration `json:"latency"`
	LastSeen     time.Time     `json:"lastSeen"`
}

// Config holds discovery configuration
type Config struct {
	// Ports to scan on localhost
	Ports []int
	// Custom URLs to check in addition to port scanning
	CustomURLs []string
	// Timeout per probe
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Ports:   []int{1017, 8000},
		Timeout: 2 * time.Second,
	}
}

// Service probes for backends.
type Service struct {
	cfg        *Config
	httpClient *http.Client
	log        zerolog.Logger

	mu       sync.RWMutex
	backends map[string]*Backend
}

// NewService creates a discovery service
func NewService(cfg *Config, log zerolog.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Service{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.With().Str("component", "discovery").Logger(),
		backends:   make(map[string]*Backend),
	}
}

// Scan probes every candidate and returns the backends that answered,
// fastest first.
func (s *Service) Scan(ctx context.Context) []*Backend {
	candidates := make([]string, 0, len(s.cfg.Ports)+len(s.cfg.CustomURLs))
	for _, port := range s.cfg.Ports {
		candidates = append(candidates, fmt.Sprintf("http://localhost:%d", port))
	}
	candidates = append(candidates, s.cfg.CustomURLs...)

	var wg sync.WaitGroup
	results := make(chan *Backend, len(candidates))

	for _, url := range candidates {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if b := s.probe(ctx, u); b != nil {
				results <- b
			}
		}(url)
	}

	wg.Wait()
	close(results)

	s.mu.Lock()
	var found []*Backend
	for b := range results {
		s.backends[b.URL] = b
		found = append(found, b)
	}
	s.mu.Unlock()

	sort.Slice(found, func(i, j int) bool { return found[i].Latency < found[j].Latency })

	s.log.Info().Int("found", len(found)).Int("probed", len(candidates)).Msg("Scan complete")
	return found
}

// First scans and returns the best backend, or an error when none
// answered.
func (s *Service) First(ctx context.Context) (*Backend, error) {
	found := s.Scan(ctx)
	if len(found) == 0 {
		return nil, fmt.Errorf("no backend found on ports %v", s.cfg.Ports)
	}
	return found[0], nil
}

// Backends returns every backend seen so far.
func (s *Service) Backends() []*Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*Backend, 0, len(s.backends))
	for _, b := range s.backends {
		list = append(list, b)
	}
	return list
}

// AddCustomURL adds a URL to future scans.
func (s *Service) AddCustomURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.cfg.CustomURLs {
		if u == url {
			return
		}
	}
	s.cfg.CustomURLs = append(s.cfg.CustomURLs, url)
}

// probe checks whether a backend serves its web root at baseURL.
func (s *Service) probe(ctx context.Context, baseURL string) *Backend {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/", nil)
	if err != nil {
		return nil
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	return &Backend{
		URL:          baseURL,
		WebSocketURL: WebSocketURL(baseURL),
		Latency:      time.Since(start),
		LastSeen:     time.Now(),
	}
}

// WebSocketURL derives the client WebSocket endpoint from a base URL.
func WebSocketURL(baseURL string) string {
	ws := baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimSuffix(ws, "/") + "/client-ws"
}
