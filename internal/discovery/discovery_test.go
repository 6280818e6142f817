package discovery

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:1017/client-ws", WebSocketURL("http://localhost:1017"))
	assert.Equal(t, "ws://localhost:1017/client-ws", WebSocketURL("http://localhost:1017/"))
	assert.Equal(t, "wss://vtuber.example.com/client-ws", WebSocketURL("https://vtuber.example.com"))
}

func TestScan_FindsBackend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewService(&Config{
		Ports:      nil,
		CustomURLs: []string{srv.URL},
		Timeout:    time.Second,
	}, zerolog.Nop())

	found := s.Scan(context.Background())
	require.Len(t, found, 1)
	assert.Equal(t, srv.URL, found[0].URL)
	assert.Equal(t, WebSocketURL(srv.URL), found[0].WebSocketURL)

	b, err := s.First(context.Background())
	require.NoError(t, err)
	assert.Equal(t, srv.URL, b.URL)
}

func TestScan_IgnoresBadResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewService(&Config{
		CustomURLs: []string{srv.URL, "http://localhost:1"},
		Timeout:    500 * time.Millisecond,
	}, zerolog.Nop())

	found := s.Scan(context.Background())
	assert.Empty(t, found)

	_, err := s.First(context.Background())
	assert.Error(t, err)
}

func TestAddCustomURL_Dedupes(t *testing.T) {
	s := NewService(DefaultConfig(), zerolog.Nop())
	s.AddCustomURL("http://localhost:9000")
	s.AddCustomURL("http://localhost:9000")
	assert.Len(t, s.cfg.CustomURLs, 1)
}
