package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	l, err := New(&Config{
		LogDir:     t.TempDir(),
		Level:      LevelDebug,
		MaxHistory: 3,
		Console:    false,
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLogger_HistoryRing(t *testing.T) {
	l := newTestLogger(t)

	zl := l.Zerolog()
	zl.Info().Msg("one")
	zl.Info().Msg("two")
	zl.Info().Msg("three")
	zl.Info().Msg("four")

	history := l.History(0)
	require.Len(t, history, 3, "ring keeps only the newest entries")
	assert.Equal(t, "two", history[0].Message)
	assert.Equal(t, "four", history[2].Message)

	assert.Len(t, l.History(2), 2)
}

func TestLogger_OnLogCallback(t *testing.T) {
	l := newTestLogger(t)

	got := make(chan Entry, 1)
	l.SetOnLog(func(e Entry) { got <- e })

	cl := l.Component("session")
	cl.Warn().Msg("watch out")

	select {
	case e := <-got:
		assert.Equal(t, "warn", e.Level)
		assert.Equal(t, "watch out", e.Message)
	case <-time.After(time.Second):
		t.Fatal("callback never fired")
	}
}

func TestLogger_Path(t *testing.T) {
	l := newTestLogger(t)
	assert.NotEmpty(t, l.Path())
}
