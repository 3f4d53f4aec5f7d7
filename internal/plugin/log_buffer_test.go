package plugin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBuffer(t *testing.T) {
	t.Run("newest first", func(t *testing.T) {
		buf := NewLogBuffer(10)
		buf.Log("test-plugin", LevelWarn, "message 1")
		buf.Log("test-plugin", LevelError, "message 2")

		entries := buf.GetAll()
		require.Len(t, entries, 2)
		assert.Equal(t, "message 2", entries[0].Message)
		assert.Equal(t, LevelError, entries[0].Level)
		assert.Equal(t, "test-plugin", entries[0].Plugin)
		assert.WithinDuration(t, time.Now(), entries[0].Timestamp, time.Minute)
	})

	t.Run("ring overflow", func(t *testing.T) {
		buf := NewLogBuffer(3)
		for _, msg := range []string{"msg1", "msg2", "msg3", "msg4"} {
			buf.Log("p1", LevelWarn, msg)
		}

		assert.Equal(t, 3, buf.Count())
		var messages []string
		for _, e := range buf.GetAll() {
			messages = append(messages, e.Message)
		}
		assert.Equal(t, []string{"msg4", "msg3", "msg2"}, messages)
	})

	t.Run("recent", func(t *testing.T) {
		buf := NewLogBuffer(10)
		buf.Log("plugin-a", LevelWarn, "warn from a")
		buf.Log("plugin-b", LevelWarn, "warn from b")
		buf.Log("plugin-a", LevelError, "error from a")

		recent := buf.GetRecent(2)
		require.Len(t, recent, 2)
		assert.Equal(t, "error from a", recent[0].Message)
		assert.Len(t, buf.GetRecent(10), 3)
		assert.Empty(t, buf.GetRecent(-1))
	})

	t.Run("default size", func(t *testing.T) {
		buf := NewLogBuffer(0)
		for i := 0; i < 300; i++ {
			buf.Log("p", LevelWarn, "x")
		}
		assert.Equal(t, 256, buf.Count())
	})
}
