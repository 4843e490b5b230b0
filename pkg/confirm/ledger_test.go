package confirm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueValidateConsume(t *testing.T) {
	l := New()
	params := map[string]any{"type": "memory"}
	token, err := l.Issue("clear", params)
	require.NoError(t, err)
	assert.Len(t, token, 22) // base64 raw url of 16 bytes

	assert.True(t, l.Validate(token, "clear", params))
	assert.False(t, l.Validate(token, "clear", map[string]any{"type": "todo"}))
	assert.False(t, l.Validate(token, "deleteNode", params))

	assert.True(t, l.Consume(token))
	assert.False(t, l.Validate(token, "clear", params), "consumed token must not validate")
	assert.False(t, l.Consume(token), "double consume must fail")
}

func TestTokenExpiry(t *testing.T) {
	l := New()
	token, err := l.Issue("clear", nil)
	require.NoError(t, err)

	l.mu.Lock()
	l.entries[token].expiresAt = time.Now().Add(-time.Second)
	l.mu.Unlock()

	assert.False(t, l.Validate(token, "clear", nil))
	assert.False(t, l.Consume(token))
}

func TestStatsAndSweep(t *testing.T) {
	l := New()
	tok1, _ := l.Issue("clear", nil)
	tok2, _ := l.Issue("deleteNode", map[string]any{"id": "n1"})
	l.Consume(tok1)

	l.mu.Lock()
	l.entries[tok2].expiresAt = time.Now().Add(-time.Minute)
	l.mu.Unlock()

	removed := l.sweep()
	assert.Equal(t, 2, removed)

	stats := l.Stats()
	assert.Equal(t, 1, stats.Consumed)
	assert.Equal(t, 1, stats.Expired)
	assert.Equal(t, 0, stats.Outstanding)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	l := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
