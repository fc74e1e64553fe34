package watch

import (
	"context"
	"testing"
	"time"

	"github.com/agentforge/deployq/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expectClosed(t *testing.T, ch <-chan models.DeployJob) {
	t.Helper()
	select {
	case _, open := <-ch:
		assert.False(t, open, "expected stream to be closed")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream to close")
	}
}

func TestHub_ContextCancelRemovesSubscriber(t *testing.T) {
	hub := NewHub(nil)

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := hub.WatchJob(ctx, "j1")
	require.NoError(t, err)

	cancel()
	expectClosed(t, stream)

	assert.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.subs[subKey{byJob, "j1"}]) == 0
	}, time.Second, 10*time.Millisecond, "subscriber entry should be removed after cancel")
}
