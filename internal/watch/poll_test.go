package watch_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentforge/deployq/internal/config"
	"github.com/agentforge/deployq/internal/job"
	"github.com/agentforge/deployq/internal/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPollInterval = 5 * time.Millisecond

func TestPollWatcher_UnknownJobFailsSubscribe(t *testing.T) {
	w := watch.NewPollWatcher(newMemStore(), testPollInterval)

	_, err := w.WatchJob(context.Background(), "missing")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestPollWatcher_EmitsOnVersionChange(t *testing.T) {
	store := newMemStore()
	store.put(snapshot("j1", "a1", config.JobStatusQueued, 1))
	w := watch.NewPollWatcher(store, testPollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := w.WatchJob(ctx, "j1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), recv(t, stream).Version)

	store.put(snapshot("j1", "a1", config.JobStatusProcessing, 2))
	got := recv(t, stream)
	assert.Equal(t, string(config.JobStatusProcessing), got.Status)
	assert.Equal(t, int64(2), got.Version)

	// Writes between polls collapse into the latest state; the observer sees
	// version 5 without ever seeing 3 or 4.
	store.put(snapshot("j1", "a1", config.JobStatusDeployed, 5))
	got = recv(t, stream)
	assert.Equal(t, string(config.JobStatusDeployed), got.Status)
	assert.Equal(t, int64(5), got.Version)

	expectClosed(t, stream)
}

func TestPollWatcher_TerminalOnConnectEmitsOnceAndCloses(t *testing.T) {
	store := newMemStore()
	store.put(snapshot("j1", "a1", config.JobStatusFailed, 4))
	w := watch.NewPollWatcher(store, testPollInterval)

	stream, err := w.WatchJob(context.Background(), "j1")
	require.NoError(t, err)

	assert.Equal(t, string(config.JobStatusFailed), recv(t, stream).Status)
	expectClosed(t, stream)
}

func TestPollWatcher_UnchangedVersionEmitsNothing(t *testing.T) {
	store := newMemStore()
	store.put(snapshot("j1", "a1", config.JobStatusQueued, 1))
	w := watch.NewPollWatcher(store, testPollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := w.WatchJob(ctx, "j1")
	require.NoError(t, err)
	recv(t, stream)

	select {
	case j := <-stream:
		t.Fatalf("unexpected snapshot for unchanged job: version %d", j.Version)
	case <-time.After(20 * testPollInterval):
	}
}

func TestPollWatcher_WatchTargetFollowsNewestJob(t *testing.T) {
	store := newMemStore()
	store.put(snapshot("j1", "a1", config.JobStatusDeployed, 4))
	w := watch.NewPollWatcher(store, testPollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := w.WatchTarget(ctx, "a1")
	require.NoError(t, err)

	assert.Equal(t, "j1", recv(t, stream).ID)

	// A fresh job for the target supersedes the old terminal one.
	store.put(snapshot("j2", "a1", config.JobStatusQueued, 1))
	got := recv(t, stream)
	assert.Equal(t, "j2", got.ID)
	assert.Equal(t, string(config.JobStatusQueued), got.Status)

	store.put(snapshot("j2", "a1", config.JobStatusProcessing, 2))
	assert.Equal(t, int64(2), recv(t, stream).Version)
}

func TestPollWatcher_WatchTargetIgnoresOtherTargets(t *testing.T) {
	store := newMemStore()
	store.put(snapshot("j1", "a2", config.JobStatusProcessing, 2))
	w := watch.NewPollWatcher(store, testPollInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := w.WatchTarget(ctx, "a1")
	require.NoError(t, err)

	select {
	case j := <-stream:
		t.Fatalf("unexpected snapshot from foreign target: job %s", j.ID)
	case <-time.After(20 * testPollInterval):
	}
}
