package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatch_ReportsOperationsFromAnotherHandle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	daemon, cli := openPair(t)

	_, err := daemon.CreateNote(ctx, newNote("old", "queued before the watch"))
	require.NoError(t, err)

	w, err := daemon.Watch(ctx)
	require.NoError(t, err)

	enqueued := make(chan struct{}, 16)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func() {
			select {
			case enqueued <- struct{}{}:
			default:
			}
		})
	}()

	_, err = cli.CreateNote(ctx, newNote("new", "written by another command"))
	require.NoError(t, err)

	select {
	case <-enqueued:
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report the new operation")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestWatch_IgnoresWritesWithoutNewOperations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := openTestStore(t)

	w, err := s.Watch(ctx)
	require.NoError(t, err)

	var mu sync.Mutex
	calls := 0
	go w.Run(ctx, func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	ok, err := s.AcquireSyncLease(ctx, "daemon", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.ReleaseSyncLease(ctx, "daemon"))
	require.NoError(t, s.PutNote(ctx, newNote("imported", "no queue entry")))

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}
