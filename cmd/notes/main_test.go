package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notesync/config"
	"notesync/internal/control"
	"notesync/internal/note/repository"
	"notesync/router"
	"notesync/socket"
	"notesync/store"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func newServer(t *testing.T) (*httptest.Server, *repository.MemoryRepository) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	hub := socket.NewHub(nil)
	go hub.Run()
	srv := httptest.NewServer(router.Setup(repo, hub))
	t.Cleanup(srv.Close)
	return srv, repo
}

// startDaemon runs a daemon on its own store handle, the way a separate
// process would, and waits until its control socket answers.
func startDaemon(t *testing.T, cfg config.Client, manual bool) *control.Client {
	t.Helper()
	st, err := store.Open(cfg.DBPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runDaemon(ctx, cfg, st, manual) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("daemon did not stop")
		}
		_ = st.Close()
	})

	ctl := control.NewClient(control.SocketPath(cfg.DBPath))
	require.Eventually(t, func() bool {
		_, err := ctl.Status(context.Background())
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)
	return ctl
}

func daemonConfig(dbPath, serverURL string) config.Client {
	return config.Client{
		DBPath:       dbPath,
		ServerURL:    serverURL,
		DeviceID:     "daemon",
		Timeout:      5 * time.Second,
		Debounce:     50 * time.Millisecond,
		Interval:     time.Hour,
		DeletePolicy: store.DeleteCancelPending,
	}
}

func TestAddListAndSync(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	srv, repo := newServer(t)

	t.Setenv("NOTES_DB", filepath.Join(dir, "notes.db"))
	t.Setenv("NOTES_SERVER", srv.URL)
	t.Setenv("NOTES_DEVICE", "cli")

	id := strings.TrimSpace(run(t, "add", "Buy", "milk"))
	require.NotEmpty(t, id)

	out := run(t, "ls")
	assert.Contains(t, out, "Buy milk")
	assert.Contains(t, out, shortID(id))
	assert.Contains(t, out, "no")

	run(t, "edit", shortID(id), "Buy milk and eggs")
	assert.Contains(t, run(t, "queue"), "update")

	assert.Contains(t, run(t, "sync"), "fully synced")
	assert.Contains(t, run(t, "status"), "queued:  0")

	out = run(t, "show", id)
	assert.Contains(t, out, "synced:   yes")
	assert.Contains(t, out, "Buy milk and eggs")

	notes, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, id, notes[0].ClientID)
}

func TestSyncWhileServerDown(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("NOTES_DB", filepath.Join(dir, "notes.db"))
	t.Setenv("NOTES_SERVER", "http://127.0.0.1:1")

	run(t, "add", "offline note")
	assert.Contains(t, run(t, "sync"), "offline, 1 pending")
	out := run(t, "status")
	assert.Contains(t, out, "(offline)")
	assert.Contains(t, out, "daemon:  not running")
}

func TestDaemonSyncsEditsFromOtherCommands(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	srv, repo := newServer(t)
	dbPath := filepath.Join(dir, "notes.db")

	ctl := startDaemon(t, daemonConfig(dbPath, srv.URL), false)
	require.Eventually(t, func() bool {
		st, err := ctl.Status(context.Background())
		return err == nil && st.Online
	}, 3*time.Second, 20*time.Millisecond)

	t.Setenv("NOTES_DB", dbPath)
	t.Setenv("NOTES_SERVER", srv.URL)

	// No interval tick for an hour, so only the edit itself can start this run.
	id := strings.TrimSpace(run(t, "add", "typed in another terminal"))
	require.Eventually(t, func() bool {
		notes, err := repo.List(context.Background())
		return err == nil && len(notes) == 1 && notes[0].ClientID == id
	}, 3*time.Second, 20*time.Millisecond)

	assert.Contains(t, run(t, "sync"), "sync requested from the running daemon")
	assert.Contains(t, run(t, "status"), "daemon:  running, online")
}

func TestManualDaemonFollowsOnlineCommands(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	srv, repo := newServer(t)
	dbPath := filepath.Join(dir, "notes.db")
	t.Setenv("NOTES_DB", dbPath)
	t.Setenv("NOTES_SERVER", srv.URL)

	ctl := startDaemon(t, daemonConfig(dbPath, srv.URL), true)

	run(t, "add", "written offline")
	time.Sleep(150 * time.Millisecond)
	notes, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, notes)

	run(t, "online")
	require.Eventually(t, func() bool {
		notes, err := repo.List(context.Background())
		return err == nil && len(notes) == 1
	}, 3*time.Second, 20*time.Millisecond)

	run(t, "offline")
	st, err := ctl.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Manual)
	require.Eventually(t, func() bool {
		st, err := ctl.Status(context.Background())
		return err == nil && !st.Online
	}, time.Second, 20*time.Millisecond)
}

func TestResolveAmbiguousPrefix(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("NOTES_DB", filepath.Join(dir, "notes.db"))

	run(t, "add", "one")
	run(t, "add", "two")

	rootCmd.SetArgs([]string{"rm", ""})
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	err := rootCmd.ExecuteContext(context.Background())
	assert.ErrorContains(t, err, "ambiguous")
	require.NoError(t, local.Close())
}
