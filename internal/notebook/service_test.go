package notebook

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notesync/store"
)

type countingNudger struct{ n int }

func (c *countingNudger) Nudge() { c.n++ }

func newService(t *testing.T, now *time.Time) (*NoteService, *store.Store, *countingNudger) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	var seq int
	nudger := &countingNudger{}
	svc := NewNoteService(st, nudger,
		WithClock(func() time.Time { return *now }),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("note-%d", seq) }),
	)
	return svc, st, nudger
}

func TestCreate(t *testing.T) {
	now := time.UnixMilli(1_000)
	svc, st, nudger := newService(t, &now)
	ctx := context.Background()

	n, err := svc.Create(ctx, "Buy milk")
	require.NoError(t, err)
	assert.Equal(t, "note-1", n.ClientID)
	assert.Equal(t, int64(1_000), n.Created)
	assert.Equal(t, int64(1_000), n.Updated)
	assert.Equal(t, 1, nudger.n)

	ops, err := st.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, store.OpCreate, ops[0].Type)
}

func TestCreate_RejectsEmptyContent(t *testing.T) {
	now := time.UnixMilli(1_000)
	svc, st, nudger := newService(t, &now)

	for _, content := range []string{"", "   ", "\n\t"} {
		_, err := svc.Create(context.Background(), content)
		assert.ErrorIs(t, err, ErrEmptyContent)
	}

	n, err := st.CountOperations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, nudger.n)
}

func TestUpdate_TimestampIsMonotonic(t *testing.T) {
	now := time.UnixMilli(5_000)
	svc, _, _ := newService(t, &now)
	ctx := context.Background()

	n, err := svc.Create(ctx, "first")
	require.NoError(t, err)

	// Clock moved backwards.
	now = time.UnixMilli(4_000)
	u, err := svc.Update(ctx, n.ClientID, "second")
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), u.Updated)

	now = time.UnixMilli(6_000)
	u, err = svc.Update(ctx, n.ClientID, "third")
	require.NoError(t, err)
	assert.Equal(t, int64(6_000), u.Updated)

	got, err := svc.Get(ctx, n.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "third", got.Content)
	assert.Equal(t, int64(5_000), got.Created)
}

func TestUpdate_Errors(t *testing.T) {
	now := time.UnixMilli(1_000)
	svc, _, nudger := newService(t, &now)
	ctx := context.Background()

	_, err := svc.Update(ctx, "missing", "x")
	assert.ErrorIs(t, err, store.ErrNotFound)

	n, err := svc.Create(ctx, "x")
	require.NoError(t, err)
	_, err = svc.Update(ctx, n.ClientID, " ")
	assert.ErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, 1, nudger.n)
}

func TestDelete(t *testing.T) {
	now := time.UnixMilli(1_000)
	svc, st, nudger := newService(t, &now)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Delete(ctx, "missing"), store.ErrNotFound)

	// Never synced: the queued create is cancelled and nothing is sent.
	n, err := svc.Create(ctx, "scratch")
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, n.ClientID))
	pending, err := svc.Pending(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, 1, nudger.n)

	id := int64(42)
	require.NoError(t, st.PutNote(ctx, store.Note{ClientID: "synced", ServerID: &id, Content: "x", Created: 1, Updated: 1}))
	require.NoError(t, svc.Delete(ctx, "synced"))
	pending, err = svc.Pending(ctx, "synced")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, store.OpDelete, pending[0].Type)
	assert.Equal(t, 2, nudger.n)

	notes, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, notes)
}
