package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "notes.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newNote(id, content string) Note {
	return Note{ClientID: id, Content: content, Created: 1000, Updated: 1000}
}

func TestOpen_SchemaIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.CreateNote(context.Background(), newNote("a", "first"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.GetNote(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "first", n.Content)
	assert.Equal(t, path, s.Path())
}

func TestCreateNote_QueuesCreate(t *testing.T) {
	fixed := time.UnixMilli(5000)
	s := openTestStore(t, WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	op, err := s.CreateNote(ctx, newNote("a", "Buy milk"))
	require.NoError(t, err)
	assert.Equal(t, OpCreate, op.Type)
	assert.Equal(t, int64(5000), op.Timestamp)
	assert.Nil(t, op.ServerID)

	n, err := s.GetNote(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, n.ServerID)
	assert.False(t, n.Synced)

	ops, err := s.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, op, ops[0])
	assert.Equal(t, "Buy milk", ops[0].Content)
}

func TestCreateNote_DuplicateLeavesQueueUntouched(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.CreateNote(ctx, newNote("a", "one"))
	require.NoError(t, err)
	_, err = s.CreateNote(ctx, newNote("a", "two"))
	require.Error(t, err)

	count, err := s.CountOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count, "failed note insert must not leave an operation behind")
}

func TestUpdateNote_MissingIsNotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.UpdateNote(context.Background(), "ghost", "x", 2000)
	assert.ErrorIs(t, err, ErrNotFound)

	count, err := s.CountOperations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestUpdateNote_SnapshotsServerID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	note := newNote("a", "Buy milk")
	note.ServerID = int64Ptr(42)
	require.NoError(t, s.PutNote(ctx, note))

	op, err := s.UpdateNote(ctx, "a", "Buy milk and eggs", 2000)
	require.NoError(t, err)
	assert.Equal(t, OpUpdate, op.Type)
	require.NotNil(t, op.ServerID)
	assert.Equal(t, int64(42), *op.ServerID)
	assert.Equal(t, int64(1000), op.Created)

	n, err := s.GetNote(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "Buy milk and eggs", n.Content)
	assert.Equal(t, int64(2000), n.Updated)
	assert.False(t, n.Synced)
}

func TestDeleteNote_Synced(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	note := newNote("a", "x")
	note.ServerID = int64Ptr(7)
	require.NoError(t, s.PutNote(ctx, note))

	op, err := s.DeleteNote(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, OpDelete, op.Type)
	assert.Equal(t, int64(7), *op.ServerID)

	_, err = s.GetNote(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteNote_Missing(t *testing.T) {
	s := openTestStore(t)
	_, err := s.DeleteNote(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteNote_UnsyncedPolicies(t *testing.T) {
	tests := []struct {
		policy    UnsyncedDeletePolicy
		wantOp    bool
		wantTypes []OpType
	}{
		{DeleteCancelPending, false, nil},
		{DeleteKeepPending, false, []OpType{OpCreate, OpUpdate}},
		{DeleteEnqueueAlways, true, []OpType{OpCreate, OpUpdate, OpDelete}},
	}

	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			s := openTestStore(t, WithUnsyncedDeletePolicy(tt.policy))
			ctx := context.Background()

			_, err := s.CreateNote(ctx, newNote("a", "draft"))
			require.NoError(t, err)
			_, err = s.UpdateNote(ctx, "a", "draft 2", 2000)
			require.NoError(t, err)

			op, err := s.DeleteNote(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, tt.wantOp, op != nil)
			if op != nil {
				assert.Nil(t, op.ServerID)
			}

			ops, err := s.ListOperations(ctx)
			require.NoError(t, err)
			var types []OpType
			for _, o := range ops {
				types = append(types, o.Type)
			}
			assert.Equal(t, tt.wantTypes, types)
		})
	}
}

func TestParseUnsyncedDeletePolicy(t *testing.T) {
	p, err := ParseUnsyncedDeletePolicy("")
	require.NoError(t, err)
	assert.Equal(t, DeleteCancelPending, p)

	p, err = ParseUnsyncedDeletePolicy("keep")
	require.NoError(t, err)
	assert.Equal(t, DeleteKeepPending, p)

	_, err = ParseUnsyncedDeletePolicy("drop")
	assert.Error(t, err)
}

func TestConfirmCreate_BackfillsLaterOperations(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	create, err := s.CreateNote(ctx, newNote("a", "v1"))
	require.NoError(t, err)
	_, err = s.UpdateNote(ctx, "a", "v2", 2000)
	require.NoError(t, err)

	require.NoError(t, s.ConfirmCreate(ctx, create, 42))

	n, err := s.GetNote(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, n.ServerID)
	assert.Equal(t, int64(42), *n.ServerID)
	assert.False(t, n.Synced, "update still pending")

	byServer, err := s.GetNoteByServerID(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "a", byServer.ClientID)

	ops, err := s.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, OpUpdate, ops[0].Type)
	require.NotNil(t, ops[0].ServerID)
	assert.Equal(t, int64(42), *ops[0].ServerID)

	require.NoError(t, s.ConfirmOperation(ctx, ops[0]))
	n, err = s.GetNote(ctx, "a")
	require.NoError(t, err)
	assert.True(t, n.Synced)
}

func TestConfirmCreate_NoteDeletedInFlight(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	create, err := s.CreateNote(ctx, newNote("a", "v1"))
	require.NoError(t, err)

	// The user deletes the note while the create request is on the wire.
	_, err = s.DeleteNote(ctx, "a")
	require.NoError(t, err)

	require.NoError(t, s.ConfirmCreate(ctx, create, 9))

	ops, err := s.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, OpDelete, ops[0].Type)
	assert.Equal(t, int64(9), *ops[0].ServerID)
}

func TestConfirmCreate_RejectsOtherTypes(t *testing.T) {
	s := openTestStore(t)
	err := s.ConfirmCreate(context.Background(), Operation{ID: 1, Type: OpUpdate, ClientID: "a"}, 1)
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestQueue_OrderCountRemoveClear(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var ids []int64
	for _, id := range []string{"a", "b", "c"} {
		op, err := s.CreateNote(ctx, newNote(id, id))
		require.NoError(t, err)
		ids = append(ids, op.ID)
	}

	ops, err := s.ListOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	for i, op := range ops {
		assert.Equal(t, ids[i], op.ID)
	}

	require.NoError(t, s.RemoveOperation(ctx, ids[1]))
	assert.ErrorIs(t, s.RemoveOperation(ctx, ids[1]), ErrNotFound)

	count, err := s.CountOperations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	pending, err := s.PendingFor(ctx, "c")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, ids[2], pending[0].ID)

	require.NoError(t, s.ClearOperations(ctx))
	count, err = s.CountOperations(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	notes, err := s.ListNotes(ctx)
	require.NoError(t, err)
	assert.Len(t, notes, 3)
	for _, n := range notes {
		assert.True(t, n.Synced)
	}
}

func TestEnqueue_Validates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, Operation{Type: "merge", ClientID: "a"})
	assert.ErrorIs(t, err, ErrInvalidOperation)

	_, err = s.Enqueue(ctx, Operation{Type: OpUpdate})
	assert.ErrorIs(t, err, ErrInvalidOperation)

	op, err := s.Enqueue(ctx, Operation{Type: OpDelete, ClientID: "a", ServerID: int64Ptr(3)})
	require.NoError(t, err)
	assert.NotZero(t, op.ID)
	assert.NotZero(t, op.Timestamp)
}
