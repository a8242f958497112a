package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const noteColumns = `n.client_id, n.server_id, n.content, n.created, n.updated,
	NOT EXISTS (SELECT 1 FROM operations o WHERE o.client_id = n.client_id) AS synced`

func scanNote(row scanner) (Note, error) {
	var (
		n        Note
		serverID sql.NullInt64
	)
	if err := row.Scan(&n.ClientID, &serverID, &n.Content, &n.Created, &n.Updated, &n.Synced); err != nil {
		return Note{}, err
	}
	n.ServerID = fromNullInt64(serverID)
	return n, nil
}

// GetNote returns the note with the given client id.
func (s *Store) GetNote(ctx context.Context, clientID string) (Note, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes n WHERE n.client_id = ?`, clientID)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, fmt.Errorf("note %s: %w", clientID, ErrNotFound)
	}
	if err != nil {
		return Note{}, fmt.Errorf("failed to get note %s: %w", clientID, err)
	}
	return n, nil
}

// GetNoteByServerID looks a note up through the identifier the remote authority assigned.
func (s *Store) GetNoteByServerID(ctx context.Context, serverID int64) (Note, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes n WHERE n.server_id = ?`, serverID)
	n, err := scanNote(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Note{}, fmt.Errorf("note with server id %d: %w", serverID, ErrNotFound)
	}
	if err != nil {
		return Note{}, fmt.Errorf("failed to get note by server id %d: %w", serverID, err)
	}
	return n, nil
}

// ListNotes returns every note. Rows come back most recently updated first,
// but callers that care about order should sort themselves.
func (s *Store) ListNotes(ctx context.Context) ([]Note, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT `+noteColumns+` FROM notes n ORDER BY n.updated DESC, n.client_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []Note
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}
	return notes, nil
}

// PutNote upserts a note without queueing anything. It is meant for seeding
// and repair; user edits go through CreateNote, UpdateNote and DeleteNote.
func (s *Store) PutNote(ctx context.Context, n Note) error {
	if n.ClientID == "" {
		return fmt.Errorf("%w: missing client id", ErrInvalidOperation)
	}
	_, err := s.conn.ExecContext(ctx, `
	INSERT INTO notes (client_id, server_id, content, created, updated)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(client_id) DO UPDATE SET
		server_id = excluded.server_id,
		content = excluded.content,
		updated = excluded.updated`,
		n.ClientID, nullInt64(n.ServerID), n.Content, n.Created, n.Updated)
	if err != nil {
		return fmt.Errorf("failed to put note %s: %w", n.ClientID, err)
	}
	return nil
}

// CreateNote stores a new note and queues its create operation in one transaction.
func (s *Store) CreateNote(ctx context.Context, n Note) (Operation, error) {
	op := Operation{
		Type:     OpCreate,
		ClientID: n.ClientID,
		Content:  n.Content,
		Created:  n.Created,
		Updated:  n.Updated,
	}
	if err := op.validate(); err != nil {
		return Operation{}, err
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
		INSERT INTO notes (client_id, server_id, content, created, updated)
		VALUES (?, NULL, ?, ?, ?)`,
			n.ClientID, n.Content, n.Created, n.Updated)
		if err != nil {
			return fmt.Errorf("failed to insert note %s: %w", n.ClientID, err)
		}
		op, err = s.enqueueTx(ctx, tx, op)
		return err
	})
	if err != nil {
		return Operation{}, err
	}

	s.log.Debugw("note created", "client_id", n.ClientID, "op_id", op.ID)
	return op, nil
}

// UpdateNote replaces a note's content and queues an update carrying the
// note's current server id, if any.
func (s *Store) UpdateNote(ctx context.Context, clientID, content string, updated int64) (Operation, error) {
	var op Operation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var serverID sql.NullInt64
		var created int64
		err := tx.QueryRowContext(ctx, `SELECT server_id, created FROM notes WHERE client_id = ?`, clientID).Scan(&serverID, &created)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("note %s: %w", clientID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load note %s: %w", clientID, err)
		}

		if _, err := tx.ExecContext(ctx, `UPDATE notes SET content = ?, updated = ? WHERE client_id = ?`,
			content, updated, clientID); err != nil {
			return fmt.Errorf("failed to update note %s: %w", clientID, err)
		}

		op, err = s.enqueueTx(ctx, tx, Operation{
			Type:     OpUpdate,
			ClientID: clientID,
			ServerID: fromNullInt64(serverID),
			Content:  content,
			Created:  created,
			Updated:  updated,
		})
		return err
	})
	if err != nil {
		return Operation{}, err
	}

	s.log.Debugw("note updated", "client_id", clientID, "op_id", op.ID)
	return op, nil
}

// DeleteNote removes a note locally. A delete operation is queued when the
// remote authority knows the note; otherwise the store's UnsyncedDeletePolicy
// decides. The returned operation is nil when nothing was queued.
func (s *Store) DeleteNote(ctx context.Context, clientID string) (*Operation, error) {
	var queued *Operation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var serverID sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT server_id FROM notes WHERE client_id = ?`, clientID).Scan(&serverID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("note %s: %w", clientID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("failed to load note %s: %w", clientID, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE client_id = ?`, clientID); err != nil {
			return fmt.Errorf("failed to delete note %s: %w", clientID, err)
		}

		if !serverID.Valid {
			switch s.policy {
			case DeleteKeepPending:
				return nil
			case DeleteEnqueueAlways:
				// fall through to enqueue with a nil server id
			default:
				res, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE client_id = ?`, clientID)
				if err != nil {
					return fmt.Errorf("failed to cancel pending operations for %s: %w", clientID, err)
				}
				if n, _ := res.RowsAffected(); n > 0 {
					s.log.Debugw("cancelled unsynced operations", "client_id", clientID, "count", n)
				}
				return nil
			}
		}

		op, err := s.enqueueTx(ctx, tx, Operation{
			Type:     OpDelete,
			ClientID: clientID,
			ServerID: fromNullInt64(serverID),
		})
		if err != nil {
			return err
		}
		queued = &op
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debugw("note deleted", "client_id", clientID, "queued", queued != nil)
	return queued, nil
}
