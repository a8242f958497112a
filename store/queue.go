package store

import (
	"context"
	"database/sql"
	"fmt"
)

const operationColumns = `id, type, client_id, server_id, content, created, updated, enqueued_at`

func scanOperation(row scanner) (Operation, error) {
	var (
		op       Operation
		opType   string
		serverID sql.NullInt64
	)
	if err := row.Scan(&op.ID, &opType, &op.ClientID, &serverID, &op.Content, &op.Created, &op.Updated, &op.Timestamp); err != nil {
		return Operation{}, err
	}
	op.Type = OpType(opType)
	op.ServerID = fromNullInt64(serverID)
	return op, nil
}

// Enqueue appends an operation on its own. User edits should prefer the note
// methods, which append inside the same transaction as the note write.
func (s *Store) Enqueue(ctx context.Context, op Operation) (Operation, error) {
	if err := op.validate(); err != nil {
		return Operation{}, err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		op, err = s.enqueueTx(ctx, tx, op)
		return err
	})
	if err != nil {
		return Operation{}, err
	}
	return op, nil
}

func (s *Store) enqueueTx(ctx context.Context, tx *sql.Tx, op Operation) (Operation, error) {
	if err := op.validate(); err != nil {
		return Operation{}, err
	}
	if op.Timestamp == 0 {
		op.Timestamp = s.now().UnixMilli()
	}
	res, err := tx.ExecContext(ctx, `
	INSERT INTO operations (type, client_id, server_id, content, created, updated, enqueued_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(op.Type), op.ClientID, nullInt64(op.ServerID), op.Content, op.Created, op.Updated, op.Timestamp)
	if err != nil {
		return Operation{}, fmt.Errorf("failed to enqueue %s for %s: %w", op.Type, op.ClientID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Operation{}, fmt.Errorf("failed to read operation id: %w", err)
	}
	op.ID = id
	return op, nil
}

// ListOperations returns every pending operation in ascending id order.
func (s *Store) ListOperations(ctx context.Context) ([]Operation, error) {
	return s.queryOperations(ctx, `SELECT `+operationColumns+` FROM operations ORDER BY id ASC`)
}

// PendingFor returns the pending operations targeting one note, in queue order.
func (s *Store) PendingFor(ctx context.Context, clientID string) ([]Operation, error) {
	return s.queryOperations(ctx, `SELECT `+operationColumns+` FROM operations WHERE client_id = ? ORDER BY id ASC`, clientID)
}

func (s *Store) queryOperations(ctx context.Context, query string, args ...any) ([]Operation, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate operations: %w", err)
	}
	return ops, nil
}

// RemoveOperation deletes one operation from the queue.
func (s *Store) RemoveOperation(ctx context.Context, id int64) error {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove operation %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("operation %d: %w", id, ErrNotFound)
	}
	return nil
}

// ClearOperations empties the queue.
func (s *Store) ClearOperations(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM operations`); err != nil {
		return fmt.Errorf("failed to clear operations: %w", err)
	}
	return nil
}

// CountOperations returns the number of pending operations.
func (s *Store) CountOperations(ctx context.Context) (int, error) {
	var count int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM operations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count operations: %w", err)
	}
	return count, nil
}

// ConfirmCreate records that the remote authority created the note behind op
// under serverID. In one transaction it stores the server id on the note (if
// the note still exists locally), fills it into every later queued operation
// of the same note that was enqueued before the id was known, and removes op.
//
// If op is no longer queued, the note was deleted locally while the create was
// in flight; a delete for serverID is queued instead so the remote copy does
// not outlive the local one.
func (s *Store) ConfirmCreate(ctx context.Context, op Operation, serverID int64) error {
	if op.Type != OpCreate {
		return fmt.Errorf("%w: confirm create on %s operation %d", ErrInvalidOperation, op.Type, op.ID)
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE notes SET server_id = ? WHERE client_id = ?`,
			serverID, op.ClientID); err != nil {
			return fmt.Errorf("failed to record server id for %s: %w", op.ClientID, err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE operations SET server_id = ? WHERE client_id = ? AND server_id IS NULL AND id <> ?`,
			serverID, op.ClientID, op.ID); err != nil {
			return fmt.Errorf("failed to back-fill server id for %s: %w", op.ClientID, err)
		}

		removed, err := removeOperationTx(ctx, tx, op.ID)
		if err != nil || removed {
			return err
		}

		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM notes WHERE client_id = ?)`, op.ClientID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check note %s: %w", op.ClientID, err)
		}
		if exists {
			return nil
		}
		s.log.Infow("note deleted while create was in flight, queueing remote delete",
			"client_id", op.ClientID, "server_id", serverID)
		_, err = s.enqueueTx(ctx, tx, Operation{Type: OpDelete, ClientID: op.ClientID, ServerID: int64Ptr(serverID)})
		return err
	})
	if err != nil {
		return err
	}
	s.log.Debugw("create confirmed", "client_id", op.ClientID, "server_id", serverID, "op_id", op.ID)
	return nil
}

// ConfirmOperation removes an update or delete after the remote authority
// applied it. An operation that is already gone is not an error.
func (s *Store) ConfirmOperation(ctx context.Context, op Operation) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := removeOperationTx(ctx, tx, op.ID)
		return err
	})
	if err != nil {
		return err
	}
	s.log.Debugw("operation confirmed", "type", op.Type, "client_id", op.ClientID, "op_id", op.ID)
	return nil
}

func removeOperationTx(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove operation %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
