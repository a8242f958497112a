package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AcquireSyncLease claims the right to drain the queue for ttl. Every process
// sharing the database file sees the same lease, so only one of them syncs
// at a time. An owner may re-acquire its own lease to extend it; anyone may
// take a lease that has expired.
func (s *Store) AcquireSyncLease(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	now := s.now().UnixMilli()
	res, err := s.conn.ExecContext(ctx, `
		INSERT INTO sync_lease (id, owner, expires) VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET owner = excluded.owner, expires = excluded.expires
		WHERE sync_lease.owner = excluded.owner OR sync_lease.expires <= ?`,
		owner, now+ttl.Milliseconds(), now)
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	return n == 1, nil
}

// ReleaseSyncLease gives up the lease if owner still holds it.
func (s *Store) ReleaseSyncLease(ctx context.Context, owner string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sync_lease WHERE id = 1 AND owner = ?`, owner); err != nil {
		return fmt.Errorf("failed to release sync lease: %w", err)
	}
	return nil
}

// SyncLeaseHolder returns the current lease owner, or "" when nobody holds
// an unexpired lease.
func (s *Store) SyncLeaseHolder(ctx context.Context) (string, error) {
	var owner string
	err := s.conn.QueryRowContext(ctx,
		`SELECT owner FROM sync_lease WHERE id = 1 AND expires > ?`, s.now().UnixMilli()).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read sync lease: %w", err)
	}
	return owner, nil
}
