package store

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports operations enqueued by any process sharing the database
// file, including other notes commands run while a daemon is up.
type Watcher struct {
	store *Store
	fw    *fsnotify.Watcher
	base  string
	last  int64
}

// Watch starts watching the database directory. Operations already queued
// when Watch returns are not reported.
func (s *Store) Watch(ctx context.Context) (*Watcher, error) {
	last, err := s.lastOperationID(ctx)
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	// The directory, not the file: SQLite writes go to the -wal sibling.
	if err := fw.Add(filepath.Dir(s.path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	return &Watcher{store: s, fw: fw, base: filepath.Base(s.path), last: last}, nil
}

// Run calls onEnqueue whenever the queue gained operations since the last
// check, until ctx is cancelled. It closes the watcher on return.
func (w *Watcher) Run(ctx context.Context, onEnqueue func()) error {
	defer w.fw.Close()
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), w.base) || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			last, err := w.store.lastOperationID(ctx)
			if err != nil {
				w.store.log.Warnf("failed to check queue after file change: %v", err)
				continue
			}
			// A drained queue reads as 0; ids keep growing regardless.
			grew := last > w.last
			w.last = last
			if grew {
				onEnqueue()
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.store.log.Warnf("file watcher error: %v", err)
		}
	}
}

func (s *Store) lastOperationID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM operations`).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read queue head: %w", err)
	}
	return id, nil
}

// Close stops watching. Run also closes the watcher when it returns.
func (w *Watcher) Close() error {
	return w.fw.Close()
}
