package syncer

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"notesync/store"
)

// partition splits ops into per-note sublists. Sublists keep queue order and
// are returned in order of each note's first operation.
func partition(ops []store.Operation) [][]store.Operation {
	index := make(map[string]int)
	var groups [][]store.Operation
	for _, op := range ops {
		i, ok := index[op.ClientID]
		if !ok {
			i = len(groups)
			index[op.ClientID] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], op)
	}
	return groups
}

// runPartitioned runs each note's sublist with runOrdered, several notes at
// once. A failing note stops only its own sublist.
func (e *Engine) runPartitioned(ctx context.Context, ops []store.Operation) result {
	var (
		mu    sync.Mutex
		total result
		errs  []error
	)

	var g errgroup.Group
	g.SetLimit(e.partitions)
	for _, group := range partition(ops) {
		g.Go(func() error {
			res := e.runOrdered(ctx, group)
			mu.Lock()
			defer mu.Unlock()
			total.applied += res.applied
			total.skipped += res.skipped
			if res.err != nil {
				errs = append(errs, res.err)
			}
			return nil
		})
	}
	_ = g.Wait()

	total.err = errors.Join(errs...)
	return total
}
