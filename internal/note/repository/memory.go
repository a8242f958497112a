package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"notesync/internal/note/model"
)

// MemoryRepository keeps notes in process memory. It backs the server when
// no database is configured and stands in for Postgres in tests.
type MemoryRepository struct {
	mu       sync.Mutex
	nextID   int64
	notes    map[int64]model.Note
	byClient map[string]int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		nextID:   1,
		notes:    make(map[int64]model.Note),
		byClient: make(map[string]int64),
	}
}

func (r *MemoryRepository) Create(_ context.Context, req model.CreateNoteRequest) (model.Note, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if req.ClientID != "" {
		if id, ok := r.byClient[req.ClientID]; ok {
			return r.notes[id], false, nil
		}
	}
	n := model.Note{ID: r.nextID, ClientID: req.ClientID, Content: req.Content, Created: req.Created, Updated: req.Updated}
	r.nextID++
	r.notes[n.ID] = n
	if n.ClientID != "" {
		r.byClient[n.ClientID] = n.ID
	}
	return n, true, nil
}

func (r *MemoryRepository) Get(_ context.Context, id int64) (model.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notes[id]
	if !ok {
		return model.Note{}, fmt.Errorf("note %d: %w", id, model.ErrNotFound)
	}
	return n, nil
}

func (r *MemoryRepository) List(_ context.Context) ([]model.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	notes := make([]model.Note, 0, len(r.notes))
	for _, n := range r.notes {
		notes = append(notes, n)
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].Updated != notes[j].Updated {
			return notes[i].Updated > notes[j].Updated
		}
		return notes[i].ID > notes[j].ID
	})
	return notes, nil
}

func (r *MemoryRepository) Update(_ context.Context, id int64, req model.UpdateNoteRequest) (model.Note, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notes[id]
	if !ok {
		return model.Note{}, fmt.Errorf("note %d: %w", id, model.ErrNotFound)
	}
	n.Content, n.Updated = req.Content, req.Updated
	r.notes[id] = n
	return n, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id int64) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notes[id]
	if !ok {
		return "", fmt.Errorf("note %d: %w", id, model.ErrNotFound)
	}
	delete(r.notes, id)
	delete(r.byClient, n.ClientID)
	return n.ClientID, nil
}
