// Package notebook is the device-side edit path: it validates user input,
// assigns identifiers and timestamps, writes through the store and tells the
// sync scheduler that there is work.
package notebook

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notesync/store"
)

// ErrEmptyContent rejects notes whose content is blank.
var ErrEmptyContent = errors.New("note content cannot be empty")

// Store is the part of the local store the service writes through.
type Store interface {
	GetNote(ctx context.Context, clientID string) (store.Note, error)
	ListNotes(ctx context.Context) ([]store.Note, error)
	CreateNote(ctx context.Context, n store.Note) (store.Operation, error)
	UpdateNote(ctx context.Context, clientID, content string, updated int64) (store.Operation, error)
	DeleteNote(ctx context.Context, clientID string) (*store.Operation, error)
	ListOperations(ctx context.Context) ([]store.Operation, error)
	PendingFor(ctx context.Context, clientID string) ([]store.Operation, error)
}

// Nudger is told after every local change. The sync scheduler implements it.
type Nudger interface {
	Nudge()
}

type NoteService struct {
	Store  Store
	Nudger Nudger

	now   func() time.Time
	newID func() string
	log   *zap.SugaredLogger
}

type Option func(*NoteService)

func WithClock(now func() time.Time) Option {
	return func(s *NoteService) { s.now = now }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *NoteService) { s.newID = fn }
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *NoteService) { s.log = l }
}

func NewNoteService(st Store, nudger Nudger, opts ...Option) *NoteService {
	s := &NoteService{
		Store:  st,
		Nudger: nudger,
		now:    time.Now,
		newID:  uuid.NewString,
		log:    zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validate(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return nil
}

func (s *NoteService) nudge() {
	if s.Nudger != nil {
		s.Nudger.Nudge()
	}
}

// Create stores a new note and queues it for sync.
func (s *NoteService) Create(ctx context.Context, content string) (store.Note, error) {
	if err := validate(content); err != nil {
		return store.Note{}, err
	}

	ts := s.now().UnixMilli()
	n := store.Note{
		ClientID: s.newID(),
		Content:  content,
		Created:  ts,
		Updated:  ts,
	}
	if _, err := s.Store.CreateNote(ctx, n); err != nil {
		return store.Note{}, err
	}

	s.log.Infow("note created", "client_id", n.ClientID)
	s.nudge()
	return n, nil
}

// Update replaces a note's content. The updated timestamp never moves backwards.
func (s *NoteService) Update(ctx context.Context, clientID, content string) (store.Note, error) {
	if err := validate(content); err != nil {
		return store.Note{}, err
	}

	prev, err := s.Store.GetNote(ctx, clientID)
	if err != nil {
		return store.Note{}, err
	}

	updated := max(s.now().UnixMilli(), prev.Updated)
	if _, err := s.Store.UpdateNote(ctx, clientID, content, updated); err != nil {
		return store.Note{}, err
	}

	prev.Content = content
	prev.Updated = updated
	prev.Synced = false
	s.log.Infow("note updated", "client_id", clientID)
	s.nudge()
	return prev, nil
}

// Delete removes a note locally and queues its remote removal when needed.
func (s *NoteService) Delete(ctx context.Context, clientID string) error {
	op, err := s.Store.DeleteNote(ctx, clientID)
	if err != nil {
		return err
	}

	s.log.Infow("note deleted", "client_id", clientID, "queued", op != nil)
	if op != nil {
		s.nudge()
	}
	return nil
}

func (s *NoteService) Get(ctx context.Context, clientID string) (store.Note, error) {
	return s.Store.GetNote(ctx, clientID)
}

func (s *NoteService) List(ctx context.Context) ([]store.Note, error) {
	return s.Store.ListNotes(ctx)
}

// Pending returns the queued operations, all of them when clientID is empty.
func (s *NoteService) Pending(ctx context.Context, clientID string) ([]store.Operation, error) {
	if clientID == "" {
		return s.Store.ListOperations(ctx)
	}
	return s.Store.PendingFor(ctx, clientID)
}
