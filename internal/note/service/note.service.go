package service

import (
	"context"
	"strings"
	"time"

	"notesync/internal/note/model"
	"notesync/socket"
)

// Repository is the note persistence the service needs.
type Repository interface {
	Create(ctx context.Context, req model.CreateNoteRequest) (model.Note, bool, error)
	Get(ctx context.Context, id int64) (model.Note, error)
	List(ctx context.Context) ([]model.Note, error)
	Update(ctx context.Context, id int64, req model.UpdateNoteRequest) (model.Note, error)
	Delete(ctx context.Context, id int64) (string, error)
}

// Notifier delivers note changes to connected devices.
type Notifier interface {
	Publish(msg socket.WSMessage)
}

type NoteService struct {
	Repo Repository
	Hub  Notifier
	now  func() time.Time
}

func NewNoteService(repo Repository, hub Notifier) *NoteService {
	return &NoteService{Repo: repo, Hub: hub, now: time.Now}
}

func (s *NoteService) notify(msgType string, id int64, clientID, deviceID string) {
	if s.Hub == nil {
		return
	}
	s.Hub.Publish(socket.WSMessage{Type: msgType, ServerID: id, ClientID: clientID, DeviceID: deviceID})
}

// CreateNote stores a note. Creating the same client id twice returns the
// first note, so a device that retries a create it never saw confirmed gets
// the id it was already assigned.
func (s *NoteService) CreateNote(ctx context.Context, deviceID string, req model.CreateNoteRequest) (model.Note, error) {
	if strings.TrimSpace(req.Content) == "" {
		return model.Note{}, model.ErrEmptyContent
	}
	ts := s.now().UnixMilli()
	if req.Created == 0 {
		req.Created = ts
	}
	if req.Updated == 0 {
		req.Updated = req.Created
	}

	note, inserted, err := s.Repo.Create(ctx, req)
	if err != nil {
		return model.Note{}, err
	}
	if inserted {
		s.notify(socket.NoteCreatedType, note.ID, note.ClientID, deviceID)
	}
	return note, nil
}

func (s *NoteService) UpdateNote(ctx context.Context, deviceID string, id int64, req model.UpdateNoteRequest) (model.Note, error) {
	if strings.TrimSpace(req.Content) == "" {
		return model.Note{}, model.ErrEmptyContent
	}
	if req.Updated == 0 {
		req.Updated = s.now().UnixMilli()
	}

	note, err := s.Repo.Update(ctx, id, req)
	if err != nil {
		return model.Note{}, err
	}
	s.notify(socket.NoteUpdatedType, note.ID, note.ClientID, deviceID)
	return note, nil
}

func (s *NoteService) DeleteNote(ctx context.Context, deviceID string, id int64) error {
	clientID, err := s.Repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.notify(socket.NoteDeletedType, id, clientID, deviceID)
	return nil
}

func (s *NoteService) GetNote(ctx context.Context, id int64) (model.Note, error) {
	return s.Repo.Get(ctx, id)
}

func (s *NoteService) GetNotes(ctx context.Context) ([]model.Note, error) {
	return s.Repo.List(ctx)
}
