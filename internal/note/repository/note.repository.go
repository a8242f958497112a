package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"notesync/internal/note/model"
	"notesync/pkg/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS notes (
	id         BIGSERIAL PRIMARY KEY,
	client_id  TEXT UNIQUE,
	content    TEXT NOT NULL,
	created    BIGINT NOT NULL,
	updated    BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notes_updated ON notes (updated DESC);
CREATE TABLE IF NOT EXISTS devices (
	id        TEXT PRIMARY KEY,
	last_seen TIMESTAMPTZ NOT NULL
);`

type NoteRepository struct {
	DB *sql.DB
}

func NewNoteRepository(db *sql.DB) *NoteRepository {
	return &NoteRepository{DB: db}
}

// EnsureSchema creates the tables the server needs if they are missing.
func (r *NoteRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.DB.ExecContext(ctx, schema); err != nil {
		logger.Sugar.Errorf("Failed to create schema: %v", err)
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func scanNote(row interface{ Scan(...any) error }) (model.Note, error) {
	var n model.Note
	var clientID sql.NullString
	if err := row.Scan(&n.ID, &clientID, &n.Content, &n.Created, &n.Updated); err != nil {
		return model.Note{}, err
	}
	n.ClientID = clientID.String
	return n, nil
}

// Create inserts a note. A note whose client_id is already stored is not
// inserted again; the existing row is returned with inserted = false.
func (r *NoteRepository) Create(ctx context.Context, req model.CreateNoteRequest) (note model.Note, inserted bool, err error) {
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO notes (client_id, content, created, updated)
		VALUES (NULLIF($1, ''), $2, $3, $4)
		ON CONFLICT (client_id) DO UPDATE SET client_id = EXCLUDED.client_id
		RETURNING id, client_id, content, created, updated, (xmax = 0) AS inserted`,
		req.ClientID, req.Content, req.Created, req.Updated)

	var clientID sql.NullString
	err = row.Scan(&note.ID, &clientID, &note.Content, &note.Created, &note.Updated, &inserted)
	if err != nil {
		logger.Sugar.Errorf("Failed to create note: %v", err)
		return model.Note{}, false, err
	}
	note.ClientID = clientID.String
	return note, inserted, nil
}

func (r *NoteRepository) Get(ctx context.Context, id int64) (model.Note, error) {
	n, err := scanNote(r.DB.QueryRowContext(ctx,
		`SELECT id, client_id, content, created, updated FROM notes WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Note{}, fmt.Errorf("note %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get note %d: %v", id, err)
	}
	return n, err
}

func (r *NoteRepository) List(ctx context.Context) ([]model.Note, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, client_id, content, created, updated FROM notes ORDER BY updated DESC, id DESC`)
	if err != nil {
		logger.Sugar.Errorf("Failed to list notes: %v", err)
		return nil, err
	}
	defer rows.Close()

	notes := []model.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// Update replaces a note's content. Last write wins.
func (r *NoteRepository) Update(ctx context.Context, id int64, req model.UpdateNoteRequest) (model.Note, error) {
	n, err := scanNote(r.DB.QueryRowContext(ctx, `
		UPDATE notes SET content = $1, updated = $2 WHERE id = $3
		RETURNING id, client_id, content, created, updated`,
		req.Content, req.Updated, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Note{}, fmt.Errorf("note %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to update note %d: %v", id, err)
	}
	return n, err
}

// Delete removes a note and returns the client id it was created with.
func (r *NoteRepository) Delete(ctx context.Context, id int64) (string, error) {
	var clientID sql.NullString
	err := r.DB.QueryRowContext(ctx, `DELETE FROM notes WHERE id = $1 RETURNING client_id`, id).Scan(&clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("note %d: %w", id, model.ErrNotFound)
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to delete note %d: %v", id, err)
		return "", err
	}
	return clientID.String, nil
}
