package handler

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notesync/internal/note/model"
	"notesync/internal/note/repository"
	"notesync/internal/note/service"
)

func setup(t *testing.T) (http.Handler, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	h := NewNoteHandler(service.NewNoteService(repository.NewNoteRepository(db), nil), nil)

	r := mux.NewRouter()
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/notes", h.CreateNote).Methods(http.MethodPost)
	r.HandleFunc("/api/notes", h.GetNotes).Methods(http.MethodGet)
	r.HandleFunc("/api/notes/{id}", h.GetNote).Methods(http.MethodGet)
	r.HandleFunc("/api/notes/{id}", h.UpdateNote).Methods(http.MethodPut)
	r.HandleFunc("/api/notes/{id}", h.DeleteNote).Methods(http.MethodDelete)
	r.HandleFunc("/api/devices", h.GetDevices).Methods(http.MethodGet)
	return r, mock
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateNote(t *testing.T) {
	h, mock := setup(t)

	mock.ExpectQuery("INSERT INTO notes").
		WithArgs("c-1", "Buy milk", int64(10), int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "content", "created", "updated", "inserted"}).
			AddRow(42, "c-1", "Buy milk", 10, 10, true))

	rec := do(h, http.MethodPost, "/api/notes", `{"client_id":"c-1","content":"Buy milk","created":10,"updated":10}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var note model.Note
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&note))
	assert.Equal(t, int64(42), note.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateNote_BadRequests(t *testing.T) {
	h, mock := setup(t)

	rec := do(h, http.MethodPost, "/api/notes", `{"content":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodPost, "/api/notes", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Neither reached the database.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateNote(t *testing.T) {
	h, mock := setup(t)

	mock.ExpectQuery("UPDATE notes").
		WithArgs("Buy milk and eggs", int64(20), int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "content", "created", "updated"}).
			AddRow(42, "c-1", "Buy milk and eggs", 10, 20))
	rec := do(h, http.MethodPut, "/api/notes/42", `{"content":"Buy milk and eggs","updated":20}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	mock.ExpectQuery("UPDATE notes").
		WithArgs("x", int64(1), int64(7)).
		WillReturnError(sql.ErrNoRows)
	rec = do(h, http.MethodPut, "/api/notes/7", `{"content":"x","updated":1}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(h, http.MethodPut, "/api/notes/abc", `{"content":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteNote(t *testing.T) {
	h, mock := setup(t)

	mock.ExpectQuery("DELETE FROM notes").
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"client_id"}).AddRow("c-1"))
	rec := do(h, http.MethodDelete, "/api/notes/42", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	mock.ExpectQuery("DELETE FROM notes").
		WithArgs(int64(42)).
		WillReturnError(sql.ErrNoRows)
	rec = do(h, http.MethodDelete, "/api/notes/42", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotes_DatabaseError(t *testing.T) {
	h, mock := setup(t)

	mock.ExpectQuery("SELECT id, client_id, content, created, updated FROM notes").
		WillReturnError(errors.New("connection refused"))
	rec := do(h, http.MethodGet, "/api/notes", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestGetNote(t *testing.T) {
	h, mock := setup(t)

	mock.ExpectQuery("SELECT id, client_id, content, created, updated FROM notes WHERE id").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "client_id", "content", "created", "updated"}).
			AddRow(3, "c-3", "three", 1, 1))
	rec := do(h, http.MethodGet, "/api/notes/3", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var note model.Note
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&note))
	assert.Equal(t, "three", note.Content)
}

func TestHealthAndDevicesWithoutHub(t *testing.T) {
	h, _ := setup(t)

	rec := do(h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","devices":0}`, rec.Body.String())

	rec = do(h, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}
