package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"notesync/internal/note/model"
	"notesync/internal/note/service"
	"notesync/pkg/logger"
	"notesync/socket"
)

// DeviceHeader carries the id of the device making a change, so the change
// is not echoed back to it over the socket.
const DeviceHeader = "X-Device-ID"

type NoteHandler struct {
	Service *service.NoteService
	Hub     *socket.Hub
}

func NewNoteHandler(service *service.NoteService, hub *socket.Hub) *NoteHandler {
	return &NoteHandler{Service: service, Hub: hub}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func noteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid note id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// writeError maps service errors onto status codes.
func writeError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, model.ErrEmptyContent):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "Note not found", http.StatusNotFound)
	default:
		logger.Sugar.Errorf("Handler: Failed to %s: %v", action, err)
		http.Error(w, "Failed to "+action, http.StatusInternalServerError)
	}
}

func (h *NoteHandler) CreateNote(w http.ResponseWriter, r *http.Request) {
	var req model.CreateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	note, err := h.Service.CreateNote(r.Context(), r.Header.Get(DeviceHeader), req)
	if err != nil {
		writeError(w, "create note", err)
		return
	}
	writeJSON(w, http.StatusCreated, note)
}

func (h *NoteHandler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}

	var req model.UpdateNoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	note, err := h.Service.UpdateNote(r.Context(), r.Header.Get(DeviceHeader), id, req)
	if err != nil {
		writeError(w, "update note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *NoteHandler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteNote(r.Context(), r.Header.Get(DeviceHeader), id); err != nil {
		writeError(w, "delete note", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NoteHandler) GetNote(w http.ResponseWriter, r *http.Request) {
	id, ok := noteID(w, r)
	if !ok {
		return
	}

	note, err := h.Service.GetNote(r.Context(), id)
	if err != nil {
		writeError(w, "get note", err)
		return
	}
	writeJSON(w, http.StatusOK, note)
}

func (h *NoteHandler) GetNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := h.Service.GetNotes(r.Context())
	if err != nil {
		writeError(w, "list notes", err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (h *NoteHandler) GetDevices(w http.ResponseWriter, r *http.Request) {
	devices := []socket.DeviceStatus{}
	if h.Hub != nil {
		devices = h.Hub.ConnectedDevices()
	}
	writeJSON(w, http.StatusOK, devices)
}

func (h *NoteHandler) Health(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{Status: "ok"}
	if h.Hub != nil {
		resp.Devices = len(h.Hub.ConnectedDevices())
	}
	writeJSON(w, http.StatusOK, resp)
}
