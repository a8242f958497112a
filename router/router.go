package router

import (
	"net/http"

	"github.com/gorilla/mux"

	noteHandler "notesync/internal/note"
	"notesync/internal/note/service"
	"notesync/middleware"
	"notesync/socket"
)

func Setup(repo service.Repository, hub *socket.Hub) http.Handler {
	r := mux.NewRouter()

	// WebSocket: device liveness and change notifications
	r.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		socket.ServeWs(hub, w, req)
	})

	noteService := service.NewNoteService(repo, hub)
	notes := noteHandler.NewNoteHandler(noteService, hub)

	r.HandleFunc("/health", notes.Health).Methods(http.MethodGet)

	// REST API
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/notes", notes.CreateNote).Methods(http.MethodPost)
	api.HandleFunc("/notes", notes.GetNotes).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}", notes.GetNote).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}", notes.UpdateNote).Methods(http.MethodPut)
	api.HandleFunc("/notes/{id}", notes.DeleteNote).Methods(http.MethodDelete)
	api.HandleFunc("/devices", notes.GetDevices).Methods(http.MethodGet)

	r.Use(middleware.RequestLogger)
	return middleware.CORSMiddleware(r)
}
