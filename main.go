package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"notesync/config"
	"notesync/config/database"
	"notesync/internal/note/repository"
	"notesync/internal/note/service"
	"notesync/pkg/logger"
	"notesync/router"
	"notesync/socket"
)

func main() {
	// 1. Configuration comes from .env and the environment.
	cfg := config.LoadServer()

	logger.Init(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logger.Sync()

	// 2. Postgres when configured, otherwise an in-memory store for local use.
	var (
		db   *sql.DB
		repo service.Repository
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.Connect(cfg.DatabaseURL)
		if err != nil {
			logger.Sugar.Fatalf("Could not connect to database: %v", err)
		}
		defer db.Close()

		noteRepo := repository.NewNoteRepository(db)
		if err := noteRepo.EnsureSchema(context.Background()); err != nil {
			logger.Sugar.Fatalf("Could not prepare database: %v", err)
		}
		repo = noteRepo
	} else {
		logger.Sugar.Warn("No database configured, notes are kept in memory only")
		repo = repository.NewMemoryRepository()
	}

	// 3. The hub tracks connected devices and pushes note changes to them.
	hub := socket.NewHub(db)
	go hub.Run()
	if db != nil {
		go hub.SeenWorker(cfg.SeenInterval)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.Setup(repo, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Sugar.Infof("notesd listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Fatalf("Server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Sugar.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar.Errorf("Graceful shutdown failed: %v", err)
	}
	hub.FlushSeen()
}
