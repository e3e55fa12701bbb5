package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"shelfstream/api"
	"shelfstream/config"
	"shelfstream/handlers"
	"shelfstream/services/library"
	"shelfstream/services/listening"
	"shelfstream/services/stream"
	"shelfstream/services/users"
	"shelfstream/utils"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	libraryOverride := flag.String("library", "", "override library directory from config")
	flag.Parse()

	fmt.Println("shelfstream starting...")

	// Determine config path (env or default)
	configPath := os.Getenv("SHELFSTREAM_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}
	if *libraryOverride != "" {
		settings.Library.Directory = *libraryOverride
	}
	if settings.Transcode.FFmpegPath == "" {
		settings.Transcode.FFmpegPath = "ffmpeg"
	}

	// Best-effort save so the config persists the defaults
	_ = cfgManager.Save(settings)

	libraryService, err := library.NewService(settings.Library.Directory)
	if err != nil {
		log.Fatalf("failed to initialise library: %v", err)
	}

	userService, err := users.NewService(settings.Cache.Directory)
	if err != nil {
		log.Fatalf("failed to initialise users: %v", err)
	}

	listeningService, err := listening.NewService(settings.Cache.Directory)
	if err != nil {
		log.Fatalf("failed to initialise listening store: %v", err)
	}
	defer listeningService.Close()

	streamRoot := filepath.Join(settings.Cache.Directory, "streams")
	if err := os.MkdirAll(streamRoot, 0o755); err != nil {
		log.Fatalf("failed to create stream cache: %v", err)
	}

	eventsHub := handlers.NewEventsHub()
	transcoder := &stream.FFmpeg{Path: settings.Transcode.FFmpegPath}
	streamManager := stream.NewManager(streamRoot, afero.NewOsFs(), transcoder, eventsHub)

	var r *mux.Router = utils.NewRouter()
	api.Register(
		r,
		handlers.NewStreamHandler(streamManager, userService, libraryService, listeningService),
		handlers.NewLibraryHandler(libraryService),
		handlers.NewUsersHandler(userService),
		handlers.NewListeningHandler(listeningService),
		eventsHub,
	)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for streaming
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Kill live transcodes before closing the HTTP listener so session
	// directories are removed while the process still owns them.
	streamManager.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	log.Println("shutdown complete")
}
