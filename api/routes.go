package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"shelfstream/handlers"
)

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleOptions handles OPTIONS requests for CORS preflight
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	streamHandler *handlers.StreamHandler,
	libraryHandler *handlers.LibraryHandler,
	usersHandler *handlers.UsersHandler,
	listeningHandler *handlers.ListeningHandler,
	eventsHub *handlers.EventsHub,
) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	// Client event push channel
	api.HandleFunc("/events", eventsHub.Subscribe).Methods(http.MethodGet)
	api.HandleFunc("/events", handleOptions).Methods(http.MethodOptions)

	// Library catalog
	api.HandleFunc("/library", libraryHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/library", libraryHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/library/reload", libraryHandler.Reload).Methods(http.MethodPost)
	api.HandleFunc("/library/reload", libraryHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/library/{audiobookID}", libraryHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/library/{audiobookID}", libraryHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/library/{audiobookID}/cover", libraryHandler.ServeCover).Methods(http.MethodGet)
	api.HandleFunc("/library/{audiobookID}/tracks/{trackIndex}/download", libraryHandler.DownloadTrack).Methods(http.MethodGet)

	// User profiles, PINs and progress
	api.HandleFunc("/users", usersHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/users", usersHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/users", usersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}", usersHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}", usersHandler.Rename).Methods(http.MethodPatch)
	api.HandleFunc("/users/{userID}", usersHandler.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/users/{userID}", usersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}/pin", usersHandler.SetPin).Methods(http.MethodPut)
	api.HandleFunc("/users/{userID}/pin", usersHandler.ClearPin).Methods(http.MethodDelete)
	api.HandleFunc("/users/{userID}/pin", usersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}/pin/verify", usersHandler.VerifyPin).Methods(http.MethodPost)
	api.HandleFunc("/users/{userID}/pin/verify", usersHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}/progress/{audiobookID}", usersHandler.UpdateProgress).Methods(http.MethodPatch)
	api.HandleFunc("/users/{userID}/progress/{audiobookID}", usersHandler.ClearProgress).Methods(http.MethodDelete)
	api.HandleFunc("/users/{userID}/progress/{audiobookID}", usersHandler.Options).Methods(http.MethodOptions)

	// Listening stats
	api.HandleFunc("/users/{userID}/listening", listeningHandler.ListForUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/listening", listeningHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/users/{userID}/listening/total", listeningHandler.TotalForUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{userID}/listening/total", listeningHandler.Options).Methods(http.MethodOptions)
	api.HandleFunc("/listening", listeningHandler.ListByDate).Methods(http.MethodGet)
	api.HandleFunc("/listening", listeningHandler.Options).Methods(http.MethodOptions)

	// Stream lifecycle
	api.HandleFunc("/streams", streamHandler.Open).Methods(http.MethodPost)
	api.HandleFunc("/streams", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/streams/{streamID}", streamHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/streams/{streamID}", streamHandler.Close).Methods(http.MethodDelete)
	api.HandleFunc("/streams/{streamID}", handleOptions).Methods(http.MethodOptions)
	api.HandleFunc("/streams/{streamID}/sync", streamHandler.Sync).Methods(http.MethodPost)
	api.HandleFunc("/streams/{streamID}/sync", handleOptions).Methods(http.MethodOptions)

	// HLS files live outside /api: the playlist embeds bare segment names, so
	// the segment route must sit directly next to the playlist route.
	hls := r.PathPrefix("/hls").Subrouter()
	hls.Use(corsMiddleware)
	hls.HandleFunc("/{streamID}/output.m3u8", streamHandler.ServePlaylist).Methods(http.MethodGet)
	hls.HandleFunc("/{streamID}/{segment}", streamHandler.ServeSegment).Methods(http.MethodGet)
}
