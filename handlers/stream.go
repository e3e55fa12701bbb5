package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"

	"shelfstream/models"
	"shelfstream/services/library"
	"shelfstream/services/stream"
	"shelfstream/services/users"
)

type streamUsersService interface {
	Get(id string) (models.User, bool)
	VerifyPin(id, pin string) error
	UpdateProgress(id, audiobookID string, currentTime, totalDuration float64) (models.AudiobookProgress, error)
}

type streamLibraryService interface {
	Get(id string) (models.Audiobook, error)
}

type listeningStore interface {
	Save(ls *models.ListeningSession) error
}

var (
	_ streamUsersService   = (*users.Service)(nil)
	_ streamLibraryService = (*library.Service)(nil)
)

// StreamHandler exposes the stream lifecycle over HTTP: opening a transcode
// session, syncing playback position, serving HLS files and closing.
type StreamHandler struct {
	Manager   *stream.Manager
	Users     streamUsersService
	Library   streamLibraryService
	Listening listeningStore
}

func NewStreamHandler(manager *stream.Manager, usersSvc streamUsersService, librarySvc streamLibraryService, listeningSvc listeningStore) *StreamHandler {
	return &StreamHandler{Manager: manager, Users: usersSvc, Library: librarySvc, Listening: listeningSvc}
}

// Open starts a new stream for a client. Any stream the client already holds
// is superseded.
func (h *StreamHandler) Open(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ClientID    string `json:"clientId"`
		UserID      string `json:"userId"`
		AudiobookID string `json:"audiobookId"`
		Pin         string `json:"pin"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if strings.TrimSpace(body.ClientID) == "" {
		http.Error(w, "clientId is required", http.StatusBadRequest)
		return
	}

	user, ok := h.Users.Get(body.UserID)
	if !ok {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	if err := h.Users.VerifyPin(user.ID, body.Pin); err != nil {
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	book, err := h.Library.Get(body.AudiobookID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, library.ErrAudiobookNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	session, err := h.Manager.Open(body.ClientID, user, book)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(session.Descriptor())
}

// Get returns the current descriptor for a stream.
func (h *StreamHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.Manager.Get(mux.Vars(r)["streamID"])
	if !ok {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session.Descriptor())
}

// Sync folds a playback position update and listened-time delta into the
// stream, persisting user progress and the day's listening record.
func (h *StreamHandler) Sync(w http.ResponseWriter, r *http.Request) {
	session, ok := h.Manager.Get(mux.Vars(r)["streamID"])
	if !ok {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}

	var body struct {
		CurrentTime  *float64 `json:"currentTime"`
		TimeListened *float64 `json:"timeListened"`
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ls, err := session.SyncStream(body.CurrentTime, body.TimeListened)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, stream.ErrStreamClosed) {
			status = http.StatusGone
		}
		http.Error(w, err.Error(), status)
		return
	}

	if body.CurrentTime != nil {
		d := session.Descriptor()
		if _, err := h.Users.UpdateProgress(session.UserID(), session.AudiobookID(),
			session.ClientCurrentTime(), d.Audiobook.TotalDuration); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	if ls != nil && h.Listening != nil {
		if err := h.Listening.Save(ls); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// Close tears down a stream.
func (h *StreamHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.Manager.Close(mux.Vars(r)["streamID"]); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServePlaylist serves the client-facing VOD playlist.
func (h *StreamHandler) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	session, ok := h.Manager.Get(mux.Vars(r)["streamID"])
	if !ok {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}
	h.serveSessionFile(w, session, path.Base(session.PlaylistPath()), "application/vnd.apple.mpegurl")
}

// ServeSegment serves one media segment (or the fMP4 init blob), resetting
// the transcoder first when the request falls outside the producing range.
func (h *StreamHandler) ServeSegment(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	session, ok := h.Manager.Get(vars["streamID"])
	if !ok {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}

	name := vars["segment"]
	if name == "init.mp4" {
		h.serveSessionFile(w, session, name, "video/mp4")
		return
	}

	segNum, ok := stream.ParseSegmentName(name)
	if !ok {
		http.Error(w, "invalid segment name", http.StatusBadRequest)
		return
	}

	if _, restarted := session.CheckSegmentNumberRequest(segNum); restarted {
		// The transcoder is repositioning; the player retries shortly.
		http.Error(w, "segment not available yet", http.StatusNotFound)
		return
	}

	contentType := "video/mp2t"
	if strings.HasSuffix(name, ".m4s") {
		contentType = "video/iso.segment"
	}
	h.serveSessionFile(w, session, name, contentType)
}

func (h *StreamHandler) serveSessionFile(w http.ResponseWriter, session *stream.Session, name, contentType string) {
	data, err := afero.ReadFile(session.Fs(), path.Join(session.Dir(), name))
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}
