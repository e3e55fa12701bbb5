package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gorilla/mux"

	"shelfstream/models"
	"shelfstream/services/library"
)

type libraryService interface {
	List() []models.AudiobookSummary
	Get(id string) (models.Audiobook, error)
	TrackPath(id string, index int) (string, error)
	Reload() error
}

var _ libraryService = (*library.Service)(nil)

type LibraryHandler struct {
	Service libraryService
}

func NewLibraryHandler(service libraryService) *LibraryHandler {
	return &LibraryHandler{Service: service}
}

func (h *LibraryHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Service.List())
}

func (h *LibraryHandler) Get(w http.ResponseWriter, r *http.Request) {
	book, err := h.Service.Get(mux.Vars(r)["audiobookID"])
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, library.ErrAudiobookNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(book)
}

func (h *LibraryHandler) Reload(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Reload(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeCover serves the audiobook's cover image.
func (h *LibraryHandler) ServeCover(w http.ResponseWriter, r *http.Request) {
	book, err := h.Service.Get(mux.Vars(r)["audiobookID"])
	if err != nil {
		http.Error(w, "audiobook not found", http.StatusNotFound)
		return
	}
	if book.CoverPath == "" {
		http.Error(w, "no cover", http.StatusNotFound)
		return
	}
	http.ServeFile(w, r, book.CoverPath)
}

// DownloadTrack serves a raw track file for direct download. The content type
// is sniffed from the file itself rather than trusted from the extension.
func (h *LibraryHandler) DownloadTrack(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	index, err := strconv.Atoi(vars["trackIndex"])
	if err != nil || index < 1 {
		http.Error(w, "invalid track index", http.StatusBadRequest)
		return
	}

	path, err := h.Service.TrackPath(vars["audiobookID"], index)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, library.ErrAudiobookNotFound) || errors.Is(err, library.ErrTrackNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	if mt, err := mimetype.DetectFile(path); err == nil {
		w.Header().Set("Content-Type", mt.String())
	}
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(path)+"\"")
	http.ServeFile(w, r, path)
}

func (h *LibraryHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
