package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"shelfstream/models"
	"shelfstream/services/listening"
)

type listeningService interface {
	ListByUser(userID string) ([]models.ListeningSession, error)
	ListByDate(date string) ([]models.ListeningSession, error)
	TotalTimeListening(userID string) (float64, error)
}

var _ listeningService = (*listening.Service)(nil)

type ListeningHandler struct {
	Service listeningService
}

func NewListeningHandler(service listeningService) *ListeningHandler {
	return &ListeningHandler{Service: service}
}

// ListForUser returns a user's listening records, most recent first.
func (h *ListeningHandler) ListForUser(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Service.ListByUser(mux.Vars(r)["userID"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []models.ListeningSession{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

// ListByDate returns every user's records for one day. Defaults to today.
func (h *ListeningHandler) ListByDate(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if date == "" {
		date = time.Now().Format("2006-01-02")
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	sessions, err := h.Service.ListByDate(date)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []models.ListeningSession{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

// TotalForUser returns the user's lifetime listened seconds.
func (h *ListeningHandler) TotalForUser(w http.ResponseWriter, r *http.Request) {
	total, err := h.Service.TotalTimeListening(mux.Vars(r)["userID"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]float64{"timeListening": total})
}

func (h *ListeningHandler) Options(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}
