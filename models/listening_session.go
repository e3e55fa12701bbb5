package models

import (
	"time"

	"github.com/google/uuid"
)

// ListeningSession accumulates how long a user listened to an audiobook on one
// calendar day. The owning stream replaces it with a fresh record when the
// local day rolls over, so one row on disk never spans two dates.
type ListeningSession struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	UserName        string    `json:"userName"`
	AudiobookID     string    `json:"audiobookId"`
	AudiobookTitle  string    `json:"audiobookTitle"`
	AudiobookAuthor string    `json:"audiobookAuthor,omitempty"`
	Date            string    `json:"date"`      // local calendar day, YYYY-MM-DD
	DayOfWeek       string    `json:"dayOfWeek"` // e.g. "Tuesday"
	TimeListening   float64   `json:"timeListening"` // seconds
	StartedAt       time.Time `json:"startedAt"`
	LastUpdate      time.Time `json:"lastUpdate"`
}

// NewListeningSession opens a record for the current local day.
func NewListeningSession(user User, audiobook Audiobook) *ListeningSession {
	now := time.Now()
	return &ListeningSession{
		ID:              "ls_" + uuid.NewString(),
		UserID:          user.ID,
		UserName:        user.Name,
		AudiobookID:     audiobook.ID,
		AudiobookTitle:  audiobook.Title,
		AudiobookAuthor: audiobook.Author,
		Date:            now.Format("2006-01-02"),
		DayOfWeek:       now.Weekday().String(),
		StartedAt:       now,
		LastUpdate:      now,
	}
}

// CheckDateRollover reports whether the local calendar day has changed since
// the record was opened.
func (ls *ListeningSession) CheckDateRollover() bool {
	return time.Now().Format("2006-01-02") != ls.Date
}

// AddListeningTime accumulates listened seconds onto the record.
func (ls *ListeningSession) AddListeningTime(seconds float64) {
	if seconds <= 0 {
		return
	}
	ls.TimeListening += seconds
	ls.LastUpdate = time.Now()
}
