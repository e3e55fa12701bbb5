package models

import (
	"encoding/json"
	"time"
)

const (
	// DefaultUserID represents the legacy single-user library owner.
	DefaultUserID = "default"
	// DefaultUserName is used when creating the initial profile.
	DefaultUserName = "Primary Profile"
)

// User models a shelfstream listener profile and its per-audiobook progress.
type User struct {
	ID         string                       `json:"id"`
	Name       string                       `json:"name"`
	PinHash    string                       `json:"-"` // bcrypt hash of PIN, excluded from JSON (security)
	Audiobooks map[string]AudiobookProgress `json:"audiobooks,omitempty"`
	CreatedAt  time.Time                    `json:"createdAt"`
	UpdatedAt  time.Time                    `json:"updatedAt"`
}

// AudiobookProgress records where a user last left off in an audiobook.
type AudiobookProgress struct {
	AudiobookID string  `json:"audiobookId"`
	CurrentTime float64 `json:"currentTime"`
	Progress    float64 `json:"progress"`   // 0.0-1.0 fraction of total duration
	LastUpdate  int64   `json:"lastUpdate"` // unix milliseconds
	IsFinished  bool    `json:"isFinished"`
}

// HasPin returns true if the user has a PIN set.
func (u User) HasPin() bool {
	return u.PinHash != ""
}

// ProgressFor returns the user's stored progress for an audiobook if any.
func (u User) ProgressFor(audiobookID string) (AudiobookProgress, bool) {
	if u.Audiobooks == nil {
		return AudiobookProgress{}, false
	}
	p, ok := u.Audiobooks[audiobookID]
	return p, ok
}

// MarshalJSON implements custom JSON marshaling to include the computed hasPin field.
func (u User) MarshalJSON() ([]byte, error) {
	type UserAlias User // prevent recursion
	return json.Marshal(&struct {
		UserAlias
		HasPin bool `json:"hasPin"`
	}{
		UserAlias: UserAlias(u),
		HasPin:    u.HasPin(),
	})
}
