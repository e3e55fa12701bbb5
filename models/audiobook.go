package models

import (
	"path/filepath"
	"strings"
)

// AudioTrack is one source file of an audiobook, with its position inside the
// concatenated timeline. Track metadata arrives already probed (duration and
// codec come from the library scanner's manifest).
type AudioTrack struct {
	Index       int     `json:"index"`
	Path        string  `json:"path"`
	Ext         string  `json:"ext"`
	Duration    float64 `json:"duration"`
	StartOffset float64 `json:"startOffset"`
}

// Audiobook is a single catalog entry with its ordered audio tracks.
type Audiobook struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Author        string       `json:"author"`
	Narrator      string       `json:"narrator,omitempty"`
	CoverPath     string       `json:"coverPath,omitempty"`
	TotalDuration float64      `json:"totalDuration"`
	Tracks        []AudioTrack `json:"tracks"`
}

// AudiobookSummary is the minified form embedded in stream descriptors and
// list responses (no track list).
type AudiobookSummary struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	Narrator      string  `json:"narrator,omitempty"`
	CoverPath     string  `json:"coverPath,omitempty"`
	TotalDuration float64 `json:"totalDuration"`
	NumTracks     int     `json:"numTracks"`
}

// Summary returns the minified representation sent to clients.
func (a Audiobook) Summary() AudiobookSummary {
	return AudiobookSummary{
		ID:            a.ID,
		Title:         a.Title,
		Author:        a.Author,
		Narrator:      a.Narrator,
		CoverPath:     a.CoverPath,
		TotalDuration: a.TotalDuration,
		NumTracks:     len(a.Tracks),
	}
}

// AudioFileType returns the lowercase extension of the first track without the
// leading dot, e.g. "mp3" or "m4b". Empty when the book has no tracks.
func (a Audiobook) AudioFileType() string {
	if len(a.Tracks) == 0 {
		return ""
	}
	ext := strings.ToLower(a.Tracks[0].Ext)
	return strings.TrimPrefix(ext, ".")
}

// HasLosslessTracks reports whether any track needs an fMP4 container
// (lossless codecs cannot be carried in plain transport-stream segments).
func (a Audiobook) HasLosslessTracks() bool {
	for _, t := range a.Tracks {
		if strings.EqualFold(t.Ext, ".flac") {
			return true
		}
	}
	return false
}

// TrackExt normalizes a track path into its extension.
func TrackExt(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
