package stream

import (
	"log"

	"shelfstream/models"
)

// Descriptor is the full session description pushed to a client when its
// stream becomes ready (and returned from the open call).
type Descriptor struct {
	ID                  string                  `json:"id"`
	ClientID            string                  `json:"clientId"`
	UserID              string                  `json:"userId"`
	Audiobook           models.AudiobookSummary `json:"audiobook"`
	SegmentLength       int                     `json:"segmentLength"`
	PlaylistPath        string                  `json:"playlistPath"`
	ClientPlaylistURI   string                  `json:"clientPlaylistUri"`
	ClientCurrentTime   float64                 `json:"clientCurrentTime"`
	StartTime           float64                 `json:"startTime"`
	SegmentStartNumber  int                     `json:"segmentStartNumber"`
	IsTranscodeComplete bool                    `json:"isTranscodeComplete"`
	LastUpdate          int64                   `json:"lastUpdate"`
}

// Progress is the recurring per-tick payload.
type Progress struct {
	Stream      string   `json:"stream"`
	Percent     string   `json:"percent"`
	Chunks      []string `json:"chunks"`
	NumSegments int      `json:"numSegments"`
}

// Notifier delivers push events to a connected client. The wire framing is up
// to the implementation; only the event names are part of the contract.
type Notifier interface {
	StreamOpen(clientID string, d Descriptor)
	StreamProgress(clientID string, p Progress)
	StreamReady(clientID, streamID string)
	StreamError(clientID, streamID, message string)
	StreamClosed(clientID, streamID string)
}

// LogNotifier is the fallback Notifier when no client transport is wired.
type LogNotifier struct{}

func (LogNotifier) StreamOpen(clientID string, d Descriptor) {
	log.Printf("[stream] notify %s stream_open %s", clientID, d.ID)
}

func (LogNotifier) StreamProgress(clientID string, p Progress) {
	log.Printf("[stream] notify %s stream_progress %s %s", clientID, p.Stream, p.Percent)
}

func (LogNotifier) StreamReady(clientID, streamID string) {
	log.Printf("[stream] notify %s stream_ready %s", clientID, streamID)
}

func (LogNotifier) StreamError(clientID, streamID, message string) {
	log.Printf("[stream] notify %s stream_error %s: %s", clientID, streamID, message)
}

func (LogNotifier) StreamClosed(clientID, streamID string) {
	log.Printf("[stream] notify %s stream_closed %s", clientID, streamID)
}
