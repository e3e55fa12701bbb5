package hls

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"

	"shelfstream/models"
)

// ErrNoTracks is returned when a concat manifest is requested for an empty
// track list.
var ErrNoTracks = errors.New("no audio tracks to concatenate")

// WriteConcatFile writes the ffmpeg concat-demuxer manifest for the given
// tracks, skipping tracks that end before startTime. It returns the cumulative
// start offset of the first track included — the "start skew" the caller must
// subtract from its seek offset, because the demuxer's timeline begins at that
// track, not at zero.
func WriteConcatFile(fs afero.Fs, path string, tracks []models.AudioTrack, startTime float64) (float64, error) {
	if len(tracks) == 0 {
		return 0, ErrNoTracks
	}

	firstIdx := 0
	for i, t := range tracks {
		if t.StartOffset <= startTime && t.StartOffset+t.Duration > startTime {
			firstIdx = i
			break
		}
	}

	var b strings.Builder
	for _, t := range tracks[firstIdx:] {
		fmt.Fprintf(&b, "file '%s'\n", escapeConcatPath(t.Path))
	}

	if err := afero.WriteFile(fs, path, []byte(b.String()), 0o644); err != nil {
		return 0, fmt.Errorf("write concat file: %w", err)
	}
	return tracks[firstIdx].StartOffset, nil
}

// escapeConcatPath quotes single quotes for the concat demuxer's file
// directive ('foo'\''bar').
func escapeConcatPath(p string) string {
	return strings.ReplaceAll(p, "'", `'\''`)
}
