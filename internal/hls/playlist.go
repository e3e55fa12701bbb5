package hls

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
)

// Segment container types understood by the playlist generator and the
// transcoder command builder.
const (
	SegmentTypeMpegTS = "mpegts"
	SegmentTypeFMP4   = "fmp4"
)

// SegmentExt returns the segment filename extension for a container type.
func SegmentExt(segmentType string) string {
	if segmentType == SegmentTypeFMP4 {
		return "m4s"
	}
	return "ts"
}

// GeneratePlaylist writes a complete VOD playlist covering the full duration
// up front, so the player can seek anywhere before those segments exist. The
// transcoder produces its own playlist at a different path; clients only ever
// see this one.
func GeneratePlaylist(fs afero.Fs, path, segmentName string, totalDuration float64, segmentLength int, segmentType, token string) error {
	ext := SegmentExt(segmentType)
	version := 3
	if segmentType == SegmentTypeFMP4 {
		version = 7
	}

	query := ""
	if token != "" {
		query = "?token=" + token
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", version)
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", segmentLength)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	b.WriteString("#EXT-X-PLAYLIST-TYPE:VOD\n")
	if segmentType == SegmentTypeFMP4 {
		fmt.Fprintf(&b, "#EXT-X-MAP:URI=\"init.mp4%s\"\n", query)
	}

	fullSegments := int(totalDuration) / segmentLength
	lastSegment := totalDuration - float64(fullSegments*segmentLength)
	for i := 0; i < fullSegments; i++ {
		fmt.Fprintf(&b, "#EXTINF:%d,\n", segmentLength)
		fmt.Fprintf(&b, "%s-%d.%s%s\n", segmentName, i, ext, query)
	}
	if lastSegment > 0 {
		fmt.Fprintf(&b, "#EXTINF:%.6f,\n", lastSegment)
		fmt.Fprintf(&b, "%s-%d.%s%s\n", segmentName, fullSegments, ext, query)
	}
	b.WriteString("#EXT-X-ENDLIST\n")

	if err := afero.WriteFile(fs, path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write playlist: %w", err)
	}
	return nil
}
