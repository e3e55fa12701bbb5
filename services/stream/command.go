package stream

import (
	"math"
	"strconv"

	"shelfstream/internal/hls"
)

// CommandSpec describes one transcoder invocation. Flag construction must stay
// bit-for-bit stable: several players only cope with this exact combination of
// seek, timestamp and HLS options.
type CommandSpec struct {
	ConcatFilePath     string
	AdjustedStartTime  float64 // max(startTime - maxSeekBackTime, 0)
	TrackStartOffset   float64 // start skew reported by the concat manifest writer
	AudioCodec         string  // "aac" or "copy"
	SegmentType        string  // hls.SegmentTypeMpegTS or hls.SegmentTypeFMP4
	SegmentStartNumber int
	SegmentFilename    string // <sessionDir>/output-%d.<ext>
	OutputPath         string // the transcoder-owned playlist, not the one clients see
}

// Args assembles the full ffmpeg argument list.
func (c CommandSpec) Args() []string {
	args := []string{
		"-loglevel", "error",
		// -ss is an absolute timestamp, not relative to each concat entry's own start
		"-seek_timestamp", "1",
		"-f", "concat",
		"-safe", "0",
	}

	if c.AdjustedStartTime > 0 {
		shifted := c.AdjustedStartTime - c.TrackStartOffset
		// Exact fractional seconds (e.g. 29.49814) trip up the demuxer; round to one decimal
		ss := strconv.FormatFloat(math.Round(shifted*10)/10, 'f', -1, 64) + "s"
		args = append(args, "-ss", ss, "-noaccurate_seek")
	}

	args = append(args, "-i", c.ConcatFilePath)

	args = append(args,
		"-map", "0:a",
		"-c:a", c.AudioCodec,
		"-f", "hls",
		"-copyts",
		"-avoid_negative_ts", "make_non_negative",
		"-max_delay", "5000000",
		"-max_muxing_queue_size", "2048",
		"-hls_time", strconv.Itoa(segmentLength),
		"-hls_segment_type", c.SegmentType,
		"-start_number", strconv.Itoa(c.SegmentStartNumber),
		"-hls_playlist_type", "vod",
		"-hls_list_size", "0",
		"-hls_allow_cache", "0",
	)

	if c.SegmentType == hls.SegmentTypeFMP4 {
		args = append(args, "-strict", "-2", "-hls_fmp4_init_filename", "init.mp4")
	}

	args = append(args, "-hls_segment_filename", c.SegmentFilename, c.OutputPath)
	return args
}
