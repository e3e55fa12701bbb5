package stream

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// Coverage describes which numbered segment files exist in a session
// directory at one point in time.
type Coverage struct {
	Segments map[int]struct{}
	Furthest int // highest index seen, -1 when no segments exist
}

// ScanSegments lists a session directory and parses every output-<n>.ts or
// output-<n>.m4s filename into a segment index. An empty or unreadable
// directory yields an empty coverage rather than an error; the poll loop must
// never die because the transcoder hasn't flushed anything yet.
func ScanSegments(fs afero.Fs, dir string) Coverage {
	cov := Coverage{Segments: make(map[int]struct{}), Furthest: -1}

	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return cov
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, ok := ParseSegmentName(e.Name())
		if !ok {
			continue
		}
		cov.Segments[n] = struct{}{}
		if n > cov.Furthest {
			cov.Furthest = n
		}
	}
	return cov
}

// ParseSegmentName extracts the index from an output-<n>.ts/.m4s filename.
func ParseSegmentName(name string) (int, bool) {
	ext := filepath.Ext(name)
	if ext != ".ts" && ext != ".m4s" {
		return 0, false
	}
	base := strings.TrimSuffix(name, ext)
	num, ok := strings.CutPrefix(base, "output-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ChunkSummary renders a segment set as maximal runs of consecutive indices,
// each either a bare index or an inclusive "start-end" range. This is for
// progress display only; control decisions always use the raw set and max.
func ChunkSummary(segments map[int]struct{}) []string {
	if len(segments) == 0 {
		return []string{}
	}

	sorted := make([]int, 0, len(segments))
	for n := range segments {
		sorted = append(sorted, n)
	}
	sort.Ints(sorted)

	chunks := []string{}
	runStart, runEnd := sorted[0], sorted[0]
	flush := func() {
		if runStart == runEnd {
			chunks = append(chunks, strconv.Itoa(runStart))
		} else {
			chunks = append(chunks, strconv.Itoa(runStart)+"-"+strconv.Itoa(runEnd))
		}
	}
	for _, n := range sorted[1:] {
		if n == runEnd+1 {
			runEnd = n
			continue
		}
		flush()
		runStart, runEnd = n, n
	}
	flush()
	return chunks
}
