package stream

import (
	"errors"
	"fmt"
	"log"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/spf13/afero"

	"shelfstream/internal/hls"
	"shelfstream/models"
	"shelfstream/utils"
)

const (
	segmentLength   = 6  // seconds per HLS segment
	maxSeekBackTime = 30 // seconds of pre-produced headroom before the nominal start

	// Client is told the stream is ready once this many segments exist.
	readySegmentThreshold = 6
	// A requested segment this far past the furthest produced one forces a restart.
	farSeekSegmentGap = 10
	// Rewind applied when restarting for a seek, in segments.
	resetRewindSegments = 2

	pollInterval = 2 * time.Second

	killWaitAttempts = 20
	killWaitDelay    = 500 * time.Millisecond

	// Stored progress with less than this much left starts the book over.
	minResumeRemaining = 15.0

	// Settle delays after a restart before polling resumes; AAC encode ramps
	// up much slower than a copy.
	settleDelayAAC  = 3000 * time.Millisecond
	settleDelayCopy = 500 * time.Millisecond
)

var (
	ErrStreamClosed       = errors.New("stream is closed")
	ErrInvalidSyncContext = errors.New("sync stream has no client user context")

	errTranscodeStillRunning = errors.New("transcode still running")
)

// headerErrorSignature is the known recoverable failure: ffmpeg cannot write
// the HLS header when copying certain AAC streams. Retried once with a forced
// AAC re-encode.
const headerErrorSignature = "ffmpeg exited with code 1: Could not write header for output file #0 (incorrect codec parameters ?)"

// aacEncodableFileTypes are source containers where a forced AAC re-encode is
// known to succeed after the header failure.
var aacEncodableFileTypes = map[string]bool{"mp4": true, "m4a": true, "m4b": true}

// Options carries the per-attempt transcode decisions. Each start call
// receives its own copy so the one-shot AAC fallback stays auditable.
type Options struct {
	ForceAAC bool
}

// Config assembles everything a new session needs.
type Config struct {
	ClientID   string
	User       models.User
	Audiobook  models.Audiobook
	Root       string // parent directory for all session directories
	Fs         afero.Fs
	Transcoder Transcoder
	Notifier   Notifier
	OnClosed   func(*Session)
}

// Session drives one adaptive HLS transcode for one client/audiobook pairing:
// it owns the transcoder process, polls segment production, restarts on
// out-of-range seeks, applies the one-shot AAC fallback and keeps the
// listening-time record current. All mutating operations serialize on mu;
// they can arrive concurrently from HTTP, the poll ticker and process
// lifecycle events.
type Session struct {
	ID       string
	ClientID string

	user      models.User
	audiobook models.Audiobook

	dir               string
	concatPath        string
	playlistPath      string
	finalPlaylistPath string

	fs         afero.Fs
	transcoder Transcoder
	notifier   Notifier
	onClosed   func(*Session)

	mu                     sync.Mutex
	startTime              float64
	clientCurrentTime      float64
	forceAAC               bool // sticky once the codec fallback has fired
	segmentsCreated        map[int]struct{}
	furthestSegmentCreated int
	isResetting            bool
	isClientInitialized    bool
	isTranscodeComplete    bool
	closed                 bool
	loopStarted            bool
	proc                   Process
	pollStop               chan struct{}
	listeningSession       *models.ListeningSession
	progressLastUpdate     int64
}

// NewSession creates a session rooted under cfg.Root. If the user has prior
// progress on this audiobook with more than a few seconds remaining, playback
// resumes from there; otherwise it starts at zero.
func NewSession(cfg Config) *Session {
	id := utils.NewID("str")
	dir := filepath.Join(cfg.Root, id)

	notifier := cfg.Notifier
	if notifier == nil {
		notifier = LogNotifier{}
	}

	s := &Session{
		ID:                id,
		ClientID:          cfg.ClientID,
		user:              cfg.User,
		audiobook:         cfg.Audiobook,
		dir:               dir,
		concatPath:        filepath.Join(dir, "files.txt"),
		playlistPath:      filepath.Join(dir, "output.m3u8"),
		finalPlaylistPath: filepath.Join(dir, "final-output.m3u8"),
		fs:                cfg.Fs,
		transcoder:        cfg.Transcoder,
		notifier:          notifier,
		onClosed:          cfg.OnClosed,
		segmentsCreated:   make(map[int]struct{}),
		listeningSession:  models.NewListeningSession(cfg.User, cfg.Audiobook),
	}

	if progress, ok := cfg.User.ProgressFor(cfg.Audiobook.ID); ok {
		remaining := cfg.Audiobook.TotalDuration - progress.CurrentTime
		log.Printf("[stream] %s: user has progress %.3f, time remaining %.1fs", s.ID, progress.Progress, remaining)
		if remaining > minResumeRemaining {
			s.startTime = progress.CurrentTime
			s.clientCurrentTime = progress.CurrentTime
		}
		s.progressLastUpdate = progress.LastUpdate
	}

	return s
}

// Dir returns the session's working directory.
func (s *Session) Dir() string { return s.dir }

// Fs returns the filesystem the session writes under. Handlers use it to
// serve playlist and segment files.
func (s *Session) Fs() afero.Fs { return s.fs }

// PlaylistPath returns the server-local path of the client-facing playlist.
func (s *Session) PlaylistPath() string { return s.playlistPath }

// ClientPlaylistURI returns the URI the client loads the playlist from.
func (s *Session) ClientPlaylistURI() string {
	return "/hls/" + s.ID + "/output.m3u8"
}

// UserID returns the owning user's id.
func (s *Session) UserID() string { return s.user.ID }

// AudiobookID returns the id of the audiobook being streamed.
func (s *Session) AudiobookID() string { return s.audiobook.ID }

func (s *Session) segmentType() string {
	if s.audiobook.HasLosslessTracks() {
		return hls.SegmentTypeFMP4
	}
	return hls.SegmentTypeMpegTS
}

func (s *Session) isAACEncodable() bool {
	return aacEncodableFileTypes[s.audiobook.AudioFileType()]
}

// audioCodec picks between pass-through and an AAC re-encode: fMP4 output and
// Opus sources always re-encode, otherwise copy unless the fallback forced it.
func (s *Session) audioCodec(opts Options) string {
	if s.segmentType() == hls.SegmentTypeFMP4 || s.audiobook.AudioFileType() == "opus" || opts.ForceAAC {
		return "aac"
	}
	return "copy"
}

// segmentStartNumberFor computes the first segment index the transcoder will
// emit when starting from startTime, accounting for seek-back headroom.
func segmentStartNumberFor(startTime float64) int {
	if startTime <= 0 {
		return 0
	}
	return int(math.Max(startTime-maxSeekBackTime, 0) / segmentLength)
}

// NumSegments returns the total segment count for the full source duration
// (ceiling division: any remainder adds one final short segment).
func (s *Session) NumSegments() int {
	numSegs := int(s.audiobook.TotalDuration) / segmentLength
	if s.audiobook.TotalDuration-float64(numSegs*segmentLength) > 0 {
		numSegs++
	}
	return numSegs
}

// Descriptor snapshots the session for the client.
func (s *Session) Descriptor() Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptorLocked()
}

func (s *Session) descriptorLocked() Descriptor {
	return Descriptor{
		ID:                  s.ID,
		ClientID:            s.ClientID,
		UserID:              s.user.ID,
		Audiobook:           s.audiobook.Summary(),
		SegmentLength:       segmentLength,
		PlaylistPath:        s.playlistPath,
		ClientPlaylistURI:   s.ClientPlaylistURI(),
		ClientCurrentTime:   s.clientCurrentTime,
		StartTime:           s.startTime,
		SegmentStartNumber:  segmentStartNumberFor(s.startTime),
		IsTranscodeComplete: s.isTranscodeComplete,
		LastUpdate:          s.progressLastUpdate,
	}
}

// GeneratePlaylist creates the session directory and writes the client-facing
// VOD playlist covering the whole book.
func (s *Session) GeneratePlaylist() error {
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	return hls.GeneratePlaylist(s.fs, s.playlistPath, "output",
		s.audiobook.TotalDuration, segmentLength, s.segmentType(), "")
}

// Start launches the first transcoder run.
func (s *Session) Start() error {
	s.mu.Lock()
	opts := Options{ForceAAC: s.forceAAC}
	s.mu.Unlock()
	return s.start(opts)
}

// start writes the concat manifest for the adjusted offset and launches the
// transcoder. Polling begins when the adapter reports the process started.
func (s *Session) start(opts Options) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	startTime := s.startTime
	s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	adjusted := math.Max(startTime-maxSeekBackTime, 0)
	trackStart, err := hls.WriteConcatFile(s.fs, s.concatPath, s.audiobook.Tracks, adjusted)
	if err != nil {
		return err
	}

	codec := s.audioCodec(opts)
	segType := s.segmentType()
	spec := CommandSpec{
		ConcatFilePath:     s.concatPath,
		AdjustedStartTime:  adjusted,
		TrackStartOffset:   trackStart,
		AudioCodec:         codec,
		SegmentType:        segType,
		SegmentStartNumber: segmentStartNumberFor(startTime),
		SegmentFilename:    filepath.Join(s.dir, "output-%d."+hls.SegmentExt(segType)),
		OutputPath:         s.finalPlaylistPath,
	}

	log.Printf("[stream] %s: starting at %s (segment #%d, codec %s, %d segments total)",
		s.ID, utils.SecondsToTimestamp(adjusted), spec.SegmentStartNumber, codec, s.NumSegments())

	proc, err := s.transcoder.Start(spec)
	if err != nil {
		return fmt.Errorf("start transcoder: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		proc.Kill()
		return ErrStreamClosed
	}
	s.proc = proc
	s.mu.Unlock()

	go s.consumeEvents(proc, codec)
	return nil
}

// consumeEvents dispatches the adapter's lifecycle events until the process
// run ends. The channel closes after the terminal Failed/Finished event.
func (s *Session) consumeEvents(proc Process, audioCodec string) {
	for ev := range proc.Events() {
		switch ev.Type {
		case EventStarted:
			s.handleStarted(ev)
		case EventOutput:
			log.Printf("[stream] %s ffmpeg: %s", s.ID, ev.Line)
		case EventFailed:
			s.handleFailed(ev, audioCodec)
		case EventFinished:
			s.handleFinished()
		}
	}
}

func (s *Session) handleStarted(ev Event) {
	log.Printf("[stream] %s: transcode started: %s", s.ID, ev.Command)

	s.mu.Lock()
	resetting := s.isResetting
	forced := s.forceAAC
	s.mu.Unlock()

	if !resetting {
		s.startLoop()
		return
	}

	// Give the restarted process a moment to flush its first files before the
	// coverage tracker looks; the AAC encode ramps up far slower than a copy.
	delay := settleDelayCopy
	if forced {
		delay = settleDelayAAC
	}
	time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.isResetting = false
		s.mu.Unlock()
		log.Printf("[stream] %s: clearing isResetting", s.ID)
		s.startLoop()
	})
}

// handleFailed distinguishes the session's own kill from genuine failures and
// applies the one-shot AAC fallback for the known header/codec failure.
func (s *Session) handleFailed(ev Event, audioCodec string) {
	if ev.Killed {
		// Intentional termination is not an error; just drop the handle.
		log.Printf("[stream] %s: transcode killed", s.ID)
		s.mu.Lock()
		s.proc = nil
		resetting := s.isResetting
		s.mu.Unlock()
		// During a reset the loop teardown belongs to Reset; a late kill
		// confirmation must not cancel the restarted run's polling.
		if !resetting {
			s.stopLoop()
		}
		return
	}

	log.Printf("[stream] %s: transcode error %q", s.ID, ev.Message)

	s.mu.Lock()
	s.proc = nil
	canRecover := audioCodec == "copy" && s.isAACEncodable() &&
		strings.HasPrefix(ev.Message, headerErrorSignature)
	var startTime float64
	if canRecover {
		s.forceAAC = true
		startTime = s.startTime
	}
	s.mu.Unlock()

	if canRecover {
		log.Printf("[stream] %s: re-attempting stream with AAC encode", s.ID)
		s.Reset(startTime)
		return
	}
	s.Close(ev.Message)
}

func (s *Session) handleFinished() {
	log.Printf("[stream] %s: transcoding ended", s.ID)

	s.mu.Lock()
	s.isTranscodeComplete = true
	s.proc = nil
	notifyOpen := !s.isClientInitialized
	if notifyOpen {
		// Very short sources can finish before the readiness threshold is
		// ever crossed; the client must not be left waiting.
		s.isClientInitialized = true
	}
	d := s.descriptorLocked()
	s.mu.Unlock()

	if notifyOpen {
		log.Printf("[stream] %s: notifying client that stream is ready", s.ID)
		s.notifier.StreamOpen(s.ClientID, d)
	}
	// The poll loop keeps running: its next tick observes completion, emits
	// stream_ready and stops itself.
}

// startLoop begins (or restarts) the 2-second polling tick. The very first
// loop start pushes an immediate zero-progress notification.
func (s *Session) startLoop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.pollStop != nil {
		close(s.pollStop)
	}
	stop := make(chan struct{})
	s.pollStop = stop
	first := !s.loopStarted
	s.loopStarted = true
	s.mu.Unlock()

	if first {
		s.notifier.StreamProgress(s.ClientID, Progress{
			Stream:      s.ID,
			Percent:     "0%",
			Chunks:      []string{},
			NumSegments: 0,
		})
	}

	go s.pollLoop(stop)
}

// stopLoop cancels the polling tick. A tick already in flight finishes but
// cannot schedule another.
func (s *Session) stopLoop() {
	s.mu.Lock()
	if s.pollStop != nil {
		close(s.pollStop)
		s.pollStop = nil
	}
	s.mu.Unlock()
}

func (s *Session) pollLoop(stop chan struct{}) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			complete := s.isTranscodeComplete
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			if complete {
				log.Printf("[stream] %s: sending stream_ready", s.ID)
				s.notifier.StreamReady(s.ClientID, s.ID)
				return
			}
			s.checkSegments()
		}
	}
}

// checkSegments is one poll tick: scan the session directory, fold the result
// into the session's coverage state and report progress.
func (s *Session) checkSegments() {
	cov := ScanSegments(s.fs, s.dir)

	s.mu.Lock()
	for n := range cov.Segments {
		s.segmentsCreated[n] = struct{}{}
	}
	if len(s.segmentsCreated) == 0 {
		s.mu.Unlock()
		log.Printf("[stream] %s: no segments yet", s.ID)
		return
	}
	if cov.Furthest > s.furthestSegmentCreated {
		s.furthestSegmentCreated = cov.Furthest
	}

	created := len(s.segmentsCreated)
	chunks := ChunkSummary(s.segmentsCreated)
	furthest := s.furthestSegmentCreated

	notifyOpen := false
	if created > readySegmentThreshold && !s.isClientInitialized {
		s.isClientInitialized = true
		notifyOpen = true
	}
	d := s.descriptorLocked()
	s.mu.Unlock()

	numSegments := s.NumSegments()
	percent := fmt.Sprintf("%.2f%%", float64(created)*100/float64(numSegments))
	log.Printf("[stream] %s: %d of %d segments (%s), furthest #%d", s.ID, created, numSegments, percent, furthest)

	if notifyOpen {
		log.Printf("[stream] %s: notifying client that stream is ready", s.ID)
		s.notifier.StreamOpen(s.ClientID, d)
	}
	s.notifier.StreamProgress(s.ClientID, Progress{
		Stream:      s.ID,
		Percent:     percent,
		Chunks:      chunks,
		NumSegments: numSegments,
	})
}

// CheckSegmentNumberRequest evaluates a client's segment request against what
// the current run can serve. It returns (newStartTime, true) when the request
// forced a restart and the caller should redirect the client, or (0, false)
// when the segment is inside the producing range.
func (s *Session) CheckSegmentNumberRequest(segNum int) (float64, bool) {
	segStartTime := float64(segNum * segmentLength)

	s.mu.Lock()
	startTime := s.startTime
	complete := s.isTranscodeComplete
	furthest := s.furthestSegmentCreated
	s.mu.Unlock()

	if startTime > segStartTime {
		log.Printf("[stream] %s: segment #%d @%s is before start time %s - resetting transcode",
			s.ID, segNum, utils.SecondsToTimestamp(segStartTime), utils.SecondsToTimestamp(startTime))
		s.Reset(segStartTime - resetRewindSegments*segmentLength)
		return segStartTime, true
	}

	if complete {
		return 0, false
	}

	if gap := segNum - furthest; gap > farSeekSegmentGap {
		log.Printf("[stream] %s: segment #%d is %d segments past furthest (#%d) - resetting transcode",
			s.ID, segNum, gap, furthest)
		s.Reset(segStartTime - resetRewindSegments*segmentLength)
		return segStartTime, true
	}

	return 0, false
}

// Reset kills the current run (if any) and restarts from time. Re-entrant
// calls while a reset is in flight are no-ops.
func (s *Session) Reset(target float64) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.isResetting {
		s.mu.Unlock()
		log.Printf("[stream] %s: already resetting", s.ID)
		return
	}
	if target < 0 {
		target = 0
	}
	s.isResetting = true
	proc := s.proc
	s.mu.Unlock()

	if proc != nil {
		s.stopLoop()
		proc.Kill()
		s.waitTranscodeExit()
	}

	s.mu.Lock()
	s.isTranscodeComplete = false
	s.startTime = target
	s.clientCurrentTime = target
	s.furthestSegmentCreated = segmentStartNumberFor(target)
	opts := Options{ForceAAC: s.forceAAC}
	s.mu.Unlock()

	log.Printf("[stream] %s: reset, new start time %s", s.ID, utils.SecondsToTimestamp(target))
	if err := s.start(opts); err != nil {
		log.Printf("[stream] %s: restart failed: %v", s.ID, err)
		s.mu.Lock()
		s.isResetting = false
		s.mu.Unlock()
		s.Close(err.Error())
	}
}

// waitTranscodeExit polls for the killed process to disappear, bounded at
// killWaitAttempts x killWaitDelay. On timeout the stale handle is abandoned
// and the reset proceeds anyway.
func (s *Session) waitTranscodeExit() {
	err := retry.Do(
		func() error {
			s.mu.Lock()
			running := s.proc != nil
			s.mu.Unlock()
			if running {
				return errTranscodeStillRunning
			}
			return nil
		},
		retry.Attempts(killWaitAttempts),
		retry.Delay(killWaitDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Printf("[stream] %s: transcode never exited after kill, proceeding anyway", s.ID)
		s.mu.Lock()
		s.proc = nil
		s.mu.Unlock()
	}
}

// SyncStream folds a client position update and/or listened-time delta into
// the session. It returns the listening record only when it was mutated, so
// the caller knows to persist it.
func (s *Session) SyncStream(currentTime, timeListened *float64) (*models.ListeningSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStreamClosed
	}

	if currentTime != nil && !math.IsNaN(*currentTime) {
		log.Printf("[stream] %s: updated client current time %s", s.ID, utils.SecondsToTimestamp(*currentTime))
		s.clientCurrentTime = *currentTime
	}

	if timeListened == nil || *timeListened <= 0 || math.IsNaN(*timeListened) {
		return nil, nil
	}

	if s.listeningSession.CheckDateRollover() {
		if s.user.ID == "" || s.ClientID == "" {
			return nil, ErrInvalidSyncContext
		}
		s.listeningSession = models.NewListeningSession(s.user, s.audiobook)
		log.Printf("[stream] %s: listening session rolled to next day", s.ID)
	}

	s.listeningSession.AddListeningTime(*timeListened)
	log.Printf("[stream] %s: added %.1fs listened, total %.1fs", s.ID, *timeListened, s.listeningSession.TimeListening)
	return s.listeningSession, nil
}

// ClientCurrentTime returns the last-known client playback position.
func (s *Session) ClientCurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientCurrentTime
}

// TranscodeComplete reports whether the current run produced every segment.
func (s *Session) TranscodeComplete() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isTranscodeComplete
}

// Close tears the session down: stops polling, kills any live process,
// removes the working directory and notifies the client. Closing twice is a
// no-op.
func (s *Session) Close(errorMessage string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	proc := s.proc
	s.proc = nil
	stop := s.pollStop
	s.pollStop = nil
	s.mu.Unlock()

	log.Printf("[stream] closing stream %s", s.ID)

	if stop != nil {
		close(stop)
	}
	if proc != nil {
		proc.Kill()
	}

	if err := s.fs.RemoveAll(s.dir); err != nil {
		log.Printf("[stream] %s: failed to delete session data %q: %v", s.ID, s.dir, err)
	} else {
		log.Printf("[stream] %s: deleted session data %s", s.ID, s.dir)
	}

	if errorMessage != "" {
		s.notifier.StreamError(s.ClientID, s.ID, strings.TrimSpace(errorMessage))
	} else {
		s.notifier.StreamClosed(s.ClientID, s.ID)
	}

	if s.onClosed != nil {
		s.onClosed(s)
	}
}
