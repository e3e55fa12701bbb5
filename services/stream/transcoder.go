package stream

import (
	"bufio"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync/atomic"
)

// EventType enumerates the transcoder lifecycle notifications.
type EventType int

const (
	EventStarted EventType = iota
	EventOutput
	EventFailed
	EventFinished
)

// Event is one lifecycle notification from a transcoder process. The channel
// carrying events is closed after Failed or Finished; exactly one of those two
// terminates every run.
type Event struct {
	Type    EventType
	Command string // resolved invocation (Started)
	Line    string // one diagnostic output line (Output)
	Message string // failure message (Failed)
	Killed  bool   // the failure was caused by an intentional Kill (Failed)
}

// Transcoder launches transcode runs. FFmpeg is the real implementation;
// tests substitute fakes.
type Transcoder interface {
	Start(spec CommandSpec) (Process, error)
}

// Process is a handle on one live transcoder run.
type Process interface {
	Events() <-chan Event
	Kill()
}

// FFmpeg invokes the ffmpeg binary at Path.
type FFmpeg struct {
	Path string
}

func (f *FFmpeg) Start(spec CommandSpec) (Process, error) {
	args := spec.Args()
	cmd := exec.Command(f.Path, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	p := &ffmpegProcess{
		cmd:    cmd,
		events: make(chan Event, 64),
	}
	p.events <- Event{Type: EventStarted, Command: f.Path + " " + strings.Join(args, " ")}
	go p.pump(stderr)
	return p, nil
}

type ffmpegProcess struct {
	cmd    *exec.Cmd
	events chan Event
	killed atomic.Bool
}

func (p *ffmpegProcess) Events() <-chan Event { return p.events }

// Kill terminates the process immediately. There is no graceful handshake;
// the resulting exit surfaces as a Failed event with Killed set.
func (p *ffmpegProcess) Kill() {
	p.killed.Store(true)
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
}

// pump forwards stderr lines as Output events, then waits for exit and emits
// the terminal Failed/Finished event before closing the channel.
func (p *ffmpegProcess) pump(stderr io.Reader) {
	var lastLine string
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) != "" {
			lastLine = line
		}
		p.events <- Event{Type: EventOutput, Line: line}
	}

	err := p.cmd.Wait()
	if err != nil {
		msg := err.Error()
		if exitErr, ok := err.(*exec.ExitError); ok {
			msg = fmt.Sprintf("ffmpeg exited with code %d: %s", exitErr.ExitCode(), lastLine)
		}
		p.events <- Event{Type: EventFailed, Message: msg, Killed: p.killed.Load()}
	} else {
		p.events <- Event{Type: EventFinished}
	}
	close(p.events)
}
