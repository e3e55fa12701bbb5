package library_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"shelfstream/services/library"
)

func writeManifest(t *testing.T, dir, name, content string) {
	t.Helper()
	bookDir := filepath.Join(dir, name)
	if err := os.MkdirAll(bookDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bookDir, "audiobook.json"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

const sampleManifest = `{
  "id": "ab_dune",
  "title": "Dune",
  "author": "Frank Herbert",
  "tracks": [
    {"file": "part1.mp3", "duration": 1800},
    {"file": "part2.mp3", "duration": 2400}
  ]
}`

func TestServiceLoadsManifests(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "dune", sampleManifest)

	svc, err := library.NewService(dir)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	list := svc.List()
	if len(list) != 1 {
		t.Fatalf("expected 1 audiobook, got %d", len(list))
	}
	if list[0].Title != "Dune" {
		t.Fatalf("expected title Dune, got %q", list[0].Title)
	}
	if list[0].TotalDuration != 4200 {
		t.Fatalf("expected total duration 4200, got %v", list[0].TotalDuration)
	}

	book, err := svc.Get("ab_dune")
	if err != nil {
		t.Fatalf("get returned error: %v", err)
	}
	if len(book.Tracks) != 2 {
		t.Fatalf("expected 2 tracks, got %d", len(book.Tracks))
	}
	if book.Tracks[1].StartOffset != 1800 {
		t.Fatalf("expected second track offset 1800, got %v", book.Tracks[1].StartOffset)
	}
	if book.AudioFileType() != "mp3" {
		t.Fatalf("expected audio file type mp3, got %q", book.AudioFileType())
	}
}

func TestServiceSkipsBrokenManifests(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "good", sampleManifest)
	writeManifest(t, dir, "broken", `{not json`)
	writeManifest(t, dir, "no-tracks", `{"title": "Empty", "tracks": []}`)

	// Directory without a manifest at all
	if err := os.MkdirAll(filepath.Join(dir, "plain"), 0o755); err != nil {
		t.Fatal(err)
	}

	svc, err := library.NewService(dir)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	if got := len(svc.List()); got != 1 {
		t.Fatalf("expected only the valid audiobook, got %d", got)
	}
}

func TestServiceFallbackID(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "hobbit", `{
  "title": "The Hobbit",
  "tracks": [{"file": "full.m4b", "duration": 600}]
}`)

	svc, err := library.NewService(dir)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	if _, err := svc.Get("ab_hobbit"); err != nil {
		t.Fatalf("expected directory-derived id ab_hobbit, got error: %v", err)
	}
}

func TestTrackPath(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "dune", sampleManifest)

	svc, err := library.NewService(dir)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	path, err := svc.TrackPath("ab_dune", 2)
	if err != nil {
		t.Fatalf("track path returned error: %v", err)
	}
	want := filepath.Join(dir, "dune", "part2.mp3")
	if path != want {
		t.Fatalf("expected %q, got %q", want, path)
	}

	if _, err := svc.TrackPath("ab_dune", 5); !errors.Is(err, library.ErrTrackNotFound) {
		t.Fatalf("expected ErrTrackNotFound, got %v", err)
	}
	if _, err := svc.TrackPath("ab_nope", 1); !errors.Is(err, library.ErrAudiobookNotFound) {
		t.Fatalf("expected ErrAudiobookNotFound, got %v", err)
	}
}

func TestReloadPicksUpNewBooks(t *testing.T) {
	dir := t.TempDir()

	svc, err := library.NewService(dir)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	if got := len(svc.List()); got != 0 {
		t.Fatalf("expected empty library, got %d", got)
	}

	writeManifest(t, dir, "dune", sampleManifest)
	if err := svc.Reload(); err != nil {
		t.Fatalf("reload returned error: %v", err)
	}
	if got := len(svc.List()); got != 1 {
		t.Fatalf("expected 1 audiobook after reload, got %d", got)
	}
}
