package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"shelfstream/models"
	"shelfstream/utils"
)

const manifestName = "audiobook.json"

var (
	ErrLibraryDirRequired = errors.New("library directory not provided")
	ErrAudiobookNotFound  = errors.New("audiobook not found")
	ErrTrackNotFound      = errors.New("track not found")
)

// Service catalogs the audiobooks found in the library directory. Each
// audiobook is a subdirectory carrying an audiobook.json manifest next to its
// audio files; the manifest lists track order, durations and metadata.
type Service struct {
	mu    sync.RWMutex
	dir   string
	books map[string]models.Audiobook
}

// manifest is the on-disk audiobook description. Track paths are relative to
// the audiobook's directory.
type manifest struct {
	ID       string  `json:"id,omitempty"`
	Title    string  `json:"title"`
	Author   string  `json:"author,omitempty"`
	Narrator string  `json:"narrator,omitempty"`
	Cover    string  `json:"cover,omitempty"`
	Tracks   []track `json:"tracks"`
}

type track struct {
	File     string  `json:"file"`
	Duration float64 `json:"duration"`
}

// NewService scans the library directory and builds the catalog. Directories
// without a manifest (or with a broken one) are skipped with a log line, not
// treated as fatal.
func NewService(libraryDir string) (*Service, error) {
	if strings.TrimSpace(libraryDir) == "" {
		return nil, ErrLibraryDirRequired
	}

	if err := os.MkdirAll(libraryDir, 0o755); err != nil {
		return nil, fmt.Errorf("create library dir: %w", err)
	}

	svc := &Service{
		dir:   libraryDir,
		books: make(map[string]models.Audiobook),
	}

	if err := svc.Reload(); err != nil {
		return nil, err
	}

	return svc, nil
}

// Reload rescans the library directory from scratch.
func (s *Service) Reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read library dir: %w", err)
	}

	books := make(map[string]models.Audiobook)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		bookDir := filepath.Join(s.dir, e.Name())
		book, err := loadAudiobook(bookDir)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Printf("[library] skipping %s: %v", bookDir, err)
			}
			continue
		}
		books[book.ID] = book
	}

	s.mu.Lock()
	s.books = books
	s.mu.Unlock()

	log.Printf("[library] loaded %d audiobooks from %s", len(books), s.dir)
	return nil
}

func loadAudiobook(bookDir string) (models.Audiobook, error) {
	data, err := os.ReadFile(filepath.Join(bookDir, manifestName))
	if err != nil {
		return models.Audiobook{}, err
	}

	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return models.Audiobook{}, fmt.Errorf("decode manifest: %w", err)
	}
	if strings.TrimSpace(m.Title) == "" {
		return models.Audiobook{}, errors.New("manifest has no title")
	}
	if len(m.Tracks) == 0 {
		return models.Audiobook{}, errors.New("manifest has no tracks")
	}

	id := strings.TrimSpace(m.ID)
	if id == "" {
		// Stable fallback so progress keys survive restarts.
		id = "ab_" + filepath.Base(bookDir)
	}

	book := models.Audiobook{
		ID:       id,
		Title:    m.Title,
		Author:   m.Author,
		Narrator: m.Narrator,
	}
	if m.Cover != "" {
		book.CoverPath = filepath.Join(bookDir, m.Cover)
	}

	var offset float64
	for i, t := range m.Tracks {
		if t.Duration <= 0 {
			return models.Audiobook{}, fmt.Errorf("track %q has no duration", t.File)
		}
		book.Tracks = append(book.Tracks, models.AudioTrack{
			Index:       i + 1,
			Path:        filepath.Join(bookDir, t.File),
			Ext:         filepath.Ext(t.File),
			Duration:    t.Duration,
			StartOffset: offset,
		})
		offset += t.Duration
	}
	book.TotalDuration = offset

	return book, nil
}

// List returns all audiobooks sorted by title.
func (s *Service) List() []models.AudiobookSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]models.AudiobookSummary, 0, len(s.books))
	for _, b := range s.books {
		summaries = append(summaries, b.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].Title == summaries[j].Title {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].Title < summaries[j].Title
	})
	return summaries
}

// Get returns the full audiobook record.
func (s *Service) Get(id string) (models.Audiobook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	book, ok := s.books[id]
	if !ok {
		return models.Audiobook{}, ErrAudiobookNotFound
	}
	return book, nil
}

// TrackPath resolves a track index (1-based, as listed in the manifest) to
// its file path for direct download.
func (s *Service) TrackPath(id string, index int) (string, error) {
	book, err := s.Get(id)
	if err != nil {
		return "", err
	}
	for _, t := range book.Tracks {
		if t.Index == index {
			return t.Path, nil
		}
	}
	return "", ErrTrackNotFound
}

// Duration returns the audiobook's total duration formatted for display.
func (s *Service) Duration(id string) (string, error) {
	book, err := s.Get(id)
	if err != nil {
		return "", err
	}
	return utils.SecondsToTimestamp(book.TotalDuration), nil
}
