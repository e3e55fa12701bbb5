package stream

import (
	"errors"
	"log"
	"strings"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/spf13/afero"

	"shelfstream/models"
)

var ErrStreamNotFound = errors.New("stream not found")

// Manager owns every live streaming session. A client holds at most one
// session at a time; opening a new one supersedes the old.
type Manager struct {
	root       string
	fs         afero.Fs
	transcoder Transcoder
	notifier   Notifier

	mu       sync.Mutex
	sessions map[string]*Session // by session id
	byClient map[string]*Session
}

// NewManager creates a manager whose sessions live under root. Leftover
// session directories from a previous run are removed immediately.
func NewManager(root string, fs afero.Fs, transcoder Transcoder, notifier Notifier) *Manager {
	m := &Manager{
		root:       root,
		fs:         fs,
		transcoder: transcoder,
		notifier:   notifier,
		sessions:   make(map[string]*Session),
		byClient:   make(map[string]*Session),
	}
	m.cleanupOrphanedDirectories()
	return m
}

// cleanupOrphanedDirectories removes session directories left behind by an
// unclean shutdown. Only str-prefixed directories are touched.
func (m *Manager) cleanupOrphanedDirectories() {
	entries, err := afero.ReadDir(m.fs, m.root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "str_") {
			continue
		}
		path := m.root + "/" + e.Name()
		if err := m.fs.RemoveAll(path); err != nil {
			log.Printf("[stream] failed to remove orphaned session dir %s: %v", path, err)
		} else {
			log.Printf("[stream] removed orphaned session dir %s", path)
		}
	}
}

// Open creates and starts a session for the client. Any existing session for
// the same client is closed first.
func (m *Manager) Open(clientID string, user models.User, book models.Audiobook) (*Session, error) {
	m.mu.Lock()
	prev := m.byClient[clientID]
	m.mu.Unlock()
	if prev != nil {
		log.Printf("[stream] client %s already has stream %s, closing it", clientID, prev.ID)
		prev.Close("")
	}

	s := NewSession(Config{
		ClientID:   clientID,
		User:       user,
		Audiobook:  book,
		Root:       m.root,
		Fs:         m.fs,
		Transcoder: m.transcoder,
		Notifier:   m.notifier,
		OnClosed:   m.remove,
	})

	if err := s.GeneratePlaylist(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.byClient[clientID] = s
	m.mu.Unlock()

	if err := s.Start(); err != nil {
		s.Close(err.Error())
		return nil, err
	}
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Close closes the session with the given id.
func (m *Manager) Close(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrStreamNotFound
	}
	s.Close("")
	return nil
}

// CloseForClient closes whatever session the client holds, if any.
func (m *Manager) CloseForClient(clientID string) {
	m.mu.Lock()
	s := m.byClient[clientID]
	m.mu.Unlock()
	if s != nil {
		s.Close("")
	}
}

// remove is the session's OnClosed hook.
func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	if m.byClient[s.ClientID] == s {
		delete(m.byClient, s.ClientID)
	}
	m.mu.Unlock()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every live session and waits for the teardowns to finish.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	if len(sessions) == 0 {
		return
	}
	log.Printf("[stream] shutting down %d active sessions", len(sessions))

	var wg conc.WaitGroup
	for _, s := range sessions {
		s := s
		wg.Go(func() { s.Close("") })
	}
	wg.Wait()
}
