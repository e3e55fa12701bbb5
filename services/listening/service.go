package listening

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"shelfstream/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

var ErrStorageDirRequired = errors.New("storage directory not provided")

// Service persists listening-session records in a local sqlite database.
// Records are keyed by session id; streams write the same record repeatedly
// as listened time accumulates, so Save is an upsert.
type Service struct {
	db *sql.DB
}

// NewService opens (creating if needed) the database under storageDir and
// runs pending migrations.
func NewService(storageDir string) (*Service, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}

	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create listening dir: %w", err)
	}

	dsn := filepath.Join(storageDir, "listening.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open listening db: %w", err)
	}
	// sqlite serializes writers anyway; a single connection avoids busy errors.
	db.SetMaxOpenConns(1)

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate listening db: %w", err)
	}

	return &Service{db: db}, nil
}

// Save upserts one listening-session record.
func (s *Service) Save(ls *models.ListeningSession) error {
	_, err := s.db.Exec(`
		INSERT INTO listening_sessions
			(id, user_id, user_name, audiobook_id, audiobook_title, audiobook_author,
			 date, day_of_week, time_listening, started_at, last_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			time_listening = excluded.time_listening,
			last_update = excluded.last_update`,
		ls.ID, ls.UserID, ls.UserName, ls.AudiobookID, ls.AudiobookTitle, ls.AudiobookAuthor,
		ls.Date, ls.DayOfWeek, ls.TimeListening, ls.StartedAt.UnixMilli(), ls.LastUpdate.UnixMilli())
	if err != nil {
		return fmt.Errorf("save listening session: %w", err)
	}
	return nil
}

// ListByUser returns a user's records, most recent first.
func (s *Service) ListByUser(userID string) ([]models.ListeningSession, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, user_name, audiobook_id, audiobook_title, audiobook_author,
		       date, day_of_week, time_listening, started_at, last_update
		FROM listening_sessions
		WHERE user_id = ?
		ORDER BY last_update DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list listening sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// ListByDate returns every user's records for one local calendar day.
func (s *Service) ListByDate(date string) ([]models.ListeningSession, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, user_name, audiobook_id, audiobook_title, audiobook_author,
		       date, day_of_week, time_listening, started_at, last_update
		FROM listening_sessions
		WHERE date = ?
		ORDER BY last_update DESC`, date)
	if err != nil {
		return nil, fmt.Errorf("list listening sessions: %w", err)
	}
	defer rows.Close()

	return scanSessions(rows)
}

// TotalTimeListening sums all listened seconds for a user.
func (s *Service) TotalTimeListening(userID string) (float64, error) {
	var total sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT SUM(time_listening) FROM listening_sessions WHERE user_id = ?`, userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum listening time: %w", err)
	}
	return total.Float64, nil
}

func scanSessions(rows *sql.Rows) ([]models.ListeningSession, error) {
	var sessions []models.ListeningSession
	for rows.Next() {
		var ls models.ListeningSession
		var startedAt, lastUpdate int64
		if err := rows.Scan(&ls.ID, &ls.UserID, &ls.UserName, &ls.AudiobookID, &ls.AudiobookTitle,
			&ls.AudiobookAuthor, &ls.Date, &ls.DayOfWeek, &ls.TimeListening, &startedAt, &lastUpdate); err != nil {
			return nil, fmt.Errorf("scan listening session: %w", err)
		}
		ls.StartedAt = time.UnixMilli(startedAt)
		ls.LastUpdate = time.UnixMilli(lastUpdate)
		sessions = append(sessions, ls)
	}
	return sessions, rows.Err()
}

// Close closes the underlying database.
func (s *Service) Close() error {
	return s.db.Close()
}
