package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jwulff/medibot/internal/chat"
	"github.com/jwulff/medibot/internal/video"
)

// Store reads and writes the history database.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the database path inside dataDir.
func DefaultDBPath(dataDir string) string {
	return filepath.Join(dataDir, "medibot.sqlite")
}

// Open opens or creates the database at path and applies migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return newStore(db)
}

// OpenMemory opens a private in-memory database.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Each connection would otherwise get its own empty database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return newStore(db)
}

func newStore(db *sql.DB) (*Store, error) {
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartSession records a new active session for summary. Starting an
// existing session updates its summary and makes it active again.
func (s *Store) StartSession(id, summary string) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, summary, status, startedAt)
		VALUES (?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET summary = excluded.summary, status = 'active', endedAt = NULL
	`, id, summary, unixFromTime(time.Now()))
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	return nil
}

// EndSession marks a session ended.
func (s *Store) EndSession(id string) error {
	_, err := s.db.Exec(`
		UPDATE sessions SET status = 'ended', endedAt = ?
		WHERE id = ? AND status = 'active'
	`, unixFromTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// AppendTurn stores t as the next turn of sessionID, creating the session
// if needed.
func (s *Store) AppendTurn(sessionID string, t chat.Turn) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT OR IGNORE INTO sessions (id, status, startedAt) VALUES (?, 'active', ?)
	`, sessionID, unixFromTime(t.CreatedAt)); err != nil {
		return fmt.Errorf("append turn: ensure session: %w", err)
	}

	var audio sql.NullString
	if t.AudioURL != "" {
		audio = sql.NullString{String: t.AudioURL, Valid: true}
	}
	if _, err := tx.Exec(`
		INSERT INTO turns (id, sessionId, sequenceNumber, origin, text, audioUrl, isError, createdAt)
		VALUES (?, ?, (SELECT COALESCE(MAX(sequenceNumber), 0) + 1 FROM turns WHERE sessionId = ?), ?, ?, ?, ?, ?)
	`, t.ID, sessionID, sessionID, string(t.Origin), t.Text, audio, t.IsError, unixFromTime(t.CreatedAt)); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	return tx.Commit()
}

// TurnsForSession returns the turns of a session in append order.
func (s *Store) TurnsForSession(sessionID string) ([]chat.Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, origin, text, audioUrl, isError, createdAt
		FROM turns
		WHERE sessionId = ?
		ORDER BY sequenceNumber ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	var turns []chat.Turn
	for rows.Next() {
		var t chat.Turn
		var origin string
		var audio sql.NullString
		var createdAt float64
		if err := rows.Scan(&t.ID, &origin, &t.Text, &audio, &t.IsError, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		t.Origin = chat.Origin(origin)
		t.AudioURL = audio.String
		t.CreatedAt = timeFromUnix(createdAt)
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

const sessionColumns = `
	s.id, s.summary, s.status, s.startedAt, s.endedAt,
	(SELECT COUNT(*) FROM turns t WHERE t.sessionId = s.id)
`

// LatestSession returns the most recently started session, or nil.
func (s *Store) LatestSession() (*Session, error) {
	row := s.db.QueryRow(`SELECT` + sessionColumns + `FROM sessions s ORDER BY s.startedAt DESC LIMIT 1`)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// RecentSessions returns up to limit sessions, newest first.
func (s *Store) RecentSessions(limit int) ([]Session, error) {
	rows, err := s.db.Query(`SELECT`+sessionColumns+`FROM sessions s ORDER BY s.startedAt DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (Session, error) {
	var sess Session
	var startedAt float64
	var endedAt sql.NullFloat64
	if err := row.Scan(&sess.ID, &sess.Summary, &sess.Status, &startedAt, &endedAt, &sess.TurnCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, err
		}
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.StartedAt = timeFromUnix(startedAt)
	if endedAt.Valid {
		t := timeFromUnix(endedAt.Float64)
		sess.EndedAt = &t
	}
	return sess, nil
}

// SaveJob records the latest state of a video job.
func (s *Store) SaveJob(j video.Job) error {
	_, err := s.db.Exec(`
		INSERT INTO video_jobs (key, videoId, state, ownerSummary, resultUrl, errorMessage, timedOut, attempts, startedAt, updatedAt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			videoId = excluded.videoId,
			state = excluded.state,
			resultUrl = excluded.resultUrl,
			errorMessage = excluded.errorMessage,
			timedOut = excluded.timedOut,
			attempts = excluded.attempts,
			updatedAt = excluded.updatedAt
	`, j.Key, nullString(j.ID), string(j.State), j.OwnerSummary, nullString(j.ResultURL), nullString(j.ErrorMessage),
		j.TimedOut, j.Attempts, unixFromTime(j.StartedAt), unixFromTime(j.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save video job: %w", err)
	}
	return nil
}

// RecentJobs returns up to limit video jobs, most recently updated first.
func (s *Store) RecentJobs(limit int) ([]video.Job, error) {
	rows, err := s.db.Query(`
		SELECT key, videoId, state, ownerSummary, resultUrl, errorMessage, timedOut, attempts, startedAt, updatedAt
		FROM video_jobs
		ORDER BY updatedAt DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query video jobs: %w", err)
	}
	defer rows.Close()

	var jobs []video.Job
	for rows.Next() {
		var j video.Job
		var state string
		var id, result, msg sql.NullString
		var startedAt, updatedAt float64
		if err := rows.Scan(&j.Key, &id, &state, &j.OwnerSummary, &result, &msg,
			&j.TimedOut, &j.Attempts, &startedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan video job: %w", err)
		}
		j.ID, j.ResultURL, j.ErrorMessage = id.String, result.String, msg.String
		j.State = video.State(state)
		j.StartedAt = timeFromUnix(startedAt)
		j.UpdatedAt = timeFromUnix(updatedAt)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func unixFromTime(t time.Time) float64 {
	if t.IsZero() {
		t = time.Now()
	}
	return float64(t.UnixNano()) / 1e9
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
