package db

import (
	"database/sql"
	"fmt"
)

// migrations are applied in order; PRAGMA user_version records how many
// have run.
var migrations = []string{
	`
	CREATE TABLE sessions (
		id TEXT PRIMARY KEY,
		summary TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'active',
		startedAt REAL NOT NULL,
		endedAt REAL
	);

	CREATE TABLE turns (
		id TEXT PRIMARY KEY,
		sessionId TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		sequenceNumber INTEGER NOT NULL,
		origin TEXT NOT NULL,
		text TEXT NOT NULL,
		audioUrl TEXT,
		isError INTEGER NOT NULL DEFAULT 0,
		createdAt REAL NOT NULL,
		UNIQUE(sessionId, sequenceNumber)
	);

	CREATE TABLE video_jobs (
		key TEXT PRIMARY KEY,
		videoId TEXT,
		state TEXT NOT NULL,
		ownerSummary TEXT NOT NULL,
		resultUrl TEXT,
		errorMessage TEXT,
		timedOut INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		startedAt REAL NOT NULL,
		updatedAt REAL NOT NULL
	);

	CREATE INDEX idx_video_jobs_updated ON video_jobs(updatedAt);
	`,
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", version, len(migrations))
	}
	for i := version; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
