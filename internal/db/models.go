// Package db persists analysis history (chat sessions, their turns and
// video jobs) in a local SQLite database.
package db

import "time"

// Session statuses.
const (
	StatusActive = "active"
	StatusEnded  = "ended"
)

// Session is one chat conversation about a patient summary.
type Session struct {
	ID        string
	Summary   string
	Status    string
	StartedAt time.Time
	EndedAt   *time.Time
	TurnCount int
}
