// Package chat holds the conversational session: an append-only list of
// turns, a single in-flight request to the chat service at a time, and
// playback of synthesized replies.
package chat

import "time"

// Origin identifies who produced a turn.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginAssistant Origin = "assistant"
)

// Turn is one message in the conversation. Turns are never mutated after
// they are appended.
type Turn struct {
	ID        string
	Text      string
	Origin    Origin
	CreatedAt time.Time
	AudioURL  string
	// IsError marks a synthetic assistant turn reporting a failed request.
	IsError bool
}

// FromUser reports whether the turn was written by the user.
func (t Turn) FromUser() bool { return t.Origin == OriginUser }

// HasAudio reports whether the turn carries synthesized speech.
func (t Turn) HasAudio() bool { return t.AudioURL != "" }

// Snapshot is a point-in-time copy of the session state for observers.
type Snapshot struct {
	SessionID string
	Turns     []Turn
	Pending   bool
}

// User-facing texts for failed requests.
const (
	ServiceErrorText   = "Sorry, I encountered an error processing your request."
	NetworkErrorText   = "Network error occurred. Please try again."
	TimeoutErrorText   = "The request timed out. Please try again."
	CancelledErrorText = "Request cancelled."
)
