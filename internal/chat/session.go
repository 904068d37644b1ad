package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jwulff/medibot/internal/backend"
)

var (
	// ErrEmptyMessage is returned when the submitted text is blank.
	ErrEmptyMessage = errors.New("chat: empty message")
	// ErrBusy is returned when a request is already in flight.
	ErrBusy = errors.New("chat: request already in flight")
	// ErrNoAudio is returned by Replay for turns without audio.
	ErrNoAudio = errors.New("chat: turn has no audio")
)

// Client sends a chat message to the remote service.
type Client interface {
	Chat(ctx context.Context, message, summary string) (backend.ChatReply, error)
}

// Player plays an audio URL on the shared sink. It must not block until
// playback ends.
type Player interface {
	Play(url string) error
}

// Store persists turns as they are appended.
type Store interface {
	AppendTurn(sessionID string, t Turn) error
}

// Session owns the ordered turn history of one conversation.
type Session struct {
	id       string
	client   Client
	player   Player
	store    Store
	logger   *zap.Logger
	inflight *semaphore.Weighted
	now      func() time.Time

	mu        sync.Mutex
	turns     []Turn
	pending   bool
	voice     bool
	observers []func(Snapshot)
}

// Option configures a Session.
type Option func(*Session)

// WithPlayer sets the sink used for reply audio.
func WithPlayer(p Player) Option { return func(s *Session) { s.player = p } }

// WithStore persists every appended turn.
func WithStore(st Store) Option { return func(s *Session) { s.store = st } }

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithVoice enables or disables automatic playback of reply audio.
func WithVoice(enabled bool) Option { return func(s *Session) { s.voice = enabled } }

// WithObserver registers a callback invoked after every state change.
func WithObserver(fn func(Snapshot)) Option {
	return func(s *Session) { s.observers = append(s.observers, fn) }
}

// WithID resumes a session under an existing identifier.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithHistory seeds the session with previously persisted turns.
func WithHistory(turns []Turn) Option {
	return func(s *Session) { s.turns = append([]Turn(nil), turns...) }
}

// New creates a session, empty unless WithHistory is given.
func New(client Client, opts ...Option) *Session {
	s := &Session{
		id:       newID(),
		client:   client,
		logger:   zap.NewNop(),
		inflight: semaphore.NewWeighted(1),
		now:      time.Now,
		voice:    true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// OnChange registers an observer after construction.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// SetVoiceEnabled toggles automatic playback of reply audio.
func (s *Session) SetVoiceEnabled(enabled bool) {
	s.mu.Lock()
	s.voice = enabled
	s.mu.Unlock()
}

// Turns returns a copy of the history.
func (s *Session) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Turn(nil), s.turns...)
}

// Pending reports whether a request is in flight.
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Submit sends text to the chat service with summary as context and blocks
// until the reply (or an error turn) has been appended. The user turn is
// appended before the request is issued. Remote failures never surface as
// errors: they become an assistant turn with IsError set. The only errors
// returned are ErrEmptyMessage and ErrBusy, in which case nothing changes.
func (s *Session) Submit(ctx context.Context, text, summary string) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		return Turn{}, ErrEmptyMessage
	}
	if !s.inflight.TryAcquire(1) {
		return Turn{}, ErrBusy
	}
	defer s.inflight.Release(1)

	s.append(Turn{
		ID:        newID(),
		Text:      text,
		Origin:    OriginUser,
		CreatedAt: s.now(),
	}, true)

	reply, err := s.client.Chat(ctx, text, summary)

	var t Turn
	if err != nil {
		s.logger.Warn("chat request failed", zap.String("session", s.id), zap.Error(err))
		t = Turn{
			ID:        newID(),
			Text:      errorText(err),
			Origin:    OriginAssistant,
			CreatedAt: s.now(),
			IsError:   true,
		}
	} else {
		t = Turn{
			ID:        newID(),
			Text:      reply.Text,
			Origin:    OriginAssistant,
			CreatedAt: s.now(),
			AudioURL:  reply.AudioURL,
		}
	}
	s.append(t, false)

	if t.HasAudio() && s.VoiceEnabled() {
		s.play(t.AudioURL)
	}
	return t, nil
}

// Replay plays the audio of an earlier assistant turn.
func (s *Session) Replay(turnID string) error {
	s.mu.Lock()
	var found *Turn
	for i := range s.turns {
		if s.turns[i].ID == turnID {
			found = &s.turns[i]
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return fmt.Errorf("chat: unknown turn %q", turnID)
	}
	if !found.HasAudio() {
		return ErrNoAudio
	}
	s.play(found.AudioURL)
	return nil
}

// LastAudioTurn returns the most recent turn carrying audio.
func (s *Session) LastAudioTurn() (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].HasAudio() {
			return s.turns[i], true
		}
	}
	return Turn{}, false
}

func (s *Session) append(t Turn, pending bool) {
	s.mu.Lock()
	s.turns = append(s.turns, t)
	s.pending = pending
	snap := s.snapshotLocked()
	observers := make([]func(Snapshot), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.AppendTurn(s.id, t); err != nil {
			s.logger.Warn("persist turn failed", zap.String("turn", t.ID), zap.Error(err))
		}
	}
	for _, fn := range observers {
		fn(snap)
	}
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID: s.id,
		Turns:     append([]Turn(nil), s.turns...),
		Pending:   s.pending,
	}
}

// VoiceEnabled reports whether reply audio is played automatically.
func (s *Session) VoiceEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// play is best-effort: failures are logged and never reach the history.
func (s *Session) play(url string) {
	if s.player == nil {
		return
	}
	if err := s.player.Play(url); err != nil {
		s.logger.Warn("audio playback failed", zap.String("url", url), zap.Error(err))
	}
}

func errorText(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return CancelledErrorText
	case backend.IsTimeout(err):
		return TimeoutErrorText
	case backend.IsNetwork(err):
		return NetworkErrorText
	default:
		return ServiceErrorText
	}
}
