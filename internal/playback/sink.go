// Package playback is the single shared audio sink. Starting playback
// interrupts whatever is playing.
package playback

import (
	"errors"
	"os/exec"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// DefaultPlayerCommand plays a URL with ffplay without opening a window.
var DefaultPlayerCommand = []string{"ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", "{url}"}

var (
	// ErrNoURL is returned by Play for an empty URL.
	ErrNoURL = errors.New("playback: empty url")
	// ErrNoPlayer is returned when no player command is configured.
	ErrNoPlayer = errors.New("playback: no player command configured")
)

// handle is one running player.
type handle interface {
	Kill() error
	Done() <-chan struct{}
}

type starter func(argv []string) (handle, error)

// Sink plays one URL at a time through an external player command. The
// argument "{url}" in the command is replaced by the URL; without it the
// URL is appended.
type Sink struct {
	argv   []string
	logger *zap.Logger
	start  starter

	mu      sync.Mutex
	current handle
	url     string
}

// NewSink returns a sink running argv for each URL.
func NewSink(argv []string, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{argv: argv, logger: logger, start: startProcess}
}

// Play stops any running playback and starts url. It returns once the
// player has been launched.
func (s *Sink) Play(url string) error {
	if strings.TrimSpace(url) == "" {
		return ErrNoURL
	}
	if len(s.argv) == 0 {
		return ErrNoPlayer
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()

	h, err := s.start(expand(s.argv, url))
	if err != nil {
		s.logger.Warn("start player failed", zap.String("player", s.argv[0]), zap.Error(err))
		return err
	}
	s.current, s.url = h, url
	s.logger.Debug("playback started", zap.String("url", url))

	go func() {
		<-h.Done()
		s.mu.Lock()
		if s.current == h {
			s.current, s.url = nil, ""
		}
		s.mu.Unlock()
	}()
	return nil
}

// Playing returns the URL being played, if any.
func (s *Sink) Playing() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url, s.current != nil
}

// Stop interrupts playback. It is safe to call when idle.
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Sink) stopLocked() {
	if s.current == nil {
		return
	}
	h := s.current
	s.current, s.url = nil, ""
	if err := h.Kill(); err != nil {
		s.logger.Debug("kill player", zap.Error(err))
	}
	<-h.Done()
}

func expand(argv []string, url string) []string {
	out := make([]string, 0, len(argv)+1)
	replaced := false
	for _, a := range argv {
		if strings.Contains(a, "{url}") {
			a = strings.ReplaceAll(a, "{url}", url)
			replaced = true
		}
		out = append(out, a)
	}
	if !replaced {
		out = append(out, url)
	}
	return out
}

type process struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func startProcess(argv []string) (handle, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &process{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *process) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return p.cmd.Process.Kill()
}

func (p *process) Done() <-chan struct{} { return p.done }
