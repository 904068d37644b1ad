package playback

import (
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHandle struct {
	argv   []string
	once   sync.Once
	done   chan struct{}
	killed bool
}

func (h *fakeHandle) Kill() error {
	h.killed = true
	h.finish()
	return nil
}

func (h *fakeHandle) finish()               { h.once.Do(func() { close(h.done) }) }
func (h *fakeHandle) Done() <-chan struct{} { return h.done }

type fakeStarter struct {
	mu      sync.Mutex
	handles []*fakeHandle
	err     error
}

func (f *fakeStarter) start(argv []string) (handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	h := &fakeHandle{argv: argv, done: make(chan struct{})}
	f.mu.Lock()
	f.handles = append(f.handles, h)
	f.mu.Unlock()
	return h, nil
}

func newTestSink(argv []string) (*Sink, *fakeStarter) {
	f := &fakeStarter{}
	s := NewSink(argv, nil)
	s.start = f.start
	return s, f
}

func TestPlayExpandsURL(t *testing.T) {
	s, f := newTestSink([]string{"mpv", "--no-video", "{url}"})
	require.NoError(t, s.Play("https://x/a.mp3"))

	require.Len(t, f.handles, 1)
	assert.Equal(t, []string{"mpv", "--no-video", "https://x/a.mp3"}, f.handles[0].argv)
	url, ok := s.Playing()
	assert.True(t, ok)
	assert.Equal(t, "https://x/a.mp3", url)
}

func TestPlayAppendsURLWithoutPlaceholder(t *testing.T) {
	s, f := newTestSink([]string{"afplay"})
	require.NoError(t, s.Play("https://x/a.mp3"))
	assert.Equal(t, []string{"afplay", "https://x/a.mp3"}, f.handles[0].argv)
}

func TestLastPlayWins(t *testing.T) {
	s, f := newTestSink([]string{"player"})
	require.NoError(t, s.Play("https://x/1.mp3"))
	require.NoError(t, s.Play("https://x/2.mp3"))

	require.Len(t, f.handles, 2)
	assert.True(t, f.handles[0].killed)
	assert.False(t, f.handles[1].killed)
	url, ok := s.Playing()
	assert.True(t, ok)
	assert.Equal(t, "https://x/2.mp3", url)
}

func TestFinishedPlaybackClears(t *testing.T) {
	s, f := newTestSink([]string{"player"})
	require.NoError(t, s.Play("https://x/1.mp3"))
	f.handles[0].finish()

	require.Eventually(t, func() bool {
		_, ok := s.Playing()
		return !ok
	}, time.Second, time.Millisecond)
}

func TestStop(t *testing.T) {
	s, f := newTestSink([]string{"player"})
	s.Stop()

	require.NoError(t, s.Play("https://x/1.mp3"))
	s.Stop()
	s.Stop()
	assert.True(t, f.handles[0].killed)
	_, ok := s.Playing()
	assert.False(t, ok)
}

func TestPlayErrors(t *testing.T) {
	s, _ := newTestSink([]string{"player"})
	assert.ErrorIs(t, s.Play("  "), ErrNoURL)

	s, _ = newTestSink(nil)
	assert.ErrorIs(t, s.Play("https://x/1.mp3"), ErrNoPlayer)

	s, f := newTestSink([]string{"player"})
	f.err = errors.New("exec: not found")
	assert.Error(t, s.Play("https://x/1.mp3"))
	_, ok := s.Playing()
	assert.False(t, ok)
}

func TestProcessSink(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	s := NewSink([]string{"sh", "-c", "exec sleep 30", "{url}"}, nil)
	require.NoError(t, s.Play("https://x/1.mp3"))
	require.NoError(t, s.Play("https://x/2.mp3"))

	url, ok := s.Playing()
	assert.True(t, ok)
	assert.Equal(t, "https://x/2.mp3", url)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
