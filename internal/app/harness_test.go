package app

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/jwulff/medibot/internal/backend"
	"github.com/jwulff/medibot/internal/chat"
	"github.com/jwulff/medibot/internal/intake"
	"github.com/jwulff/medibot/internal/recorder"
	"github.com/jwulff/medibot/internal/settings"
	"github.com/jwulff/medibot/internal/video"
)

type fakeChatClient struct {
	mu       sync.Mutex
	messages []string
	contexts []string
	reply    backend.ChatReply
	err      error
}

func (f *fakeChatClient) Chat(_ context.Context, message, summary string) (backend.ChatReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	f.contexts = append(f.contexts, summary)
	return f.reply, f.err
}

type fakePlayer struct {
	mu   sync.Mutex
	urls []string
}

func (p *fakePlayer) Play(url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.urls = append(p.urls, url)
	return nil
}

type fakeVideoClient struct {
	mu        sync.Mutex
	submits   []string
	submitErr error
	status    backend.VideoStatus
}

func (f *fakeVideoClient) SubmitVideo(_ context.Context, summary string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits = append(f.submits, summary)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return "v1", nil
}

func (f *fakeVideoClient) VideoStatus(context.Context, string) (backend.VideoStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status.Status == "" {
		return backend.VideoStatus{Status: backend.StatusPending}, nil
	}
	return f.status, nil
}

func (f *fakeVideoClient) submitted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.submits...)
}

type fakeTrack struct {
	w       *io.PipeWriter
	stopped atomic.Bool
}

func (t *fakeTrack) Stop() error {
	t.stopped.Store(true)
	return t.w.Close()
}

func (t *fakeTrack) Stopped() bool { return t.stopped.Load() }

type fakeDevice struct {
	mu      sync.Mutex
	openErr error
	tracks  []*fakeTrack
}

func (d *fakeDevice) Open(context.Context) (*recorder.Stream, error) {
	if d.openErr != nil {
		return nil, d.openErr
	}
	pr, pw := io.Pipe()
	t := &fakeTrack{w: pw}
	d.mu.Lock()
	d.tracks = append(d.tracks, t)
	d.mu.Unlock()
	return &recorder.Stream{Reader: pr, Tracks: []recorder.Track{t}, MIMEType: "audio/wav"}, nil
}

func (d *fakeDevice) last() *fakeTrack {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracks[len(d.tracks)-1]
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	reqs    []intake.Request
	summary string
	err     error
	forgets int
}

func (a *fakeAnalyzer) Forget() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.forgets++
}

func (a *fakeAnalyzer) Analyze(_ context.Context, req intake.Request) (intake.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reqs = append(a.reqs, req)
	if a.err != nil {
		return intake.Result{}, a.err
	}
	return intake.Result{Summary: a.summary}, nil
}

type fakeSink struct{ stops atomic.Int32 }

func (s *fakeSink) Stop() { s.stops.Add(1) }

type fakeHistory struct {
	mu      sync.Mutex
	started map[string]string
	ended   []string
}

func (h *fakeHistory) StartSession(id, summary string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started == nil {
		h.started = map[string]string{}
	}
	h.started[id] = summary
	return nil
}

func (h *fakeHistory) EndSession(id string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended = append(h.ended, id)
	return nil
}

type harness struct {
	chatClient  *fakeChatClient
	player      *fakePlayer
	videoClient *fakeVideoClient
	device      *fakeDevice
	analyzer    *fakeAnalyzer
	sink        *fakeSink
	history     *fakeHistory
	poller      *video.Poller
	recorder    *recorder.Controller
	model       Model
}

func newHarness(t *testing.T, mutate func(*settings.Settings)) *harness {
	t.Helper()
	h := &harness{
		chatClient:  &fakeChatClient{reply: backend.ChatReply{Text: "Likely viral infection", AudioURL: "https://x/a.mp3"}},
		player:      &fakePlayer{},
		videoClient: &fakeVideoClient{},
		device:      &fakeDevice{},
		analyzer:    &fakeAnalyzer{summary: "Patient presents with fever and cough."},
		sink:        &fakeSink{},
		history:     &fakeHistory{},
	}
	s := settings.Defaults()
	if mutate != nil {
		mutate(&s)
	}
	h.poller = video.New(h.videoClient, video.Config{Interval: 10 * time.Millisecond, MaxPollDuration: 5 * time.Second})
	h.recorder = recorder.New(h.device)
	t.Cleanup(func() {
		h.poller.Close()
		h.recorder.Close()
	})

	h.model = New(context.Background(), Deps{
		Settings: s,
		Analyzer: h.analyzer,
		NewChat: func() *chat.Session {
			return chat.New(h.chatClient, chat.WithPlayer(h.player))
		},
		Video:    h.poller,
		Recorder: h.recorder,
		Sink:     h.sink,
		History:  h.history,
	})
	return h
}

func (h *harness) update(msg tea.Msg) tea.Cmd {
	next, cmd := h.model.Update(msg)
	h.model = next.(Model)
	return cmd
}

func (h *harness) key(k tea.KeyType) tea.Cmd {
	return h.update(tea.KeyMsg{Type: k})
}

func (h *harness) typeText(s string) {
	h.update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)})
}

// run executes cmd and any batched commands it returns. Callers only pass
// commands that complete without waiting on timers or change signals.
func run(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, run(c)...)
		}
		return out
	}
	if msg == nil {
		return nil
	}
	return []tea.Msg{msg}
}

// apply runs cmd and feeds the resulting messages back into the model,
// following up on the commands they produce. An update that shows a
// transient error only returns the timer that clears it, which is skipped.
func (h *harness) apply(cmd tea.Cmd) {
	for _, msg := range run(cmd) {
		seq := h.model.errorSeq
		next := h.update(msg)
		if h.model.errorSeq == seq {
			h.apply(next)
		}
	}
}

var errOffline = errors.New("offline")
