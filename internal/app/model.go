// Package app is the orchestration shell: a bubbletea model that owns the
// current patient summary and drives the chat session, the video poller
// and the recorder from one event loop.
package app

import (
	"context"
	"errors"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jwulff/medibot/internal/chat"
	"github.com/jwulff/medibot/internal/intake"
	"github.com/jwulff/medibot/internal/recorder"
	"github.com/jwulff/medibot/internal/settings"
	"github.com/jwulff/medibot/internal/transcriber"
	"github.com/jwulff/medibot/internal/video"
)

// Focus tracks which input receives typed text.
type Focus int

const (
	FocusIntake Focus = iota
	FocusChat
)

// Analyzer turns patient data into a summary. Forget drops cached
// summaries so the next analysis asks the service again.
type Analyzer interface {
	Analyze(ctx context.Context, req intake.Request) (intake.Result, error)
	Forget()
}

// Stopper is the shared audio sink, stopped on teardown.
type Stopper interface {
	Stop()
}

// History records which summary each chat session was about.
type History interface {
	StartSession(id, summary string) error
	EndSession(id string) error
}

// Deps are the components the shell orchestrates. History and Sink are
// optional.
type Deps struct {
	Settings    settings.Settings
	Logger      *zap.Logger
	Analyzer    Analyzer
	NewChat     func() *chat.Session
	Video       *video.Poller
	Recorder    *recorder.Controller
	Transcriber transcriber.Transcriber
	Sink        Stopper
	History     History
}

const transientErrorTimeout = 5 * time.Second

// Model is the root bubbletea model.
type Model struct {
	ctx    context.Context
	cancel context.CancelFunc
	deps   Deps
	events *events
	chat   *chat.Session

	// Analysis
	summary       string
	summaryCached bool
	analyzing     bool

	// Chat
	turns   []chat.Turn
	pending bool
	voice   bool

	// Video
	job    video.Job
	hasJob bool

	// Recording
	recState     recorder.State
	recStarting  bool
	transcribing bool
	heldVoice    string

	// Input
	focus       Focus
	intakeInput string
	chatInput   string

	// UI state
	width      int
	height     int
	chatScroll int
	chatLive   bool

	// Errors
	errorMessage   string
	errorTransient bool
	errorSeq       int

	statusText string
	quitting   bool
}

// New wires the components' change notifications into a new Model. ctx
// bounds every operation the model starts.
func New(ctx context.Context, deps Deps) Model {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Transcriber == nil {
		deps.Transcriber = transcriber.Placeholder{}
	}
	ctx, cancel := context.WithCancel(ctx)
	ev := newEvents()

	deps.Video.OnChange(func(video.Job) { signal(ev.video) })
	deps.Recorder.OnChange(func(recorder.State) { signal(ev.recorder) })

	m := Model{
		ctx:        ctx,
		cancel:     cancel,
		deps:       deps,
		events:     ev,
		voice:      deps.Settings.AI.VoiceEnabled,
		recState:   deps.Recorder.State(),
		chatLive:   true,
		focus:      FocusIntake,
		statusText: "Enter patient data to analyze",
	}
	m.chat = m.newChat()
	return m
}

func (m Model) newChat() *chat.Session {
	s := m.deps.NewChat()
	s.SetVoiceEnabled(m.voice)
	ev := m.events
	s.OnChange(func(chat.Snapshot) { signal(ev.chat) })
	return s
}

// Init starts listening for component changes.
func (m Model) Init() tea.Cmd {
	return m.events.waitCmd()
}

// Summary returns the current patient summary.
func (m Model) Summary() string { return m.summary }

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case ChatChangedMsg:
		m.turns = m.chat.Turns()
		m.pending = m.chat.Pending()
		if m.chatLive {
			m.scrollToBottom()
		}
		if !m.pending && m.heldVoice != "" {
			text := m.heldVoice
			m.heldVoice = ""
			m.statusText = "Voice message sent"
			return m, tea.Batch(m.events.waitCmd(), submitCmd(m.ctx, m.chat, text, m.summary))
		}
		return m, m.events.waitCmd()

	case VideoChangedMsg:
		m.job, m.hasJob = m.deps.Video.Current()
		return m, m.events.waitCmd()

	case RecorderChangedMsg:
		m.recState = m.deps.Recorder.State()
		return m, m.events.waitCmd()

	case AnalysisDoneMsg:
		m.analyzing = false
		if msg.Err != nil {
			m.statusText = "Analysis failed"
			m.errorMessage = intake.FailureMessage(msg.Err)
			m.errorTransient = false
			return m, nil
		}
		m.clearError()
		m.summaryCached = msg.Cached
		m.statusText = "Analysis complete"
		return m, m.setSummary(msg.Summary)

	case ChatDoneMsg:
		switch {
		case msg.Err == nil, errors.Is(msg.Err, chat.ErrEmptyMessage):
			return m, nil
		case errors.Is(msg.Err, chat.ErrBusy):
			return m, m.transientError("Wait for the current reply to finish.")
		}
		return m, m.transientError(msg.Err.Error())

	case RecordStartedMsg:
		m.recStarting = false
		if msg.Err != nil {
			return m, m.transientError(recordErrorText(msg.Err))
		}
		m.recState = m.deps.Recorder.State()
		m.statusText = "Recording... ctrl+r to send"
		return m, nil

	case RecordStoppedMsg:
		m.recState = m.deps.Recorder.State()
		if msg.Err != nil {
			m.deps.Logger.Warn("stop recording", zap.Error(msg.Err))
		}
		if msg.Audio.Empty() {
			m.statusText = "Recording discarded"
			return m, m.transientError("No audio was captured.")
		}
		m.transcribing = true
		m.statusText = "Processing voice message..."
		return m, transcribeCmd(m.ctx, m.deps.Transcriber, msg.Audio)

	case TranscribedMsg:
		m.transcribing = false
		if msg.Err != nil {
			return m, m.transientError("Could not process the voice message.")
		}
		// A transcript that lands during a reply waits for it to finish.
		if m.pending || m.chat.Pending() {
			m.heldVoice = msg.Text
			m.statusText = "Voice message queued"
			return m, nil
		}
		m.statusText = "Voice message sent"
		return m, submitCmd(m.ctx, m.chat, msg.Text, m.summary)

	case VideoRequestedMsg, ReplayDoneMsg:
		if err := errOf(msg); err != nil {
			return m, m.transientError(err.Error())
		}
		return m, nil

	case ClearTransientErrorMsg:
		if m.errorTransient && msg.Seq == m.errorSeq {
			m.clearError()
		}
		return m, nil

	case ShutdownDoneMsg:
		if msg.Err != nil {
			m.deps.Logger.Warn("shutdown", zap.Error(msg.Err))
		}
		return m, tea.Quit
	}

	return m, nil
}

func errOf(msg tea.Msg) error {
	switch msg := msg.(type) {
	case VideoRequestedMsg:
		return msg.Err
	case ReplayDoneMsg:
		return msg.Err
	}
	return nil
}

// setSummary replaces the current summary. The chat keeps its history
// and uses the new summary as context for later messages.
func (m *Model) setSummary(summary string) tea.Cmd {
	if summary == m.summary {
		return nil
	}
	m.summary = summary

	var cmds []tea.Cmd
	if m.deps.History != nil {
		h, id := m.deps.History, m.chat.ID()
		cmds = append(cmds, historyCmd(m.deps.Logger, func() error { return h.StartSession(id, summary) }))
	}
	ai := m.deps.Settings.AI
	if ai.VideoEnabled && ai.AutoVideo {
		cmds = append(cmds, requestVideoCmd(m.ctx, m.deps.Video, summary))
	}
	return tea.Batch(cmds...)
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.quitting {
		return m, nil
	}

	// Typed text never matches a binding, even when it spells one.
	switch msg.Type {
	case tea.KeyRunes:
		text := string(msg.Runes)
		m.editInput(func(s string) string { return s + text })
		return m, nil
	case tea.KeySpace:
		m.editInput(func(s string) string { return s + " " })
		return m, nil
	}

	switch msg.String() {
	case KeyQuit, KeyEsc:
		m.quitting = true
		m.statusText = "Shutting down..."
		return m, m.shutdownCmd()

	case KeyTab:
		if m.focus == FocusIntake {
			m.focus = FocusChat
		} else {
			m.focus = FocusIntake
		}
		return m, nil

	case KeyEnter:
		return m.submitInput()

	case KeyBackspace:
		m.editInput(func(s string) string {
			r := []rune(s)
			if len(r) == 0 {
				return s
			}
			return string(r[:len(r)-1])
		})
		return m, nil

	case KeyClearLine:
		m.editInput(func(string) string { return "" })
		return m, nil

	case KeyUp:
		m.chatLive = false
		if m.chatScroll > 0 {
			m.chatScroll--
		}
		return m, nil

	case KeyDown:
		maxScroll := m.maxChatScroll()
		m.chatScroll++
		if m.chatScroll >= maxScroll {
			m.chatScroll = maxScroll
			m.chatLive = true
		}
		return m, nil

	case KeyRecord:
		switch {
		case m.recStarting || m.transcribing:
			return m, nil
		case m.recState == recorder.StateRecording:
			return m, stopRecordCmd(m.deps.Recorder)
		case m.recState == recorder.StateIdle:
			m.recStarting = true
			m.statusText = "Opening microphone..."
			return m, startRecordCmd(m.ctx, m.deps.Recorder)
		}
		return m, nil

	case KeyVideo:
		if !m.deps.Settings.AI.VideoEnabled {
			return m, m.transientError("Video generation is disabled in settings.")
		}
		if m.hasJob && m.job.State == video.StateFailed {
			return m, retryVideoCmd(m.ctx, m.deps.Video)
		}
		if m.summary == "" {
			return m, m.transientError("Analyze patient data first.")
		}
		return m, requestVideoCmd(m.ctx, m.deps.Video, m.summary)

	case KeyCancelVideo:
		return m, cancelVideoCmd(m.deps.Video)

	case KeyReplay:
		t, ok := m.chat.LastAudioTurn()
		if !ok {
			return m, m.transientError("No reply audio to play.")
		}
		return m, replayCmd(m.chat, t.ID)

	case KeyVoice:
		m.voice = !m.voice
		m.chat.SetVoiceEnabled(m.voice)
		if !m.voice && m.deps.Sink != nil {
			sink := m.deps.Sink
			return m, func() tea.Msg { sink.Stop(); return nil }
		}
		return m, nil

	case KeyNew:
		return m.newAnalysis()
	}

	return m, nil
}

func (m *Model) editInput(fn func(string) string) {
	if m.focus == FocusIntake {
		m.intakeInput = fn(m.intakeInput)
	} else {
		m.chatInput = fn(m.chatInput)
	}
}

func (m Model) submitInput() (tea.Model, tea.Cmd) {
	if m.focus == FocusIntake {
		if m.analyzing || strings.TrimSpace(m.intakeInput) == "" {
			return m, nil
		}
		req := ParseIntake(m.intakeInput)
		m.intakeInput = ""
		m.analyzing = true
		m.statusText = "Analyzing patient data..."
		return m, analyzeCmd(m.ctx, m.deps.Analyzer, req)
	}

	// The input stays disabled while a reply is pending.
	if m.pending || strings.TrimSpace(m.chatInput) == "" {
		return m, nil
	}
	text := m.chatInput
	m.chatInput = ""
	m.chatLive = true
	return m, submitCmd(m.ctx, m.chat, text, m.summary)
}

// newAnalysis drops the current summary and the cached ones, cancels the
// video and starts a fresh chat session.
func (m Model) newAnalysis() (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	if m.deps.History != nil {
		h, id := m.deps.History, m.chat.ID()
		cmds = append(cmds, historyCmd(m.deps.Logger, func() error { return h.EndSession(id) }))
	}
	cmds = append(cmds, cancelVideoCmd(m.deps.Video))
	m.deps.Analyzer.Forget()

	m.summary = ""
	m.summaryCached = false
	m.chat = m.newChat()
	m.turns = nil
	m.pending = false
	m.heldVoice = ""
	m.chatScroll = 0
	m.chatLive = true
	m.chatInput = ""
	m.focus = FocusIntake
	m.clearError()
	m.statusText = "New analysis"
	return m, tea.Batch(cmds...)
}

func (m *Model) transientError(text string) tea.Cmd {
	m.errorSeq++
	m.errorMessage = text
	m.errorTransient = true
	return clearTransientErrorCmd(m.errorSeq)
}

func (m *Model) clearError() {
	m.errorMessage = ""
	m.errorTransient = false
}

// ParseIntake splits input into notes and an optional document: a word
// starting with '@' names the file to attach.
func ParseIntake(input string) intake.Request {
	var req intake.Request
	var words []string
	for _, w := range strings.Fields(input) {
		if strings.HasPrefix(w, "@") && len(w) > 1 && req.FilePath == "" {
			req.FilePath = w[1:]
			continue
		}
		words = append(words, w)
	}
	req.Text = strings.Join(words, " ")
	return req
}

func recordErrorText(err error) string {
	var de *recorder.DeviceError
	switch {
	case errors.As(err, &de):
		return "Microphone unavailable: " + de.Err.Error()
	case errors.Is(err, recorder.ErrAlreadyRecording):
		return "Already recording."
	}
	return "Could not start recording: " + err.Error()
}

// Commands

func analyzeCmd(ctx context.Context, a Analyzer, req intake.Request) tea.Cmd {
	return func() tea.Msg {
		res, err := a.Analyze(ctx, req)
		return AnalysisDoneMsg{Summary: res.Summary, Cached: res.Cached, Err: err}
	}
}

func submitCmd(ctx context.Context, s *chat.Session, text, summary string) tea.Cmd {
	return func() tea.Msg {
		_, err := s.Submit(ctx, text, summary)
		return ChatDoneMsg{Err: err}
	}
}

func startRecordCmd(ctx context.Context, r *recorder.Controller) tea.Cmd {
	return func() tea.Msg {
		return RecordStartedMsg{Err: r.Start(ctx)}
	}
}

func stopRecordCmd(r *recorder.Controller) tea.Cmd {
	return func() tea.Msg {
		audio, err := r.Stop()
		return RecordStoppedMsg{Audio: audio, Err: err}
	}
}

func transcribeCmd(ctx context.Context, t transcriber.Transcriber, audio recorder.Audio) tea.Cmd {
	return func() tea.Msg {
		text, err := t.Transcribe(ctx, audio)
		return TranscribedMsg{Text: text, Err: err}
	}
}

func requestVideoCmd(ctx context.Context, p *video.Poller, summary string) tea.Cmd {
	return func() tea.Msg {
		_, err := p.RequestVideo(ctx, summary)
		return VideoRequestedMsg{Err: err}
	}
}

func retryVideoCmd(ctx context.Context, p *video.Poller) tea.Cmd {
	return func() tea.Msg {
		p.Retry(ctx)
		return VideoRequestedMsg{}
	}
}

func cancelVideoCmd(p *video.Poller) tea.Cmd {
	return func() tea.Msg {
		p.Cancel()
		return VideoRequestedMsg{}
	}
}

func replayCmd(s *chat.Session, turnID string) tea.Cmd {
	return func() tea.Msg {
		return ReplayDoneMsg{Err: s.Replay(turnID)}
	}
}

func historyCmd(logger *zap.Logger, fn func() error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(); err != nil {
			logger.Warn("record history", zap.Error(err))
		}
		return nil
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd(seq int) tea.Cmd {
	return tea.Tick(transientErrorTimeout, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{Seq: seq}
	})
}

// shutdownCmd tears the components down off the event loop.
func (m Model) shutdownCmd() tea.Cmd {
	return func() tea.Msg {
		return ShutdownDoneMsg{Err: m.Close()}
	}
}

// Close cancels outstanding work and tears every component down in
// parallel: the poller loop exits, the microphone is released and
// playback stops. Only the first call does anything, so the program can
// call it again after the event loop exits however it was ended.
func (m Model) Close() error {
	var err error
	m.events.closeOnce.Do(func() { err = m.teardown() })
	return err
}

func (m Model) teardown() error {
	d := m.deps
	chatID := m.chat.ID()
	m.cancel()
	var g errgroup.Group
	g.Go(func() error {
		d.Video.Close()
		return nil
	})
	g.Go(d.Recorder.Close)
	if d.Sink != nil {
		g.Go(func() error {
			d.Sink.Stop()
			return nil
		})
	}
	if d.History != nil {
		g.Go(func() error { return d.History.EndSession(chatID) })
	}
	err := g.Wait()
	close(m.events.done)
	return err
}
