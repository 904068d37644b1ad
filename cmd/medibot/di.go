package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/samber/do/v2"
	"go.uber.org/zap"

	"github.com/jwulff/medibot/internal/app"
	"github.com/jwulff/medibot/internal/backend"
	"github.com/jwulff/medibot/internal/chat"
	"github.com/jwulff/medibot/internal/db"
	"github.com/jwulff/medibot/internal/intake"
	"github.com/jwulff/medibot/internal/logging"
	"github.com/jwulff/medibot/internal/playback"
	"github.com/jwulff/medibot/internal/recorder"
	"github.com/jwulff/medibot/internal/settings"
	"github.com/jwulff/medibot/internal/video"
)

// runtimeOptions are the values every provider may depend on.
type runtimeOptions struct {
	globalFlags
	// console receives warnings for headless commands; nil in the TUI.
	console io.Writer
}

// chatFactory starts a chat session wired to the sink and history. Extra
// options resume a stored session.
type chatFactory func(extra ...chat.Option) *chat.Session

// logService owns the log file so the injector can close it.
type logService struct {
	logger *zap.Logger
	close  func() error
}

func (l *logService) Shutdown() error { return l.close() }

// historyService is the history database, or nil db when disabled.
type historyService struct {
	store *db.Store
}

func (h *historyService) Shutdown() error {
	if h.store == nil {
		return nil
	}
	return h.store.Close()
}

func setupDI(gf globalFlags, console io.Writer) *do.RootScope {
	injector := do.New()

	do.ProvideValue(injector, runtimeOptions{globalFlags: gf, console: console})
	do.Provide(injector, provideSettings)
	do.Provide(injector, provideLogger)
	do.Provide(injector, func(i do.Injector) (*zap.Logger, error) {
		ls, err := do.Invoke[*logService](i)
		if err != nil {
			return nil, err
		}
		return ls.logger, nil
	})
	do.Provide(injector, provideHistory)
	do.Provide(injector, provideClient)
	do.Provide(injector, func(i do.Injector) (*playback.Sink, error) {
		s := do.MustInvoke[settings.Settings](i)
		return playback.NewSink(s.Audio.PlayerCommand, do.MustInvoke[*zap.Logger](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (recorder.Device, error) {
		s := do.MustInvoke[settings.Settings](i)
		return recorder.NewCommandDevice(s.Audio.CaptureCommand, s.Audio.CaptureMIME, do.MustInvoke[*zap.Logger](i)), nil
	})
	do.Provide(injector, func(i do.Injector) (*recorder.Controller, error) {
		device := do.MustInvoke[recorder.Device](i)
		return recorder.New(device, recorder.WithLogger(do.MustInvoke[*zap.Logger](i))), nil
	})
	do.Provide(injector, providePoller)
	do.Provide(injector, func(i do.Injector) (*intake.Service, error) {
		s := do.MustInvoke[settings.Settings](i)
		return intake.New(do.MustInvoke[*backend.Client](i),
			intake.WithCacheTTL(s.AI.SummaryCacheTTL.D()),
			intake.WithLogger(do.MustInvoke[*zap.Logger](i)),
		), nil
	})
	do.Provide(injector, provideChatFactory)

	return injector
}

// shutdownDI closes the log file and the history database if they were
// opened.
func shutdownDI(scope *do.RootScope) {
	_ = scope.Shutdown()
}

func provideSettings(i do.Injector) (settings.Settings, error) {
	opts := do.MustInvoke[runtimeOptions](i)
	path, err := settingsPath(opts.globalFlags)
	if err != nil {
		return settings.Settings{}, err
	}
	return settings.Load(path)
}

func provideLogger(i do.Injector) (*logService, error) {
	opts := do.MustInvoke[runtimeOptions](i)
	dir, err := settings.DataDir()
	if err != nil {
		return nil, err
	}
	logger, closeFn := logging.New(logging.Options{
		Path:    filepath.Join(dir, "medibot.log"),
		Debug:   opts.debug,
		Console: opts.console,
	})
	return &logService{logger: logger, close: closeFn}, nil
}

func provideHistory(i do.Injector) (*historyService, error) {
	s := do.MustInvoke[settings.Settings](i)
	if !s.Integration.HistoryEnabled {
		return &historyService{}, nil
	}
	dir, err := settings.DataDir()
	if err != nil {
		return nil, err
	}
	store, err := db.Open(db.DefaultDBPath(dir))
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return &historyService{store: store}, nil
}

func provideClient(i do.Injector) (*backend.Client, error) {
	s := do.MustInvoke[settings.Settings](i)
	return backend.New(s.Integration.APIBaseURL,
		backend.WithTimeout(s.RequestTimeout()),
		backend.WithLogger(do.MustInvoke[*zap.Logger](i)),
	), nil
}

func providePoller(i do.Injector) (*video.Poller, error) {
	s := do.MustInvoke[settings.Settings](i)
	opts := []video.Option{video.WithLogger(do.MustInvoke[*zap.Logger](i))}
	if h := do.MustInvoke[*historyService](i); h.store != nil {
		opts = append(opts, video.WithStore(h.store))
	}
	return video.New(do.MustInvoke[*backend.Client](i), s.VideoConfig(), opts...), nil
}

func provideChatFactory(i do.Injector) (chatFactory, error) {
	s := do.MustInvoke[settings.Settings](i)
	client := do.MustInvoke[*backend.Client](i)
	opts := []chat.Option{
		chat.WithPlayer(do.MustInvoke[*playback.Sink](i)),
		chat.WithLogger(do.MustInvoke[*zap.Logger](i)),
		chat.WithVoice(s.AI.VoiceEnabled),
	}
	if h := do.MustInvoke[*historyService](i); h.store != nil {
		opts = append(opts, chat.WithStore(h.store))
	}
	return func(extra ...chat.Option) *chat.Session {
		return chat.New(client, append(append([]chat.Option(nil), opts...), extra...)...)
	}, nil
}

// shellDeps resolves everything the TUI orchestrates.
func shellDeps(i do.Injector) (app.Deps, error) {
	s, err := do.Invoke[settings.Settings](i)
	if err != nil {
		return app.Deps{}, err
	}
	h, err := do.Invoke[*historyService](i)
	if err != nil {
		return app.Deps{}, err
	}
	newChat, err := do.Invoke[chatFactory](i)
	if err != nil {
		return app.Deps{}, err
	}
	deps := app.Deps{
		Settings: s,
		Logger:   do.MustInvoke[*zap.Logger](i),
		Analyzer: do.MustInvoke[*intake.Service](i),
		NewChat:  func() *chat.Session { return newChat() },
		Video:    do.MustInvoke[*video.Poller](i),
		Recorder: do.MustInvoke[*recorder.Controller](i),
		Sink:     do.MustInvoke[*playback.Sink](i),
	}
	if h.store != nil {
		deps.History = h.store
	}
	return deps, nil
}
