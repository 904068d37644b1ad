package settings

import (
	"slices"
	"time"

	"github.com/jwulff/medibot/internal/backend"
	"github.com/jwulff/medibot/internal/intake"
	"github.com/jwulff/medibot/internal/playback"
	"github.com/jwulff/medibot/internal/recorder"
	"github.com/jwulff/medibot/internal/video"
)

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	poll := video.DefaultConfig()
	return Settings{
		Version: CurrentVersion,
		Profile: Profile{
			Role:     "physician",
			Timezone: "UTC",
			Language: "en",
		},
		AI: AI{
			Model:               "meditron-7b",
			ConfidenceThreshold: 85,
			ResponseSpeed:       "balanced",
			VoiceEnabled:        true,
			VideoEnabled:        true,
			AutoVideo:           false,
			RequestTimeout:      Duration(backend.DefaultTimeout),
			VideoPollInterval:   Duration(poll.Interval),
			VideoMaxPoll:        Duration(poll.MaxPollDuration),
			SummaryCacheTTL:     Duration(intake.DefaultCacheTTL),
		},
		Security: Security{
			SessionTimeoutMin: 30,
			AuditLogs:         true,
			AccessLevel:       "standard",
		},
		Notifications: Notifications{
			AnalysisComplete: true,
			SoundEnabled:     true,
		},
		Display: Display{
			Theme:      "light",
			FontSize:   "medium",
			Animations: true,
		},
		Integration: Integration{
			APIBaseURL:     backend.DefaultBaseURL,
			HistoryEnabled: true,
		},
		Audio: Audio{
			CaptureCommand: slices.Clone(recorder.DefaultCaptureCommand),
			CaptureMIME:    "audio/wav",
			PlayerCommand:  slices.Clone(playback.DefaultPlayerCommand),
		},
	}
}

// VideoConfig returns the poller bounds.
func (s Settings) VideoConfig() video.Config {
	return video.Config{
		Interval:        s.AI.VideoPollInterval.D(),
		MaxPollDuration: s.AI.VideoMaxPoll.D(),
		MaxAttempts:     s.AI.VideoMaxAttempts,
	}
}

// RequestTimeout is the per-call timeout for the remote service.
func (s Settings) RequestTimeout() time.Duration { return s.AI.RequestTimeout.D() }
