// Package settings holds the versioned user configuration. Settings are
// loaded once at startup and passed explicitly to the components that
// need them.
package settings

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// CurrentVersion is the settings schema version written by Save.
const CurrentVersion = 1

// Duration is a time.Duration that reads and writes as "30s".
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(b)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// Settings is the full user configuration.
type Settings struct {
	Version       int           `json:"version"`
	Profile       Profile       `json:"profile"`
	AI            AI            `json:"ai"`
	Security      Security      `json:"security"`
	Notifications Notifications `json:"notifications"`
	Display       Display       `json:"display"`
	Integration   Integration   `json:"integration"`
	Audio         Audio         `json:"audio"`
}

type Profile struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	Organization string `json:"organization"`
	Timezone     string `json:"timezone"`
	Language     string `json:"language"`
}

// AI controls how the assistant behaves.
type AI struct {
	Model               string   `json:"model" env:"MODEL"`
	ConfidenceThreshold int      `json:"confidence_threshold"`
	ResponseSpeed       string   `json:"response_speed" env:"RESPONSE_SPEED"`
	VoiceEnabled        bool     `json:"voice_enabled" env:"VOICE_ENABLED"`
	VideoEnabled        bool     `json:"video_enabled" env:"VIDEO_ENABLED"`
	AutoVideo           bool     `json:"auto_video" env:"AUTO_VIDEO"`
	RequestTimeout      Duration `json:"request_timeout" env:"REQUEST_TIMEOUT"`
	VideoPollInterval   Duration `json:"video_poll_interval" env:"VIDEO_POLL_INTERVAL"`
	VideoMaxPoll        Duration `json:"video_max_poll_duration" env:"VIDEO_MAX_POLL_DURATION"`
	VideoMaxAttempts    int      `json:"video_max_poll_attempts" env:"VIDEO_MAX_POLL_ATTEMPTS"`
	SummaryCacheTTL     Duration `json:"summary_cache_ttl" env:"SUMMARY_CACHE_TTL"`
}

type Security struct {
	SessionTimeoutMin int    `json:"session_timeout"`
	AuditLogs         bool   `json:"audit_logs"`
	AccessLevel       string `json:"access_level"`
}

type Notifications struct {
	AnalysisComplete bool `json:"analysis_complete"`
	SoundEnabled     bool `json:"sound_enabled"`
}

type Display struct {
	Theme      string `json:"theme" env:"THEME"`
	FontSize   string `json:"font_size"`
	Animations bool   `json:"animations"`
}

// Integration holds endpoints and credentials for remote services.
type Integration struct {
	APIBaseURL       string `json:"api_base_url" env:"API_BASE_URL"`
	TavusAPIKey      string `json:"tavus_api_key,omitempty" env:"TAVUS_API_KEY"`
	ElevenLabsAPIKey string `json:"elevenlabs_api_key,omitempty" env:"ELEVENLABS_API_KEY"`
	WebhookURL       string `json:"webhook_url,omitempty"`
	HistoryEnabled   bool   `json:"history_enabled" env:"HISTORY_ENABLED"`
}

// Audio configures the capture device and the playback sink. Commands
// are argv lists; in the environment they are space separated.
type Audio struct {
	CaptureCommand []string `json:"capture_command" env:"CAPTURE_COMMAND" envSeparator:" "`
	CaptureMIME    string   `json:"capture_mime" env:"CAPTURE_MIME"`
	PlayerCommand  []string `json:"player_command" env:"PLAYER_COMMAND" envSeparator:" "`
}

var (
	responseSpeeds = []string{"fast", "balanced", "thorough"}
	roles          = []string{"physician", "nurse", "researcher", "administrator"}
	accessLevels   = []string{"standard", "elevated", "admin"}
	themes         = []string{"light", "dark", "auto"}
	fontSizes      = []string{"small", "medium", "large"}
)

// Validate reports the first invalid option.
func (s *Settings) Validate() error {
	if s.Version < 1 || s.Version > CurrentVersion {
		return fmt.Errorf("settings version %d is not supported (want 1..%d)", s.Version, CurrentVersion)
	}
	if s.Integration.APIBaseURL == "" {
		return fmt.Errorf("integration.api_base_url is required")
	}
	if !strings.HasPrefix(s.Integration.APIBaseURL, "http://") && !strings.HasPrefix(s.Integration.APIBaseURL, "https://") {
		return fmt.Errorf("integration.api_base_url must be an http(s) URL, got %q", s.Integration.APIBaseURL)
	}
	for _, e := range []struct {
		name  string
		value string
		allow []string
	}{
		{"ai.response_speed", s.AI.ResponseSpeed, responseSpeeds},
		{"profile.role", s.Profile.Role, roles},
		{"security.access_level", s.Security.AccessLevel, accessLevels},
		{"display.theme", s.Display.Theme, themes},
		{"display.font_size", s.Display.FontSize, fontSizes},
	} {
		if !slices.Contains(e.allow, e.value) {
			return fmt.Errorf("%s must be one of %s, got %q", e.name, strings.Join(e.allow, ", "), e.value)
		}
	}
	if s.AI.ConfidenceThreshold < 0 || s.AI.ConfidenceThreshold > 100 {
		return fmt.Errorf("ai.confidence_threshold must be 0..100, got %d", s.AI.ConfidenceThreshold)
	}
	if s.AI.RequestTimeout <= 0 {
		return fmt.Errorf("ai.request_timeout must be positive")
	}
	if s.AI.VideoPollInterval <= 0 {
		return fmt.Errorf("ai.video_poll_interval must be positive")
	}
	if s.AI.VideoMaxPoll < s.AI.VideoPollInterval {
		return fmt.Errorf("ai.video_max_poll_duration (%s) must be at least the poll interval (%s)",
			s.AI.VideoMaxPoll.D(), s.AI.VideoPollInterval.D())
	}
	if s.AI.VideoMaxAttempts < 0 {
		return fmt.Errorf("ai.video_max_poll_attempts must not be negative, got %d", s.AI.VideoMaxAttempts)
	}
	if s.AI.SummaryCacheTTL < 0 {
		return fmt.Errorf("ai.summary_cache_ttl must not be negative")
	}
	return nil
}

// Redacted returns a copy with credentials masked.
func (s Settings) Redacted() Settings {
	s.Integration.TavusAPIKey = mask(s.Integration.TavusAPIKey)
	s.Integration.ElevenLabsAPIKey = mask(s.Integration.ElevenLabsAPIKey)
	s.Audio.CaptureCommand = slices.Clone(s.Audio.CaptureCommand)
	s.Audio.PlayerCommand = slices.Clone(s.Audio.PlayerCommand)
	return s
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}
