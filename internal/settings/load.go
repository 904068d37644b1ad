package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MEDIBOT_"

// ErrUnsupportedVersion is returned for files written by a newer release.
var ErrUnsupportedVersion = errors.New("settings file was written by a newer version")

// Path returns the settings file location: $MEDIBOT_SETTINGS if set,
// otherwise settings.json under the user config directory.
func Path() (string, error) {
	if p := os.Getenv(EnvPrefix + "SETTINGS"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locate config dir: %w", err)
	}
	return filepath.Join(dir, "medibot", "settings.json"), nil
}

// DataDir returns the directory for history and logs.
func DataDir() (string, error) {
	if d := os.Getenv("XDG_DATA_HOME"); d != "" {
		return filepath.Join(d, "medibot"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locate home dir: %w", err)
	}
	return filepath.Join(home, ".local", "share", "medibot"), nil
}

// Load reads settings from path, applies overrides from ./.env and the
// process environment, and validates the result. A missing file yields
// the defaults.
func Load(path string) (Settings, error) {
	environ, err := environment(".env")
	if err != nil {
		return Settings{}, err
	}
	return load(path, environ)
}

func load(path string, environ map[string]string) (Settings, error) {
	s := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Settings{}, fmt.Errorf("read settings: %w", err)
	default:
		if err := decode(data, &s); err != nil {
			return Settings{}, fmt.Errorf("%s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&s, env.Options{
		Prefix:      EnvPrefix,
		Environment: environ,
	}); err != nil {
		return Settings{}, fmt.Errorf("environment overrides: %w", err)
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// decode reads a settings file over s. Files without a version predate
// versioning; anything they omit keeps its default.
func decode(data []byte, s *Settings) error {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	if head.Version > CurrentVersion {
		return fmt.Errorf("%w (version %d)", ErrUnsupportedVersion, head.Version)
	}
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	s.Version = CurrentVersion
	return nil
}

// environment merges dotenvPath under the process environment, so real
// environment variables win. A missing dotenv file is not an error.
func environment(dotenvPath string) (map[string]string, error) {
	merged := map[string]string{}
	file, err := godotenv.Read(dotenvPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", dotenvPath, err)
	default:
		for k, v := range file {
			merged[k] = v
		}
	}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	return merged, nil
}

// Save validates s and writes it to path atomically.
func Save(path string, s Settings) error {
	s.Version = CurrentVersion
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".settings-*.json")
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
