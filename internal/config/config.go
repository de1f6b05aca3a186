package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var allowedExtensions = []string{
	".m4a",
	".mp3",
	".amr",
	".wav",
}

const (
	defaultListenAddr       = "127.0.0.1:8080"
	defaultReloadDebounceMS = 500
	defaultShortCallSeconds = 10
	defaultLogLevel         = "info"
	envPrefix               = "CALLTRIAGE_"
	envConfigFile           = envPrefix + "CONFIG"
)

// Settings is the resolved runtime configuration.
type Settings struct {
	RecordingsDir    string
	ContactsFile     string
	ListenAddr       string
	ReloadDebounceMS int
	Workers          int
	ShortCallSeconds float64
	LogLevel         string
}

type settingsYAML struct {
	RecordingsDir    string   `yaml:"recordings_dir"`
	ContactsFile     string   `yaml:"contacts_file"`
	ListenAddr       string   `yaml:"listen_addr"`
	ReloadDebounceMS *int     `yaml:"reload_debounce_ms"`
	Workers          *int     `yaml:"workers"`
	ShortCallSeconds *float64 `yaml:"short_call_seconds"`
	LogLevel         string   `yaml:"log_level"`
}

// AllowedExtensions returns the list of supported recording extensions (lowercase).
func AllowedExtensions() []string {
	result := make([]string, len(allowedExtensions))
	copy(result, allowedExtensions)
	return result
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Settings {
	return Settings{
		ListenAddr:       defaultListenAddr,
		ReloadDebounceMS: defaultReloadDebounceMS,
		ShortCallSeconds: defaultShortCallSeconds,
		LogLevel:         defaultLogLevel,
	}
}

// Load returns the settings after applying defaults, the YAML file at path
// (or CALLTRIAGE_CONFIG when path is empty) and CALLTRIAGE_* environment
// overrides, in that order.
func Load(path string) (Settings, error) {
	settings := Defaults()

	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv(envConfigFile))
	}
	if path != "" {
		if err := settings.applyFile(path); err != nil {
			return Settings{}, err
		}
	}

	if err := settings.applyEnv(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (s *Settings) applyFile(path string) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Errorf("read config %s: %w", resolved, err)
	}
	var file settingsYAML
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", resolved, err)
	}

	if value := strings.TrimSpace(file.RecordingsDir); value != "" {
		s.RecordingsDir = value
	}
	if value := strings.TrimSpace(file.ContactsFile); value != "" {
		s.ContactsFile = value
	}
	if value := strings.TrimSpace(file.ListenAddr); value != "" {
		s.ListenAddr = value
	}
	if value := strings.TrimSpace(file.LogLevel); value != "" {
		s.LogLevel = value
	}
	if file.ReloadDebounceMS != nil {
		s.ReloadDebounceMS = *file.ReloadDebounceMS
	}
	if file.Workers != nil {
		s.Workers = *file.Workers
	}
	if file.ShortCallSeconds != nil {
		s.ShortCallSeconds = *file.ShortCallSeconds
	}
	return nil
}

func (s *Settings) applyEnv() error {
	if value := env("RECORDINGS_DIR"); value != "" {
		s.RecordingsDir = value
	}
	if value := env("CONTACTS_FILE"); value != "" {
		s.ContactsFile = value
	}
	if value := env("LISTEN_ADDR"); value != "" {
		s.ListenAddr = value
	}
	if value := env("LOG_LEVEL"); value != "" {
		s.LogLevel = value
	}
	if value := env("RELOAD_DEBOUNCE_MS"); value != "" {
		ms, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%sRELOAD_DEBOUNCE_MS: %w", envPrefix, err)
		}
		s.ReloadDebounceMS = ms
	}
	if value := env("WORKERS"); value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%sWORKERS: %w", envPrefix, err)
		}
		s.Workers = n
	}
	if value := env("SHORT_CALL_SECONDS"); value != "" {
		secs, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%sSHORT_CALL_SECONDS: %w", envPrefix, err)
		}
		s.ShortCallSeconds = secs
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(envPrefix + key))
}

// ReloadDebounce returns the delay between a contact-file change and the
// reload it triggers. Negative values fall back to the default.
func (s Settings) ReloadDebounce() time.Duration {
	if s.ReloadDebounceMS < 0 {
		return time.Duration(defaultReloadDebounceMS) * time.Millisecond
	}
	return time.Duration(s.ReloadDebounceMS) * time.Millisecond
}

// Validate rejects settings the process cannot run with.
func (s Settings) Validate() error {
	if err := ValidateListenAddr(s.ListenAddr); err != nil {
		return err
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", s.Workers)
	}
	if s.ShortCallSeconds <= 0 {
		return fmt.Errorf("short_call_seconds must be positive, got %g", s.ShortCallSeconds)
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", s.LogLevel)
	}
	return nil
}

// ValidateListenAddr ensures the configured listen address is restricted to localhost.
func ValidateListenAddr(addr string) error {
	addr = strings.TrimSpace(strings.ToLower(addr))
	if strings.HasPrefix(addr, "127.0.0.1:") || strings.HasPrefix(addr, "localhost:") || strings.HasPrefix(addr, "[::1]:") {
		return nil
	}
	return errors.New("listen address must bind to localhost for security")
}

// ResolveRecordingsDir returns the absolute path of an existing recordings
// directory.
func ResolveRecordingsDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", errors.New("no recordings directory configured")
	}
	abs, err := resolvePath(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

// ResolveContactsFile returns the absolute path to the contact file when
// configured. When no file is configured the second return value is false.
// The file itself may not exist yet.
func ResolveContactsFile(path string) (string, bool, error) {
	if strings.TrimSpace(path) == "" {
		return "", false, nil
	}
	abs, err := resolvePath(path)
	if err != nil {
		return "", false, err
	}
	return abs, true, nil
}

func resolvePath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	return filepath.Abs(path)
}
