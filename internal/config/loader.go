package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/yuva/internal/speech"
)

// ValidSpeechAdapters lists the adapter names known to [DefaultRegistry].
var ValidSpeechAdapters = []string{"none", "command"}

// Load reads the YAML configuration file at path over [Default] and returns
// the validated result.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over [Default] and validates the result.
// Unknown keys are an error. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Backend
	if err := checkURL(cfg.Backend.HTTPURL, "http", "https"); err != nil {
		errs = append(errs, fmt.Errorf("backend.http_url: %w", err))
	}
	if err := checkURL(cfg.Backend.WSURL, "ws", "wss"); err != nil {
		errs = append(errs, fmt.Errorf("backend.ws_url: %w", err))
	}
	if cfg.Backend.ReconnectDelay <= 0 {
		errs = append(errs, fmt.Errorf("backend.reconnect_delay %s must be positive", cfg.Backend.ReconnectDelay))
	}
	if cfg.Backend.AuthTimeout <= 0 {
		errs = append(errs, fmt.Errorf("backend.auth_timeout %s must be positive", cfg.Backend.AuthTimeout))
	}

	// Session
	if !speech.IsSupported(cfg.Session.Language) {
		errs = append(errs, fmt.Errorf("session.language %q is not supported; valid values: %v", cfg.Session.Language, speech.Languages))
	}
	if cfg.Session.BootDuration < 0 {
		errs = append(errs, fmt.Errorf("session.boot_duration %s must not be negative", cfg.Session.BootDuration))
	}
	if cfg.Session.PowerDuration < 0 {
		errs = append(errs, fmt.Errorf("session.power_duration %s must not be negative", cfg.Session.PowerDuration))
	}
	if err := cfg.Session.Quantum.Session().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("session.quantum: %w", err))
	}

	// Speech
	if !slices.Contains(ValidSpeechAdapters, cfg.Speech.Adapter) {
		errs = append(errs, fmt.Errorf("speech.adapter %q is invalid; valid values: %v", cfg.Speech.Adapter, ValidSpeechAdapters))
	}
	if cfg.Speech.Adapter == "command" && cfg.Speech.TTSCommand == "" && cfg.Speech.STTCommand == "" {
		slog.Warn("speech.adapter is \"command\" but neither tts_command nor stt_command is set; speech will be unavailable")
	}

	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q must use one of the schemes %v", raw, schemes)
}
