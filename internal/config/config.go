// Package config provides the configuration schema, loader, hot-reload
// watcher and speech adapter registry for the YUVA client.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/yuva/internal/session"
	"github.com/MrWong99/yuva/internal/speech"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	LogLevel    LogLevel          `yaml:"log_level"`
	Backend     BackendConfig     `yaml:"backend"`
	Session     SessionConfig     `yaml:"session"`
	Speech      SpeechConfig      `yaml:"speech"`
	Storage     StorageConfig     `yaml:"storage"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
}

// BackendConfig locates the assistant backend.
type BackendConfig struct {
	// HTTPURL is the base address of the auth endpoints.
	HTTPURL string `yaml:"http_url"`

	// WSURL is the realtime channel endpoint.
	WSURL string `yaml:"ws_url"`

	// ReconnectDelay is the fixed wait before redialing a closed channel.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// AuthTimeout bounds each auth HTTP call.
	AuthTimeout time.Duration `yaml:"auth_timeout"`
}

// SessionConfig holds the user-facing session settings.
type SessionConfig struct {
	// Language is the speech locale, one of [speech.Languages].
	Language string `yaml:"language"`

	BootDuration  time.Duration `yaml:"boot_duration"`
	PowerDuration time.Duration `yaml:"power_duration"`

	Quantum QuantumConfig `yaml:"quantum"`
}

// QuantumConfig configures the alternate voice and colour scheme.
type QuantumConfig struct {
	Enabled bool    `yaml:"enabled"`
	Tint    string  `yaml:"tint"`
	Pitch   float64 `yaml:"pitch"`
}

// Session converts q to the session's representation.
func (q QuantumConfig) Session() session.Quantum {
	return session.Quantum{Enabled: q.Enabled, Tint: session.Tint(q.Tint), Pitch: q.Pitch}
}

// Timing returns the scripted sequence durations.
func (s SessionConfig) Timing() session.Timing {
	return session.Timing{Boot: s.BootDuration, Power: s.PowerDuration}
}

// SpeechConfig selects and configures the speech adapter.
type SpeechConfig struct {
	// Adapter is a name registered in the [Registry]: "none" or "command".
	Adapter string `yaml:"adapter"`

	TTSCommand string   `yaml:"tts_command"`
	TTSArgs    []string `yaml:"tts_args"`
	STTCommand string   `yaml:"stt_command"`
	STTArgs    []string `yaml:"stt_args"`
}

// StorageConfig locates persisted client state.
type StorageConfig struct {
	// TokenPath overrides the credentials file location.
	TokenPath string `yaml:"token_path"`
}

// DiagnosticsConfig configures the local diagnostics listener.
type DiagnosticsConfig struct {
	// ListenAddr is the TCP address for /healthz, /readyz and /metrics.
	// Empty disables the listener.
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns a config with every field set to its default.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Backend: BackendConfig{
			HTTPURL:        "http://localhost:8000",
			WSURL:          "ws://localhost:8000/ws",
			ReconnectDelay: 3 * time.Second,
			AuthTimeout:    10 * time.Second,
		},
		Session: SessionConfig{
			Language:      speech.DefaultLanguage,
			BootDuration:  session.DefaultTiming.Boot,
			PowerDuration: session.DefaultTiming.Power,
			Quantum: QuantumConfig{
				Tint:  string(session.DefaultQuantum.Tint),
				Pitch: session.DefaultQuantum.Pitch,
			},
		},
		Speech: SpeechConfig{Adapter: "none"},
	}
}
