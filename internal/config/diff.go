package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be applied to a running session are tracked
// individually; everything else is listed in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	LanguageChanged bool
	NewLanguage     string

	QuantumChanged bool
	NewQuantum     QuantumConfig

	// RestartRequired names the sections whose changes take effect only
	// after a restart.
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.LanguageChanged && !d.QuantumChanged && len(d.RestartRequired) == 0
}

// Changed names every changed setting: the live ones by their YAML key,
// then the restart-only sections.
func (d ConfigDiff) Changed() []string {
	var out []string
	if d.LogLevelChanged {
		out = append(out, "log_level")
	}
	if d.LanguageChanged {
		out = append(out, "session.language")
	}
	if d.QuantumChanged {
		out = append(out, "session.quantum")
	}
	return append(out, d.RestartRequired...)
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	if old.Session.Language != new.Session.Language {
		d.LanguageChanged = true
		d.NewLanguage = new.Session.Language
	}
	if old.Session.Quantum != new.Session.Quantum {
		d.QuantumChanged = true
		d.NewQuantum = new.Session.Quantum
	}

	if old.Backend != new.Backend {
		d.RestartRequired = append(d.RestartRequired, "backend")
	}
	if old.Session.BootDuration != new.Session.BootDuration || old.Session.PowerDuration != new.Session.PowerDuration {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if !speechEqual(old.Speech, new.Speech) {
		d.RestartRequired = append(d.RestartRequired, "speech")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Diagnostics != new.Diagnostics {
		d.RestartRequired = append(d.RestartRequired, "diagnostics")
	}
	return d
}

func speechEqual(a, b SpeechConfig) bool {
	return a.Adapter == b.Adapter &&
		a.TTSCommand == b.TTSCommand &&
		a.STTCommand == b.STTCommand &&
		slices.Equal(a.TTSArgs, b.TTSArgs) &&
		slices.Equal(a.STTArgs, b.STTArgs)
}
