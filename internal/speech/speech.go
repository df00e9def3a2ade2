// Package speech is the client's narrow boundary to local speech-to-text and
// text-to-speech engines.
//
// Engines implement [Synthesizer] and [Recognizer]. The session never calls
// them directly: a [Player] serialises playback so utterances queue instead of
// interrupting each other, and a [Capturer] runs at most one recognition at a
// time. Both report progress through callbacks that the caller turns into
// session events.
//
// When no engine is configured, [Unavailable] fails every request with
// [ErrUnavailable]; the Player and Capturer treat that as a silent no-op.
package speech

import (
	"context"
	"errors"
	"slices"
	"strings"
)

// ErrUnavailable means the running environment has no speech capability.
var ErrUnavailable = errors.New("speech: adapter unavailable")

// Utterance is one item of text to be spoken.
type Utterance struct {
	ID       string
	Text     string
	Language string
	Pitch    float64
}

// Synthesizer speaks text.
type Synthesizer interface {
	// Speak plays u and returns once playback has finished or ctx is done.
	// started must be called once, when audio output begins; it is never
	// called when Speak fails before producing sound.
	Speak(ctx context.Context, u Utterance, started func()) error
}

// Recognizer transcribes one utterance from the microphone.
type Recognizer interface {
	// Recognize captures audio until the speaker stops or ctx is done and
	// returns the transcription. An empty string means nothing was heard.
	Recognize(ctx context.Context, language string) (string, error)
}

// Adapter bundles both directions.
type Adapter interface {
	Synthesizer
	Recognizer

	// Name identifies the adapter in logs and configuration.
	Name() string
}

// Unavailable is the adapter used when no engine is configured.
type Unavailable struct{}

var _ Adapter = Unavailable{}

func (Unavailable) Name() string { return "none" }

func (Unavailable) Available() bool { return false }

func (Unavailable) Speak(context.Context, Utterance, func()) error { return ErrUnavailable }

func (Unavailable) Recognize(context.Context, string) (string, error) {
	return "", ErrUnavailable
}

// DefaultLanguage is the locale used when none is configured.
const DefaultLanguage = "en-US"

// Languages lists the supported locale codes in display order.
var Languages = []string{
	"en-US", "en-GB", "en-IN", "hi-IN", "kn-IN",
	"ta-IN", "te-IN", "ml-IN", "ja-JP", "zh-CN",
}

// IsSupported reports whether code is one of [Languages].
func IsSupported(code string) bool {
	return slices.Contains(Languages, code)
}

// Pronounce adjusts text for playback in language. English voices read the
// assistant's name letter by letter unless it is spelled phonetically.
func Pronounce(text, language string) string {
	if strings.HasPrefix(language, "en") {
		return strings.ReplaceAll(text, "YUVA", "You-vah")
	}
	return text
}
