// Package mock provides a recording [speech.Adapter] for unit tests.
//
// Exported *Error and *Text fields control return values; the Calls methods
// return copies of what the adapter was asked to do. It is safe for
// concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/yuva/internal/speech"
)

var _ speech.Adapter = (*Adapter)(nil)

// Adapter is a mock implementation of [speech.Adapter].
type Adapter struct {
	mu sync.Mutex

	// SpeakError is returned by Speak. When non-nil the started callback is
	// not invoked.
	SpeakError error

	// RecognizeText is returned by Recognize.
	RecognizeText string

	// RecognizeError is returned by Recognize.
	RecognizeError error

	// BlockRecognize makes Recognize wait for ctx cancellation.
	BlockRecognize bool

	speakCalls     []speech.Utterance
	recognizeCalls []string
}

// Name implements [speech.Adapter].
func (a *Adapter) Name() string { return "mock" }

// Speak implements [speech.Synthesizer].
func (a *Adapter) Speak(_ context.Context, u speech.Utterance, started func()) error {
	a.mu.Lock()
	a.speakCalls = append(a.speakCalls, u)
	err := a.SpeakError
	a.mu.Unlock()
	if err != nil {
		return err
	}
	started()
	return nil
}

// Recognize implements [speech.Recognizer].
func (a *Adapter) Recognize(ctx context.Context, language string) (string, error) {
	a.mu.Lock()
	a.recognizeCalls = append(a.recognizeCalls, language)
	block, text, err := a.BlockRecognize, a.RecognizeText, a.RecognizeError
	a.mu.Unlock()
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return text, err
}

// SpeakCalls returns every utterance passed to Speak.
func (a *Adapter) SpeakCalls() []speech.Utterance {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]speech.Utterance, len(a.speakCalls))
	copy(out, a.speakCalls)
	return out
}

// RecognizeCalls returns the language of every Recognize call.
func (a *Adapter) RecognizeCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.recognizeCalls))
	copy(out, a.recognizeCalls)
	return out
}
