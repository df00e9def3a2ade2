// Package session is the client's authoritative state machine.
//
// [State] is owned by a single [actor.Actor]; [Reduce] is the only function
// that changes it. Everything the outside world does to the session arrives as
// a command (user intent) or an event (an outcome reported by the connection
// manager, the auth gateway or the speech adapter). Everything the session
// wants done is returned as an effect for the app runtime to carry out.
//
// Reduce performs no I/O and reads no clock, so every transition can be tested
// by feeding inputs and inspecting the returned state and effects.
package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/yuva/internal/actor"
	"github.com/MrWong99/yuva/internal/auth"
	"github.com/MrWong99/yuva/internal/cue"
	"github.com/MrWong99/yuva/internal/protocol"
	"github.com/MrWong99/yuva/internal/transcript"
)

// Phase is the top-level lifecycle state. Exactly one holds at a time.
type Phase string

const (
	PhaseBooting         Phase = "BOOTING"
	PhasePoweringDown    Phase = "POWERING_DOWN"
	PhasePoweringRestart Phase = "POWERING_RESTART"
	PhaseLocked          Phase = "LOCKED"
	PhaseAuthenticating  Phase = "AUTHENTICATING"
	PhaseOnline          Phase = "ONLINE"
)

// Status is the assistant activity indicator. It is meaningful only while the
// phase is [PhaseOnline].
type Status string

const (
	StatusIdle       Status = "IDLE"
	StatusListening  Status = "LISTENING"
	StatusProcessing Status = "PROCESSING"
	StatusSpeaking   Status = "SPEAKING"
	StatusExecuting  Status = "EXECUTING"
)

// View selects the form shown on the lock screen.
type View string

const (
	ViewLogin        View = "LOGIN"
	ViewRegister     View = "REGISTER"
	ViewSubscription View = "SUBSCRIPTION"
)

// PowerKind selects what happens at the end of a power sequence.
type PowerKind string

const (
	PowerShutdown PowerKind = "shutdown"
	PowerRestart  PowerKind = "restart"
)

// Tint is the accent colour used in quantum mode.
type Tint string

const (
	TintAmber  Tint = "amber"
	TintRed    Tint = "red"
	TintPurple Tint = "purple"
)

// Valid reports whether t is a known tint.
func (t Tint) Valid() bool {
	switch t {
	case TintAmber, TintRed, TintPurple:
		return true
	}
	return false
}

// Pitch limits accepted for quantum voice.
const (
	MinPitch = 0.1
	MaxPitch = 2.0
)

// Quantum is the alternate voice and colour scheme.
type Quantum struct {
	Enabled bool
	Tint    Tint
	Pitch   float64
}

// DefaultQuantum is the scheme shipped out of the box.
var DefaultQuantum = Quantum{Tint: TintAmber, Pitch: 0.6}

// Validate reports every problem with q.
func (q Quantum) Validate() error {
	var errs []error
	if !q.Tint.Valid() {
		errs = append(errs, fmt.Errorf("session: unknown quantum tint %q", q.Tint))
	}
	if q.Pitch < MinPitch || q.Pitch > MaxPitch {
		errs = append(errs, fmt.Errorf("session: quantum pitch %.2f outside [%.1f, %.1f]", q.Pitch, MinPitch, MaxPitch))
	}
	return errors.Join(errs...)
}

// Telemetry is the latest host sample pushed by the backend.
type Telemetry struct {
	CPU      float64
	RAM      float64
	Battery  float64
	Received bool
}

// AuthOp names the auth call a result belongs to.
type AuthOp string

const (
	OpLogin     AuthOp = "login"
	OpRegister  AuthOp = "register"
	OpSubscribe AuthOp = "subscribe"
	OpValidate  AuthOp = "validate"
)

// Timing holds the durations of the scripted sequences.
type Timing struct {
	Boot  time.Duration
	Power time.Duration
}

// DefaultTiming matches the lengths of the boot and power animations.
var DefaultTiming = Timing{Boot: 2 * time.Second, Power: 2 * time.Second}

// State is the whole session. It is a value type; copies are snapshots.
type State struct {
	Phase  Phase
	Status Status

	// StatusGen increments on every write to Status. Playback and capture
	// completions only reset Status when no newer write has happened.
	StatusGen   uint64
	PlaybackGen uint64
	CaptureGen  uint64

	// CaptureID names the latest local capture. Capture events carrying any
	// other ID are stale and ignored.
	CaptureID uint64

	View      View
	AuthOp    AuthOp
	AuthError string

	// Token and User are set once authentication succeeds. User is never
	// mutated through the pointer.
	Token string
	User  *auth.Profile

	Language  string
	Quantum   Quantum
	Telemetry Telemetry

	ChannelOpen      bool
	PassiveListening bool
	Capturing        bool

	Power       PowerKind
	BootPending bool
	Halted      bool

	Timing Timing
}

// New returns the initial state. Call [CmdStart] to begin booting.
func New(language string, quantum Quantum, timing Timing) State {
	return State{
		Phase:    PhaseBooting,
		Status:   StatusIdle,
		Language: language,
		Quantum:  quantum,
		Timing:   timing,
	}
}

// Online reports whether the session is in the authenticated phase.
func (s State) Online() bool { return s.Phase == PhaseOnline }

// Commands: user intent.

// CmdStart begins the boot sequence.
type CmdStart struct{ actor.InputBase }

// CmdBootComplete ends the boot sequence.
type CmdBootComplete struct{ actor.InputBase }

// CmdLogin submits credentials from the login form.
type CmdLogin struct {
	actor.InputBase
	Username string
	Password string
}

// CmdRegister submits the registration form.
type CmdRegister struct {
	actor.InputBase
	Username string
	Email    string
	Password string
}

// CmdSubscribe picks a plan on the upsell view.
type CmdSubscribe struct {
	actor.InputBase
	Plan auth.Plan
}

// CmdSkipUpsell continues on the FREE plan.
type CmdSkipUpsell struct{ actor.InputBase }

// CmdShowView switches between the login and registration forms.
type CmdShowView struct {
	actor.InputBase
	View View
}

// CmdLogout ends the authenticated session.
type CmdLogout struct{ actor.InputBase }

// CmdSubmit sends a typed command.
type CmdSubmit struct {
	actor.InputBase
	Text string
}

// CmdToggleListening starts or stops local speech capture.
type CmdToggleListening struct{ actor.InputBase }

// CmdRequestBackendListen asks the backend to use its own microphone.
type CmdRequestBackendListen struct{ actor.InputBase }

// CmdStartPassive enables backend passive listening.
type CmdStartPassive struct{ actor.InputBase }

// CmdStopPassive disables backend passive listening.
type CmdStopPassive struct{ actor.InputBase }

// CmdPower starts a shutdown or restart sequence.
type CmdPower struct {
	actor.InputBase
	Kind PowerKind
}

// CmdPowerComplete ends the power sequence.
type CmdPowerComplete struct{ actor.InputBase }

// CmdSetLanguage changes the speech locale.
type CmdSetLanguage struct {
	actor.InputBase
	Code string
}

// CmdSetQuantum replaces the quantum settings.
type CmdSetQuantum struct {
	actor.InputBase
	Quantum Quantum
}

// CmdTestVoice speaks a calibration phrase.
type CmdTestVoice struct{ actor.InputBase }

// Events: reported outcomes.

// EvStoredToken carries the token read from storage at boot. Expired is set
// by the runtime when the token's own exp claim is in the past.
type EvStoredToken struct {
	actor.InputBase
	Token   string
	Expired bool
}

// EvAuthSucceeded reports a successful auth call.
type EvAuthSucceeded struct {
	actor.InputBase
	Op      AuthOp
	Token   string
	Profile auth.Profile
}

// EvAuthFailed reports a failed auth call.
type EvAuthFailed struct {
	actor.InputBase
	Op  AuthOp
	Err error
}

// EvRegistered reports an accepted registration. The credentials are carried
// so the session can sign in with them.
type EvRegistered struct {
	actor.InputBase
	Username string
	Password string
}

// EvChannelOpened reports that the realtime channel is up.
type EvChannelOpened struct{ actor.InputBase }

// EvChannelClosed reports that the realtime channel went down.
type EvChannelClosed struct{ actor.InputBase }

// EvBackend carries one decoded inbound frame.
type EvBackend struct {
	actor.InputBase
	Event protocol.Event
}

// EvCaptureStarted reports that the microphone is live for capture ID.
type EvCaptureStarted struct {
	actor.InputBase
	ID uint64
}

// EvCaptureResult carries a transcription from local capture ID.
type EvCaptureResult struct {
	actor.InputBase
	ID   uint64
	Text string
}

// EvCaptureEnded reports that capture ID stopped, with or without a result.
type EvCaptureEnded struct {
	actor.InputBase
	ID uint64
}

// EvPlaybackStarted reports that an utterance began playing.
type EvPlaybackStarted struct {
	actor.InputBase
	ID string
}

// EvPlaybackFinished reports that an utterance finished playing.
type EvPlaybackFinished struct {
	actor.InputBase
	ID string
}

// EvSendFailed reports that an outbound frame could not be delivered.
type EvSendFailed struct {
	actor.InputBase
	Err error
}

// Effects: requested side effects.

// EffCue plays a sound cue.
type EffCue struct {
	actor.EffectBase
	Name cue.Name
}

// EffAppend appends to the transcript.
type EffAppend struct {
	actor.EffectBase
	Role      transcript.Role
	Text      string
	IsCommand bool
}

// EffSend transmits a frame on the realtime channel.
type EffSend struct {
	actor.EffectBase
	Frame protocol.Outbound
}

// EffSpeak queues an utterance for playback.
type EffSpeak struct {
	actor.EffectBase
	Text     string
	Language string
	Pitch    float64
}

// EffStartCapture starts local speech capture. Events for the capture carry
// ID back.
type EffStartCapture struct {
	actor.EffectBase
	ID       uint64
	Language string
}

// EffStopCapture stops local speech capture.
type EffStopCapture struct{ actor.EffectBase }

// EffLogin calls the gateway's Login.
type EffLogin struct {
	actor.EffectBase
	Username string
	Password string
}

// EffRegister calls the gateway's Register.
type EffRegister struct {
	actor.EffectBase
	Username string
	Email    string
	Password string
}

// EffSubscribe calls the gateway's Subscribe.
type EffSubscribe struct {
	actor.EffectBase
	Token string
	Plan  auth.Plan
}

// EffValidateToken fetches the profile for a stored token.
type EffValidateToken struct {
	actor.EffectBase
	Token string
}

// EffLoadToken reads the persisted token and reports [EvStoredToken].
type EffLoadToken struct{ actor.EffectBase }

// EffPersistToken stores the token.
type EffPersistToken struct {
	actor.EffectBase
	Token string
}

// EffClearToken removes the stored token.
type EffClearToken struct{ actor.EffectBase }

// EffOpenChannel starts the connection manager.
type EffOpenChannel struct{ actor.EffectBase }

// EffCloseChannel stops the connection manager.
type EffCloseChannel struct{ actor.EffectBase }

// EffSchedule delivers Input after a delay.
type EffSchedule struct {
	actor.EffectBase
	Input actor.Input
	After time.Duration
}

// EffResetTranscript clears the transcript.
type EffResetTranscript struct{ actor.EffectBase }

// EffExit ends the process.
type EffExit struct{ actor.EffectBase }
