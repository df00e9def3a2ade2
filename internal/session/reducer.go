package session

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrWong99/yuva/internal/actor"
	"github.com/MrWong99/yuva/internal/auth"
	"github.com/MrWong99/yuva/internal/cue"
	"github.com/MrWong99/yuva/internal/protocol"
	"github.com/MrWong99/yuva/internal/speech"
	"github.com/MrWong99/yuva/internal/transcript"
	"github.com/MrWong99/yuva/internal/voicecmd"
)

// User-visible texts.
const (
	OfflineText     = "OFFLINE MODE: Cannot connect to Core."
	TestVoiceText   = "Voice systems calibrated."
	errInvalidCreds = "ACCESS DENIED: Invalid Credentials"
	errTransaction  = "TRANSACTION FAILED"
	errNetwork      = "NETWORK FAILURE: Cannot reach Core."
	errExpired      = "SESSION EXPIRED: Please authenticate."
)

// WelcomeText is the greeting appended when the session comes online.
func WelcomeText(p auth.Profile) string {
	return fmt.Sprintf("WELCOME BACK, %s. SUBSCRIPTION: %s. SYSTEM ONLINE.", strings.ToUpper(p.Username), p.Subscription)
}

// Reduce is the session reducer. Inputs that do not apply in the current
// phase are ignored.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	if state.Halted {
		return state, nil
	}
	switch in := input.(type) {
	case CmdStart:
		return reduceStart(state)
	case CmdBootComplete:
		return reduceBootComplete(state)
	case CmdLogin:
		return reduceLogin(state, in)
	case CmdRegister:
		return reduceRegister(state, in)
	case CmdSubscribe:
		return reduceSubscribe(state, in)
	case CmdSkipUpsell:
		return reduceSkipUpsell(state)
	case CmdShowView:
		return reduceShowView(state, in)
	case CmdLogout:
		return reduceLogout(state)
	case CmdSubmit:
		return reduceSubmit(state, in.Text)
	case CmdToggleListening:
		return reduceToggleListening(state)
	case CmdRequestBackendListen:
		return sendOrOffline(state, protocol.Listen())
	case CmdStartPassive:
		return sendOrOffline(state, protocol.Start())
	case CmdStopPassive:
		return sendOrOffline(state, protocol.Stop())
	case CmdPower:
		return reducePower(state, in.Kind)
	case CmdPowerComplete:
		return reducePowerComplete(state)
	case CmdSetLanguage:
		if speech.IsSupported(in.Code) {
			state.Language = in.Code
		}
		return state, nil
	case CmdSetQuantum:
		if in.Quantum.Validate() == nil {
			state.Quantum = in.Quantum
		}
		return state, nil
	case CmdTestVoice:
		if state.Phase == PhaseBooting || state.poweringDown() {
			return state, nil
		}
		return state, []actor.Effect{speak(state, TestVoiceText)}

	case EvStoredToken:
		return reduceStoredToken(state, in)
	case EvAuthSucceeded:
		return reduceAuthSucceeded(state, in)
	case EvAuthFailed:
		return reduceAuthFailed(state, in)
	case EvRegistered:
		return reduceRegistered(state, in)
	case EvChannelOpened:
		if state.Online() {
			state.ChannelOpen = true
		}
		return state, nil
	case EvChannelClosed:
		return reduceChannelClosed(state)
	case EvBackend:
		return reduceBackend(state, in.Event)
	case EvCaptureStarted:
		return state, nil
	case EvCaptureResult:
		if in.ID != state.CaptureID || !state.Capturing {
			return state, nil
		}
		state.Capturing = false
		return reduceSubmit(state, in.Text)
	case EvCaptureEnded:
		if in.ID != state.CaptureID {
			return state, nil
		}
		return reduceCaptureEnded(state)
	case EvPlaybackStarted:
		return reducePlaybackStarted(state)
	case EvPlaybackFinished:
		return reducePlaybackFinished(state)
	case EvSendFailed:
		if !state.Online() {
			return state, nil
		}
		return offline(state)
	default:
		return state, nil
	}
}

func (s State) poweringDown() bool {
	return s.Phase == PhasePoweringDown || s.Phase == PhasePoweringRestart
}

// setStatus writes Status and bumps the generation, even when the value does
// not change, so pending completions know a newer write happened.
func (s *State) setStatus(st Status) {
	s.Status = st
	s.StatusGen++
}

func playCue(n cue.Name) actor.Effect { return EffCue{Name: n} }

func speak(s State, text string) actor.Effect {
	pitch := 1.0
	if s.Quantum.Enabled {
		pitch = s.Quantum.Pitch
	}
	return EffSpeak{
		Text:     speech.Pronounce(text, s.Language),
		Language: s.Language,
		Pitch:    pitch,
	}
}

func reduceStart(state State) (State, []actor.Effect) {
	if state.Phase != PhaseBooting || state.BootPending {
		return state, nil
	}
	state.BootPending = true
	return state, []actor.Effect{
		playCue(cue.Boot),
		EffSchedule{Input: CmdBootComplete{}, After: state.Timing.Boot},
	}
}

func reduceBootComplete(state State) (State, []actor.Effect) {
	if state.Phase != PhaseBooting {
		return state, nil
	}
	state.BootPending = false
	state.Phase = PhaseLocked
	state.View = ViewLogin
	return state, []actor.Effect{EffLoadToken{}}
}

func reduceStoredToken(state State, ev EvStoredToken) (State, []actor.Effect) {
	if state.Phase != PhaseLocked || ev.Token == "" {
		return state, nil
	}
	if ev.Expired {
		state.AuthError = errExpired
		return state, []actor.Effect{EffClearToken{}}
	}
	state.Phase = PhaseAuthenticating
	state.AuthOp = OpValidate
	state.AuthError = ""
	return state, []actor.Effect{EffValidateToken{Token: ev.Token}}
}

// canAuthenticate gates new credential submissions. A request while another
// call is in flight is dropped.
func (s State) canAuthenticate() bool {
	return s.Phase == PhaseLocked && s.View != ViewSubscription
}

func reduceLogin(state State, cmd CmdLogin) (State, []actor.Effect) {
	if !state.canAuthenticate() || cmd.Username == "" || cmd.Password == "" {
		return state, nil
	}
	state.Phase = PhaseAuthenticating
	state.AuthOp = OpLogin
	state.AuthError = ""
	return state, []actor.Effect{EffLogin{Username: cmd.Username, Password: cmd.Password}}
}

func reduceRegister(state State, cmd CmdRegister) (State, []actor.Effect) {
	if !state.canAuthenticate() || cmd.Username == "" || cmd.Password == "" {
		return state, nil
	}
	state.Phase = PhaseAuthenticating
	state.AuthOp = OpRegister
	state.AuthError = ""
	return state, []actor.Effect{EffRegister{
		Username: cmd.Username,
		Email:    cmd.Email,
		Password: cmd.Password,
	}}
}

func reduceRegistered(state State, ev EvRegistered) (State, []actor.Effect) {
	if state.Phase != PhaseAuthenticating || state.AuthOp != OpRegister {
		return state, nil
	}
	state.AuthOp = OpLogin
	return state, []actor.Effect{
		playCue(cue.Success),
		EffLogin{Username: ev.Username, Password: ev.Password},
	}
}

func reduceSubscribe(state State, cmd CmdSubscribe) (State, []actor.Effect) {
	if state.Phase != PhaseLocked || state.View != ViewSubscription || state.Token == "" || !cmd.Plan.Valid() {
		return state, nil
	}
	state.Phase = PhaseAuthenticating
	state.AuthOp = OpSubscribe
	state.AuthError = ""
	return state, []actor.Effect{EffSubscribe{Token: state.Token, Plan: cmd.Plan}}
}

func reduceSkipUpsell(state State) (State, []actor.Effect) {
	if state.Phase != PhaseLocked || state.View != ViewSubscription || state.User == nil {
		return state, nil
	}
	state, effects := enterOnline(state)
	return state, append([]actor.Effect{playCue(cue.Click)}, effects...)
}

func reduceShowView(state State, cmd CmdShowView) (State, []actor.Effect) {
	if state.Phase != PhaseLocked || state.View == ViewSubscription {
		return state, nil
	}
	if cmd.View != ViewLogin && cmd.View != ViewRegister {
		return state, nil
	}
	state.View = cmd.View
	state.AuthError = ""
	return state, nil
}

func reduceAuthSucceeded(state State, ev EvAuthSucceeded) (State, []actor.Effect) {
	if state.Phase != PhaseAuthenticating || ev.Op != state.AuthOp {
		return state, nil
	}
	profile := ev.Profile
	state.Token = ev.Token
	state.User = &profile
	state.AuthOp = ""
	state.AuthError = ""

	var effects []actor.Effect
	switch ev.Op {
	case OpLogin:
		effects = append(effects, playCue(cue.AuthSuccess), EffPersistToken{Token: ev.Token})
	case OpSubscribe:
		effects = append(effects, playCue(cue.Coin))
	}

	if profile.Subscription == auth.PlanFree && ev.Op != OpSubscribe {
		state.Phase = PhaseLocked
		state.View = ViewSubscription
		return state, effects
	}
	state, online := enterOnline(state)
	return state, append(effects, online...)
}

func reduceAuthFailed(state State, ev EvAuthFailed) (State, []actor.Effect) {
	if state.Phase != PhaseAuthenticating || ev.Op != state.AuthOp {
		return state, nil
	}
	state.Phase = PhaseLocked
	state.AuthOp = ""
	state.AuthError = authErrorText(ev.Op, ev.Err)
	effects := []actor.Effect{playCue(cue.AuthFail)}

	unauthorized := errors.Is(ev.Err, auth.ErrUnauthorized)
	switch ev.Op {
	case OpLogin:
		state.View = ViewLogin
	case OpRegister:
		state.View = ViewRegister
	case OpValidate:
		state.View = ViewLogin
		state.Token = ""
		if unauthorized {
			effects = append(effects, EffClearToken{})
		}
	case OpSubscribe:
		if unauthorized {
			state.View = ViewLogin
			state.Token = ""
			state.User = nil
			effects = append(effects, EffClearToken{})
		} else {
			state.View = ViewSubscription
		}
	}
	return state, effects
}

func authErrorText(op AuthOp, err error) string {
	if errors.Is(err, auth.ErrNetworkFailure) {
		return errNetwork
	}
	if errors.Is(err, auth.ErrUnauthorized) {
		return errExpired
	}
	switch op {
	case OpRegister:
		var re *auth.RegistrationError
		if errors.As(err, &re) && re.Reason != "" {
			return re.Reason
		}
		return "REGISTRATION FAILED"
	case OpSubscribe:
		return errTransaction
	case OpValidate:
		return errExpired
	default:
		return errInvalidCreds
	}
}

func enterOnline(state State) (State, []actor.Effect) {
	state.Phase = PhaseOnline
	state.View = ""
	state.AuthError = ""
	state.ChannelOpen = false
	state.PassiveListening = false
	state.setStatus(StatusIdle)

	var effects []actor.Effect
	if state.User != nil {
		effects = append(effects, EffAppend{Role: transcript.RoleModel, Text: WelcomeText(*state.User)})
	}
	return state, append(effects, EffOpenChannel{})
}

func reduceLogout(state State) (State, []actor.Effect) {
	if !state.Online() && !(state.Phase == PhaseLocked && state.View == ViewSubscription) {
		return state, nil
	}
	state.Phase = PhaseLocked
	state.View = ViewLogin
	state.Token = ""
	state.User = nil
	state.AuthError = ""
	state.ChannelOpen = false
	state.PassiveListening = false
	state.Capturing = false
	state.setStatus(StatusIdle)
	return state, []actor.Effect{
		playCue(cue.Click),
		EffStopCapture{},
		EffCloseChannel{},
		EffClearToken{},
	}
}

func reduceSubmit(state State, text string) (State, []actor.Effect) {
	text = strings.TrimSpace(text)
	if !state.Online() || text == "" {
		return state, nil
	}
	effects := []actor.Effect{EffAppend{Role: transcript.RoleUser, Text: text}}
	var more []actor.Effect

	// Power commands run the local sequence. The backend still hears them
	// when the channel is up; the frame is queued ahead of the close.
	var power PowerKind
	switch action, _ := voicecmd.Match(text); action {
	case voicecmd.Shutdown:
		power = PowerShutdown
	case voicecmd.Restart:
		power = PowerRestart
	}
	if power != "" {
		if state.ChannelOpen {
			effects = append(effects, EffSend{Frame: protocol.Command(text)})
		}
		state, more = reducePower(state, power)
		return state, append(effects, more...)
	}

	state.setStatus(StatusProcessing)
	if !state.ChannelOpen {
		state, more = offline(state)
		return state, append(effects, more...)
	}
	return state, append(effects, playCue(cue.Sent), EffSend{Frame: protocol.Command(text)})
}

// offline reports an undeliverable command and returns to idle.
func offline(state State) (State, []actor.Effect) {
	state.setStatus(StatusIdle)
	return state, []actor.Effect{
		EffAppend{Role: transcript.RoleSystem, Text: OfflineText, IsCommand: true},
	}
}

func sendOrOffline(state State, frame protocol.Outbound) (State, []actor.Effect) {
	if !state.Online() {
		return state, nil
	}
	if !state.ChannelOpen {
		return offline(state)
	}
	return state, []actor.Effect{EffSend{Frame: frame}}
}

func reduceToggleListening(state State) (State, []actor.Effect) {
	if !state.Online() {
		return state, nil
	}
	if state.Capturing {
		state.Capturing = false
		state.setStatus(StatusIdle)
		return state, []actor.Effect{playCue(cue.Click), EffStopCapture{}}
	}
	state.Capturing = true
	state.CaptureID++
	state.setStatus(StatusListening)
	state.CaptureGen = state.StatusGen
	return state, []actor.Effect{playCue(cue.Click), EffStartCapture{ID: state.CaptureID, Language: state.Language}}
}

func reduceCaptureEnded(state State) (State, []actor.Effect) {
	state.Capturing = false
	if state.Online() && state.Status == StatusListening && state.StatusGen == state.CaptureGen {
		state.setStatus(StatusIdle)
	}
	return state, nil
}

func reducePlaybackStarted(state State) (State, []actor.Effect) {
	if !state.Online() {
		return state, nil
	}
	state.setStatus(StatusSpeaking)
	state.PlaybackGen = state.StatusGen
	return state, nil
}

func reducePlaybackFinished(state State) (State, []actor.Effect) {
	if state.Online() && state.StatusGen == state.PlaybackGen {
		state.setStatus(StatusIdle)
	}
	return state, nil
}

func reduceChannelClosed(state State) (State, []actor.Effect) {
	state.ChannelOpen = false
	state.PassiveListening = false
	if state.Online() {
		state.setStatus(StatusIdle)
	}
	return state, nil
}

var backendStatus = map[protocol.BackendStatus]Status{
	protocol.StatusListening:  StatusListening,
	protocol.StatusProcessing: StatusProcessing,
	protocol.StatusIdle:       StatusIdle,
	protocol.StatusExecuting:  StatusExecuting,
}

func reduceBackend(state State, ev protocol.Event) (State, []actor.Effect) {
	if !state.Online() {
		return state, nil
	}
	switch e := ev.(type) {
	case protocol.Status:
		switch e.Status {
		case protocol.StatusStarted:
			state.PassiveListening = true
		case protocol.StatusStopped:
			state.PassiveListening = false
		default:
			if st, ok := backendStatus[e.Status]; ok {
				state.setStatus(st)
			}
		}
		return state, nil
	case protocol.Transcript:
		return state, []actor.Effect{EffAppend{Role: transcript.RoleUser, Text: e.Text}}
	case protocol.Speak:
		return state, []actor.Effect{
			EffAppend{Role: transcript.RoleModel, Text: e.Text},
			speak(state, e.Text),
		}
	case protocol.Stats:
		state.Telemetry = Telemetry{CPU: e.CPU, RAM: e.RAM, Battery: e.Battery, Received: true}
		return state, nil
	default:
		return state, nil
	}
}

func reducePower(state State, kind PowerKind) (State, []actor.Effect) {
	if state.Phase != PhaseOnline && state.Phase != PhaseLocked {
		return state, nil
	}
	switch kind {
	case PowerShutdown:
		state.Phase = PhasePoweringDown
	case PowerRestart:
		state.Phase = PhasePoweringRestart
	default:
		return state, nil
	}
	state.Power = kind
	state.ChannelOpen = false
	state.PassiveListening = false
	state.Capturing = false
	state.setStatus(StatusIdle)
	return state, []actor.Effect{
		playCue(cue.Shutdown),
		EffStopCapture{},
		EffCloseChannel{},
		EffSchedule{Input: CmdPowerComplete{}, After: state.Timing.Power},
	}
}

func reducePowerComplete(state State) (State, []actor.Effect) {
	switch state.Phase {
	case PhasePoweringDown:
		state.Halted = true
		return state, []actor.Effect{EffExit{}}
	case PhasePoweringRestart:
		// Settings survive a restart; everything else starts over.
		next := New(state.Language, state.Quantum, state.Timing)
		next.StatusGen = state.StatusGen + 1
		next.CaptureID = state.CaptureID
		next, effects := reduceStart(next)
		return next, append([]actor.Effect{EffResetTranscript{}}, effects...)
	default:
		return state, nil
	}
}
