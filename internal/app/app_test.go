package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/yuva/internal/app"
	"github.com/MrWong99/yuva/internal/auth"
	"github.com/MrWong99/yuva/internal/config"
	connmock "github.com/MrWong99/yuva/internal/conn/mock"
	"github.com/MrWong99/yuva/internal/cue"
	cuemock "github.com/MrWong99/yuva/internal/cue/mock"
	"github.com/MrWong99/yuva/internal/observe"
	"github.com/MrWong99/yuva/internal/session"
	speechmock "github.com/MrWong99/yuva/internal/speech/mock"
	"github.com/MrWong99/yuva/internal/tokenstore"
	"github.com/MrWong99/yuva/internal/transcript"
)

const waitTimeout = 3 * time.Second

// ─── fake backend ────────────────────────────────────────────────────────────

type backend struct {
	mu       sync.Mutex
	accounts map[string]auth.Plan // username → plan; password is "pw"
	tokens   map[string]string    // token → username
}

func newBackend(t *testing.T) (*backend, *httptest.Server) {
	t.Helper()
	b := &backend{accounts: map[string]auth.Plan{}, tokens: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		user := r.PostForm.Get("username")
		b.mu.Lock()
		_, ok := b.accounts[user]
		b.mu.Unlock()
		if !ok || r.PostForm.Get("password") != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		tok := b.issue(user)
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": tok, "token_type": "bearer"})
	})
	mux.HandleFunc("POST /api/register", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, exists := b.accounts[body.Username]; exists {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"detail":"Username already registered"}`))
			return
		}
		b.accounts[body.Username] = auth.PlanFree
	})
	mux.HandleFunc("GET /api/me", func(w http.ResponseWriter, r *http.Request) {
		user, ok := b.userFor(r)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		b.mu.Lock()
		plan := b.accounts[user]
		b.mu.Unlock()
		_ = json.NewEncoder(w).Encode(auth.Profile{Username: user, Subscription: plan})
	})
	mux.HandleFunc("POST /api/subscription", func(w http.ResponseWriter, r *http.Request) {
		user, ok := b.userFor(r)
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Plan auth.Plan `json:"plan"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		b.mu.Lock()
		b.accounts[user] = body.Plan
		b.mu.Unlock()
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) add(user string, plan auth.Plan) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accounts[user] = plan
}

func (b *backend) issue(user string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	tok := "tok-" + user
	b.tokens[tok] = user
	return tok
}

func (b *backend) userFor(r *http.Request) (string, bool) {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	u, ok := b.tokens[tok]
	return u, ok
}

// ─── harness ─────────────────────────────────────────────────────────────────

type harness struct {
	app     *app.App
	backend *backend
	dialer  *connmock.Dialer
	speech  *speechmock.Adapter
	cues    *cuemock.Emitter
	tokens  *tokenstore.Memory
	done    chan error
}

func newHarness(t *testing.T, setup func(h *harness)) *harness {
	t.Helper()
	b, srv := newBackend(t)

	cfg := config.Default()
	cfg.Backend.HTTPURL = srv.URL
	cfg.Backend.ReconnectDelay = 20 * time.Millisecond
	cfg.Backend.AuthTimeout = time.Second
	cfg.Session.BootDuration = 0
	cfg.Session.PowerDuration = 0

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	h := &harness{
		backend: b,
		dialer:  connmock.NewDialer(),
		speech:  &speechmock.Adapter{},
		cues:    &cuemock.Emitter{},
		tokens:  &tokenstore.Memory{},
		done:    make(chan error, 1),
	}
	if setup != nil {
		setup(h)
	}

	a, err := app.New(cfg,
		app.WithDialer(h.dialer),
		app.WithSpeech(h.speech),
		app.WithCues(h.cues),
		app.WithTokenStore(h.tokens),
		app.WithMetrics(metrics),
	)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	h.app = a

	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.done <- a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitTimeout):
			t.Error("Run did not return after cancel")
		}
	})
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) waitPhase(t *testing.T, p session.Phase) session.State {
	t.Helper()
	waitFor(t, "phase "+string(p), func() bool { return h.app.Snapshot().Phase == p })
	return h.app.Snapshot()
}

func (h *harness) hasEntry(role transcript.Role, text string) bool {
	for _, e := range h.app.Transcript() {
		if e.Role == role && e.Text == text {
			return true
		}
	}
	return false
}

// online logs alice in and returns the channel opened for her.
func (h *harness) online(t *testing.T) *connmock.Channel {
	t.Helper()
	ctx := context.Background()
	h.backend.add("alice", auth.PlanPro)
	h.waitPhase(t, session.PhaseLocked)
	if err := h.app.Login(ctx, "alice", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	h.waitPhase(t, session.PhaseOnline)

	dctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()
	ch, err := h.dialer.Next(dctx)
	if err != nil {
		t.Fatalf("no channel dialed: %v", err)
	}
	waitFor(t, "channel open", func() bool { return h.app.Snapshot().ChannelOpen })
	return ch
}

func written(ch *connmock.Channel, frame string) bool {
	return slices.Contains(ch.Written(), frame)
}

func jwtWithExpiry(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": exp.Unix(),
	}).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestApp_BootLoginOnline(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	st := h.waitPhase(t, session.PhaseLocked)
	if st.View != session.ViewLogin {
		t.Errorf("View = %q, want LOGIN", st.View)
	}

	ch := h.online(t)

	waitFor(t, "start frame", func() bool { return written(ch, `{"action":"start"}`) })
	waitFor(t, "token persisted", func() bool {
		tok, err := h.tokens.Load()
		return err == nil && tok == "tok-alice"
	})
	want := session.WelcomeText(auth.Profile{Username: "alice", Subscription: auth.PlanPro})
	waitFor(t, "welcome entry", func() bool { return h.hasEntry(transcript.RoleModel, want) })

	played := h.cues.Played()
	for _, c := range []cue.Name{cue.Boot, cue.AuthSuccess} {
		if !slices.Contains(played, c) {
			t.Errorf("cue %q not played; got %v", c, played)
		}
	}
}

func TestApp_LoginFailure(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.waitPhase(t, session.PhaseLocked)

	if err := h.app.Login(context.Background(), "nobody", "pw"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	waitFor(t, "auth error", func() bool {
		s := h.app.Snapshot()
		return s.Phase == session.PhaseLocked && s.AuthError != ""
	})
	if n := h.dialer.Dials(); n != 0 {
		t.Errorf("dials = %d, want 0 while locked", n)
	}
	if !slices.Contains(h.cues.Played(), cue.AuthFail) {
		t.Errorf("auth_fail cue not played: %v", h.cues.Played())
	}
}

func TestApp_StoredTokenValidated(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) {
		h.backend.add("alice", auth.PlanUltra)
		_ = h.tokens.Save(h.backend.issue("alice"))
	})

	st := h.waitPhase(t, session.PhaseOnline)
	if st.User == nil || st.User.Subscription != auth.PlanUltra {
		t.Errorf("User = %+v, want ULTRA alice", st.User)
	}
}

func TestApp_StoredTokenRejected(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) {
		_ = h.tokens.Save("tok-revoked")
	})

	waitFor(t, "token cleared", func() bool {
		_, err := h.tokens.Load()
		return err != nil
	})
	st := h.waitPhase(t, session.PhaseLocked)
	if st.Token != "" {
		t.Errorf("Token = %q, want empty", st.Token)
	}
}

func TestApp_ExpiredStoredTokenNotSent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) {
		_ = h.tokens.Save(jwtWithExpiry(t, time.Now().Add(-time.Hour)))
	})

	waitFor(t, "expired token cleared", func() bool {
		_, err := h.tokens.Load()
		return err != nil
	})
	st := h.waitPhase(t, session.PhaseLocked)
	if st.AuthError == "" {
		t.Error("AuthError empty, want session expired message")
	}
}

func TestApp_RegisterThenLogin(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.waitPhase(t, session.PhaseLocked)
	ctx := context.Background()

	if err := h.app.ShowView(ctx, session.ViewRegister); err != nil {
		t.Fatalf("ShowView: %v", err)
	}
	if err := h.app.Register(ctx, "bob", "bob@example.com", "pw"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// New accounts are FREE and land on the upsell view.
	waitFor(t, "upsell view", func() bool {
		s := h.app.Snapshot()
		return s.Phase == session.PhaseLocked && s.View == session.ViewSubscription
	})
	if err := h.app.Subscribe(ctx, auth.PlanPro); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	st := h.waitPhase(t, session.PhaseOnline)
	if st.User == nil || st.User.Subscription != auth.PlanPro {
		t.Errorf("User = %+v, want PRO bob", st.User)
	}
	played := h.cues.Played()
	for _, c := range []cue.Name{cue.Success, cue.Coin} {
		if !slices.Contains(played, c) {
			t.Errorf("cue %q not played; got %v", c, played)
		}
	}
}

func TestApp_SkipUpsell(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.backend.add("carol", auth.PlanFree)
	h.waitPhase(t, session.PhaseLocked)
	ctx := context.Background()

	_ = h.app.Login(ctx, "carol", "pw")
	waitFor(t, "upsell view", func() bool { return h.app.Snapshot().View == session.ViewSubscription })
	if err := h.app.SkipUpsell(ctx); err != nil {
		t.Fatalf("SkipUpsell: %v", err)
	}
	st := h.waitPhase(t, session.PhaseOnline)
	if st.User.Subscription != auth.PlanFree {
		t.Errorf("Subscription = %q, want FREE", st.User.Subscription)
	}
}

func TestApp_SubmitAndSpeak(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ch := h.online(t)
	ctx := context.Background()

	if err := h.app.Submit(ctx, "  open the pod bay doors "); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "command frame", func() bool {
		return written(ch, `{"action":"command","text":"open the pod bay doors"}`)
	})
	if !h.hasEntry(transcript.RoleUser, "open the pod bay doors") {
		t.Error("user entry missing")
	}

	ch.Push([]byte(`{"type":"speak","data":"YUVA is online"}`))
	waitFor(t, "model entry", func() bool { return h.hasEntry(transcript.RoleModel, "YUVA is online") })
	waitFor(t, "playback", func() bool { return len(h.speech.SpeakCalls()) == 1 })

	u := h.speech.SpeakCalls()[0]
	if u.Text != "You-vah is online" {
		t.Errorf("spoken text = %q, want pronounced form", u.Text)
	}
	if u.Pitch != 1.0 || u.Language != "en-US" {
		t.Errorf("utterance = %+v", u)
	}
	waitFor(t, "idle after playback", func() bool { return h.app.Snapshot().Status == session.StatusIdle })
}

func TestApp_BackendTelemetryAndStatus(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ch := h.online(t)

	ch.Push([]byte(`{"type":"stats","data":{"cpu":12.5,"ram":40,"battery":88}}`))
	ch.Push([]byte(`{"type":"status","data":"processing"}`))
	waitFor(t, "telemetry", func() bool { return h.app.Snapshot().Telemetry.Received })
	waitFor(t, "processing", func() bool { return h.app.Snapshot().Status == session.StatusProcessing })

	tel := h.app.Snapshot().Telemetry
	if tel.CPU != 12.5 || tel.RAM != 40 || tel.Battery != 88 {
		t.Errorf("Telemetry = %+v", tel)
	}
}

func TestApp_BackendFramesSurviveSlowListener(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ch := h.online(t)

	// Every stats frame changes the state, so each one waits on the listener
	// and the reader outpaces the loop.
	h.app.OnChange(func(session.State) { time.Sleep(time.Millisecond) })

	const n = 300
	for i := range n {
		ch.Push(fmt.Appendf(nil, `{"type":"stats","data":{"cpu":%d,"ram":1,"battery":1}}`, i+1))
		ch.Push(fmt.Appendf(nil, `{"type":"transcript","data":"line-%d"}`, i))
	}

	lines := func() []string {
		var out []string
		for _, e := range h.app.Transcript() {
			if e.Role == transcript.RoleUser && strings.HasPrefix(e.Text, "line-") {
				out = append(out, e.Text)
			}
		}
		return out
	}
	deadline := time.Now().Add(4 * waitTimeout)
	for len(lines()) < n && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	got := lines()
	if len(got) != n {
		t.Fatalf("transcript lines = %d, want %d", len(got), n)
	}
	for i, text := range got {
		if want := fmt.Sprintf("line-%d", i); text != want {
			t.Fatalf("entry %d = %q, want %q", i, text, want)
		}
	}
	waitFor(t, "last stats frame", func() bool { return h.app.Snapshot().Telemetry.CPU == n })
}

func TestApp_ChannelDropReconnects(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ch := h.online(t)

	ch.Drop()
	waitFor(t, "second dial", func() bool { return h.dialer.Dials() >= 2 })
	waitFor(t, "channel reopened", func() bool { return h.app.Snapshot().ChannelOpen })
}

func TestApp_SubmitOffline(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) {
		h.dialer.SetDialError(context.DeadlineExceeded)
	})
	h.backend.add("alice", auth.PlanPro)
	h.waitPhase(t, session.PhaseLocked)
	ctx := context.Background()
	_ = h.app.Login(ctx, "alice", "pw")
	h.waitPhase(t, session.PhaseOnline)

	if err := h.app.Submit(ctx, "status report"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, "offline notice", func() bool { return h.hasEntry(transcript.RoleSystem, session.OfflineText) })
	if st := h.app.Snapshot().Status; st != session.StatusIdle {
		t.Errorf("Status = %q, want IDLE", st)
	}
}

func TestApp_ToggleListeningSubmitsTranscription(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(h *harness) {
		h.speech.RecognizeText = "what time is it"
	})
	ch := h.online(t)

	if err := h.app.ToggleListening(context.Background()); err != nil {
		t.Fatalf("ToggleListening: %v", err)
	}
	waitFor(t, "captured command sent", func() bool {
		return written(ch, `{"action":"command","text":"what time is it"}`)
	})
	if got := h.speech.RecognizeCalls(); len(got) != 1 || got[0] != "en-US" {
		t.Errorf("RecognizeCalls = %v", got)
	}
}

func TestApp_Logout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ch := h.online(t)

	if err := h.app.Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	h.waitPhase(t, session.PhaseLocked)
	waitFor(t, "channel closed", ch.Closed)
	waitFor(t, "token cleared", func() bool {
		_, err := h.tokens.Load()
		return err != nil
	})
}

func TestApp_VoiceShutdownExits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ch := h.online(t)

	if err := h.app.Submit(context.Background(), "shut down the system"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-h.app.Exited():
	case <-time.After(waitTimeout):
		t.Fatal("app did not exit")
	}
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
		h.done <- err
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return after exit")
	}
	// The mock refuses writes after Close, so the frame went out first.
	if !written(ch, `{"action":"command","text":"shut down the system"}`) {
		t.Errorf("power phrase not forwarded before close; written %v", ch.Written())
	}
	if !ch.Closed() {
		t.Error("channel left open after shutdown")
	}
}

func TestApp_RestartKeepsTokenAndSettings(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.online(t)
	ctx := context.Background()

	if err := h.app.SetLanguage(ctx, "hi-IN"); err != nil {
		t.Fatalf("SetLanguage: %v", err)
	}
	if err := h.app.Power(ctx, session.PowerRestart); err != nil {
		t.Fatalf("Power: %v", err)
	}

	// The persisted token signs the user straight back in.
	waitFor(t, "second channel", func() bool { return h.dialer.Dials() >= 2 })
	st := h.waitPhase(t, session.PhaseOnline)
	if st.Language != "hi-IN" {
		t.Errorf("Language = %q, want hi-IN", st.Language)
	}
}

func TestApp_SettingsValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	if err := h.app.SetLanguage(ctx, "fr-FR"); err == nil {
		t.Error("SetLanguage(fr-FR) = nil, want error")
	}
	if err := h.app.SetQuantum(ctx, session.Quantum{Tint: "green", Pitch: 1}); err == nil {
		t.Error("SetQuantum(invalid) = nil, want error")
	}
	q := session.Quantum{Enabled: true, Tint: session.TintRed, Pitch: 1.5}
	if err := h.app.SetQuantum(ctx, q); err != nil {
		t.Fatalf("SetQuantum: %v", err)
	}
	waitFor(t, "quantum applied", func() bool { return h.app.Snapshot().Quantum == q })
}

func TestApp_TestVoiceUsesQuantumPitch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.waitPhase(t, session.PhaseLocked)
	ctx := context.Background()

	_ = h.app.SetQuantum(ctx, session.Quantum{Enabled: true, Tint: session.TintPurple, Pitch: 0.6})
	if err := h.app.TestVoice(ctx); err != nil {
		t.Fatalf("TestVoice: %v", err)
	}
	waitFor(t, "calibration phrase", func() bool { return len(h.speech.SpeakCalls()) == 1 })
	u := h.speech.SpeakCalls()[0]
	if u.Text != session.TestVoiceText || u.Pitch != 0.6 {
		t.Errorf("utterance = %+v", u)
	}
}

func TestApp_OnChange(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		phases []session.Phase
	)
	h := newHarness(t, nil)
	h.app.OnChange(func(s session.State) {
		mu.Lock()
		defer mu.Unlock()
		if len(phases) == 0 || phases[len(phases)-1] != s.Phase {
			phases = append(phases, s.Phase)
		}
	})
	h.online(t)

	mu.Lock()
	defer mu.Unlock()
	if !slices.Contains(phases, session.PhaseAuthenticating) || phases[len(phases)-1] != session.PhaseOnline {
		t.Errorf("phases = %v", phases)
	}
}

func TestApp_Shutdown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.waitPhase(t, session.PhaseLocked)

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	if err := h.app.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	select {
	case err := <-h.done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
		h.done <- err
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}
	if err := h.app.Login(context.Background(), "a", "b"); err == nil {
		t.Error("Login after shutdown = nil, want error")
	}
}

func TestNew_InvalidSpeechAdapter(t *testing.T) {
	t.Parallel()
	cfg := config.Default()
	cfg.Speech.Adapter = "cloud"
	if _, err := app.New(cfg, app.WithTokenStore(&tokenstore.Memory{})); err == nil {
		t.Fatal("expected error for unregistered speech adapter, got nil")
	}
}
