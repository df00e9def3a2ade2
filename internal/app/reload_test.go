package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/yuva/internal/config"
	connmock "github.com/MrWong99/yuva/internal/conn/mock"
	cuemock "github.com/MrWong99/yuva/internal/cue/mock"
	"github.com/MrWong99/yuva/internal/session"
	speechmock "github.com/MrWong99/yuva/internal/speech/mock"
	"github.com/MrWong99/yuva/internal/tokenstore"
)

func TestApplyConfig_LiveSettings(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "yuva.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := config.Default()
	cfg.Session.BootDuration = 0
	level := new(slog.LevelVar)

	a, err := New(cfg,
		WithDialer(connmock.NewDialer()),
		WithSpeech(&speechmock.Adapter{}),
		WithCues(&cuemock.Emitter{}),
		WithTokenStore(&tokenstore.Memory{}),
		WithLogLevel(level),
		WithConfigWatcher(path),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.watcher == nil {
		t.Fatal("watcher not created")
	}

	next := config.Default()
	next.LogLevel = config.LogDebug
	next.Session.Language = "ml-IN"
	next.Session.Quantum = config.QuantumConfig{Enabled: true, Tint: "red", Pitch: 1.1}
	next.Backend.WSURL = "ws://elsewhere/ws"
	a.applyConfig(config.Change{Old: cfg, New: next, Diff: config.Diff(cfg, next)})

	if got := level.Level(); got != slog.LevelDebug {
		t.Errorf("log level = %v, want debug", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	want := session.Quantum{Enabled: true, Tint: session.TintRed, Pitch: 1.1}
	deadline := time.Now().Add(2 * time.Second)
	for {
		s := a.Snapshot()
		if s.Language == "ml-IN" && s.Quantum == want {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("settings not applied: language=%q quantum=%+v", s.Language, s.Quantum)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoadToken_LocalExpiry(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := &tokenstore.Memory{}
	rt := &runtime{tokens: store, now: func() time.Time { return now }}

	if ev := rt.loadToken(); ev.Token != "" {
		t.Errorf("empty store gave token %q", ev.Token)
	}

	// Opaque tokens carry no expiry and are always validated remotely.
	_ = store.Save("opaque")
	if ev := rt.loadToken(); ev.Token != "opaque" || ev.Expired {
		t.Errorf("opaque token = %+v", ev)
	}
}
