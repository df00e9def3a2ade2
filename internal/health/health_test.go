package health

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/yuva/internal/observe"
)

func decode(t *testing.T, body io.Reader) result {
	t.Helper()
	var res result
	if err := json.NewDecoder(body).Decode(&res); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return res
}

func TestHealthz_AlwaysReturns200(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "channel", Check: func(context.Context) error { return errors.New("closed") }})

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if res := decode(t, rec.Body); res.Status != "ok" {
		t.Errorf("status = %q, want ok", res.Status)
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	pass := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("channel closed") }

	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{
			name:       "no checkers",
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "all pass",
			checkers:   []Checker{{"session", pass}, {"channel", pass}},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
			wantChecks: map[string]string{"session": "ok", "channel": "ok"},
		},
		{
			name:       "one fails",
			checkers:   []Checker{{"session", pass}, {"channel", fail}},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "fail",
			wantChecks: map[string]string{"session": "ok", "channel": "fail: channel closed"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			New(tt.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			res := decode(t, rec.Body)
			if res.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", res.Status, tt.wantStatus)
			}
			for k, v := range tt.wantChecks {
				if res.Checks[k] != v {
					t.Errorf("checks[%q] = %q, want %q", k, res.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_CheckGetsDeadline(t *testing.T) {
	t.Parallel()
	var hadDeadline bool
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}})
	h.Readyz(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))
	if !hadDeadline {
		t.Error("checker context had no deadline")
	}
}

func TestNewServer_BadAddr(t *testing.T) {
	t.Parallel()
	if _, err := NewServer("not-an-addr:xx", New()); err == nil {
		t.Fatal("expected listen error, got nil")
	}
}

func startServer(t *testing.T, s *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestServer_Routes(t *testing.T) {
	t.Parallel()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "yuva_frames_received_total 3\n")
	})
	s, err := NewServer("127.0.0.1:0",
		New(Checker{Name: "channel", Check: func(context.Context) error { return errors.New("closed") }}),
		WithMetricsHandler(metrics),
	)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	startServer(t, s)
	base := "http://" + s.Addr()

	if code, _ := get(t, base+"/healthz"); code != http.StatusOK {
		t.Errorf("/healthz = %d, want 200", code)
	}
	if code, body := get(t, base+"/readyz"); code != http.StatusServiceUnavailable || !strings.Contains(body, "fail: closed") {
		t.Errorf("/readyz = %d %q", code, body)
	}
	if code, body := get(t, base+"/metrics"); code != http.StatusOK || !strings.Contains(body, "yuva_frames_received_total") {
		t.Errorf("/metrics = %d %q", code, body)
	}
	if code, _ := get(t, base+"/missing"); code != http.StatusNotFound {
		t.Errorf("/missing = %d, want 404", code)
	}
}

func TestServer_DefaultMetricsHandler(t *testing.T) {
	t.Parallel()
	s, err := NewServer("127.0.0.1:0", New())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	startServer(t, s)

	code, body := get(t, "http://"+s.Addr()+"/metrics")
	if code != http.StatusOK {
		t.Errorf("/metrics = %d, want 200", code)
	}
	// The default registry always carries the Go collector.
	if !strings.Contains(body, "go_goroutines") {
		t.Errorf("/metrics body missing go_goroutines")
	}
}

func TestServer_ObserveMiddleware(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	m, err := observe.NewMetrics(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	s, err := NewServer("127.0.0.1:0", New(), WithObserveMetrics(m))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	startServer(t, s)

	if code, _ := get(t, "http://"+s.Addr()+"/healthz"); code != http.StatusOK {
		t.Fatalf("/healthz = %d, want 200", code)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			if md.Name == "yuva.http.request.duration" {
				return
			}
		}
	}
	t.Error("yuva.http.request.duration not recorded")
}
