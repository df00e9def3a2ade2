// Package auth implements the Auth Gateway: credential exchange, account
// registration, subscription changes and profile lookup against the backend's
// HTTP API.
//
// Every call is single-shot with no retry and is bounded by an explicit
// timeout. Failures are reported through a small error taxonomy so the UI can
// tell a rejected password ([ErrInvalidCredentials]) from a refused
// registration ([*RegistrationError]) from an unreachable backend
// ([ErrNetworkFailure]).
//
// A Gateway allows one call in flight at a time; a concurrent call fails
// immediately with [ErrInFlight].
//
// Registration and login are separate operations. Callers that want the
// "register then sign in" flow compose [Gateway.Register] and [Gateway.Login]
// themselves so a failure is attributed to the call that produced it.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrWong99/yuva/internal/observe"
)

// DefaultBaseURL is the backend address used when none is configured.
const DefaultBaseURL = "http://localhost:8000"

// DefaultTimeout bounds each HTTP round trip.
const DefaultTimeout = 10 * time.Second

var (
	// ErrInvalidCredentials means the token endpoint rejected the login.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrRegistrationFailed is matched by every [*RegistrationError].
	ErrRegistrationFailed = errors.New("auth: registration failed")

	// ErrSubscriptionFailed means the plan change was rejected.
	ErrSubscriptionFailed = errors.New("auth: subscription failed")

	// ErrUnauthorized means the bearer token was refused.
	ErrUnauthorized = errors.New("auth: unauthorized")

	// ErrNetworkFailure covers transport errors, timeouts and unreadable
	// responses.
	ErrNetworkFailure = errors.New("auth: network failure")

	// ErrInFlight means another call on the same Gateway has not finished.
	ErrInFlight = errors.New("auth: request already in flight")
)

// defaultRegistrationReason is used when the server gives no detail.
const defaultRegistrationReason = "REGISTRATION FAILED"

// RegistrationError carries the server-supplied reason for a refused
// registration.
type RegistrationError struct {
	Reason string
}

func (e *RegistrationError) Error() string { return "auth: registration failed: " + e.Reason }

// Is makes RegistrationError match [ErrRegistrationFailed].
func (e *RegistrationError) Is(target error) bool { return target == ErrRegistrationFailed }

// Plan is a subscription tier.
type Plan string

const (
	PlanFree  Plan = "FREE"
	PlanPro   Plan = "PRO"
	PlanUltra Plan = "ULTRA"
)

// Valid reports whether p is a known tier.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanPro, PlanUltra:
		return true
	}
	return false
}

// Profile is the authenticated user as reported by GET /api/me.
type Profile struct {
	Username     string `json:"username"`
	Email        string `json:"email,omitempty"`
	Subscription Plan   `json:"subscription"`
}

// Option configures a [Gateway].
type Option func(*Gateway)

// WithTimeout overrides the per-call timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithHTTPClient replaces the HTTP client. Its own Timeout is left alone; the
// Gateway still applies its per-call deadline through the request context.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) { g.httpClient = c }
}

// WithMetrics records call counts and latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// Gateway talks to the backend's auth endpoints. It is safe for concurrent
// use, but only one call runs at a time.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	metrics    *observe.Metrics

	busy atomic.Bool
}

// New returns a Gateway for the backend at baseURL. An empty baseURL selects
// [DefaultBaseURL].
func New(baseURL string, opts ...Option) (*Gateway, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("auth: invalid base URL %q", baseURL)
	}

	g := &Gateway{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Login exchanges credentials for a bearer token and fetches the profile it
// belongs to. A profile on the FREE plan is returned like any other; routing
// such users to the upsell view is the caller's decision.
func (g *Gateway) Login(ctx context.Context, username, password string) (token string, p Profile, err error) {
	err = g.do(ctx, "login", func(ctx context.Context) error {
		token, err = g.requestToken(ctx, username, password)
		if err != nil {
			return err
		}
		p, err = g.fetchProfile(ctx, token)
		return err
	})
	return token, p, err
}

// Register creates an account. It does not sign in.
func (g *Gateway) Register(ctx context.Context, username, email, password string) error {
	return g.do(ctx, "register", func(ctx context.Context) error {
		body, err := json.Marshal(map[string]string{
			"username": username,
			"email":    email,
			"password": password,
		})
		if err != nil {
			return fmt.Errorf("auth: encode registration: %w", err)
		}
		resp, err := g.send(ctx, http.MethodPost, "/api/register", "application/json", bytes.NewReader(body), "")
		if err != nil {
			return err
		}
		defer drain(resp)

		if resp.StatusCode/100 != 2 {
			var d struct {
				Detail any `json:"detail"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&d)
			return &RegistrationError{Reason: detailText(d.Detail)}
		}
		return nil
	})
}

// Subscribe changes the plan of the account behind token and returns the
// refreshed profile.
func (g *Gateway) Subscribe(ctx context.Context, token string, plan Plan) (p Profile, err error) {
	if !plan.Valid() {
		return Profile{}, fmt.Errorf("auth: unknown plan %q: %w", plan, ErrSubscriptionFailed)
	}
	err = g.do(ctx, "subscribe", func(ctx context.Context) error {
		body, err := json.Marshal(map[string]Plan{"plan": plan})
		if err != nil {
			return fmt.Errorf("auth: encode plan: %w", err)
		}
		resp, err := g.send(ctx, http.MethodPost, "/api/subscription", "application/json", bytes.NewReader(body), token)
		if err != nil {
			return err
		}
		defer drain(resp)

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return ErrUnauthorized
		case resp.StatusCode/100 != 2:
			return fmt.Errorf("%w: status %d", ErrSubscriptionFailed, resp.StatusCode)
		}
		p, err = g.fetchProfile(ctx, token)
		return err
	})
	return p, err
}

// Profile fetches the profile for token. [ErrUnauthorized] means the token is
// no longer accepted.
func (g *Gateway) Profile(ctx context.Context, token string) (p Profile, err error) {
	err = g.do(ctx, "profile", func(ctx context.Context) error {
		p, err = g.fetchProfile(ctx, token)
		return err
	})
	return p, err
}

// TokenExpiry reads the exp claim of a JWT bearer token without verifying its
// signature. ok is false when the token is not a JWT or has no exp claim.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	t, err := claims.GetExpirationTime()
	if err != nil || t == nil {
		return time.Time{}, false
	}
	return t.Time, true
}

// do runs fn under the in-flight guard, the per-call timeout and a span.
func (g *Gateway) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if !g.busy.CompareAndSwap(false, true) {
		return ErrInFlight
	}
	defer g.busy.Store(false)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "auth."+op)

	start := time.Now()
	err := fn(ctx)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrNetworkFailure) {
		err = fmt.Errorf("%w: %w", ErrNetworkFailure, ctx.Err())
	}
	observe.EndSpan(span, err)

	if g.metrics != nil {
		g.metrics.RecordAuth(ctx, op, outcome(err), time.Since(start))
	}
	log := observe.Logger(ctx)
	if err != nil {
		log.Warn("auth: request failed", "op", op, "err", err)
	} else {
		log.Debug("auth: request ok", "op", op, "duration", time.Since(start))
	}
	return err
}

func (g *Gateway) requestToken(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	resp, err := g.send(ctx, http.MethodPost, "/token", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), "")
	if err != nil {
		return "", err
	}
	defer drain(resp)

	if resp.StatusCode/100 != 2 {
		return "", ErrInvalidCredentials
	}
	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: decode token: %w", ErrNetworkFailure, err)
	}
	if body.AccessToken == "" {
		return "", fmt.Errorf("%w: token response without access_token", ErrNetworkFailure)
	}
	return body.AccessToken, nil
}

func (g *Gateway) fetchProfile(ctx context.Context, token string) (Profile, error) {
	resp, err := g.send(ctx, http.MethodGet, "/api/me", "", nil, token)
	if err != nil {
		return Profile{}, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Profile{}, ErrUnauthorized
	case resp.StatusCode/100 != 2:
		return Profile{}, fmt.Errorf("%w: profile status %d", ErrNetworkFailure, resp.StatusCode)
	}
	var p Profile
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("%w: decode profile: %w", ErrNetworkFailure, err)
	}
	if p.Subscription == "" {
		p.Subscription = PlanFree
	}
	return p, nil
}

func (g *Gateway) send(ctx context.Context, method, path, contentType string, body io.Reader, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("auth: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrNetworkFailure, method, path, err)
	}
	return resp, nil
}

// drain discards the rest of the body so the connection can be reused.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// detailText flattens the "detail" field, which FastAPI-style servers send
// either as a string or as a list of validation errors.
func detailText(d any) string {
	switch v := d.(type) {
	case string:
		if v != "" {
			return v
		}
	case []any:
		var msgs []string
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				if s, ok := m["msg"].(string); ok && s != "" {
					msgs = append(msgs, s)
				}
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}
	return defaultRegistrationReason
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrRegistrationFailed):
		return "registration_failed"
	case errors.Is(err, ErrSubscriptionFailed):
		return "subscription_failed"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNetworkFailure):
		return "network_failure"
	default:
		return "error"
	}
}
