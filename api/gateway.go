package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultBaseURL is the deployed TaskMatrix backend.
const DefaultBaseURL = "https://task-matrix-backend.vercel.app/api/v1"

var errRefreshNoToken = errors.New("refresh response carries no token")

const (
	refreshPath     = "/auth/refresh-token"
	maxResponseSize = 8 << 20
)

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// OnSignOut runs after stored credentials were cleared because the
	// session could not be renewed.
	OnSignOut func(reason error)
}

// Gateway sends authenticated requests to the backend. A request rejected
// with 401 is replayed once after refreshing the bearer token.
type Gateway struct {
	baseURL   string
	http      *http.Client
	creds     CredentialStore
	logger    *log.Logger
	onSignOut func(error)

	refreshMu sync.Mutex
}

func NewGateway(cfg GatewayConfig, creds CredentialStore, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if creds == nil {
		creds = NewMemoryCredentials(Credentials{})
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Gateway{
		baseURL:   strings.TrimRight(base, "/"),
		http:      client,
		creds:     creds,
		logger:    logger,
		onSignOut: cfg.OnSignOut,
	}
}

func (g *Gateway) BaseURL() string { return g.baseURL }

func (g *Gateway) Credentials() CredentialStore { return g.creds }

// Do sends an authenticated JSON request and decodes the response into out
// when out is not nil.
func (g *Gateway) Do(ctx context.Context, method, path string, body, out any) error {
	requestID := uuid.NewString()
	m := newRequestMetrics(g.logger, method, path, requestID)

	payload, err := encodeBody(body)
	if err != nil {
		m.SetErrorStage("encode")
		m.Log(0, err)
		return err
	}

	creds, err := g.creds.Load()
	if err != nil {
		m.SetErrorStage("credentials")
		m.Log(0, err)
		return err
	}

	status, raw, err := g.send(ctx, method, path, payload, creds.Token, requestID)
	if IsUnauthorized(err) {
		start := time.Now()
		token, rerr := g.refresh(ctx, creds.Token)
		m.ObserveRefresh(time.Since(start))
		if rerr != nil {
			m.SetErrorStage("refresh")
			m.Log(status, rerr)
			return rerr
		}
		m.SetReplayed()
		status, raw, err = g.send(ctx, method, path, payload, token, requestID)
		if IsUnauthorized(err) {
			g.expire(err)
		}
	}
	if err != nil {
		m.SetErrorStage("request")
		m.Log(status, err)
		return err
	}

	m.SetResponseBytes(len(raw))
	if err := decodeBody(raw, out); err != nil {
		m.SetErrorStage("decode")
		m.Log(status, err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	m.Log(status, nil)
	return nil
}

// DoAnonymous sends a request without a bearer token and never refreshes.
// It serves the sign-in endpoints.
func (g *Gateway) DoAnonymous(ctx context.Context, method, path string, body, out any) error {
	requestID := uuid.NewString()
	m := newRequestMetrics(g.logger, method, path, requestID)

	payload, err := encodeBody(body)
	if err != nil {
		m.SetErrorStage("encode")
		m.Log(0, err)
		return err
	}
	status, raw, err := g.send(ctx, method, path, payload, "", requestID)
	if err != nil {
		m.SetErrorStage("request")
		m.Log(status, err)
		return err
	}
	m.SetResponseBytes(len(raw))
	if err := decodeBody(raw, out); err != nil {
		m.SetErrorStage("decode")
		m.Log(status, err)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	m.Log(status, nil)
	return nil
}

// OpenStream starts a long-lived GET, used for server-sent events. The
// caller owns the returned body.
func (g *Gateway) OpenStream(ctx context.Context, path string) (io.ReadCloser, error) {
	creds, err := g.creds.Load()
	if err != nil {
		return nil, err
	}
	body, err := g.stream(ctx, path, creds.Token)
	if IsUnauthorized(err) {
		token, rerr := g.refresh(ctx, creds.Token)
		if rerr != nil {
			return nil, rerr
		}
		body, err = g.stream(ctx, path, token)
		if IsUnauthorized(err) {
			g.expire(err)
		}
	}
	return body, err
}

func (g *Gateway) stream(ctx context.Context, path, token string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	// streams outlive the request timeout of the shared client
	client := &http.Client{Transport: g.http.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		resp.Body.Close()
		return nil, newAPIError(http.MethodGet, path, resp, raw)
	}
	return resp.Body, nil
}

// refresh renews the bearer token once. When another request already
// replaced stale, the current token is returned without a new refresh.
func (g *Gateway) refresh(ctx context.Context, stale string) (string, error) {
	g.refreshMu.Lock()
	defer g.refreshMu.Unlock()

	creds, err := g.creds.Load()
	if err != nil {
		return "", err
	}
	if creds.Token != "" && creds.Token != stale {
		return creds.Token, nil
	}
	if creds.RefreshToken == "" {
		g.expire(ErrNotSignedIn)
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, ErrNotSignedIn)
	}

	payload, err := encodeBody(map[string]string{"refreshToken": creds.RefreshToken})
	if err != nil {
		return "", err
	}
	var resp struct {
		Token string `json:"token"`
	}
	_, raw, err := g.send(ctx, http.MethodPost, refreshPath, payload, "", uuid.NewString())
	if err == nil {
		err = decodeBody(raw, &resp)
	}
	if err == nil && resp.Token == "" {
		err = errRefreshNoToken
	}
	if err != nil {
		g.expire(err)
		return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}

	creds.Token = resp.Token
	if err := g.creds.Save(creds); err != nil {
		return "", err
	}
	g.logger.Debug("bearer token refreshed")
	return resp.Token, nil
}

// expire clears stored credentials and signals the sign-out hook.
func (g *Gateway) expire(reason error) {
	if err := g.creds.Clear(); err != nil {
		g.logger.Errorf("failed to clear credentials: %v", err)
	}
	g.logger.WithError(reason).Warn("session ended, credentials cleared")
	if g.onSignOut != nil {
		g.onSignOut(reason)
	}
}

func (g *Gateway) send(ctx context.Context, method, path string, payload []byte, token, requestID string) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, raw, newAPIError(method, path, resp, raw)
	}
	return resp.StatusCode, raw, nil
}

func newAPIError(method, path string, resp *http.Response, raw []byte) *APIError {
	var msg struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = sonic.ConfigStd.Unmarshal(raw, &msg)
	if msg.Message == "" {
		msg.Message = msg.Error
	}
	return &APIError{
		StatusCode: resp.StatusCode,
		Method:     method,
		Path:       path,
		Message:    msg.Message,
		RequestID:  resp.Request.Header.Get("X-Request-ID"),
	}
}

func encodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	payload, err := sonic.ConfigStd.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return payload, nil
}

func decodeBody(raw []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	return sonic.ConfigStd.Unmarshal(raw, out)
}
