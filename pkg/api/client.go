// File: pkg/api/client.go
// Description: HTTP client for the collect API. The tag depends on it only
// through three operations: StartSession, Identify, Track. Request building
// and response parsing live here; gating policy lives in the orchestrator.

package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"

	"github.com/u17g/senditly-go/internal/config"
	"github.com/u17g/senditly-go/pkg/schemas"
)

// Constants for default optimized TCP/HTTP settings.
const (
	DefaultDialTimeout           = 5 * time.Second
	DefaultKeepAliveInterval     = 15 * time.Second
	DefaultTLSHandshakeTimeout   = 5 * time.Second
	DefaultResponseHeaderTimeout = 10 * time.Second
	DefaultRequestTimeout        = 10 * time.Second

	// A tag emits small, sporadic requests; the pool stays modest.
	DefaultMaxIdleConns    = 10
	DefaultIdleConnTimeout = 60 * time.Second

	userAgent = "senditly-go/1.0"
)

// API paths, versioned independently of the module.
const (
	pathSession  = "/v1/session"
	pathIdentify = "/v1/identify"
	pathTrack    = "/v1/track"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ClientConfig holds the configuration for the collect API client.
type ClientConfig struct {
	Endpoint string
	WriteKey string

	RequestTimeout        time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	MaxIdleConns          int
	IdleConnTimeout       time.Duration
	ForceHTTP2            bool

	// EventsPerSecond throttles identify/track dispatch. Zero disables the
	// throttle. Session start is never throttled.
	EventsPerSecond float64
	EventBurst      int

	// HTTPClient overrides the built transport entirely (tests).
	HTTPClient *http.Client

	Logger *zap.Logger
}

// NewDefaultClientConfig creates a configuration with tuned defaults.
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		RequestTimeout:        DefaultRequestTimeout,
		TLSHandshakeTimeout:   DefaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: DefaultResponseHeaderTimeout,
		MaxIdleConns:          DefaultMaxIdleConns,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		ForceHTTP2:            true,
	}
}

// FromAPIConfig maps the file/env configuration section onto a ClientConfig.
func FromAPIConfig(cfg config.APIConfig) *ClientConfig {
	cc := NewDefaultClientConfig()
	cc.Endpoint = cfg.Endpoint
	cc.WriteKey = cfg.WriteKey
	if cfg.RequestTimeout > 0 {
		cc.RequestTimeout = cfg.RequestTimeout
	}
	cc.EventsPerSecond = cfg.EventsPerSecond
	cc.EventBurst = cfg.EventBurst
	return cc
}

// Client talks to the collect API. Safe for concurrent use.
type Client struct {
	http        *http.Client
	endpoint    string
	writeKey    string
	anonymousID string
	limiter     *rate.Limiter
	logger      *zap.Logger
}

// NewClient creates a collect API client. The anonymous visitor ID is minted
// here and attached to every outbound payload.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = NewDefaultClientConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: newTransport(cfg, logger),
			Timeout:   cfg.RequestTimeout,
		}
	}

	var limiter *rate.Limiter
	if cfg.EventsPerSecond > 0 {
		burst := cfg.EventBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), burst)
	}

	return &Client{
		http:        httpClient,
		endpoint:    strings.TrimRight(cfg.Endpoint, "/"),
		writeKey:    cfg.WriteKey,
		anonymousID: uuid.NewString(),
		limiter:     limiter,
		logger:      logger.Named("api"),
	}
}

// newTransport builds an http.Transport tuned for small, sporadic requests.
func newTransport(cfg *ClientConfig, logger *zap.Logger) *http.Transport {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   DefaultDialTimeout,
			KeepAlive: DefaultKeepAliveInterval,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
		MaxIdleConns:          cfg.MaxIdleConns,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		ForceAttemptHTTP2:     cfg.ForceHTTP2,
	}
	if cfg.ForceHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			logger.Warn("Failed to configure HTTP/2 transport, falling back to HTTP/1.1", zap.Error(err))
		}
	}
	return transport
}

// AnonymousID returns the visitor ID attached to outbound payloads.
func (c *Client) AnonymousID() string { return c.anonymousID }

// -- Wire bodies --

type sessionBody struct {
	AnonymousID string `json:"anonymous_id"`
}

type identifyBody struct {
	AnonymousID  string          `json:"anonymous_id"`
	Email        string          `json:"email"`
	Properties   map[string]any  `json:"properties,omitempty"`
	MailingLists map[string]bool `json:"mailing_lists,omitempty"`
}

type trackBody struct {
	AnonymousID string         `json:"anonymous_id"`
	Type        string         `json:"type"`
	Properties  map[string]any `json:"properties,omitempty"`
}

type sessionResponse struct {
	Success bool `json:"success"`
}

type trackResponse struct {
	Status string `json:"status"`
}

type apiErrorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// StartSession opens the server-side tracking context. Called exactly once
// per orchestrator instance; never throttled.
func (c *Client) StartSession(ctx context.Context) error {
	var resp sessionResponse
	if err := c.post(ctx, pathSession, sessionBody{AnonymousID: c.anonymousID}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return &schemas.TransportError{Message: "session start not acknowledged"}
	}
	c.logger.Debug("Session started", zap.String("anonymousID", c.anonymousID))
	return nil
}

// Identify associates the visitor with an email and optional traits.
func (c *Client) Identify(ctx context.Context, req *schemas.IdentifyRequest) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	body := identifyBody{
		AnonymousID:  c.anonymousID,
		Email:        req.Email,
		Properties:   req.Properties,
		MailingLists: req.MailingLists,
	}
	var resp sessionResponse
	return c.post(ctx, pathIdentify, body, &resp)
}

// Track dispatches an arbitrary event.
func (c *Client) Track(ctx context.Context, req *schemas.TrackRequest) error {
	if err := c.throttle(ctx); err != nil {
		return err
	}
	body := trackBody{
		AnonymousID: c.anonymousID,
		Type:        req.Type,
		Properties:  req.Properties,
	}
	var resp trackResponse
	return c.post(ctx, pathTrack, body, &resp)
}

// throttle waits for limiter headroom; it never drops events.
func (c *Client) throttle(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &schemas.TransportError{Message: fmt.Sprintf("throttle wait aborted: %v", err)}
	}
	return nil
}

// post encodes body, issues the request, and decodes a 2xx response into
// out. Any non-2xx or transport failure becomes a *schemas.TransportError.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &schemas.TransportError{Message: fmt.Sprintf("encoding request body: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return &schemas.TransportError{Message: fmt.Sprintf("building request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.writeKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.writeKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("Collect request failed", zap.String("path", path), zap.Error(err))
		return &schemas.TransportError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &schemas.TransportError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("reading response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := http.StatusText(resp.StatusCode)
		var errBody apiErrorBody
		if decodeErr := json.Unmarshal(raw, &errBody); decodeErr == nil {
			if errBody.Message != "" {
				msg = errBody.Message
			} else if errBody.Error != "" {
				msg = errBody.Error
			}
		}
		return &schemas.TransportError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return &schemas.TransportError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("decoding response: %v", err)}
		}
	}
	return nil
}
