// Package client talks to the remote GeoSewa exam API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"geosewa_exam/internal/util"
	"geosewa_exam/pkg/logger"
	"geosewa_exam/pkg/monitoring"
	"geosewa_exam/pkg/tracing"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const DefaultTimeout = 30 * time.Second

// Credentials supplies the bearer token and absorbs refresh results.
// Token returns an error when nobody is logged in; requests then go out
// without an Authorization header.
type Credentials interface {
	oauth2.TokenSource
	RefreshToken() string
	UpdateAccess(access string) error
	Invalidate(reason error)
}

type Options struct {
	BaseURL    string
	Timeout    time.Duration
	Limiter    *rate.Limiter
	BatchMode  BatchMode
	HTTPClient *http.Client
}

type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	creds   Credentials

	mu        sync.RWMutex
	limiter   *rate.Limiter
	batchMode BatchMode

	refreshGroup singleflight.Group
}

func New(opts Options, creds Credentials) (*Client, error) {
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", opts.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	mode := opts.BatchMode
	if !mode.Valid() {
		mode = BatchBulk
	}

	return &Client{
		base:      base,
		http:      hc,
		timeout:   timeout,
		creds:     creds,
		limiter:   limiter,
		batchMode: mode,
	}, nil
}

func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) SetLimiter(l *rate.Limiter) {
	c.mu.Lock()
	c.limiter = l
	c.mu.Unlock()
}

func (c *Client) SetBatchMode(mode BatchMode) {
	if !mode.Valid() {
		logger.Log.Warn("ignoring unknown batch mode", zap.String("mode", string(mode)))
		return
	}
	c.mu.Lock()
	c.batchMode = mode
	c.mu.Unlock()
}

func (c *Client) BatchMode() BatchMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.batchMode
}

func (c *Client) currentLimiter() *rate.Limiter {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.limiter
}

type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   interface{}
	auth   bool
}

type response struct {
	status int
	body   []byte
}

func (c *Client) accessToken() string {
	if c.creds == nil {
		return ""
	}
	tok, err := c.creds.Token()
	if err != nil || tok == nil {
		return ""
	}
	return tok.AccessToken
}

// do sends r and decodes a 2xx body into out. A 401 on an authenticated
// request goes through one shared refresh and a single retry.
func (c *Client) do(ctx context.Context, r request, out interface{}) error {
	ctx, span := tracing.Tracer.Start(ctx, "examapi."+r.op)
	defer span.End()
	span.SetAttributes(attribute.String("http.method", r.method), attribute.String("examapi.path", r.path))

	var payload []byte
	if r.body != nil {
		var err error
		if payload, err = json.Marshal(r.body); err != nil {
			return err
		}
	}

	token := ""
	if r.auth {
		token = c.accessToken()
	}

	resp, err := c.send(ctx, r, payload, token)
	if err == nil && resp.status == http.StatusUnauthorized && r.auth {
		var fresh string
		fresh, err = c.refreshAfter(ctx, token)
		if err == nil {
			resp, err = c.send(ctx, r, payload, fresh)
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.status))

	if resp.status < 200 || resp.status >= 300 {
		apiErr := &util.APIError{Status: resp.status, Message: errorMessage(resp.body)}
		span.SetStatus(codes.Error, apiErr.Error())
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return fmt.Errorf("%w: %s: %v", util.ErrInvalidResponse, r.op, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, r request, payload []byte, token string) (*response, error) {
	if err := c.currentLimiter().Wait(ctx); err != nil {
		return nil, &util.NetworkError{Op: r.op, Err: err}
	}

	ref, err := url.Parse(r.path)
	if err != nil {
		return nil, err
	}
	u := c.base.ResolveReference(ref)
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	monitoring.UpstreamDuration.WithLabelValues(r.op).Observe(time.Since(start).Seconds())
	if err != nil {
		monitoring.UpstreamRequestCounter.WithLabelValues(r.op, "error").Inc()
		logger.Log.Warn("exam api request failed", zap.String("op", r.op), zap.Error(err))
		return nil, &util.NetworkError{Op: r.op, Err: err}
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		monitoring.UpstreamRequestCounter.WithLabelValues(r.op, "error").Inc()
		return nil, &util.NetworkError{Op: r.op, Err: err}
	}
	monitoring.UpstreamRequestCounter.WithLabelValues(r.op, strconv.Itoa(res.StatusCode)).Inc()
	logger.Log.Debug("exam api request",
		zap.String("op", r.op),
		zap.Int("status", res.StatusCode),
		zap.Duration("took", time.Since(start)),
	)
	return &response{status: res.StatusCode, body: data}, nil
}

// refreshAfter returns an access token newer than stale. Concurrent callers
// share one refresh call; a caller whose 401 raced a finished refresh just
// picks up the new token.
func (c *Client) refreshAfter(ctx context.Context, stale string) (string, error) {
	if c.creds == nil {
		return "", util.ErrNoCredentials
	}
	if cur := c.accessToken(); cur != "" && cur != stale {
		return cur, nil
	}

	v, err, shared := c.refreshGroup.Do("refresh", func() (interface{}, error) {
		if cur := c.accessToken(); cur != "" && cur != stale {
			return cur, nil
		}
		refresh := c.creds.RefreshToken()
		if refresh == "" {
			monitoring.TokenRefreshCounter.WithLabelValues("no_refresh_token").Inc()
			c.creds.Invalidate(util.ErrAuthRequired)
			return nil, util.ErrAuthRequired
		}

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		access, err := c.RefreshAccess(rctx, refresh)
		if err != nil {
			monitoring.TokenRefreshCounter.WithLabelValues("failed").Inc()
			logger.Log.Warn("token refresh failed, clearing session", zap.Error(err))
			c.creds.Invalidate(err)
			return nil, fmt.Errorf("%w: token refresh failed: %v", util.ErrAuthRequired, err)
		}
		if err := c.creds.UpdateAccess(access); err != nil {
			logger.Log.Warn("failed to persist refreshed token", zap.Error(err))
		}
		monitoring.TokenRefreshCounter.WithLabelValues("ok").Inc()
		return access, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		logger.Log.Debug("joined in-flight token refresh")
	}
	return v.(string), nil
}

// errorMessage digs the human text out of the API's error bodies.
func errorMessage(body []byte) string {
	var m map[string]interface{}
	if err := json.Unmarshal(body, &m); err != nil {
		s := strings.TrimSpace(string(body))
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	for _, key := range []string{"message", "detail", "error"} {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// IsAuthError reports whether err means the user has to log in again.
func IsAuthError(err error) bool {
	return errors.Is(err, util.ErrAuthRequired) || errors.Is(err, util.ErrNoCredentials)
}
