// Package client is the outbound side of bnbvote: a request client with
// per-attempt timeouts, bounded retries and cancellation, and a typed API
// built on top of it.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/layer-3/bnbvote/core"
	"github.com/layer-3/bnbvote/metrics"
)

const (
	DefaultTimeout         = 10 * time.Second
	DefaultReadRetries     = 3
	DefaultMutationRetries = 1
	DefaultBaseDelay       = time.Second

	maxResponseBytes = 4 << 20
)

// TokenSource supplies the bearer token attached to each attempt. An empty
// token sends no Authorization header.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource that always returns the same token
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Options configures a RequestClient
type Options struct {
	BaseURL string

	// Timeout bounds each attempt, not the whole request
	Timeout time.Duration

	// ReadRetries is the retry budget of idempotent requests and
	// MutationRetries the one of everything else. MutationRetries must be
	// strictly smaller.
	ReadRetries     int
	MutationRetries int

	// BaseDelay is the wait before the first retry; it doubles each time
	BaseDelay time.Duration

	HTTPClient *http.Client
	Tokens     TokenSource
	Logger     *slog.Logger

	// OnRetry, when set, is called before each retry with the attempt that
	// failed (starting at 1), its error and the delay about to be waited
	OnRetry func(attempt int, err error, delay time.Duration)
}

// Request describes one logical request. It may be sent several times.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any

	// Timeout overrides Options.Timeout for this request
	Timeout time.Duration

	// Idempotent requests use the read retry budget
	Idempotent bool
}

// Response is a successful (2xx) response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestClient sends requests to the bnbvote API
type RequestClient struct {
	base *url.URL
	http *http.Client
	opts Options
	log  *slog.Logger
}

// New creates a request client. Zero options take their defaults.
func New(opts Options) (*RequestClient, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.ReadRetries == 0 {
		opts.ReadRetries = DefaultReadRetries
	}
	if opts.MutationRetries == 0 && opts.ReadRetries > DefaultMutationRetries {
		opts.MutationRetries = DefaultMutationRetries
	}
	if opts.MutationRetries < 0 || opts.ReadRetries < 0 {
		return nil, errors.New("retry budgets must not be negative")
	}
	if opts.MutationRetries >= opts.ReadRetries {
		return nil, fmt.Errorf("mutation retries (%d) must be lower than read retries (%d)", opts.MutationRetries, opts.ReadRetries)
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &RequestClient{
		base: base,
		http: opts.HTTPClient,
		opts: opts,
		log:  opts.Logger,
	}, nil
}

// MaxRetries returns the retry budget that applies to req
func (c *RequestClient) MaxRetries(req Request) int {
	if req.Idempotent {
		return c.opts.ReadRetries
	}
	return c.opts.MutationRetries
}

// Send performs req, retrying transient failures within its budget.
//
// 4xx responses come back at once as *core.StatusError. Timeouts, network
// errors and 5xx responses are retried after BaseDelay*2^n; once the budget
// is spent the last error is returned. Cancelling ctx stops the attempt or
// the wait in progress and returns core.ErrCancelled.
func (c *RequestClient) Send(ctx context.Context, req Request) (*Response, error) {
	if ctx.Err() != nil {
		return nil, core.ErrCancelled
	}

	var body []byte
	if req.Body != nil {
		var err error
		if body, err = json.Marshal(req.Body); err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	target := c.resolve(req)
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	maxRetries := c.MaxRetries(req)

	attempt := 0
	op := func() (*Response, error) {
		attempt++
		resp, err := c.attempt(ctx, req.Method, target, body, timeout)
		if err == nil {
			metrics.ClientAttempts.WithLabelValues(req.Method, "success").Inc()
			return resp, nil
		}
		if ctx.Err() != nil {
			metrics.ClientAttempts.WithLabelValues(req.Method, "cancelled").Inc()
			return nil, backoff.Permanent(core.ErrCancelled)
		}
		if !core.IsTransient(err) {
			metrics.ClientAttempts.WithLabelValues(req.Method, "rejected").Inc()
			return nil, backoff.Permanent(err)
		}
		metrics.ClientAttempts.WithLabelValues(req.Method, "transient").Inc()
		return nil, err
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(&backoff.ExponentialBackOff{
			InitialInterval:     c.opts.BaseDelay,
			RandomizationFactor: 0,
			Multiplier:          2,
			MaxInterval:         time.Duration(math.MaxInt64),
		}),
		backoff.WithMaxTries(uint(maxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, delay time.Duration) {
			c.log.Warn("request failed, retrying",
				"method", req.Method,
				"path", req.Path,
				"attempt", attempt,
				"delay", delay,
				"error", err,
			)
			if c.opts.OnRetry != nil {
				c.opts.OnRetry(attempt, err, delay)
			}
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.ErrCancelled
		}
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Unwrap()
		}
		return nil, err
	}
	return resp, nil
}

func (c *RequestClient) resolve(req Request) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}
	return u.String()
}

// attempt sends the request once under its own timeout
func (c *RequestClient) attempt(ctx context.Context, method, target string, body []byte, timeout time.Duration) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(actx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.opts.Tokens != nil {
		if token := c.opts.Tokens.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classify(ctx, actx, method, target, timeout, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, c.classify(ctx, actx, method, target, timeout, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(resp.StatusCode, data)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *RequestClient) classify(ctx, actx context.Context, method, target string, timeout time.Duration, err error) error {
	switch {
	case ctx.Err() != nil:
		return core.ErrCancelled
	case errors.Is(actx.Err(), context.DeadlineExceeded):
		return &core.TimeoutError{Op: method + " " + target, After: timeout}
	default:
		return &core.TransientError{Err: err}
	}
}

// statusError builds the error for a non-2xx response, keeping the
// server's {error, message} body when there is one
func statusError(code int, body []byte) *core.StatusError {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &payload)
	return &core.StatusError{StatusCode: code, Code: payload.Error, Message: payload.Message}
}

// Do sends req and decodes the JSON response into T
func Do[T any](ctx context.Context, c *RequestClient, req Request) (*T, error) {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	out := new(T)
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidResponse, err)
	}
	return out, nil
}
