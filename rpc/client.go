// Package rpc executes typed request/response calls against named platform
// services over the binary web RPC surface.
package rpc

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrNetwork is a transient transport failure that exhausted the retry
	// budget.
	ErrNetwork = errors.New("network failure")
	// ErrProtocol is an unexpected platform response: malformed envelope or
	// an HTTP status the transport does not understand.
	ErrProtocol = errors.New("unexpected platform response")
	// ErrUnauthorized is an authorization failure. The transport never
	// retries these; token refresh policy belongs to the session layer.
	ErrUnauthorized = errors.New("access token rejected")
)

// Call is one request/response exchange against a service method. Result is
// populated from the response on success.
type Call struct {
	Service     string
	Method      string
	Version     int
	AccessToken string
	Request     Message
	Response    Unmarshaler
	Result      Result
}

// Config tunes the transport. Zero values fall back to the listed defaults.
type Config struct {
	BaseURL        string        // default https://api.steampowered.com
	UserAgent      string        // default mobile client UA
	Timeout        time.Duration // per attempt, default 10s
	MaxRetries     int           // transient retry budget, default 3
	InitialBackoff time.Duration // default 250ms
	HTTPClient     *http.Client
	OnRetry        func() // observability hook, called before each retry
}

const (
	defaultBaseURL   = "https://api.steampowered.com"
	defaultUserAgent = "okhttp/3.12.12"
	defaultTimeout   = 10 * time.Second
	defaultRetries   = 3
	defaultBackoff   = 250 * time.Millisecond
)

// Client executes calls. It holds no per-account state and is safe for
// concurrent use.
type Client struct {
	config Config
	http   *http.Client
}

// NewClient applies defaults and returns a Client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultBackoff
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{config: cfg, http: httpClient}
}

// Do executes one logical call, retrying transient failures with bounded
// exponential backoff. Authorization failures and malformed responses are
// returned immediately.
func (c *Client) Do(ctx context.Context, call *Call) error {
	if call.Service == "" || call.Method == "" {
		return fmt.Errorf("%w: call missing service or method", ErrProtocol)
	}

	var payload []byte
	if call.Request != nil {
		var err error
		payload, err = call.Request.MarshalWire()
		if err != nil {
			return err
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.config.MaxRetries)), ctx)

	attempt := 0
	op := func() error {
		if attempt > 0 && c.config.OnRetry != nil {
			c.config.OnRetry()
		}
		attempt++
		return c.attempt(ctx, call, payload)
	}
	if err := backoff.Retry(op, policy); err != nil {
		return err
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, call *Call, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/I%sService/%s/v%d/", c.config.BaseURL, call.Service, call.Method, c.version(call))

	form := url.Values{}
	if len(payload) > 0 {
		form.Set("input_protobuf_encoded", base64.StdEncoding.EncodeToString(payload))
	}
	if call.AccessToken != "" {
		form.Set("access_token", call.AccessToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("%w: %v", ErrProtocol, err))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: attempt timed out", ErrNetwork)
		}
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return backoff.Permanent(ErrUnauthorized)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: http %d", ErrNetwork, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return backoff.Permanent(fmt.Errorf("%w: http %d", ErrProtocol, resp.StatusCode))
	}

	result := resultFromHeader(resp.Header)
	if result.Unauthorized() {
		return backoff.Permanent(ErrUnauthorized)
	}
	if result.Transient() {
		return fmt.Errorf("%w: platform result %s", ErrNetwork, result)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrNetwork, err)
	}

	if call.Response != nil {
		if err := call.Response.UnmarshalWire(body); err != nil {
			return backoff.Permanent(fmt.Errorf("%w: %v", ErrProtocol, err))
		}
	}
	call.Result = result
	return nil
}

func (c *Client) version(call *Call) int {
	if call.Version > 0 {
		return call.Version
	}
	return 1
}

func resultFromHeader(h http.Header) Result {
	raw := h.Get("X-eresult")
	if raw == "" {
		return ResultOK
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return ResultOK
	}
	return Result(n)
}
