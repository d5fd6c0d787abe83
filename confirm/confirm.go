// Package confirm lists and resolves pending mobile confirmations (trade
// and market actions) for an authenticated account. Every call is signed
// with a time-keyed confirmation key derived from the account's identity
// secret.
package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/feuarus/guardian/timesync"
	"github.com/feuarus/guardian/totp"
)

var (
	// ErrFetch is a failure to retrieve the pending confirmation list.
	ErrFetch = errors.New("fetching confirmations failed")
	// ErrAct is a failure to resolve a confirmation that is still pending.
	ErrAct = errors.New("acting on confirmation failed")
	// ErrSessionRejected means the community endpoint refused the session
	// token; the caller should refresh and retry.
	ErrSessionRejected = errors.New("confirmation session rejected")
)

// Type classifies a pending confirmation.
type Type uint8

const (
	TypeUnknown Type = iota
	TypeTrade
	TypeMarket
)

func (t Type) String() string {
	switch t {
	case TypeTrade:
		return "Trade"
	case TypeMarket:
		return "Market"
	default:
		return "Unknown"
	}
}

// Platform type codes. Anything unlisted maps to TypeUnknown rather than
// failing the whole list.
const (
	wireTypeTrade  = 2
	wireTypeMarket = 3
)

// Confirmation is one pending action. Transient: it exists only within one
// poll cycle and is never persisted.
type Confirmation struct {
	ID        uint64 `json:"id,string"`
	Nonce     uint64 `json:"nonce,string"`
	CreatorID uint64 `json:"creator_id,string"`
	TypeCode  int    `json:"type"`
	TypeName  string `json:"type_name"`
	Created   int64  `json:"creation_time"`
	Headline  string `json:"headline"`
	Icon      string `json:"icon"`
	Multi     bool   `json:"multi"`

	Summary []string `json:"summary"`
}

// Kind maps the platform's numeric type code onto the known categories.
func (c Confirmation) Kind() Type {
	switch c.TypeCode {
	case wireTypeTrade:
		return TypeTrade
	case wireTypeMarket:
		return TypeMarket
	default:
		return TypeUnknown
	}
}

// Description renders a short operator-facing line for the confirmation.
func (c Confirmation) Description() string {
	if c.Headline != "" {
		return fmt.Sprintf("%s: %s", c.Kind(), c.Headline)
	}
	return fmt.Sprintf("%s confirmation %d", c.Kind(), c.ID)
}

// KeyFunc produces the base64 signing key for the adjusted time and tag.
// It wraps the account's identity secret, which this package never sees.
type KeyFunc func(t int64, tag string) (string, error)

// Account is the per-account material needed to talk to the confirmation
// endpoint.
type Account struct {
	SteamID     uint64
	AccessToken string
	DeviceID    string
	Key         KeyFunc
}

// Outcome is one item's result from a batch action.
type Outcome struct {
	ID       uint64
	Accepted bool
	Err      error
}

// Config tunes the client. Zero values fall back to the listed defaults.
type Config struct {
	BaseURL     string        // default https://steamcommunity.com
	UserAgent   string        // default mobile client UA
	Timeout     time.Duration // per request, default 15s
	MaxParallel int           // batch parallelism bound, default 4
	HTTPClient  *http.Client
}

const (
	defaultBaseURL     = "https://steamcommunity.com"
	defaultUserAgent   = "okhttp/3.12.12"
	defaultTimeout     = 15 * time.Second
	defaultMaxParallel = 4
)

// Client drives the mobileconf endpoints. It holds no per-account state and
// is safe for concurrent use across accounts.
type Client struct {
	config Config
	clock  *timesync.Source
	http   *http.Client
}

// NewClient applies defaults and returns a Client.
func NewClient(clock *timesync.Source, cfg Config) *Client {
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
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = defaultMaxParallel
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{config: cfg, clock: clock, http: httpClient}
}

type listEnvelope struct {
	Success       bool           `json:"success"`
	NeedsAuth     bool           `json:"needauth"`
	Message       string         `json:"message"`
	Confirmations []Confirmation `json:"conf"`
}

type actEnvelope struct {
	Success   bool `json:"success"`
	NeedsAuth bool `json:"needauth"`
}

// List fetches the pending confirmations. Entries with unrecognized type
// codes are returned with Kind()==TypeUnknown, never dropped.
func (c *Client) List(ctx context.Context, acct Account) ([]Confirmation, error) {
	body, err := c.get(ctx, acct, "/mobileconf/getlist", totp.TagList, nil)
	if err != nil {
		return nil, err
	}

	var env listEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed list response: %v", ErrFetch, err)
	}
	if env.NeedsAuth {
		return nil, ErrSessionRejected
	}
	if !env.Success {
		return nil, fmt.Errorf("%w: %s", ErrFetch, orUnspecified(env.Message))
	}
	return env.Confirmations, nil
}

// Accept approves one pending confirmation.
func (c *Client) Accept(ctx context.Context, acct Account, conf Confirmation) error {
	return c.act(ctx, acct, conf, true)
}

// Deny cancels one pending confirmation.
func (c *Client) Deny(ctx context.Context, acct Account, conf Confirmation) error {
	return c.act(ctx, acct, conf, false)
}

// act resolves one confirmation. A confirmation the platform no longer
// lists counts as resolved: a prior run may already have acted on it, so a
// failed op is retried as a membership check before it is reported.
func (c *Client) act(ctx context.Context, acct Account, conf Confirmation, accept bool) error {
	op, tag := "cancel", totp.TagCancel
	if accept {
		op, tag = "allow", totp.TagAllow
	}

	extra := url.Values{}
	extra.Set("op", op)
	extra.Set("cid", strconv.FormatUint(conf.ID, 10))
	extra.Set("ck", strconv.FormatUint(conf.Nonce, 10))

	body, err := c.get(ctx, acct, "/mobileconf/ajaxop", tag, extra)
	if err != nil {
		return err
	}

	var env actEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: malformed response: %v", ErrAct, err)
	}
	if env.NeedsAuth {
		return ErrSessionRejected
	}
	if env.Success {
		return nil
	}

	pending, err := c.List(ctx, acct)
	if err != nil {
		return fmt.Errorf("%w: op %s rejected for %d", ErrAct, op, conf.ID)
	}
	for _, p := range pending {
		if p.ID == conf.ID {
			return fmt.Errorf("%w: op %s rejected for %d", ErrAct, op, conf.ID)
		}
	}
	// Already resolved out of band.
	return nil
}

// ActBatch resolves a set of confirmations with bounded parallelism. Items
// fail independently; every outcome is collected and returned only after
// all items finish.
func (c *Client) ActBatch(ctx context.Context, acct Account, confs []Confirmation, accept bool) []Outcome {
	outcomes := make([]Outcome, len(confs))
	sem := make(chan struct{}, c.config.MaxParallel)
	done := make(chan int, len(confs))

	for i, conf := range confs {
		go func(i int, conf Confirmation) {
			defer func() { done <- i }()
			sem <- struct{}{}
			defer func() { <-sem }()
			err := c.act(ctx, acct, conf, accept)
			outcomes[i] = Outcome{ID: conf.ID, Accepted: accept && err == nil, Err: err}
		}(i, conf)
	}
	for range confs {
		<-done
	}
	return outcomes
}

// get performs one signed request against a mobileconf path.
func (c *Client) get(ctx context.Context, acct Account, path, tag string, extra url.Values) ([]byte, error) {
	if acct.Key == nil {
		return nil, fmt.Errorf("%w: no signing key source", ErrFetch)
	}
	now := c.clock.Now()
	key, err := acct.Key(now, tag)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	q := url.Values{}
	q.Set("p", acct.DeviceID)
	q.Set("a", strconv.FormatUint(acct.SteamID, 10))
	q.Set("k", key)
	q.Set("t", strconv.FormatInt(now, 10))
	q.Set("m", "react")
	q.Set("tag", tag)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.AddCookie(&http.Cookie{
		Name:  "steamLoginSecure",
		Value: fmt.Sprintf("%d||%s", acct.SteamID, url.PathEscape(acct.AccessToken)),
	})
	req.AddCookie(&http.Cookie{Name: "mobileClient", Value: "android"})

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrSessionRejected
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: http %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return body, nil
}

func orUnspecified(msg string) string {
	if msg == "" {
		return "no reason given"
	}
	return msg
}
