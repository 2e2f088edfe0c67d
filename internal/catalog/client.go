package catalog

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	logx "stayconnect/pkg/logx"
)

// maxBody bounds how much of a response we read.
const maxBody = 4 << 20

type credential struct {
	token     string
	expiresAt time.Time
}

// Option customizes a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClock replaces time.Now for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// WithSleep replaces the context-aware sleep used for 429 backoff.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// Client calls the catalog API with a cached client-credentials token and
// bounded 429 retries. It is safe for concurrent use.
type Client struct {
	mu  sync.Mutex
	cfg Config

	log   logx.Logger
	http  *http.Client
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	// tokMu is held across a token exchange so concurrent callers share it.
	tokMu sync.Mutex
	cred  credential

	exchanges atomic.Int64
	requests  atomic.Int64
}

func New(cfg Config, log logx.Logger, opts ...Option) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	return c
}

func (c *Client) config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Apply swaps configuration at runtime. Changed credentials drop the cached token.
func (c *Client) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	prev := c.cfg
	c.cfg = cfg
	c.mu.Unlock()

	if prev.ClientID != cfg.ClientID || prev.ClientSecret != cfg.ClientSecret || prev.AuthURL != cfg.AuthURL {
		c.invalidate()
		c.log.Info("catalog credentials changed; token dropped", logx.Bool("credentials_set", cfg.HasCredentials()))
	}
}

// Configured reports whether client id and secret are present.
func (c *Client) Configured() bool { return c.config().HasCredentials() }

// Exchanges returns how many token exchanges were performed.
func (c *Client) Exchanges() int64 { return c.exchanges.Load() }

// Requests returns how many API calls were sent, retries included.
func (c *Client) Requests() int64 { return c.requests.Load() }

func (c *Client) invalidate() {
	c.tokMu.Lock()
	c.cred = credential{}
	c.tokMu.Unlock()
}

// Token returns a valid bearer token, exchanging client credentials when the
// cached one is absent or within RefreshMargin of expiry.
func (c *Client) Token(ctx context.Context) (string, error) {
	cfg := c.config()
	if !cfg.HasCredentials() {
		return "", errors.WithHint(ErrCredentialsMissing, "set SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET")
	}

	c.tokMu.Lock()
	defer c.tokMu.Unlock()

	now := c.now()
	if c.cred.token != "" && now.Before(c.cred.expiresAt.Add(-cfg.RefreshMargin)) {
		return c.cred.token, nil
	}

	cred, err := c.exchange(ctx, cfg, now)
	if err != nil {
		return "", err
	}
	c.cred = cred
	return cred.token, nil
}

func (c *Client) exchange(ctx context.Context, cfg Config, now time.Time) (credential, error) {
	c.exchanges.Add(1)
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.AuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return credential{}, authFailure(err, "token request")
	}
	req.SetBasicAuth(cfg.ClientID, cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return credential{}, ctx.Err()
		}
		return credential{}, authFailure(err, "token exchange")
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return credential{}, authFailure(err, "token exchange: read body")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return credential{}, errors.WithDetail(
			errors.Wrapf(ErrAuthFailed, "token exchange: status %d", resp.StatusCode),
			string(body),
		)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return credential{}, authFailure(err, "token exchange: decode")
	}
	if strings.TrimSpace(tr.AccessToken) == "" {
		return credential{}, errors.Wrap(ErrAuthFailed, "token exchange: empty access_token")
	}
	ttl := time.Duration(tr.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	c.log.Debug("catalog token refreshed", logx.Duration("ttl", ttl))
	return credential{token: tr.AccessToken, expiresAt: now.Add(ttl)}, nil
}

// authFailure puts ErrAuthFailed in the chain and keeps cause as the
// secondary error, so both plain errors.Is and the cause's text work.
func authFailure(cause error, what string) error {
	return errors.WithSecondaryError(errors.Wrapf(ErrAuthFailed, "%s: %v", what, cause), cause)
}

// Request performs GET endpoint?params and decodes the JSON body into out
// (out may be nil).
//
// A 429 waits for Retry-After (seconds or HTTP date, capped at MaxBackoff) or
// Backoff*2^attempt, then retries, at most RateLimitRetries times before
// ErrRateLimitExceeded. Transport failures return ErrNetwork without retry;
// other non-2xx answers return *UpstreamError. A 401 also drops the cached token.
func (c *Client) Request(ctx context.Context, endpoint string, params url.Values, out any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := c.config()
	target := cfg.BaseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var waited time.Duration
	for attempt := 0; ; attempt++ {
		token, err := c.Token(ctx)
		if err != nil {
			return err
		}

		status, header, body, err := c.get(ctx, target, token)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.WithSecondaryError(errors.Wrapf(ErrNetwork, "GET %s: %v", endpoint, err), err)
		}

		switch {
		case status >= 200 && status <= 299:
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return errors.Wrapf(err, "decode %s", endpoint)
			}
			return nil

		case status == http.StatusTooManyRequests:
			if attempt >= cfg.RateLimitRetries {
				c.log.Warn("catalog rate limit retries exhausted",
					logx.String("endpoint", endpoint),
					logx.Int("retries", attempt),
					logx.Duration("waited", waited),
				)
				return errors.Wrapf(ErrRateLimitExceeded, "%s: %d retries, waited %s", endpoint, attempt, waited)
			}
			wait, hinted := retryAfter(header.Get("Retry-After"), c.now())
			if !hinted {
				wait = backoffFor(cfg, attempt)
			}
			if wait > cfg.MaxBackoff {
				wait = cfg.MaxBackoff
			}
			waited += wait
			c.log.Warn("catalog rate limited; backing off",
				logx.String("endpoint", endpoint),
				logx.Int("attempt", attempt+1),
				logx.Duration("wait", wait),
				logx.Bool("retry_after", hinted),
			)
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}

		default:
			if status == http.StatusUnauthorized {
				c.invalidate()
			}
			return &UpstreamError{Endpoint: endpoint, Status: status, Body: string(body)}
		}
	}
}

func (c *Client) get(ctx context.Context, target, token string) (int, http.Header, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	c.requests.Add(1)
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return 0, nil, nil, err
	}
	return resp.StatusCode, resp.Header, body, nil
}

// retryAfter parses a Retry-After header given as delta-seconds or HTTP date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		switch {
		case math.IsNaN(secs):
			return 0, false
		case secs < 0:
			return 0, true
		case secs >= float64(math.MaxInt64/int64(time.Second)):
			// past what a Duration holds; MaxBackoff clamps it later
			return time.Duration(math.MaxInt64), true
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}

func backoffFor(cfg Config, attempt int) time.Duration {
	d := cfg.Backoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cfg.MaxBackoff {
			return cfg.MaxBackoff
		}
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
