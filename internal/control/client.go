package control

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"stayconnect/internal/task/scheduler"
)

// Client talks to a running control server.
type Client struct {
	base  string
	token string
	actor string
	http  *http.Client
}

// NewClient targets addr ("host:port" or a full URL). hc may be nil.
func NewClient(addr, token string, hc *http.Client) *Client {
	base := strings.TrimSpace(addr)
	if base == "" {
		base = DefaultAddr
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{base: strings.TrimRight(base, "/"), token: strings.TrimSpace(token), actor: "cli", http: hc}
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/queue/status", nil, &st)
	return st, err
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/queue/health", nil, &h)
	return h, err
}

func (c *Client) Trigger(ctx context.Context, id string, wait bool) (TriggerResult, error) {
	var res TriggerResult
	err := c.do(ctx, http.MethodPost, "/queue/trigger", TriggerRequest{JobID: id, Wait: wait}, &res)
	return res, err
}

func (c *Client) SetEnabled(ctx context.Context, id string, enabled bool) error {
	return c.do(ctx, http.MethodPost, "/queue/toggle", ToggleRequest{JobID: id, Enabled: &enabled}, nil)
}

func (c *Client) Runs(ctx context.Context, jobID string, limit int) ([]RunView, error) {
	q := url.Values{}
	if jobID != "" {
		q.Set("job", jobID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/queue/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var runs []RunView
	err := c.do(ctx, http.MethodGet, path, nil, &runs)
	return runs, err
}

// do maps 401/404/409 back to ErrUnauthorized, ErrJobNotFound and ErrJobAlreadyRunning.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader = http.NoBody
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Actor", c.actor)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return errors.Wrap(err, "read response")
	}

	if resp.StatusCode >= 300 {
		var eb ErrorBody
		_ = json.Unmarshal(raw, &eb)
		msg := eb.Message
		if msg == "" {
			msg = eb.Error
		}
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return ErrUnauthorized
		case http.StatusNotFound:
			return errors.Wrap(scheduler.ErrJobNotFound, msg)
		case http.StatusConflict:
			return errors.Wrap(scheduler.ErrJobAlreadyRunning, msg)
		default:
			return errors.Newf("%s %s: status %d: %s", method, path, resp.StatusCode, msg)
		}
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(raw, out), "decode response")
}
