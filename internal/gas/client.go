// Package gas is the HTTP client for the slot/booking deployment endpoint.
package gas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"yoyaku/internal/metrics"

	"golang.org/x/time/rate"
)

const formContentType = "application/x-www-form-urlencoded;charset=UTF-8"

// Options tunes the client. Zero values fall back to defaults.
type Options struct {
	Timeout time.Duration
	// RatePerSecond caps outbound requests shared by all users.
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

// Client calls the deployment endpoint. It keeps no state besides the limiter.
type Client struct {
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient constructs a client for endpoint.
func NewClient(endpoint string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		endpoint:   strings.TrimSpace(endpoint),
		httpClient: hc,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst),
	}
}

// FetchSlots performs the uncached slot listing. An empty slice is a valid result.
func (c *Client) FetchSlots(ctx context.Context) ([]RawSlot, error) {
	endpoint, err := c.modeURL(ModeSlots)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-store")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(ctx, ModeSlots, req)
	if err != nil {
		return nil, err
	}

	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &ParseError{Mode: ModeSlots, Err: fmt.Errorf("expected JSON array: %w", err)}
	}
	if items == nil {
		// literal null is not an array
		return nil, &ParseError{Mode: ModeSlots, Err: fmt.Errorf("expected JSON array, got null")}
	}
	return decodeSlots(items), nil
}

// Book posts a booking for slotISO.
func (c *Client) Book(ctx context.Context, who Identity, slotISO, contactMethod string) (Response, error) {
	form := identityForm(who)
	form.Set("slotISO", slotISO)
	form.Set("contactMethod", contactMethod)
	return c.post(ctx, ModeBook, form)
}

// Register posts the contact fields without a slot.
func (c *Client) Register(ctx context.Context, who Identity) (Response, error) {
	return c.post(ctx, ModeRegister, identityForm(who))
}

// RequestDays posts preferred weekday tokens for users who found no slot.
func (c *Client) RequestDays(ctx context.Context, who Identity, days []string) (Response, error) {
	form := identityForm(who)
	form.Set("preferredDays", strings.Join(days, ","))
	return c.post(ctx, ModeRequest, form)
}

func (c *Client) post(ctx context.Context, mode Mode, form url.Values) (Response, error) {
	endpoint, err := c.modeURL(mode)
	if err != nil {
		return Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Response{}, err
	}
	req.Header.Set("Content-Type", formContentType)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(ctx, mode, req)
	if err != nil {
		return Response{}, err
	}
	resp, err := decodeResponse(body)
	if err != nil {
		return Response{}, &ParseError{Mode: mode, Err: err}
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, mode Mode, req *http.Request) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &NetworkError{Mode: mode, Err: err}
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveRemoteRequest(string(mode), time.Since(started))
	if err != nil {
		return nil, &NetworkError{Mode: mode, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &HTTPError{Mode: mode, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &NetworkError{Mode: mode, Err: err}
	}
	return body, nil
}

func (c *Client) modeURL(mode Mode) (string, error) {
	if c.endpoint == "" {
		return "", ErrNotConfigured
	}
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("mode", string(mode))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func identityForm(who Identity) url.Values {
	form := url.Values{}
	form.Set("name", who.Name)
	form.Set("furigana", who.Furigana)
	form.Set("email", who.Email)
	form.Set("tel", who.Tel)
	return form
}
