// Package spotify is the playback gateway: a stateless adapter over the Spotify
// Web API that takes a caller-supplied access token on every call.
//
// Command operations return *UpstreamError on failure. Advisory reads (search,
// recommendations, queue, devices and the listening-context reads) log the
// failure and return an empty value instead.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	DefaultAPIURL      = "https://api.spotify.com/v1"
	DefaultAccountsURL = "https://accounts.spotify.com"
	defaultTimeout     = 10 * time.Second
	maxErrorBody       = 64 << 10
)

// Client issues Spotify Web API calls. It holds no per-user state and is safe
// for concurrent use.
type Client struct {
	baseURL   string
	timeout   time.Duration
	transport http.RoundTripper
}

type Option func(*Client)

// WithBaseURL points the client at a different API root (tests use httptest).
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout bounds every outbound call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTransport sets the base round tripper under the bearer-token transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.transport = rt
		}
	}
}

// NewClient creates a gateway client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultAPIURL,
		timeout:   defaultTimeout,
		transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// httpClient returns a client that authenticates with token. The token only
// ever travels in the Authorization header.
func (c *Client) httpClient(token string) *http.Client {
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   c.transport,
		},
		Timeout: c.timeout,
	}
}

// doRequest performs one authenticated call. A nil result skips decoding; an
// empty response body leaves result untouched. The returned status is 0 when
// no response was received.
func (c *Client) doRequest(ctx context.Context, token, op, method, endpoint string, query url.Values, body, result any) (int, error) {
	if token == "" {
		return 0, &UpstreamError{Op: op, Err: ErrMissingToken}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	apiURL := c.baseURL + endpoint
	if len(query) > 0 {
		apiURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, &UpstreamError{Op: op, Err: fmt.Errorf("encoding request: %w", err)}
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL, reader)
	if err != nil {
		return 0, &UpstreamError{Op: op, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient(token).Do(req)
	if err != nil {
		var ne net.Error
		switch {
		case ctx.Err() != nil:
			err = ctx.Err()
		case errors.As(err, &ne) && ne.Timeout():
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return 0, &UpstreamError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, parseUpstreamError(op, resp)
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		if errors.Is(err, io.EOF) {
			return resp.StatusCode, nil
		}
		return resp.StatusCode, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return resp.StatusCode, nil
}

// parseUpstreamError decodes {"error":{"status","message","reason"}} when present.
func parseUpstreamError(op string, resp *http.Response) *UpstreamError {
	ue := &UpstreamError{Op: op, StatusCode: resp.StatusCode}

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error struct {
			Status  int    `json:"status"`
			Message string `json:"message"`
			Reason  string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		ue.Message = payload.Error.Message
		ue.Reason = payload.Error.Reason
	} else if text := strings.TrimSpace(string(data)); text != "" {
		ue.Message = text
	}
	return ue
}

// deviceQuery returns a query carrying device_id when one was given.
func deviceQuery(deviceID string) url.Values {
	q := url.Values{}
	if deviceID != "" {
		q.Set("device_id", deviceID)
	}
	return q
}
