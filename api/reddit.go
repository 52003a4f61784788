package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const (
	clientTimeout  = time.Minute
	defaultBaseURL = "https://oauth.reddit.com"

	// UserAgent identifies the app on every request, reddit requires it.
	UserAgent = "script:MyRed:1.0 (by u/zikzikkh)"
)

var (
	ErrInvalidStatusCode = errors.New("invalid status code")
	ErrAuthFailure       = errors.New("authorization failure")
)

// Client fetches listing pages from the oauth api.
// It is safe for concurrent use.
type Client struct {
	client *http.Client
	base   *url.URL
}

// NewClient returns a Client backed by the given http.Client, or a default
// one when nil is passed.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: clientTimeout}
	}
	base, _ := url.Parse(defaultBaseURL)
	return &Client{
		client: httpClient,
		base:   base,
	}
}

func (c *Client) WithBaseURL(u *url.URL) *Client {
	c.base = u
	return c
}

func (c *Client) BaseURL() *url.URL {
	return c.base
}

// ListingRequest describes one page fetch.
type ListingRequest struct {
	Subreddit string
	Sort      string // "hot" or "new"
	Limit     int    // 1..100
	After     string // pagination cursor, empty for the first page
}

// FetchListing fetches one page of listings and returns the raw JSON text.
// The token is expected to be valid for the duration of the request.
func (c *Client) FetchListing(ctx context.Context, token string, req ListingRequest) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.listingURL(req), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't create listing request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("User-Agent", UserAgent)

	res, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("error fetching from reddit: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s", ErrAuthFailure, http.StatusText(res.StatusCode))
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStatusCode, http.StatusText(res.StatusCode))
	}

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: couldn't read listing body", err)
	}

	return b, nil
}

func (c *Client) listingURL(req ListingRequest) string {
	u := c.base.
		JoinPath("r").
		JoinPath(req.Subreddit).
		JoinPath(req.Sort)

	values := u.Query()
	values.Add("limit", fmt.Sprint(req.Limit))
	if req.After != "" {
		values.Add("after", req.After)
	}
	u.RawQuery = values.Encode()

	return u.String()
}
