// Package twitter implements the follower API against the Twitter v1.1 REST
// endpoints, signing every call with the caller's OAuth1 user credential.
package twitter

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
	"sync"
	"time"

	"github.com/dghubble/oauth1"
	"go.uber.org/zap"

	"github.com/JakeFAU/follower-audit/internal/crawler"
)

// DefaultBaseURL is the v1.1 REST root.
const DefaultBaseURL = "https://api.twitter.com/1.1"

// FollowerPageSize is the largest page followers/ids returns.
const FollowerPageSize = 5000

const maxErrorBody = 64 << 10

// Config configures the API client.
type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	Timeout        time.Duration
}

// Pacer blocks until a call under key may proceed.
type Pacer interface {
	Wait(ctx context.Context, key, label string) error
}

// Client implements crawler.FollowerAPI.
type Client struct {
	baseURL   string
	oauth     *oauth1.Config
	transport http.RoundTripper
	timeout   time.Duration
	pacer     Pacer
	logger    *zap.Logger

	mu      sync.Mutex
	clients map[string]*http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport sets the base transport signed requests go through.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithPacer paces calls per credential and endpoint.
func WithPacer(p Pacer) Option {
	return func(c *Client) { c.pacer = p }
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New builds a Client.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" {
		return nil, fmt.Errorf("consumer key and secret are required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: base,
		oauth:   oauth1.NewConfig(cfg.ConsumerKey, cfg.ConsumerSecret),
		timeout: timeout,
		logger:  zap.NewNop(),
		clients: make(map[string]*http.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type idsResponse struct {
	IDs           []string `json:"ids"`
	NextCursorStr string   `json:"next_cursor_str"`
	NextCursor    *int64   `json:"next_cursor"`
}

// FollowerIDs fetches one page of follower IDs of handle.
func (c *Client) FollowerIDs(
	ctx context.Context,
	cred crawler.Credential,
	handle string,
	cursor string,
) (crawler.PageResult, error) {
	q := url.Values{}
	q.Set("screen_name", crawler.NormalizeHandle(handle))
	q.Set("cursor", cursor)
	q.Set("count", strconv.Itoa(FollowerPageSize))
	q.Set("stringify_ids", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/followers/ids.json?"+q.Encode(), nil)
	if err != nil {
		return crawler.PageResult{}, fmt.Errorf("build followers request: %w", err)
	}
	body, err := c.do(ctx, cred, crawler.EndpointFollowerIDs, req)
	if err != nil {
		return crawler.PageResult{}, err
	}

	var resp idsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return crawler.PageResult{}, &crawler.ProviderError{
			Endpoint: crawler.EndpointFollowerIDs,
			Message:  fmt.Sprintf("decode response: %v", err),
			Kind:     crawler.ErrUnknownProvider,
		}
	}
	next := resp.NextCursorStr
	if next == "" && resp.NextCursor != nil {
		next = strconv.FormatInt(*resp.NextCursor, 10)
	}
	if next == "" {
		next = crawler.EndCursor
	}
	return crawler.PageResult{IDs: resp.IDs, NextCursor: next}, nil
}

type userResponse struct {
	IDStr           string `json:"id_str"`
	StatusesCount   int    `json:"statuses_count"`
	FavouritesCount int    `json:"favourites_count"`
	FriendsCount    int    `json:"friends_count"`
	FollowersCount  int    `json:"followers_count"`
	Status          *struct {
		CreatedAt string `json:"created_at"`
	} `json:"status"`
}

// LookupProfiles resolves up to crawler.MaxLookupBatch IDs into profiles.
// A batch where no user matches (all deactivated) yields no profiles.
func (c *Client) LookupProfiles(ctx context.Context, cred crawler.Credential, ids []string) ([]crawler.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > crawler.MaxLookupBatch {
		return nil, fmt.Errorf("lookup batch of %d exceeds %d", len(ids), crawler.MaxLookupBatch)
	}
	form := url.Values{}
	form.Set("user_id", strings.Join(ids, ","))
	form.Set("include_entities", "false")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/users/lookup.json",
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	body, err := c.do(ctx, cred, crawler.EndpointLookupProfiles, req)
	if errors.Is(err, errNoMatches) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var users []userResponse
	if err := json.Unmarshal(body, &users); err != nil {
		return nil, &crawler.ProviderError{
			Endpoint: crawler.EndpointLookupProfiles,
			Message:  fmt.Sprintf("decode response: %v", err),
			Kind:     crawler.ErrUnknownProvider,
		}
	}
	profiles := make([]crawler.Profile, 0, len(users))
	for _, u := range users {
		p := crawler.Profile{
			ID:             u.IDStr,
			PostCount:      u.StatusesCount,
			FavoriteCount:  u.FavouritesCount,
			FollowingCount: u.FriendsCount,
			FollowerCount:  u.FollowersCount,
		}
		if u.Status != nil && u.Status.CreatedAt != "" {
			if ts, err := time.Parse(time.RubyDate, u.Status.CreatedAt); err == nil {
				p.LastPostAt = &ts
			} else {
				c.logger.Debug("unparseable status timestamp",
					zap.String("user_id", u.IDStr),
					zap.String("created_at", u.Status.CreatedAt),
				)
			}
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (c *Client) do(ctx context.Context, cred crawler.Credential, endpoint string, req *http.Request) ([]byte, error) {
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx, cred.Key()+"|"+endpoint, endpoint); err != nil {
			return nil, err
		}
	}
	resp, err := c.client(cred).Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, endpoint, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("close response body", zap.Error(closeErr))
		}
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &crawler.ProviderError{
				Endpoint:   endpoint,
				HTTPStatus: resp.StatusCode,
				Message:    fmt.Sprintf("read body: %v", err),
				Kind:       crawler.ErrTransient,
			}
		}
		return body, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, classifyResponse(endpoint, resp.StatusCode, body)
}

// client returns the signing client for cred, creating it on first use.
func (c *Client) client(cred crawler.Credential) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cred.Token + "\x00" + cred.Secret
	if hc, ok := c.clients[key]; ok {
		return hc
	}
	ctx := context.Background()
	if c.transport != nil {
		ctx = context.WithValue(ctx, oauth1.HTTPClient, &http.Client{Transport: c.transport})
	}
	hc := c.oauth.Client(ctx, oauth1.NewToken(cred.Token, cred.Secret))
	hc.Timeout = c.timeout
	c.clients[key] = hc
	return hc
}
