// Package platform talks to the social platform's web endpoints: the profile
// endpoint used for user-id resolution and per-follower detail, and the
// GraphQL listing endpoint paginated by cursor.
package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/follower-audit/internal/audit"
)

// Edge selects which relationship list the listing endpoint walks.
type Edge string

// Supported edges.
const (
	EdgeFollowers Edge = "followers"
	EdgeFollowing Edge = "following"
)

const (
	defaultBaseURL     = "https://www.instagram.com"
	defaultAppID       = "936619743392459"
	followersQueryHash = "c76146de99bb02f6415203be841dd25a"
	followingQueryHash = "d04b0a864b4b54837c0d870b0e77e076"
	profilePath        = "/api/v1/users/web_profile_info/"
	graphQLPath        = "/graphql/query/"
	appIDHeader        = "X-IG-App-ID"
)

// Config describes the endpoints and the static request headers.
type Config struct {
	BaseURL string
	AppID   string
	// Headers are sent with every request (cookies, CSRF token, user agent).
	Headers map[string]string
	Edge    Edge
	// QueryHash overrides the listing query hash derived from Edge.
	QueryHash string
}

// Client implements the listing and detail endpoints on top of an audit.Fetcher.
type Client struct {
	fetcher   audit.Fetcher
	baseURL   string
	headers   map[string]string
	edge      Edge
	queryHash string
}

// New builds a Client.
func New(fetcher audit.Fetcher, cfg Config) (*Client, error) {
	if fetcher == nil {
		return nil, errors.New("platform: fetcher is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("platform: parse base url: %w", err)
	}
	edge := cfg.Edge
	if edge == "" {
		edge = EdgeFollowers
	}
	hash := cfg.QueryHash
	switch {
	case hash != "":
	case edge == EdgeFollowers:
		hash = followersQueryHash
	case edge == EdgeFollowing:
		hash = followingQueryHash
	default:
		return nil, fmt.Errorf("platform: unknown edge %q", edge)
	}
	appID := cfg.AppID
	if appID == "" {
		appID = defaultAppID
	}
	headers := make(map[string]string, len(cfg.Headers)+1)
	for k, v := range cfg.Headers {
		headers[k] = v
	}
	headers[appIDHeader] = appID
	return &Client{
		fetcher:   fetcher,
		baseURL:   base,
		headers:   headers,
		edge:      edge,
		queryHash: hash,
	}, nil
}

// Edge returns the relationship list this client paginates.
func (c *Client) Edge() Edge {
	return c.edge
}

// ResolveUserID probes the target handle and returns its numeric user id.
func (c *Client) ResolveUserID(ctx context.Context, handle string) (string, error) {
	user, err := c.profile(ctx, handle)
	if err != nil {
		return "", err
	}
	if user.ID == "" {
		return "", fmt.Errorf("resolve %q: %w", handle, audit.ErrUserNotFound)
	}
	return user.ID, nil
}

// FollowerDetail fetches the detail record for one handle.
func (c *Client) FollowerDetail(ctx context.Context, handle string) (audit.FollowerDetail, error) {
	user, err := c.profile(ctx, handle)
	if err != nil {
		return audit.FollowerDetail{}, err
	}
	return user.detail(handle)
}

// FollowerPage fetches one page of the configured edge. An empty after
// requests the first page.
func (c *Client) FollowerPage(ctx context.Context, userID string, first int, after string) (audit.CursorPage, error) {
	body, err := c.fetcher.Fetch(ctx, c.pageURL(userID, first, after), c.headers)
	if err != nil {
		return audit.CursorPage{}, fmt.Errorf("fetch %s page: %w", c.edge, err)
	}
	page, err := parsePage(body, c.edge)
	if err != nil {
		return audit.CursorPage{}, fmt.Errorf("parse %s page: %w", c.edge, err)
	}
	return page, nil
}

func (c *Client) profile(ctx context.Context, handle string) (profileUser, error) {
	body, err := c.fetcher.Fetch(ctx, c.profileURL(handle), c.headers)
	if err != nil {
		return profileUser{}, fmt.Errorf("fetch profile %q: %w", handle, err)
	}
	user, err := parseProfile(body)
	if err != nil {
		return profileUser{}, fmt.Errorf("parse profile %q: %w", handle, err)
	}
	return user, nil
}

func (c *Client) profileURL(handle string) string {
	q := url.Values{}
	q.Set("username", handle)
	return c.baseURL + profilePath + "?" + q.Encode()
}

func (c *Client) pageURL(userID string, first int, after string) string {
	vars := struct {
		ID    string `json:"id"`
		First int    `json:"first"`
		After string `json:"after,omitempty"`
	}{ID: userID, First: first, After: after}
	// Marshalling a struct of strings and ints cannot fail.
	raw, _ := json.Marshal(vars)
	q := url.Values{}
	q.Set("query_hash", c.queryHash)
	q.Set("variables", string(raw))
	return c.baseURL + graphQLPath + "?" + q.Encode()
}
