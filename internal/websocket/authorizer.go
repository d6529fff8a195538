package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoAuthEndpoint is returned when a private channel is subscribed without
// a configured authorization endpoint.
var ErrNoAuthEndpoint = errors.New("channel authorization endpoint not configured")

// Authorizer obtains the auth string for a private channel subscription.
type Authorizer interface {
	Authorize(ctx context.Context, socketID, channel string) (string, error)
}

// AuthError reports a non-200 answer from the authorization endpoint.
type AuthError struct {
	Status int
	Body   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("channel authorization failed with status %d: %s", e.Status, e.Body)
}

// HTTPAuthorizer posts socket_id and channel_name as a form to Endpoint and
// sends Header on every request.
type HTTPAuthorizer struct {
	Endpoint string
	Header   http.Header
	Client   *http.Client
}

// NewHTTPAuthorizer returns an authorizer that sends a bearer token and a
// locale with every authorization request.
func NewHTTPAuthorizer(endpoint, token, locale string) *HTTPAuthorizer {
	header := make(http.Header)
	header.Set("Authorization", "Bearer "+token)
	header.Set("Accept-Language", locale)
	return &HTTPAuthorizer{
		Endpoint: endpoint,
		Header:   header,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (a *HTTPAuthorizer) Authorize(ctx context.Context, socketID, channel string) (string, error) {
	if a.Endpoint == "" {
		return "", ErrNoAuthEndpoint
	}

	form := url.Values{}
	form.Set("socket_id", socketID)
	form.Set("channel_name", channel)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build authorization request: %w", err)
	}
	for name, values := range a.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("authorization request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", fmt.Errorf("read authorization response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &AuthError{Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out struct {
		Auth string `json:"auth"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode authorization response: %w", err)
	}
	if out.Auth == "" {
		return "", errors.New("authorization response has no auth field")
	}
	return out.Auth, nil
}
