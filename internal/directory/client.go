package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vovakirdan/wirechat-p2p/internal/broker"
)

// ErrLeaseLost is returned by Refresh when the directory no longer honours the lease, for example
// after it expired or the directory restarted.
var ErrLeaseLost = errors.New("directory: lease lost")

// Lease is a granted claim as seen by the client.
type Lease struct {
	ID        string
	URL       string
	Token     string
	ExpiresAt time.Time
	TTL       time.Duration
}

// Client talks to a directory server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the directory at baseURL.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// Register claims id for endpointURL. A live claim by someone else yields broker.ErrIDTaken.
func (c *Client) Register(ctx context.Context, id, endpointURL string) (Lease, error) {
	var resp LeaseResponse
	status, err := c.do(ctx, http.MethodPut, peerPath(id), "", RegisterRequest{URL: endpointURL}, &resp)
	if err != nil {
		return Lease{}, err
	}
	switch status {
	case http.StatusCreated, http.StatusOK:
		return resp.lease(), nil
	case http.StatusConflict:
		return Lease{}, fmt.Errorf("register %q: %w", id, broker.ErrIDTaken)
	default:
		return Lease{}, fmt.Errorf("register %q: unexpected status %d", id, status)
	}
}

// Refresh extends lease and returns the renewed one.
func (c *Client) Refresh(ctx context.Context, lease Lease) (Lease, error) {
	var resp LeaseResponse
	status, err := c.do(ctx, http.MethodPost, peerPath(lease.ID)+"/refresh", lease.Token, nil, &resp)
	if err != nil {
		return Lease{}, err
	}
	switch status {
	case http.StatusOK:
		return resp.lease(), nil
	case http.StatusNotFound, http.StatusForbidden, http.StatusUnauthorized:
		return Lease{}, fmt.Errorf("refresh %q: %w", lease.ID, ErrLeaseLost)
	default:
		return Lease{}, fmt.Errorf("refresh %q: unexpected status %d", lease.ID, status)
	}
}

// Release gives the claim up.
func (c *Client) Release(ctx context.Context, lease Lease) error {
	status, err := c.do(ctx, http.MethodDelete, peerPath(lease.ID), lease.Token, nil, nil)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent && status != http.StatusNotFound {
		return fmt.Errorf("release %q: unexpected status %d", lease.ID, status)
	}
	return nil
}

// Lookup returns the endpoint URL published for id, or broker.ErrPeerUnavailable.
func (c *Client) Lookup(ctx context.Context, id string) (string, error) {
	var resp PeerResponse
	status, err := c.do(ctx, http.MethodGet, peerPath(id), "", nil, &resp)
	if err != nil {
		return "", err
	}
	switch status {
	case http.StatusOK:
		return resp.URL, nil
	case http.StatusNotFound:
		return "", fmt.Errorf("lookup %q: %w", id, broker.ErrPeerUnavailable)
	default:
		return "", fmt.Errorf("lookup %q: unexpected status %d", id, status)
	}
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("directory %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < http.StatusMultipleChoices {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func peerPath(id string) string {
	return "/v1/peers/" + url.PathEscape(id)
}

func (r LeaseResponse) lease() Lease {
	return Lease{
		ID:        r.ID,
		URL:       r.URL,
		Token:     r.LeaseToken,
		ExpiresAt: r.ExpiresAt,
		TTL:       time.Duration(r.TTLSeconds) * time.Second,
	}
}
