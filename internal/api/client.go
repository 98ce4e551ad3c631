// Package api is the REST client for the platform backend: notification
// snapshots, read acknowledgements, and direct chat threads.
package api

import (
	"bytes"
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

	"github.com/edupulse/edupulse/internal/model"
)

// AuthError indicates the server rejected the session credential.
// It is returned when a 401 or 403 response is received; callers treat it
// as fatal to the session.
type AuthError struct {
	Status  int
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%d): %s", e.Status, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// TokenFunc supplies the current bearer token. It is re-evaluated on every
// request because the credential can be refreshed out-of-band while the
// client lives.
type TokenFunc func() string

// Client is a thin HTTP client for the platform REST API. It handles
// Bearer token authentication and JSON (de)serialization; it never
// retries, since the engine's error policy is fetch-again-later.
type Client struct {
	baseURL    string
	token      TokenFunc
	httpClient *http.Client
}

// NewClient creates a REST client. The baseURL should be the root URL of
// the platform API (e.g. https://api.campus.example.com).
func NewClient(baseURL string, token TokenFunc) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// FetchNotifications retrieves the most recent notification snapshot,
// newest first, at most limit items.
func (c *Client) FetchNotifications(ctx context.Context, limit int) ([]model.Notification, error) {
	var out []model.Notification
	path := "/notifications?limit=" + strconv.Itoa(limit)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkNotificationRead acknowledges a single read to the server.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	path := "/notifications/" + url.PathEscape(id) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// FetchThread retrieves the message history of a direct thread.
func (c *Client) FetchThread(ctx context.Context, partnerID string) ([]model.ChatMessage, error) {
	var out []model.ChatMessage
	path := "/chat/thread/" + url.PathEscape(partnerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage posts a message to a direct thread and returns the persisted
// copy, which carries the authoritative server id.
func (c *Client) SendMessage(ctx context.Context, partnerID, body string) (*model.ChatMessage, error) {
	var out model.ChatMessage
	path := "/chat/thread/" + url.PathEscape(partnerID)
	req := map[string]string{"body": body}
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkThreadRead marks an entire thread read server-side.
func (c *Client) MarkThreadRead(ctx context.Context, partnerID string) error {
	path := "/chat/thread/" + url.PathEscape(partnerID) + "/read"
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

// do builds the request, attaches auth, and decodes the JSON response.
func (c *Client) do(ctx context.Context, method, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("executing request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(respBody)),
		}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf(
			"%s %s: unexpected status %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(respBody)),
		)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("parsing response from %s %s: %w", method, path, err)
		}
	}
	return nil
}
