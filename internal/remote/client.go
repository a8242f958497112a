// Package remote is the device's adapter to the remote authority's note API.
//
// Each method issues exactly one HTTP request and maps the outcome onto
// success, a server id, or an error. Retry timing belongs to the sync engine.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned by UpdateNote when the target no longer exists remotely.
var ErrNotFound = errors.New("remote note not found")

// StatusError carries a non-success response from the remote authority.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error: status=%d, body=%s", e.Code, e.Body)
}

// Note is the remote authority's view of a note.
type Note struct {
	ID       int64  `json:"id"`
	ClientID string `json:"client_id,omitempty"`
	Content  string `json:"content"`
	Created  int64  `json:"created"`
	Updated  int64  `json:"updated"`
}

// CreateRequest is the payload of a create call.
type CreateRequest struct {
	ClientID string `json:"client_id"`
	Content  string `json:"content"`
	Created  int64  `json:"created"`
	Updated  int64  `json:"updated"`
}

// UpdateRequest is the payload of an update call.
type UpdateRequest struct {
	Content string `json:"content"`
	Updated int64  `json:"updated"`
}

// Client talks to the remote authority over HTTP.
//
// Client instances are safe for concurrent use by multiple goroutines.
type Client struct {
	baseURL    string
	deviceID   string
	httpClient *http.Client
	log        *zap.SugaredLogger
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every call. Exceeding it is an ordinary failure.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithDeviceID names this device to the server, which then does not echo the
// device's own changes back to it.
func WithDeviceID(id string) Option {
	return func(c *Client) { c.deviceID = id }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Client) { c.log = l }
}

// New creates a client for the server at baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address the client was built with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest performs an HTTP request with proper headers
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	c.log.Debugw("remote call", "method", method, "path", path, "status", resp.StatusCode)
	return resp, nil
}

// decodeResponse decodes the JSON response into target, turning non-2xx
// statuses into *StatusError.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if target != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// IsNotFound reports whether err is a 404 from the remote authority.
func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// Health checks that the server is reachable and answering.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	return decodeResponse(resp, nil)
}

// CreateNote creates a note remotely and returns it with its assigned id.
func (c *Client) CreateNote(ctx context.Context, req CreateRequest) (Note, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/notes", req)
	if err != nil {
		return Note{}, err
	}

	var created Note
	if err := decodeResponse(resp, &created); err != nil {
		return Note{}, fmt.Errorf("create %s: %w", req.ClientID, err)
	}
	if created.ID == 0 {
		return Note{}, fmt.Errorf("create %s: response carried no id", req.ClientID)
	}
	return created, nil
}

// UpdateNote replaces the content of the remote note serverID.
// A missing target yields an error wrapping ErrNotFound.
func (c *Client) UpdateNote(ctx context.Context, serverID int64, req UpdateRequest) (Note, error) {
	resp, err := c.doRequest(ctx, http.MethodPut, fmt.Sprintf("/api/notes/%d", serverID), req)
	if err != nil {
		return Note{}, err
	}

	var updated Note
	if err := decodeResponse(resp, &updated); err != nil {
		if IsNotFound(err) {
			return Note{}, fmt.Errorf("update %d: %w", serverID, ErrNotFound)
		}
		return Note{}, fmt.Errorf("update %d: %w", serverID, err)
	}
	return updated, nil
}

// DeleteNote removes the remote note serverID. A target that is already gone
// counts as success.
func (c *Client) DeleteNote(ctx context.Context, serverID int64) error {
	resp, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/notes/%d", serverID), nil)
	if err != nil {
		return err
	}

	if err := decodeResponse(resp, nil); err != nil {
		if IsNotFound(err) {
			c.log.Debugw("delete target already absent", "server_id", serverID)
			return nil
		}
		return fmt.Errorf("delete %d: %w", serverID, err)
	}
	return nil
}

// ListNotes returns every note the remote authority holds.
func (c *Client) ListNotes(ctx context.Context) ([]Note, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/notes", nil)
	if err != nil {
		return nil, err
	}

	var notes []Note
	if err := decodeResponse(resp, &notes); err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}
