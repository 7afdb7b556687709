// Package client talks to the snaplink JSON API.
package client

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

	"github.com/darkodi/snaplink/internal/model"
)

// ErrNotFound is returned when the server has no such short id
var ErrNotFound = errors.New("short URL not found")

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.StatusCode)
}

// Client calls one snaplink server on behalf of one device
type Client struct {
	baseURL   string
	machineID string
	http      *http.Client
}

// New creates a client. A nil httpClient uses a 10 second timeout.
func New(baseURL, machineID string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		machineID: machineID,
		http:      httpClient,
	}
}

// MachineID is the device id sent with every request
func (c *Client) MachineID() string {
	return c.machineID
}

// ShortURL is the public address of shortID
func (c *Client) ShortURL(shortID string) string {
	return c.baseURL + "/" + shortID
}

// Shorten creates (or returns the existing) link for originalURL
func (c *Client) Shorten(ctx context.Context, originalURL string) (*model.Link, error) {
	body, err := json.Marshal(model.CreateLinkRequest{OriginalURL: originalURL, MachineID: c.machineID})
	if err != nil {
		return nil, err
	}

	var out model.LinkResponse
	if err := c.do(ctx, http.MethodPost, "/api/urls", bytes.NewReader(body), &out); err != nil {
		return nil, err
	}
	return out.URL, nil
}

// Get fetches one link without counting a visit
func (c *Client) Get(ctx context.Context, shortID string) (*model.Link, error) {
	var out model.LinkResponse
	if err := c.do(ctx, http.MethodGet, "/api/urls/"+url.PathEscape(shortID), nil, &out); err != nil {
		return nil, err
	}
	return out.URL, nil
}

// List returns this device's links, newest first
func (c *Client) List(ctx context.Context) ([]model.Link, error) {
	var out model.LinkListResponse
	path := "/api/urls?" + url.Values{"machineId": {c.machineID}}.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.URLs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
