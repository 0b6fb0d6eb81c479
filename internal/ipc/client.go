package ipc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hyperjump/obra/internal/core"
	"github.com/hyperjump/obra/internal/models"
)

// baseURL is a placeholder host; every request is dialed to the socket.
const baseURL = "http://obra"

// requestTimeout bounds every request that does not wait for a sync pass.
const requestTimeout = 30 * time.Second

// ErrUnavailable is returned by Dial when no daemon answers on the socket.
var ErrUnavailable = errors.New("daemon is not running")

// Client talks to a running daemon. Any error it returns means the daemon is
// unavailable or refused the request; callers fall back to the local path.
type Client struct {
	http *http.Client
}

var _ core.Service = (*Client)(nil)

// Probe reports whether something accepts connections on the socket within timeout.
func Probe(socketPath string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Dial returns a client for the daemon at socketPath, or an error when no
// daemon answers within timeout.
func Dial(socketPath string, timeout time.Duration) (*Client, error) {
	if !Probe(socketPath, timeout) {
		return nil, fmt.Errorf("%w: nothing listening on %s", ErrUnavailable, socketPath)
	}
	return NewClient(socketPath, timeout), nil
}

// NewClient returns a client without probing. timeout bounds each connect.
func NewClient(socketPath string, timeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: timeout}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socketPath)
		},
		MaxIdleConns:    1,
		IdleConnTimeout: 30 * time.Second,
	}
	return &Client{http: &http.Client{Transport: transport}}
}

// Search implements core.Service.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	var resp searchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/search", searchRequest{Query: query, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// Sync implements core.Service. Without Wait the daemon only acknowledges.
func (c *Client) Sync(ctx context.Context, req core.SyncRequest) (*models.SyncReport, error) {
	path := "/v1/index"
	if req.Force {
		path = "/v1/force-index"
	}
	if !req.Wait {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, requestTimeout)
		defer cancel()
	}
	var resp indexResponse
	if err := c.do(ctx, http.MethodPost, path, indexRequest{Wait: req.Wait}, &resp); err != nil {
		return nil, err
	}
	return resp.Report, nil
}

// Status implements core.Service.
func (c *Client) Status(ctx context.Context) (*models.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	var st models.Status
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("daemon %s: %s (%d)", path, e.Error, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("daemon %s: invalid response: %w", path, err)
	}
	return nil
}
