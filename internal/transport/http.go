package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// DefaultHTTPTimeout bounds one HTTP frame post.
const DefaultHTTPTimeout = time.Second

// HTTPClient posts the raw pixel payload, without a length prefix, to a URL.
type HTTPClient struct {
	url    string
	client *http.Client

	mu     sync.Mutex
	closed bool
}

// NewHTTPClient returns a client posting to url. A zero timeout means
// DefaultHTTPTimeout.
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPClient{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// DisplayFrame posts payload. Any non-2xx status is a lost connection.
func (c *HTTPClient) DisplayFrame(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrProcessExited
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build frame request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.client.Do(req)
	if err != nil {
		return lost("post "+c.url, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return lost(fmt.Sprintf("post %s: status %d", c.url, resp.StatusCode), nil)
	}
	return nil
}

// Close marks the client closed and drops idle connections.
func (c *HTTPClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.client.CloseIdleConnections()
	return nil
}
