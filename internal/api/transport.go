package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Default Hydrolink endpoints.
const (
	DefaultBaseURL      = "https://hydrolink.fi/api/v2"
	DefaultLoginURL     = DefaultBaseURL + "/login"
	DefaultMeterDataURL = DefaultBaseURL + "/getResidentMeterData"
	DefaultHTTPTimeout  = 30 * time.Second
)

const maxResponseBodySnippet = 512

// Response is the status and body of a completed POST
type Response struct {
	StatusCode int
	Body       []byte
}

// Transport posts a JSON body and returns the raw response.
// Timeouts are the transport's concern; they surface as errors.
type Transport interface {
	Post(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error)
}

// HTTPTransport implements Transport with net/http
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates a transport whose requests are bounded by timeout.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
	}
}

func (t *HTTPTransport) Post(ctx context.Context, url string, headers map[string]string, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// snippet trims a response body for inclusion in errors and logs
func snippet(body []byte) string {
	if len(body) > maxResponseBodySnippet {
		return string(body[:maxResponseBodySnippet]) + "... (truncated)"
	}
	return string(body)
}

var _ Transport = (*HTTPTransport)(nil)
