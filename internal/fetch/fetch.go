package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultMaxBytes bounds how much of a stats response is read.
const DefaultMaxBytes = 16 << 20

// ErrTooLarge is returned for a report body over the fetcher's size limit.
var ErrTooLarge = errors.New("stats report exceeds size limit")

// StatusError is returned for HTTP responses with a status of 400 or above.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("stats endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("stats endpoint returned %d: %s", e.StatusCode, e.Body)
}

// HTTPFetcher downloads the CSV stats report from a load balancer.
type HTTPFetcher struct {
	URL      string
	Username string
	Password string
	Client   *http.Client
	MaxBytes int64 // DefaultMaxBytes when zero
}

// NewHTTP creates a fetcher with its own client and per-request timeout.
func NewHTTP(url, username, password string, timeout time.Duration) *HTTPFetcher {
	return &HTTPFetcher{
		URL:      url,
		Username: username,
		Password: password,
		Client:   &http.Client{Timeout: timeout},
	}
}

// Fetch performs one GET and returns the body.
func (f *HTTPFetcher) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if f.Username != "" || f.Password != "" {
		req.SetBasicAuth(f.Username, f.Password)
	}
	req.Header.Set("Accept", "text/csv, text/plain")

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get %s: %w", f.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(excerpt))}
	}
	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.URL, err)
	}
	if int64(len(body)) > limit {
		return "", fmt.Errorf("read %s: %w (%d bytes)", f.URL, ErrTooLarge, limit)
	}
	return string(body), nil
}
