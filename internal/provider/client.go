// Package provider is the fetch boundary to the fitness provider's REST
// API. Records come back loosely typed; nothing here is trusted until the
// normalizer has seen it.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Batch is one watermark-bounded fetch: raw exercise records and raw daily
// physical-information records.
type Batch struct {
	Sessions []map[string]any
	Metrics  []map[string]any
}

// TransportError covers network, auth and provider-side failures. The whole
// run aborts without writes and retries on the next schedule.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
	random      *rand.Rand
}

func New(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     baseURL,
		token:       token,
		httpClient:  &http.Client{Timeout: timeout},
		maxRetries:  4,
		baseBackoff: 500 * time.Millisecond,
		random:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Client) SetTestOptions(client *http.Client, retries int, backoff time.Duration) {
	if client != nil {
		c.httpClient = client
	}
	c.maxRetries = retries
	c.baseBackoff = backoff
}

// FetchSince returns every raw record with a start/created time after the
// watermark.
func (c *Client) FetchSince(ctx context.Context, since time.Time) (Batch, error) {
	sessions, err := c.getList(ctx, "/v3/exercises", since)
	if err != nil {
		return Batch{}, err
	}
	metrics, err := c.getList(ctx, "/v3/physical-info", since)
	if err != nil {
		return Batch{}, err
	}
	return Batch{Sessions: sessions, Metrics: metrics}, nil
}

func (c *Client) getList(ctx context.Context, path string, since time.Time) ([]map[string]any, error) {
	endpoint := c.baseURL + path + "?" + url.Values{
		"since": []string{since.UTC().Format(time.RFC3339)},
	}.Encode()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, &TransportError{Op: path, Err: err}
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")

		var retryAfter time.Duration
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &TransportError{Op: path, Err: err}
		} else {
			retryAfter = RetryAfter(resp.Header.Get("Retry-After"))
			records, retryable, err := c.decodeResponse(path, resp)
			if err == nil {
				return records, nil
			}
			if !retryable {
				return nil, err
			}
			lastErr = err
		}

		if err := c.backoff(ctx, attempt, retryAfter); err != nil {
			return nil, &TransportError{Op: path, Err: err}
		}
	}
	return nil, lastErr
}

func (c *Client) decodeResponse(path string, resp *http.Response) (records []map[string]any, retryable bool, err error) {
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNoContent:
		return nil, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, &TransportError{Op: path, Status: resp.StatusCode}
	default:
		return nil, false, &TransportError{Op: path, Status: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, false, &TransportError{Op: path, Err: fmt.Errorf("decode body: %w", err)}
	}
	return records, false, nil
}

func (c *Client) backoff(ctx context.Context, attempt int, retryAfter time.Duration) error {
	maxSleep := c.baseBackoff * time.Duration(1<<attempt)
	if maxSleep > 30*time.Second {
		maxSleep = 30 * time.Second
	}
	sleep := time.Duration(c.random.Int63n(int64(maxSleep) + 1))
	if retryAfter > sleep && retryAfter <= 30*time.Second {
		sleep = retryAfter
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(sleep):
		return nil
	}
}

// RetryAfter parses a Retry-After header in seconds. Zero means absent or
// unparseable.
func RetryAfter(h string) time.Duration {
	if h == "" {
		return 0
	}
	secs, err := strconv.Atoi(h)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
